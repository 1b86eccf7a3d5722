// Copyright (c) 2025 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package peppolap implements the core of a Peppol AS4 access point.

# Overview

go-peppol-ap sends business documents to other Peppol access points and
forwards documents received from them to an internal downstream system.
Every exchange is recorded as a reporting item for Peppol end user
statistics.

# Package Structure

	github.com/sirosfoundation/go-peppol-ap/pkg/peppolid    - Peppol identifier validation
	github.com/sirosfoundation/go-peppol-ap/pkg/sbdh        - Standard Business Document Header
	github.com/sirosfoundation/go-peppol-ap/pkg/directory   - SML (DNS NAPTR) and SMP lookup
	github.com/sirosfoundation/go-peppol-ap/pkg/certcheck   - AP certificate validity and OCSP
	github.com/sirosfoundation/go-peppol-ap/pkg/message     - ebMS3 user and signal messages
	github.com/sirosfoundation/go-peppol-ap/pkg/mime        - MIME multipart handling
	github.com/sirosfoundation/go-peppol-ap/pkg/compression - GZIP payload compression
	github.com/sirosfoundation/go-peppol-ap/pkg/reliability - Duplicate detection for received messages
	github.com/sirosfoundation/go-peppol-ap/pkg/transport   - Outbound HTTP client

The service itself lives under internal/:

	internal/outbound  - send orchestration and the outcome record
	internal/inbound   - downstream forwarding of received documents
	internal/reporting - asynchronous reporting submitter and backends
	internal/as4       - AS4 sender and receiver
	internal/server    - HTTP API

# Sending

	orchestrator := outbound.New(outbound.Options{
	    SeatID: "POP000123",
	    Lookup: directory.New(directory.Options{Environment: directory.EnvTest}),
	})
	out := orchestrator.Send(ctx, outbound.NewRawPayloadRequest(
	    "0192:123456785", "0192:991825827", docTypeID, processID, "NO", invoiceXML))
	data, _ := out.JSON()

The outcome record is returned for every attempt; failures are recorded
in it and never returned as errors.

# Running

	go run ./cmd/peppol-ap -config configs/config.example.yaml

# References

  - Peppol AS4 Profile: https://docs.peppol.eu/edelivery/as4/specification/
  - Peppol Policy for use of Identifiers: https://docs.peppol.eu/edelivery/policies/PEPPOL-EDN-Policy-for-use-of-identifiers-4.3.0-2024-10-03.pdf
  - OASIS AS4 Profile of ebMS 3.0: https://docs.oasis-open.org/ebxml-msg/ebms/v3.0/profiles/AS4-profile/v1.0/

# License

BSD-2-Clause License
*/
package peppolap
