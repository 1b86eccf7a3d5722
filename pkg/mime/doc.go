// Copyright (c) 2025 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package mime implements the MIME multipart/related packaging used by AS4.

The first part carries the SOAP envelope, followed by one part per payload
referenced from the ebMS PayloadInfo by Content-ID:

	body, contentType, err := mime.Serialize(envelope, []mime.Part{
	    {ContentID: "sbdh@ap.example", ContentType: "application/gzip", Data: compressed},
	})

[Parse] also accepts a bare SOAP envelope (application/soap+xml), which is how
most access points return receipts and error signals.
*/
package mime
