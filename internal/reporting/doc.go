// Copyright (c) 2025 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Package reporting records Peppol exchanges for the network reporting
// obligations.
//
// Items are handed to a [Submitter], which stores them asynchronously
// through a pluggable [Backend] so that the AS4 acknowledgement is never
// delayed by reporting. Storage failures are retried a bounded number of
// times, then logged and counted. They never reach the caller.
//
// # Backends
//
// [MemoryBackend] keeps items in process and is used by tests and
// single-node deployments. The sub-packages provide durable backends:
//
//   - mongodb: one document per item in a collection
//   - postgres: one row per item (pgxpool)
//   - redisstream: one entry per item on a Redis stream
//   - kafka: one JSON record per item on a Kafka topic
//
// All backends must be safe for concurrent use.
package reporting
