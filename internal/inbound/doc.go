// Copyright (c) 2025 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Package inbound forwards received Peppol documents to the internal
// downstream system.
//
// The [Pipeline] is the incoming handler of the AS4 receiver. It posts the
// business document synchronously to the downstream endpoint and maps any
// failure to a rejection, which the receiver returns to the sending access
// point as an ebMS error. Only after the document was accepted is a
// reporting item queued; reporting never influences the result.
package inbound
