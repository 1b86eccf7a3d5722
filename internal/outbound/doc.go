// Copyright (c) 2025 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Package outbound drives one Peppol send attempt end to end.
//
// An [Orchestrator] validates the request, resolves the receiver access
// point through the directory, transmits the SBDH document over AS4 and
// waits for the synchronous receipt. Every fact learned on the way is
// recorded into an [Outcome], which is returned to the caller even when
// the attempt fails: Send never returns an error.
//
// Two request shapes are supported:
//
//   - [NewRawPayloadRequest]: identifiers plus an XML business document;
//     the SBDH is built here.
//   - [NewPrebuiltRequest]: a complete [sbdh.Data] supplied by the caller.
package outbound
