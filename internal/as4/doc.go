// Copyright (c) 2025 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Package as4 is the Peppol AS4 transport engine of the access point.
//
// Outbound, a [Sender] is configured per transmission through its builder
// methods and sends one SBDH document to the receiver's endpoint:
//
//  1. the receiver AP certificate is checked and reported
//  2. the ebMS3 UserMessage is built and reported
//  3. the SBDH is GZIP compressed and packaged as multipart/related
//  4. the message is posted and the returned signal is parsed and reported
//
// Inbound, the [Receiver] is an http.Handler for the AS4 endpoint. It decodes
// the UserMessage and SBDH, hands them to an [IncomingHandler] and answers
// with a receipt when the handler accepts, or with an ebMS error otherwise.
// With a duplicate tracker configured, a message that was already delivered
// is acknowledged again without reaching the handler.
//
// Message level signing and encryption are not applied.
package as4
