// Copyright (c) 2025 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package message builds and parses the ebMS3 SOAP envelopes exchanged by
Peppol access points.

Two message kinds are supported:

UserMessage - a business message, carrying:
  - MessageInfo: message ID, timestamp, RefToMessageId
  - PartyInfo: sending (C2) and receiving (C3) access point
  - CollaborationInfo: Peppol agreement, process as service, document type as action
  - MessageProperties: originalSender (C1) and finalRecipient (C4)
  - PayloadInfo: the SBDH attachment reference

SignalMessage - a protocol signal, either a Receipt or one or more Error
entries describing why the receiving access point refused the message.

	env, err := message.BuildUserMessage(&message.UserMessage{...})
	signal, err := message.ParseSignal(responseEnvelope)
	if signal.HasFailure() {
	    for _, e := range signal.Errors {
	        log.Println(e.ErrorCode, e.ShortDescription)
	    }
	}

Envelopes are not signed. Security headers, when present in received
messages, are ignored apart from the sender's BinarySecurityToken.

# References

  - OASIS ebMS 3.0 Core: https://docs.oasis-open.org/ebxml-msg/ebms/v3.0/core/os/
  - Peppol AS4 profile: https://docs.peppol.eu/edelivery/as4/specification/
*/
package message
