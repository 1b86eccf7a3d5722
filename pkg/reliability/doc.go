// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package reliability provides duplicate detection for received AS4 messages.

A sending access point retransmits a user message when it does not get a
receipt in time. The receiver must not hand the same message to the
business side twice, so every message ID that was delivered is remembered
for a detection window.

# Message Tracker

	tracker := reliability.NewMessageTracker(24 * time.Hour)
	go tracker.Run(ctx, time.Hour)

	switch tracker.Acquire(messageID) {
	case reliability.StateNew:
	    // process, then
	    tracker.Release(messageID, delivered)
	case reliability.StateDelivered:
	    // answer with a receipt again
	case reliability.StateInFlight:
	    // a copy is being processed right now
	}

# References

  - OASIS AS4 Reception Awareness: https://docs.oasis-open.org/ebxml-msg/ebms/v3.0/profiles/AS4-profile/v1.0/
*/
package reliability
