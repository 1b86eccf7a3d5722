package as4

import (
	"context"
	"crypto/x509"
	"time"

	"github.com/sirosfoundation/go-peppol-ap/pkg/sbdh"
)

// IncomingMessage is a decoded inbound AS4 message
type IncomingMessage struct {
	MessageID      string
	ConversationID string
	Service        string
	ServiceType    string
	Action         string
	FromParty      string
	ToParty        string
	OriginalSender string
	FinalRecipient string

	ReceivedAt time.Time
	RemoteAddr string

	// SenderCertificate is the BinarySecurityToken of the message, if any
	SenderCertificate *x509.Certificate

	SBDH *sbdh.Data
}

// Result is the decision of an IncomingHandler: accepted, or rejected with a reason
type Result struct {
	rejected bool
	reason   string
}

// Accepted returns the accepting Result
func Accepted() Result {
	return Result{}
}

// Rejected returns a rejecting Result with a reason reported to the sender
func Rejected(reason string) Result {
	if reason == "" {
		reason = "message rejected"
	}
	return Result{rejected: true, reason: reason}
}

// IsAccepted reports whether the message was accepted
func (r Result) IsAccepted() bool {
	return !r.rejected
}

// Reason returns the rejection reason, or "" when accepted
func (r Result) Reason() string {
	return r.reason
}

// String implements fmt.Stringer
func (r Result) String() string {
	if r.rejected {
		return "rejected: " + r.reason
	}
	return "accepted"
}

// IncomingHandler decides on decoded inbound messages
type IncomingHandler interface {
	Handle(ctx context.Context, msg *IncomingMessage) Result
}

// IncomingHandlerFunc adapts a function to IncomingHandler
type IncomingHandlerFunc func(ctx context.Context, msg *IncomingMessage) Result

// Handle implements IncomingHandler
func (f IncomingHandlerFunc) Handle(ctx context.Context, msg *IncomingMessage) Result {
	return f(ctx, msg)
}
