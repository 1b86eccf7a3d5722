package message

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Namespace constants for AS4/ebMS3
const (
	NsSOAPEnv = "http://www.w3.org/2003/05/soap-envelope"
	NsEbMS    = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/"
	NsEbbp    = "http://docs.oasis-open.org/ebxml-bp/ebbp-signals-2.0"
	NsWSSE    = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
)

// Peppol AS4 profile constants
const (
	RoleInitiator = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/initiator"
	RoleResponder = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/responder"

	PartyTypeAP     = "urn:fdc:peppol.eu:2017:identifiers:ap"
	AgreementPeppol = "urn:fdc:peppol.eu:2017:agreements:tia:ap_provider"

	PropertyOriginalSender = "originalSender"
	PropertyFinalRecipient = "finalRecipient"

	PartPropertyMimeType        = "MimeType"
	PartPropertyCompressionType = "CompressionType"
)

// ebMS3 error codes and severities used by this access point
const (
	ErrCodeValueInconsistent = "EBMS:0003"
	ErrCodeOther             = "EBMS:0004"
	ErrCodeDecompression     = "EBMS:0303"

	SeverityFailure = "failure"
	SeverityWarning = "warning"
)

// timestampLayout is the XSD dateTime representation with millisecond precision
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

var (
	// ErrMalformedEnvelope is returned when the data is not a SOAP envelope
	ErrMalformedEnvelope = errors.New("malformed SOAP envelope")
	// ErrNoUserMessage is returned when the envelope carries no UserMessage
	ErrNoUserMessage = errors.New("no UserMessage in envelope")
	// ErrNoSignalMessage is returned when the envelope carries no SignalMessage
	ErrNoSignalMessage = errors.New("no SignalMessage in envelope")
)

// Party identifies a sending or receiving access point
type Party struct {
	ID   string
	Type string
	Role string
}

// Property is a typed name/value pair
type Property struct {
	Name  string
	Type  string
	Value string
}

// PartInfo references a MIME attachment
type PartInfo struct {
	Href       string
	Properties []Property
}

// Property returns the value of the named part property
func (p PartInfo) Property(name string) string {
	return lookup(p.Properties, name)
}

// UserMessage is an ebMS3 business message header
type UserMessage struct {
	MessageID      string
	RefToMessageID string
	Timestamp      time.Time

	From Party
	To   Party

	AgreementRef   string
	Service        string
	ServiceType    string
	Action         string
	ConversationID string

	Properties []Property
	Parts      []PartInfo
}

// Property returns the value of the named message property
func (u *UserMessage) Property(name string) string {
	return lookup(u.Properties, name)
}

// Error is an ebMS3 error entry of a SignalMessage
type Error struct {
	Category            string
	ErrorCode           string
	Origin              string
	RefToMessageInError string
	Severity            string
	ShortDescription    string
	Description         string
	ErrorDetail         string
}

// IsFailure reports whether the error has severity failure
func (e Error) IsFailure() bool {
	return strings.EqualFold(e.Severity, SeverityFailure)
}

// SignalMessage is an ebMS3 receipt or error signal
type SignalMessage struct {
	MessageID      string
	RefToMessageID string
	Timestamp      time.Time
	Receipt        bool
	Errors         []Error
}

// HasFailure reports whether any error entry is a failure
func (s *SignalMessage) HasFailure() bool {
	for _, e := range s.Errors {
		if e.IsFailure() {
			return true
		}
	}
	return false
}

// NewMessageID generates a globally unique ebMS message ID
func NewMessageID(domain string) string {
	if domain == "" {
		domain = "peppol-ap"
	}
	return uuid.NewString() + "@" + domain
}

// FormatTimestamp renders t as an XSD dateTime in UTC with millisecond precision
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func lookup(props []Property, name string) string {
	for _, p := range props {
		if p.Name == name {
			return p.Value
		}
	}
	return ""
}
