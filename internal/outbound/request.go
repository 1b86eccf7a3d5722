package outbound

import (
	"errors"
	"fmt"

	"github.com/beevik/etree"

	"github.com/sirosfoundation/go-peppol-ap/pkg/peppolid"
	"github.com/sirosfoundation/go-peppol-ap/pkg/sbdh"
)

// ErrPayloadNotXML is recorded when a raw payload is not well-formed XML
var ErrPayloadNotXML = errors.New("failed to read provided payload as XML")

// Request is one outbound send request. Exactly one of Payload and
// Envelope is used, depending on the constructor.
type Request struct {
	SenderID   string
	ReceiverID string
	DocTypeID  string
	ProcessID  string
	CountryC1  string
	Payload    []byte

	Envelope *sbdh.Data
}

// NewRawPayloadRequest creates a request whose SBDH is built from the
// given identifiers and XML payload.
func NewRawPayloadRequest(senderID, receiverID, docTypeID, processID, countryC1 string, payload []byte) *Request {
	return &Request{
		SenderID:   senderID,
		ReceiverID: receiverID,
		DocTypeID:  docTypeID,
		ProcessID:  processID,
		CountryC1:  countryC1,
		Payload:    payload,
	}
}

// NewPrebuiltRequest creates a request for a caller supplied SBDH
func NewPrebuiltRequest(data *sbdh.Data) *Request {
	r := &Request{Envelope: data}
	if data != nil {
		r.SenderID = data.Sender.URIEncoded()
		r.ReceiverID = data.Receiver.URIEncoded()
		r.DocTypeID = data.DocumentType.URIEncoded()
		r.ProcessID = data.Process.URIEncoded()
		r.CountryC1 = data.CountryC1
	}
	return r
}

// IsPrebuilt reports whether the request carries its own SBDH
func (r *Request) IsPrebuilt() bool {
	return r.Envelope != nil
}

// prepare turns the request into validated SBDH data
func (r *Request) prepare(resolver *peppolid.Resolver) (*sbdh.Data, error) {
	if r.IsPrebuilt() {
		if err := r.Envelope.Validate(); err != nil {
			return nil, err
		}
		return r.Envelope, nil
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(r.Payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadNotXML, err)
	}
	if doc.Root() == nil {
		return nil, ErrPayloadNotXML
	}

	sender, err := resolver.Participant(r.SenderID)
	if err != nil {
		return nil, err
	}
	receiver, err := resolver.Participant(r.ReceiverID)
	if err != nil {
		return nil, err
	}
	docType, err := resolver.DocumentType(r.DocTypeID)
	if err != nil {
		return nil, err
	}
	process, err := resolver.Process(r.ProcessID)
	if err != nil {
		return nil, err
	}
	return sbdh.NewData(sender, receiver, docType, process, r.CountryC1, doc.Root())
}
