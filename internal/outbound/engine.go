package outbound

import (
	"context"
	"crypto/x509"
	"net/http"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-peppol-ap/internal/as4"
	"github.com/sirosfoundation/go-peppol-ap/pkg/directory"
	"github.com/sirosfoundation/go-peppol-ap/pkg/peppolid"
	"github.com/sirosfoundation/go-peppol-ap/pkg/sbdh"
)

// Lookup resolves the receiver access point
type Lookup interface {
	Lookup(ctx context.Context, receiver, docType, process peppolid.Identifier) (*directory.Resolution, error)
}

// Transmission is everything the transport engine needs for one send
type Transmission struct {
	Data          *sbdh.Data
	EndpointURL   string
	Certificate   *x509.Certificate
	SenderPartyID string

	OnCertificate   as4.CertificateFunc
	OnBuildMessage  as4.BuildMessageFunc
	OnSignalMessage as4.SignalMessageFunc
}

// Engine performs one synchronous AS4 transmission. A result and an
// error may be returned together.
type Engine interface {
	Send(ctx context.Context, t *Transmission) (as4.SendResult, error)
}

// AS4Engine is the Engine backed by as4.Sender
type AS4Engine struct {
	HTTPClient  *http.Client
	Checker     as4.CertificateChecker
	RawResponse as4.RawResponseConsumer
	Logger      *zap.Logger
}

// Send implements Engine
func (e *AS4Engine) Send(ctx context.Context, t *Transmission) (as4.SendResult, error) {
	s := as4.NewSender().
		HTTPClient(e.HTTPClient).
		Endpoint(t.EndpointURL).
		Certificate(t.Certificate).
		SenderPartyID(t.SenderPartyID).
		OnCertificate(t.OnCertificate).
		OnBuildMessage(t.OnBuildMessage).
		OnSignalMessage(t.OnSignalMessage).
		Logger(e.Logger)
	if e.Checker != nil {
		s = s.CertificateChecker(e.Checker)
	}
	if e.RawResponse != nil {
		s = s.RawResponseConsumer(e.RawResponse)
	}
	return s.SendAndAwaitReceipt(ctx, t.Data)
}
