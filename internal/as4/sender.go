package as4

import (
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-peppol-ap/pkg/certcheck"
	"github.com/sirosfoundation/go-peppol-ap/pkg/compression"
	"github.com/sirosfoundation/go-peppol-ap/pkg/message"
	"github.com/sirosfoundation/go-peppol-ap/pkg/mime"
	"github.com/sirosfoundation/go-peppol-ap/pkg/sbdh"
	"github.com/sirosfoundation/go-peppol-ap/pkg/transport"
)

// SendResult is the outcome of SendAndAwaitReceipt
type SendResult string

const (
	ResultSuccess              SendResult = "SUCCESS"
	ResultInvalidParameters    SendResult = "INVALID_PARAMETERS"
	ResultTransportError       SendResult = "TRANSPORT_ERROR"
	ResultNoSignalMessage      SendResult = "NO_SIGNAL_MESSAGE_RECEIVED"
	ResultInvalidSignalMessage SendResult = "INVALID_SIGNAL_MESSAGE_RECEIVED"
)

// IsSuccess reports whether a receipt was received
func (r SendResult) IsSuccess() bool {
	return r == ResultSuccess
}

var (
	// ErrInvalidParameters is returned when the sender is not fully configured
	ErrInvalidParameters = errors.New("invalid send parameters")
	// ErrCertificateRejected is returned when the receiver AP certificate fails the check
	ErrCertificateRejected = errors.New("receiver AP certificate rejected")
	// ErrInvalidSignal is returned when the response is not a usable signal message
	ErrInvalidSignal = errors.New("invalid signal message received")
)

const (
	payloadMimeType = "application/xml"
	messageDomain   = "peppol-ap"
)

// CertificateChecker validates the receiver AP certificate
type CertificateChecker interface {
	Check(ctx context.Context, cert *x509.Certificate, at time.Time) certcheck.Result
}

// RawResponseConsumer receives the undecoded HTTP response of each transmission
type RawResponseConsumer interface {
	HandleResponse(messageID string, data []byte) error
}

// Callbacks invoked during a transmission
type (
	CertificateFunc   func(cert *x509.Certificate, checkedAt time.Time, result certcheck.Result)
	BuildMessageFunc  func(messageID, conversationID string)
	SignalMessageFunc func(raw []byte, signal *message.SignalMessage)
)

// Sender transmits one SBDH document to a Peppol access point
type Sender struct {
	httpClient    *http.Client
	endpointURL   string
	certificate   *x509.Certificate
	checker       CertificateChecker
	senderPartyID string

	onCertificate  CertificateFunc
	onBuildMessage BuildMessageFunc
	onSignal       SignalMessageFunc
	rawResponse    RawResponseConsumer

	logger *zap.Logger
	now    func() time.Time
}

// NewSender creates an unconfigured Sender
func NewSender() *Sender {
	return &Sender{logger: zap.NewNop(), now: time.Now}
}

// HTTPClient sets the client used for the transmission
func (s *Sender) HTTPClient(c *http.Client) *Sender { s.httpClient = c; return s }

// Endpoint sets the receiver AP endpoint URL
func (s *Sender) Endpoint(u string) *Sender { s.endpointURL = u; return s }

// Certificate sets the receiver AP certificate
func (s *Sender) Certificate(c *x509.Certificate) *Sender { s.certificate = c; return s }

// CertificateChecker sets the receiver certificate checker
func (s *Sender) CertificateChecker(c CertificateChecker) *Sender { s.checker = c; return s }

// SenderPartyID sets the own seat ID used as ebMS From party
func (s *Sender) SenderPartyID(id string) *Sender { s.senderPartyID = id; return s }

// OnCertificate registers the certificate check callback
func (s *Sender) OnCertificate(f CertificateFunc) *Sender { s.onCertificate = f; return s }

// OnBuildMessage registers the callback invoked once the UserMessage is built
func (s *Sender) OnBuildMessage(f BuildMessageFunc) *Sender { s.onBuildMessage = f; return s }

// OnSignalMessage registers the callback invoked with the received signal
func (s *Sender) OnSignalMessage(f SignalMessageFunc) *Sender { s.onSignal = f; return s }

// RawResponseConsumer sets the consumer of raw HTTP responses
func (s *Sender) RawResponseConsumer(c RawResponseConsumer) *Sender { s.rawResponse = c; return s }

// Logger sets the logger
func (s *Sender) Logger(l *zap.Logger) *Sender {
	if l != nil {
		s.logger = l.Named("as4.sender")
	}
	return s
}

func (s *Sender) validate(data *sbdh.Data) error {
	if data == nil {
		return fmt.Errorf("%w: no SBDH data", ErrInvalidParameters)
	}
	if err := data.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	if s.senderPartyID == "" {
		return fmt.Errorf("%w: sender party ID not set", ErrInvalidParameters)
	}
	u, err := url.Parse(s.endpointURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("%w: invalid endpoint URL %q", ErrInvalidParameters, s.endpointURL)
	}
	return nil
}

// SendAndAwaitReceipt sends data and waits for the synchronous signal
// message. The returned result is empty when the transmission was aborted
// before a result could be determined.
func (s *Sender) SendAndAwaitReceipt(ctx context.Context, data *sbdh.Data) (SendResult, error) {
	if err := s.validate(data); err != nil {
		return ResultInvalidParameters, err
	}

	checker := s.checker
	if checker == nil {
		checker = certcheck.New(certcheck.Options{Logger: s.logger})
	}
	checkedAt := s.now()
	certResult := checker.Check(ctx, s.certificate, checkedAt)
	if s.onCertificate != nil {
		s.onCertificate(s.certificate, checkedAt, certResult)
	}
	if !certResult.IsValid() {
		return "", fmt.Errorf("%w: %s", ErrCertificateRejected, certResult)
	}

	messageID := message.NewMessageID(messageDomain)
	conversationID := uuid.NewString()
	contentID := "sbdh-" + uuid.NewString() + "@" + messageDomain

	um := &message.UserMessage{
		MessageID: messageID,
		Timestamp: s.now(),
		From:      message.Party{ID: s.senderPartyID, Type: message.PartyTypeAP},
		To:        message.Party{ID: certcheck.CommonName(s.certificate), Type: message.PartyTypeAP},

		AgreementRef:   message.AgreementPeppol,
		Service:        data.Process.Value,
		ServiceType:    data.Process.Scheme,
		Action:         data.DocumentType.URIEncoded(),
		ConversationID: conversationID,
		Properties: []message.Property{
			{Name: message.PropertyOriginalSender, Type: data.Sender.Scheme, Value: data.Sender.Value},
			{Name: message.PropertyFinalRecipient, Type: data.Receiver.Scheme, Value: data.Receiver.Value},
		},
		Parts: []message.PartInfo{{
			Href: "cid:" + contentID,
			Properties: []message.Property{
				{Name: message.PartPropertyMimeType, Value: payloadMimeType},
				{Name: message.PartPropertyCompressionType, Value: compression.TypeGzip},
			},
		}},
	}

	envelope, err := message.BuildUserMessage(um)
	if err != nil {
		return "", err
	}
	if s.onBuildMessage != nil {
		s.onBuildMessage(messageID, conversationID)
	}

	sbdhBytes, err := sbdh.Build(data)
	if err != nil {
		return ResultInvalidParameters, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	compressed, err := compression.Compress(sbdhBytes)
	if err != nil {
		return "", err
	}
	body, contentType, err := mime.Serialize(envelope, []mime.Part{{
		ContentID:   contentID,
		ContentType: compression.TypeGzip,
		Data:        compressed,
	}})
	if err != nil {
		return "", err
	}

	log := s.logger.With(
		zap.String("as4_message_id", messageID),
		zap.String("endpoint", s.endpointURL))

	client := s.httpClient
	if client == nil {
		if client, err = transport.NewClient(nil); err != nil {
			return ResultTransportError, err
		}
	}

	log.Debug("sending AS4 message", zap.Int("size", len(body)))
	resp, err := transport.Post(ctx, client, s.endpointURL, contentType, body)
	if err != nil {
		return ResultTransportError, err
	}

	if s.rawResponse != nil {
		if err := s.rawResponse.HandleResponse(messageID, resp.Body); err != nil {
			log.Warn("storing raw response failed", zap.Error(err))
		}
	}

	if len(resp.Body) == 0 {
		if resp.StatusCode >= http.StatusBadRequest {
			return ResultTransportError, fmt.Errorf("endpoint returned HTTP %d", resp.StatusCode)
		}
		return ResultNoSignalMessage, nil
	}

	parsed, err := mime.Parse(bytes.NewReader(resp.Body), defaultContentType(resp.ContentType))
	if err != nil {
		return ResultInvalidSignalMessage, fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}
	signal, err := message.ParseSignal(parsed.Envelope)
	if err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return ResultTransportError, fmt.Errorf("endpoint returned HTTP %d: %w", resp.StatusCode, err)
		}
		return ResultInvalidSignalMessage, fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}

	if s.onSignal != nil {
		s.onSignal(parsed.Envelope, signal)
	}

	if signal.RefToMessageID != "" && signal.RefToMessageID != messageID {
		return ResultInvalidSignalMessage, fmt.Errorf("%w: refers to %s instead of %s", ErrInvalidSignal, signal.RefToMessageID, messageID)
	}
	if !signal.Receipt {
		log.Info("no receipt in signal message", zap.Int("errors", len(signal.Errors)))
		return ResultInvalidSignalMessage, nil
	}

	log.Info("receipt received", zap.String("signal_message_id", signal.MessageID))
	return ResultSuccess, nil
}

func defaultContentType(ct string) string {
	if ct == "" {
		return mime.ContentTypeSOAPXML
	}
	return ct
}
