package as4

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-peppol-ap/pkg/compression"
	"github.com/sirosfoundation/go-peppol-ap/pkg/message"
	"github.com/sirosfoundation/go-peppol-ap/pkg/mime"
	"github.com/sirosfoundation/go-peppol-ap/pkg/reliability"
	"github.com/sirosfoundation/go-peppol-ap/pkg/sbdh"
)

// DefaultMaxMessageSize bounds an inbound AS4 request body
const DefaultMaxMessageSize = 100 << 20

// ReceiverConfig holds Receiver dependencies
type ReceiverConfig struct {
	Handler IncomingHandler
	// SeatID is the own Peppol seat ID, used to flag misrouted messages
	SeatID string
	// Duplicates enables duplicate detection on the ebMS message ID
	Duplicates *reliability.MessageTracker
	// MaxMessageSize caps the request body in bytes, DefaultMaxMessageSize when zero
	MaxMessageSize int64
	Logger         *zap.Logger
}

// Receiver is the inbound AS4 endpoint
type Receiver struct {
	handler    IncomingHandler
	seatID     string
	duplicates *reliability.MessageTracker
	maxSize    int64
	logger     *zap.Logger
	now        func() time.Time
}

// NewReceiver creates a Receiver
func NewReceiver(cfg ReceiverConfig) *Receiver {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxSize := cfg.MaxMessageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &Receiver{
		handler:    cfg.Handler,
		seatID:     cfg.SeatID,
		duplicates: cfg.Duplicates,
		maxSize:    maxSize,
		logger:     logger.Named("as4.receiver"),
		now:        time.Now,
	}
}

// ServeHTTP implements http.Handler
func (rc *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	received := rc.now().UTC()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, rc.maxSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			rc.logger.Warn("AS4 request too large", zap.String("remote_addr", r.RemoteAddr), zap.Int64("limit", tooLarge.Limit))
			rc.writeError(w, http.StatusRequestEntityTooLarge, "", message.ErrCodeOther, "Other",
				fmt.Sprintf("message exceeds the size limit of %d bytes", tooLarge.Limit))
			return
		}
		rc.logger.Warn("reading AS4 request failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		rc.writeError(w, http.StatusBadRequest, "", message.ErrCodeOther, "Other", "failed to read request body")
		return
	}
	msg, err := mime.Parse(bytes.NewReader(body), r.Header.Get("Content-Type"))
	if err != nil {
		rc.logger.Warn("unreadable AS4 request", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		rc.writeError(w, http.StatusBadRequest, "", message.ErrCodeValueInconsistent, "ValueInconsistent", err.Error())
		return
	}

	um, err := message.ParseUserMessage(msg.Envelope)
	if err != nil {
		rc.logger.Warn("invalid AS4 envelope", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		rc.writeError(w, http.StatusBadRequest, "", message.ErrCodeValueInconsistent, "ValueInconsistent", err.Error())
		return
	}

	log := rc.logger.With(
		zap.String("as4_message_id", um.MessageID),
		zap.String("from", um.From.ID),
		zap.String("to", um.To.ID))

	if rc.seatID != "" && !strings.EqualFold(um.To.ID, rc.seatID) {
		log.Warn("message addressed to a different access point", zap.String("seat_id", rc.seatID))
	}

	doc, err := extractSBDH(um, msg)
	if err != nil {
		log.Warn("invalid SBDH payload", zap.Error(err))
		rc.writeError(w, http.StatusOK, um.MessageID, message.ErrCodeOther, "Other", err.Error())
		return
	}

	in := &IncomingMessage{
		MessageID:         um.MessageID,
		ConversationID:    um.ConversationID,
		Service:           um.Service,
		ServiceType:       um.ServiceType,
		Action:            um.Action,
		FromParty:         um.From.ID,
		ToParty:           um.To.ID,
		OriginalSender:    um.Property(message.PropertyOriginalSender),
		FinalRecipient:    um.Property(message.PropertyFinalRecipient),
		ReceivedAt:        received,
		RemoteAddr:        r.RemoteAddr,
		SenderCertificate: securityTokenCertificate(msg.Envelope),
		SBDH:              doc,
	}

	if rc.duplicates != nil {
		switch rc.duplicates.Acquire(um.MessageID) {
		case reliability.StateDelivered:
			log.Info("duplicate message, repeating receipt")
			rc.writeReceipt(w, um.MessageID, log)
			return
		case reliability.StateInFlight:
			log.Warn("duplicate message while the first copy is processed")
			rc.writeError(w, http.StatusOK, um.MessageID, message.ErrCodeOther, "Other", "message "+um.MessageID+" is already being processed")
			return
		}
	}

	result := rc.dispatch(r.Context(), in, log)
	if rc.duplicates != nil {
		rc.duplicates.Release(um.MessageID, result.IsAccepted())
	}
	if !result.IsAccepted() {
		log.Info("message rejected", zap.String("reason", result.Reason()))
		rc.writeError(w, http.StatusOK, um.MessageID, message.ErrCodeOther, "Other", result.Reason())
		return
	}

	log.Info("message accepted", zap.String("sender", doc.Sender.URIEncoded()), zap.String("receiver", doc.Receiver.URIEncoded()))
	rc.writeReceipt(w, um.MessageID, log)
}

func (rc *Receiver) writeReceipt(w http.ResponseWriter, refTo string, log *zap.Logger) {
	receipt, err := message.BuildReceipt(message.NewMessageID(messageDomain), refTo)
	if err != nil {
		log.Error("building receipt failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeSOAP(w, http.StatusOK, receipt)
}

func (rc *Receiver) dispatch(ctx context.Context, in *IncomingMessage, log *zap.Logger) (result Result) {
	if rc.handler == nil {
		return Rejected("no incoming message handler configured")
	}
	defer func() {
		if p := recover(); p != nil {
			log.Error("incoming handler panicked", zap.Any("panic", p), zap.Stack("stack"))
			result = Rejected("internal error while processing message")
		}
	}()
	return rc.handler.Handle(ctx, in)
}

func (rc *Receiver) writeError(w http.ResponseWriter, status int, refTo, code, short, desc string) {
	env, err := message.BuildErrorSignal(message.NewMessageID(messageDomain), refTo, message.Error{
		Category:            "Content",
		ErrorCode:           code,
		Origin:              "ebMS",
		RefToMessageInError: refTo,
		Severity:            message.SeverityFailure,
		ShortDescription:    short,
		Description:         desc,
	})
	if err != nil {
		rc.logger.Error("building error signal failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeSOAP(w, status, env)
}

func writeSOAP(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", mime.ContentTypeSOAPXML+"; charset=UTF-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// extractSBDH locates, decompresses and parses the SBDH attachment
func extractSBDH(um *message.UserMessage, msg *mime.Message) (*sbdh.Data, error) {
	if len(um.Parts) == 0 {
		return nil, fmt.Errorf("no payload referenced in UserMessage")
	}
	part, ok := msg.Find(um.Parts[0].Href)
	if !ok {
		return nil, fmt.Errorf("payload %s not found", um.Parts[0].Href)
	}
	data := part.Data
	if um.Parts[0].Property(message.PartPropertyCompressionType) == compression.TypeGzip || compression.IsGzip(data) {
		var err error
		if data, err = compression.Decompress(data); err != nil {
			return nil, fmt.Errorf("decompressing payload: %w", err)
		}
	}
	return sbdh.Parse(data)
}

func securityTokenCertificate(envelope []byte) *x509.Certificate {
	tok := message.SecurityToken(envelope)
	if tok == "" {
		return nil
	}
	der, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(tok), ""))
	if err != nil {
		return nil
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil
	}
	return cert
}
