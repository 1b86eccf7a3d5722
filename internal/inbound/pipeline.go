package inbound

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-peppol-ap/internal/as4"
	"github.com/sirosfoundation/go-peppol-ap/internal/metrics"
	"github.com/sirosfoundation/go-peppol-ap/internal/reporting"
)

// Result is the decision returned to the AS4 receiver
type Result = as4.Result

// Submitter accepts reporting items without blocking
type Submitter interface {
	Submit(item reporting.Item) error
}

// EndUserFunc derives the reported end user of an inbound message
type EndUserFunc func(msg *as4.IncomingMessage) string

// ReceiverAsEndUser reports the receiving participant as end user
func ReceiverAsEndUser(msg *as4.IncomingMessage) string {
	return msg.SBDH.Receiver.URIEncoded()
}

// Options configures a Pipeline
type Options struct {
	Forwarder Forwarder
	// Submitter is optional; without it no reporting items are produced
	Submitter Submitter
	// SeatID is the own seat ID, reported as C3
	SeatID string
	// CountryCode is the operator country, reported as C4 country
	CountryCode string
	// EndUser defaults to ReceiverAsEndUser
	EndUser EndUserFunc
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Pipeline forwards inbound documents downstream and records them for reporting
type Pipeline struct {
	forwarder   Forwarder
	submitter   Submitter
	seatID      string
	countryCode string
	endUser     EndUserFunc
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// NewPipeline creates a Pipeline
func NewPipeline(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	endUser := opts.EndUser
	if endUser == nil {
		endUser = ReceiverAsEndUser
	}
	return &Pipeline{
		forwarder:   opts.Forwarder,
		submitter:   opts.Submitter,
		seatID:      opts.SeatID,
		countryCode: opts.CountryCode,
		endUser:     endUser,
		logger:      logger.Named("inbound"),
		metrics:     opts.Metrics,
	}
}

// Handle implements as4.IncomingHandler
func (p *Pipeline) Handle(ctx context.Context, msg *as4.IncomingMessage) Result {
	if msg == nil || msg.SBDH == nil {
		p.metrics.ObserveForward("invalid")
		return as4.Rejected("no SBDH in incoming message")
	}
	data := msg.SBDH
	log := p.logger.With(
		zap.String("as4_message_id", msg.MessageID),
		zap.String("sender", data.Sender.URIEncoded()),
		zap.String("receiver", data.Receiver.URIEncoded()),
		zap.String("doctype", data.DocumentType.URIEncoded()))

	body, err := data.BusinessXML()
	if err != nil {
		log.Error("serializing business document failed", zap.Error(err))
		p.metrics.ObserveForward("invalid")
		return as4.Rejected(fmt.Sprintf("unreadable business document: %v", err))
	}

	doc := &Document{
		SenderID:   data.Sender.URIEncoded(),
		ReceiverID: data.Receiver.URIEncoded(),
		DocTypeID:  data.DocumentType.URIEncoded(),
		ProcessID:  data.Process.URIEncoded(),
		CountryC1:  data.CountryC1,
		Body:       string(body),
	}

	if p.forwarder == nil {
		p.metrics.ObserveForward("failed")
		return as4.Rejected("no downstream forwarder configured")
	}
	if err := p.forwarder.Forward(ctx, doc); err != nil {
		outcome := "failed"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			outcome = "breaker_open"
		}
		p.metrics.ObserveForward(outcome)
		log.Error("forwarding document downstream failed", zap.Error(err))
		return as4.Rejected(fmt.Sprintf("failed to forward document to the receiving system: %v", err))
	}

	p.metrics.ObserveForward("accepted")
	log.Info("document forwarded downstream")
	p.report(msg, log)
	return as4.Accepted()
}

// report queues the inbound reporting item. Failures are logged only.
func (p *Pipeline) report(msg *as4.IncomingMessage, log *zap.Logger) {
	if p.submitter == nil {
		return
	}
	data := msg.SBDH

	exchanged := msg.ReceivedAt
	if exchanged.IsZero() {
		exchanged = time.Now()
	}
	item := reporting.NewItem(reporting.DirectionReceiving, exchanged)
	item.C2ID = msg.FromParty
	item.C3ID = p.seatID
	item.DocTypeID = data.DocumentType.URIEncoded()
	item.ProcessID = data.Process.URIEncoded()
	item.C1CountryCode = data.CountryC1
	item.C4CountryCode = p.countryCode
	item.EndUserID = p.endUser(msg)
	item.AS4MessageID = msg.MessageID
	item.AS4ConversationID = msg.ConversationID

	if err := p.submitter.Submit(item); err != nil {
		log.Warn("inbound reporting item not queued", zap.Error(err))
	}
}
