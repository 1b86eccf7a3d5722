package outbound

import (
	"context"
	"crypto/x509"
	"errors"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-peppol-ap/internal/metrics"
	"github.com/sirosfoundation/go-peppol-ap/internal/reporting"
	"github.com/sirosfoundation/go-peppol-ap/pkg/certcheck"
	"github.com/sirosfoundation/go-peppol-ap/pkg/directory"
	"github.com/sirosfoundation/go-peppol-ap/pkg/message"
	"github.com/sirosfoundation/go-peppol-ap/pkg/peppolid"
	"github.com/sirosfoundation/go-peppol-ap/pkg/sbdh"
)

// ErrNoLookup is recorded when the orchestrator has no directory lookup
var ErrNoLookup = errors.New("no directory lookup configured")

// EndUserResolver determines the end user reported for an outbound
// exchange. Returning "" skips reporting for that exchange.
type EndUserResolver interface {
	EndUserID(data *sbdh.Data) string
}

// EndUserFunc adapts a function to EndUserResolver
type EndUserFunc func(data *sbdh.Data) string

// EndUserID implements EndUserResolver
func (f EndUserFunc) EndUserID(data *sbdh.Data) string { return f(data) }

// SenderAsEndUser reports the sending participant as end user
var SenderAsEndUser = EndUserFunc(func(data *sbdh.Data) string {
	return data.Sender.URIEncoded()
})

// Submitter accepts reporting items
type Submitter interface {
	Submit(item reporting.Item) error
}

// Options configures an Orchestrator
type Options struct {
	// SeatID is the own Peppol seat ID, sent as ebMS From party
	SeatID   string
	Resolver *peppolid.Resolver
	Lookup   Lookup
	Engine   Engine
	// Timeout bounds the whole attempt; zero relies on the collaborators' own timeouts
	Timeout time.Duration

	// EndUser enables outbound reporting when set together with Submitter
	EndUser   EndUserResolver
	Submitter Submitter

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Orchestrator runs outbound send attempts
type Orchestrator struct {
	seatID    string
	resolver  *peppolid.Resolver
	lookup    Lookup
	engine    Engine
	timeout   time.Duration
	endUser   EndUserResolver
	submitter Submitter
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// New creates an Orchestrator
func New(opts Options) *Orchestrator {
	resolver := opts.Resolver
	if resolver == nil {
		resolver = peppolid.DefaultResolver()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	engine := opts.Engine
	if engine == nil {
		engine = &AS4Engine{Logger: logger}
	}
	return &Orchestrator{
		seatID:    opts.SeatID,
		resolver:  resolver,
		lookup:    opts.Lookup,
		engine:    engine,
		timeout:   opts.Timeout,
		endUser:   opts.EndUser,
		submitter: opts.Submitter,
		logger:    logger.Named("outbound"),
		metrics:   opts.Metrics,
		now:       time.Now,
	}
}

// Send performs one send attempt and returns its outcome. It never fails:
// every error, including panics of collaborators, is recorded in the outcome.
func (o *Orchestrator) Send(ctx context.Context, req *Request) (out *Outcome) {
	if req == nil {
		req = &Request{}
	}
	start := o.now()
	rec := newRecorder(start, req, o.seatID)
	log := o.logger.With(
		zap.String("sender", req.SenderID),
		zap.String("receiver", req.ReceiverID),
		zap.String("doctype", req.DocTypeID))

	defer func() {
		if p := recover(); p != nil {
			log.Error("panic while sending Peppol message", zap.Any("panic", p), zap.Stack("stack"))
			rec.panicked(p, debug.Stack())
		}
		out = rec.finish(o.now().Sub(start))
		o.metrics.ObserveSend(string(out.SendingResult), time.Duration(out.OverallDurationMillis)*time.Millisecond)
		log.Info("Peppol send finished",
			zap.String("as4_message_id", out.AS4MessageID),
			zap.String("result", string(out.SendingResult)),
			zap.Bool("overall_success", out.OverallSuccess),
			zap.Int64("duration_ms", out.OverallDurationMillis))
	}()

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	data, err := req.prepare(o.resolver)
	if err != nil {
		log.Warn("invalid send request", zap.Error(err))
		rec.exception(err)
		return
	}

	if o.lookup == nil {
		rec.exception(ErrNoLookup)
		return
	}
	resolution, err := o.lookup.Lookup(ctx, data.Receiver, data.DocumentType, data.Process)
	if err != nil {
		log.Error("error sending Peppol message via AS4", zap.Error(err))
		rec.exception(err)
		return
	}
	rec.endpoint(resolution.EndpointURL)

	result, err := o.engine.Send(ctx, &Transmission{
		Data:          data,
		EndpointURL:   resolution.EndpointURL,
		Certificate:   resolution.Certificate,
		SenderPartyID: o.seatID,
		OnCertificate: func(cert *x509.Certificate, checkedAt time.Time, result certcheck.Result) {
			rec.certificate(cert, checkedAt, result)
		},
		OnBuildMessage: rec.message,
		OnSignalMessage: func(raw []byte, sig *message.SignalMessage) {
			for _, e := range rec.signal(raw, sig) {
				log.Warn("AS4 error received",
					zap.String("error_code", e.ErrorCode),
					zap.String("severity", e.Severity),
					zap.String("category", e.Category),
					zap.String("origin", e.Origin),
					zap.String("short_description", e.ShortDescription),
					zap.String("description", e.Description),
					zap.String("error_details", e.ErrorDetails),
					zap.String("ref_to_message_in_error", e.RefToMessageInError))
			}
		},
	})
	log.Info("Peppol client send result", zap.String("result", string(result)))

	if result.IsSuccess() {
		o.report(data, resolution, rec.out, log)
	}
	rec.sendResult(result)
	if err != nil {
		log.Error("error sending Peppol message via AS4", zap.Error(err))
		rec.exception(err)
	}
	return
}

// report submits an outbound reporting item. It is a no-op unless both an
// end user policy and a submitter are configured.
func (o *Orchestrator) report(data *sbdh.Data, resolution *directory.Resolution, out *Outcome, log *zap.Logger) {
	if o.endUser == nil || o.submitter == nil {
		return
	}
	endUserID := o.endUser.EndUserID(data)
	if endUserID == "" {
		log.Debug("no end user determined, outbound exchange not reported")
		return
	}

	item := reporting.NewItem(reporting.DirectionSending, o.now())
	item.C2ID = o.seatID
	item.C3ID = certcheck.CommonName(resolution.Certificate)
	item.DocTypeID = data.DocumentType.URIEncoded()
	item.ProcessID = data.Process.URIEncoded()
	item.C1CountryCode = data.CountryC1
	item.EndUserID = endUserID
	item.AS4MessageID = out.AS4MessageID
	item.AS4ConversationID = out.AS4ConversationID

	if err := o.submitter.Submit(item); err != nil {
		log.Warn("outbound reporting item not queued", zap.Error(err))
	}
}
