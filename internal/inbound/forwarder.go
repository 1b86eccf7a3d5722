package inbound

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-peppol-ap/internal/metrics"
)

// ReceiveDocumentPath is the downstream path documents are posted to
const ReceiveDocumentPath = "/api/peppol/internal/receiveDocument"

// HeaderInternalToken carries the shared secret on downstream requests
const HeaderInternalToken = "X-Internal-Token"

// ErrDownstreamStatus is returned when the downstream answers with a status other than 200
var ErrDownstreamStatus = errors.New("downstream rejected document")

// Document is the JSON body posted to the downstream system
type Document struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	DocTypeID  string `json:"docTypeId"`
	ProcessID  string `json:"processId"`
	CountryC1  string `json:"countryC1"`
	Body       string `json:"body"`
}

// Forwarder delivers a document downstream. A nil error means the
// downstream system accepted it.
type Forwarder interface {
	Forward(ctx context.Context, doc *Document) error
}

// BreakerSettings configures the circuit breaker of an HTTPForwarder
type BreakerSettings struct {
	// MaxRequests allowed while half-open
	MaxRequests uint32
	// Interval after which closed-state counts are cleared
	Interval time.Duration
	// Timeout before an open breaker becomes half-open
	Timeout time.Duration
	// ConsecutiveFailures that open the breaker; zero disables the breaker
	ConsecutiveFailures uint32
}

// HTTPForwarderConfig configures an HTTPForwarder
type HTTPForwarderConfig struct {
	BaseURL string
	Secret  string
	Timeout time.Duration
	Client  *http.Client
	Breaker BreakerSettings
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// HTTPForwarder posts documents to the downstream receiveDocument endpoint
type HTTPForwarder struct {
	url     string
	secret  string
	timeout time.Duration
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewHTTPForwarder creates an HTTPForwarder
func NewHTTPForwarder(cfg HTTPForwarderConfig) *HTTPForwarder {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("downstream")
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}

	f := &HTTPForwarder{
		url:     cfg.BaseURL + ReceiveDocumentPath,
		secret:  cfg.Secret,
		timeout: cfg.Timeout,
		client:  client,
		logger:  logger,
	}

	if cfg.Breaker.ConsecutiveFailures > 0 {
		m := cfg.Metrics
		threshold := cfg.Breaker.ConsecutiveFailures
		f.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "downstream",
			MaxRequests: cfg.Breaker.MaxRequests,
			Interval:    cfg.Breaker.Interval,
			Timeout:     cfg.Breaker.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("downstream circuit breaker state changed",
					zap.String("from", from.String()),
					zap.String("to", to.String()))
				m.SetBreakerState(int(to))
			},
		})
	}
	return f
}

// Forward implements Forwarder
func (f *HTTPForwarder) Forward(ctx context.Context, doc *Document) error {
	if f.breaker == nil {
		return f.post(ctx, doc)
	}
	_, err := f.breaker.Execute(func() (interface{}, error) {
		return nil, f.post(ctx, doc)
	})
	return err
}

func (f *HTTPForwarder) post(ctx context.Context, doc *Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding downstream document: %w", err)
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating downstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderInternalToken, f.secret)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to downstream: %w", err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	_, _ = io.Copy(io.Discard, resp.Body)

	f.logger.Debug("downstream responded",
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: HTTP %d: %s", ErrDownstreamStatus, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}
