package reporting

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sirosfoundation/go-peppol-ap/internal/metrics"
)

// ErrStopped is returned by Submit after Stop was called
var ErrStopped = errors.New("reporting submitter stopped")

// ErrQueueFull is returned by Submit when the queue has no room left
var ErrQueueFull = errors.New("reporting queue full")

// Options configures a Submitter
type Options struct {
	Workers        int
	QueueSize      int
	MaxAttempts    uint
	RetryDelay     time.Duration
	AttemptTimeout time.Duration
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
}

// DefaultOptions returns the options used for zero fields
func DefaultOptions() Options {
	return Options{
		Workers:        2,
		QueueSize:      1000,
		MaxAttempts:    3,
		RetryDelay:     200 * time.Millisecond,
		AttemptTimeout: 10 * time.Second,
	}
}

// Submitter stores items asynchronously through a bounded queue served by
// a fixed pool of workers.
type Submitter struct {
	backend Backend
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Metrics

	queue chan Item

	mu      sync.RWMutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSubmitter creates a submitter for backend. Call Start before Submit.
func NewSubmitter(backend Backend, opts Options) *Submitter {
	def := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = def.AttemptTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Submitter{
		backend: backend,
		opts:    opts,
		logger:  logger.Named("reporting"),
		metrics: opts.Metrics,
		queue:   make(chan Item, opts.QueueSize),
		done:    make(chan struct{}),
	}
}

// Start launches the workers. Cancelling ctx aborts in-flight stores.
func (s *Submitter) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.opts.Workers; i++ {
		g.Go(func() error {
			s.work(gctx)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(s.done)
	}()

	s.logger.Info("reporting submitter started",
		zap.Int("workers", s.opts.Workers),
		zap.Int("queue_size", s.opts.QueueSize))
}

// Submit enqueues item and returns immediately. Items that cannot be
// queued are logged and dropped.
func (s *Submitter) Submit(item Item) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stopped {
		s.drop(item, "submitter stopped")
		return ErrStopped
	}
	select {
	case s.queue <- item:
		s.metrics.SetReportingQueue(len(s.queue))
		return nil
	default:
		s.drop(item, "queue full")
		return ErrQueueFull
	}
}

func (s *Submitter) drop(item Item, reason string) {
	s.metrics.ObserveReporting("dropped")
	s.logger.Error("reporting item dropped",
		zap.String("reason", reason),
		zap.String("item_id", item.ID),
		zap.String("as4_message_id", item.AS4MessageID))
}

// Stop closes intake and waits until queued items are stored or ctx is
// done, in which case pending stores are cancelled.
func (s *Submitter) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.started
	close(s.queue)
	s.mu.Unlock()

	if !started {
		return nil
	}

	select {
	case <-s.done:
		s.cancel()
		s.logger.Info("reporting submitter drained")
		return nil
	case <-ctx.Done():
		s.cancel()
		<-s.done
		s.logger.Warn("reporting submitter stopped before queue was drained", zap.Int("pending", len(s.queue)))
		return ctx.Err()
	}
}

func (s *Submitter) work(ctx context.Context) {
	for item := range s.queue {
		s.metrics.SetReportingQueue(len(s.queue))
		if ctx.Err() != nil {
			s.drop(item, "submitter cancelled")
			continue
		}
		s.store(ctx, item)
	}
}

func (s *Submitter) store(ctx context.Context, item Item) {
	log := s.logger.With(
		zap.String("item_id", item.ID),
		zap.String("direction", string(item.Direction)),
		zap.String("as4_message_id", item.AS4MessageID))

	err := retry.New(
		retry.Context(ctx),
		retry.Attempts(s.opts.MaxAttempts),
		retry.Delay(s.opts.RetryDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warn("storing reporting item failed, retrying", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	).Do(func() error {
		actx, cancel := context.WithTimeout(ctx, s.opts.AttemptTimeout)
		defer cancel()
		return s.backend.Store(actx, item)
	})
	if err != nil {
		s.metrics.ObserveReporting("failed")
		log.Error("storing reporting item failed", zap.Error(err))
		return
	}
	s.metrics.ObserveReporting("stored")
	log.Debug("reporting item stored")
}
