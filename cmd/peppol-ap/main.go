// Command peppol-ap runs the Peppol AS4 access point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sirosfoundation/go-peppol-ap/internal/as4"
	"github.com/sirosfoundation/go-peppol-ap/internal/config"
	"github.com/sirosfoundation/go-peppol-ap/internal/inbound"
	"github.com/sirosfoundation/go-peppol-ap/internal/logging"
	"github.com/sirosfoundation/go-peppol-ap/internal/metrics"
	"github.com/sirosfoundation/go-peppol-ap/internal/outbound"
	"github.com/sirosfoundation/go-peppol-ap/internal/reporting"
	"github.com/sirosfoundation/go-peppol-ap/internal/server"
	"github.com/sirosfoundation/go-peppol-ap/pkg/certcheck"
	"github.com/sirosfoundation/go-peppol-ap/pkg/directory"
	"github.com/sirosfoundation/go-peppol-ap/pkg/peppolid"
	"github.com/sirosfoundation/go-peppol-ap/pkg/reliability"
	"github.com/sirosfoundation/go-peppol-ap/pkg/transport"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("access point terminated", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting Peppol access point",
		zap.String("seat_id", cfg.Peppol.SeatID),
		zap.String("stage", cfg.Peppol.Stage),
		zap.String("country", cfg.Peppol.CountryCode),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	httpClient, err := transport.NewClient(clientSettings(cfg))
	if err != nil {
		return fmt.Errorf("creating HTTP client: %w", err)
	}

	checker, err := newChecker(cfg, httpClient, logger)
	if err != nil {
		return err
	}

	backend, err := newBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("creating reporting backend: %w", err)
	}
	var submitter *reporting.Submitter
	if backend != nil {
		submitter = reporting.NewSubmitter(backend, reporting.Options{
			Workers:        cfg.Reporting.Workers,
			QueueSize:      cfg.Reporting.QueueSize,
			MaxAttempts:    cfg.Reporting.MaxAttempts,
			RetryDelay:     cfg.Reporting.RetryDelay,
			AttemptTimeout: cfg.Reporting.AttemptTimeout,
			Logger:         logger,
			Metrics:        m,
		})
		submitter.Start(context.WithoutCancel(ctx))
		logger.Info("reporting enabled", zap.String("backend", cfg.Reporting.Backend))
	} else {
		logger.Warn("reporting disabled")
	}

	pipeline := inbound.NewPipeline(inbound.Options{
		Forwarder: inbound.NewHTTPForwarder(inbound.HTTPForwarderConfig{
			BaseURL: cfg.Downstream.BaseURL,
			Secret:  cfg.Downstream.Secret,
			Timeout: cfg.Downstream.Timeout,
			Breaker: inbound.BreakerSettings{
				MaxRequests:         cfg.Downstream.Breaker.MaxRequests,
				Interval:            cfg.Downstream.Breaker.Interval,
				Timeout:             cfg.Downstream.Breaker.Timeout,
				ConsecutiveFailures: cfg.Downstream.Breaker.ConsecutiveFailures,
			},
			Logger:  logger,
			Metrics: m,
		}),
		Submitter:   inboundSubmitter(submitter),
		SeatID:      cfg.Peppol.SeatID,
		CountryCode: cfg.Peppol.CountryCode,
		Logger:      logger,
		Metrics:     m,
	})
	var duplicates *reliability.MessageTracker
	if cfg.AS4.DuplicateWindow > 0 {
		duplicates = reliability.NewMessageTracker(cfg.AS4.DuplicateWindow)
		go duplicates.Run(ctx, time.Hour)
	}
	receiver := as4.NewReceiver(as4.ReceiverConfig{
		Handler:    pipeline,
		SeatID:     cfg.Peppol.SeatID,
		Duplicates: duplicates,
		Logger:     logger,
	})

	engine := &outbound.AS4Engine{
		HTTPClient: httpClient,
		Checker:    checker,
		Logger:     logger,
	}
	if cfg.AS4.RawResponseDir != "" {
		engine.RawResponse = as4.NewFileRawResponseWriter(cfg.AS4.RawResponseDir)
	}
	// Outbound reporting needs an end user policy, none is configured
	orchestrator := outbound.New(outbound.Options{
		SeatID:   cfg.Peppol.SeatID,
		Resolver: peppolid.DefaultResolver(),
		Lookup: directory.New(directory.Options{
			Environment:      cfg.Environment(),
			SMPURL:           cfg.SMP.URL,
			SecureValidation: cfg.SMP.SecureValidation,
			DNSServer:        cfg.SMP.DNSServer,
			HTTPClient:       httpClient,
			Logger:           logger,
		}),
		Engine:  engine,
		Timeout: cfg.HTTP.AttemptTimeout,
		Logger:  logger,
		Metrics: m,
	})

	srv := server.New(cfg, orchestrator, receiver, reg, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		logger.Info("shutting down")
		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("stopping server: %w", err))
		}
		if submitter != nil {
			if err := submitter.Stop(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("draining reporting queue: %w", err))
			}
		}
		if backend != nil {
			if err := backend.Close(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("closing reporting backend: %w", err))
			}
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

func clientSettings(cfg *config.Config) *transport.ClientSettings {
	s := transport.DefaultClientSettings()
	s.ProxyURL = cfg.HTTP.Proxy
	if cfg.HTTP.ConnectTimeout > 0 {
		s.ConnectTimeout = cfg.HTTP.ConnectTimeout
	}
	if cfg.HTTP.RequestTimeout > 0 {
		s.RequestTimeout = cfg.HTTP.RequestTimeout
	}
	return s
}

func newChecker(cfg *config.Config, client *http.Client, logger *zap.Logger) (*certcheck.Checker, error) {
	opts := certcheck.Options{
		OCSP:             cfg.AS4.OCSP,
		StrictRevocation: cfg.AS4.StrictRevocation,
		HTTPClient:       client,
		Logger:           logger,
	}
	if cfg.AS4.TrustStore != "" {
		roots, err := certcheck.LoadPool(cfg.AS4.TrustStore)
		if err != nil {
			return nil, fmt.Errorf("loading AP trust store: %w", err)
		}
		opts.Roots = roots
	} else {
		logger.Warn("as4.trustStore not set - receiver certificates are not chain validated")
	}
	return certcheck.New(opts), nil
}

// inboundSubmitter avoids handing a typed nil to the pipeline
func inboundSubmitter(s *reporting.Submitter) inbound.Submitter {
	if s == nil {
		return nil
	}
	return s
}
