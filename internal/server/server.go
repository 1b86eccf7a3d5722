// Package server provides the HTTP server of the access point.
//
// # Send API
//
//   - POST /sendas4/{senderId}/{receiverId}/{docTypeId}/{processId}/{countryC1}
//     sends the raw XML request body as business document
//   - POST /sendsbdh sends a complete Standard Business Document
//
// Both answer with the outcome record of the attempt. When api.requiredToken
// is configured the X-Token header must carry it.
//
// # AS4 Endpoint
//
// POST /as4 receives inbound AS4 messages and forwards them downstream.
//
// # Health & Metrics
//
//   - GET /health  - Liveness probe
//   - GET /metrics - Prometheus metrics (if enabled)
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sirosfoundation/go-peppol-ap/internal/config"
	"github.com/sirosfoundation/go-peppol-ap/internal/outbound"
	"github.com/sirosfoundation/go-peppol-ap/pkg/sbdh"
)

// HeaderToken carries the API token of the send endpoints
const HeaderToken = "X-Token"

const maxDocumentSize = 100 << 20

// Sender runs outbound send attempts
type Sender interface {
	Send(ctx context.Context, req *outbound.Request) *outbound.Outcome
}

// Server is the access point HTTP server
type Server struct {
	config  *config.Config
	logger  *zap.Logger
	router  *chi.Mux
	httpSrv *http.Server

	sender   Sender
	inbound  http.Handler
	registry *prometheus.Registry
	limiter  *rate.Limiter
}

// New creates the server. inbound serves POST /as4; registry may be nil
// when metrics are disabled.
func New(cfg *config.Config, sender Sender, inbound http.Handler, registry *prometheus.Registry, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		config:   cfg,
		logger:   logger.Named("server"),
		router:   chi.NewRouter(),
		sender:   sender,
		inbound:  inbound,
		registry: registry,
	}
	if cfg.API.RateLimit > 0 {
		burst := cfg.API.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.API.RateLimit), burst)
	}
	if cfg.API.RequiredToken == "" {
		s.logger.Warn("api.requiredToken not set - send endpoints accept unauthenticated requests")
	}

	s.routes()

	s.httpSrv = &http.Server{
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.config.Metrics.Enabled && s.registry != nil {
		r.Handle(s.config.Metrics.Path, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	if s.inbound != nil {
		r.Method(http.MethodPost, "/as4", s.inbound)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.withToken)
		r.Use(s.withRateLimit)

		r.Post("/sendas4/{senderId}/{receiverId}/{docTypeId}/{processId}/{countryC1}", s.handleSendAS4)
		r.Post("/sendsbdh", s.handleSendSBDH)
	})
}

// ServeHTTP makes Server usable as an http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start begins listening on the configured address
func (s *Server) Start() error {
	addr := s.config.Addr()
	s.httpSrv.Addr = addr
	s.logger.Info("starting server", zap.String("addr", addr), zap.Bool("tls", s.config.Server.TLS.Enabled))
	var err error
	if s.config.Server.TLS.Enabled {
		err = s.httpSrv.ListenAndServeTLS(s.config.Server.TLS.CertFile, s.config.Server.TLS.KeyFile)
	} else {
		err = s.httpSrv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Middleware

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) withToken(next http.Handler) http.Handler {
	required := s.config.API.RequiredToken
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if required != "" {
			got := r.Header.Get(HeaderToken)
			if subtle.ConstantTimeCompare([]byte(got), []byte(required)) != 1 {
				s.logger.Warn("rejected send request with invalid token", zap.String("remote", r.RemoteAddr))
				s.jsonError(w, "invalid or missing "+HeaderToken, http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			s.jsonError(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]string{"status": "ok", "seatId": s.config.Peppol.SeatID}, http.StatusOK)
}

func (s *Server) handleSendAS4(w http.ResponseWriter, r *http.Request) {
	params := make([]string, 0, 5)
	for _, name := range []string{"senderId", "receiverId", "docTypeId", "processId", "countryC1"} {
		v, err := pathParam(r, name)
		if err != nil {
			s.jsonError(w, fmt.Sprintf("invalid %s: %v", name, err), http.StatusBadRequest)
			return
		}
		params = append(params, v)
	}
	payload, ok := s.readBody(w, r)
	if !ok {
		return
	}
	req := outbound.NewRawPayloadRequest(params[0], params[1], params[2], params[3], params[4], payload)
	s.writeOutcome(w, s.sender.Send(r.Context(), req))
}

func (s *Server) handleSendSBDH(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	data, err := sbdh.Parse(body)
	if err != nil {
		s.logger.Info("rejected unparsable SBDH", zap.Error(err))
		s.jsonError(w, fmt.Sprintf("invalid SBDH: %v", err), http.StatusBadRequest)
		return
	}
	s.writeOutcome(w, s.sender.Send(r.Context(), outbound.NewPrebuiltRequest(data)))
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDocumentSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.jsonError(w, "document too large", http.StatusRequestEntityTooLarge)
			return nil, false
		}
		s.jsonError(w, "failed to read request body", http.StatusBadRequest)
		return nil, false
	}
	if len(body) == 0 {
		s.jsonError(w, "empty request body", http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

func (s *Server) writeOutcome(w http.ResponseWriter, out *outbound.Outcome) {
	data, err := out.JSON()
	if err != nil {
		s.logger.Error("failed to encode outcome", zap.Error(err))
		s.jsonError(w, "failed to encode outcome", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// pathParam returns the decoded value of a route parameter. chi matches on
// the escaped path, so identifiers containing '#' or '/' arrive encoded.
func pathParam(r *http.Request, name string) (string, error) {
	return url.PathUnescape(chi.URLParam(r, name))
}

// Helper functions

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) jsonError(w http.ResponseWriter, message string, status int) {
	s.jsonResponse(w, map[string]string{"error": message}, status)
}
