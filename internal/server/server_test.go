package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/beevik/etree"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-peppol-ap/internal/config"
	"github.com/sirosfoundation/go-peppol-ap/internal/metrics"
	"github.com/sirosfoundation/go-peppol-ap/internal/outbound"
	"github.com/sirosfoundation/go-peppol-ap/pkg/peppolid"
	"github.com/sirosfoundation/go-peppol-ap/pkg/sbdh"
)

type fakeSender struct {
	mu       sync.Mutex
	requests []*outbound.Request
}

func (f *fakeSender) Send(_ context.Context, req *outbound.Request) *outbound.Outcome {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return &outbound.Outcome{
		SenderID:       req.SenderID,
		ReceiverID:     req.ReceiverID,
		DocTypeID:      req.DocTypeID,
		ProcessID:      req.ProcessID,
		CountryC1:      req.CountryC1,
		SendingSuccess: true,
		OverallSuccess: true,
	}
}

func (f *fakeSender) last() *outbound.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Peppol.SeatID = "POP000123"
	cfg.Metrics.Enabled = true
	cfg.Metrics.Path = "/metrics"
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *fakeSender) {
	t.Helper()
	sender := &fakeSender{}
	inbound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	reg := prometheus.NewRegistry()
	metrics.New(reg).ObserveForward("accepted")
	return New(cfg, sender, inbound, reg, nil), sender
}

func decodeOutcome(t *testing.T, rec *httptest.ResponseRecorder) outbound.Outcome {
	t.Helper()
	var out outbound.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), "POP000123")
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "peppol_ap_inbound_forwards_total")
}

func TestMetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = false
	srv, _ := newTestServer(t, cfg)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInboundRoute(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/as4", strings.NewReader("x")))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/as4", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSendAS4(t *testing.T) {
	srv, sender := newTestServer(t, testConfig())

	target := "/sendas4/9908:111/9908:222/" +
		"urn:oasis:names:specification:ubl:schema:xsd:Invoice-2::Invoice%23%23urn:cen.eu:en16931:2017::2.1" +
		"/urn:fdc:peppol.eu:2017:poacc:billing:01:1.0/NO"
	payload := `<Invoice xmlns="urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"><ID>1</ID></Invoice>`

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, target, strings.NewReader(payload)))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	req := sender.last()
	require.NotNil(t, req)
	assert.False(t, req.IsPrebuilt())
	assert.Equal(t, "9908:111", req.SenderID)
	assert.Equal(t, "9908:222", req.ReceiverID)
	assert.Equal(t, "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2::Invoice##urn:cen.eu:en16931:2017::2.1", req.DocTypeID)
	assert.Equal(t, "urn:fdc:peppol.eu:2017:poacc:billing:01:1.0", req.ProcessID)
	assert.Equal(t, "NO", req.CountryC1)
	assert.Equal(t, payload, string(req.Payload))

	out := decodeOutcome(t, rec)
	assert.Equal(t, "9908:222", out.ReceiverID)
	assert.True(t, out.OverallSuccess)
}

func TestSendAS4EmptyBody(t *testing.T) {
	srv, sender := newTestServer(t, testConfig())

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sendas4/a/b/c/d/NO", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, sender.last())
}

func TestSendSBDH(t *testing.T) {
	srv, sender := newTestServer(t, testConfig())

	r := peppolid.DefaultResolver()
	from, err := r.Participant("9908:111")
	require.NoError(t, err)
	to, err := r.Participant("9908:222")
	require.NoError(t, err)
	docType, err := r.DocumentType("doctype-A")
	require.NoError(t, err)
	process, err := r.Process("proc-B")
	require.NoError(t, err)
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(`<Invoice xmlns="urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"><ID>1</ID></Invoice>`))
	data, err := sbdh.NewData(from, to, docType, process, "NO", doc.Root())
	require.NoError(t, err)
	body, err := sbdh.Build(data)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sendsbdh", strings.NewReader(string(body))))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	req := sender.last()
	require.NotNil(t, req)
	assert.True(t, req.IsPrebuilt())
	assert.Equal(t, "iso6523-actorid-upis::9908:222", req.ReceiverID)

	out := decodeOutcome(t, rec)
	assert.Equal(t, "iso6523-actorid-upis::9908:111", out.SenderID)
}

func TestSendSBDHInvalid(t *testing.T) {
	srv, sender := newTestServer(t, testConfig())

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sendsbdh", strings.NewReader("<NotSBDH/>")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid SBDH")
	assert.Nil(t, sender.last())
}

func TestSendRequiresToken(t *testing.T) {
	cfg := testConfig()
	cfg.API.RequiredToken = "s3cret"
	srv, sender := newTestServer(t, cfg)

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "nope", http.StatusUnauthorized},
		{"valid", "s3cret", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/sendsbdh", strings.NewReader("<x/>"))
			if tt.token != "" {
				req.Header.Set(HeaderToken, tt.token)
			}
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
	assert.Nil(t, sender.last())

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSendRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.API.RateLimit = 0.001
	cfg.API.Burst = 1
	srv, _ := newTestServer(t, cfg)

	first := httptest.NewRecorder()
	srv.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/sendsbdh", strings.NewReader("<x/>")))
	assert.Equal(t, http.StatusBadRequest, first.Code)

	second := httptest.NewRecorder()
	srv.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/sendsbdh", strings.NewReader("<x/>")))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))
}

func TestPathParam(t *testing.T) {
	srv, sender := newTestServer(t, testConfig())

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sendas4/a/b/c%2Fd/e/NO", strings.NewReader("<x/>")))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "c/d", sender.last().DocTypeID)
}
