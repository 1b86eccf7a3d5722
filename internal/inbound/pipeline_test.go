package inbound

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-peppol-ap/internal/as4"
	"github.com/sirosfoundation/go-peppol-ap/internal/metrics"
	"github.com/sirosfoundation/go-peppol-ap/internal/reporting"
	"github.com/sirosfoundation/go-peppol-ap/pkg/peppolid"
	"github.com/sirosfoundation/go-peppol-ap/pkg/sbdh"
)

type downstream struct {
	*httptest.Server
	status int
	delay  time.Duration
	calls  atomic.Int32
	last   atomic.Pointer[http.Request]
	body   atomic.Pointer[Document]
}

func newDownstream(t *testing.T, status int) *downstream {
	d := &downstream{status: status}
	d.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.calls.Add(1)
		d.last.Store(r)
		raw, _ := io.ReadAll(r.Body)
		var doc Document
		if err := json.Unmarshal(raw, &doc); err == nil {
			d.body.Store(&doc)
		}
		if d.delay > 0 {
			select {
			case <-time.After(d.delay):
			case <-r.Context().Done():
				return
			}
		}
		w.WriteHeader(d.status)
		_, _ = w.Write([]byte("downstream says " + http.StatusText(d.status)))
	}))
	t.Cleanup(d.Close)
	return d
}

func incoming(t *testing.T, country string) *as4.IncomingMessage {
	t.Helper()
	r := peppolid.DefaultResolver()
	sender, _ := r.Participant("9908:111")
	receiver, _ := r.Participant("9908:222")
	docType, _ := r.DocumentType("doctype-A")
	process, _ := r.Process("proc-1")
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(`<Invoice xmlns="urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"><ID>7</ID></Invoice>`))
	data, err := sbdh.NewData(sender, receiver, docType, process, country, doc.Root())
	require.NoError(t, err)

	return &as4.IncomingMessage{
		MessageID:      "msg-in-1",
		ConversationID: "conv-1",
		FromParty:      "POP000001",
		ToParty:        "POP000002",
		ReceivedAt:     time.Date(2025, 5, 6, 7, 8, 9, 0, time.UTC),
		SBDH:           data,
	}
}

type failingBackend struct{ calls atomic.Int32 }

func (f *failingBackend) Store(context.Context, reporting.Item) error {
	f.calls.Add(1)
	return errors.New("reporting backend down")
}

func (f *failingBackend) Close(context.Context) error { return nil }

func newPipeline(t *testing.T, d *downstream, backend reporting.Backend, m *metrics.Metrics) (*Pipeline, *reporting.Submitter) {
	t.Helper()
	sub := reporting.NewSubmitter(backend, reporting.Options{Workers: 1, MaxAttempts: 2, RetryDelay: time.Millisecond})
	sub.Start(context.Background())
	p := NewPipeline(Options{
		Forwarder: NewHTTPForwarder(HTTPForwarderConfig{
			BaseURL: d.URL,
			Secret:  "s3cret",
			Timeout: time.Second,
			Metrics: m,
		}),
		Submitter:   sub,
		SeatID:      "POP000002",
		CountryCode: "NO",
		Metrics:     m,
	})
	return p, sub
}

func TestHandleForwardsAndReports(t *testing.T) {
	d := newDownstream(t, http.StatusOK)
	backend := reporting.NewMemoryBackend()
	m := metrics.New(prometheus.NewRegistry())
	p, sub := newPipeline(t, d, backend, m)

	result := p.Handle(context.Background(), incoming(t, "DE"))
	require.True(t, result.IsAccepted(), result.String())

	req := d.last.Load()
	require.NotNil(t, req)
	assert.Equal(t, ReceiveDocumentPath, req.URL.Path)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, "s3cret", req.Header.Get(HeaderInternalToken))

	doc := d.body.Load()
	require.NotNil(t, doc)
	assert.Equal(t, "iso6523-actorid-upis::9908:111", doc.SenderID)
	assert.Equal(t, "iso6523-actorid-upis::9908:222", doc.ReceiverID)
	assert.Equal(t, "busdox-docid-qns::doctype-A", doc.DocTypeID)
	assert.Equal(t, "cenbii-procid-ubl::proc-1", doc.ProcessID)
	assert.Equal(t, "DE", doc.CountryC1)
	assert.Contains(t, doc.Body, "<ID>7</ID>")

	require.NoError(t, sub.Stop(context.Background()))
	items := backend.Items()
	require.Len(t, items, 1)
	item := items[0]
	assert.Equal(t, reporting.DirectionReceiving, item.Direction)
	assert.Equal(t, "POP000001", item.C2ID)
	assert.Equal(t, "POP000002", item.C3ID)
	assert.Equal(t, "DE", item.C1CountryCode)
	assert.Equal(t, "NO", item.C4CountryCode)
	assert.Equal(t, "iso6523-actorid-upis::9908:222", item.EndUserID)
	assert.Equal(t, "msg-in-1", item.AS4MessageID)
	assert.Equal(t, "conv-1", item.AS4ConversationID)
	assert.Equal(t, reporting.TransportProtocolAS4, item.TransportProtocol)
	assert.True(t, item.ExchangeDateTime.Equal(time.Date(2025, 5, 6, 7, 8, 9, 0, time.UTC)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InboundForwards.WithLabelValues("accepted")))
}

func TestHandleDownstreamFailureIsRejected(t *testing.T) {
	for _, status := range []int{http.StatusInternalServerError, http.StatusBadRequest, http.StatusAccepted, http.StatusNoContent} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			d := newDownstream(t, status)
			backend := reporting.NewMemoryBackend()
			p, sub := newPipeline(t, d, backend, nil)

			result := p.Handle(context.Background(), incoming(t, "DE"))
			assert.False(t, result.IsAccepted())
			assert.Contains(t, result.Reason(), "HTTP")

			require.NoError(t, sub.Stop(context.Background()))
			assert.Zero(t, backend.Len())
		})
	}
}

func TestHandleReportingFailureDoesNotChangeResult(t *testing.T) {
	d := newDownstream(t, http.StatusOK)
	backend := &failingBackend{}
	p, sub := newPipeline(t, d, backend, nil)

	result := p.Handle(context.Background(), incoming(t, "DE"))
	assert.True(t, result.IsAccepted())

	require.NoError(t, sub.Stop(context.Background()))
	assert.Equal(t, int32(2), backend.calls.Load())
}

func TestHandleNetworkFailures(t *testing.T) {
	t.Run("unreachable", func(t *testing.T) {
		d := newDownstream(t, http.StatusOK)
		d.Close()
		p, sub := newPipeline(t, d, reporting.NewMemoryBackend(), nil)
		defer sub.Stop(context.Background())

		result := p.Handle(context.Background(), incoming(t, "DE"))
		assert.False(t, result.IsAccepted())
	})

	t.Run("timeout", func(t *testing.T) {
		d := newDownstream(t, http.StatusOK)
		d.delay = time.Second
		backend := reporting.NewMemoryBackend()
		sub := reporting.NewSubmitter(backend, reporting.Options{})
		sub.Start(context.Background())
		p := NewPipeline(Options{
			Forwarder: NewHTTPForwarder(HTTPForwarderConfig{BaseURL: d.URL, Secret: "x", Timeout: 20 * time.Millisecond}),
			Submitter: sub,
		})

		start := time.Now()
		result := p.Handle(context.Background(), incoming(t, "DE"))
		assert.False(t, result.IsAccepted())
		assert.Less(t, time.Since(start), 500*time.Millisecond)
		require.NoError(t, sub.Stop(context.Background()))
		assert.Zero(t, backend.Len())
	})
}

func TestHandleCircuitBreaker(t *testing.T) {
	d := newDownstream(t, http.StatusServiceUnavailable)
	m := metrics.New(prometheus.NewRegistry())
	p := NewPipeline(Options{
		Forwarder: NewHTTPForwarder(HTTPForwarderConfig{
			BaseURL: d.URL,
			Secret:  "x",
			Breaker: BreakerSettings{ConsecutiveFailures: 2, Timeout: time.Minute},
			Metrics: m,
		}),
		Metrics: m,
	})

	for i := 0; i < 4; i++ {
		assert.False(t, p.Handle(context.Background(), incoming(t, "DE")).IsAccepted())
	}
	assert.Equal(t, int32(2), d.calls.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.InboundForwards.WithLabelValues("breaker_open")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BreakerState))
}

func TestHandleWithoutSBDH(t *testing.T) {
	p := NewPipeline(Options{Forwarder: NewHTTPForwarder(HTTPForwarderConfig{BaseURL: "http://127.0.0.1:1"})})
	assert.False(t, p.Handle(context.Background(), &as4.IncomingMessage{MessageID: "x"}).IsAccepted())
	assert.False(t, p.Handle(context.Background(), nil).IsAccepted())
}

func TestHandleWithoutForwarder(t *testing.T) {
	p := NewPipeline(Options{})
	result := p.Handle(context.Background(), incoming(t, "DE"))
	assert.False(t, result.IsAccepted())
}

func TestHandleForwardsBodyWithInheritedNamespaces(t *testing.T) {
	const (
		invoiceNS = "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"
		cbcNS     = "urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2"
	)
	raw := `<sh:StandardBusinessDocument xmlns:sh="` + sbdh.Namespace + `" xmlns:inv="` + invoiceNS + `" xmlns:cbc="` + cbcNS + `">
<sh:StandardBusinessDocumentHeader>
<sh:Sender><sh:Identifier Authority="iso6523-actorid-upis">9908:111</sh:Identifier></sh:Sender>
<sh:Receiver><sh:Identifier Authority="iso6523-actorid-upis">9908:222</sh:Identifier></sh:Receiver>
<sh:BusinessScope>
<sh:Scope><sh:Type>DOCUMENTID</sh:Type><sh:InstanceIdentifier>doctype-A</sh:InstanceIdentifier><sh:Identifier>busdox-docid-qns</sh:Identifier></sh:Scope>
<sh:Scope><sh:Type>PROCESSID</sh:Type><sh:InstanceIdentifier>proc-1</sh:InstanceIdentifier><sh:Identifier>cenbii-procid-ubl</sh:Identifier></sh:Scope>
<sh:Scope><sh:Type>COUNTRY_C1</sh:Type><sh:InstanceIdentifier>SE</sh:InstanceIdentifier></sh:Scope>
</sh:BusinessScope>
</sh:StandardBusinessDocumentHeader>
<inv:Invoice><cbc:ID>7</cbc:ID></inv:Invoice>
</sh:StandardBusinessDocument>`
	data, err := sbdh.Parse([]byte(raw))
	require.NoError(t, err)

	msg := incoming(t, "SE")
	msg.SBDH = data

	d := newDownstream(t, http.StatusOK)
	p, sub := newPipeline(t, d, reporting.NewMemoryBackend(), nil)
	defer func() { _ = sub.Stop(context.Background()) }()

	result := p.Handle(context.Background(), msg)
	require.True(t, result.IsAccepted(), result.String())

	fwd := d.body.Load()
	require.NotNil(t, fwd)
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(fwd.Body))
	root := doc.Root()
	require.NotNil(t, root)
	assert.Equal(t, "Invoice", root.Tag)
	assert.Equal(t, invoiceNS, root.NamespaceURI())
	id := root.SelectElement("ID")
	require.NotNil(t, id)
	assert.Equal(t, cbcNS, id.NamespaceURI())
	assert.Equal(t, "7", id.Text())
}
