package directory

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-peppol-ap/pkg/peppolid"
)

type acceptSignature struct{}

func (acceptSignature) Verify([]byte) error { return nil }

type rejectSignature struct{}

func (rejectSignature) Verify([]byte) error { return ErrInvalidSignature }

const (
	testDocType = "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2::Invoice##urn:cen.eu:en16931:2017::2.1"
	testProcess = "urn:fdc:peppol.eu:2017:poacc:billing:01:1.0"
)

func testIDs(t *testing.T) (receiver, docType, process peppolid.Identifier) {
	t.Helper()
	r := peppolid.DefaultResolver()
	var err error
	receiver, err = r.Participant("0088:5798000000001")
	require.NoError(t, err)
	docType, err = r.DocumentType(testDocType)
	require.NoError(t, err)
	process, err = r.Process(testProcess)
	require.NoError(t, err)
	return
}

func testCertificate(t *testing.T) (*x509.Certificate, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(7),
		Subject:      pkix.Name{CommonName: "POP000042"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert, base64.StdEncoding.EncodeToString(der)
}

func metadataXML(process, endpoint, cert string, signed bool) string {
	sig := ""
	if signed {
		sig = `<ds:Signature xmlns:ds="http://www.w3.org/2000/09/xmldsig#"><ds:SignedInfo/></ds:Signature>`
	}
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<SignedServiceMetadata xmlns="http://busdox.org/serviceMetadata/publishing/1.0/" xmlns:ids="http://busdox.org/transport/identifiers/1.0/" xmlns:wsa="http://www.w3.org/2005/08/addressing">
  <ServiceMetadata>
    <ServiceInformation>
      <ids:ParticipantIdentifier scheme="iso6523-actorid-upis">0088:5798000000001</ids:ParticipantIdentifier>
      <ids:DocumentIdentifier scheme="busdox-docid-qns">%s</ids:DocumentIdentifier>
      <ProcessList>
        <Process>
          <ids:ProcessIdentifier scheme="cenbii-procid-ubl">%s</ids:ProcessIdentifier>
          <ServiceEndpointList>
            <Endpoint transportProfile="busdox-transport-as2-ver1p0">
              <wsa:EndpointReference><wsa:Address>https://as2.example/</wsa:Address></wsa:EndpointReference>
              <Certificate>%s</Certificate>
            </Endpoint>
            <Endpoint transportProfile="peppol-transport-as4-v2_0">
              <wsa:EndpointReference><wsa:Address>%s</wsa:Address></wsa:EndpointReference>
              <RequireBusinessLevelSignature>false</RequireBusinessLevelSignature>
              <Certificate>%s</Certificate>
              <ServiceDescription>AS4 endpoint</ServiceDescription>
              <TechnicalContactUrl>mailto:ops@ap.example</TechnicalContactUrl>
            </Endpoint>
          </ServiceEndpointList>
        </Process>
      </ProcessList>
    </ServiceInformation>
  </ServiceMetadata>%s
</SignedServiceMetadata>`, testDocType, process, cert, endpoint, cert, sig)
}

func TestServiceMetadataURL(t *testing.T) {
	receiver, docType, _ := testIDs(t)
	got := ServiceMetadataURL("https://smp.example/", receiver, docType)
	assert.True(t, strings.HasPrefix(got, "https://smp.example/iso6523-actorid-upis::0088:5798000000001/services/busdox-docid-qns::"))
	assert.Contains(t, got, "Invoice%23%23urn")
}

func TestLookupFixedSMP(t *testing.T) {
	receiver, docType, process := testIDs(t)
	cert, certB64 := testCertificate(t)

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(metadataXML(testProcess, "https://ap.example/as4", certB64, true)))
	}))
	defer srv.Close()

	c := New(Options{SMPURL: srv.URL, SecureValidation: true, SignatureVerifier: acceptSignature{}})
	res, err := c.Lookup(context.Background(), receiver, docType, process)
	require.NoError(t, err)
	assert.Equal(t, "https://ap.example/as4", res.EndpointURL)
	assert.Equal(t, TransportPeppolAS4, res.TransportProfile)
	assert.Equal(t, srv.URL, res.SMPURL)
	assert.True(t, cert.Equal(res.Certificate))
	assert.Contains(t, gotPath, "/services/")
}

func TestLookupErrors(t *testing.T) {
	receiver, docType, process := testIDs(t)
	_, certB64 := testCertificate(t)

	tests := []struct {
		name    string
		secure  bool
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
			wantErr: ErrParticipantNotFound,
		},
		{
			name:   "unsigned with secure validation",
			secure: true,
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(metadataXML(testProcess, "https://ap.example/as4", certB64, false)))
			},
			wantErr: ErrUnsignedResponse,
		},
		{
			name: "process not registered",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(metadataXML("other-process", "https://ap.example/as4", certB64, true)))
			},
			wantErr: ErrNoEndpoint,
		},
		{
			name: "bad certificate",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(metadataXML(testProcess, "https://ap.example/as4", "bm90IGEgY2VydA==", true)))
			},
			wantErr: ErrInvalidCertificate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := New(Options{SMPURL: srv.URL, SecureValidation: tt.secure, SignatureVerifier: acceptSignature{}})
			_, err := c.Lookup(context.Background(), receiver, docType, process)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLookupSignatureVerification(t *testing.T) {
	receiver, docType, process := testIDs(t)
	_, certB64 := testCertificate(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(metadataXML(testProcess, "https://ap.example/as4", certB64, true)))
	}))
	defer srv.Close()

	c := New(Options{SMPURL: srv.URL, SecureValidation: true, SignatureVerifier: rejectSignature{}})
	_, err := c.Lookup(context.Background(), receiver, docType, process)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	// The default verifier rejects a signature without references
	c = New(Options{SMPURL: srv.URL, SecureValidation: true})
	_, err = c.Lookup(context.Background(), receiver, docType, process)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	c = New(Options{SMPURL: srv.URL, SignatureVerifier: rejectSignature{}})
	_, err = c.Lookup(context.Background(), receiver, docType, process)
	assert.NoError(t, err, "signatures are not checked without secure validation")
}

func TestLookupUnsignedAllowed(t *testing.T) {
	receiver, docType, process := testIDs(t)
	_, certB64 := testCertificate(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(metadataXML(testProcess, "https://ap.example/as4", certB64, false)))
	}))
	defer srv.Close()

	c := New(Options{SMPURL: srv.URL})
	res, err := c.Lookup(context.Background(), receiver, docType, process)
	require.NoError(t, err)
	assert.Equal(t, "https://ap.example/as4", res.EndpointURL)
}

func TestLookupFollowsRedirect(t *testing.T) {
	receiver, docType, process := testIDs(t)
	_, certB64 := testCertificate(t)

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(metadataXML(testProcess, "https://redirected.example/as4", certB64, true)))
	}))
	defer target.Close()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, `<SignedServiceMetadata xmlns="http://busdox.org/serviceMetadata/publishing/1.0/">
<ServiceMetadata><Redirect href="%s/moved"><CertificateUID>CN=x</CertificateUID></Redirect></ServiceMetadata>
<Signature xmlns="http://www.w3.org/2000/09/xmldsig#"/></SignedServiceMetadata>`, target.URL)
	}))
	defer origin.Close()

	c := New(Options{SMPURL: origin.URL, SecureValidation: true, SignatureVerifier: acceptSignature{}})
	res, err := c.Lookup(context.Background(), receiver, docType, process)
	require.NoError(t, err)
	assert.Equal(t, "https://redirected.example/as4", res.EndpointURL)
}

func TestEndpointActive(t *testing.T) {
	now := time.Now()
	past, future := now.Add(-time.Hour), now.Add(time.Hour)

	assert.True(t, Endpoint{}.Active(now))
	assert.False(t, Endpoint{ActivationDate: &future}.Active(now))
	assert.False(t, Endpoint{ExpirationDate: &past}.Active(now))
	assert.True(t, Endpoint{ActivationDate: &past, ExpirationDate: &future}.Active(now))
}

func TestSMLQueryName(t *testing.T) {
	receiver, _, _ := testIDs(t)
	c := NewSMLClient(EnvProduction.Zone(), "")
	assert.Equal(t,
		"REANA6ASZ6H7DLKFRW4FBJGUE7Z74GX3UTA2OIK2P6TAWTASCTOQ.iso6523-actorid-upis.edelivery.tech.ec.europa.eu",
		c.QueryName(receiver))
	assert.Equal(t, ZoneTest, EnvTest.Zone())
}

func TestURLFromRegexp(t *testing.T) {
	got, err := urlFromRegexp("!^.*$!https://smp.example/!")
	require.NoError(t, err)
	assert.Equal(t, "https://smp.example/", got)

	for _, bad := range []string{"", "!.*!", "!.*!ftp://smp!"} {
		_, err := urlFromRegexp(bad)
		assert.ErrorIs(t, err, ErrInvalidNAPTRRecord, bad)
	}
}

// startDNS serves NAPTR answers for a single name on a local UDP port
func startDNS(t *testing.T, name string, records ...string) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	mux := dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		if strings.EqualFold(req.Question[0].Name, dns.Fqdn(name)) {
			for _, rec := range records {
				rr, err := dns.NewRR(dns.Fqdn(name) + " 60 IN NAPTR " + rec)
				if err == nil {
					m.Answer = append(m.Answer, rr)
				}
			}
		} else {
			m.Rcode = dns.RcodeNameError
		}
		_ = w.WriteMsg(m)
	})

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: mux, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String()
}

func TestSMLDiscover(t *testing.T) {
	receiver, docType, process := testIDs(t)
	zone := "sml.test"
	sml := NewSMLClient(zone, "")
	name := sml.QueryName(receiver)

	_, certB64 := testCertificate(t)
	smp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(metadataXML(testProcess, "https://ap.example/as4", certB64, true)))
	}))
	defer smp.Close()

	addr := startDNS(t, name,
		`200 10 "U" "Meta:SMP" "!.*!https://lower-priority.example/!" .`,
		`100 10 "U" "Meta:SMP" "!.*!`+smp.URL+`!" .`,
		`50 10 "U" "other:svc" "!.*!https://ignored.example/!" .`,
	)

	got, err := NewSMLClient(zone, addr).DiscoverSMP(context.Background(), receiver)
	require.NoError(t, err)
	assert.Equal(t, smp.URL, got)

	client := &Client{
		sml:    NewSMLClient(zone, addr),
		smp:    NewSMPClient(nil, true),
		logger: New(Options{}).logger,
		now:    time.Now,
	}
	res, err := client.Lookup(context.Background(), receiver, docType, process)
	require.NoError(t, err)
	assert.Equal(t, smp.URL, res.SMPURL)

	other, err := peppolid.DefaultResolver().Participant("0088:0000000000000")
	require.NoError(t, err)
	_, err = NewSMLClient(zone, addr).DiscoverSMP(context.Background(), other)
	assert.ErrorIs(t, err, ErrNoRecordsFound)
}
