package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

// Recommended TLS 1.2 cipher suites for AS4
var RecommendedTLS12CipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
}

// DefaultUserAgent is sent when ClientSettings.UserAgent is empty
const DefaultUserAgent = "go-peppol-ap/1.0"

// maxResponseSize bounds the response body read by Post
const maxResponseSize = 20 << 20

// ClientSettings configures an outbound HTTP client
type ClientSettings struct {
	ProxyURL        string
	ConnectTimeout  time.Duration
	RequestTimeout  time.Duration
	IdleConnTimeout time.Duration
	MinTLSVersion   uint16
	RootCAs         *x509.CertPool
	UserAgent       string
}

// DefaultClientSettings returns settings with conservative timeouts
func DefaultClientSettings() *ClientSettings {
	return &ClientSettings{
		ConnectTimeout:  5 * time.Second,
		RequestTimeout:  60 * time.Second,
		IdleConnTimeout: 90 * time.Second,
		MinTLSVersion:   tls.VersionTLS12,
		UserAgent:       DefaultUserAgent,
	}
}

// NewClient creates an HTTP client from settings; nil settings use the defaults
func NewClient(s *ClientSettings) (*http.Client, error) {
	if s == nil {
		s = DefaultClientSettings()
	}
	minTLS := s.MinTLSVersion
	if minTLS == 0 {
		minTLS = tls.VersionTLS12
	}

	proxy := http.ProxyFromEnvironment
	if s.ProxyURL != "" {
		u, err := url.Parse(s.ProxyURL)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy URL %q", s.ProxyURL)
		}
		proxy = http.ProxyURL(u)
	}

	dialer := &net.Dialer{Timeout: s.ConnectTimeout, KeepAlive: 30 * time.Second}
	tr := &http.Transport{
		Proxy:       proxy,
		DialContext: dialer.DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion:   minTLS,
			CipherSuites: RecommendedTLS12CipherSuites,
			RootCAs:      s.RootCAs,
		},
		TLSHandshakeTimeout: s.ConnectTimeout,
		IdleConnTimeout:     s.IdleConnTimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
	}

	return &http.Client{Transport: userAgent{next: tr, agent: s.UserAgent}, Timeout: s.RequestTimeout}, nil
}

type userAgent struct {
	next  http.RoundTripper
	agent string
}

func (u userAgent) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		agent := u.agent
		if agent == "" {
			agent = DefaultUserAgent
		}
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", agent)
	}
	return u.next.RoundTrip(req)
}

// Response is a fully read HTTP response
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Post sends body to endpoint and reads the response regardless of status
func Post(ctx context.Context, client *http.Client, endpoint, contentType string, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        data,
	}, nil
}
