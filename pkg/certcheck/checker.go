package certcheck

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ocsp"
)

// Result is the outcome of a certificate check
type Result string

const (
	Valid             Result = "VALID"
	NoCertificate     Result = "NO_CERTIFICATE_PROVIDED"
	NotYetValid       Result = "NOT_YET_VALID"
	Expired           Result = "EXPIRED"
	UnsupportedIssuer Result = "UNSUPPORTED_ISSUER"
	Revoked           Result = "REVOKED"
)

// IsValid reports whether the result allows sending
func (r Result) IsValid() bool {
	return r == Valid
}

var (
	// ErrRevoked is returned by the OCSP lookup for revoked certificates
	ErrRevoked = errors.New("certificate has been revoked")
	// ErrNoOCSPServer is returned when the certificate names no OCSP responder
	ErrNoOCSPServer = errors.New("no OCSP server URL in certificate")
)

// Options configures a Checker
type Options struct {
	// Roots are the accepted Peppol AP CAs; nil disables chain validation
	Roots         *x509.CertPool
	Intermediates *x509.CertPool

	// OCSP enables revocation checking against the certificate's responder
	OCSP bool
	// StrictRevocation reports REVOKED when the OCSP status cannot be determined
	StrictRevocation bool
	HTTPClient       *http.Client
	CacheTTL         time.Duration

	Logger *zap.Logger
}

// Checker validates access point certificates
type Checker struct {
	opts   Options
	client *http.Client
	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	err     error
	expires time.Time
}

// New creates a Checker
func New(opts Options) *Checker {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = time.Hour
	}
	return &Checker{
		opts:   opts,
		client: client,
		logger: logger.Named("certcheck"),
		cache:  make(map[string]cacheEntry),
	}
}

// Check evaluates cert at the given time
func (c *Checker) Check(ctx context.Context, cert *x509.Certificate, at time.Time) Result {
	if cert == nil {
		return NoCertificate
	}
	if at.Before(cert.NotBefore) {
		return NotYetValid
	}
	if at.After(cert.NotAfter) {
		return Expired
	}

	var issuer *x509.Certificate
	if c.opts.Roots != nil {
		chains, err := cert.Verify(x509.VerifyOptions{
			Roots:         c.opts.Roots,
			Intermediates: c.opts.Intermediates,
			CurrentTime:   at,
			KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
		})
		if err != nil {
			c.logger.Warn("certificate chain not accepted",
				zap.String("subject", cert.Subject.String()),
				zap.String("issuer", cert.Issuer.String()),
				zap.Error(err))
			return UnsupportedIssuer
		}
		if len(chains) > 0 && len(chains[0]) > 1 {
			issuer = chains[0][1]
		}
	}

	if c.opts.OCSP {
		if issuer == nil {
			c.logger.Warn("skipping OCSP check, issuer unknown", zap.String("subject", cert.Subject.String()))
			if c.opts.StrictRevocation {
				return Revoked
			}
			return Valid
		}
		err := c.revocation(ctx, cert, issuer)
		switch {
		case err == nil:
		case errors.Is(err, ErrRevoked):
			return Revoked
		default:
			c.logger.Warn("OCSP status undetermined", zap.String("subject", cert.Subject.String()), zap.Error(err))
			if c.opts.StrictRevocation {
				return Revoked
			}
		}
	}
	return Valid
}

func (c *Checker) revocation(ctx context.Context, cert, issuer *x509.Certificate) error {
	key := issuer.Subject.String() + "/" + cert.SerialNumber.String()
	now := time.Now()

	c.mu.Lock()
	if e, ok := c.cache[key]; ok && now.Before(e.expires) {
		c.mu.Unlock()
		return e.err
	}
	c.mu.Unlock()

	err := c.queryOCSP(ctx, cert, issuer)
	if err == nil || errors.Is(err, ErrRevoked) {
		c.mu.Lock()
		c.cache[key] = cacheEntry{err: err, expires: now.Add(c.opts.CacheTTL)}
		c.mu.Unlock()
	}
	return err
}

func (c *Checker) queryOCSP(ctx context.Context, cert, issuer *x509.Certificate) error {
	if len(cert.OCSPServer) == 0 {
		return ErrNoOCSPServer
	}
	req, err := ocsp.CreateRequest(cert, issuer, &ocsp.RequestOptions{Hash: crypto.SHA256})
	if err != nil {
		return fmt.Errorf("creating OCSP request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cert.OCSPServer[0], bytes.NewReader(req))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/ocsp-request")
	httpReq.Header.Set("Accept", "application/ocsp-response")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("OCSP request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("OCSP server returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading OCSP response: %w", err)
	}

	parsed, err := ocsp.ParseResponseForCert(body, cert, issuer)
	if err != nil {
		return fmt.Errorf("parsing OCSP response: %w", err)
	}
	switch parsed.Status {
	case ocsp.Good:
		return nil
	case ocsp.Revoked:
		return ErrRevoked
	default:
		return fmt.Errorf("OCSP status unknown")
	}
}

// LoadPool reads a PEM bundle into a certificate pool
func LoadPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trust store: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}

// EncodePEM returns the PEM encoding of cert, or "" for nil
func EncodePEM(cert *x509.Certificate) string {
	if cert == nil {
		return ""
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}))
}

// CommonName returns the subject CN of cert, or "" for nil
func CommonName(cert *x509.Certificate) string {
	if cert == nil {
		return ""
	}
	return cert.Subject.CommonName
}
