package directory

import (
	"context"
	"crypto/x509"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-peppol-ap/pkg/peppolid"
)

// Options configures a directory Client
type Options struct {
	Environment Environment
	// SMPURL, when set, bypasses the SML lookup
	SMPURL string
	// SecureValidation rejects unsigned SMP responses and verifies signatures
	SecureValidation bool
	// SignatureVerifier defaults to XMLDSigVerifier
	SignatureVerifier SignatureVerifier
	// DNSServer is the resolver used for SML queries ("host:port")
	DNSServer string
	// HTTPClient is used for SMP queries; it carries the proxy and timeouts
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Resolution is the outcome of a successful lookup
type Resolution struct {
	SMPURL           string
	EndpointURL      string
	TransportProfile string
	Certificate      *x509.Certificate
}

// Client resolves receiver endpoints through SML and SMP
type Client struct {
	sml    *SMLClient
	smp    *SMPClient
	smpURL string
	logger *zap.Logger
	now    func() time.Time
}

// New creates a directory client
func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	smp := NewSMPClient(opts.HTTPClient, opts.SecureValidation)
	if opts.SignatureVerifier != nil {
		smp.verifier = opts.SignatureVerifier
	}
	return &Client{
		sml:    NewSMLClient(opts.Environment.Zone(), opts.DNSServer),
		smp:    smp,
		smpURL: opts.SMPURL,
		logger: logger.Named("directory"),
		now:    time.Now,
	}
}

// Lookup resolves the AS4 endpoint and certificate of receiver for docType and process
func (c *Client) Lookup(ctx context.Context, receiver, docType, process peppolid.Identifier) (*Resolution, error) {
	smpURL := c.smpURL
	if smpURL == "" {
		var err error
		smpURL, err = c.sml.DiscoverSMP(ctx, receiver)
		if err != nil {
			return nil, fmt.Errorf("SML lookup failed: %w", err)
		}
	}

	log := c.logger.With(
		zap.String("receiver", receiver.URIEncoded()),
		zap.String("smp_url", smpURL))

	md, err := c.smp.GetServiceMetadata(ctx, smpURL, receiver, docType)
	if err != nil {
		return nil, fmt.Errorf("SMP lookup failed: %w", err)
	}
	ep, err := md.FindEndpoint(process, TransportPeppolAS4, c.now())
	if err != nil {
		return nil, err
	}
	cert, err := ParseCertificate(ep.Certificate)
	if err != nil {
		return nil, err
	}

	log.Debug("endpoint resolved",
		zap.String("endpoint", ep.EndpointURL),
		zap.String("certificate_subject", cert.Subject.String()))

	return &Resolution{
		SMPURL:           smpURL,
		EndpointURL:      ep.EndpointURL,
		TransportProfile: ep.TransportProfile,
		Certificate:      cert,
	}, nil
}
