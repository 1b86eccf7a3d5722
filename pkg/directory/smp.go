package directory

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/leifj/signedxml"

	"github.com/sirosfoundation/go-peppol-ap/pkg/peppolid"
)

// TransportPeppolAS4 is the Peppol AS4 v2 transport profile
const TransportPeppolAS4 = "peppol-transport-as4-v2_0"

// maxRedirects bounds SMP Redirect hops
const maxRedirects = 1

var (
	// ErrParticipantNotFound is returned when the SMP does not know the participant or document type
	ErrParticipantNotFound = errors.New("participant not found in SMP")
	// ErrNoEndpoint is returned when no active AS4 endpoint matches the process
	ErrNoEndpoint = errors.New("no matching AS4 endpoint")
	// ErrUnsignedResponse is returned when secure validation requires a signed SMP response
	ErrUnsignedResponse = errors.New("SMP response is not signed")
	// ErrInvalidSignature is returned when the SMP response signature does not verify
	ErrInvalidSignature = errors.New("SMP response signature is invalid")
	// ErrInvalidCertificate is returned when the endpoint certificate cannot be decoded
	ErrInvalidCertificate = errors.New("invalid endpoint certificate")
)

// Endpoint is a service endpoint registered in the SMP
type Endpoint struct {
	TransportProfile    string
	EndpointURL         string
	Certificate         string
	ActivationDate      *time.Time
	ExpirationDate      *time.Time
	TechnicalContactURL string
	Description         string
}

// Active reports whether the endpoint is active at t
func (e Endpoint) Active(t time.Time) bool {
	if e.ActivationDate != nil && e.ActivationDate.After(t) {
		return false
	}
	if e.ExpirationDate != nil && e.ExpirationDate.Before(t) {
		return false
	}
	return true
}

// Process lists the endpoints registered for one process
type Process struct {
	Scheme    string
	Value     string
	Endpoints []Endpoint
}

// ServiceMetadata is the parsed SMP answer for a participant and document type
type ServiceMetadata struct {
	Processes []Process
	Signed    bool
	// RedirectURL is set when the SMP delegates to another SMP
	RedirectURL string
}

// SignatureVerifier checks the XML signature of a signed SMP response
type SignatureVerifier interface {
	Verify(doc []byte) error
}

// XMLDSigVerifier verifies the enveloped XMLDSig signature of SMP responses.
// Without Certificates the certificate embedded in KeyInfo is used.
type XMLDSigVerifier struct {
	Certificates []x509.Certificate
}

// Verify implements SignatureVerifier
func (v XMLDSigVerifier) Verify(doc []byte) error {
	validator, err := signedxml.NewValidator(string(doc))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	validator.Certificates = append(validator.Certificates, v.Certificates...)
	if _, err := validator.ValidateReferences(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// SMPClient queries Peppol SMP 1.x servers
type SMPClient struct {
	httpClient       *http.Client
	secureValidation bool
	verifier         SignatureVerifier
}

// NewSMPClient creates an SMP client. When secureValidation is set, unsigned
// ServiceMetadata responses are rejected and signatures are verified.
func NewSMPClient(httpClient *http.Client, secureValidation bool) *SMPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &SMPClient{
		httpClient:       httpClient,
		secureValidation: secureValidation,
		verifier:         XMLDSigVerifier{},
	}
}

// ServiceMetadataURL returns the SMP URL of a participant's document type metadata
func ServiceMetadataURL(smpURL string, participant, docType peppolid.Identifier) string {
	base := strings.TrimRight(smpURL, "/")
	return fmt.Sprintf("%s/%s/services/%s", base,
		url.PathEscape(participant.URIEncoded()), url.PathEscape(docType.URIEncoded()))
}

// GetServiceMetadata fetches and parses the ServiceMetadata, following one redirect
func (c *SMPClient) GetServiceMetadata(ctx context.Context, smpURL string, participant, docType peppolid.Identifier) (*ServiceMetadata, error) {
	reqURL := ServiceMetadataURL(smpURL, participant, docType)
	for hop := 0; ; hop++ {
		body, err := c.doRequest(ctx, reqURL)
		if err != nil {
			return nil, err
		}
		md, err := parseServiceMetadata(body)
		if err != nil {
			return nil, err
		}
		if c.secureValidation {
			if !md.Signed {
				return nil, fmt.Errorf("%w: %s", ErrUnsignedResponse, reqURL)
			}
			if err := c.verifier.Verify(body); err != nil {
				return nil, fmt.Errorf("%s: %w", reqURL, err)
			}
		}
		if md.RedirectURL == "" {
			return md, nil
		}
		if hop >= maxRedirects {
			return nil, fmt.Errorf("too many SMP redirects at %s", reqURL)
		}
		reqURL = md.RedirectURL
	}
}

func (c *SMPClient) doRequest(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("SMP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrParticipantNotFound, reqURL)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("SMP returned status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 10<<20))
}

type smpIdentifier struct {
	Value  string `xml:",chardata"`
	Scheme string `xml:"scheme,attr"`
}

type smpSignedServiceMetadata struct {
	XMLName         xml.Name `xml:"SignedServiceMetadata"`
	ServiceMetadata struct {
		Redirect *struct {
			Href string `xml:"href,attr"`
		} `xml:"Redirect"`
		ServiceInformation struct {
			ProcessList struct {
				Processes []struct {
					ProcessIdentifier   smpIdentifier `xml:"ProcessIdentifier"`
					ServiceEndpointList struct {
						Endpoints []struct {
							TransportProfile      string `xml:"transportProfile,attr"`
							Address               string `xml:"EndpointReference>Address"`
							EndpointURI           string `xml:"EndpointURI"`
							Certificate           string `xml:"Certificate"`
							ServiceActivationDate string `xml:"ServiceActivationDate"`
							ServiceExpirationDate string `xml:"ServiceExpirationDate"`
							TechnicalContactURL   string `xml:"TechnicalContactUrl"`
							ServiceDescription    string `xml:"ServiceDescription"`
						} `xml:"Endpoint"`
					} `xml:"ServiceEndpointList"`
				} `xml:"Process"`
			} `xml:"ProcessList"`
		} `xml:"ServiceInformation"`
	} `xml:"ServiceMetadata"`
	Signature *struct{} `xml:"Signature"`
}

func parseServiceMetadata(data []byte) (*ServiceMetadata, error) {
	var ssm smpSignedServiceMetadata
	if err := xml.Unmarshal(data, &ssm); err != nil {
		return nil, fmt.Errorf("failed to parse ServiceMetadata: %w", err)
	}

	md := &ServiceMetadata{Signed: ssm.Signature != nil}
	if r := ssm.ServiceMetadata.Redirect; r != nil {
		md.RedirectURL = strings.TrimSpace(r.Href)
		return md, nil
	}

	for _, p := range ssm.ServiceMetadata.ServiceInformation.ProcessList.Processes {
		proc := Process{
			Scheme: strings.TrimSpace(p.ProcessIdentifier.Scheme),
			Value:  strings.TrimSpace(p.ProcessIdentifier.Value),
		}
		for _, ep := range p.ServiceEndpointList.Endpoints {
			address := strings.TrimSpace(ep.Address)
			if address == "" {
				address = strings.TrimSpace(ep.EndpointURI)
			}
			proc.Endpoints = append(proc.Endpoints, Endpoint{
				TransportProfile:    ep.TransportProfile,
				EndpointURL:         address,
				Certificate:         strings.TrimSpace(ep.Certificate),
				ActivationDate:      parseDate(ep.ServiceActivationDate),
				ExpirationDate:      parseDate(ep.ServiceExpirationDate),
				TechnicalContactURL: strings.TrimSpace(ep.TechnicalContactURL),
				Description:         strings.TrimSpace(ep.ServiceDescription),
			})
		}
		md.Processes = append(md.Processes, proc)
	}
	return md, nil
}

// FindEndpoint selects the active endpoint for a process and transport profile
func (md *ServiceMetadata) FindEndpoint(process peppolid.Identifier, transportProfile string, at time.Time) (*Endpoint, error) {
	for _, p := range md.Processes {
		if p.Value != process.Value || (p.Scheme != "" && p.Scheme != process.Scheme) {
			continue
		}
		for _, ep := range p.Endpoints {
			if ep.TransportProfile == transportProfile && ep.Active(at) {
				return &ep, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: process %s, transport %s", ErrNoEndpoint, process.URIEncoded(), transportProfile)
}

// ParseCertificate decodes the Base64 DER (or PEM) endpoint certificate
func ParseCertificate(encoded string) (*x509.Certificate, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidCertificate)
	}
	var der []byte
	if block, _ := pem.Decode([]byte(encoded)); block != nil {
		der = block.Bytes
	} else {
		clean := strings.Map(func(r rune) rune {
			if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
				return -1
			}
			return r
		}, encoded)
		var err error
		if der, err = base64.StdEncoding.DecodeString(clean); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
		}
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	return cert, nil
}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02Z07:00", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
