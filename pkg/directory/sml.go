package directory

import (
	"context"
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/miekg/dns"

	"github.com/sirosfoundation/go-peppol-ap/pkg/peppolid"
)

// Environment selects the SML zone
type Environment string

const (
	EnvProduction Environment = "production"
	EnvTest       Environment = "test"
)

// SML DNS zones of the Peppol network
const (
	ZoneProduction = "edelivery.tech.ec.europa.eu"
	ZoneTest       = "acc.edelivery.tech.ec.europa.eu"
)

// serviceSMP is the NAPTR service of Peppol SMP records
const serviceSMP = "meta:smp"

var (
	// ErrNoRecordsFound is returned when the SML has no record for the participant
	ErrNoRecordsFound = errors.New("no SML records found for participant")
	// ErrInvalidNAPTRRecord is returned when a NAPTR record has invalid format
	ErrInvalidNAPTRRecord = errors.New("invalid NAPTR record format")
)

// Zone returns the SML zone of an environment
func (e Environment) Zone() string {
	if e == EnvTest {
		return ZoneTest
	}
	return ZoneProduction
}

// SMLClient locates SMPs through Peppol SML DNS records
type SMLClient struct {
	zone      string
	dnsServer string
	client    *dns.Client
}

// NewSMLClient creates an SML client for the given zone. An empty dnsServer
// uses the first resolver of /etc/resolv.conf.
func NewSMLClient(zone, dnsServer string) *SMLClient {
	return &SMLClient{
		zone:      strings.TrimSuffix(zone, "."),
		dnsServer: dnsServer,
		client:    new(dns.Client),
	}
}

// QueryName returns the DNS name queried for a participant. The hash covers
// the lowercased identifier value only, the scheme is appended as a label.
func (c *SMLClient) QueryName(participant peppolid.Identifier) string {
	hash := sha256.Sum256([]byte(strings.ToLower(participant.Value)))
	encoded := strings.TrimRight(base32.StdEncoding.EncodeToString(hash[:]), "=")
	return fmt.Sprintf("%s.%s.%s", encoded, strings.ToLower(participant.Scheme), c.zone)
}

// DiscoverSMP returns the SMP base URL for a participant
func (c *SMLClient) DiscoverSMP(ctx context.Context, participant peppolid.Identifier) (string, error) {
	if participant.IsZero() {
		return "", fmt.Errorf("%w: empty participant", ErrNoRecordsFound)
	}
	return c.lookupNAPTR(ctx, c.QueryName(participant))
}

func (c *SMLClient) lookupNAPTR(ctx context.Context, queryDomain string) (string, error) {
	server := c.dnsServer
	if server == "" {
		cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		if err != nil {
			return "", fmt.Errorf("failed to read DNS config: %w", err)
		}
		if len(cfg.Servers) == 0 {
			return "", errors.New("no DNS servers configured")
		}
		server = cfg.Servers[0] + ":" + cfg.Port
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(queryDomain), dns.TypeNAPTR)
	msg.RecursionDesired = true

	resp, _, err := c.client.ExchangeContext(ctx, msg, server)
	if err != nil {
		return "", fmt.Errorf("DNS lookup failed for %s: %w", queryDomain, err)
	}
	if resp.Rcode == dns.RcodeNameError {
		return "", fmt.Errorf("%w: %s", ErrNoRecordsFound, queryDomain)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return "", fmt.Errorf("DNS lookup failed for %s: rcode=%s", queryDomain, dns.RcodeToString[resp.Rcode])
	}

	var best *dns.NAPTR
	for _, rr := range resp.Answer {
		n, ok := rr.(*dns.NAPTR)
		if !ok || !strings.EqualFold(n.Flags, "U") || strings.ToLower(n.Service) != serviceSMP {
			continue
		}
		if best == nil || n.Order < best.Order || (n.Order == best.Order && n.Preference < best.Preference) {
			best = n
		}
	}
	if best == nil {
		return "", fmt.Errorf("%w: %s", ErrNoRecordsFound, queryDomain)
	}
	return urlFromRegexp(best.Regexp)
}

// urlFromRegexp extracts the replacement URL of a NAPTR regexp "!^.*$!https://smp/!"
func urlFromRegexp(field string) (string, error) {
	if field == "" {
		return "", ErrInvalidNAPTRRecord
	}
	parts := strings.Split(field, string(field[0]))
	if len(parts) < 3 || parts[2] == "" {
		return "", fmt.Errorf("%w: %s", ErrInvalidNAPTRRecord, field)
	}
	u, err := url.Parse(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidNAPTRRecord, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidNAPTRRecord, u.Scheme)
	}
	return parts[2], nil
}
