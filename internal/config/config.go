// Package config handles configuration loading for the access point.
//
// Configuration is read from a YAML file with support for environment
// variable expansion (${VAR} or $VAR syntax), so secrets such as the
// downstream shared secret can be injected at runtime. A .env file in the
// working directory is loaded first. Every key can also be overridden by an
// environment variable named after its path, e.g. PEPPOL_SEATID or
// DOWNSTREAM_SECRET.
//
// # Configuration Sections
//
//   - peppol: operator seat ID, country code and network stage
//   - smp: fixed SMP URL and SMP response validation
//   - http: outbound proxy and timeouts
//   - as4: raw response archive, AP certificate trust store, OCSP,
//     duplicate detection window
//   - downstream: internal system receiving inbound documents
//   - api: token and rate limit of the send endpoints
//   - server: HTTP listener
//   - reporting: reporting backend and submitter pool
//   - logger, metrics: observability
//
// # Example Configuration
//
//	peppol:
//	  stage: test
//	  seatId: POP000123
//	  countryCode: NO
//
//	downstream:
//	  baseUrl: http://erp.internal:8080
//	  secret: ${DOWNSTREAM_SECRET}
//
//	reporting:
//	  backend: postgres
//	  postgres:
//	    dsn: ${REPORTING_DSN}
//
// See [Load] for loading configuration from a file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/sirosfoundation/go-peppol-ap/pkg/directory"
)

// Config is the root configuration structure. It is immutable after Load.
type Config struct {
	Peppol     PeppolConfig     `mapstructure:"peppol"`
	SMP        SMPConfig        `mapstructure:"smp"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	AS4        AS4Config        `mapstructure:"as4"`
	Downstream DownstreamConfig `mapstructure:"downstream"`
	API        APIConfig        `mapstructure:"api"`
	Server     ServerConfig     `mapstructure:"server"`
	Reporting  ReportingConfig  `mapstructure:"reporting"`
	Logger     LoggerConfig     `mapstructure:"logger"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// PeppolConfig identifies this access point in the network
type PeppolConfig struct {
	// Stage is "production" or "test" and selects the SML zone
	Stage string `mapstructure:"stage"`
	// SeatID is the operator seat ID (CN of the AP certificate)
	SeatID string `mapstructure:"seatId"`
	// CountryCode is the ISO 3166 alpha-2 code of the operator (C4 for inbound reporting)
	CountryCode string `mapstructure:"countryCode"`
}

// SMPConfig holds directory lookup settings
type SMPConfig struct {
	// URL bypasses the SML lookup when set
	URL              string `mapstructure:"url"`
	SecureValidation bool   `mapstructure:"secureValidation"`
	// DNSServer overrides the system resolver for SML queries
	DNSServer string `mapstructure:"dnsServer"`
}

// HTTPConfig holds outbound HTTP client settings
type HTTPConfig struct {
	Proxy          string        `mapstructure:"proxy"`
	ConnectTimeout time.Duration `mapstructure:"connectTimeout"`
	RequestTimeout time.Duration `mapstructure:"requestTimeout"`
	// AttemptTimeout bounds a whole send attempt (SML, SMP and AS4 calls).
	// Zero means attemptTimeoutFactor times RequestTimeout.
	AttemptTimeout time.Duration `mapstructure:"attemptTimeout"`
}

// AS4Config holds transport engine settings
type AS4Config struct {
	// RawResponseDir archives every raw AS4 response when set
	RawResponseDir string `mapstructure:"rawResponseDir"`
	// TrustStore is a PEM file with the Peppol AP CA certificates
	TrustStore       string `mapstructure:"trustStore"`
	OCSP             bool   `mapstructure:"ocsp"`
	StrictRevocation bool   `mapstructure:"strictRevocation"`
	// DuplicateWindow is how long delivered message IDs are remembered; zero disables duplicate detection
	DuplicateWindow time.Duration `mapstructure:"duplicateWindow"`
}

// DownstreamConfig describes the internal system inbound documents are forwarded to
type DownstreamConfig struct {
	BaseURL string        `mapstructure:"baseUrl"`
	Secret  string        `mapstructure:"secret"`
	Timeout time.Duration `mapstructure:"timeout"`
	Breaker BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig configures the downstream circuit breaker
type BreakerConfig struct {
	MaxRequests         uint32        `mapstructure:"maxRequests"`
	Interval            time.Duration `mapstructure:"interval"`
	Timeout             time.Duration `mapstructure:"timeout"`
	ConsecutiveFailures uint32        `mapstructure:"consecutiveFailures"`
}

// APIConfig protects the send endpoints
type APIConfig struct {
	// RequiredToken must be presented in X-Token when set
	RequiredToken string  `mapstructure:"requiredToken"`
	RateLimit     float64 `mapstructure:"rateLimit"`
	Burst         int     `mapstructure:"burst"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"readTimeout"`
	WriteTimeout    time.Duration `mapstructure:"writeTimeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
	TLS             struct {
		Enabled  bool   `mapstructure:"enabled"`
		CertFile string `mapstructure:"certFile"`
		KeyFile  string `mapstructure:"keyFile"`
	} `mapstructure:"tls"`
}

// ReportingConfig selects the reporting backend and sizes the submitter
type ReportingConfig struct {
	// Backend is one of none, memory, mongodb, postgres, redis, kafka
	Backend        string        `mapstructure:"backend"`
	Workers        int           `mapstructure:"workers"`
	QueueSize      int           `mapstructure:"queueSize"`
	MaxAttempts    uint          `mapstructure:"maxAttempts"`
	RetryDelay     time.Duration `mapstructure:"retryDelay"`
	AttemptTimeout time.Duration `mapstructure:"attemptTimeout"`

	MongoDB struct {
		URI        string `mapstructure:"uri"`
		Database   string `mapstructure:"database"`
		Collection string `mapstructure:"collection"`
	} `mapstructure:"mongodb"`
	Postgres struct {
		DSN      string `mapstructure:"dsn"`
		MaxConns int32  `mapstructure:"maxConns"`
	} `mapstructure:"postgres"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		Stream   string `mapstructure:"stream"`
		MaxLen   int64  `mapstructure:"maxLen"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers  []string `mapstructure:"brokers"`
		Topic    string   `mapstructure:"topic"`
		ClientID string   `mapstructure:"clientId"`
	} `mapstructure:"kafka"`
}

// LoggerConfig configures the zap logger
type LoggerConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Reporting backends
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendMongoDB  = "mongodb"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendKafka    = "kafka"
)

var countryCodePattern = regexp.MustCompile(`^[A-Z]{2}$`)

const attemptTimeoutFactor = 3

// Load reads configuration from a YAML file. An empty path loads
// defaults and environment variables only.
func Load(path string) (*Config, error) {
	// A missing .env file is not an error
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := v.ReadConfig(strings.NewReader(expanded)); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every key so that AutomaticEnv can override it
func setDefaults(v *viper.Viper) {
	v.SetDefault("peppol.stage", "test")
	v.SetDefault("peppol.seatId", "")
	v.SetDefault("peppol.countryCode", "")

	v.SetDefault("smp.url", "")
	v.SetDefault("smp.secureValidation", true)
	v.SetDefault("smp.dnsServer", "")

	v.SetDefault("http.proxy", "")
	v.SetDefault("http.connectTimeout", 10*time.Second)
	v.SetDefault("http.requestTimeout", 60*time.Second)
	v.SetDefault("http.attemptTimeout", time.Duration(0))

	v.SetDefault("as4.rawResponseDir", "")
	v.SetDefault("as4.trustStore", "")
	v.SetDefault("as4.ocsp", false)
	v.SetDefault("as4.strictRevocation", false)
	v.SetDefault("as4.duplicateWindow", 24*time.Hour)

	v.SetDefault("downstream.baseUrl", "")
	v.SetDefault("downstream.secret", "")
	v.SetDefault("downstream.timeout", 30*time.Second)
	v.SetDefault("downstream.breaker.maxRequests", 1)
	v.SetDefault("downstream.breaker.interval", time.Minute)
	v.SetDefault("downstream.breaker.timeout", 30*time.Second)
	v.SetDefault("downstream.breaker.consecutiveFailures", 5)

	v.SetDefault("api.requiredToken", "")
	v.SetDefault("api.rateLimit", 10.0)
	v.SetDefault("api.burst", 20)

	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30*time.Second)
	v.SetDefault("server.writeTimeout", 120*time.Second)
	v.SetDefault("server.shutdownTimeout", 15*time.Second)
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.certFile", "")
	v.SetDefault("server.tls.keyFile", "")

	v.SetDefault("reporting.backend", BackendMemory)
	v.SetDefault("reporting.workers", 2)
	v.SetDefault("reporting.queueSize", 1000)
	v.SetDefault("reporting.maxAttempts", 3)
	v.SetDefault("reporting.retryDelay", 500*time.Millisecond)
	v.SetDefault("reporting.attemptTimeout", 10*time.Second)
	v.SetDefault("reporting.mongodb.uri", "")
	v.SetDefault("reporting.mongodb.database", "peppol")
	v.SetDefault("reporting.mongodb.collection", "reporting_items")
	v.SetDefault("reporting.postgres.dsn", "")
	v.SetDefault("reporting.postgres.maxConns", 4)
	v.SetDefault("reporting.redis.addr", "")
	v.SetDefault("reporting.redis.password", "")
	v.SetDefault("reporting.redis.db", 0)
	v.SetDefault("reporting.redis.stream", "peppol:reporting")
	v.SetDefault("reporting.redis.maxLen", 0)
	v.SetDefault("reporting.kafka.brokers", []string{})
	v.SetDefault("reporting.kafka.topic", "peppol-reporting")
	v.SetDefault("reporting.kafka.clientId", "peppol-ap")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

func (c *Config) normalize() {
	c.Peppol.Stage = strings.ToLower(strings.TrimSpace(c.Peppol.Stage))
	c.Peppol.SeatID = strings.TrimSpace(c.Peppol.SeatID)
	c.Peppol.CountryCode = strings.ToUpper(strings.TrimSpace(c.Peppol.CountryCode))
	c.Downstream.BaseURL = strings.TrimRight(strings.TrimSpace(c.Downstream.BaseURL), "/")
	c.Reporting.Backend = strings.ToLower(strings.TrimSpace(c.Reporting.Backend))
	if c.HTTP.AttemptTimeout <= 0 {
		c.HTTP.AttemptTimeout = attemptTimeoutFactor * c.HTTP.RequestTimeout
	}
}

func (c *Config) validate() error {
	switch directory.Environment(c.Peppol.Stage) {
	case directory.EnvProduction, directory.EnvTest:
	default:
		return fmt.Errorf("peppol.stage must be 'production' or 'test', got '%s'", c.Peppol.Stage)
	}
	if c.Peppol.SeatID == "" {
		return fmt.Errorf("peppol.seatId is required")
	}
	if !countryCodePattern.MatchString(c.Peppol.CountryCode) {
		return fmt.Errorf("peppol.countryCode must be a two letter country code, got '%s'", c.Peppol.CountryCode)
	}

	if c.Downstream.BaseURL == "" {
		return fmt.Errorf("downstream.baseUrl is required")
	}
	if u, err := url.Parse(c.Downstream.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("downstream.baseUrl is not an absolute URL: '%s'", c.Downstream.BaseURL)
	}
	if c.Downstream.Secret == "" {
		return fmt.Errorf("downstream.secret is required")
	}

	if c.HTTP.Proxy != "" {
		if _, err := url.Parse(c.HTTP.Proxy); err != nil {
			return fmt.Errorf("http.proxy: %w", err)
		}
	}
	if c.API.RateLimit < 0 {
		return fmt.Errorf("api.rateLimit must not be negative")
	}

	switch c.Reporting.Backend {
	case BackendNone, BackendMemory:
	case BackendMongoDB:
		if c.Reporting.MongoDB.URI == "" {
			return fmt.Errorf("reporting.mongodb.uri is required when backend is 'mongodb'")
		}
	case BackendPostgres:
		if c.Reporting.Postgres.DSN == "" {
			return fmt.Errorf("reporting.postgres.dsn is required when backend is 'postgres'")
		}
	case BackendRedis:
		if c.Reporting.Redis.Addr == "" {
			return fmt.Errorf("reporting.redis.addr is required when backend is 'redis'")
		}
	case BackendKafka:
		if len(c.Reporting.Kafka.Brokers) == 0 {
			return fmt.Errorf("reporting.kafka.brokers is required when backend is 'kafka'")
		}
	default:
		return fmt.Errorf("reporting.backend must be one of none, memory, mongodb, postgres, redis, kafka, got '%s'", c.Reporting.Backend)
	}

	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		return fmt.Errorf("server.tls.certFile and server.tls.keyFile are required when TLS is enabled")
	}
	return nil
}

// Environment returns the directory environment selected by peppol.stage
func (c *Config) Environment() directory.Environment {
	return directory.Environment(c.Peppol.Stage)
}

// Addr returns the listen address of the HTTP server
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
