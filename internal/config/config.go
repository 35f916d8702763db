package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env      string
	HTTPPort string

	// PDS connectivity.
	PDSURL         string
	RequestTimeout time.Duration

	// Admin credential for the proxy endpoints. Optional at boot;
	// without it the admin-backed endpoints answer 500.
	AdminUsername string
	AdminPassword string

	// Sign-up.
	HandleSuffix        string
	SignupRequireInvite bool

	// OAuth redirect flow.
	OAuthClientID      string
	OAuthRedirectURI   string
	OAuthScope         string
	StateSigningSecret string

	// Session persistence. RedisAddr switches the session store and
	// lookup cache to Redis when set.
	SessionFile string
	RedisAddr   string

	// Admin email scan.
	LookupConcurrency int
	LookupCacheTTL    time.Duration
	LookupNegativeTTL time.Duration

	// Rate limits for the admin-credential-bearing proxies.
	SearchRateLimitPerMin int
	SignupRateLimitPerMin int

	LogLevel  string
	LogFormat string

	OTELTracingEnabled       bool
	OTELExporterOTLPEndpoint string
	OTELExporterOTLPInsecure bool
	OTELServiceName          string
	OTELEnvironment          string
	OTELTraceSamplingRatio   float64
}

func Load() (*Config, error) {
	cfg := &Config{
		Env:                   getEnv("APP_ENV", "development"),
		HTTPPort:              getEnv("HTTP_PORT", "8080"),
		PDSURL:                getEnv("PDS_URL", "https://hypercerts.climateai.org"),
		AdminUsername:         getEnv("PDS_ADMIN_USERNAME", "admin"),
		AdminPassword:         os.Getenv("PDS_ADMIN_PASSWORD"),
		HandleSuffix:          getEnv("HANDLE_SUFFIX", "hypercerts.climateai.org"),
		SignupRequireInvite:   getEnvBool("SIGNUP_REQUIRE_INVITE", true),
		OAuthClientID:         os.Getenv("OAUTH_CLIENT_ID"),
		OAuthRedirectURI:      os.Getenv("OAUTH_REDIRECT_URI"),
		OAuthScope:            getEnv("OAUTH_SCOPE", "atproto transition:generic"),
		StateSigningSecret:    os.Getenv("OAUTH_STATE_SECRET"),
		SessionFile:           getEnv("SESSION_FILE", "atp-session.json"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		LookupConcurrency:     getEnvInt("LOOKUP_CONCURRENCY", 10),
		SearchRateLimitPerMin: getEnvInt("SEARCH_RATE_LIMIT_PER_MIN", 30),
		SignupRateLimitPerMin: getEnvInt("SIGNUP_RATE_LIMIT_PER_MIN", 10),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "text"),

		OTELTracingEnabled:       getEnvBool("OTEL_TRACING_ENABLED", false),
		OTELExporterOTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTELExporterOTLPInsecure: getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		OTELServiceName:          getEnv("OTEL_SERVICE_NAME", "hypercerts-portal"),
		OTELEnvironment:          getEnv("OTEL_ENVIRONMENT", "development"),
		OTELTraceSamplingRatio:   getEnvFloat("OTEL_TRACE_SAMPLING_RATIO", 1.0),
	}

	timeout, err := time.ParseDuration(getEnv("REQUEST_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("parse REQUEST_TIMEOUT: %w", err)
	}
	cfg.RequestTimeout = timeout

	cacheTTL, err := time.ParseDuration(getEnv("LOOKUP_CACHE_TTL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("parse LOOKUP_CACHE_TTL: %w", err)
	}
	cfg.LookupCacheTTL = cacheTTL

	negativeTTL, err := time.ParseDuration(getEnv("LOOKUP_NEGATIVE_TTL", "30s"))
	if err != nil {
		return nil, fmt.Errorf("parse LOOKUP_NEGATIVE_TTL: %w", err)
	}
	cfg.LookupNegativeTTL = negativeTTL

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string
	u, err := url.Parse(c.PDSURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, "PDS_URL must be an absolute http(s) URL")
	}
	if c.OAuthClientID != "" && len(c.StateSigningSecret) < 16 {
		errs = append(errs, "OAUTH_STATE_SECRET must be at least 16 chars when the OAuth flow is configured")
	}
	if c.LookupConcurrency <= 0 {
		errs = append(errs, "LOOKUP_CONCURRENCY must be > 0")
	}
	if c.SearchRateLimitPerMin <= 0 {
		errs = append(errs, "SEARCH_RATE_LIMIT_PER_MIN must be > 0")
	}
	if c.SignupRateLimitPerMin <= 0 {
		errs = append(errs, "SIGNUP_RATE_LIMIT_PER_MIN must be > 0")
	}
	if c.RequestTimeout <= 0 || c.RequestTimeout > 5*time.Minute {
		errs = append(errs, "REQUEST_TIMEOUT must be between 1s and 5m")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// AuthorizeEndpoint is the PDS authorization URL the redirect flow
// sends the user agent to.
func (c *Config) AuthorizeEndpoint() string {
	return strings.TrimRight(c.PDSURL, "/") + "/oauth/authorize"
}

func getEnv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
