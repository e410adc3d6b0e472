// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, provider credentials,
// rate limiting, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-summary-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// LLMConfig defines the text-generation provider settings.
type LLMConfig struct {
	BaseURL   string // LLM_BASE_URL
	APIKey    string // LLM_API_KEY
	Model     string // LLM_MODEL
	MaxTokens int    // LLM_MAX_TOKENS
}

// TranscriptConfig defines the transcript source endpoints.
type TranscriptConfig struct {
	CaptionsURL  string // CAPTIONS_BASE_URL
	SpeechURL    string // SPEECH_BASE_URL
	SpeechAPIKey string // SPEECH_API_KEY
}

// ScalerConfig defines the deadline scaling applied to provider calls.
type ScalerConfig struct {
	Floor        time.Duration // TIMEOUT_FLOOR
	Ceiling      time.Duration // TIMEOUT_CEILING
	StepChars    int           // TIMEOUT_STEP_CHARS
	StepDuration time.Duration // TIMEOUT_STEP
}

// PricingConfig defines the provider's per-million-token rates in cents.
type PricingConfig struct {
	InputCents      float64 // PRICE_INPUT_CENTS_MTOK
	CacheWriteCents float64 // PRICE_CACHE_WRITE_CENTS_MTOK
	CacheReadCents  float64 // PRICE_CACHE_READ_CENTS_MTOK
	OutputCents     float64 // PRICE_OUTPUT_CENTS_MTOK
}

// RateScope defines one token-bucket rate limit scope.
type RateScope struct {
	RPS   float64 // tokens per second (>= 0; 0 disables the scope)
	Burst int     // bucket size (>= 1)
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DBPath   string        // SQLite path
	CacheTTL time.Duration // summary cache lifetime; 0 means permanent

	// Pipeline
	LLM        LLMConfig
	Transcript TranscriptConfig
	Scaler     ScalerConfig
	Pricing    PricingConfig

	// Rate limiting, one scope per expensive operation
	RateGenerate  RateScope
	RateTranslate RateScope

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		// A fresh generation holds the response open for up to the scaler
		// ceiling, so the write deadline must outlast it.
		WriteTimeout: getdur("WRITE_TIMEOUT", 6*time.Minute),
		IdleTimeout:  getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath:   getenv("DB_PATH", "app.db"),
		CacheTTL: getdur("CACHE_TTL", 0),

		// Pipeline
		LLM: LLMConfig{
			BaseURL:   getenv("LLM_BASE_URL", "https://api.anthropic.com"),
			APIKey:    getenv("LLM_API_KEY", ""),
			Model:     getenv("LLM_MODEL", "claude-sonnet-4-20250514"),
			MaxTokens: getint("LLM_MAX_TOKENS", 8192),
		},
		Transcript: TranscriptConfig{
			CaptionsURL:  getenv("CAPTIONS_BASE_URL", "http://localhost:8090"),
			SpeechURL:    getenv("SPEECH_BASE_URL", "http://localhost:8091"),
			SpeechAPIKey: getenv("SPEECH_API_KEY", ""),
		},
		Scaler: ScalerConfig{
			Floor:        getdur("TIMEOUT_FLOOR", 45*time.Second),
			Ceiling:      getdur("TIMEOUT_CEILING", 5*time.Minute),
			StepChars:    getint("TIMEOUT_STEP_CHARS", 10_000),
			StepDuration: getdur("TIMEOUT_STEP", 15*time.Second),
		},
		Pricing: PricingConfig{
			InputCents:      getfloat("PRICE_INPUT_CENTS_MTOK", 300),
			CacheWriteCents: getfloat("PRICE_CACHE_WRITE_CENTS_MTOK", 375),
			CacheReadCents:  getfloat("PRICE_CACHE_READ_CENTS_MTOK", 30),
			OutputCents:     getfloat("PRICE_OUTPUT_CENTS_MTOK", 1500),
		},

		// Rate limiting
		RateGenerate: RateScope{
			RPS:   getfloat("RATE_GENERATE_RPS", 1.0),
			Burst: getint("RATE_GENERATE_BURST", 3),
		},
		RateTranslate: RateScope{
			RPS:   getfloat("RATE_TRANSLATE_RPS", 2.0),
			Burst: getint("RATE_TRANSLATE_BURST", 5),
		},

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-summary-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.CacheTTL < 0 {
		return cfg, errors.New("CACHE_TTL must be >= 0")
	}
	if strings.TrimSpace(cfg.LLM.BaseURL) == "" {
		return cfg, errors.New("LLM_BASE_URL must not be empty")
	}
	if cfg.LLM.MaxTokens < 1 {
		return cfg, errors.New("LLM_MAX_TOKENS must be >= 1")
	}
	if strings.TrimSpace(cfg.Transcript.CaptionsURL) == "" {
		return cfg, errors.New("CAPTIONS_BASE_URL must not be empty")
	}
	if cfg.Scaler.Floor <= 0 || cfg.Scaler.Ceiling <= 0 || cfg.Scaler.StepDuration <= 0 {
		return cfg, errors.New("timeout scaler durations must be positive")
	}
	if cfg.Scaler.Ceiling < cfg.Scaler.Floor {
		return cfg, errors.New("TIMEOUT_CEILING must be >= TIMEOUT_FLOOR")
	}
	if cfg.WriteTimeout <= cfg.Scaler.Ceiling {
		return cfg, errors.New("WRITE_TIMEOUT must exceed TIMEOUT_CEILING or slow generations lose their response")
	}
	if cfg.Scaler.StepChars < 1 {
		return cfg, errors.New("TIMEOUT_STEP_CHARS must be >= 1")
	}
	if cfg.Pricing.InputCents < 0 || cfg.Pricing.CacheWriteCents < 0 ||
		cfg.Pricing.CacheReadCents < 0 || cfg.Pricing.OutputCents < 0 {
		return cfg, errors.New("pricing rates must be >= 0")
	}
	for _, rs := range []struct {
		name  string
		scope RateScope
	}{
		{"RATE_GENERATE", cfg.RateGenerate},
		{"RATE_TRANSLATE", cfg.RateTranslate},
	} {
		if rs.scope.RPS < 0 {
			return cfg, errors.New(rs.name + "_RPS must be >= 0")
		}
		if rs.scope.Burst < 1 {
			return cfg, errors.New(rs.name + "_BURST must be >= 1")
		}
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	// if cfg.APIBasePath == "" || cfg.APIBasePath[0] != '/' {
	// 	return cfg, errors.New("API_BASE_PATH must start with '/'")
	// }

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
