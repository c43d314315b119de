// Package config loads gateway configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// StoreKind selects a backing store implementation.
type StoreKind string

const (
	StoreMemory   StoreKind = "memory"
	StoreRedis    StoreKind = "redis"
	StorePostgres StoreKind = "postgres"
)

// ClassifierKind selects the intent classifier implementation.
type ClassifierKind string

const (
	ClassifierRules ClassifierKind = "rules"
	ClassifierHTTP  ClassifierKind = "http"
)

type Config struct {
	Addr string

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration

	// Session tunables
	SilenceTimeout      time.Duration
	InterDigitTimeout   time.Duration
	MinIntentConfidence float64
	MaxFallbackRetries  int
	BargeInThreshold    float64
	SampleRate          int
	Language            string
	Voice               string

	// Transaction bridge
	TransactionDeadline time.Duration
	TxnRetryAttempts    int
	TxnRetryBaseDelay   time.Duration
	BackendURL          string // empty => in-process demo backend
	BackendTimeout      time.Duration

	// Conversational services. Empty STT endpoint runs DTMF-only; empty
	// TTS endpoint uses the offline tone synthesizer.
	STTEndpoint string
	STTAPIKey   string
	TTSEndpoint string
	TTSAPIKey   string
	Classifier  ClassifierKind
	NLUEndpoint string
	NLUAPIKey   string
	NLUTimeout  time.Duration

	// Call-leg WebSocket
	WSPingInterval      time.Duration
	WSWriteTimeout      time.Duration
	HandshakeTimeout    time.Duration
	MaxAudioFrameBytes  int
	MaxJSONMessageBytes int64

	// Idempotency store
	IdempotencyStore StoreKind
	IdempotencyTTL   time.Duration
	RedisAddr        string
	RedisPassword    string
	RedisDB          int

	// Audit sink
	AuditSink    StoreKind
	PostgresDSN  string
	HistoryLimit int

	// FlowGraphPath points at a JSON flow export from the legacy IVR.
	// Empty runs the built-in demo graph.
	FlowGraphPath string
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("VOX_ADDR", ":8080"),
		ReadHeaderTimeout:   envDurationOr("VOX_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("VOX_SHUTDOWN_GRACE_PERIOD", 30*time.Second),

		SilenceTimeout:      envDurationOr("VOX_SILENCE_TIMEOUT", 6*time.Second),
		InterDigitTimeout:   envDurationOr("VOX_INTER_DIGIT_TIMEOUT", 3*time.Second),
		MinIntentConfidence: envFloat64Or("VOX_MIN_INTENT_CONFIDENCE", 0.55),
		MaxFallbackRetries:  envIntOr("VOX_MAX_FALLBACK_RETRIES", 2),
		BargeInThreshold:    envFloat64Or("VOX_BARGE_IN_THRESHOLD", 0.05),
		SampleRate:          envIntOr("VOX_SAMPLE_RATE", 8000),
		Language:            envOr("VOX_LANGUAGE", "en"),
		Voice:               envOr("VOX_VOICE", ""),

		TransactionDeadline: envDurationOr("VOX_TXN_DEADLINE", 10*time.Second),
		TxnRetryAttempts:    envIntOr("VOX_TXN_RETRY_ATTEMPTS", 3),
		TxnRetryBaseDelay:   envDurationOr("VOX_TXN_RETRY_BASE_DELAY", 250*time.Millisecond),
		BackendURL:          envOr("VOX_BACKEND_URL", ""),
		BackendTimeout:      envDurationOr("VOX_BACKEND_TIMEOUT", 10*time.Second),

		STTEndpoint: envOr("VOX_STT_ENDPOINT", ""),
		STTAPIKey:   envOr("VOX_STT_API_KEY", ""),
		TTSEndpoint: envOr("VOX_TTS_ENDPOINT", ""),
		TTSAPIKey:   envOr("VOX_TTS_API_KEY", ""),
		Classifier:  ClassifierKind(envOr("VOX_CLASSIFIER", string(ClassifierRules))),
		NLUEndpoint: envOr("VOX_NLU_ENDPOINT", ""),
		NLUAPIKey:   envOr("VOX_NLU_API_KEY", ""),
		NLUTimeout:  envDurationOr("VOX_NLU_TIMEOUT", 5*time.Second),

		WSPingInterval:      envDurationOr("VOX_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:      envDurationOr("VOX_WS_WRITE_TIMEOUT", 5*time.Second),
		HandshakeTimeout:    envDurationOr("VOX_WS_HANDSHAKE_TIMEOUT", 5*time.Second),
		MaxAudioFrameBytes:  envIntOr("VOX_MAX_AUDIO_FRAME_BYTES", 8192),
		MaxJSONMessageBytes: envInt64Or("VOX_MAX_JSON_MESSAGE_BYTES", 64*1024),

		IdempotencyStore: StoreKind(envOr("VOX_IDEMPOTENCY_STORE", string(StoreMemory))),
		IdempotencyTTL:   envDurationOr("VOX_IDEMPOTENCY_TTL", 24*time.Hour),
		RedisAddr:        envOr("VOX_REDIS_ADDR", "localhost:6379"),
		RedisPassword:    envOr("VOX_REDIS_PASSWORD", ""),
		RedisDB:          envIntOr("VOX_REDIS_DB", 0),

		AuditSink:    StoreKind(envOr("VOX_AUDIT_SINK", string(StoreMemory))),
		PostgresDSN:  envOr("VOX_POSTGRES_DSN", ""),
		HistoryLimit: envIntOr("VOX_HISTORY_LIMIT", 100),

		FlowGraphPath: envOr("VOX_FLOW_GRAPH", ""),
	}

	switch cfg.IdempotencyStore {
	case StoreMemory, StoreRedis:
	default:
		return Config{}, fmt.Errorf("VOX_IDEMPOTENCY_STORE must be one of memory|redis")
	}
	switch cfg.AuditSink {
	case StoreMemory, StorePostgres:
	default:
		return Config{}, fmt.Errorf("VOX_AUDIT_SINK must be one of memory|postgres")
	}
	switch cfg.Classifier {
	case ClassifierRules, ClassifierHTTP:
	default:
		return Config{}, fmt.Errorf("VOX_CLASSIFIER must be one of rules|http")
	}
	if cfg.Classifier == ClassifierHTTP && strings.TrimSpace(cfg.NLUEndpoint) == "" {
		return Config{}, fmt.Errorf("VOX_NLU_ENDPOINT must be set when VOX_CLASSIFIER=http")
	}
	if cfg.AuditSink == StorePostgres && strings.TrimSpace(cfg.PostgresDSN) == "" {
		return Config{}, fmt.Errorf("VOX_POSTGRES_DSN must be set when VOX_AUDIT_SINK=postgres")
	}

	if cfg.SilenceTimeout <= 0 {
		return Config{}, fmt.Errorf("VOX_SILENCE_TIMEOUT must be > 0")
	}
	if cfg.InterDigitTimeout <= 0 {
		return Config{}, fmt.Errorf("VOX_INTER_DIGIT_TIMEOUT must be > 0")
	}
	if cfg.MinIntentConfidence <= 0 || cfg.MinIntentConfidence > 1 {
		return Config{}, fmt.Errorf("VOX_MIN_INTENT_CONFIDENCE must be in (0, 1]")
	}
	if cfg.MaxFallbackRetries < 0 {
		return Config{}, fmt.Errorf("VOX_MAX_FALLBACK_RETRIES must be >= 0")
	}
	if cfg.BargeInThreshold <= 0 || cfg.BargeInThreshold > 1 {
		return Config{}, fmt.Errorf("VOX_BARGE_IN_THRESHOLD must be in (0, 1]")
	}
	if cfg.SampleRate <= 0 {
		return Config{}, fmt.Errorf("VOX_SAMPLE_RATE must be > 0")
	}
	if cfg.TransactionDeadline <= 0 {
		return Config{}, fmt.Errorf("VOX_TXN_DEADLINE must be > 0")
	}
	if cfg.TxnRetryAttempts <= 0 {
		return Config{}, fmt.Errorf("VOX_TXN_RETRY_ATTEMPTS must be > 0")
	}
	if cfg.TxnRetryBaseDelay <= 0 {
		return Config{}, fmt.Errorf("VOX_TXN_RETRY_BASE_DELAY must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("VOX_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VOX_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.HandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("VOX_WS_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.MaxAudioFrameBytes <= 0 {
		return Config{}, fmt.Errorf("VOX_MAX_AUDIO_FRAME_BYTES must be > 0")
	}
	if cfg.MaxJSONMessageBytes <= 0 {
		return Config{}, fmt.Errorf("VOX_MAX_JSON_MESSAGE_BYTES must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOX_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOX_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.HistoryLimit <= 0 {
		return Config{}, fmt.Errorf("VOX_HISTORY_LIMIT must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
