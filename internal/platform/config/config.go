// Package config loads runtime configuration from the environment with
// optional .env overrides for local development.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultRateLimitDefault     = 120
	defaultRateLimitAuth        = 240
	defaultOrderEventsTopic     = "pending-order-events"
	defaultIngestionBatchSize   = 100
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	PubSub      PubSubConfig
	Ingestion   IngestionConfig
	RateLimits  RateLimitConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig names the topic order lifecycle events are published to.
type PubSubConfig struct {
	ProjectID        string
	OrderEventsTopic string
}

// IngestionConfig controls the external order import surface.
type IngestionConfig struct {
	DefaultCampaignID string
	MaxBatchSize      int
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	DefaultPerMinute       int
	AuthenticatedPerMinute int
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// ValidationError reports the configuration fields that are missing or
// out of range.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the offending field names.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// Option customises Load behaviour.
type Option func(*source)

// source layers the configuration inputs: explicit map, then system env,
// then .env file.
type source struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	dotEnv       map[string]string
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(s *source) { s.envFile = path }
}

// WithEnvMap injects explicit key/value pairs that take precedence over
// both the system environment and the .env file.
func WithEnvMap(values map[string]string) Option {
	return func(s *source) { s.envMap = values }
}

// WithoutSystemEnv ignores os.Getenv, leaving only injected maps and the
// .env file. Tests use this to stay hermetic.
func WithoutSystemEnv() Option {
	return func(s *source) { s.useSystemEnv = false }
}

func (s *source) lookup(key string) (string, bool) {
	if value, ok := s.envMap[key]; ok {
		return value, true
	}
	if s.useSystemEnv {
		if value, ok := os.LookupEnv(key); ok {
			return value, true
		}
	}
	value, ok := s.dotEnv[key]
	return value, ok
}

func (s *source) str(key, fallback string) string {
	if value, ok := s.lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func (s *source) dur(key string, fallback time.Duration) time.Duration {
	if value, ok := s.lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func (s *source) num(key string, fallback int) int {
	if value, ok := s.lookup(key); ok && value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

// Load assembles the configuration from defaults, the .env file, the
// system environment and injected overrides, then validates it.
func Load(opts ...Option) (Config, error) {
	src := source{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&src)
	}

	dotEnv, err := parseDotEnv(src.envFile)
	if err != nil {
		return Config{}, err
	}
	src.dotEnv = dotEnv

	cfg := Config{
		Server: ServerConfig{
			Port:         src.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  src.dur("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: src.dur("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  src.dur("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       src.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: src.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    src.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: src.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:        src.str("API_PUBSUB_PROJECT_ID", ""),
			OrderEventsTopic: src.str("API_PUBSUB_ORDER_EVENTS_TOPIC", defaultOrderEventsTopic),
		},
		Ingestion: IngestionConfig{
			DefaultCampaignID: src.str("API_INGESTION_DEFAULT_CAMPAIGN_ID", ""),
			MaxBatchSize:      src.num("API_INGESTION_MAX_BATCH_SIZE", defaultIngestionBatchSize),
		},
		RateLimits: RateLimitConfig{
			DefaultPerMinute:       src.num("API_RATELIMIT_DEFAULT_PER_MIN", defaultRateLimitDefault),
			AuthenticatedPerMinute: src.num("API_RATELIMIT_AUTH_PER_MIN", defaultRateLimitAuth),
		},
		Idempotency: IdempotencyConfig{
			Header:           src.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              src.dur("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  src.dur("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: src.num("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	// Firestore and Pub/Sub projects default to the Firebase project.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	var bad []string
	require := func(ok bool, field string) {
		if !ok {
			bad = append(bad, field)
		}
	}

	require(cfg.Server.Port != "", "Server.Port")
	require(cfg.Firebase.ProjectID != "", "Firebase.ProjectID")
	require(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	require(strings.TrimSpace(cfg.PubSub.OrderEventsTopic) != "", "PubSub.OrderEventsTopic")
	require(cfg.Ingestion.MaxBatchSize > 0, "Ingestion.MaxBatchSize")
	require(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
	require(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	require(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	require(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	if len(bad) > 0 {
		return &ValidationError{fields: bad}
	}
	return nil
}

// parseDotEnv reads KEY=VALUE lines, ignoring comments, blank lines and an
// optional "export " prefix. Quoted values are unwrapped. A missing file
// is not an error.
func parseDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))

		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", path, err)
	}
	return values, nil
}
