package config

import (
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Defaults mirror the reference deployment: a small CPU model served by a
// bounded pool with a 30s drain window.
const (
	DefaultModel           = "nomic-embed-text"
	DefaultPort            = 4100
	DefaultAdminPort       = 4101
	DefaultMaxWorkers      = 10
	DefaultShutdownTimeout = 30 * time.Second
	DefaultCacheDir        = "./model_cache"
)

type Config struct {
	// Model identifiers. An empty RerankerModel disables the rerank RPC.
	Model         string
	RerankerModel string

	// Network surface.
	Port      int
	AdminPort int // 0 disables the admin listener

	// Dispatcher.
	MaxWorkers int
	MaxBatch   int // 0 = unlimited

	// Drain window after SIGINT/SIGTERM.
	ShutdownTimeout time.Duration

	// Base64-encoded PEM pair. Both set -> TLS, otherwise plaintext.
	CertB64 string
	KeyB64  string

	// Inference backend.
	OllamaHost string
	RateLimit  float64 // engine calls per second, 0 = off

	// Model artifact cache.
	CacheDir    string
	ModelBucket string // empty disables the S3 pre-fetch step
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool

	LogLevel string
}

// Load reads configuration from the environment, after loading a .env file if
// one is present next to the binary. Every value has a default; Load only
// fails on values that cannot be parsed.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Model:         envStr("EMBEDD_MODEL", DefaultModel),
		RerankerModel: envStr("EMBEDD_RERANKER", ""),
		CertB64:       envStr("EMBEDD_CRT", ""),
		KeyB64:        envStr("EMBEDD_KEY", ""),
		OllamaHost:    envStr("EMBEDD_OLLAMA_HOST", ""),
		CacheDir:      envStr("EMBEDD_MODEL_CACHE_DIR", DefaultCacheDir),
		ModelBucket:   envStr("EMBEDD_MODEL_BUCKET", ""),
		S3Endpoint:    envStr("EMBEDD_S3_ENDPOINT", ""),
		S3AccessKey:   envStr("EMBEDD_S3_ACCESS_KEY", ""),
		S3SecretKey:   envStr("EMBEDD_S3_SECRET_KEY", ""),
		LogLevel:      envStr("EMBEDD_LOG_LEVEL", "info"),
	}

	var err error
	if cfg.Port, err = envInt("EMBEDD_PORT", DefaultPort); err != nil {
		return nil, err
	}
	if cfg.AdminPort, err = envInt("EMBEDD_ADMIN_PORT", DefaultAdminPort); err != nil {
		return nil, err
	}
	if cfg.MaxWorkers, err = envInt("EMBEDD_MAX_WORKERS", DefaultMaxWorkers); err != nil {
		return nil, err
	}
	if cfg.MaxBatch, err = envInt("EMBEDD_MAX_BATCH", 0); err != nil {
		return nil, err
	}
	graceSecs, err := envInt("EMBEDD_SHUTDOWN_TIMEOUT", int(DefaultShutdownTimeout/time.Second))
	if err != nil {
		return nil, err
	}
	cfg.ShutdownTimeout = time.Duration(graceSecs) * time.Second

	if cfg.RateLimit, err = envFloat("EMBEDD_RATE_LIMIT", 0); err != nil {
		return nil, err
	}
	if cfg.S3UseSSL, err = envBool("EMBEDD_S3_USE_SSL", true); err != nil {
		return nil, err
	}

	if cfg.MaxWorkers <= 0 {
		return nil, fmt.Errorf("EMBEDD_MAX_WORKERS must be positive, got %d", cfg.MaxWorkers)
	}

	return cfg, nil
}

// TLSEnabled reports whether a full certificate/key pair was supplied.
func (c *Config) TLSEnabled() bool {
	return c.CertB64 != "" && c.KeyB64 != ""
}

// ServerTLS decodes the base64 PEM pair into a server TLS config.
func (c *Config) ServerTLS() (*tls.Config, error) {
	certPEM, err := base64.StdEncoding.DecodeString(c.CertB64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cert: %w", err)
	}

	keyPEM, err := base64.StdEncoding.DecodeString(c.KeyB64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to load key pair: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

func envStr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
