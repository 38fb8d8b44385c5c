package replay

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// ErrReplayDetected is returned when a signature is presented again while
// its nonce is still live.
var ErrReplayDetected = errors.New("replay detected: request signature already used")

// ErrTimestampSkew is returned when the signed request timestamp falls
// outside the accepted clock-skew window.
var ErrTimestampSkew = errors.New("request timestamp outside allowed skew window")

// ErrSignatureMismatch is returned when the request signature is missing,
// unverifiable, or does not cover the request body.
var ErrSignatureMismatch = errors.New("request signature mismatch")

// Defaults for replay protection.
const (
	DefaultMaxSkew          = 5 * time.Minute
	DefaultNonceTTL         = 15 * time.Minute
	DefaultCleanupInterval  = 5 * time.Minute
	DefaultCleanupBatchSize = 1000
	DefaultCleanupPause     = 100 * time.Millisecond
)

// Config holds replay-protection settings.
type Config struct {
	// Secret is the shared HMAC key request signatures are verified with.
	Secret string
	// MaxSkew bounds the difference between the signed timestamp and the
	// server clock, in either direction.
	MaxSkew time.Duration
	// NonceTTL is how long a recorded signature stays unusable. It must
	// cover the full acceptance window, 2*MaxSkew: a token issued MaxSkew
	// in the future stays verifiable until MaxSkew after its timestamp,
	// so a shorter TTL would let it be replayed once the nonce expires.
	NonceTTL time.Duration
	// RedisURL switches the nonce store to Redis when set.
	RedisURL string

	CleanupInterval  time.Duration
	CleanupBatchSize int
	CleanupPause     time.Duration
}

// DefaultConfig returns the default replay-protection settings.
func DefaultConfig() *Config {
	return &Config{
		MaxSkew:          DefaultMaxSkew,
		NonceTTL:         DefaultNonceTTL,
		CleanupInterval:  DefaultCleanupInterval,
		CleanupBatchSize: DefaultCleanupBatchSize,
		CleanupPause:     DefaultCleanupPause,
	}
}

// ConfigFromEnv builds the configuration from PLANHUB_* environment
// variables, falling back to defaults.
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()
	cfg.Secret = os.Getenv("PLANHUB_SIGNING_SECRET")
	cfg.RedisURL = os.Getenv("PLANHUB_REPLAY_REDIS_URL")
	if v := os.Getenv("PLANHUB_REPLAY_MAX_SKEW_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxSkew = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("PLANHUB_REPLAY_NONCE_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.NonceTTL = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("PLANHUB_REPLAY_CLEANUP_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CleanupInterval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("PLANHUB_REPLAY_CLEANUP_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CleanupBatchSize = n
		}
	}
	if cfg.NonceTTL < 2*cfg.MaxSkew {
		cfg.NonceTTL = 2 * cfg.MaxSkew
	}
	return cfg
}
