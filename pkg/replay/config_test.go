package replay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigFromEnvDefaults(t *testing.T) {
	cfg := ConfigFromEnv()

	assert.Equal(t, DefaultMaxSkew, cfg.MaxSkew)
	assert.Equal(t, DefaultNonceTTL, cfg.NonceTTL)
	assert.Equal(t, DefaultCleanupInterval, cfg.CleanupInterval)
	assert.Equal(t, DefaultCleanupBatchSize, cfg.CleanupBatchSize)
}

func TestConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("PLANHUB_REPLAY_MAX_SKEW_SECONDS", "120")
	t.Setenv("PLANHUB_REPLAY_NONCE_TTL_SECONDS", "900")
	t.Setenv("PLANHUB_REPLAY_CLEANUP_BATCH_SIZE", "250")

	cfg := ConfigFromEnv()

	assert.Equal(t, 2*time.Minute, cfg.MaxSkew)
	assert.Equal(t, 15*time.Minute, cfg.NonceTTL)
	assert.Equal(t, 250, cfg.CleanupBatchSize)
}

// A nonce must outlive the whole acceptance window. A token stamped MaxSkew
// in the future verifies until MaxSkew after its timestamp; if its nonce
// expired before then it could be replayed once.
func TestConfigFromEnvNonceTTLCoversAcceptanceWindow(t *testing.T) {
	t.Setenv("PLANHUB_REPLAY_MAX_SKEW_SECONDS", "300")
	t.Setenv("PLANHUB_REPLAY_NONCE_TTL_SECONDS", "60")

	cfg := ConfigFromEnv()

	assert.Equal(t, 5*time.Minute, cfg.MaxSkew)
	assert.Equal(t, 10*time.Minute, cfg.NonceTTL, "nonce TTL clamps to 2*MaxSkew")
}
