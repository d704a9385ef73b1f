package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBucketEnv(t *testing.T) {
	t.Setenv("BUCKET_REGION", "fra1")
	t.Setenv("BUCKET_KEY_ID", "key")
	t.Setenv("BUCKET_KEY_SECRET", "secret")
	t.Setenv("BUCKET_NAME", "cases")
}

func TestLoadFailsFastWithoutBucketVars(t *testing.T) {
	t.Setenv("BUCKET_REGION", "")
	t.Setenv("BUCKET_KEY_ID", "")
	t.Setenv("BUCKET_KEY_SECRET", "")
	t.Setenv("BUCKET_NAME", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BUCKET_REGION")
	assert.Contains(t, err.Error(), "BUCKET_NAME")
}

func TestLoadDefaults(t *testing.T) {
	setBucketEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://fra1.digitaloceanspaces.com", cfg.Bucket.Endpoint)
	assert.Equal(t, 200*time.Millisecond, cfg.Queue.PollBusy)
	assert.Equal(t, time.Second, cfg.Queue.PollIdle)
	assert.Equal(t, time.Second, cfg.Queue.ResponseDelay)
	assert.Equal(t, 20, cfg.Handler.MaxContextLen)
	assert.Equal(t, 48*time.Hour, cfg.Handler.StaleThreshold)
}

func TestLoadOverrides(t *testing.T) {
	setBucketEnv(t)
	t.Setenv("BUCKET_ENDPOINT", "https://minio.local:9000")
	t.Setenv("QUEUE_RESPONSE_DELAY", "2.5")
	t.Setenv("HANDLER_MAX_CONTEXT_LEN", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://minio.local:9000", cfg.Bucket.Endpoint)
	assert.Equal(t, 2500*time.Millisecond, cfg.Queue.ResponseDelay)
	assert.Equal(t, 5, cfg.Handler.MaxContextLen)
}
