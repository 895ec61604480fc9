package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("WORKER_CONCURRENCY", "")
	t.Setenv("STATS_TTL", "")

	cfg := Load()
	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, 8, cfg.WorkerConcurrency)
	assert.Equal(t, 5, cfg.JobAttempts)
	assert.Equal(t, 5*time.Minute, cfg.StatsTTL)
	assert.False(t, cfg.Production())
}

func TestLoadOverridesAndFallbacks(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("WORKER_CONCURRENCY", "3")
	t.Setenv("PUSH_TIMEOUT", "250ms")
	t.Setenv("PUSH_SKIP", "false")
	t.Setenv("JOB_ATTEMPTS", "five")
	t.Setenv("STATS_TTL", "soon")

	cfg := Load()
	assert.True(t, cfg.Production())
	assert.Equal(t, 3, cfg.WorkerConcurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.PushTimeout)
	assert.False(t, cfg.PushSkip)
	assert.Equal(t, 5, cfg.JobAttempts)
	assert.Equal(t, 5*time.Minute, cfg.StatsTTL)
}

func TestListEnv(t *testing.T) {
	t.Setenv("CORS_ORIGINS", " https://a.example , ,https://b.example")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, Load().CORSOrigins)

	t.Setenv("CORS_ORIGINS", " , ")
	assert.Equal(t, []string{"*"}, Load().CORSOrigins)
}
