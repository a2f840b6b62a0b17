package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	c := New()
	require.NoError(t, c.Validate())
	assert.Equal(t, 1000, c.Engine.ConcurrencyCeiling)
	assert.Equal(t, 32, c.Engine.CallDepthLimit)
	assert.Equal(t, 0.95, c.Router.LoadThreshold)
	assert.Equal(t, 3, c.Health.FailureThreshold)
	assert.Equal(t, 256, c.Gateway.MaxInFlight)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("REACTOR_ID", "reactor-7")
	t.Setenv("ENGINE_CONCURRENCY_CEILING", "50")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "reactor-7", c.Reactor.ID)
	assert.Equal(t, 50, c.Engine.ConcurrencyCeiling)
}

func TestValidateRejectsBadValues(t *testing.T) {
	c := New()
	c.Reactor.ID = ""
	assert.Error(t, c.Validate())

	c = New()
	c.Router.LoadThreshold = 1.5
	assert.Error(t, c.Validate())

	c = New()
	c.Health.FailureThreshold = 0
	assert.Error(t, c.Validate())
}

func TestLoadAppliesPortOverride(t *testing.T) {
	t.Setenv("REACTOR_ID", "reactor-7")
	t.Setenv("PORT", "9500")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9500, c.Gateway.Port)
}

func TestRedisEnabled(t *testing.T) {
	c := New()
	assert.False(t, c.RedisEnabled())
	c.Redis.Addr = "localhost:6379"
	assert.True(t, c.RedisEnabled())
}
