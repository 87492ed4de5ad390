package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromViperDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg, err := fromViper(v)
	require.NoError(t, err)
	assert.Equal(t, StoreDriverMemory, cfg.Store.Driver)
	assert.Equal(t, 30*time.Second, cfg.Sweep.Interval)
	assert.True(t, cfg.Sweep.OnMutation)
	assert.Equal(t, time.Duration(0), cfg.Derive.PendingGraceWindow)
	assert.Equal(t, "notify:changes", cfg.Changes.Channel)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
}

func TestFromViperOverrides(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("STORE_DRIVER", " Redis ")
	v.Set("SWEEP_INTERVAL", "1m")
	v.Set("PENDING_GRACE_WINDOW", "48h")
	v.Set("ALLOWED_ORIGINS", "http://a.test, ,http://b.test")

	cfg, err := fromViper(v)
	require.NoError(t, err)
	assert.Equal(t, StoreDriverRedis, cfg.Store.Driver)
	assert.Equal(t, time.Minute, cfg.Sweep.Interval)
	assert.Equal(t, 48*time.Hour, cfg.Derive.PendingGraceWindow)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORS.AllowedOrigins)
}

func TestFromViperRejectsUnknownDriver(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("STORE_DRIVER", "localStorage")

	_, err := fromViper(v)
	assert.Error(t, err)
}

func TestParseDurationFallback(t *testing.T) {
	assert.Equal(t, time.Second, parseDuration("", time.Second))
	assert.Equal(t, time.Second, parseDuration("soon", time.Second))
	assert.Equal(t, 2*time.Minute, parseDuration("2m", time.Second))
}
