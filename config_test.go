package raffle

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestConfigManager_LoadConfig(t *testing.T) {
	tests := []struct {
		name        string
		setupEnv    func(t *testing.T)
		expectError bool
		validate    func(*testing.T, *Config)
	}{
		{
			name:     "default_config",
			setupEnv: func(t *testing.T) {},
			validate: func(t *testing.T, config *Config) {
				assert.Equal(t, DefaultMaxDrawAttempts, config.Draw.MaxAttempts)
				assert.Equal(t, DefaultEntropyCacheSize, config.Draw.EntropyCacheSize)
				assert.Equal(t, "localhost:6379", config.Redis.Addr)
				assert.Equal(t, 30*time.Second, config.Session.LockTimeout)
				assert.Equal(t, time.Hour, config.Session.TTL)
				assert.Equal(t, 3, config.Session.RetryAttempts)
				assert.True(t, config.CircuitBreaker.Enabled)
			},
		},
		{
			name: "environment_variables",
			setupEnv: func(t *testing.T) {
				t.Setenv("RAFFLE_DRAW_MAX_ATTEMPTS", "5000")
				t.Setenv("RAFFLE_REDIS_ADDR", "redis-cluster:6379")
				t.Setenv("RAFFLE_SESSION_LOCK_TIMEOUT", "60s")
				t.Setenv("RAFFLE_CIRCUIT_BREAKER_ENABLED", "false")
			},
			validate: func(t *testing.T, config *Config) {
				assert.Equal(t, 5000, config.Draw.MaxAttempts)
				assert.Equal(t, "redis-cluster:6379", config.Redis.Addr)
				assert.Equal(t, 60*time.Second, config.Session.LockTimeout)
				assert.False(t, config.CircuitBreaker.Enabled)
			},
		},
		{
			name: "invalid_config",
			setupEnv: func(t *testing.T) {
				t.Setenv("RAFFLE_DRAW_MAX_ATTEMPTS", "0") // 无效的尝试上限
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setupEnv(t)

			cm := NewConfigManager()
			cm.SetLogger(NewSilentLogger())
			config, err := cm.LoadConfig()

			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, config)
			assert.Same(t, config, cm.GetConfig())
			if tt.validate != nil {
				tt.validate(t, config)
			}
		})
	}
}

func TestConfigManager_LoadConfigFile(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), `
draw:
  max_attempts: 2000
  entropy_cache_size: 0
session:
  ttl: 2h
  retry_attempts: 5
  retry_interval: 250ms
redis:
  addr: redis.internal:6380
  db: 2
circuit_breaker:
  failure_ratio: 0.5
`)

	cm := NewConfigManagerWithFile(path)
	cm.SetLogger(NewSilentLogger())
	config, err := cm.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 2000, config.Draw.MaxAttempts)
	assert.Equal(t, 0, config.Draw.EntropyCacheSize)
	assert.Equal(t, 2*time.Hour, config.Session.TTL)
	assert.Equal(t, 5, config.Session.RetryAttempts)
	assert.Equal(t, 250*time.Millisecond, config.Session.RetryInterval)
	assert.Equal(t, DefaultLockCacheTTL, config.Session.LockCacheTTL)
	assert.Equal(t, "redis.internal:6380", config.Redis.Addr)
	assert.Equal(t, 2, config.Redis.DB)
	assert.Equal(t, 0.5, config.CircuitBreaker.FailureRatio)

	// The unbuffered source is selected when the cache size is zero
	engine := NewDrawEngineFromConfig(config.Draw, NewSilentLogger())
	assert.IsType(t, &CryptoEntropySource{}, engine.source)
	assert.Equal(t, 2000, engine.MaxAttempts())
}

func TestConfigManager_InvalidFile(t *testing.T) {
	dir := t.TempDir()

	cm := NewConfigManagerWithFile(writeConfigFile(t, dir, "session:\n  ttl: 10s\n"))
	cm.SetLogger(NewSilentLogger())
	_, err := cm.LoadConfig()
	assert.ErrorIs(t, err, ErrInvalidSessionTTL)

	cm = NewConfigManagerWithFile(writeConfigFile(t, dir, "draw: [not, a, map"))
	_, err = cm.LoadConfig()
	assert.Error(t, err)

	cm = NewConfigManagerWithFile(filepath.Join(dir, "missing.yaml"))
	_, err = cm.LoadConfig()
	assert.Error(t, err)
}

func TestConfigManager_WatchConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "draw:\n  max_attempts: 100\n")

	cm := NewConfigManagerWithFile(path)
	cm.SetLogger(NewSilentLogger())
	_, err := cm.LoadConfig()
	require.NoError(t, err)

	var reloaded atomic.Int64
	cm.WatchConfig(func(config *Config) {
		reloaded.Store(int64(config.Draw.MaxAttempts))
	})

	// Let the watcher start before rewriting the file
	time.Sleep(100 * time.Millisecond)
	writeConfigFile(t, dir, "draw:\n  max_attempts: 200\n")

	require.Eventually(t, func() bool { return reloaded.Load() == 200 }, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, 200, cm.GetConfig().Draw.MaxAttempts)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"defaults", func(c *Config) {}, nil},
		{"missing section", func(c *Config) { c.Redis = nil }, ErrConfigInvalid},
		{"max attempts too low", func(c *Config) { c.Draw.MaxAttempts = 0 }, ErrInvalidMaxAttempts},
		{"max attempts too high", func(c *Config) { c.Draw.MaxAttempts = MaxMaxDrawAttempts + 1 }, ErrInvalidMaxAttempts},
		{"negative cache size", func(c *Config) { c.Draw.EntropyCacheSize = -1 }, ErrInvalidCacheSize},
		{"session ttl too short", func(c *Config) { c.Session.TTL = time.Second }, ErrInvalidSessionTTL},
		{"lock timeout too long", func(c *Config) { c.Session.LockTimeout = time.Hour }, ErrInvalidLockTimeout},
		{"negative retries", func(c *Config) { c.Session.RetryAttempts = -1 }, ErrInvalidRetryAttempts},
		{"negative retry interval", func(c *Config) { c.Session.RetryInterval = -time.Second }, ErrInvalidRetryInterval},
		{"lock cache ttl too short", func(c *Config) { c.Session.LockCacheTTL = time.Millisecond }, ErrInvalidLockCacheTTL},
		{"empty redis address", func(c *Config) { c.Redis.Addr = "" }, ErrConfigInvalid},
		{"zero pool size", func(c *Config) { c.Redis.PoolSize = 0 }, ErrConfigInvalid},
		{"failure ratio above one", func(c *Config) { c.CircuitBreaker.FailureRatio = 1.5 }, ErrConfigInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)

			err := config.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNewConfigManagerFromConfig(t *testing.T) {
	_, err := NewConfigManagerFromConfig(nil)
	assert.ErrorIs(t, err, ErrConfigInvalid)

	invalid := DefaultConfig()
	invalid.Draw.MaxAttempts = 0
	_, err = NewConfigManagerFromConfig(invalid)
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)

	config := DefaultConfig()
	cm, err := NewConfigManagerFromConfig(config)
	require.NoError(t, err)
	assert.Same(t, config, cm.GetConfig())

	assert.NotNil(t, NewDefaultConfigManager().GetConfig())
}

func TestRedisConfig_TLSConfig(t *testing.T) {
	config := DefaultRedisConfig()
	tlsConfig, err := config.TLSConfig()
	require.NoError(t, err)
	assert.Nil(t, tlsConfig)

	config.TLSEnabled = true
	tlsConfig, err = config.TLSConfig()
	require.NoError(t, err)
	require.NotNil(t, tlsConfig)
	assert.Nil(t, tlsConfig.RootCAs)

	config.CAFile = filepath.Join(t.TempDir(), "missing-ca.pem")
	_, err = config.TLSConfig()
	assert.Error(t, err)

	_, err = NewRedisClientFromConfig(config)
	assert.ErrorIs(t, err, ErrConfigInvalid)
}

func TestNewRedisClientFromConfig(t *testing.T) {
	client, err := NewRedisClientFromConfig(nil)
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, DefaultRedisAddr, client.Options().Addr)
	assert.Equal(t, DefaultRedisPoolSize, client.Options().PoolSize)
}
