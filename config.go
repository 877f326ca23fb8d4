package raffle

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/viper"
)

// Config 配置结构
type Config struct {
	// 抽号引擎配置
	Draw *DrawConfig `mapstructure:"draw"`

	// 共享会话配置
	Session *SessionConfig `mapstructure:"session"`

	// Redis 配置
	Redis *RedisConfig `mapstructure:"redis"`

	// 熔断器配置
	CircuitBreaker *CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Draw == nil || c.Session == nil || c.Redis == nil || c.CircuitBreaker == nil {
		return ErrConfigInvalid.WithDetails("missing configuration section")
	}
	if err := c.Draw.Validate(); err != nil {
		return err
	}
	if err := c.Session.Validate(); err != nil {
		return err
	}

	// 验证 Redis 配置
	if c.Redis.Addr == "" {
		return ErrConfigInvalid.WithDetails("redis address is required")
	}
	if c.Redis.PoolSize <= 0 {
		return ErrConfigInvalid.WithDetails("redis pool size must be positive")
	}

	if c.CircuitBreaker.FailureRatio < 0 || c.CircuitBreaker.FailureRatio > 1 {
		return ErrConfigInvalid.WithDetails("circuit breaker failure ratio must be within [0, 1]")
	}
	return nil
}

// DrawConfig 抽号引擎配置
type DrawConfig struct {
	MaxAttempts      int `mapstructure:"max_attempts"`
	EntropyCacheSize int `mapstructure:"entropy_cache_size"`
}

// Validate 验证抽号引擎配置
func (c *DrawConfig) Validate() error {
	if c.MaxAttempts < MinMaxDrawAttempts || c.MaxAttempts > MaxMaxDrawAttempts {
		return ErrInvalidMaxAttempts
	}
	if c.EntropyCacheSize < 0 || c.EntropyCacheSize > MaxEntropyCacheSize {
		return ErrInvalidCacheSize
	}
	return nil
}

// DefaultDrawConfig 返回默认抽号引擎配置
func DefaultDrawConfig() *DrawConfig {
	return &DrawConfig{
		MaxAttempts:      DefaultMaxDrawAttempts,
		EntropyCacheSize: DefaultEntropyCacheSize,
	}
}

// SessionConfig 共享会话配置
type SessionConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	LockTimeout   time.Duration `mapstructure:"lock_timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	LockCacheTTL  time.Duration `mapstructure:"lock_cache_ttl"`
}

// Validate 验证共享会话配置
func (c *SessionConfig) Validate() error {
	if c.TTL < MinSessionTTL || c.TTL > MaxSessionTTL {
		return ErrInvalidSessionTTL
	}
	if c.LockTimeout < MinLockTimeout || c.LockTimeout > MaxLockTimeout {
		return ErrInvalidLockTimeout
	}
	if c.RetryAttempts < 0 || c.RetryAttempts > MaxRetryAttempts {
		return ErrInvalidRetryAttempts
	}
	if c.RetryInterval < 0 {
		return ErrInvalidRetryInterval
	}
	if c.LockCacheTTL < MinLockCacheTTL || c.LockCacheTTL > MaxLockCacheTTL {
		return ErrInvalidLockCacheTTL
	}
	return nil
}

// DefaultSessionConfig 返回默认共享会话配置
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		TTL:           DefaultSessionTTL,
		LockTimeout:   DefaultLockTimeout,
		RetryAttempts: DefaultRetryAttempts,
		RetryInterval: DefaultRetryInterval,
		LockCacheTTL:  DefaultLockCacheTTL,
	}
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 连接配置
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// 连接池配置
	PoolSize     int `mapstructure:"pool_size"`
	MinIdleConns int `mapstructure:"min_idle_conns"`
	MaxRetries   int `mapstructure:"max_retries"`

	// 超时配置
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolTimeout  time.Duration `mapstructure:"pool_timeout"`

	// TLS 配置
	TLSEnabled bool   `mapstructure:"tls_enabled"`
	CertFile   string `mapstructure:"cert_file"`
	KeyFile    string `mapstructure:"key_file"`
	CAFile     string `mapstructure:"ca_file"`
}

// DefaultRedisConfig 返回默认的Redis配置
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         DefaultRedisAddr,
		Password:     DefaultRedisPassword,
		DB:           DefaultRedisDB,
		PoolSize:     DefaultRedisPoolSize,
		MinIdleConns: DefaultRedisMinIdleConns,
		MaxRetries:   DefaultRedisMaxRetries,
		DialTimeout:  DefaultRedisDialTimeout,
		ReadTimeout:  DefaultRedisReadTimeout,
		WriteTimeout: DefaultRedisWriteTimeout,
		PoolTimeout:  DefaultRedisPoolTimeout,
	}
}

// TLSConfig 根据证书文件构造 TLS 配置, 未启用时返回 nil
func (c *RedisConfig) TLSConfig() (*tls.Config, error) {
	if !c.TLSEnabled {
		return nil, nil
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read redis CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in redis CA file %s", c.CAFile)
		}
		tlsConfig.RootCAs = pool
	}
	if c.CertFile != "" && c.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load redis client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// NewRedisClientFromConfig 从配置创建Redis客户端
func NewRedisClientFromConfig(config *RedisConfig) (*redis.Client, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	tlsConfig, err := config.TLSConfig()
	if err != nil {
		return nil, ErrConfigInvalid.WithCause(err).WithDetails(err.Error())
	}

	return redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		MaxRetries:   config.MaxRetries,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		PoolTimeout:  config.PoolTimeout,
		TLSConfig:    tlsConfig,
	}), nil
}

// CircuitBreakerConfig 熔断器配置
type CircuitBreakerConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Name          string        `mapstructure:"name"`
	MaxRequests   uint32        `mapstructure:"max_requests"`
	Interval      time.Duration `mapstructure:"interval"`
	Timeout       time.Duration `mapstructure:"timeout"`
	FailureRatio  float64       `mapstructure:"failure_ratio"`
	MinRequests   uint32        `mapstructure:"min_requests"`
	OnStateChange bool          `mapstructure:"on_state_change"`
}

// DefaultCircuitBreakerConfig 返回默认熔断器配置
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Enabled:       true,
		Name:          DefaultCircuitBreakerName,
		MaxRequests:   DefaultCircuitBreakerMaxRequests,
		Interval:      DefaultCircuitBreakerInterval,
		Timeout:       DefaultCircuitBreakerTimeout,
		FailureRatio:  DefaultCircuitBreakerFailureRatio,
		MinRequests:   DefaultCircuitBreakerMinRequests,
		OnStateChange: DefaultCircuitBreakerOnStateChange,
	}
}

// DefaultConfig 返回完整的默认配置
func DefaultConfig() *Config {
	return &Config{
		Draw:           DefaultDrawConfig(),
		Session:        DefaultSessionConfig(),
		Redis:          DefaultRedisConfig(),
		CircuitBreaker: DefaultCircuitBreakerConfig(),
	}
}

// ConfigManager 配置管理器
type ConfigManager struct {
	viper  *viper.Viper
	logger Logger

	mu     sync.RWMutex
	config *Config
}

// NewConfigManager 创建配置管理器, 按默认路径查找 config.yaml
func NewConfigManager() *ConfigManager {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/raffle")
	v.AddConfigPath("$HOME/.raffle")

	return &ConfigManager{viper: v, logger: &DefaultLogger{}}
}

// NewConfigManagerWithFile 创建读取指定配置文件的配置管理器
func NewConfigManagerWithFile(path string) *ConfigManager {
	v := newViper()
	v.SetConfigFile(path)

	return &ConfigManager{viper: v, logger: &DefaultLogger{}}
}

func newViper() *viper.Viper {
	v := viper.New()

	// 设置环境变量前缀
	v.SetEnvPrefix("RAFFLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// SetLogger 设置日志记录器
func (cm *ConfigManager) SetLogger(logger Logger) {
	if logger != nil {
		cm.logger = logger
	}
}

// LoadConfig 加载配置
func (cm *ConfigManager) LoadConfig() (*Config, error) {
	cm.setDefaults()

	if err := cm.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// 配置文件不存在时使用默认配置
		cm.logger.Debug("No config file found, using defaults and environment")
	}

	config, err := cm.decode()
	if err != nil {
		return nil, err
	}

	cm.mu.Lock()
	cm.config = config
	cm.mu.Unlock()
	return config, nil
}

func (cm *ConfigManager) decode() (*Config, error) {
	config := &Config{}
	if err := cm.viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

// setDefaults 设置默认配置值
func (cm *ConfigManager) setDefaults() {
	// 抽号引擎默认配置
	cm.viper.SetDefault("draw.max_attempts", DefaultMaxDrawAttempts)
	cm.viper.SetDefault("draw.entropy_cache_size", DefaultEntropyCacheSize)

	// 共享会话默认配置
	cm.viper.SetDefault("session.ttl", DefaultSessionTTL.String())
	cm.viper.SetDefault("session.lock_timeout", DefaultLockTimeout.String())
	cm.viper.SetDefault("session.retry_attempts", DefaultRetryAttempts)
	cm.viper.SetDefault("session.retry_interval", DefaultRetryInterval.String())
	cm.viper.SetDefault("session.lock_cache_ttl", DefaultLockCacheTTL.String())

	// Redis 默认配置
	cm.viper.SetDefault("redis.addr", DefaultRedisAddr)
	cm.viper.SetDefault("redis.password", DefaultRedisPassword)
	cm.viper.SetDefault("redis.db", DefaultRedisDB)
	cm.viper.SetDefault("redis.pool_size", DefaultRedisPoolSize)
	cm.viper.SetDefault("redis.min_idle_conns", DefaultRedisMinIdleConns)
	cm.viper.SetDefault("redis.max_retries", DefaultRedisMaxRetries)
	cm.viper.SetDefault("redis.dial_timeout", DefaultRedisDialTimeout.String())
	cm.viper.SetDefault("redis.read_timeout", DefaultRedisReadTimeout.String())
	cm.viper.SetDefault("redis.write_timeout", DefaultRedisWriteTimeout.String())
	cm.viper.SetDefault("redis.pool_timeout", DefaultRedisPoolTimeout.String())
	cm.viper.SetDefault("redis.tls_enabled", false)
	cm.viper.SetDefault("redis.cert_file", "")
	cm.viper.SetDefault("redis.key_file", "")
	cm.viper.SetDefault("redis.ca_file", "")

	// 熔断器默认配置
	cm.viper.SetDefault("circuit_breaker.enabled", true)
	cm.viper.SetDefault("circuit_breaker.name", DefaultCircuitBreakerName)
	cm.viper.SetDefault("circuit_breaker.max_requests", DefaultCircuitBreakerMaxRequests)
	cm.viper.SetDefault("circuit_breaker.interval", DefaultCircuitBreakerInterval.String())
	cm.viper.SetDefault("circuit_breaker.timeout", DefaultCircuitBreakerTimeout.String())
	cm.viper.SetDefault("circuit_breaker.failure_ratio", DefaultCircuitBreakerFailureRatio)
	cm.viper.SetDefault("circuit_breaker.min_requests", DefaultCircuitBreakerMinRequests)
	cm.viper.SetDefault("circuit_breaker.on_state_change", DefaultCircuitBreakerOnStateChange)
}

// WatchConfig 监听配置文件变化, 新配置通过校验后才会生效
func (cm *ConfigManager) WatchConfig(callback func(*Config)) {
	cm.viper.OnConfigChange(func(e fsnotify.Event) {
		cm.logger.Info("Config file changed: %s (%s)", e.Name, e.Op)

		config, err := cm.decode()
		if err != nil {
			// 记录错误但保留旧配置
			cm.logger.Error("Ignoring config change: %v", err)
			return
		}

		cm.mu.Lock()
		cm.config = config
		cm.mu.Unlock()

		if callback != nil {
			callback(config)
		}
	})
	cm.viper.WatchConfig()
}

// GetConfig 获取当前配置
func (cm *ConfigManager) GetConfig() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	return cm.config
}

// ReloadConfig 重新加载配置
func (cm *ConfigManager) ReloadConfig() (*Config, error) { return cm.LoadConfig() }

// NewDefaultConfigManager 创建使用默认配置的配置管理器
func NewDefaultConfigManager() *ConfigManager {
	cm := NewConfigManager()
	cm.setDefaults()
	cm.config = DefaultConfig()
	return cm
}

// NewConfigManagerFromConfig 从已有配置创建配置管理器
func NewConfigManagerFromConfig(config *Config) (*ConfigManager, error) {
	if config == nil {
		return nil, ErrConfigInvalid.WithDetails("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	cm := NewConfigManager()
	cm.config = config
	return cm, nil
}
