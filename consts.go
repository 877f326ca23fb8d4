package raffle

import "time"

const (
	// DefaultMaxDrawAttempts is the default ceiling on entropy samples taken by a single DrawBatch call
	DefaultMaxDrawAttempts = 1_000_000

	// MinMaxDrawAttempts is the smallest accepted draw attempt ceiling
	MinMaxDrawAttempts = 1

	// MaxMaxDrawAttempts is the largest accepted draw attempt ceiling
	MaxMaxDrawAttempts = 100_000_000

	// DefaultEntropyCacheSize is the default number of 32-bit values fetched per buffered refill
	DefaultEntropyCacheSize = 256

	// MaxEntropyCacheSize is the largest accepted buffered refill size
	MaxEntropyCacheSize = 1 << 16

	// entropyBits is the width of a single EntropySource value
	entropyBits = 32

	// entropyModulus is 2^entropyBits, the exclusive upper bound of an EntropySource value
	entropyModulus = float64(uint64(1) << entropyBits)
)

const (
	// DefaultSessionTTL is the default lifetime of a shared session in Redis
	DefaultSessionTTL = 1 * time.Hour

	// MinSessionTTL is the minimum session TTL allowed
	MinSessionTTL = 1 * time.Minute

	// MaxSessionTTL is the maximum session TTL allowed
	MaxSessionTTL = 24 * time.Hour

	// DefaultLockTimeout is the default timeout for acquiring a session lock
	DefaultLockTimeout = 30 * time.Second

	// DefaultRetryAttempts is the default number of retry attempts
	DefaultRetryAttempts = 3

	// DefaultRetryInterval is the default interval between retry attempts
	DefaultRetryInterval = 100 * time.Millisecond

	// DefaultLockCacheTTL is how long a failed lock acquisition short-circuits later attempts
	DefaultLockCacheTTL = 1 * time.Second

	// DefaultLockExpiration is the default expiration time for locks
	DefaultLockExpiration = 30 * time.Second

	// MaxRetryAttempts is the maximum number of retry attempts allowed
	MaxRetryAttempts = 10

	// MinLockTimeout is the minimum lock timeout allowed
	MinLockTimeout = 1 * time.Second

	// MaxLockTimeout is the maximum lock timeout allowed
	MaxLockTimeout = 5 * time.Minute

	// MinLockCacheTTL is the minimum TTL for lock cache
	MinLockCacheTTL = 1 * time.Second

	// MaxLockCacheTTL is the maximum TTL for lock cache
	MaxLockCacheTTL = 5 * time.Minute

	// LockKeyPrefix is the prefix for Redis lock keys
	LockKeyPrefix = "raffle:lock:"

	// SessionKeyPrefix is the prefix for Redis session keys
	SessionKeyPrefix = "raffle:session:"

	// MaxSerializationSize is the maximum allowed size for a serialized SessionState (10MB)
	MaxSerializationSize = 10 * 1024 * 1024

	// maxRetryDelay caps exponential backoff between Redis retries
	maxRetryDelay = 5 * time.Second
)

const (
	// DefaultCircuitBreakerName is the default name for Circuit Breaker
	DefaultCircuitBreakerName = "raffle-drawer"

	// DefaultCircuitBreakerMaxRequests is the default max requests
	DefaultCircuitBreakerMaxRequests = 3

	// DefaultCircuitBreakerInterval is the default interval
	DefaultCircuitBreakerInterval = 60 * time.Second

	// DefaultCircuitBreakerTimeout is the default timeout
	DefaultCircuitBreakerTimeout = 30 * time.Second

	// DefaultCircuitBreakerFailureRatio is the default failure ratio
	DefaultCircuitBreakerFailureRatio = 0.6

	// DefaultCircuitBreakerMinRequests is the default min requests
	DefaultCircuitBreakerMinRequests = 3

	// DefaultCircuitBreakerOnStateChange is the default on state change
	DefaultCircuitBreakerOnStateChange = true
)

const (
	DefaultRedisAddr         = "localhost:6379"
	DefaultRedisPassword     = ""
	DefaultRedisDB           = 0
	DefaultRedisPoolSize     = 50
	DefaultRedisMinIdleConns = 10
	DefaultRedisMaxRetries   = 3
	DefaultRedisDialTimeout  = 5 * time.Second
	DefaultRedisReadTimeout  = 3 * time.Second
	DefaultRedisWriteTimeout = 3 * time.Second
	DefaultRedisPoolTimeout  = 4 * time.Second
)
