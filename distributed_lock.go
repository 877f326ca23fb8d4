package raffle

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// Session locks use SET NX to acquire and a compare-and-delete Lua script to release,
// so a holder whose lock expired cannot delete the lock of the next holder.
const releaseLockScript = `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`

// LockManager manages Redis locks keyed by session ID
type LockManager struct {
	redisClient   *redis.Client
	lockTimeout   time.Duration
	retryAttempts int
	retryInterval time.Duration

	performanceMonitor *PerformanceMonitor
}

// NewLockManager creates a new lock manager with default retry settings
func NewLockManager(redisClient *redis.Client, lockTimeout time.Duration) *LockManager {
	return NewLockManagerWithRetry(redisClient, lockTimeout, DefaultRetryAttempts, DefaultRetryInterval)
}

// NewLockManagerWithRetry creates a new lock manager with custom retry settings
func NewLockManagerWithRetry(
	redisClient *redis.Client, lockTimeout time.Duration, retryAttempts int, retryInterval time.Duration,
) *LockManager {
	return &LockManager{
		redisClient:   redisClient,
		lockTimeout:   lockTimeout,
		retryAttempts: retryAttempts,
		retryInterval: retryInterval,

		performanceMonitor: NewPerformanceMonitor(),
	}
}

// NewLockManagerFromConfig creates a lock manager from the session configuration
func NewLockManagerFromConfig(redisClient *redis.Client, config *SessionConfig) *LockManager {
	if config == nil {
		config = DefaultSessionConfig()
	}
	return NewLockManagerWithRetry(redisClient, config.LockTimeout, config.RetryAttempts, config.RetryInterval)
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// AcquireLock attempts to acquire a lock, retrying up to retryAttempts times
func (m *LockManager) AcquireLock(ctx context.Context, lockKey, lockValue string, expireTime time.Duration) (bool, error) {
	if lockKey == "" || lockValue == "" {
		return false, ErrInvalidParameters.WithDetails("empty lock key or value")
	}
	if expireTime <= 0 {
		expireTime = DefaultLockExpiration
	}

	fullLockKey := LockKeyPrefix + lockKey
	startTime := time.Now()

	for attempt := 0; attempt <= m.retryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		acquired, err := m.redisClient.SetNX(ctx, fullLockKey, lockValue, expireTime).Result()
		switch {
		case err != nil:
			m.performanceMonitor.RecordRedisError()
			if attempt == m.retryAttempts {
				m.performanceMonitor.RecordLockAcquisition(false, time.Since(startTime))
				return false, ErrRedisConnectionFailed.WithCause(err)
			}
		case acquired:
			m.performanceMonitor.RecordLockAcquisition(true, time.Since(startTime))
			return true, nil
		}

		if attempt < m.retryAttempts {
			if err := sleep(ctx, m.retryInterval); err != nil {
				return false, err
			}
		}
	}

	m.performanceMonitor.RecordLockAcquisition(false, time.Since(startTime))
	return false, ErrLockAcquisitionFailed.WithDetailsf("key=%s", lockKey)
}

// AcquireLockWithTimeout keeps retrying until the lock is acquired or timeout elapses
func (m *LockManager) AcquireLockWithTimeout(ctx context.Context, lockKey, lockValue string, expireTime, timeout time.Duration) (bool, error) {
	if lockKey == "" || lockValue == "" {
		return false, ErrInvalidParameters.WithDetails("empty lock key or value")
	}
	if expireTime <= 0 {
		expireTime = DefaultLockExpiration
	}
	if timeout <= 0 {
		timeout = m.lockTimeout
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fullLockKey := LockKeyPrefix + lockKey
	startTime := time.Now()

	for {
		acquired, err := m.redisClient.SetNX(timeoutCtx, fullLockKey, lockValue, expireTime).Result()
		if err == nil && acquired {
			m.performanceMonitor.RecordLockAcquisition(true, time.Since(startTime))
			return true, nil
		}
		if err != nil {
			m.performanceMonitor.RecordRedisError()
		}

		if sleep(timeoutCtx, m.retryInterval) != nil {
			m.performanceMonitor.RecordLockAcquisition(false, time.Since(startTime))
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			return false, ErrLockTimeout.WithDetailsf("key=%s, timeout=%v", lockKey, timeout)
		}
	}
}

// TryAcquireLock attempts to acquire a lock without retries (single attempt)
func (m *LockManager) TryAcquireLock(ctx context.Context, lockKey, lockValue string, expireTime time.Duration) (bool, error) {
	if lockKey == "" || lockValue == "" {
		return false, ErrInvalidParameters.WithDetails("empty lock key or value")
	}
	if expireTime <= 0 {
		expireTime = DefaultLockExpiration
	}

	acquired, err := m.redisClient.SetNX(ctx, LockKeyPrefix+lockKey, lockValue, expireTime).Result()
	if err != nil {
		m.performanceMonitor.RecordRedisError()
		return false, ErrRedisConnectionFailed.WithCause(err)
	}
	return acquired, nil
}

// ReleaseLock releases the lock if it is still held with lockValue.
// It returns false without error when the lock expired or belongs to someone else.
func (m *LockManager) ReleaseLock(ctx context.Context, lockKey, lockValue string) (bool, error) {
	if lockKey == "" || lockValue == "" {
		return false, ErrInvalidParameters.WithDetails("empty lock key or value")
	}

	fullLockKey := LockKeyPrefix + lockKey

	for attempt := 0; attempt <= m.retryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		result, err := m.redisClient.Eval(ctx, releaseLockScript, []string{fullLockKey}, lockValue).Int64()
		if err != nil {
			m.performanceMonitor.RecordRedisError()
			if attempt == m.retryAttempts {
				return false, ErrLockReleaseFailure.WithCause(err)
			}
			if err := sleep(ctx, m.retryInterval); err != nil {
				return false, err
			}
			continue
		}

		if result == 1 {
			m.performanceMonitor.RecordLockRelease()
			return true, nil
		}
		return false, nil
	}

	return false, ErrLockReleaseFailure
}

// GetPerformanceMetrics 获取锁操作的性能指标
func (m *LockManager) GetPerformanceMetrics() DrawMetrics {
	return m.performanceMonitor.GetMetrics()
}

// SetPerformanceMonitor 设置性能监控器
func (m *LockManager) SetPerformanceMonitor(monitor *PerformanceMonitor) {
	if monitor != nil {
		m.performanceMonitor = monitor
	}
}
