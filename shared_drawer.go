package raffle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// SharedSessionDrawer runs rounds whose history lives in a SessionRepository so that
// several processes can draw for the same session. Every mutation happens under the
// session lock: acquire, load, draw, save, release. A failed save discards the batch.
type SharedSessionDrawer struct {
	engine   *DrawEngine
	repo     SessionRepository
	locker   SessionLocker
	config   *SessionConfig
	logger   Logger
	recovery *ErrorRecovery

	mu        sync.RWMutex
	lockCache sync.Map // sessionID -> time of the last failed lock acquisition

	performanceMonitor *PerformanceMonitor
}

// NewSharedSessionDrawer creates a drawer over the given repository and locker
func NewSharedSessionDrawer(
	engine *DrawEngine, repo SessionRepository, locker SessionLocker, config *SessionConfig, logger Logger,
) *SharedSessionDrawer {
	if config == nil {
		config = DefaultSessionConfig()
	}
	if logger == nil {
		logger = &DefaultLogger{}
	}

	return &SharedSessionDrawer{
		engine:   engine,
		repo:     repo,
		locker:   locker,
		config:   config,
		logger:   logger,
		recovery: newSessionRecovery(config, logger),

		performanceMonitor: NewPerformanceMonitor(),
	}
}

// NewSharedSessionDrawerWithRedis wires a SessionStore and LockManager over one Redis client.
// The store and lock manager make a single attempt each; the drawer retries the whole
// lock, load, draw, save cycle.
func NewSharedSessionDrawerWithRedis(
	engine *DrawEngine, redisClient *redis.Client, config *SessionConfig, logger Logger,
) *SharedSessionDrawer {
	if config == nil {
		config = DefaultSessionConfig()
	}
	if logger == nil {
		logger = &DefaultLogger{}
	}

	storeConfig := *config
	storeConfig.RetryAttempts = 0
	store := NewSessionStoreWithConfig(redisClient, &storeConfig, logger)
	locks := NewLockManagerWithRetry(redisClient, config.LockTimeout, 0, config.RetryInterval)
	return NewSharedSessionDrawer(engine, store, locks, config, logger)
}

func newSessionRecovery(config *SessionConfig, logger Logger) *ErrorRecovery {
	return NewErrorRecovery(NewErrorHandlerWithDelay(logger, config.RetryInterval), config.RetryAttempts, logger)
}

// UpdateConfig swaps the session configuration at runtime
func (d *SharedSessionDrawer) UpdateConfig(config *SessionConfig) error {
	if config == nil {
		return ErrInvalidParameters.WithDetails("nil session configuration")
	}
	if err := config.Validate(); err != nil {
		d.logger.Error("UpdateConfig validation failed: %v", err)
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.config = config
	d.recovery = newSessionRecovery(config, d.logger)
	d.logger.Info("Session configuration updated: LockTimeout=%v, RetryAttempts=%d, RetryInterval=%v, LockCacheTTL=%v",
		config.LockTimeout, config.RetryAttempts, config.RetryInterval, config.LockCacheTTL)
	return nil
}

func (d *SharedSessionDrawer) settings() (*SessionConfig, *ErrorRecovery) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.config, d.recovery
}

// Start creates a fresh round for the session, replacing any previous round under the same ID
func (d *SharedSessionDrawer) Start(ctx context.Context, sessionID string, req DrawRequest) (*SessionState, error) {
	d.logger.Debug("Start called with session=%s, min=%d, max=%d, quantity=%d, allAtOnce=%v",
		sessionID, req.Range.Min, req.Range.Max, req.Quantity, req.AllAtOnce)

	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	if err := d.engine.Validate(req); err != nil {
		d.logger.Error("Start validation failed for session=%s: %v", sessionID, err)
		return nil, err
	}

	var state *SessionState
	err := d.withLock(ctx, sessionID, func(ctx context.Context) error {
		state = NewSessionState(sessionID, req)
		state.start()
		return d.repo.Save(ctx, state)
	})
	if err != nil {
		return nil, err
	}

	d.logger.Info("Session %s started: range=[%d, %d], quantity=%d", sessionID, req.Range.Min, req.Range.Max, req.Quantity)
	return state.Clone(), nil
}

// Draw draws the next batch for the session and commits it to the stored history
func (d *SharedSessionDrawer) Draw(ctx context.Context, sessionID string) (DrawBatch, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	var batch DrawBatch
	err := d.withLock(ctx, sessionID, func(ctx context.Context) error {
		state, err := d.repo.Load(ctx, sessionID)
		if err != nil {
			return err
		}

		drawn, err := state.drawNext(d.engine)
		if err != nil {
			return err
		}
		if err := d.repo.Save(ctx, state); err != nil {
			d.logger.Error("Discarding batch for session=%s: save failed: %v", sessionID, err)
			return err
		}

		batch = drawn
		d.logger.Debug("Session %s drew %v, progress=%.1f%%", sessionID, drawn, state.Progress())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// Reset discards the session history and returns the round to idle
func (d *SharedSessionDrawer) Reset(ctx context.Context, sessionID string) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}

	return d.withLock(ctx, sessionID, func(ctx context.Context) error {
		state, err := d.repo.Load(ctx, sessionID)
		if err != nil {
			return err
		}
		state.reset()
		if err := d.repo.Save(ctx, state); err != nil {
			return err
		}
		d.logger.Info("Session %s reset", sessionID)
		return nil
	})
}

// End deletes the session
func (d *SharedSessionDrawer) End(ctx context.Context, sessionID string) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}

	return d.withLock(ctx, sessionID, func(ctx context.Context) error {
		return d.repo.Delete(ctx, sessionID)
	})
}

// Load returns the stored session state
func (d *SharedSessionDrawer) Load(ctx context.Context, sessionID string) (*SessionState, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	return d.repo.Load(ctx, sessionID)
}

// withLock runs fn under the session lock, retrying retryable failures.
// The lock-failure cache is consulted once per call; retries always reach the locker.
func (d *SharedSessionDrawer) withLock(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	config, recovery := d.settings()
	ctx = context.WithValue(ctx, SessionIDContextKey, sessionID)

	// A recent failure means another holder is active; fail fast instead of hitting Redis
	if cached, ok := d.lockCache.Load(sessionID); ok {
		if time.Since(cached.(time.Time)) < config.LockCacheTTL {
			d.performanceMonitor.RecordLockAcquisition(false, 0)
			return ErrLockAcquisitionFailed.WithSessionID(sessionID).WithDetails("recent acquisition failure cached")
		}
		d.lockCache.Delete(sessionID)
	}

	return recovery.ExecuteWithRetry(ctx, func() error {
		return d.lockedOnce(ctx, config, sessionID, fn)
	})
}

func (d *SharedSessionDrawer) lockedOnce(
	ctx context.Context, config *SessionConfig, sessionID string, fn func(context.Context) error,
) error {
	lockValue, err := generateLockValue()
	if err != nil {
		return ErrSystemError.WithCause(err)
	}

	startTime := time.Now()
	acquired, err := d.locker.AcquireLock(ctx, sessionID, lockValue, config.LockTimeout)
	if err != nil && !errors.Is(err, ErrLockAcquisitionFailed) {
		d.performanceMonitor.RecordRedisError()
		return err
	}
	if !acquired {
		d.lockCache.Store(sessionID, time.Now())
		d.performanceMonitor.RecordLockAcquisition(false, time.Since(startTime))
		return ErrLockAcquisitionFailed.WithSessionID(sessionID)
	}
	d.lockCache.Delete(sessionID)
	d.performanceMonitor.RecordLockAcquisition(true, time.Since(startTime))

	defer func() {
		released, err := d.locker.ReleaseLock(context.WithoutCancel(ctx), sessionID, lockValue)
		switch {
		case err != nil:
			d.performanceMonitor.RecordRedisError()
			d.logger.Error("Failed to release lock for session=%s: %v", sessionID, err)
		case !released:
			d.logger.Error("Lock for session=%s expired before release", sessionID)
		default:
			d.performanceMonitor.RecordLockRelease()
		}
	}()

	return fn(ctx)
}

// GetPerformanceMetrics returns lock and Redis metrics for the drawer
func (d *SharedSessionDrawer) GetPerformanceMetrics() DrawMetrics {
	return d.performanceMonitor.GetMetrics()
}

// Engine returns the underlying draw engine
func (d *SharedSessionDrawer) Engine() *DrawEngine { return d.engine }
