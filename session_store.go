package raffle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// SessionStore keeps SessionState in Redis as JSON under SessionKeyPrefix+sessionID.
// Keys expire after the configured TTL so a session never outlives its round by long.
type SessionStore struct {
	redisClient    *redis.Client
	logger         Logger
	ttl            time.Duration
	retryAttempts  int
	retryBaseDelay time.Duration
}

// NewSessionStore creates a session store with default TTL and retry settings
func NewSessionStore(redisClient *redis.Client, logger Logger) *SessionStore {
	return NewSessionStoreWithConfig(redisClient, DefaultSessionConfig(), logger)
}

// NewSessionStoreWithConfig creates a session store from the session configuration
func NewSessionStoreWithConfig(redisClient *redis.Client, config *SessionConfig, logger Logger) *SessionStore {
	if config == nil {
		config = DefaultSessionConfig()
	}
	if logger == nil {
		logger = &DefaultLogger{}
	}
	return &SessionStore{
		redisClient:    redisClient,
		logger:         logger,
		ttl:            config.TTL,
		retryAttempts:  config.RetryAttempts,
		retryBaseDelay: config.RetryInterval,
	}
}

// sessionKey generates the Redis key for a session
func sessionKey(sessionID string) string { return SessionKeyPrefix + sessionID }

// parseSessionKey extracts the session ID from a Redis key
func parseSessionKey(key string) (string, error) {
	if !strings.HasPrefix(key, SessionKeyPrefix) {
		return "", fmt.Errorf("invalid session key format: missing prefix")
	}
	id := strings.TrimPrefix(key, SessionKeyPrefix)
	if id == "" {
		return "", fmt.Errorf("invalid session key format: empty session ID")
	}
	return id, nil
}

// serializeSessionState serializes a SessionState to JSON bytes
func serializeSessionState(state *SessionState) ([]byte, error) {
	if state == nil {
		return nil, ErrInvalidParameters.WithDetails("nil session state")
	}
	if state.SessionID == "" {
		return nil, ErrInvalidParameters.WithDetails("empty session ID")
	}
	if err := state.Validate(); err != nil {
		return nil, err
	}

	data, err := json.Marshal(state)
	if err != nil {
		return nil, ErrSerializationFailed.WithCause(err).WithDetails(err.Error())
	}
	if len(data) > MaxSerializationSize {
		return nil, ErrSerializationFailed.WithDetailsf("serialized size %d bytes exceeds maximum %d bytes: session=%s, history=%d",
			len(data), MaxSerializationSize, state.SessionID, len(state.History))
	}
	return data, nil
}

// deserializeSessionState deserializes JSON bytes back to SessionState
func deserializeSessionState(data []byte) (*SessionState, error) {
	if len(data) == 0 {
		return nil, ErrDeserializationFailed.WithDetails("empty payload")
	}
	if len(data) > MaxSerializationSize {
		return nil, ErrDeserializationFailed.WithDetailsf("payload size %d bytes exceeds maximum %d bytes", len(data), MaxSerializationSize)
	}

	var state SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, ErrDeserializationFailed.WithCause(err).WithDetails(err.Error())
	}
	if err := state.Validate(); err != nil {
		return nil, ErrSessionCorrupted.WithCause(err).WithDetails(err.Error())
	}
	return &state, nil
}

// executeWithRetry executes a Redis operation with retry logic using exponential backoff
func (s *SessionStore) executeWithRetry(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	startTime := time.Now()

	for attempt := 0; attempt <= s.retryAttempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<(attempt-1)) * s.retryBaseDelay
			if delay > maxRetryDelay {
				delay = maxRetryDelay
			}

			s.logger.Debug("Retrying %s (attempt %d/%d) after %v, total elapsed: %v",
				operation, attempt, s.retryAttempts, delay, time.Since(startTime))

			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled during retry for %s after %v (attempt %d/%d): %w",
					operation, time.Since(startTime), attempt, s.retryAttempts+1, ctx.Err())
			case <-time.After(delay):
			}
		}

		err := fn()
		if err == nil {
			if attempt > 0 {
				s.logger.Info("Completed %s after %d retries (total time: %v)", operation, attempt, time.Since(startTime))
			}
			return nil
		}

		lastErr = err
		if !IsRetryableError(err) {
			s.logger.Debug("Non-retriable error for %s (attempt %d): %v", operation, attempt+1, err)
			break
		}
		s.logger.Debug("Retriable error for %s (attempt %d/%d): %v", operation, attempt+1, s.retryAttempts+1, err)
	}

	return fmt.Errorf("%s failed after %v: %w", operation, time.Since(startTime), lastErr)
}

// Save writes the session state and refreshes its TTL
func (s *SessionStore) Save(ctx context.Context, state *SessionState) error {
	data, err := serializeSessionState(state)
	if err != nil {
		s.logger.Error("Failed to serialize session state: %v", err)
		return err
	}

	key := sessionKey(state.SessionID)
	err = s.executeWithRetry(ctx, fmt.Sprintf("save[%s]", key), func() error {
		return s.redisClient.Set(ctx, key, data, s.ttl).Err()
	})
	if err != nil {
		s.logger.Error("Failed to save session: key=%s, size=%d bytes, ttl=%v, error=%v", key, len(data), s.ttl, err)
		return ErrSessionSaveFailure.WithCause(err).WithSessionID(state.SessionID)
	}

	s.logger.Debug("Saved session: key=%s, size=%d bytes, progress=%.1f%%", key, len(data), state.Progress())
	return nil
}

// Load reads the session state; a missing key yields ErrSessionNotFound
func (s *SessionStore) Load(ctx context.Context, sessionID string) (*SessionState, error) {
	if sessionID == "" {
		return nil, ErrInvalidParameters.WithDetails("empty session ID")
	}

	key := sessionKey(sessionID)
	var data []byte
	missing := false

	err := s.executeWithRetry(ctx, fmt.Sprintf("load[%s]", key), func() error {
		var err error
		data, err = s.redisClient.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			missing = true
			return nil
		}
		return err
	})
	if err != nil {
		s.logger.Error("Failed to load session: key=%s, error=%v", key, err)
		return nil, ErrSessionLoadFailure.WithCause(err).WithSessionID(sessionID)
	}
	if missing {
		return nil, ErrSessionNotFound.WithSessionID(sessionID)
	}

	state, err := deserializeSessionState(data)
	if err != nil {
		s.logger.Error("Failed to deserialize session: key=%s, size=%d bytes, error=%v", key, len(data), err)
		return nil, err
	}
	if state.SessionID != sessionID {
		return nil, ErrSessionCorrupted.WithDetailsf("stored session ID %q does not match key", state.SessionID)
	}
	return state, nil
}

// Create writes a new session only if no session exists under the same ID
func (s *SessionStore) Create(ctx context.Context, state *SessionState) error {
	data, err := serializeSessionState(state)
	if err != nil {
		return err
	}

	key := sessionKey(state.SessionID)
	var created bool
	err = s.executeWithRetry(ctx, fmt.Sprintf("create[%s]", key), func() error {
		var err error
		created, err = s.redisClient.SetNX(ctx, key, data, s.ttl).Result()
		return err
	})
	if err != nil {
		return ErrSessionSaveFailure.WithCause(err).WithSessionID(state.SessionID)
	}
	if !created {
		return ErrSessionExists.WithSessionID(state.SessionID)
	}
	return nil
}

// Delete removes the session; deleting a missing session is not an error
func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrInvalidParameters.WithDetails("empty session ID")
	}

	key := sessionKey(sessionID)
	var removed int64
	err := s.executeWithRetry(ctx, fmt.Sprintf("delete[%s]", key), func() error {
		var err error
		removed, err = s.redisClient.Del(ctx, key).Result()
		return err
	})
	if err != nil {
		s.logger.Error("Failed to delete session: key=%s, error=%v", key, err)
		return ErrSessionSaveFailure.WithCause(err).WithSessionID(sessionID)
	}

	s.logger.Debug("Deleted session: key=%s, keys_deleted=%d", key, removed)
	return nil
}

// ListSessionIDs returns the IDs of all live sessions
func (s *SessionStore) ListSessionIDs(ctx context.Context) ([]string, error) {
	var ids []string
	var cursor uint64

	for {
		var keys []string
		err := s.executeWithRetry(ctx, "scan", func() error {
			page, next, err := s.redisClient.Scan(ctx, cursor, SessionKeyPrefix+"*", 100).Result()
			if err != nil {
				return err
			}
			keys, cursor = page, next
			return nil
		})
		if err != nil {
			return nil, ErrSessionLoadFailure.WithCause(err)
		}

		for _, key := range keys {
			id, err := parseSessionKey(key)
			if err != nil {
				s.logger.Debug("Skipping malformed session key %s: %v", key, err)
				continue
			}
			ids = append(ids, id)
		}
		if cursor == 0 {
			return ids, nil
		}
	}
}
