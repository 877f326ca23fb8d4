package raffle

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRaffleError(t *testing.T) {
	t.Run("basic_error", func(t *testing.T) {
		err := NewError(ErrCodeInvalidParameters, "test error message")

		assert.Equal(t, ErrCodeInvalidParameters, err.Code)
		assert.Equal(t, "test error message", err.Message)
		assert.Equal(t, SeverityMedium, err.Severity)
		assert.False(t, err.Retryable)
		assert.Equal(t, "[RAFFLE_2000] test error message", err.Error())
	})

	t.Run("retryable_error", func(t *testing.T) {
		err := NewRetryableError(ErrCodeRedisConnection, "connection failed")

		assert.True(t, err.Retryable)
		assert.Equal(t, ErrCodeRedisConnection, err.Code)
	})

	t.Run("critical_error", func(t *testing.T) {
		err := NewCriticalError(ErrCodeSystem, "system failure").WithStackTrace()

		assert.Equal(t, SeverityCritical, err.Severity)
		assert.NotEmpty(t, err.StackTrace)
	})

	t.Run("error_with_details", func(t *testing.T) {
		err := NewError(ErrCodeInvalidRange, "invalid range").
			WithDetailsf("min=%d, max=%d", 10, 5).
			WithSessionID("round-1").
			WithOperation("DrawBatch").
			WithMetadata("attempt", 3)

		assert.Equal(t, "min=10, max=5", err.Details)
		assert.Equal(t, "round-1", err.SessionID)
		assert.Equal(t, "DrawBatch", err.Operation)
		assert.Equal(t, 3, err.Metadata["attempt"])
		assert.Equal(t, "[RAFFLE_2001] invalid range: min=10, max=5", err.Error())
	})

	t.Run("error_with_cause", func(t *testing.T) {
		originalErr := errors.New("original error")
		err := NewError(ErrCodeSystem, "wrapped error").WithCause(originalErr)

		assert.Equal(t, originalErr, err.Unwrap())
		assert.ErrorIs(t, err, originalErr)
	})

	t.Run("error_comparison", func(t *testing.T) {
		err1 := NewError(ErrCodeInvalidParameters, "error 1")
		err2 := NewError(ErrCodeInvalidParameters, "error 2")
		err3 := NewError(ErrCodeInvalidRange, "error 3")

		assert.ErrorIs(t, err1, err2)
		assert.NotErrorIs(t, err1, err3)
		assert.ErrorIs(t, fmt.Errorf("draw failed: %w", ErrDrawExhausted.WithDetails("x")), ErrDrawExhausted)
	})

	t.Run("sentinels_are_not_mutated", func(t *testing.T) {
		_ = ErrDrawExhausted.WithDetails("attempts=5").WithSessionID("round-1").WithMetadata("k", "v")

		assert.Empty(t, ErrDrawExhausted.Details)
		assert.Empty(t, ErrDrawExhausted.SessionID)
		assert.Nil(t, ErrDrawExhausted.Metadata)
	})

	t.Run("metadata_is_copied", func(t *testing.T) {
		base := NewError(ErrCodeSystem, "base").WithMetadata("a", 1)
		derived := base.WithMetadata("b", 2)

		assert.Len(t, base.Metadata, 1)
		assert.Len(t, derived.Metadata, 2)
	})
}

func TestPredefinedErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       *RaffleError
		code      ErrorCode
		retryable bool
		severity  ErrorSeverity
	}{
		{"entropy_unavailable", ErrEntropySourceUnavailable, ErrCodeEntropyUnavailable, false, SeverityCritical},
		{"invalid_range", ErrInvalidRange, ErrCodeInvalidRange, false, SeverityMedium},
		{"invalid_quantity", ErrInvalidQuantity, ErrCodeInvalidQuantity, false, SeverityMedium},
		{"draw_exhausted", ErrDrawExhausted, ErrCodeDrawExhausted, false, SeverityHigh},
		{"nothing_to_draw", ErrNothingToDraw, ErrCodeNothingToDraw, false, SeverityInfo},
		{"redis_connection", ErrRedisConnectionFailed, ErrCodeRedisConnection, true, SeverityMedium},
		{"lock_acquisition_failed", ErrLockAcquisitionFailed, ErrCodeLockAcquisitionFailed, true, SeverityMedium},
		{"circuit_breaker_open", ErrCircuitBreakerOpen, ErrCodeCircuitBreakerOpen, true, SeverityMedium},
		{"session_not_found", ErrSessionNotFound, ErrCodeSessionNotFound, false, SeverityMedium},
		{"session_save_failure", ErrSessionSaveFailure, ErrCodeSessionSaveFailure, true, SeverityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.retryable, tt.err.Retryable)
			assert.Equal(t, tt.severity, tt.err.Severity)
		})
	}
}

func TestIsConfigurationError(t *testing.T) {
	assert.True(t, IsConfigurationError(ErrInvalidRange.WithDetails("min=5, max=5")))
	assert.True(t, IsConfigurationError(ErrInvalidQuantity))
	assert.True(t, IsConfigurationError(ErrInvalidParameters))
	assert.False(t, IsConfigurationError(ErrDrawExhausted))
	assert.False(t, IsConfigurationError(ErrNothingToDraw))
	assert.False(t, IsConfigurationError(nil))
}

func TestDefaultErrorHandler(t *testing.T) {
	logger := NewSilentLogger()
	handler := NewDefaultErrorHandler(logger)

	t.Run("handle_raffle_error", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), SessionIDContextKey, "round-1")

		originalErr := NewError(ErrCodeInvalidParameters, "test error")
		handledErr := handler.HandleError(ctx, originalErr)

		var raffleErr *RaffleError
		require.True(t, errors.As(handledErr, &raffleErr))
		assert.Equal(t, "round-1", raffleErr.SessionID)
		assert.Empty(t, originalErr.SessionID)
	})

	t.Run("handle_regular_error", func(t *testing.T) {
		originalErr := errors.New("regular error")
		handledErr := handler.HandleError(context.Background(), originalErr)

		var raffleErr *RaffleError
		require.True(t, errors.As(handledErr, &raffleErr))
		assert.Equal(t, ErrCodeSystem, raffleErr.Code)
		assert.Equal(t, originalErr, raffleErr.Unwrap())
	})

	t.Run("handle_nil", func(t *testing.T) {
		assert.NoError(t, handler.HandleError(context.Background(), nil))
	})

	t.Run("should_retry", func(t *testing.T) {
		assert.True(t, handler.ShouldRetry(ErrLockAcquisitionFailed))
		assert.False(t, handler.ShouldRetry(ErrInvalidParameters))
		assert.False(t, handler.ShouldRetry(ErrNothingToDraw))
		assert.True(t, handler.ShouldRetry(errors.New("connection timeout"))) // 包含 "timeout"
	})

	t.Run("get_retry_delay", func(t *testing.T) {
		err := NewRetryableError(ErrCodeRedisConnection, "connection failed")

		// 验证延迟在预期范围内（考虑±25%抖动）
		for i, base := range []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond} {
			delay := handler.GetRetryDelay(i+1, err)
			assert.GreaterOrEqual(t, delay, time.Duration(float64(base)*0.75))
			assert.LessOrEqual(t, delay, time.Duration(float64(base)*1.25))
		}
		assert.LessOrEqual(t, handler.GetRetryDelay(30, err), 30*time.Second)
		assert.Equal(t, DefaultRetryInterval, handler.GetRetryDelay(0, err))
	})
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil_error", nil, false},
		{"connection_refused", errors.New("connection refused"), true},
		{"connection_reset", errors.New("connection reset by peer"), true},
		{"timeout", errors.New("operation timeout"), true},
		{"network_unreachable", errors.New("network is unreachable"), true},
		{"broken_pipe", errors.New("broken pipe"), true},
		{"io_timeout", errors.New("i/o timeout"), true},
		{"dial_tcp", errors.New("dial tcp: connection failed"), true},
		{"redis_pool_timeout", errors.New("redis: connection pool timeout"), true},
		{"redis_client_closed", errors.New("redis: client is closed"), true},
		{"context_deadline", errors.New("context deadline exceeded"), true},
		{"invalid_command", errors.New("ERR unknown command"), false},
		{"wrong_type", errors.New("WRONGTYPE Operation against wrong type"), false},
		{"out_of_memory", errors.New("OOM command not allowed"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryableError(tt.err))
		})
	}
}

func TestErrorRecovery(t *testing.T) {
	logger := NewSilentLogger()
	handler := NewErrorHandlerWithDelay(logger, time.Millisecond)
	recovery := NewErrorRecovery(handler, 2, logger)

	t.Run("successful_operation", func(t *testing.T) {
		callCount := 0
		err := recovery.ExecuteWithRetry(context.Background(), func() error {
			callCount++
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 1, callCount)
	})

	t.Run("retry_then_success", func(t *testing.T) {
		callCount := 0
		err := recovery.ExecuteWithRetry(context.Background(), func() error {
			callCount++
			if callCount < 3 {
				return ErrRedisConnectionFailed
			}
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 3, callCount)
	})

	t.Run("non_retryable_error", func(t *testing.T) {
		callCount := 0
		err := recovery.ExecuteWithRetry(context.Background(), func() error {
			callCount++
			return ErrDrawExhausted
		})

		assert.ErrorIs(t, err, ErrDrawExhausted)
		assert.Equal(t, 1, callCount) // 不应该重试
	})

	t.Run("max_retries_exceeded", func(t *testing.T) {
		callCount := 0
		err := recovery.ExecuteWithRetry(context.Background(), func() error {
			callCount++
			return ErrLockAcquisitionFailed
		})

		assert.ErrorIs(t, err, ErrLockAcquisitionFailed)
		assert.Equal(t, 3, callCount) // 初始调用 + 2次重试
	})

	t.Run("context_cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		callCount := 0
		err := recovery.ExecuteWithRetry(ctx, func() error {
			callCount++
			return nil
		})

		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, callCount)
	})
}
