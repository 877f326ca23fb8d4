package raffle

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"math/rand"
	"runtime"
	"strings"
	"time"
)

// ErrorCode 错误代码类型
type ErrorCode string

// 错误代码常量
const (
	// 系统级错误 (1000-1999)
	ErrCodeSystem             ErrorCode = "RAFFLE_1000"
	ErrCodeRedisConnection    ErrorCode = "RAFFLE_1001"
	ErrCodeRedisTimeout       ErrorCode = "RAFFLE_1002"
	ErrCodeConfigInvalid      ErrorCode = "RAFFLE_1004"
	ErrCodeServiceUnavailable ErrorCode = "RAFFLE_1005"
	ErrCodeEntropyUnavailable ErrorCode = "RAFFLE_1006"

	// 抽号业务错误 (2000-2999)
	ErrCodeInvalidParameters    ErrorCode = "RAFFLE_2000"
	ErrCodeInvalidRange         ErrorCode = "RAFFLE_2001"
	ErrCodeInvalidQuantity      ErrorCode = "RAFFLE_2002"
	ErrCodeDrawExhausted        ErrorCode = "RAFFLE_2003"
	ErrCodeNothingToDraw        ErrorCode = "RAFFLE_2004"
	ErrCodeInvalidMaxAttempts   ErrorCode = "RAFFLE_2005"
	ErrCodeInvalidLockTimeout   ErrorCode = "RAFFLE_2010"
	ErrCodeInvalidRetryAttempts ErrorCode = "RAFFLE_2011"
	ErrCodeInvalidRetryInterval ErrorCode = "RAFFLE_2012"
	ErrCodeInvalidLockCacheTTL  ErrorCode = "RAFFLE_2015"
	ErrCodeInvalidSessionTTL    ErrorCode = "RAFFLE_2016"
	ErrCodeInvalidCacheSize     ErrorCode = "RAFFLE_2017"

	// 锁相关错误 (3000-3999)
	ErrCodeLockAcquisitionFailed ErrorCode = "RAFFLE_3000"
	ErrCodeLockTimeout           ErrorCode = "RAFFLE_3001"
	ErrCodeLockReleaseFailure    ErrorCode = "RAFFLE_3002"

	// 熔断相关错误 (5000-5999)
	ErrCodeCircuitBreakerOpen ErrorCode = "RAFFLE_5002"

	// 会话状态错误 (6000-6999)
	ErrCodeSessionNotFound       ErrorCode = "RAFFLE_6000"
	ErrCodeSessionSaveFailure    ErrorCode = "RAFFLE_6001"
	ErrCodeSessionLoadFailure    ErrorCode = "RAFFLE_6002"
	ErrCodeSessionCorrupted      ErrorCode = "RAFFLE_6003"
	ErrCodeSerializationFailed   ErrorCode = "RAFFLE_6004"
	ErrCodeDeserializationFailed ErrorCode = "RAFFLE_6005"
	ErrCodeSessionExists         ErrorCode = "RAFFLE_6006"
)

// ErrorSeverity 错误严重程度
type ErrorSeverity string

const (
	SeverityCritical ErrorSeverity = "critical"
	SeverityHigh     ErrorSeverity = "high"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityLow      ErrorSeverity = "low"
	SeverityInfo     ErrorSeverity = "info"
)

// RaffleError 带错误码的错误类型
//
// With* 方法返回副本, 预定义的错误实例不会被修改。
type RaffleError struct {
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	Details    string         `json:"details,omitempty"`
	Severity   ErrorSeverity  `json:"severity"`
	Timestamp  time.Time      `json:"timestamp"`
	SessionID  string         `json:"session_id,omitempty"`
	Operation  string         `json:"operation,omitempty"`
	StackTrace string         `json:"stack_trace,omitempty"`
	Cause      error          `json:"-"`
	Retryable  bool           `json:"retryable"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Error 实现 error 接口
func (e *RaffleError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 实现 errors.Unwrap 接口
func (e *RaffleError) Unwrap() error { return e.Cause }

// Is 按错误码比较
func (e *RaffleError) Is(target error) bool {
	if t, ok := target.(*RaffleError); ok {
		return e.Code == t.Code
	}
	return false
}

func (e *RaffleError) clone() *RaffleError {
	c := *e
	c.Timestamp = time.Now()
	if e.Metadata != nil {
		c.Metadata = maps.Clone(e.Metadata)
	}
	return &c
}

// WithCause 添加原因错误
func (e *RaffleError) WithCause(cause error) *RaffleError {
	c := e.clone()
	c.Cause = cause
	return c
}

// WithDetails 添加详细信息
func (e *RaffleError) WithDetails(details string) *RaffleError {
	c := e.clone()
	c.Details = details
	return c
}

// WithDetailsf 添加格式化的详细信息
func (e *RaffleError) WithDetailsf(format string, args ...any) *RaffleError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

// WithSessionID 添加会话ID
func (e *RaffleError) WithSessionID(sessionID string) *RaffleError {
	c := e.clone()
	c.SessionID = sessionID
	return c
}

// WithOperation 添加操作信息
func (e *RaffleError) WithOperation(operation string) *RaffleError {
	c := e.clone()
	c.Operation = operation
	return c
}

// WithMetadata 添加元数据
func (e *RaffleError) WithMetadata(key string, value any) *RaffleError {
	c := e.clone()
	if c.Metadata == nil {
		c.Metadata = make(map[string]any)
	}
	c.Metadata[key] = value
	return c
}

// WithStackTrace 添加堆栈跟踪
func (e *RaffleError) WithStackTrace() *RaffleError {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	c := e.clone()
	c.StackTrace = string(buf[:n])
	return c
}

// NewError 创建新的错误
func NewError(code ErrorCode, message string) *RaffleError {
	return &RaffleError{
		Code:      code,
		Message:   message,
		Severity:  SeverityMedium,
		Timestamp: time.Now(),
	}
}

// NewRetryableError 创建可重试的错误
func NewRetryableError(code ErrorCode, message string) *RaffleError {
	err := NewError(code, message)
	err.Retryable = true
	return err
}

// NewCriticalError 创建严重错误
func NewCriticalError(code ErrorCode, message string) *RaffleError {
	err := NewError(code, message)
	err.Severity = SeverityCritical
	return err
}

func newErrorWithSeverity(code ErrorCode, message string, severity ErrorSeverity) *RaffleError {
	err := NewError(code, message)
	err.Severity = severity
	return err
}

// 预定义的错误实例
var (
	// 系统级错误
	ErrSystemError              = NewCriticalError(ErrCodeSystem, "system error occurred")
	ErrRedisConnectionFailed    = NewRetryableError(ErrCodeRedisConnection, "Redis connection failed")
	ErrRedisTimeout             = NewRetryableError(ErrCodeRedisTimeout, "Redis operation timeout")
	ErrConfigInvalid            = NewCriticalError(ErrCodeConfigInvalid, "configuration is invalid")
	ErrServiceUnavailable       = NewRetryableError(ErrCodeServiceUnavailable, "service temporarily unavailable")
	ErrEntropySourceUnavailable = NewCriticalError(ErrCodeEntropyUnavailable, "entropy source unavailable")

	// 抽号业务错误
	ErrInvalidParameters    = NewError(ErrCodeInvalidParameters, "invalid parameters provided")
	ErrInvalidRange         = NewError(ErrCodeInvalidRange, "invalid range: max must be greater than min")
	ErrInvalidQuantity      = NewError(ErrCodeInvalidQuantity, "invalid quantity: must be between 1 and the range size")
	ErrDrawExhausted        = newErrorWithSeverity(ErrCodeDrawExhausted, "draw attempt ceiling exceeded", SeverityHigh)
	ErrNothingToDraw        = newErrorWithSeverity(ErrCodeNothingToDraw, "nothing to draw: quantity already reached", SeverityInfo)
	ErrInvalidMaxAttempts   = NewError(ErrCodeInvalidMaxAttempts, "invalid max attempts: must be between 1 and 100000000")
	ErrInvalidCacheSize     = NewError(ErrCodeInvalidCacheSize, "invalid entropy cache size: must be between 0 and 65536")
	ErrInvalidLockTimeout   = NewError(ErrCodeInvalidLockTimeout, "invalid lock timeout: must be between 1s and 5m")
	ErrInvalidRetryAttempts = NewError(ErrCodeInvalidRetryAttempts, "invalid retry attempts: must be between 0 and 10")
	ErrInvalidRetryInterval = NewError(ErrCodeInvalidRetryInterval, "invalid retry interval: cannot be negative")
	ErrInvalidLockCacheTTL  = NewError(ErrCodeInvalidLockCacheTTL, "invalid lock cache TTL: must be between 1s and 5m")
	ErrInvalidSessionTTL    = NewError(ErrCodeInvalidSessionTTL, "invalid session TTL: must be between 1m and 24h")

	// 锁相关错误
	ErrLockAcquisitionFailed = NewRetryableError(ErrCodeLockAcquisitionFailed, "failed to acquire session lock")
	ErrLockTimeout           = NewRetryableError(ErrCodeLockTimeout, "lock acquisition timeout")
	ErrLockReleaseFailure    = NewError(ErrCodeLockReleaseFailure, "failed to release lock")

	// 熔断相关错误
	ErrCircuitBreakerOpen = NewRetryableError(ErrCodeCircuitBreakerOpen, "circuit breaker is open")

	// 会话状态错误
	ErrSessionNotFound       = NewError(ErrCodeSessionNotFound, "session not found")
	ErrSessionSaveFailure    = NewRetryableError(ErrCodeSessionSaveFailure, "failed to save session")
	ErrSessionLoadFailure    = NewRetryableError(ErrCodeSessionLoadFailure, "failed to load session")
	ErrSessionCorrupted      = NewError(ErrCodeSessionCorrupted, "session state is corrupted")
	ErrSessionExists         = NewError(ErrCodeSessionExists, "session already exists")
	ErrSerializationFailed   = NewError(ErrCodeSerializationFailed, "serialization failed")
	ErrDeserializationFailed = NewError(ErrCodeDeserializationFailed, "deserialization failed")
)

// IsConfigurationError 是否为调用方配置错误 (范围或数量非法)
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidRange) || errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidParameters)
}

// contextKey 上下文键类型
type contextKey string

// SessionIDContextKey 会话ID在上下文中的键
const SessionIDContextKey contextKey = "session_id"

// ErrorHandler 错误处理器接口
type ErrorHandler interface {
	HandleError(ctx context.Context, err error) error
	ShouldRetry(err error) bool
	GetRetryDelay(attempt int, err error) time.Duration
}

// DefaultErrorHandler 默认错误处理器
type DefaultErrorHandler struct {
	logger        Logger
	baseDelay     time.Duration
	maxDelay      time.Duration
	backoffFactor float64
}

// NewDefaultErrorHandler 创建默认错误处理器
func NewDefaultErrorHandler(logger Logger) *DefaultErrorHandler {
	return NewErrorHandlerWithDelay(logger, DefaultRetryInterval)
}

// NewErrorHandlerWithDelay 创建指定基础延迟的错误处理器
func NewErrorHandlerWithDelay(logger Logger, baseDelay time.Duration) *DefaultErrorHandler {
	return &DefaultErrorHandler{
		logger:        logger,
		baseDelay:     baseDelay,
		maxDelay:      30 * time.Second,
		backoffFactor: 2.0,
	}
}

// HandleError 处理错误
func (h *DefaultErrorHandler) HandleError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	// 转换为 RaffleError
	var raffleErr *RaffleError
	if !errors.As(err, &raffleErr) {
		raffleErr = NewError(ErrCodeSystem, err.Error()).WithCause(err)
	}

	if sessionID, ok := ctx.Value(SessionIDContextKey).(string); ok && sessionID != "" {
		raffleErr = raffleErr.WithSessionID(sessionID)
	}

	h.logError(raffleErr)
	return raffleErr
}

// ShouldRetry 判断是否应该重试
func (h *DefaultErrorHandler) ShouldRetry(err error) bool {
	var raffleErr *RaffleError
	if errors.As(err, &raffleErr) {
		return raffleErr.Retryable
	}
	return IsRetryableError(err)
}

// GetRetryDelay 获取重试延迟
func (h *DefaultErrorHandler) GetRetryDelay(attempt int, _ error) time.Duration {
	if attempt <= 0 {
		return h.baseDelay
	}

	// 指数退避算法
	delay := time.Duration(float64(h.baseDelay) * math.Pow(h.backoffFactor, float64(attempt-1)))

	// 添加抖动 (±25%)
	jitter := time.Duration(float64(delay) * 0.25 * (2*rand.Float64() - 1))
	delay += jitter

	if delay > h.maxDelay {
		delay = h.maxDelay
	}
	return delay
}

// logError 记录错误日志
func (h *DefaultErrorHandler) logError(err *RaffleError) {
	switch err.Severity {
	case SeverityCritical, SeverityHigh:
		h.logger.Error("%s error (session=%s, operation=%s): %s", err.Severity, err.SessionID, err.Operation, err.Error())
	case SeverityMedium:
		h.logger.Error("Error (session=%s, operation=%s): %s", err.SessionID, err.Operation, err.Error())
	default:
		h.logger.Info("Notice (session=%s, operation=%s): %s", err.SessionID, err.Operation, err.Error())
	}
}

var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"network is unreachable",
	"temporary failure",
	"server closed",
	"broken pipe",
	"i/o timeout",
	"dial tcp",
	"read tcp",
	"write tcp",
	"connection timed out",
	"no route to host",
	"host is down",
	"connection aborted",
	"socket is not connected",
	"operation timed out",
	"redis: connection pool timeout",
	"redis: client is closed",
	"context deadline exceeded",
}

// IsRetryableError 检查是否为可重试的传输层错误
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// ErrorRecovery 错误恢复策略
type ErrorRecovery struct {
	handler    ErrorHandler
	maxRetries int
	logger     Logger
}

// NewErrorRecovery 创建错误恢复策略
func NewErrorRecovery(handler ErrorHandler, maxRetries int, logger Logger) *ErrorRecovery {
	return &ErrorRecovery{
		handler:    handler,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// ExecuteWithRetry 执行带重试的操作
//
// 不可重试的错误直接返回 (经过 HandleError 标注), 不再包装。
func (r *ErrorRecovery) ExecuteWithRetry(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return NewError(ErrCodeSystem, "operation cancelled").WithCause(ctx.Err())
		default:
		}

		err := operation()
		if err == nil {
			if attempt > 0 {
				r.logger.Info("Operation succeeded after %d retries", attempt)
			}
			return nil
		}

		lastErr = r.handler.HandleError(ctx, err)
		if !r.handler.ShouldRetry(lastErr) {
			r.logger.Debug("Error is not retryable: %v", lastErr)
			return lastErr
		}

		if attempt < r.maxRetries {
			delay := r.handler.GetRetryDelay(attempt+1, lastErr)
			r.logger.Debug("Retrying operation in %v (attempt %d/%d)", delay, attempt+1, r.maxRetries)

			select {
			case <-ctx.Done():
				return NewError(ErrCodeSystem, "operation cancelled during retry").WithCause(ctx.Err())
			case <-time.After(delay):
			}
		}
	}

	return lastErr
}
