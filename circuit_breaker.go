package raffle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// CircuitBreakerDrawer 带熔断器的会话抽号器
type CircuitBreakerDrawer struct {
	drawer SessionDrawer

	mu      sync.RWMutex
	breaker *gobreaker.CircuitBreaker
	logger  Logger
	config  *CircuitBreakerConfig
}

// NewCircuitBreakerDrawer 创建带熔断器的会话抽号器
func NewCircuitBreakerDrawer(drawer SessionDrawer, config *CircuitBreakerConfig, logger Logger) *CircuitBreakerDrawer {
	if config == nil {
		config = DefaultCircuitBreakerConfig()
	}
	if logger == nil {
		logger = &DefaultLogger{}
	}

	c := &CircuitBreakerDrawer{
		drawer: drawer,
		logger: logger,
		config: config,
	}
	if config.Enabled {
		c.breaker = gobreaker.NewCircuitBreaker(c.settings())
	}
	return c
}

func (c *CircuitBreakerDrawer) settings() gobreaker.Settings {
	config := c.config
	return gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// 请求数达到最小要求且失败率超过阈值时触发熔断
			return counts.Requests >= config.MinRequests &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= config.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if config.OnStateChange {
				c.logger.Info("Circuit breaker '%s' state changed from %s to %s", name, from, to)
			}
		},
		IsSuccessful: isBreakerSuccess,
	}
}

// isBreakerSuccess 调用方错误、锁竞争和正常的业务结果不计入失败
func isBreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	return IsConfigurationError(err) ||
		errors.Is(err, ErrNothingToDraw) ||
		errors.Is(err, ErrLockAcquisitionFailed) ||
		errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrSessionExists)
}

func (c *CircuitBreakerDrawer) currentBreaker() *gobreaker.CircuitBreaker {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.breaker
}

// executeWithBreaker 使用熔断器执行操作
func (c *CircuitBreakerDrawer) executeWithBreaker(operation func() (any, error)) (any, error) {
	breaker := c.currentBreaker()
	if breaker == nil {
		return operation()
	}

	result, err := breaker.Execute(operation)
	switch {
	case errors.Is(err, gobreaker.ErrOpenState):
		return nil, ErrCircuitBreakerOpen.WithDetails("circuit breaker is open, requests are being rejected")
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, ErrCircuitBreakerOpen.WithDetails("too many requests, circuit breaker is half-open")
	}
	return result, err
}

// Start 开始新一轮
func (c *CircuitBreakerDrawer) Start(ctx context.Context, sessionID string, req DrawRequest) (*SessionState, error) {
	result, err := c.executeWithBreaker(func() (any, error) {
		return c.drawer.Start(ctx, sessionID, req)
	})
	if err != nil {
		return nil, err
	}
	return result.(*SessionState), nil
}

// Draw 抽取下一批号码
func (c *CircuitBreakerDrawer) Draw(ctx context.Context, sessionID string) (DrawBatch, error) {
	result, err := c.executeWithBreaker(func() (any, error) {
		return c.drawer.Draw(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	return result.(DrawBatch), nil
}

// Reset 重置会话
func (c *CircuitBreakerDrawer) Reset(ctx context.Context, sessionID string) error {
	_, err := c.executeWithBreaker(func() (any, error) {
		return nil, c.drawer.Reset(ctx, sessionID)
	})
	return err
}

// Load 加载会话状态
func (c *CircuitBreakerDrawer) Load(ctx context.Context, sessionID string) (*SessionState, error) {
	result, err := c.executeWithBreaker(func() (any, error) {
		return c.drawer.Load(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	return result.(*SessionState), nil
}

// GetCircuitBreakerState 获取熔断器状态
func (c *CircuitBreakerDrawer) GetCircuitBreakerState() string {
	breaker := c.currentBreaker()
	if breaker == nil {
		return "disabled"
	}

	switch breaker.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// GetCircuitBreakerCounts 获取熔断器统计信息
func (c *CircuitBreakerDrawer) GetCircuitBreakerCounts() gobreaker.Counts {
	breaker := c.currentBreaker()
	if breaker == nil {
		return gobreaker.Counts{}
	}
	return breaker.Counts()
}

// ResetCircuitBreaker 重置熔断器 (gobreaker 没有 Reset 方法, 重新创建实例)
func (c *CircuitBreakerDrawer) ResetCircuitBreaker() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.breaker == nil {
		return
	}
	c.breaker = gobreaker.NewCircuitBreaker(c.settings())
	c.logger.Info("Circuit breaker '%s' has been reset (recreated)", c.config.Name)
}

// HealthCheck 熔断器健康检查
func (c *CircuitBreakerDrawer) HealthCheck() map[string]any {
	result := map[string]any{
		"circuit_breaker_enabled": c.config.Enabled,
		"timestamp":               time.Now().Unix(),
	}

	if c.currentBreaker() == nil {
		result["state"] = "disabled"
		result["healthy"] = true
		return result
	}

	state := c.GetCircuitBreakerState()
	counts := c.GetCircuitBreakerCounts()

	result["state"] = state
	result["requests"] = counts.Requests
	result["total_successes"] = counts.TotalSuccesses
	result["total_failures"] = counts.TotalFailures
	result["consecutive_failures"] = counts.ConsecutiveFailures
	if counts.Requests > 0 {
		result["failure_rate"] = float64(counts.TotalFailures) / float64(counts.Requests)
	} else {
		result["failure_rate"] = 0.0
	}

	healthy := true
	switch state {
	case "open":
		healthy = false
	case "half-open":
		// 半开状态下连续失败过多视为不健康
		healthy = counts.ConsecutiveFailures <= 2
	}
	result["healthy"] = healthy
	return result
}
