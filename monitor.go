package raffle

import (
	"sync"
	"sync/atomic"
	"time"
)

// DrawMetrics 性能指标收集器
type DrawMetrics struct {
	// 批次统计
	TotalBatches      int64 `json:"total_batches"`      // 抽取批次总数 (不含 NothingToDraw)
	SuccessfulBatches int64 `json:"successful_batches"` // 成功批次数
	FailedBatches     int64 `json:"failed_batches"`     // 失败批次数
	NothingToDraw     int64 `json:"nothing_to_draw"`    // 已完成轮次上的空调用
	ExhaustedBatches  int64 `json:"exhausted_batches"`  // 触发尝试上限的批次数
	NumbersDrawn      int64 `json:"numbers_drawn"`      // 抽出的号码总数

	// 熵源统计
	EntropySamples      int64 `json:"entropy_samples"`      // 熵源取值次数
	EntropyFailures     int64 `json:"entropy_failures"`     // 熵源失败次数
	DrawAttempts        int64 `json:"draw_attempts"`        // 候选号码总数
	DuplicateRejections int64 `json:"duplicate_rejections"` // 因重复被丢弃的候选数

	// 锁操作统计
	LockAcquisitions    int64 `json:"lock_acquisitions"`     // 锁获取次数
	LockAcquisitionTime int64 `json:"lock_acquisition_time"` // 锁获取总时间(纳秒)
	LockReleases        int64 `json:"lock_releases"`         // 锁释放次数
	LockFailures        int64 `json:"lock_failures"`         // 锁获取失败次数

	// 性能统计
	AverageBatchTime int64 `json:"average_batch_time"` // 平均批次时间(纳秒)
	TotalBatchTime   int64 `json:"total_batch_time"`   // 总批次时间(纳秒)

	// Redis统计
	RedisErrors int64 `json:"redis_errors"` // Redis错误数

	// 时间戳
	StartTime      int64 `json:"start_time"`       // 开始时间
	LastUpdateTime int64 `json:"last_update_time"` // 最后更新时间
}

// GetSuccessRate 获取成功率
func (m *DrawMetrics) GetSuccessRate() float64 {
	total := atomic.LoadInt64(&m.TotalBatches)
	if total == 0 {
		return 0.0
	}
	successful := atomic.LoadInt64(&m.SuccessfulBatches)
	return float64(successful) / float64(total) * 100.0
}

// GetRejectionRate 获取重复候选占比
func (m *DrawMetrics) GetRejectionRate() float64 {
	attempts := atomic.LoadInt64(&m.DrawAttempts)
	if attempts == 0 {
		return 0.0
	}
	return float64(atomic.LoadInt64(&m.DuplicateRejections)) / float64(attempts) * 100.0
}

// GetAverageLockTime 获取平均锁获取时间
func (m *DrawMetrics) GetAverageLockTime() time.Duration {
	acquisitions := atomic.LoadInt64(&m.LockAcquisitions)
	if acquisitions == 0 {
		return 0
	}
	return time.Duration(atomic.LoadInt64(&m.LockAcquisitionTime) / acquisitions)
}

// Reset 重置性能指标
func (m *DrawMetrics) Reset() {
	for _, field := range []*int64{
		&m.TotalBatches, &m.SuccessfulBatches, &m.FailedBatches, &m.NothingToDraw,
		&m.ExhaustedBatches, &m.NumbersDrawn, &m.EntropySamples, &m.EntropyFailures,
		&m.DrawAttempts, &m.DuplicateRejections, &m.LockAcquisitions, &m.LockAcquisitionTime,
		&m.LockReleases, &m.LockFailures, &m.AverageBatchTime, &m.TotalBatchTime, &m.RedisErrors,
	} {
		atomic.StoreInt64(field, 0)
	}
	now := time.Now().UnixNano()
	atomic.StoreInt64(&m.StartTime, now)
	atomic.StoreInt64(&m.LastUpdateTime, now)
}

// ================================================================================

// PerformanceMonitor 性能监控器
type PerformanceMonitor struct {
	metrics *DrawMetrics
	mu      sync.RWMutex
	enabled bool
}

// NewPerformanceMonitor 创建新的性能监控器
func NewPerformanceMonitor() *PerformanceMonitor {
	pm := &PerformanceMonitor{
		metrics: &DrawMetrics{},
		enabled: true,
	}
	pm.metrics.Reset()
	return pm
}

// Enable 启用性能监控
func (pm *PerformanceMonitor) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.enabled = true
}

// Disable 禁用性能监控
func (pm *PerformanceMonitor) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.enabled = false
}

// IsEnabled 检查是否启用了性能监控
func (pm *PerformanceMonitor) IsEnabled() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	return pm.enabled
}

func (pm *PerformanceMonitor) touch() {
	atomic.StoreInt64(&pm.metrics.LastUpdateTime, time.Now().UnixNano())
}

// RecordBatch 记录一次批次抽取
func (pm *PerformanceMonitor) RecordBatch(success bool, drawn int, duration time.Duration) {
	if !pm.IsEnabled() {
		return
	}

	total := atomic.AddInt64(&pm.metrics.TotalBatches, 1)
	totalTime := atomic.AddInt64(&pm.metrics.TotalBatchTime, int64(duration))
	if success {
		atomic.AddInt64(&pm.metrics.SuccessfulBatches, 1)
		atomic.AddInt64(&pm.metrics.NumbersDrawn, int64(drawn))
	} else {
		atomic.AddInt64(&pm.metrics.FailedBatches, 1)
	}

	atomic.StoreInt64(&pm.metrics.AverageBatchTime, totalTime/total)
	pm.touch()
}

// RecordNothingToDraw 记录已完成轮次上的调用
func (pm *PerformanceMonitor) RecordNothingToDraw() {
	if !pm.IsEnabled() {
		return
	}
	atomic.AddInt64(&pm.metrics.NothingToDraw, 1)
	pm.touch()
}

// RecordExhausted 记录触发尝试上限的批次
func (pm *PerformanceMonitor) RecordExhausted() {
	if !pm.IsEnabled() {
		return
	}
	atomic.AddInt64(&pm.metrics.ExhaustedBatches, 1)
	pm.touch()
}

// RecordAttempts 记录候选号码数与重复丢弃数
func (pm *PerformanceMonitor) RecordAttempts(attempts, rejections int) {
	if !pm.IsEnabled() {
		return
	}
	atomic.AddInt64(&pm.metrics.DrawAttempts, int64(attempts))
	atomic.AddInt64(&pm.metrics.DuplicateRejections, int64(rejections))
}

// RecordEntropySample 记录一次熵源取值
func (pm *PerformanceMonitor) RecordEntropySample() {
	if !pm.IsEnabled() {
		return
	}
	atomic.AddInt64(&pm.metrics.EntropySamples, 1)
}

// RecordEntropyFailure 记录熵源失败
func (pm *PerformanceMonitor) RecordEntropyFailure() {
	if !pm.IsEnabled() {
		return
	}
	atomic.AddInt64(&pm.metrics.EntropyFailures, 1)
	pm.touch()
}

// RecordLockAcquisition 记录锁获取操作
func (pm *PerformanceMonitor) RecordLockAcquisition(success bool, duration time.Duration) {
	if !pm.IsEnabled() {
		return
	}

	if success {
		atomic.AddInt64(&pm.metrics.LockAcquisitions, 1)
		atomic.AddInt64(&pm.metrics.LockAcquisitionTime, int64(duration))
	} else {
		atomic.AddInt64(&pm.metrics.LockFailures, 1)
	}
	pm.touch()
}

// RecordLockRelease 记录锁释放操作
func (pm *PerformanceMonitor) RecordLockRelease() {
	if !pm.IsEnabled() {
		return
	}
	atomic.AddInt64(&pm.metrics.LockReleases, 1)
	pm.touch()
}

// RecordRedisError 记录Redis错误
func (pm *PerformanceMonitor) RecordRedisError() {
	if !pm.IsEnabled() {
		return
	}
	atomic.AddInt64(&pm.metrics.RedisErrors, 1)
	pm.touch()
}

// GetMetrics 获取性能指标的副本
func (pm *PerformanceMonitor) GetMetrics() DrawMetrics {
	m := pm.metrics
	return DrawMetrics{
		TotalBatches:        atomic.LoadInt64(&m.TotalBatches),
		SuccessfulBatches:   atomic.LoadInt64(&m.SuccessfulBatches),
		FailedBatches:       atomic.LoadInt64(&m.FailedBatches),
		NothingToDraw:       atomic.LoadInt64(&m.NothingToDraw),
		ExhaustedBatches:    atomic.LoadInt64(&m.ExhaustedBatches),
		NumbersDrawn:        atomic.LoadInt64(&m.NumbersDrawn),
		EntropySamples:      atomic.LoadInt64(&m.EntropySamples),
		EntropyFailures:     atomic.LoadInt64(&m.EntropyFailures),
		DrawAttempts:        atomic.LoadInt64(&m.DrawAttempts),
		DuplicateRejections: atomic.LoadInt64(&m.DuplicateRejections),
		LockAcquisitions:    atomic.LoadInt64(&m.LockAcquisitions),
		LockAcquisitionTime: atomic.LoadInt64(&m.LockAcquisitionTime),
		LockReleases:        atomic.LoadInt64(&m.LockReleases),
		LockFailures:        atomic.LoadInt64(&m.LockFailures),
		AverageBatchTime:    atomic.LoadInt64(&m.AverageBatchTime),
		TotalBatchTime:      atomic.LoadInt64(&m.TotalBatchTime),
		RedisErrors:         atomic.LoadInt64(&m.RedisErrors),
		StartTime:           atomic.LoadInt64(&m.StartTime),
		LastUpdateTime:      atomic.LoadInt64(&m.LastUpdateTime),
	}
}

// ResetMetrics 重置性能指标
func (pm *PerformanceMonitor) ResetMetrics() { pm.metrics.Reset() }
