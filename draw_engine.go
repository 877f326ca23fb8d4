package raffle

import (
	"errors"
	"math"
	"time"
)

// RangeSpec is the inclusive interval [Min, Max] of eligible integers
type RangeSpec struct {
	Min int `json:"min" mapstructure:"min"`
	Max int `json:"max" mapstructure:"max"`
}

// span returns Max-Min without overflow. Only meaningful when Max >= Min.
func (r RangeSpec) span() uint64 { return uint64(r.Max) - uint64(r.Min) }

// Size returns the number of integers in the range, saturating at math.MaxUint64
func (r RangeSpec) Size() uint64 {
	if r.Max < r.Min {
		return 0
	}
	s := r.span()
	if s == math.MaxUint64 {
		return s
	}
	return s + 1
}

// Contains reports whether n lies within the range
func (r RangeSpec) Contains(n int) bool { return n >= r.Min && n <= r.Max }

// Validate checks Max > Min
func (r RangeSpec) Validate() error {
	if r.Max <= r.Min {
		return ErrInvalidRange.WithDetailsf("min=%d, max=%d", r.Min, r.Max)
	}
	return nil
}

// DrawRequest describes one round: the range, how many numbers it yields in total
// and whether they are delivered in a single batch
type DrawRequest struct {
	Range     RangeSpec `json:"range" mapstructure:"range"`
	Quantity  int       `json:"quantity" mapstructure:"quantity"`
	AllAtOnce bool      `json:"all_at_once" mapstructure:"all_at_once"`
}

// Validate checks the range and 0 < Quantity <= Size
func (r DrawRequest) Validate() error {
	if err := r.Range.Validate(); err != nil {
		return err
	}
	return r.validateQuantity()
}

func (r DrawRequest) validateQuantity() error {
	if r.Quantity <= 0 || uint64(r.Quantity) > r.Range.Size() {
		return ErrInvalidQuantity.WithDetailsf("quantity=%d, range size=%d", r.Quantity, r.Range.Size())
	}
	return nil
}

// DrawBatch is the ordered output of one DrawBatch call; order is acceptance order
type DrawBatch []int

// ExclusionSet holds the numbers already drawn in the current session
type ExclusionSet map[int]struct{}

// NewExclusionSet builds an exclusion set from a session history
func NewExclusionSet(history ...int) ExclusionSet {
	s := make(ExclusionSet, len(history))
	s.Add(history...)
	return s
}

// Add inserts numbers into the set
func (s ExclusionSet) Add(numbers ...int) {
	for _, n := range numbers {
		s[n] = struct{}{}
	}
}

// Contains reports whether n has already been drawn
func (s ExclusionSet) Contains(n int) bool {
	_, ok := s[n]
	return ok
}

// countIn returns how many members fall inside r
func (s ExclusionSet) countIn(r RangeSpec) uint64 {
	var n uint64
	for v := range s {
		if r.Contains(v) {
			n++
		}
	}
	return n
}

// DrawEngine draws unique, uniformly distributed integers.
//
// The engine holds no session state: every call receives the exclusion set
// and never writes to it. Callers sharing one history must serialize their calls.
type DrawEngine struct {
	source      EntropySource
	maxAttempts int
	logger      Logger

	performanceMonitor *PerformanceMonitor
}

// NewDrawEngine creates a draw engine with default settings
func NewDrawEngine(source EntropySource) *DrawEngine {
	return NewDrawEngineWithConfig(source, DefaultDrawConfig(), &DefaultLogger{})
}

// NewDrawEngineWithLogger creates a draw engine with default settings and a custom logger
func NewDrawEngineWithLogger(source EntropySource, logger Logger) *DrawEngine {
	return NewDrawEngineWithConfig(source, DefaultDrawConfig(), logger)
}

// NewDrawEngineWithConfig creates a draw engine with custom configuration and logger
func NewDrawEngineWithConfig(source EntropySource, config *DrawConfig, logger Logger) *DrawEngine {
	if config == nil {
		config = DefaultDrawConfig()
	}
	if logger == nil {
		logger = &DefaultLogger{}
	}
	maxAttempts := config.MaxAttempts
	if maxAttempts < MinMaxDrawAttempts {
		maxAttempts = DefaultMaxDrawAttempts
	}

	return &DrawEngine{
		source:      source,
		maxAttempts: maxAttempts,
		logger:      logger,

		performanceMonitor: NewPerformanceMonitor(),
	}
}

// NewDrawEngineFromConfig creates a draw engine whose entropy source is chosen by the configuration
func NewDrawEngineFromConfig(config *DrawConfig, logger Logger) *DrawEngine {
	return NewDrawEngineWithConfig(NewEntropySourceFromConfig(config), config, logger)
}

// MaxAttempts returns the per-call entropy sample ceiling
func (e *DrawEngine) MaxAttempts() int { return e.maxAttempts }

// Validate checks a request without drawing
func (e *DrawEngine) Validate(req DrawRequest) error { return req.Validate() }

// DrawUniformInt returns an integer in [min, max].
//
// A 32-bit entropy value v is normalized to f = v / 2^32 in [0, 1) and scaled by the
// range size. Remainder reduction must not be used here: it favours low values
// whenever the range size does not divide 2^32.
func (e *DrawEngine) DrawUniformInt(min, max int) (int, error) {
	if min > max {
		return 0, ErrInvalidRange.WithDetailsf("min=%d, max=%d", min, max)
	}
	if min == max {
		return min, nil
	}

	v, err := e.source.Uint32()
	if err != nil {
		e.performanceMonitor.RecordEntropyFailure()
		if errors.Is(err, ErrEntropySourceUnavailable) {
			return 0, err
		}
		return 0, ErrEntropySourceUnavailable.WithCause(err)
	}
	e.performanceMonitor.RecordEntropySample()

	span := RangeSpec{Min: min, Max: max}.span()
	f := float64(v) / entropyModulus
	offset := uint64(math.Floor(f * (float64(span) + 1)))

	// float64 rounding can only push the product up to span+1 for ranges near 2^53
	if offset > span {
		offset = span
	}
	return int(uint64(min) + offset), nil
}

// DrawBatch draws the next batch for a round.
//
// In all-at-once mode the batch completes the round; otherwise it holds a single
// number. ErrNothingToDraw means the round already has its quantity. A failed call
// returns no numbers.
func (e *DrawEngine) DrawBatch(req DrawRequest, excluded ExclusionSet) (DrawBatch, error) {
	e.logger.Debug("DrawBatch called with min=%d, max=%d, quantity=%d, allAtOnce=%v, excluded=%d",
		req.Range.Min, req.Range.Max, req.Quantity, req.AllAtOnce, len(excluded))

	startTime := time.Now()
	batch, err := e.drawBatch(req, excluded)
	duration := time.Since(startTime)

	switch {
	case err == nil:
		e.performanceMonitor.RecordBatch(true, len(batch), duration)
	case errors.Is(err, ErrNothingToDraw):
		e.performanceMonitor.RecordNothingToDraw()
	default:
		e.performanceMonitor.RecordBatch(false, 0, duration)
	}
	return batch, err
}

func (e *DrawEngine) drawBatch(req DrawRequest, excluded ExclusionSet) (DrawBatch, error) {
	// A single-value range is structurally drawable even though Validate rejects it.
	if req.Range.Max < req.Range.Min {
		e.logger.Error("DrawBatch validation failed: min=%d > max=%d", req.Range.Min, req.Range.Max)
		return nil, ErrInvalidRange.WithDetailsf("min=%d, max=%d", req.Range.Min, req.Range.Max)
	}
	if err := req.validateQuantity(); err != nil {
		e.logger.Error("DrawBatch validation failed: %v", err)
		return nil, err
	}

	remaining := req.Quantity - len(excluded)
	if remaining <= 0 {
		e.logger.Debug("DrawBatch: quantity %d already reached", req.Quantity)
		return nil, ErrNothingToDraw
	}

	countToDraw := 1
	if req.AllAtOnce {
		countToDraw = remaining
	}

	unseen := req.Range.Size() - excluded.countIn(req.Range)
	if unseen < uint64(countToDraw) {
		e.performanceMonitor.RecordExhausted()
		e.logger.Error("DrawBatch anomaly: only %d unseen values in [%d, %d] for %d requested",
			unseen, req.Range.Min, req.Range.Max, countToDraw)
		return nil, ErrDrawExhausted.WithDetailsf("unseen=%d, requested=%d", unseen, countToDraw)
	}

	batch := make(DrawBatch, 0, countToDraw)
	accepted := make(map[int]struct{}, countToDraw)
	attempts, rejections := 0, 0

	for len(batch) < countToDraw {
		if attempts >= e.maxAttempts {
			e.performanceMonitor.RecordAttempts(attempts, rejections)
			e.performanceMonitor.RecordExhausted()
			e.logger.Error("DrawBatch anomaly: attempt ceiling %d reached with %d/%d numbers in [%d, %d]",
				e.maxAttempts, len(batch), countToDraw, req.Range.Min, req.Range.Max)
			return nil, ErrDrawExhausted.WithDetailsf("attempts=%d, accepted=%d, requested=%d",
				attempts, len(batch), countToDraw)
		}
		attempts++

		candidate, err := e.DrawUniformInt(req.Range.Min, req.Range.Max)
		if err != nil {
			e.performanceMonitor.RecordAttempts(attempts, rejections)
			e.logger.Error("DrawBatch aborted after %d attempts: %v", attempts, err)
			return nil, err
		}

		if excluded.Contains(candidate) {
			rejections++
			continue
		}
		if _, dup := accepted[candidate]; dup {
			rejections++
			continue
		}

		accepted[candidate] = struct{}{}
		batch = append(batch, candidate)
	}

	e.performanceMonitor.RecordAttempts(attempts, rejections)
	e.logger.Debug("DrawBatch drew %d numbers in %d attempts (%d duplicates rejected)",
		len(batch), attempts, rejections)
	return batch, nil
}

// GetPerformanceMetrics returns a snapshot of the engine metrics
func (e *DrawEngine) GetPerformanceMetrics() DrawMetrics {
	return e.performanceMonitor.GetMetrics()
}

// ResetPerformanceMetrics clears the engine metrics
func (e *DrawEngine) ResetPerformanceMetrics() { e.performanceMonitor.ResetMetrics() }

// EnablePerformanceMonitoring turns metric collection on
func (e *DrawEngine) EnablePerformanceMonitoring() { e.performanceMonitor.Enable() }

// DisablePerformanceMonitoring turns metric collection off
func (e *DrawEngine) DisablePerformanceMonitoring() { e.performanceMonitor.Disable() }
