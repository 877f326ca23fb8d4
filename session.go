package raffle

import (
	"slices"
	"sync"
	"time"
)

// RoundPhase is the position of a round in its lifecycle
type RoundPhase string

const (
	PhaseIdle          RoundPhase = "idle"
	PhaseAwaitingDraw  RoundPhase = "awaiting_draw"
	PhaseDrawnPartial  RoundPhase = "drawn_partial"
	PhaseDrawnComplete RoundPhase = "drawn_complete"
)

// SessionState is the caller-owned record of one round: the request, the numbers
// drawn so far in draw order, and the most recent batch
type SessionState struct {
	SessionID      string      `json:"session_id,omitempty"`
	Request        DrawRequest `json:"request"`
	History        []int       `json:"history"`
	CurrentDraw    []int       `json:"current_draw,omitempty"`
	Phase          RoundPhase  `json:"phase"`
	StartTime      int64       `json:"start_time"`
	LastUpdateTime int64       `json:"last_update_time"`
}

// NewSessionState creates an idle session state for the request
func NewSessionState(sessionID string, req DrawRequest) *SessionState {
	now := time.Now().Unix()
	return &SessionState{
		SessionID:      sessionID,
		Request:        req,
		History:        []int{},
		Phase:          PhaseIdle,
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Validate checks the request and that the history is a duplicate-free, in-range
// sequence no longer than the quantity and consistent with the phase
func (s *SessionState) Validate() error {
	if err := s.Request.Validate(); err != nil {
		return err
	}
	if len(s.History) > s.Request.Quantity {
		return ErrSessionCorrupted.WithDetailsf("history length %d exceeds quantity %d", len(s.History), s.Request.Quantity)
	}

	seen := make(map[int]struct{}, len(s.History))
	for _, n := range s.History {
		if !s.Request.Range.Contains(n) {
			return ErrSessionCorrupted.WithDetailsf("number %d outside [%d, %d]", n, s.Request.Range.Min, s.Request.Range.Max)
		}
		if _, dup := seen[n]; dup {
			return ErrSessionCorrupted.WithDetailsf("duplicate number %d in history", n)
		}
		seen[n] = struct{}{}
	}

	switch s.Phase {
	case PhaseIdle, PhaseAwaitingDraw:
		if len(s.History) != 0 {
			return ErrSessionCorrupted.WithDetailsf("phase %s with %d drawn numbers", s.Phase, len(s.History))
		}
	case PhaseDrawnPartial:
		if len(s.History) == 0 || len(s.History) >= s.Request.Quantity {
			return ErrSessionCorrupted.WithDetailsf("phase %s with %d/%d drawn numbers", s.Phase, len(s.History), s.Request.Quantity)
		}
	case PhaseDrawnComplete:
		if len(s.History) != s.Request.Quantity {
			return ErrSessionCorrupted.WithDetailsf("phase %s with %d/%d drawn numbers", s.Phase, len(s.History), s.Request.Quantity)
		}
	default:
		return ErrSessionCorrupted.WithDetailsf("unknown phase %q", s.Phase)
	}

	if s.StartTime <= 0 {
		return ErrSessionCorrupted.WithDetails("missing start time")
	}
	return nil
}

// IsComplete returns true once the quantity has been drawn
func (s *SessionState) IsComplete() bool { return len(s.History) >= s.Request.Quantity }

// Remaining returns how many numbers are still owed to the round
func (s *SessionState) Remaining() int {
	if r := s.Request.Quantity - len(s.History); r > 0 {
		return r
	}
	return 0
}

// Progress returns the completion progress as a percentage
func (s *SessionState) Progress() float64 {
	if s.Request.Quantity == 0 {
		return 0.0
	}
	return float64(len(s.History)) / float64(s.Request.Quantity) * 100.0
}

// Exclusions returns the history as an exclusion set
func (s *SessionState) Exclusions() ExclusionSet { return NewExclusionSet(s.History...) }

// Clone returns a deep copy
func (s *SessionState) Clone() *SessionState {
	c := *s
	c.History = slices.Clone(s.History)
	c.CurrentDraw = slices.Clone(s.CurrentDraw)
	return &c
}

func (s *SessionState) start() {
	s.History = []int{}
	s.CurrentDraw = nil
	s.Phase = PhaseAwaitingDraw
	s.StartTime = time.Now().Unix()
	s.LastUpdateTime = s.StartTime
}

func (s *SessionState) commit(batch DrawBatch) {
	s.History = append(s.History, batch...)
	s.CurrentDraw = slices.Clone(batch)
	if s.IsComplete() {
		s.Phase = PhaseDrawnComplete
	} else {
		s.Phase = PhaseDrawnPartial
	}
	s.LastUpdateTime = time.Now().Unix()
}

func (s *SessionState) reset() {
	s.History = []int{}
	s.CurrentDraw = nil
	s.Phase = PhaseIdle
	s.LastUpdateTime = time.Now().Unix()
}

// drawNext runs one engine call against the state and commits the result.
// On failure the state is left untouched, including an idle phase.
func (s *SessionState) drawNext(engine *DrawEngine) (DrawBatch, error) {
	next := s.Clone()
	if next.Phase == PhaseIdle {
		next.start()
	}
	batch, err := engine.DrawBatch(next.Request, next.Exclusions())
	if err != nil {
		return nil, err
	}
	next.commit(batch)
	*s = *next
	return batch, nil
}

// DrawSession is an in-process round: it owns the history the engine needs on every
// call and serializes callers with a mutex
type DrawSession struct {
	mu     sync.Mutex
	engine *DrawEngine
	state  *SessionState
}

// NewDrawSession validates the request and returns an idle session
func NewDrawSession(engine *DrawEngine, req DrawRequest) (*DrawSession, error) {
	if err := engine.Validate(req); err != nil {
		return nil, err
	}
	return &DrawSession{engine: engine, state: NewSessionState("", req)}, nil
}

// RestoreDrawSession resumes a session from a snapshot
func RestoreDrawSession(engine *DrawEngine, state *SessionState) (*DrawSession, error) {
	if state == nil {
		return nil, ErrInvalidParameters.WithDetails("nil session state")
	}
	if err := state.Validate(); err != nil {
		return nil, err
	}
	return &DrawSession{engine: engine, state: state.Clone()}, nil
}

// Start begins a new round with an empty history
func (s *DrawSession) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.start()
}

// Draw draws the next batch and appends it to the history.
// Drawing from an idle session starts the round.
func (s *DrawSession) Draw() (DrawBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.drawNext(s.engine)
}

// Reset discards the history and returns the session to idle
func (s *DrawSession) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.reset()
}

// History returns the numbers drawn so far in draw order
func (s *DrawSession) History() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.state.History)
}

// CurrentDraw returns the most recent batch
func (s *DrawSession) CurrentDraw() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.state.CurrentDraw)
}

// Remaining returns how many numbers the round still owes
func (s *DrawSession) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.Remaining()
}

// IsFinished reports whether the quantity has been reached
func (s *DrawSession) IsFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.Phase == PhaseDrawnComplete
}

// Phase returns the current round phase
func (s *DrawSession) Phase() RoundPhase {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.Phase
}

// Request returns the request the session was created with
func (s *DrawSession) Request() DrawRequest { return s.state.Request }

// Snapshot returns a copy of the session state
func (s *DrawSession) Snapshot() *SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.Clone()
}
