package match

import (
	"sort"
	"sync"
	"time"
)

// FrameState is the latest registration outcome of one frame.
type FrameState struct {
	FrameID   string        `json:"frameId"`
	Result    *Result       `json:"-"`
	Error     string        `json:"error,omitempty"`
	Soft      bool          `json:"soft,omitempty"` // Error is a caveat, Result is usable
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// Diagnostics returns the frame's diagnostics, zero when it failed hard.
func (s *FrameState) Diagnostics() Diagnostics {
	if s.Result == nil {
		return Diagnostics{}
	}
	return s.Result.Diagnostics
}

// StateTracker keeps the latest result of every frame for the HTTP endpoints.
type StateTracker struct {
	mu        sync.RWMutex
	frames    map[string]*FrameState
	reference string
}

// NewStateTracker creates a new state tracker
func NewStateTracker() *StateTracker {
	return &StateTracker{frames: make(map[string]*FrameState)}
}

// SetReference records the frame every other frame is registered against.
func (st *StateTracker) SetReference(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.reference = id
}

// Reference returns the reference frame ID.
func (st *StateTracker) Reference() string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.reference
}

// Update stores the outcome of one frame.
func (st *StateTracker) Update(r FrameResult) {
	fs := &FrameState{
		FrameID:   r.FrameID,
		Result:    r.Result,
		Duration:  r.Duration,
		Timestamp: time.Now(),
	}
	if r.Err != nil {
		fs.Error = r.Err.Error()
		fs.Soft = IsSoft(r.Err) && r.Result != nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	st.frames[r.FrameID] = fs
}

// Frame returns a copy of the state of one frame.
func (st *StateTracker) Frame(id string) (*FrameState, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	fs, ok := st.frames[id]
	if !ok {
		return nil, false
	}
	cp := *fs
	return &cp, true
}

// Frames returns copies of all frame states sorted by frame ID.
func (st *StateTracker) Frames() []*FrameState {
	st.mu.RLock()
	defer st.mu.RUnlock()

	result := make([]*FrameState, 0, len(st.frames))
	for _, fs := range st.frames {
		cp := *fs
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].FrameID < result[j].FrameID })
	return result
}

// HasFrames returns true if at least one frame has been processed
func (st *StateTracker) HasFrames() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.frames) > 0
}
