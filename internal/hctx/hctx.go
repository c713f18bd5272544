package hctx

import "context"

// State carries per-attempt hooks from the engine into a running task body.
type State struct {
	RunID string
	Key   string

	report func(int) bool
	check  func() error
}

// New creates a state for one execution attempt. report records progress and
// returns false once the attempt is stale; check returns a non-nil error when
// the attempt was paused, canceled or stopped.
func New(runID, key string, report func(int) bool, check func() error) *State {
	return &State{RunID: runID, Key: key, report: report, check: check}
}

// Report forwards progress; it is true when no hook is installed.
func (s *State) Report(p int) bool {
	if s.report == nil {
		return true
	}
	return s.report(p)
}

// Check polls the control marks of the attempt.
func (s *State) Check() error {
	if s.check == nil {
		return nil
	}
	return s.check()
}

type ctxKey struct{}

// WithState returns a child context carrying the given handler state.
func WithState(parent context.Context, s *State) context.Context {
	return context.WithValue(parent, ctxKey{}, s)
}

// From extracts the handler state from context if present.
func From(ctx context.Context) (*State, bool) {
	v := ctx.Value(ctxKey{})
	if v == nil {
		return nil, false
	}
	st, ok := v.(*State)
	return st, ok
}
