package stepctx

import (
	"errors"
	"fmt"
)

// SuspendKind distinguishes the two ways a run can durably park.
type SuspendKind string

const (
	KindEvent SuspendKind = "event"
	KindSleep SuspendKind = "sleep"
)

// Suspend is the control-flow signal AwaitEvent and Sleep raise once the
// datastore mutation parking the run has already committed. It is a plain
// Go error satisfying errors.As, not a panic: the Execution Engine catches
// it and returns normally rather than treating it as a handler failure.
type Suspend struct {
	Kind    SuspendKind
	Event   string
	Seconds int
}

func (s *Suspend) Error() string {
	if s.Kind == KindEvent {
		return fmt.Sprintf("stepctx: suspended awaiting event %q", s.Event)
	}
	return fmt.Sprintf("stepctx: suspended for %ds", s.Seconds)
}

// AsSuspend reports whether err (or one it wraps) is a Suspend signal.
func AsSuspend(err error) (*Suspend, bool) {
	var s *Suspend
	if errors.As(err, &s) {
		return s, true
	}
	return nil, false
}
