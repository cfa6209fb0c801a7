package engine

type State int

const (
	StateLaunched State = iota
	StateNavigating
	StateReady
	StateNavigationFailed
	StateNavigationTimedOut
	StateCaptured
	StateCaptureFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateLaunched:
		return "Launched"
	case StateNavigating:
		return "Navigating"
	case StateReady:
		return "Ready"
	case StateNavigationFailed:
		return "NavigationFailed"
	case StateNavigationTimedOut:
		return "NavigationTimedOut"
	case StateCaptured:
		return "Captured"
	case StateCaptureFailed:
		return "CaptureFailed"
	case StateClosed:
		return "Closed"
	}
	return "Unknown"
}

// canTransition reports whether a handle in state s may move to next.
// Closed is reachable from every state and is terminal.
func (s State) canTransition(next State) bool {
	if s == StateClosed {
		return false
	}
	if next == StateClosed {
		return true
	}
	switch s {
	case StateLaunched:
		return next == StateNavigating
	case StateNavigating:
		return next == StateReady || next == StateNavigationFailed || next == StateNavigationTimedOut
	case StateReady:
		return next == StateCaptured || next == StateCaptureFailed
	}
	return false
}
