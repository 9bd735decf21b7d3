package subscriber

// LifecycleState is the state of a Connection. States only move forward;
// Stopped is terminal.
type LifecycleState int

const (
	StateDisconnected LifecycleState = iota
	StateConnecting
	StateRunning
	StateStopping
	StateStopped
)

func (s LifecycleState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// canTransition reports whether moving from s to next keeps the lifecycle
// monotonic.
func (s LifecycleState) canTransition(next LifecycleState) bool {
	return next > s && next <= StateStopped
}
