package domain

import "time"

// ClientState tracks a managed server process through its lifecycle.
type ClientState int

const (
	// StateStopped is the initial state and the result of a clean shutdown.
	StateStopped ClientState = iota
	// StateStarting means the executable has been spawned but not yet probed.
	StateStarting
	// StateRunning means the process answered a health probe or an RPC.
	StateRunning
	// StateUnhealthy means a probe failed or the process exited while
	// restart budget remains.
	StateUnhealthy
	// StateShuttingDown means an explicit shutdown is in flight.
	StateShuttingDown
	// StateCrashed is terminal: the restart budget is exhausted.
	StateCrashed
)

func (s ClientState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateUnhealthy:
		return "unhealthy"
	case StateShuttingDown:
		return "shutting_down"
	case StateCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// AvailabilityFunc is invoked whenever a managed process transitions into
// or out of StateRunning.
type AvailabilityFunc func(language string, available bool)

// ProcessStats is a point-in-time snapshot of one managed process.
type ProcessStats struct {
	Language     string
	InstanceID   string
	PID          int
	State        ClientState
	RestartCount int
	LastBackoff  time.Duration
	StartedAt    time.Time
}
