package domain

import "time"

const (
	DefaultMaxProcesses          = 8
	DefaultTimeoutMS             = 5000
	DefaultHealthCheckIntervalMS = 30000
	DefaultEnableFallback        = true

	DefaultMaxRestarts = 3

	// Backoff applied between automatic restarts.
	RestartBackoffBase = time.Second
	RestartBackoffCap  = 30 * time.Second

	// Window between the graceful terminate signal and the forced kill of
	// the process group.
	ShutdownEscalationDelay = 500 * time.Millisecond
)

// HealthCheckMethod is the JSON-RPC method used to probe a running server.
const HealthCheckMethod = "ping"

// InitializeMethod carries a server entry's init_options at startup.
const InitializeMethod = "initialize"
