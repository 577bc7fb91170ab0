package telemetry

import (
	"time"

	"go.uber.org/zap"
)

const (
	FieldEvent      = "event"
	FieldLanguage   = "language"
	FieldInstanceID = "instanceID"
	FieldExecutable = "executable"
	FieldState      = "state"
	FieldDurationMs = "duration_ms"
	FieldLogSource  = "log_source"
	FieldLogStream  = "stream"
	FieldMethod     = "method"
	FieldRequestID  = "request_id"
)

const (
	EventSpawnAttempt   = "spawn_attempt"
	EventSpawnSuccess   = "spawn_success"
	EventSpawnFailure   = "spawn_failure"
	EventHealthFailure  = "health_failure"
	EventRestartAttempt = "restart_attempt"
	EventCrashed        = "crashed"
	EventIdleStop       = "idle_stop"
	EventStopSuccess    = "stop_success"
	EventStopFailure    = "stop_failure"
	EventReloadSuccess  = "reload_success"
	EventReloadFailure  = "reload_failure"
)

const (
	LogSourceCore       = "core"
	LogSourceDownstream = "downstream"
)

func EventField(event string) zap.Field {
	return zap.String(FieldEvent, event)
}

func LanguageField(language string) zap.Field {
	return zap.String(FieldLanguage, language)
}

func InstanceIDField(instanceID string) zap.Field {
	return zap.String(FieldInstanceID, instanceID)
}

func ExecutableField(executable string) zap.Field {
	return zap.String(FieldExecutable, executable)
}

func StateField(state string) zap.Field {
	return zap.String(FieldState, state)
}

func DurationField(duration time.Duration) zap.Field {
	return zap.Int64(FieldDurationMs, duration.Milliseconds())
}

func MethodField(method string) zap.Field {
	return zap.String(FieldMethod, method)
}

func RequestIDField(id int64) zap.Field {
	return zap.Int64(FieldRequestID, id)
}
