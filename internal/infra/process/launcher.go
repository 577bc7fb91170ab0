package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"langd/internal/domain"
	"langd/internal/infra/telemetry"
)

// IOStreams is the wire pair of a spawned server: its stdout to read
// responses from, its stdin to write requests to.
type IOStreams struct {
	Reader io.ReadCloser
	Writer io.WriteCloser
}

// Handle owns one running server process.
type Handle struct {
	ID      string
	PID     int
	Streams IOStreams

	cmd    *exec.Cmd
	logger *zap.Logger

	stopOnce sync.Once
	stopErr  error
	done     chan error
}

// Done resolves when the process exits, with its exit error.
func (h *Handle) Done() <-chan error {
	return h.done
}

// Stop performs the escalating shutdown: close stdin, send the graceful
// terminate signal to the process group, and after the fixed escalation
// window force-kill the whole tree. It returns once the process is
// confirmed terminated or the forced kill has executed.
func (h *Handle) Stop(ctx context.Context) error {
	h.stopOnce.Do(func() {
		_ = h.Streams.Writer.Close()

		if err := terminateProcessTree(h.cmd.Process); err != nil {
			// Never fatal; fall back to the direct child.
			h.logger.Warn("terminate process group failed", zap.Error(err))
			if h.cmd.Process != nil {
				_ = h.cmd.Process.Kill()
			}
		}

		select {
		case h.stopErr = <-h.done:
			return
		case <-time.After(domain.ShutdownEscalationDelay):
		}

		if err := killProcessTree(h.cmd.Process); err != nil {
			h.logger.Warn("kill process group failed", zap.Error(err))
			if h.cmd.Process != nil {
				_ = h.cmd.Process.Kill()
			}
		}

		select {
		case h.stopErr = <-h.done:
		case <-ctx.Done():
			h.stopErr = ctx.Err()
		}
	})
	return h.stopErr
}

// Launcher spawns server executables with piped stdio.
type Launcher struct {
	logger *zap.Logger
}

func NewLauncher(logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{logger: logger.Named("launcher")}
}

// Start spawns execPath with the entry's args and env. The entry's env is
// merged over the parent environment, never replacing it.
func (l *Launcher) Start(ctx context.Context, cfg domain.ServerConfig, execPath string) (*Handle, error) {
	if strings.TrimSpace(execPath) == "" {
		return nil, fmt.Errorf("%w: executable path is required", domain.ErrInvalidCommand)
	}
	started := time.Now()
	l.logger.Info("spawn attempt",
		telemetry.EventField(telemetry.EventSpawnAttempt),
		telemetry.LanguageField(cfg.Language),
		telemetry.ExecutableField(execPath),
	)

	cmd := exec.CommandContext(ctx, execPath, cfg.Args...)
	cmd.Env = append(os.Environ(), formatEnv(cfg.Env)...)
	setupProcessHandling(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		l.logger.Error("spawn failed",
			telemetry.EventField(telemetry.EventSpawnFailure),
			telemetry.LanguageField(cfg.Language),
			telemetry.ExecutableField(execPath),
			telemetry.DurationField(time.Since(started)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("start command: %w", classifyStartError(err))
	}

	handle := &Handle{
		ID:      uuid.NewString(),
		PID:     cmd.Process.Pid,
		Streams: IOStreams{Reader: stdout, Writer: stdin},
		cmd:     cmd,
		logger:  l.logger,
		done:    make(chan error, 1),
	}

	downstreamLogger := l.logger.With(
		zap.String(telemetry.FieldLogSource, telemetry.LogSourceDownstream),
		telemetry.LanguageField(cfg.Language),
		zap.String(telemetry.FieldLogStream, "stderr"),
	)
	go mirrorStderr(stderr, downstreamLogger)
	go func() {
		handle.done <- cmd.Wait()
	}()

	l.logger.Info("spawned",
		telemetry.EventField(telemetry.EventSpawnSuccess),
		telemetry.LanguageField(cfg.Language),
		telemetry.InstanceIDField(handle.ID),
		zap.Int("pid", handle.PID),
		telemetry.DurationField(time.Since(started)),
	)
	return handle, nil
}

const maxStderrLineLength = 32 * 1024

func mirrorStderr(reader io.Reader, logger *zap.Logger) {
	// The buffer sits above the truncation cap so an oversized line surfaces
	// as one truncated entry; anything past the buffer is discarded.
	buf := bufio.NewReaderSize(reader, maxStderrLineLength+1024)
	for {
		line, isPrefix, err := buf.ReadLine()
		if len(line) > 0 {
			trimmed := strings.TrimRight(string(line), "\r\n")
			if trimmed != "" {
				if len(trimmed) > maxStderrLineLength {
					trimmed = trimmed[:maxStderrLineLength] + "... [truncated]"
				}
				logger.Info(trimmed)
			}
			if isPrefix {
				for isPrefix && err == nil {
					_, isPrefix, err = buf.ReadLine()
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func formatEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(env))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%s", k, env[k]))
	}
	return out
}

func classifyStartError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", domain.ErrExecutableNotFound, err.Error())
	}
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("%w: %s", domain.ErrPermissionDenied, err.Error())
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		if errors.Is(pathErr.Err, exec.ErrNotFound) || errors.Is(pathErr.Err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", domain.ErrExecutableNotFound, err.Error())
		}
		if errors.Is(pathErr.Err, os.ErrPermission) {
			return fmt.Errorf("%w: %s", domain.ErrPermissionDenied, err.Error())
		}
	}
	return err
}
