package process

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"langd/internal/domain"
	"langd/internal/infra/rpc"
	"langd/internal/infra/telemetry"
)

// VerifyFunc resolves an executable name to a runnable path.
type VerifyFunc func(name string) (string, error)

// Supervisor owns one managed server process for one language. It runs the
// lifecycle state machine of the engine: Stopped → Starting → Running →
// {Unhealthy, ShuttingDown, Crashed}. The configuration passed in is never
// mutated, and restart_count is reset only by building a new supervisor.
//
// Health checks and idle checks run as independent periodic tasks that talk
// to the supervision loop through an event channel, so a stall in one never
// blocks the other.
type Supervisor struct {
	cfg      domain.ServerConfig
	global   domain.GlobalConfig
	language string

	logger   *zap.Logger
	metrics  *telemetry.Metrics
	launcher *Launcher
	verify   VerifyFunc
	ids      *rpc.IDGenerator

	mu           sync.Mutex
	state        atomic.Int32
	restartCount int
	backoff      *Backoff
	lastBackoff  time.Duration
	conn         *rpc.Conn
	handle       *Handle
	execPath     string
	startedAt    time.Time
	lastActivity atomic.Int64

	events chan supervisorEvent

	probeMu       sync.Mutex
	probeInFlight bool

	availMu  sync.Mutex
	availFns []domain.AvailabilityFunc
	availCh  chan bool

	notifyMu sync.RWMutex
	onNotify rpc.NotificationHandler

	ctx      context.Context
	cancel   context.CancelFunc
	loopOnce sync.Once
}

type eventKind int

const (
	evProcessExit eventKind = iota
	evHealthTick
	evIdleTick
	evProbeResult
)

type supervisorEvent struct {
	kind       eventKind
	instanceID string
	ok         bool
	err        error
}

type Options struct {
	Config  domain.ServerConfig
	Global  domain.GlobalConfig
	Logger  *zap.Logger
	Metrics *telemetry.Metrics
	// Verify resolves the configured executable; typically
	// discovery.VerifyExecutable.
	Verify VerifyFunc
	// IDs survives process restarts so request IDs are never reused.
	// A nil value gets a fresh generator.
	IDs *rpc.IDGenerator
}

func NewSupervisor(opts Options) *Supervisor {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	verify := opts.Verify
	if verify == nil {
		verify = func(name string) (string, error) { return name, nil }
	}
	s := &Supervisor{
		cfg:      opts.Config,
		global:   opts.Global,
		language: opts.Config.Language,
		logger:   logger.Named("supervisor").With(telemetry.LanguageField(opts.Config.Language)),
		metrics:  opts.Metrics,
		launcher: NewLauncher(logger),
		verify:   verify,
		ids:      opts.IDs,
		backoff:  NewBackoff(domain.RestartBackoffBase, domain.RestartBackoffCap),
		events:   make(chan supervisorEvent, 16),
		availCh:  make(chan bool, 16),
	}
	s.state.Store(int32(domain.StateStopped))
	return s
}

// State returns the current lifecycle state.
func (s *Supervisor) State() domain.ClientState {
	return domain.ClientState(s.state.Load())
}

// RestartCount returns the number of automatic restarts consumed so far.
func (s *Supervisor) RestartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restartCount
}

// CanRestart reports whether restart budget remains.
func (s *Supervisor) CanRestart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restartCount < s.cfg.MaxRestarts
}

// PrepareRestart consumes one unit of restart budget and returns the delay
// to wait before the attempt. Once the budget is exhausted it returns an
// error and leaves restart_count untouched. Returned delays never decrease
// and are capped at 30 seconds.
func (s *Supervisor) PrepareRestart() (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prepareRestartLocked()
}

func (s *Supervisor) prepareRestartLocked() (time.Duration, error) {
	if s.restartCount >= s.cfg.MaxRestarts {
		return 0, fmt.Errorf("%w: %d of %d restarts used", domain.ErrRestartExhausted, s.restartCount, s.cfg.MaxRestarts)
	}
	s.restartCount++
	s.lastBackoff = s.backoff.Next()
	if s.metrics != nil {
		s.metrics.ProcessRestarts.WithLabelValues(s.language).Inc()
	}
	return s.lastBackoff, nil
}

// OnAvailabilityChange registers a callback invoked on every transition
// into or out of Running.
func (s *Supervisor) OnAvailabilityChange(fn domain.AvailabilityFunc) {
	if fn == nil {
		return
	}
	s.availMu.Lock()
	s.availFns = append(s.availFns, fn)
	s.availMu.Unlock()
}

// OnNotification registers the handler for server-initiated notifications;
// it survives restarts.
func (s *Supervisor) OnNotification(handler rpc.NotificationHandler) {
	s.notifyMu.Lock()
	s.onNotify = handler
	s.notifyMu.Unlock()

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.OnNotification(handler)
	}
}

// Start spawns the server eagerly. A spawn failure from Stopped is
// terminal: the state machine moves to Crashed.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case domain.StateStopped:
	case domain.StateCrashed:
		return domain.ErrServerCrashed
	default:
		return nil
	}

	s.ensureLoop(ctx)
	if err := s.spawnLocked(); err != nil {
		s.setState(domain.StateCrashed)
		return domain.E(domain.CodeProcess, "supervisor.start", "", err)
	}
	s.setState(domain.StateStarting)
	return nil
}

// Call forwards a method call to the managed process, starting it on
// demand. The first successful response promotes Starting → Running.
func (s *Supervisor) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	conn, err := s.ensureRunning(ctx)
	if err != nil {
		return nil, err
	}

	timeout := s.cfg.RequestTimeout(s.global.DefaultTimeout())
	started := time.Now()
	result, err := conn.Call(ctx, method, params, timeout)
	s.observeCall(method, started, err)
	if err != nil {
		return nil, err
	}

	s.touch()
	if s.State() == domain.StateStarting {
		s.emit(supervisorEvent{kind: evProbeResult, instanceID: s.currentInstanceID(), ok: true})
	}
	return result, nil
}

// Notify sends a fire-and-forget notification to the managed process.
func (s *Supervisor) Notify(ctx context.Context, method string, params any) error {
	conn, err := s.ensureRunning(ctx)
	if err != nil {
		return err
	}
	s.touch()
	return conn.Notify(ctx, method, params)
}

// Shutdown stops the process with the escalating terminate/kill sequence
// and returns once termination is confirmed or the forced kill has run.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	state := s.State()
	if state == domain.StateStopped || state == domain.StateCrashed {
		s.mu.Unlock()
		if s.cancel != nil {
			s.cancel()
		}
		return nil
	}
	s.setState(domain.StateShuttingDown)
	handle := s.handle
	conn := s.conn
	s.handle = nil
	s.conn = nil
	s.mu.Unlock()

	var err error
	if conn != nil {
		_ = conn.Close()
	}
	if handle != nil {
		err = handle.Stop(ctx)
	}

	s.mu.Lock()
	s.setState(domain.StateStopped)
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if err != nil {
		s.logger.Warn("shutdown wait", telemetry.EventField(telemetry.EventStopFailure), zap.Error(err))
	} else {
		s.logger.Info("stopped", telemetry.EventField(telemetry.EventStopSuccess))
	}
	return nil
}

// Stats returns a point-in-time snapshot.
func (s *Supervisor) Stats() domain.ProcessStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := domain.ProcessStats{
		Language:     s.language,
		State:        s.State(),
		RestartCount: s.restartCount,
		LastBackoff:  s.lastBackoff,
		StartedAt:    s.startedAt,
	}
	if s.handle != nil {
		stats.InstanceID = s.handle.ID
		stats.PID = s.handle.PID
	}
	return stats
}

func (s *Supervisor) ensureRunning(ctx context.Context) (*rpc.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case domain.StateCrashed:
		return nil, domain.ErrServerCrashed
	case domain.StateShuttingDown:
		return nil, domain.ErrServerNotReady
	case domain.StateStopped:
		s.ensureLoop(ctx)
		if err := s.spawnLocked(); err != nil {
			s.setState(domain.StateCrashed)
			return nil, domain.E(domain.CodeProcess, "supervisor.call", "", err)
		}
		s.setState(domain.StateStarting)
	}
	if s.conn == nil {
		return nil, domain.ErrServerNotReady
	}
	return s.conn, nil
}

// spawnLocked resolves the executable, launches it, and wires the
// correlation layer. Must hold mu.
func (s *Supervisor) spawnLocked() error {
	execPath := s.execPath
	if execPath == "" {
		resolved, err := s.verify(s.cfg.Executable)
		if err != nil {
			return err
		}
		execPath = resolved
		s.execPath = resolved
	}

	handle, err := s.launcher.Start(s.ctx, s.cfg, execPath)
	if err != nil {
		return err
	}

	conn := rpc.NewConn(handle.Streams.Reader, handle.Streams.Writer, rpc.ConnOptions{
		Logger: s.logger,
		IDs:    s.ids,
	})
	s.notifyMu.RLock()
	handler := s.onNotify
	s.notifyMu.RUnlock()
	if handler != nil {
		conn.OnNotification(handler)
	}

	s.handle = handle
	s.conn = conn
	s.startedAt = time.Now()
	s.touch()

	go s.watchExit(handle)
	if len(s.cfg.InitOptions) > 0 {
		go s.sendInitialize(conn, handle.ID)
	}
	return nil
}

func (s *Supervisor) sendInitialize(conn *rpc.Conn, instanceID string) {
	timeout := s.cfg.RequestTimeout(s.global.DefaultTimeout())
	_, err := conn.Call(s.ctx, domain.InitializeMethod, s.cfg.InitOptions, timeout)
	if err != nil {
		s.logger.Warn("initialize failed", telemetry.InstanceIDField(instanceID), zap.Error(err))
		return
	}
	s.emit(supervisorEvent{kind: evProbeResult, instanceID: instanceID, ok: true})
}

func (s *Supervisor) watchExit(handle *Handle) {
	err := <-handle.Done()
	s.emit(supervisorEvent{kind: evProcessExit, instanceID: handle.ID, err: err})
}

func (s *Supervisor) ensureLoop(ctx context.Context) {
	s.loopOnce.Do(func() {
		// The supervisor outlives the request that first started it; only
		// Shutdown ends its lifecycle.
		s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
		go s.loop()
		go s.availabilityLoop()
		go s.healthLoop()
		if s.cfg.IdleTimeout() > 0 {
			go s.idleLoop()
		}
	})
}

// loop is the single consumer of supervisor events and the only goroutine
// that drives automatic restarts.
func (s *Supervisor) loop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.events:
			switch ev.kind {
			case evProcessExit:
				s.handleProcessExit(ev)
			case evHealthTick:
				s.startProbe()
			case evProbeResult:
				s.handleProbeResult(ev)
			case evIdleTick:
				s.handleIdleTick()
			}
		}
	}
}

func (s *Supervisor) healthLoop() {
	interval := s.global.HealthCheckInterval()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.emit(supervisorEvent{kind: evHealthTick})
		}
	}
}

func (s *Supervisor) idleLoop() {
	idle := s.cfg.IdleTimeout()
	interval := idle / 2
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.emit(supervisorEvent{kind: evIdleTick})
		}
	}
}

func (s *Supervisor) emit(ev supervisorEvent) {
	select {
	case s.events <- ev:
	default:
		// A full queue means the loop is already busy restarting; ticks
		// are safe to drop.
	}
}

func (s *Supervisor) handleProcessExit(ev supervisorEvent) {
	s.mu.Lock()
	if s.handle == nil || s.handle.ID != ev.instanceID {
		s.mu.Unlock()
		return
	}
	state := s.State()
	if state == domain.StateShuttingDown || state == domain.StateStopped {
		s.mu.Unlock()
		return
	}
	s.logger.Warn("process exited unexpectedly",
		telemetry.EventField(telemetry.EventHealthFailure),
		telemetry.InstanceIDField(ev.instanceID),
		zap.Error(ev.err),
	)
	s.teardownLocked()
	s.setState(domain.StateUnhealthy)
	s.mu.Unlock()

	s.restartUntilStarted()
}

func (s *Supervisor) startProbe() {
	state := s.State()
	if state != domain.StateRunning && state != domain.StateStarting {
		return
	}
	s.mu.Lock()
	conn := s.conn
	var instanceID string
	if s.handle != nil {
		instanceID = s.handle.ID
	}
	s.mu.Unlock()
	if conn == nil {
		return
	}

	s.probeMu.Lock()
	if s.probeInFlight {
		s.probeMu.Unlock()
		return
	}
	s.probeInFlight = true
	s.probeMu.Unlock()

	go func() {
		defer func() {
			s.probeMu.Lock()
			s.probeInFlight = false
			s.probeMu.Unlock()
		}()
		timeout := s.cfg.RequestTimeout(s.global.DefaultTimeout())
		_, err := conn.Call(s.ctx, domain.HealthCheckMethod, nil, timeout)
		s.emit(supervisorEvent{kind: evProbeResult, instanceID: instanceID, ok: err == nil, err: err})
	}()
}

func (s *Supervisor) handleProbeResult(ev supervisorEvent) {
	s.mu.Lock()
	if s.handle == nil || s.handle.ID != ev.instanceID {
		s.mu.Unlock()
		return
	}
	state := s.State()

	if ev.ok {
		if state == domain.StateStarting {
			s.setState(domain.StateRunning)
		}
		s.mu.Unlock()
		return
	}

	if state != domain.StateRunning && state != domain.StateStarting {
		s.mu.Unlock()
		return
	}
	s.logger.Warn("health check failed",
		telemetry.EventField(telemetry.EventHealthFailure),
		telemetry.InstanceIDField(ev.instanceID),
		zap.Error(ev.err),
	)
	handle := s.handle
	conn := s.conn
	s.handle = nil
	s.conn = nil
	s.setState(domain.StateUnhealthy)
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if handle != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*domain.ShutdownEscalationDelay)
		_ = handle.Stop(stopCtx)
		cancel()
	}

	s.restartUntilStarted()
}

func (s *Supervisor) handleIdleTick() {
	if s.State() != domain.StateRunning {
		return
	}
	idle := s.cfg.IdleTimeout()
	if idle <= 0 {
		return
	}
	last := time.Unix(0, s.lastActivity.Load())
	if time.Since(last) < idle {
		return
	}

	s.mu.Lock()
	if s.State() != domain.StateRunning {
		s.mu.Unlock()
		return
	}
	s.logger.Info("stopping idle server", telemetry.EventField(telemetry.EventIdleStop))
	s.setState(domain.StateShuttingDown)
	handle := s.handle
	conn := s.conn
	s.handle = nil
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if handle != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*domain.ShutdownEscalationDelay)
		_ = handle.Stop(stopCtx)
		cancel()
	}

	s.mu.Lock()
	// Idle stops do not consume restart budget.
	s.setState(domain.StateStopped)
	s.mu.Unlock()
}

// restartUntilStarted drives Unhealthy → Starting with backoff until a
// spawn sticks or the budget runs out.
func (s *Supervisor) restartUntilStarted() {
	for {
		s.mu.Lock()
		if s.State() != domain.StateUnhealthy {
			s.mu.Unlock()
			return
		}
		delay, err := s.prepareRestartLocked()
		if err != nil {
			s.logger.Error("restart budget exhausted",
				telemetry.EventField(telemetry.EventCrashed),
				zap.Int("restarts", s.restartCount),
			)
			s.setState(domain.StateCrashed)
			s.mu.Unlock()
			return
		}
		attempt := s.restartCount
		s.mu.Unlock()

		s.logger.Info("restarting",
			telemetry.EventField(telemetry.EventRestartAttempt),
			zap.Int("attempt", attempt),
			telemetry.DurationField(delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.mu.Lock()
		if s.State() != domain.StateUnhealthy {
			s.mu.Unlock()
			return
		}
		if err := s.spawnLocked(); err != nil {
			s.logger.Warn("restart spawn failed", zap.Error(err))
			s.mu.Unlock()
			continue
		}
		s.setState(domain.StateStarting)
		s.mu.Unlock()
		return
	}
}

// teardownLocked drops the dead handle and conn. Must hold mu.
func (s *Supervisor) teardownLocked() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.handle = nil
}

// setState performs a transition and fires availability callbacks on edges
// into or out of Running. Must hold mu.
func (s *Supervisor) setState(next domain.ClientState) {
	prev := domain.ClientState(s.state.Swap(int32(next)))
	if prev == next {
		return
	}
	if s.metrics != nil {
		up := 0.0
		if next == domain.StateRunning {
			up = 1.0
		}
		s.metrics.ProcessUp.WithLabelValues(s.language).Set(up)
	}
	s.logger.Debug("state transition",
		zap.String("from", prev.String()),
		telemetry.StateField(next.String()),
	)
	if prev == domain.StateRunning && next != domain.StateRunning {
		s.notifyAvailability(false)
	} else if next == domain.StateRunning && prev != domain.StateRunning {
		s.notifyAvailability(true)
	}
}

// notifyAvailability queues an availability edge. Delivery happens off the
// supervisor lock, in order, on the availability loop.
func (s *Supervisor) notifyAvailability(available bool) {
	select {
	case s.availCh <- available:
	default:
		s.logger.Warn("availability event dropped")
	}
}

func (s *Supervisor) availabilityLoop() {
	deliver := func(available bool) {
		s.availMu.Lock()
		fns := make([]domain.AvailabilityFunc, len(s.availFns))
		copy(fns, s.availFns)
		s.availMu.Unlock()
		for _, fn := range fns {
			fn(s.language, available)
		}
	}
	for {
		select {
		case <-s.ctx.Done():
			for {
				select {
				case available := <-s.availCh:
					deliver(available)
				default:
					return
				}
			}
		case available := <-s.availCh:
			deliver(available)
		}
	}
}

func (s *Supervisor) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *Supervisor) currentInstanceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return ""
	}
	return s.handle.ID
}

func (s *Supervisor) observeCall(method string, started time.Time, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		if code, ok := domain.CodeFrom(err); ok {
			outcome = string(code)
		} else {
			outcome = "error"
		}
	}
	s.metrics.RPCRequests.WithLabelValues(s.language, method, outcome).Inc()
	s.metrics.RPCDuration.WithLabelValues(s.language, method).Observe(time.Since(started).Seconds())
}
