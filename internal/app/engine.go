package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"langd/internal/domain"
	"langd/internal/infra/normalize"
	"langd/internal/infra/process"
	"langd/internal/infra/rpc"
	"langd/internal/infra/telemetry"
)

// Host-facing operation methods of the analyzer protocol.
const (
	MethodDiagnostics = "diagnostics"
	MethodHover       = "hover"
	MethodCompletion  = "completion"
)

// RegistrySource supplies the engine with merged registry snapshots and
// reload notifications. *RegistryProvider is the production implementation.
type RegistrySource interface {
	Snapshot() domain.ServerRegistry
	Subscribe() <-chan domain.ServerRegistry
}

// Engine is the host-facing facade: one supervisor per enabled language,
// normalized results, internal fallback when the external side cannot
// serve. Supervisors spawn their processes on first use, so the number of
// supervisors, bounded by max_processes, is the upper bound on live
// processes.
type Engine struct {
	logger    *zap.Logger
	metrics   *telemetry.Metrics
	mapper    *normalize.Mapper
	verify    process.VerifyFunc
	providers *ProviderRegistry
	source    RegistrySource

	mu       sync.RWMutex
	registry domain.ServerRegistry
	servers  map[string]*serverEntry
	ids      map[string]*rpc.IDGenerator

	availMu  sync.Mutex
	availFns []domain.AvailabilityFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type serverEntry struct {
	cfg domain.ServerConfig
	sup *process.Supervisor
}

type EngineOptions struct {
	Logger  *zap.Logger
	Metrics *telemetry.Metrics
	Source  RegistrySource
	// Verify resolves executables; typically discovery.VerifyExecutable.
	Verify    process.VerifyFunc
	Providers *ProviderRegistry
	Mapper    *normalize.Mapper
}

func NewEngine(opts EngineOptions) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	providers := opts.Providers
	if providers == nil {
		providers = NewProviderRegistry()
	}
	mapper := opts.Mapper
	if mapper == nil {
		mapper = normalize.NewMapper()
	}
	return &Engine{
		logger:    logger.Named("engine"),
		metrics:   opts.Metrics,
		mapper:    mapper,
		verify:    opts.Verify,
		providers: providers,
		source:    opts.Source,
		servers:   make(map[string]*serverEntry),
		ids:       make(map[string]*rpc.IDGenerator),
	}
}

// Start builds supervisors from the current snapshot and begins applying
// registry updates. It does not spawn processes; those start on demand.
func (e *Engine) Start(ctx context.Context) error {
	if e.source == nil {
		return fmt.Errorf("engine requires a registry source")
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.applyRegistry(e.source.Snapshot())

	updates := e.source.Subscribe()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-e.ctx.Done():
				return
			case reg := <-updates:
				e.applyRegistry(reg)
			}
		}
	}()
	return nil
}

// OnAvailabilityChange registers a callback fired when any language's
// server transitions into or out of Running. Registrations survive
// configuration reloads.
func (e *Engine) OnAvailabilityChange(fn domain.AvailabilityFunc) {
	if fn == nil {
		return
	}
	e.availMu.Lock()
	e.availFns = append(e.availFns, fn)
	e.availMu.Unlock()
}

// Diagnostics asks the language's server for diagnostics and returns them
// in the normalized shape.
func (e *Engine) Diagnostics(ctx context.Context, language string, params any) ([]domain.Diagnostic, error) {
	entry, err := e.serverFor(language)
	if err != nil {
		return nil, err
	}
	result, err := entry.sup.Call(ctx, MethodDiagnostics, params)
	if err != nil {
		return nil, err
	}
	return e.mapper.MapDiagnostics(wrapResult(result), diagnosticsRules(entry.cfg))
}

// Hover asks the language's server for hover content. A nil hover with a
// nil error means the server had nothing to say for that position.
func (e *Engine) Hover(ctx context.Context, language string, params any) (*domain.Hover, error) {
	entry, err := e.serverFor(language)
	if err != nil {
		return nil, err
	}
	result, err := entry.sup.Call(ctx, MethodHover, params)
	if err != nil {
		return nil, err
	}
	return e.mapper.MapHover(wrapResult(result), hoverRules(entry.cfg))
}

// Completions merges the external server's completions with the internal
// provider's. When fallback is enabled an external failure degrades to
// internal-only results instead of an error.
func (e *Engine) Completions(ctx context.Context, language string, req domain.CompletionRequest) ([]domain.CompletionItem, error) {
	fallback := e.currentRegistry().Global.EnableFallback

	external, extErr := e.externalCompletions(ctx, language, req)
	if extErr != nil && !fallback {
		return nil, extErr
	}
	if extErr != nil {
		e.logger.Debug("external completions unavailable, using fallback",
			telemetry.LanguageField(language),
			zap.Error(extErr),
		)
	}

	var internal []domain.CompletionItem
	if fallback {
		internal = e.providers.For(language).Complete(ctx, req)
	}
	merged := normalize.MergeCompletions(external, internal, domain.MergeConfig{
		IncludeInternal: fallback,
		Deduplicate:     true,
	})
	return merged, nil
}

func (e *Engine) externalCompletions(ctx context.Context, language string, req domain.CompletionRequest) ([]domain.CompletionItem, error) {
	entry, err := e.serverFor(language)
	if err != nil {
		return nil, err
	}
	result, err := entry.sup.Call(ctx, MethodCompletion, req)
	if err != nil {
		return nil, err
	}
	items, err := decodeCompletionItems(result)
	if err != nil {
		return nil, domain.E(domain.CodeProtocol, "engine.completions", "decode completion result", err)
	}
	for i := range items {
		items[i].Source = domain.CompletionSourceExternal
	}
	return items, nil
}

// decodeCompletionItems accepts both a bare array result and the object
// form {"items": [...]}.
func decodeCompletionItems(result json.RawMessage) ([]domain.CompletionItem, error) {
	trimmed := bytes.TrimSpace(result)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var items []domain.CompletionItem
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	var wrapped struct {
		Items []domain.CompletionItem `json:"items"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Items, nil
}

// Notify forwards a fire-and-forget notification to a language's server.
func (e *Engine) Notify(ctx context.Context, language, method string, params any) error {
	entry, err := e.serverFor(language)
	if err != nil {
		return err
	}
	return entry.sup.Notify(ctx, method, params)
}

// Stats snapshots every supervised process, sorted by language.
func (e *Engine) Stats() []domain.ProcessStats {
	e.mu.RLock()
	entries := make([]*serverEntry, 0, len(e.servers))
	for _, entry := range e.servers {
		entries = append(entries, entry)
	}
	e.mu.RUnlock()

	stats := make([]domain.ProcessStats, 0, len(entries))
	for _, entry := range entries {
		stats = append(stats, entry.sup.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Language < stats[j].Language })
	return stats
}

// Shutdown stops every supervised process and the update loop.
func (e *Engine) Shutdown(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Lock()
	entries := make([]*serverEntry, 0, len(e.servers))
	for _, entry := range e.servers {
		entries = append(entries, entry)
	}
	e.servers = make(map[string]*serverEntry)
	e.mu.Unlock()

	var wg sync.WaitGroup
	for _, entry := range entries {
		wg.Add(1)
		go func(entry *serverEntry) {
			defer wg.Done()
			_ = entry.sup.Shutdown(ctx)
		}(entry)
	}
	wg.Wait()
	e.wg.Wait()
	return nil
}

func (e *Engine) currentRegistry() domain.ServerRegistry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry
}

func (e *Engine) serverFor(language string) (*serverEntry, error) {
	e.mu.RLock()
	entry, ok := e.servers[language]
	reg := e.registry
	e.mu.RUnlock()
	if ok {
		return entry, nil
	}

	entries := reg.ServersFor(language)
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownLanguage, language)
	}
	if _, enabled := reg.PrimaryFor(language); !enabled {
		return nil, fmt.Errorf("%w: %s", domain.ErrServerDisabled, language)
	}
	return nil, domain.E(domain.CodeUnavailable, "engine", fmt.Sprintf("max_processes reached, no slot for %s", language), nil)
}

// applyRegistry reconciles the supervisor set against a new snapshot.
// Unchanged entries keep their supervisor; changed or removed entries are
// shut down, and changed ones come back fresh, which also revives a
// Crashed server with a reset restart budget. Request ID generators are
// shared per language so IDs stay unique across rebuilds.
func (e *Engine) applyRegistry(reg domain.ServerRegistry) {
	desired := make(map[string]domain.ServerConfig)
	languages := reg.Languages()
	sort.Strings(languages)
	for _, lang := range languages {
		cfg, ok := reg.PrimaryFor(lang)
		if !ok {
			continue
		}
		if reg.Global.MaxProcesses > 0 && len(desired) >= reg.Global.MaxProcesses {
			e.logger.Warn("max_processes reached, language not supervised",
				telemetry.LanguageField(lang),
				zap.Int("max_processes", reg.Global.MaxProcesses),
			)
			continue
		}
		desired[lang] = cfg
	}

	e.mu.Lock()
	prevGlobal := e.registry.Global
	e.registry = reg

	var stale []*serverEntry
	for lang, entry := range e.servers {
		cfg, keep := desired[lang]
		if keep && sameServerConfig(entry.cfg, cfg) && prevGlobal == reg.Global {
			delete(desired, lang)
			continue
		}
		stale = append(stale, entry)
		delete(e.servers, lang)
	}
	for lang, cfg := range desired {
		e.servers[lang] = e.newEntryLocked(lang, cfg, reg.Global)
	}
	e.mu.Unlock()

	for _, entry := range stale {
		go func(entry *serverEntry) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*domain.ShutdownEscalationDelay)
			defer cancel()
			_ = entry.sup.Shutdown(ctx)
		}(entry)
	}
}

// newEntryLocked builds a supervisor wired to the engine's availability
// dispatch and notification log. Must hold mu.
func (e *Engine) newEntryLocked(language string, cfg domain.ServerConfig, global domain.GlobalConfig) *serverEntry {
	ids, ok := e.ids[language]
	if !ok {
		ids = rpc.NewIDGenerator()
		e.ids[language] = ids
	}
	sup := process.NewSupervisor(process.Options{
		Config:  cfg,
		Global:  global,
		Logger:  e.logger,
		Metrics: e.metrics,
		Verify:  e.verify,
		IDs:     ids,
	})
	sup.OnAvailabilityChange(e.dispatchAvailability)
	sup.OnNotification(func(method string, params json.RawMessage) {
		e.logger.Debug("server notification",
			telemetry.LanguageField(language),
			telemetry.MethodField(method),
			zap.String(telemetry.FieldLogSource, telemetry.LogSourceDownstream),
			zap.ByteString("params", params),
		)
	})
	return &serverEntry{cfg: cfg, sup: sup}
}

func (e *Engine) dispatchAvailability(language string, available bool) {
	e.availMu.Lock()
	fns := make([]domain.AvailabilityFunc, len(e.availFns))
	copy(fns, e.availFns)
	e.availMu.Unlock()
	for _, fn := range fns {
		fn(language, available)
	}
}

func sameServerConfig(a, b domain.ServerConfig) bool {
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}

// wrapResult restores the response envelope so mapping rules addressed at
// the wire shape ("$.result...") keep working on the extracted result.
func wrapResult(result json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(result)) == 0 {
		result = json.RawMessage("null")
	}
	wrapped := make([]byte, 0, len(result)+len(`{"result":}`))
	wrapped = append(wrapped, `{"result":`...)
	wrapped = append(wrapped, result...)
	wrapped = append(wrapped, '}')
	return wrapped
}

func diagnosticsRules(cfg domain.ServerConfig) *domain.MappingRules {
	if cfg.OutputMapping != nil && cfg.OutputMapping.Diagnostics != nil {
		return cfg.OutputMapping.Diagnostics
	}
	return resultDiagnosticsRules()
}

func hoverRules(cfg domain.ServerConfig) *domain.MappingRules {
	if cfg.OutputMapping != nil && cfg.OutputMapping.Hover != nil {
		return cfg.OutputMapping.Hover
	}
	return resultHoverRules()
}
