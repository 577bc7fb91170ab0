package app

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"langd/internal/domain"
	"langd/internal/infra/registry"
	"langd/internal/infra/telemetry"
)

// reloadDebounce coalesces the bursts of filesystem events editors emit
// when saving a config file.
const reloadDebounce = 200 * time.Millisecond

// LayerPaths names the three file-backed configuration layers. Empty paths
// and missing files simply skip that layer.
type LayerPaths struct {
	User    string
	Project string
	Runtime string
}

// RegistryProvider owns the merged registry snapshot. The current snapshot
// is always a fully validated registry: a reload that fails to parse or
// validate is logged and dropped, and the previous snapshot stays active.
type RegistryProvider struct {
	logger  *zap.Logger
	metrics *telemetry.Metrics
	loader  *registry.Loader
	builtin domain.ServerRegistry
	paths   LayerPaths

	snapshot atomic.Value // domain.ServerRegistry

	subMu sync.Mutex
	subs  []chan domain.ServerRegistry
}

type RegistryProviderOptions struct {
	Logger  *zap.Logger
	Metrics *telemetry.Metrics
	// Builtin is the lowest layer; DefaultBuiltinRegistry when zero.
	Builtin *domain.ServerRegistry
	Paths   LayerPaths
}

// NewRegistryProvider loads the layers once and fails if the initial merge
// does not produce a valid registry.
func NewRegistryProvider(opts RegistryProviderOptions) (*RegistryProvider, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	builtin := DefaultBuiltinRegistry()
	if opts.Builtin != nil {
		builtin = *opts.Builtin
	}
	p := &RegistryProvider{
		logger:  logger.Named("config"),
		metrics: opts.Metrics,
		loader:  registry.NewLoader(logger),
		builtin: builtin,
		paths:   opts.Paths,
	}
	merged, err := p.loadLayers()
	if err != nil {
		return nil, err
	}
	p.snapshot.Store(merged)
	return p, nil
}

// Snapshot returns the current merged registry.
func (p *RegistryProvider) Snapshot() domain.ServerRegistry {
	return p.snapshot.Load().(domain.ServerRegistry)
}

// Subscribe returns a channel that receives each new snapshot after a
// successful reload. Slow subscribers miss intermediate snapshots rather
// than blocking the reload.
func (p *RegistryProvider) Subscribe() <-chan domain.ServerRegistry {
	ch := make(chan domain.ServerRegistry, 1)
	p.subMu.Lock()
	p.subs = append(p.subs, ch)
	p.subMu.Unlock()
	return ch
}

// Reload re-reads the layers and publishes the merged result. The previous
// snapshot survives any failure.
func (p *RegistryProvider) Reload() error {
	merged, err := p.loadLayers()
	if err != nil {
		p.logger.Warn("reload rejected, keeping previous registry",
			telemetry.EventField(telemetry.EventReloadFailure),
			zap.Error(err),
		)
		if p.metrics != nil {
			p.metrics.RegistryReloads.WithLabelValues("failure").Inc()
		}
		return err
	}
	p.snapshot.Store(merged)
	if p.metrics != nil {
		p.metrics.RegistryReloads.WithLabelValues("success").Inc()
	}
	p.logger.Info("registry reloaded",
		telemetry.EventField(telemetry.EventReloadSuccess),
		zap.Int("languages", len(merged.Servers)),
	)
	p.broadcast(merged)
	return nil
}

// Watch blocks until ctx is done, reloading after file events on any layer
// path. Events are debounced so one save triggers one reload.
func (p *RegistryProvider) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return domain.E(domain.CodeInternal, "config.watch", "create watcher", err)
	}
	defer watcher.Close()

	watched := make(map[string]bool)
	for _, path := range []string{p.paths.User, p.paths.Project, p.paths.Runtime} {
		if path == "" {
			continue
		}
		// Watch the directory: editors replace files on save, which drops
		// a direct file watch.
		dir := filepath.Dir(path)
		if watched[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			p.logger.Warn("watch failed", zap.String("dir", dir), zap.Error(err))
			continue
		}
		watched[dir] = true
	}

	var debounce *time.Timer
	fire := make(chan struct{}, 1)
	schedule := func() {
		if debounce != nil {
			debounce.Stop()
		}
		debounce = time.AfterFunc(reloadDebounce, func() {
			select {
			case fire <- struct{}{}:
			default:
			}
		})
	}
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !p.isLayerPath(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			schedule()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("watcher error", zap.Error(err))
		case <-fire:
			_ = p.Reload()
		}
	}
}

func (p *RegistryProvider) isLayerPath(name string) bool {
	for _, path := range []string{p.paths.User, p.paths.Project, p.paths.Runtime} {
		if path == "" {
			continue
		}
		if filepath.Clean(name) == filepath.Clean(path) {
			return true
		}
	}
	return false
}

func (p *RegistryProvider) loadLayers() (domain.ServerRegistry, error) {
	user, err := p.loadLayer(p.paths.User)
	if err != nil {
		return domain.ServerRegistry{}, err
	}
	project, err := p.loadLayer(p.paths.Project)
	if err != nil {
		return domain.ServerRegistry{}, err
	}
	runtime, err := p.loadLayer(p.paths.Runtime)
	if err != nil {
		return domain.ServerRegistry{}, err
	}
	return registry.Merge(p.builtin, user, project, runtime), nil
}

func (p *RegistryProvider) loadLayer(path string) (*domain.ServerRegistry, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, domain.E(domain.CodeInvalidConfig, "config.load", path, err)
	}
	reg, err := p.loader.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

func (p *RegistryProvider) broadcast(reg domain.ServerRegistry) {
	p.subMu.Lock()
	subs := make([]chan domain.ServerRegistry, len(p.subs))
	copy(subs, p.subs)
	p.subMu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- reg:
		default:
			// Drop the stale snapshot so the fresh one can replace it.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- reg:
			default:
			}
		}
	}
}
