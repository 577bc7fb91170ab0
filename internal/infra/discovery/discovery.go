package discovery

import (
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"langd/internal/domain"
)

// Discovery resolves server executables on the host machine. Resolution
// order: PATH lookup, absolute-path check, then a short list of
// conventional install directories for the platform. Results are cached in
// memory for the lifetime of the instance; an optional persistent cache
// survives restarts.
type Discovery struct {
	logger    *zap.Logger
	lookPath  func(name string) (string, error)
	stat      func(name string) (os.FileInfo, error)
	extraDirs []string

	persistent *PathCache

	mu    sync.Mutex
	cache map[string]string
}

type Options struct {
	Logger *zap.Logger
	// ExtraDirs is prepended to the platform's conventional directories.
	ExtraDirs []string
	// Persistent, when non-nil, is consulted before probing and updated
	// after a successful resolution.
	Persistent *PathCache
}

func New(opts Options) *Discovery {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discovery{
		logger:     logger.Named("discovery"),
		lookPath:   exec.LookPath,
		stat:       os.Stat,
		extraDirs:  opts.ExtraDirs,
		persistent: opts.Persistent,
		cache:      make(map[string]string),
	}
}

// VerifyExecutable resolves name to an absolute path, or returns a
// ServerNotFoundError naming the executable.
func (d *Discovery) VerifyExecutable(name string) (string, error) {
	if name == "" {
		return "", &domain.ServerNotFoundError{Name: name}
	}

	d.mu.Lock()
	if path, ok := d.cache[name]; ok {
		d.mu.Unlock()
		return path, nil
	}
	d.mu.Unlock()

	if d.persistent != nil {
		if path, ok := d.persistent.Get(name); ok {
			if _, err := d.stat(path); err == nil {
				d.remember(name, path)
				return path, nil
			}
			// Stale entry; fall through to a fresh probe.
			d.persistent.Forget(name)
		}
	}

	path, err := d.resolve(name)
	if err != nil {
		return "", err
	}
	d.remember(name, path)
	if d.persistent != nil {
		if err := d.persistent.Put(name, path); err != nil {
			d.logger.Warn("persist discovery result failed", zap.String("executable", name), zap.Error(err))
		}
	}
	return path, nil
}

func (d *Discovery) resolve(name string) (string, error) {
	if path, err := d.lookPath(name); err == nil {
		return path, nil
	}

	if filepath.IsAbs(name) {
		if info, err := d.stat(name); err == nil && !info.IsDir() {
			return name, nil
		}
		return "", &domain.ServerNotFoundError{Name: name}
	}

	dirs := append(append([]string{}, d.extraDirs...), conventionalDirs()...)
	for _, dir := range dirs {
		candidate := filepath.Join(dir, name)
		if info, err := d.stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", &domain.ServerNotFoundError{Name: name}
}

func (d *Discovery) remember(name, path string) {
	d.mu.Lock()
	d.cache[name] = path
	d.mu.Unlock()
}
