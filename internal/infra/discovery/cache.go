package discovery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var ErrCacheClosed = errors.New("discovery cache is closed")

var pathsBucket = []byte("executable_paths")

// PathCache persists resolved executable paths across runs so a cold start
// does not re-probe every conventional directory. Entries are verified
// against the filesystem before use, so stale paths only cost one extra
// stat.
type PathCache struct {
	mu     sync.RWMutex
	db     *bolt.DB
	closed bool
}

func OpenPathCache(path string) (*PathCache, error) {
	if path == "" {
		return nil, errors.New("cache path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(pathsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init cache bucket: %w", err)
	}
	return &PathCache{db: db}, nil
}

func (c *PathCache) Get(executable string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return "", false
	}
	var path string
	_ = c.db.View(func(tx *bolt.Tx) error {
		if value := tx.Bucket(pathsBucket).Get([]byte(executable)); value != nil {
			path = string(value)
		}
		return nil
	})
	return path, path != ""
}

func (c *PathCache) Put(executable, path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrCacheClosed
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(pathsBucket).Put([]byte(executable), []byte(path))
	})
}

func (c *PathCache) Forget(executable string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	_ = c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(pathsBucket).Delete([]byte(executable))
	})
}

func (c *PathCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}
