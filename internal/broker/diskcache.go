package broker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// DiskMapCache is a string-to-string mapping persisted as JSON in the user
// cache directory. Adapters use it for slowly changing lookups such as
// ticker to instrument id, so restarts do not repeat the discovery calls.
// A corrupt or unreadable file is treated as an empty cache.
type DiskMapCache struct {
	path string
	log  zerolog.Logger
	data map[string]string
}

// CacheDir returns the directory that holds persisted caches, creating it if
// needed.
func CacheDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve user cache dir: %w", err)
	}
	dir := filepath.Join(base, "rebalancer")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create cache dir: %w", err)
	}
	return dir, nil
}

// NewDiskMapCache loads (or initialises) the named cache file under the user
// cache directory.
func NewDiskMapCache(name string, log zerolog.Logger) (*DiskMapCache, error) {
	dir, err := CacheDir()
	if err != nil {
		return nil, err
	}
	return NewDiskMapCacheAt(filepath.Join(dir, name+".json"), log)
}

// NewDiskMapCacheAt loads a cache from an explicit path, for tests and
// non-default layouts.
func NewDiskMapCacheAt(path string, log zerolog.Logger) (*DiskMapCache, error) {
	c := &DiskMapCache{
		path: path,
		log:  log.With().Str("cache", filepath.Base(path)).Logger(),
		data: make(map[string]string),
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read cache file: %w", err)
		}
		return c, nil
	}
	if err := json.Unmarshal(raw, &c.data); err != nil {
		c.log.Warn().Err(err).Msg("cache file corrupt, starting empty")
		c.data = make(map[string]string)
	}
	return c, nil
}

// Path returns the backing file location.
func (c *DiskMapCache) Path() string { return c.path }

// Get returns the value stored under key.
func (c *DiskMapCache) Get(key string) (string, bool) {
	value, ok := c.data[key]
	return value, ok
}

// Len returns the number of stored entries.
func (c *DiskMapCache) Len() int { return len(c.data) }

// Put stores a key and flushes the cache to disk.
func (c *DiskMapCache) Put(key, value string) error {
	c.data[key] = value
	return c.flush()
}

// PutAll stores several keys with a single flush.
func (c *DiskMapCache) PutAll(entries map[string]string) error {
	for key, value := range entries {
		c.data[key] = value
	}
	return c.flush()
}

func (c *DiskMapCache) flush() error {
	raw, err := json.MarshalIndent(c.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cache: %w", err)
	}
	if err := os.WriteFile(c.path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	return nil
}
