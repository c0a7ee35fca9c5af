package history

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/markis/seqthink/internal/stage"
)

const DefaultCacheItems = 20

// Entry is one cached result, stored as <key>.json.
type Entry struct {
	Key         string        `json:"id"`
	Query       string        `json:"query"`
	ContextHash string        `json:"context_hash"`
	Timestamp   time.Time     `json:"timestamp"`
	Model       string        `json:"model"`
	Result      *stage.Result `json:"result"`
}

// Cache stores results offline so a repeated question is answered without
// the backend. A disabled cache never hits and never writes.
type Cache struct {
	mu       sync.Mutex
	dir      string
	maxItems int
	enabled  bool
	entries  map[string]Entry
	logger   *slog.Logger
	now      func() time.Time
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithCacheItems bounds the number of cached results.
func WithCacheItems(n int) CacheOption {
	return func(c *Cache) {
		if n > 0 {
			c.maxItems = n
		}
	}
}

// WithCacheLogger sets the logger.
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithCacheClock sets the time source for entry timestamps.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.now = now
	}
}

// Disabled turns the cache off.
func Disabled() CacheOption {
	return func(c *Cache) {
		c.enabled = false
	}
}

// OpenCache loads the entries stored in dir. Corrupt files are skipped.
func OpenCache(dir string, opts ...CacheOption) (*Cache, error) {
	c := &Cache{
		dir:      dir,
		maxItems: DefaultCacheItems,
		enabled:  true,
		entries:  map[string]Entry{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if !c.enabled {
		return c, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache directory: %w", err)
	}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, f.Name()))
		if err != nil {
			continue
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil || e.Key == "" {
			c.logger.Debug("skipping corrupt cache entry", slog.String("file", f.Name()))
			continue
		}
		c.entries[e.Key] = e
	}
	c.trim()
	c.logger.Debug("cache loaded", slog.Int("entries", len(c.entries)))
	return c, nil
}

// Enabled reports whether the cache is in use.
func (c *Cache) Enabled() bool {
	return c.enabled
}

// Get returns the cached result for question, codeContext and model.
func (c *Cache) Get(question, codeContext, model string) (*stage.Result, bool) {
	if !c.enabled {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := Key(question, codeContext, model)
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.logger.Info("cache hit", slog.String("key", key))
	return e.Result, true
}

// Put stores result under its question, codeContext and model id.
func (c *Cache) Put(question, codeContext string, result *stage.Result) error {
	if !c.enabled {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e := Entry{
		Key:         Key(question, codeContext, result.ModelID),
		Query:       question,
		ContextHash: contextHash(codeContext),
		Timestamp:   c.now(),
		Model:       result.ModelID,
		Result:      result,
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if err := os.WriteFile(c.file(e.Key), data, 0o600); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	c.entries[e.Key] = e
	c.trim()
	return nil
}

// Clear removes every cached result.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]Entry{}

	files, err := os.ReadDir(c.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read cache directory: %w", err)
	}
	for _, f := range files {
		if strings.HasSuffix(f.Name(), ".json") {
			if err := os.Remove(filepath.Join(c.dir, f.Name())); err != nil {
				return fmt.Errorf("failed to remove cache entry: %w", err)
			}
		}
	}
	c.logger.Info("cache cleared")
	return nil
}

// Len returns the number of cached results.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// trim evicts the oldest entries beyond maxItems.
func (c *Cache) trim() {
	if len(c.entries) <= c.maxItems {
		return
	}
	entries := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	for _, e := range entries[c.maxItems:] {
		delete(c.entries, e.Key)
		if err := os.Remove(c.file(e.Key)); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("failed to remove cache entry", slog.String("key", e.Key), slog.String("error", err.Error()))
		}
	}
	c.logger.Debug("cache trimmed", slog.Int("removed", len(entries)-c.maxItems))
}

func (c *Cache) file(key string) string {
	return filepath.Join(c.dir, key+".json")
}

// Key identifies a question asked with a code context against a model.
// Questions are compared case-insensitively and without surrounding space.
func Key(question, codeContext, model string) string {
	input := strings.ToLower(strings.TrimSpace(question)) + "|" + contextHash(codeContext) + "|" + model
	sum := md5.Sum([]byte(input))
	return hex.EncodeToString(sum[:])
}

func contextHash(codeContext string) string {
	if codeContext == "" {
		return "empty"
	}
	sum := md5.Sum([]byte(codeContext))
	return hex.EncodeToString(sum[:])
}
