// Package history persists answered questions: a bounded, newest-first
// history list and an offline cache of results keyed by question, context
// and model.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/markis/seqthink/internal/stage"
)

const (
	DefaultMaxItems = 50
	summaryLength   = 100
)

var (
	// ErrNotFound is returned when no history item has the requested id.
	ErrNotFound = errors.New("history item not found")
	// ErrAmbiguousID is returned when an id prefix matches several items.
	ErrAmbiguousID = errors.New("ambiguous history id")
)

// Item is one answered question.
type Item struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Question  string        `json:"question"`
	Summary   string        `json:"summary"`
	Model     string        `json:"model"`
	Result    *stage.Result `json:"result"`
}

// Store is a JSON file of history items, newest first.
type Store struct {
	mu       sync.Mutex
	path     string
	maxItems int
	items    []Item
	logger   *slog.Logger
	now      func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithMaxItems bounds the number of kept items.
func WithMaxItems(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.maxItems = n
		}
	}
}

// WithStoreLogger sets the logger.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithStoreClock sets the time source for item timestamps.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// OpenStore loads the history file at path. A missing file is an empty
// history; an unreadable one is logged and replaced on the next write.
func OpenStore(path string, opts ...StoreOption) (*Store, error) {
	s := &Store{
		path:     path,
		maxItems: DefaultMaxItems,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read history: %w", err)
	default:
		if err := json.Unmarshal(data, &s.items); err != nil {
			s.logger.Warn("discarding unreadable history", slog.String("path", path), slog.String("error", err.Error()))
			s.items = nil
		}
	}
	s.logger.Debug("history loaded", slog.Int("items", len(s.items)))
	return s, nil
}

// Add records result as the newest item and returns it.
func (s *Store) Add(result *stage.Result) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := Item{
		ID:        uuid.NewString(),
		Timestamp: s.now(),
		Question:  result.Question,
		Summary:   summarize(result.FinalAnswer),
		Model:     result.ModelID,
		Result:    result,
	}
	items := append([]Item{item}, s.items...)
	if len(items) > s.maxItems {
		items = items[:s.maxItems]
	}
	if err := s.save(items); err != nil {
		return Item{}, err
	}
	s.items = items
	s.logger.Info("history item added", slog.String("id", item.ID))
	return item, nil
}

// List returns a copy of all items, newest first.
func (s *Store) List() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Item(nil), s.items...)
}

// Get returns the item with the given id. A unique id prefix also matches.
func (s *Store) Get(id string) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, err := s.find(id)
	if err != nil {
		return Item{}, err
	}
	return s.items[i], nil
}

// Delete removes the item with the given id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, err := s.find(id)
	if err != nil {
		return err
	}
	items := make([]Item, 0, len(s.items)-1)
	items = append(items, s.items[:i]...)
	items = append(items, s.items[i+1:]...)
	if err := s.save(items); err != nil {
		return err
	}
	s.items = items
	s.logger.Info("history item deleted", slog.String("id", id))
	return nil
}

// Clear removes every item.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.save(nil); err != nil {
		return err
	}
	s.items = nil
	return nil
}

// find locates an item by id or by a prefix matching exactly one id.
func (s *Store) find(id string) (int, error) {
	if id == "" {
		return -1, fmt.Errorf("%w: empty id", ErrNotFound)
	}
	match, matches := -1, 0
	for i, item := range s.items {
		if item.ID == id {
			return i, nil
		}
		if strings.HasPrefix(item.ID, id) {
			match = i
			matches++
		}
	}
	switch {
	case matches == 1:
		return match, nil
	case matches > 1:
		return -1, fmt.Errorf("%w: %s matches %d items", ErrAmbiguousID, id, matches)
	default:
		return -1, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
}

func (s *Store) save(items []Item) error {
	if items == nil {
		items = []Item{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	return nil
}

// summarize keeps the first characters of an answer.
func summarize(answer string) string {
	runes := []rune(answer)
	if len(runes) <= summaryLength {
		return strings.TrimSpace(answer)
	}
	return strings.TrimSpace(string(runes[:summaryLength])) + "..."
}
