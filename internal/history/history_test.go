package history

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/markis/seqthink/internal/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tick(start time.Time) func() time.Time {
	n := 0
	return func() time.Time {
		n++
		return start.Add(time.Duration(n) * time.Minute)
	}
}

func result(question, answer string) *stage.Result {
	r := stage.NewResult(question, "test-model")
	r.FinalAnswer = answer
	return r
}

func TestStore_AddListNewestFirst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.json")
	s, err := OpenStore(path, WithMaxItems(2), WithStoreClock(tick(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))))
	require.NoError(t, err)
	assert.Empty(t, s.List())

	first, err := s.Add(result("one", "a"))
	require.NoError(t, err)
	_, err = s.Add(result("two", "b"))
	require.NoError(t, err)
	_, err = s.Add(result("three", "c"))
	require.NoError(t, err)

	items := s.List()
	require.Len(t, items, 2)
	assert.Equal(t, "three", items[0].Question)
	assert.Equal(t, "two", items[1].Question)
	assert.Equal(t, "test-model", items[0].Model)

	_, err = s.Get(first.ID)
	assert.ErrorIs(t, err, ErrNotFound, "oldest item was dropped")

	reopened, err := OpenStore(path)
	require.NoError(t, err)
	assert.Equal(t, items, reopened.List())
}

func TestStore_GetDeleteClear(t *testing.T) {
	s, err := OpenStore(filepath.Join(t.TempDir(), "history.json"))
	require.NoError(t, err)

	item, err := s.Add(result("q", "answer"))
	require.NoError(t, err)

	got, err := s.Get(item.ID[:8])
	require.NoError(t, err, "id prefix matches")
	assert.Equal(t, item.ID, got.ID)
	assert.Equal(t, "answer", got.Result.FinalAnswer)

	require.NoError(t, s.Delete(item.ID))
	assert.ErrorIs(t, s.Delete(item.ID), ErrNotFound)

	_, err = s.Add(result("q2", ""))
	require.NoError(t, err)
	require.NoError(t, s.Clear())
	assert.Empty(t, s.List())
}

func TestStore_AmbiguousPrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	body := `[{"id":"abc-1","question":"one"},{"id":"abc-2","question":"two"},{"id":"xyz","question":"three"}]`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	s, err := OpenStore(path)
	require.NoError(t, err)

	_, err = s.Get("abc")
	assert.ErrorIs(t, err, ErrAmbiguousID)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete("abc"), ErrAmbiguousID)
	assert.Len(t, s.List(), 3)

	got, err := s.Get("abc-2")
	require.NoError(t, err)
	assert.Equal(t, "two", got.Question)

	_, err = s.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get("")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_FailedWriteKeepsItems(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	s, err := OpenStore(path)
	require.NoError(t, err)
	item, err := s.Add(result("kept", "a"))
	require.NoError(t, err)

	// A directory in place of the file makes every write fail.
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.Mkdir(path, 0o755))

	_, err = s.Add(result("lost", "b"))
	require.Error(t, err)
	require.Error(t, s.Delete(item.ID))
	require.Error(t, s.Clear())

	items := s.List()
	require.Len(t, items, 1)
	assert.Equal(t, "kept", items[0].Question)
}

func TestStore_CorruptFileIsDiscarded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))

	s, err := OpenStore(path)
	require.NoError(t, err)
	assert.Empty(t, s.List())
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "short", summarize("  short "))

	long := strings.Repeat("é", 150)
	got := summarize(long)
	assert.Equal(t, strings.Repeat("é", 100)+"...", got)
}

func TestKey(t *testing.T) {
	assert.Equal(t, Key("  Why? ", "", "m"), Key("why?", "", "m"))
	assert.NotEqual(t, Key("why?", "", "m"), Key("why?", "code", "m"))
	assert.NotEqual(t, Key("why?", "", "m"), Key("why?", "", "other"))
	assert.Len(t, Key("q", "c", "m"), 32)
	assert.Equal(t, "empty", contextHash(""))
}

func TestCache_PutGet(t *testing.T) {
	dir := t.TempDir()
	c, err := OpenCache(dir)
	require.NoError(t, err)

	_, ok := c.Get("q", "ctx", "test-model")
	assert.False(t, ok)

	require.NoError(t, c.Put("Q", "ctx", result("Q", "answer")))
	got, ok := c.Get(" q ", "ctx", "test-model")
	require.True(t, ok)
	assert.Equal(t, "answer", got.FinalAnswer)

	_, ok = c.Get("q", "other ctx", "test-model")
	assert.False(t, ok)

	reopened, err := OpenCache(dir)
	require.NoError(t, err)
	got, ok = reopened.Get("q", "ctx", "test-model")
	require.True(t, ok)
	assert.Equal(t, "answer", got.FinalAnswer)
}

func TestCache_EvictsOldest(t *testing.T) {
	dir := t.TempDir()
	c, err := OpenCache(dir, WithCacheItems(2), WithCacheClock(tick(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))))
	require.NoError(t, err)

	for _, q := range []string{"one", "two", "three"} {
		require.NoError(t, c.Put(q, "", result(q, q)))
	}
	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("one", "", "test-model")
	assert.False(t, ok)
	_, ok = c.Get("three", "", "test-model")
	assert.True(t, ok)

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestCache_SkipsCorruptEntries(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("nope"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	c, err := OpenCache(dir)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())
}

func TestCache_Clear(t *testing.T) {
	dir := t.TempDir()
	c, err := OpenCache(dir)
	require.NoError(t, err)
	require.NoError(t, c.Put("q", "", result("q", "a")))

	require.NoError(t, c.Clear())
	assert.Equal(t, 0, c.Len())
	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestCache_Disabled(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	c, err := OpenCache(dir, Disabled())
	require.NoError(t, err)
	assert.False(t, c.Enabled())

	require.NoError(t, c.Put("q", "", result("q", "a")))
	_, ok := c.Get("q", "", "test-model")
	assert.False(t, ok)

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "a disabled cache creates nothing")
}
