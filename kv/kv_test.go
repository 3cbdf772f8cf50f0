package kv

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("test", &pebble.Options{FS: vfs.NewMem()})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestKeyEncodingIsUnambiguous(t *testing.T) {
	a := Key{"a", "bc"}.encode()
	b := Key{"ab", "c"}.encode()
	assert.NotEqual(t, a, b)
}

func TestGetSetDelete(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	key := ObjectKey("https://remote.example/note/1")

	_, err := s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	doc := map[string]any{"id": "https://remote.example/note/1", "type": "Note"}
	require.NoError(t, s.Set(ctx, key, doc))

	raw, err := s.Get(ctx, key)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "Note", got["type"])

	has, err := s.Has(ctx, key)
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, s.Delete(ctx, key))
	has, err = s.Has(ctx, key)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestLists(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	key := SiteListKey("blog.example", "liked")

	list, err := s.List(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, list)

	added, err := s.AddToList(ctx, key, "one")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = s.AddToList(ctx, key, "two")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = s.AddToList(ctx, key, "one")
	require.NoError(t, err)
	assert.False(t, added, "duplicate must not be appended")

	list, err = s.List(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, list)

	removed, err := s.RemoveFromList(ctx, key, "one")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = s.RemoveFromList(ctx, key, "missing")
	require.NoError(t, err)
	assert.False(t, removed)

	ok, err := s.ListContains(ctx, key, "two")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestListsAreScopedPerSite(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	_, err := s.AddToList(ctx, SiteListKey("a.example", "inbox"), "x")
	require.NoError(t, err)

	list, err := s.List(ctx, SiteListKey("b.example", "inbox"))
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestConcurrentAppendsAreNotLost(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	key := SiteListKey("blog.example", "inbox")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.AddToList(ctx, key, string(rune('A'+i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	list, err := s.List(ctx, key)
	require.NoError(t, err)
	assert.Len(t, list, 50)
}
