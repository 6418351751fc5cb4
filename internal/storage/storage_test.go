package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestPutGetRoundTrip(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	want := doc{Name: "alpha", Count: 3}
	require.NoError(t, s.Put(ctx, []string{"session", "s1"}, want))

	var got doc
	require.NoError(t, s.Get(ctx, []string{"session", "s1"}, &got))
	assert.Equal(t, want, got)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := New(t.TempDir())

	var got doc
	err := s.Get(context.Background(), []string{"session", "nope"}, &got)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, []string{"k"}, doc{Name: "x"}))
	require.NoError(t, s.Delete(ctx, []string{"k"}))
	require.NoError(t, s.Delete(ctx, []string{"k"}))
	assert.False(t, s.Exists(ctx, []string{"k"}))
}

func TestListReturnsSortedKeys(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, []string{"log", "b"}, doc{}))
	require.NoError(t, s.Put(ctx, []string{"log", "a"}, doc{}))
	require.NoError(t, s.Put(ctx, []string{"log", "c"}, doc{}))

	keys, err := s.List(ctx, []string{"log"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestScanVisitsInKeyOrder(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	for _, k := range []string{"02", "01", "03"} {
		require.NoError(t, s.Put(ctx, []string{"span", k}, doc{Name: k}))
	}

	var visited []string
	err := s.Scan(ctx, []string{"span"}, func(key string, data json.RawMessage) error {
		var d doc
		require.NoError(t, json.Unmarshal(data, &d))
		visited = append(visited, key)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"01", "02", "03"}, visited)
}

func TestScanMissingDirIsEmpty(t *testing.T) {
	s := New(t.TempDir())
	err := s.Scan(context.Background(), []string{"absent"}, func(string, json.RawMessage) error {
		t.Fatal("should not be called")
		return nil
	})
	assert.NoError(t, err)
}
