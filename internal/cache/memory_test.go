package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SetGet(t *testing.T) {
	store := NewMemory()

	require.NoError(t, store.Set("key", "value", 0))

	got, err := store.Get("key")
	require.NoError(t, err)
	require.Equal(t, "value", got)

	_, err = store.Get("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	store := NewMemory()

	require.NoError(t, store.Set("key", "value", 10*time.Millisecond))

	got, err := store.Get("key")
	require.NoError(t, err)
	require.Equal(t, "value", got)

	time.Sleep(20 * time.Millisecond)

	_, err = store.Get("key")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemory()

	require.NoError(t, store.Set("key", "value", 0))
	require.NoError(t, store.Delete("key"))

	exists, err := store.Exists("key")
	require.NoError(t, err)
	require.False(t, exists)
}
