package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Load(ctx, KeyMessages)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Save(ctx, KeyMessages, []byte(`{"a":1}`)))
	data, err := s.Load(ctx, KeyMessages)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))

	require.NoError(t, s.Delete(ctx, KeyMessages))
	_, err = s.Load(ctx, KeyMessages)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreCopiesData(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	buf := []byte(`original`)
	require.NoError(t, s.Save(ctx, "k", buf))
	buf[0] = 'X'

	data, err := s.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Load(ctx, KeyBacklog)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Save(ctx, KeyBacklog, []byte(`[1,2,3]`)))
	data, err := s.Load(ctx, KeyBacklog)
	require.NoError(t, err)
	assert.Equal(t, `[1,2,3]`, string(data))

	// Overwrite replaces, not appends.
	require.NoError(t, s.Save(ctx, KeyBacklog, []byte(`[]`)))
	data, err = s.Load(ctx, KeyBacklog)
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(data))

	require.NoError(t, s.Delete(ctx, KeyBacklog))
	_, err = s.Load(ctx, KeyBacklog)
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting an absent key is not an error.
	assert.NoError(t, s.Delete(ctx, KeyBacklog))
}

func TestFileStoreRequiresDir(t *testing.T) {
	_, err := NewFileStore("")
	assert.Error(t, err)
}
