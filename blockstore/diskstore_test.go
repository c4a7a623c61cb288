package blockstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskStore_PutGetHas(t *testing.T) {
	ctx := context.Background()
	s, err := NewDiskStore(t.TempDir(), 10, nil)
	require.NoError(t, err)
	defer s.Close()

	data := []byte("disk-backed block")
	c := testCID(t, data)

	has, err := s.Has(ctx, c)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, s.Put(ctx, c, data))

	got, err := s.Get(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDiskStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	data := []byte("survives restart")

	s1, err := NewDiskStore(dir, 10, nil)
	require.NoError(t, err)
	c := testCID(t, data)
	require.NoError(t, s1.Put(ctx, c, data))
	require.NoError(t, s1.Close())

	s2, err := NewDiskStore(dir, 10, nil)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDiskStore_PutConflict(t *testing.T) {
	ctx := context.Background()
	s, err := NewDiskStore(t.TempDir(), 10, nil)
	require.NoError(t, err)
	defer s.Close()

	data := []byte("original")
	c := testCID(t, data)
	require.NoError(t, s.Put(ctx, c, data))

	err = s.Put(ctx, c, []byte("different"))
	assert.ErrorIs(t, err, ErrCIDConflict)
}
