package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"showcased/internal/errors"
)

func TestCachePutGetRoundTrip(t *testing.T) {
	c := NewCache(t.TempDir())

	key := IngestKey("msg1", "att1", "png")
	require.NoError(t, c.Put(key, []byte("image-bytes")))

	got, err := c.Get(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("image-bytes"), got)
	assert.True(t, c.Exists(key))
}

func TestCachePutOverwrites(t *testing.T) {
	c := NewCache(t.TempDir())

	key := IngestKey("msg1", "att1", "png")
	require.NoError(t, c.Put(key, []byte("first")))
	require.NoError(t, c.Put(key, []byte("second")))

	got, err := c.Get(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)
}

func TestCacheGetMissing(t *testing.T) {
	c := NewCache(t.TempDir())

	_, err := c.Get(IngestKey("nope", "nope", "png"))
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestCacheRejectsTraversalKeys(t *testing.T) {
	c := NewCache(t.TempDir())

	for _, key := range []string{"../outside", "/etc/passwd", ".", ""} {
		err := c.Put(key, []byte("x"))
		assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "key %q", key)
	}
}

func TestCacheRemoveIdempotent(t *testing.T) {
	c := NewCache(t.TempDir())

	key := IngestKey("msg1", "att1", "png")
	require.NoError(t, c.Put(key, []byte("x")))
	require.NoError(t, c.Remove(key))
	assert.False(t, c.Exists(key))
	require.NoError(t, c.Remove(key))
}

func TestCacheUsagePerNamespace(t *testing.T) {
	c := NewCache(t.TempDir())

	require.NoError(t, c.Put(IngestKey("m1", "a1", "png"), []byte("12345")))
	require.NoError(t, c.Put(IngestKey("m2", "a2", "png"), []byte("12345")))
	require.NoError(t, c.Put(RenderKey("sc1", "m1", "png"), []byte("123")))

	ingest, err := c.UsageUnder(NamespaceIngest)
	require.NoError(t, err)
	assert.Equal(t, int64(10), ingest.TotalBytes)
	assert.Equal(t, 2, ingest.ItemCount)

	render, err := c.UsageUnder(NamespaceRender)
	require.NoError(t, err)
	assert.Equal(t, int64(3), render.TotalBytes)
	assert.Equal(t, 1, render.ItemCount)

	total, err := c.Usage()
	require.NoError(t, err)
	assert.Equal(t, int64(13), total.TotalBytes)
	assert.Equal(t, 3, total.ItemCount)
}

func TestCacheClearNamespace(t *testing.T) {
	c := NewCache(t.TempDir())

	require.NoError(t, c.Put(RenderKey("sc1", "m1", "png"), []byte("x")))
	require.NoError(t, c.Put(RenderKey("sc2", "m1", "png"), []byte("x")))
	require.NoError(t, c.Put(IngestKey("m1", "a1", "png"), []byte("x")))

	require.NoError(t, c.ClearNamespace(RenderNamespace("sc1")))

	assert.False(t, c.Exists(RenderKey("sc1", "m1", "png")))
	assert.True(t, c.Exists(RenderKey("sc2", "m1", "png")))
	assert.True(t, c.Exists(IngestKey("m1", "a1", "png")))

	// Clearing again, or clearing something that never existed, is fine.
	require.NoError(t, c.ClearNamespace(RenderNamespace("sc1")))
	require.NoError(t, c.ClearNamespace(RenderNamespace("ghost")))
}

func TestCacheKeyShapes(t *testing.T) {
	assert.Equal(t, "ingest/m1_a1.png", IngestKey("m1", "a1", "png"))
	assert.Equal(t, "ingest/avatars/u1.png", AvatarKey("u1"))
	assert.Equal(t, "render/sc1/sc1_m1.webp", RenderKey("sc1", "m1", "webp"))
	assert.Equal(t, "render/sc1", RenderNamespace("sc1"))
}
