package index

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"showcased/internal/db"
	"showcased/internal/models"
)

func testIndex(t *testing.T) *Index {
	t.Helper()
	gdb, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return New(gdb)
}

func msg(id, channel string, ts int64) models.IndexedMessage {
	return models.IndexedMessage{
		MessageID:   id,
		ChannelID:   channel,
		AuthorID:    "author1",
		AuthorName:  "someone",
		Content:     "look at this",
		Attachments: models.StringList{"ingest/" + id + "_a1.png"},
		Timestamp:   ts,
	}
}

func TestUpsertAndQuery(t *testing.T) {
	idx := testIndex(t)

	n, err := idx.Upsert([]models.IndexedMessage{
		msg("m1", "ch1", 100),
		msg("m2", "ch2", 200),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := idx.Query("")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	ch1, err := idx.Query("ch1")
	require.NoError(t, err)
	require.Len(t, ch1, 1)
	assert.Equal(t, "m1", ch1[0].MessageID)
}

func TestUpsertOverwritesInPlace(t *testing.T) {
	idx := testIndex(t)

	_, err := idx.Upsert([]models.IndexedMessage{msg("m1", "ch1", 100)})
	require.NoError(t, err)

	updated := msg("m1", "ch1", 100)
	updated.Content = "edited upstream"
	_, err = idx.Upsert([]models.IndexedMessage{updated})
	require.NoError(t, err)

	rows, err := idx.ByIDs([]string{"m1"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "edited upstream", rows[0].Content)
}

func TestUpsertPreservesUsedFlag(t *testing.T) {
	idx := testIndex(t)

	_, err := idx.Upsert([]models.IndexedMessage{msg("m1", "ch1", 100)})
	require.NoError(t, err)
	require.NoError(t, idx.MarkUsed([]string{"m1"}))

	// Re-indexing the same message must not unprotect it.
	_, err = idx.Upsert([]models.IndexedMessage{msg("m1", "ch1", 100)})
	require.NoError(t, err)

	rows, err := idx.ByIDs([]string{"m1"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Used)
}

func TestByIDsMissingAreAbsent(t *testing.T) {
	idx := testIndex(t)

	_, err := idx.Upsert([]models.IndexedMessage{msg("m1", "ch1", 100)})
	require.NoError(t, err)

	rows, err := idx.ByIDs([]string{"m1", "ghost"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "m1", rows[0].MessageID)

	empty, err := idx.ByIDs(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStats(t *testing.T) {
	idx := testIndex(t)

	now := time.Now().Unix()
	_, err := idx.Upsert([]models.IndexedMessage{
		msg("m1", "ch1", now-1000),
		msg("m2", "ch1", now),
	})
	require.NoError(t, err)
	require.NoError(t, idx.MarkUsed([]string{"m2"}))

	s, err := idx.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.MessageCount)
	assert.Equal(t, int64(1), s.ProtectedCount)
	assert.Equal(t, now-1000, s.OldestUnix)
	assert.Equal(t, now, s.NewestUnix)
}

func TestStatsEmpty(t *testing.T) {
	idx := testIndex(t)

	s, err := idx.Stats()
	require.NoError(t, err)
	assert.Zero(t, s.MessageCount)
	assert.Zero(t, s.OldestUnix)
}
