package indexer

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"showcased/internal/config"
	"showcased/internal/db"
	"showcased/internal/errors"
	"showcased/internal/index"
	"showcased/internal/models"
	"showcased/internal/source"
	"showcased/internal/storage"
)

// fakeClient serves canned history pages. One page per channel; any request
// with a beforeID reads as the end of history.
type fakeClient struct {
	mu            sync.Mutex
	pages         map[string][]source.Message
	authChannels  map[string]bool
	blockChannels map[string]bool
	failURLs      map[string]bool
	downloads     map[string]int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		pages:         map[string][]source.Message{},
		authChannels:  map[string]bool{},
		blockChannels: map[string]bool{},
		failURLs:      map[string]bool{},
		downloads:     map[string]int{},
	}
}

func (f *fakeClient) Guilds(ctx context.Context) ([]source.Guild, error) {
	return nil, nil
}

func (f *fakeClient) Channels(ctx context.Context, guildID string) ([]source.Channel, error) {
	return nil, nil
}

func (f *fakeClient) ChannelHistory(ctx context.Context, channelID, beforeID string, limit int) ([]source.Message, error) {
	f.mu.Lock()
	auth := f.authChannels[channelID]
	block := f.blockChannels[channelID]
	page := f.pages[channelID]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if auth {
		return nil, errors.NewSourceAuth(fmt.Errorf("401 unauthorized"))
	}
	if beforeID != "" {
		return nil, nil
	}
	return page, nil
}

func (f *fakeClient) Download(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads[url]++
	if f.failURLs[url] {
		return nil, fmt.Errorf("connection reset")
	}
	return []byte("image-bytes"), nil
}

func imageMessage(id, channel string, ts time.Time) source.Message {
	return source.Message{
		ID:         id,
		ChannelID:  channel,
		AuthorID:   "author1",
		AuthorName: "someone",
		AvatarURL:  "https://cdn.example/avatars/author1.png",
		Content:    "check this out",
		Timestamp:  ts,
		Attachments: []source.Attachment{
			{ID: "a1", URL: "https://cdn.example/" + id + ".png", Filename: id + ".png", ContentType: "image/png"},
		},
	}
}

type fixture struct {
	db     *gorm.DB
	index  *index.Index
	cache  *storage.Cache
	client *fakeClient
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	idx := index.New(gdb)
	cache := storage.NewCache(t.TempDir())
	client := newFakeClient()
	cfg := &config.Config{FetchLimit: 100}
	return &fixture{
		db:     gdb,
		index:  idx,
		cache:  cache,
		client: client,
		engine: New(gdb, idx, cache, client, cfg),
	}
}

func (f *fixture) waitDone(t *testing.T) Job {
	t.Helper()
	require.Eventually(t, func() bool {
		s := f.engine.Status().Status
		return s == StatusCompleted || s == StatusFailed
	}, 10*time.Second, 10*time.Millisecond)
	return f.engine.Status()
}

func TestEngineIdleBeforeFirstRun(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, StatusIdle, f.engine.Status().Status)
}

func TestEngineRejectsEmptyChannelList(t *testing.T) {
	f := newFixture(t)

	err := f.engine.Start(nil, "guild1", nil)
	assert.True(t, errors.Is(err, errors.ErrNoChannelsSelected))
	assert.Equal(t, StatusIdle, f.engine.Status().Status)
}

func TestEngineIndexesChannels(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.client.pages["ch1"] = []source.Message{
		imageMessage("m2", "ch1", now),
		imageMessage("m1", "ch1", now.Add(-time.Hour)),
	}
	f.client.pages["ch2"] = []source.Message{
		imageMessage("m3", "ch2", now),
	}

	var events []EventKind
	var mu sync.Mutex
	done := make(chan struct{})
	sink := func(kind EventKind, message string) {
		mu.Lock()
		events = append(events, kind)
		mu.Unlock()
		if kind == EventComplete {
			close(done)
		}
	}

	require.NoError(t, f.engine.Start(sink, "guild1", []string{"ch1", "ch2"}))
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("indexing did not complete")
	}
	job := f.engine.Status()

	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 3, job.MessagesIndexed)
	assert.Zero(t, job.ItemsSkipped)

	rows, err := f.index.Query("")
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	assert.True(t, f.cache.Exists(storage.IngestKey("m1", "a1", "png")))
	assert.True(t, f.cache.Exists(storage.AvatarKey("author1")))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, EventComplete, events[len(events)-1])

	var run models.IndexingRun
	require.NoError(t, f.db.First(&run, "id = ?", job.RunID).Error)
	assert.Equal(t, models.RunCompleted, run.Status)
	assert.Equal(t, 3, run.MessagesIndexed)
	assert.NotEmpty(t, run.Logs)
}

func TestEngineAtMostOneJob(t *testing.T) {
	f := newFixture(t)
	f.client.blockChannels["slow"] = true

	require.NoError(t, f.engine.Start(nil, "guild1", []string{"slow"}))
	err := f.engine.Start(nil, "guild1", []string{"slow"})
	assert.True(t, errors.Is(err, errors.ErrJobAlreadyRunning))

	f.engine.Cancel()
	job := f.waitDone(t)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, CancelledDetail, job.Detail)
}

func TestEngineRestartableAfterFinish(t *testing.T) {
	f := newFixture(t)
	f.client.pages["ch1"] = []source.Message{imageMessage("m1", "ch1", time.Now())}

	require.NoError(t, f.engine.Start(nil, "guild1", []string{"ch1"}))
	f.waitDone(t)

	require.NoError(t, f.engine.Start(nil, "guild1", []string{"ch1"}))
	job := f.waitDone(t)
	assert.Equal(t, StatusCompleted, job.Status)
}

func TestEngineAuthFailureAbortsRunKeepsEarlierWork(t *testing.T) {
	f := newFixture(t)
	f.client.pages["ch1"] = []source.Message{imageMessage("m1", "ch1", time.Now())}
	f.client.authChannels["ch2"] = true

	require.NoError(t, f.engine.Start(nil, "guild1", []string{"ch1", "ch2"}))
	job := f.waitDone(t)

	assert.Equal(t, StatusFailed, job.Status)
	assert.Contains(t, job.Detail, "authentication failed")

	// Work from the first channel survives the abort.
	rows, err := f.index.Query("ch1")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestEngineReindexIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.client.pages["ch1"] = []source.Message{imageMessage("m1", "ch1", time.Now())}

	require.NoError(t, f.engine.Start(nil, "guild1", []string{"ch1"}))
	f.waitDone(t)
	require.NoError(t, f.index.MarkUsed([]string{"m1"}))

	require.NoError(t, f.engine.Start(nil, "guild1", []string{"ch1"}))
	f.waitDone(t)

	rows, err := f.index.Query("")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Used, "re-index must not unprotect a used message")

	// The cached file is reused, not downloaded again.
	assert.Equal(t, 1, f.client.downloads["https://cdn.example/m1.png"])
}

func TestEngineSkipsFailedDownloads(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.client.pages["ch1"] = []source.Message{
		imageMessage("m1", "ch1", now),
		imageMessage("m2", "ch1", now),
	}
	f.client.failURLs["https://cdn.example/m2.png"] = true

	require.NoError(t, f.engine.Start(nil, "guild1", []string{"ch1"}))
	job := f.waitDone(t)

	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 1, job.MessagesIndexed)
	assert.Equal(t, 1, job.ItemsSkipped)

	rows, err := f.index.Query("")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "m1", rows[0].MessageID)
}

func TestEngineIgnoresNonImageMessages(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	textOnly := source.Message{ID: "m1", ChannelID: "ch1", AuthorID: "author1", Timestamp: now, Content: "no images here"}
	gifOnly := imageMessage("m2", "ch1", now)
	gifOnly.Attachments[0].ContentType = "image/gif"
	f.client.pages["ch1"] = []source.Message{textOnly, gifOnly}

	require.NoError(t, f.engine.Start(nil, "guild1", []string{"ch1"}))
	job := f.waitDone(t)

	assert.Equal(t, StatusCompleted, job.Status)
	assert.Zero(t, job.MessagesIndexed)
}

func TestEngineSkipsMessagesOutsideWindow(t *testing.T) {
	f := newFixture(t)
	f.client.pages["ch1"] = []source.Message{
		imageMessage("recent", "ch1", time.Now()),
		imageMessage("ancient", "ch1", time.Now().AddDate(0, -4, 0)),
	}

	require.NoError(t, f.engine.Start(nil, "guild1", []string{"ch1"}))
	job := f.waitDone(t)

	assert.Equal(t, StatusCompleted, job.Status)
	rows, err := f.index.Query("")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "recent", rows[0].MessageID)
}

func TestIsImageAttachment(t *testing.T) {
	cases := []struct {
		att  source.Attachment
		want bool
	}{
		{source.Attachment{ContentType: "image/png"}, true},
		{source.Attachment{ContentType: "image/jpeg"}, true},
		{source.Attachment{ContentType: "image/gif"}, false},
		{source.Attachment{ContentType: "video/mp4"}, false},
		{source.Attachment{Filename: "photo.PNG"}, true},
		{source.Attachment{Filename: "photo.webp"}, true},
		{source.Attachment{Filename: "clip.gif"}, false},
		{source.Attachment{Filename: "doc.pdf"}, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, isImageAttachment(tc.att), "%+v", tc.att)
	}
}

func TestWithRetryGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	cfg := retryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}
	err := withRetry(context.Background(), cfg, func() error {
		calls++
		return fmt.Errorf("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "max attempts")
}

func TestWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := withRetry(ctx, defaultRetryConfig(), func() error { return fmt.Errorf("boom") })
	assert.ErrorIs(t, err, context.Canceled)
}
