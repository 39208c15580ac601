package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"showcased/internal/config"
	"showcased/internal/errors"
	"showcased/internal/index"
	"showcased/internal/models"
	"showcased/internal/source"
	"showcased/internal/storage"
)

// Status is the engine's externally visible state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// CancelledDetail is the failure detail set when a run is cancelled rather
// than broken.
const CancelledDetail = "cancelled"

// Job is a snapshot of the current (or most recent) indexing run.
type Job struct {
	RunID           uint
	ServerID        string
	ChannelIDs      []string
	Status          Status
	Detail          string
	LastProgress    string
	MessagesIndexed int
	ItemsSkipped    int
	StartedAt       time.Time
	FinishedAt      time.Time
}

// Engine drives channel ingestion: fetch history, cache image attachments,
// upsert the message index, emit progress. At most one run exists at a time;
// the mutex-guarded current job is the whole concurrency story.
type Engine struct {
	db     *gorm.DB
	index  *index.Index
	cache  *storage.Cache
	client source.Client
	cfg    *config.Config
	now    func() time.Time

	mu      sync.Mutex
	current *Job
	cancel  context.CancelFunc
}

func New(db *gorm.DB, idx *index.Index, cache *storage.Cache, client source.Client, cfg *config.Config) *Engine {
	return &Engine{
		db:     db,
		index:  idx,
		cache:  cache,
		client: client,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Status returns a non-blocking snapshot. Idle until the first run starts.
func (e *Engine) Status() Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return Job{Status: StatusIdle}
	}
	snap := *e.current
	snap.ChannelIDs = append([]string(nil), e.current.ChannelIDs...)
	return snap
}

// Cancel asks a running job to stop at the next item boundary. Already
// ingested messages and cached attachments stay put.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

// Start begins a new indexing run over the given channels. Fails without
// side effects when a run is already live or the channel list is empty.
func (e *Engine) Start(sink Sink, serverID string, channelIDs []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current != nil && e.current.Status == StatusRunning {
		return errors.NewJobAlreadyRunning()
	}
	if len(channelIDs) == 0 {
		return errors.NewNoChannelsSelected()
	}

	run := models.IndexingRun{
		ServerID:   serverID,
		ChannelIDs: models.StringList(channelIDs),
		Status:     models.RunRunning,
		StartedAt:  e.now().Unix(),
	}
	if err := e.db.Create(&run).Error; err != nil {
		return errors.NewInternal(fmt.Errorf("create indexing run: %w", err))
	}

	job := &Job{
		RunID:      run.ID,
		ServerID:   serverID,
		ChannelIDs: append([]string(nil), channelIDs...),
		Status:     StatusRunning,
		StartedAt:  e.now(),
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.current = job
	e.cancel = cancel

	go e.run(ctx, job, sink)
	return nil
}

// emit delivers one event to the sink and the persisted run log.
func (e *Engine) emit(job *Job, log *runLog, sink Sink, kind EventKind, message string) {
	log.append(kind, message)
	if kind == EventStatus || kind == EventProgress {
		e.mu.Lock()
		job.LastProgress = message
		e.mu.Unlock()
	}
	if sink != nil {
		sink(kind, message)
	}
}

func (e *Engine) run(ctx context.Context, job *Job, sink Sink) {
	log := newRunLog(e.db, job.RunID)
	since := e.indexWindowStart()

	e.emit(job, log, sink, EventStatus,
		fmt.Sprintf("indexing started: %d channel(s), messages since %s", len(job.ChannelIDs), since.Format("2006-01-02")))

	var indexed, skipped int
	for _, channelID := range job.ChannelIDs {
		if ctx.Err() != nil {
			e.finish(job, log, sink, StatusFailed, CancelledDetail, indexed, skipped)
			return
		}
		n, s, err := e.indexChannel(ctx, job, log, sink, channelID, since)
		indexed += n
		skipped += s
		if err != nil {
			if ctx.Err() != nil {
				e.finish(job, log, sink, StatusFailed, CancelledDetail, indexed, skipped)
				return
			}
			detail := fmt.Sprintf("channel %s: %v", channelID, err)
			if errors.Is(err, errors.ErrSourceAuth) {
				detail = fmt.Sprintf("authentication failed: %v", err)
			}
			e.finish(job, log, sink, StatusFailed, detail, indexed, skipped)
			return
		}
		e.emit(job, log, sink, EventProgress,
			fmt.Sprintf("finished channel %s (%d message(s) indexed so far, %d item(s) skipped)", channelID, indexed, skipped))
	}

	e.finish(job, log, sink, StatusCompleted, "", indexed, skipped)
}

// indexChannel walks one channel's history backwards in pages until it runs
// out of messages or crosses the index window. Returns counts for messages
// upserted and items skipped. A fetch or database error aborts the channel
// and, upstream, the whole run; item-level failures only bump the skip count.
func (e *Engine) indexChannel(ctx context.Context, job *Job, log *runLog, sink Sink, channelID string, since time.Time) (int, int, error) {
	e.emit(job, log, sink, EventStatus, fmt.Sprintf("fetching channel %s", channelID))

	var indexed, skipped int
	beforeID := ""
	for {
		if err := ctx.Err(); err != nil {
			return indexed, skipped, err
		}
		msgs, err := e.client.ChannelHistory(ctx, channelID, beforeID, e.cfg.FetchLimit)
		if err != nil {
			return indexed, skipped, err
		}
		if len(msgs) == 0 {
			return indexed, skipped, nil
		}
		// History pages come newest-first; the last entry anchors the
		// next page.
		beforeID = msgs[len(msgs)-1].ID

		var batch []models.IndexedMessage
		reachedOlder := false
		for _, msg := range msgs {
			if err := ctx.Err(); err != nil {
				return indexed, skipped, err
			}
			if msg.Timestamp.Before(since) {
				reachedOlder = true
				continue
			}
			keys, itemsSkipped := e.ingestAttachments(ctx, job, log, sink, msg)
			skipped += itemsSkipped
			if len(keys) == 0 {
				continue
			}
			e.cacheAvatar(ctx, msg)
			batch = append(batch, models.IndexedMessage{
				MessageID:    msg.ID,
				ChannelID:    msg.ChannelID,
				AuthorID:     msg.AuthorID,
				AuthorName:   msg.AuthorName,
				AuthorAvatar: msg.AvatarURL,
				Content:      msg.Content,
				Attachments:  models.StringList(keys),
				Timestamp:    msg.Timestamp.Unix(),
			})
		}

		if len(batch) > 0 {
			n, err := e.index.Upsert(batch)
			if err != nil {
				return indexed, skipped, err
			}
			indexed += n
			e.emit(job, log, sink, EventProgress,
				fmt.Sprintf("channel %s: %d message(s) with images indexed", channelID, indexed))
		}

		if reachedOlder {
			return indexed, skipped, nil
		}
	}
}

// ingestAttachments downloads every image attachment of msg into the ingest
// namespace and returns the cache keys. A single failed item is logged and
// counted, never fatal.
func (e *Engine) ingestAttachments(ctx context.Context, job *Job, log *runLog, sink Sink, msg source.Message) ([]string, int) {
	var keys []string
	var skipped int
	for _, att := range msg.Attachments {
		if !isImageAttachment(att) {
			continue
		}
		key := storage.IngestKey(msg.ID, att.ID, attachmentExt(att.Filename))
		if e.cache.Exists(key) {
			keys = append(keys, key)
			continue
		}

		e.emit(job, log, sink, EventStatus, fmt.Sprintf("downloading %s", att.Filename))
		var data []byte
		err := withRetry(ctx, defaultRetryConfig(), func() error {
			var dlErr error
			data, dlErr = e.client.Download(ctx, att.URL)
			return dlErr
		})
		if err != nil {
			skipped++
			e.emit(job, log, sink, EventError,
				fmt.Sprintf("skipped attachment %s of message %s: %v", att.Filename, msg.ID, err))
			continue
		}
		if err := e.cache.Put(key, data); err != nil {
			skipped++
			e.emit(job, log, sink, EventError,
				fmt.Sprintf("skipped attachment %s of message %s: %v", att.Filename, msg.ID, err))
			continue
		}
		keys = append(keys, key)
	}
	return keys, skipped
}

// cacheAvatar stores the author's avatar once per author so render inputs
// can be served offline. Best effort; failures are only logged.
func (e *Engine) cacheAvatar(ctx context.Context, msg source.Message) {
	if msg.AvatarURL == "" {
		return
	}
	key := storage.AvatarKey(msg.AuthorID)
	if e.cache.Exists(key) {
		return
	}
	data, err := e.client.Download(ctx, msg.AvatarURL)
	if err != nil {
		slog.Debug("avatar download failed", "author_id", msg.AuthorID, "error", err)
		return
	}
	if err := e.cache.Put(key, data); err != nil {
		slog.Debug("avatar cache write failed", "author_id", msg.AuthorID, "error", err)
	}
}

func (e *Engine) finish(job *Job, log *runLog, sink Sink, status Status, detail string, indexed, skipped int) {
	finishedAt := e.now()

	// Persist the run row before flipping the visible status, so anyone who
	// observes a finished job reads a finished row.
	runStatus := models.RunCompleted
	if status == StatusFailed {
		runStatus = models.RunFailed
	}
	e.db.Model(&models.IndexingRun{}).Where("id = ?", job.RunID).Updates(map[string]any{
		"status":           runStatus,
		"detail":           detail,
		"messages_indexed": indexed,
		"items_skipped":    skipped,
		"finished_at":      finishedAt.Unix(),
	})

	e.mu.Lock()
	job.Status = status
	job.Detail = detail
	job.MessagesIndexed = indexed
	job.ItemsSkipped = skipped
	job.FinishedAt = finishedAt
	e.mu.Unlock()

	switch status {
	case StatusCompleted:
		e.emit(job, log, sink, EventComplete,
			fmt.Sprintf("indexing finished: %d message(s) with images indexed, %d item(s) skipped", indexed, skipped))
	case StatusFailed:
		e.emit(job, log, sink, EventError, fmt.Sprintf("indexing failed: %s", detail))
	}
	slog.Info("indexing run finished",
		"run_id", job.RunID,
		"status", string(status),
		"indexed", indexed,
		"skipped", skipped)
}

// indexWindowStart is the start of the previous calendar month: indexing
// covers the previous month plus the current one.
func (e *Engine) indexWindowStart() time.Time {
	now := e.now().UTC()
	firstOfCurrent := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return firstOfCurrent.AddDate(0, -1, 0)
}

// isImageAttachment classifies by content type first, filename extension as
// fallback. GIFs are excluded either way.
func isImageAttachment(att source.Attachment) bool {
	ct := strings.ToLower(att.ContentType)
	if ct != "" {
		return strings.HasPrefix(ct, "image/") && ct != "image/gif"
	}
	switch strings.ToLower(path.Ext(att.Filename)) {
	case ".png", ".jpg", ".jpeg", ".webp":
		return true
	}
	return false
}

func attachmentExt(filename string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(filename)), ".")
	if ext == "" {
		return "png"
	}
	return ext
}
