package maintenance

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gorm.io/gorm"

	"showcased/internal/errors"
	"showcased/internal/index"
	"showcased/internal/models"
	"showcased/internal/storage"
)

// SecretWiper clears stored credentials during a full reset. Optional; the
// reset path tolerates a nil wiper.
type SecretWiper interface {
	DeleteAll() error
}

// Maintenance bundles the storage housekeeping operations: usage reporting,
// cache clearing, age-based cleanup and the full reset.
type Maintenance struct {
	db           *gorm.DB
	cache        *storage.Cache
	index        *index.Index
	dbPath       string
	artifactsDir string
	secrets      SecretWiper
	now          func() time.Time
}

func New(db *gorm.DB, cache *storage.Cache, idx *index.Index, dbPath, artifactsDir string, secrets SecretWiper) *Maintenance {
	return &Maintenance{
		db:           db,
		cache:        cache,
		index:        idx,
		dbPath:       dbPath,
		artifactsDir: artifactsDir,
		secrets:      secrets,
		now:          time.Now,
	}
}

// UsageReport describes what the application keeps on disk.
type UsageReport struct {
	DatabaseBytes     int64
	IngestCacheBytes  int64
	IngestCacheItems  int
	RenderCacheBytes  int64
	RenderCacheItems  int
	IndexedMessages   int64
	ProtectedMessages int64
	OldestMessageUnix int64
	NewestMessageUnix int64
	ShowcaseCount     int64
}

func (r UsageReport) TotalBytes() int64 {
	return r.DatabaseBytes + r.IngestCacheBytes + r.RenderCacheBytes
}

func (r UsageReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "database: %s\n", humanize.Bytes(uint64(r.DatabaseBytes)))
	fmt.Fprintf(&b, "image cache: %s (%d file(s))\n", humanize.Bytes(uint64(r.IngestCacheBytes)), r.IngestCacheItems)
	fmt.Fprintf(&b, "rendered images: %s (%d file(s))\n", humanize.Bytes(uint64(r.RenderCacheBytes)), r.RenderCacheItems)
	fmt.Fprintf(&b, "indexed messages: %d (%d protected)\n", r.IndexedMessages, r.ProtectedMessages)
	if r.IndexedMessages > 0 {
		fmt.Fprintf(&b, "message range: %s to %s\n",
			time.Unix(r.OldestMessageUnix, 0).UTC().Format("2006-01-02"),
			time.Unix(r.NewestMessageUnix, 0).UTC().Format("2006-01-02"))
	}
	fmt.Fprintf(&b, "showcases: %d\n", r.ShowcaseCount)
	fmt.Fprintf(&b, "total: %s", humanize.Bytes(uint64(r.TotalBytes())))
	return b.String()
}

// Usage gathers the storage report. A missing database file counts as zero
// bytes, not an error, so the report works on a fresh install.
func (m *Maintenance) Usage() (UsageReport, error) {
	var r UsageReport

	if info, err := os.Stat(m.dbPath); err == nil {
		r.DatabaseBytes = info.Size()
	} else if !os.IsNotExist(err) {
		return UsageReport{}, fmt.Errorf("stat database: %w", err)
	}

	ingest, err := m.cache.UsageUnder(storage.NamespaceIngest)
	if err != nil {
		return UsageReport{}, err
	}
	r.IngestCacheBytes = ingest.TotalBytes
	r.IngestCacheItems = ingest.ItemCount

	render, err := m.cache.UsageUnder(storage.NamespaceRender)
	if err != nil {
		return UsageReport{}, err
	}
	r.RenderCacheBytes = render.TotalBytes
	r.RenderCacheItems = render.ItemCount

	stats, err := m.index.Stats()
	if err != nil {
		return UsageReport{}, err
	}
	r.IndexedMessages = stats.MessageCount
	r.ProtectedMessages = stats.ProtectedCount
	r.OldestMessageUnix = stats.OldestUnix
	r.NewestMessageUnix = stats.NewestUnix

	if err := m.db.Model(&models.Showcase{}).Count(&r.ShowcaseCount).Error; err != nil {
		return UsageReport{}, fmt.Errorf("count showcases: %w", err)
	}
	return r, nil
}

// ClearImageCache drops every downloaded attachment and avatar. Rendered
// images and the message index are untouched; a later re-index refills the
// cache.
func (m *Maintenance) ClearImageCache() error {
	return m.cache.ClearNamespace(storage.NamespaceIngest)
}

// CleanupStats reports what an age-based cleanup removed.
type CleanupStats struct {
	MessagesDeleted int
	FilesDeleted    int
	SkippedUsed     int
}

// CleanOldData deletes indexed messages older than age together with their
// cached attachments. A message referenced by any showcase selection or
// flagged used is kept regardless of age.
func (m *Maintenance) CleanOldData(age time.Duration) (CleanupStats, error) {
	cutoff := m.now().Add(-age).Unix()

	referenced := map[string]bool{}
	var showcases []models.Showcase
	if err := m.db.Find(&showcases).Error; err != nil {
		return CleanupStats{}, fmt.Errorf("load showcases: %w", err)
	}
	for _, sc := range showcases {
		for _, msg := range sc.SelectedMessages {
			referenced[msg.MessageID] = true
		}
	}

	var candidates []models.IndexedMessage
	if err := m.db.Where("timestamp < ?", cutoff).Find(&candidates).Error; err != nil {
		return CleanupStats{}, fmt.Errorf("load old messages: %w", err)
	}

	var stats CleanupStats
	for _, msg := range candidates {
		if msg.Used || referenced[msg.MessageID] {
			stats.SkippedUsed++
			continue
		}
		for _, key := range msg.Attachments {
			if err := m.cache.Remove(key); err != nil {
				slog.Warn("cleanup could not remove cached file", "key", key, "error", err)
				continue
			}
			stats.FilesDeleted++
		}
		if err := m.db.Delete(&models.IndexedMessage{}, "message_id = ?", msg.MessageID).Error; err != nil {
			return stats, fmt.Errorf("delete message %s: %w", msg.MessageID, err)
		}
		stats.MessagesDeleted++
	}

	slog.Info("cleanup finished",
		"deleted", stats.MessagesDeleted,
		"files", stats.FilesDeleted,
		"skipped_used", stats.SkippedUsed)
	return stats, nil
}

// Reset wipes everything: all tables, the whole cache, exported artifacts and
// stored credentials. The database file itself stays so open handles survive.
func (m *Maintenance) Reset() error {
	tables := []any{
		&models.Showcase{},
		&models.IndexedMessage{},
		&models.IndexingRun{},
		&models.ConfigEntry{},
	}
	for _, table := range tables {
		if err := m.db.Where("1 = 1").Delete(table).Error; err != nil {
			return errors.NewInternal(fmt.Errorf("reset tables: %w", err))
		}
	}
	if err := m.cache.PurgeAll(); err != nil {
		return err
	}
	if m.artifactsDir != "" {
		if err := os.RemoveAll(m.artifactsDir); err != nil {
			return fmt.Errorf("remove artifacts dir: %w", err)
		}
	}
	if m.secrets != nil {
		if err := m.secrets.DeleteAll(); err != nil {
			slog.Warn("could not clear stored credentials", "error", err)
		}
	}
	slog.Info("application data reset")
	return nil
}
