package index

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"showcased/internal/models"
)

// Index is the local durable store of ingested messages. The indexing engine
// is its only writer; everything else reads. There is no per-row delete here:
// rows leave only through maintenance cleanup or a full reset.
type Index struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Index {
	return &Index{db: db}
}

// Upsert writes messages, overwriting in place on message_id conflict so
// re-running a partially failed indexing job converges to the same rows.
// The Used flag is deliberately left alone: re-indexing must never unprotect
// a row a showcase still references.
func (i *Index) Upsert(messages []models.IndexedMessage) (int, error) {
	if len(messages) == 0 {
		return 0, nil
	}
	err := i.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "message_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"channel_id", "author_id", "author_name", "author_avatar",
			"content", "attachments", "timestamp",
		}),
	}).Create(&messages).Error
	if err != nil {
		return 0, fmt.Errorf("upsert messages: %w", err)
	}
	return len(messages), nil
}

// Query returns indexed messages, all channels when channelID is empty.
// Unfiltered and in no particular order; callers sort and filter as needed.
func (i *Index) Query(channelID string) ([]models.IndexedMessage, error) {
	var msgs []models.IndexedMessage
	q := i.db
	if channelID != "" {
		q = q.Where("channel_id = ?", channelID)
	}
	if err := q.Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	return msgs, nil
}

// ByIDs resolves message ids to full rows. Missing ids are simply absent from
// the result; the caller decides whether that is an error.
func (i *Index) ByIDs(ids []string) ([]models.IndexedMessage, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var msgs []models.IndexedMessage
	if err := i.db.Where("message_id IN ?", ids).Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("resolve message ids: %w", err)
	}
	return msgs, nil
}

// MarkUsed flags rows as referenced by a showcase selection, protecting them
// from age-based cleanup.
func (i *Index) MarkUsed(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := i.db.Model(&models.IndexedMessage{}).
		Where("message_id IN ?", ids).
		Update("used", true).Error
	if err != nil {
		return fmt.Errorf("mark messages used: %w", err)
	}
	return nil
}

// Stats summarizes the index for the storage usage report.
type Stats struct {
	MessageCount   int64
	ProtectedCount int64
	OldestUnix     int64
	NewestUnix     int64
}

func (i *Index) Stats() (Stats, error) {
	var s Stats
	if err := i.db.Model(&models.IndexedMessage{}).Count(&s.MessageCount).Error; err != nil {
		return Stats{}, fmt.Errorf("count messages: %w", err)
	}
	if err := i.db.Model(&models.IndexedMessage{}).Where("used = ?", true).Count(&s.ProtectedCount).Error; err != nil {
		return Stats{}, fmt.Errorf("count protected messages: %w", err)
	}
	if s.MessageCount > 0 {
		row := i.db.Model(&models.IndexedMessage{}).
			Select("MIN(timestamp), MAX(timestamp)").Row()
		if err := row.Scan(&s.OldestUnix, &s.NewestUnix); err != nil {
			return Stats{}, fmt.Errorf("scan message timestamps: %w", err)
		}
	}
	return s, nil
}
