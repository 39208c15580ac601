package indexer

import (
	"fmt"
	"strings"
	"sync"

	"gorm.io/gorm"

	"showcased/internal/models"
)

// runLog mirrors every emitted event into the run's Logs column as it
// happens, so a crash still leaves an inspectable trail.
type runLog struct {
	db    *gorm.DB
	runID uint

	mu  sync.Mutex
	buf strings.Builder
}

func newRunLog(db *gorm.DB, runID uint) *runLog {
	return &runLog{db: db, runID: runID}
}

func (l *runLog) append(kind EventKind, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprintf(&l.buf, "[%s] %s\n", kind, message)
	l.db.Model(&models.IndexingRun{}).
		Where("id = ?", l.runID).
		Update("logs", l.buf.String())
}

func (l *runLog) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.String()
}
