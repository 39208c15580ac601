package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Phase is a showcase's position in its four-stage workflow. It only moves
// forward under normal flow, but nothing here assumes the caller behaves.
type Phase int

const (
	PhaseSelecting Phase = iota + 1
	PhaseEditing
	PhaseSorting
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseSelecting:
		return "selecting"
	case PhaseEditing:
		return "editing"
	case PhaseSorting:
		return "sorting"
	case PhaseCompleted:
		return "completed"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

type OverlayPosition string

const (
	OverlayTopLeft     OverlayPosition = "top-left"
	OverlayTopRight    OverlayPosition = "top-right"
	OverlayBottomLeft  OverlayPosition = "bottom-left"
	OverlayBottomRight OverlayPosition = "bottom-right"
	OverlayHidden      OverlayPosition = "hidden"
)

type OverlayStyle string

const (
	OverlayDark  OverlayStyle = "dark"
	OverlayLight OverlayStyle = "light"
)

// Overlay width and transparency bounds, enforced at write time.
const (
	MinOverlayWidth = 120
	MaxOverlayWidth = 1920

	MinTransparency = 0
	MaxTransparency = 100
)

// OverlaySettings describes the caption/avatar box composited onto an image.
type OverlaySettings struct {
	Position     OverlayPosition `json:"position" validate:"oneof=top-left top-right bottom-left bottom-right hidden"`
	Style        OverlayStyle    `json:"style" validate:"oneof=dark light"`
	ShowAvatar   bool            `json:"showAvatar"`
	Width        int             `json:"width"`
	Transparency int             `json:"transparency"`
}

// Clamp forces width and transparency into their defined bounds. Caller
// values are never trusted as-is.
func (o *OverlaySettings) Clamp() {
	if o.Width < MinOverlayWidth {
		o.Width = MinOverlayWidth
	}
	if o.Width > MaxOverlayWidth {
		o.Width = MaxOverlayWidth
	}
	if o.Transparency < MinTransparency {
		o.Transparency = MinTransparency
	}
	if o.Transparency > MaxTransparency {
		o.Transparency = MaxTransparency
	}
}

// SelectedMessage is a frozen snapshot of one source message chosen for a
// showcase. Copied at selection time so later re-indexing cannot change a
// showcase's content.
type SelectedMessage struct {
	MessageID      string `json:"message_id" validate:"required"`
	ChannelID      string `json:"channel_id"`
	AuthorID       string `json:"author_id"`
	AuthorName     string `json:"author_name"`
	AuthorAvatar   string `json:"author_avatar,omitempty"`
	Content        string `json:"message_content"`
	AttachmentFile string `json:"selected_attachment_filename"`
	Timestamp      int64  `json:"timestamp"`
}

// ShowcaseImage is the per-image edit result. ImageKey points at the rendered
// composite in the content cache's render namespace.
type ShowcaseImage struct {
	MessageID string          `json:"message_id" validate:"required"`
	Sender    string          `json:"sender"`
	Avatar    string          `json:"avatar"`
	Message   string          `json:"message"`
	IsEdited  bool            `json:"is_edited"`
	ImageKey  string          `json:"image_key,omitempty"`
	Overlay   OverlaySettings `json:"overlay"`
}

// SelectedMessageList and ShowcaseImageList serialize as JSON text columns on
// the showcase row.
type SelectedMessageList []SelectedMessage

func (l SelectedMessageList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(l)
	return string(b), err
}

func (l *SelectedMessageList) Scan(src any) error {
	return scanJSON(src, l)
}

type ShowcaseImageList []ShowcaseImage

func (l ShowcaseImageList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(l)
	return string(b), err
}

func (l *ShowcaseImageList) Scan(src any) error {
	return scanJSON(src, l)
}

// StringList is a JSON-encoded text column of strings.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(l)
	return string(b), err
}

func (l *StringList) Scan(src any) error {
	return scanJSON(src, l)
}

func scanJSON(src, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" || v == "null" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	}
	return fmt.Errorf("cannot scan %T into JSON column", src)
}

// Showcase is a user-curated, ordered set of images destined for presentation
// export. Owned exclusively by the lifecycle manager.
type Showcase struct {
	ID               string `gorm:"primaryKey"`
	Title            string
	Description      string
	Status           string // display label, e.g. "Draft"
	Phase            Phase
	CreatedAt        int64
	LastModified     int64
	SelectedMessages SelectedMessageList `gorm:"type:text"`
	Images           ShowcaseImageList   `gorm:"type:text"`
	ArtifactPath     string
}

// IndexedMessage is one ingested source message. Written only by the indexing
// engine; read-only to everything else. Attachments holds content-cache keys.
// Used marks rows referenced by a showcase selection, which protects them
// from age-based cleanup.
type IndexedMessage struct {
	MessageID    string `gorm:"primaryKey"`
	ChannelID    string `gorm:"index"`
	AuthorID     string `gorm:"index"`
	AuthorName   string
	AuthorAvatar string
	Content      string
	Attachments  StringList `gorm:"type:text"`
	Timestamp    int64      `gorm:"index"`
	Used         bool
}

// RunStatus is the lifecycle of one indexing run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// IndexingRun is the persisted status and log of one indexing engine run.
type IndexingRun struct {
	ID              uint `gorm:"primaryKey"`
	ServerID        string
	ChannelIDs      StringList `gorm:"type:text"`
	Status          RunStatus
	Detail          string
	Logs            string `gorm:"type:text"`
	MessagesIndexed int
	ItemsSkipped    int
	StartedAt       int64
	FinishedAt      int64
}

// ConfigEntry is one persisted configuration key.
type ConfigEntry struct {
	Key   string `gorm:"primaryKey"`
	Value string
}
