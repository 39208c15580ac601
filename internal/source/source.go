package source

import (
	"context"
	"time"
)

// Guild is a server the bot can see.
type Guild struct {
	ID   string
	Name string
	Icon string
}

// Channel is a text channel, with its parent category resolved by name.
type Channel struct {
	ID         string
	Name       string
	Topic      string
	Position   int
	ParentID   string
	ParentName string
}

// Attachment is one file attached to a source message.
type Attachment struct {
	ID          string
	URL         string
	Filename    string
	ContentType string
	Width       int
	Height      int
}

// Message is one message as fetched from the chat source.
type Message struct {
	ID          string
	ChannelID   string
	AuthorID    string
	AuthorName  string
	AvatarURL   string
	Content     string
	Timestamp   time.Time
	Attachments []Attachment
}

// Client is the chat-source boundary consumed by the indexing engine.
// ChannelHistory pages backwards: it returns up to limit messages strictly
// older than beforeID ("" for the newest page). Auth failures surface as the
// typed source-auth error, which aborts a whole indexing run; anything else
// on a single item is skip-and-log territory for the caller.
type Client interface {
	Guilds(ctx context.Context) ([]Guild, error)
	Channels(ctx context.Context, guildID string) ([]Channel, error)
	ChannelHistory(ctx context.Context, channelID, beforeID string, limit int) ([]Message, error)
	Download(ctx context.Context, url string) ([]byte, error)
}
