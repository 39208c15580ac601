package discord

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/bwmarrin/discordgo"

	apperrors "showcased/internal/errors"
	"showcased/internal/source"
)

// Client talks to the Discord REST API with a bot token. No gateway
// connection is opened; everything here is plain request/response.
type Client struct {
	session *discordgo.Session
	http    *http.Client
}

func New(token string, downloadTimeout time.Duration) (*Client, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &Client{
		session: session,
		http:    &http.Client{Timeout: downloadTimeout},
	}, nil
}

// Guilds lists the servers the bot has been invited to.
func (c *Client) Guilds(ctx context.Context) ([]source.Guild, error) {
	guilds, err := c.session.UserGuilds(200, "", "", false, discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrapAPIError("list guilds", err)
	}
	out := make([]source.Guild, 0, len(guilds))
	for _, g := range guilds {
		out = append(out, source.Guild{ID: g.ID, Name: g.Name, Icon: g.Icon})
	}
	return out, nil
}

// Channels lists the guild's text channels sorted by position, with parent
// category names resolved.
func (c *Client) Channels(ctx context.Context, guildID string) ([]source.Channel, error) {
	channels, err := c.session.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrapAPIError("list channels", err)
	}

	categories := make(map[string]string)
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildCategory {
			categories[ch.ID] = ch.Name
		}
	}

	var out []source.Channel
	for _, ch := range channels {
		if ch.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		out = append(out, source.Channel{
			ID:         ch.ID,
			Name:       ch.Name,
			Topic:      ch.Topic,
			Position:   ch.Position,
			ParentID:   ch.ParentID,
			ParentName: categories[ch.ParentID],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

// ChannelHistory fetches up to limit messages strictly older than beforeID,
// newest first. An empty beforeID starts from the newest message.
func (c *Client) ChannelHistory(ctx context.Context, channelID, beforeID string, limit int) ([]source.Message, error) {
	msgs, err := c.session.ChannelMessages(channelID, limit, beforeID, "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrapAPIError("fetch channel messages", err)
	}

	out := make([]source.Message, 0, len(msgs))
	for _, msg := range msgs {
		m := source.Message{
			ID:        msg.ID,
			ChannelID: msg.ChannelID,
			Content:   msg.Content,
			Timestamp: msg.Timestamp,
		}
		if msg.Author != nil {
			m.AuthorID = msg.Author.ID
			m.AuthorName = msg.Author.Username
			m.AvatarURL = msg.Author.AvatarURL("")
		}
		for _, att := range msg.Attachments {
			m.Attachments = append(m.Attachments, source.Attachment{
				ID:          att.ID,
				URL:         att.URL,
				Filename:    att.Filename,
				ContentType: att.ContentType,
				Width:       att.Width,
				Height:      att.Height,
			})
		}
		out = append(out, m)
	}
	return out, nil
}

// Download fetches one attachment or avatar from the CDN.
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: unexpected status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read download body: %w", err)
	}
	return data, nil
}

// wrapAPIError turns a rejected token into the typed auth error so the
// indexing engine can abort a run with the right detail.
func wrapAPIError(op string, err error) error {
	var restErr *discordgo.RESTError
	if stderrors.As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return apperrors.NewSourceAuth(err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
