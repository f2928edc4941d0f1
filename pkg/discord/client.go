// Copyright 2024-2026 Aiku AI

// Package discord implements the source side of the bridge over Discord
// direct messages. Gateway events are buffered in memory and drained
// through the engine's poll-style ListNewMessages contract; a closed
// gateway surfaces as an auth-class error so the lifecycle controller runs
// its re-login recovery.
package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/aiku/topicbridge/pkg/bridge"
)

// Client is the Discord DM source.
type Client struct {
	session *discordgo.Session
	log     zerolog.Logger

	selfID    atomic.Value // string
	connected atomic.Bool

	mu     sync.Mutex
	buffer []*bridge.NormalizedMessage
}

var _ bridge.SourceMessagingClient = (*Client)(nil)

// New builds a client from a bot token. The gateway is not opened until
// Login.
func New(token string, log zerolog.Logger) (*Client, error) {
	if token == "" {
		return nil, bridge.ErrNoCredentials
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	c := &Client{
		session: session,
		log:     log.With().Str("component", "discord").Logger(),
	}
	c.selfID.Store("")

	session.Identify.Intents = discordgo.IntentsDirectMessages | discordgo.IntentMessageContent
	session.AddHandler(c.onReady)
	session.AddHandler(c.onMessageCreate)
	session.AddHandler(c.onDisconnect)
	return c, nil
}

// Login opens the gateway connection. Calling it while already connected
// is a no-op, which makes degraded-state recovery idempotent.
func (c *Client) Login(_ context.Context) error {
	err := c.session.Open()
	if errors.Is(err, discordgo.ErrWSAlreadyOpen) {
		c.connected.Store(true)
		return nil
	}
	if err != nil {
		return &bridge.AuthError{Op: "login", Err: err}
	}
	c.connected.Store(true)
	c.log.Info().Msg("Gateway connected")
	return nil
}

func (c *Client) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	c.selfID.Store(r.User.ID)
	c.connected.Store(true)
	c.log.Info().Str("user_id", r.User.ID).Str("username", r.User.Username).Msg("Ready")
}

func (c *Client) onDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	c.connected.Store(false)
	c.log.Warn().Msg("Gateway disconnected")
}

func (c *Client) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	// DMs only: guild-scoped messages are out of scope for the bridge.
	if m.GuildID != "" {
		return
	}
	if m.Author == nil || m.Author.Bot || m.Author.ID == c.selfID.Load().(string) {
		return
	}

	msg := normalizeMessage(m.Message)
	c.mu.Lock()
	c.buffer = append(c.buffer, msg)
	c.mu.Unlock()

	c.log.Debug().
		Str("message_id", msg.ID).
		Str("thread_id", msg.ThreadID).
		Str("type", string(msg.Type)).
		Msg("Buffered inbound DM")
}

// ListNewMessages drains the buffered DMs. A dead gateway is reported as
// an auth-class error so the bridge degrades instead of silently idling.
func (c *Client) ListNewMessages(_ context.Context) ([]*bridge.NormalizedMessage, error) {
	if !c.connected.Load() {
		return nil, &bridge.AuthError{Op: "poll", Err: errors.New("gateway not connected")}
	}
	c.mu.Lock()
	msgs := c.buffer
	c.buffer = nil
	c.mu.Unlock()
	return msgs, nil
}

// SendText sends a plain text message into the DM channel.
func (c *Client) SendText(_ context.Context, threadID, text string) error {
	if _, err := c.session.ChannelMessageSend(threadID, text); err != nil {
		return fmt.Errorf("failed to send message to %s: %w", threadID, err)
	}
	return nil
}

// SendMedia uploads a file attachment into the DM channel. It reports
// accepted=false for oversized payloads instead of erroring, so the caller
// can fall back to text.
func (c *Client) SendMedia(_ context.Context, threadID string, media *bridge.OutboundMedia) (bool, error) {
	// Discord rejects uploads over 25 MiB for regular bots.
	const maxUpload = 25 << 20
	if len(media.Data) > maxUpload {
		return false, nil
	}

	_, err := c.session.ChannelMessageSendComplex(threadID, &discordgo.MessageSend{
		Content: media.Caption,
		Files: []*discordgo.File{{
			Name:        media.FileName,
			ContentType: media.MIMEType,
			Reader:      bytes.NewReader(media.Data),
		}},
	})
	if err != nil {
		return false, fmt.Errorf("failed to send media to %s: %w", threadID, err)
	}
	return true, nil
}

// ParticipantAvatarURL resolves the participant's avatar, empty when they
// have none.
func (c *Client) ParticipantAvatarURL(_ context.Context, participantID string) (string, error) {
	user, err := c.session.User(participantID)
	if err != nil {
		return "", fmt.Errorf("failed to fetch user %s: %w", participantID, err)
	}
	if user.Avatar == "" {
		return "", nil
	}
	return user.AvatarURL("256"), nil
}

// Close shuts the gateway down.
func (c *Client) Close() error {
	c.connected.Store(false)
	return c.session.Close()
}

// normalizeMessage converts a Discord message into the engine's neutral
// form. The DM channel id doubles as the thread id.
func normalizeMessage(m *discordgo.Message) *bridge.NormalizedMessage {
	msg := &bridge.NormalizedMessage{
		ID:             m.ID,
		Text:           m.Content,
		SenderID:       m.Author.ID,
		SenderUsername: m.Author.Username,
		SenderFullName: m.Author.GlobalName,
		Timestamp:      m.Timestamp,
		ThreadID:       m.ChannelID,
		Type:           bridge.MessageText,
		Raw:            m,
	}

	if len(m.Attachments) > 0 {
		att := m.Attachments[0]
		msg.Type = classifyAttachment(att)
		msg.Media = &bridge.MediaRef{
			MIMEType: att.ContentType,
			FileName: att.Filename,
			Caption:  m.Content,
			Fetch:    fetchURL(att.URL),
		}
	} else if m.Content == "" {
		// Stickers, polls and the like have neither text nor attachments.
		msg.Type = bridge.MessageOther
	}
	return msg
}

func classifyAttachment(att *discordgo.MessageAttachment) bridge.MessageType {
	switch {
	case strings.HasPrefix(att.ContentType, "image/"):
		return bridge.MessagePhoto
	case strings.HasPrefix(att.ContentType, "video/"):
		return bridge.MessageVideo
	case strings.HasPrefix(att.ContentType, "audio/"):
		return bridge.MessageVoice
	default:
		return bridge.MessageDocument
	}
}

func fetchURL(url string) func(ctx context.Context) ([]byte, error) {
	return func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to download attachment: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("attachment download returned status %d", resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	}
}
