// Copyright 2024-2026 Aiku AI

// Package telegram implements the destination side of the bridge on a
// Telegram forum-style supergroup: one forum topic per conversation thread.
//
// The bot API library predates forum topics and message reactions, so the
// endpoints that need them (createForumTopic, setMessageReaction, sends
// scoped by message_thread_id and the update poller) go through the
// library's raw MakeRequest/UploadFiles escape hatches.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"go.mau.fi/util/exmime"

	"github.com/aiku/topicbridge/pkg/bridge"
)

// Client is a bot bound to a single forum supergroup.
type Client struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    zerolog.Logger

	events   chan *bridge.SubchannelEvent
	stopOnce sync.Once
	stopChan chan struct{}
}

var _ bridge.DestinationChatClient = (*Client)(nil)

// New authenticates the bot token against the production API.
func New(token string, chatID int64, log zerolog.Logger) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate telegram bot: %w", err)
	}
	return newClient(bot, chatID, log), nil
}

// NewWithEndpoint authenticates against a custom API endpoint. Used by
// tests against a fake server.
func NewWithEndpoint(token, endpoint string, chatID int64, log zerolog.Logger) (*Client, error) {
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate telegram bot: %w", err)
	}
	return newClient(bot, chatID, log), nil
}

func newClient(bot *tgbotapi.BotAPI, chatID int64, log zerolog.Logger) *Client {
	return &Client{
		bot:      bot,
		chatID:   chatID,
		log:      log.With().Str("component", "telegram").Logger(),
		events:   make(chan *bridge.SubchannelEvent, 64),
		stopChan: make(chan struct{}),
	}
}

// Connect starts the update poller. Events are delivered on Events until
// Close is called.
func (c *Client) Connect(ctx context.Context) {
	c.log.Info().
		Int64("chat_id", c.chatID).
		Str("username", c.bot.Self.UserName).
		Msg("Connected to Telegram")
	go c.pollUpdates(ctx)
}

// Events yields messages posted into the monitored chat's topics.
func (c *Client) Events() <-chan *bridge.SubchannelEvent {
	return c.events
}

// CreateSubchannel creates a forum topic and returns its thread id.
func (c *Client) CreateSubchannel(_ context.Context, name string) (string, error) {
	params := make(tgbotapi.Params)
	params.AddNonZero64("chat_id", c.chatID)
	params.AddNonEmpty("name", name)

	resp, err := c.bot.MakeRequest("createForumTopic", params)
	if err != nil {
		return "", fmt.Errorf("createForumTopic failed: %w", err)
	}
	var topic struct {
		MessageThreadID int64 `json:"message_thread_id"`
	}
	if err := json.Unmarshal(resp.Result, &topic); err != nil {
		return "", fmt.Errorf("failed to parse createForumTopic response: %w", err)
	}
	if topic.MessageThreadID == 0 {
		return "", fmt.Errorf("createForumTopic returned no thread id")
	}
	return strconv.FormatInt(topic.MessageThreadID, 10), nil
}

// SendText posts a text message into the topic and returns its message id.
func (c *Client) SendText(_ context.Context, subchannelID, text string) (string, error) {
	params := make(tgbotapi.Params)
	params.AddNonZero64("chat_id", c.chatID)
	params.AddNonEmpty("message_thread_id", subchannelID)
	params.AddNonEmpty("text", text)

	resp, err := c.bot.MakeRequest("sendMessage", params)
	if err != nil {
		return "", c.wrapSendError("sendMessage", err)
	}
	return parseMessageID(resp.Result)
}

// SendMedia uploads (or links) a media payload into the topic.
func (c *Client) SendMedia(_ context.Context, subchannelID string, media *bridge.OutboundMedia) (string, error) {
	endpoint, field := mediaEndpoint(media.Kind)

	params := make(tgbotapi.Params)
	params.AddNonZero64("chat_id", c.chatID)
	params.AddNonEmpty("message_thread_id", subchannelID)
	params.AddNonEmpty("caption", media.Caption)

	var resp *tgbotapi.APIResponse
	var err error
	if media.URL != "" {
		params.AddNonEmpty(field, media.URL)
		resp, err = c.bot.MakeRequest(endpoint, params)
	} else {
		resp, err = c.bot.UploadFiles(endpoint, params, []tgbotapi.RequestFile{{
			Name: field,
			Data: tgbotapi.FileBytes{
				Name:  uploadFileName(media),
				Bytes: media.Data,
			},
		}})
	}
	if err != nil {
		return "", c.wrapSendError(endpoint, err)
	}
	return parseMessageID(resp.Result)
}

// PinMessage pins a message in the chat. Topic pins are chat-wide on this
// platform; the message id is enough.
func (c *Client) PinMessage(_ context.Context, messageID string) error {
	params := make(tgbotapi.Params)
	params.AddNonZero64("chat_id", c.chatID)
	params.AddNonEmpty("message_id", messageID)
	params.AddBool("disable_notification", true)

	if _, err := c.bot.MakeRequest("pinChatMessage", params); err != nil {
		return fmt.Errorf("pinChatMessage failed: %w", err)
	}
	return nil
}

// SetReaction applies an emoji reaction to the message.
func (c *Client) SetReaction(_ context.Context, messageID string, marker bridge.AckMarker) error {
	params := make(tgbotapi.Params)
	params.AddNonZero64("chat_id", c.chatID)
	params.AddNonEmpty("message_id", messageID)
	if err := params.AddInterface("reaction", []map[string]string{{
		"type":  "emoji",
		"emoji": string(marker),
	}}); err != nil {
		return err
	}

	if _, err := c.bot.MakeRequest("setMessageReaction", params); err != nil {
		return fmt.Errorf("setMessageReaction failed: %w", err)
	}
	return nil
}

// SubchannelExists probes the topic with a chat action. There is no
// dedicated existence endpoint; a deleted topic answers the probe with a
// thread-not-found error.
func (c *Client) SubchannelExists(_ context.Context, subchannelID string) (bool, error) {
	params := make(tgbotapi.Params)
	params.AddNonZero64("chat_id", c.chatID)
	params.AddNonEmpty("message_thread_id", subchannelID)
	params.AddNonEmpty("action", "typing")

	if _, err := c.bot.MakeRequest("sendChatAction", params); err != nil {
		if isThreadMissing(err) {
			return false, nil
		}
		return false, fmt.Errorf("sendChatAction probe failed: %w", err)
	}
	return true, nil
}

// Close stops the update poller.
func (c *Client) Close() error {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
	return nil
}

// wrapSendError maps thread-not-found API errors onto ErrSubchannelMissing
// so the pipelines can run stale mapping recovery.
func (c *Client) wrapSendError(endpoint string, err error) error {
	if isThreadMissing(err) {
		return fmt.Errorf("%s: %w", endpoint, bridge.ErrSubchannelMissing)
	}
	return fmt.Errorf("%s failed: %w", endpoint, err)
}

func isThreadMissing(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "message thread not found") ||
		strings.Contains(msg, "topic_deleted") ||
		strings.Contains(msg, "topic_closed")
}

func mediaEndpoint(kind bridge.MessageType) (endpoint, field string) {
	switch kind {
	case bridge.MessagePhoto:
		return "sendPhoto", "photo"
	case bridge.MessageVideo:
		return "sendVideo", "video"
	case bridge.MessageVoice:
		return "sendVoice", "voice"
	default:
		return "sendDocument", "document"
	}
}

func uploadFileName(media *bridge.OutboundMedia) string {
	if media.FileName != "" {
		return media.FileName
	}
	return "file" + exmime.ExtensionFromMimetype(media.MIMEType)
}

func parseMessageID(result json.RawMessage) (string, error) {
	var msg struct {
		MessageID int64 `json:"message_id"`
	}
	if err := json.Unmarshal(result, &msg); err != nil {
		return "", fmt.Errorf("failed to parse message id: %w", err)
	}
	return strconv.FormatInt(msg.MessageID, 10), nil
}
