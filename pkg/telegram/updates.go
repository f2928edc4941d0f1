// Copyright 2024-2026 Aiku AI

package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/aiku/topicbridge/pkg/bridge"
)

// Raw update shapes: the library's Update struct predates forum topics and
// drops message_thread_id, so the poller decodes getUpdates itself.
type rawUpdate struct {
	UpdateID int64       `json:"update_id"`
	Message  *rawMessage `json:"message"`
}

type rawMessage struct {
	MessageID       int64          `json:"message_id"`
	MessageThreadID int64          `json:"message_thread_id"`
	IsTopicMessage  bool           `json:"is_topic_message"`
	From            *rawUser       `json:"from"`
	Chat            *rawChat       `json:"chat"`
	Date            int64          `json:"date"`
	Text            string         `json:"text"`
	Caption         string         `json:"caption"`
	Photo           []rawPhotoSize `json:"photo"`
	Voice           *rawFile       `json:"voice"`
	Audio           *rawFile       `json:"audio"`
	Video           *rawFile       `json:"video"`
	Document        *rawFile       `json:"document"`
	Sticker         *rawFile       `json:"sticker"`
}

type rawUser struct {
	ID       int64  `json:"id"`
	IsBot    bool   `json:"is_bot"`
	Username string `json:"username"`
}

type rawChat struct {
	ID int64 `json:"id"`
}

type rawPhotoSize struct {
	FileID   string `json:"file_id"`
	FileSize int64  `json:"file_size"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

type rawFile struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

const pollTimeoutSeconds = 10

// pollUpdates long-polls getUpdates until the client is closed.
func (c *Client) pollUpdates(ctx context.Context) {
	var offset int64
	for {
		select {
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		updates, err := c.getUpdates(offset)
		if err != nil {
			c.log.Warn().Err(err).Msg("getUpdates failed")
			select {
			case <-c.stopChan:
				return
			case <-ctx.Done():
				return
			case <-time.After(3 * time.Second):
			}
			continue
		}

		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			evt := c.toSubchannelEvent(upd.Message)
			if evt == nil {
				continue
			}
			select {
			case c.events <- evt:
			case <-c.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *Client) getUpdates(offset int64) ([]rawUpdate, error) {
	params := make(tgbotapi.Params)
	params.AddNonZero64("offset", offset)
	params.AddNonZero("timeout", pollTimeoutSeconds)
	if err := params.AddInterface("allowed_updates", []string{"message"}); err != nil {
		return nil, err
	}

	resp, err := c.bot.MakeRequest("getUpdates", params)
	if err != nil {
		return nil, err
	}
	var updates []rawUpdate
	if err := json.Unmarshal(resp.Result, &updates); err != nil {
		return nil, fmt.Errorf("failed to parse updates: %w", err)
	}
	return updates, nil
}

// toSubchannelEvent filters and converts one raw message. Nil means the
// update is not a topic message of the monitored chat (or is bot echo).
func (c *Client) toSubchannelEvent(msg *rawMessage) *bridge.SubchannelEvent {
	if msg == nil || msg.Chat == nil || msg.Chat.ID != c.chatID {
		return nil
	}
	if msg.MessageThreadID == 0 || !msg.IsTopicMessage {
		return nil
	}
	// Echo prevention: never relay bot posts, our own or otherwise.
	if msg.From == nil || msg.From.IsBot {
		return nil
	}

	evt := &bridge.SubchannelEvent{
		MessageID:      strconv.FormatInt(msg.MessageID, 10),
		SubchannelID:   strconv.FormatInt(msg.MessageThreadID, 10),
		SenderID:       strconv.FormatInt(msg.From.ID, 10),
		SenderUsername: msg.From.Username,
		Text:           msg.Text,
		Kind:           bridge.MessageText,
		Timestamp:      time.Unix(msg.Date, 0).UTC(),
	}

	switch {
	case len(msg.Photo) > 0:
		photo := pickLargestPhoto(msg.Photo)
		evt.Kind = bridge.MessagePhoto
		evt.Media = c.mediaRef(photo.FileID, "", "image/jpeg", msg.Caption)
	case msg.Voice != nil:
		evt.Kind = bridge.MessageVoice
		evt.Media = c.mediaRef(msg.Voice.FileID, msg.Voice.FileName, msg.Voice.MimeType, msg.Caption)
	case msg.Video != nil:
		evt.Kind = bridge.MessageVideo
		evt.Media = c.mediaRef(msg.Video.FileID, msg.Video.FileName, msg.Video.MimeType, msg.Caption)
	case msg.Audio != nil:
		evt.Kind = bridge.MessageDocument
		evt.Media = c.mediaRef(msg.Audio.FileID, msg.Audio.FileName, msg.Audio.MimeType, msg.Caption)
	case msg.Document != nil:
		evt.Kind = bridge.MessageDocument
		evt.Media = c.mediaRef(msg.Document.FileID, msg.Document.FileName, msg.Document.MimeType, msg.Caption)
	case msg.Sticker != nil:
		evt.Kind = bridge.MessageOther
	case msg.Text == "":
		evt.Kind = bridge.MessageOther
	}

	if evt.Text == "" {
		evt.Text = msg.Caption
	}
	return evt
}

// mediaRef builds the lazy fetch contract for a file id. The download URL
// is resolved at fetch time so expired links never get cached.
func (c *Client) mediaRef(fileID, fileName, mimeType, caption string) *bridge.MediaRef {
	return &bridge.MediaRef{
		MIMEType: mimeType,
		FileName: fileName,
		Caption:  caption,
		Fetch: func(ctx context.Context) ([]byte, error) {
			url, err := c.bot.GetFileDirectURL(fileID)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve file url: %w", err)
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return nil, err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return nil, fmt.Errorf("failed to download file: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return nil, fmt.Errorf("file download returned status %d", resp.StatusCode)
			}
			return io.ReadAll(resp.Body)
		},
	}
}

func pickLargestPhoto(sizes []rawPhotoSize) rawPhotoSize {
	best := sizes[0]
	for _, s := range sizes[1:] {
		if s.FileSize > best.FileSize {
			best = s
			continue
		}
		if s.Width*s.Height > best.Width*best.Height {
			best = s
		}
	}
	return best
}
