// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"encoding/json"
	"time"
)

// SourceMessagingClient is the direct-messaging side of the bridge. The
// engine only consumes this interface; session handling and wire formats
// live in the adapter.
type SourceMessagingClient interface {
	// Login establishes (or re-establishes) the session. It is called once
	// during startup and again from degraded-state recovery.
	Login(ctx context.Context) error
	// ListNewMessages drains messages received since the previous call.
	// Connection and auth failures are reported as errors; an auth-class
	// error moves the bridge into the degraded state.
	ListNewMessages(ctx context.Context) ([]*NormalizedMessage, error)
	SendText(ctx context.Context, threadID, text string) error
	// SendMedia returns false when the platform refused the binary form,
	// in which case the caller falls back to descriptive text.
	SendMedia(ctx context.Context, threadID string, media *OutboundMedia) (bool, error)
	// ParticipantAvatarURL resolves a participant's profile picture, used
	// for the one-time topic welcome post. Empty string means no avatar.
	ParticipantAvatarURL(ctx context.Context, participantID string) (string, error)
	Close() error
}

// SubchannelEvent is a message posted into one of the destination chat's
// sub-channels, as observed by the destination listener.
type SubchannelEvent struct {
	MessageID      string
	SubchannelID   string
	SenderID       string
	SenderUsername string
	Text           string
	Kind           MessageType
	Media          *MediaRef
	Timestamp      time.Time
}

// DestinationChatClient is the team-chat side of the bridge. One client is
// bound to exactly one forum-style chat; sub-channel ids are scoped to it.
type DestinationChatClient interface {
	CreateSubchannel(ctx context.Context, name string) (string, error)
	// SendText returns the destination message id of the sent message.
	SendText(ctx context.Context, subchannelID, text string) (string, error)
	SendMedia(ctx context.Context, subchannelID string, media *OutboundMedia) (string, error)
	PinMessage(ctx context.Context, messageID string) error
	// SetReaction applies an acknowledgment marker to a destination message.
	SetReaction(ctx context.Context, messageID string, marker AckMarker) error
	// SubchannelExists reports whether the sub-channel is still present.
	// Returning ErrSubchannelMissing from a send is equivalent.
	SubchannelExists(ctx context.Context, subchannelID string) (bool, error)
	// Events yields sub-channel messages once the client is connected.
	Events() <-chan *SubchannelEvent
	Close() error
}

// Record types understood by the persistence store.
const (
	RecordTypeChat = "chat"
	RecordTypeUser = "user"
)

// Record is a single persisted entry of a given record type.
type Record struct {
	Key  string
	Data json.RawMessage
}

// PersistenceStore is the durable document store behind the mapping store.
// Upserts are idempotent and keyed by (type, key).
type PersistenceStore interface {
	Upsert(rtype, key string, data any) error
	FindAll(rtype string) ([]Record, error)
	Delete(rtype, key string) error
	Close() error
}
