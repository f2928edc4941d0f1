// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"fmt"
	"time"
)

// MessageType classifies the content of a normalized message. The set is
// closed: anything the source reports that does not map onto one of the
// documented kinds becomes MessageOther and degrades to a textual fallback.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessagePhoto    MessageType = "photo"
	MessageVideo    MessageType = "video"
	MessageVoice    MessageType = "voice"
	MessageDocument MessageType = "document"
	MessageOther    MessageType = "other"
)

// ParseMessageType maps a raw content tag onto the closed MessageType set.
func ParseMessageType(raw string) MessageType {
	switch MessageType(raw) {
	case MessageText, MessagePhoto, MessageVideo, MessageVoice, MessageDocument:
		return MessageType(raw)
	default:
		return MessageOther
	}
}

// MediaRef is the byte-accessible contract for inbound media. The listener
// that normalizes a platform message fills it in; pipelines call Fetch at
// dispatch time and never dig into the raw payload themselves.
type MediaRef struct {
	MIMEType string
	FileName string
	Caption  string
	Fetch    func(ctx context.Context) ([]byte, error)
}

// NormalizedMessage is the platform-neutral form of an inbound source
// message. It is immutable once constructed and never persisted.
type NormalizedMessage struct {
	ID             string
	Text           string
	SenderID       string
	SenderUsername string
	SenderFullName string
	Timestamp      time.Time
	ThreadID       string
	Type           MessageType
	Media          *MediaRef

	// Raw keeps the collaborator-specific payload for debugging only.
	Raw any
}

// FallbackText renders the descriptive text line used when a message's
// binary form cannot be delivered.
func (m *NormalizedMessage) FallbackText() string {
	label := string(m.Type)
	detail := m.Text
	if detail == "" && m.Media != nil {
		if m.Media.Caption != "" {
			detail = m.Media.Caption
		} else {
			detail = m.Media.FileName
		}
	}
	if detail == "" {
		return fmt.Sprintf("[%s]", label)
	}
	return fmt.Sprintf("[%s] %s", label, detail)
}

// OutboundMedia carries a media payload toward either platform. Exactly one
// of Data or URL is set; URL lets destinations that accept remote fetches
// skip the upload round-trip.
type OutboundMedia struct {
	Kind     MessageType
	FileName string
	MIMEType string
	Caption  string
	Data     []byte
	URL      string
}
