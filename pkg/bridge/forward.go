// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/aiku/topicbridge/pkg/media"
)

// ForwardPipeline carries normalized source messages into the destination
// chat. Errors never escape to the listener loop: everything is logged and
// swallowed here so the source consumer keeps draining.
type ForwardPipeline struct {
	store       *MappingStore
	mapper      *TopicMapper
	dest        DestinationChatClient
	filter      *TermFilter
	converter   *media.Converter
	conversions *media.Queue
	log         zerolog.Logger
}

// NewForwardPipeline wires the source→destination pipeline.
func NewForwardPipeline(store *MappingStore, mapper *TopicMapper, dest DestinationChatClient, filter *TermFilter, converter *media.Converter, conversions *media.Queue, log zerolog.Logger) *ForwardPipeline {
	return &ForwardPipeline{
		store:       store,
		mapper:      mapper,
		dest:        dest,
		filter:      filter,
		converter:   converter,
		conversions: conversions,
		log:         log.With().Str("component", "forward").Logger(),
	}
}

// Forward processes one deduplicated inbound message.
func (p *ForwardPipeline) Forward(ctx context.Context, msg *NormalizedMessage) {
	log := p.log.With().
		Str("message_id", msg.ID).
		Str("thread_id", msg.ThreadID).
		Str("type", string(msg.Type)).
		Logger()

	p.store.UpsertProfile(msg.SenderID, msg.SenderUsername, msg.SenderFullName, msg.Timestamp)

	subchannelID, err := p.mapper.GetOrCreateTopic(ctx, msg.ThreadID, msg.SenderID)
	if err != nil {
		log.Error().Err(err).Msg("No sub-channel for thread, dropping message")
		return
	}

	if p.filter.Blocked(msg.Text) {
		log.Debug().Msg("Message blocked by term filter")
		return
	}

	p.store.TouchThread(msg.ThreadID, msg.Timestamp)

	switch msg.Type {
	case MessageText:
		p.sendText(ctx, log, msg.ThreadID, subchannelID, msg.Text)
	case MessagePhoto, MessageVideo, MessageVoice, MessageDocument:
		if msg.Media == nil || msg.Media.Fetch == nil {
			log.Warn().Msg("Media message without payload, sending fallback")
			p.sendText(ctx, log, msg.ThreadID, subchannelID, msg.FallbackText())
			return
		}
		p.enqueueMedia(log, msg, subchannelID)
	case MessageOther:
		p.sendText(ctx, log, msg.ThreadID, subchannelID, msg.FallbackText())
	default:
		// Closed enum; anything unexpected degrades like MessageOther.
		p.sendText(ctx, log, msg.ThreadID, subchannelID, msg.FallbackText())
	}
}

// sendText verifies the sub-channel and delivers a plain text line. A
// missing sub-channel triggers stale mapping recovery and drops the line.
func (p *ForwardPipeline) sendText(ctx context.Context, log zerolog.Logger, threadID, subchannelID, text string) {
	if !p.verifyOrDrop(ctx, log, threadID, subchannelID) {
		return
	}
	if _, err := p.dest.SendText(ctx, subchannelID, text); err != nil {
		if errors.Is(err, ErrSubchannelMissing) {
			p.mapper.DropStaleMapping(threadID, subchannelID)
			return
		}
		log.Error().Err(err).Msg("Failed to send text to destination")
	}
}

// enqueueMedia hands the fetch/convert/upload work to the conversion queue
// so a slow transcode never stalls unrelated delivery.
func (p *ForwardPipeline) enqueueMedia(log zerolog.Logger, msg *NormalizedMessage, subchannelID string) {
	submitted := p.conversions.Submit(func(ctx context.Context) {
		p.deliverMedia(ctx, log, msg, subchannelID)
	})
	if !submitted {
		log.Warn().Msg("Conversion queue closed, sending fallback")
	}
}

func (p *ForwardPipeline) deliverMedia(ctx context.Context, log zerolog.Logger, msg *NormalizedMessage, subchannelID string) {
	data, err := msg.Media.Fetch(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Media fetch failed, sending fallback")
		p.sendText(ctx, log, msg.ThreadID, subchannelID, msg.FallbackText())
		return
	}

	out := &OutboundMedia{
		Kind:     msg.Type,
		FileName: msg.Media.FileName,
		MIMEType: msg.Media.MIMEType,
		Caption:  msg.Media.Caption,
		Data:     data,
	}
	if out.MIMEType == "" {
		out.MIMEType = mimetype.Detect(data).String()
	}

	if msg.Type == MessageVoice {
		converted, err := p.converter.ConvertAudio(ctx, data, media.VoiceNoteProfile)
		if err != nil {
			log.Warn().Err(err).Msg("Voice conversion failed, sending fallback")
			p.sendText(ctx, log, msg.ThreadID, subchannelID, msg.FallbackText())
			return
		}
		out.Data = converted
		out.MIMEType = "audio/ogg"
		out.FileName = voiceFileName(msg.Media.FileName)
	}

	if !p.verifyOrDrop(ctx, log, msg.ThreadID, subchannelID) {
		return
	}

	if _, err := p.dest.SendMedia(ctx, subchannelID, out); err != nil {
		if errors.Is(err, ErrSubchannelMissing) {
			p.mapper.DropStaleMapping(msg.ThreadID, subchannelID)
			return
		}
		log.Warn().Err(err).Msg("Media send rejected, sending fallback")
		p.sendText(ctx, log, msg.ThreadID, subchannelID, msg.FallbackText())
	}
}

// verifyOrDrop runs the cached sub-channel existence check. It returns
// false when the message should be dropped, having already deleted the
// mapping if the destination confirmed the sub-channel is gone.
func (p *ForwardPipeline) verifyOrDrop(ctx context.Context, log zerolog.Logger, threadID, subchannelID string) bool {
	exists, err := p.mapper.VerifySubchannel(ctx, subchannelID)
	if err != nil {
		log.Warn().Err(err).Msg("Sub-channel verification failed, dropping message")
		return false
	}
	if !exists {
		p.mapper.DropStaleMapping(threadID, subchannelID)
		return false
	}
	return true
}

func voiceFileName(original string) string {
	if original == "" {
		return fmt.Sprintf("voice-%d.ogg", time.Now().Unix())
	}
	return original + ".ogg"
}
