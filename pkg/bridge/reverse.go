// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/topicbridge/pkg/media"
)

// AckMarker is the reaction applied to a destination message to report the
// outcome of relaying it back to the source. Reaction-based acknowledgment
// is a destination-platform convention, so the markers live here at the
// pipeline boundary and nowhere deeper.
type AckMarker string

const (
	AckSuccess  AckMarker = "\U0001f44d" // thumbs up
	AckUnknown  AckMarker = "❓"     // question mark
	AckFiltered AckMarker = "\U0001f6ab" // no entry
	AckError    AckMarker = "❌"     // cross mark
)

// ReversePipeline carries destination sub-channel messages back into the
// source thread, acknowledging each event with a reaction marker.
type ReversePipeline struct {
	store       *MappingStore
	source      SourceMessagingClient
	dest        DestinationChatClient
	filter      *TermFilter
	converter   *media.Converter
	conversions *media.Queue
	log         zerolog.Logger
}

// NewReversePipeline wires the destination→source pipeline.
func NewReversePipeline(store *MappingStore, source SourceMessagingClient, dest DestinationChatClient, filter *TermFilter, converter *media.Converter, conversions *media.Queue, log zerolog.Logger) *ReversePipeline {
	return &ReversePipeline{
		store:       store,
		source:      source,
		dest:        dest,
		filter:      filter,
		converter:   converter,
		conversions: conversions,
		log:         log.With().Str("component", "reverse").Logger(),
	}
}

// Handle processes one destination event. Events outside any monitored
// sub-channel are ignored; everything else ends in exactly one
// acknowledgment marker.
func (p *ReversePipeline) Handle(ctx context.Context, evt *SubchannelEvent) {
	if evt.SubchannelID == "" {
		return
	}

	log := p.log.With().
		Str("message_id", evt.MessageID).
		Str("subchannel_id", evt.SubchannelID).
		Str("kind", string(evt.Kind)).
		Logger()

	mapping, ok := p.store.GetBySubchannel(evt.SubchannelID)
	if !ok {
		log.Debug().Msg("No thread mapped to sub-channel")
		p.ack(ctx, log, evt.MessageID, AckUnknown)
		return
	}

	if p.filter.Blocked(evt.Text) {
		log.Debug().Msg("Event blocked by term filter")
		p.ack(ctx, log, evt.MessageID, AckFiltered)
		return
	}

	p.store.TouchThread(mapping.ThreadID, evt.Timestamp)

	switch evt.Kind {
	case MessageText:
		if err := p.source.SendText(ctx, mapping.ThreadID, evt.Text); err != nil {
			log.Error().Err(err).Msg("Failed to send text to source")
			p.ack(ctx, log, evt.MessageID, AckError)
			return
		}
		p.ack(ctx, log, evt.MessageID, AckSuccess)
	case MessagePhoto, MessageVideo, MessageVoice, MessageDocument:
		if evt.Media == nil || evt.Media.Fetch == nil {
			log.Warn().Msg("Media event without payload")
			p.ack(ctx, log, evt.MessageID, AckError)
			return
		}
		submitted := p.conversions.Submit(func(jobCtx context.Context) {
			p.deliverMedia(jobCtx, log, evt, mapping.ThreadID)
		})
		if !submitted {
			p.ack(ctx, log, evt.MessageID, AckError)
		}
	default:
		log.Debug().Msg("Unsupported event kind")
		p.ack(ctx, log, evt.MessageID, AckError)
	}
}

func (p *ReversePipeline) deliverMedia(ctx context.Context, log zerolog.Logger, evt *SubchannelEvent, threadID string) {
	data, err := evt.Media.Fetch(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Media fetch failed")
		p.ack(ctx, log, evt.MessageID, AckError)
		return
	}

	out := &OutboundMedia{
		Kind:     evt.Kind,
		FileName: evt.Media.FileName,
		MIMEType: evt.Media.MIMEType,
		Caption:  evt.Media.Caption,
		Data:     data,
	}

	// Destination voice notes arrive as opus-in-ogg; the source renders
	// them inline only as mp3, so convert before sending.
	if evt.Kind == MessageVoice {
		converted, err := p.converter.ConvertAudio(ctx, data, media.AudioMP3Profile)
		if err != nil {
			log.Warn().Err(err).Msg("Voice conversion failed")
			p.ack(ctx, log, evt.MessageID, AckError)
			return
		}
		out.Data = converted
		out.MIMEType = "audio/mpeg"
		out.FileName = mp3FileName(evt.Media.FileName)
	}

	accepted, err := p.source.SendMedia(ctx, threadID, out)
	if err != nil {
		log.Error().Err(err).Msg("Failed to send media to source")
		p.ack(ctx, log, evt.MessageID, AckError)
		return
	}
	if !accepted {
		log.Warn().Msg("Source refused media payload")
		p.ack(ctx, log, evt.MessageID, AckError)
		return
	}
	p.ack(ctx, log, evt.MessageID, AckSuccess)
}

// ack applies the outcome marker. Failure to react is logged and swallowed:
// acknowledgment is best-effort and never blocks the listener.
func (p *ReversePipeline) ack(ctx context.Context, log zerolog.Logger, messageID string, marker AckMarker) {
	if err := p.dest.SetReaction(ctx, messageID, marker); err != nil {
		log.Warn().Err(err).Str("marker", string(marker)).Msg("Failed to set acknowledgment reaction")
	}
}

func mp3FileName(original string) string {
	if original == "" {
		return "voice-" + time.Now().UTC().Format("20060102-150405") + ".mp3"
	}
	return original + ".mp3"
}
