// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// topicCreation tracks one in-flight sub-channel creation. Waiters block on
// done and then read the outcome fields.
type topicCreation struct {
	done         chan struct{}
	subchannelID string
	err          error
}

// TopicMapper resolves or lazily creates the destination sub-channel for a
// thread. Creation is single-flight per thread id: concurrent callers for
// the same thread share one creation attempt and its result. Failed
// attempts are not cached; the next call retries from scratch.
type TopicMapper struct {
	store  *MappingStore
	dest   DestinationChatClient
	source SourceMessagingClient
	log    zerolog.Logger

	welcomeMessage bool
	profilePicSync bool

	mu       sync.Mutex
	inflight map[string]*topicCreation
	verified map[string]bool

	wg sync.WaitGroup
}

// NewTopicMapper wires the mapper. source may be nil when profile picture
// sync is disabled.
func NewTopicMapper(store *MappingStore, dest DestinationChatClient, source SourceMessagingClient, welcomeMessage, profilePicSync bool, log zerolog.Logger) *TopicMapper {
	return &TopicMapper{
		store:          store,
		dest:           dest,
		source:         source,
		log:            log.With().Str("component", "topic_mapper").Logger(),
		welcomeMessage: welcomeMessage,
		profilePicSync: profilePicSync,
		inflight:       make(map[string]*topicCreation),
		verified:       make(map[string]bool),
	}
}

// GetOrCreateTopic returns the sub-channel id for the thread, creating one
// on the destination if no mapping exists. Cached mappings are returned
// without I/O.
func (t *TopicMapper) GetOrCreateTopic(ctx context.Context, threadID, participantID string) (string, error) {
	if m, ok := t.store.GetByThread(threadID); ok {
		return m.SubchannelID, nil
	}

	t.mu.Lock()
	// Re-check under the lock: another caller may have finished creation
	// between the cache miss and here.
	if m, ok := t.store.GetByThread(threadID); ok {
		t.mu.Unlock()
		return m.SubchannelID, nil
	}
	if pending, ok := t.inflight[threadID]; ok {
		t.mu.Unlock()
		select {
		case <-pending.done:
			return pending.subchannelID, pending.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	creation := &topicCreation{done: make(chan struct{})}
	t.inflight[threadID] = creation
	t.wg.Add(1)
	t.mu.Unlock()

	subchannelID, err := t.createTopic(ctx, threadID, participantID)
	creation.subchannelID = subchannelID
	creation.err = err

	t.mu.Lock()
	delete(t.inflight, threadID)
	t.mu.Unlock()
	close(creation.done)
	t.wg.Done()

	return subchannelID, err
}

func (t *TopicMapper) createTopic(ctx context.Context, threadID, participantID string) (string, error) {
	// Forum topic names are capped at 128 characters on the destination.
	name := trimName(t.displayName(threadID, participantID), 128)

	subchannelID, err := t.dest.CreateSubchannel(ctx, name)
	if err != nil {
		t.log.Error().Err(err).
			Str("thread_id", threadID).
			Str("name", name).
			Msg("Sub-channel creation failed")
		return "", fmt.Errorf("failed to create subchannel for thread %s: %w", threadID, err)
	}

	now := time.Now().UTC()
	mapping := SubchannelMapping{
		ThreadID:     threadID,
		SubchannelID: subchannelID,
		CreatedAt:    now,
		LastActivity: now,
	}

	var avatarURL string
	if t.profilePicSync && t.source != nil && participantID != "" {
		avatarURL, err = t.source.ParticipantAvatarURL(ctx, participantID)
		if err != nil {
			t.log.Warn().Err(err).Str("participant_id", participantID).Msg("Failed to resolve avatar")
			avatarURL = ""
		}
		mapping.AvatarURL = avatarURL
	}

	if err := t.store.PutMapping(mapping); err != nil {
		// The sub-channel exists but the mapping is not durable. Keep the
		// in-memory state the store already holds and report the id anyway;
		// a restart recreates a fresh topic for this thread.
		t.log.Error().Err(err).Str("thread_id", threadID).Msg("Failed to persist new mapping")
	}

	t.mu.Lock()
	t.verified[subchannelID] = true
	t.mu.Unlock()

	t.log.Info().
		Str("thread_id", threadID).
		Str("subchannel_id", subchannelID).
		Str("name", name).
		Msg("Created sub-channel")

	if t.welcomeMessage {
		t.sendWelcome(ctx, subchannelID, threadID, participantID, avatarURL)
	}

	return subchannelID, nil
}

// sendWelcome posts the one-time context message into a fresh sub-channel
// and pins it. Failures are logged and never roll back the mapping.
func (t *TopicMapper) sendWelcome(ctx context.Context, subchannelID, threadID, participantID, avatarURL string) {
	text := t.welcomeText(threadID, participantID)

	var msgID string
	var err error
	if avatarURL != "" {
		msgID, err = t.dest.SendMedia(ctx, subchannelID, &OutboundMedia{
			Kind:    MessagePhoto,
			Caption: text,
			URL:     avatarURL,
		})
	} else {
		msgID, err = t.dest.SendText(ctx, subchannelID, text)
	}
	if err != nil {
		t.log.Warn().Err(err).Str("subchannel_id", subchannelID).Msg("Failed to send welcome message")
		return
	}
	if err := t.dest.PinMessage(ctx, msgID); err != nil {
		t.log.Warn().Err(err).Str("subchannel_id", subchannelID).Msg("Failed to pin welcome message")
	}
}

func (t *TopicMapper) welcomeText(threadID, participantID string) string {
	if p, ok := t.store.Profile(participantID); ok && p.Username != "" {
		if p.FullName != "" {
			return fmt.Sprintf("Conversation with %s (@%s)", p.FullName, p.Username)
		}
		return fmt.Sprintf("Conversation with @%s", p.Username)
	}
	return fmt.Sprintf("Conversation thread %s", threadID)
}

// displayName picks the sub-channel name: @username when the participant is
// known, then a participant-id form, then the truncated thread id.
func (t *TopicMapper) displayName(threadID, participantID string) string {
	if p, ok := t.store.Profile(participantID); ok && p.Username != "" {
		return "@" + p.Username
	}
	if participantID != "" {
		return "User " + participantID
	}
	if len(threadID) > 12 {
		return threadID[:12]
	}
	return threadID
}

// VerifySubchannel checks that the sub-channel still exists on the
// destination. Positive results are cached per sub-channel id until
// Invalidate is called; a missing sub-channel is reported every time.
func (t *TopicMapper) VerifySubchannel(ctx context.Context, subchannelID string) (bool, error) {
	t.mu.Lock()
	if t.verified[subchannelID] {
		t.mu.Unlock()
		return true, nil
	}
	t.mu.Unlock()

	exists, err := t.dest.SubchannelExists(ctx, subchannelID)
	if err != nil {
		return false, err
	}
	if exists {
		t.mu.Lock()
		t.verified[subchannelID] = true
		t.mu.Unlock()
	}
	return exists, nil
}

// Invalidate drops the cached verification result for a sub-channel. Called
// whenever its mapping changes or is deleted.
func (t *TopicMapper) Invalidate(subchannelID string) {
	t.mu.Lock()
	delete(t.verified, subchannelID)
	t.mu.Unlock()
}

// DropStaleMapping removes a mapping whose sub-channel the destination
// confirmed missing. The next message for the thread recreates it.
func (t *TopicMapper) DropStaleMapping(threadID, subchannelID string) {
	t.Invalidate(subchannelID)
	if err := t.store.DeleteMapping(threadID); err != nil {
		t.log.Error().Err(err).Str("thread_id", threadID).Msg("Failed to delete stale mapping")
		return
	}
	t.log.Info().
		Str("thread_id", threadID).
		Str("subchannel_id", subchannelID).
		Msg("Deleted stale mapping")
}

// Wait blocks until all in-flight creations have finished. Used during
// shutdown.
func (t *TopicMapper) Wait() {
	t.wg.Wait()
}

// trimName bounds a display name to the destination's limit.
func trimName(name string, max int) string {
	if max > 0 && len(name) > max {
		return strings.TrimSpace(name[:max])
	}
	return name
}
