// Copyright 2024-2026 Aiku AI

package bridge

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SubchannelMapping is the persisted bidirectional link between a source
// thread and a destination sub-channel. Thread id and sub-channel id are
// each unique across mappings.
type SubchannelMapping struct {
	ThreadID     string    `json:"threadId"`
	SubchannelID string    `json:"subchannelId"`
	AvatarURL    string    `json:"avatarUrl,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// ParticipantProfile is the persisted per-participant record. MessageCount
// is monotonic non-decreasing.
type ParticipantProfile struct {
	ParticipantID string    `json:"participantId"`
	Username      string    `json:"username"`
	FullName      string    `json:"fullName,omitempty"`
	FirstSeen     time.Time `json:"firstSeen"`
	LastSeen      time.Time `json:"lastSeen"`
	MessageCount  int64     `json:"messageCount"`
}

// MappingStore owns the persisted thread↔sub-channel mappings and the
// participant profile cache. The in-memory mirrors are derived state,
// rebuildable from the persistence store via Load at any time. All mutation
// goes through this type; the maps are never exposed.
type MappingStore struct {
	db  PersistenceStore
	log zerolog.Logger

	mu           sync.RWMutex
	byThread     map[string]*SubchannelMapping
	bySubchannel map[string]*SubchannelMapping
	profiles     map[string]*ParticipantProfile
}

// NewMappingStore wraps a persistence store. Call Load before first use.
func NewMappingStore(db PersistenceStore, log zerolog.Logger) *MappingStore {
	return &MappingStore{
		db:           db,
		log:          log.With().Str("component", "mapping_store").Logger(),
		byThread:     make(map[string]*SubchannelMapping),
		bySubchannel: make(map[string]*SubchannelMapping),
		profiles:     make(map[string]*ParticipantProfile),
	}
}

// Load rebuilds the in-memory mirrors from the persistence store.
func (s *MappingStore) Load() error {
	chats, err := s.db.FindAll(RecordTypeChat)
	if err != nil {
		return fmt.Errorf("failed to load mappings: %w", err)
	}
	users, err := s.db.FindAll(RecordTypeUser)
	if err != nil {
		return fmt.Errorf("failed to load profiles: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byThread = make(map[string]*SubchannelMapping, len(chats))
	s.bySubchannel = make(map[string]*SubchannelMapping, len(chats))
	s.profiles = make(map[string]*ParticipantProfile, len(users))

	for _, rec := range chats {
		var m SubchannelMapping
		if err := json.Unmarshal(rec.Data, &m); err != nil {
			s.log.Warn().Err(err).Str("key", rec.Key).Msg("Skipping corrupt mapping record")
			continue
		}
		s.byThread[m.ThreadID] = &m
		s.bySubchannel[m.SubchannelID] = &m
	}
	for _, rec := range users {
		var p ParticipantProfile
		if err := json.Unmarshal(rec.Data, &p); err != nil {
			s.log.Warn().Err(err).Str("key", rec.Key).Msg("Skipping corrupt profile record")
			continue
		}
		s.profiles[p.ParticipantID] = &p
	}

	s.log.Info().
		Int("mappings", len(s.byThread)).
		Int("profiles", len(s.profiles)).
		Msg("Loaded mapping store")
	return nil
}

// GetByThread returns a copy of the mapping for the thread, if any.
func (s *MappingStore) GetByThread(threadID string) (SubchannelMapping, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byThread[threadID]
	if !ok {
		return SubchannelMapping{}, false
	}
	return *m, true
}

// GetBySubchannel returns a copy of the mapping for the sub-channel, if any.
func (s *MappingStore) GetBySubchannel(subchannelID string) (SubchannelMapping, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.bySubchannel[subchannelID]
	if !ok {
		return SubchannelMapping{}, false
	}
	return *m, true
}

// PutMapping inserts or replaces the mapping for m.ThreadID and persists it.
// The bijection invariant is enforced here: any existing mapping sharing
// either key is removed first.
func (s *MappingStore) PutMapping(m SubchannelMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.byThread[m.ThreadID]; ok && old.SubchannelID != m.SubchannelID {
		delete(s.bySubchannel, old.SubchannelID)
	}
	if old, ok := s.bySubchannel[m.SubchannelID]; ok && old.ThreadID != m.ThreadID {
		delete(s.byThread, old.ThreadID)
		if err := s.db.Delete(RecordTypeChat, old.ThreadID); err != nil {
			s.log.Warn().Err(err).Str("thread_id", old.ThreadID).Msg("Failed to delete displaced mapping")
		}
	}

	stored := m
	s.byThread[m.ThreadID] = &stored
	s.bySubchannel[m.SubchannelID] = &stored
	if err := s.db.Upsert(RecordTypeChat, m.ThreadID, &stored); err != nil {
		return fmt.Errorf("failed to persist mapping for thread %s: %w", m.ThreadID, err)
	}
	return nil
}

// DeleteMapping removes the mapping for the thread from memory and store.
func (s *MappingStore) DeleteMapping(threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byThread[threadID]
	if !ok {
		return nil
	}
	delete(s.byThread, threadID)
	delete(s.bySubchannel, m.SubchannelID)
	if err := s.db.Delete(RecordTypeChat, threadID); err != nil {
		return fmt.Errorf("failed to delete mapping for thread %s: %w", threadID, err)
	}
	return nil
}

// TouchThread updates the mapping's last-activity timestamp. Unmapped
// threads are a no-op.
func (s *MappingStore) TouchThread(threadID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byThread[threadID]
	if !ok || at.Before(m.LastActivity) {
		return
	}
	m.LastActivity = at
	if err := s.db.Upsert(RecordTypeChat, threadID, m); err != nil {
		s.log.Warn().Err(err).Str("thread_id", threadID).Msg("Failed to persist thread activity")
	}
}

// UpsertProfile records one observed message from the participant, creating
// the profile on first sight and refreshing the name fields otherwise.
// It returns a copy of the updated profile.
func (s *MappingStore) UpsertProfile(participantID, username, fullName string, seenAt time.Time) ParticipantProfile {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[participantID]
	if !ok {
		p = &ParticipantProfile{
			ParticipantID: participantID,
			FirstSeen:     seenAt,
		}
		s.profiles[participantID] = p
	}
	if username != "" {
		p.Username = username
	}
	if fullName != "" {
		p.FullName = fullName
	}
	p.MessageCount++
	if seenAt.After(p.LastSeen) {
		p.LastSeen = seenAt
	}
	if err := s.db.Upsert(RecordTypeUser, participantID, p); err != nil {
		s.log.Warn().Err(err).Str("participant_id", participantID).Msg("Failed to persist profile")
	}
	return *p
}

// Profile returns a copy of the participant's profile, if known.
func (s *MappingStore) Profile(participantID string) (ParticipantProfile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[participantID]
	if !ok {
		return ParticipantProfile{}, false
	}
	return *p, true
}

// Flush writes every in-memory record back to the persistence store. It is
// called during shutdown; individual write failures are logged, the first
// one is returned.
func (s *MappingStore) Flush() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var firstErr error
	for threadID, m := range s.byThread {
		if err := s.db.Upsert(RecordTypeChat, threadID, m); err != nil {
			s.log.Warn().Err(err).Str("thread_id", threadID).Msg("Flush: mapping write failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	for participantID, p := range s.profiles {
		if err := s.db.Upsert(RecordTypeUser, participantID, p); err != nil {
			s.log.Warn().Err(err).Str("participant_id", participantID).Msg("Flush: profile write failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// MappingCount returns the number of thread mappings currently mirrored.
func (s *MappingStore) MappingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byThread)
}
