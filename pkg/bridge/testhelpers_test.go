// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/topicbridge/pkg/media"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

// memStore is an in-memory PersistenceStore for tests.
type memStore struct {
	mu        sync.Mutex
	records   map[string]map[string][]byte
	failRtype string
	closed    bool
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]map[string][]byte)}
}

func (s *memStore) Upsert(rtype, key string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rtype == s.failRtype {
		return fmt.Errorf("store unavailable")
	}
	if s.records[rtype] == nil {
		s.records[rtype] = make(map[string][]byte)
	}
	s.records[rtype][key] = raw
	return nil
}

func (s *memStore) FindAll(rtype string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rtype == s.failRtype {
		return nil, fmt.Errorf("store unavailable")
	}
	recs := make([]Record, 0, len(s.records[rtype]))
	for key, raw := range s.records[rtype] {
		recs = append(recs, Record{Key: key, Data: json.RawMessage(raw)})
	}
	return recs, nil
}

func (s *memStore) Delete(rtype, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records[rtype], key)
	return nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// put injects a raw record directly, bypassing json marshalling.
func (s *memStore) put(rtype, key string, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records[rtype] == nil {
		s.records[rtype] = make(map[string][]byte)
	}
	s.records[rtype][key] = raw
}

func (s *memStore) count(rtype string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records[rtype])
}

func (s *memStore) has(rtype, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[rtype][key]
	return ok
}

type destText struct {
	Subchannel string
	Text       string
}

type destMedia struct {
	Subchannel string
	Media      *OutboundMedia
}

// fakeDest is an in-memory DestinationChatClient recording every call.
type fakeDest struct {
	mu          sync.Mutex
	nextID      int
	created     []string
	createErr   error
	createBlock chan struct{}
	texts       []destText
	medias      []destMedia
	sendErr     error
	pinned      []string
	reactions   map[string]AckMarker
	reactErr    error
	missing     map[string]bool
	existsErr   error
	existsCalls int
	events      chan *SubchannelEvent
	closed      bool
}

func newFakeDest() *fakeDest {
	return &fakeDest{
		reactions: make(map[string]AckMarker),
		missing:   make(map[string]bool),
		events:    make(chan *SubchannelEvent, 16),
	}
}

func (d *fakeDest) CreateSubchannel(_ context.Context, name string) (string, error) {
	if d.createBlock != nil {
		<-d.createBlock
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.createErr != nil {
		return "", d.createErr
	}
	d.nextID++
	d.created = append(d.created, name)
	return fmt.Sprintf("sub%d", d.nextID), nil
}

func (d *fakeDest) SendText(_ context.Context, subchannelID, text string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.missing[subchannelID] {
		return "", ErrSubchannelMissing
	}
	if d.sendErr != nil {
		return "", d.sendErr
	}
	d.texts = append(d.texts, destText{Subchannel: subchannelID, Text: text})
	return fmt.Sprintf("msg%d", len(d.texts)+len(d.medias)), nil
}

func (d *fakeDest) SendMedia(_ context.Context, subchannelID string, m *OutboundMedia) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.missing[subchannelID] {
		return "", ErrSubchannelMissing
	}
	if d.sendErr != nil {
		return "", d.sendErr
	}
	d.medias = append(d.medias, destMedia{Subchannel: subchannelID, Media: m})
	return fmt.Sprintf("msg%d", len(d.texts)+len(d.medias)), nil
}

func (d *fakeDest) PinMessage(_ context.Context, messageID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pinned = append(d.pinned, messageID)
	return nil
}

func (d *fakeDest) SetReaction(_ context.Context, messageID string, marker AckMarker) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.reactErr != nil {
		return d.reactErr
	}
	d.reactions[messageID] = marker
	return nil
}

func (d *fakeDest) SubchannelExists(_ context.Context, subchannelID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.existsCalls++
	if d.existsErr != nil {
		return false, d.existsErr
	}
	return !d.missing[subchannelID], nil
}

func (d *fakeDest) Events() <-chan *SubchannelEvent {
	return d.events
}

func (d *fakeDest) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDest) setMissing(subchannelID string, missing bool) {
	d.mu.Lock()
	d.missing[subchannelID] = missing
	d.mu.Unlock()
}

func (d *fakeDest) createdCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.created)
}

func (d *fakeDest) textCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.texts)
}

func (d *fakeDest) allTexts() []destText {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]destText(nil), d.texts...)
}

func (d *fakeDest) allMedias() []destMedia {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]destMedia(nil), d.medias...)
}

func (d *fakeDest) reaction(messageID string) (AckMarker, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.reactions[messageID]
	return m, ok
}

type sourceText struct {
	Thread string
	Text   string
}

type sourceMedia struct {
	Thread string
	Media  *OutboundMedia
}

// fakeSource is an in-memory SourceMessagingClient. Login pops the next
// error from loginErrs; an exhausted slice means success.
type fakeSource struct {
	mu         sync.Mutex
	loginErrs  []error
	loginCalls int
	batches    [][]*NormalizedMessage
	listErr    error
	texts      []sourceText
	medias     []sourceMedia
	refuse     bool
	sendErr    error
	avatarURL  string
	avatarErr  error
	closed     bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{}
}

func (s *fakeSource) Login(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginCalls++
	if len(s.loginErrs) == 0 {
		return nil
	}
	err := s.loginErrs[0]
	s.loginErrs = s.loginErrs[1:]
	return err
}

func (s *fakeSource) ListNewMessages(_ context.Context) ([]*NormalizedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		err := s.listErr
		s.listErr = nil
		return nil, err
	}
	if len(s.batches) == 0 {
		return nil, nil
	}
	batch := s.batches[0]
	s.batches = s.batches[1:]
	return batch, nil
}

func (s *fakeSource) SendText(_ context.Context, threadID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.texts = append(s.texts, sourceText{Thread: threadID, Text: text})
	return nil
}

func (s *fakeSource) SendMedia(_ context.Context, threadID string, m *OutboundMedia) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return false, s.sendErr
	}
	if s.refuse {
		return false, nil
	}
	s.medias = append(s.medias, sourceMedia{Thread: threadID, Media: m})
	return true, nil
}

func (s *fakeSource) ParticipantAvatarURL(_ context.Context, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.avatarURL, s.avatarErr
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSource) queueBatch(msgs ...*NormalizedMessage) {
	s.mu.Lock()
	s.batches = append(s.batches, msgs)
	s.mu.Unlock()
}

func (s *fakeSource) setListErr(err error) {
	s.mu.Lock()
	s.listErr = err
	s.mu.Unlock()
}

func (s *fakeSource) setLoginErrs(errs ...error) {
	s.mu.Lock()
	s.loginErrs = errs
	s.mu.Unlock()
}

func (s *fakeSource) allTexts() []sourceText {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sourceText(nil), s.texts...)
}

func (s *fakeSource) allMedias() []sourceMedia {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sourceMedia(nil), s.medias...)
}

func (s *fakeSource) logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginCalls
}

// passthroughTranscoder copies the input file to the output path unchanged.
type passthroughTranscoder struct{}

func (passthroughTranscoder) Convert(_ context.Context, inputPath, outputPath string, _ media.OutputProfile) error {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, data, 0o600)
}

func newTestConverter(t *testing.T) *media.Converter {
	t.Helper()
	conv, err := media.NewConverter(passthroughTranscoder{}, t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewConverter: %v", err)
	}
	return conv
}

// pipelineFixture wires both pipelines over fakes with a single-worker
// conversion queue. Call drain to flush queued media jobs before asserting.
type pipelineFixture struct {
	db      *memStore
	store   *MappingStore
	dest    *fakeDest
	source  *fakeSource
	mapper  *TopicMapper
	filter  *TermFilter
	queue   *media.Queue
	forward *ForwardPipeline
	reverse *ReversePipeline
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	db := newMemStore()
	store := NewMappingStore(db, testLogger())
	dest := newFakeDest()
	source := newFakeSource()
	mapper := NewTopicMapper(store, dest, source, false, false, testLogger())
	filter := NewTermFilter(nil)
	conv := newTestConverter(t)
	queue := media.NewQueue(context.Background(), 1, 4, testLogger())
	t.Cleanup(queue.Close)

	return &pipelineFixture{
		db:      db,
		store:   store,
		dest:    dest,
		source:  source,
		mapper:  mapper,
		filter:  filter,
		queue:   queue,
		forward: NewForwardPipeline(store, mapper, dest, filter, conv, queue, testLogger()),
		reverse: NewReversePipeline(store, source, dest, filter, conv, queue, testLogger()),
	}
}

// drain waits for all queued media jobs. The queue rejects submissions
// afterwards.
func (f *pipelineFixture) drain() {
	f.queue.Close()
}

func textMsg(id, threadID, senderID, text string, ts time.Time) *NormalizedMessage {
	return &NormalizedMessage{
		ID:             id,
		Text:           text,
		SenderID:       senderID,
		SenderUsername: "user_" + senderID,
		Timestamp:      ts,
		ThreadID:       threadID,
		Type:           MessageText,
	}
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}
