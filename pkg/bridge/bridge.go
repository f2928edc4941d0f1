// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/topicbridge/pkg/media"
)

// State is the bridge lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateRunning
	StateDegraded
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateDegraded:
		return "degraded"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Reconnect backoff bounds for degraded-state recovery.
const (
	recoveryBaseDelay = 2 * time.Second
	recoveryMaxDelay  = 5 * time.Minute
)

// Bridge owns the full lifecycle: persistence, both listeners, the dedup
// window and both pipelines. One Bridge instance owns one destination chat.
type Bridge struct {
	cfg    *Config
	log    zerolog.Logger
	source SourceMessagingClient
	dest   DestinationChatClient
	db     PersistenceStore

	store       *MappingStore
	mapper      *TopicMapper
	filter      *TermFilter
	converter   *media.Converter
	conversions *media.Queue
	forward     *ForwardPipeline
	reverse     *ReversePipeline
	dedup       *DedupWindow

	state          atomic.Int32
	dispatchPaused atomic.Bool

	recoveryBase time.Duration
	recoveryMax  time.Duration

	runCtx   context.Context
	cancel   context.CancelFunc
	loops    sync.WaitGroup
	stopOnce sync.Once
}

// New assembles a bridge from its collaborators. Start must be called
// before messages flow.
func New(cfg *Config, source SourceMessagingClient, dest DestinationChatClient, db PersistenceStore, transcoder media.Transcoder, log zerolog.Logger) (*Bridge, error) {
	converter, err := media.NewConverter(transcoder, cfg.Bridge.TempDir, log)
	if err != nil {
		return nil, err
	}

	b := &Bridge{
		cfg:       cfg,
		log:       log.With().Str("component", "bridge").Logger(),
		source:    source,
		dest:      dest,
		db:        db,
		converter: converter,
		filter:    NewTermFilter(cfg.Bridge.BlockedTerms),
		dedup:     NewDedupWindow(cfg.Bridge.MaxDedupWindow),

		recoveryBase: recoveryBaseDelay,
		recoveryMax:  recoveryMaxDelay,
	}
	b.store = NewMappingStore(db, log)
	b.mapper = NewTopicMapper(b.store, dest, source, cfg.Bridge.WelcomeMessage, cfg.Bridge.ProfilePicSync, log)
	return b, nil
}

// Filter exposes the blocked-term filter for live reload.
func (b *Bridge) Filter() *TermFilter {
	return b.filter
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

func (b *Bridge) setState(s State) {
	old := State(b.state.Swap(int32(s)))
	if old != s {
		b.log.Info().Str("from", old.String()).Str("to", s.String()).Msg("State transition")
	}
}

// Start brings the bridge to the running state: load persisted mappings,
// log in to the source, then attach both listeners. Any failure here leaves
// the bridge disabled for good; it does not limp into running.
func (b *Bridge) Start(ctx context.Context) error {
	if !b.state.CompareAndSwap(int32(StateUninitialized), int32(StateInitializing)) {
		return fmt.Errorf("bridge already started (state %s)", b.State())
	}

	if err := b.store.Load(); err != nil {
		b.setState(StateStopped)
		return fmt.Errorf("initialization failed: %w", err)
	}

	if err := b.source.Login(ctx); err != nil {
		b.setState(StateStopped)
		return fmt.Errorf("source login failed: %w", err)
	}

	b.runCtx, b.cancel = context.WithCancel(context.WithoutCancel(ctx))
	b.conversions = media.NewQueue(b.runCtx, b.cfg.Bridge.MaxConversions, 0, b.log)
	b.forward = NewForwardPipeline(b.store, b.mapper, b.dest, b.filter, b.converter, b.conversions, b.log)
	b.reverse = NewReversePipeline(b.store, b.source, b.dest, b.filter, b.converter, b.conversions, b.log)

	b.loops.Add(2)
	go b.sourceLoop()
	go b.destLoop()

	b.setState(StateRunning)
	return nil
}

// sourceLoop is the single consumer of source messages and the only writer
// of the dedup window.
func (b *Bridge) sourceLoop() {
	defer b.loops.Done()
	ticker := time.NewTicker(b.cfg.PollInterval())
	defer ticker.Stop()

	transientFailures := 0
	for {
		select {
		case <-b.runCtx.Done():
			return
		case <-ticker.C:
		}
		if b.dispatchPaused.Load() {
			continue
		}

		msgs, err := b.source.ListNewMessages(b.runCtx)
		if err != nil {
			if b.runCtx.Err() != nil {
				return
			}
			if IsAuthError(err) {
				b.enterDegraded(err)
				continue
			}
			transientFailures++
			b.log.Warn().Err(err).Int("consecutive", transientFailures).Msg("Source poll failed")
			// Transient backoff: skip ticks instead of hammering the API.
			sleepFor := time.Duration(transientFailures) * b.cfg.PollInterval()
			if sleepFor > 30*time.Second {
				sleepFor = 30 * time.Second
			}
			select {
			case <-b.runCtx.Done():
				return
			case <-time.After(sleepFor):
			}
			continue
		}
		transientFailures = 0

		for _, msg := range msgs {
			if !b.dedup.Accept(msg.ID, msg.Timestamp) {
				b.log.Debug().Str("message_id", msg.ID).Msg("Duplicate message dropped")
				continue
			}
			b.forward.Forward(b.runCtx, msg)
		}
	}
}

// destLoop drains destination events into the reverse pipeline.
func (b *Bridge) destLoop() {
	defer b.loops.Done()
	events := b.dest.Events()
	for {
		select {
		case <-b.runCtx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				b.log.Warn().Msg("Destination event channel closed")
				return
			}
			if b.dispatchPaused.Load() {
				continue
			}
			b.reverse.Handle(b.runCtx, evt)
		}
	}
}

// enterDegraded pauses dispatch and kicks off recovery. Repeated auth
// errors while already degraded are ignored.
func (b *Bridge) enterDegraded(cause error) {
	if !b.state.CompareAndSwap(int32(StateRunning), int32(StateDegraded)) {
		return
	}
	b.dispatchPaused.Store(true)
	b.log.Warn().Err(cause).Msg("Entering degraded state, dispatch paused")
	go b.recover()
}

// recover retries source login with exponential backoff until it succeeds,
// the error is fatal, or the bridge shuts down.
func (b *Bridge) recover() {
	delay := b.recoveryBase
	for {
		select {
		case <-b.runCtx.Done():
			return
		case <-time.After(delay):
		}

		err := b.source.Login(b.runCtx)
		if err == nil {
			b.dispatchPaused.Store(false)
			if b.state.CompareAndSwap(int32(StateDegraded), int32(StateRunning)) {
				b.log.Info().Msg("Recovery succeeded, dispatch resumed")
			}
			return
		}
		if errors.Is(err, ErrNoCredentials) {
			b.log.Error().Err(err).Msg("Recovery impossible, shutting down")
			go b.Stop()
			return
		}

		b.log.Warn().Err(err).Dur("next_attempt_in", delay).Msg("Recovery attempt failed")
		delay *= 2
		if delay > b.recoveryMax {
			delay = b.recoveryMax
		}
	}
}

// Stop shuts the bridge down: listeners detach, in-flight sub-channel
// creations and conversions are awaited, state is flushed and the temp
// directory is cleared. Safe to call more than once.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.setState(StateShuttingDown)
		if b.cancel != nil {
			b.cancel()
		}
		b.loops.Wait()
		b.mapper.Wait()
		if b.conversions != nil {
			b.conversions.Close()
		}

		if err := b.store.Flush(); err != nil {
			b.log.Warn().Err(err).Msg("Mapping store flush failed")
		}
		if err := b.source.Close(); err != nil {
			b.log.Warn().Err(err).Msg("Source close failed")
		}
		if err := b.dest.Close(); err != nil {
			b.log.Warn().Err(err).Msg("Destination close failed")
		}
		if err := b.db.Close(); err != nil {
			b.log.Warn().Err(err).Msg("Persistence store close failed")
		}
		if err := b.converter.Close(); err != nil {
			b.log.Warn().Err(err).Msg("Temp dir cleanup failed")
		}
		b.setState(StateStopped)
		b.log.Info().Msg("Bridge stopped")
	})
}
