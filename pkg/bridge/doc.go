// Copyright 2024-2026 Aiku AI

// Package bridge implements the engine that relays direct-message threads
// into per-conversation sub-channels of a forum-style destination chat, and
// back.
//
// The engine is platform-neutral: it consumes the collaborator interfaces
// [SourceMessagingClient], [DestinationChatClient] and [PersistenceStore]
// and never touches a platform API directly.
//
// # Core Types
//
// [Bridge] owns the lifecycle (initializing, running, degraded, shutdown),
// the two consumer loops and the wiring between components.
//
// [DedupWindow] filters already-seen inbound messages with a bounded FIFO
// id set plus a timestamp high-watermark. It is written only by the source
// consumer.
//
// [TopicMapper] resolves or lazily creates the sub-channel for a thread,
// single-flight per thread id, and caches sub-channel existence checks.
//
// [MappingStore] owns the persisted thread↔sub-channel bijection and the
// participant profile cache, mirrored in memory and rebuildable from the
// persistence store.
//
// [ForwardPipeline] and [ReversePipeline] are the two dispatch paths.
// Reverse outcomes surface as reaction markers ([AckMarker]) on the
// destination message; that convention stays at the pipeline boundary.
package bridge
