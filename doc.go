// Package cardkit is the resource-management core of a GPU-rendered
// terminal. Lightweight widgets ("cards": plots, images, vector drawings,
// PDF pages) render entirely inside shared GPU buffers and a shared texture
// atlas; no card ever owns a GPU object of its own.
//
// The package composes three allocators behind a single coordinator:
//
//   - alloc.Buffer: a two-phase (reserve/commit) bump allocator over one
//     shared byte region. Committing fixes the region size for the epoch,
//     so every handle returned afterwards stays valid until the next commit.
//   - alloc.MetadataStore: fixed size-class pools for the compact per-card
//     descriptor records the compositor shader reads.
//   - atlas.Manager: an opaque-handle texture atlas with deterministic
//     shelf packing.
//
// The Engine drives every card through the same frame lifecycle
// (stage → declare → commit → allocate → finalize → flush) so that there is
// never more than one writer on a shared region and no card ever observes a
// half-resized region. See scene for the spatial index that makes the
// packed content queryable per pixel.
//
// cardkit is frame-thread confined: unless stated otherwise, types are not
// safe for concurrent use. The Engine is the single writer.
package cardkit
