package alloc

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/gogpu/cardkit/gpucore"
)

// Buffer allocator errors.
var (
	// ErrCapacityExceeded is returned when an allocation after Commit would
	// overrun the committed capacity. It signals a declare/commit accounting
	// mismatch in a widget; the caller should skip that widget's rendering
	// this frame.
	ErrCapacityExceeded = errors.New("alloc: allocation exceeds committed capacity")

	// ErrStaleHandle is returned when a handle from an earlier epoch is used
	// after a repack has invalidated it.
	ErrStaleHandle = errors.New("alloc: handle is from an earlier epoch")

	// ErrNotCommitted is returned when Allocate is called before any Commit.
	ErrNotCommitted = errors.New("alloc: no committed region (call Reserve then Commit)")
)

// BufferAlign is the alignment of every reservation and allocation.
const BufferAlign = 16

// alignUp rounds n up to the next multiple of BufferAlign.
func alignUp(n uint32) uint32 {
	return (n + BufferAlign - 1) &^ (BufferAlign - 1)
}

// BufferHandle is a lease on a byte range of the shared linear region.
// The memory it points into is owned by the Buffer; the handle is valid
// only for the epoch in which it was allocated and dangles the instant a
// repack occurs. Generation makes that invariant checkable at runtime.
type BufferHandle struct {
	// Bytes is the live sub-slice of the region. Writing through it is the
	// fast path; callers must mark the range dirty afterwards.
	Bytes []byte

	// Offset is the byte offset of the range inside the region.
	Offset uint32

	// Size is the aligned byte size of the range.
	Size uint32

	generation uint64
}

// IsValid reports whether the handle names a real allocation.
func (h BufferHandle) IsValid() bool { return h.Size > 0 }

// InvalidBufferHandle is the sentinel returned for absent lookups.
func InvalidBufferHandle() BufferHandle { return BufferHandle{} }

// scopeKey identifies a sub-allocation by owning widget slot and scope name.
type scopeKey struct {
	owner uint32
	scope string
}

// BufferConfig configures a Buffer.
type BufferConfig struct {
	// InitialCapacity pre-sizes the region in bytes. Zero is fine; the
	// first Commit sizes the region from reservations.
	InitialCapacity uint32

	// Label names the GPU mirror in captures. Defaults to
	// "card-linear-buffer".
	Label string

	// Logger receives allocator diagnostics. Nil disables logging.
	Logger *slog.Logger
}

// Buffer is a bump allocator over one shared linear byte region with a
// two-phase reserve/commit protocol.
//
// Widgets allocate unpredictable amounts in arbitrary order within one
// frame. Growing the region lazily during allocation would invalidate the
// slices handed to earlier widgets in the same frame, so sizing is split:
// every participant calls Reserve during the declare phase, Commit resizes
// the region exactly once, and no Allocate afterwards can trigger a resize.
type Buffer struct {
	region   []byte
	capacity uint32 // committed capacity; high-water monotone
	cursor   uint32 // bump cursor within the committed region

	pending    uint32 // accumulated reservations awaiting Commit
	generation uint64 // epoch counter, bumped by Commit
	committed  bool

	allocs map[scopeKey]BufferHandle

	// Dirty tracking is a high-water mark of dirty bytes from offset 0:
	// uploads trade bandwidth for simplicity.
	dirtyEnd uint32

	// GPU mirror.
	gpuID      gpucore.BufferID
	gpuSize    uint32
	replaced   bool // GPU buffer was recreated; bindings must be rebuilt
	label      string
	log        *slog.Logger
	staleUses  uint64
	allocCount uint64
}

// NewBuffer creates an empty Buffer.
func NewBuffer(cfg BufferConfig) *Buffer {
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	label := cfg.Label
	if label == "" {
		label = "card-linear-buffer"
	}
	b := &Buffer{
		allocs: make(map[scopeKey]BufferHandle),
		label:  label,
		log:    log,
	}
	if cfg.InitialCapacity > 0 {
		b.capacity = alignUp(cfg.InitialCapacity)
		b.region = make([]byte, b.capacity)
	}
	return b
}

// Reserve accumulates size bytes (aligned) into the pending total for the
// next Commit. Called by every participating widget during the declare
// phase; no allocation happens yet.
func (b *Buffer) Reserve(size uint32) {
	b.pending += alignUp(size)
}

// Pending returns the reservation total accumulated since the last Commit.
func (b *Buffer) Pending() uint32 { return b.pending }

// Commit resizes the backing region to at least the accumulated
// reservation total (monotonically; the region never shrinks below its
// high-water mark), resets the bump cursor, clears per-(owner,scope)
// tracking, and starts a new epoch.
//
// After Commit returns, no Allocate call in the same epoch can trigger a
// resize: the slices it hands out stay valid until the next Commit.
func (b *Buffer) Commit() {
	need := b.pending
	if need < BufferAlign {
		need = BufferAlign
	}
	if need > b.capacity {
		b.region = make([]byte, need)
		b.capacity = need
		b.log.Info("buffer region grown",
			"capacity", b.capacity, "reserved", b.pending)
	} else {
		// Reused region: zero the active prefix so stale bytes from the
		// previous epoch cannot leak into sparse allocations.
		for i := range b.region[:need] {
			b.region[i] = 0
		}
	}
	b.cursor = 0
	b.pending = 0
	b.dirtyEnd = 0
	b.generation++
	b.committed = true
	clear(b.allocs)
}

// Generation returns the current epoch. Handles from older epochs are stale.
func (b *Buffer) Generation() uint64 { return b.generation }

// Allocate bump-allocates size (aligned) bytes for (owner, scope) and
// returns a handle with a live sub-slice. It fails with ErrCapacityExceeded
// when the committed capacity is exhausted, a recoverable declare/commit
// mismatch rather than a fatal condition.
func (b *Buffer) Allocate(owner uint32, scope string, size uint32) (BufferHandle, error) {
	if !b.committed {
		return InvalidBufferHandle(), ErrNotCommitted
	}
	size = alignUp(size)
	if b.cursor+size > b.capacity {
		b.log.Warn("buffer capacity exceeded",
			"owner", owner, "scope", scope, "size", size,
			"cursor", b.cursor, "capacity", b.capacity)
		return InvalidBufferHandle(), fmt.Errorf("%w: owner=%d scope=%q size=%d cursor=%d cap=%d",
			ErrCapacityExceeded, owner, scope, size, b.cursor, b.capacity)
	}
	h := BufferHandle{
		Bytes:      b.region[b.cursor : b.cursor+size : b.cursor+size],
		Offset:     b.cursor,
		Size:       size,
		generation: b.generation,
	}
	b.cursor += size
	b.allocCount++
	b.allocs[scopeKey{owner, scope}] = h
	return h, nil
}

// MarkDirty records that the handle's byte range must be re-uploaded.
// A handle from an earlier epoch is rejected with ErrStaleHandle and the
// call is otherwise a no-op, so stale writers cannot corrupt unrelated
// allocations.
func (b *Buffer) MarkDirty(h BufferHandle) error {
	if !h.IsValid() {
		return nil
	}
	if h.generation != b.generation {
		b.staleUses++
		b.log.Warn("stale buffer handle ignored",
			"offset", h.Offset, "handleGen", h.generation, "epoch", b.generation)
		return ErrStaleHandle
	}
	if end := h.Offset + h.Size; end > b.dirtyEnd {
		b.dirtyEnd = end
	}
	return nil
}

// Write copies data into the handle's range and marks it dirty. It is the
// checked alternative to writing through Bytes directly.
func (b *Buffer) Write(h BufferHandle, data []byte) error {
	if h.generation != b.generation {
		b.staleUses++
		return ErrStaleHandle
	}
	if uint32(len(data)) > h.Size {
		return fmt.Errorf("alloc: write of %d bytes exceeds handle size %d", len(data), h.Size)
	}
	copy(h.Bytes, data)
	return b.MarkDirty(h)
}

// Handle returns the live handle for (owner, scope), or the invalid
// sentinel when no allocation exists in the current epoch. Used by
// external/streaming consumers that address content without holding the
// handle returned at allocation time.
func (b *Buffer) Handle(owner uint32, scope string) BufferHandle {
	if h, ok := b.allocs[scopeKey{owner, scope}]; ok {
		return h
	}
	return InvalidBufferHandle()
}

// Flush uploads the dirty prefix of the region to the GPU, recreating the
// GPU buffer first if the committed capacity outgrew it.
func (b *Buffer) Flush(ad gpucore.Adapter) error {
	if b.capacity == 0 {
		return nil
	}
	if b.gpuID == gpucore.InvalidID || b.gpuSize < b.capacity {
		if b.gpuID != gpucore.InvalidID {
			ad.DestroyBuffer(b.gpuID)
		}
		id, err := ad.CreateBuffer(int(b.capacity),
			gpucore.BufferUsageStorage|gpucore.BufferUsageCopyDst, b.label)
		if err != nil {
			return fmt.Errorf("alloc: recreate linear buffer: %w", err)
		}
		b.gpuID = id
		b.gpuSize = b.capacity
		b.replaced = true
		// The whole region must be re-uploaded into the fresh buffer.
		b.dirtyEnd = b.cursor
		b.log.Info("linear GPU buffer recreated", "size", b.gpuSize)
	}
	if b.dirtyEnd > 0 {
		b.log.Debug("buffer flush", "bytes", b.dirtyEnd)
		ad.WriteBuffer(b.gpuID, 0, b.region[:b.dirtyEnd])
		b.dirtyEnd = 0
	}
	return nil
}

// GPUBuffer returns the current GPU buffer ID (InvalidID before first Flush).
func (b *Buffer) GPUBuffer() gpucore.BufferID { return b.gpuID }

// Replaced reports whether the GPU buffer was recreated since the last
// ClearReplaced; the coordinator consumes this to rebuild its descriptor.
func (b *Buffer) Replaced() bool { return b.replaced }

// ClearReplaced acknowledges a descriptor rebuild.
func (b *Buffer) ClearReplaced() { b.replaced = false }

// Release destroys the GPU mirror. CPU-side state survives, so a
// subsequent Flush recreates the buffer.
func (b *Buffer) Release(ad gpucore.Adapter) {
	if b.gpuID != gpucore.InvalidID {
		ad.DestroyBuffer(b.gpuID)
		b.gpuID = gpucore.InvalidID
		b.gpuSize = 0
	}
}

// BufferStats summarizes allocator occupancy.
type BufferStats struct {
	Used      uint32 // bump cursor position
	Capacity  uint32 // committed capacity
	Pending   uint32 // reservations awaiting Commit
	Allocs    uint64 // lifetime allocation count
	StaleUses uint64 // rejected stale-handle uses
}

// Stats returns current occupancy counters.
func (b *Buffer) Stats() BufferStats {
	return BufferStats{
		Used:      b.cursor,
		Capacity:  b.capacity,
		Pending:   b.pending,
		Allocs:    b.allocCount,
		StaleUses: b.staleUses,
	}
}

// DumpSubAllocations renders the live (owner, scope) table for debugging.
func (b *Buffer) DumpSubAllocations() string {
	keys := make([]scopeKey, 0, len(b.allocs))
	for k := range b.allocs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, c := b.allocs[keys[i]], b.allocs[keys[j]]
		return a.Offset < c.Offset
	})
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d sub-allocations, %d/%d bytes\n", len(keys), b.cursor, b.capacity)
	for _, k := range keys {
		h := b.allocs[k]
		fmt.Fprintf(&sb, "  owner=%-5d scope=%-12s off=%-8d size=%d\n",
			k.owner, k.scope, h.Offset, h.Size)
	}
	return sb.String()
}
