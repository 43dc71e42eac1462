package alloc

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/cardkit/gpucore"
)

// Metadata allocator errors.
var (
	// ErrPoolExhausted is returned when a size class has no free slot left
	// and growth is disabled or failed.
	ErrPoolExhausted = errors.New("alloc: metadata pool exhausted")

	// ErrSizeTooLarge is returned when the requested record does not fit
	// the largest size class.
	ErrSizeTooLarge = errors.New("alloc: metadata record exceeds largest size class")

	// ErrBadHandle is returned when a metadata handle does not name a slot
	// of any pool.
	ErrBadHandle = errors.New("alloc: invalid metadata handle")
)

// Metadata size classes in bytes. SlotSize64 is the per-card descriptor
// header; a card's globally unique slot index is offset/SlotSize64.
const (
	SlotSize32  = 32
	SlotSize64  = 64
	SlotSize128 = 128
	SlotSize256 = 256
)

// MetadataHandle is a lease on one fixed-size slot of the metadata region.
type MetadataHandle struct {
	// Offset is the byte offset of the slot inside the metadata region.
	Offset uint32

	// Size is the slot's size class in bytes (≥ the requested size).
	Size uint32
}

// IsValid reports whether the handle names a real slot.
func (h MetadataHandle) IsValid() bool { return h.Size > 0 }

// InvalidMetadataHandle is the sentinel for absent slots.
func InvalidMetadataHandle() MetadataHandle { return MetadataHandle{} }

// SlotIndex returns the card slot index of a 64-byte-aligned handle.
// Slot indices are the stable identity cards are addressed by.
func (h MetadataHandle) SlotIndex() uint32 { return h.Offset / SlotSize64 }

// metadataPool hands out fixed-size slots from a contiguous range with a
// LIFO free list, bounding fragmentation under churn: a released slot is
// the next one reused.
type metadataPool struct {
	slotSize uint32
	base     uint32
	count    uint32
	free     []uint32 // offsets, top of stack reused first
}

func newMetadataPool(slotSize, base, count uint32) metadataPool {
	p := metadataPool{slotSize: slotSize, base: base, count: count}
	p.free = make([]uint32, 0, count)
	// Push in reverse so the lowest offset pops first.
	for i := count; i > 0; i-- {
		p.free = append(p.free, base+(i-1)*slotSize)
	}
	return p
}

func (p *metadataPool) allocate() (uint32, bool) {
	if len(p.free) == 0 {
		return 0, false
	}
	off := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	return off, true
}

func (p *metadataPool) release(offset uint32) error {
	if offset < p.base || offset >= p.base+p.count*p.slotSize {
		return fmt.Errorf("%w: offset %d outside pool [%d,%d)", ErrBadHandle,
			offset, p.base, p.base+p.count*p.slotSize)
	}
	if (offset-p.base)%p.slotSize != 0 {
		return fmt.Errorf("%w: offset %d misaligned for slot size %d", ErrBadHandle, offset, p.slotSize)
	}
	p.free = append(p.free, offset)
	return nil
}

func (p *metadataPool) used() uint32 { return p.count - uint32(len(p.free)) }

// dirtyRange is a half-open byte range pending upload.
type dirtyRange struct {
	start uint32
	end   uint32
}

// dirtyTracker accumulates exact dirty ranges and coalesces neighbors at
// flush time so many small metadata writes become few queue writes.
type dirtyTracker struct {
	ranges []dirtyRange
}

// coalesceGap is the largest hole merged between two dirty ranges. Merging
// across small gaps uploads a few clean bytes instead of issuing another
// queue write.
const coalesceGap = 64

func (d *dirtyTracker) mark(offset, size uint32) {
	d.ranges = append(d.ranges, dirtyRange{offset, offset + size})
}

func (d *dirtyTracker) hasDirty() bool { return len(d.ranges) > 0 }

func (d *dirtyTracker) clear() { d.ranges = d.ranges[:0] }

// coalesced returns sorted merged ranges and resets nothing.
func (d *dirtyTracker) coalesced() []dirtyRange {
	if len(d.ranges) == 0 {
		return nil
	}
	// Insertion sort: the per-frame range count is small.
	for i := 1; i < len(d.ranges); i++ {
		for j := i; j > 0 && d.ranges[j].start < d.ranges[j-1].start; j-- {
			d.ranges[j], d.ranges[j-1] = d.ranges[j-1], d.ranges[j]
		}
	}
	out := d.ranges[:1]
	for _, r := range d.ranges[1:] {
		last := &out[len(out)-1]
		if r.start <= last.end+coalesceGap {
			if r.end > last.end {
				last.end = r.end
			}
		} else {
			out = append(out, r)
		}
	}
	return out
}

// MetadataConfig sets per-size-class slot counts.
type MetadataConfig struct {
	// Count32/64/128/256 are the initial slot counts per class. The
	// 64-byte class holds the per-card descriptor header.
	Count32  uint32
	Count64  uint32
	Count128 uint32
	Count256 uint32

	// Logger receives allocator diagnostics. Nil disables logging.
	Logger *slog.Logger
}

// DefaultMetadataConfig mirrors a typical terminal session: most cards use
// the 64-byte descriptor header, a few need the larger classes.
func DefaultMetadataConfig() MetadataConfig {
	return MetadataConfig{
		Count32:  0,
		Count64:  256,
		Count128: 32,
		Count256: 16,
	}
}

// MetadataStore is a fixed size-class pool allocator over one contiguous
// metadata region mirrored in CPU memory. Records written into slots are
// uploaded to the GPU metadata buffer on Flush.
//
// Unlike the linear Buffer, metadata slots survive across frames: a card
// keeps its slot (and therefore its slot index) for its whole lifetime.
type MetadataStore struct {
	pools  [4]metadataPool
	mirror []byte
	dirty  dirtyTracker

	highWater uint32 // max offset+size ever allocated, for upload clipping

	gpuID    gpucore.BufferID
	replaced bool
	log      *slog.Logger
}

// NewMetadataStore lays the size-class pools back to back and allocates
// the CPU mirror.
func NewMetadataStore(cfg MetadataConfig) *MetadataStore {
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	base := uint32(0)
	var pools [4]metadataPool
	for i, c := range []struct {
		slot  uint32
		count uint32
	}{
		{SlotSize32, cfg.Count32},
		{SlotSize64, cfg.Count64},
		{SlotSize128, cfg.Count128},
		{SlotSize256, cfg.Count256},
	} {
		pools[i] = newMetadataPool(c.slot, base, c.count)
		base += c.slot * c.count
	}
	return &MetadataStore{
		pools:  pools,
		mirror: make([]byte, base),
		log:    log,
	}
}

// TotalSize returns the byte size of the metadata region.
func (m *MetadataStore) TotalSize() uint32 { return uint32(len(m.mirror)) }

// HighWaterMark returns the maximum offset+size ever allocated.
func (m *MetadataStore) HighWaterMark() uint32 { return m.highWater }

func (m *MetadataStore) poolFor(size uint32) *metadataPool {
	for i := range m.pools {
		if size <= m.pools[i].slotSize {
			return &m.pools[i]
		}
	}
	return nil
}

func (m *MetadataStore) poolBySlot(slotSize uint32) *metadataPool {
	for i := range m.pools {
		if m.pools[i].slotSize == slotSize {
			return &m.pools[i]
		}
	}
	return nil
}

// Allocate rounds size up to the nearest class and returns a free slot.
func (m *MetadataStore) Allocate(size uint32) (MetadataHandle, error) {
	pool := m.poolFor(size)
	if pool == nil {
		return InvalidMetadataHandle(), fmt.Errorf("%w: %d bytes", ErrSizeTooLarge, size)
	}
	off, ok := pool.allocate()
	if !ok {
		m.log.Warn("metadata pool exhausted", "slotSize", pool.slotSize)
		return InvalidMetadataHandle(), fmt.Errorf("%w: slot size %d", ErrPoolExhausted, pool.slotSize)
	}
	if end := off + pool.slotSize; end > m.highWater {
		m.highWater = end
	}
	return MetadataHandle{Offset: off, Size: pool.slotSize}, nil
}

// Release returns a slot to its class free list (LIFO reuse). The slot's
// bytes are zeroed so a later reuse cannot observe a dead card's record.
func (m *MetadataStore) Release(h MetadataHandle) error {
	if !h.IsValid() {
		return ErrBadHandle
	}
	pool := m.poolBySlot(h.Size)
	if pool == nil {
		return fmt.Errorf("%w: no pool with slot size %d", ErrBadHandle, h.Size)
	}
	if err := pool.release(h.Offset); err != nil {
		return err
	}
	for i := h.Offset; i < h.Offset+h.Size; i++ {
		m.mirror[i] = 0
	}
	m.dirty.mark(h.Offset, h.Size)
	return nil
}

// Write copies data into the slot from its start.
func (m *MetadataStore) Write(h MetadataHandle, data []byte) error {
	return m.WriteAt(h, 0, data)
}

// WriteAt copies data into the slot at the given byte offset within it.
func (m *MetadataStore) WriteAt(h MetadataHandle, offset uint32, data []byte) error {
	if !h.IsValid() {
		return ErrBadHandle
	}
	if offset+uint32(len(data)) > h.Size {
		return fmt.Errorf("alloc: metadata write of %d bytes at +%d exceeds slot size %d",
			len(data), offset, h.Size)
	}
	start := h.Offset + offset
	copy(m.mirror[start:], data)
	m.dirty.mark(start, uint32(len(data)))
	return nil
}

// Bytes returns the slot's current mirror contents. The slice aliases the
// mirror; callers must not hold it across Release.
func (m *MetadataStore) Bytes(h MetadataHandle) []byte {
	if !h.IsValid() || h.Offset+h.Size > uint32(len(m.mirror)) {
		return nil
	}
	return m.mirror[h.Offset : h.Offset+h.Size]
}

// Flush uploads coalesced dirty ranges to the GPU metadata buffer,
// creating it on first use.
func (m *MetadataStore) Flush(ad gpucore.Adapter) error {
	if len(m.mirror) == 0 {
		return nil
	}
	if m.gpuID == gpucore.InvalidID {
		id, err := ad.CreateBuffer(len(m.mirror),
			gpucore.BufferUsageStorage|gpucore.BufferUsageCopyDst, "card-metadata")
		if err != nil {
			return fmt.Errorf("alloc: create metadata buffer: %w", err)
		}
		m.gpuID = id
		m.replaced = true
		// First flush uploads everything allocated so far.
		if m.highWater > 0 {
			m.dirty.clear()
			m.dirty.mark(0, m.highWater)
		}
	}
	if !m.dirty.hasDirty() {
		return nil
	}
	for _, r := range m.dirty.coalesced() {
		end := r.end
		if end > uint32(len(m.mirror)) {
			end = uint32(len(m.mirror))
		}
		m.log.Debug("metadata flush", "offset", r.start, "bytes", end-r.start)
		ad.WriteBuffer(m.gpuID, uint64(r.start), m.mirror[r.start:end])
	}
	m.dirty.clear()
	return nil
}

// GPUBuffer returns the metadata buffer ID (InvalidID before first Flush).
func (m *MetadataStore) GPUBuffer() gpucore.BufferID { return m.gpuID }

// Replaced reports whether the GPU buffer was (re)created since the last
// ClearReplaced.
func (m *MetadataStore) Replaced() bool { return m.replaced }

// ClearReplaced acknowledges a descriptor rebuild.
func (m *MetadataStore) ClearReplaced() { m.replaced = false }

// ReleaseGPU frees the GPU mirror; CPU state survives.
func (m *MetadataStore) ReleaseGPU(ad gpucore.Adapter) {
	if m.gpuID != gpucore.InvalidID {
		ad.DestroyBuffer(m.gpuID)
		m.gpuID = gpucore.InvalidID
	}
}

// MetadataStats summarizes pool occupancy.
type MetadataStats struct {
	Used     uint32 // slots in use across all classes
	Capacity uint32 // total slots
	Bytes    uint32 // region size in bytes
}

// Stats returns current pool occupancy.
func (m *MetadataStore) Stats() MetadataStats {
	var s MetadataStats
	for i := range m.pools {
		s.Used += m.pools[i].used()
		s.Capacity += m.pools[i].count
	}
	s.Bytes = uint32(len(m.mirror))
	return s
}
