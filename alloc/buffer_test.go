package alloc

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gogpu/cardkit/gpucore"
)

func TestBufferReserveCommitAllocate(t *testing.T) {
	b := NewBuffer(BufferConfig{})

	// Scenario: three widgets reserve 100, 200, 50 bytes.
	b.Reserve(100)
	b.Reserve(200)
	b.Reserve(50)
	b.Commit()

	offsets := []uint32{}
	for i, size := range []uint32{100, 200, 50} {
		h, err := b.Allocate(uint32(i), "data", size)
		if err != nil {
			t.Fatalf("Allocate(%d) failed: %v", size, err)
		}
		offsets = append(offsets, h.Offset)
	}

	// 16-byte alignment: 100→112, 200→208, 50→64.
	want := []uint32{0, 112, 320}
	for i := range want {
		if offsets[i] != want[i] {
			t.Errorf("allocation %d offset = %d, want %d", i, offsets[i], want[i])
		}
	}
	if b.Stats().Capacity < 384 {
		t.Errorf("capacity = %d, want >= 384", b.Stats().Capacity)
	}
}

func TestBufferPointerStability(t *testing.T) {
	b := NewBuffer(BufferConfig{})

	// P1: after Commit, every allocation within the reserved total succeeds
	// and earlier slices remain usable and aliased to the same memory.
	const n = 8
	for i := 0; i < n; i++ {
		b.Reserve(64)
	}
	b.Commit()

	handles := make([]BufferHandle, 0, n)
	for i := 0; i < n; i++ {
		h, err := b.Allocate(uint32(i), "data", 64)
		if err != nil {
			t.Fatalf("Allocate %d failed after commit: %v", i, err)
		}
		h.Bytes[0] = byte(i + 1)
		if err := b.MarkDirty(h); err != nil {
			t.Fatalf("MarkDirty %d: %v", i, err)
		}
		handles = append(handles, h)
	}

	// Writes through early handles are still visible: no reallocation
	// happened mid-epoch.
	for i, h := range handles {
		if h.Bytes[0] != byte(i+1) {
			t.Errorf("handle %d lost its write: got %d", i, h.Bytes[0])
		}
	}
}

func TestBufferCapacityExceeded(t *testing.T) {
	b := NewBuffer(BufferConfig{})
	b.Reserve(32)
	b.Commit()

	if _, err := b.Allocate(0, "data", 32); err != nil {
		t.Fatalf("first allocation: %v", err)
	}
	_, err := b.Allocate(1, "data", 32)
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("over-allocation error = %v, want ErrCapacityExceeded", err)
	}
}

func TestBufferAllocateBeforeCommit(t *testing.T) {
	b := NewBuffer(BufferConfig{})
	if _, err := b.Allocate(0, "data", 16); !errors.Is(err, ErrNotCommitted) {
		t.Fatalf("error = %v, want ErrNotCommitted", err)
	}
}

func TestBufferStaleHandleRejected(t *testing.T) {
	b := NewBuffer(BufferConfig{})
	b.Reserve(64)
	b.Commit()
	h, err := b.Allocate(0, "data", 64)
	if err != nil {
		t.Fatal(err)
	}

	// Repack: the old handle belongs to a dead epoch.
	b.Reserve(64)
	b.Commit()

	if err := b.MarkDirty(h); !errors.Is(err, ErrStaleHandle) {
		t.Errorf("MarkDirty on stale handle = %v, want ErrStaleHandle", err)
	}
	if err := b.Write(h, []byte{1}); !errors.Is(err, ErrStaleHandle) {
		t.Errorf("Write on stale handle = %v, want ErrStaleHandle", err)
	}
	if got := b.Stats().StaleUses; got != 2 {
		t.Errorf("StaleUses = %d, want 2", got)
	}
}

func TestBufferNeverShrinks(t *testing.T) {
	b := NewBuffer(BufferConfig{})
	b.Reserve(4096)
	b.Commit()
	big := b.Stats().Capacity

	b.Reserve(64)
	b.Commit()
	if got := b.Stats().Capacity; got < big {
		t.Errorf("capacity shrank from %d to %d", big, got)
	}

	// The smaller epoch still allocates fine.
	if _, err := b.Allocate(0, "data", 64); err != nil {
		t.Fatalf("Allocate after shrink-commit: %v", err)
	}
}

func TestBufferHandleLookup(t *testing.T) {
	b := NewBuffer(BufferConfig{})
	b.Reserve(128)
	b.Commit()

	h, err := b.Allocate(7, "points", 128)
	if err != nil {
		t.Fatal(err)
	}
	got := b.Handle(7, "points")
	if got.Offset != h.Offset || got.Size != h.Size {
		t.Errorf("Handle(7, points) = %+v, want %+v", got, h)
	}
	if b.Handle(7, "missing").IsValid() {
		t.Error("Handle for absent scope should be invalid")
	}
	if b.Handle(8, "points").IsValid() {
		t.Error("Handle for absent owner should be invalid")
	}
}

func TestBufferFlushUploadsDirtyPrefix(t *testing.T) {
	ad := gpucore.NewHeadless()
	b := NewBuffer(BufferConfig{})
	b.Reserve(64)
	b.Commit()

	h, err := b.Allocate(0, "data", 64)
	if err != nil {
		t.Fatal(err)
	}
	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	if err := b.Write(h, payload); err != nil {
		t.Fatal(err)
	}
	if err := b.Flush(ad); err != nil {
		t.Fatal(err)
	}

	data := ad.BufferData(b.GPUBuffer())
	if data == nil {
		t.Fatal("no GPU buffer created")
	}
	if !bytes.Equal(data[:4], payload) {
		t.Errorf("GPU bytes = % x, want % x", data[:4], payload)
	}
}

func TestBufferFlushRecreatesOnGrowth(t *testing.T) {
	ad := gpucore.NewHeadless()
	b := NewBuffer(BufferConfig{})
	b.Reserve(64)
	b.Commit()
	if err := b.Flush(ad); err != nil {
		t.Fatal(err)
	}
	first := b.GPUBuffer()
	b.ClearReplaced()

	b.Reserve(4096)
	b.Commit()
	h, err := b.Allocate(0, "data", 4096)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Write(h, []byte{42}); err != nil {
		t.Fatal(err)
	}
	if err := b.Flush(ad); err != nil {
		t.Fatal(err)
	}

	if b.GPUBuffer() == first {
		t.Error("GPU buffer should have been recreated after growth")
	}
	if !b.Replaced() {
		t.Error("Replaced() should report descriptor-dirty after recreate")
	}
	if got := ad.BufferSize(b.GPUBuffer()); got < 4096 {
		t.Errorf("recreated buffer size = %d, want >= 4096", got)
	}
}

func TestBufferEpochZeroing(t *testing.T) {
	b := NewBuffer(BufferConfig{})
	b.Reserve(64)
	b.Commit()
	h, _ := b.Allocate(0, "data", 64)
	h.Bytes[0] = 0xff

	b.Reserve(64)
	b.Commit()
	h2, err := b.Allocate(0, "data", 64)
	if err != nil {
		t.Fatal(err)
	}
	if h2.Bytes[0] != 0 {
		t.Errorf("reused region leaked %#x from previous epoch", h2.Bytes[0])
	}
}
