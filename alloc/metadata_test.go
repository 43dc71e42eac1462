package alloc

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gogpu/cardkit/gpucore"
)

func TestMetadataSizeClasses(t *testing.T) {
	m := NewMetadataStore(MetadataConfig{Count32: 4, Count64: 4, Count128: 4, Count256: 4})

	tests := []struct {
		request uint32
		slot    uint32
	}{
		{1, 32},
		{32, 32},
		{33, 64},
		{64, 64},
		{100, 128},
		{256, 256},
	}
	for _, tc := range tests {
		h, err := m.Allocate(tc.request)
		if err != nil {
			t.Fatalf("Allocate(%d): %v", tc.request, err)
		}
		if h.Size != tc.slot {
			t.Errorf("Allocate(%d) slot size = %d, want %d", tc.request, h.Size, tc.slot)
		}
	}

	if _, err := m.Allocate(257); !errors.Is(err, ErrSizeTooLarge) {
		t.Errorf("Allocate(257) = %v, want ErrSizeTooLarge", err)
	}
}

func TestMetadataPoolReuse(t *testing.T) {
	// P5: alloc/free churn in one class reuses slots instead of growing.
	m := NewMetadataStore(MetadataConfig{Count64: 2})
	size := m.TotalSize()

	seen := map[uint32]bool{}
	for i := 0; i < 100; i++ {
		h, err := m.Allocate(64)
		if err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
		seen[h.Offset] = true
		if err := m.Release(h); err != nil {
			t.Fatalf("release %d: %v", i, err)
		}
	}
	if len(seen) != 1 {
		t.Errorf("LIFO reuse should cycle one slot, saw %d distinct offsets", len(seen))
	}
	if m.TotalSize() != size {
		t.Errorf("backing storage grew from %d to %d", size, m.TotalSize())
	}
}

func TestMetadataSlotIndexUnique(t *testing.T) {
	m := NewMetadataStore(MetadataConfig{Count64: 8})
	seen := map[uint32]bool{}
	for i := 0; i < 8; i++ {
		h, err := m.Allocate(64)
		if err != nil {
			t.Fatal(err)
		}
		idx := h.SlotIndex()
		if seen[idx] {
			t.Fatalf("slot index %d handed out twice", idx)
		}
		seen[idx] = true
	}
}

func TestMetadataWriteAndFlush(t *testing.T) {
	ad := gpucore.NewHeadless()
	m := NewMetadataStore(MetadataConfig{Count64: 4})

	h, err := m.Allocate(64)
	if err != nil {
		t.Fatal(err)
	}
	record := bytes.Repeat([]byte{0xab}, 64)
	if err := m.Write(h, record); err != nil {
		t.Fatal(err)
	}
	if err := m.Flush(ad); err != nil {
		t.Fatal(err)
	}

	data := ad.BufferData(m.GPUBuffer())
	if !bytes.Equal(data[h.Offset:h.Offset+64], record) {
		t.Error("flushed metadata does not match written record")
	}

	// Partial update via WriteAt.
	if err := m.WriteAt(h, 8, []byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	if err := m.Flush(ad); err != nil {
		t.Fatal(err)
	}
	data = ad.BufferData(m.GPUBuffer())
	if !bytes.Equal(data[h.Offset+8:h.Offset+12], []byte{1, 2, 3, 4}) {
		t.Error("WriteAt update not uploaded")
	}
}

func TestMetadataWriteBounds(t *testing.T) {
	m := NewMetadataStore(MetadataConfig{Count32: 1})
	h, err := m.Allocate(32)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.WriteAt(h, 16, make([]byte, 32)); err == nil {
		t.Error("overflowing WriteAt should fail")
	}
	if err := m.Write(InvalidMetadataHandle(), []byte{1}); !errors.Is(err, ErrBadHandle) {
		t.Errorf("write through invalid handle = %v, want ErrBadHandle", err)
	}
}

func TestMetadataReleaseZeroesSlot(t *testing.T) {
	m := NewMetadataStore(MetadataConfig{Count64: 1})
	h, _ := m.Allocate(64)
	if err := m.Write(h, bytes.Repeat([]byte{0xff}, 64)); err != nil {
		t.Fatal(err)
	}
	if err := m.Release(h); err != nil {
		t.Fatal(err)
	}
	h2, err := m.Allocate(64)
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range m.Bytes(h2) {
		if b != 0 {
			t.Fatal("reused slot not zeroed")
		}
	}
}

func TestDirtyTrackerCoalescing(t *testing.T) {
	var d dirtyTracker
	d.mark(0, 16)
	d.mark(200, 8)
	d.mark(20, 16) // within coalesceGap of the first range

	got := d.coalesced()
	if len(got) != 2 {
		t.Fatalf("coalesced into %d ranges, want 2", len(got))
	}
	if got[0].start != 0 || got[0].end != 36 {
		t.Errorf("range 0 = [%d,%d), want [0,36)", got[0].start, got[0].end)
	}
	if got[1].start != 200 || got[1].end != 208 {
		t.Errorf("range 1 = [%d,%d), want [200,208)", got[1].start, got[1].end)
	}
}

func TestMetadataPoolExhaustion(t *testing.T) {
	m := NewMetadataStore(MetadataConfig{Count64: 1})
	if _, err := m.Allocate(64); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Allocate(64); !errors.Is(err, ErrPoolExhausted) {
		t.Errorf("exhausted pool error = %v, want ErrPoolExhausted", err)
	}
}
