package atlas

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/gogpu/cardkit/gpucore"
)

func solidPixels(w, h int, val byte) []byte {
	px := make([]byte, w*h*4)
	for i := range px {
		px[i] = val
	}
	return px
}

func link(t *testing.T, m *Manager, w, h int, val byte) Handle {
	t.Helper()
	hd := m.Allocate()
	if err := m.Link(hd, solidPixels(w, h, val), w, h); err != nil {
		t.Fatalf("Link(%dx%d): %v", w, h, err)
	}
	return hd
}

func TestPackAssignsPositions(t *testing.T) {
	m := NewManager(Config{InitialSize: 256})

	a := link(t, m, 64, 64, 1)
	b := link(t, m, 32, 32, 2)

	if _, err := m.Position(a); !errors.Is(err, ErrNotPacked) {
		t.Fatalf("Position before Pack: got %v, want ErrNotPacked", err)
	}

	if err := m.Pack(); err != nil {
		t.Fatalf("Pack: %v", err)
	}

	pa, err := m.Position(a)
	if err != nil {
		t.Fatalf("Position(a): %v", err)
	}
	pb, err := m.Position(b)
	if err != nil {
		t.Fatalf("Position(b): %v", err)
	}

	// Decreasing height puts the taller rectangle first on the first shelf.
	if pa != (Position{X: 0, Y: 0}) {
		t.Errorf("a at %+v, want origin", pa)
	}
	if pb != (Position{X: 65, Y: 0}) {
		t.Errorf("b at %+v, want {65 0}", pb)
	}
}

func TestPackDeterministic(t *testing.T) {
	build := func() *Manager {
		m := NewManager(Config{InitialSize: 256})
		link(t, m, 40, 20, 1)
		link(t, m, 10, 60, 2)
		link(t, m, 100, 30, 3)
		link(t, m, 10, 60, 4)
		link(t, m, 40, 20, 5)
		return m
	}

	m1 := build()
	m2 := build()
	if err := m1.Pack(); err != nil {
		t.Fatalf("Pack m1: %v", err)
	}
	if err := m2.Pack(); err != nil {
		t.Fatalf("Pack m2: %v", err)
	}

	for h := Handle(1); h <= 5; h++ {
		p1, err1 := m1.Position(h)
		p2, err2 := m2.Position(h)
		if err1 != nil || err2 != nil {
			t.Fatalf("Position(%d): %v / %v", h, err1, err2)
		}
		if p1 != p2 {
			t.Errorf("handle %d: %+v vs %+v", h, p1, p2)
		}
	}

	// Repacking unchanged linkage must not move anything.
	before, _ := m1.Position(3)
	if err := m1.Pack(); err != nil {
		t.Fatalf("repack: %v", err)
	}
	after, _ := m1.Position(3)
	if before != after {
		t.Errorf("stable repack moved handle 3: %+v -> %+v", before, after)
	}
}

func TestPackNoOverlapWithinBounds(t *testing.T) {
	m := NewManager(Config{InitialSize: 128})
	sizes := [][2]int{{30, 40}, {50, 20}, {25, 25}, {60, 10}, {10, 70}, {45, 45}, {12, 12}, {80, 15}}
	handles := make([]Handle, len(sizes))
	for i, s := range sizes {
		handles[i] = link(t, m, s[0], s[1], byte(i+1))
	}
	if err := m.Pack(); err != nil {
		t.Fatalf("Pack: %v", err)
	}

	type rect struct{ x0, y0, x1, y1 int }
	rects := make([]rect, len(handles))
	size := m.Size()
	for i, h := range handles {
		p, err := m.Position(h)
		if err != nil {
			t.Fatalf("Position(%d): %v", h, err)
		}
		r := rect{p.X, p.Y, p.X + sizes[i][0], p.Y + sizes[i][1]}
		if r.x0 < 0 || r.y0 < 0 || r.x1 > size || r.y1 > size {
			t.Errorf("handle %d out of bounds: %+v in %d", h, r, size)
		}
		rects[i] = r
	}
	for i := range rects {
		for j := i + 1; j < len(rects); j++ {
			a, b := rects[i], rects[j]
			if a.x0 < b.x1 && b.x0 < a.x1 && a.y0 < b.y1 && b.y0 < a.y1 {
				t.Errorf("handles %d and %d overlap: %+v vs %+v", handles[i], handles[j], a, b)
			}
		}
	}
}

func TestPackGrowsAtlas(t *testing.T) {
	m := NewManager(Config{InitialSize: 64, MaxSize: 256})
	link(t, m, 60, 60, 1)
	if err := m.Pack(); err != nil {
		t.Fatalf("first Pack: %v", err)
	}
	if m.Size() != 64 {
		t.Fatalf("Size = %d, want 64", m.Size())
	}

	link(t, m, 60, 60, 2)
	link(t, m, 60, 60, 3)
	if err := m.Pack(); err != nil {
		t.Fatalf("growing Pack: %v", err)
	}
	if m.Size() != 128 {
		t.Errorf("Size = %d, want 128 after growth", m.Size())
	}
}

func TestPackOverflowIsRecoverable(t *testing.T) {
	m := NewManager(Config{InitialSize: 64, MaxSize: 128})
	big := m.Allocate()
	if err := m.Link(big, solidPixels(200, 200, 9), 200, 200); err != nil {
		t.Fatalf("Link: %v", err)
	}
	if err := m.Pack(); !errors.Is(err, ErrAtlasOverflow) {
		t.Fatalf("Pack oversize: got %v, want ErrAtlasOverflow", err)
	}

	// Dropping the oversize content lets the next Pack succeed.
	if err := m.Release(big); err != nil {
		t.Fatalf("Release: %v", err)
	}
	link(t, m, 16, 16, 1)
	if err := m.Pack(); err != nil {
		t.Fatalf("Pack after recovery: %v", err)
	}
}

func TestPackOverflowByCount(t *testing.T) {
	m := NewManager(Config{InitialSize: 32, MaxSize: 64})
	for i := 0; i < 40; i++ {
		link(t, m, 16, 16, byte(i))
	}
	if err := m.Pack(); !errors.Is(err, ErrAtlasOverflow) {
		t.Fatalf("Pack: got %v, want ErrAtlasOverflow", err)
	}
}

func TestWriteCopiesPixels(t *testing.T) {
	ad := gpucore.NewHeadless()
	m := NewManager(Config{InitialSize: 64, Label: "cards-atlas"})

	h := link(t, m, 4, 4, 0xAB)
	if err := m.Pack(); err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if err := m.Write(ad, h); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !m.Replaced() {
		t.Error("first Write should create the texture and report Replaced")
	}

	p, _ := m.Position(h)
	pixels := ad.TexturePixels(m.GPUTexture())
	w, _ := ad.TextureSize(m.GPUTexture())
	row := pixels[(p.Y*w+p.X)*4 : (p.Y*w+p.X)*4+16]
	if !bytes.Equal(row, solidPixels(4, 1, 0xAB)) {
		t.Errorf("texture row = % x", row)
	}
}

func TestWriteAllAfterGrowthRecreatesTexture(t *testing.T) {
	ad := gpucore.NewHeadless()
	m := NewManager(Config{InitialSize: 64, MaxSize: 256})

	link(t, m, 48, 48, 1)
	if err := m.Pack(); err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if err := m.WriteAll(ad); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	first := m.GPUTexture()
	m.ClearReplaced()

	link(t, m, 48, 48, 2)
	link(t, m, 48, 48, 3)
	if err := m.Pack(); err != nil {
		t.Fatalf("growing Pack: %v", err)
	}
	if err := m.WriteAll(ad); err != nil {
		t.Fatalf("WriteAll after growth: %v", err)
	}
	if m.GPUTexture() == first {
		t.Error("texture id unchanged after atlas growth")
	}
	if !m.Replaced() {
		t.Error("growth must flag the texture as replaced")
	}
	if w, hgt := ad.TextureSize(m.GPUTexture()); w != m.Size() || hgt != m.Size() {
		t.Errorf("texture %dx%d, want %dx%d", w, hgt, m.Size(), m.Size())
	}
}

func TestWriteBeforePack(t *testing.T) {
	ad := gpucore.NewHeadless()
	m := NewManager(Config{})
	h := link(t, m, 8, 8, 1)
	_ = h
	m.InvalidateAll()
	if err := m.WriteAll(ad); !errors.Is(err, ErrNotPacked) {
		t.Fatalf("WriteAll before Pack: got %v, want ErrNotPacked", err)
	}
}

func TestLinkValidation(t *testing.T) {
	m := NewManager(Config{})
	h := m.Allocate()
	if err := m.Link(h, make([]byte, 10), 4, 4); !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("short pixels: got %v, want ErrSizeMismatch", err)
	}
	if err := m.Link(Handle(999), solidPixels(2, 2, 0), 2, 2); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("unknown handle: got %v, want ErrUnknownHandle", err)
	}
	if err := m.Release(Handle(999)); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("release unknown: got %v, want ErrUnknownHandle", err)
	}
}

func TestLinkImage(t *testing.T) {
	m := NewManager(Config{})
	h := m.Allocate()

	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})

	if err := m.LinkImage(h, img); err != nil {
		t.Fatalf("LinkImage: %v", err)
	}
	e := m.entries[h]
	if e.width != 3 || e.height != 2 {
		t.Errorf("linked %dx%d, want 3x2", e.width, e.height)
	}
	if e.pixels[0] != 255 || e.pixels[3] != 255 {
		t.Errorf("pixel (0,0) = % x, want red", e.pixels[:4])
	}
}

func TestRelinkDifferentSizeForcesRepack(t *testing.T) {
	m := NewManager(Config{})
	h := link(t, m, 8, 8, 1)
	if err := m.Pack(); err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if m.NeedsRepack() {
		t.Fatal("clean after Pack")
	}
	if err := m.Link(h, solidPixels(16, 16, 2), 16, 16); err != nil {
		t.Fatalf("relink: %v", err)
	}
	if !m.NeedsRepack() {
		t.Error("resize must force a repack")
	}
	if _, err := m.Position(h); !errors.Is(err, ErrNotPacked) {
		t.Errorf("stale position: got %v, want ErrNotPacked", err)
	}
}

func TestStats(t *testing.T) {
	m := NewManager(Config{InitialSize: 128})
	link(t, m, 64, 64, 1)
	m.Allocate() // unlinked
	if err := m.Pack(); err != nil {
		t.Fatalf("Pack: %v", err)
	}
	s := m.Stats()
	if s.Handles != 2 || s.Linked != 1 || s.Placed != 1 || s.PackCount != 1 {
		t.Errorf("Stats = %+v", s)
	}
	want := float64(64*64) / float64(128*128)
	if s.Utilization != want {
		t.Errorf("Utilization = %v, want %v", s.Utilization, want)
	}
}
