package scene

import (
	"math"
	"testing"
)

func TestGlyphPackedFields(t *testing.T) {
	g := NewGlyph(1.5, 2.5, 12, 16, 300, 3, GlyphFlagCustomAtlas, 0xAABBCCDD)

	if g.Width() != 12 || g.Height() != 16 {
		t.Errorf("size = %vx%v, want 12x16", g.Width(), g.Height())
	}
	if g.GlyphIndex() != 300 {
		t.Errorf("GlyphIndex = %d, want 300", g.GlyphIndex())
	}
	if g.Layer() != 3 {
		t.Errorf("Layer = %d, want 3", g.Layer())
	}
	if g.Flags() != GlyphFlagCustomAtlas {
		t.Errorf("Flags = %d, want %d", g.Flags(), GlyphFlagCustomAtlas)
	}
}

func TestGlyphSetFlag(t *testing.T) {
	g := NewGlyph(0, 0, 8, 8, 1, 0, 0, 0)
	g.SetFlag(GlyphFlagSelected, true)
	if g.Flags() != GlyphFlagSelected {
		t.Fatalf("Flags = %d after set", g.Flags())
	}
	if g.GlyphIndex() != 1 {
		t.Error("flag set clobbered glyph index")
	}
	g.SetFlag(GlyphFlagSelected, false)
	if g.Flags() != 0 {
		t.Errorf("Flags = %d after clear", g.Flags())
	}
}

func TestF16Roundtrip(t *testing.T) {
	exact := []float32{0, 0.5, 1, 2, 12, 100, 1024, -4}
	for _, v := range exact {
		if got := f16ToFloat32(float32ToF16(v)); got != v {
			t.Errorf("f16 roundtrip(%v) = %v", v, got)
		}
	}

	// Truncated mantissa stays within half-precision tolerance.
	v := float32(0.1)
	got := f16ToFloat32(float32ToF16(v))
	if diff := math.Abs(float64(got - v)); diff > 0.001 {
		t.Errorf("f16(0.1) = %v, off by %v", got, diff)
	}

	// Overflow clamps to infinity, underflow to zero.
	if got := f16ToFloat32(float32ToF16(1e6)); !math.IsInf(float64(got), 1) {
		t.Errorf("f16(1e6) = %v, want +Inf", got)
	}
	if got := f16ToFloat32(float32ToF16(1e-6)); got != 0 {
		t.Errorf("f16(1e-6) = %v, want 0", got)
	}
}

func TestGlyphEncodeDecode(t *testing.T) {
	g := NewGlyph(10, 20, 8, 12, 77, 2, GlyphFlagSelected, 0xFF00FF00)
	b := g.Encode(nil)
	if len(b) != GlyphRecordSize {
		t.Fatalf("encoded %d bytes, want %d", len(b), GlyphRecordSize)
	}
	if got := DecodeGlyph(b); got != g {
		t.Errorf("roundtrip mismatch: %+v != %+v", got, g)
	}
}
