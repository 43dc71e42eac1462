package scene

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestMetadataEncodeLayout(t *testing.T) {
	m := Metadata{
		PrimitiveOffset: 1, PrimitiveCount: 2,
		GridOffset: 3, GridWidth: 4, GridHeight: 5,
		CellSize:    6.5,
		GlyphOffset: 7, GlyphCount: 8,
		SceneMinX: -1, SceneMinY: -2, SceneMaxX: 101, SceneMaxY: 102,
		WidthCells: 80, HeightCells: 24,
		Flags: FlagShowGrid, BgColor: 0xFF2E1A1A,
	}
	b := m.Encode(nil)
	if len(b) != MetadataRecordSize {
		t.Fatalf("encoded %d bytes, want %d", len(b), MetadataRecordSize)
	}

	le := binary.LittleEndian
	if le.Uint32(b[20:]) != math.Float32bits(6.5) {
		t.Error("cell size not at byte 20 as float bits")
	}
	if le.Uint32(b[32:]) != math.Float32bits(-1) {
		t.Error("scene min X not at byte 32")
	}
	if le.Uint32(b[60:]) != 0xFF2E1A1A {
		t.Error("background color not at byte 60")
	}

	if got := DecodeMetadata(b); got != m {
		t.Errorf("roundtrip mismatch: %+v != %+v", got, m)
	}
}

func TestGlyphMetricsEncodeDecode(t *testing.T) {
	g := GlyphMetrics{
		UVMinX: 0.1, UVMinY: 0.2, UVMaxX: 0.3, UVMaxY: 0.4,
		SizeX: 10, SizeY: 14, BearingX: 1, BearingY: -2, Advance: 11,
	}
	b := g.Encode(nil)
	if len(b) != GlyphMetricsSize {
		t.Fatalf("encoded %d bytes, want %d", len(b), GlyphMetricsSize)
	}
	// Trailing pad stays zero.
	if binary.LittleEndian.Uint32(b[36:]) != 0 {
		t.Error("pad word not zero")
	}
	if got := DecodeGlyphMetrics(b); got != g {
		t.Errorf("roundtrip mismatch: %+v != %+v", got, g)
	}
}
