package scene

import (
	"encoding/binary"
	"math"
)

// Scene flag bits, carried in the metadata record for the shader.
const (
	FlagShowBounds   = 1
	FlagShowGrid     = 2
	FlagShowEvalHeat = 4
	FlagHas3D        = 8
	FlagUniformScale = 16
	FlagCustomAtlas  = 32
)

// MetadataRecordSize is the wire size of one card metadata record. It is
// also the slot granularity of the metadata store, so the record index of
// a card doubles as its identity.
const MetadataRecordSize = 64

// Metadata is the per-card header the shader reads first: where the
// card's primitives, grid, and glyphs live in the linear buffer, and the
// scene-space mapping of the grid.
type Metadata struct {
	PrimitiveOffset uint32
	PrimitiveCount  uint32
	GridOffset      uint32
	GridWidth       uint32
	GridHeight      uint32
	CellSize        float32
	GlyphOffset     uint32
	GlyphCount      uint32
	SceneMinX       float32
	SceneMinY       float32
	SceneMaxX       float32
	SceneMaxY       float32
	WidthCells      uint32
	HeightCells     uint32
	Flags           uint32
	BgColor         uint32
}

// Encode appends the 64-byte wire form, floats stored as raw bits.
func (m *Metadata) Encode(dst []byte) []byte {
	var buf [MetadataRecordSize]byte
	le := binary.LittleEndian
	le.PutUint32(buf[0:], m.PrimitiveOffset)
	le.PutUint32(buf[4:], m.PrimitiveCount)
	le.PutUint32(buf[8:], m.GridOffset)
	le.PutUint32(buf[12:], m.GridWidth)
	le.PutUint32(buf[16:], m.GridHeight)
	le.PutUint32(buf[20:], math.Float32bits(m.CellSize))
	le.PutUint32(buf[24:], m.GlyphOffset)
	le.PutUint32(buf[28:], m.GlyphCount)
	le.PutUint32(buf[32:], math.Float32bits(m.SceneMinX))
	le.PutUint32(buf[36:], math.Float32bits(m.SceneMinY))
	le.PutUint32(buf[40:], math.Float32bits(m.SceneMaxX))
	le.PutUint32(buf[44:], math.Float32bits(m.SceneMaxY))
	le.PutUint32(buf[48:], m.WidthCells)
	le.PutUint32(buf[52:], m.HeightCells)
	le.PutUint32(buf[56:], m.Flags)
	le.PutUint32(buf[60:], m.BgColor)
	return append(dst, buf[:]...)
}

// DecodeMetadata reads one 64-byte record.
func DecodeMetadata(b []byte) Metadata {
	le := binary.LittleEndian
	return Metadata{
		PrimitiveOffset: le.Uint32(b[0:]),
		PrimitiveCount:  le.Uint32(b[4:]),
		GridOffset:      le.Uint32(b[8:]),
		GridWidth:       le.Uint32(b[12:]),
		GridHeight:      le.Uint32(b[16:]),
		CellSize:        math.Float32frombits(le.Uint32(b[20:])),
		GlyphOffset:     le.Uint32(b[24:]),
		GlyphCount:      le.Uint32(b[28:]),
		SceneMinX:       math.Float32frombits(le.Uint32(b[32:])),
		SceneMinY:       math.Float32frombits(le.Uint32(b[36:])),
		SceneMaxX:       math.Float32frombits(le.Uint32(b[40:])),
		SceneMaxY:       math.Float32frombits(le.Uint32(b[44:])),
		WidthCells:      le.Uint32(b[48:]),
		HeightCells:     le.Uint32(b[52:]),
		Flags:           le.Uint32(b[56:]),
		BgColor:         le.Uint32(b[60:]),
	}
}

// GlyphMetricsSize is the wire size of one glyph metrics record in the
// font atlas metadata buffer.
const GlyphMetricsSize = 40

// GlyphMetrics describes one glyph in the external font atlas: UV window,
// logical size, bearing, and advance. Produced by the glyph provider;
// indexed by Glyph.GlyphIndex.
type GlyphMetrics struct {
	UVMinX, UVMinY     float32
	UVMaxX, UVMaxY     float32
	SizeX, SizeY       float32
	BearingX, BearingY float32
	Advance            float32
}

// Encode appends the 40-byte wire form (8-byte aligned, one pad float).
func (g *GlyphMetrics) Encode(dst []byte) []byte {
	var buf [GlyphMetricsSize]byte
	le := binary.LittleEndian
	le.PutUint32(buf[0:], math.Float32bits(g.UVMinX))
	le.PutUint32(buf[4:], math.Float32bits(g.UVMinY))
	le.PutUint32(buf[8:], math.Float32bits(g.UVMaxX))
	le.PutUint32(buf[12:], math.Float32bits(g.UVMaxY))
	le.PutUint32(buf[16:], math.Float32bits(g.SizeX))
	le.PutUint32(buf[20:], math.Float32bits(g.SizeY))
	le.PutUint32(buf[24:], math.Float32bits(g.BearingX))
	le.PutUint32(buf[28:], math.Float32bits(g.BearingY))
	le.PutUint32(buf[32:], math.Float32bits(g.Advance))
	return append(dst, buf[:]...)
}

// DecodeGlyphMetrics reads one 40-byte record.
func DecodeGlyphMetrics(b []byte) GlyphMetrics {
	le := binary.LittleEndian
	f := func(off int) float32 {
		return math.Float32frombits(le.Uint32(b[off:]))
	}
	return GlyphMetrics{
		UVMinX: f(0), UVMinY: f(4),
		UVMaxX: f(8), UVMaxY: f(12),
		SizeX: f(16), SizeY: f(20),
		BearingX: f(24), BearingY: f(28),
		Advance: f(32),
	}
}
