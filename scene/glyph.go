package scene

import (
	"encoding/binary"
	"math"
)

// Per-glyph flag bits, stored in bits 24-31 of the packed index word.
const (
	// GlyphFlagCustomAtlas marks glyphs sampled from a card's own atlas
	// rather than the shared font atlas.
	GlyphFlagCustomAtlas = 1

	// GlyphFlagSelected marks glyphs inside the active text selection.
	GlyphFlagSelected = 2
)

// GlyphRecordSize is the wire size of one glyph instance.
const GlyphRecordSize = 20

// Glyph is one positioned text glyph in scene coordinates, stored in the
// exact packed form the shader reads:
//
//	u32 0-1: x, y (f32)
//	u32 2:   width (f16 low) | height (f16 high)
//	u32 3:   glyph index (u16) | layer (u8) | flags (u8)
//	u32 4:   RGBA color
type Glyph struct {
	X, Y            float32
	WidthHeight     uint32
	GlyphLayerFlags uint32
	Color           uint32
}

// NewGlyph builds a packed glyph record.
func NewGlyph(x, y, w, h float32, glyphIdx uint16, layer, flags uint8, color uint32) Glyph {
	g := Glyph{X: x, Y: y, Color: color}
	g.SetSize(w, h)
	g.SetGlyphLayerFlags(glyphIdx, layer, flags)
	return g
}

// SetSize packs the glyph dimensions as two half floats.
func (g *Glyph) SetSize(w, h float32) {
	g.WidthHeight = uint32(float32ToF16(w)) | uint32(float32ToF16(h))<<16
}

// SetGlyphLayerFlags packs the atlas index, draw layer, and flag byte.
func (g *Glyph) SetGlyphLayerFlags(glyphIdx uint16, layer, flags uint8) {
	g.GlyphLayerFlags = uint32(glyphIdx) | uint32(layer)<<16 | uint32(flags)<<24
}

// Width unpacks the half-float width.
func (g *Glyph) Width() float32 {
	return f16ToFloat32(uint16(g.WidthHeight & 0xFFFF))
}

// Height unpacks the half-float height.
func (g *Glyph) Height() float32 {
	return f16ToFloat32(uint16(g.WidthHeight >> 16))
}

// GlyphIndex returns the index into the glyph metrics buffer.
func (g *Glyph) GlyphIndex() uint16 {
	return uint16(g.GlyphLayerFlags & 0xFFFF)
}

// Layer returns the draw order byte.
func (g *Glyph) Layer() uint8 {
	return uint8(g.GlyphLayerFlags >> 16)
}

// Flags returns the per-glyph flag byte.
func (g *Glyph) Flags() uint8 {
	return uint8(g.GlyphLayerFlags >> 24)
}

// SetFlag sets or clears one flag bit.
func (g *Glyph) SetFlag(flag uint8, on bool) {
	if on {
		g.GlyphLayerFlags |= uint32(flag) << 24
	} else {
		g.GlyphLayerFlags &^= uint32(flag) << 24
	}
}

// Encode appends the 20-byte wire form.
func (g *Glyph) Encode(dst []byte) []byte {
	var buf [GlyphRecordSize]byte
	binary.LittleEndian.PutUint32(buf[0:], math.Float32bits(g.X))
	binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(g.Y))
	binary.LittleEndian.PutUint32(buf[8:], g.WidthHeight)
	binary.LittleEndian.PutUint32(buf[12:], g.GlyphLayerFlags)
	binary.LittleEndian.PutUint32(buf[16:], g.Color)
	return append(dst, buf[:]...)
}

// DecodeGlyph reads one 20-byte record.
func DecodeGlyph(b []byte) Glyph {
	return Glyph{
		X:               math.Float32frombits(binary.LittleEndian.Uint32(b[0:])),
		Y:               math.Float32frombits(binary.LittleEndian.Uint32(b[4:])),
		WidthHeight:     binary.LittleEndian.Uint32(b[8:]),
		GlyphLayerFlags: binary.LittleEndian.Uint32(b[12:]),
		Color:           binary.LittleEndian.Uint32(b[16:]),
	}
}

// float32ToF16 converts to IEEE 754 half precision, truncating the
// mantissa. Out-of-range exponents clamp to zero or infinity; glyph sizes
// never need denormals.
func float32ToF16(f float32) uint16 {
	b := math.Float32bits(f)
	sign := uint16(b>>16) & 0x8000
	exp := int32((b>>23)&0xFF) - 127 + 15
	mant := uint16(b>>13) & 0x3FF
	if exp <= 0 {
		return sign
	}
	if exp >= 31 {
		return sign | 31<<10
	}
	return sign | uint16(exp)<<10 | mant
}

// f16ToFloat32 expands a half-precision value. Denormals decode as zero.
func f16ToFloat32(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := uint32(h>>10) & 0x1F
	mant := uint32(h) & 0x3FF
	var bits uint32
	switch {
	case exp == 0:
		bits = sign
	case exp == 31:
		bits = sign | 0x7F800000
	default:
		bits = sign | (exp+112)<<23 | mant<<13
	}
	return math.Float32frombits(bits)
}
