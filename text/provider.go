package text

import "github.com/gogpu/cardkit/scene"

// Provider is the contract with the external font pipeline that owns
// rasterization and the font atlas. Glyph indices are the same 16-bit
// indices carried in scene.Glyph records and in the 40-byte metrics
// region the compositor reads.
type Provider interface {
	// Metrics returns the atlas metrics for a glyph index.
	Metrics(glyphIndex uint16) (scene.GlyphMetrics, bool)

	// Lookup maps a rune to its glyph index.
	Lookup(r rune) (uint16, bool)

	// Codepoint maps a glyph index back to its rune. Used by text
	// selection to reconstruct the selected string.
	Codepoint(glyphIndex uint16) (rune, bool)
}

// StaticProvider is a map-backed Provider for tests and for fonts whose
// metrics were loaded from a prebuilt cache file.
type StaticProvider struct {
	byIndex map[uint16]scene.GlyphMetrics
	byRune  map[rune]uint16
	runes   map[uint16]rune
}

// NewStaticProvider creates an empty provider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		byIndex: make(map[uint16]scene.GlyphMetrics),
		byRune:  make(map[rune]uint16),
		runes:   make(map[uint16]rune),
	}
}

// Put registers one glyph.
func (p *StaticProvider) Put(r rune, glyphIndex uint16, m scene.GlyphMetrics) {
	p.byIndex[glyphIndex] = m
	p.byRune[r] = glyphIndex
	p.runes[glyphIndex] = r
}

// Metrics implements Provider.
func (p *StaticProvider) Metrics(glyphIndex uint16) (scene.GlyphMetrics, bool) {
	m, ok := p.byIndex[glyphIndex]
	return m, ok
}

// Lookup implements Provider.
func (p *StaticProvider) Lookup(r rune) (uint16, bool) {
	idx, ok := p.byRune[r]
	return idx, ok
}

// Codepoint implements Provider.
func (p *StaticProvider) Codepoint(glyphIndex uint16) (rune, bool) {
	r, ok := p.runes[glyphIndex]
	return r, ok
}

var _ Provider = (*StaticProvider)(nil)
