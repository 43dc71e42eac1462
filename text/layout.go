package text

import "github.com/gogpu/cardkit/scene"

// LayoutOptions position and style one laid-out run.
type LayoutOptions struct {
	// OriginX, OriginY place the baseline start in scene coordinates.
	OriginX, OriginY float32

	// Size is the pixel size passed to the shaper.
	Size float64

	// Color is the packed RGBA applied to every glyph.
	Color uint32

	// Layer is the card layer byte carried in each glyph record.
	Layer uint8

	// Flags is the glyph flag byte (scene.GlyphFlag*).
	Flags uint8

	// Direction is the run direction.
	Direction Direction
}

// Layout shapes a run and resolves it against the provider's metrics
// into scene glyph records. Glyphs the provider does not know are
// dropped; the compositor cannot draw a glyph without an atlas window.
//
// A nil font skips shaping and falls back to rune-by-rune lookup with
// advance-driven placement, which is exact for monospace terminal text
// and keeps the path usable without font data.
func (s *Shaper) Layout(f *Font, str string, p Provider, opts LayoutOptions) []scene.Glyph {
	if f == nil {
		return layoutByAdvance(str, p, opts)
	}
	shaped := s.Shape(f, str, opts.Size, opts.Direction)
	out := make([]scene.Glyph, 0, len(shaped))
	for _, g := range shaped {
		m, ok := p.Metrics(g.GID)
		if !ok {
			continue
		}
		out = append(out, placeGlyph(g.GID, m,
			opts.OriginX+float32(g.X), opts.OriginY+float32(g.Y), opts))
	}
	return out
}

// layoutByAdvance places glyphs on the baseline using provider advances
// only.
func layoutByAdvance(str string, p Provider, opts LayoutOptions) []scene.Glyph {
	out := make([]scene.Glyph, 0, len(str))
	x := opts.OriginX
	for _, r := range str {
		idx, ok := p.Lookup(r)
		if !ok {
			continue
		}
		m, ok := p.Metrics(idx)
		if !ok {
			continue
		}
		out = append(out, placeGlyph(idx, m, x, opts.OriginY, opts))
		x += m.Advance
	}
	return out
}

// placeGlyph converts baseline-relative metrics into the glyph record's
// top-left box.
func placeGlyph(idx uint16, m scene.GlyphMetrics, penX, penY float32, opts LayoutOptions) scene.Glyph {
	return scene.NewGlyph(
		penX+m.BearingX,
		penY-m.BearingY,
		m.SizeX, m.SizeY,
		idx, opts.Layer, opts.Flags, opts.Color,
	)
}
