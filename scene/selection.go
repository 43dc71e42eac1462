package scene

import (
	"sort"
	"strings"
)

// BuildSortedOrder computes the reading order of all staged glyphs, top
// to bottom then left to right. Call once after content is finalized;
// the selection operations below address glyphs by sorted index.
func (b *IndexBuilder) BuildSortedOrder() {
	b.sorted = make([]uint32, len(b.glyphs))
	for i := range b.sorted {
		b.sorted[i] = uint32(i)
	}
	sort.SliceStable(b.sorted, func(i, j int) bool {
		gi := &b.glyphs[b.sorted[i]]
		gj := &b.glyphs[b.sorted[j]]
		if gi.Y != gj.Y {
			return gi.Y < gj.Y
		}
		return gi.X < gj.X
	})
}

// NearestGlyph returns the sorted index of the glyph whose center is
// closest to the scene position, or -1 when no glyphs exist or
// BuildSortedOrder has not run.
func (b *IndexBuilder) NearestGlyph(x, y float32) int {
	best := -1
	var bestD float32
	for si, gi := range b.sorted {
		g := &b.glyphs[gi]
		dx := x - (g.X + g.Width()*0.5)
		dy := y - (g.Y + g.Height()*0.5)
		d := dx*dx + dy*dy
		if best < 0 || d < bestD {
			best = si
			bestD = d
		}
	}
	return best
}

// SetSelectionRange marks the glyphs between two sorted indices
// (inclusive, either order) with GlyphFlagSelected and clears the flag
// everywhere else. Pass (-1, -1) to clear the selection.
func (b *IndexBuilder) SetSelectionRange(start, end int) {
	for i := range b.glyphs {
		b.glyphs[i].SetFlag(GlyphFlagSelected, false)
	}
	if start < 0 || end < 0 || len(b.sorted) == 0 {
		return
	}
	if start > end {
		start, end = end, start
	}
	if end >= len(b.sorted) {
		end = len(b.sorted) - 1
	}
	for si := start; si <= end; si++ {
		b.glyphs[b.sorted[si]].SetFlag(GlyphFlagSelected, true)
	}
}

// SelectedText extracts the selected glyphs as text in reading order,
// resolving each glyph's atlas index back to a rune through lookup.
// Glyphs the lookup cannot resolve are skipped; a line break is emitted
// when the selection crosses rows.
func (b *IndexBuilder) SelectedText(lookup func(glyphIdx uint16) (rune, bool)) string {
	var sb strings.Builder
	haveLine := false
	var lineY float32
	for _, gi := range b.sorted {
		g := &b.glyphs[gi]
		if g.Flags()&GlyphFlagSelected == 0 {
			continue
		}
		if haveLine && g.Y != lineY {
			sb.WriteByte('\n')
		}
		haveLine = true
		lineY = g.Y
		if r, ok := lookup(g.GlyphIndex()); ok {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
