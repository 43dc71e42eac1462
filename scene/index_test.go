package scene

import (
	"testing"
)

func TestCalculateAutoBoundsPad(t *testing.T) {
	b := NewIndexBuilder(IndexConfig{})
	b.AddBox(50, 50, 50, 50, 0xFF, 0, 0, 0, 0)
	b.Calculate()

	minX, minY, maxX, maxY := b.SceneBounds()
	if minX != -5 || minY != -5 || maxX != 105 || maxY != 105 {
		t.Errorf("bounds = (%v,%v)-(%v,%v), want 5%% pad around 0..100", minX, minY, maxX, maxY)
	}
}

func TestCalculateDegenerateBounds(t *testing.T) {
	b := NewIndexBuilder(IndexConfig{})
	// A zero-radius circle collapses the content box to a point.
	b.AddCircle(5, 5, 0, 0xFF, 0, 0, 0)
	b.Calculate()

	minX, minY, maxX, maxY := b.SceneBounds()
	if minX != 0 || maxX != 100 || minY != 0 || maxY != 100 {
		t.Errorf("degenerate bounds = (%v,%v)-(%v,%v), want 0..100", minX, minY, maxX, maxY)
	}
}

func TestCalculateEmptyScene(t *testing.T) {
	b := NewIndexBuilder(IndexConfig{})
	b.Calculate()
	if b.GridWidth() != 0 || b.GridHeight() != 0 || len(b.Grid()) != 0 {
		t.Errorf("empty scene grid = %dx%d (%d words)", b.GridWidth(), b.GridHeight(), len(b.Grid()))
	}
	if _, _, ok := b.CellAt(10, 10); ok {
		t.Error("CellAt should fail with no grid")
	}
}

// Every cell inside a primitive's AABB range must list it, and no cell
// outside may.
func TestGridCoverageIsExact(t *testing.T) {
	b := NewIndexBuilder(IndexConfig{})
	b.SetSceneBounds(0, 0, 100, 100)
	b.AddCircle(20, 20, 10, 0xFF, 0, 0, 0)
	b.AddCircle(80, 80, 5, 0xFF, 0, 0, 0)
	b.AddBox(50, 50, 20, 10, 0xFF, 0, 0, 0, 0)
	b.AddSegment(0, 0, 100, 100, 0xFF, 2, 0)
	b.AddCircle(90, 10, 8, 0xFF, 0, 0, 0)
	b.Calculate()

	gridW, gridH := b.GridWidth(), b.GridHeight()
	if gridW == 0 || gridH == 0 {
		t.Fatal("no grid built")
	}
	grid := b.Grid()

	inCell := make(map[[3]uint32]bool) // (cx, cy, entry)
	for cy := uint32(0); cy < gridH; cy++ {
		for cx := uint32(0); cx < gridW; cx++ {
			off := grid[cy*gridW+cx]
			cnt := grid[off]
			for k := uint32(0); k < cnt; k++ {
				inCell[[3]uint32{cx, cy, grid[off+1+k]}] = true
			}
		}
	}

	for i, p := range b.Primitives() {
		cMinX, cMaxX, cMinY, cMaxY := b.cellRange(p.AABBMinX, p.AABBMinY, p.AABBMaxX, p.AABBMaxY)
		for cy := uint32(0); cy < gridH; cy++ {
			for cx := uint32(0); cx < gridW; cx++ {
				want := cx >= cMinX && cx <= cMaxX && cy >= cMinY && cy <= cMaxY
				got := inCell[[3]uint32{cx, cy, uint32(i)}]
				if want != got {
					t.Fatalf("prim %d cell (%d,%d): listed=%v covered=%v", i, cx, cy, got, want)
				}
			}
		}
	}
}

func TestGlyphEntriesCarryTag(t *testing.T) {
	b := NewIndexBuilder(IndexConfig{})
	b.SetSceneBounds(0, 0, 100, 100)
	b.AddCircle(50, 50, 10, 0xFF, 0, 0, 0)
	b.AddGlyph(NewGlyph(10, 10, 8, 12, 3, 0, 0, 0xFFFFFFFF))
	b.Calculate()

	entries := b.Query(12, 14)
	foundGlyph := false
	for _, e := range entries {
		idx, isGlyph := DecodeEntry(e)
		if isGlyph {
			foundGlyph = true
			if idx != 0 {
				t.Errorf("glyph entry index = %d, want 0", idx)
			}
		}
	}
	if !foundGlyph {
		t.Error("glyph not found in covering cell")
	}
}

func TestQuery(t *testing.T) {
	b := NewIndexBuilder(IndexConfig{})
	b.SetSceneBounds(0, 0, 100, 100)
	circle := b.AddCircle(30, 30, 10, 0xFF, 0, 0, 0)
	b.Calculate()

	found := false
	for _, e := range b.Query(30, 30) {
		if idx, isGlyph := DecodeEntry(e); !isGlyph && idx == circle {
			found = true
		}
	}
	if !found {
		t.Error("circle missing from its center cell")
	}
	if b.Query(-50, -50) != nil {
		t.Error("out-of-bounds query should return nil")
	}
}

func TestGridDimensionCap(t *testing.T) {
	b := NewIndexBuilder(IndexConfig{})
	b.SetSceneBounds(0, 0, 10000, 10000)
	b.SetCellSize(1)
	b.AddCircle(5, 5, 2, 0xFF, 0, 0, 0)
	b.Calculate()

	if b.GridWidth() != 512 || b.GridHeight() != 512 {
		t.Errorf("grid = %dx%d, want capped at 512", b.GridWidth(), b.GridHeight())
	}
	want := float32(10000) / 512
	if b.CellSize() != want {
		t.Errorf("cell size = %v, want widened to %v", b.CellSize(), want)
	}
}

func TestAutoCellSizeClampedToSceneArea(t *testing.T) {
	b := NewIndexBuilder(IndexConfig{})
	b.SetSceneBounds(0, 0, 1000, 1000)
	// One tiny primitive would suggest a microscopic cell; the clamp keeps
	// the grid at most 65536 cells.
	b.AddCircle(5, 5, 0.01, 0xFF, 0, 0, 0)
	b.Calculate()

	if cells := b.GridWidth() * b.GridHeight(); cells > 65536 {
		t.Errorf("%d cells, want <= 65536", cells)
	}
}

func Test3DPrimitivesStayOutOfGrid(t *testing.T) {
	b := NewIndexBuilder(IndexConfig{})
	b.SetSceneBounds(0, 0, 100, 100)
	b.AddPrimitive(Primitive{Type: TypeSphere3D, Params: [MaxParams]float32{50, 50, 0, 10}})
	b.AddCircle(50, 50, 10, 0xFF, 0, 0, 0)
	b.Calculate()

	for cy := uint32(0); cy < b.GridHeight(); cy++ {
		for cx := uint32(0); cx < b.GridWidth(); cx++ {
			off := b.Grid()[cy*b.GridWidth()+cx]
			cnt := b.Grid()[off]
			for k := uint32(0); k < cnt; k++ {
				if idx, isGlyph := DecodeEntry(b.Grid()[off+1+k]); !isGlyph && idx == 0 {
					t.Fatal("3D primitive leaked into the grid")
				}
			}
		}
	}
}

func TestBuildMetadata(t *testing.T) {
	b := NewIndexBuilder(IndexConfig{})
	b.SetSceneBounds(0, 0, 100, 50)
	b.SetBgColor(0xFF112233)
	b.AddFlags(FlagShowGrid)
	b.AddCircle(10, 10, 5, 0xFF, 0, 0, 0)
	b.AddGlyph(NewGlyph(20, 20, 8, 8, 1, 0, 0, 0))
	b.Calculate()

	m := b.BuildMetadata(100, 200, 300, 80, 24)
	if m.PrimitiveOffset != 100 || m.PrimitiveCount != 1 {
		t.Errorf("primitive section = %d/%d", m.PrimitiveOffset, m.PrimitiveCount)
	}
	if m.GridOffset != 200 || m.GridWidth != b.GridWidth() || m.GridHeight != b.GridHeight() {
		t.Errorf("grid section = %+v", m)
	}
	if m.GlyphOffset != 300 || m.GlyphCount != 1 {
		t.Errorf("glyph section = %d/%d", m.GlyphOffset, m.GlyphCount)
	}
	if m.SceneMaxX != 100 || m.SceneMaxY != 50 {
		t.Errorf("scene bounds = %v,%v", m.SceneMaxX, m.SceneMaxY)
	}
	if m.WidthCells != 80 || m.HeightCells != 24 || m.Flags != FlagShowGrid || m.BgColor != 0xFF112233 {
		t.Errorf("viewport/flags = %+v", m)
	}
}

func TestPrimitiveWordsOffsets(t *testing.T) {
	b := NewIndexBuilder(IndexConfig{})
	b.AddCircle(0, 0, 1, 0xFF, 0, 0, 0)    // 9 words
	b.AddBox(0, 0, 1, 1, 0xFF, 0, 0, 0, 0) // 10 words
	b.AddCircle(5, 5, 1, 0xFF, 0, 0, 0)

	words, offsets := b.PrimitiveWords()
	if len(offsets) != 3 {
		t.Fatalf("offsets = %v", offsets)
	}
	if offsets[0] != 0 || offsets[1] != 9 || offsets[2] != 19 {
		t.Errorf("offsets = %v, want [0 9 19]", offsets)
	}
	if len(words) != 28 {
		t.Errorf("total words = %d, want 28", len(words))
	}
	if words[offsets[1]] != uint32(TypeBox) {
		t.Error("box record does not start at its offset")
	}
}
