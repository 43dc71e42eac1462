package scene

import (
	"log/slog"
	"math"
)

// GlyphBit tags a grid entry as a glyph index rather than a primitive
// index.
const GlyphBit = 0x80000000

// Grid sizing parameters.
const (
	// maxGridDim caps each grid axis; past this the cell size is widened
	// instead.
	maxGridDim = 512

	// minCellsTarget and maxCellsTarget bound the auto cell size: at most
	// 65536 cells, at least 16.
	minCellsTarget = 16
	maxCellsTarget = 65536
)

// IndexConfig configures an IndexBuilder.
type IndexConfig struct {
	// Logger receives structured logs. Defaults to a discard logger.
	Logger *slog.Logger
}

// IndexBuilder accumulates a card's primitives and glyphs, then computes
// scene bounds and a shader-queryable spatial grid.
//
// The grid layout is one u32 offset per cell followed by packed
// variable-length cell records: [offsets...][count, entries...]... Each
// entry is a primitive index, or a glyph index tagged with GlyphBit.
//
// Typical frame flow: Clear, Add*, Calculate, then read Grid, bounds, and
// the serialized words for upload.
type IndexBuilder struct {
	prims  []Primitive
	glyphs []Glyph
	grid   []uint32

	gridW, gridH uint32

	sceneMinX, sceneMinY float32
	sceneMaxX, sceneMaxY float32
	explicitBounds       bool

	cellSize     float32 // configured; 0 = auto
	computedCell float32

	flags   uint32
	bgColor uint32

	// sorted holds glyph indices in reading order; built lazily by
	// BuildSortedOrder.
	sorted []uint32

	log *slog.Logger
}

// NewIndexBuilder creates an empty builder.
func NewIndexBuilder(cfg IndexConfig) *IndexBuilder {
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &IndexBuilder{
		sceneMaxX: 100,
		sceneMaxY: 100,
		log:       log,
	}
}

// Clear drops all content and derived state. Explicit bounds, flags, and
// the configured cell size survive.
func (b *IndexBuilder) Clear() {
	b.prims = b.prims[:0]
	b.glyphs = b.glyphs[:0]
	b.grid = b.grid[:0]
	b.gridW, b.gridH = 0, 0
	b.computedCell = 0
	b.sorted = nil
}

// AddPrimitive computes the primitive's AABB and appends it, returning
// its index.
func (b *IndexBuilder) AddPrimitive(p Primitive) uint32 {
	ComputeAABB(&p)
	b.prims = append(b.prims, p)
	return uint32(len(b.prims) - 1)
}

// AddCircle appends a circle primitive.
func (b *IndexBuilder) AddCircle(cx, cy, r float32, fill, stroke uint32, strokeWidth float32, layer uint32) uint32 {
	return b.AddPrimitive(Primitive{
		Type: TypeCircle, Layer: layer,
		Params:    [MaxParams]float32{cx, cy, r},
		FillColor: fill, StrokeColor: stroke, StrokeWidth: strokeWidth,
	})
}

// AddBox appends a box primitive with half extents.
func (b *IndexBuilder) AddBox(cx, cy, hw, hh float32, fill, stroke uint32, strokeWidth, round float32, layer uint32) uint32 {
	return b.AddPrimitive(Primitive{
		Type: TypeBox, Layer: layer,
		Params:    [MaxParams]float32{cx, cy, hw, hh},
		FillColor: fill, StrokeColor: stroke, StrokeWidth: strokeWidth, Round: round,
	})
}

// AddSegment appends a stroked line segment.
func (b *IndexBuilder) AddSegment(x0, y0, x1, y1 float32, stroke uint32, strokeWidth float32, layer uint32) uint32 {
	return b.AddPrimitive(Primitive{
		Type: TypeSegment, Layer: layer,
		Params:      [MaxParams]float32{x0, y0, x1, y1},
		StrokeColor: stroke, StrokeWidth: strokeWidth,
	})
}

// AddBezier2 appends a stroked quadratic bezier.
func (b *IndexBuilder) AddBezier2(x0, y0, x1, y1, x2, y2 float32, stroke uint32, strokeWidth float32, layer uint32) uint32 {
	return b.AddPrimitive(Primitive{
		Type: TypeBezier2, Layer: layer,
		Params:      [MaxParams]float32{x0, y0, x1, y1, x2, y2},
		StrokeColor: stroke, StrokeWidth: strokeWidth,
	})
}

// AddGlyph appends a packed glyph instance, returning its index.
func (b *IndexBuilder) AddGlyph(g Glyph) uint32 {
	b.glyphs = append(b.glyphs, g)
	return uint32(len(b.glyphs) - 1)
}

// PrimitiveCount returns the number of staged primitives.
func (b *IndexBuilder) PrimitiveCount() uint32 { return uint32(len(b.prims)) }

// GlyphCount returns the number of staged glyphs.
func (b *IndexBuilder) GlyphCount() uint32 { return uint32(len(b.glyphs)) }

// Primitives returns the staged primitives. The slice is live until the
// next Clear.
func (b *IndexBuilder) Primitives() []Primitive { return b.prims }

// Glyphs returns the staged glyphs. The slice is live until the next
// Clear; selection flags are edited in place.
func (b *IndexBuilder) Glyphs() []Glyph { return b.glyphs }

// SetSceneBounds fixes the scene rectangle instead of deriving it from
// content.
func (b *IndexBuilder) SetSceneBounds(minX, minY, maxX, maxY float32) {
	b.sceneMinX, b.sceneMinY = minX, minY
	b.sceneMaxX, b.sceneMaxY = maxX, maxY
	b.explicitBounds = true
}

// HasExplicitBounds reports whether bounds were fixed by the caller.
func (b *IndexBuilder) HasExplicitBounds() bool { return b.explicitBounds }

// SceneBounds returns the scene rectangle, derived or explicit.
func (b *IndexBuilder) SceneBounds() (minX, minY, maxX, maxY float32) {
	return b.sceneMinX, b.sceneMinY, b.sceneMaxX, b.sceneMaxY
}

// SetCellSize fixes the grid cell size. Zero restores auto sizing.
func (b *IndexBuilder) SetCellSize(size float32) { b.cellSize = size }

// CellSize returns the effective cell size from the last Calculate.
func (b *IndexBuilder) CellSize() float32 { return b.computedCell }

// SetFlags replaces the scene flag bits.
func (b *IndexBuilder) SetFlags(flags uint32) { b.flags = flags }

// AddFlags ors in scene flag bits.
func (b *IndexBuilder) AddFlags(flags uint32) { b.flags |= flags }

// Flags returns the scene flag bits.
func (b *IndexBuilder) Flags() uint32 { return b.flags }

// SetBgColor sets the card background color.
func (b *IndexBuilder) SetBgColor(c uint32) { b.bgColor = c }

// BgColor returns the card background color.
func (b *IndexBuilder) BgColor() uint32 { return b.bgColor }

// GridWidth returns the grid cell count on X from the last Calculate.
func (b *IndexBuilder) GridWidth() uint32 { return b.gridW }

// GridHeight returns the grid cell count on Y from the last Calculate.
func (b *IndexBuilder) GridHeight() uint32 { return b.gridH }

// Grid returns the packed grid words from the last Calculate.
func (b *IndexBuilder) Grid() []uint32 { return b.grid }

// Calculate computes scene bounds (unless explicit) and rebuilds the
// spatial grid. Call after all content is staged and before reading any
// derived state.
func (b *IndexBuilder) Calculate() {
	if !b.explicitBounds {
		b.computeBounds()
	}

	sceneW := b.sceneMaxX - b.sceneMinX
	sceneH := b.sceneMaxY - b.sceneMinY

	var gridW, gridH uint32
	cs := b.cellSize

	num2D := 0
	for i := range b.prims {
		if b.prims[i].Type < type3DThreshold {
			num2D++
		}
	}

	if num2D > 0 || len(b.glyphs) > 0 {
		sceneArea := sceneW * sceneH
		if cs <= 0 {
			if num2D > 0 {
				var avgArea float32
				for i := range b.prims {
					p := &b.prims[i]
					if p.Type >= type3DThreshold {
						continue
					}
					avgArea += (p.AABBMaxX - p.AABBMinX) * (p.AABBMaxY - p.AABBMinY)
				}
				avgArea /= float32(num2D)
				cs = sqrt32(avgArea) * 1.5
			} else {
				var avgH float32
				for i := range b.glyphs {
					avgH += b.glyphs[i].Height()
				}
				avgH /= float32(len(b.glyphs))
				cs = avgH * 2
			}
			minCell := sqrt32(sceneArea / maxCellsTarget)
			maxCell := sqrt32(sceneArea / minCellsTarget)
			if cs < minCell {
				cs = minCell
			}
			if cs > maxCell {
				cs = maxCell
			}
		}
		if cs <= 0 {
			cs = 1
		}
		gridW = ceilDiv(sceneW, cs)
		gridH = ceilDiv(sceneH, cs)
		if gridW > maxGridDim {
			gridW = maxGridDim
			cs = sceneW / float32(gridW)
		}
		if gridH > maxGridDim {
			gridH = maxGridDim
			if h := sceneH / float32(gridH); h > cs {
				cs = h
			}
		}
	}

	b.gridW, b.gridH = gridW, gridH
	b.computedCell = cs
	b.fillGrid()

	b.log.Debug("spatial index built",
		"prims", num2D, "glyphs", len(b.glyphs),
		"grid", gridW*gridH, "cellSize", cs)
}

func (b *IndexBuilder) computeBounds() {
	b.sceneMinX, b.sceneMinY = 1e10, 1e10
	b.sceneMaxX, b.sceneMaxY = -1e10, -1e10
	for i := range b.prims {
		p := &b.prims[i]
		if p.Type >= type3DThreshold {
			continue
		}
		b.sceneMinX = min2(b.sceneMinX, p.AABBMinX)
		b.sceneMinY = min2(b.sceneMinY, p.AABBMinY)
		b.sceneMaxX = max2(b.sceneMaxX, p.AABBMaxX)
		b.sceneMaxY = max2(b.sceneMaxY, p.AABBMaxY)
	}
	for i := range b.glyphs {
		g := &b.glyphs[i]
		b.sceneMinX = min2(b.sceneMinX, g.X)
		b.sceneMinY = min2(b.sceneMinY, g.Y)
		b.sceneMaxX = max2(b.sceneMaxX, g.X+g.Width())
		b.sceneMaxY = max2(b.sceneMaxY, g.Y+g.Height())
	}

	padX := (b.sceneMaxX - b.sceneMinX) * 0.05
	padY := (b.sceneMaxY - b.sceneMinY) * 0.05
	b.sceneMinX -= padX
	b.sceneMinY -= padY
	b.sceneMaxX += padX
	b.sceneMaxY += padY

	if b.sceneMinX >= b.sceneMaxX {
		b.sceneMinX, b.sceneMaxX = 0, 100
	}
	if b.sceneMinY >= b.sceneMaxY {
		b.sceneMinY, b.sceneMaxY = 0, 100
	}
}

// cellRange maps an AABB to the inclusive cell rectangle it touches.
func (b *IndexBuilder) cellRange(minX, minY, maxX, maxY float32) (cMinX, cMaxX, cMinY, cMaxY uint32) {
	cs := b.computedCell
	clampCell := func(v float32, dim uint32) uint32 {
		if v < 0 || math.IsNaN(float64(v)) {
			return 0
		}
		if v > float32(dim-1) {
			return dim - 1
		}
		return uint32(v)
	}
	cMinX = clampCell((minX-b.sceneMinX)/cs, b.gridW)
	cMaxX = clampCell((maxX-b.sceneMinX)/cs, b.gridW)
	cMinY = clampCell((minY-b.sceneMinY)/cs, b.gridH)
	cMaxY = clampCell((maxY-b.sceneMinY)/cs, b.gridH)
	return
}

func (b *IndexBuilder) fillGrid() {
	numCells := b.gridW * b.gridH
	if numCells == 0 {
		b.grid = b.grid[:0]
		return
	}

	// Pass 1: entries per cell.
	counts := make([]uint32, numCells)
	forEach := func(visit func(idx uint32, entry uint32)) {
		for i := range b.prims {
			p := &b.prims[i]
			if p.Type >= type3DThreshold {
				continue
			}
			visit(uint32(i), uint32(i))
		}
		for i := range b.glyphs {
			visit(uint32(len(b.prims)+i), uint32(i)|GlyphBit)
		}
	}
	bounds := func(idx uint32) (float32, float32, float32, float32) {
		if idx < uint32(len(b.prims)) {
			p := &b.prims[idx]
			return p.AABBMinX, p.AABBMinY, p.AABBMaxX, p.AABBMaxY
		}
		g := &b.glyphs[idx-uint32(len(b.prims))]
		return g.X, g.Y, g.X + g.Width(), g.Y + g.Height()
	}

	forEach(func(idx, _ uint32) {
		minX, minY, maxX, maxY := bounds(idx)
		cMinX, cMaxX, cMinY, cMaxY := b.cellRange(minX, minY, maxX, maxY)
		for cy := cMinY; cy <= cMaxY; cy++ {
			for cx := cMinX; cx <= cMaxX; cx++ {
				counts[cy*b.gridW+cx]++
			}
		}
	})

	// Offset table, then zeroed packed counts.
	pos := numCells
	if cap(b.grid) < int(numCells) {
		b.grid = make([]uint32, numCells)
	} else {
		b.grid = b.grid[:numCells]
	}
	for i := uint32(0); i < numCells; i++ {
		b.grid[i] = pos
		pos += 1 + counts[i]
	}
	for uint32(len(b.grid)) < pos {
		b.grid = append(b.grid, 0)
	}
	b.grid = b.grid[:pos]
	for i := uint32(0); i < numCells; i++ {
		b.grid[b.grid[i]] = 0
	}

	// Pass 2: fill entries in staging order, primitives before glyphs.
	forEach(func(idx, entry uint32) {
		minX, minY, maxX, maxY := bounds(idx)
		cMinX, cMaxX, cMinY, cMaxY := b.cellRange(minX, minY, maxX, maxY)
		for cy := cMinY; cy <= cMaxY; cy++ {
			for cx := cMinX; cx <= cMaxX; cx++ {
				off := b.grid[cy*b.gridW+cx]
				cnt := b.grid[off]
				b.grid[off+1+cnt] = entry
				b.grid[off] = cnt + 1
			}
		}
	})
}

// CellAt maps a scene position to grid cell coordinates. ok is false when
// the position is outside the scene bounds or no grid exists.
func (b *IndexBuilder) CellAt(x, y float32) (cx, cy uint32, ok bool) {
	if b.gridW == 0 || b.gridH == 0 {
		return 0, 0, false
	}
	if x < b.sceneMinX || x > b.sceneMaxX || y < b.sceneMinY || y > b.sceneMaxY {
		return 0, 0, false
	}
	cMinX, _, cMinY, _ := b.cellRange(x, y, x, y)
	return cMinX, cMinY, true
}

// Query returns the grid entries whose AABBs cover the given scene
// position, walking the packed layout exactly as the shader does. The
// returned slice aliases the grid.
func (b *IndexBuilder) Query(x, y float32) []uint32 {
	cx, cy, ok := b.CellAt(x, y)
	if !ok {
		return nil
	}
	off := b.grid[cy*b.gridW+cx]
	cnt := b.grid[off]
	return b.grid[off+1 : off+1+cnt]
}

// DecodeEntry splits a grid entry into its index and kind.
func DecodeEntry(e uint32) (idx uint32, isGlyph bool) {
	return e &^ GlyphBit, e&GlyphBit != 0
}

// BuildMetadata assembles the card metadata record for the current grid,
// given the word offsets the coordinator allocated for each section.
func (b *IndexBuilder) BuildMetadata(primOffset, gridOffset, glyphOffset, widthCells, heightCells uint32) Metadata {
	return Metadata{
		PrimitiveOffset: primOffset,
		PrimitiveCount:  uint32(len(b.prims)),
		GridOffset:      gridOffset,
		GridWidth:       b.gridW,
		GridHeight:      b.gridH,
		CellSize:        b.computedCell,
		GlyphOffset:     glyphOffset,
		GlyphCount:      uint32(len(b.glyphs)),
		SceneMinX:       b.sceneMinX,
		SceneMinY:       b.sceneMinY,
		SceneMaxX:       b.sceneMaxX,
		SceneMaxY:       b.sceneMaxY,
		WidthCells:      widthCells,
		HeightCells:     heightCells,
		Flags:           b.flags,
		BgColor:         b.bgColor,
	}
}

// PrimitiveWords serializes every primitive back to back and returns the
// words plus each primitive's starting word offset.
func (b *IndexBuilder) PrimitiveWords() (words []uint32, offsets []uint32) {
	offsets = make([]uint32, len(b.prims))
	for i := range b.prims {
		offsets[i] = uint32(len(words))
		words = b.prims[i].AppendWords(words)
	}
	return words, offsets
}

// GlyphBytes serializes every glyph record back to back.
func (b *IndexBuilder) GlyphBytes() []byte {
	out := make([]byte, 0, len(b.glyphs)*GlyphRecordSize)
	for i := range b.glyphs {
		out = b.glyphs[i].Encode(out)
	}
	return out
}

func sqrt32(f float32) float32 {
	return float32(math.Sqrt(float64(f)))
}

func ceilDiv(span, cell float32) uint32 {
	n := uint32(math.Ceil(float64(span / cell)))
	if n < 1 {
		return 1
	}
	return n
}
