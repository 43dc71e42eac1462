package atlas

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sort"

	"golang.org/x/image/draw"

	"github.com/gogpu/cardkit/gpucore"
)

// Atlas-related errors.
var (
	// ErrAtlasOverflow is returned when a linked rectangle cannot fit even
	// after growing the atlas to its maximum dimension. Recoverable: the
	// caller should shrink the request or skip that widget's content.
	ErrAtlasOverflow = errors.New("atlas: content does not fit at maximum atlas size")

	// ErrUnknownHandle is returned for handles the manager never issued
	// or has already released.
	ErrUnknownHandle = errors.New("atlas: unknown handle")

	// ErrNotLinked is returned when an operation needs pixel data but the
	// handle has none linked.
	ErrNotLinked = errors.New("atlas: handle has no linked pixel data")

	// ErrNotPacked is returned when a position or write is requested
	// before Pack has assigned a layout.
	ErrNotPacked = errors.New("atlas: no valid layout (call Pack first)")

	// ErrSizeMismatch is returned when linked pixel data does not match
	// the declared dimensions.
	ErrSizeMismatch = errors.New("atlas: pixel data does not match dimensions")
)

// Atlas sizing defaults. The atlas is always square and grows by doubling.
const (
	// DefaultAtlasSize is the initial atlas dimension.
	DefaultAtlasSize = 2048

	// MaxAtlasSize is the largest dimension the atlas may grow to.
	MaxAtlasSize = 8192

	// shelfPadding is the gap kept between packed rectangles and shelves,
	// so bilinear sampling never bleeds across neighbors.
	shelfPadding = 1
)

// Handle identifies a rectangle of texture content. Handles carry no
// position; positions exist only between one Pack call and the next.
type Handle uint32

// InvalidHandle is the zero Handle. The manager never issues it.
const InvalidHandle Handle = 0

// Position is a placement assigned by Pack. It is invalidated by any
// subsequent Pack that changes the layout.
type Position struct {
	X int
	Y int
}

// Stats reports atlas occupancy for debug dumps.
type Stats struct {
	Size        int     // current atlas dimension (square)
	Handles     int     // live handles
	Linked      int     // handles with pixel data
	Placed      int     // handles with a valid position
	PackCount   int     // completed Pack calls
	Utilization float64 // placed pixel area / atlas area
}

type entry struct {
	id     Handle
	width  int
	height int
	pixels []byte // RGBA8, width*height*4
	linked bool
	pos    Position
	placed bool
}

// Config configures a Manager. The zero value is usable.
type Config struct {
	// InitialSize is the starting atlas dimension. Defaults to
	// DefaultAtlasSize.
	InitialSize int

	// MaxSize caps atlas growth. Defaults to MaxAtlasSize.
	MaxSize int

	// Label names the GPU texture in debug output.
	Label string

	// Logger receives structured logs. Defaults to a discard logger.
	Logger *slog.Logger
}

// Manager packs card texture content into one shared atlas texture.
//
// The lifecycle per handle is Allocate, Link, Pack, Write. Pack assigns
// every linked handle a position; Write copies the linked pixels into
// the assigned region of the GPU texture. Positions returned before a
// Pack, or after a later Pack, are meaningless.
//
// A Manager is confined to the frame thread.
type Manager struct {
	size    int
	maxSize int
	label   string
	log     *slog.Logger

	entries map[Handle]*entry
	nextID  Handle

	packed      bool
	needsRepack bool
	packCount   int

	texID    gpucore.TextureID
	texSize  int
	replaced bool
}

// NewManager creates an atlas manager.
func NewManager(cfg Config) *Manager {
	size := cfg.InitialSize
	if size <= 0 {
		size = DefaultAtlasSize
	}
	maxSize := cfg.MaxSize
	if maxSize < size {
		maxSize = MaxAtlasSize
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		size:    size,
		maxSize: maxSize,
		label:   cfg.Label,
		log:     log,
		entries: make(map[Handle]*entry),
	}
}

// Allocate issues a fresh handle with no content and no position.
func (m *Manager) Allocate() Handle {
	m.nextID++
	h := m.nextID
	m.entries[h] = &entry{id: h}
	return h
}

// Link attaches RGBA8 pixel data to a handle. len(pixels) must equal
// width*height*4. Relinking with a different size forces a repack.
func (m *Manager) Link(h Handle, pixels []byte, width, height int) error {
	e, ok := m.entries[h]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	if width <= 0 || height <= 0 || len(pixels) != width*height*4 {
		return fmt.Errorf("%w: %dx%d with %d bytes", ErrSizeMismatch, width, height, len(pixels))
	}
	resized := !e.linked || e.width != width || e.height != height
	e.pixels = pixels
	e.width = width
	e.height = height
	e.linked = true
	if resized {
		e.placed = false
		m.needsRepack = true
	}
	return nil
}

// LinkImage converts an arbitrary image to RGBA8 and links it.
func (m *Manager) LinkImage(h Handle, img image.Image) error {
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return m.Link(h, rgba.Pix, b.Dx(), b.Dy())
}

// Release discards a handle. Its atlas region becomes reclaimable at the
// next Pack.
func (m *Manager) Release(h Handle) error {
	e, ok := m.entries[h]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	if e.linked {
		m.needsRepack = true
	}
	delete(m.entries, h)
	return nil
}

// InvalidateAll drops every assigned position, forcing a full repack.
func (m *Manager) InvalidateAll() {
	for _, e := range m.entries {
		e.placed = false
	}
	m.packed = false
	m.needsRepack = true
}

// NeedsRepack reports whether linkage changed since the last Pack.
func (m *Manager) NeedsRepack() bool {
	return m.needsRepack || !m.packed
}

// Size returns the current atlas dimension. The atlas is square.
func (m *Manager) Size() int {
	return m.size
}

// Pack assigns a position to every linked handle.
//
// Packing is shelf-based over handles sorted by decreasing height, then
// decreasing width, then ascending handle id. The sort key is total, so
// identical linkage input always produces identical positions. If the
// content does not fit, the atlas doubles in size up to MaxSize; growth
// reassigns every position. Content that cannot fit even at MaxSize
// yields ErrAtlasOverflow and leaves the previous layout untouched.
func (m *Manager) Pack() error {
	ents := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		if e.linked {
			ents = append(ents, e)
		}
	}
	sort.Slice(ents, func(i, j int) bool {
		a, b := ents[i], ents[j]
		if a.height != b.height {
			return a.height > b.height
		}
		if a.width != b.width {
			return a.width > b.width
		}
		return a.id < b.id
	})

	for _, e := range ents {
		if e.width+shelfPadding > m.maxSize || e.height+shelfPadding > m.maxSize {
			return fmt.Errorf("%w: %dx%d (max %d)", ErrAtlasOverflow, e.width, e.height, m.maxSize)
		}
	}

	size := m.size
	for {
		if m.packInto(ents, size) {
			break
		}
		if size >= m.maxSize {
			return fmt.Errorf("%w: %d rectangles (max %d)", ErrAtlasOverflow, len(ents), m.maxSize)
		}
		size *= 2
		if size > m.maxSize {
			size = m.maxSize
		}
	}

	if size != m.size {
		m.log.Info("atlas grown", "from", m.size, "to", size)
		m.size = size
	}
	m.packed = true
	m.needsRepack = false
	m.packCount++
	m.log.Debug("atlas packed", "handles", len(ents), "size", m.size)
	return nil
}

// packInto tries a trial placement at the given dimension. Positions are
// committed only on success.
func (m *Manager) packInto(ents []*entry, size int) bool {
	pos := make([]Position, len(ents))
	x, y, shelfH := 0, 0, 0
	for i, e := range ents {
		pw := e.width + shelfPadding
		ph := e.height + shelfPadding
		if x+pw > size {
			y += shelfH
			x = 0
			shelfH = 0
		}
		if x+pw > size || y+ph > size {
			return false
		}
		pos[i] = Position{X: x, Y: y}
		x += pw
		if ph > shelfH {
			shelfH = ph
		}
	}
	for i, e := range ents {
		e.pos = pos[i]
		e.placed = true
	}
	return true
}

// Position returns the placement assigned by the most recent Pack.
func (m *Manager) Position(h Handle) (Position, error) {
	e, ok := m.entries[h]
	if !ok {
		return Position{}, fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	if !m.packed || !e.placed {
		return Position{}, ErrNotPacked
	}
	return e.pos, nil
}

// Write copies one handle's linked pixels into its atlas region,
// recreating the GPU texture first if the atlas grew.
func (m *Manager) Write(ad gpucore.Adapter, h Handle) error {
	e, ok := m.entries[h]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	if !e.linked {
		return fmt.Errorf("%w: %d", ErrNotLinked, h)
	}
	if !m.packed || !e.placed {
		return ErrNotPacked
	}
	if err := m.ensureTexture(ad); err != nil {
		return err
	}
	ad.WriteTexture(m.texID, e.pos.X, e.pos.Y, e.width, e.height, e.pixels)
	return nil
}

// WriteAll copies every linked handle's pixels into the atlas.
func (m *Manager) WriteAll(ad gpucore.Adapter) error {
	if !m.packed {
		return ErrNotPacked
	}
	if err := m.ensureTexture(ad); err != nil {
		return err
	}
	for _, e := range m.entries {
		if !e.linked || !e.placed {
			continue
		}
		ad.WriteTexture(m.texID, e.pos.X, e.pos.Y, e.width, e.height, e.pixels)
	}
	return nil
}

func (m *Manager) ensureTexture(ad gpucore.Adapter) error {
	if m.texID != gpucore.InvalidID && m.texSize == m.size {
		return nil
	}
	if m.texID != gpucore.InvalidID {
		ad.DestroyTexture(m.texID)
	}
	id, err := ad.CreateTexture(m.size, m.size, gpucore.TextureFormatRGBA8Unorm, m.label)
	if err != nil {
		return fmt.Errorf("atlas: create texture: %w", err)
	}
	m.texID = id
	m.texSize = m.size
	m.replaced = true
	return nil
}

// GPUTexture returns the atlas texture id, or InvalidID before the first
// Write.
func (m *Manager) GPUTexture() gpucore.TextureID {
	return m.texID
}

// Replaced reports whether the GPU texture was recreated since the last
// ClearReplaced; bind groups referencing the atlas must be rebuilt.
func (m *Manager) Replaced() bool {
	return m.replaced
}

// ClearReplaced acknowledges a texture recreation.
func (m *Manager) ClearReplaced() {
	m.replaced = false
}

// ReleaseGPU destroys the atlas texture. CPU-side linkage survives, so a
// later Write recreates and refills it.
func (m *Manager) ReleaseGPU(ad gpucore.Adapter) {
	if m.texID != gpucore.InvalidID {
		ad.DestroyTexture(m.texID)
		m.texID = gpucore.InvalidID
		m.texSize = 0
	}
}

// DebugRGBA renders the packed layout into a size*size*4 RGBA image,
// blitting each placed entry's pixels at its assigned position. Useful
// for presenting the atlas through a host surface.
func (m *Manager) DebugRGBA() []byte {
	out := make([]byte, m.size*m.size*4)
	if !m.packed {
		return out
	}
	for _, e := range m.entries {
		if !e.placed || !e.linked {
			continue
		}
		for row := 0; row < e.height; row++ {
			src := e.pixels[row*e.width*4 : (row+1)*e.width*4]
			dst := ((e.pos.Y+row)*m.size + e.pos.X) * 4
			copy(out[dst:dst+e.width*4], src)
		}
	}
	return out
}

// Stats returns occupancy counters.
func (m *Manager) Stats() Stats {
	s := Stats{Size: m.size, Handles: len(m.entries), PackCount: m.packCount}
	area := 0
	for _, e := range m.entries {
		if e.linked {
			s.Linked++
		}
		if e.placed {
			s.Placed++
			area += e.width * e.height
		}
	}
	if m.size > 0 {
		s.Utilization = float64(area) / float64(m.size*m.size)
	}
	return s
}
