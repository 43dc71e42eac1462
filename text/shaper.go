package text

import (
	"bytes"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"sync/atomic"

	"github.com/go-text/typesetting/di"
	"github.com/go-text/typesetting/font"
	"github.com/go-text/typesetting/language"
	"github.com/go-text/typesetting/shaping"
	"golang.org/x/image/math/fixed"

	"github.com/gogpu/cardkit/cache"
)

// ErrBadFont is returned when font data cannot be parsed.
var ErrBadFont = errors.New("text: cannot parse font data")

// Direction is the primary text direction of a run.
type Direction uint8

// Directions.
const (
	DirectionLTR Direction = iota
	DirectionRTL
)

// Font wraps a parsed font. The parsed form is read-only and safe for
// concurrent use; per-shape font.Face instances are created on demand.
type Font struct {
	parsed *font.Font
	id     uint64
}

var fontIDCounter atomic.Uint64

// LoadFont parses TTF or OTF font data.
func LoadFont(data []byte) (*Font, error) {
	face, err := font.ParseTTF(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFont, err)
	}
	return &Font{parsed: face.Font, id: fontIDCounter.Add(1)}, nil
}

// ShapedGlyph is one glyph positioned by the shaper, in pixels relative
// to the run origin.
type ShapedGlyph struct {
	// GID is the font glyph index.
	GID uint16

	// Cluster is the byte-cluster index of the source rune.
	Cluster int

	// X, Y position the glyph origin.
	X, Y float64

	// XAdvance is the pen advance after this glyph.
	XAdvance float64
}

// ShapeKey identifies a shaping result for cache lookups.
type ShapeKey struct {
	TextHash uint64
	FontID   uint64
	SizeBits uint64
	Dir      Direction
}

func shapeKeyHash(k ShapeKey) uint64 {
	return k.TextHash ^ k.FontID<<1 ^ k.SizeBits>>3 ^ uint64(k.Dir)
}

// Shaper shapes text runs through HarfBuzz and caches results by text,
// font, size and direction. A Shaper is safe for concurrent use; the
// underlying shaping.HarfbuzzShaper instances are not, so they are
// pooled. Cached slices are shared between callers and must not be
// mutated.
type Shaper struct {
	pool  sync.Pool
	cache *cache.Sharded[ShapeKey, []ShapedGlyph]
}

// NewShaper creates a Shaper.
func NewShaper() *Shaper {
	return &Shaper{
		pool: sync.Pool{
			New: func() any { return &shaping.HarfbuzzShaper{} },
		},
		cache: cache.NewSharded[ShapeKey, []ShapedGlyph](0, shapeKeyHash),
	}
}

// CacheStats reports the hit and eviction counters of the shaping cache.
func (s *Shaper) CacheStats() cache.Stats {
	return s.cache.Stats()
}

// Shape converts a single-script run into positioned glyphs at the given
// pixel size. The returned slice may be shared with other callers and
// must be treated as read-only.
func (s *Shaper) Shape(f *Font, str string, size float64, dir Direction) []ShapedGlyph {
	if f == nil || str == "" {
		return nil
	}
	key := ShapeKey{
		TextHash: hashString(str),
		FontID:   f.id,
		SizeBits: math.Float64bits(size),
		Dir:      dir,
	}
	if glyphs, ok := s.cache.Get(key); ok {
		return glyphs
	}
	glyphs := s.shape(f, str, size, dir)
	s.cache.Set(key, glyphs)
	return glyphs
}

func (s *Shaper) shape(f *Font, str string, size float64, dir Direction) []ShapedGlyph {
	runes := []rune(str)
	input := shaping.Input{
		Text:      runes,
		RunStart:  0,
		RunEnd:    len(runes),
		Direction: mapDirection(dir),
		Face:      font.NewFace(f.parsed),
		Size:      fixed.Int26_6(size * 64),
		Script:    detectScript(runes),
		Language:  language.NewLanguage("en"),
	}
	hb := s.pool.Get().(*shaping.HarfbuzzShaper)
	out := hb.Shape(input)
	s.pool.Put(hb)

	glyphs := make([]ShapedGlyph, len(out.Glyphs))
	var x float64
	for i, g := range out.Glyphs {
		adv := fixedToFloat(g.Advance)
		glyphs[i] = ShapedGlyph{
			GID:      uint16(g.GlyphID),
			Cluster:  g.TextIndex(),
			X:        x + fixedToFloat(g.XOffset),
			Y:        fixedToFloat(g.YOffset),
			XAdvance: adv,
		}
		x += adv
	}
	return glyphs
}

func mapDirection(d Direction) di.Direction {
	if d == DirectionRTL {
		return di.DirectionRTL
	}
	return di.DirectionLTR
}

// detectScript returns the script of the first non-space rune. Callers
// shaping mixed-script text should split runs by script first.
func detectScript(runes []rune) language.Script {
	for _, r := range runes {
		switch r {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return language.LookupScript(r)
	}
	return language.Latin
}

func fixedToFloat(v fixed.Int26_6) float64 {
	return float64(v) / 64.0
}

func hashString(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
