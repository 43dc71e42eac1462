// Command carddemo drives a set of animated cards through the frame
// lifecycle against the headless adapter and prints resource statistics.
// It exercises the full path: staging, reservation, commit, allocation,
// atlas packing and flush, without needing a GPU.
package main

import (
	"flag"
	"log"
	"log/slog"
	"math"
	"os"

	"github.com/gogpu/cardkit"
	"github.com/gogpu/cardkit/alloc"
	"github.com/gogpu/cardkit/gpucore"
	"github.com/gogpu/cardkit/scene"
)

func main() {
	var (
		cards   = flag.Int("cards", 4, "number of cards")
		frames  = flag.Int("frames", 60, "frames to run")
		verbose = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	cardkit.SetLogger(logger)

	ad := gpucore.NewHeadless()
	rc, err := cardkit.NewResourceCoordinator(cardkit.CoordinatorConfig{Adapter: ad})
	if err != nil {
		log.Fatalf("coordinator: %v", err)
	}
	defer rc.Release()

	eng, err := cardkit.NewEngine(cardkit.EngineConfig{Coordinator: rc, Logger: logger})
	if err != nil {
		log.Fatalf("engine: %v", err)
	}

	for i := 0; i < *cards; i++ {
		card, err := newDemoCard(rc, i)
		if err != nil {
			log.Fatalf("card %d: %v", i, err)
		}
		if err := eng.Add(card.name, card); err != nil {
			log.Fatalf("add %s: %v", card.name, err)
		}
	}

	for f := 0; f < *frames; f++ {
		rc.SetUniforms(cardkit.Uniforms{
			ViewportWidth:  1280,
			ViewportHeight: 720,
			CellWidth:      10,
			CellHeight:     20,
			Zoom:           1,
			TimeSec:        float32(f) / 60,
			AtlasSize:      float32(rc.Atlas().Size()),
			PixelRatio:     1,
		})
		if err := eng.RunFrame(); err != nil {
			log.Fatalf("frame %d: %v", f, err)
		}
	}

	buf := rc.Buffer().Stats()
	meta := rc.Metadata().Stats()
	atl := rc.Atlas().Stats()
	logger.Info("run complete",
		"frames", eng.Frame(),
		"linear_used", buf.Used,
		"linear_capacity", buf.Capacity,
		"allocs", buf.Allocs,
		"metadata_slots", meta.Used,
		"atlas_size", atl.Size,
		"atlas_packs", atl.PackCount,
		"atlas_utilization", atl.Utilization,
	)
}

// demoCard renders a ring of circles orbiting a rounded box, rebuilt each
// frame. The orbit radius grows over time so the card periodically needs
// a larger footprint and forces a realloc frame.
type demoCard struct {
	name  string
	seed  int
	frame int

	meta   alloc.MetadataHandle
	handle alloc.BufferHandle

	builder *scene.IndexBuilder
	encoded []byte
	lastLen int
	dirty   bool
}

func newDemoCard(rc *cardkit.ResourceCoordinator, seed int) (*demoCard, error) {
	h, err := rc.AllocateMetadata(scene.MetadataRecordSize)
	if err != nil {
		return nil, err
	}
	return &demoCard{
		name:    "card-" + string(rune('a'+seed)),
		seed:    seed,
		meta:    h,
		builder: scene.NewIndexBuilder(scene.IndexConfig{}),
	}, nil
}

func (c *demoCard) Stage() error {
	c.frame++
	b := c.builder
	b.Clear()
	b.SetSceneBounds(0, 0, 320, 240)
	b.SetBgColor(0xFF101018)

	b.AddBox(160, 120, 60, 40, 0xFF3050C0, 0xFFFFFFFF, 2, 8, 0)

	// Satellite count ramps up, changing the footprint every few frames.
	count := 3 + (c.frame/16)%5
	radius := float32(80 + 10*c.seed)
	for i := 0; i < count; i++ {
		angle := float64(i)/float64(count)*2*math.Pi + float64(c.frame)*0.05
		cx := 160 + radius*float32(math.Cos(angle))
		cy := 120 + radius*float32(math.Sin(angle))
		b.AddCircle(cx, cy, 12, 0xFF40C040, 0, 0, 1)
	}
	b.Calculate()

	c.encoded = c.encode()
	c.dirty = true
	return nil
}

// encode lays out the card's linear region: primitive offset table,
// primitive words, grid, then glyph records.
func (c *demoCard) encode() []byte {
	words, offsets := c.builder.PrimitiveWords()
	grid := c.builder.Grid()

	out := make([]uint32, 0, len(offsets)+len(words)+len(grid))
	out = append(out, offsets...)
	out = append(out, words...)
	out = append(out, grid...)

	buf := make([]byte, 0, len(out)*4+int(c.builder.GlyphCount())*scene.GlyphRecordSize)
	for _, w := range out {
		buf = append(buf, byte(w), byte(w>>8), byte(w>>16), byte(w>>24))
	}
	return append(buf, c.builder.GlyphBytes()...)
}

func (c *demoCard) NeedsBufferRealloc() bool  { return len(c.encoded) != c.lastLen }
func (c *demoCard) NeedsTextureRealloc() bool { return false }

func (c *demoCard) DeclareBuffers(rc *cardkit.ResourceCoordinator) {
	rc.Reserve(uint32(len(c.encoded)))
}

func (c *demoCard) AllocateBuffers(rc *cardkit.ResourceCoordinator) error {
	h, err := rc.AllocateBuffer(c.MetadataSlot(), "content", uint32(len(c.encoded)))
	if err != nil {
		return err
	}
	c.handle = h
	c.lastLen = len(c.encoded)
	return nil
}

func (c *demoCard) AllocateTextures(rc *cardkit.ResourceCoordinator) error { return nil }
func (c *demoCard) WriteTextures(rc *cardkit.ResourceCoordinator) error    { return nil }

func (c *demoCard) Finalize(rc *cardkit.ResourceCoordinator) error {
	if !c.dirty {
		return nil
	}
	if err := rc.Buffer().Write(c.handle, c.encoded); err != nil {
		return err
	}

	base := c.handle.Offset / 4
	words, _ := c.builder.PrimitiveWords()
	gridOff := base + c.builder.PrimitiveCount() + uint32(len(words))
	glyphOff := gridOff + uint32(len(c.builder.Grid()))

	md := c.builder.BuildMetadata(base, gridOff, glyphOff, 32, 12)
	if err := rc.WriteMetadata(c.meta, md.Encode(nil)); err != nil {
		return err
	}
	c.dirty = false
	return nil
}

func (c *demoCard) Suspend(rc *cardkit.ResourceCoordinator) {
	c.handle = alloc.InvalidBufferHandle()
	c.lastLen = 0
}

func (c *demoCard) Dispose(rc *cardkit.ResourceCoordinator) {
	rc.ReleaseMetadata(c.meta)
}

func (c *demoCard) MetadataSlot() uint32 { return c.meta.SlotIndex() }
