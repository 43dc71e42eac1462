package cardkit

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"

	"github.com/gogpu/cardkit/alloc"
	"github.com/gogpu/cardkit/atlas"
	"github.com/gogpu/cardkit/gpucore"
)

// Coordinator errors.
var (
	// ErrNoAdapter is returned by NewResourceCoordinator when no GPU
	// adapter was supplied.
	ErrNoAdapter = errors.New("cardkit: coordinator requires a gpucore adapter")

	// ErrDescriptorIncomplete is returned by BindGroup before the first
	// Flush has created the GPU resources the descriptor refers to.
	ErrDescriptorIncomplete = errors.New("cardkit: descriptor references resources that do not exist yet")
)

// Shader binding indices of the shared card bind group. The compositor
// shader declares the same six bindings; the layout is part of the wire
// contract and never changes at runtime.
const (
	BindingUniforms = 0 // per-frame view uniforms
	BindingMetadata = 1 // per-card descriptor records (alloc.MetadataStore)
	BindingLinear   = 2 // shared linear content region (alloc.Buffer)
	BindingAtlasTex = 3 // glyph/texture atlas view (atlas.Manager)
	BindingSampler  = 4 // linear clamp sampler for the atlas
	BindingPixels   = 5 // raw-pixel companion region for unfiltered reads
)

// UniformsSize is the byte size of the per-frame uniform record.
const UniformsSize = 64

// Default pre-sizes for the two byte regions. Regions still grow on
// demand through the reserve/commit protocol; pre-sizing only avoids the
// first few recreations of their GPU mirrors.
const (
	DefaultBufferCapacity = 256 << 10
	DefaultPixelCapacity  = 256 << 10
)

// Uniforms is the per-frame view state the compositor shader reads at
// binding 0. Encoded as 16 little-endian 32-bit words.
type Uniforms struct {
	ViewportWidth  float32 // framebuffer size in pixels
	ViewportHeight float32
	CellWidth      float32 // terminal cell size in pixels
	CellHeight     float32
	Zoom           float32
	PanX           float32
	PanY           float32
	TimeSec        float32 // animation clock
	AtlasSize      float32 // current atlas edge length in texels
	PixelRatio     float32
}

func (u Uniforms) encode(dst *[UniformsSize]byte) {
	fields := [...]float32{
		u.ViewportWidth, u.ViewportHeight, u.CellWidth, u.CellHeight,
		u.Zoom, u.PanX, u.PanY, u.TimeSec, u.AtlasSize, u.PixelRatio,
	}
	for i, f := range fields {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(f))
	}
	for i := len(fields) * 4; i < UniformsSize; i++ {
		dst[i] = 0
	}
}

// CoordinatorConfig configures a ResourceCoordinator and the three
// allocators it owns.
type CoordinatorConfig struct {
	// Adapter is the GPU backend. Required.
	Adapter gpucore.Adapter

	// BufferCapacity pre-sizes the linear content region in bytes.
	// Zero uses DefaultBufferCapacity.
	BufferCapacity uint32

	// PixelCapacity pre-sizes the raw-pixel companion region in bytes.
	// Zero uses DefaultPixelCapacity.
	PixelCapacity uint32

	// Metadata sets the size-class slot counts. Zero value uses
	// alloc.DefaultMetadataConfig.
	Metadata alloc.MetadataConfig

	// Atlas configures the texture atlas manager.
	Atlas atlas.Config

	// Logger receives coordinator diagnostics. Nil uses the package
	// logger (see SetLogger).
	Logger *slog.Logger
}

// ResourceCoordinator owns the three shared-resource allocators and the
// GPU objects behind each logical binding of the card bind group. Cards
// never talk to the adapter directly; every reservation, allocation and
// upload goes through the coordinator so the frame lifecycle can enforce
// its single-writer ordering.
//
// Flush order is fixed: atlas pack and upload first, then the content
// buffers, then metadata. Packing can change the atlas dimensions that
// finalized metadata encodes, so it must settle before metadata uploads.
type ResourceCoordinator struct {
	ad     gpucore.Adapter
	buf    *alloc.Buffer
	pixels *alloc.Buffer
	meta   *alloc.MetadataStore
	atl    *atlas.Manager

	uniforms     [UniformsSize]byte
	uniformDirty bool
	uniformID    gpucore.BufferID
	samplerID    gpucore.SamplerID

	bindGroup gpucore.BindGroupID
	descDirty bool

	names map[string]uint32

	log *slog.Logger
}

// NewResourceCoordinator builds a coordinator and its allocators.
func NewResourceCoordinator(cfg CoordinatorConfig) (*ResourceCoordinator, error) {
	if cfg.Adapter == nil {
		return nil, ErrNoAdapter
	}
	log := cfg.Logger
	if log == nil {
		log = Logger()
	}
	meta := cfg.Metadata
	if meta.Count32|meta.Count64|meta.Count128|meta.Count256 == 0 {
		meta = alloc.DefaultMetadataConfig()
	}
	meta.Logger = log
	atlCfg := cfg.Atlas
	atlCfg.Logger = log
	bufCap := cfg.BufferCapacity
	if bufCap == 0 {
		bufCap = DefaultBufferCapacity
	}
	pixCap := cfg.PixelCapacity
	if pixCap == 0 {
		pixCap = DefaultPixelCapacity
	}
	return &ResourceCoordinator{
		ad: cfg.Adapter,
		buf: alloc.NewBuffer(alloc.BufferConfig{
			InitialCapacity: bufCap,
			Label:           "card-linear-buffer",
			Logger:          log,
		}),
		pixels: alloc.NewBuffer(alloc.BufferConfig{
			InitialCapacity: pixCap,
			Label:           "card-pixel-buffer",
			Logger:          log,
		}),
		meta:      alloc.NewMetadataStore(meta),
		atl:       atlas.NewManager(atlCfg),
		descDirty: true,
		names:     make(map[string]uint32),
		log:       log,
	}, nil
}

// Adapter returns the GPU backend the coordinator uploads through.
func (rc *ResourceCoordinator) Adapter() gpucore.Adapter { return rc.ad }

// Buffer returns the shared linear content allocator.
func (rc *ResourceCoordinator) Buffer() *alloc.Buffer { return rc.buf }

// Pixels returns the raw-pixel companion allocator.
func (rc *ResourceCoordinator) Pixels() *alloc.Buffer { return rc.pixels }

// Metadata returns the per-card descriptor store.
func (rc *ResourceCoordinator) Metadata() *alloc.MetadataStore { return rc.meta }

// Atlas returns the shared texture atlas manager.
func (rc *ResourceCoordinator) Atlas() *atlas.Manager { return rc.atl }

// Reserve accumulates a linear-region reservation for the next commit.
func (rc *ResourceCoordinator) Reserve(size uint32) { rc.buf.Reserve(size) }

// ReservePixels accumulates a pixel-region reservation for the next commit.
func (rc *ResourceCoordinator) ReservePixels(size uint32) { rc.pixels.Reserve(size) }

// CommitReservations commits both byte regions exactly once, starting a
// new epoch. Every buffer handle from earlier epochs is stale afterwards.
func (rc *ResourceCoordinator) CommitReservations() {
	rc.buf.Commit()
	rc.pixels.Commit()
	rc.log.Debug("reservations committed",
		"linear", rc.buf.Stats().Capacity, "pixels", rc.pixels.Stats().Capacity)
}

// AllocateBuffer bump-allocates from the committed linear region.
func (rc *ResourceCoordinator) AllocateBuffer(owner uint32, scope string, size uint32) (alloc.BufferHandle, error) {
	return rc.buf.Allocate(owner, scope, size)
}

// AllocatePixels bump-allocates from the committed pixel region.
func (rc *ResourceCoordinator) AllocatePixels(owner uint32, scope string, size uint32) (alloc.BufferHandle, error) {
	return rc.pixels.Allocate(owner, scope, size)
}

// MarkBufferDirty records a linear-region range for re-upload.
func (rc *ResourceCoordinator) MarkBufferDirty(h alloc.BufferHandle) error {
	return rc.buf.MarkDirty(h)
}

// MarkPixelsDirty records a pixel-region range for re-upload.
func (rc *ResourceCoordinator) MarkPixelsDirty(h alloc.BufferHandle) error {
	return rc.pixels.MarkDirty(h)
}

// AllocateTextureHandle reserves an opaque atlas handle.
func (rc *ResourceCoordinator) AllocateTextureHandle() atlas.Handle {
	return rc.atl.Allocate()
}

// LinkTextureData attaches RGBA pixel content to an atlas handle.
func (rc *ResourceCoordinator) LinkTextureData(h atlas.Handle, pix []byte, width, height int) error {
	return rc.atl.Link(h, pix, width, height)
}

// LinkTextureImage attaches an image to an atlas handle, converting to
// RGBA as needed.
func (rc *ResourceCoordinator) LinkTextureImage(h atlas.Handle, img image.Image) error {
	return rc.atl.LinkImage(h, img)
}

// ReleaseTexture drops an atlas handle and frees its rectangle at the
// next repack.
func (rc *ResourceCoordinator) ReleaseTexture(h atlas.Handle) error {
	return rc.atl.Release(h)
}

// PackAtlas recomputes atlas positions for all linked handles. On
// overflow the previous layout survives and the caller should drop or
// shrink its texture content.
func (rc *ResourceCoordinator) PackAtlas() error {
	return rc.atl.Pack()
}

// WriteToAtlas uploads one handle's pixels to its packed position.
func (rc *ResourceCoordinator) WriteToAtlas(h atlas.Handle) error {
	return rc.atl.Write(rc.ad, h)
}

// AtlasPosition reports the packed top-left texel of a handle.
func (rc *ResourceCoordinator) AtlasPosition(h atlas.Handle) (atlas.Position, error) {
	return rc.atl.Position(h)
}

// AllocateMetadata leases a descriptor slot. Slots survive across frames
// and epochs; a card keeps its slot for its whole lifetime.
func (rc *ResourceCoordinator) AllocateMetadata(size uint32) (alloc.MetadataHandle, error) {
	return rc.meta.Allocate(size)
}

// ReleaseMetadata returns a slot to its class free list.
func (rc *ResourceCoordinator) ReleaseMetadata(h alloc.MetadataHandle) error {
	return rc.meta.Release(h)
}

// WriteMetadata copies a record into the slot from its start.
func (rc *ResourceCoordinator) WriteMetadata(h alloc.MetadataHandle, data []byte) error {
	return rc.meta.Write(h, data)
}

// WriteMetadataAt copies bytes into the slot at an interior offset.
func (rc *ResourceCoordinator) WriteMetadataAt(h alloc.MetadataHandle, offset uint32, data []byte) error {
	return rc.meta.WriteAt(h, offset, data)
}

// SetUniforms stages the per-frame view record for the next Flush.
func (rc *ResourceCoordinator) SetUniforms(u Uniforms) {
	if u.AtlasSize == 0 {
		u.AtlasSize = float32(rc.atl.Size())
	}
	u.encode(&rc.uniforms)
	rc.uniformDirty = true
}

// Flush uploads everything dirty in the contract order: atlas first (a
// repack may resize the texture the metadata references), then the byte
// regions, then metadata, then uniforms, followed by one queue submit.
// Replaced GPU objects set the descriptor-dirty flag.
func (rc *ResourceCoordinator) Flush() error {
	if rc.atl.NeedsRepack() {
		if err := rc.atl.Pack(); err != nil {
			rc.log.Warn("atlas pack failed during flush", "error", err)
		}
	}
	if err := rc.atl.WriteAll(rc.ad); err != nil && !errors.Is(err, atlas.ErrNotPacked) {
		return fmt.Errorf("cardkit: flush atlas: %w", err)
	}
	if err := rc.buf.Flush(rc.ad); err != nil {
		return fmt.Errorf("cardkit: flush linear buffer: %w", err)
	}
	if err := rc.pixels.Flush(rc.ad); err != nil {
		return fmt.Errorf("cardkit: flush pixel buffer: %w", err)
	}
	if err := rc.meta.Flush(rc.ad); err != nil {
		return fmt.Errorf("cardkit: flush metadata: %w", err)
	}
	if err := rc.flushUniforms(); err != nil {
		return err
	}
	if err := rc.ensureSampler(); err != nil {
		return err
	}
	if rc.atl.Replaced() {
		rc.descDirty = true
		rc.atl.ClearReplaced()
	}
	if rc.buf.Replaced() {
		rc.descDirty = true
		rc.buf.ClearReplaced()
	}
	if rc.pixels.Replaced() {
		rc.descDirty = true
		rc.pixels.ClearReplaced()
	}
	if rc.meta.Replaced() {
		rc.descDirty = true
		rc.meta.ClearReplaced()
	}
	rc.ad.Submit()
	return nil
}

func (rc *ResourceCoordinator) flushUniforms() error {
	if rc.uniformID == gpucore.InvalidID {
		id, err := rc.ad.CreateBuffer(UniformsSize,
			gpucore.BufferUsageUniform|gpucore.BufferUsageCopyDst, "card-uniforms")
		if err != nil {
			return fmt.Errorf("cardkit: create uniform buffer: %w", err)
		}
		rc.uniformID = id
		rc.descDirty = true
		rc.uniformDirty = true
	}
	if rc.uniformDirty {
		rc.ad.WriteBuffer(rc.uniformID, 0, rc.uniforms[:])
		rc.uniformDirty = false
	}
	return nil
}

func (rc *ResourceCoordinator) ensureSampler() error {
	if rc.samplerID != gpucore.InvalidID {
		return nil
	}
	id, err := rc.ad.CreateSampler("card-atlas-sampler")
	if err != nil {
		return fmt.Errorf("cardkit: create sampler: %w", err)
	}
	rc.samplerID = id
	rc.descDirty = true
	return nil
}

// DescriptorDirty reports whether any bound GPU object was replaced since
// the last BindGroup rebuild.
func (rc *ResourceCoordinator) DescriptorDirty() bool { return rc.descDirty }

// Descriptor snapshots the current binding table. Entries for resources
// that do not exist yet carry the zero ID.
func (rc *ResourceCoordinator) Descriptor() []gpucore.BindGroupEntry {
	return []gpucore.BindGroupEntry{
		{Binding: BindingUniforms, Kind: gpucore.BindingBuffer, Buffer: rc.uniformID},
		{Binding: BindingMetadata, Kind: gpucore.BindingBuffer, Buffer: rc.meta.GPUBuffer()},
		{Binding: BindingLinear, Kind: gpucore.BindingBuffer, Buffer: rc.buf.GPUBuffer()},
		{Binding: BindingAtlasTex, Kind: gpucore.BindingTexture, Texture: rc.atl.GPUTexture()},
		{Binding: BindingSampler, Kind: gpucore.BindingSampler, Sampler: rc.samplerID},
		{Binding: BindingPixels, Kind: gpucore.BindingBuffer, Buffer: rc.pixels.GPUBuffer()},
	}
}

// BindGroup returns the shared card bind group, rebuilding it when the
// descriptor is dirty. Call after Flush so every binding exists.
func (rc *ResourceCoordinator) BindGroup() (gpucore.BindGroupID, error) {
	if !rc.descDirty && rc.bindGroup != gpucore.InvalidID {
		return rc.bindGroup, nil
	}
	for _, e := range rc.Descriptor() {
		switch e.Kind {
		case gpucore.BindingBuffer:
			if e.Buffer == gpucore.InvalidID {
				return gpucore.InvalidID, ErrDescriptorIncomplete
			}
		case gpucore.BindingTexture:
			if e.Texture == gpucore.InvalidID {
				return gpucore.InvalidID, ErrDescriptorIncomplete
			}
		case gpucore.BindingSampler:
			if e.Sampler == gpucore.InvalidID {
				return gpucore.InvalidID, ErrDescriptorIncomplete
			}
		}
	}
	if rc.bindGroup != gpucore.InvalidID {
		rc.ad.DestroyBindGroup(rc.bindGroup)
	}
	id, err := rc.ad.CreateBindGroup(rc.Descriptor(), "card-bind-group")
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("cardkit: rebuild bind group: %w", err)
	}
	rc.bindGroup = id
	rc.descDirty = false
	rc.log.Info("card bind group rebuilt")
	return id, nil
}

// Release destroys every GPU object the coordinator owns. CPU-side
// allocator state survives; a later Flush recreates the GPU mirrors.
func (rc *ResourceCoordinator) Release() {
	if rc.bindGroup != gpucore.InvalidID {
		rc.ad.DestroyBindGroup(rc.bindGroup)
		rc.bindGroup = gpucore.InvalidID
	}
	if rc.samplerID != gpucore.InvalidID {
		rc.ad.DestroySampler(rc.samplerID)
		rc.samplerID = gpucore.InvalidID
	}
	if rc.uniformID != gpucore.InvalidID {
		rc.ad.DestroyBuffer(rc.uniformID)
		rc.uniformID = gpucore.InvalidID
	}
	rc.buf.Release(rc.ad)
	rc.pixels.Release(rc.ad)
	rc.meta.ReleaseGPU(rc.ad)
	rc.atl.ReleaseGPU(rc.ad)
	rc.descDirty = true
}
