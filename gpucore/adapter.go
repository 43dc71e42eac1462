package gpucore

// Resource IDs
//
// These opaque IDs represent GPU resources. Each adapter implementation
// maintains a mapping between IDs and actual backend resources.
// IDs are uint64 to accommodate various backend handle sizes.

// BufferID is an opaque handle to a GPU buffer.
type BufferID uint64

// TextureID is an opaque handle to a GPU texture.
type TextureID uint64

// SamplerID is an opaque handle to a texture sampler.
type SamplerID uint64

// BindGroupID is an opaque handle to a bind group.
type BindGroupID uint64

// InvalidID is the zero value, representing an invalid/null resource.
const InvalidID = 0

// BufferUsage is a bitmask specifying how a buffer will be used.
type BufferUsage uint32

// Buffer usage flags.
const (
	// BufferUsageCopySrc indicates the buffer can be used as a copy source.
	BufferUsageCopySrc BufferUsage = 1 << 0

	// BufferUsageCopyDst indicates the buffer can be used as a copy destination.
	BufferUsageCopyDst BufferUsage = 1 << 1

	// BufferUsageUniform indicates the buffer can be used as a uniform buffer.
	BufferUsageUniform BufferUsage = 1 << 2

	// BufferUsageStorage indicates the buffer can be used as a storage buffer.
	BufferUsageStorage BufferUsage = 1 << 3
)

// TextureFormat specifies the format of texture data.
type TextureFormat uint32

// Texture formats.
const (
	// TextureFormatRGBA8Unorm is 8-bit RGBA, normalized unsigned integer.
	TextureFormatRGBA8Unorm TextureFormat = iota + 1

	// TextureFormatBGRA8Unorm is 8-bit BGRA, normalized unsigned integer.
	TextureFormatBGRA8Unorm

	// TextureFormatR8Unorm is 8-bit red channel only, normalized unsigned integer.
	TextureFormatR8Unorm
)

// BytesPerPixel returns the number of bytes per pixel for the format.
func (f TextureFormat) BytesPerPixel() int {
	switch f {
	case TextureFormatRGBA8Unorm, TextureFormatBGRA8Unorm:
		return 4
	case TextureFormatR8Unorm:
		return 1
	default:
		return 4
	}
}

// BindingKind distinguishes the resource bound at a bind group slot.
type BindingKind uint32

// Binding kinds.
const (
	// BindingBuffer binds a whole buffer.
	BindingBuffer BindingKind = iota + 1

	// BindingTexture binds a sampled texture view.
	BindingTexture

	// BindingSampler binds a sampler.
	BindingSampler
)

// BindGroupEntry binds one resource to a shader-visible slot.
type BindGroupEntry struct {
	// Binding is the shader binding index.
	Binding uint32

	// Kind selects which of the ID fields below is meaningful.
	Kind BindingKind

	Buffer  BufferID
	Texture TextureID
	Sampler SamplerID
}

// Adapter abstracts over GPU backend implementations.
//
// The resource-management core records uploads through this interface;
// backend/native bridges it to gogpu/wgpu, Headless keeps everything in
// CPU memory for tests.
//
// Resource lifecycle:
//   - Resources are created via Create* methods
//   - Resources must be explicitly destroyed via Destroy* methods
//   - IDs become invalid after destruction and must not be reused
type Adapter interface {
	// CreateBuffer creates a GPU buffer of size bytes.
	// Returns the buffer ID or an error if allocation fails.
	CreateBuffer(size int, usage BufferUsage, label string) (BufferID, error)

	// DestroyBuffer releases a GPU buffer.
	DestroyBuffer(id BufferID)

	// WriteBuffer writes data to a buffer at the given byte offset.
	// The write is fire-and-forget: data is copied before return and the
	// upload completes asynchronously on the queue.
	WriteBuffer(id BufferID, offset uint64, data []byte)

	// CreateTexture creates a 2D GPU texture.
	CreateTexture(width, height int, format TextureFormat, label string) (TextureID, error)

	// DestroyTexture releases a GPU texture.
	DestroyTexture(id TextureID)

	// WriteTexture writes a pixel rectangle into the texture.
	// data holds width*height*BytesPerPixel tightly packed rows.
	WriteTexture(id TextureID, x, y, width, height int, data []byte)

	// CreateSampler creates a linear clamp-to-edge sampler.
	CreateSampler(label string) (SamplerID, error)

	// DestroySampler releases a sampler.
	DestroySampler(id SamplerID)

	// CreateBindGroup binds concrete resources to shader-visible slots.
	// The coordinator rebuilds its bind group whenever an underlying
	// resource is replaced.
	CreateBindGroup(entries []BindGroupEntry, label string) (BindGroupID, error)

	// DestroyBindGroup releases a bind group.
	DestroyBindGroup(id BindGroupID)

	// Submit flushes any recorded work to the GPU queue.
	Submit()
}
