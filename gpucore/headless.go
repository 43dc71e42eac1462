package gpucore

import (
	"errors"
	"fmt"
)

// Headless errors.
var (
	// ErrInvalidSize is returned when a resource size is not positive.
	ErrInvalidSize = errors.New("gpucore: resource size must be positive")

	// ErrUnknownResource is returned when an ID does not name a live resource.
	ErrUnknownResource = errors.New("gpucore: unknown resource id")
)

type headlessBuffer struct {
	data  []byte
	usage BufferUsage
	label string
}

type headlessTexture struct {
	width  int
	height int
	format TextureFormat
	pixels []byte
	label  string
}

// Headless is an in-memory Adapter. Buffers and textures are plain byte
// slices, so tests can assert on exactly what the resource core uploaded
// without touching a GPU. It also backs offline tooling (file writers).
type Headless struct {
	nextID uint64

	buffers  map[BufferID]*headlessBuffer
	textures map[TextureID]*headlessTexture
	samplers map[SamplerID]string

	// BindGroups records every bind group created, newest last, so tests
	// can observe descriptor rebuilds.
	BindGroups [][]BindGroupEntry

	// Submits counts Submit calls.
	Submits int
}

// NewHeadless creates an empty in-memory adapter.
func NewHeadless() *Headless {
	return &Headless{
		nextID:   1,
		buffers:  make(map[BufferID]*headlessBuffer),
		textures: make(map[TextureID]*headlessTexture),
		samplers: make(map[SamplerID]string),
	}
}

func (h *Headless) newID() uint64 {
	id := h.nextID
	h.nextID++
	return id
}

// CreateBuffer creates an in-memory buffer.
func (h *Headless) CreateBuffer(size int, usage BufferUsage, label string) (BufferID, error) {
	if size <= 0 {
		return InvalidID, fmt.Errorf("%w: buffer %q size %d", ErrInvalidSize, label, size)
	}
	id := BufferID(h.newID())
	h.buffers[id] = &headlessBuffer{data: make([]byte, size), usage: usage, label: label}
	return id, nil
}

// DestroyBuffer releases a buffer.
func (h *Headless) DestroyBuffer(id BufferID) {
	delete(h.buffers, id)
}

// WriteBuffer copies data into the in-memory buffer. Writes past the end
// are clipped, matching WebGPU validation behavior of rejecting the excess.
func (h *Headless) WriteBuffer(id BufferID, offset uint64, data []byte) {
	buf, ok := h.buffers[id]
	if !ok || len(data) == 0 {
		return
	}
	if offset >= uint64(len(buf.data)) {
		return
	}
	copy(buf.data[offset:], data)
}

// BufferData returns the current contents of a buffer, or nil if the ID is
// not live. The returned slice aliases adapter memory; callers must not
// mutate it.
func (h *Headless) BufferData(id BufferID) []byte {
	if buf, ok := h.buffers[id]; ok {
		return buf.data
	}
	return nil
}

// BufferSize returns the byte size of a live buffer, or 0.
func (h *Headless) BufferSize(id BufferID) int {
	if buf, ok := h.buffers[id]; ok {
		return len(buf.data)
	}
	return 0
}

// CreateTexture creates an in-memory texture.
func (h *Headless) CreateTexture(width, height int, format TextureFormat, label string) (TextureID, error) {
	if width <= 0 || height <= 0 {
		return InvalidID, fmt.Errorf("%w: texture %q %dx%d", ErrInvalidSize, label, width, height)
	}
	id := TextureID(h.newID())
	h.textures[id] = &headlessTexture{
		width:  width,
		height: height,
		format: format,
		pixels: make([]byte, width*height*format.BytesPerPixel()),
		label:  label,
	}
	return id, nil
}

// DestroyTexture releases a texture.
func (h *Headless) DestroyTexture(id TextureID) {
	delete(h.textures, id)
}

// WriteTexture copies a pixel rectangle into the in-memory texture.
// Out-of-bounds rows and columns are clipped.
func (h *Headless) WriteTexture(id TextureID, x, y, width, height int, data []byte) {
	tex, ok := h.textures[id]
	if !ok {
		return
	}
	bpp := tex.format.BytesPerPixel()
	for row := 0; row < height; row++ {
		ty := y + row
		if ty < 0 || ty >= tex.height {
			continue
		}
		srcOff := row * width * bpp
		dstOff := (ty*tex.width + x) * bpp
		n := width * bpp
		if x+width > tex.width {
			n = (tex.width - x) * bpp
		}
		if srcOff+n > len(data) {
			n = len(data) - srcOff
		}
		if n > 0 {
			copy(tex.pixels[dstOff:dstOff+n], data[srcOff:srcOff+n])
		}
	}
}

// TexturePixels returns the backing pixel slice of a live texture, or nil.
func (h *Headless) TexturePixels(id TextureID) []byte {
	if tex, ok := h.textures[id]; ok {
		return tex.pixels
	}
	return nil
}

// TextureSize returns the dimensions of a live texture.
func (h *Headless) TextureSize(id TextureID) (width, height int) {
	if tex, ok := h.textures[id]; ok {
		return tex.width, tex.height
	}
	return 0, 0
}

// CreateSampler records a sampler.
func (h *Headless) CreateSampler(label string) (SamplerID, error) {
	id := SamplerID(h.newID())
	h.samplers[id] = label
	return id, nil
}

// DestroySampler releases a sampler.
func (h *Headless) DestroySampler(id SamplerID) {
	delete(h.samplers, id)
}

// CreateBindGroup records the entry set for test inspection.
func (h *Headless) CreateBindGroup(entries []BindGroupEntry, label string) (BindGroupID, error) {
	id := BindGroupID(h.newID())
	h.BindGroups = append(h.BindGroups, append([]BindGroupEntry(nil), entries...))
	return id, nil
}

// DestroyBindGroup is a no-op beyond ID retirement.
func (h *Headless) DestroyBindGroup(id BindGroupID) {}

// Submit counts queue submissions.
func (h *Headless) Submit() {
	h.Submits++
}

var _ Adapter = (*Headless)(nil)
