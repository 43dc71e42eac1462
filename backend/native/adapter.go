//go:build !nogpu

package native

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/cardkit/gpucore"
)

var (
	// ErrNoDevice is returned when the adapter is constructed without a device.
	ErrNoDevice = errors.New("native: nil hal device or queue")

	// ErrUnknownResource is returned when a bind group references an ID
	// the adapter never created.
	ErrUnknownResource = errors.New("native: unknown resource id")
)

// halBuffer pairs a hal buffer with the facts needed to rebuild a bind
// group layout entry for it later.
type halBuffer struct {
	buf   hal.Buffer
	size  uint64
	usage gpucore.BufferUsage
}

// halTexture keeps the view alive alongside the texture. The view is what
// bind groups reference; both are destroyed together.
type halTexture struct {
	tex    hal.Texture
	view   hal.TextureView
	width  int
	height int
	format gpucore.TextureFormat
}

// halBindGroup owns the layout derived for it. hal requires an explicit
// layout per group, so each group carries its own.
type halBindGroup struct {
	group  hal.BindGroup
	layout hal.BindGroupLayout
}

// HALAdapter implements gpucore.Adapter on top of gogpu/wgpu's HAL layer.
//
// All operations are safe for concurrent use. Resource IDs start at 1 so
// the zero value stays gpucore.InvalidID.
type HALAdapter struct {
	mu     sync.RWMutex
	device hal.Device
	queue  hal.Queue

	nextID atomic.Uint64

	buffers    map[gpucore.BufferID]*halBuffer
	textures   map[gpucore.TextureID]*halTexture
	samplers   map[gpucore.SamplerID]hal.Sampler
	bindGroups map[gpucore.BindGroupID]*halBindGroup
}

var _ gpucore.Adapter = (*HALAdapter)(nil)

// NewHALAdapter wraps an existing device and queue. The caller retains
// ownership of both; Close releases only the resources the adapter made.
func NewHALAdapter(device hal.Device, queue hal.Queue) (*HALAdapter, error) {
	if device == nil || queue == nil {
		return nil, ErrNoDevice
	}
	return &HALAdapter{
		device:     device,
		queue:      queue,
		buffers:    make(map[gpucore.BufferID]*halBuffer),
		textures:   make(map[gpucore.TextureID]*halTexture),
		samplers:   make(map[gpucore.SamplerID]hal.Sampler),
		bindGroups: make(map[gpucore.BindGroupID]*halBindGroup),
	}, nil
}

// CreateBuffer creates a GPU buffer of size bytes.
func (a *HALAdapter) CreateBuffer(size int, usage gpucore.BufferUsage, label string) (gpucore.BufferID, error) {
	if size <= 0 {
		return gpucore.InvalidID, fmt.Errorf("native: buffer size %d", size)
	}
	buf, err := a.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  uint64(size),
		Usage: convertBufferUsage(usage),
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: create buffer %q: %w", label, err)
	}

	id := gpucore.BufferID(a.nextID.Add(1))
	a.mu.Lock()
	a.buffers[id] = &halBuffer{buf: buf, size: uint64(size), usage: usage}
	a.mu.Unlock()
	return id, nil
}

// DestroyBuffer releases a GPU buffer. Unknown IDs are ignored.
func (a *HALAdapter) DestroyBuffer(id gpucore.BufferID) {
	a.mu.Lock()
	hb, ok := a.buffers[id]
	delete(a.buffers, id)
	a.mu.Unlock()
	if ok {
		a.device.DestroyBuffer(hb.buf)
	}
}

// WriteBuffer uploads data at the given byte offset via the queue.
func (a *HALAdapter) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) {
	if len(data) == 0 {
		return
	}
	a.mu.RLock()
	hb, ok := a.buffers[id]
	a.mu.RUnlock()
	if !ok || offset >= hb.size {
		return
	}
	if end := offset + uint64(len(data)); end > hb.size {
		data = data[:hb.size-offset]
	}
	a.queue.WriteBuffer(hb.buf, offset, data)
}

// CreateTexture creates a 2D texture plus the view bind groups will use.
func (a *HALAdapter) CreateTexture(width, height int, format gpucore.TextureFormat, label string) (gpucore.TextureID, error) {
	if width <= 0 || height <= 0 {
		return gpucore.InvalidID, fmt.Errorf("native: texture size %dx%d", width, height)
	}
	halFormat := convertTextureFormat(format)
	tex, err := a.device.CreateTexture(&hal.TextureDescriptor{
		Label:         label,
		Size:          hal.Extent3D{Width: uint32(width), Height: uint32(height), DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        halFormat,
		Usage:         gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: create texture %q: %w", label, err)
	}
	view, err := a.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:         label + "-view",
		Format:        halFormat,
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		a.device.DestroyTexture(tex)
		return gpucore.InvalidID, fmt.Errorf("native: create texture view %q: %w", label, err)
	}

	id := gpucore.TextureID(a.nextID.Add(1))
	a.mu.Lock()
	a.textures[id] = &halTexture{tex: tex, view: view, width: width, height: height, format: format}
	a.mu.Unlock()
	return id, nil
}

// DestroyTexture releases a texture and its view. Unknown IDs are ignored.
func (a *HALAdapter) DestroyTexture(id gpucore.TextureID) {
	a.mu.Lock()
	ht, ok := a.textures[id]
	delete(a.textures, id)
	a.mu.Unlock()
	if ok {
		a.device.DestroyTextureView(ht.view)
		a.device.DestroyTexture(ht.tex)
	}
}

// WriteTexture uploads a pixel rectangle. Regions outside the texture are
// clipped; rows in data must be tightly packed at width*BytesPerPixel.
func (a *HALAdapter) WriteTexture(id gpucore.TextureID, x, y, width, height int, data []byte) {
	if width <= 0 || height <= 0 {
		return
	}
	a.mu.RLock()
	ht, ok := a.textures[id]
	a.mu.RUnlock()
	if !ok || x < 0 || y < 0 || x >= ht.width || y >= ht.height {
		return
	}

	bpp := ht.format.BytesPerPixel()
	if len(data) < width*height*bpp {
		return
	}

	// Clip against the texture extent. Clipping the width forces a
	// row-by-row repack since the source rows stay at the caller's stride.
	copyW := width
	if x+copyW > ht.width {
		copyW = ht.width - x
	}
	copyH := height
	if y+copyH > ht.height {
		copyH = ht.height - y
	}
	if copyW < width {
		packed := make([]byte, copyW*copyH*bpp)
		for row := 0; row < copyH; row++ {
			src := data[row*width*bpp : row*width*bpp+copyW*bpp]
			copy(packed[row*copyW*bpp:], src)
		}
		data = packed
	} else if copyH < height {
		data = data[:copyW*copyH*bpp]
	}

	a.queue.WriteTexture(
		&hal.ImageCopyTexture{
			Texture:  ht.tex,
			MipLevel: 0,
			Origin:   hal.Origin3D{X: uint32(x), Y: uint32(y)},
			Aspect:   gputypes.TextureAspectAll,
		},
		data,
		&hal.ImageDataLayout{
			Offset:       0,
			BytesPerRow:  uint32(copyW * bpp),
			RowsPerImage: uint32(copyH),
		},
		&hal.Extent3D{Width: uint32(copyW), Height: uint32(copyH), DepthOrArrayLayers: 1},
	)
}

// CreateSampler creates a linear clamp-to-edge sampler.
func (a *HALAdapter) CreateSampler(label string) (gpucore.SamplerID, error) {
	sampler, err := a.device.CreateSampler(&hal.SamplerDescriptor{
		Label:        label,
		AddressModeU: gputypes.AddressModeClampToEdge,
		AddressModeV: gputypes.AddressModeClampToEdge,
		AddressModeW: gputypes.AddressModeClampToEdge,
		MagFilter:    gputypes.FilterModeLinear,
		MinFilter:    gputypes.FilterModeLinear,
		MipmapFilter: gputypes.FilterModeLinear,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: create sampler %q: %w", label, err)
	}

	id := gpucore.SamplerID(a.nextID.Add(1))
	a.mu.Lock()
	a.samplers[id] = sampler
	a.mu.Unlock()
	return id, nil
}

// DestroySampler releases a sampler. Unknown IDs are ignored.
func (a *HALAdapter) DestroySampler(id gpucore.SamplerID) {
	a.mu.Lock()
	s, ok := a.samplers[id]
	delete(a.samplers, id)
	a.mu.Unlock()
	if ok {
		a.device.DestroySampler(s)
	}
}

// CreateBindGroup derives a bind group layout from the entries and builds
// the group against it. Uniform-usage buffers bind as uniform, everything
// else as read-only storage, matching how the compositor shader declares
// its inputs.
func (a *HALAdapter) CreateBindGroup(entries []gpucore.BindGroupEntry, label string) (gpucore.BindGroupID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	layoutEntries := make([]gputypes.BindGroupLayoutEntry, 0, len(entries))
	groupEntries := make([]gputypes.BindGroupEntry, 0, len(entries))

	for _, e := range entries {
		layoutEntry := gputypes.BindGroupLayoutEntry{
			Binding:    e.Binding,
			Visibility: gputypes.ShaderStageVertex | gputypes.ShaderStageFragment,
		}
		groupEntry := gputypes.BindGroupEntry{Binding: e.Binding}

		switch e.Kind {
		case gpucore.BindingBuffer:
			hb, ok := a.buffers[e.Buffer]
			if !ok {
				return gpucore.InvalidID, fmt.Errorf("native: bind group %q binding %d: buffer %d: %w", label, e.Binding, e.Buffer, ErrUnknownResource)
			}
			bindingType := gputypes.BufferBindingTypeReadOnlyStorage
			if hb.usage&gpucore.BufferUsageUniform != 0 {
				bindingType = gputypes.BufferBindingTypeUniform
			}
			layoutEntry.Buffer = &gputypes.BufferBindingLayout{Type: bindingType}
			groupEntry.Resource = gputypes.BufferBinding{
				Buffer: hb.buf.NativeHandle(),
				Offset: 0,
				Size:   hb.size,
			}

		case gpucore.BindingTexture:
			ht, ok := a.textures[e.Texture]
			if !ok {
				return gpucore.InvalidID, fmt.Errorf("native: bind group %q binding %d: texture %d: %w", label, e.Binding, e.Texture, ErrUnknownResource)
			}
			layoutEntry.Texture = &gputypes.TextureBindingLayout{
				SampleType:    gputypes.TextureSampleTypeFloat,
				ViewDimension: gputypes.TextureViewDimension2D,
			}
			groupEntry.Resource = gputypes.TextureViewBinding{
				TextureView: ht.view.NativeHandle(),
			}

		case gpucore.BindingSampler:
			s, ok := a.samplers[e.Sampler]
			if !ok {
				return gpucore.InvalidID, fmt.Errorf("native: bind group %q binding %d: sampler %d: %w", label, e.Binding, e.Sampler, ErrUnknownResource)
			}
			layoutEntry.Sampler = &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering}
			groupEntry.Resource = gputypes.SamplerBinding{
				Sampler: s.NativeHandle(),
			}

		default:
			return gpucore.InvalidID, fmt.Errorf("native: bind group %q binding %d: unknown binding kind %d", label, e.Binding, e.Kind)
		}

		layoutEntries = append(layoutEntries, layoutEntry)
		groupEntries = append(groupEntries, groupEntry)
	}

	layout, err := a.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   label + "-layout",
		Entries: layoutEntries,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: create bind group layout %q: %w", label, err)
	}
	group, err := a.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   label,
		Layout:  layout,
		Entries: groupEntries,
	})
	if err != nil {
		a.device.DestroyBindGroupLayout(layout)
		return gpucore.InvalidID, fmt.Errorf("native: create bind group %q: %w", label, err)
	}

	id := gpucore.BindGroupID(a.nextID.Add(1))
	a.bindGroups[id] = &halBindGroup{group: group, layout: layout}
	return id, nil
}

// DestroyBindGroup releases a bind group and its layout.
func (a *HALAdapter) DestroyBindGroup(id gpucore.BindGroupID) {
	a.mu.Lock()
	bg, ok := a.bindGroups[id]
	delete(a.bindGroups, id)
	a.mu.Unlock()
	if ok {
		a.device.DestroyBindGroup(bg.group)
		a.device.DestroyBindGroupLayout(bg.layout)
	}
}

// Submit is a no-op: WriteBuffer and WriteTexture go straight through the
// queue, which orders them ahead of the next command submission.
func (a *HALAdapter) Submit() {}

// BindGroup returns the hal bind group for a coordinator-created ID so a
// render pass can call SetBindGroup with it.
func (a *HALAdapter) BindGroup(id gpucore.BindGroupID) (hal.BindGroup, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	bg, ok := a.bindGroups[id]
	if !ok {
		return nil, false
	}
	return bg.group, true
}

// BindGroupLayout returns the layout derived for a bind group, for
// building a pipeline layout that matches it.
func (a *HALAdapter) BindGroupLayout(id gpucore.BindGroupID) (hal.BindGroupLayout, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	bg, ok := a.bindGroups[id]
	if !ok {
		return nil, false
	}
	return bg.layout, true
}

// Close destroys every resource the adapter still tracks. The device and
// queue stay alive for their owner.
func (a *HALAdapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, bg := range a.bindGroups {
		a.device.DestroyBindGroup(bg.group)
		a.device.DestroyBindGroupLayout(bg.layout)
		delete(a.bindGroups, id)
	}
	for id, s := range a.samplers {
		a.device.DestroySampler(s)
		delete(a.samplers, id)
	}
	for id, ht := range a.textures {
		a.device.DestroyTextureView(ht.view)
		a.device.DestroyTexture(ht.tex)
		delete(a.textures, id)
	}
	for id, hb := range a.buffers {
		a.device.DestroyBuffer(hb.buf)
		delete(a.buffers, id)
	}
}

func convertBufferUsage(usage gpucore.BufferUsage) gputypes.BufferUsage {
	var out gputypes.BufferUsage
	if usage&gpucore.BufferUsageCopySrc != 0 {
		out |= gputypes.BufferUsageCopySrc
	}
	if usage&gpucore.BufferUsageCopyDst != 0 {
		out |= gputypes.BufferUsageCopyDst
	}
	if usage&gpucore.BufferUsageUniform != 0 {
		out |= gputypes.BufferUsageUniform
	}
	if usage&gpucore.BufferUsageStorage != 0 {
		out |= gputypes.BufferUsageStorage
	}
	return out
}

func convertTextureFormat(format gpucore.TextureFormat) gputypes.TextureFormat {
	switch format {
	case gpucore.TextureFormatBGRA8Unorm:
		return gputypes.TextureFormatBGRA8Unorm
	case gpucore.TextureFormatR8Unorm:
		return gputypes.TextureFormatR8Unorm
	default:
		return gputypes.TextureFormatRGBA8Unorm
	}
}
