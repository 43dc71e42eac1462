package cardcanvas

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/cardkit/atlas"
)

// Presenter errors.
var (
	// ErrClosed is returned when operating on a closed presenter.
	ErrClosed = errors.New("cardcanvas: presenter is closed")

	// ErrInvalidDimensions is returned when width or height is invalid.
	ErrInvalidDimensions = errors.New("cardcanvas: invalid dimensions")

	// ErrPixelSize is returned when staged pixels do not match the
	// presenter dimensions.
	ErrPixelSize = errors.New("cardcanvas: pixel data size mismatch")

	// ErrNoTextureCreator is returned when the draw context cannot create
	// textures.
	ErrNoTextureCreator = errors.New("cardcanvas: draw context has no texture creator")
)

// textureDestroyer matches the host texture's Destroy method.
type textureDestroyer interface {
	Destroy()
}

// Presenter stages a card's composited RGBA output and draws it through
// a host surface. The host texture is created lazily on the first
// RenderTo and updated in place afterwards; a Resize defers destruction
// of the old texture until the replacement has been uploaded.
//
// A Presenter is not safe for concurrent use.
type Presenter struct {
	width  int
	height int
	pixels []byte

	texture    any
	oldTexture any
	dirty      bool
	closed     bool
}

// New creates a presenter for a width x height RGBA surface.
func New(width, height int) (*Presenter, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	return &Presenter{
		width:  width,
		height: height,
		pixels: make([]byte, width*height*4),
		dirty:  true,
	}, nil
}

// Size returns the presenter dimensions.
func (p *Presenter) Size() (width, height int) {
	return p.width, p.height
}

// SetPixels stages a full RGBA frame for upload on the next RenderTo.
func (p *Presenter) SetPixels(rgba []byte) error {
	if p.closed {
		return ErrClosed
	}
	if len(rgba) != p.width*p.height*4 {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrPixelSize, len(rgba), p.width*p.height*4)
	}
	copy(p.pixels, rgba)
	p.dirty = true
	return nil
}

// SetAtlasDebug stages the atlas manager's packed layout as the frame,
// resizing the presenter to the atlas dimension.
func (p *Presenter) SetAtlasDebug(m *atlas.Manager) error {
	if p.closed {
		return ErrClosed
	}
	size := m.Size()
	if err := p.Resize(size, size); err != nil {
		return err
	}
	p.pixels = m.DebugRGBA()
	p.dirty = true
	return nil
}

// IsDirty reports whether a staged frame awaits upload.
func (p *Presenter) IsDirty() bool {
	return p.dirty
}

// Resize changes the surface dimensions and clears the staged frame.
// The host texture is recreated on the next RenderTo.
func (p *Presenter) Resize(width, height int) error {
	if p.closed {
		return ErrClosed
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	if width == p.width && height == p.height {
		return nil
	}
	p.width = width
	p.height = height
	p.pixels = make([]byte, width*height*4)
	p.dirty = true

	// The old texture may still be referenced by in-flight GPU work;
	// keep it until the replacement upload has synchronized the queue.
	if p.texture != nil {
		p.destroyOld()
		p.oldTexture = p.texture
		p.texture = nil
	}
	return nil
}

// RenderTo uploads the staged frame if dirty and draws it at the origin.
func (p *Presenter) RenderTo(dc gpucontext.TextureDrawer) error {
	return p.RenderAt(dc, 0, 0)
}

// RenderAt uploads the staged frame if dirty and draws it at (x, y).
func (p *Presenter) RenderAt(dc gpucontext.TextureDrawer, x, y float32) error {
	if p.closed {
		return ErrClosed
	}

	if p.texture == nil {
		creator := dc.TextureCreator()
		if creator == nil {
			return ErrNoTextureCreator
		}
		tex, err := creator.NewTextureFromRGBA(p.width, p.height, p.pixels)
		if err != nil {
			return fmt.Errorf("cardcanvas: create texture: %w", err)
		}
		p.texture = tex
		p.dirty = false
		// Texture upload waits for the queue, so the deferred texture is
		// no longer referenced by in-flight work.
		p.destroyOld()
	} else if p.dirty {
		if updater, ok := p.texture.(gpucontext.TextureUpdater); ok {
			if err := updater.UpdateData(p.pixels); err != nil {
				return fmt.Errorf("cardcanvas: update texture: %w", err)
			}
		}
		p.dirty = false
	}

	gpuTex, ok := p.texture.(gpucontext.Texture)
	if !ok {
		return fmt.Errorf("cardcanvas: host texture is %T, want gpucontext.Texture", p.texture)
	}
	return dc.DrawTexture(gpuTex, x, y)
}

// Texture returns the host texture, or nil before the first RenderTo.
func (p *Presenter) Texture() any {
	return p.texture
}

// Close destroys the host textures. Idempotent.
func (p *Presenter) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.destroyOld()
	if d, ok := p.texture.(textureDestroyer); ok {
		d.Destroy()
	}
	p.texture = nil
	p.pixels = nil
	return nil
}

func (p *Presenter) destroyOld() {
	if d, ok := p.oldTexture.(textureDestroyer); ok {
		d.Destroy()
	}
	p.oldTexture = nil
}
