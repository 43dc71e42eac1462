// Package cardcanvas presents composited card output through a gogpu
// host surface.
//
// The resource core renders cards into GPU buffers consumed by the card
// compositor; cardcanvas covers the embedding case where a host app owns
// the swapchain and wants the result (or the atlas, for debugging) drawn
// as a texture. A Presenter stages RGBA pixels, creates the host texture
// lazily through gpucontext.TextureCreator, and draws it with
// gpucontext.TextureDrawer.
package cardcanvas
