// Package native bridges gpucore.Adapter to gogpu/wgpu's HAL layer.
//
// HALAdapter maps the opaque gpucore resource IDs onto live hal.Buffer,
// hal.Texture, and hal.Sampler objects, deriving bind group layouts from
// the entries the coordinator hands it. Open brings up a Vulkan device
// when the process does not already own one.
package native
