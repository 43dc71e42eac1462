// Package shaders embeds the card compositor WGSL and compiles it for
// the HAL pipeline.
package shaders

import (
	_ "embed"
	"fmt"

	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
)

// CardCompositorWGSL is the per-pixel card compositor. Its buffer layout
// constants are pinned by the scene package wire formats; the tests in
// this package assert they stay in sync.
//
//go:embed card_compositor.wgsl
var CardCompositorWGSL string

// CompileToSPIRV compiles WGSL source to SPIR-V words.
func CompileToSPIRV(wgslSource string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(wgslSource)
	if err != nil {
		return nil, fmt.Errorf("shaders: compile: %w", err)
	}

	// SPIR-V is little-endian 32-bit words.
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return words, nil
}

// NewCardCompositorModule compiles the compositor and wraps it in a HAL
// shader module.
func NewCardCompositorModule(device hal.Device, label string) (hal.ShaderModule, error) {
	words, err := CompileToSPIRV(CardCompositorWGSL)
	if err != nil {
		return nil, err
	}
	module, err := device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: hal.ShaderSource{SPIRV: words},
	})
	if err != nil {
		return nil, fmt.Errorf("shaders: create module %q: %w", label, err)
	}
	return module, nil
}
