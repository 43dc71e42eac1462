//go:build !nogpu

package native

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// Context owns a HAL instance, device, and queue brought up by Open.
type Context struct {
	instance hal.Instance
	device   hal.Device
	queue    hal.Queue

	// AdapterName reports which physical adapter was selected.
	AdapterName string
}

// DeviceProvider is implemented by hosts that already own a HAL device,
// letting the adapter share it instead of opening a second one. The any
// returns carry hal.Device and hal.Queue.
type DeviceProvider interface {
	HalDevice() any
	HalQueue() any
}

// Open brings up a Vulkan device. It prefers discrete and integrated GPUs
// over software adapters.
func Open() (*Context, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("native: vulkan backend not available")
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("native: create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("native: no GPU adapters found")
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("native: open device: %w", err)
	}

	return &Context{
		instance:    instance,
		device:      openDev.Device,
		queue:       openDev.Queue,
		AdapterName: selected.Info.Name,
	}, nil
}

// Device returns the HAL device.
func (c *Context) Device() hal.Device { return c.device }

// Queue returns the HAL queue.
func (c *Context) Queue() hal.Queue { return c.queue }

// NewAdapter wraps the context's device in a HALAdapter.
func (c *Context) NewAdapter() (*HALAdapter, error) {
	return NewHALAdapter(c.device, c.queue)
}

// Close tears down the device and instance. Adapters created from this
// context must be closed first.
func (c *Context) Close() {
	if c.device != nil {
		c.device.Destroy()
		c.device = nil
		c.queue = nil
	}
	if c.instance != nil {
		c.instance.Destroy()
		c.instance = nil
	}
}

// AdapterFromProvider builds a HALAdapter on a host-owned device, for
// embedding the compositor in a process that already drives wgpu.
func AdapterFromProvider(p DeviceProvider) (*HALAdapter, error) {
	if p == nil {
		return nil, ErrNoDevice
	}
	device, ok := p.HalDevice().(hal.Device)
	if !ok {
		return nil, fmt.Errorf("native: provider device is %T, want hal.Device", p.HalDevice())
	}
	queue, ok := p.HalQueue().(hal.Queue)
	if !ok {
		return nil, fmt.Errorf("native: provider queue is %T, want hal.Queue", p.HalQueue())
	}
	return NewHALAdapter(device, queue)
}
