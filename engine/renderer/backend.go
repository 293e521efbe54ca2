package renderer

import (
	"github.com/spaghettifunk/hybridrt/engine/gpu"
	"github.com/spaghettifunk/hybridrt/engine/gpu/headless"
)

// Backend owns the device and surface a render path draws with.
type Backend interface {
	Device() gpu.Device
	Surface() gpu.Surface
	// Shutdown destroys the surface and then the device.
	Shutdown()
}

// HeadlessBackend renders offscreen, validating every submitted stream.
type HeadlessBackend struct {
	device  *headless.Device
	surface *headless.Surface
}

func NewHeadlessBackend(extent gpu.Extent, imageCount int, opts headless.Options) *HeadlessBackend {
	dev := headless.NewDevice(opts)
	return &HeadlessBackend{device: dev, surface: headless.NewSurface(dev, extent, imageCount)}
}

func (b *HeadlessBackend) Device() gpu.Device   { return b.device }
func (b *HeadlessBackend) Surface() gpu.Surface { return b.surface }

func (b *HeadlessBackend) Headless() (*headless.Device, *headless.Surface) {
	return b.device, b.surface
}

func (b *HeadlessBackend) Shutdown() {
	b.surface.Destroy()
	b.device.Destroy()
}
