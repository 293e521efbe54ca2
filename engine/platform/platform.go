// Package platform owns the glfw window: it turns framebuffer size changes
// and key presses into engine events and hands the Vulkan backend what it
// needs to create a window surface.
package platform

import (
	"fmt"
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/engine/renderer/vulkan"
)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

// Application event codes fired for key presses.
const (
	EVENT_CODE_TOGGLE_SHADOWS core.SystemEventCode = core.MAX_EVENT_CODE + 1 + iota
	EVENT_CODE_TOGGLE_AO
	EVENT_CODE_TOGGLE_REFLECTIONS
	EVENT_CODE_TOGGLE_HALF_RES
	EVENT_CODE_TOGGLE_UI
	EVENT_CODE_CAMERA_ORBIT
)

var keyEvents = map[glfw.Key]core.SystemEventCode{
	glfw.Key1: EVENT_CODE_TOGGLE_SHADOWS,
	glfw.Key2: EVENT_CODE_TOGGLE_AO,
	glfw.Key3: EVENT_CODE_TOGGLE_REFLECTIONS,
	glfw.Key4: EVENT_CODE_TOGGLE_HALF_RES,
	glfw.Key5: EVENT_CODE_TOGGLE_UI,
}

type Platform struct {
	Window *glfw.Window
	bus    *core.EventBus
}

func New(bus *core.EventBus) (*Platform, error) {
	if bus == nil {
		return nil, fmt.Errorf("func New - event bus is required: %w", core.ErrInvalidConfig)
	}
	return &Platform{bus: bus}, nil
}

func (p *Platform) Startup(applicationName string, width uint32, height uint32) error {
	if err := glfw.Init(); err != nil {
		core.LogError("failed to initialize glfw: %s", err)
		return err
	}
	if !glfw.VulkanSupported() {
		glfw.Terminate()
		err := fmt.Errorf("func Startup - glfw reports no Vulkan loader")
		core.LogError(err.Error())
		return err
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.

	window, err := glfw.CreateWindow(int(width), int(height), applicationName, nil, nil)
	if err != nil {
		core.LogError("failed to create window: %s", err)
		glfw.Terminate()
		return err
	}
	p.Window = window

	p.Window.SetKeyCallback(p.keyCallback)
	p.Window.SetFramebufferSizeCallback(p.framebufferSizeCallback)
	p.Window.SetCloseCallback(p.closeCallback)
	p.Window.Show()
	return nil
}

// VulkanContextConfig describes the window surface to the Vulkan backend.
func (p *Platform) VulkanContextConfig(applicationName string, validation bool) vulkan.ContextConfig {
	return vulkan.ContextConfig{
		ApplicationName:    applicationName,
		ProcAddr:           glfw.GetVulkanGetInstanceProcAddress(),
		InstanceExtensions: p.Window.GetRequiredInstanceExtensions(),
		Validation:         validation,
		CreateSurface: func(instance vk.Instance) (uintptr, error) {
			return p.Window.CreateWindowSurface(instance, nil)
		},
	}
}

// FramebufferSize is the drawable size in pixels.
func (p *Platform) FramebufferSize() (uint32, uint32) {
	w, h := p.Window.GetFramebufferSize()
	return uint32(w), uint32(h)
}

func (p *Platform) ShouldClose() bool {
	return p.Window.ShouldClose()
}

func (p *Platform) PumpMessages() {
	glfw.PollEvents()
}

func (p *Platform) Shutdown() error {
	if p.Window != nil {
		p.Window.Destroy()
		p.Window = nil
	}
	glfw.Terminate()
	return nil
}

func (p *Platform) keyCallback(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
	if action != glfw.Press && action != glfw.Repeat {
		return
	}
	switch key {
	case glfw.KeyEscape:
		p.bus.Fire(core.EVENT_CODE_APPLICATION_QUIT, p, core.EventContext{})
	case glfw.KeyLeft, glfw.KeyRight:
		step := float32(-0.05)
		if key == glfw.KeyRight {
			step = 0.05
		}
		p.bus.Fire(EVENT_CODE_CAMERA_ORBIT, p, core.EventContext{F32: [4]float32{step}})
	default:
		if code, ok := keyEvents[key]; ok && action == glfw.Press {
			p.bus.Fire(code, p, core.EventContext{})
		}
	}
}

func (p *Platform) framebufferSizeCallback(w *glfw.Window, width, height int) {
	p.bus.Fire(core.EVENT_CODE_RESIZED, p, core.EventContext{U32: [4]uint32{uint32(width), uint32(height)}})
}

func (p *Platform) closeCallback(w *glfw.Window) {
	p.bus.Fire(core.EVENT_CODE_APPLICATION_QUIT, p, core.EventContext{})
}
