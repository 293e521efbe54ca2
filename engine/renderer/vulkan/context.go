package vulkan

import (
	"fmt"
	"runtime"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/hybridrt/engine/core"
)

// SurfaceFactory creates the platform window surface for an instance and
// returns the raw VkSurfaceKHR handle.
type SurfaceFactory func(instance vk.Instance) (uintptr, error)

type ContextConfig struct {
	ApplicationName string
	// ProcAddr is vkGetInstanceProcAddr as handed out by the windowing layer.
	ProcAddr unsafe.Pointer
	// InstanceExtensions are the extensions the window surface requires.
	InstanceExtensions []string
	CreateSurface      SurfaceFactory
	// Validation enables VK_LAYER_KHRONOS_validation and the debug report
	// callback.
	Validation bool
}

// VulkanContext holds the instance level objects shared by the device and
// the swapchain.
type VulkanContext struct {
	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks
	Surface   vk.Surface

	debugMessenger vk.DebugReportCallback
	validation     bool
}

func NewContext(config *ContextConfig) (*VulkanContext, error) {
	if config.ProcAddr == nil {
		err := fmt.Errorf("func NewContext - GetInstanceProcAddress is nil")
		core.LogError(err.Error())
		return nil, err
	}
	vk.SetGetInstanceProcAddr(config.ProcAddr)
	if err := vk.Init(); err != nil {
		err = fmt.Errorf("func NewContext - failed to initialize vk: %w", err)
		core.LogError(err.Error())
		return nil, err
	}

	context := &VulkanContext{validation: config.Validation}

	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 2, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(config.ApplicationName),
		PEngineName:        VulkanSafeString("HybridRT"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	extensions := append([]string{"VK_KHR_surface"}, config.InstanceExtensions...)
	if runtime.GOOS == "darwin" {
		extensions = append(extensions, "VK_KHR_portability_enumeration", "VK_KHR_get_physical_device_properties2")
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}
	var layers []string
	if config.Validation {
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
		layers = []string{"VK_LAYER_KHRONOS_validation"}
		if err := checkLayers(layers); err != nil {
			return nil, err
		}
	}
	for _, e := range extensions {
		core.LogDebug("instance extension: %s", e)
	}
	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(extensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	if res := vk.CreateInstance(&createInfo, context.Allocator, &context.Instance); res != vk.Success {
		err := fmt.Errorf("func NewContext - %w", resultError("vkCreateInstance", res))
		core.LogError(err.Error())
		return nil, err
	}
	if err := vk.InitInstance(context.Instance); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	core.LogInfo("Vulkan Instance created.")

	if config.Validation {
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if err := vk.Error(vk.CreateDebugReportCallback(context.Instance, &debugCreateInfo, nil, &dbg)); err != nil {
			core.LogError("vk.CreateDebugReportCallback failed with %s", err)
			context.Destroy()
			return nil, err
		}
		context.debugMessenger = dbg
		core.LogDebug("Vulkan debugger created.")
	}

	surface, err := config.CreateSurface(context.Instance)
	if err != nil || surface == 0 {
		err = fmt.Errorf("func NewContext - window surface creation failed: %v", err)
		core.LogError(err.Error())
		context.Destroy()
		return nil, err
	}
	context.Surface = vk.SurfaceFromPointer(surface)
	core.LogDebug("Vulkan surface created.")

	return context, nil
}

func checkLayers(required []string) error {
	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success {
		return resultError("vkEnumerateInstanceLayerProperties", res)
	}
	available := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, available); res != vk.Success {
		return resultError("vkEnumerateInstanceLayerProperties", res)
	}
	for _, name := range required {
		found := false
		for i := range available {
			available[i].Deref()
			if cString(available[i].LayerName[:]) == name {
				found = true
				break
			}
		}
		if !found {
			err := fmt.Errorf("required validation layer is missing: %s", name)
			core.LogError(err.Error())
			return err
		}
	}
	return nil
}

// Destroy releases the surface, the debug callback and the instance. The
// device must already be gone.
func (vc *VulkanContext) Destroy() {
	if vc.Surface != vk.NullSurface {
		vk.DestroySurface(vc.Instance, vc.Surface, vc.Allocator)
		vc.Surface = vk.NullSurface
	}
	if vc.debugMessenger != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(vc.Instance, vc.debugMessenger, vc.Allocator)
		vc.debugMessenger = vk.NullDebugReportCallback
	}
	if vc.Instance != nil {
		vk.DestroyInstance(vc.Instance, vc.Allocator)
		vc.Instance = nil
	}
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
