// Package vulkan implements the gpu abstraction on top of Vulkan. D3D12 concepts that
// have no direct Vulkan equivalent are emulated: fences are timelines of VkFence objects
// signaled by empty submissions, every descriptor heap slot owns a descriptor set, and a
// render pass is opened when render targets are bound and closed by the transition of
// the back buffer to the present state.
package vulkan

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

// Surface is the window the swapchain presents into. *glfw.Window satisfies the last
// two methods.
type Surface interface {
	InstanceProcAddr() unsafe.Pointer
	GetRequiredInstanceExtensions() []string
	CreateWindowSurface(instance interface{}, allocCallbacks unsafe.Pointer) (uintptr, error)
}

type config struct {
	appName    string
	validation bool
}

type Option func(*config)

func WithApplicationName(name string) Option {
	return func(c *config) { c.appName = name }
}

// WithValidation enables VK_LAYER_KHRONOS_validation and routes its reports to the log.
func WithValidation(enabled bool) Option {
	return func(c *config) { c.validation = enabled }
}

var initOnce sync.Once
var initErr error

type physicalDevice struct {
	handle      vk.PhysicalDevice
	properties  vk.PhysicalDeviceProperties
	features    vk.PhysicalDeviceFeatures
	memory      vk.PhysicalDeviceMemoryProperties
	queueFamily int32
	desc        gpu.AdapterDesc
}

type Factory struct {
	cfg      config
	instance vk.Instance
	debug    vk.DebugReportCallback
	surface  vk.Surface
	adapters []*physicalDevice
}

func NewFactory(surface Surface, opts ...Option) (*Factory, error) {
	cfg := config{appName: "Ember"}
	for _, opt := range opts {
		opt(&cfg)
	}

	initOnce.Do(func() {
		procAddr := surface.InstanceProcAddr()
		if procAddr == nil {
			initErr = fmt.Errorf("GetInstanceProcAddress is nil")
			return
		}
		vk.SetGetInstanceProcAddr(procAddr)
		initErr = vk.Init()
	})
	if initErr != nil {
		return nil, fmt.Errorf("failed to initialize vulkan: %w", initErr)
	}

	f := &Factory{cfg: cfg}
	if err := f.createInstance(surface.GetRequiredInstanceExtensions()); err != nil {
		f.Release()
		return nil, err
	}

	core.LogDebug("Creating Vulkan surface...")
	ptr, err := surface.CreateWindowSurface(f.instance, nil)
	if err != nil {
		f.Release()
		return nil, fmt.Errorf("failed to create window surface: %w", err)
	}
	f.surface = vk.SurfaceFromPointer(ptr)

	if err := f.enumeratePhysicalDevices(); err != nil {
		f.Release()
		return nil, err
	}
	return f, nil
}

func (f *Factory) createInstance(windowExtensions []string) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   safeString(f.cfg.appName),
		PEngineName:        safeString("Ember"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	extensions := append([]string{"VK_KHR_surface"}, windowExtensions...)
	if runtime.GOOS == "darwin" {
		extensions = append(extensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		createInfo.Flags |= 1 // VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
	}

	var layers []string
	if f.cfg.validation {
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
		layers = []string{"VK_LAYER_KHRONOS_validation"}
		if err := requireLayers(layers); err != nil {
			return err
		}
	}
	for _, ext := range extensions {
		core.LogDebug("Required extension: %s", ext)
	}

	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = safeStrings(extensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = safeStrings(layers)

	var instance vk.Instance
	if err := check("vkCreateInstance", vk.CreateInstance(&createInfo, nil, &instance)); err != nil {
		return err
	}
	f.instance = instance
	if err := vk.InitInstance(instance); err != nil {
		return err
	}
	core.LogInfo("Vulkan Instance created.")

	if f.cfg.validation {
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if err := check("vkCreateDebugReportCallback", vk.CreateDebugReportCallback(instance, &debugCreateInfo, nil, &dbg)); err != nil {
			return err
		}
		f.debug = dbg
		core.LogDebug("Vulkan debugger created.")
	}
	return nil
}

func requireLayers(required []string) error {
	var count uint32
	if err := check("vkEnumerateInstanceLayerProperties", vk.EnumerateInstanceLayerProperties(&count, nil)); err != nil {
		return err
	}
	available := make([]vk.LayerProperties, count)
	if err := check("vkEnumerateInstanceLayerProperties", vk.EnumerateInstanceLayerProperties(&count, available)); err != nil {
		return err
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
			return fmt.Errorf("required validation layer is missing: %s", name)
		}
	}
	core.LogInfo("All required validation layers are present.")
	return nil
}

func (f *Factory) enumeratePhysicalDevices() error {
	var count uint32
	if err := check("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(f.instance, &count, nil)); err != nil {
		return err
	}
	handles := make([]vk.PhysicalDevice, count)
	if err := check("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(f.instance, &count, handles)); err != nil {
		return err
	}

	for _, h := range handles {
		pd := &physicalDevice{handle: h, queueFamily: -1}
		vk.GetPhysicalDeviceProperties(h, &pd.properties)
		pd.properties.Deref()
		vk.GetPhysicalDeviceFeatures(h, &pd.features)
		pd.features.Deref()
		vk.GetPhysicalDeviceMemoryProperties(h, &pd.memory)
		pd.memory.Deref()

		pd.queueFamily = f.graphicsPresentFamily(h)
		pd.desc = gpu.AdapterDesc{
			Name:                 cString(pd.properties.DeviceName[:]),
			VendorID:             pd.properties.VendorID,
			DeviceID:             pd.properties.DeviceID,
			DedicatedVideoMemory: deviceLocalMemory(&pd.memory),
			Software:             pd.properties.DeviceType == vk.PhysicalDeviceTypeCpu,
			MaxFeatureLevel:      featureLevel(pd),
		}
		core.LogInfo("Adapter %q: type %d, api %d.%d.%d, %d MiB local",
			pd.desc.Name, pd.properties.DeviceType,
			vk.Version(pd.properties.ApiVersion).Major(),
			vk.Version(pd.properties.ApiVersion).Minor(),
			vk.Version(pd.properties.ApiVersion).Patch(),
			pd.desc.DedicatedVideoMemory>>20)
		f.adapters = append(f.adapters, pd)
	}
	return nil
}

// graphicsPresentFamily returns the first queue family that can both draw and present to
// the surface, or -1.
func (f *Factory) graphicsPresentFamily(device vk.PhysicalDevice) int32 {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &count, nil)
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &count, families)

	for i := range families {
		families[i].Deref()
		if vk.QueueFlagBits(families[i].QueueFlags)&vk.QueueGraphicsBit == 0 {
			continue
		}
		var supportsPresent vk.Bool32
		if res := vk.GetPhysicalDeviceSurfaceSupport(device, uint32(i), f.surface, &supportsPresent); res != vk.Success {
			continue
		}
		if supportsPresent == vk.True {
			return int32(i)
		}
	}
	return -1
}

func deviceLocalMemory(memory *vk.PhysicalDeviceMemoryProperties) uint64 {
	var total uint64
	for i := uint32(0); i < memory.MemoryHeapCount; i++ {
		memory.MemoryHeaps[i].Deref()
		if vk.MemoryHeapFlagBits(memory.MemoryHeaps[i].Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
			total += uint64(memory.MemoryHeaps[i].Size)
		}
	}
	return total
}

// featureLevel maps what the device offers onto the D3D feature level ladder. A device
// that cannot present or lacks a swapchain gets nothing.
func featureLevel(pd *physicalDevice) gpu.FeatureLevel {
	if pd.queueFamily < 0 || !hasDeviceExtension(pd.handle, vk.KhrSwapchainExtensionName) {
		return 0
	}
	api := vk.Version(pd.properties.ApiVersion)
	switch {
	case api.Major() > 1 || api.Minor() >= 3:
		return gpu.FeatureLevel12_1
	case api.Minor() == 2:
		return gpu.FeatureLevel12_0
	case api.Minor() == 1:
		return gpu.FeatureLevel11_1
	}
	return gpu.FeatureLevel11_0
}

func hasDeviceExtension(device vk.PhysicalDevice, name string) bool {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, nil); res != vk.Success {
		return false
	}
	available := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, available); res != vk.Success {
		return false
	}
	for i := range available {
		available[i].Deref()
		if cString(available[i].ExtensionName[:]) == name {
			return true
		}
	}
	return false
}

func (f *Factory) EnumAdapters() ([]gpu.AdapterDesc, error) {
	out := make([]gpu.AdapterDesc, len(f.adapters))
	for i, pd := range f.adapters {
		out[i] = pd.desc
	}
	return out, nil
}

func (f *Factory) CreateDevice(adapter uint32, level gpu.FeatureLevel) (gpu.Device, error) {
	if int(adapter) >= len(f.adapters) {
		return nil, fmt.Errorf("adapter %d not found", adapter)
	}
	pd := f.adapters[adapter]
	if pd.desc.MaxFeatureLevel < level {
		return nil, fmt.Errorf("adapter %q supports feature level %s, %s requested", pd.desc.Name, pd.desc.MaxFeatureLevel, level)
	}
	return newDevice(pd)
}

func (f *Factory) CreateSwapChain(device gpu.Device, queue gpu.CommandQueue, desc gpu.SwapChainDesc) (gpu.SwapChain, error) {
	d, ok := device.(*Device)
	if !ok {
		return nil, fmt.Errorf("device %T does not belong to the vulkan backend", device)
	}
	if _, ok := queue.(*CommandQueue); !ok {
		return nil, fmt.Errorf("queue %T does not belong to the vulkan backend", queue)
	}
	return newSwapChain(d, f.surface, desc)
}

func (f *Factory) Release() {
	if f.surface != nil {
		vk.DestroySurface(f.instance, f.surface, nil)
		f.surface = nil
	}
	if f.debug != nil {
		vk.DestroyDebugReportCallback(f.instance, f.debug, nil)
		f.debug = nil
	}
	if f.instance != nil {
		vk.DestroyInstance(f.instance, nil)
		f.instance = nil
	}
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogInfo("INFORMATION: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.False
}
