package vulkan

import (
	"fmt"
	"sort"
	"sync"

	vk "github.com/goki/vulkan"
)

var resultNames = map[vk.Result]string{
	vk.Success:                   "VK_SUCCESS",
	vk.NotReady:                  "VK_NOT_READY",
	vk.Timeout:                   "VK_TIMEOUT",
	vk.Incomplete:                "VK_INCOMPLETE",
	vk.Suboptimal:                "VK_SUBOPTIMAL_KHR",
	vk.ErrorOutOfHostMemory:      "VK_ERROR_OUT_OF_HOST_MEMORY",
	vk.ErrorOutOfDeviceMemory:    "VK_ERROR_OUT_OF_DEVICE_MEMORY",
	vk.ErrorInitializationFailed: "VK_ERROR_INITIALIZATION_FAILED",
	vk.ErrorDeviceLost:           "VK_ERROR_DEVICE_LOST",
	vk.ErrorMemoryMapFailed:      "VK_ERROR_MEMORY_MAP_FAILED",
	vk.ErrorLayerNotPresent:      "VK_ERROR_LAYER_NOT_PRESENT",
	vk.ErrorExtensionNotPresent:  "VK_ERROR_EXTENSION_NOT_PRESENT",
	vk.ErrorFeatureNotPresent:    "VK_ERROR_FEATURE_NOT_PRESENT",
	vk.ErrorIncompatibleDriver:   "VK_ERROR_INCOMPATIBLE_DRIVER",
	vk.ErrorTooManyObjects:       "VK_ERROR_TOO_MANY_OBJECTS",
	vk.ErrorFormatNotSupported:   "VK_ERROR_FORMAT_NOT_SUPPORTED",
	vk.ErrorFragmentedPool:       "VK_ERROR_FRAGMENTED_POOL",
	vk.ErrorSurfaceLost:          "VK_ERROR_SURFACE_LOST_KHR",
	vk.ErrorNativeWindowInUse:    "VK_ERROR_NATIVE_WINDOW_IN_USE_KHR",
	vk.ErrorOutOfDate:            "VK_ERROR_OUT_OF_DATE_KHR",
	vk.ErrorOutOfPoolMemory:      "VK_ERROR_OUT_OF_POOL_MEMORY",
	vk.ErrorUnknown:              "VK_ERROR_UNKNOWN",
}

// ResultString names a VkResult the way the validation layers print it.
func ResultString(result vk.Result) string {
	if name, ok := resultNames[result]; ok {
		return name
	}
	return fmt.Sprintf("VkResult(%d)", int32(result))
}

func ResultIsSuccess(result vk.Result) bool {
	return result >= 0
}

// check turns a failed VkResult into an error naming the call.
func check(op string, result vk.Result) error {
	if ResultIsSuccess(result) {
		return nil
	}
	return fmt.Errorf("%s failed with %s", op, ResultString(result))
}

var end = "\x00"

func safeString(s string) string {
	if len(s) == 0 || s[len(s)-1] != end[0] {
		return s + end
	}
	return s
}

func safeStrings(list []string) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = safeString(list[i])
	}
	return out
}

func cString(arr []byte) string {
	for i, b := range arr {
		if b == 0 {
			return string(arr[:i])
		}
	}
	return string(arr)
}

// rangeTable hands out disjoint address ranges and maps any address inside a range back
// to its owner. It backs both buffer virtual addresses and descriptor handles.
type rangeTable[T any] struct {
	mu     sync.Mutex
	next   uint64
	align  uint64
	ranges []tableRange[T]
}

type tableRange[T any] struct {
	base  uint64
	size  uint64
	owner T
}

func newRangeTable[T any](base, align uint64) *rangeTable[T] {
	return &rangeTable[T]{next: base, align: align}
}

func (t *rangeTable[T]) Insert(size uint64, owner T) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if size == 0 {
		size = 1
	}
	base := t.next
	t.next = (base + size + t.align - 1) / t.align * t.align
	// Bases grow monotonically so the slice stays sorted.
	t.ranges = append(t.ranges, tableRange[T]{base: base, size: size, owner: owner})
	return base
}

func (t *rangeTable[T]) Lookup(addr uint64) (owner T, offset uint64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := sort.Search(len(t.ranges), func(i int) bool {
		return t.ranges[i].base+t.ranges[i].size > addr
	})
	if i == len(t.ranges) || addr < t.ranges[i].base {
		return owner, 0, false
	}
	return t.ranges[i].owner, addr - t.ranges[i].base, true
}

func (t *rangeTable[T]) Remove(base uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.ranges {
		if t.ranges[i].base == base {
			t.ranges = append(t.ranges[:i], t.ranges[i+1:]...)
			return
		}
	}
}

func clamp(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
