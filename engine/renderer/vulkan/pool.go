package vulkan

import "sync"

type LockGroup string

const (
	PipelineManagement  LockGroup = "pipeline_management"
	SwapchainManagement LockGroup = "swapchain_management"
)

// VulkanLockPool serializes access to externally synchronized Vulkan
// objects: queues, keyed by family, and groups of object creation calls.
type VulkanLockPool struct {
	locks map[LockGroup]*sync.Mutex
	mu    sync.Mutex // protects both maps

	queueMutexes map[uint32]*sync.Mutex
}

func NewVulkanLockPool() *VulkanLockPool {
	return &VulkanLockPool{
		locks:        make(map[LockGroup]*sync.Mutex),
		queueMutexes: make(map[uint32]*sync.Mutex),
	}
}

func (vs *VulkanLockPool) group(group LockGroup) *sync.Mutex {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if _, exists := vs.locks[group]; !exists {
		vs.locks[group] = &sync.Mutex{}
	}
	return vs.locks[group]
}

func (vs *VulkanLockPool) SafeCall(group LockGroup, fn func() error) error {
	l := vs.group(group)
	l.Lock()
	defer l.Unlock()
	return fn()
}

func (vs *VulkanLockPool) SetQueueFamily(index uint32) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if _, exists := vs.queueMutexes[index]; !exists {
		vs.queueMutexes[index] = &sync.Mutex{}
	}
}

// SafeQueueCall runs fn holding the family's queue lock. Present and submit
// may share a family.
func (vs *VulkanLockPool) SafeQueueCall(queueFamilyIndex uint32, fn func() error) error {
	vs.mu.Lock()
	l, ok := vs.queueMutexes[queueFamilyIndex]
	if !ok {
		l = &sync.Mutex{}
		vs.queueMutexes[queueFamilyIndex] = l
	}
	vs.mu.Unlock()

	l.Lock()
	defer l.Unlock()
	return fn()
}
