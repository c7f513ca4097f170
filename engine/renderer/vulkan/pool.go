package vulkan

import "sync"

type lockGroup string

// Vulkan requires external synchronization on queues, descriptor pools and command pools.
const (
	queueManagement       lockGroup = "queue_management"
	descriptorManagement  lockGroup = "descriptor_management"
	commandPoolManagement lockGroup = "command_pool_management"
	pipelineManagement    lockGroup = "pipeline_management"
)

// lockPool hands out one mutex per group of Vulkan objects.
type lockPool struct {
	mu    sync.Mutex
	locks map[lockGroup]*sync.Mutex
}

func newLockPool() *lockPool {
	return &lockPool{locks: make(map[lockGroup]*sync.Mutex)}
}

func (p *lockPool) lock(group lockGroup) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.locks[group]
	if !ok {
		l = &sync.Mutex{}
		p.locks[group] = l
	}
	return l
}

func (p *lockPool) SafeCall(group lockGroup, fn func() error) error {
	l := p.lock(group)
	l.Lock()
	defer l.Unlock()

	return fn()
}
