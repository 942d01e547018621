package nv

// semaphore is a binary notification semaphore. It is created empty, so a take
// blocks until the worker gives it.
type semaphore struct {
	ch      chan struct{}
	claimed bool
}

func (s *semaphore) give() {
	s.ch <- struct{}{}
}

// semaphorePool is a fixed set of notification semaphores, one claimed per in-flight
// synchronous request. acquire and release must be called under the owning device's
// bookkeeping mutex.
type semaphorePool struct {
	semaphores []semaphore
}

func newSemaphorePool(size int) *semaphorePool {
	pool := &semaphorePool{
		semaphores: make([]semaphore, size),
	}
	for i := range pool.semaphores {
		pool.semaphores[i].ch = make(chan struct{}, 1)
	}

	return pool
}

func (p *semaphorePool) acquire() *semaphore {
	for i := range p.semaphores {
		if !p.semaphores[i].claimed {
			p.semaphores[i].claimed = true
			return &p.semaphores[i]
		}
	}

	return nil
}

func (p *semaphorePool) release(sem *semaphore) {
	if sem != nil {
		sem.claimed = false
	}
}
