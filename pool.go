// SPDX-License-Identifier: GPL-3.0-or-later

package evloop

// completionPool is a single-threaded, arena-backed pool of
// [Completion] records (spec.md §3, §5 "Shared-resource policy": the
// pool is not lock-protected because the whole [EventLoop] is
// single-threaded). It grows in chunks and never shrinks.
type completionPool struct {
	free      *Completion // intrusive free-list, linked via (*Completion).next
	chunkSize int
	allocated int // total Completions ever allocated, for Stats
	inUse     int
}

func newCompletionPool(chunkSize int) *completionPool {
	if chunkSize <= 0 {
		chunkSize = 256
	}
	return &completionPool{chunkSize: chunkSize}
}

// get returns a zeroed [Completion] from the pool, growing the arena
// by chunkSize if the free-list is empty.
func (p *completionPool) get() *Completion {
	if p.free == nil {
		p.grow()
	}
	c := p.free
	p.free = c.next
	c.next = nil
	p.inUse++
	return c
}

// put returns c to the pool. c must not be a multi-shot poll
// completion still registered with the kernel (spec.md §3 Lifetime).
func (p *completionPool) put(c *Completion) {
	c.reset()
	c.state = statePooled
	c.next = p.free
	p.free = c
	p.inUse--
}

func (p *completionPool) grow() {
	for range p.chunkSize {
		c := &Completion{next: p.free}
		p.free = c
	}
	p.allocated += p.chunkSize
}

// Stats reports pool utilization, exposed via [EventLoop.Stats].
type Stats struct {
	Allocated int
	InUse     int
}

func (p *completionPool) stats() Stats {
	return Stats{Allocated: p.allocated, InUse: p.inUse}
}
