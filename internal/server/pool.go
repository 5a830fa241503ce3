package server

import (
	"context"
	"net"
	"sync"
)

// Pool runs connection handlers on a fixed number of workers fed from a
// bounded queue. Admission never blocks: when every worker is busy and the
// queue is full, TrySubmit reports false and the caller disposes of the
// connection.
type Pool struct {
	jobs   chan net.Conn
	handle func(net.Conn)

	mu     sync.RWMutex
	closed bool

	wg   sync.WaitGroup
	done chan struct{}
}

// NewPool starts workers goroutines that call handle for each admitted
// connection. queue is the number of connections that may wait for a worker.
func NewPool(workers, queue int, handle func(net.Conn)) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}

	p := &Pool{
		jobs:   make(chan net.Conn, queue),
		handle: handle,
		done:   make(chan struct{}),
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	go func() {
		p.wg.Wait()
		close(p.done)
	}()

	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for conn := range p.jobs {
		p.handle(conn)
	}
}

// TrySubmit hands conn to an idle worker or the queue. It returns false when
// the pool is saturated or closed.
func (p *Pool) TrySubmit(conn net.Conn) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}

	select {
	case p.jobs <- conn:
		return true
	default:
		return false
	}
}

// Close stops admission. Connections already queued are still handled.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
}

// Wait blocks until every worker has exited or ctx is done. Workers exit only
// after Close.
func (p *Pool) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
