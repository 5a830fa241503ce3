package progress

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultSchedulerWorkers is the size of the shared reporting pool
const DefaultSchedulerWorkers = 5

// Scheduler runs periodic jobs for many transfers on a small shared pool of
// goroutines, separate from the connection workers. A job that stalls ties
// up one pool goroutine; ticks that find the pool busy are dropped.
type Scheduler struct {
	jobs chan func()
	log  *slog.Logger

	mu      sync.Mutex
	handles map[*Handle]struct{}
	stopped bool

	wg sync.WaitGroup
}

// Handle is one periodic registration
type Handle struct {
	scheduler *Scheduler
	stop      chan struct{}
	done      chan struct{}
	once      sync.Once
}

// NewScheduler starts a scheduler with the given number of pool goroutines
func NewScheduler(workers int, log *slog.Logger) *Scheduler {
	if workers <= 0 {
		workers = DefaultSchedulerWorkers
	}
	s := &Scheduler{
		jobs:    make(chan func(), workers),
		log:     log,
		handles: make(map[*Handle]struct{}),
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.run()
	}
	return s
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	for job := range s.jobs {
		s.execute(job)
	}
}

func (s *Scheduler) execute(job func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Progress job panicked", "panic", r)
		}
	}()
	job()
}

// Every runs fn every period until the returned handle is cancelled or the
// scheduler stops. The first run happens one period from now.
func (s *Scheduler) Every(period time.Duration, fn func()) *Handle {
	h := &Handle{
		scheduler: s,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		close(h.done)
		return h
	}
	s.handles[h] = struct{}{}
	s.mu.Unlock()

	go h.loop(period, fn)
	return h
}

func (h *Handle) loop(period time.Duration, fn func()) {
	defer close(h.done)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			select {
			case h.scheduler.jobs <- fn:
			case <-h.stop:
				return
			default:
				h.scheduler.log.Debug("Progress pool busy, skipping tick")
			}
		}
	}
}

// Cancel stops future runs and waits for the registration to wind down. A run
// already handed to the pool may still complete afterwards.
func (h *Handle) Cancel() {
	h.once.Do(func() {
		close(h.stop)
	})
	<-h.done

	s := h.scheduler
	s.mu.Lock()
	delete(s.handles, h)
	s.mu.Unlock()
}

// Stop cancels every registration and waits for the pool to drain
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	handles := make([]*Handle, 0, len(s.handles))
	for h := range s.handles {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
	close(s.jobs)
	s.wg.Wait()
}
