package progress

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// DefaultInterval is how often a running transfer is observed
const DefaultInterval = 3 * time.Second

// minElapsed keeps the average rate finite for a transfer observed at t=0
const minElapsed = time.Nanosecond

// Progress holds the counters of one in-flight transfer. Transferred is
// written only by the copy loop; the reporter reads it and swaps the sample
// snapshot.
type Progress struct {
	ClientID   string
	TransferID string
	Name       string
	Expected   int64
	StartTime  time.Time

	transferred atomic.Int64
	lastSample  atomic.Int64
}

// New creates the progress record for a transfer starting now
func New(clientID, transferID, name string, expected int64) *Progress {
	return &Progress{
		ClientID:   clientID,
		TransferID: transferID,
		Name:       name,
		Expected:   expected,
		StartTime:  time.Now(),
	}
}

// Add atomically adds bytes to the transferred count
func (p *Progress) Add(bytes int64) {
	if bytes > 0 {
		p.transferred.Add(bytes)
	}
}

// Set raises the transferred count to total. Lower values are ignored so the
// counter never goes backwards.
func (p *Progress) Set(total int64) {
	for {
		cur := p.transferred.Load()
		if total <= cur || p.transferred.CompareAndSwap(cur, total) {
			return
		}
	}
}

// Transferred returns the current transferred count
func (p *Progress) Transferred() int64 {
	return p.transferred.Load()
}

// swapSample moves the sample snapshot up to cur and returns the previous
// snapshot. A concurrent sampler that loaded an older count cannot move it
// back down.
func (p *Progress) swapSample(cur int64) int64 {
	for {
		prev := p.lastSample.Load()
		if prev >= cur {
			return prev
		}
		if p.lastSample.CompareAndSwap(prev, cur) {
			return prev
		}
	}
}

// Observation is one progress sample of a transfer
type Observation struct {
	ClientID    string
	TransferID  string
	Name        string
	Elapsed     time.Duration
	Instant     float64 // bytes per second over the last window
	Average     float64 // bytes per second since the start
	Transferred int64
	Expected    int64
	Final       bool
}

func (o Observation) String() string {
	return fmt.Sprintf("[%s] %s | t=%.2fs | inst=%s/s | avg=%s/s | %d/%d",
		o.ClientID, o.Name, o.Elapsed.Seconds(),
		humanize.IBytes(uint64(o.Instant)), humanize.IBytes(uint64(o.Average)),
		o.Transferred, o.Expected)
}

// Sink receives observations
type Sink interface {
	Observe(o Observation)
}

// SinkFunc adapts a function to a Sink
type SinkFunc func(o Observation)

func (f SinkFunc) Observe(o Observation) { f(o) }

// LogSink writes observations as structured log records
type LogSink struct {
	Log *slog.Logger
}

func (s LogSink) Observe(o Observation) {
	msg := "Transfer progress"
	if o.Final {
		msg = "Transfer progress final"
	}
	s.Log.LogAttrs(context.Background(), slog.LevelInfo, msg,
		slog.String("client", o.ClientID),
		slog.String("transfer_id", o.TransferID),
		slog.String("file", o.Name),
		slog.String("elapsed", fmt.Sprintf("%.2fs", o.Elapsed.Seconds())),
		slog.String("inst_rate", humanize.IBytes(uint64(o.Instant))+"/s"),
		slog.String("avg_rate", humanize.IBytes(uint64(o.Average))+"/s"),
		slog.Int64("transferred", o.Transferred),
		slog.Int64("expect", o.Expected))
}

// Reporter states
const (
	reporterIdle int32 = iota
	reporterTicking
	reporterFinishPending
	reporterFinished
)

// Reporter periodically observes one Progress and guarantees a single
// terminal observation that comes after every periodic one. No lock is held
// while the sink runs: a Finish that lands during a tick hands the terminal
// observation to that tick and returns.
type Reporter struct {
	progress *Progress
	sink     Sink
	interval time.Duration
	now      func() time.Time

	handle *Handle
	state  atomic.Int32
}

// NewReporter creates a reporter for progress emitting to sink
func NewReporter(progress *Progress, sink Sink, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reporter{
		progress: progress,
		sink:     sink,
		interval: interval,
		now:      time.Now,
	}
}

// Start registers the periodic observation on the scheduler
func (r *Reporter) Start(s *Scheduler) {
	r.handle = s.Every(r.interval, r.tick)
}

func (r *Reporter) tick() {
	if !r.state.CompareAndSwap(reporterIdle, reporterTicking) {
		return
	}
	r.sink.Observe(r.Sample(false))
	if r.state.CompareAndSwap(reporterTicking, reporterIdle) {
		return
	}
	// Finish was called while we were observing
	r.emitFinal()
}

func (r *Reporter) emitFinal() {
	r.state.Store(reporterFinished)
	r.sink.Observe(r.Sample(true))
}

// Finish cancels the periodic observation and emits the terminal one, or
// leaves it to a periodic observation still in progress. Only the first
// call has any effect.
func (r *Reporter) Finish() {
	if r.handle != nil {
		r.handle.Cancel()
	}
	for {
		switch r.state.Load() {
		case reporterIdle:
			if r.state.CompareAndSwap(reporterIdle, reporterFinished) {
				r.sink.Observe(r.Sample(true))
				return
			}
		case reporterTicking:
			if r.state.CompareAndSwap(reporterTicking, reporterFinishPending) {
				return
			}
		default:
			return
		}
	}
}

// Sample computes the current observation and moves the sample snapshot
func (r *Reporter) Sample(final bool) Observation {
	p := r.progress
	elapsed := r.now().Sub(p.StartTime)
	cur := p.transferred.Load()
	prev := p.swapSample(cur)

	window := r.interval
	if elapsed < window {
		window = elapsed
	}
	if window < minElapsed {
		window = minElapsed
	}
	avgWindow := elapsed
	if avgWindow < minElapsed {
		avgWindow = minElapsed
	}

	return Observation{
		ClientID:    p.ClientID,
		TransferID:  p.TransferID,
		Name:        p.Name,
		Elapsed:     elapsed,
		Instant:     float64(max(cur-prev, 0)) / window.Seconds(),
		Average:     float64(cur) / avgWindow.Seconds(),
		Transferred: cur,
		Expected:    p.Expected,
		Final:       final,
	}
}
