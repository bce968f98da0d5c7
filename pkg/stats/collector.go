package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jdziat/docflow/pkg/core"
	"github.com/jdziat/docflow/pkg/queue"
)

// Source is the queue surface the collector observes.
type Source interface {
	Events() <-chan core.Event
	Unsubscribe(<-chan core.Event)
	Stats() queue.Stats
}

// Collector subscribes to queue events and periodically snapshots queue depth.
type Collector struct {
	source    Source
	stats     Storage
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	counters map[core.InputFormat]*Counters

	// ready is closed once the collector has subscribed to events.
	ready     chan struct{}
	readyOnce sync.Once
}

// CollectorOption configures the Collector.
type CollectorOption interface {
	apply(*Collector)
}

type collectorOptionFunc func(*Collector)

func (f collectorOptionFunc) apply(c *Collector) { f(c) }

// WithRetention sets how long stats rows are kept. Zero keeps them forever.
func WithRetention(d time.Duration) CollectorOption {
	return collectorOptionFunc(func(c *Collector) {
		c.retention = d
	})
}

// WithInterval sets how often counters are flushed and depth is sampled.
func WithInterval(d time.Duration) CollectorOption {
	return collectorOptionFunc(func(c *Collector) {
		if d > 0 {
			c.interval = d
		}
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) CollectorOption {
	return collectorOptionFunc(func(c *Collector) {
		if l != nil {
			c.logger = l
		}
	})
}

// NewCollector creates a new Collector.
func NewCollector(source Source, stats Storage, opts ...CollectorOption) *Collector {
	c := &Collector{
		source:    source,
		stats:     stats,
		retention: 7 * 24 * time.Hour,
		interval:  time.Minute,
		logger:    slog.Default(),
		counters:  make(map[core.InputFormat]*Counters),
		ready:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt.apply(c)
	}
	return c
}

// WaitReady blocks until the collector has subscribed to events.
func (c *Collector) WaitReady() {
	<-c.ready
}

// Start begins the event listener and periodic snapshot ticker.
// Blocks until ctx is cancelled, then flushes pending counters.
func (c *Collector) Start(ctx context.Context) {
	events := c.source.Events()
	defer c.source.Unsubscribe(events)

	c.readyOnce.Do(func() { close(c.ready) })

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			c.Flush(flushCtx)
			cancel()
			return
		case e := <-events:
			c.handleEvent(e)
		case <-ticker.C:
			c.Flush(ctx)
			c.snapshot(ctx)
			c.prune(ctx)
		}
	}
}

func (c *Collector) handleEvent(e core.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev := e.(type) {
	case *core.JobCompleted:
		ctr := c.countersFor(ev.Job.Format)
		ctr.Completed++
		ctr.DurationMS += ev.Job.DurationMS
	case *core.JobFailed:
		if ev.Job.Cancelled() {
			c.countersFor(ev.Job.Format).Cancelled++
		} else {
			c.countersFor(ev.Job.Format).Failed++
		}
	}
}

func (c *Collector) countersFor(format core.InputFormat) *Counters {
	ctr, ok := c.counters[format]
	if !ok {
		ctr = &Counters{}
		c.counters[format] = ctr
	}
	return ctr
}

// Flush writes accumulated counters to the stats storage.
func (c *Collector) Flush(ctx context.Context) {
	c.mu.Lock()
	batch := c.counters
	c.counters = make(map[core.InputFormat]*Counters)
	c.mu.Unlock()

	ts := time.Now()
	for format, ctr := range batch {
		if ctr.IsZero() {
			continue
		}
		if err := c.stats.UpsertCounters(ctx, format, ts, *ctr); err != nil {
			c.logger.Warn("failed to write conversion stats", "format", format, "error", err)
		}
	}
}

func (c *Collector) snapshot(ctx context.Context) {
	qs := c.source.Stats()
	if err := c.stats.SnapshotDepth(ctx, time.Now(), int64(qs.Pending), int64(qs.Processing)); err != nil {
		c.logger.Warn("failed to snapshot queue depth", "error", err)
	}
}

func (c *Collector) prune(ctx context.Context) {
	if c.retention > 0 {
		_, _ = c.stats.PruneStats(ctx, time.Now().Add(-c.retention))
	}
}
