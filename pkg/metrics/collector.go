package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Mode is the collector's polling mode. Diagnostics switches the
// collector to low mode when analysis quality degrades, slowing the
// drain so that alert processing gets headroom.
type Mode int

// Collector modes.
const (
	ModeNormal Mode = iota
	ModeLow
)

// QualityRecord is one credibility sample for a cell.
type QualityRecord struct {
	CellID      string
	Credibility float64
	TimestampMS int64
}

// Collector accepts quality records on a bounded channel and drains
// them to a consumer on a self-adjusting interval.
type Collector struct {
	metrics *Metrics
	ch      chan QualityRecord

	mu       sync.Mutex
	mode     Mode
	normal   time.Duration
	low      time.Duration
	consumer func(QualityRecord)
}

// NewCollector creates a collector with the given channel capacity and
// polling intervals. consumer may be nil (records are drained and
// counted only).
func NewCollector(m *Metrics, capacity int, normal, low time.Duration, consumer func(QualityRecord)) *Collector {
	if capacity <= 0 {
		capacity = 256
	}
	return &Collector{
		metrics:  m,
		ch:       make(chan QualityRecord, capacity),
		normal:   normal,
		low:      low,
		consumer: consumer,
	}
}

// SetConsumer installs the drain target. Called once during wiring,
// before Run.
func (c *Collector) SetConsumer(fn func(QualityRecord)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumer = fn
}

// Publish offers a record to the collector without blocking. Records
// are dropped (and counted) when the channel is full.
func (c *Collector) Publish(r QualityRecord) {
	select {
	case c.ch <- r:
		c.metrics.QualityRecords.Inc()
	default:
		c.metrics.QualityDropped.Inc()
	}
}

// SetMode switches the polling interval. Called by diagnostics.
func (c *Collector) SetMode(m Mode) {
	c.mu.Lock()
	changed := c.mode != m
	c.mode = m
	c.mu.Unlock()
	if !changed {
		return
	}
	if m == ModeLow {
		c.metrics.CollectorLowMode.Set(1)
		slog.Warn("Quality collector switched to low mode")
	} else {
		c.metrics.CollectorLowMode.Set(0)
		slog.Info("Quality collector back to normal mode")
	}
}

// Mode returns the current polling mode.
func (c *Collector) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *Collector) interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == ModeLow {
		return c.low
	}
	return c.normal
}

// Run drains the channel until ctx is cancelled. Each tick drains all
// buffered records, then sleeps for the mode's interval.
func (c *Collector) Run(ctx context.Context) {
	for {
		timer := time.NewTimer(c.interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			c.drain()
		}
	}
}

func (c *Collector) drain() {
	c.mu.Lock()
	consume := c.consumer
	c.mu.Unlock()
	for {
		select {
		case r := <-c.ch:
			if consume != nil {
				consume(r)
			}
		default:
			return
		}
	}
}
