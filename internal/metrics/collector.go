package metrics

import (
	"context"
	"runtime"
	"time"
)

// StateProvider reports the current size of the local projection for the
// state gauges.
type StateProvider interface {
	UnreadCount() int
	NotificationCount() int
	AgentCount() int
}

// Collector periodically refreshes gauges that track projection size and
// process health.
type Collector struct {
	metrics   *Metrics
	state     StateProvider
	interval  time.Duration
	startTime time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewCollector creates a new gauge collector.
func NewCollector(m *Metrics, state StateProvider, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Collector{
		metrics:   m,
		state:     state,
		interval:  interval,
		startTime: time.Now(),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the collector background loop.
func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

// Stop stops the collector and waits for the loop to exit.
func (c *Collector) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

func (c *Collector) run(ctx context.Context) {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

func (c *Collector) collect() {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.state != nil {
		c.metrics.UnreadNotifications.Set(float64(c.state.UnreadCount()))
		c.metrics.NotificationsHeld.Set(float64(c.state.NotificationCount()))
		c.metrics.AgentsTracked.Set(float64(c.state.AgentCount()))
	}
}
