package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/holonode/pkg/log"
	"github.com/cuemby/holonode/pkg/types"
	"github.com/rs/zerolog"
)

// AppLister is the slice of the admin endpoint the collector polls
type AppLister interface {
	ListApps(ctx context.Context) ([]*types.AppInfo, error)
}

// Collector periodically samples installed apps from the host
type Collector struct {
	admin    AppLister
	interval time.Duration
	logger   zerolog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewCollector creates a new metrics collector
func NewCollector(admin AppLister, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		admin:    admin,
		interval: interval,
		logger:   log.WithComponent("metrics"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		defer close(c.doneCh)
		defer ticker.Stop()

		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop stops the collector and waits for the loop to exit.
// It is safe to call more than once.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		<-c.doneCh
	})
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), c.interval)
	defer cancel()

	apps, err := c.admin.ListApps(ctx)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Failed to list apps")
		UpdateComponent(ComponentAdmin, false, err.Error())
		return
	}
	UpdateComponent(ComponentAdmin, true, "")

	counts := map[types.AppStatus]int{
		types.AppStatusRunning:  0,
		types.AppStatusDisabled: 0,
	}
	for _, app := range apps {
		counts[app.Status]++
	}
	for status, n := range counts {
		InstalledApps.WithLabelValues(string(status)).Set(float64(n))
	}
}
