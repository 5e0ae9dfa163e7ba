// Package retention runs the periodic sweep that applies the size- and
// time-based deletion policies. The policies themselves live with the
// aggregates that own the data (Topic.EnforceRetention); this package only
// owns the ticker loop and the registry of things to sweep.
package retention

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Target is anything whose retention policies can be enforced at a point in
// time. stream.Stream and topic.Topic both satisfy it.
type Target interface {
	EnforceRetention(nowMicros uint64)
}

type CleanerConfig struct {
	CheckInterval time.Duration
}

// Cleaner periodically calls EnforceRetention on every registered target.
// A storage failure inside a sweep is logged by the target and retried on
// the next tick; the cleaner itself never stops on error.
type Cleaner struct {
	mu      sync.Mutex
	targets []Target
	config  CleanerConfig
	logger  *zap.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewCleaner(config CleanerConfig, logger *zap.Logger) *Cleaner {
	if config.CheckInterval <= 0 {
		config.CheckInterval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cleaner{
		targets: make([]Target, 0),
		config:  config,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

func (c *Cleaner) Register(t Target) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targets = append(c.targets, t)
}

func (c *Cleaner) Start() {
	c.logger.Info("retention cleaner started",
		zap.Duration("check_interval", c.config.CheckInterval))
	c.wg.Add(1)
	go c.run()
}

func (c *Cleaner) run() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.SweepAll(uint64(time.Now().UnixMicro()))
		case <-c.stopCh:
			return
		}
	}
}

// SweepAll enforces retention on every registered target once. Exported so
// administrative commands and tests can trigger an immediate sweep instead
// of waiting for the ticker.
func (c *Cleaner) SweepAll(nowMicros uint64) {
	c.mu.Lock()
	targets := make([]Target, len(c.targets))
	copy(targets, c.targets)
	c.mu.Unlock()

	for _, t := range targets {
		t.EnforceRetention(nowMicros)
	}
}

func (c *Cleaner) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}
