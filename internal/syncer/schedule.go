package syncer

import (
	"context"
	"time"

	"github.com/mesh-intelligence/stockroom/pkg/types"
)

// Start launches the periodic loop. Calling Start on a running coordinator
// is a no-op.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.baseCtx = loopCtx
	c.cancel = cancel
	c.running = true
	c.wg.Add(1)
	go c.loop(loopCtx)
	c.log.WithField("interval", c.intervalLocked()).Info("periodic sync started")
}

// Stop ends the periodic loop and cancels a pending debounce. It returns
// once every sync started by the loop or by a debounce has finished. An
// in-flight sync is abandoned through its context; its dirty bits stay set.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.epoch++
	c.stopDebounceLocked()
	wasRunning := c.running
	if wasRunning {
		c.running = false
		c.cancel()
	}
	c.mu.Unlock()

	c.wg.Wait()
	if !wasRunning {
		return
	}
	c.mu.Lock()
	c.baseCtx = context.Background()
	c.mu.Unlock()
	c.log.Info("periodic sync stopped")
}

// SchedulePeriodic changes the base cadence and (re)starts the loop.
func (c *Coordinator) SchedulePeriodic(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return types.ErrSyncIntervalInvalid
	}
	c.Stop()
	c.mu.Lock()
	c.cfg.Interval = interval
	c.mu.Unlock()
	c.Start(ctx)
	return nil
}

// Running reports whether the periodic loop is active.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// intervalLocked is the current cadence: the slow interval once
// consecutive failures reach the threshold.
func (c *Coordinator) intervalLocked() time.Duration {
	if c.record.ConsecutiveFailures >= c.cfg.FailureThreshold {
		return c.cfg.SlowInterval()
	}
	return c.cfg.Interval
}

func (c *Coordinator) loop(ctx context.Context) {
	defer c.wg.Done()

	c.mu.Lock()
	timer := time.NewTimer(c.intervalLocked())
	c.mu.Unlock()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			c.run(ctx, TriggerPeriodic)
			c.mu.Lock()
			next := c.intervalLocked()
			c.mu.Unlock()
			timer.Reset(next)
		}
	}
}

// Notify reports a local mutation. The sync runs once no further mutation
// has arrived for the debounce quiet period. A debounce that fires after
// Stop does nothing.
func (c *Coordinator) Notify() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopDebounceLocked()
	ctx, epoch := c.baseCtx, c.epoch
	fire := func() {
		c.mu.Lock()
		if c.epoch != epoch {
			c.mu.Unlock()
			return
		}
		c.wg.Add(1)
		c.mu.Unlock()
		defer c.wg.Done()
		c.run(ctx, TriggerDebounce)
	}
	if c.cfg.Debounce == 0 {
		go fire()
		return
	}
	c.debounce = time.AfterFunc(c.cfg.Debounce, fire)
}

func (c *Coordinator) stopDebounceLocked() {
	if c.debounce != nil {
		c.debounce.Stop()
		c.debounce = nil
	}
}
