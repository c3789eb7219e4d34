package resource

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrBudgetExceeded is returned when a reservation would exceed the budget.
var ErrBudgetExceeded = errors.New("resource: budget exceeded")

// Config holds resource limits.
type Config struct {
	// BudgetBytes is the hard limit for resident node bytes.
	// If 0, reservations are only tracked.
	BudgetBytes int64

	// BuildWorkers is the maximum number of concurrent build workers.
	// If 0, defaults to 1.
	BuildWorkers int64

	// IOBytesPerSec limits snapshot reads and writes. If 0, unlimited.
	IOBytesPerSec int64
}

// Controller enforces the limits of one scene.
type Controller struct {
	cfg Config

	budget   *semaphore.Weighted // nil if unlimited
	reserved atomic.Int64

	workers *semaphore.Weighted

	io *rate.Limiter
}

// NewController creates a controller for cfg.
func NewController(cfg Config) *Controller {
	if cfg.BuildWorkers <= 0 {
		cfg.BuildWorkers = 1
	}

	c := &Controller{
		cfg:     cfg,
		workers: semaphore.NewWeighted(cfg.BuildWorkers),
	}

	if cfg.BudgetBytes > 0 {
		c.budget = semaphore.NewWeighted(cfg.BudgetBytes)
	}

	if cfg.IOBytesPerSec > 0 {
		c.io = rate.NewLimiter(rate.Limit(cfg.IOBytesPerSec), int(cfg.IOBytesPerSec))
	}

	return c
}

// Reserve takes bytes out of the budget without blocking.
// Callers evict and retry on ErrBudgetExceeded.
func (c *Controller) Reserve(bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}

	if c.budget != nil && !c.budget.TryAcquire(bytes) {
		return ErrBudgetExceeded
	}

	c.reserved.Add(bytes)
	return nil
}

// Unreserve returns bytes to the budget.
func (c *Controller) Unreserve(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}

	if c.budget != nil {
		c.budget.Release(bytes)
	}
	c.reserved.Add(-bytes)
}

// Reserved returns the bytes currently reserved.
func (c *Controller) Reserved() int64 {
	if c == nil {
		return 0
	}
	return c.reserved.Load()
}

// Budget returns the configured budget (0 if unlimited).
func (c *Controller) Budget() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.BudgetBytes
}

// Available returns the unreserved part of the budget, or -1 if unlimited.
func (c *Controller) Available() int64 {
	if c == nil || c.cfg.BudgetBytes <= 0 {
		return -1
	}
	return c.cfg.BudgetBytes - c.reserved.Load()
}

// Fits reports whether bytes could ever be reserved, i.e. the request is not
// larger than the whole budget.
func (c *Controller) Fits(bytes int64) bool {
	if c == nil || c.cfg.BudgetBytes <= 0 {
		return true
	}
	return bytes <= c.cfg.BudgetBytes
}

// Workers returns the build worker limit.
func (c *Controller) Workers() int64 {
	if c == nil {
		return 1
	}
	return c.cfg.BuildWorkers
}

// AcquireWorker blocks until a build worker slot is free.
func (c *Controller) AcquireWorker(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.workers.Acquire(ctx, 1)
}

// TryAcquireWorker reserves a build worker slot without blocking.
func (c *Controller) TryAcquireWorker() bool {
	if c == nil {
		return true
	}
	return c.workers.TryAcquire(1)
}

// ReleaseWorker releases a build worker slot.
func (c *Controller) ReleaseWorker() {
	if c == nil {
		return
	}
	c.workers.Release(1)
}

// WaitIO waits until the IO limit allows bytes. Requests larger than one
// second of throughput are split into burst-sized waits.
func (c *Controller) WaitIO(ctx context.Context, bytes int) error {
	if c == nil || c.io == nil {
		return nil
	}
	burst := c.io.Burst()
	for bytes > 0 {
		n := min(bytes, burst)
		if err := c.io.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}

// TryIO takes IO tokens without blocking.
func (c *Controller) TryIO(bytes int) bool {
	if c == nil || c.io == nil {
		return true
	}
	return c.io.AllowN(time.Now(), bytes)
}

// IOLimited reports whether an IO limit is configured.
func (c *Controller) IOLimited() bool {
	return c != nil && c.io != nil
}
