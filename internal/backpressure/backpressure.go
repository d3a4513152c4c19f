// Package backpressure implements Backpressure (spec.md §4.4): an adaptive
// max_concurrent controller that samples queue depth and recent success
// rate, grounded on the teacher's internal/channel.TunableChannel Tune()
// grow/shrink-by-factor logic — repurposed here from channel capacity
// tuning to engine concurrency-limit tuning.
package backpressure

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/agentflow/types"
)

// DepthFunc reports the queue's current depth and its configured max depth,
// used to derive capacity utilization.
type DepthFunc func() (depth, maxDepth int)

// SetConcurrencyFunc applies a newly computed max_concurrent to the engine's
// dispatch limiter (typically queue.Queue.SetMaxConcurrent).
type SetConcurrencyFunc func(maxConcurrent int)

// Config tunes sampling cadence, the baseline concurrency budget, and the
// per-load-level multipliers of spec.md §4.4.
type Config struct {
	BaselineMaxConcurrent int
	SampleInterval        time.Duration
	SuccessWindowSize     int
	Multipliers           map[types.LoadLevel]float64
}

// DefaultConfig returns spec.md §4.4's example multipliers.
func DefaultConfig(baseline int) Config {
	return Config{
		BaselineMaxConcurrent: baseline,
		SampleInterval:        2 * time.Second,
		SuccessWindowSize:     50,
		Multipliers: map[types.LoadLevel]float64{
			types.LoadLow:      1.0,
			types.LoadMedium:   0.8,
			types.LoadHigh:     0.5,
			types.LoadCritical: 0.25,
		},
	}
}

// Controller runs the sampling loop and exposes should_accept_request().
type Controller struct {
	cfg        Config
	depthFn    DepthFunc
	setConc    SetConcurrencyFunc

	mu        sync.Mutex
	outcomes  []bool // ring buffer of recent success/failure, newest last
	loadLevel types.LoadLevel

	acceptCount int64
	rejectCount int64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Controller. depthFn and setConc wire it to the live queue.
func New(cfg Config, depthFn DepthFunc, setConc SetConcurrencyFunc) *Controller {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 2 * time.Second
	}
	if cfg.SuccessWindowSize <= 0 {
		cfg.SuccessWindowSize = 50
	}
	if cfg.Multipliers == nil {
		cfg.Multipliers = DefaultConfig(cfg.BaselineMaxConcurrent).Multipliers
	}
	return &Controller{
		cfg:       cfg,
		depthFn:   depthFn,
		setConc:   setConc,
		loadLevel: types.LoadLow,
		stopCh:    make(chan struct{}),
	}
}

// RecordOutcome feeds a completed request's success/failure into the
// rolling success-rate window.
func (c *Controller) RecordOutcome(success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes = append(c.outcomes, success)
	if len(c.outcomes) > c.cfg.SuccessWindowSize {
		c.outcomes = c.outcomes[len(c.outcomes)-c.cfg.SuccessWindowSize:]
	}
}

func (c *Controller) successRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.outcomes) == 0 {
		return 1.0
	}
	successes := 0
	for _, ok := range c.outcomes {
		if ok {
			successes++
		}
	}
	return float64(successes) / float64(len(c.outcomes))
}

// Start launches the periodic sampling loop in the background.
func (c *Controller) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.SampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.Sample()
			}
		}
	}()
}

// Stop halts the sampling loop.
func (c *Controller) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

// Sample computes the current load level from queue utilization and success
// rate, and applies the corresponding max_concurrent multiplier. Exported so
// callers (and tests) can drive it synchronously without waiting a tick.
func (c *Controller) Sample() {
	depth, maxDepth := 0, 1
	if c.depthFn != nil {
		depth, maxDepth = c.depthFn()
	}
	if maxDepth <= 0 {
		maxDepth = 1
	}
	utilization := float64(depth) / float64(maxDepth)
	rate := c.successRate()

	level := classify(utilization, rate)

	c.mu.Lock()
	c.loadLevel = level
	c.mu.Unlock()

	mult := c.cfg.Multipliers[level]
	if mult <= 0 {
		mult = 1.0
	}
	newConcurrent := int(float64(c.cfg.BaselineMaxConcurrent) * mult)
	if newConcurrent < 1 {
		newConcurrent = 1
	}
	if c.setConc != nil {
		c.setConc(newConcurrent)
	}
}

// classify implements spec.md §4.4's load-level thresholds.
func classify(utilization, successRate float64) types.LoadLevel {
	switch {
	case utilization > 0.90 || successRate < 0.5:
		return types.LoadCritical
	case utilization > 0.75:
		return types.LoadHigh
	case utilization >= 0.50:
		return types.LoadMedium
	default:
		return types.LoadLow
	}
}

// ShouldAcceptRequest reports whether the HTTP layer should enqueue a new
// request given the current load level, along with a rejection reason when
// it should not. Low, Medium and High always accept; Critical rejects
// outright.
func (c *Controller) ShouldAcceptRequest() (bool, string) {
	c.mu.Lock()
	level := c.loadLevel
	c.mu.Unlock()

	switch level {
	case types.LoadCritical:
		atomic.AddInt64(&c.rejectCount, 1)
		return false, "system under critical load, try again shortly"
	default:
		atomic.AddInt64(&c.acceptCount, 1)
		return true, ""
	}
}

// State returns the HTTP-visible snapshot.
func (c *Controller) State() types.BackpressureState {
	c.mu.Lock()
	level := c.loadLevel
	c.mu.Unlock()

	mult := c.cfg.Multipliers[level]
	if mult <= 0 {
		mult = 1.0
	}
	return types.BackpressureState{
		MaxConcurrent: int(float64(c.cfg.BaselineMaxConcurrent) * mult),
		LoadLevel:     level,
		AcceptCount:   atomic.LoadInt64(&c.acceptCount),
		RejectCount:   atomic.LoadInt64(&c.rejectCount),
	}
}
