// Package browser provides a bounded pool of reusable headless-browser
// sessions with automatic replacement and deterministic shutdown.
//
// A counting semaphore bounds how many instances are checked out at once; a
// separate mutex serializes mutations of the instance list so capacity waits
// do not block unrelated bookkeeping. Instances past their age, idle, or
// request thresholds are replaced before reuse, and every reused instance
// passes a lightweight health check first.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/webdigest/pkg/logging"
	"github.com/entrhq/webdigest/pkg/metrics"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

const healthCheckURL = "about:blank"

// ErrPoolClosed is returned by Acquire after Shutdown.
var ErrPoolClosed = errors.New("browser pool is shut down")

type instance struct {
	id           string
	session      Session
	createdAt    time.Time
	lastUsed     time.Time
	requestCount int
	healthy      bool
	inUse        bool
}

// Pool owns a bounded set of browser instances.
type Pool struct {
	settings  Settings
	logger    *logging.Logger
	collector metrics.Collector
	launcher  Launcher

	sem *semaphore.Weighted
	now func() time.Time

	mu        sync.Mutex
	instances []*instance
	closed    bool

	replacements        int64
	healthCheckFailures int64
	exhaustions         int64
}

// Option configures a Pool.
type Option func(*Pool)

// WithLauncher overrides the default playwright launcher.
func WithLauncher(l Launcher) Option {
	return func(p *Pool) {
		p.launcher = l
	}
}

// NewPool creates a pool with the given settings. The collector may be nil,
// in which case measurements are discarded.
func NewPool(settings Settings, logger *logging.Logger, collector metrics.Collector, opts ...Option) *Pool {
	if settings.PoolSize <= 0 {
		settings.PoolSize = DefaultSettings().PoolSize
	}
	if collector == nil {
		collector = metrics.Noop{}
	}

	p := &Pool{
		settings:  settings,
		logger:    logger,
		collector: collector,
		launcher:  NewPlaywrightLauncher(),
		sem:       semaphore.NewWeighted(int64(settings.PoolSize)),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Initialize starts the automation engine. Must be called once before
// Acquire.
func (p *Pool) Initialize() error {
	if err := p.launcher.Start(); err != nil {
		return fmt.Errorf("failed to initialize browser pool: %w", err)
	}
	return nil
}

// Acquire returns a lease on a healthy instance, blocking while the pool is
// fully checked out. The lease must be released on every exit path; Release
// is idempotent.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	start := p.now()
	exhausted := false
	if !p.sem.TryAcquire(1) {
		exhausted = true
		p.mu.Lock()
		p.exhaustions++
		p.mu.Unlock()
		p.logger.Debugf("pool exhausted, waiting for a free slot")

		if err := p.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("failed to acquire pool slot: %w", err)
		}
	}

	inst, err := p.checkout(ctx)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}

	p.collector.RecordPoolAcquire(p.now().Sub(start), exhausted)
	return &Lease{pool: p, inst: inst}, nil
}

// checkout selects or creates an instance and marks it in use. Called with a
// semaphore slot held.
func (p *Pool) checkout(ctx context.Context) (*instance, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	candidate := p.selectIdleLocked()
	var stale *instance
	if candidate != nil && p.needsReplacementLocked(candidate) {
		p.removeLocked(candidate)
		p.replacements++
		stale = candidate
		candidate = nil
	}
	underCapacity := len(p.instances) < p.settings.PoolSize
	if candidate != nil {
		candidate.inUse = true
	}
	p.mu.Unlock()

	if stale != nil {
		p.collector.RecordPoolReplacement("threshold")
		p.destroy(stale)
	}

	if candidate == nil {
		if !underCapacity {
			// All capacity is momentarily claimed by in-flight checkouts;
			// the semaphore guarantees a slot, so create a replacement.
			p.logger.Debugf("no idle instance available, creating replacement")
		}
		return p.createInstance(ctx)
	}

	// Probe reused instances before handing them out; replace once on
	// failure.
	if err := p.healthCheck(candidate); err != nil {
		p.logger.Warnf("health check failed for instance %s: %v", candidate.id, err)
		p.mu.Lock()
		p.healthCheckFailures++
		p.removeLocked(candidate)
		p.replacements++
		p.mu.Unlock()
		p.collector.RecordPoolReplacement("health_check")
		p.destroy(candidate)
		return p.createInstance(ctx)
	}

	return candidate, nil
}

// selectIdleLocked returns the best idle instance: a healthy one not needing
// replacement if available, otherwise the least recently used idle one.
func (p *Pool) selectIdleLocked() *instance {
	var fresh *instance
	var lru *instance
	for _, inst := range p.instances {
		if inst.inUse {
			continue
		}
		if lru == nil || inst.lastUsed.Before(lru.lastUsed) {
			lru = inst
		}
		if !p.needsReplacementLocked(inst) {
			if fresh == nil || inst.lastUsed.Before(fresh.lastUsed) {
				fresh = inst
			}
		}
	}
	if fresh != nil {
		return fresh
	}
	return lru
}

func (p *Pool) needsReplacementLocked(inst *instance) bool {
	now := p.now()
	switch {
	case !inst.healthy:
		return true
	case p.settings.MaxAge > 0 && now.Sub(inst.createdAt) > p.settings.MaxAge:
		return true
	case p.settings.IdleTimeout > 0 && now.Sub(inst.lastUsed) > p.settings.IdleTimeout:
		return true
	case p.settings.MaxRequests > 0 && inst.requestCount >= p.settings.MaxRequests:
		return true
	}
	return false
}

func (p *Pool) createInstance(ctx context.Context) (*instance, error) {
	type launched struct {
		session Session
		err     error
	}

	done := make(chan launched, 1)
	go func() {
		session, err := p.launcher.Launch()
		done <- launched{session: session, err: err}
	}()

	timeout := p.settings.StartupTimeout
	if timeout <= 0 {
		timeout = DefaultSettings().StartupTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var session Session
	select {
	case result := <-done:
		if result.err != nil {
			return nil, fmt.Errorf("failed to create browser instance: %w", result.err)
		}
		session = result.session
	case <-timer.C:
		// The straggling launch is closed when it eventually completes.
		go func() {
			if result := <-done; result.session != nil {
				result.session.Close()
			}
		}()
		return nil, fmt.Errorf("browser instance creation timed out after %s", timeout)
	case <-ctx.Done():
		go func() {
			if result := <-done; result.session != nil {
				result.session.Close()
			}
		}()
		return nil, fmt.Errorf("browser instance creation canceled: %w", ctx.Err())
	}

	now := p.now()
	inst := &instance{
		id:        uuid.New().String(),
		session:   session,
		createdAt: now,
		lastUsed:  now,
		healthy:   true,
		inUse:     true,
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.destroy(inst)
		return nil, ErrPoolClosed
	}
	p.instances = append(p.instances, inst)
	p.mu.Unlock()

	p.logger.Debugf("created browser instance %s", inst.id)
	return inst, nil
}

func (p *Pool) healthCheck(inst *instance) error {
	_, err := inst.session.Navigate(healthCheckURL, NavigateOptions{
		WaitUntil: "load",
		Timeout:   p.settings.HealthCheckTimeout,
	})
	return err
}

// release returns an instance to the pool, replacing it if it crossed a
// threshold while in use. Runs on every lease exit path.
func (p *Pool) release(inst *instance) {
	p.mu.Lock()
	inst.inUse = false
	inst.lastUsed = p.now()
	inst.requestCount++

	var stale *instance
	if p.needsReplacementLocked(inst) {
		p.removeLocked(inst)
		p.replacements++
		stale = inst
	}
	p.mu.Unlock()

	if stale != nil {
		p.collector.RecordPoolReplacement("threshold")
		p.destroy(stale)
	}

	p.sem.Release(1)
}

func (p *Pool) removeLocked(target *instance) {
	for i, inst := range p.instances {
		if inst == target {
			p.instances = append(p.instances[:i], p.instances[i+1:]...)
			return
		}
	}
}

// destroy closes an instance. Failures are logged, never raised; the pool
// simply continues with fewer instances.
func (p *Pool) destroy(inst *instance) {
	if err := inst.session.Close(); err != nil {
		p.logger.Warnf("failed to close browser instance %s: %v", inst.id, err)
	} else {
		p.logger.Debugf("closed browser instance %s", inst.id)
	}
}

// Render performs a scoped acquire-navigate-release cycle. This is the entry
// point the fetcher's browser strategy uses.
func (p *Pool) Render(ctx context.Context, url string, opts NavigateOptions) (*RenderResult, error) {
	lease, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	return lease.Navigate(ctx, url, opts)
}

// Shutdown closes all instances within timeout. Stragglers are abandoned
// with a warning; Shutdown never blocks indefinitely and never raises.
func (p *Pool) Shutdown(timeout time.Duration) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	instances := p.instances
	p.instances = nil
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, inst := range instances {
			p.destroy(inst)
		}
		if err := p.launcher.Stop(); err != nil {
			p.logger.Warnf("failed to stop automation engine: %v", err)
		}
	}()

	if timeout <= 0 {
		<-done
		return
	}

	select {
	case <-done:
	case <-time.After(timeout):
		p.logger.Warnf("pool shutdown timed out after %s, abandoning %d instances", timeout, len(instances))
	}
}

// GetMetrics returns a snapshot of pool state.
func (p *Pool) GetMetrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	m := Metrics{
		Total:               len(p.instances),
		Replacements:        p.replacements,
		HealthCheckFailures: p.healthCheckFailures,
		Exhaustions:         p.exhaustions,
	}
	for _, inst := range p.instances {
		if inst.inUse {
			m.Active++
		} else {
			m.Idle++
		}
	}
	return m
}

// Lease is a scoped acquisition of one instance. Release must be called on
// every exit path and is safe to call multiple times.
type Lease struct {
	pool *Pool
	inst *instance
	once sync.Once
}

// Navigate loads url in the leased session.
func (l *Lease) Navigate(ctx context.Context, url string, opts NavigateOptions) (*RenderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := l.inst.session.Navigate(url, opts)
	if err != nil {
		// A failed navigation leaves session state unknown; flag the
		// instance so it is replaced instead of reused.
		l.pool.mu.Lock()
		l.inst.healthy = false
		l.pool.mu.Unlock()
		return nil, err
	}
	return result, nil
}

// InstanceID identifies the leased instance, mainly for logging.
func (l *Lease) InstanceID() string {
	return l.inst.id
}

// Release returns the instance to the pool. Idempotent.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.pool.release(l.inst)
	})
}
