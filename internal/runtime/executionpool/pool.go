// Package executionpool runs background jobs on a fixed set of workers with a bounded
// queue and a per-key outstanding limit.
package executionpool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tiger/discharge-followup/internal/logger"
)

// Task is one unit of background work.
type Task struct {
	ID  string
	Run func(ctx context.Context) error
	// FairnessKey groups tasks for MaxOutstanding; the ID is used when empty.
	FairnessKey    string
	MaxOutstanding int
}

var (
	ErrTaskIDRequired  = errors.New("job id missing")
	ErrTaskRunRequired = errors.New("job has no run function")
	// ErrClosed is returned after Drain has started.
	ErrClosed = errors.New("job pool draining")
	// ErrQueueFull is returned when Capacity jobs are already waiting.
	ErrQueueFull = errors.New("job queue at capacity")
	// ErrKeyConcurrencyExceeded is returned when a FairnessKey already has
	// MaxOutstanding jobs queued or running.
	ErrKeyConcurrencyExceeded = errors.New("too many outstanding jobs for key")
)

// Stats is a point-in-time view of the pool.
type Stats struct {
	Workers               int
	Submitted             int64
	Completed             int64
	Failed                int64
	Rejected              int64
	RejectedByConcurrency int64
	InFlight              int64
	QueueDepth            int64
}

// Config sizes a Manager.
type Config struct {
	Workers  int
	Capacity int
}

// Manager is a bounded FIFO execution pool. With one worker tasks run strictly in
// submission order.
type Manager struct {
	cfg                   Config
	queue                 chan Task
	ctx                   context.Context
	cancel                context.CancelFunc
	wg                    sync.WaitGroup
	submitMu              sync.RWMutex
	submitted             atomic.Int64
	completed             atomic.Int64
	failed                atomic.Int64
	rejected              atomic.Int64
	rejectedByConcurrency atomic.Int64
	inFlight              atomic.Int64
	pending               atomic.Int64
	closed                atomic.Bool
	mu                    sync.Mutex
	outstandingByKey      map[string]int
}

// NewManager starts cfg.Workers workers (default 1) over a queue of cfg.Capacity (default 64).
func NewManager(cfg Config) *Manager {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Capacity < 1 {
		cfg.Capacity = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:              cfg,
		queue:            make(chan Task, cfg.Capacity),
		ctx:              ctx,
		cancel:           cancel,
		outstandingByKey: make(map[string]int),
	}
	for i := 0; i < cfg.Workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	return m
}

// Submit queues task without blocking.
func (m *Manager) Submit(task Task) error {
	if task.ID == "" {
		return ErrTaskIDRequired
	}
	if task.Run == nil {
		return ErrTaskRunRequired
	}
	if task.MaxOutstanding < 0 {
		m.rejected.Add(1)
		return fmt.Errorf("job %s: negative max outstanding %d", task.ID, task.MaxOutstanding)
	}

	m.submitMu.RLock()
	defer m.submitMu.RUnlock()
	if m.closed.Load() {
		m.rejected.Add(1)
		return ErrClosed
	}

	outstandingReserved := false
	outstandingKey := ""
	if task.MaxOutstanding > 0 {
		outstandingKey = outstandingKeyForTask(task)
		if !m.reserveOutstanding(outstandingKey, task.MaxOutstanding) {
			m.rejected.Add(1)
			m.rejectedByConcurrency.Add(1)
			return fmt.Errorf("%w: %s", ErrKeyConcurrencyExceeded, outstandingKey)
		}
		outstandingReserved = true
	}

	m.pending.Add(1)
	select {
	case m.queue <- task:
		m.submitted.Add(1)
		return nil
	default:
		m.pending.Add(-1)
		if outstandingReserved {
			m.releaseOutstanding(outstandingKey)
		}
		m.rejected.Add(1)
		return ErrQueueFull
	}
}

// Drain stops accepting tasks, waits for queued and in-flight tasks, then stops the
// workers. When ctx ends first, running tasks are cancelled and ctx.Err() is returned.
func (m *Manager) Drain(ctx context.Context) error {
	m.submitMu.Lock()
	if m.closed.CompareAndSwap(false, true) {
		close(m.queue)
	}
	m.submitMu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.wg.Wait()
	}()
	select {
	case <-ctx.Done():
		m.cancel()
		return ctx.Err()
	case <-done:
		m.cancel()
		return nil
	}
}

// Idle waits until no task is queued or running without closing the pool.
func (m *Manager) Idle(ctx context.Context) error {
	for {
		if m.pending.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// Stats reads the counters without locking; fields may be mutually inconsistent.
func (m *Manager) Stats() Stats {
	return Stats{
		Workers:               m.cfg.Workers,
		Submitted:             m.submitted.Load(),
		Completed:             m.completed.Load(),
		Failed:                m.failed.Load(),
		Rejected:              m.rejected.Load(),
		RejectedByConcurrency: m.rejectedByConcurrency.Load(),
		InFlight:              m.inFlight.Load(),
		QueueDepth:            int64(len(m.queue)),
	}
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for task := range m.queue {
		m.inFlight.Add(1)
		m.run(task)
		if task.MaxOutstanding > 0 {
			m.releaseOutstanding(outstandingKeyForTask(task))
		}
		m.completed.Add(1)
		m.inFlight.Add(-1)
		m.pending.Add(-1)
	}
}

func (m *Manager) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			m.failed.Add(1)
			logger.Base().Error("job panicked", zap.String("job_id", task.ID), zap.Any("panic", r))
		}
	}()
	if err := task.Run(m.ctx); err != nil {
		m.failed.Add(1)
		logger.Base().Warn("job failed", zap.String("job_id", task.ID), zap.Error(err))
	}
}

func (m *Manager) reserveOutstanding(key string, maxOutstanding int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.outstandingByKey[key] >= maxOutstanding {
		return false
	}
	m.outstandingByKey[key]++
	return true
}

func (m *Manager) releaseOutstanding(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.outstandingByKey[key]
	if current <= 1 {
		delete(m.outstandingByKey, key)
		return
	}
	m.outstandingByKey[key] = current - 1
}

func outstandingKeyForTask(task Task) string {
	if key := strings.TrimSpace(task.FairnessKey); key != "" {
		return key
	}
	return task.ID
}
