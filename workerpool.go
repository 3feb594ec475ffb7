/************************************************************************************
 *
 * ratekit, A sliding-window rate-limit coordination core for chat-platform REST APIs
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 * Copyright 2025 Marouane Souiri
 *
 * Licensed under the BSD 3-Clause License.
 * See the LICENSE file for details.
 *
 ************************************************************************************/

package ratekit

import (
	"sync/atomic"
	"time"

	"github.com/marouanesouiri/stdx/xlog"
)

// dispatchTask is one queued Call.Submit callback invocation.
type dispatchTask func()

// dispatcher bounds how many Call.Submit callbacks run concurrently, so a
// caller firing off thousands of async calls doesn't spawn thousands of
// goroutines each blocked on the same contended buckets. It grows from
// minWorkers towards maxWorkers as queue pressure rises, and workers past
// minWorkers retire themselves after sitting idle.
type dispatcher interface {
	// submit enqueues task; returns false if the queue is full and the
	// task was dropped.
	submit(task dispatchTask) bool
	shutdown()
}

type poolDispatcher struct {
	logger xlog.Logger

	minWorkers int
	maxWorkers int
	queueCap   int

	workerCount        int32
	queue              chan dispatchTask
	queueGrowThreshold float64

	stopSignal   chan struct{}
	shutdownOnce atomic.Bool
	idleTimeout  time.Duration
}

type dispatcherOption func(*poolDispatcher)

// withMinWorkers sets the worker floor, kept alive for the dispatcher's
// lifetime.
func withMinWorkers(n int) dispatcherOption {
	return func(p *poolDispatcher) { p.minWorkers = n }
}

// withMaxWorkers caps how many workers queue pressure is allowed to spawn.
func withMaxWorkers(n int) dispatcherOption {
	return func(p *poolDispatcher) { p.maxWorkers = n }
}

// withQueueCap sets the pending-task buffer size.
func withQueueCap(n int) dispatcherOption {
	return func(p *poolDispatcher) { p.queueCap = n }
}

// withIdleTimeout sets how long a worker above minWorkers waits for a task
// before retiring.
func withIdleTimeout(d time.Duration) dispatcherOption {
	return func(p *poolDispatcher) { p.idleTimeout = d }
}

// withQueueGrowThreshold sets the queue-fill fraction at which the
// dispatcher attempts to spawn a new worker. 0.75 means "grow once the
// queue is 75% full".
func withQueueGrowThreshold(threshold float64) dispatcherOption {
	return func(p *poolDispatcher) { p.queueGrowThreshold = threshold }
}

// newPoolDispatcher creates a dispatcher sized for the async half of
// [Call] — most REST clients fire far fewer concurrent async calls than a
// gateway fires events, so defaults here are modest.
func newPoolDispatcher(logger xlog.Logger, opts ...dispatcherOption) dispatcher {
	p := &poolDispatcher{
		logger:             logger,
		minWorkers:         2,
		maxWorkers:         64,
		queueCap:           128,
		idleTimeout:        10 * time.Second,
		stopSignal:         make(chan struct{}),
		queueGrowThreshold: 0.75,
	}

	for _, opt := range opts {
		opt(p)
	}

	p.queue = make(chan dispatchTask, p.queueCap)

	for i := 0; i < p.minWorkers; i++ {
		p.addWorker()
	}

	return p
}

func (p *poolDispatcher) addWorker() {
	atomic.AddInt32(&p.workerCount, 1)

	go func() {
		idleTimer := time.NewTimer(p.idleTimeout)
		defer idleTimer.Stop()

		for {
			select {
			case task := <-p.queue:
				task()

				if !idleTimer.Stop() {
					select {
					case <-idleTimer.C:
					default:
					}
				}
				idleTimer.Reset(p.idleTimeout)

			case <-idleTimer.C:
				if atomic.LoadInt32(&p.workerCount) > int32(p.minWorkers) {
					atomic.AddInt32(&p.workerCount, -1)
					p.logger.Debug("dispatcher: worker retired after idle timeout")
					return
				}
				idleTimer.Reset(p.idleTimeout)

			case <-p.stopSignal:
				return
			}
		}
	}()
}

func (p *poolDispatcher) submit(task dispatchTask) bool {
	if p.shutdownOnce.Load() {
		return false
	}

	if float64(len(p.queue)) >= float64(p.queueCap)*p.queueGrowThreshold {
		if atomic.LoadInt32(&p.workerCount) < int32(p.maxWorkers) {
			p.addWorker()
			p.logger.Debug("dispatcher: spawned worker due to queue pressure")
		}
	}

	select {
	case p.queue <- task:
		return true
	default:
		p.logger.Debug("dispatcher: dropped callback, queue full")
		return false
	}
}

func (p *poolDispatcher) shutdown() {
	if p.shutdownOnce.CompareAndSwap(false, true) {
		close(p.stopSignal)
	}
}
