// Copyright 2025 The proofd Authors
// This file is part of the proofd library.
//
// The proofd library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The proofd library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the proofd library. If not, see <http://www.gnu.org/licenses/>.

// Package worker drains the submitted-task queue with a pool of parallel
// workers and drives each task through the skill dispatcher to a terminal
// state, emitting bus events along the way.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/nullifier-labs/proofd/internal/metrics"
	"github.com/nullifier-labs/proofd/skills"
	"github.com/nullifier-labs/proofd/task"
)

const (
	// DefaultWorkers is the pool size when none is configured.
	DefaultWorkers = 2
	// DefaultPollInterval is the queue poll cadence.
	DefaultPollInterval = time.Second
)

// Dispatcher executes one skill invocation to an outcome. Satisfied by
// skills.Dispatcher.
type Dispatcher interface {
	Execute(ctx context.Context, skill string, params map[string]any, contextID string) skills.Outcome
}

// Pool runs N workers against the submitted queue.
type Pool struct {
	tasks      *task.Store
	bus        *task.Bus
	dispatcher Dispatcher
	workers    int
	poll       time.Duration
	log        log.Logger

	// processing is the single-flight guard: a task id enters before
	// dispatch and leaves after the terminal transition, so two workers
	// can never race the same task even if the queue double-delivers.
	mu         sync.Mutex
	processing map[string]struct{}

	quit chan struct{}
	wg   sync.WaitGroup
}

// New creates a worker pool. Zero workers or poll interval pick the
// defaults.
func New(tasks *task.Store, bus *task.Bus, dispatcher Dispatcher, workers int, poll time.Duration) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Pool{
		tasks:      tasks,
		bus:        bus,
		dispatcher: dispatcher,
		workers:    workers,
		poll:       poll,
		log:        log.New("module", "worker"),
		processing: make(map[string]struct{}),
		quit:       make(chan struct{}),
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	p.log.Info("Worker pool starting", "workers", p.workers, "poll", p.poll)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
}

// Stop signals the workers and waits for in-flight tasks to finish.
func (p *Pool) Stop() {
	close(p.quit)
	p.wg.Wait()
	p.log.Info("Worker pool stopped")
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	for {
		select {
		case <-p.quit:
			return
		case <-ticker.C:
			p.drain(id)
		}
	}
}

// drain empties the queue before sleeping again.
func (p *Pool) drain(workerID int) {
	for {
		select {
		case <-p.quit:
			return
		default:
		}
		ctx := context.Background()
		taskID, err := p.tasks.Dequeue(ctx)
		if errors.Is(err, task.ErrNotFound) {
			return
		}
		if err != nil {
			p.log.Warn("Queue poll failed", "worker", workerID, "err", err)
			return
		}
		p.process(ctx, workerID, taskID)
	}
}

// claim inserts the task into the processing set, refusing double entry.
func (p *Pool) claim(taskID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.processing[taskID]; busy {
		return false
	}
	p.processing[taskID] = struct{}{}
	return true
}

func (p *Pool) release(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.processing, taskID)
}

func (p *Pool) process(ctx context.Context, workerID int, taskID string) {
	t, err := p.tasks.Get(ctx, taskID)
	if errors.Is(err, task.ErrNotFound) {
		p.log.Warn("Dequeued task missing from store", "worker", workerID, "task", taskID)
		return
	}
	if err != nil {
		p.log.Warn("Task load failed", "worker", workerID, "task", taskID, "err", err)
		return
	}
	// Cancellation (or a racing worker) moved the task on; drop it.
	if t.Status.State != task.StateQueued {
		p.log.Debug("Dropping task not in queued state", "task", taskID, "state", t.Status.State)
		return
	}
	if !p.claim(taskID) {
		p.log.Debug("Task already in flight", "worker", workerID, "task", taskID)
		return
	}
	defer p.release(taskID)

	start := time.Now()
	t, err = p.tasks.UpdateStatus(ctx, taskID, task.StateRunning, nil)
	if err != nil {
		// A racing cancel won the terminal transition.
		p.log.Debug("Task left queued state before dispatch", "task", taskID, "err", err)
		return
	}
	p.bus.PublishStatus(taskID, t.Status, false)

	outcome := p.dispatcher.Execute(ctx, t.Skill, t.Params, t.ContextID)
	for _, a := range outcome.Artifacts {
		if _, err := p.tasks.AddArtifact(ctx, taskID, a); err != nil {
			p.log.Warn("Artifact write failed", "task", taskID, "artifact", a.ID, "err", err)
			continue
		}
		p.bus.PublishArtifact(taskID, a, true)
	}

	final := outcome.State
	if !final.IsTerminal() {
		p.log.Warn("Handler returned non-terminal state", "task", taskID, "state", final)
		final = task.StateFailed
	}
	t, err = p.tasks.UpdateStatus(ctx, taskID, final, nil)
	if err != nil {
		p.log.Warn("Terminal transition failed", "task", taskID, "state", final, "err", err)
		return
	}
	p.bus.PublishStatus(taskID, t.Status, true)
	if final != task.StateInputRequired {
		p.bus.PublishComplete(taskID, t)
	}

	metrics.TasksProcessed.WithLabelValues(string(final)).Inc()
	p.log.Info("Task processed", "worker", workerID, "task", taskID, "skill", t.Skill,
		"state", final, "elapsed", time.Since(start).Round(time.Millisecond))
}
