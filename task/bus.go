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

package task

import "sync"

// EventType discriminates bus events.
type EventType string

const (
	EventStatus   EventType = "status-update"
	EventArtifact EventType = "artifact-update"
	EventComplete EventType = "task-complete"
)

// Event is one per-task notification. Exactly one of Status, Artifact or
// Task is populated, according to Type.
type Event struct {
	Type      EventType
	TaskID    string
	Status    *Status
	Final     bool
	Artifact  *Artifact
	LastChunk bool
	Task      *Task
}

// endOfStream reports whether this event closes the subscriber stream.
// completed/failed final statuses are followed by a TaskComplete, so only
// the latter ends the stream for them; quiescent terminals (input-required,
// canceled) end it directly.
func (e Event) endOfStream() bool {
	switch e.Type {
	case EventComplete:
		return true
	case EventStatus:
		return e.Final && e.Status != nil &&
			e.Status.State != StateCompleted && e.Status.State != StateFailed
	}
	return false
}

// Subscription receives all events for one task in publication order. The
// channel is closed after the end-of-stream event is delivered. mu
// serializes sends against the close, so a publish racing an Unsubscribe
// can never hit a closed channel.
type Subscription struct {
	bus    *Bus
	taskID string

	mu     sync.Mutex
	events chan Event
	closed bool
}

// Events returns the subscriber channel.
func (s *Subscription) Events() <-chan Event { return s.events }

// Unsubscribe detaches the subscription and closes its channel. Safe to
// call more than once and concurrently with publishes.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s)
	s.close()
}

// close shuts the channel exactly once, under the same lock deliver sends
// with.
func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

// Bus is the in-process publish/subscribe fabric keyed by task id. It holds
// no durable state: unsubscribed topics drop events silently and late
// subscribers miss earlier events. Each subscriber owns a bounded buffer;
// the producer drops the oldest buffered event on overflow and never blocks.
type Bus struct {
	mu     sync.Mutex
	subs   map[string][]*Subscription
	buffer int
}

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// NewBus creates a bus with the given per-subscriber buffer (DefaultBuffer
// when <= 0).
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{subs: make(map[string][]*Subscription), buffer: buffer}
}

// Subscribe registers a listener for events of one task.
func (b *Bus) Subscribe(taskID string) *Subscription {
	sub := &Subscription{bus: b, taskID: taskID, events: make(chan Event, b.buffer)}
	b.mu.Lock()
	b.subs[taskID] = append(b.subs[taskID], sub)
	b.mu.Unlock()
	return sub
}

// PublishStatus emits a status transition for a task.
func (b *Bus) PublishStatus(taskID string, status Status, final bool) {
	b.publish(Event{Type: EventStatus, TaskID: taskID, Status: &status, Final: final})
}

// PublishArtifact emits an artifact produced by a task.
func (b *Bus) PublishArtifact(taskID string, a Artifact, lastChunk bool) {
	b.publish(Event{Type: EventArtifact, TaskID: taskID, Artifact: &a, LastChunk: lastChunk})
}

// PublishComplete emits the terminal snapshot of a task and ends the stream.
func (b *Bus) PublishComplete(taskID string, t *Task) {
	b.publish(Event{Type: EventComplete, TaskID: taskID, Task: t})
}

func (b *Bus) publish(ev Event) {
	b.mu.Lock()
	subs := append([]*Subscription(nil), b.subs[ev.TaskID]...)
	if ev.endOfStream() {
		delete(b.subs, ev.TaskID)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		b.deliver(sub, ev)
		if ev.endOfStream() {
			sub.close()
		}
	}
}

// deliver enqueues ev, evicting the oldest buffered event when the
// subscriber is full. A subscription that has already been closed by
// Unsubscribe drops the event.
func (b *Bus) deliver(sub *Subscription, ev Event) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	for {
		select {
		case sub.events <- ev:
			return
		default:
		}
		select {
		case <-sub.events:
		default:
		}
	}
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[sub.taskID]
	for i, s := range subs {
		if s == sub {
			b.subs[sub.taskID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.taskID]) == 0 {
		delete(b.subs, sub.taskID)
	}
}
