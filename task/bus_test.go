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

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus(8)
	sub := bus.Subscribe("t1")

	bus.PublishStatus("t1", Status{State: StateRunning, Timestamp: time.Now()}, false)
	bus.PublishArtifact("t1", NewArtifact("proof", TextPart("0xabc")), true)
	bus.PublishStatus("t1", Status{State: StateCompleted, Timestamp: time.Now()}, true)
	bus.PublishComplete("t1", &Task{ID: "t1"})

	var got []EventType
	for ev := range sub.Events() {
		got = append(got, ev.Type)
	}
	require.Equal(t, []EventType{EventStatus, EventArtifact, EventStatus, EventComplete}, got)
}

func TestBusClosesOnQuiescentTerminal(t *testing.T) {
	bus := NewBus(8)
	sub := bus.Subscribe("t1")

	bus.PublishStatus("t1", Status{State: StateInputRequired, Timestamp: time.Now()}, true)

	ev, ok := <-sub.Events()
	require.True(t, ok)
	require.Equal(t, EventStatus, ev.Type)
	require.Equal(t, StateInputRequired, ev.Status.State)

	_, ok = <-sub.Events()
	require.False(t, ok, "stream should end after a quiescent terminal status")
}

func TestBusDropsUnsubscribedTopics(t *testing.T) {
	bus := NewBus(8)
	// No subscriber: must not block or panic.
	bus.PublishStatus("nobody", Status{State: StateRunning}, false)
	bus.PublishComplete("nobody", &Task{ID: "nobody"})
}

func TestBusDropsOldestOnOverflow(t *testing.T) {
	bus := NewBus(2)
	sub := bus.Subscribe("t1")

	for i := 0; i < 5; i++ {
		bus.PublishArtifact("t1", Artifact{ID: string(rune('a' + i))}, false)
	}
	bus.PublishComplete("t1", &Task{ID: "t1"})

	var ids []string
	for ev := range sub.Events() {
		if ev.Type == EventArtifact {
			ids = append(ids, ev.Artifact.ID)
		}
	}
	// Producer never blocks; the oldest artifacts were evicted.
	require.Equal(t, []string{"e"}, ids)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(8)
	sub := bus.Subscribe("t1")
	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent

	bus.PublishStatus("t1", Status{State: StateRunning}, false)
	_, ok := <-sub.Events()
	require.False(t, ok)
}

func TestBusUnsubscribeDuringPublish(t *testing.T) {
	bus := NewBus(1)
	for i := 0; i < 500; i++ {
		sub := bus.Subscribe("t1")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				bus.PublishStatus("t1", Status{State: StateRunning}, false)
			}
		}()
		go func() {
			defer wg.Done()
			sub.Unsubscribe()
		}()
		wg.Wait()

		// The channel must end up closed, with no event sent after the
		// close.
		for range sub.Events() {
		}
	}
}

func TestBusIndependentTasks(t *testing.T) {
	bus := NewBus(8)
	s1 := bus.Subscribe("t1")
	s2 := bus.Subscribe("t2")

	bus.PublishStatus("t1", Status{State: StateRunning}, false)

	select {
	case ev := <-s1.Events():
		require.Equal(t, "t1", ev.TaskID)
	default:
		t.Fatal("t1 subscriber should have an event")
	}
	select {
	case <-s2.Events():
		t.Fatal("t2 subscriber must not see t1 events")
	default:
	}
}
