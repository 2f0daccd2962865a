// Copyright (C) 2026 demoinfocs2-lite contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package event is a type-indexed publish/subscribe hub. Go has no
// TypeId-keyed Any map the way the original's EventManager does, so
// each event type's listener list lives behind a reflect.Type key,
// with a small generic adapter closing over the concrete type the way
// entitydecoder's leaf nodes close over a codec's value type.
package event

import (
	"reflect"
	"sync"
	"time"

	"github.com/hax0r31337/demoinfocs2-lite/date"
)

// TickEvent fires once per tick boundary, before the tick is applied,
// except for the very last tick of the demo.
type TickEvent struct {
	Tick         uint32
	TickInterval float32
}

// MapChangeEvent fires the first time a map name becomes known.
type MapChangeEvent struct {
	MapName string
}

// DemoStartEvent fires once the first frame has been parsed.
type DemoStartEvent struct {
	NetworkProtocol int32
	MapName         string
}

// DemoEndEvent fires once the parser reaches the end of the stream.
type DemoEndEvent struct{}

// TickTime estimates a tick's wall-clock time given when the
// recording started. A tick counter has no epoch of its own; callers
// that want to line a TickEvent up against something external (a
// broadcast VOD timestamp, a voice-comms log) supply the recording's
// start time.
func TickTime(start date.Time, tick uint32, tickInterval float32) date.Time {
	return start.Add(time.Duration(float64(tick) * float64(tickInterval) * float64(time.Second)))
}

type dispatcher[T any] struct {
	mu        sync.Mutex
	listeners map[uint32]func(T)
	nextID    uint32
}

func newDispatcher[T any]() *dispatcher[T] {
	return &dispatcher[T]{listeners: make(map[uint32]func(T))}
}

func (d *dispatcher[T]) add(fn func(T)) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = fn
	return id
}

func (d *dispatcher[T]) remove(id uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.listeners[id]; !ok {
		return false
	}
	delete(d.listeners, id)
	return true
}

func (d *dispatcher[T]) dispatch(v T) {
	d.mu.Lock()
	fns := make([]func(T), 0, len(d.listeners))
	for id := uint32(0); id < d.nextID; id++ {
		if fn, ok := d.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	d.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

// Manager holds one dispatcher per concrete event type ever subscribed
// to or notified through it. The zero value is not usable; use
// NewManager.
type Manager struct {
	mu          sync.Mutex
	dispatchers map[reflect.Type]any
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{dispatchers: make(map[reflect.Type]any)}
}

func dispatcherFor[T any](m *Manager) *dispatcher[T] {
	typ := reflect.TypeOf((*T)(nil)).Elem()

	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.dispatchers[typ]; ok {
		return d.(*dispatcher[T])
	}
	d := newDispatcher[T]()
	m.dispatchers[typ] = d
	return d
}

// Subscribe registers fn to run on every future Notify[T] call against
// m, returning an id that Unsubscribe accepts.
func Subscribe[T any](m *Manager, fn func(T)) uint32 {
	return dispatcherFor[T](m).add(fn)
}

// Unsubscribe removes a previously registered listener, reporting
// whether one was found.
func Unsubscribe[T any](m *Manager, id uint32) bool {
	return dispatcherFor[T](m).remove(id)
}

// Notify runs every listener subscribed to T, in registration order.
func Notify[T any](m *Manager, v T) {
	dispatcherFor[T](m).dispatch(v)
}
