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

// Package gameevent dispatches legacy game events ("player_death",
// "round_end", ...) by name. The server only ever sends a numeric
// event id on the wire; a separate descriptor-list message maps that
// id to a name and an ordered list of key names, so applications
// register handlers by name up front and the registry resolves ids to
// handlers whenever a fresh descriptor list arrives.
package gameevent

import (
	"fmt"
	"log"
)

// Key is one named field in a game event's schema, in declaration
// order.
type Key struct {
	Name string
}

// Value is one decoded key's payload. Which field is meaningful
// depends on the key's declared type in the original descriptor;
// callers that registered the factory know which fields to read.
type Value struct {
	Str   string
	Float float32
	Int64 int64
	Bool  bool
}

// Handler runs once per dispatched instance of a registered event,
// receiving the ordered keys alongside their decoded values.
type Handler func(keys []Key, values []Value) error

// Factory builds the Handler that will run for every future instance
// of an event, given its key names in declaration order.
type Factory func(keys []Key) (Handler, error)

// Descriptor is one entry of a descriptor-list message: the id the
// server will use on the wire, the event's name, and its key schema.
type Descriptor struct {
	EventID int32
	Name    string
	Keys    []string
}

type liveEvent struct {
	keys    []Key
	handler Handler
}

// Registry holds named factories and the live id-to-handler table
// built from the most recently received descriptor list.
type Registry struct {
	factories map[string]Factory
	byID      map[int32]liveEvent
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		byID:      make(map[int32]liveEvent),
	}
}

// Register binds factory to eventName. Call it before parsing starts;
// registering the same name twice is an error.
func (r *Registry) Register(eventName string, factory Factory) error {
	if _, exists := r.factories[eventName]; exists {
		return fmt.Errorf("gameevent: serializer for %q already registered", eventName)
	}
	r.factories[eventName] = factory
	return nil
}

// LoadDescriptors replaces the live id table with one built from
// descriptors, running the matching factory (if any) for each entry.
// Descriptors naming an event nobody registered are skipped - demos
// routinely describe far more events than a given application cares
// about. When logger is non-nil and fewer serializers matched than
// were registered, a summary line is logged, mirroring the original's
// warning for unmatched registrations.
func (r *Registry) LoadDescriptors(logger *log.Logger, descriptors []Descriptor) error {
	byID := make(map[int32]liveEvent, len(descriptors))
	matched := 0

	for _, d := range descriptors {
		factory, ok := r.factories[d.Name]
		if !ok {
			continue
		}

		keys := make([]Key, len(d.Keys))
		for i, name := range d.Keys {
			keys[i] = Key{Name: name}
		}

		handler, err := factory(keys)
		if err != nil {
			return fmt.Errorf("gameevent: build handler for %q: %w", d.Name, err)
		}

		byID[d.EventID] = liveEvent{keys: keys, handler: handler}
		matched++
	}

	r.byID = byID

	if logger != nil && matched != len(r.factories) {
		logger.Printf("gameevent: %d serializers registered, %d matched against the descriptor list", len(r.factories), matched)
	}

	return nil
}

// Dispatch runs the handler registered for eventID against values, in
// the key order LoadDescriptors established for that id. It is a
// no-op, not an error, when eventID has no live handler - either the
// descriptor never arrived, or it named an event nobody registered.
func (r *Registry) Dispatch(eventID int32, values []Value) error {
	live, ok := r.byID[eventID]
	if !ok {
		return nil
	}
	return live.handler(live.keys, values)
}
