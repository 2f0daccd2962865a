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

// Package entitylist implements the chunked sparse array the parser
// indexes live entities by: 64 chunks of 512 slots each, allocated
// lazily and released once their last occupant is deleted.
package entitylist

import "github.com/hax0r31337/demoinfocs2-lite/entitydecoder"

const (
	maxEntitiesPerChunk = 512
	maxChunks           = 64
	maxEdictBits        = 14
	entityOffsetMask    = maxEntitiesPerChunk - 1
	entityHandleMask    = (1 << maxEdictBits) - 1
)

// entityChunkShift is log2(maxEntitiesPerChunk); maxEntitiesPerChunk
// must stay a power of two for the index split below to hold.
const entityChunkShift = 9

// Item is one live entity: its class decoder graph, its current
// payload, and the index/serial pair that makes up its handle.
type Item struct {
	Index      uint32
	Serial     uint32
	Value      any
	Serializer entitydecoder.ClassDecoder
}

// Handle returns the (serial<<14)|index identifier other entities
// reference this one by.
func (it *Item) Handle() uint64 {
	return uint64(it.Serial)<<maxEdictBits | uint64(it.Index)
}

type chunk struct {
	counter  int
	entities [maxEntitiesPerChunk]*Item
}

// List is the sparse entity array. The zero value is ready to use.
type List struct {
	chunks [maxChunks]*chunk
}

func New() *List { return &List{} }

func (l *List) chunkAt(idx int) *chunk {
	if idx < 0 || idx >= maxChunks {
		return nil
	}
	return l.chunks[idx]
}

// Get returns the entity at idx, or nil if the slot is empty.
func (l *List) Get(idx int) *Item {
	c := l.chunkAt(idx >> entityChunkShift)
	if c == nil {
		return nil
	}
	return c.entities[idx&entityOffsetMask]
}

// Insert places item at idx, replacing and returning any entity that
// was already there. Insert lazily allocates the backing chunk.
func (l *List) Insert(idx int, item *Item) *Item {
	chunkIdx := idx >> entityChunkShift
	if chunkIdx < 0 || chunkIdx >= maxChunks {
		return nil
	}
	c := l.chunks[chunkIdx]
	if c == nil {
		c = &chunk{}
		l.chunks[chunkIdx] = c
	}

	slot := idx & entityOffsetMask
	old := c.entities[slot]
	if old == nil {
		c.counter++
	}
	c.entities[slot] = item
	return old
}

// Delete removes and returns the entity at idx, releasing the backing
// chunk once it has no remaining occupants.
func (l *List) Delete(idx int) *Item {
	chunkIdx := idx >> entityChunkShift
	c := l.chunkAt(chunkIdx)
	if c == nil {
		return nil
	}
	slot := idx & entityOffsetMask
	old := c.entities[slot]
	if old == nil {
		return nil
	}
	c.entities[slot] = nil
	c.counter--
	if c.counter == 0 {
		l.chunks[chunkIdx] = nil
	}
	return old
}

// GetByHandle resolves a (serial<<14)|index handle to its entity,
// verifying the serial still matches (a stale handle from a since
// recycled index returns nil).
func (l *List) GetByHandle(handle uint64) *Item {
	idx := int(handle & entityHandleMask)
	entity := l.Get(idx)
	if entity == nil {
		return nil
	}
	serial := uint32(handle >> maxEdictBits)
	if entity.Serial != serial {
		return nil
	}
	return entity
}

// Iterate calls fn for every live entity, in chunk then slot order.
// Iteration stops early if fn returns false.
func (l *List) Iterate(fn func(*Item) bool) {
	for _, c := range l.chunks {
		if c == nil {
			continue
		}
		for _, e := range c.entities {
			if e == nil {
				continue
			}
			if !fn(e) {
				return
			}
		}
	}
}
