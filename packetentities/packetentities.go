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

// Package packetentities drives the per-frame create/update/delete loop
// that turns a CSVCMsg_PacketEntities payload into mutations of the live
// entity list, using the field-path engine and the per-class decoder
// graph built by entitydecoder.
package packetentities

import (
	"fmt"
	"log"

	"github.com/hax0r31337/demoinfocs2-lite/baseline"
	"github.com/hax0r31337/demoinfocs2-lite/bitio"
	"github.com/hax0r31337/demoinfocs2-lite/entitydecoder"
	"github.com/hax0r31337/demoinfocs2-lite/entitylist"
	"github.com/hax0r31337/demoinfocs2-lite/fieldpath"
)

// ClassEntry pairs a class's built decoder graph with whether newly
// created entities of that class should be seeded from the instance
// baseline (the server only marks classes it actually baselines).
type ClassEntry struct {
	Decoder           entitydecoder.ClassDecoder
	SerializeBaseline bool
}

// Handler owns the state a packet-entities message needs across calls:
// the class id -> name table, the class name -> decoder graph table,
// the live entity list, and the baseline cache. All of these persist
// across frames; only the bit reader and entry count are per-message.
type Handler struct {
	Logger *log.Logger

	ClassInfo   map[uint32]string
	Serializers map[string]ClassEntry
	ClassIDSize int

	Entities *entitylist.List
	Baseline *baseline.Cache

	pathCache     [][]int32
	baselinePaths [][]int32
}

// NewHandler builds a Handler. classIDSize is the number of bits a
// class id is encoded with, floor(log2(max_classes))+1, as reported by
// server info.
func NewHandler(classIDSize int, entities *entitylist.List, bl *baseline.Cache) *Handler {
	return &Handler{
		Logger:      log.Default(),
		ClassInfo:   make(map[uint32]string),
		Serializers: make(map[string]ClassEntry),
		ClassIDSize: classIDSize,
		Entities:    entities,
		Baseline:    bl,
	}
}

// Handle decodes one packet-entities message: updatedEntries delta-
// indexed entries from r, each either deleting, creating, or updating
// an entity in h.Entities. hasPVSVisBits mirrors the deprecated
// has_pvs_vis_bits flag on the message: when set, an otherwise-update
// entry carries two extra bits, and when the low bit of those is set
// the entry is skipped entirely (out of the receiver's potentially
// visible set).
func (h *Handler) Handle(r *bitio.Reader, updatedEntries uint32, hasPVSVisBits bool) error {
	idx := int32(-1)

	for entry := uint32(0); entry < updatedEntries; entry++ {
		delta, err := r.ReadUBitInt()
		if err != nil {
			return fmt.Errorf("packetentities: read index delta: %w", err)
		}
		idx += int32(delta) + 1

		cmd, err := r.ReadBits(2)
		if err != nil {
			return fmt.Errorf("packetentities: read entry cmd: %w", err)
		}

		if cmd&1 == 0 {
			if cmd&2 != 0 {
				if err := h.create(r, idx); err != nil {
					return err
				}
			} else if hasPVSVisBits {
				visBits, err := r.ReadBits(2)
				if err != nil {
					return fmt.Errorf("packetentities: read pvs vis bits: %w", err)
				}
				if visBits&1 != 0 {
					continue
				}
			}

			item := h.Entities.Get(int(idx))
			if item == nil {
				return fmt.Errorf("packetentities: entity at index %d not found for update", idx)
			}

			if entry == updatedEntries-1 {
				if _, unknown := item.Serializer.(*entitydecoder.UnknownSerializer); unknown {
					continue
				}
			}

			h.pathCache, err = fieldpath.ReadPaths(r, h.pathCache)
			if err != nil {
				return fmt.Errorf("packetentities: read field paths: %w", err)
			}
			for _, path := range h.pathCache {
				if err := item.Serializer.Decode(item.Value, path, r); err != nil {
					return fmt.Errorf("packetentities: decode entity %d: %w", idx, err)
				}
			}
		} else if h.Entities.Delete(int(idx)) == nil {
			h.Logger.Printf("packetentities: entity at index %d not found for deletion", idx)
		}
	}

	return nil
}

func (h *Handler) create(r *bitio.Reader, idx int32) error {
	classIDBits, err := r.ReadBits(h.ClassIDSize)
	if err != nil {
		return fmt.Errorf("packetentities: read class id: %w", err)
	}
	classID := uint32(classIDBits)

	serialBits, err := r.ReadBits(17)
	if err != nil {
		return fmt.Errorf("packetentities: read serial: %w", err)
	}
	serial := uint32(serialBits)

	if _, err := r.ReadVarUint64(); err != nil {
		return fmt.Errorf("packetentities: read unknown varint: %w", err)
	}

	className, ok := h.ClassInfo[classID]
	if !ok {
		return fmt.Errorf("packetentities: unknown class id %d", classID)
	}
	entry, ok := h.Serializers[className]
	if !ok {
		return fmt.Errorf("packetentities: unknown serializer %q", className)
	}

	var value any
	if entry.SerializeBaseline {
		value, err = h.fromBaseline(classID, entry.Decoder)
		if err != nil {
			return fmt.Errorf("packetentities: baseline for class %q: %w", className, err)
		}
	} else {
		value = entry.Decoder.NewEntity()
	}

	h.Entities.Insert(int(idx), &entitylist.Item{
		Index:      uint32(idx),
		Serial:     serial,
		Value:      value,
		Serializer: entry.Decoder,
	})
	return nil
}

// fromBaseline returns the initial value for a newly created entity of
// classID: a clone of the cached decoded prototype if one exists, or a
// freshly decoded one from the raw baseline payload (cached for next
// time), or a zero-valued entity if no baseline payload is known.
func (h *Handler) fromBaseline(classID uint32, decoder entitydecoder.ClassDecoder) (any, error) {
	if h.Baseline == nil {
		return decoder.NewEntity(), nil
	}

	key := baseline.Key(classID)
	if cached, ok := h.Baseline.GetCached(key); ok {
		return decoder.CloneEntity(cached)
	}

	entity := decoder.NewEntity()
	raw, ok := h.Baseline.GetRaw(key)
	if !ok {
		return entity, nil
	}

	br := bitio.NewReader(raw)
	var err error
	h.baselinePaths, err = fieldpath.ReadPaths(br, h.baselinePaths)
	if err != nil {
		return nil, fmt.Errorf("read baseline field paths: %w", err)
	}
	for _, path := range h.baselinePaths {
		if err := decoder.Decode(entity, path, br); err != nil {
			return nil, fmt.Errorf("decode baseline field: %w", err)
		}
	}

	if br.BitsRemaining() >= 8 {
		h.Logger.Printf("packetentities: baseline for class %d did not consume all data: %d bits left", classID, br.BitsRemaining())
	}

	cloned, err := decoder.CloneEntity(entity)
	if err != nil {
		return nil, fmt.Errorf("clone baseline prototype: %w", err)
	}
	h.Baseline.PutCache(key, cloned)

	return entity, nil
}
