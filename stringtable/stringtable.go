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

// Package stringtable implements CS2's general string-table
// replication format: delta-indexed entries with ring-buffer key
// prefix compression and an optional per-entry Snappy-compressed
// value. InstanceBaseline is one named table among several
// (userinfo, modelprecache, ...); every named table gets decoded the
// same way, only the baseline one feeds the entity decoder.
package stringtable

import (
	"fmt"

	"github.com/hax0r31337/demoinfocs2-lite/bitio"
	"github.com/hax0r31337/demoinfocs2-lite/compr"
)

// InstanceBaseline is the well-known name of the table that backs
// newly spawned entities' default field values.
const InstanceBaseline = "instancebaseline"

const maxKeyRing = 32

// Config carries the CreateStringTable wire parameters that the entry
// value format depends on.
type Config struct {
	UserDataFixedSize    bool
	UserDataSize         int32
	Flags                int32
	UsingVarintBitcounts bool
}

type entry struct {
	index int32
	value []byte
}

// Table is one named string table. The zero value is not usable; use
// New.
type Table struct {
	Name   string
	Config Config

	entries map[string]entry
	cache   map[string]any
}

func New(name string, cfg Config) *Table {
	return &Table{
		Name:    name,
		Config:  cfg,
		entries: make(map[string]entry),
		cache:   make(map[string]any),
	}
}

// GetRaw returns the raw (already decompressed) value bytes for key.
func (t *Table) GetRaw(key string) ([]byte, bool) {
	e, ok := t.entries[key]
	if !ok || e.value == nil {
		return nil, false
	}
	return e.value, true
}

// GetCached returns a previously cached decoded value for key, such as
// an instance baseline's decoded prototype entity.
func (t *Table) GetCached(key string) (any, bool) {
	v, ok := t.cache[key]
	return v, ok
}

// Range calls fn for every entry currently holding a non-nil value, in
// unspecified order. Used to seed a consumer's own cache (the baseline
// table's raw-payload cache, in particular) from a table's full
// current state rather than one entry at a time.
func (t *Table) Range(fn func(key string, value []byte)) {
	for k, e := range t.entries {
		if e.value != nil {
			fn(k, e.value)
		}
	}
}

// PutCache stores a decoded value for key.
func (t *Table) PutCache(key string, v any) {
	t.cache[key] = v
}

// PurgeCache drops every cached decoded value, leaving raw entries
// untouched.
func (t *Table) PurgeCache() {
	t.cache = make(map[string]any)
}

// Insert directly sets one entry, as CDemoStringTables bulk snapshots
// do: no bit decoding, just a key/index/value triple. It invalidates
// any cached decode for the key.
func (t *Table) Insert(key string, index int32, value []byte) {
	delete(t.cache, key)
	t.entries[key] = entry{index: index, value: value}
}

// Update decodes `entries` wire-format string-table entries from r, as
// carried in CreateStringTable's string_data or UpdateStringTable's
// data payload.
func (t *Table) Update(r *bitio.Reader, entries int32) error {
	idx := int32(0)
	var keyRing []string

	for i := int32(0); i < entries; i++ {
		incr, err := r.ReadBit()
		if err != nil {
			return fmt.Errorf("stringtable: read index increment bit: %w", err)
		}
		if incr {
			idx++
		} else {
			v, err := r.ReadVarUint32()
			if err != nil {
				return fmt.Errorf("stringtable: read index: %w", err)
			}
			idx = int32(v) + 1
		}

		key, haveKey, err := t.readKey(r, &keyRing)
		if err != nil {
			return err
		}

		value, err := t.readValue(r)
		if err != nil {
			return err
		}

		if !haveKey {
			found := false
			for k, e := range t.entries {
				if e.index == idx {
					key, found = k, true
					break
				}
			}
			if !found {
				// No existing entry at this index to attach the
				// value to either; nothing more we can do with it.
				continue
			}
		}

		delete(t.cache, key)
		t.entries[key] = entry{index: idx, value: value}
	}

	return nil
}

func (t *Table) readKey(r *bitio.Reader, keyRing *[]string) (string, bool, error) {
	hasKey, err := r.ReadBit()
	if err != nil {
		return "", false, fmt.Errorf("stringtable: read key presence bit: %w", err)
	}
	if !hasKey {
		return "", false, nil
	}

	shared, err := r.ReadBit()
	if err != nil {
		return "", false, fmt.Errorf("stringtable: read key-shared bit: %w", err)
	}

	var key string
	if shared {
		posBits, err := r.ReadBits(5)
		if err != nil {
			return "", false, fmt.Errorf("stringtable: read shared key position: %w", err)
		}
		sizeBits, err := r.ReadBits(5)
		if err != nil {
			return "", false, fmt.Errorf("stringtable: read shared key size: %w", err)
		}
		suffix, err := r.ReadCString()
		if err != nil {
			return "", false, fmt.Errorf("stringtable: read key suffix: %w", err)
		}
		pos, size := int(posBits), int(sizeBits)
		if pos >= len(*keyRing) {
			key = suffix
		} else {
			base := (*keyRing)[pos]
			if size > len(base) {
				size = len(base)
			}
			key = base[:size] + suffix
		}
	} else {
		key, err = r.ReadCString()
		if err != nil {
			return "", false, fmt.Errorf("stringtable: read key: %w", err)
		}
	}

	*keyRing = append(*keyRing, key)
	if len(*keyRing) > maxKeyRing {
		*keyRing = (*keyRing)[1:]
	}
	return key, true, nil
}

func (t *Table) readValue(r *bitio.Reader) ([]byte, error) {
	hasValue, err := r.ReadBit()
	if err != nil {
		return nil, fmt.Errorf("stringtable: read value presence bit: %w", err)
	}
	if !hasValue {
		return nil, nil
	}

	compressed := false
	var bitSize int
	if t.Config.UserDataFixedSize {
		bitSize = int(t.Config.UserDataSize)
	} else {
		if t.Config.Flags&1 != 0 {
			compressed, err = r.ReadBit()
			if err != nil {
				return nil, fmt.Errorf("stringtable: read value compressed bit: %w", err)
			}
		}
		if t.Config.UsingVarintBitcounts {
			n, err := r.ReadUBitInt()
			if err != nil {
				return nil, fmt.Errorf("stringtable: read varint bit count: %w", err)
			}
			bitSize = int(n) * 8
		} else {
			n, err := r.ReadBits(17)
			if err != nil {
				return nil, fmt.Errorf("stringtable: read fixed bit count: %w", err)
			}
			bitSize = int(n) * 8
		}
	}

	buf := make([]byte, (bitSize+7)/8)
	nbytes := bitSize / 8
	for i := 0; i < nbytes; i++ {
		b, err := r.ReadU8()
		if err != nil {
			return nil, fmt.Errorf("stringtable: read value bytes: %w", err)
		}
		buf[i] = b
	}
	if rem := bitSize % 8; rem > 0 {
		v, err := r.ReadBits(rem)
		if err != nil {
			return nil, fmt.Errorf("stringtable: read value trailing bits: %w", err)
		}
		buf[nbytes] = byte(v)
	}

	if !compressed {
		return buf, nil
	}
	return compr.DecompressS2(buf)
}
