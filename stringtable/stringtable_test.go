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

package stringtable

import (
	"testing"

	"github.com/hax0r31337/demoinfocs2-lite/bitio"
)

// bitBuilder packs fields little-bit-first, matching bitio.Reader.
type bitBuilder struct{ bits []bool }

func (b *bitBuilder) bit(v bool) { b.bits = append(b.bits, v) }
func (b *bitBuilder) bitsN(v uint64, n int) {
	for i := 0; i < n; i++ {
		b.bit((v>>uint(i))&1 != 0)
	}
}
func (b *bitBuilder) cstring(s string) {
	for _, c := range []byte(s) {
		b.bitsN(uint64(c), 8)
	}
	b.bitsN(0, 8)
}
func (b *bitBuilder) bytes() []byte {
	out := make([]byte, (len(b.bits)+7)/8)
	for i, v := range b.bits {
		if v {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

func TestUpdateSingleEntryFullKeyFixedValue(t *testing.T) {
	tbl := New("userinfo", Config{UserDataFixedSize: true, UserDataSize: 8})

	var b bitBuilder
	b.bit(false)       // not incr: read varint index
	b.bitsN(0, 8)       // index varint = 0 -> idx = 1
	b.bit(true)         // has key
	b.bit(false)        // not shared
	b.cstring("player0")
	b.bit(true) // has value
	b.bitsN(0xAB, 8)

	r := bitio.NewReader(b.bytes())
	if err := tbl.Update(r, 1); err != nil {
		t.Fatal(err)
	}
	v, ok := tbl.GetRaw("player0")
	if !ok || len(v) != 1 || v[0] != 0xAB {
		t.Fatalf("GetRaw(player0) = %v, %v", v, ok)
	}
}

func TestUpdateSharedKeyPrefix(t *testing.T) {
	tbl := New("userinfo", Config{UserDataFixedSize: true, UserDataSize: 0})

	var b bitBuilder
	// entry 0: full key "player_one", idx 1, no value
	b.bit(false)
	b.bitsN(0, 8)
	b.bit(true)
	b.bit(false)
	b.cstring("player_one")
	b.bit(false) // no value

	// entry 1: shared key, pos=0, size=7 ("player_"), suffix "two", idx 2
	b.bit(true) // incr
	b.bit(true)
	b.bit(true)
	b.bitsN(0, 5) // pos = 0
	b.bitsN(7, 5) // size = 7
	b.cstring("two")
	b.bit(false)

	r := bitio.NewReader(b.bytes())
	if err := tbl.Update(r, 2); err != nil {
		t.Fatal(err)
	}
	if _, ok := tbl.entries["player_one"]; !ok {
		t.Fatal("expected player_one to be present")
	}
	if _, ok := tbl.entries["player_two"]; !ok {
		t.Fatalf("expected shared-prefix key player_two, got entries: %v", tbl.entries)
	}
}

func TestInsertInvalidatesCache(t *testing.T) {
	tbl := New("instancebaseline", Config{})
	tbl.Insert("1", 0, []byte{1, 2, 3})
	tbl.PutCache("1", "decoded-prototype")

	if _, ok := tbl.GetCached("1"); !ok {
		t.Fatal("expected cache hit before re-insert")
	}
	tbl.Insert("1", 0, []byte{9})
	if _, ok := tbl.GetCached("1"); ok {
		t.Fatal("expected Insert to invalidate the cached decode")
	}
	v, _ := tbl.GetRaw("1")
	if len(v) != 1 || v[0] != 9 {
		t.Fatalf("GetRaw after re-insert = %v", v)
	}
}

func TestPurgeCacheLeavesEntries(t *testing.T) {
	tbl := New("instancebaseline", Config{})
	tbl.Insert("1", 0, []byte{1})
	tbl.PutCache("1", "proto")
	tbl.PurgeCache()

	if _, ok := tbl.GetCached("1"); ok {
		t.Fatal("expected purge to drop cached decode")
	}
	if _, ok := tbl.GetRaw("1"); !ok {
		t.Fatal("expected raw entry to survive purge")
	}
}
