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

package packetentities

import (
	"testing"

	"github.com/hax0r31337/demoinfocs2-lite/baseline"
	"github.com/hax0r31337/demoinfocs2-lite/bitio"
	"github.com/hax0r31337/demoinfocs2-lite/entitydecoder"
	"github.com/hax0r31337/demoinfocs2-lite/entitylist"
	"github.com/hax0r31337/demoinfocs2-lite/fieldpath"
)

// streamBuilder packs fields little-bit-first into a byte slice,
// matching bitio.Reader's bit order, to assemble synthetic
// packet-entities payloads.
type streamBuilder struct {
	bits []bool
}

func (s *streamBuilder) bit(b bool) { s.bits = append(s.bits, b) }

func (s *streamBuilder) bitsN(v uint64, n int) {
	for i := 0; i < n; i++ {
		s.bit((v>>uint(i))&1 != 0)
	}
}

// ubitInt encodes a small (< 16) value using ubit_int's base case: six
// bits carrying the value directly.
func (s *streamBuilder) ubitInt(v uint32) {
	if v >= 16 {
		panic("ubitInt test helper only supports values < 16")
	}
	s.bitsN(uint64(v), 6)
}

// varint encodes v as a single-byte LEB128 varint; only valid for
// v < 0x80.
func (s *streamBuilder) varint(v uint64) {
	if v >= 0x80 {
		panic("varint test helper only supports values < 0x80")
	}
	s.bitsN(v, 8)
}

func (s *streamBuilder) raw(b []byte) {
	for _, by := range b {
		s.bitsN(uint64(by), 8)
	}
}

func (s *streamBuilder) bytes() []byte {
	out := make([]byte, (len(s.bits)+7)/8)
	for i, b := range s.bits {
		if b {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

type testPawn struct {
	Health uint64
}

func buildTestGraph(t *testing.T) entitydecoder.ClassDecoder {
	t.Helper()
	fields := []entitydecoder.FieldDescriptor{
		{VarName: "m_iHealth", VarType: "uint32"},
	}
	classes := []entitydecoder.ClassSpec{
		{Name: "CPlayerPawn", FieldIndexes: []int{0}},
	}
	registered := map[string]func([]entitydecoder.Node) entitydecoder.ClassDecoder{
		"CPlayerPawn": func(nodes []entitydecoder.Node) entitydecoder.ClassDecoder {
			return entitydecoder.NewClassSerializer([]entitydecoder.FieldBinding[testPawn]{
				{Node: nodes[0], Getter: func(e *testPawn) any { return &e.Health }},
			})
		},
	}
	graphs, err := entitydecoder.Build(fields, classes, registered)
	if err != nil {
		t.Fatal(err)
	}
	return graphs["CPlayerPawn"]
}

func newTestHandler(t *testing.T, cd entitydecoder.ClassDecoder) *Handler {
	t.Helper()
	h := NewHandler(4, entitylist.New(), baseline.New())
	h.ClassInfo[1] = "CPlayerPawn"
	h.Serializers["CPlayerPawn"] = ClassEntry{Decoder: cd, SerializeBaseline: false}
	return h
}

// singleHealthUpdateStream builds a one-field ([PlusOne, Finish]) path
// stream followed by a zero-valued varint payload for m_iHealth, with
// enough trailing zero bits that the varint read never runs off the
// end regardless of how the path bits happen to byte-align.
func singleHealthUpdateStream(t *testing.T) []byte {
	t.Helper()
	pathBits, err := fieldpath.EncodeOps("PlusOne", "FieldPathEncodeFinish")
	if err != nil {
		t.Fatal(err)
	}
	var s streamBuilder
	s.raw(pathBits)
	s.bitsN(0, 8)
	return s.bytes()
}

func TestHandleCreateThenUpdateSingleEntry(t *testing.T) {
	cd := buildTestGraph(t)
	h := newTestHandler(t, cd)

	var s streamBuilder
	s.ubitInt(0)  // index delta: idx becomes 0
	s.bitsN(2, 2) // cmd = 0b10: create, not delete
	s.bitsN(1, 4) // class id, 4 bits: 1
	s.bitsN(5, 17) // serial: 5
	s.varint(0)   // discarded varint
	s.raw(singleHealthUpdateStream(t))

	r := bitio.NewReader(s.bytes())
	if err := h.Handle(r, 1, false); err != nil {
		t.Fatal(err)
	}

	item := h.Entities.Get(0)
	if item == nil {
		t.Fatal("expected entity 0 to exist after create")
	}
	pawn := item.Value.(*testPawn)
	if pawn.Health != 0 {
		t.Fatalf("m_iHealth leaf reads a varint of 0 trailing bits padding, got %d", pawn.Health)
	}
}

func TestHandleDeleteMissingEntityLogsAndContinues(t *testing.T) {
	cd := buildTestGraph(t)
	h := newTestHandler(t, cd)

	var s streamBuilder
	s.ubitInt(0)
	s.bitsN(1, 2) // cmd = 0b01: delete bit set

	r := bitio.NewReader(s.bytes())
	if err := h.Handle(r, 1, false); err != nil {
		t.Fatal(err)
	}
	if h.Entities.Get(0) != nil {
		t.Fatal("expected no entity to have been created")
	}
}

func TestHandleUpdateMissingEntityErrors(t *testing.T) {
	cd := buildTestGraph(t)
	h := newTestHandler(t, cd)

	var s streamBuilder
	s.ubitInt(0)
	s.bitsN(0, 2) // cmd = 0: plain update, no create bit

	r := bitio.NewReader(s.bytes())
	if err := h.Handle(r, 1, false); err == nil {
		t.Fatal("expected error updating an entity that was never created")
	}
}

func TestHandlePVSVisBitsSkipsUpdate(t *testing.T) {
	cd := buildTestGraph(t)
	h := newTestHandler(t, cd)
	h.Entities.Insert(0, &entitylist.Item{Index: 0, Value: &testPawn{Health: 42}, Serializer: cd})

	var s streamBuilder
	s.ubitInt(0)
	s.bitsN(0, 2) // cmd = 0: update
	s.bitsN(1, 2) // vis bits, low bit set: skip

	r := bitio.NewReader(s.bytes())
	if err := h.Handle(r, 1, true); err != nil {
		t.Fatal(err)
	}
	pawn := h.Entities.Get(0).Value.(*testPawn)
	if pawn.Health != 42 {
		t.Fatalf("expected skipped update to leave entity untouched, got %d", pawn.Health)
	}
}

func TestHandleSkipsFieldPathsForTrailingUnknownEntity(t *testing.T) {
	h := NewHandler(4, entitylist.New(), baseline.New())
	unknown := entitydecoder.NewUnknownSerializer(nil)
	h.Entities.Insert(0, &entitylist.Item{Index: 0, Serializer: unknown})

	// No field-path bits at all: if Handle tried to read them, this
	// would fail with EOF instead of hitting the optimization.
	var s streamBuilder
	s.ubitInt(0)
	s.bitsN(0, 2) // cmd = 0: update

	r := bitio.NewReader(s.bytes())
	if err := h.Handle(r, 1, false); err != nil {
		t.Fatal(err)
	}
}

func TestHandleCreateSeedsFromBaseline(t *testing.T) {
	cd := buildTestGraph(t)
	h := newTestHandler(t, cd)
	h.Serializers["CPlayerPawn"] = ClassEntry{Decoder: cd, SerializeBaseline: true}

	h.Baseline.PutRaw(baseline.Key(1), singleHealthUpdateStream(t))

	var s streamBuilder
	s.ubitInt(0)
	s.bitsN(2, 2) // create
	s.bitsN(1, 4) // class id 1
	s.bitsN(0, 17)
	s.varint(0)
	s.raw(singleHealthUpdateStream(t)) // live update stream also needs a (trivial) path

	r := bitio.NewReader(s.bytes())
	if err := h.Handle(r, 1, false); err != nil {
		t.Fatal(err)
	}
	if h.Entities.Get(0) == nil {
		t.Fatal("expected entity to be created from baseline")
	}
	if _, ok := h.Baseline.GetCached(baseline.Key(1)); !ok {
		t.Fatal("expected decoded baseline prototype to be cached")
	}
}
