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

package demo

import (
	"bytes"
	"math"
	"testing"

	"github.com/hax0r31337/demoinfocs2-lite/entitydecoder"
	"github.com/hax0r31337/demoinfocs2-lite/envelope"
	"github.com/hax0r31337/demoinfocs2-lite/event"
	"github.com/hax0r31337/demoinfocs2-lite/fieldpath"
)

// protoBuilder assembles byte-aligned protobuf-wire messages, the same
// minimal helper every package that hand-builds demomsg fixtures uses.
type protoBuilder struct{ buf []byte }

func (p *protoBuilder) varint(v uint64) {
	for v >= 0x80 {
		p.buf = append(p.buf, byte(v)|0x80)
		v >>= 7
	}
	p.buf = append(p.buf, byte(v))
}

func (p *protoBuilder) tag(num int, wt int) { p.varint(uint64(num)<<3 | uint64(wt)) }

func (p *protoBuilder) varintField(num int, v uint64) {
	p.tag(num, 0)
	p.varint(v)
}

func (p *protoBuilder) fixed32Field(num int, v uint32) {
	p.tag(num, 5)
	p.buf = append(p.buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func (p *protoBuilder) bytesField(num int, v []byte) {
	p.tag(num, 2)
	p.varint(uint64(len(v)))
	p.buf = append(p.buf, v...)
}

func (p *protoBuilder) stringField(num int, s string) { p.bytesField(num, []byte(s)) }

// streamBuilder packs fields little-bit-first, matching bitio.Reader's
// bit order, to assemble synthetic bit-level payloads (field paths,
// packet-entities entries, embedded sub-command streams).
type streamBuilder struct{ bits []bool }

func (s *streamBuilder) bit(b bool) { s.bits = append(s.bits, b) }

func (s *streamBuilder) bitsN(v uint64, n int) {
	for i := 0; i < n; i++ {
		s.bit((v>>uint(i))&1 != 0)
	}
}

// ubitInt encodes v using bitio.ReadUBitInt's four size classes.
func (s *streamBuilder) ubitInt(v uint32) {
	switch {
	case v < 16:
		s.bitsN(uint64(v), 6)
	case v>>4 < 16:
		s.bitsN(uint64(16|(v&15)), 6)
		s.bitsN(uint64(v>>4), 4)
	case v>>4 < 256:
		s.bitsN(uint64(32|(v&15)), 6)
		s.bitsN(uint64(v>>4), 8)
	default:
		s.bitsN(uint64(48|(v&15)), 6)
		s.bitsN(uint64(v>>4), 28)
	}
}

// varint encodes v as a byte-level LEB128 varint, bit by bit.
func (s *streamBuilder) varint(v uint64) {
	for v >= 0x80 {
		s.bitsN(uint64(byte(v)|0x80), 8)
		v >>= 7
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

func appendVarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

func appendFrame(buf []byte, cmd envelope.EDemoCommand, tick uint32, payload []byte) []byte {
	buf = appendVarint(buf, uint64(cmd))
	buf = appendVarint(buf, uint64(tick))
	buf = appendVarint(buf, uint64(len(payload)))
	return append(buf, payload...)
}

type testPawn struct{ Health uint64 }

func registerPawn(t *testing.T, p *Parser) {
	t.Helper()
	err := RegisterEntityClass(p, "CPlayerPawn", func(fields []entitydecoder.Node) *entitydecoder.ClassSerializer[testPawn] {
		return entitydecoder.NewClassSerializer([]entitydecoder.FieldBinding[testPawn]{
			{Node: fields[0], Getter: func(e *testPawn) any { return &e.Health }},
		})
	})
	if err != nil {
		t.Fatal(err)
	}
}

// buildSendTables assembles a CDemoSendTables.Data payload describing
// one class, CPlayerPawn, with a single uint32 field m_iHealth.
func buildSendTables() []byte {
	var field0 protoBuilder
	field0.varintField(1, 0) // var_type_sym -> "uint32"
	field0.varintField(2, 1) // var_name_sym -> "m_iHealth"

	var serializer protoBuilder
	serializer.varintField(1, 2) // serializer_name_sym -> "CPlayerPawn"
	serializer.varintField(3, 0)

	var msg protoBuilder
	msg.bytesField(1, field0.buf)
	msg.bytesField(2, serializer.buf)
	for _, s := range []string{"uint32", "m_iHealth", "CPlayerPawn"} {
		msg.stringField(3, s)
	}

	var payload protoBuilder
	payload.varint(1) // leading version varint
	payload.buf = append(payload.buf, msg.buf...)
	return payload.buf
}

// buildDemo assembles a complete synthetic CS2 demo byte stream: a file
// header, class info, send tables, and one signon packet creating a
// single CPlayerPawn entity with m_iHealth left at its zero value.
func buildDemo(t *testing.T) []byte {
	t.Helper()

	var out []byte
	out = append(out, "PBDEMS2\x00"...)
	out = append(out, make([]byte, 8)...) // ignored fileinfo offset

	var fileHeader protoBuilder
	fileHeader.varintField(2, 13)
	fileHeader.stringField(5, "de_testmap")
	out = appendFrame(out, envelope.DemFileHeader, 0, fileHeader.buf)

	var classEntry protoBuilder
	classEntry.varintField(1, 1)
	classEntry.stringField(2, "CPlayerPawn")
	var classInfo protoBuilder
	classInfo.bytesField(1, classEntry.buf)
	out = appendFrame(out, envelope.DemClassInfo, 0, classInfo.buf)

	var sendTables protoBuilder
	sendTables.bytesField(1, buildSendTables())
	out = appendFrame(out, envelope.DemSendTables, 0, sendTables.buf)

	var serverInfo protoBuilder
	serverInfo.fixed32Field(15, math.Float32bits(1.0/64.0))
	serverInfo.varintField(10, 8) // max_classes = 8 -> class id size = 4 bits

	var createBaseline protoBuilder
	createBaseline.stringField(1, "instancebaseline")
	createBaseline.varintField(3, 0)
	createBaseline.varintField(4, 0)
	createBaseline.varintField(5, 0)
	createBaseline.varintField(7, 0)
	createBaseline.bytesField(8, nil)
	createBaseline.varintField(9, 0)
	createBaseline.varintField(10, 1)

	pathBits, err := fieldpath.EncodeOps("PlusOne", "FieldPathEncodeFinish")
	if err != nil {
		t.Fatal(err)
	}
	var entityData streamBuilder
	entityData.ubitInt(0)   // index delta: idx becomes 0
	entityData.bitsN(2, 2)  // cmd: create, not delete
	entityData.bitsN(1, 4)  // class id = 1
	entityData.bitsN(5, 17) // serial = 5
	entityData.varint(0)    // discarded varint
	entityData.raw(pathBits)
	entityData.bitsN(0, 8) // m_iHealth varint = 0

	var packetEntities protoBuilder
	packetEntities.varintField(2, 1)
	packetEntities.bytesField(8, entityData.bytes())

	var packet streamBuilder
	packet.ubitInt(svcServerInfo)
	packet.varint(uint64(len(serverInfo.buf)))
	packet.raw(serverInfo.buf)
	packet.ubitInt(svcCreateStringTable)
	packet.varint(uint64(len(createBaseline.buf)))
	packet.raw(createBaseline.buf)
	packet.ubitInt(svcPacketEntities)
	packet.varint(uint64(len(packetEntities.buf)))
	packet.raw(packetEntities.buf)

	out = appendFrame(out, envelope.DemSignonPacket, 5, packet.bytes())
	out = appendFrame(out, envelope.DemStop, 5, nil)

	return out
}

func TestParserFullRoundTrip(t *testing.T) {
	p, err := NewParser(bytes.NewReader(buildDemo(t)))
	if err != nil {
		t.Fatal(err)
	}
	registerPawn(t, p)

	var ticks []uint32
	event.Subscribe(p.Events(), func(e event.TickEvent) { ticks = append(ticks, e.Tick) })
	var mapChanges []string
	event.Subscribe(p.Events(), func(e event.MapChangeEvent) { mapChanges = append(mapChanges, e.MapName) })
	ended := false
	event.Subscribe(p.Events(), func(event.DemoEndEvent) { ended = true })

	for {
		ok, err := p.ReadFrame()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
	}

	if p.MapName() != "de_testmap" {
		t.Fatalf("MapName = %q", p.MapName())
	}
	if len(mapChanges) != 1 || mapChanges[0] != "de_testmap" {
		t.Fatalf("mapChanges = %v", mapChanges)
	}
	if !ended {
		t.Fatal("expected DemoEndEvent to fire")
	}
	if len(ticks) == 0 || ticks[len(ticks)-1] != 5 {
		t.Fatalf("ticks = %v", ticks)
	}

	item := p.Entity(0)
	if item == nil {
		t.Fatal("expected entity 0 to exist")
	}
	pawn, ok := item.Value.(*testPawn)
	if !ok {
		t.Fatalf("entity value type = %T", item.Value)
	}
	if pawn.Health != 0 {
		t.Fatalf("Health = %d", pawn.Health)
	}

	table := p.StringTable("instancebaseline")
	if table == nil {
		t.Fatal("expected instancebaseline table to be tracked")
	}
}

func TestRegisterEntityClassRejectsDuplicateAndLateRegistration(t *testing.T) {
	p, err := NewParser(bytes.NewReader(buildDemo(t)))
	if err != nil {
		t.Fatal(err)
	}
	registerPawn(t, p)
	if err := RegisterEntityClass(p, "CPlayerPawn", func(fields []entitydecoder.Node) *entitydecoder.ClassSerializer[testPawn] {
		return entitydecoder.NewClassSerializer[testPawn](nil)
	}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}

	if _, err := p.ReadFrame(); err != nil {
		t.Fatal(err)
	}
	if err := RegisterEntityClass(p, "CWeaponBase", func(fields []entitydecoder.Node) *entitydecoder.ClassSerializer[testPawn] {
		return entitydecoder.NewClassSerializer[testPawn](nil)
	}); err == nil {
		t.Fatal("expected registration after ReadFrame to fail")
	}
}
