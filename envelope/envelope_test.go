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

package envelope

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/s2"
)

func appendVarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

func appendFrame(buf []byte, cmd uint64, tick uint64, payload []byte) []byte {
	buf = appendVarint(buf, cmd)
	buf = appendVarint(buf, tick)
	buf = appendVarint(buf, uint64(len(payload)))
	return append(buf, payload...)
}

func demoFile(frames ...[]byte) []byte {
	var out []byte
	out = append(out, demoMagic[:]...)
	out = append(out, 0, 0, 0, 0, 0, 0, 0, 0) // fileinfo offset, ignored
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}

func TestNewReaderRejectsBadMagic(t *testing.T) {
	buf := append([]byte("NOTADEMO"), make([]byte, 8)...)
	if _, err := NewReader(bytes.NewReader(buf)); err == nil {
		t.Fatal("expected an error for a bad magic")
	}
}

func TestReadFrameRoundTrip(t *testing.T) {
	var frames []byte
	frames = appendFrame(frames, uint64(DemFileHeader), 0, []byte("hello"))
	frames = appendFrame(frames, uint64(DemStop), 5, nil)

	r, err := NewReader(bytes.NewReader(demoFile(frames)))
	if err != nil {
		t.Fatal(err)
	}

	f, ok, err := r.ReadFrame()
	if err != nil || !ok {
		t.Fatalf("ReadFrame() = %v, %v, %v", f, ok, err)
	}
	if f.Cmd != DemFileHeader || f.Tick != 0 || string(f.Payload) != "hello" {
		t.Fatalf("unexpected frame: %+v", f)
	}

	_, ok, err = r.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected DEM_Stop to end the stream")
	}
}

func TestReadFrameDecompressesS2Payload(t *testing.T) {
	raw := []byte("this payload is long enough to be worth compressing, repeated repeated repeated")
	compressed := s2.Encode(nil, raw)

	var frames []byte
	frames = appendFrame(frames, uint64(DemFileHeader)|demIsCompressed, 3, compressed)
	frames = appendFrame(frames, uint64(DemStop), 3, nil)

	r, err := NewReader(bytes.NewReader(demoFile(frames)))
	if err != nil {
		t.Fatal(err)
	}

	f, ok, err := r.ReadFrame()
	if err != nil || !ok {
		t.Fatalf("ReadFrame() = %v, %v, %v", f, ok, err)
	}
	if f.Cmd != DemFileHeader {
		t.Fatalf("Cmd = %v", f.Cmd)
	}
	if !bytes.Equal(f.Payload, raw) {
		t.Fatalf("Payload = %q, want %q", f.Payload, raw)
	}
}

func TestReadFrameEOFWithoutStop(t *testing.T) {
	var frames []byte
	frames = appendFrame(frames, uint64(DemFileHeader), 0, []byte("x"))

	r, err := NewReader(bytes.NewReader(demoFile(frames)))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, err := r.ReadFrame(); err != nil || !ok {
		t.Fatalf("first frame: %v, %v", ok, err)
	}
	_, ok, err := r.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected EOF to report ok=false")
	}
}

// buildSubCommandStream packs sub-commands LSB-first, back to back: a
// ubit_int message type under 16 (the 6 raw bits with the top 2 zero),
// then a one-byte varint size (payloads under 128 bytes) and the payload
// bytes, neither of which starts on a byte boundary after the 6-bit type.
func buildSubCommandStream(cmds ...SubCommand) []byte {
	var bits []bool
	put := func(v uint64, n int) {
		for i := 0; i < n; i++ {
			bits = append(bits, (v>>uint(i))&1 != 0)
		}
	}
	for _, c := range cmds {
		put(uint64(c.Type), 6)
		put(uint64(len(c.Payload)), 8)
		for _, b := range c.Payload {
			put(uint64(b), 8)
		}
	}
	out := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

func TestSubCommandsSingleEntry(t *testing.T) {
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	stream := buildSubCommandStream(SubCommand{Type: 3, Payload: payload})

	cmds, err := SubCommands(stream)
	if err != nil {
		t.Fatal(err)
	}
	if len(cmds) != 1 {
		t.Fatalf("got %d sub-commands, want 1", len(cmds))
	}
	if cmds[0].Type != 3 || !bytes.Equal(cmds[0].Payload, payload) {
		t.Fatalf("sub-command = %+v", cmds[0])
	}
}

func TestSubCommandsMultipleEntries(t *testing.T) {
	stream := buildSubCommandStream(
		SubCommand{Type: 1, Payload: []byte{0x01}},
		SubCommand{Type: 2, Payload: []byte{0x02, 0x03}},
	)

	cmds, err := SubCommands(stream)
	if err != nil {
		t.Fatal(err)
	}
	if len(cmds) != 2 {
		t.Fatalf("got %d sub-commands, want 2", len(cmds))
	}
	if cmds[0].Type != 1 || cmds[1].Type != 2 {
		t.Fatalf("types = %d, %d", cmds[0].Type, cmds[1].Type)
	}
	if !bytes.Equal(cmds[1].Payload, []byte{0x02, 0x03}) {
		t.Fatalf("second payload = %v", cmds[1].Payload)
	}
}

func TestSubCommandsStopsUnderOneByteRemaining(t *testing.T) {
	stream := buildSubCommandStream(SubCommand{Type: 1, Payload: []byte{0xAA}})

	cmds, err := SubCommands(stream)
	if err != nil {
		t.Fatal(err)
	}
	if len(cmds) != 1 {
		t.Fatalf("got %d sub-commands, want 1", len(cmds))
	}
}
