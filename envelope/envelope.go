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

// Package envelope reads the CS2 demo file container: an 8-byte magic
// plus an ignored fileinfo offset, followed by a stream of
// (cmd, tick, size, payload) frames, each possibly Snappy-compressed
// and some carrying their own embedded sub-command stream.
package envelope

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/hax0r31337/demoinfocs2-lite/bitio"
	"github.com/hax0r31337/demoinfocs2-lite/compr"
)

// EDemoCommand is the top-level frame command, with the compression
// flag already masked off by ReadFrame.
type EDemoCommand int32

// Frame commands the core dispatches on. Numeric values follow the
// public CS2 demo.proto EDemoCommands enum.
const (
	DemStop                EDemoCommand = 0
	DemFileHeader          EDemoCommand = 1
	DemFileInfo            EDemoCommand = 2
	DemSyncTick            EDemoCommand = 3
	DemSendTables          EDemoCommand = 4
	DemClassInfo           EDemoCommand = 5
	DemStringTables        EDemoCommand = 6
	DemPacket              EDemoCommand = 7
	DemSignonPacket        EDemoCommand = 8
	DemConsoleCmd          EDemoCommand = 9
	DemCustomData          EDemoCommand = 10
	DemCustomDataCallbacks EDemoCommand = 11
	DemUserCmd             EDemoCommand = 12
	DemFullPacket          EDemoCommand = 13
	DemSaveGame            EDemoCommand = 14
	DemSpawnGroups         EDemoCommand = 15
	DemAnimationData       EDemoCommand = 16
)

// demIsCompressed is the high bit OR'd onto cmd on the wire.
const demIsCompressed = 0x40

var demoMagic = [8]byte{'P', 'B', 'D', 'E', 'M', 'S', '2', 0}

// Frame is one decoded top-level demo frame, already decompressed if
// it was marked compressed on the wire.
type Frame struct {
	Cmd     EDemoCommand
	Tick    uint32
	Payload []byte
}

// Reader pulls frames off a CS2 demo byte stream. The zero value is
// not usable; use NewReader.
type Reader struct {
	r    *bufio.Reader
	pool sync.Pool
}

// NewReader validates the 16-byte file header (8-byte magic plus an
// 8-byte fileinfo offset, ignored - this reader only ever streams
// forward) and returns a Reader positioned at the first frame.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	var hdr [16]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return nil, fmt.Errorf("envelope: read file header: %w", err)
	}
	if !bytes.Equal(hdr[:8], demoMagic[:]) {
		return nil, fmt.Errorf("envelope: not a CS2 demo file (bad magic)")
	}
	return &Reader{r: br}, nil
}

func (rd *Reader) getBuf(n int) []byte {
	if v := rd.pool.Get(); v != nil {
		b := *v.(*[]byte)
		if cap(b) >= n {
			return b[:n]
		}
	}
	return make([]byte, n)
}

// Release returns a frame payload's backing buffer to the pool. Only
// call it once the caller is entirely done with the payload; safe to
// skip (the buffer is just garbage-collected instead of reused).
func (rd *Reader) Release(payload []byte) {
	rd.pool.Put(&payload)
}

func readVarint(r *bufio.Reader) (uint64, error) {
	var v uint64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, fmt.Errorf("envelope: varint overflow")
		}
	}
}

// ReadFrame reads and returns the next frame. ok is false once the
// stream ends (io.EOF on the cmd varint, or a DEM_Stop frame) with a
// nil error in both cases.
func (rd *Reader) ReadFrame() (frame Frame, ok bool, err error) {
	cmdRaw, err := readVarint(rd.r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, false, nil
		}
		return Frame{}, false, fmt.Errorf("envelope: read cmd: %w", err)
	}
	tick, err := readVarint(rd.r)
	if err != nil {
		return Frame{}, false, fmt.Errorf("envelope: read tick: %w", err)
	}
	size, err := readVarint(rd.r)
	if err != nil {
		return Frame{}, false, fmt.Errorf("envelope: read size: %w", err)
	}

	buf := rd.getBuf(int(size))
	if _, err := io.ReadFull(rd.r, buf); err != nil {
		return Frame{}, false, fmt.Errorf("envelope: read payload: %w", err)
	}

	compressed := cmdRaw&demIsCompressed != 0
	cmd := EDemoCommand(cmdRaw &^ uint64(demIsCompressed))

	if cmd == DemStop {
		return Frame{}, false, nil
	}

	payload := buf
	if compressed {
		decompressed, err := compr.DecompressS2(buf)
		rd.Release(buf)
		if err != nil {
			return Frame{}, false, fmt.Errorf("envelope: decompress frame: %w", err)
		}
		payload = decompressed
	}

	return Frame{Cmd: cmd, Tick: uint32(tick), Payload: payload}, true, nil
}

// SubCommand is one (message_type, payload) pair packed into a
// DEM_Packet/DEM_SignonPacket frame.
type SubCommand struct {
	Type    uint32
	Payload []byte
}

// SubCommands decodes every sub-command embedded in payload, a
// DEM_Packet or DEM_SignonPacket frame's data. Decoding stops once
// fewer than 8 bits remain, matching the wire format's padding
// tolerance. When the bit cursor lands byte-aligned after the type and
// size, the returned payload is a zero-copy sub-slice of the frame buffer;
// otherwise it is copied out bit by bit.
func SubCommands(payload []byte) ([]SubCommand, error) {
	r := bitio.NewReader(payload)
	var out []SubCommand

	for r.BitsRemaining() >= 8 {
		msgType, err := r.ReadUBitInt()
		if err != nil {
			return nil, fmt.Errorf("envelope: read sub-command type: %w", err)
		}
		size, err := r.ReadVarUint64()
		if err != nil {
			return nil, fmt.Errorf("envelope: read sub-command size: %w", err)
		}

		var buf []byte
		if r.ByteAligned() {
			pos := int(r.BitPosition() >> 3)
			end := pos + int(size)
			if end > len(payload) {
				return nil, fmt.Errorf("envelope: sub-command size overruns frame")
			}
			buf = payload[pos:end]
			if err := r.Skip(int(size) * 8); err != nil {
				return nil, fmt.Errorf("envelope: skip sub-command payload: %w", err)
			}
		} else {
			buf = make([]byte, size)
			for i := range buf {
				b, err := r.ReadU8()
				if err != nil {
					return nil, fmt.Errorf("envelope: read sub-command payload: %w", err)
				}
				buf[i] = b
			}
		}

		out = append(out, SubCommand{Type: uint32(msgType), Payload: buf})
	}

	return out, nil
}
