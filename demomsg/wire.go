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

// Package demomsg decodes the handful of demo/net messages the core
// parser actually reads: ServerInfo, ClassInfo, SendTables,
// PacketEntities, CreateStringTable, UpdateStringTable,
// DemoStringTables, FileHeader, and the embedded FlattenedSerializer
// that SendTables.Data carries. It is not a protobuf implementation -
// no .proto compiler runs here - just the varint/bytes/fixed32/fixed64 wire
// types those messages use, addressed by field number the way the
// generated accessors would be.
package demomsg

import "fmt"

type wireType int

const (
	wireVarint  wireType = 0
	wireFixed64 wireType = 1
	wireBytes   wireType = 2
	wireFixed32 wireType = 5
)

// field is one decoded protobuf field: exactly one of the value forms
// below is meaningful, selected by wt.
type field struct {
	num     int
	wt      wireType
	varint  uint64
	fixed32 uint32
	fixed64 uint64
	bytes   []byte
}

// decodeFields walks data as a flat sequence of protobuf fields. Later
// occurrences of the same field number are appended, not merged -
// callers that want "last wins" scalar semantics scan from the end;
// callers that want "repeated" semantics collect every match in order.
func decodeFields(data []byte) ([]field, error) {
	var fields []field
	i := 0
	for i < len(data) {
		tag, n, err := readVarint(data[i:])
		if err != nil {
			return nil, fmt.Errorf("demomsg: read field tag: %w", err)
		}
		i += n

		num := int(tag >> 3)
		wt := wireType(tag & 7)

		switch wt {
		case wireVarint:
			v, n, err := readVarint(data[i:])
			if err != nil {
				return nil, fmt.Errorf("demomsg: read varint field %d: %w", num, err)
			}
			i += n
			fields = append(fields, field{num: num, wt: wt, varint: v})

		case wireFixed64:
			if i+8 > len(data) {
				return nil, fmt.Errorf("demomsg: truncated fixed64 field %d", num)
			}
			v := le64(data[i : i+8])
			i += 8
			fields = append(fields, field{num: num, wt: wt, fixed64: v})

		case wireFixed32:
			if i+4 > len(data) {
				return nil, fmt.Errorf("demomsg: truncated fixed32 field %d", num)
			}
			v := le32(data[i : i+4])
			i += 4
			fields = append(fields, field{num: num, wt: wt, fixed32: v})

		case wireBytes:
			length, n, err := readVarint(data[i:])
			if err != nil {
				return nil, fmt.Errorf("demomsg: read length field %d: %w", num, err)
			}
			i += n
			end := i + int(length)
			if length > uint64(len(data)-i) || end < i {
				return nil, fmt.Errorf("demomsg: truncated bytes field %d", num)
			}
			fields = append(fields, field{num: num, wt: wt, bytes: data[i:end]})
			i = end

		default:
			return nil, fmt.Errorf("demomsg: unsupported wire type %d on field %d", wt, num)
		}
	}
	return fields, nil
}

func readVarint(data []byte) (uint64, int, error) {
	var v uint64
	var shift uint
	for i := 0; i < len(data); i++ {
		b := data[i]
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, i + 1, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, 0, fmt.Errorf("demomsg: varint overflow")
		}
	}
	return 0, 0, fmt.Errorf("demomsg: truncated varint")
}

// SkipLeadingVarint consumes one varint off the front of data and
// returns the remainder. CDemoSendTables.data begins with a proto
// version marker ahead of the embedded FlattenedSerializer message
// that ParseFlattenedSerializer doesn't otherwise interpret.
func SkipLeadingVarint(data []byte) ([]byte, error) {
	_, n, err := readVarint(data)
	if err != nil {
		return nil, fmt.Errorf("demomsg: skip leading varint: %w", err)
	}
	return data[n:], nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func le64(b []byte) uint64 {
	return uint64(le32(b[0:4])) | uint64(le32(b[4:8]))<<32
}

// lastVarint returns the value of the last occurrence of field num
// with varint wire type, protobuf's scalar "last wins" rule.
func lastVarint(fields []field, num int) (uint64, bool) {
	v, ok := uint64(0), false
	for _, f := range fields {
		if f.num == num && f.wt == wireVarint {
			v, ok = f.varint, true
		}
	}
	return v, ok
}

func lastBytes(fields []field, num int) ([]byte, bool) {
	var v []byte
	ok := false
	for _, f := range fields {
		if f.num == num && f.wt == wireBytes {
			v, ok = f.bytes, true
		}
	}
	return v, ok
}

func lastFixed32(fields []field, num int) (uint32, bool) {
	var v uint32
	ok := false
	for _, f := range fields {
		if f.num == num && f.wt == wireFixed32 {
			v, ok = f.fixed32, true
		}
	}
	return v, ok
}

func repeatedBytes(fields []field, num int) [][]byte {
	var out [][]byte
	for _, f := range fields {
		if f.num == num && f.wt == wireBytes {
			out = append(out, f.bytes)
		}
	}
	return out
}

func repeatedVarint(fields []field, num int) []uint64 {
	var out []uint64
	for _, f := range fields {
		if f.num == num && f.wt == wireVarint {
			out = append(out, f.varint)
		}
	}
	return out
}
