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

package fieldpath

import "fmt"

// EncodeOps packs the huffman leaf reached by each named opcode, in
// order, into a little-bit-first byte stream that ReadPaths can
// consume. It does not build a real encoder (no data-carrying opcode
// arguments are written, only the leaf selector bits), so it is only
// useful for opcodes whose handler reads no further bits -
// PlusOne and FieldPathEncodeFinish being the two every synthetic test
// stream needs. It exists so packages downstream of fieldpath can
// build synthetic field-path streams for their own tests without
// duplicating the huffman tree walk.
func EncodeOps(names ...string) ([]byte, error) {
	var bits []bool
	for _, name := range names {
		leaf, err := leafBits(name)
		if err != nil {
			return nil, err
		}
		bits = append(bits, leaf...)
	}
	out := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out, nil
}

func leafBits(name string) ([]bool, error) {
	target := -1
	for i, o := range ops {
		if o.name == name {
			target = i
			break
		}
	}
	if target < 0 {
		return nil, fmt.Errorf("fieldpath: unknown opcode %q", name)
	}

	var path []bool
	var walk func(n *node, acc []bool) bool
	walk = func(n *node, acc []bool) bool {
		if n.isLeaf() {
			if n.opIdx == target {
				path = append([]bool{}, acc...)
				return true
			}
			return false
		}
		if n.left != nil && walk(n.left, append(acc, false)) {
			return true
		}
		if n.right != nil && walk(n.right, append(acc, true)) {
			return true
		}
		return false
	}
	walk(huffmanRoot, nil)
	if path == nil {
		return nil, fmt.Errorf("fieldpath: opcode %q unreachable in huffman tree", name)
	}
	return path, nil
}
