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

// Package fieldpath implements the Huffman-coded field-path language
// used to locate fields inside a delta-encoded entity update. The tree
// is built once from a fixed 40-opcode weight table
// (github.com/dotabuff/manta/field_path.go documents the same table for
// a different language) and walked bit by bit to produce a sequence of
// path snapshots per packet-entities update.
package fieldpath

import (
	"container/heap"
	"fmt"

	"github.com/hax0r31337/demoinfocs2-lite/bitio"
)

// Path is a fixed-capacity stack of up to 7 signed indices describing
// the location of one field inside a (possibly nested) entity.
type Path struct {
	Index [7]int32
	Last  uint8
	done  bool
}

// Default returns the path's initial state: [-1, 0, 0, ...], Last=0.
func Default() Path {
	return Path{Index: [7]int32{-1, 0, 0, 0, 0, 0, 0}}
}

// Slice returns the populated prefix of the path, Last+1 long.
func (p *Path) Slice() []int32 {
	return p.Index[:p.Last+1]
}

func (p *Path) pop(n uint8) {
	newLast := p.Last
	if n > newLast {
		newLast = 0
	} else {
		newLast -= n
	}
	for i := newLast + 1; i <= p.Last; i++ {
		p.Index[i] = 0
	}
	p.Last = newLast
}

// opFunc mutates path given a bit reader positioned right after the
// opcode was selected by the Huffman walk.
type opFunc func(r *bitio.Reader, p *Path) error

type op struct {
	name   string
	weight uint32
	fn     opFunc
}

// Fixed per spec: the weight table is the one observed driving real
// demo traffic; opcodes with weight 0 are rare but still reachable.
var ops = [40]op{
	{"PlusOne", 36271, func(_ *bitio.Reader, p *Path) error {
		p.Index[p.Last]++
		return nil
	}},
	{"PlusTwo", 10334, func(_ *bitio.Reader, p *Path) error {
		p.Index[p.Last] += 2
		return nil
	}},
	{"PlusThree", 1375, func(_ *bitio.Reader, p *Path) error {
		p.Index[p.Last] += 3
		return nil
	}},
	{"PlusFour", 646, func(_ *bitio.Reader, p *Path) error {
		p.Index[p.Last] += 4
		return nil
	}},
	{"PlusN", 4128, func(r *bitio.Reader, p *Path) error {
		v, err := r.ReadUBitIntFP()
		if err != nil {
			return err
		}
		p.Index[p.Last] += v + 5
		return nil
	}},
	{"PushOneLeftDeltaZeroRightZero", 35, func(_ *bitio.Reader, p *Path) error {
		p.Last++
		p.Index[p.Last] = 0
		return nil
	}},
	{"PushOneLeftDeltaZeroRightNonZero", 3, func(r *bitio.Reader, p *Path) error {
		v, err := r.ReadUBitIntFP()
		if err != nil {
			return err
		}
		p.Last++
		p.Index[p.Last] = v
		return nil
	}},
	{"PushOneLeftDeltaOneRightZero", 521, func(_ *bitio.Reader, p *Path) error {
		p.Index[p.Last]++
		p.Last++
		p.Index[p.Last] = 0
		return nil
	}},
	{"PushOneLeftDeltaOneRightNonZero", 2942, func(r *bitio.Reader, p *Path) error {
		p.Index[p.Last]++
		p.Last++
		v, err := r.ReadUBitIntFP()
		if err != nil {
			return err
		}
		p.Index[p.Last] = v
		return nil
	}},
	{"PushOneLeftDeltaNRightZero", 560, func(r *bitio.Reader, p *Path) error {
		v, err := r.ReadUBitIntFP()
		if err != nil {
			return err
		}
		p.Index[p.Last] += v
		p.Last++
		p.Index[p.Last] = 0
		return nil
	}},
	{"PushOneLeftDeltaNRightNonZero", 471, func(r *bitio.Reader, p *Path) error {
		v, err := r.ReadUBitIntFP()
		if err != nil {
			return err
		}
		p.Index[p.Last] += v + 2
		p.Last++
		v2, err := r.ReadUBitIntFP()
		if err != nil {
			return err
		}
		p.Index[p.Last] = v2 + 1
		return nil
	}},
	{"PushOneLeftDeltaNRightNonZeroPack6Bits", 10530, func(r *bitio.Reader, p *Path) error {
		v, err := r.ReadBits(3)
		if err != nil {
			return err
		}
		p.Index[p.Last] += int32(v) + 2
		p.Last++
		v2, err := r.ReadBits(3)
		if err != nil {
			return err
		}
		p.Index[p.Last] = int32(v2) + 1
		return nil
	}},
	{"PushOneLeftDeltaNRightNonZeroPack8Bits", 251, func(r *bitio.Reader, p *Path) error {
		v, err := r.ReadBits(4)
		if err != nil {
			return err
		}
		p.Index[p.Last] += int32(v) + 2
		p.Last++
		v2, err := r.ReadBits(4)
		if err != nil {
			return err
		}
		p.Index[p.Last] = int32(v2) + 1
		return nil
	}},
	{"PushTwoLeftDeltaZero", 0, pushNFP(2, false)},
	{"PushTwoPack5LeftDeltaZero", 0, pushNPack5(2, false)},
	{"PushThreeLeftDeltaZero", 0, pushNFP(3, false)},
	{"PushThreePack5LeftDeltaZero", 0, pushNPack5(3, false)},
	{"PushTwoLeftDeltaOne", 0, pushNFP(2, true)},
	{"PushTwoPack5LeftDeltaOne", 0, pushNPack5(2, true)},
	{"PushThreeLeftDeltaOne", 0, pushNFP(3, true)},
	{"PushThreePack5LeftDeltaOne", 0, pushNPack5(3, true)},
	{"PushTwoLeftDeltaN", 0, pushNFPDeltaN(2)},
	{"PushTwoPack5LeftDeltaN", 0, pushNPack5DeltaN(2)},
	{"PushThreeLeftDeltaN", 0, pushNFPDeltaN(3)},
	{"PushThreePack5LeftDeltaN", 0, pushNPack5DeltaN(3)},
	{"PushN", 0, func(r *bitio.Reader, p *Path) error {
		n, err := r.ReadUBitInt()
		if err != nil {
			return err
		}
		delta, err := r.ReadUBitInt()
		if err != nil {
			return err
		}
		p.Index[p.Last] += int32(delta)
		for i := uint32(0); i < n; i++ {
			v, err := r.ReadUBitIntFP()
			if err != nil {
				return err
			}
			p.Last++
			p.Index[p.Last] = v
		}
		return nil
	}},
	{"PushNAndNonTopological", 310, func(r *bitio.Reader, p *Path) error {
		for i := uint8(0); i <= p.Last; i++ {
			set, err := r.ReadBit()
			if err != nil {
				return err
			}
			if set {
				v, err := r.ReadVarInt32()
				if err != nil {
					return err
				}
				p.Index[i] += v + 1
			}
		}
		count, err := r.ReadUBitInt()
		if err != nil {
			return err
		}
		for i := uint32(0); i < count; i++ {
			v, err := r.ReadUBitIntFP()
			if err != nil {
				return err
			}
			p.Last++
			p.Index[p.Last] = v
		}
		return nil
	}},
	{"PopOnePlusOne", 2, func(_ *bitio.Reader, p *Path) error {
		p.pop(1)
		p.Index[p.Last]++
		return nil
	}},
	{"PopOnePlusN", 0, func(r *bitio.Reader, p *Path) error {
		p.pop(1)
		v, err := r.ReadUBitIntFP()
		if err != nil {
			return err
		}
		p.Index[p.Last] += v + 1
		return nil
	}},
	{"PopAllButOnePlusOne", 1837, func(_ *bitio.Reader, p *Path) error {
		p.pop(p.Last)
		p.Index[0]++
		return nil
	}},
	{"PopAllButOnePlusN", 149, func(r *bitio.Reader, p *Path) error {
		p.pop(p.Last)
		v, err := r.ReadUBitIntFP()
		if err != nil {
			return err
		}
		p.Index[0] += v + 1
		return nil
	}},
	{"PopAllButOnePlusNPack3Bits", 300, func(r *bitio.Reader, p *Path) error {
		p.pop(p.Last)
		v, err := r.ReadBits(3)
		if err != nil {
			return err
		}
		p.Index[0] += int32(v) + 1
		return nil
	}},
	{"PopAllButOnePlusNPack6Bits", 634, func(r *bitio.Reader, p *Path) error {
		p.pop(p.Last)
		v, err := r.ReadBits(6)
		if err != nil {
			return err
		}
		p.Index[0] += int32(v) + 1
		return nil
	}},
	{"PopNPlusOne", 0, func(r *bitio.Reader, p *Path) error {
		n, err := r.ReadUBitIntFP()
		if err != nil {
			return err
		}
		p.pop(uint8(n))
		p.Index[p.Last]++
		return nil
	}},
	{"PopNPlusN", 0, func(r *bitio.Reader, p *Path) error {
		n, err := r.ReadUBitIntFP()
		if err != nil {
			return err
		}
		p.pop(uint8(n))
		v, err := r.ReadVarInt32()
		if err != nil {
			return err
		}
		p.Index[p.Last] += v
		return nil
	}},
	{"PopNAndNonTopographical", 1, func(r *bitio.Reader, p *Path) error {
		n, err := r.ReadUBitIntFP()
		if err != nil {
			return err
		}
		p.pop(uint8(n))
		for i := uint8(0); i <= p.Last; i++ {
			set, err := r.ReadBit()
			if err != nil {
				return err
			}
			if set {
				v, err := r.ReadVarInt32()
				if err != nil {
					return err
				}
				p.Index[i] += v
			}
		}
		return nil
	}},
	{"NonTopoComplex", 76, func(r *bitio.Reader, p *Path) error {
		for i := uint8(0); i <= p.Last; i++ {
			set, err := r.ReadBit()
			if err != nil {
				return err
			}
			if set {
				v, err := r.ReadVarInt32()
				if err != nil {
					return err
				}
				p.Index[i] += v
			}
		}
		return nil
	}},
	{"NonTopoPenultimatePlusOne", 271, func(_ *bitio.Reader, p *Path) error {
		if p.Last > 0 {
			p.Index[p.Last-1]++
		}
		return nil
	}},
	{"NonTopoComplexPack4Bits", 99, func(r *bitio.Reader, p *Path) error {
		for i := uint8(0); i <= p.Last; i++ {
			set, err := r.ReadBit()
			if err != nil {
				return err
			}
			if set {
				v, err := r.ReadBits(4)
				if err != nil {
					return err
				}
				p.Index[i] += int32(v) - 7
			}
		}
		return nil
	}},
	{"FieldPathEncodeFinish", 25474, func(_ *bitio.Reader, p *Path) error {
		p.done = true
		return nil
	}},
}

// pushNFP appends n levels read via ReadUBitIntFP; deltaOne adds 1 to
// the current top index before pushing (the "LeftDeltaOne" opcodes).
func pushNFP(n int, deltaOne bool) opFunc {
	return func(r *bitio.Reader, p *Path) error {
		if deltaOne {
			p.Index[p.Last]++
		}
		for i := 0; i < n; i++ {
			v, err := r.ReadUBitIntFP()
			if err != nil {
				return err
			}
			p.Last++
			p.Index[p.Last] = v
		}
		return nil
	}
}

// pushNPack5 is pushNFP with each level packed into 5 raw bits.
func pushNPack5(n int, deltaOne bool) opFunc {
	return func(r *bitio.Reader, p *Path) error {
		if deltaOne {
			p.Index[p.Last]++
		}
		for i := 0; i < n; i++ {
			v, err := r.ReadBits(5)
			if err != nil {
				return err
			}
			p.Last++
			p.Index[p.Last] = int32(v)
		}
		return nil
	}
}

// pushNFPDeltaN reads an arbitrary-width delta (ReadUBitInt) for the
// current top index, then pushes n levels via ReadUBitIntFP.
func pushNFPDeltaN(n int) opFunc {
	return func(r *bitio.Reader, p *Path) error {
		delta, err := r.ReadUBitInt()
		if err != nil {
			return err
		}
		p.Index[p.Last] += int32(delta) + 2
		for i := 0; i < n; i++ {
			v, err := r.ReadUBitIntFP()
			if err != nil {
				return err
			}
			p.Last++
			p.Index[p.Last] = v
		}
		return nil
	}
}

func pushNPack5DeltaN(n int) opFunc {
	return func(r *bitio.Reader, p *Path) error {
		delta, err := r.ReadUBitInt()
		if err != nil {
			return err
		}
		p.Index[p.Last] += int32(delta) + 2
		for i := 0; i < n; i++ {
			v, err := r.ReadBits(5)
			if err != nil {
				return err
			}
			p.Last++
			p.Index[p.Last] = int32(v)
		}
		return nil
	}
}

// node is one vertex of the canonical Huffman tree; leaves carry an
// opcode index into ops, interior nodes carry left/right children.
type node struct {
	weight      uint32
	value       int32
	opIdx       int // -1 for interior nodes
	left, right *node
}

func (n *node) isLeaf() bool { return n.opIdx >= 0 }

// heapItems implements container/heap as a min-heap by weight. The
// reference orders its max-heap so that, for tied weights, the node
// with the *larger* value is popped first (its Ord impl compares
// values in ascending "greater" direction without reversing them the
// way it reverses weight) — replicated verbatim here rather than the
// "value ASC" shorthand, since the actual merge order must match bit
// for bit.
type heapItems []*node

func (h heapItems) Len() int { return len(h) }
func (h heapItems) Less(i, j int) bool {
	if h[i].weight != h[j].weight {
		return h[i].weight < h[j].weight
	}
	return h[i].value > h[j].value
}
func (h heapItems) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *heapItems) Push(x any)         { *h = append(*h, x.(*node)) }
func (h *heapItems) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

var huffmanRoot = buildHuffman()

func buildHuffman() *node {
	items := make(heapItems, len(ops))
	for i, o := range ops {
		w := o.weight
		if w == 0 {
			w = 1
		}
		items[i] = &node{weight: w, value: int32(i), opIdx: i}
	}
	heap.Init(&items)

	next := int32(len(ops))
	for items.Len() > 1 {
		a := heap.Pop(&items).(*node)
		b := heap.Pop(&items).(*node)
		combined := &node{
			weight: a.weight + b.weight,
			value:  next,
			opIdx:  -1,
			left:   a,
			right:  b,
		}
		next++
		heap.Push(&items, combined)
	}
	return items[0]
}

// ReadPaths decodes one field-path stream from r, appending each
// snapshot to out (which is cleared first) and returning the extended
// slice. Reusing out across frames avoids a per-frame allocation.
func ReadPaths(r *bitio.Reader, out [][]int32) ([][]int32, error) {
	out = out[:0]
	path := Default()
	cur := huffmanRoot

	for !path.done {
		bit, err := r.ReadBit()
		if err != nil {
			return out, err
		}
		if bit {
			cur = cur.right
		} else {
			cur = cur.left
		}
		if cur == nil {
			return out, fmt.Errorf("fieldpath: invalid huffman tree walk")
		}
		if !cur.isLeaf() {
			continue
		}
		if err := ops[cur.opIdx].fn(r, &path); err != nil {
			return out, fmt.Errorf("fieldpath: opcode %s: %w", ops[cur.opIdx].name, err)
		}
		cur = huffmanRoot
		if !path.done {
			snapshot := make([]int32, path.Last+1)
			copy(snapshot, path.Index[:path.Last+1])
			out = append(out, snapshot)
		}
	}
	return out, nil
}
