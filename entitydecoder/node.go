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

// Package entitydecoder builds and walks the per-class decoder graph
// that turns a field-path snapshot plus a bit reader into a mutation of
// a live entity value.
//
// Node is the type-erased counterpart of codec.Decoder[T]: Go has no
// associated-type polymorphism, so every leaf codec is wrapped in a
// small generic adapter (leafNode[T], optionalNode[T], ...) that closes
// over T at construction time and exposes the non-generic Node
// interface to the rest of the graph. This mirrors the split between
// EntitySerializerTyped<T> and the type-erased EntitySerializer trait
// object it reduces to.
package entitydecoder

import (
	"fmt"

	"github.com/hax0r31337/demoinfocs2-lite/bitio"
	"github.com/hax0r31337/demoinfocs2-lite/codec"
)

// Node decodes or skips the value addressed by path. entity is nil for
// a skip-only decode (the application never registered this field), or
// a pointer to the live storage the node's codec expects.
type Node interface {
	Decode(entity any, path []int32, r *bitio.Reader) error
	// NewValue returns a freshly zeroed pointer of the storage type this
	// node expects, for building a class's default-initialized payload.
	NewValue() any
}

// ClassDecoder is the per-class entry point: it additionally knows how
// to construct and clone whole entity values, not just individual
// fields.
type ClassDecoder interface {
	Node
	NewEntity() any
	CloneEntity(entity any) (any, error)
}

// leafNode wraps a primitive codec.Decoder[T] as a Node. Leaves require
// an empty path; the field-path engine only ever produces a non-empty
// trailing path when navigating through a container.
type leafNode[T any] struct {
	codec codec.Decoder[T]
}

func newLeaf[T any](c codec.Decoder[T]) Node { return &leafNode[T]{codec: c} }

func (n *leafNode[T]) Decode(entity any, path []int32, r *bitio.Reader) error {
	if len(path) != 0 {
		return fmt.Errorf("entitydecoder: path should be empty when a primitive node is reached")
	}
	if entity == nil {
		return n.codec.Skip(r)
	}
	e, ok := entity.(*T)
	if !ok {
		return fmt.Errorf("entitydecoder: entity type mismatch in leaf node")
	}
	v, err := n.codec.Decode(r)
	if err != nil {
		return err
	}
	*e = v
	return nil
}

func (n *leafNode[T]) NewValue() any {
	var v T
	return &v
}

// multiComponentNode decodes a fixed group of N same-typed components
// (Vector2/Vector3/Vector4/Transform6) as a single leaf: the whole
// group is replaced atomically whenever its path is touched, so any
// leftover path is ignored rather than consumed, matching the
// reference's EntitySerializerMultiComponents.
type multiComponentNode[T any] struct {
	elem codec.Decoder[T]
	n    int
}

func newMultiComponent[T any](elem codec.Decoder[T], n int) Node {
	return &multiComponentNode[T]{elem: elem, n: n}
}

func (m *multiComponentNode[T]) Decode(entity any, path []int32, r *bitio.Reader) error {
	if entity == nil {
		for i := 0; i < m.n; i++ {
			if err := m.elem.Skip(r); err != nil {
				return err
			}
		}
		return nil
	}
	e, ok := entity.(*[]T)
	if !ok {
		return fmt.Errorf("entitydecoder: entity type mismatch in multi-component node")
	}
	if len(*e) != m.n {
		*e = make([]T, m.n)
	}
	for i := 0; i < m.n; i++ {
		v, err := m.elem.Decode(r)
		if err != nil {
			return err
		}
		(*e)[i] = v
	}
	return nil
}

func (m *multiComponentNode[T]) NewValue() any {
	s := make([]T, m.n)
	return &s
}

// optionalNode wraps a pointer type: storage is **T so the node can
// both allocate/clear the pointer on the path-terminal bit and recurse
// into the pointee otherwise.
type optionalNode[T any] struct {
	inner Node
}

func newOptional[T any](inner Node) Node { return &optionalNode[T]{inner: inner} }

func (n *optionalNode[T]) Decode(entity any, path []int32, r *bitio.Reader) error {
	if len(path) == 0 {
		hasItem, err := r.ReadBit()
		if err != nil {
			return err
		}
		if entity == nil {
			return nil
		}
		pp, ok := entity.(**T)
		if !ok {
			return fmt.Errorf("entitydecoder: entity type mismatch in optional node")
		}
		if hasItem {
			*pp = new(T)
		} else {
			*pp = nil
		}
		return nil
	}
	if entity == nil {
		return n.inner.Decode(nil, path, r)
	}
	pp, ok := entity.(**T)
	if !ok {
		return fmt.Errorf("entitydecoder: entity type mismatch in optional node")
	}
	if *pp == nil {
		return fmt.Errorf("entitydecoder: optional node expects a non-empty entity")
	}
	return n.inner.Decode(*pp, path, r)
}

func (n *optionalNode[T]) NewValue() any {
	var p *T
	return &p
}

// arrayNode wraps a fixed-size slice addressed by path[0].
type arrayNode[T any] struct {
	inner Node
	size  int
}

func newArray[T any](inner Node, size int) Node { return &arrayNode[T]{inner: inner, size: size} }

func (n *arrayNode[T]) Decode(entity any, path []int32, r *bitio.Reader) error {
	if len(path) == 0 {
		return fmt.Errorf("entitydecoder: empty path is not allowed for array node")
	}
	idx := int(path[0])
	if entity == nil {
		return n.inner.Decode(nil, path[1:], r)
	}
	e, ok := entity.(*[]T)
	if !ok {
		return fmt.Errorf("entitydecoder: entity type mismatch in array node")
	}
	if len(*e) != n.size {
		*e = make([]T, n.size)
	}
	if idx < 0 || idx >= n.size {
		return fmt.Errorf("entitydecoder: invalid array index %d", idx)
	}
	return n.inner.Decode(&(*e)[idx], path[1:], r)
}

func (n *arrayNode[T]) NewValue() any {
	s := make([]T, n.size)
	return &s
}

// vectorNode wraps a dynamically-sized slice. A path of length zero
// means "resize to the varint-encoded element count"; otherwise
// path[0] addresses one already-resized element.
type vectorNode[T any] struct {
	inner Node
}

func newVector[T any](inner Node) Node { return &vectorNode[T]{inner: inner} }

func (n *vectorNode[T]) Decode(entity any, path []int32, r *bitio.Reader) error {
	if len(path) == 0 {
		size, err := r.ReadVarUint64()
		if err != nil {
			return err
		}
		if entity == nil {
			return nil
		}
		e, ok := entity.(*[]T)
		if !ok {
			return fmt.Errorf("entitydecoder: entity type mismatch in vector node")
		}
		grown := make([]T, size)
		copy(grown, *e)
		*e = grown
		return nil
	}
	idx := int(path[0])
	if entity == nil {
		return n.inner.Decode(nil, path[1:], r)
	}
	e, ok := entity.(*[]T)
	if !ok {
		return fmt.Errorf("entitydecoder: entity type mismatch in vector node")
	}
	if idx < 0 || idx >= len(*e) {
		return fmt.Errorf("entitydecoder: invalid vector index %d", idx)
	}
	return n.inner.Decode(&(*e)[idx], path[1:], r)
}

func (n *vectorNode[T]) NewValue() any {
	var s []T
	return &s
}

// typeWarpNode wraps a source-typed codec and exposes it as a Node whose
// storage is the destination type, performing the cast after decode.
// Only UINT64 -> FLOAT32 is exercised by any registered field.
type typeWarpNode[From, To any] struct {
	src  codec.Decoder[From]
	cast func(From) To
}

func newTypeWarp[From, To any](src codec.Decoder[From], cast func(From) To) Node {
	return &typeWarpNode[From, To]{src: src, cast: cast}
}

func (n *typeWarpNode[From, To]) Decode(entity any, path []int32, r *bitio.Reader) error {
	if len(path) != 0 {
		return fmt.Errorf("entitydecoder: path should be empty when a type-warp node is reached")
	}
	if entity == nil {
		return n.src.Skip(r)
	}
	e, ok := entity.(*To)
	if !ok {
		return fmt.Errorf("entitydecoder: entity type mismatch in type-warp node")
	}
	v, err := n.src.Decode(r)
	if err != nil {
		return err
	}
	*e = n.cast(v)
	return nil
}

func (n *typeWarpNode[From, To]) NewValue() any {
	var v To
	return &v
}

// classOptionalNode, classArrayNode, and classVectorNode are the
// non-generic counterparts of optionalNode/arrayNode/vectorNode, used
// to wrap a nested class's ClassDecoder (a field-serializer child or a
// polymorphic child) instead of a primitive codec. Build has no
// compile-time handle on the nested class's registered Go type, so
// these store elements as plain any rather than *T: each slot holds
// whatever inner.NewValue() produced (already a pointer into the
// nested type), passed straight through to inner.Decode rather than
// re-wrapped behind a second pointer.
type classOptionalNode struct {
	inner Node
}

func newClassOptional(inner Node) Node { return &classOptionalNode{inner: inner} }

func (n *classOptionalNode) Decode(entity any, path []int32, r *bitio.Reader) error {
	if len(path) == 0 {
		hasItem, err := r.ReadBit()
		if err != nil {
			return err
		}
		if entity == nil {
			return nil
		}
		pp, ok := entity.(*any)
		if !ok {
			return fmt.Errorf("entitydecoder: entity type mismatch in class optional node")
		}
		if hasItem {
			*pp = n.inner.NewValue()
		} else {
			*pp = nil
		}
		return nil
	}
	if entity == nil {
		return n.inner.Decode(nil, path, r)
	}
	pp, ok := entity.(*any)
	if !ok {
		return fmt.Errorf("entitydecoder: entity type mismatch in class optional node")
	}
	if *pp == nil {
		return fmt.Errorf("entitydecoder: optional node expects a non-empty entity")
	}
	return n.inner.Decode(*pp, path, r)
}

func (n *classOptionalNode) NewValue() any {
	var v any
	return &v
}

// classArrayNode wraps a fixed-size slice of nested-class values,
// addressed by path[0].
type classArrayNode struct {
	inner Node
	size  int
}

func newClassArray(inner Node, size int) Node { return &classArrayNode{inner: inner, size: size} }

func (n *classArrayNode) newElements() []any {
	s := make([]any, n.size)
	for i := range s {
		s[i] = n.inner.NewValue()
	}
	return s
}

func (n *classArrayNode) Decode(entity any, path []int32, r *bitio.Reader) error {
	if len(path) == 0 {
		return fmt.Errorf("entitydecoder: empty path is not allowed for array node")
	}
	idx := int(path[0])
	if entity == nil {
		return n.inner.Decode(nil, path[1:], r)
	}
	e, ok := entity.(*[]any)
	if !ok {
		return fmt.Errorf("entitydecoder: entity type mismatch in class array node")
	}
	if len(*e) != n.size {
		*e = n.newElements()
	}
	if idx < 0 || idx >= n.size {
		return fmt.Errorf("entitydecoder: invalid array index %d", idx)
	}
	return n.inner.Decode((*e)[idx], path[1:], r)
}

func (n *classArrayNode) NewValue() any {
	s := n.newElements()
	return &s
}

// classVectorNode wraps a dynamically-sized slice of nested-class
// values. A path of length zero means "resize to the varint-encoded
// element count", materializing each new slot via inner.NewValue();
// otherwise path[0] addresses one already-resized element.
type classVectorNode struct {
	inner Node
}

func newClassVector(inner Node) Node { return &classVectorNode{inner: inner} }

func (n *classVectorNode) Decode(entity any, path []int32, r *bitio.Reader) error {
	if len(path) == 0 {
		size, err := r.ReadVarUint64()
		if err != nil {
			return err
		}
		if entity == nil {
			return nil
		}
		e, ok := entity.(*[]any)
		if !ok {
			return fmt.Errorf("entitydecoder: entity type mismatch in class vector node")
		}
		grown := make([]any, size)
		copy(grown, *e)
		for i := len(*e); i < len(grown); i++ {
			grown[i] = n.inner.NewValue()
		}
		*e = grown
		return nil
	}
	idx := int(path[0])
	if entity == nil {
		return n.inner.Decode(nil, path[1:], r)
	}
	e, ok := entity.(*[]any)
	if !ok {
		return fmt.Errorf("entitydecoder: entity type mismatch in class vector node")
	}
	if idx < 0 || idx >= len(*e) {
		return fmt.Errorf("entitydecoder: invalid vector index %d", idx)
	}
	return n.inner.Decode((*e)[idx], path[1:], r)
}

func (n *classVectorNode) NewValue() any {
	var s []any
	return &s
}

// PolymorphicEntity holds the runtime-selected concrete child for a
// polymorphic field: Index names which child serializer produced Item.
type PolymorphicEntity struct {
	Index int
	Item  any
}

type polymorphicNode struct {
	children []Node
}

// NewPolymorphic builds a node that, on first touch, reads a presence
// bit and a serializer index, then routes every further path through
// the selected child.
func NewPolymorphic(children []Node) Node {
	return &polymorphicNode{children: children}
}

func (p *polymorphicNode) Decode(entity any, path []int32, r *bitio.Reader) error {
	if entity == nil {
		return fmt.Errorf("entitydecoder: polymorphic node requires a non-nil entity")
	}
	pe, ok := entity.(*PolymorphicEntity)
	if !ok {
		return fmt.Errorf("entitydecoder: entity type mismatch in polymorphic node")
	}
	if len(path) == 0 {
		if _, err := r.ReadBit(); err != nil {
			return err
		}
		idx, err := r.ReadUBitInt()
		if err != nil {
			return err
		}
		if int(idx) >= len(p.children) {
			return fmt.Errorf("entitydecoder: unknown polymorphic serializer index %d (max %d)", idx, len(p.children)-1)
		}
		pe.Index = int(idx)
		pe.Item = p.children[idx].NewValue()
		return nil
	}
	return p.children[pe.Index].Decode(pe.Item, path[1:], r)
}

func (p *polymorphicNode) NewValue() any {
	return &PolymorphicEntity{Item: p.children[0].NewValue()}
}

// UnknownSerializer is the decoder installed for a class name the
// application never registered: it retains only the index-routing
// structure needed to skip-decode every field, never materializing a
// value.
type UnknownSerializer struct {
	fields []Node
}

// NewUnknownSerializer wraps fields (the class's ordered field nodes)
// in a skip-only routing table.
func NewUnknownSerializer(fields []Node) *UnknownSerializer {
	return &UnknownSerializer{fields: fields}
}

func (u *UnknownSerializer) Decode(entity any, path []int32, r *bitio.Reader) error {
	if len(path) == 0 {
		return fmt.Errorf("entitydecoder: empty path is not allowed for unknown-class node")
	}
	idx := int(path[0])
	if idx < 0 || idx >= len(u.fields) {
		return fmt.Errorf("entitydecoder: unknown field index %d (max %d)", idx, len(u.fields)-1)
	}
	return u.fields[idx].Decode(nil, path[1:], r)
}

func (u *UnknownSerializer) NewValue() any { return struct{}{} }

func (u *UnknownSerializer) NewEntity() any { return struct{}{} }

func (u *UnknownSerializer) CloneEntity(entity any) (any, error) { return struct{}{}, nil }
