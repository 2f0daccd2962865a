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

package entitydecoder

import (
	"fmt"

	"github.com/hax0r31337/demoinfocs2-lite/codec"
	"github.com/hax0r31337/demoinfocs2-lite/fieldtype"
)

// FieldDescriptor is one row of a class's flattened field table, as
// read from the send-tables message.
type FieldDescriptor struct {
	VarName     string
	VarType     string
	Encoder     string
	BitCount    int32
	EncodeFlags uint32
	LowValue    float32
	HighValue   float32

	// FieldSerializerName, if set, names an already-built class graph
	// to derive this field from instead of a primitive codec.
	FieldSerializerName string
	// PolymorphicTypes, if non-empty, names the classes whose derived
	// graphs become this field's polymorphic children.
	PolymorphicTypes []string
}

// derive wraps a freshly-selected leaf node according to the field's
// grammar: optional beats array beats vector-of-generic beats plain,
// exactly the priority the reference's serializer_derivation checks in
// order.
func derive[T any](leaf Node, ft *fieldtype.Type) Node {
	switch {
	case ft.IsOptional:
		return newOptional[T](leaf)
	case ft.ArraySize > 0 && ft.BaseType != "char":
		return newArray[T](leaf, ft.ArraySize)
	case fieldtype.ListGenericBases[ft.BaseType]:
		return newVector[T](leaf)
	default:
		return leaf
	}
}

// deriveClass applies the same optional/array/vector priority as
// derive, but to a nested class's ClassDecoder (a field-serializer
// child or a polymorphic child) rather than a primitive codec. Build
// has no compile-time Go type for the nested class, so it reaches for
// the non-generic classOptionalNode/classArrayNode/classVectorNode
// instead of instantiating derive[T] with a fabricated T.
func deriveClass(inner Node, ft *fieldtype.Type) Node {
	switch {
	case ft.IsOptional:
		return newClassOptional(inner)
	case ft.ArraySize > 0 && ft.BaseType != "char":
		return newClassArray(inner, ft.ArraySize)
	case fieldtype.ListGenericBases[ft.BaseType]:
		return newClassVector(inner)
	default:
		return inner
	}
}

// varTypeKey resolves the grammar's base-or-generic selection rule: a
// list container's element type lives in the generic parameter, every
// other type uses its own base type.
func varTypeKey(ft *fieldtype.Type) string {
	if ft.Generic != nil && fieldtype.ListGenericBases[ft.BaseType] {
		return ft.Generic.BaseType
	}
	return ft.BaseType
}

// buildPrimitiveNode selects and wraps the leaf codec for one field,
// given its parsed grammar, basic-encoding lookup, and protobuf
// metadata. It is the Go counterpart of decoder.rs's get_serializer.
func buildPrimitiveNode(ft *fieldtype.Type, f FieldDescriptor) (Node, error) {
	key := varTypeKey(ft)
	enc, ok := fieldtype.BasicEncodings[key]
	if !ok {
		return nil, fmt.Errorf("entitydecoder: no serializer found for type: %s", key)
	}
	netType := enc.NetType
	components := enc.Components

	var override string
	hasOverride := false
	if ty, ok := fieldtype.FieldEncoderOverrides[f.VarName]; ok {
		override = ty
		hasOverride = true
	}

	switch netType {
	case "NET_DATA_TYPE_UINT64":
		if components != 1 {
			return nil, fmt.Errorf("entitydecoder: multiple components for UINT64 are not supported")
		}
		var src codec.Decoder[uint64]
		switch f.Encoder {
		case "fixed64":
			src = codec.U64Fixed{}
		case "":
			src = codec.U64Varint{}
		default:
			return nil, fmt.Errorf("entitydecoder: unsupported encoder for UINT64: %s", f.Encoder)
		}
		if hasOverride {
			if override != "NET_DATA_TYPE_FLOAT32" {
				return nil, fmt.Errorf("entitydecoder: unsupported field type warp for UINT64: %s", override)
			}
			leaf := newTypeWarp[uint64, float32](src, func(v uint64) float32 { return float32(v) })
			return derive[float32](leaf, ft), nil
		}
		return derive[uint64](newLeaf[uint64](src), ft), nil

	case "NET_DATA_TYPE_INT64":
		if components != 1 {
			return nil, fmt.Errorf("entitydecoder: multiple components for INT64 are not supported")
		}
		if hasOverride {
			return nil, fmt.Errorf("entitydecoder: field type warp is not supported for INT64: %s", override)
		}
		if f.Encoder != "" {
			return nil, fmt.Errorf("entitydecoder: unsupported encoder for INT64: %s", f.Encoder)
		}
		return derive[int64](newLeaf[int64](codec.I64Varint{}), ft), nil

	case "NET_DATA_TYPE_FLOAT32":
		if f.Encoder == "normal" && key == "Vector" && components == 3 {
			return derive[codec.Vector3](newLeaf[codec.Vector3](codec.Vector3Normalized{}), ft), nil
		}
		if hasOverride {
			return nil, fmt.Errorf("entitydecoder: field type warp is not supported for FLOAT32: %s", override)
		}

		if key == "QAngle" {
			if components != 3 {
				return nil, fmt.Errorf("entitydecoder: QAngle must have 3 components")
			}
			switch {
			case f.Encoder == "qangle_precise":
				return derive[codec.Vector3](newLeaf[codec.Vector3](codec.QAnglePrecise{}), ft), nil
			case f.Encoder == "qangle" && f.BitCount != 0:
				return derive[codec.Vector3](newLeaf[codec.Vector3](codec.QAngleBit{Bits: uint32(f.BitCount)}), ft), nil
			case f.Encoder == "qangle" && f.BitCount == 0:
				return derive[codec.Vector3](newLeaf[codec.Vector3](codec.QAngleCoord{}), ft), nil
			}
		}

		var base codec.Decoder[float32]
		switch f.Encoder {
		case "coord":
			base = codec.F32Coord{}
		case "":
			if f.BitCount <= 0 || f.BitCount >= 32 {
				base = codec.F32NoScale{}
			} else {
				q, err := codec.NewF32Quantized(uint32(f.BitCount), f.EncodeFlags, f.LowValue, f.HighValue)
				if err != nil {
					return nil, err
				}
				base = q
			}
		default:
			return nil, fmt.Errorf("entitydecoder: unsupported encoder for FLOAT32: %s", f.Encoder)
		}

		switch components {
		case 1:
			return derive[float32](newLeaf[float32](base), ft), nil
		case 2, 3, 4, 6:
			return derive[[]float32](newMultiComponent[float32](base, components), ft), nil
		default:
			return nil, fmt.Errorf("entitydecoder: unsupported number of components for FLOAT32: %d", components)
		}

	case "NET_DATA_TYPE_STRING":
		if components != 1 {
			return nil, fmt.Errorf("entitydecoder: multiple components for STRING are not supported")
		}
		if hasOverride {
			return nil, fmt.Errorf("entitydecoder: field type warp is not supported for STRING: %s", override)
		}
		if f.Encoder != "" {
			return nil, fmt.Errorf("entitydecoder: unsupported encoder for STRING: %s", f.Encoder)
		}
		return derive[string](newLeaf[string](codec.String{}), ft), nil

	case "NET_DATA_TYPE_BOOL":
		if components != 1 {
			return nil, fmt.Errorf("entitydecoder: multiple components for BOOL are not supported")
		}
		if hasOverride {
			return nil, fmt.Errorf("entitydecoder: field type warp is not supported for BOOL: %s", override)
		}
		if f.Encoder != "" {
			return nil, fmt.Errorf("entitydecoder: unsupported encoder for BOOL: %s", f.Encoder)
		}
		return derive[bool](newLeaf[bool](codec.Bool{}), ft), nil

	default:
		return nil, fmt.Errorf("entitydecoder: unsupported net type: %s (%s), type warp: %v, encoder: %q", netType, key, hasOverride, f.Encoder)
	}
}

// ClassSpec is one class's ordered field table as read from the
// send-tables message, by index into the build's flattened field
// table.
type ClassSpec struct {
	Name        string
	FieldIndexes []int
}

// Build constructs a decoder graph for every class in classes, given
// the flattened field table shared by all of them. Fields are
// memoized by index so a field referenced by more than one class's
// table (through a shared field-serializer) is only ever built once.
// registered supplies, per class name, the concrete Go type to bind
// (via a *ClassSerializer[T] builder callback); a class name absent
// from registered gets an UnknownSerializer.
func Build(fields []FieldDescriptor, classes []ClassSpec, registered map[string]func([]Node) ClassDecoder) (map[string]ClassDecoder, error) {
	nodeCache := make(map[int]Node, len(fields))
	built := make(map[string]ClassDecoder, len(classes))

	var buildClass func(name string) (ClassDecoder, error)
	nameToSpec := make(map[string]ClassSpec, len(classes))
	for _, c := range classes {
		nameToSpec[c.Name] = c
	}

	buildFieldNode := func(idx int) (Node, error) {
		if n, ok := nodeCache[idx]; ok {
			return n, nil
		}
		if idx < 0 || idx >= len(fields) {
			return nil, fmt.Errorf("entitydecoder: field index out of range: %d", idx)
		}
		f := fields[idx]

		var n Node
		if len(f.PolymorphicTypes) > 0 {
			ft, err := fieldtype.ParseCached(f.VarType)
			if err != nil {
				return nil, err
			}
			children := make([]Node, 0, len(f.PolymorphicTypes))
			for _, cn := range f.PolymorphicTypes {
				cd, ok := built[cn]
				if !ok {
					return nil, fmt.Errorf("entitydecoder: forward reference to class %q not yet built", cn)
				}
				children = append(children, deriveClass(cd, ft))
			}
			n = NewPolymorphic(children)
		} else if f.FieldSerializerName != "" {
			cd, ok := built[f.FieldSerializerName]
			if !ok {
				return nil, fmt.Errorf("entitydecoder: forward reference to class %q not yet built", f.FieldSerializerName)
			}
			ft, err := fieldtype.ParseCached(f.VarType)
			if err != nil {
				return nil, err
			}
			n = deriveClass(cd, ft)
		} else {
			ft, err := fieldtype.ParseCached(f.VarType)
			if err != nil {
				return nil, err
			}
			n, err = buildPrimitiveNode(ft, f)
			if err != nil {
				return nil, err
			}
		}

		nodeCache[idx] = n
		return n, nil
	}

	buildClass = func(name string) (ClassDecoder, error) {
		if cd, ok := built[name]; ok {
			return cd, nil
		}
		spec, ok := nameToSpec[name]
		if !ok {
			return nil, fmt.Errorf("entitydecoder: unknown class referenced: %s", name)
		}

		fieldNodes := make([]Node, len(spec.FieldIndexes))
		for i, idx := range spec.FieldIndexes {
			n, err := buildFieldNode(idx)
			if err != nil {
				return nil, fmt.Errorf("entitydecoder: class %s field %d: %w", name, i, err)
			}
			fieldNodes[i] = n
		}

		var cd ClassDecoder
		if ctor, ok := registered[name]; ok {
			cd = ctor(fieldNodes)
		} else {
			cd = NewUnknownSerializer(fieldNodes)
		}
		built[name] = cd
		return cd, nil
	}

	for _, c := range classes {
		if _, err := buildClass(c.Name); err != nil {
			return nil, err
		}
	}
	return built, nil
}
