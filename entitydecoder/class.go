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

	"github.com/hax0r31337/demoinfocs2-lite/bitio"
)

// FieldBinding ties one class field's decoder node to an optional
// application-registered setter (Getter) and on-change callback.
// Getter returns a pointer into the live entity value for the field's
// storage type, or nil to leave the field skip-only.
type FieldBinding[T any] struct {
	Node     Node
	Getter   func(entity *T) any
	OnChange func(entity *T) error
}

// ClassSerializer is the generic, application-typed counterpart of the
// reference's CustomEntitySerializer<T>: a per-class ordered field
// table bound to a concrete Go struct T that the host application
// owns.
type ClassSerializer[T any] struct {
	fields []FieldBinding[T]
}

// NewClassSerializer builds a class serializer over fields, addressed
// by field-path index in encounter order.
func NewClassSerializer[T any](fields []FieldBinding[T]) *ClassSerializer[T] {
	return &ClassSerializer[T]{fields: fields}
}

func (c *ClassSerializer[T]) Decode(entity any, path []int32, r *bitio.Reader) error {
	if len(path) == 0 {
		return fmt.Errorf("entitydecoder: invalid field path")
	}
	idx := int(path[0])
	if idx < 0 || idx >= len(c.fields) {
		return fmt.Errorf("entitydecoder: invalid field index %d (max %d)", idx, len(c.fields)-1)
	}
	binding := &c.fields[idx]

	if entity == nil {
		return binding.Node.Decode(nil, path[1:], r)
	}
	e, ok := entity.(*T)
	if !ok {
		return fmt.Errorf("entitydecoder: entity type mismatch in class serializer")
	}
	if binding.Getter == nil {
		return binding.Node.Decode(nil, path[1:], r)
	}
	field := binding.Getter(e)
	if err := binding.Node.Decode(field, path[1:], r); err != nil {
		return err
	}
	if binding.OnChange != nil {
		return binding.OnChange(e)
	}
	return nil
}

func (c *ClassSerializer[T]) NewValue() any {
	var v T
	return &v
}

func (c *ClassSerializer[T]) NewEntity() any {
	var v T
	return &v
}

func (c *ClassSerializer[T]) CloneEntity(entity any) (any, error) {
	e, ok := entity.(*T)
	if !ok {
		return nil, fmt.Errorf("entitydecoder: entity type mismatch in CloneEntity")
	}
	cp := *e
	return &cp, nil
}
