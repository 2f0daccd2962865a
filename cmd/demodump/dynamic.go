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

package main

import (
	"fmt"
	"reflect"

	"github.com/hax0r31337/demoinfocs2-lite/bitio"
	"github.com/hax0r31337/demoinfocs2-lite/entitydecoder"
)

// dynamicClass is a entitydecoder.ClassDecoder for a network class
// this tool never declared a Go type for: it materializes every
// field's value through Node.NewValue rather than a config-specific
// struct, since which classes and fields to print is only known once
// the config file is parsed at runtime.
type dynamicClass struct {
	className string
	names     []string
	fields    []entitydecoder.Node
}

func newDynamicClass(className string, names []string, fields []entitydecoder.Node) *dynamicClass {
	return &dynamicClass{className: className, names: names, fields: fields}
}

// dynamicEntity holds one decoded pointer per field, in the same order
// as dynamicClass.fields/names.
type dynamicEntity struct {
	values []any
}

func (d *dynamicClass) Decode(entity any, path []int32, r *bitio.Reader) error {
	if len(path) == 0 {
		return fmt.Errorf("demodump: empty field path for class node")
	}
	idx := int(path[0])
	if idx < 0 || idx >= len(d.fields) {
		return fmt.Errorf("demodump: field index %d out of range (max %d)", idx, len(d.fields)-1)
	}
	if entity == nil {
		return d.fields[idx].Decode(nil, path[1:], r)
	}
	e, ok := entity.(*dynamicEntity)
	if !ok {
		return fmt.Errorf("demodump: entity type mismatch in dynamic class")
	}
	return d.fields[idx].Decode(e.values[idx], path[1:], r)
}

func (d *dynamicClass) NewValue() any { return d.NewEntity() }

func (d *dynamicClass) NewEntity() any {
	e := &dynamicEntity{values: make([]any, len(d.fields))}
	for i, f := range d.fields {
		e.values[i] = f.NewValue()
	}
	return e
}

func (d *dynamicClass) CloneEntity(entity any) (any, error) {
	e, ok := entity.(*dynamicEntity)
	if !ok {
		return nil, fmt.Errorf("demodump: entity type mismatch in dynamic class clone")
	}
	cp := &dynamicEntity{values: make([]any, len(e.values))}
	for i, v := range e.values {
		cp.values[i] = clonePointer(v)
	}
	return cp, nil
}

// snapshot renders the fields named in want (a subset of d.names, or
// every field when want is empty) into a JSON-friendly map.
func (d *dynamicClass) snapshot(e *dynamicEntity, want map[string]bool) map[string]any {
	out := make(map[string]any, len(d.names))
	for i, name := range d.names {
		if name == "" {
			continue
		}
		if len(want) > 0 && !want[name] {
			continue
		}
		out[name] = reflect.ValueOf(e.values[i]).Elem().Interface()
	}
	return out
}

func clonePointer(v any) any {
	rv := reflect.ValueOf(v)
	np := reflect.New(rv.Type().Elem())
	np.Elem().Set(rv.Elem())
	return np.Interface()
}
