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

// Package sendtables resolves a CDemoSendTables message's embedded,
// symbol-indexed FlattenedSerializer into the flattened field/class
// tables entitydecoder.Build consumes.
package sendtables

import (
	"fmt"

	"github.com/hax0r31337/demoinfocs2-lite/demomsg"
	"github.com/hax0r31337/demoinfocs2-lite/entitydecoder"
)

// Build decodes a CDemoSendTables.Data payload into the field and
// class tables entitydecoder.Build expects. The payload begins with a
// single leading varint ahead of the embedded FlattenedSerializer
// message.
func Build(data []byte) ([]entitydecoder.FieldDescriptor, []entitydecoder.ClassSpec, error) {
	rest, err := demomsg.SkipLeadingVarint(data)
	if err != nil {
		return nil, nil, fmt.Errorf("sendtables: %w", err)
	}

	fs, err := demomsg.ParseFlattenedSerializer(rest)
	if err != nil {
		return nil, nil, fmt.Errorf("sendtables: %w", err)
	}

	symbol := func(sym int32, has bool) (string, bool) {
		if !has || sym < 0 || int(sym) >= len(fs.Symbols) {
			return "", false
		}
		return fs.Symbols[sym], true
	}

	fields := make([]entitydecoder.FieldDescriptor, len(fs.Fields))
	for i, f := range fs.Fields {
		varType, ok := symbol(f.VarTypeSym, f.HasVarType)
		if !ok {
			return nil, nil, fmt.Errorf("sendtables: field %d missing var_type", i)
		}
		varName, ok := symbol(f.VarNameSym, f.HasVarName)
		if !ok {
			return nil, nil, fmt.Errorf("sendtables: field %d missing var_name", i)
		}
		encoder, _ := symbol(f.VarEncoderSym, f.HasVarEncoder)

		fd := entitydecoder.FieldDescriptor{
			VarName:     varName,
			VarType:     varType,
			Encoder:     encoder,
			BitCount:    f.BitCount,
			EncodeFlags: uint32(f.EncodeFlags),
			LowValue:    f.LowValue,
			HighValue:   f.HighValue,
		}

		if name, ok := symbol(f.FieldSerializerNameSym, f.HasFieldSerializerName); ok {
			fd.FieldSerializerName = name
		}
		for _, sym := range f.PolymorphicTypeSyms {
			if sym < 0 || int(sym) >= len(fs.Symbols) {
				continue
			}
			fd.PolymorphicTypes = append(fd.PolymorphicTypes, fs.Symbols[sym])
		}

		fields[i] = fd
	}

	classes := make([]entitydecoder.ClassSpec, 0, len(fs.Serializers))
	for i, s := range fs.Serializers {
		name, ok := symbol(s.NameSym, s.HasName)
		if !ok {
			return nil, nil, fmt.Errorf("sendtables: serializer %d missing name", i)
		}
		idxs := make([]int, len(s.FieldsIdx))
		for j, idx := range s.FieldsIdx {
			idxs[j] = int(idx)
		}
		classes = append(classes, entitydecoder.ClassSpec{Name: name, FieldIndexes: idxs})
	}

	return fields, classes, nil
}
