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

package demomsg

import (
	"fmt"
	"math"
)

// FileHeader is CDemoFileHeader, trimmed to the fields the core reacts
// to.
type FileHeader struct {
	MapName         string
	NetworkProtocol int32
}

func ParseFileHeader(data []byte) (*FileHeader, error) {
	fields, err := decodeFields(data)
	if err != nil {
		return nil, err
	}
	b, ok := lastBytes(fields, 5)
	if !ok {
		return nil, fmt.Errorf("demomsg: file header missing map_name")
	}
	proto, _ := lastVarint(fields, 2)
	return &FileHeader{MapName: string(b), NetworkProtocol: int32(proto)}, nil
}

// ServerInfo is CSVCMsg_ServerInfo, trimmed to tick interval and the
// class-id bit width input.
type ServerInfo struct {
	TickInterval float32
	MaxClasses   uint32
}

func ParseServerInfo(data []byte) (*ServerInfo, error) {
	fields, err := decodeFields(data)
	if err != nil {
		return nil, err
	}
	tickBits, ok := lastFixed32(fields, 15)
	if !ok {
		return nil, fmt.Errorf("demomsg: server info missing tick_interval")
	}
	maxClasses, ok := lastVarint(fields, 10)
	if !ok {
		return nil, fmt.Errorf("demomsg: server info missing max_classes")
	}
	return &ServerInfo{
		TickInterval: math.Float32frombits(tickBits),
		MaxClasses:   uint32(maxClasses),
	}, nil
}

// ClassInfoEntry is one CDemoClassInfo_class_t.
type ClassInfoEntry struct {
	ClassID     int32
	NetworkName string
}

// ClassInfo is CDemoClassInfo.
type ClassInfo struct {
	Classes []ClassInfoEntry
}

func ParseClassInfo(data []byte) (*ClassInfo, error) {
	fields, err := decodeFields(data)
	if err != nil {
		return nil, err
	}
	var out ClassInfo
	for _, raw := range repeatedBytes(fields, 1) {
		inner, err := decodeFields(raw)
		if err != nil {
			return nil, fmt.Errorf("demomsg: class info entry: %w", err)
		}
		classID, ok := lastVarint(inner, 1)
		if !ok {
			return nil, fmt.Errorf("demomsg: class info entry missing class_id")
		}
		name, ok := lastBytes(inner, 2)
		if !ok {
			return nil, fmt.Errorf("demomsg: class info entry missing network_name")
		}
		out.Classes = append(out.Classes, ClassInfoEntry{
			ClassID:     int32(classID),
			NetworkName: string(name),
		})
	}
	return &out, nil
}

// SendTables is CDemoSendTables.
type SendTables struct {
	Data []byte
}

func ParseSendTables(data []byte) (*SendTables, error) {
	fields, err := decodeFields(data)
	if err != nil {
		return nil, err
	}
	b, ok := lastBytes(fields, 1)
	if !ok {
		return nil, fmt.Errorf("demomsg: send tables missing data")
	}
	return &SendTables{Data: b}, nil
}

// PacketEntities is CSVCMsg_PacketEntities.
type PacketEntities struct {
	EntityData              []byte
	UpdatedEntries           uint32
	HasPVSVisBitsDeprecated uint32
}

func ParsePacketEntities(data []byte) (*PacketEntities, error) {
	fields, err := decodeFields(data)
	if err != nil {
		return nil, err
	}
	entityData, ok := lastBytes(fields, 8)
	if !ok {
		return nil, fmt.Errorf("demomsg: packet entities missing entity_data")
	}
	updated, ok := lastVarint(fields, 2)
	if !ok {
		return nil, fmt.Errorf("demomsg: packet entities missing updated_entries")
	}
	pvs, _ := lastVarint(fields, 7)
	return &PacketEntities{
		EntityData:             entityData,
		UpdatedEntries:         uint32(updated),
		HasPVSVisBitsDeprecated: uint32(pvs),
	}, nil
}

// CreateStringTable is CSVCMsg_CreateStringTable.
type CreateStringTable struct {
	Name                 string
	NumEntries           int32
	UserDataFixedSize    bool
	UserDataSize         int32
	Flags                int32
	StringData           []byte
	DataCompressed       bool
	UsingVarintBitcounts bool
}

func ParseCreateStringTable(data []byte) (*CreateStringTable, error) {
	fields, err := decodeFields(data)
	if err != nil {
		return nil, err
	}
	name, ok := lastBytes(fields, 1)
	if !ok {
		return nil, fmt.Errorf("demomsg: create string table missing name")
	}
	numEntries, ok := lastVarint(fields, 3)
	if !ok {
		return nil, fmt.Errorf("demomsg: create string table missing num_entries")
	}
	stringData, ok := lastBytes(fields, 8)
	if !ok {
		return nil, fmt.Errorf("demomsg: create string table missing string_data")
	}
	userDataFixedSize, _ := lastVarint(fields, 4)
	userDataSize, _ := lastVarint(fields, 5)
	flags, _ := lastVarint(fields, 7)
	dataCompressed, _ := lastVarint(fields, 9)
	usingVarintBitcounts, _ := lastVarint(fields, 10)

	return &CreateStringTable{
		Name:                 string(name),
		NumEntries:           int32(numEntries),
		UserDataFixedSize:    userDataFixedSize != 0,
		UserDataSize:         int32(userDataSize),
		Flags:                int32(flags),
		StringData:           stringData,
		DataCompressed:       dataCompressed != 0,
		UsingVarintBitcounts: usingVarintBitcounts != 0,
	}, nil
}

// UpdateStringTable is CSVCMsg_UpdateStringTable.
type UpdateStringTable struct {
	TableID           int32
	NumChangedEntries int32
	StringData        []byte
}

func ParseUpdateStringTable(data []byte) (*UpdateStringTable, error) {
	fields, err := decodeFields(data)
	if err != nil {
		return nil, err
	}
	tableID, ok := lastVarint(fields, 1)
	if !ok {
		return nil, fmt.Errorf("demomsg: update string table missing table_id")
	}
	numChanged, ok := lastVarint(fields, 2)
	if !ok {
		return nil, fmt.Errorf("demomsg: update string table missing num_changed_entries")
	}
	stringData, ok := lastBytes(fields, 3)
	if !ok {
		return nil, fmt.Errorf("demomsg: update string table missing string_data")
	}
	return &UpdateStringTable{
		TableID:           int32(tableID),
		NumChangedEntries: int32(numChanged),
		StringData:        stringData,
	}, nil
}

// StringTableItem is one CDemoStringTables_items_t.
type StringTableItem struct {
	Str  string
	Data []byte
}

// StringTableSnapshot is one CDemoStringTables_table_t.
type StringTableSnapshot struct {
	TableName string
	Items     []StringTableItem
}

// DemoStringTables is CDemoStringTables, the full-state snapshot sent
// at the start of every signon/full-packet.
type DemoStringTables struct {
	Tables []StringTableSnapshot
}

// FlattenedField is one field row of a FlattenedSerializer message,
// still symbol-indexed: the caller resolves *Sym indices against
// FlattenedSerializer.Symbols.
type FlattenedField struct {
	VarTypeSym    int32
	HasVarType    bool
	VarNameSym    int32
	HasVarName    bool
	VarEncoderSym int32
	HasVarEncoder bool
	BitCount      int32
	LowValue      float32
	HighValue     float32
	EncodeFlags   int32

	FieldSerializerNameSym int32
	HasFieldSerializerName bool

	PolymorphicTypeSyms []int32
}

// FlattenedSerializerEntry is one entity or nested-struct class in a
// FlattenedSerializer message: a name symbol plus the field table's
// indexes that belong to it, in declaration order.
type FlattenedSerializerEntry struct {
	NameSym   int32
	HasName   bool
	FieldsIdx []int32
}

// FlattenedSerializer is CSVCMsg_FlattenedSerializer, the message
// embedded in CDemoSendTables.Data (after a single leading varint -
// see SkipLeadingVarint) describing every class's field layout for
// the rest of the demo.
type FlattenedSerializer struct {
	Symbols     []string
	Serializers []FlattenedSerializerEntry
	Fields      []FlattenedField
}

func ParseFlattenedSerializer(data []byte) (*FlattenedSerializer, error) {
	fields, err := decodeFields(data)
	if err != nil {
		return nil, err
	}

	var out FlattenedSerializer
	for _, raw := range repeatedBytes(fields, 3) {
		out.Symbols = append(out.Symbols, string(raw))
	}

	for _, raw := range repeatedBytes(fields, 2) {
		inner, err := decodeFields(raw)
		if err != nil {
			return nil, fmt.Errorf("demomsg: flattened serializer entry: %w", err)
		}
		nameSym, hasName := lastVarint(inner, 1)
		var fieldsIdx []int32
		for _, v := range repeatedVarint(inner, 3) {
			fieldsIdx = append(fieldsIdx, int32(v))
		}
		out.Serializers = append(out.Serializers, FlattenedSerializerEntry{
			NameSym:   int32(nameSym),
			HasName:   hasName,
			FieldsIdx: fieldsIdx,
		})
	}

	for _, raw := range repeatedBytes(fields, 1) {
		inner, err := decodeFields(raw)
		if err != nil {
			return nil, fmt.Errorf("demomsg: flattened field: %w", err)
		}
		varType, hasVarType := lastVarint(inner, 1)
		varName, hasVarName := lastVarint(inner, 2)
		bitCount, _ := lastVarint(inner, 3)
		lowBits, _ := lastFixed32(inner, 4)
		highBits, _ := lastFixed32(inner, 5)
		encodeFlags, _ := lastVarint(inner, 6)
		fieldSerName, hasFieldSerName := lastVarint(inner, 8)
		varEncoder, hasVarEncoder := lastVarint(inner, 11)

		var polySyms []int32
		for _, praw := range repeatedBytes(inner, 12) {
			pinner, err := decodeFields(praw)
			if err != nil {
				return nil, fmt.Errorf("demomsg: polymorphic type entry: %w", err)
			}
			if sym, ok := lastVarint(pinner, 1); ok {
				polySyms = append(polySyms, int32(sym))
			}
		}

		out.Fields = append(out.Fields, FlattenedField{
			VarTypeSym:             int32(varType),
			HasVarType:             hasVarType,
			VarNameSym:             int32(varName),
			HasVarName:             hasVarName,
			VarEncoderSym:          int32(varEncoder),
			HasVarEncoder:          hasVarEncoder,
			BitCount:               int32(bitCount),
			LowValue:               math.Float32frombits(lowBits),
			HighValue:              math.Float32frombits(highBits),
			EncodeFlags:            int32(encodeFlags),
			FieldSerializerNameSym: int32(fieldSerName),
			HasFieldSerializerName: hasFieldSerName,
			PolymorphicTypeSyms:    polySyms,
		})
	}

	return &out, nil
}

func ParseDemoStringTables(data []byte) (*DemoStringTables, error) {
	fields, err := decodeFields(data)
	if err != nil {
		return nil, err
	}
	var out DemoStringTables
	for _, raw := range repeatedBytes(fields, 1) {
		tableFields, err := decodeFields(raw)
		if err != nil {
			return nil, fmt.Errorf("demomsg: string table snapshot: %w", err)
		}
		name, ok := lastBytes(tableFields, 1)
		if !ok {
			return nil, fmt.Errorf("demomsg: string table snapshot missing table_name")
		}
		snap := StringTableSnapshot{TableName: string(name)}
		for _, itemRaw := range repeatedBytes(tableFields, 3) {
			itemFields, err := decodeFields(itemRaw)
			if err != nil {
				return nil, fmt.Errorf("demomsg: string table item: %w", err)
			}
			str, _ := lastBytes(itemFields, 1)
			d, _ := lastBytes(itemFields, 2)
			snap.Items = append(snap.Items, StringTableItem{Str: string(str), Data: d})
		}
		out.Tables = append(out.Tables, snap)
	}
	return &out, nil
}
