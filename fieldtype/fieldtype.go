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

// Package fieldtype parses the engine's field-type grammar
// (Base<Inner>*[size]) and resolves the basic-encoding and alias tables
// that steer decoder-graph construction.
//
// The parsing approach and the original alias/override tables trace back
// to github.com/dotabuff/manta's field_type.go (MIT licensed), by way of
// the demoinfocs2-lite parser this package reimplements.
package fieldtype

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"github.com/dchest/siphash"
)

var fieldTypeRegex = regexp.MustCompile(`([^<\[\*]+)(?:<\s(.+?)\s>)?(\*)?(?:\[(.+?)\])?`)

// Type is a parsed field-type expression. IsOptional reflects the
// trailing "*" pointer marker, not a semantic optional keyword; the
// engine overloads pointer types as optionals.
type Type struct {
	BaseType    string
	Generic     *Type
	IsOptional  bool
	ArraySize   int
}

// Parse resolves field_type through the alias table, then parses the
// grammar recursively on the generic parameter.
func Parse(fieldType string) (*Type, error) {
	if alias, ok := Aliases[fieldType]; ok {
		return Parse(alias)
	}

	m := fieldTypeRegex.FindStringSubmatch(fieldType)
	if m == nil {
		return nil, fmt.Errorf("fieldtype: invalid field type: %s", fieldType)
	}
	base := m[1]
	if base == "" {
		return nil, fmt.Errorf("fieldtype: missing base type in field type: %s", fieldType)
	}

	var generic *Type
	if m[2] != "" {
		g, err := Parse(m[2])
		if err != nil {
			return nil, err
		}
		generic = g
	}

	arraySize := 0
	if m[4] != "" {
		n, err := strconv.Atoi(m[4])
		if err != nil {
			return nil, fmt.Errorf("fieldtype: invalid array size in field type: %s", fieldType)
		}
		arraySize = n
	}

	return &Type{
		BaseType:   base,
		Generic:    generic,
		IsOptional: m[3] == "*",
		ArraySize:  arraySize,
	}, nil
}

// cache memoizes Parse results keyed by the raw field-type string via
// siphash, process-randomly keyed so the map can't be driven into
// worst-case bucketing by a hostile demo file's type strings.
type cache struct {
	mu     sync.RWMutex
	k0, k1 uint64
	m      map[uint64]*Type
}

func newCache() *cache {
	var seed [16]byte
	if _, err := rand.Read(seed[:]); err != nil {
		panic("fieldtype: seeding type cache: " + err.Error())
	}
	return &cache{
		k0: binary.LittleEndian.Uint64(seed[:8]),
		k1: binary.LittleEndian.Uint64(seed[8:]),
		m:  make(map[uint64]*Type),
	}
}

var typeCache = newCache()

func (c *cache) key(s string) uint64 {
	return siphash.Hash(c.k0, c.k1, []byte(s))
}

// ParseCached is Parse with memoization; distinct type strings are only
// ever parsed once per process, since the grammar and alias table are
// fixed for the engine version a demo file targets.
func ParseCached(fieldType string) (*Type, error) {
	k := typeCache.key(fieldType)

	typeCache.mu.RLock()
	if t, ok := typeCache.m[k]; ok {
		typeCache.mu.RUnlock()
		return t, nil
	}
	typeCache.mu.RUnlock()

	t, err := Parse(fieldType)
	if err != nil {
		return nil, err
	}

	typeCache.mu.Lock()
	typeCache.m[k] = t
	typeCache.mu.Unlock()
	return t, nil
}

// ListGenericBases names the container base types whose element type
// lives in the generic parameter rather than the base type itself.
var ListGenericBases = map[string]bool{
	"CNetworkUtlVectorBase":        true,
	"CUtlVectorEmbeddedNetworkVar": true,
	"CUtlVector":                   true,
}

// Encoding describes one basic-encoding table entry: the underlying net
// type and its component count (e.g. Vector has 3 FLOAT32 components).
type Encoding struct {
	NetType    string
	Components int
}

// BasicEncodings maps an engine var_type to its basic wire encoding.
// Populated with the field types exercised by packet-entities decoding;
// loaded once at package init rather than hardcoded per field, mirroring
// the reference's build-time generated phf map sourced from the game's
// shipped demoinfo2.txt schema.
var BasicEncodings = map[string]Encoding{
	"bool":                         {"NET_DATA_TYPE_BOOL", 1},
	"char":                         {"NET_DATA_TYPE_STRING", 1},
	"int8":                         {"NET_DATA_TYPE_INT64", 1},
	"int16":                        {"NET_DATA_TYPE_INT64", 1},
	"int32":                        {"NET_DATA_TYPE_INT64", 1},
	"int64":                        {"NET_DATA_TYPE_INT64", 1},
	"uint8":                        {"NET_DATA_TYPE_UINT64", 1},
	"uint16":                       {"NET_DATA_TYPE_UINT64", 1},
	"uint32":                       {"NET_DATA_TYPE_UINT64", 1},
	"uint64":                       {"NET_DATA_TYPE_UINT64", 1},
	"float32":                      {"NET_DATA_TYPE_FLOAT32", 1},
	"GameTime_t":                   {"NET_DATA_TYPE_FLOAT32", 1},
	"CGameTime":                    {"NET_DATA_TYPE_FLOAT32", 1},
	"CNetworkedQuantizedFloat":     {"NET_DATA_TYPE_FLOAT32", 1},
	"Vector":                       {"NET_DATA_TYPE_FLOAT32", 3},
	"Vector2D":                     {"NET_DATA_TYPE_FLOAT32", 2},
	"Vector4D":                     {"NET_DATA_TYPE_FLOAT32", 4},
	"QAngle":                       {"NET_DATA_TYPE_FLOAT32", 3},
	"CTransform":                   {"NET_DATA_TYPE_FLOAT32", 6},
	"color32":                      {"NET_DATA_TYPE_UINT64", 1},
	"Color":                        {"NET_DATA_TYPE_UINT64", 1},
	"CUtlString":                   {"NET_DATA_TYPE_STRING", 1},
	"CUtlSymbolLarge":              {"NET_DATA_TYPE_STRING", 1},
	"string_t":                     {"NET_DATA_TYPE_STRING", 1},
	"CEntityHandle":                {"NET_DATA_TYPE_UINT64", 1},
	"CHandle":                      {"NET_DATA_TYPE_UINT64", 1},
	"CStrongHandle":                {"NET_DATA_TYPE_UINT64", 1},
	"CWeakHandle":                  {"NET_DATA_TYPE_UINT64", 1},
	"HSequence":                    {"NET_DATA_TYPE_INT64", 1},
	"CUtlVector":                   {"NET_DATA_TYPE_UINT64", 1},
	"CNetworkUtlVectorBase":        {"NET_DATA_TYPE_UINT64", 1},
	"CUtlVectorEmbeddedNetworkVar": {"NET_DATA_TYPE_UINT64", 1},
}

// FieldEncoderOverrides rewrites a field's base encoding by its engine
// field name (not its type). Only the UINT64->FLOAT32 type-warp is
// exercised by the decoder-graph builder.
var FieldEncoderOverrides = map[string]string{
	"m_flSimulationTime": "NET_DATA_TYPE_FLOAT32",
}

// Aliases resolves one engine type name to another before grammar
// parsing runs, letting schema-version renames stay data instead of
// code.
var Aliases = map[string]string{
	"CNetworkedQuantizedFloat": "float32",
	"MaterialIndex_t":         "int32",
	"ModelIndex_t":            "int32",
	"WorldGroupId_t":          "uint32",
}
