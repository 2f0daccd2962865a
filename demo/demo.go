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

// Package demo is the top-level driver: it wires envelope frames
// through demomsg, sendtables, entitydecoder, stringtable and
// packetentities into a live entitylist.List, and republishes the
// interesting moments (map change, tick boundary, demo end) through
// event.Manager. It is the one package every other package in this
// module is ultimately built to support.
package demo

import (
	"fmt"
	"io"
	"iter"
	"log"
	"math"

	"github.com/hax0r31337/demoinfocs2-lite/baseline"
	"github.com/hax0r31337/demoinfocs2-lite/bitio"
	"github.com/hax0r31337/demoinfocs2-lite/compr"
	"github.com/hax0r31337/demoinfocs2-lite/demomsg"
	"github.com/hax0r31337/demoinfocs2-lite/entitydecoder"
	"github.com/hax0r31337/demoinfocs2-lite/entitylist"
	"github.com/hax0r31337/demoinfocs2-lite/envelope"
	"github.com/hax0r31337/demoinfocs2-lite/event"
	"github.com/hax0r31337/demoinfocs2-lite/gameevent"
	"github.com/hax0r31337/demoinfocs2-lite/packetentities"
	"github.com/hax0r31337/demoinfocs2-lite/sendtables"
	"github.com/hax0r31337/demoinfocs2-lite/stringtable"
)

// Net message numbers embedded in DEM_Packet/DEM_SignonPacket
// sub-commands, the published SvcMessages enum values the core reacts
// to. Everything else (net_Tick, string commands, legacy game events,
// user commands, ...) is skipped; a demo's full net-message surface is
// out of scope, matching the registered entity-class model spec §2
// commits to.
const (
	svcServerInfo        = 40
	svcCreateStringTable = 44
	svcUpdateStringTable = 45
	svcPacketEntities    = 55
)

// Parser drives one CS2 demo file from front to back, one frame at a
// time.
type Parser struct {
	env    *envelope.Reader
	Logger *log.Logger

	events     *event.Manager
	gameEvents *gameevent.Registry

	entities *entitylist.List
	baseline *baseline.Cache
	pe       *packetentities.Handler

	registered       map[string]func([]entitydecoder.Node) entitydecoder.ClassDecoder
	sendTablesLoaded bool
	classFieldNames  map[string][]string

	tableNames []string
	tables     map[string]*stringtable.Table

	tick         uint32
	tickInterval float32
	mapName      string
	started      bool
}

// NewParser validates the demo file header and returns a Parser ready
// to read the first frame.
func NewParser(r io.Reader) (*Parser, error) {
	er, err := envelope.NewReader(r)
	if err != nil {
		return nil, err
	}
	entities := entitylist.New()
	bl := baseline.New()
	p := &Parser{
		env:          er,
		Logger:       log.Default(),
		events:       event.NewManager(),
		gameEvents:   gameevent.NewRegistry(),
		entities:     entities,
		baseline:     bl,
		pe:           packetentities.NewHandler(0, entities, bl),
		registered:   make(map[string]func([]entitydecoder.Node) entitydecoder.ClassDecoder),
		tables:       make(map[string]*stringtable.Table),
		tickInterval: 1.0 / 64.0,
	}
	return p, nil
}

// Events returns the manager applications subscribe to for TickEvent,
// MapChangeEvent, DemoStartEvent and DemoEndEvent.
func (p *Parser) Events() *event.Manager { return p.events }

// GameEvents returns the registry applications register named game
// event handlers on.
func (p *Parser) GameEvents() *gameevent.Registry { return p.gameEvents }

// Tick returns the tick of the most recently read frame.
func (p *Parser) Tick() uint32 { return p.tick }

// MapName returns the map named in the demo's file header, or "" if
// ReadFrame hasn't reached it yet.
func (p *Parser) MapName() string { return p.mapName }

// Entity returns the live entity at idx, or nil if the slot is empty.
func (p *Parser) Entity(idx int) *entitylist.Item { return p.entities.Get(idx) }

// EntityByHandle resolves a (serial<<14)|index handle to its entity.
func (p *Parser) EntityByHandle(h uint64) *entitylist.Item { return p.entities.GetByHandle(h) }

// Entities ranges over every live entity, in chunk then slot order.
func (p *Parser) Entities() iter.Seq[*entitylist.Item] {
	return func(yield func(*entitylist.Item) bool) {
		p.entities.Iterate(yield)
	}
}

// StringTable returns a named string table as last updated, or nil if
// no CreateStringTable for that name has been read yet. Only
// instancebaseline feeds the entity decoder; every other table is
// exposed read-only for applications that want userinfo,
// modelprecache, and the like.
func (p *Parser) StringTable(name string) *stringtable.Table { return p.tables[name] }

// RegisterEntityClass binds a network class name to an
// application-owned Go type T, built by build from the field nodes
// entitydecoder resolves for that class once send tables arrive. It
// must be called before the first ReadFrame; calling it afterward is a
// programming error, matching the reference's entity serializer
// registration behavior (it is a no-op warning) except that here it
// fails loudly instead of silently discarding the registration.
func RegisterEntityClass[T any](p *Parser, className string, build func(fields []entitydecoder.Node) *entitydecoder.ClassSerializer[T]) error {
	return RegisterDynamicClass(p, className, func(fields []entitydecoder.Node) entitydecoder.ClassDecoder {
		return build(fields)
	})
}

// RegisterDynamicClass is RegisterEntityClass without a compile-time Go
// type: build receives the class's field nodes and returns any
// entitydecoder.ClassDecoder. Applications that know every class's
// shape at compile time should use RegisterEntityClass instead; this
// escape hatch exists for tools like cmd/demodump that discover which
// classes and fields to decode from a config file at runtime.
func RegisterDynamicClass(p *Parser, className string, build func(fields []entitydecoder.Node) entitydecoder.ClassDecoder) error {
	if p.started {
		return fmt.Errorf("demo: cannot register entity class %q after parsing has started", className)
	}
	if _, exists := p.registered[className]; exists {
		return fmt.Errorf("demo: entity class %q already registered", className)
	}
	p.registered[className] = build
	return nil
}

// ClassFieldNames returns the network variable names of className's
// fields, in the same order RegisterEntityClass/RegisterDynamicClass's
// build callback receives their decoder nodes. It only has an answer
// once send tables have been read; nil otherwise.
func (p *Parser) ClassFieldNames(className string) []string {
	return p.classFieldNames[className]
}

// ReadFrame reads and dispatches exactly one envelope frame. ok is
// false once the stream is exhausted (a DemoEndEvent has already been
// published by then), with a nil error.
func (p *Parser) ReadFrame() (ok bool, err error) {
	p.started = true

	frame, ok, err := p.env.ReadFrame()
	if err != nil {
		return false, fmt.Errorf("demo: read frame: %w", err)
	}
	if !ok {
		event.Notify(p.events, event.DemoEndEvent{})
		return false, nil
	}

	if frame.Tick != p.tick {
		p.tick = frame.Tick
		event.Notify(p.events, event.TickEvent{Tick: p.tick, TickInterval: p.tickInterval})
	}

	if err := p.handleFrame(frame); err != nil {
		return false, fmt.Errorf("demo: handle frame (cmd %d, tick %d): %w", frame.Cmd, frame.Tick, err)
	}
	return true, nil
}

func (p *Parser) handleFrame(f envelope.Frame) error {
	switch f.Cmd {
	case envelope.DemFileHeader:
		return p.handleFileHeader(f.Payload)
	case envelope.DemSendTables:
		return p.handleSendTables(f.Payload)
	case envelope.DemClassInfo:
		return p.handleClassInfo(f.Payload)
	case envelope.DemStringTables:
		return p.handleDemoStringTables(f.Payload)
	case envelope.DemPacket, envelope.DemSignonPacket:
		return p.handlePacket(f.Payload)
	default:
		return nil
	}
}

func (p *Parser) handleFileHeader(payload []byte) error {
	fh, err := demomsg.ParseFileHeader(payload)
	if err != nil {
		return err
	}
	p.mapName = fh.MapName
	event.Notify(p.events, event.MapChangeEvent{MapName: fh.MapName})
	event.Notify(p.events, event.DemoStartEvent{NetworkProtocol: fh.NetworkProtocol, MapName: fh.MapName})
	return nil
}

func (p *Parser) handleClassInfo(payload []byte) error {
	ci, err := demomsg.ParseClassInfo(payload)
	if err != nil {
		return err
	}
	for _, c := range ci.Classes {
		p.pe.ClassInfo[uint32(c.ClassID)] = c.NetworkName
	}
	return nil
}

func (p *Parser) handleSendTables(payload []byte) error {
	p.baseline.PurgeCache()

	st, err := demomsg.ParseSendTables(payload)
	if err != nil {
		return err
	}
	fields, classes, err := sendtables.Build(st.Data)
	if err != nil {
		return err
	}

	p.classFieldNames = make(map[string][]string, len(classes))
	for _, c := range classes {
		names := make([]string, len(c.FieldIndexes))
		for i, idx := range c.FieldIndexes {
			if idx >= 0 && idx < len(fields) {
				names[i] = fields[idx].VarName
			}
		}
		p.classFieldNames[c.Name] = names
	}

	built, err := entitydecoder.Build(fields, classes, p.registered)
	if err != nil {
		return err
	}

	for name, decoder := range built {
		_, serializeBaseline := p.registered[name]
		p.pe.Serializers[name] = packetentities.ClassEntry{
			Decoder:           decoder,
			SerializeBaseline: serializeBaseline,
		}
	}
	p.sendTablesLoaded = true
	return nil
}

func (p *Parser) handleDemoStringTables(payload []byte) error {
	dst, err := demomsg.ParseDemoStringTables(payload)
	if err != nil {
		return err
	}
	for _, snap := range dst.Tables {
		table := p.tables[snap.TableName]
		if table == nil {
			continue
		}
		for i, item := range snap.Items {
			table.Insert(item.Str, int32(i), item.Data)
		}
	}
	return nil
}

func (p *Parser) handlePacket(payload []byte) error {
	subs, err := envelope.SubCommands(payload)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if err := p.handleSubCommand(sub); err != nil {
			return err
		}
	}
	return nil
}

func (p *Parser) handleSubCommand(sub envelope.SubCommand) error {
	switch sub.Type {
	case svcServerInfo:
		si, err := demomsg.ParseServerInfo(sub.Payload)
		if err != nil {
			return err
		}
		p.tickInterval = si.TickInterval
		p.pe.ClassIDSize = int(math.Log2(float64(si.MaxClasses))) + 1
		return nil

	case svcCreateStringTable:
		cst, err := demomsg.ParseCreateStringTable(sub.Payload)
		if err != nil {
			return err
		}
		return p.createStringTable(cst)

	case svcUpdateStringTable:
		ust, err := demomsg.ParseUpdateStringTable(sub.Payload)
		if err != nil {
			return err
		}
		return p.updateStringTable(ust)

	case svcPacketEntities:
		pe, err := demomsg.ParsePacketEntities(sub.Payload)
		if err != nil {
			return err
		}
		r := bitio.NewReader(pe.EntityData)
		return p.pe.Handle(r, pe.UpdatedEntries, pe.HasPVSVisBitsDeprecated > 0)

	default:
		return nil
	}
}

func (p *Parser) createStringTable(cst *demomsg.CreateStringTable) error {
	p.tableNames = append(p.tableNames, cst.Name)

	table := stringtable.New(cst.Name, stringtable.Config{
		UserDataFixedSize:    cst.UserDataFixedSize,
		UserDataSize:         cst.UserDataSize,
		Flags:                cst.Flags,
		UsingVarintBitcounts: cst.UsingVarintBitcounts,
	})
	p.tables[cst.Name] = table

	stringData := cst.StringData
	if cst.DataCompressed {
		decompressed, err := compr.DecompressS2(stringData)
		if err != nil {
			return fmt.Errorf("demo: decompress string table %q: %w", cst.Name, err)
		}
		stringData = decompressed
	}

	r := bitio.NewReader(stringData)
	if err := table.Update(r, cst.NumEntries); err != nil {
		return err
	}

	if cst.Name == stringtable.InstanceBaseline {
		p.seedBaselineCache(table)
	}
	return nil
}

func (p *Parser) updateStringTable(ust *demomsg.UpdateStringTable) error {
	idx := int(ust.TableID)
	if idx < 0 || idx >= len(p.tableNames) {
		p.Logger.Printf("demo: invalid string table id %d", ust.TableID)
		return nil
	}
	table := p.tables[p.tableNames[idx]]
	if table == nil {
		return nil
	}
	r := bitio.NewReader(ust.StringData)
	if err := table.Update(r, ust.NumChangedEntries); err != nil {
		return err
	}
	if p.tableNames[idx] == stringtable.InstanceBaseline {
		p.seedBaselineCache(table)
	}
	return nil
}

// seedBaselineCache copies every entry currently in the instancebaseline
// table into baseline.Cache's raw payloads, keyed by class id. The
// table's own keys are class ids formatted as decimal strings.
func (p *Parser) seedBaselineCache(table *stringtable.Table) {
	table.Range(func(key string, value []byte) {
		p.baseline.PutRaw(key, value)
	})
}
