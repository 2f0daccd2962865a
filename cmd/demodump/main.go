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

// Command demodump reads a CS2 demo file and, at each tick boundary,
// writes one JSON line per entity snapshot, covering whichever entity
// classes and fields a YAML config names.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/hax0r31337/demoinfocs2-lite/demo"
	"github.com/hax0r31337/demoinfocs2-lite/entitydecoder"
	"github.com/hax0r31337/demoinfocs2-lite/event"
)

type snapshotLine struct {
	Session string         `json:"session"`
	Tick    uint32         `json:"tick"`
	Map     string         `json:"map,omitempty"`
	Entity  int            `json:"entity"`
	Class   string         `json:"class"`
	Fields  map[string]any `json:"fields"`
}

func main() {
	configPath := flag.String("config", "", "YAML config naming entity classes and fields to dump")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "demodump: %s\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		args = []string{"-"}
	}

	out := bufio.NewWriter(os.Stdout)
	sessionID := uuid.New().String()

	for _, arg := range args {
		if err := dumpOne(arg, cfg, sessionID, out); err != nil {
			fmt.Fprintf(os.Stderr, "demodump: %s: %s\n", arg, err)
			os.Exit(1)
		}
	}

	if err := out.Flush(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func dumpOne(path string, cfg *config, sessionID string, out *bufio.Writer) error {
	var in *os.File
	if path == "-" {
		in = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	p, err := demo.NewParser(in)
	if err != nil {
		return err
	}
	p.Logger = log.New(os.Stderr, "demodump["+sessionID+"]: ", log.LstdFlags)

	for className := range cfg.Classes {
		className := className
		err := demo.RegisterDynamicClass(p, className, func(fields []entitydecoder.Node) entitydecoder.ClassDecoder {
			return newDynamicClass(className, p.ClassFieldNames(className), fields)
		})
		if err != nil {
			return err
		}
	}

	enc := json.NewEncoder(out)
	event.Subscribe(p.Events(), func(e event.TickEvent) {
		dumpTick(p, cfg, sessionID, e.Tick, enc)
	})

	for {
		ok, err := p.ReadFrame()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
	}
	return nil
}

func dumpTick(p *demo.Parser, cfg *config, sessionID string, tick uint32, enc *json.Encoder) {
	for item := range p.Entities() {
		d, ok := item.Serializer.(*dynamicClass)
		if !ok {
			continue
		}
		e, ok := item.Value.(*dynamicEntity)
		if !ok {
			continue
		}
		classCfg := cfg.Classes[d.className]
		line := snapshotLine{
			Session: sessionID,
			Tick:    tick,
			Map:     p.MapName(),
			Entity:  int(item.Index),
			Class:   d.className,
			Fields:  d.snapshot(e, classCfg.wantSet()),
		}
		if err := enc.Encode(line); err != nil {
			p.Logger.Printf("encode snapshot: %s", err)
		}
	}
}
