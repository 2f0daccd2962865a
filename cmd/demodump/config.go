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
	"os"

	"sigs.k8s.io/yaml"
)

// config names which entity classes, and which of their fields, get
// printed. An empty Fields list means every field the class has.
//
//	classes:
//	  CCSPlayerPawn:
//	    fields: [m_iHealth, m_vecOrigin]
//	  CCSTeam: {}
type config struct {
	Classes map[string]classConfig `json:"classes"`
}

type classConfig struct {
	Fields []string `json:"fields"`
}

func loadConfig(path string) (*config, error) {
	if path == "" {
		return &config{Classes: map[string]classConfig{}}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Classes == nil {
		cfg.Classes = map[string]classConfig{}
	}
	return &cfg, nil
}

func (c classConfig) wantSet() map[string]bool {
	if len(c.Fields) == 0 {
		return nil
	}
	want := make(map[string]bool, len(c.Fields))
	for _, f := range c.Fields {
		want[f] = true
	}
	return want
}
