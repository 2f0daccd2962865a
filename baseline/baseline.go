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

// Package baseline caches the instancebaseline string table's raw
// payloads and the decoded prototype entity built from each, so a
// newly created entity of a given class starts from a decoded
// snapshot instead of its zero value.
package baseline

import "strconv"

// Cache holds, per class id, the raw baseline bytes reported by the
// instancebaseline string table and the decoded prototype cloned into
// each newly created entity of that class.
type Cache struct {
	raw    map[string][]byte
	cached map[string]any
}

func New() *Cache {
	return &Cache{
		raw:    make(map[string][]byte),
		cached: make(map[string]any),
	}
}

// Key formats a class id the way the instancebaseline table's string
// keys are formatted: its decimal representation.
func Key(classID uint32) string {
	return strconv.Itoa(int(classID))
}

// PutRaw records the undecoded baseline payload for a class, as read
// from the instancebaseline string table.
func (c *Cache) PutRaw(key string, payload []byte) {
	c.raw[key] = payload
}

// GetRaw returns the raw baseline payload for a class, if any.
func (c *Cache) GetRaw(key string) ([]byte, bool) {
	b, ok := c.raw[key]
	return b, ok
}

// GetCached returns the already-decoded prototype for a class, if one
// has been cached since the last PurgeCache.
func (c *Cache) GetCached(key string) (any, bool) {
	v, ok := c.cached[key]
	return v, ok
}

// PutCache stores the decoded prototype for a class: a fully populated
// entity value, decoded once from the raw baseline bytes and then
// cloned for every subsequent entity of that class, not re-decoded.
func (c *Cache) PutCache(key string, prototype any) {
	c.cached[key] = prototype
}

// PurgeCache drops every cached prototype. Called whenever a new
// send-tables message arrives, since the decoder graph (and therefore
// what a cached prototype even means) may have changed between maps or
// halves.
func (c *Cache) PurgeCache() {
	c.cached = make(map[string]any)
}
