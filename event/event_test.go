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

package event

import (
	"testing"

	"github.com/hax0r31337/demoinfocs2-lite/date"
)

func TestNotifyRunsSubscribedListeners(t *testing.T) {
	m := NewManager()
	var got []uint32
	Subscribe(m, func(e TickEvent) { got = append(got, e.Tick) })
	Subscribe(m, func(e TickEvent) { got = append(got, e.Tick*10) })

	Notify(m, TickEvent{Tick: 5})

	if len(got) != 2 || got[0] != 5 || got[1] != 50 {
		t.Fatalf("got = %v", got)
	}
}

func TestNotifyIsTypeScoped(t *testing.T) {
	m := NewManager()
	var tickFired, mapFired bool
	Subscribe(m, func(TickEvent) { tickFired = true })
	Subscribe(m, func(MapChangeEvent) { mapFired = true })

	Notify(m, MapChangeEvent{MapName: "de_mirage"})

	if tickFired {
		t.Fatal("TickEvent listener fired on a MapChangeEvent notify")
	}
	if !mapFired {
		t.Fatal("MapChangeEvent listener did not fire")
	}
}

func TestUnsubscribeStopsFutureNotifications(t *testing.T) {
	m := NewManager()
	calls := 0
	id := Subscribe(m, func(TickEvent) { calls++ })

	Notify(m, TickEvent{Tick: 1})
	if !Unsubscribe[TickEvent](m, id) {
		t.Fatal("expected Unsubscribe to find the listener")
	}
	Notify(m, TickEvent{Tick: 2})

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestUnsubscribeUnknownIDReportsFalse(t *testing.T) {
	m := NewManager()
	Subscribe(m, func(TickEvent) {})
	if Unsubscribe[TickEvent](m, 999) {
		t.Fatal("expected Unsubscribe of an unknown id to report false")
	}
}

func TestNotifyWithNoListenersIsANoop(t *testing.T) {
	m := NewManager()
	Notify(m, DemoEndEvent{})
}

func TestTickTimeAdvancesByTickIntervalSeconds(t *testing.T) {
	start := date.Date(2026, 1, 1, 0, 0, 0, 0)
	got := TickTime(start, 128, 1.0/64.0)
	want := date.Date(2026, 1, 1, 0, 0, 2, 0)
	if !got.Equal(want) {
		t.Fatalf("TickTime = %v, want %v", got, want)
	}
}
