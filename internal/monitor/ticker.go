/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package monitor

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Ticker delivers one callback per wall clock minute.  It is driven by
// Advance, which the owner calls from a coarser polling loop; a loop
// that pauses (scheduling hiccup, long poll iteration) catches up on
// the minutes it slept through, one tick per missed minute.
type Ticker struct {
	tick     func(time.Time)
	previous time.Time

	// now is replaceable for tests.
	now func() time.Time
}

func NewTicker(tick func(time.Time)) *Ticker {
	t := &Ticker{tick: tick, now: func() time.Time { return time.Now().UTC() }}
	t.previous = t.now()
	return t
}

// Advance fires the callback for every whole minute entered since the
// last call, including the minute the clock is in now.  The candidate
// instant steps by 55 seconds so no minute boundary can be stepped
// over regardless of where within a minute the previous instant fell.
func (t *Ticker) Advance() {
	for t.previous.Truncate(time.Minute).Before(t.now().Truncate(time.Minute)) {
		candidate := t.previous.Add(55 * time.Second)
		if !candidate.Truncate(time.Minute).Equal(t.previous.Truncate(time.Minute)) {
			t.fire(candidate)
		}
		t.previous = candidate
	}
}

// fire invokes the callback, containing panics so one bad tick cannot
// stop the clock.
func (t *Ticker) fire(minute time.Time) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Time("minute", minute).
				Msg("tick handler panicked")
		}
	}()
	t.tick(minute)
}
