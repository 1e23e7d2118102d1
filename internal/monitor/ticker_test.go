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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestTicker(start time.Time, tick func(time.Time)) (*Ticker, *time.Time) {
	clock := start
	t := &Ticker{tick: tick, previous: start, now: func() time.Time { return clock }}
	return t, &clock
}

func TestTickerFiresOncePerMinute(t *testing.T) {
	start := time.Date(2026, 8, 1, 12, 0, 10, 0, time.UTC)
	var ticks []time.Time
	ticker, clock := newTestTicker(start, func(at time.Time) {
		ticks = append(ticks, at.Truncate(time.Minute))
	})

	ticker.Advance()
	assert.Empty(t, ticks, "no minute boundary crossed yet")

	// A minute fires as soon as the clock enters it.
	*clock = time.Date(2026, 8, 1, 12, 1, 0, 0, time.UTC)
	ticker.Advance()
	assert.Equal(t, []time.Time{
		time.Date(2026, 8, 1, 12, 1, 0, 0, time.UTC),
	}, ticks)

	// Advancing again within the same minute does not re-fire.
	*clock = time.Date(2026, 8, 1, 12, 1, 55, 0, time.UTC)
	ticker.Advance()
	assert.Len(t, ticks, 1)
}

func TestTickerCatchesUpMissedMinutes(t *testing.T) {
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	var ticks []time.Time
	ticker, clock := newTestTicker(start, func(at time.Time) {
		ticks = append(ticks, at.Truncate(time.Minute))
	})

	// The polling loop stalled for five minutes; every skipped
	// minute still gets its tick, and the current minute fires too.
	*clock = start.Add(5 * time.Minute)
	ticker.Advance()

	want := make([]time.Time, 0, 5)
	for i := 1; i <= 5; i++ {
		want = append(want, start.Add(time.Duration(i)*time.Minute))
	}
	assert.Equal(t, want, ticks)
}

func TestTickerSurvivesPanickingHandler(t *testing.T) {
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	calls := 0
	ticker, clock := newTestTicker(start, func(time.Time) {
		calls++
		panic("boom")
	})

	*clock = start.Add(3 * time.Minute)
	assert.NotPanics(t, func() { ticker.Advance() })
	assert.Equal(t, 3, calls, "ticking continues past a panic")
}
