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

package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustNew(t *testing.T, expr, timezone string) *Schedule {
	t.Helper()
	s, err := New(expr, timezone)
	require.NoError(t, err)
	return s
}

func TestMatchBasic(t *testing.T) {
	s := mustNew(t, "30 3 * * *", "")

	assert.True(t, s.Match(time.Date(2026, 8, 1, 3, 30, 0, 0, time.UTC)))
	assert.True(t, s.Match(time.Date(2026, 8, 1, 3, 30, 45, 0, time.UTC)),
		"seconds within the minute do not matter")
	assert.False(t, s.Match(time.Date(2026, 8, 1, 3, 31, 0, 0, time.UTC)))
	assert.False(t, s.Match(time.Date(2026, 8, 1, 4, 30, 0, 0, time.UTC)))
}

func TestMatchAliasesAndSteps(t *testing.T) {
	hourly := mustNew(t, "@hourly", "")
	assert.True(t, hourly.Match(time.Date(2026, 8, 1, 7, 0, 0, 0, time.UTC)))
	assert.False(t, hourly.Match(time.Date(2026, 8, 1, 7, 1, 0, 0, time.UTC)))

	every15 := mustNew(t, "*/15 * * * *", "")
	assert.True(t, every15.Match(time.Date(2026, 8, 1, 7, 45, 0, 0, time.UTC)))
	assert.False(t, every15.Match(time.Date(2026, 8, 1, 7, 50, 0, 0, time.UTC)))

	names := mustNew(t, "0 9 * * mon-fri", "")
	assert.True(t, names.Match(time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC)), "Monday")
	assert.False(t, names.Match(time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC)), "Sunday")
}

func TestMatchTimezone(t *testing.T) {
	s := mustNew(t, "0 9 * * *", "Europe/London")

	// 09:00 BST is 08:00 UTC in August.
	assert.True(t, s.Match(time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)))
	assert.False(t, s.Match(time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)))
}

func TestMatchSameInstantAcrossTimezones(t *testing.T) {
	s := mustNew(t, "0 15 25 12 *", "Europe/London")

	london, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)
	vancouver, err := time.LoadLocation("America/Vancouver")
	require.NoError(t, err)
	sydney, err := time.LoadLocation("Australia/Sydney")
	require.NoError(t, err)

	// The same instant matches however the caller renders it.
	assert.True(t, s.Match(time.Date(2012, 12, 25, 15, 0, 0, 0, london)))
	assert.True(t, s.Match(time.Date(2012, 12, 25, 7, 0, 0, 0, vancouver)))
	assert.True(t, s.Match(time.Date(2012, 12, 26, 2, 0, 0, 0, sydney)))

	// An hour earlier in the schedule's own zone does not, no matter
	// how it is rendered.
	assert.False(t, s.Match(time.Date(2012, 12, 25, 14, 0, 0, 0, london)))
	assert.False(t, s.Match(time.Date(2012, 12, 26, 1, 0, 0, 0, sydney)))
}

func TestUnknownTimezoneFallsBackToUTC(t *testing.T) {
	s, err := New("0 9 * * *", "Not/AZone")
	require.NoError(t, err)
	assert.True(t, s.Match(time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)))
}

func TestDomDowRule(t *testing.T) {
	// Both restricted: standard cron matches on either.
	either := mustNew(t, "0 0 13 * fri", "")
	assert.True(t, either.Match(time.Date(2026, 8, 13, 0, 0, 0, 0, time.UTC)), "a Thursday the 13th")
	assert.True(t, either.Match(time.Date(2026, 8, 7, 0, 0, 0, 0, time.UTC)), "a Friday that is not the 13th")
	assert.False(t, either.Match(time.Date(2026, 8, 12, 0, 0, 0, 0, time.UTC)))

	// Day-of-month unrestricted: only the weekday counts.
	fridays := mustNew(t, "0 0 * * fri", "")
	assert.True(t, fridays.Match(time.Date(2026, 8, 7, 0, 0, 0, 0, time.UTC)))
	assert.False(t, fridays.Match(time.Date(2026, 8, 13, 0, 0, 0, 0, time.UTC)))
}

func TestNextAndPreviousBracketTheInput(t *testing.T) {
	s := mustNew(t, "30 3 * * *", "")
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 8, 2, 3, 30, 0, 0, time.UTC), s.Next(at))
	assert.Equal(t, time.Date(2026, 8, 1, 3, 30, 0, 0, time.UTC), s.Previous(at))
}

func TestPreviousIsStrictlyBefore(t *testing.T) {
	s := mustNew(t, "30 3 * * *", "")
	at := time.Date(2026, 8, 1, 3, 30, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 7, 31, 3, 30, 0, 0, time.UTC), s.Previous(at))
}

func TestPreviousSparseSchedule(t *testing.T) {
	// Yearly: the backward walk has to skip whole months.
	s := mustNew(t, "0 0 1 1 *", "")
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), s.Previous(at))
}

func TestPreviousHonoursTimezone(t *testing.T) {
	s := mustNew(t, "0 9 * * *", "Europe/London")
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	prev := s.Previous(at)
	assert.Equal(t, time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC), prev.UTC())
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New("not a cron line", "")
	assert.Error(t, err)

	_, err = New("@every 5m", "")
	assert.Error(t, err, "constant-delay schedules have no minute pattern")
}
