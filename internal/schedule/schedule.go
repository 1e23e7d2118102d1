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

// Package schedule compiles five-field cron expressions with an
// associated timezone and answers match / next / previous queries at
// one minute granularity.
package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// starBit marks a field that was specified as "*" (or an unrestricted
// step such as */n), mirroring the parser's internal convention.  When
// one of dom/dow carries it, the two fields combine with AND; when both
// are restricted, standard cron combines them with OR.
const starBit = 1 << 63

var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Schedule is a compiled cron expression bound to a timezone.
// Matching is done on the localized minute.
type Schedule struct {
	spec *cron.SpecSchedule
	loc  *time.Location
}

// New compiles the given cron expression ("m h dom mon dow" or an
// @alias) for the named IANA timezone.  An unknown timezone logs a
// warning and falls back to UTC; an unparsable expression is an error.
func New(expr, timezone string) (*Schedule, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parsing cron expression %q: %w", expr, err)
	}

	spec, ok := sched.(*cron.SpecSchedule)
	if !ok {
		// @every produces a constant-delay schedule with no fixed
		// minute pattern, which cannot be matched against a wall
		// clock minute.
		return nil, fmt.Errorf("cron expression %q has no minute pattern", expr)
	}

	loc := time.UTC
	if timezone != "" {
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			log.Warn().Str("timezone", timezone).Msg("unknown timezone, assuming UTC")
			loc = time.UTC
		}
	}
	spec.Location = loc

	return &Schedule{spec: spec, loc: loc}, nil
}

// Match reports whether the instant t falls on a scheduled minute.
func (s *Schedule) Match(t time.Time) bool {
	lt := t.In(s.loc)

	if s.spec.Minute&(1<<uint(lt.Minute())) == 0 {
		return false
	}
	if s.spec.Hour&(1<<uint(lt.Hour())) == 0 {
		return false
	}
	if s.spec.Month&(1<<uint(lt.Month())) == 0 {
		return false
	}
	return s.matchDay(lt)
}

// matchDay applies the standard cron day rule: if either the
// day-of-month or day-of-week field is unrestricted the two are
// combined with AND, otherwise a match on either suffices.
func (s *Schedule) matchDay(lt time.Time) bool {
	domMatch := s.spec.Dom&(1<<uint(lt.Day())) != 0
	dowMatch := s.spec.Dow&(1<<uint(lt.Weekday())) != 0

	if s.spec.Dom&starBit != 0 || s.spec.Dow&starBit != 0 {
		return domMatch && dowMatch
	}
	return domMatch || dowMatch
}

// Next returns the first scheduled instant strictly after t.
func (s *Schedule) Next(t time.Time) time.Time {
	return s.spec.Next(t)
}

// Previous returns the last scheduled instant strictly before t.
// It walks backwards from the preceding minute, skipping whole hours,
// days and months whose fields cannot match, so the search is bounded
// even for yearly schedules.
func (s *Schedule) Previous(t time.Time) time.Time {
	lt := t.In(s.loc).Truncate(time.Minute)

	// Five years is more than any five-field expression needs
	// (a yearly schedule recurs at most 366 days apart).
	limit := lt.AddDate(-5, 0, 0)

	for lt = lt.Add(-time.Minute); lt.After(limit); {
		switch {
		case s.spec.Month&(1<<uint(lt.Month())) == 0:
			// Jump to the last minute of the previous month.
			lt = time.Date(lt.Year(), lt.Month(), 1, 0, 0, 0, 0, s.loc).Add(-time.Minute)
		case !s.matchDay(lt):
			lt = time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, s.loc).Add(-time.Minute)
		case s.spec.Hour&(1<<uint(lt.Hour())) == 0:
			lt = time.Date(lt.Year(), lt.Month(), lt.Day(), lt.Hour(), 0, 0, 0, s.loc).Add(-time.Minute)
		case s.spec.Minute&(1<<uint(lt.Minute())) == 0:
			lt = lt.Add(-time.Minute)
		default:
			return lt
		}
	}

	return time.Time{}
}
