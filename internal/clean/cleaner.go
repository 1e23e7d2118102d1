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

// Package clean removes events past their retention period on a cron
// schedule.
package clean

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/crabsoc/crabd/internal/metrics"
	"github.com/crabsoc/crabd/internal/monitor"
	"github.com/crabsoc/crabd/internal/schedule"
	"github.com/crabsoc/crabd/internal/store"
)

// Cleaner deletes old events from the store whenever its schedule
// matches the current minute.
type Cleaner struct {
	store    *store.Store
	sched    *schedule.Schedule
	keepDays int
	log      zerolog.Logger
	alive    atomic.Bool
}

func New(st *store.Store, cronExpr, timezone string, keepDays int) (*Cleaner, error) {
	sched, err := schedule.New(cronExpr, timezone)
	if err != nil {
		return nil, fmt.Errorf("clean schedule: %w", err)
	}
	return &Cleaner{
		store:    st,
		sched:    sched,
		keepDays: keepDays,
		log:      log.With().Str("component", "clean").Logger(),
	}, nil
}

// Run checks the schedule once per minute until the context is
// cancelled.
func (c *Cleaner) Run(ctx context.Context) error {
	c.alive.Store(true)
	defer c.alive.Store(false)

	ticker := monitor.NewTicker(c.tick)

	t := time.NewTicker(5 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			ticker.Advance()
		}
	}
}

// Alive reports whether the run loop is executing, for the dashboard's
// service liveness display.
func (c *Cleaner) Alive() bool { return c.alive.Load() }

func (c *Cleaner) tick(minute time.Time) {
	if !c.sched.Match(minute) {
		return
	}

	cutoff := minute.UTC().AddDate(0, 0, -c.keepDays)
	if err := c.store.DeleteOldEvents(cutoff); err != nil {
		c.log.Error().Err(err).Msg("deleting old events")
		return
	}
	metrics.CleanRuns.Inc()
	c.log.Info().Time("cutoff", cutoff).Msg("old events deleted")
}
