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

// Package notify periodically turns notification targets into rendered
// reports.  The notifier decides who gets told about which jobs over
// which time window; rendering and delivery are delegated to a
// Reporter.
package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/crabsoc/crabd/internal/metrics"
	"github.com/crabsoc/crabd/internal/monitor"
	"github.com/crabsoc/crabd/internal/schedule"
	"github.com/crabsoc/crabd/internal/store"
)

// Window is the half-open time span a report covers for one job.
type Window struct {
	Start time.Time
	End   time.Time
}

// Recipient is one delivery target of a report.
type Recipient struct {
	Method        string
	Address       string
	SkipOK        bool
	SkipWarning   bool
	SkipError     bool
	IncludeOutput bool
}

// Reporter renders and delivers one report about a set of jobs to a
// set of recipients.
type Reporter interface {
	Report(ctx context.Context, recipients []Recipient, jobs map[int64]Window) error
}

// Notifier drives the notification targets stored alongside the jobs.
type Notifier struct {
	store    *store.Store
	reporter Reporter
	daily    *schedule.Schedule
	log      zerolog.Logger

	schedules map[int64]*cachedSchedule
	ticker    *monitor.Ticker
	alive     atomic.Bool
}

// cachedSchedule avoids recompiling a target's cron expression every
// minute; it is invalidated when the stored expression or timezone
// changes.
type cachedSchedule struct {
	timeField string
	timezone  string
	sched     *schedule.Schedule
}

// New creates a notifier.  dailyTime and dailyTimezone give the cron
// schedule on which targets without their own time fire.
func New(st *store.Store, reporter Reporter, dailyTime, dailyTimezone string) (*Notifier, error) {
	daily, err := schedule.New(dailyTime, dailyTimezone)
	if err != nil {
		return nil, fmt.Errorf("daily notification schedule: %w", err)
	}

	n := &Notifier{
		store:     st,
		reporter:  reporter,
		daily:     daily,
		log:       log.With().Str("component", "notify").Logger(),
		schedules: map[int64]*cachedSchedule{},
	}
	return n, nil
}

// Run checks for due notifications once per minute until the context
// is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	n.alive.Store(true)
	defer n.alive.Store(false)

	ticker := monitor.NewTicker(func(minute time.Time) {
		n.notify(ctx, minute)
	})
	n.ticker = ticker

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
func (n *Notifier) Alive() bool { return n.alive.Load() }

// firing is one notification target due this minute, with its report
// window.
type firing struct {
	n      store.Notification
	window Window
}

// notify finds the targets due at this minute, groups them, and hands
// each distinct report off to the reporter.
func (n *Notifier) notify(ctx context.Context, minute time.Time) {
	notifications, err := n.store.GetNotifications()
	if err != nil {
		n.log.Error().Err(err).Msg("listing notifications")
		return
	}

	var due []firing
	for _, notification := range notifications {
		sched := n.scheduleFor(notification)
		if sched == nil || !sched.Match(minute) {
			continue
		}
		due = append(due, firing{
			n:      notification,
			window: Window{Start: sched.Previous(minute), End: minute},
		})
	}
	if len(due) == 0 {
		return
	}

	for _, report := range groupReports(due) {
		if err := n.reporter.Report(ctx, report.recipients, report.jobs); err != nil {
			n.log.Error().Err(err).Msg("delivering report")
			continue
		}
		for _, r := range report.recipients {
			metrics.NotificationsSent.WithLabelValues(r.Method).Inc()
		}
	}
}

// scheduleFor returns the compiled schedule for a target, using its
// own cron expression when it has one and the daily default otherwise.
func (n *Notifier) scheduleFor(notification store.Notification) *schedule.Schedule {
	timeField := ""
	if notification.Time != nil {
		timeField = *notification.Time
	}
	if timeField == "" {
		return n.daily
	}

	timezone := ""
	if notification.Timezone != nil {
		timezone = *notification.Timezone
	}

	cached, ok := n.schedules[notification.NotifyID]
	if ok && cached.timeField == timeField && cached.timezone == timezone {
		return cached.sched
	}

	sched, err := schedule.New(timeField, timezone)
	if err != nil {
		n.log.Warn().Int64("notifyid", notification.NotifyID).
			Str("time", timeField).Err(err).
			Msg("unusable notification schedule")
		n.schedules[notification.NotifyID] = &cachedSchedule{
			timeField: timeField, timezone: timezone,
		}
		return nil
	}

	n.schedules[notification.NotifyID] = &cachedSchedule{
		timeField: timeField, timezone: timezone, sched: sched,
	}
	return sched
}

// report is one rendered delivery: every recipient receives the same
// job set with the same windows.
type report struct {
	recipients []Recipient
	jobs       map[int64]Window
}

// groupReports collapses the due targets so each distinct report is
// rendered once.  Targets are first grouped by recipient identity,
// each group's job windows are merged per job, and groups whose job
// sets come out identical share a single report.
func groupReports(due []firing) []report {
	type key struct {
		method, address          string
		timeField, timezone      string
		skipOK, skipWarn, skipErr bool
		includeOutput            bool
	}

	byRecipient := map[key]map[int64]Window{}
	for _, f := range due {
		k := key{
			method:        f.n.Method,
			address:       f.n.Address,
			skipOK:        f.n.SkipOK,
			skipWarn:      f.n.SkipWarning,
			skipErr:       f.n.SkipError,
			includeOutput: f.n.IncludeOutput,
		}
		if f.n.Time != nil {
			k.timeField = *f.n.Time
		}
		if f.n.Timezone != nil {
			k.timezone = *f.n.Timezone
		}

		jobs, ok := byRecipient[k]
		if !ok {
			jobs = map[int64]Window{}
			byRecipient[k] = jobs
		}

		w, ok := jobs[f.n.JobID]
		if !ok {
			jobs[f.n.JobID] = f.window
			continue
		}
		// The widest window wins when a recipient covers the same
		// job through several targets.
		if f.window.Start.Before(w.Start) {
			w.Start = f.window.Start
		}
		if f.window.End.After(w.End) {
			w.End = f.window.End
		}
		jobs[f.n.JobID] = w
	}

	merged := map[string]*report{}
	for k, jobs := range byRecipient {
		sig := jobSignature(jobs)
		r, ok := merged[sig]
		if !ok {
			r = &report{jobs: jobs}
			merged[sig] = r
		}
		r.recipients = append(r.recipients, Recipient{
			Method:        k.method,
			Address:       k.address,
			SkipOK:        k.skipOK,
			SkipWarning:   k.skipWarn,
			SkipError:     k.skipErr,
			IncludeOutput: k.includeOutput,
		})
	}

	reports := make([]report, 0, len(merged))
	for _, r := range merged {
		sort.Slice(r.recipients, func(i, j int) bool {
			if r.recipients[i].Method != r.recipients[j].Method {
				return r.recipients[i].Method < r.recipients[j].Method
			}
			return r.recipients[i].Address < r.recipients[j].Address
		})
		reports = append(reports, *r)
	}
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].recipients[0].Address < reports[j].recipients[0].Address
	})
	return reports
}

// jobSignature is a canonical rendering of a job-window set, used to
// detect groups that would produce identical reports.
func jobSignature(jobs map[int64]Window) string {
	ids := make([]int64, 0, len(jobs))
	for id := range jobs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var b strings.Builder
	for _, id := range ids {
		w := jobs[id]
		fmt.Fprintf(&b, "%d:%d-%d;", id, w.Start.Unix(), w.End.Unix())
	}
	return b.String()
}
