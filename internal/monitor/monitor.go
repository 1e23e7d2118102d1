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

// Package monitor watches the event stream and decides when jobs are
// late, missed or timed out.  It keeps an in-memory status map built
// by replaying events, raises alarms through the store, and serves
// long-poll status queries to the dashboard.
package monitor

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/crabsoc/crabd/internal/metrics"
	"github.com/crabsoc/crabd/internal/schedule"
	"github.com/crabsoc/crabd/internal/status"
	"github.com/crabsoc/crabd/internal/store"
)

const (
	// DefaultGracePeriod is how long after the scheduled minute a
	// start may arrive before the job is considered missed.
	DefaultGracePeriod = 2 * time.Minute

	// DefaultTimeout is how long a job may run before a timeout
	// alarm is raised.
	DefaultTimeout = 5 * time.Minute

	// bootstrapEvents is how much history is replayed per job when
	// the monitor first learns about it.
	bootstrapEvents = 40

	// maxPollJitter spreads long-poll expiries so that dashboard
	// clients which connected together do not all re-request at once.
	maxPollJitter = 20 * time.Second
)

// jobState is the monitor's view of one job.
type jobState struct {
	status      *status.Status
	running     bool
	installed   time.Time
	history     []status.Status
	reliability int
	sched       *schedule.Schedule
	gracePeriod time.Duration
	timeout     time.Duration
}

// JobStatus is the externally visible slice of a job's state.
type JobStatus struct {
	Status      *status.Status `json:"status"`
	Running     bool           `json:"running"`
	Scheduled   bool           `json:"scheduled"`
	Reliability int            `json:"reliability"`
}

// Snapshot is an immutable view of the monitor's state, published
// after every batch of processed events.  Readers get a consistent
// picture without holding the monitor's lock.
type Snapshot struct {
	MaxStartID  int64               `json:"max_startid"`
	MaxAlarmID  int64               `json:"max_alarmid"`
	MaxFinishID int64               `json:"max_finishid"`
	Jobs        map[int64]JobStatus `json:"status"`
	NumWarning  int                 `json:"num_warning"`
	NumError    int                 `json:"num_error"`
}

// Monitor is the alarm engine.
type Monitor struct {
	store        *store.Store
	pollInterval time.Duration
	log          zerolog.Logger

	alive atomic.Bool

	mu   sync.Mutex
	wake chan struct{}

	jobs        map[int64]*jobState
	maxStartID  int64
	maxAlarmID  int64
	maxFinishID int64
	numWarning  int
	numError    int

	lastStart      map[int64]time.Time
	runningTimeout map[int64]time.Time
	missedTimeout  map[int64]time.Time

	snapshot atomic.Pointer[Snapshot]
	ticker   *Ticker
}

func New(st *store.Store, pollInterval time.Duration) *Monitor {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	m := &Monitor{
		store:          st,
		pollInterval:   pollInterval,
		log:            log.With().Str("component", "monitor").Logger(),
		wake:           make(chan struct{}),
		jobs:           map[int64]*jobState{},
		lastStart:      map[int64]time.Time{},
		runningTimeout: map[int64]time.Time{},
		missedTimeout:  map[int64]time.Time{},
	}
	m.ticker = NewTicker(m.tick)
	m.snapshot.Store(&Snapshot{Jobs: map[int64]JobStatus{}})
	return m
}

// Run bootstraps from stored history and then polls for new events
// until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.alive.Store(true)
	defer m.alive.Store(false)

	if err := m.bootstrap(); err != nil {
		return err
	}
	m.log.Info().Int("jobs", len(m.jobs)).Msg("monitor bootstrapped")

	t := time.NewTicker(m.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			m.poll(time.Now().UTC())
		}
	}
}

func (m *Monitor) bootstrap() error {
	jobs, err := m.store.GetJobs(store.JobFilter{})
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range jobs {
		if _, err := m.bootstrapJob(job.ID); err != nil {
			return err
		}
	}
	m.recountLocked()
	m.publishLocked()
	return nil
}

// bootstrapJob loads one job's schedule, config and recent history.
// A deleted or vanished job is not an error, just ok=false: clients
// race crontab edits and their reports may refer to jobs which are
// already gone.
func (m *Monitor) bootstrapJob(id int64) (bool, error) {
	job, err := m.store.GetJobInfo(id)
	if err != nil {
		return false, err
	}
	if job == nil || job.Deleted != nil {
		return false, nil
	}

	js := &jobState{
		installed:   job.Installed,
		gracePeriod: DefaultGracePeriod,
		timeout:     DefaultTimeout,
	}
	m.loadSchedule(js, job)
	m.jobs[id] = js

	if err := m.loadConfig(id, js); err != nil {
		return false, err
	}

	events, err := m.store.GetJobEvents(id, store.EventFilter{Limit: bootstrapEvents})
	if err != nil {
		return false, err
	}
	// Newest first from the store; replay in chronological order.  The
	// cursors move with the replay so the next poll does not fetch and
	// fold in the same events again.
	for i := len(events) - 1; i >= 0; i-- {
		m.advanceCursorLocked(events[i])
		m.processEventLocked(id, events[i])
	}
	js.reliability = reliability(js.history)

	return true, nil
}

// advanceCursorLocked records the highest event id seen in each table.
// Cursors only move forward: a mid-poll bootstrap can replay events
// beyond the batch currently being processed.
func (m *Monitor) advanceCursorLocked(ev store.Event) {
	switch ev.Kind {
	case store.EventStart:
		if ev.EventID > m.maxStartID {
			m.maxStartID = ev.EventID
		}
	case store.EventAlarm:
		if ev.EventID > m.maxAlarmID {
			m.maxAlarmID = ev.EventID
		}
	case store.EventFinish:
		if ev.EventID > m.maxFinishID {
			m.maxFinishID = ev.EventID
		}
	}
}

func (m *Monitor) loadSchedule(js *jobState, job *store.Job) {
	js.sched = nil
	if job.Time == nil || *job.Time == "" {
		return
	}
	tz := ""
	if job.Timezone != nil {
		tz = *job.Timezone
	}
	sched, err := schedule.New(*job.Time, tz)
	if err != nil {
		m.log.Warn().Int64("jobid", job.ID).Str("time", *job.Time).Err(err).
			Msg("unusable schedule")
		return
	}
	js.sched = sched
}

func (m *Monitor) loadConfig(id int64, js *jobState) error {
	cfg, err := m.store.GetJobConfig(id)
	if err != nil {
		return err
	}
	js.gracePeriod = DefaultGracePeriod
	js.timeout = DefaultTimeout
	if cfg != nil {
		if cfg.GracePeriod != nil {
			js.gracePeriod = time.Duration(*cfg.GracePeriod) * time.Minute
		}
		if cfg.Timeout != nil {
			js.timeout = time.Duration(*cfg.Timeout) * time.Minute
		}
	}
	return nil
}

// poll is one iteration of the run loop.
func (m *Monitor) poll(now time.Time) {
	events, err := m.store.GetEventsSince(m.maxStartID, m.maxAlarmID, m.maxFinishID)
	if err != nil {
		m.log.Error().Err(err).Msg("fetching events")
		return
	}

	m.mu.Lock()
	for _, ev := range events {
		m.advanceCursorLocked(ev)

		if _, known := m.jobs[ev.JobID]; !known {
			ok, err := m.bootstrapJob(ev.JobID)
			if err != nil {
				m.log.Error().Int64("jobid", ev.JobID).Err(err).
					Msg("bootstrapping job")
				continue
			}
			if !ok {
				continue
			}
			// Bootstrap replayed this event from the store.
			continue
		}

		m.processEventLocked(ev.JobID, ev)
		metrics.EventsProcessed.Inc()
	}

	if len(events) != 0 {
		m.recountLocked()
		m.publishLocked()
		m.broadcastLocked()
	}
	m.mu.Unlock()

	m.ticker.Advance()
	m.sweepTimeouts(now)
}

// processEventLocked folds one event into the job's state.  Status
// precedence keeps the most alarming recent condition visible: a late
// marker never hides a real outcome, a warning never hides an error,
// and a definite outcome always wins.
func (m *Monitor) processEventLocked(id int64, ev store.Event) {
	js, ok := m.jobs[id]
	if !ok {
		return
	}

	if ev.Status != nil && *ev.Status != status.AlreadyRunning {
		st := *ev.Status
		switch {
		case st.IsTrivial():
			if js.status == nil || js.status.IsOK() {
				js.status = &st
			}
		case st.IsWarning():
			if js.status == nil || !js.status.IsError() {
				js.status = &st
			}
		default:
			js.status = &st
		}

		if !st.IsTrivial() {
			js.history = append(js.history, st)
			if len(js.history) > 10 {
				js.history = js.history[1:]
			}
			js.reliability = reliability(js.history)
		}
	}

	switch {
	case ev.Kind == store.EventStart:
		js.running = true
		m.lastStart[id] = ev.Datetime.UTC()
		m.runningTimeout[id] = ev.Datetime.UTC().Add(js.timeout)
		delete(m.missedTimeout, id)
	case ev.Kind == store.EventFinish,
		ev.Status != nil && *ev.Status == status.Timeout:
		js.running = false
		delete(m.runningTimeout, id)
	}
}

func reliability(history []status.Status) int {
	if len(history) == 0 {
		return 0
	}
	successes := 0
	for _, st := range history {
		if st == status.Success {
			successes++
		}
	}
	return 100 * successes / len(history)
}

// tick runs once per wall clock minute: raise LATE alarms for
// scheduled jobs that have not started, then reconcile the in-memory
// job set against the store.
func (m *Monitor) tick(minute time.Time) {
	minute = minute.UTC()

	m.mu.Lock()
	for id, js := range m.jobs {
		if js.sched == nil || !js.sched.Match(minute) {
			continue
		}
		last, started := m.lastStart[id]
		if started && !last.Add(js.gracePeriod).Before(minute) {
			continue
		}
		m.log.Debug().Int64("jobid", id).Time("minute", minute).
			Msg("job is late")
		if err := m.store.LogAlarm(id, status.Late); err != nil {
			m.log.Error().Int64("jobid", id).Err(err).Msg("logging late alarm")
			continue
		}
		metrics.AlarmsRaised.WithLabelValues(status.Late.String()).Inc()
		m.missedTimeout[id] = minute.Add(js.gracePeriod)
	}
	m.mu.Unlock()

	m.reconcileJobs()
}

// reconcileJobs refreshes the job set from the store: new jobs are
// bootstrapped, reinstalled jobs get their schedule reloaded, config
// is refreshed for everyone, and vanished jobs are dropped.
func (m *Monitor) reconcileJobs() {
	jobs, err := m.store.GetJobs(store.JobFilter{})
	if err != nil {
		m.log.Error().Err(err).Msg("listing jobs")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := map[int64]bool{}
	for i := range jobs {
		job := &jobs[i]
		current[job.ID] = true

		js, known := m.jobs[job.ID]
		if !known {
			if _, err := m.bootstrapJob(job.ID); err != nil {
				m.log.Error().Int64("jobid", job.ID).Err(err).
					Msg("bootstrapping job")
			}
			continue
		}

		if job.Installed.After(js.installed) {
			m.loadSchedule(js, job)
			js.installed = job.Installed
		}
		if err := m.loadConfig(job.ID, js); err != nil {
			m.log.Error().Int64("jobid", job.ID).Err(err).
				Msg("refreshing job config")
		}
	}

	for id := range m.jobs {
		if !current[id] {
			delete(m.jobs, id)
			delete(m.lastStart, id)
			delete(m.runningTimeout, id)
			delete(m.missedTimeout, id)
		}
	}

	m.recountLocked()
	m.publishLocked()
}

// sweepTimeouts raises MISSED and TIMEOUT alarms for deadlines that
// have passed.
func (m *Monitor) sweepTimeouts(now time.Time) {
	type alarm struct {
		id int64
		st status.Status
	}
	var due []alarm

	m.mu.Lock()
	for id, deadline := range m.missedTimeout {
		if deadline.Before(now) {
			delete(m.missedTimeout, id)
			due = append(due, alarm{id, status.Missed})
		}
	}
	for id, deadline := range m.runningTimeout {
		if deadline.Before(now) {
			delete(m.runningTimeout, id)
			due = append(due, alarm{id, status.Timeout})
		}
	}
	m.mu.Unlock()

	for _, a := range due {
		if err := m.store.LogAlarm(a.id, a.st); err != nil {
			m.log.Error().Int64("jobid", a.id).Err(err).Msg("logging alarm")
			continue
		}
		metrics.AlarmsRaised.WithLabelValues(a.st.String()).Inc()
	}
}

func (m *Monitor) recountLocked() {
	m.numWarning, m.numError = 0, 0
	for _, js := range m.jobs {
		if js.status == nil {
			continue
		}
		switch {
		case js.status.IsWarning():
			m.numWarning++
		case js.status.IsError():
			m.numError++
		}
	}
	metrics.JobsWarning.Set(float64(m.numWarning))
	metrics.JobsError.Set(float64(m.numError))
}

func (m *Monitor) publishLocked() {
	snap := &Snapshot{
		MaxStartID:  m.maxStartID,
		MaxAlarmID:  m.maxAlarmID,
		MaxFinishID: m.maxFinishID,
		Jobs:        make(map[int64]JobStatus, len(m.jobs)),
		NumWarning:  m.numWarning,
		NumError:    m.numError,
	}
	for id, js := range m.jobs {
		var st *status.Status
		if js.status != nil {
			v := *js.status
			st = &v
		}
		snap.Jobs[id] = JobStatus{
			Status:      st,
			Running:     js.running,
			Scheduled:   js.sched != nil,
			Reliability: js.reliability,
		}
	}
	m.snapshot.Store(snap)
}

func (m *Monitor) broadcastLocked() {
	close(m.wake)
	m.wake = make(chan struct{})
}

// Snapshot returns the most recently published state.
func (m *Monitor) Snapshot() *Snapshot {
	return m.snapshot.Load()
}

// Alive reports whether the run loop is executing, for the dashboard's
// service liveness display.
func (m *Monitor) Alive() bool {
	return m.alive.Load()
}

// WaitForEventSince blocks until the monitor has seen an event beyond
// the caller's cursors, then returns the current snapshot.  The wait
// gives up after the timeout plus a random share of 20 seconds, so
// that a dashboard full of tabs does not reconnect in lockstep.
func (m *Monitor) WaitForEventSince(ctx context.Context, startID, alarmID, finishID int64, timeout time.Duration) *Snapshot {
	deadline := timeout + time.Duration(rand.Int63n(int64(maxPollJitter)))
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	for {
		m.mu.Lock()
		if m.maxStartID > startID || m.maxAlarmID > alarmID || m.maxFinishID > finishID {
			m.mu.Unlock()
			return m.Snapshot()
		}
		wake := m.wake
		m.mu.Unlock()

		select {
		case <-wake:
		case <-timer.C:
			return m.Snapshot()
		case <-ctx.Done():
			return m.Snapshot()
		}
	}
}
