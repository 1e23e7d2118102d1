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

package store

import (
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/crabsoc/crabd/internal/status"
)

// LogStart records a start report from a client and returns whether
// the job is inhibited, so the client may decline to run it.
func (s *Store) LogStart(host, user, crabid, command string) (bool, error) {
	var inhibit bool
	err := s.withLock("log start", func(tx *gorm.DB) error {
		id, err := checkJob(tx, host, user, crabid, command, "", "")
		if err != nil {
			return err
		}

		start := JobStart{JobID: id, Datetime: now(), Command: command}
		if err := tx.Create(&start).Error; err != nil {
			return err
		}

		cfg, err := getJobConfig(tx, id)
		if err != nil {
			return err
		}
		inhibit = cfg != nil && cfg.Inhibit
		return nil
	})
	return inhibit, err
}

// LogFinish records a finish report.  The reported status may be
// reclassified by the job's configured output patterns before it is
// stored; any captured output goes to the output store.
func (s *Store) LogFinish(host, user, crabid, command string, st status.Status, stdout, stderr string) error {
	return s.withLock("log finish", func(tx *gorm.DB) error {
		id, err := checkJob(tx, host, user, crabid, command, "", "")
		if err != nil {
			return err
		}

		cfg, err := getJobConfig(tx, id)
		if err != nil {
			return err
		}
		st = reclassify(st, cfg, stdout+"\n"+stderr)

		finish := JobFinish{JobID: id, Datetime: now(), Command: command, Status: st}
		if err := tx.Create(&finish).Error; err != nil {
			return err
		}

		if stdout != "" || stderr != "" {
			return s.output.Write(tx, finish.ID, host, user, id, crabid, stdout, stderr)
		}
		return nil
	})
}

// reclassify applies the configured status patterns to the combined
// output.  Error statuses reported by the client are trusted as-is;
// otherwise fail, warning and success patterns are consulted in that
// order, and an unmatched success pattern downgrades the result.
func reclassify(st status.Status, cfg *JobConfig, output string) status.Status {
	if cfg == nil || st == status.AlreadyRunning {
		return st
	}

	if st.IsError() {
		return st
	}
	if matchPattern(cfg.FailPattern, output) {
		return status.Fail
	}
	if st.IsWarning() {
		return st
	}
	if matchPattern(cfg.WarningPattern, output) {
		return status.Warning
	}
	if cfg.SuccessPattern != nil {
		if matchPattern(cfg.SuccessPattern, output) {
			return status.Success
		}
		if cfg.FailPattern != nil {
			return status.Unknown
		}
		return status.Fail
	}
	return st
}

func matchPattern(pattern *string, output string) bool {
	if pattern == nil || *pattern == "" {
		return false
	}
	re, err := regexp.Compile(*pattern)
	if err != nil {
		log.Warn().Str("pattern", *pattern).Err(err).
			Msg("ignoring invalid status pattern")
		return false
	}
	return re.MatchString(output)
}

// LogAlarm appends a monitor-generated alarm for a job.
func (s *Store) LogAlarm(jobID int64, st status.Status) error {
	return s.withLock("log alarm", func(tx *gorm.DB) error {
		return tx.Create(&JobAlarm{JobID: jobID, Datetime: now(), Status: st}).Error
	})
}

// EventFilter narrows GetJobEvents.  Zero values are not applied.
type EventFilter struct {
	Limit int
	Start time.Time
	End   time.Time
}

// GetJobEvents fetches the combined start, alarm and finish events of
// one job, newest first.  At equal datetimes a finish sorts before an
// alarm before a start, so a limited fetch keeps the logical end of
// the most recent run.
func (s *Store) GetJobEvents(id int64, f EventFilter) ([]Event, error) {
	where := "WHERE jobid = ?"
	args := []any{id}
	if !f.Start.IsZero() {
		where += " AND datetime >= ?"
		args = append(args, f.Start)
	}
	if !f.End.IsZero() {
		where += " AND datetime < ?"
		args = append(args, f.End)
	}

	query := `SELECT jobid, id AS eventid, 1 AS kind, datetime, command, NULL AS status
		FROM jobstart ` + where + `
		UNION ALL
		SELECT jobid, id AS eventid, 2 AS kind, datetime, '' AS command, status
		FROM jobalarm ` + where + `
		UNION ALL
		SELECT jobid, id AS eventid, 3 AS kind, datetime, command, status
		FROM jobfinish ` + where + `
		ORDER BY datetime DESC, kind DESC`

	// The same argument list binds once per UNION branch.
	branch := args
	args = append(append(append([]any{}, branch...), branch...), branch...)

	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	var events []Event
	err := s.withLock("get job events", func(tx *gorm.DB) error {
		return tx.Raw(query, args...).Scan(&events).Error
	})
	return events, err
}

// GetEventsSince fetches events across all jobs newer than the given
// per-table cursors, oldest first, for the monitor's incremental poll.
func (s *Store) GetEventsSince(afterStart, afterAlarm, afterFinish int64) ([]Event, error) {
	query := `SELECT jobid, id AS eventid, 1 AS kind, datetime, command, NULL AS status
		FROM jobstart WHERE id > ?
		UNION ALL
		SELECT jobid, id AS eventid, 2 AS kind, datetime, '' AS command, status
		FROM jobalarm WHERE id > ?
		UNION ALL
		SELECT jobid, id AS eventid, 3 AS kind, datetime, command, status
		FROM jobfinish WHERE id > ?
		ORDER BY datetime ASC, kind ASC`

	var events []Event
	err := s.withLock("get events since", func(tx *gorm.DB) error {
		return tx.Raw(query, afterStart, afterAlarm, afterFinish).Scan(&events).Error
	})
	return events, err
}

// FinishFilter narrows GetJobFinishes.  FinishID fetches only rows
// with a greater id; After flips the ordering to oldest first.
type FinishFilter struct {
	Limit                 int
	FinishID              int64
	Before                time.Time
	After                 time.Time
	IncludeAlreadyRunning bool
}

// GetJobFinishes fetches finish events for one job, newest first by
// default.  ALREADYRUNNING finishes are noise for most callers and are
// excluded unless asked for.
func (s *Store) GetJobFinishes(id int64, f FinishFilter) ([]JobFinish, error) {
	var finishes []JobFinish
	err := s.withLock("get job finishes", func(tx *gorm.DB) error {
		q := tx.Model(&JobFinish{}).Where("jobid = ?", id)

		if !f.IncludeAlreadyRunning {
			q = q.Where("status <> ?", status.AlreadyRunning)
		}
		if f.FinishID > 0 {
			q = q.Where("id > ?", f.FinishID)
		}
		if !f.Before.IsZero() {
			q = q.Where("datetime < ?", f.Before)
		}
		if !f.After.IsZero() {
			q = q.Where("datetime > ?", f.After).Order("datetime ASC, id ASC")
		} else {
			q = q.Order("datetime DESC, id DESC")
		}
		if f.Limit > 0 {
			q = q.Limit(f.Limit)
		}

		return q.Find(&finishes).Error
	})
	return finishes, err
}

// GetFailEvents fetches the most recent failures across all jobs:
// finishes that were not successful and alarms that represent a
// problem, joined to their jobs, newest first.
func (s *Store) GetFailEvents(limit int) ([]FailEvent, error) {
	user := quoteIdent(s.db, "job.user")
	query := fmt.Sprintf(`SELECT jobfinish.jobid AS jobid, jobfinish.status AS status,
			jobfinish.datetime AS datetime, job.host AS host, %[1]s AS %[2]s,
			job.crabid AS crabid, job.command AS command, jobfinish.id AS finishid
		FROM jobfinish JOIN job ON jobfinish.jobid = job.id
		WHERE jobfinish.status NOT IN (?, ?, ?)
		UNION ALL
		SELECT jobalarm.jobid AS jobid, jobalarm.status AS status,
			jobalarm.datetime AS datetime, job.host AS host, %[1]s AS %[2]s,
			job.crabid AS crabid, job.command AS command, NULL AS finishid
		FROM jobalarm JOIN job ON jobalarm.jobid = job.id
		WHERE jobalarm.status NOT IN (?, ?)
		ORDER BY datetime DESC, status DESC`,
		user, quoteIdent(s.db, "user"))

	args := []any{
		status.Success, status.AlreadyRunning, status.Inhibited,
		status.Cleared, status.Late,
	}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var events []FailEvent
	err := s.withLock("get fail events", func(tx *gorm.DB) error {
		return tx.Raw(query, args...).Scan(&events).Error
	})
	return events, err
}

// DeleteOldEvents removes events older than the cutoff, along with any
// stored output of the deleted finishes.
func (s *Store) DeleteOldEvents(before time.Time) error {
	return s.withLock("delete old events", func(tx *gorm.DB) error {
		if err := tx.Exec(
			`DELETE FROM joboutput WHERE finishid IN
				(SELECT id FROM jobfinish WHERE datetime < ?)`, before,
		).Error; err != nil {
			return err
		}
		for _, table := range []string{"jobalarm", "jobstart", "jobfinish"} {
			if err := tx.Exec(
				"DELETE FROM "+table+" WHERE datetime < ?", before,
			).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetJobOutput fetches the captured output of a finish event.  The job
// coordinates are needed by file-backed output stores, whose paths are
// derived from them.  Returns ok=false when no output was stored.
func (s *Store) GetJobOutput(finishID int64, host, user string, jobID int64, crabid string) (stdout, stderr string, ok bool, err error) {
	return s.output.Read(s.db, finishID, host, user, jobID, crabid)
}
