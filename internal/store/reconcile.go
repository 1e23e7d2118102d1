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
	"strings"

	"gorm.io/gorm"

	"github.com/crabsoc/crabd/internal/crontab"
)

// CheckJob resolves a client report to a canonical job, creating or
// updating one as needed, and returns its id.  The crabid, time and
// timezone arguments are optional; pass "" when the client did not
// supply them.
//
// A crabid is the preferred identity: a job found by crabid is updated
// in place, a command-matched job without a crabid is adopted, and the
// deleted mark is cleared in either case so history survives a crontab
// line being removed and re-added.
func (s *Store) CheckJob(host, user, crabid, command, timeField, timezone string) (int64, error) {
	var id int64
	err := s.withLock("check job", func(tx *gorm.DB) error {
		var err error
		id, err = checkJob(tx, host, user, crabid, command, timeField, timezone)
		return err
	})
	return id, err
}

func checkJob(tx *gorm.DB, host, user, crabid, command, timeField, timezone string) (int64, error) {
	update := JobUpdate{}
	if timeField != "" {
		update.Time = &timeField
	}
	if timezone != "" {
		update.Timezone = &timezone
	}

	if crabid != "" {
		var jobs []Job
		err := getJobs(tx, JobFilter{
			Host: host, User: user, CrabID: crabid, IncludeDeleted: true,
		}, &jobs)
		if err != nil {
			return 0, err
		}

		if len(jobs) != 0 {
			job := jobs[0]
			if jobCurrent(&job, command, timeField, timezone) {
				return job.ID, nil
			}
			if command != "" && (job.Command != command) {
				update.Command = &command
			}
			return job.ID, updateJob(tx, job.ID, update)
		}

		// No job with this crabid yet: adopt a matching anonymous
		// job rather than splitting its history.
		jobs = jobs[:0]
		err = getJobs(tx, JobFilter{
			Host: host, User: user, Command: command,
			WithoutCrabID: true, IncludeDeleted: true,
		}, &jobs)
		if err != nil {
			return 0, err
		}

		if len(jobs) != 0 {
			update.CrabID = &crabid
			return jobs[0].ID, updateJob(tx, jobs[0].ID, update)
		}

		return insertJob(tx, host, user, &crabid, update.Time, update.Timezone, command)
	}

	var jobs []Job
	err := getJobs(tx, JobFilter{
		Host: host, User: user, Command: command, IncludeDeleted: true,
	}, &jobs)
	if err != nil {
		return 0, err
	}

	if len(jobs) != 0 {
		job := jobs[0]
		if jobCurrent(&job, "", timeField, timezone) {
			return job.ID, nil
		}
		return job.ID, updateJob(tx, job.ID, update)
	}

	return insertJob(tx, host, user, nil, update.Time, update.Timezone, command)
}

// jobCurrent reports whether a stored job already reflects the given
// declaration, so CheckJob can avoid a pointless write.  Empty caller
// fields are treated as unspecified and always match.
func jobCurrent(job *Job, command, timeField, timezone string) bool {
	if job.Deleted != nil {
		return false
	}
	if command != "" && job.Command != command {
		return false
	}
	if timeField != "" && (job.Time == nil || *job.Time != timeField) {
		return false
	}
	if timezone != "" && (job.Timezone == nil || *job.Timezone != timezone) {
		return false
	}
	return true
}

// SaveCrontab stores the raw crontab text for a host and user, parses
// it, reconciles every schedule line into the job table and marks
// deleted any job of theirs which no longer appears.  The returned
// warnings describe lines that were skipped or jobs declared twice.
func (s *Store) SaveCrontab(host, user string, lines []string, defaultTimezone string) ([]string, error) {
	entries, warnings := crontab.Parse(lines, defaultTimezone)

	err := s.withLock("save crontab", func(tx *gorm.DB) error {
		if err := writeRawCrontab(tx, host, user, lines); err != nil {
			return err
		}

		seen := map[int64]bool{}
		for _, e := range entries {
			id, err := checkJob(tx, host, user, e.CrabID, e.Command, e.Time, e.Timezone)
			if err != nil {
				return err
			}
			if seen[id] {
				warnings = append(warnings,
					fmt.Sprintf("Indistinguishable duplicated job: %s", e.Rule))
				continue
			}
			seen[id] = true
		}

		var jobs []Job
		if err := getJobs(tx, JobFilter{Host: host, User: user}, &jobs); err != nil {
			return err
		}
		for _, job := range jobs {
			if !seen[job.ID] {
				if err := deleteJob(tx, job.ID); err != nil {
					return err
				}
			}
		}
		return nil
	})
	return warnings, err
}

// GetCrontab renders a crontab for a host and user from the job table.
// Jobs whose schedule was never reported come out with a placeholder
// comment instead of a cron expression.
func (s *Store) GetCrontab(host, user string) ([]string, error) {
	var jobs []Job
	err := s.withLock("get crontab", func(tx *gorm.DB) error {
		return getJobs(tx, JobFilter{Host: host, User: user}, &jobs)
	})
	if err != nil {
		return nil, err
	}

	entries := make([]crontab.Entry, 0, len(jobs))
	for _, job := range jobs {
		e := crontab.Entry{Command: job.Command}
		if job.CrabID != nil {
			e.CrabID = *job.CrabID
		}
		if job.Time != nil {
			e.Time = *job.Time
		}
		if job.Timezone != nil {
			e.Timezone = *job.Timezone
		}
		entries = append(entries, e)
	}

	return crontab.Write(entries), nil
}

// WriteRawCrontab stores the verbatim crontab text for a host and user.
func (s *Store) WriteRawCrontab(host, user string, lines []string) error {
	return s.withLock("write raw crontab", func(tx *gorm.DB) error {
		return writeRawCrontab(tx, host, user, lines)
	})
}

func writeRawCrontab(tx *gorm.DB, host, user string, lines []string) error {
	text := strings.Join(lines, "\n")

	var raw RawCrontab
	err := tx.Where("host = ? AND "+quoteIdent(tx, "user")+" = ?", host, user).First(&raw).Error
	if err == gorm.ErrRecordNotFound {
		return tx.Create(&RawCrontab{Host: host, User: user, Crontab: text}).Error
	}
	if err != nil {
		return err
	}
	return tx.Model(&RawCrontab{}).Where("id = ?", raw.ID).
		Update("crontab", text).Error
}

// GetRawCrontab fetches the stored crontab text, or nil when none has
// been saved for this host and user.
func (s *Store) GetRawCrontab(host, user string) ([]string, error) {
	var raw RawCrontab
	err := s.db.Where("host = ? AND "+quoteIdent(s.db, "user")+" = ?", host, user).First(&raw).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get raw crontab", err)
	}
	return strings.Split(raw.Crontab, "\n"), nil
}
