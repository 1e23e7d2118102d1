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

	"gorm.io/gorm"
)

// GetNotifications fetches every notification target paired with each
// live job it covers.  Config-linked targets follow their config's
// job; match-based targets pair with every job matching their host and
// user, a null field acting as a wildcard.  The timezone column is the
// target's own, falling back to the job's.
func (s *Store) GetNotifications() ([]Notification, error) {
	query := fmt.Sprintf(`SELECT jobnotify.id AS notifyid, method, address,
			skip_ok, skip_warning, skip_error, include_output,
			job.id AS jobid, jobnotify.time AS time,
			COALESCE(jobnotify.timezone, job.timezone) AS timezone
		FROM jobnotify
		JOIN jobconfig ON jobnotify.configid = jobconfig.id
		JOIN job ON jobconfig.jobid = job.id
		WHERE job.deleted IS NULL
		UNION ALL
		SELECT jobnotify.id AS notifyid, method, address,
			skip_ok, skip_warning, skip_error, include_output,
			job.id AS jobid, jobnotify.time AS time,
			COALESCE(jobnotify.timezone, job.timezone) AS timezone
		FROM jobnotify
		JOIN job ON (%[1]s IS NULL OR job.host = jobnotify.host)
			AND (%[2]s IS NULL OR %[3]s = %[2]s)
		WHERE jobnotify.configid IS NULL AND job.deleted IS NULL
		ORDER BY notifyid ASC, jobid ASC`,
		quoteIdent(s.db, "jobnotify.host"),
		quoteIdent(s.db, "jobnotify.user"),
		quoteIdent(s.db, "job.user"))

	var notifications []Notification
	err := s.withLock("get notifications", func(tx *gorm.DB) error {
		return tx.Raw(query).Scan(&notifications).Error
	})
	return notifications, err
}

// GetJobNotifications fetches the targets linked to a job config.
func (s *Store) GetJobNotifications(configID int64) ([]JobNotify, error) {
	var targets []JobNotify
	err := s.db.Where("configid = ?", configID).
		Order("id ASC").Find(&targets).Error
	return targets, storeErr("get job notifications", err)
}

// GetMatchNotifications fetches match-based targets, optionally
// narrowed to a host and user.
func (s *Store) GetMatchNotifications(host, user string) ([]JobNotify, error) {
	q := s.db.Where("configid IS NULL")
	if host != "" {
		q = q.Where("host = ?", host)
	}
	if user != "" {
		q = q.Where(quoteIdent(s.db, "user")+" = ?", user)
	}

	var targets []JobNotify
	err := q.Order("id ASC").Find(&targets).Error
	return targets, storeErr("get match notifications", err)
}

// WriteNotification inserts or, when n.ID is set, updates a target and
// returns its id.
func (s *Store) WriteNotification(n JobNotify) (int64, error) {
	err := s.withLock("write notification", func(tx *gorm.DB) error {
		if n.ID == 0 {
			return tx.Create(&n).Error
		}
		return tx.Model(&JobNotify{}).Where("id = ?", n.ID).
			Updates(map[string]any{
				"configid":       n.ConfigID,
				"host":           n.Host,
				"user":           n.User,
				"method":         n.Method,
				"address":        n.Address,
				"time":           n.Time,
				"timezone":       n.Timezone,
				"skip_ok":        n.SkipOK,
				"skip_warning":   n.SkipWarning,
				"skip_error":     n.SkipError,
				"include_output": n.IncludeOutput,
			}).Error
	})
	return n.ID, err
}

// DeleteNotification removes a target.  Idempotent.
func (s *Store) DeleteNotification(id int64) error {
	return s.withLock("delete notification", func(tx *gorm.DB) error {
		return tx.Delete(&JobNotify{}, id).Error
	})
}
