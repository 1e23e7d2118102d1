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

// Package store is the durable repository of jobs, events, job
// configuration, notification targets and crontab snapshots.  All
// mutations are serialized through a process-wide lock plus a database
// transaction, so the embedded engines stay consistent across the
// monitor, notifier, cleaner and HTTP handler goroutines.
package store

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite" // Pure Go SQLite driver (no CGO required)
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// StoreError wraps an underlying database failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return "store: " + e.Op + ": " + e.Err.Error() }

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// quoteIdent renders an identifier for the active dialect.  Every
// hand-written condition or query that names the user column must go
// through this: USER is reserved in postgres and an unquoted reference
// resolves to the session user instead of the column.
func quoteIdent(db *gorm.DB, name string) string {
	var b strings.Builder
	db.Dialector.QuoteTo(&b, name)
	return b.String()
}

// Store is the GORM-backed storage layer.
type Store struct {
	db      *gorm.DB
	dialect string

	// mu serializes every transaction scope.  It is process-wide
	// rather than per-connection: the embedded engines do not give
	// cross-statement consistency without it.  Nested acquisition
	// from within a scope deadlocks and is therefore disallowed.
	mu sync.Mutex

	output OutputStore
}

// ConnectionPoolConfig holds connection pool settings.
type ConnectionPoolConfig struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// New creates a store for the given dialect and DSN.
func New(dialect string, dsn string) (*Store, error) {
	return NewWithPool(dialect, dsn, ConnectionPoolConfig{})
}

// NewWithPool creates a store with connection pool settings.
func NewWithPool(dialect string, dsn string, pool ConnectionPoolConfig) (*Store, error) {
	var dialector gorm.Dialector
	switch dialect {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect != "sqlite" && (pool.MaxIdleConns > 0 || pool.MaxOpenConns > 0 || pool.ConnMaxLifetime > 0 || pool.ConnMaxIdleTime > 0) {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql.DB for pool config: %w", err)
		}

		if pool.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
		}
		if pool.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
		}
		if pool.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
		}
		if pool.ConnMaxIdleTime > 0 {
			sqlDB.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
		}
	}

	return &Store{db: db, dialect: dialect, output: &dbOutputStore{}}, nil
}

// SetOutputStore replaces the default in-database output store.
func (s *Store) SetOutputStore(o OutputStore) {
	s.output = o
}

// Init creates the schema via auto-migration.
func (s *Store) Init() error {
	return s.db.AutoMigrate(
		&Job{}, &JobStart{}, &JobFinish{}, &JobAlarm{},
		&JobOutput{}, &JobConfig{}, &JobNotify{}, &RawCrontab{},
	)
}

// Close closes the store and releases resources.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health checks if the store is healthy.
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// withLock runs fn inside the store's critical section: the lock is
// held for the duration and the transaction commits on a nil return,
// rolls back on error or panic.
func (s *Store) withLock(op string, fn func(tx *gorm.DB) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return storeErr(op, s.db.Transaction(fn))
}

// now returns the wall clock in UTC; all stored datetimes are UTC.
func now() time.Time {
	return time.Now().UTC()
}

// JobFilter selects jobs in GetJobs.  Empty string fields are not
// applied; WithoutCrabID matches only rows whose crabid is null and is
// mutually exclusive with CrabID.
type JobFilter struct {
	Host           string
	User           string
	CrabID         string
	Command        string
	IncludeDeleted bool
	WithoutCrabID  bool
}

// GetJobs fetches jobs matching the filter, ordered by host, user,
// crabid and installation time.
func (s *Store) GetJobs(f JobFilter) ([]Job, error) {
	var jobs []Job
	err := s.withLock("get jobs", func(tx *gorm.DB) error {
		return getJobs(tx, f, &jobs)
	})
	return jobs, err
}

func getJobs(tx *gorm.DB, f JobFilter, jobs *[]Job) error {
	q := tx.Model(&Job{})

	if !f.IncludeDeleted {
		q = q.Where("deleted IS NULL")
	}
	if f.Host != "" {
		q = q.Where("host = ?", f.Host)
	}
	if f.User != "" {
		q = q.Where(quoteIdent(tx, "user")+" = ?", f.User)
	}
	if f.CrabID != "" {
		q = q.Where("crabid = ?", f.CrabID)
	}
	if f.Command != "" {
		q = q.Where("command = ?", f.Command)
	}
	if f.WithoutCrabID {
		q = q.Where("crabid IS NULL")
	}

	return q.Order("host ASC, " + quoteIdent(tx, "user") + " ASC, crabid ASC, installed ASC").
		Find(jobs).Error
}

// GetJobInfo fetches a single job by id, or nil if it does not exist.
func (s *Store) GetJobInfo(id int64) (*Job, error) {
	var job Job
	err := s.db.Where("id = ?", id).First(&job).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get job info", err)
	}
	return &job, nil
}

// DeleteJob marks a job deleted.  Idempotent.
func (s *Store) DeleteJob(id int64) error {
	return s.withLock("delete job", func(tx *gorm.DB) error {
		return deleteJob(tx, id)
	})
}

func deleteJob(tx *gorm.DB, id int64) error {
	return tx.Model(&Job{}).Where("id = ?", id).
		Update("deleted", now()).Error
}

// JobUpdate carries the fields of UpdateJob; nil fields are left
// untouched.
type JobUpdate struct {
	CrabID   *string
	Command  *string
	Time     *string
	Timezone *string
}

// UpdateJob sets the provided fields, clears the deleted mark and
// bumps the installation time.
func (s *Store) UpdateJob(id int64, u JobUpdate) error {
	return s.withLock("update job", func(tx *gorm.DB) error {
		return updateJob(tx, id, u)
	})
}

func updateJob(tx *gorm.DB, id int64, u JobUpdate) error {
	fields := map[string]any{
		"installed": now(),
		"deleted":   nil,
	}
	if u.CrabID != nil {
		fields["crabid"] = *u.CrabID
	}
	if u.Command != nil {
		fields["command"] = *u.Command
	}
	if u.Time != nil {
		fields["time"] = *u.Time
	}
	if u.Timezone != nil {
		fields["timezone"] = *u.Timezone
	}

	return tx.Model(&Job{}).Where("id = ?", id).Updates(fields).Error
}

func insertJob(tx *gorm.DB, host, user string, crabid *string, timeField, timezone *string, command string) (int64, error) {
	job := Job{
		Host:      host,
		User:      user,
		CrabID:    crabid,
		Command:   command,
		Time:      timeField,
		Timezone:  timezone,
		Installed: now(),
	}
	if err := tx.Create(&job).Error; err != nil {
		return 0, err
	}
	return job.ID, nil
}

// GetJobConfig fetches the configuration for a job, or nil when the
// job has none.
func (s *Store) GetJobConfig(id int64) (*JobConfig, error) {
	var cfg JobConfig
	err := s.db.Where("jobid = ?", id).First(&cfg).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get job config", err)
	}
	return &cfg, nil
}

func getJobConfig(tx *gorm.DB, id int64) (*JobConfig, error) {
	var cfg JobConfig
	err := tx.Where("jobid = ?", id).First(&cfg).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WriteJobConfig inserts or updates the configuration for a job and
// returns the configuration id.
func (s *Store) WriteJobConfig(id int64, cfg JobConfig) (int64, error) {
	var configID int64
	err := s.withLock("write job config", func(tx *gorm.DB) error {
		existing, err := getJobConfig(tx, id)
		if err != nil {
			return err
		}

		cfg.JobID = id
		if existing == nil {
			if err := tx.Create(&cfg).Error; err != nil {
				return err
			}
			configID = cfg.ID
			return nil
		}

		cfg.ID = existing.ID
		configID = existing.ID
		return tx.Model(&JobConfig{}).Where("id = ?", existing.ID).
			Updates(map[string]any{
				"graceperiod":     cfg.GracePeriod,
				"timeout":         cfg.Timeout,
				"success_pattern": cfg.SuccessPattern,
				"warning_pattern": cfg.WarningPattern,
				"fail_pattern":    cfg.FailPattern,
				"note":            cfg.Note,
				"inhibit":         cfg.Inhibit,
			}).Error
	})
	return configID, err
}

// DisableInhibit clears the inhibit flag for a job without touching
// the rest of its configuration.
func (s *Store) DisableInhibit(id int64) error {
	return s.withLock("disable inhibit", func(tx *gorm.DB) error {
		return tx.Model(&JobConfig{}).Where("jobid = ?", id).
			Update("inhibit", false).Error
	})
}

// GetOrphanConfigs lists configurations whose jobs have been deleted.
func (s *Store) GetOrphanConfigs() ([]OrphanConfig, error) {
	var orphans []OrphanConfig
	err := s.withLock("get orphan configs", func(tx *gorm.DB) error {
		user := quoteIdent(tx, "user")
		return tx.Raw(fmt.Sprintf(
			`SELECT jobconfig.id AS configid, job.id AS jobid,
				host, %s, job.crabid AS crabid, command
			FROM jobconfig JOIN job ON jobconfig.jobid = job.id
			WHERE job.deleted IS NOT NULL
			ORDER BY host ASC, %s ASC, job.crabid ASC, job.installed ASC`,
			user, user),
		).Scan(&orphans).Error
	})
	return orphans, err
}

// RelinkJobConfig points an orphaned configuration at a new job.
func (s *Store) RelinkJobConfig(configID, jobID int64) error {
	return s.withLock("relink job config", func(tx *gorm.DB) error {
		return tx.Model(&JobConfig{}).Where("id = ?", configID).
			Update("jobid", jobID).Error
	})
}
