package store

import (
	"time"

	"github.com/crabsoc/crabd/internal/status"
)

// Job is the canonical identity of a scheduled command (GORM model).
// Jobs are never physically removed by crontab edits, only marked
// deleted, so that a job which reappears keeps its history.
type Job struct {
	ID        int64      `gorm:"primaryKey;autoIncrement"`
	Host      string     `gorm:"column:host;size:255;not null;index:idx_job_host_user,priority:1"`
	User      string     `gorm:"column:user;size:255;not null;index:idx_job_host_user,priority:2"`
	CrabID    *string    `gorm:"column:crabid;size:255"`
	Command   string     `gorm:"column:command;type:text;not null"`
	Time      *string    `gorm:"column:time;size:255"`
	Timezone  *string    `gorm:"column:timezone;size:64"`
	Installed time.Time  `gorm:"column:installed;not null"`
	Deleted   *time.Time `gorm:"column:deleted"`
}

func (*Job) TableName() string { return "job" }

// JobStart records a client start report (append only).
type JobStart struct {
	ID       int64     `gorm:"primaryKey;autoIncrement"`
	JobID    int64     `gorm:"column:jobid;not null;index"`
	Datetime time.Time `gorm:"column:datetime;not null;index"`
	Command  string    `gorm:"column:command;type:text"`
}

func (*JobStart) TableName() string { return "jobstart" }

// JobFinish records a client finish report (append only).
type JobFinish struct {
	ID       int64         `gorm:"primaryKey;autoIncrement"`
	JobID    int64         `gorm:"column:jobid;not null;index"`
	Datetime time.Time     `gorm:"column:datetime;not null;index"`
	Command  string        `gorm:"column:command;type:text"`
	Status   status.Status `gorm:"column:status;not null"`
}

func (*JobFinish) TableName() string { return "jobfinish" }

// JobAlarm records a monitor-generated alarm (append only).
type JobAlarm struct {
	ID       int64         `gorm:"primaryKey;autoIncrement"`
	JobID    int64         `gorm:"column:jobid;not null;index"`
	Datetime time.Time     `gorm:"column:datetime;not null;index"`
	Status   status.Status `gorm:"column:status;not null"`
}

func (*JobAlarm) TableName() string { return "jobalarm" }

// JobOutput holds captured output for a finish event when the database
// is used as the output store.
type JobOutput struct {
	FinishID int64  `gorm:"column:finishid;primaryKey"`
	Stdout   string `gorm:"column:stdout;type:text"`
	Stderr   string `gorm:"column:stderr;type:text"`
}

func (*JobOutput) TableName() string { return "joboutput" }

// JobConfig is optional per-job tuning.  A config may outlive its job
// and be re-linked to a new one.
type JobConfig struct {
	ID             int64   `gorm:"primaryKey;autoIncrement"`
	JobID          int64   `gorm:"column:jobid;not null;uniqueIndex"`
	GracePeriod    *int    `gorm:"column:graceperiod"`
	Timeout        *int    `gorm:"column:timeout"`
	SuccessPattern *string `gorm:"column:success_pattern;size:255"`
	WarningPattern *string `gorm:"column:warning_pattern;size:255"`
	FailPattern    *string `gorm:"column:fail_pattern;size:255"`
	Note           *string `gorm:"column:note;type:text"`
	Inhibit        bool    `gorm:"column:inhibit;default:false"`
}

func (*JobConfig) TableName() string { return "jobconfig" }

// JobNotify is a notification target: either linked to a JobConfig
// (ConfigID set, Host and User null) or match-based, with null Host or
// User acting as a wildcard.
type JobNotify struct {
	ID            int64   `gorm:"primaryKey;autoIncrement"`
	ConfigID      *int64  `gorm:"column:configid;index"`
	Host          *string `gorm:"column:host;size:255"`
	User          *string `gorm:"column:user;size:255"`
	Method        string  `gorm:"column:method;size:32;not null"`
	Address       string  `gorm:"column:address;size:255;not null"`
	Time          *string `gorm:"column:time;size:255"`
	Timezone      *string `gorm:"column:timezone;size:64"`
	SkipOK        bool    `gorm:"column:skip_ok;default:false"`
	SkipWarning   bool    `gorm:"column:skip_warning;default:false"`
	SkipError     bool    `gorm:"column:skip_error;default:false"`
	IncludeOutput bool    `gorm:"column:include_output;default:false"`
}

func (*JobNotify) TableName() string { return "jobnotify" }

// RawCrontab keeps the crontab text last submitted for a host and user.
type RawCrontab struct {
	ID      int64  `gorm:"primaryKey;autoIncrement"`
	Host    string `gorm:"column:host;size:255;not null;uniqueIndex:idx_rawcrontab_host_user,priority:1"`
	User    string `gorm:"column:user;size:255;not null;uniqueIndex:idx_rawcrontab_host_user,priority:2"`
	Crontab string `gorm:"column:crontab;type:text"`
}

func (*RawCrontab) TableName() string { return "rawcrontab" }

// EventKind tags the rows of the three event tables in combined
// queries.  The numeric values give the start < alarm < finish
// secondary ordering used at equal datetimes.
type EventKind int

const (
	EventStart  EventKind = 1
	EventAlarm  EventKind = 2
	EventFinish EventKind = 3
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventAlarm:
		return "alarm"
	case EventFinish:
		return "finish"
	}
	return "unknown"
}

// Event is one row of a combined event query.  Status is nil for start
// events, which carry no status of their own.
type Event struct {
	JobID    int64          `gorm:"column:jobid"`
	EventID  int64          `gorm:"column:eventid"`
	Kind     EventKind      `gorm:"column:kind"`
	Datetime time.Time      `gorm:"column:datetime"`
	Command  string         `gorm:"column:command"`
	Status   *status.Status `gorm:"column:status"`
}

// FailEvent is a failure row joined to its job, for the dashboard's
// recent-failures listing.
type FailEvent struct {
	JobID    int64         `gorm:"column:jobid"`
	Status   status.Status `gorm:"column:status"`
	Datetime time.Time     `gorm:"column:datetime"`
	Host     string        `gorm:"column:host"`
	User     string        `gorm:"column:user"`
	CrabID   *string       `gorm:"column:crabid"`
	Command  string        `gorm:"column:command"`
	FinishID *int64        `gorm:"column:finishid"`
}

// Notification is one row of the combined notification query: a
// notification target joined to a job it covers, with the effective
// timezone already resolved.
type Notification struct {
	NotifyID      int64   `gorm:"column:notifyid"`
	Method        string  `gorm:"column:method"`
	Address       string  `gorm:"column:address"`
	SkipOK        bool    `gorm:"column:skip_ok"`
	SkipWarning   bool    `gorm:"column:skip_warning"`
	SkipError     bool    `gorm:"column:skip_error"`
	IncludeOutput bool    `gorm:"column:include_output"`
	JobID         int64   `gorm:"column:jobid"`
	Time          *string `gorm:"column:time"`
	Timezone      *string `gorm:"column:timezone"`
}

// OrphanConfig is a job configuration whose job has been deleted.
type OrphanConfig struct {
	ConfigID int64   `gorm:"column:configid"`
	JobID    int64   `gorm:"column:jobid"`
	Host     string  `gorm:"column:host"`
	User     string  `gorm:"column:user"`
	CrabID   *string `gorm:"column:crabid"`
	Command  string  `gorm:"column:command"`
}
