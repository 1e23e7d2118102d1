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

package api

import (
	"time"

	"github.com/crabsoc/crabd/internal/monitor"
	"github.com/crabsoc/crabd/internal/status"
	"github.com/crabsoc/crabd/internal/store"
)

// ErrorResponse is the standard error envelope
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HealthResponse is the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
	Uptime  string `json:"uptime"`
}

// StartRequest is the body of a start report
type StartRequest struct {
	Command string `json:"command"`
}

// StartResponse tells the client whether the job is inhibited
type StartResponse struct {
	Inhibit bool `json:"inhibit"`
}

// FinishRequest is the body of a finish report
type FinishRequest struct {
	Command string  `json:"command"`
	Status  *int    `json:"status"`
	Stdout  string  `json:"stdout"`
	Stderr  string  `json:"stderr"`
}

// CrontabPutRequest is the body of a crontab submission
type CrontabPutRequest struct {
	Crontab  []string `json:"crontab"`
	Timezone string   `json:"timezone"`
}

// CrontabPutResponse carries the parse warnings back to the client
type CrontabPutResponse struct {
	Warning []string `json:"warning"`
}

// CrontabGetResponse carries crontab lines; Crontab is null when no
// crontab is known for the host and user
type CrontabGetResponse struct {
	Crontab []string `json:"crontab"`
}

// JobResponse is one job in listings and jobinfo
type JobResponse struct {
	ID        int64      `json:"id"`
	Host      string     `json:"host"`
	User      string     `json:"user"`
	CrabID    *string    `json:"crabid"`
	Command   string     `json:"command"`
	Time      *string    `json:"time"`
	Timezone  *string    `json:"timezone"`
	Installed time.Time  `json:"installed"`
	Deleted   *time.Time `json:"deleted,omitempty"`
}

// JobListResponse wraps a job listing
type JobListResponse struct {
	Items []JobResponse `json:"items"`
}

// EventResponse is one event in a job's event listing
type EventResponse struct {
	EventID  int64     `json:"eventid"`
	Type     string    `json:"type"`
	Datetime time.Time `json:"datetime"`
	Command  string    `json:"command,omitempty"`
	Status   *int      `json:"status"`
}

// EventListResponse wraps an event listing
type EventListResponse struct {
	Items []EventResponse `json:"items"`
}

// FinishResponse is one finish event
type FinishResponse struct {
	FinishID int64     `json:"finishid"`
	Datetime time.Time `json:"datetime"`
	Command  string    `json:"command"`
	Status   int       `json:"status"`
}

// FinishListResponse wraps a finish listing
type FinishListResponse struct {
	Items []FinishResponse `json:"items"`
}

// FailEventResponse is one row of the recent-failures listing
type FailEventResponse struct {
	JobID    int64     `json:"jobid"`
	Status   int       `json:"status"`
	Datetime time.Time `json:"datetime"`
	Host     string    `json:"host"`
	User     string    `json:"user"`
	CrabID   *string   `json:"crabid"`
	Command  string    `json:"command"`
	FinishID *int64    `json:"finishid"`
}

// FailEventListResponse wraps the recent-failures listing
type FailEventListResponse struct {
	Items []FailEventResponse `json:"items"`
}

// OutputResponse carries a finish event's captured output
type OutputResponse struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// JobStatusResponse is the long-poll response: the monitor snapshot
// plus per-service liveness
type JobStatusResponse struct {
	*monitor.Snapshot
	Services map[string]bool `json:"service"`
}

func jobResponse(job *store.Job) JobResponse {
	return JobResponse{
		ID:        job.ID,
		Host:      job.Host,
		User:      job.User,
		CrabID:    job.CrabID,
		Command:   job.Command,
		Time:      job.Time,
		Timezone:  job.Timezone,
		Installed: job.Installed,
		Deleted:   job.Deleted,
	}
}

func eventResponse(ev store.Event) EventResponse {
	var st *int
	if ev.Status != nil {
		v := int(*ev.Status)
		st = &v
	}
	return EventResponse{
		EventID:  ev.EventID,
		Type:     ev.Kind.String(),
		Datetime: ev.Datetime,
		Command:  ev.Command,
		Status:   st,
	}
}

// clientStatus validates a status code from a finish report: clients
// may only send the non-negative codes, negative ones belong to the
// monitor.
func clientStatus(code int) (status.Status, bool) {
	st := status.Status(code)
	if !status.IsValidClient(st) {
		return 0, false
	}
	return st, true
}
