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
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/crabsoc/crabd/internal/metrics"
	"github.com/crabsoc/crabd/internal/monitor"
	"github.com/crabsoc/crabd/internal/store"
)

// Handlers contains all API handlers
type Handlers struct {
	store     *store.Store
	monitor   *monitor.Monitor
	services  map[string]func() bool
	startTime time.Time
}

// NewHandlers creates a new Handlers instance
func NewHandlers(st *store.Store, mon *monitor.Monitor, services map[string]func() bool, startTime time.Time) *Handlers {
	return &Handlers{
		store:     st,
		monitor:   mon,
		services:  services,
		startTime: startTime,
	}
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// decodeJSON reads a request body; a malformed body is the client's
// fault and reports as 400.
func decodeJSON(w http.ResponseWriter, r *http.Request, into any) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "malformed JSON body: "+err.Error())
		return false
	}
	return true
}

// GetHealth handles GET /healthz
func (h *Handlers) GetHealth(w http.ResponseWriter, r *http.Request) {
	storageStatus := "connected"
	if err := h.store.Health(); err != nil {
		storageStatus = "error: " + err.Error()
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Storage: storageStatus,
		Uptime:  time.Since(h.startTime).Round(time.Second).String(),
	})
}

// PutStart handles PUT /api/0/start/{host}/{user}[/{crabid}]
func (h *Handlers) PutStart(w http.ResponseWriter, r *http.Request) {
	host := chi.URLParam(r, "host")
	user := chi.URLParam(r, "user")
	crabid := chi.URLParam(r, "crabid")

	var req StartRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	inhibit, err := h.store.LogStart(host, user, crabid, req.Command)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	metrics.ReportsReceived.WithLabelValues("start").Inc()

	writeJSON(w, http.StatusOK, StartResponse{Inhibit: inhibit})
}

// PutFinish handles PUT /api/0/finish/{host}/{user}[/{crabid}]
func (h *Handlers) PutFinish(w http.ResponseWriter, r *http.Request) {
	host := chi.URLParam(r, "host")
	user := chi.URLParam(r, "user")
	crabid := chi.URLParam(r, "crabid")

	var req FinishRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Status == nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "missing status")
		return
	}
	st, ok := clientStatus(*req.Status)
	if !ok {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST",
			"invalid status code: "+strconv.Itoa(*req.Status))
		return
	}

	err := h.store.LogFinish(host, user, crabid, req.Command, st, req.Stdout, req.Stderr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	metrics.ReportsReceived.WithLabelValues("finish").Inc()

	writeJSON(w, http.StatusOK, struct{}{})
}

// PutCrontab handles PUT /api/0/crontab/{host}/{user}
func (h *Handlers) PutCrontab(w http.ResponseWriter, r *http.Request) {
	host := chi.URLParam(r, "host")
	user := chi.URLParam(r, "user")

	var req CrontabPutRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Crontab == nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "missing crontab")
		return
	}

	warnings, err := h.store.SaveCrontab(host, user, req.Crontab, req.Timezone)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, CrontabPutResponse{Warning: warnings})
}

// GetCrontab handles GET /api/0/crontab/{host}/{user}.  By default
// the crontab is regenerated from the job table; ?raw=true returns
// the text the client last submitted.
func (h *Handlers) GetCrontab(w http.ResponseWriter, r *http.Request) {
	host := chi.URLParam(r, "host")
	user := chi.URLParam(r, "user")

	var (
		lines []string
		err   error
	)
	if r.URL.Query().Get("raw") == "true" {
		lines, err = h.store.GetRawCrontab(host, user)
	} else {
		lines, err = h.store.GetCrontab(host, user)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, CrontabGetResponse{Crontab: lines})
}

// ListJobs handles GET /api/0/jobs
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	filter := store.JobFilter{
		Host: r.URL.Query().Get("host"),
		User: r.URL.Query().Get("user"),
	}

	jobs, err := h.store.GetJobs(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}

	items := make([]JobResponse, 0, len(jobs))
	for i := range jobs {
		items = append(items, jobResponse(&jobs[i]))
	}
	writeJSON(w, http.StatusOK, JobListResponse{Items: items})
}

// GetJobInfo handles GET /api/0/jobinfo/{id}
func (h *Handlers) GetJobInfo(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	job, err := h.store.GetJobInfo(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no such job")
		return
	}

	writeJSON(w, http.StatusOK, jobResponse(job))
}

// GetJobEvents handles GET /api/0/jobevents/{id}
func (h *Handlers) GetJobEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	events, err := h.store.GetJobEvents(id, store.EventFilter{
		Limit: queryInt(r, "limit", 100),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}

	items := make([]EventResponse, 0, len(events))
	for _, ev := range events {
		items = append(items, eventResponse(ev))
	}
	writeJSON(w, http.StatusOK, EventListResponse{Items: items})
}

// GetJobFinishes handles GET /api/0/jobfinishes/{id}
func (h *Handlers) GetJobFinishes(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	finishes, err := h.store.GetJobFinishes(id, store.FinishFilter{
		Limit:                 queryInt(r, "limit", 100),
		FinishID:              int64(queryInt(r, "finishid", 0)),
		IncludeAlreadyRunning: r.URL.Query().Get("includealreadyrunning") == "true",
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}

	items := make([]FinishResponse, 0, len(finishes))
	for _, finish := range finishes {
		items = append(items, FinishResponse{
			FinishID: finish.ID,
			Datetime: finish.Datetime,
			Command:  finish.Command,
			Status:   int(finish.Status),
		})
	}
	writeJSON(w, http.StatusOK, FinishListResponse{Items: items})
}

// GetFailEvents handles GET /api/0/failevents
func (h *Handlers) GetFailEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.store.GetFailEvents(queryInt(r, "limit", 40))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}

	items := make([]FailEventResponse, 0, len(events))
	for _, ev := range events {
		items = append(items, FailEventResponse{
			JobID:    ev.JobID,
			Status:   int(ev.Status),
			Datetime: ev.Datetime,
			Host:     ev.Host,
			User:     ev.User,
			CrabID:   ev.CrabID,
			Command:  ev.Command,
			FinishID: ev.FinishID,
		})
	}
	writeJSON(w, http.StatusOK, FailEventListResponse{Items: items})
}

// GetJobOutput handles GET /api/0/joboutput/{finishid}/{host}/{user}/{id}[/{crabid}]
func (h *Handlers) GetJobOutput(w http.ResponseWriter, r *http.Request) {
	finishID, ok := pathID(w, r, "finishid")
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	host := chi.URLParam(r, "host")
	user := chi.URLParam(r, "user")
	crabid := chi.URLParam(r, "crabid")

	stdout, stderr, found, err := h.store.GetJobOutput(finishID, host, user, id, crabid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no output stored for this finish")
		return
	}

	writeJSON(w, http.StatusOK, OutputResponse{Stdout: stdout, Stderr: stderr})
}

// GetJobStatus handles GET /api/0/jobstatus, the dashboard long-poll.
// The caller passes the cursors from its previous response and blocks
// until something newer exists or the timeout passes.
func (h *Handlers) GetJobStatus(w http.ResponseWriter, r *http.Request) {
	startID := int64(queryInt(r, "startid", 0))
	alarmID := int64(queryInt(r, "alarmid", 0))
	finishID := int64(queryInt(r, "finishid", 0))
	timeout := time.Duration(queryInt(r, "timeout", 60)) * time.Second

	snap := h.monitor.WaitForEventSince(r.Context(), startID, alarmID, finishID, timeout)

	services := make(map[string]bool, len(h.services))
	for name, alive := range h.services {
		services[name] = alive()
	}

	writeJSON(w, http.StatusOK, JobStatusResponse{
		Snapshot: snap,
		Services: services,
	})
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid "+name)
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
