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
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/crabsoc/crabd/internal/monitor"
	"github.com/crabsoc/crabd/internal/status"
	"github.com/crabsoc/crabd/internal/store"
)

var testDBSeq atomic.Int64

type APISuite struct {
	suite.Suite
	store   *store.Store
	monitor *monitor.Monitor
	server  *httptest.Server
}

func (s *APISuite) SetupTest() {
	dsn := fmt.Sprintf("file:apitest%d?mode=memory&cache=shared", testDBSeq.Add(1))
	st, err := store.New("sqlite", dsn)
	s.Require().NoError(err)
	s.Require().NoError(st.Init())
	s.store = st
	s.monitor = monitor.New(st, time.Second)

	srv := NewServer(ServerOptions{
		Store:   st,
		Monitor: s.monitor,
		Services: map[string]func() bool{
			"monitor": s.monitor.Alive,
			"notify":  func() bool { return true },
		},
	})
	s.server = httptest.NewServer(srv.setupRoutes())
}

func (s *APISuite) TearDownTest() {
	s.server.Close()
	s.Require().NoError(s.store.Close())
}

func TestAPISuite(t *testing.T) {
	suite.Run(t, new(APISuite))
}

func (s *APISuite) do(method, path string, body any) *http.Response {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.server.URL+path, &buf)
	s.Require().NoError(err)
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	return resp
}

func (s *APISuite) decode(resp *http.Response, into any) {
	defer resp.Body.Close()
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(into))
}

func (s *APISuite) TestClientReportFlow() {
	// A client submits its crontab, then reports a run.
	resp := s.do(http.MethodPut, "/api/0/crontab/host1/alice", CrontabPutRequest{
		Crontab: []string{
			"CRON_TZ=Europe/London",
			"0 3 * * * CRABID=backup run backup",
		},
	})
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var putResp CrontabPutResponse
	s.decode(resp, &putResp)
	s.Empty(putResp.Warning)

	resp = s.do(http.MethodPut, "/api/0/start/host1/alice/backup",
		StartRequest{Command: "run backup"})
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var startResp StartResponse
	s.decode(resp, &startResp)
	s.False(startResp.Inhibit)

	st := int(status.Success)
	resp = s.do(http.MethodPut, "/api/0/finish/host1/alice/backup", FinishRequest{
		Command: "run backup",
		Status:  &st,
		Stdout:  "backup complete",
	})
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// The dashboard sees one job with one start and one finish.
	resp = s.do(http.MethodGet, "/api/0/jobs?host=host1", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var jobs JobListResponse
	s.decode(resp, &jobs)
	s.Require().Len(jobs.Items, 1)
	job := jobs.Items[0]
	s.Require().NotNil(job.CrabID)
	s.Equal("backup", *job.CrabID)

	resp = s.do(http.MethodGet, fmt.Sprintf("/api/0/jobevents/%d", job.ID), nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var events EventListResponse
	s.decode(resp, &events)
	s.Require().Len(events.Items, 2)
	s.Equal("finish", events.Items[0].Type)
	s.Equal("start", events.Items[1].Type)

	// The finish's output is retrievable.
	resp = s.do(http.MethodGet, fmt.Sprintf("/api/0/jobfinishes/%d", job.ID), nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var finishes FinishListResponse
	s.decode(resp, &finishes)
	s.Require().Len(finishes.Items, 1)

	resp = s.do(http.MethodGet, fmt.Sprintf(
		"/api/0/joboutput/%d/host1/alice/%d/backup",
		finishes.Items[0].FinishID, job.ID), nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var output OutputResponse
	s.decode(resp, &output)
	s.Equal("backup complete", output.Stdout)
}

func (s *APISuite) TestCrontabRoundTrip() {
	lines := []string{
		"CRON_TZ=Europe/London",
		"0 3 * * * CRABID=backup run backup",
	}
	resp := s.do(http.MethodPut, "/api/0/crontab/host1/alice",
		CrontabPutRequest{Crontab: lines})
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(http.MethodGet, "/api/0/crontab/host1/alice", nil)
	var generated CrontabGetResponse
	s.decode(resp, &generated)
	s.Equal(lines, generated.Crontab)

	resp = s.do(http.MethodGet, "/api/0/crontab/host1/alice?raw=true", nil)
	var raw CrontabGetResponse
	s.decode(resp, &raw)
	s.Equal(lines, raw.Crontab)

	// Unknown host: null crontab, not an error.
	resp = s.do(http.MethodGet, "/api/0/crontab/other/alice?raw=true", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var missing CrontabGetResponse
	s.decode(resp, &missing)
	s.Nil(missing.Crontab)
}

func (s *APISuite) TestMalformedJSONIsBadRequest() {
	req, err := http.NewRequest(http.MethodPut,
		s.server.URL+"/api/0/start/host1/alice",
		bytes.NewBufferString("{not json"))
	s.Require().NoError(err)
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *APISuite) TestFinishValidatesStatus() {
	// Negative codes are reserved for the monitor.
	st := int(status.Missed)
	resp := s.do(http.MethodPut, "/api/0/finish/host1/alice", FinishRequest{
		Command: "cmd", Status: &st,
	})
	defer resp.Body.Close()
	s.Equal(http.StatusBadRequest, resp.StatusCode)

	resp2 := s.do(http.MethodPut, "/api/0/finish/host1/alice", FinishRequest{
		Command: "cmd",
	})
	defer resp2.Body.Close()
	s.Equal(http.StatusBadRequest, resp2.StatusCode, "status is required")
}

func (s *APISuite) TestCrontabRequiresField() {
	resp := s.do(http.MethodPut, "/api/0/crontab/host1/alice", map[string]any{})
	defer resp.Body.Close()
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *APISuite) TestJobInfoNotFound() {
	resp := s.do(http.MethodGet, "/api/0/jobinfo/999", nil)
	defer resp.Body.Close()
	s.Equal(http.StatusNotFound, resp.StatusCode)

	resp2 := s.do(http.MethodGet, "/api/0/jobinfo/notanumber", nil)
	defer resp2.Body.Close()
	s.Equal(http.StatusBadRequest, resp2.StatusCode)
}

func (s *APISuite) TestJobStatusLongPoll() {
	// Cursors behind the monitor's return without blocking.
	resp := s.do(http.MethodGet, "/api/0/jobstatus?timeout=0&startid=-1", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var statusResp JobStatusResponse
	s.decode(resp, &statusResp)

	// Liveness reflects each worker's run loop, not a constant: the
	// monitor here was never started.
	s.Equal(map[string]bool{
		"monitor": false,
		"notify":  true,
	}, statusResp.Services)
}

func (s *APISuite) TestHealth() {
	resp := s.do(http.MethodGet, "/healthz", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var health HealthResponse
	s.decode(resp, &health)
	s.Equal("healthy", health.Status)
	s.Equal("connected", health.Storage)
}
