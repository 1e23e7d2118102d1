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

package notify

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/crabsoc/crabd/internal/status"
	"github.com/crabsoc/crabd/internal/store"
)

func strPtr(s string) *string { return &s }

func due(address string, jobID int64, start, end time.Time, timeField string) firing {
	f := firing{
		n: store.Notification{
			Method:  "email",
			Address: address,
			JobID:   jobID,
		},
		window: Window{Start: start, End: end},
	}
	if timeField != "" {
		f.n.Time = strPtr(timeField)
	}
	return f
}

func TestGroupReportsMergesWindowsPerJob(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	reports := groupReports([]firing{
		due("ops@example.com", 1, base, base.Add(time.Hour), ""),
		due("ops@example.com", 1, base.Add(-time.Hour), base.Add(30*time.Minute), ""),
	})

	require.Len(t, reports, 1)
	require.Len(t, reports[0].recipients, 1)
	w := reports[0].jobs[1]
	assert.Equal(t, base.Add(-time.Hour), w.Start, "widest start wins")
	assert.Equal(t, base.Add(time.Hour), w.End, "widest end wins")
}

func TestGroupReportsCollapsesIdenticalJobSets(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	reports := groupReports([]firing{
		due("alice@example.com", 1, base, base.Add(time.Hour), ""),
		due("alice@example.com", 2, base, base.Add(time.Hour), ""),
		due("bob@example.com", 1, base, base.Add(time.Hour), ""),
		due("bob@example.com", 2, base, base.Add(time.Hour), ""),
	})

	require.Len(t, reports, 1, "identical job sets render a single report")
	require.Len(t, reports[0].recipients, 2)
	assert.Equal(t, "alice@example.com", reports[0].recipients[0].Address)
	assert.Equal(t, "bob@example.com", reports[0].recipients[1].Address)
	assert.Len(t, reports[0].jobs, 2)
}

func TestGroupReportsKeepsDistinctJobSetsApart(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	reports := groupReports([]firing{
		due("alice@example.com", 1, base, base.Add(time.Hour), ""),
		due("bob@example.com", 2, base, base.Add(time.Hour), ""),
	})

	require.Len(t, reports, 2)
}

func TestGroupReportsSeparatesSkipProfiles(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	quiet := due("ops@example.com", 1, base, base.Add(time.Hour), "")
	quiet.n.SkipOK = true
	noisy := due("ops@example.com", 1, base, base.Add(time.Hour), "")

	reports := groupReports([]firing{quiet, noisy})

	// Same address, different skip profile: two recipient groups,
	// but the identical job set still collapses to one report.
	require.Len(t, reports, 1)
	assert.Len(t, reports[0].recipients, 2)
}

var testDBSeq atomic.Int64

type NotifierSuite struct {
	suite.Suite
	store *store.Store
}

type fakeReporter struct {
	calls []map[int64]Window
}

func (f *fakeReporter) Report(ctx context.Context, recipients []Recipient, jobs map[int64]Window) error {
	f.calls = append(f.calls, jobs)
	return nil
}

func (s *NotifierSuite) SetupTest() {
	dsn := fmt.Sprintf("file:notifytest%d?mode=memory&cache=shared", testDBSeq.Add(1))
	st, err := store.New("sqlite", dsn)
	s.Require().NoError(err)
	s.Require().NoError(st.Init())
	s.store = st
}

func (s *NotifierSuite) TearDownTest() {
	s.Require().NoError(s.store.Close())
}

func TestNotifierSuite(t *testing.T) {
	suite.Run(t, new(NotifierSuite))
}

func (s *NotifierSuite) TestNotifyFiresDueTargets() {
	id, err := s.store.CheckJob("host1", "alice", "backup", "cmd", "", "")
	s.Require().NoError(err)
	configID, err := s.store.WriteJobConfig(id, store.JobConfig{})
	s.Require().NoError(err)

	// One target on its own hourly schedule, one on the daily default.
	_, err = s.store.WriteNotification(store.JobNotify{
		ConfigID: &configID, Method: "email", Address: "hourly@example.com",
		Time: strPtr("0 * * * *"),
	})
	s.Require().NoError(err)
	_, err = s.store.WriteNotification(store.JobNotify{
		ConfigID: &configID, Method: "email", Address: "daily@example.com",
	})
	s.Require().NoError(err)

	reporter := &fakeReporter{}
	n, err := New(s.store, reporter, "0 8 * * *", "UTC")
	s.Require().NoError(err)

	// On the hour but not the daily instant: only the hourly target.
	n.notify(context.Background(), time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	s.Require().Len(reporter.calls, 1)
	w := reporter.calls[0][id]
	s.Equal(time.Date(2026, 8, 1, 11, 0, 0, 0, time.UTC), w.Start)
	s.Equal(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC), w.End)

	// At the daily instant both fire, with different windows, so two
	// reports go out.
	n.notify(context.Background(), time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC))
	s.Len(reporter.calls, 3)
}

func (s *NotifierSuite) TestScheduleCacheInvalidation() {
	reporter := &fakeReporter{}
	n, err := New(s.store, reporter, "0 8 * * *", "UTC")
	s.Require().NoError(err)

	notification := store.Notification{NotifyID: 1, Time: strPtr("0 * * * *")}
	first := n.scheduleFor(notification)
	s.Require().NotNil(first)
	s.Same(first, n.scheduleFor(notification), "unchanged target reuses the cache")

	notification.Time = strPtr("30 * * * *")
	second := n.scheduleFor(notification)
	s.Require().NotNil(second)
	s.NotSame(first, second, "changed expression recompiles")
}

func (s *NotifierSuite) TestEmailReporterSkipsAndSends() {
	id, err := s.store.CheckJob("host1", "alice", "backup", "cmd", "", "")
	s.Require().NoError(err)
	s.Require().NoError(s.store.LogFinish("host1", "alice", "backup", "cmd",
		status.Fail, "disk full", ""))

	var sent [][]string
	r := NewEmailReporter(s.store, "localhost:25", "crabd@example.com", "Cron job report")
	r.send = func(addr, from string, to []string, msg []byte) error {
		sent = append(sent, to)
		s.Contains(string(msg), "backup")
		s.Contains(string(msg), status.Fail.String())
		return nil
	}

	window := Window{
		Start: time.Now().UTC().Add(-time.Hour),
		End:   time.Now().UTC().Add(time.Hour),
	}
	err = r.Report(context.Background(), []Recipient{
		{Method: "email", Address: "ops@example.com"},
		{Method: "email", Address: "quiet@example.com", SkipError: true},
		{Method: "pager", Address: "12345"},
	}, map[int64]Window{id: window})
	s.Require().NoError(err)

	s.Require().Len(sent, 1, "skip-error and non-email recipients get nothing")
	s.Equal([]string{"ops@example.com"}, sent[0])
}
