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

package clean

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crabsoc/crabd/internal/status"
	"github.com/crabsoc/crabd/internal/store"
)

func TestCleanerDeletesOnSchedule(t *testing.T) {
	st, err := store.New("sqlite", "file:cleantest?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, st.Init())
	defer st.Close()

	id, err := st.CheckJob("host1", "alice", "backup", "cmd", "", "")
	require.NoError(t, err)
	require.NoError(t, st.LogFinish("host1", "alice", "backup", "cmd",
		status.Success, "", ""))

	c, err := New(st, "0 4 * * *", "UTC", 30)
	require.NoError(t, err)

	// The schedule does not match: nothing is deleted.
	c.tick(time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC))
	events, err := st.GetJobEvents(id, store.EventFilter{})
	require.NoError(t, err)
	assert.Len(t, events, 1)

	// A matching minute far in the future sweeps everything out.
	c.tick(time.Date(2030, 8, 1, 4, 0, 0, 0, time.UTC))
	events, err = st.GetJobEvents(id, store.EventFilter{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestCleanerRejectsBadSchedule(t *testing.T) {
	st, err := store.New("sqlite", "file:cleantest2?mode=memory&cache=shared")
	require.NoError(t, err)
	defer st.Close()

	_, err = New(st, "not a schedule", "UTC", 30)
	assert.Error(t, err)
}
