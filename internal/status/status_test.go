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

package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassesPartitionEveryStatus(t *testing.T) {
	all := []Status{
		Success, Fail, Unknown, CouldNotStart, Warning,
		AlreadyRunning, Inhibited, Late, Missed, Timeout, Cleared,
	}

	for _, st := range all {
		classes := 0
		if st.IsOK() {
			classes++
		}
		if st.IsWarning() {
			classes++
		}
		if st.IsError() {
			classes++
		}
		assert.Equal(t, 1, classes, "status %v must be in exactly one class", st)
	}
}

func TestClassMembers(t *testing.T) {
	assert.True(t, Success.IsOK())
	assert.True(t, Late.IsOK())
	assert.True(t, Cleared.IsOK())
	assert.True(t, AlreadyRunning.IsOK())
	assert.True(t, Inhibited.IsOK())

	assert.True(t, Unknown.IsWarning())
	assert.True(t, Missed.IsWarning())
	assert.True(t, Warning.IsWarning())

	assert.True(t, Fail.IsError())
	assert.True(t, CouldNotStart.IsError())
	assert.True(t, Timeout.IsError())
}

func TestUnrecognisedCodesAreErrors(t *testing.T) {
	// Fail-safe: anything not known to be fine is treated as broken.
	assert.True(t, Status(42).IsError())
	assert.True(t, Status(-9).IsError())
}

func TestIsValidClient(t *testing.T) {
	for _, st := range []Status{Success, Fail, Unknown, CouldNotStart, Warning, AlreadyRunning} {
		assert.True(t, IsValidClient(st), "%v is client-sendable", st)
	}
	for _, st := range []Status{Late, Missed, Timeout, Cleared, Inhibited, Status(42)} {
		assert.False(t, IsValidClient(st), "%v is not client-sendable", st)
	}
}

func TestOnlyLateIsTrivial(t *testing.T) {
	assert.True(t, Late.IsTrivial())
	for _, st := range []Status{Success, Fail, Missed, Timeout, Cleared} {
		assert.False(t, st.IsTrivial())
	}
}

func TestString(t *testing.T) {
	assert.Equal(t, "Succeeded", Success.String())
	assert.Equal(t, "Timed out", Timeout.String())
	assert.NotEmpty(t, Status(42).String())
}
