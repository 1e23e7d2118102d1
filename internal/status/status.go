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

// Package status defines the job status codes shared between the wire
// protocol, the store and the monitor.  Non-negative codes are reported
// by clients; negative codes are alarms raised by the monitor.
package status

// Status is a job status code.
type Status int

const (
	Success        Status = 0
	Fail           Status = 1
	Unknown        Status = 2
	CouldNotStart  Status = 3
	Warning        Status = 4
	AlreadyRunning Status = 5
	Inhibited      Status = 6

	Late    Status = -1
	Missed  Status = -2
	Timeout Status = -3
	Cleared Status = -4
)

// ClientValues is the set of status codes a client may report on finish.
var ClientValues = map[Status]bool{
	Success:        true,
	Fail:           true,
	Unknown:        true,
	CouldNotStart:  true,
	Warning:        true,
	AlreadyRunning: true,
}

// IsValidClient reports whether a client is allowed to send this code.
func IsValidClient(s Status) bool {
	return ClientValues[s]
}

// IsOK reports whether the status indicates the job is fine.
func (s Status) IsOK() bool {
	switch s {
	case Success, Late, Cleared, AlreadyRunning, Inhibited:
		return true
	}
	return false
}

// IsWarning reports whether the status is a warning rather than an error.
func (s Status) IsWarning() bool {
	switch s {
	case Unknown, Missed, Warning:
		return true
	}
	return false
}

// IsError reports whether the status indicates failure.  Anything which
// is neither OK nor a warning is treated as an error, so codes this
// package does not know about fail safe.
func (s Status) IsError() bool {
	return !s.IsOK() && !s.IsWarning()
}

// IsTrivial reports whether the status carries so little information
// that it should not displace an existing one.  LATE alarms are also
// kept out of the job history for this reason.
func (s Status) IsTrivial() bool {
	return s == Late
}

func (s Status) String() string {
	switch s {
	case Success:
		return "Succeeded"
	case Fail:
		return "Failed"
	case Unknown:
		return "Status unknown"
	case CouldNotStart:
		return "Could not start"
	case Warning:
		return "Warning"
	case AlreadyRunning:
		return "Already running"
	case Inhibited:
		return "Inhibited"
	case Late:
		return "Late"
	case Missed:
		return "Missed"
	case Timeout:
		return "Timed out"
	case Cleared:
		return "Cleared"
	}
	return "Unknown status"
}
