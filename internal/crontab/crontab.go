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

// Package crontab parses and generates crontab text.  It understands
// the CRAB-namespace variables which clients embed in their crontabs to
// name and annotate jobs, but leaves the commands themselves untouched.
package crontab

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Entry is a single parsed crontab schedule line.
type Entry struct {
	// CrabID is the stable job name, from a CRABID variable or a
	// CRABID= prefix on the command.  Empty when not given.
	CrabID string

	// Command is the command with CRAB variables and input stripped.
	Command string

	// Time is the five-field cron expression or @alias.
	Time string

	// Timezone is the CRON_TZ in effect for this line, if any.
	Timezone string

	// Input is the line-separated stdin introduced by unescaped
	// percent signs, preserved but not interpreted.
	Input string

	// Vars holds any other CRAB* variables in effect for this line.
	Vars map[string]string

	// Rule is the original crontab line.
	Rule string
}

const (
	// UnknownSchedule is emitted in place of a cron expression for
	// jobs whose schedule is not in the store.
	UnknownSchedule = "### CRAB: UNKNOWN SCHEDULE ###"

	// UnknownTimezone marks a transition to a job with no timezone.
	UnknownTimezone = "### CRAB: UNKNOWN TIMEZONE ###"
)

var (
	blankLine    = regexp.MustCompile(`^\s*$`)
	commentLine  = regexp.MustCompile(`^\s*#`)
	variableLine = regexp.MustCompile(`^\s*(\w+)\s*=\s*(.*)$`)
	cronRule     = regexp.MustCompile(`^\s*(@\w+|\S+\s+\S+\s+\S+\s+\S+\s+\S+)\s+(.*)$`)
	crabVar      = regexp.MustCompile(`^(CRAB[A-Z]+)=`)
)

// Parse reads crontab lines and returns the schedule entries plus a
// list of warnings for lines it could not understand.  The timezone
// argument provides the initial CRON_TZ, which assignments in the
// crontab may override.
func Parse(lines []string, timezone string) ([]Entry, []string) {
	var (
		entries  []Entry
		warnings []string
	)
	env := map[string]string{}

	for _, line := range lines {
		if blankLine.MatchString(line) || commentLine.MatchString(line) {
			continue
		}

		if m := variableLine.FindStringSubmatch(line); m != nil {
			name, value := m[1], removeQuotes(strings.TrimRight(m[2], " \t"))
			if name == "CRON_TZ" {
				timezone = value
			} else if strings.HasPrefix(name, "CRAB") {
				env[name] = value
			}
			continue
		}

		m := cronRule.FindStringSubmatch(line)
		if m == nil {
			warnings = append(warnings, "Did not recognise line: "+line)
			continue
		}
		timeField, fullCommand := m[1], m[2]

		command, input := splitInput(fullCommand)

		command, jobVars := splitCrabVars(command)
		vars := map[string]string{}
		for k, v := range env {
			vars[k] = v
		}
		for k, v := range jobVars {
			vars[k] = v
		}

		if ignore, ok := vars["CRABIGNORE"]; ok {
			delete(vars, "CRABIGNORE")
			if trueString(ignore) {
				continue
			}
		}

		crabid := vars["CRABID"]
		delete(vars, "CRABID")

		entries = append(entries, Entry{
			CrabID:   crabid,
			Command:  strings.TrimRight(command, " \t"),
			Time:     timeField,
			Timezone: timezone,
			Input:    input,
			Vars:     vars,
			Rule:     line,
		})
	}

	return entries, warnings
}

// splitInput separates a command from the stdin text introduced by the
// first unescaped percent sign.  Further unescaped percents become
// newlines; escaped ones become literal percent characters.
func splitInput(command string) (string, string) {
	parts := splitUnescapedPercent(command)

	cmd := unescapePercent(strings.TrimRight(parts[0], " \t"))
	if len(parts) == 1 {
		return cmd, ""
	}

	inputLines := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		inputLines = append(inputLines, unescapePercent(p))
	}
	return cmd, strings.Join(inputLines, "\n")
}

// splitUnescapedPercent splits on percent signs not preceded by a
// backslash, leaving the escape sequences in place.
func splitUnescapedPercent(s string) []string {
	var parts []string
	var cur strings.Builder
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\\' && i+1 < len(s) && s[i+1] == '%':
			cur.WriteString(`\%`)
			i++
		case s[i] == '%':
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(s[i])
		}
	}
	return append(parts, cur.String())
}

func unescapePercent(s string) string {
	return strings.ReplaceAll(s, `\%`, "%")
}

func escapePercent(s string) string {
	return strings.ReplaceAll(s, "%", `\%`)
}

// Write renders entries back into crontab lines.  CRON_TZ assignments
// are emitted only where the timezone changes between adjacent entries,
// and CRABID / other CRAB variables are prefixed onto the command.
func Write(entries []Entry) []string {
	var (
		crontab  []string
		timezone string
		firstRow = true
	)

	for _, e := range entries {
		timeField := e.Time
		if timeField == "" {
			timeField = UnknownSchedule
		}

		if e.Timezone != "" && e.Timezone != timezone {
			timezone = e.Timezone
			crontab = append(crontab, "CRON_TZ="+quoteMultiword(timezone))
		} else if e.Timezone == "" && (timezone != "" || firstRow) {
			crontab = append(crontab, UnknownTimezone)
			timezone = ""
		}

		var command []string
		if e.CrabID != "" {
			command = append(command, "CRABID="+quoteMultiword(e.CrabID))
		}

		names := make([]string, 0, len(e.Vars))
		for name := range e.Vars {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			command = append(command, name+"="+quoteMultiword(e.Vars[name]))
		}

		command = append(command, e.Command)
		rule := escapePercent(strings.Join(command, " "))

		if e.Input != "" {
			inputLines := strings.Split(e.Input, "\n")
			for i, l := range inputLines {
				inputLines[i] = escapePercent(l)
			}
			rule += "%" + strings.Join(inputLines, "%")
		}

		crontab = append(crontab, fmt.Sprintf("%s %s", timeField, rule))
		firstRow = false
	}

	return crontab
}
