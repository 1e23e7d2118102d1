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

package crontab

import "strings"

// removeQuotes strips one pair of matching single or double quotes.
// Mismatched quotes are left alone.
func removeQuotes(value string) string {
	if len(value) >= 2 {
		if (strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`)) ||
			(strings.HasPrefix(value, `'`) && strings.HasSuffix(value, `'`)) {
			return value[1 : len(value)-1]
		}
	}
	return value
}

// quoteMultiword wraps the value in double quotes if it contains a
// space, so it survives a round trip through the parser.
func quoteMultiword(value string) string {
	if strings.Contains(value, " ") {
		return `"` + value + `"`
	}
	return value
}

// splitQuotedWord splits off the first word, honouring a leading quote:
// a quoted value extends to the matching close quote.  Escaped quotes
// are not handled.
func splitQuotedWord(value string) (string, string) {
	for _, q := range []string{`'`, `"`} {
		if strings.HasPrefix(value, q) {
			if i := strings.Index(value[1:], q); i >= 0 {
				return value[1 : i+1], strings.TrimLeft(value[i+2:], " \t")
			}
		}
	}

	if i := strings.IndexAny(value, " \t"); i >= 0 {
		return value[:i], strings.TrimLeft(value[i+1:], " \t")
	}
	return value, ""
}

// splitCrabVars peels CRAB-namespace variable assignments off the
// front of a command, Bourne shell style.
func splitCrabVars(command string) (string, map[string]string) {
	vars := map[string]string{}

	for {
		m := crabVar.FindStringSubmatch(command)
		if m == nil {
			break
		}
		var value string
		value, command = splitQuotedWord(command[len(m[0]):])
		vars[m[1]] = value
	}

	return command, vars
}

// trueString interprets a crontab boolean: anything other than
// 0/no/false/off (case insensitive) is true.
func trueString(value string) bool {
	switch strings.ToLower(value) {
	case "0", "no", "false", "off":
		return false
	}
	return true
}
