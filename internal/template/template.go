/*
Copyright 2026 The rowforge Authors

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

// Package template substitutes {{variable}} placeholders in prompt text
// with values taken from a row's fields.
package template

import "strings"

// Render replaces every {{name}} occurrence in prompt with row[name].
// The name is trimmed of surrounding whitespace before lookup, so
// "{{ email }}" and "{{email}}" resolve to the same field.
//
// A placeholder whose field is missing from the row is left in the output
// verbatim. Dropping it silently would hide the mistake from the user;
// leaving the literal "{{name}}" makes a missing column visible in the
// generated text.
func Render(prompt string, row map[string]string) string {
	open := strings.Index(prompt, "{{")
	if open < 0 {
		return prompt
	}

	var b strings.Builder
	b.Grow(len(prompt))
	rest := prompt
	for {
		open = strings.Index(rest, "{{")
		if open < 0 {
			b.WriteString(rest)
			return b.String()
		}
		close := strings.Index(rest[open+2:], "}}")
		if close < 0 {
			b.WriteString(rest)
			return b.String()
		}
		close += open + 2

		b.WriteString(rest[:open])
		name := strings.TrimSpace(rest[open+2 : close])
		if val, ok := row[name]; ok {
			b.WriteString(val)
		} else {
			b.WriteString(rest[open : close+2])
		}
		rest = rest[close+2:]
	}
}

// Placeholders returns the distinct trimmed placeholder names referenced by
// prompt, in order of first appearance. Used by callers to validate that a
// dataset carries the columns a prompt expects.
func Placeholders(prompt string) []string {
	var names []string
	seen := make(map[string]struct{})
	rest := prompt
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			return names
		}
		close := strings.Index(rest[open+2:], "}}")
		if close < 0 {
			return names
		}
		close += open + 2

		name := strings.TrimSpace(rest[open+2 : close])
		if _, ok := seen[name]; !ok && name != "" {
			seen[name] = struct{}{}
			names = append(names, name)
		}
		rest = rest[close+2:]
	}
}
