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

package input

import (
	"reflect"
	"strings"
	"testing"
)

func TestReadCSV(t *testing.T) {
	in := "name, email\nAda,ada@example.com\nGrace,grace@example.com\n"
	rows, err := ReadCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	want := []map[string]string{
		{"name": "Ada", "email": "ada@example.com"},
		{"name": "Grace", "email": "grace@example.com"},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("rows = %v, want %v", rows, want)
	}
}

func TestReadCSVRaggedRecord(t *testing.T) {
	in := "a,b,c\n1,2\n"
	rows, err := ReadCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	// The missing column is absent, not empty, so its placeholder survives
	// template substitution.
	if _, ok := rows[0]["c"]; ok {
		t.Errorf("short record grew a value for column c: %v", rows[0])
	}
	if rows[0]["a"] != "1" || rows[0]["b"] != "2" {
		t.Errorf("rows[0] = %v", rows[0])
	}
}

func TestReadCSVEmpty(t *testing.T) {
	if _, err := ReadCSV(strings.NewReader("")); err == nil {
		t.Error("empty input accepted")
	}
}

func TestReadCSVHeaderOnly(t *testing.T) {
	rows, err := ReadCSV(strings.NewReader("a,b\n"))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("rows = %v, want none", rows)
	}
}
