// Copyright 2026 The Flowmesh Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package scheduler

import (
	"testing"
	"time"
)

func TestParseCron(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{name: "six fields with question marks", expr: "*/5 * * * * ?"},
		{name: "every second", expr: "* * * * * *"},
		{name: "hourly on the hour", expr: "0 0 * * * *"},
		{name: "weekday mornings", expr: "0 0 9 ? * 1-5"},
		{name: "five field form", expr: "*/15 * * * *"},
		{name: "special hourly", expr: "@hourly"},
		{name: "step with range", expr: "0 1-30/5 * * * ?"},
		{name: "comma list", expr: "0,30 0 12 * * ?"},
		{name: "not a cron", expr: "not a cron", wantErr: true},
		{name: "too few fields", expr: "* * *", wantErr: true},
		{name: "too many fields", expr: "* * * * * * *", wantErr: true},
		{name: "second out of range", expr: "61 * * * * ?", wantErr: true},
		{name: "hour out of range", expr: "0 0 24 * * ?", wantErr: true},
		{name: "inverted range", expr: "0 30-10 * * * ?", wantErr: true},
		{name: "zero step", expr: "*/0 * * * * ?", wantErr: true},
		{name: "empty", expr: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCron(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseCron(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
		})
	}
}

func TestCronNext(t *testing.T) {
	base := time.Date(2026, 3, 2, 10, 30, 12, 0, time.UTC) // Monday

	tests := []struct {
		name string
		expr string
		from time.Time
		want time.Time
	}{
		{
			name: "every five seconds",
			expr: "*/5 * * * * ?",
			from: base,
			want: time.Date(2026, 3, 2, 10, 30, 15, 0, time.UTC),
		},
		{
			name: "every second",
			expr: "* * * * * *",
			from: base,
			want: time.Date(2026, 3, 2, 10, 30, 13, 0, time.UTC),
		},
		{
			name: "top of the next minute",
			expr: "0 * * * * ?",
			from: base,
			want: time.Date(2026, 3, 2, 10, 31, 0, 0, time.UTC),
		},
		{
			name: "top of the next hour",
			expr: "0 0 * * * *",
			from: base,
			want: time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC),
		},
		{
			name: "five field form fires at second zero",
			expr: "*/15 * * * *",
			from: base,
			want: time.Date(2026, 3, 2, 10, 45, 0, 0, time.UTC),
		},
		{
			name: "weekday morning from a Friday evening",
			expr: "0 0 9 ? * 1-5",
			from: time.Date(2026, 3, 6, 18, 0, 0, 0, time.UTC), // Friday
			want: time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC),  // Monday
		},
		{
			name: "first of next month",
			expr: "0 0 0 1 * ?",
			from: base,
			want: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := ParseCron(tt.expr)
			if err != nil {
				t.Fatalf("ParseCron(%q) failed: %v", tt.expr, err)
			}
			got := expr.Next(tt.from)
			if !got.Equal(tt.want) {
				t.Errorf("Next(%v) = %v, want %v", tt.from, got, tt.want)
			}
		})
	}
}

func TestCronNextIsStrictlyAfter(t *testing.T) {
	expr, err := ParseCron("* * * * * *")
	if err != nil {
		t.Fatal(err)
	}
	from := time.Date(2026, 3, 2, 10, 30, 12, 0, time.UTC)
	next := expr.Next(from)
	if !next.After(from) {
		t.Errorf("Next(%v) = %v, not strictly after", from, next)
	}
}
