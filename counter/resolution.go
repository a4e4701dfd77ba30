// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package counter

import (
	"math"
	"strings"
)

// Resolution is a fixed bucket width counters are pre-aggregated at.
type Resolution uint8

const (
	All Resolution = iota
	Minute
	FiveMinutes
	HalfHour
	Hour
	SixHour
	HalfDay
	Day
	SixDay
	Week
	Month
)

const minuteMillis = int64(60 * 1000)

var resolutionInfo = [...]struct {
	name     string
	interval int64
}{
	All:         {"all", 0},
	Minute:      {"minute", minuteMillis},
	FiveMinutes: {"five_minutes", 5 * minuteMillis},
	HalfHour:    {"half_hour", 30 * minuteMillis},
	Hour:        {"hour", 60 * minuteMillis},
	SixHour:     {"six_hour", 6 * 60 * minuteMillis},
	HalfDay:     {"half_day", 12 * 60 * minuteMillis},
	Day:         {"day", 24 * 60 * minuteMillis},
	SixDay:      {"six_day", 6 * 24 * 60 * minuteMillis},
	Week:        {"week", 7 * 24 * 60 * minuteMillis},
	Month:       {"month", 30 * 24 * 60 * minuteMillis},
}

// Resolutions lists All first, then the bucketed resolutions from finest to
// coarsest interval.
func Resolutions() []Resolution {
	return []Resolution{All, Minute, FiveMinutes, HalfHour, Hour, SixHour, HalfDay, Day, SixDay, Week, Month}
}

func ParseResolution(s string) (Resolution, bool) {
	s = strings.ToLower(s)
	for i := range resolutionInfo {
		if resolutionInfo[i].name == s {
			return Resolution(i), true
		}
	}
	return All, false
}

func (r Resolution) String() string {
	if int(r) < len(resolutionInfo) {
		return resolutionInfo[r].name
	}
	return "unknown"
}

// Interval is the bucket width in milliseconds, zero for All.
func (r Resolution) Interval() int64 { return resolutionInfo[r].interval }

// Round floors ts to the start of its bucket.
func (r Resolution) Round(ts int64) int64 {
	interval := r.Interval()
	if interval == 0 {
		return 0
	}
	b := ts / interval * interval
	if ts < 0 && b != ts {
		b -= interval
	}
	return b
}

// Next returns the start of the bucket after the one holding ts.
func (r Resolution) Next(ts int64) int64 {
	interval := r.Interval()
	if interval == 0 {
		return math.MaxInt64
	}
	return r.Round(ts) + interval
}

func (r Resolution) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Resolution) UnmarshalText(b []byte) error {
	v, ok := ParseResolution(string(b))
	if !ok {
		return &unknownResolutionError{name: string(b)}
	}
	*r = v
	return nil
}

type unknownResolutionError struct{ name string }

func (e *unknownResolutionError) Error() string { return "unknown counter resolution " + e.name }
