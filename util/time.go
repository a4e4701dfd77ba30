// Copyright 2023 The Cuber Authors.
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

package util

import (
	"io"
	"time"
)

// TimeReader accumulates the time spent inside the wrapped reader, which
// separates client upload stalls from store latency.
type TimeReader struct {
	R  io.Reader
	dt time.Duration
}

func (tr *TimeReader) Read(p []byte) (n int, err error) {
	start := time.Now()
	n, err = tr.R.Read(p)
	tr.dt += time.Since(start)
	return n, err
}

func (tr *TimeReader) GetCost() time.Duration {
	return tr.dt
}

// NowMillis is the timestamp unit used for created and modified stamps.
func NowMillis() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}
