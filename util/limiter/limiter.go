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

package limiter

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const mb = 1 << 20

// OpType separates query traffic from mutations.
type OpType uint8

const (
	OpRead OpType = iota
	OpWrite
)

var ErrLimitExceeded = errors.New("limit exceeded")

type (
	Limiter interface {
		Acquire(op OpType) error
		Release(op OpType)
		// UploadReader throttles asset uploads to the configured bandwidth.
		UploadReader(ctx context.Context, r io.Reader) io.Reader
		SetConcurrency(op OpType, value uint32)
		SetUploadMBPS(mbps int)
		Status() Status
	}
	CountLimit interface {
		Running() int
		Acquire() error
		Release()
		SetLimit(limit uint32)
	}
	LimitConfig struct {
		ReadConcurrency  int `json:"read_concurrency"`
		WriteConcurrency int `json:"write_concurrency"`
		UploadMBPS       int `json:"upload_mbps"`
	}
	Status struct {
		Config       LimitConfig `json:"config"`
		ReadRunning  int         `json:"read_running"`
		WriteRunning int         `json:"write_running"`
		UploadWaitMs int         `json:"upload_wait_ms"`
	}
	reader struct {
		ctx        context.Context
		rate       *rate.Limiter
		underlying io.Reader
	}
	limiter struct {
		config LimitConfig
		counts [2]CountLimit
		upload atomic.Value // *rate.Limiter
	}
)

// Read asks for at most the burst size so WaitN never fails on large buffers.
func (r *reader) Read(p []byte) (n int, err error) {
	if burst := r.rate.Burst(); len(p) > burst {
		p = p[:burst]
	}
	if err = r.rate.WaitN(r.ctx, len(p)); err != nil {
		return 0, err
	}
	return r.underlying.Read(p)
}

func NewLimiter(cfg LimitConfig) Limiter {
	l := &limiter{config: cfg}
	if cfg.ReadConcurrency > 0 {
		l.counts[OpRead] = NewCountLimit(cfg.ReadConcurrency)
	}
	if cfg.WriteConcurrency > 0 {
		l.counts[OpWrite] = NewCountLimit(cfg.WriteConcurrency)
	}
	if cfg.UploadMBPS > 0 {
		l.upload.Store(rate.NewLimiter(rate.Limit(cfg.UploadMBPS*mb), cfg.UploadMBPS*mb))
	}
	return l
}

func (l *limiter) Acquire(op OpType) error {
	if c := l.counts[op]; c != nil {
		return c.Acquire()
	}
	return nil
}

func (l *limiter) Release(op OpType) {
	if c := l.counts[op]; c != nil {
		c.Release()
	}
}

func (l *limiter) UploadReader(ctx context.Context, r io.Reader) io.Reader {
	if rl := l.uploadRate(); rl != nil {
		return &reader{ctx: ctx, rate: rl, underlying: r}
	}
	return r
}

func (l *limiter) SetConcurrency(op OpType, value uint32) {
	if l.counts[op] == nil {
		l.counts[op] = NewCountLimit(int(value))
	} else {
		l.counts[op].SetLimit(value)
	}
	if op == OpRead {
		l.config.ReadConcurrency = int(value)
	} else {
		l.config.WriteConcurrency = int(value)
	}
}

func (l *limiter) SetUploadMBPS(mbps int) {
	if rl := l.uploadRate(); rl != nil {
		rl.SetLimit(rate.Limit(mbps * mb))
		rl.SetBurst(mbps * mb)
	} else {
		l.upload.Store(rate.NewLimiter(rate.Limit(mbps*mb), mbps*mb))
	}
	l.config.UploadMBPS = mbps
}

func (l *limiter) Status() Status {
	st := Status{Config: l.config}
	if c := l.counts[OpRead]; c != nil {
		st.ReadRunning = c.Running()
	}
	if c := l.counts[OpWrite]; c != nil {
		st.WriteRunning = c.Running()
	}
	st.UploadWaitMs = rateWait(l.uploadRate())
	return st
}

func (l *limiter) uploadRate() *rate.Limiter {
	rl, _ := l.upload.Load().(*rate.Limiter)
	return rl
}

func rateWait(r *rate.Limiter) int {
	if r == nil {
		return 0
	}
	now := time.Now()
	reserve := r.ReserveN(now, int(r.Limit())/2)
	duration := reserve.DelayFrom(now)
	reserve.Cancel()
	return int(duration.Milliseconds())
}

const minusOne = ^uint32(0)

type countLimit struct {
	limit   uint32
	current uint32
}

// NewCountLimit returns limiter with concurrent n
func NewCountLimit(n int) CountLimit {
	return &countLimit{limit: uint32(n)}
}

func (l *countLimit) Running() int {
	return int(atomic.LoadUint32(&l.current))
}

func (l *countLimit) Acquire() error {
	if atomic.AddUint32(&l.current, 1) > atomic.LoadUint32(&l.limit) {
		atomic.AddUint32(&l.current, minusOne)
		return ErrLimitExceeded
	}
	return nil
}

func (l *countLimit) Release() {
	atomic.AddUint32(&l.current, minusOne)
}

func (l *countLimit) SetLimit(limit uint32) {
	atomic.StoreUint32(&l.limit, limit)
}
