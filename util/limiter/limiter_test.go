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
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConcurrencyLimit(t *testing.T) {
	l := NewLimiter(LimitConfig{ReadConcurrency: 1, WriteConcurrency: 2})

	require.NoError(t, l.Acquire(OpRead))
	require.Equal(t, ErrLimitExceeded, l.Acquire(OpRead))
	l.SetConcurrency(OpRead, 2)
	require.NoError(t, l.Acquire(OpRead))
	require.Equal(t, 2, l.Status().ReadRunning)
	l.Release(OpRead)
	l.Release(OpRead)
	require.Equal(t, 0, l.Status().ReadRunning)

	require.NoError(t, l.Acquire(OpWrite))
	require.NoError(t, l.Acquire(OpWrite))
	require.Equal(t, ErrLimitExceeded, l.Acquire(OpWrite))
	require.Equal(t, 2, l.Status().Config.ReadConcurrency)
}

func TestUnlimited(t *testing.T) {
	l := NewLimiter(LimitConfig{})
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Acquire(OpWrite))
	}
	r := bytes.NewReader([]byte("abc"))
	require.Equal(t, io.Reader(r), l.UploadReader(context.TODO(), r))
}

func TestUploadReader(t *testing.T) {
	l := NewLimiter(LimitConfig{UploadMBPS: 1})
	data := make([]byte, 3<<19)
	r := l.UploadReader(context.TODO(), bytes.NewReader(data))
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, len(data), len(got))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l.SetUploadMBPS(1)
	_, err = l.UploadReader(ctx, bytes.NewReader(data)).Read(make([]byte, 1<<20))
	require.Error(t, err)
}
