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
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenTmpPath(t *testing.T) {
	path, err := GenTmpPath()
	require.NoError(t, err)
	require.NotEqual(t, "", path)
}

func TestBufferWriter(t *testing.T) {
	br := GetBufferWriter(1 << 10)
	require.Equal(t, 0, len(br.Bytes()))
	require.Equal(t, 1<<10, cap(br.Bytes()))
	PutBufferWriter(br)
}

func TestReadAllPooled(t *testing.T) {
	buf, ok, err := ReadAllPooled(strings.NewReader("hello world"), 4, 64)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hello world", buf.String())
	PutBufferWriter(buf)

	_, ok, err = ReadAllPooled(strings.NewReader("hello world"), 0, 5)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTimeReader(t *testing.T) {
	tr := &TimeReader{R: bytes.NewReader([]byte("abc"))}
	b := make([]byte, 8)
	n, err := tr.Read(b)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.True(t, tr.GetCost() >= time.Duration(0))
}
