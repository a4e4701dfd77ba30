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
	"io"
	"os"

	"github.com/cubefs/cubefs/blobstore/util/bytespool"
	"github.com/google/uuid"
)

// GenTmpPath create a temporary path
func GenTmpPath() (string, error) {
	path := os.TempDir() + "/" + uuid.NewString()
	if err := os.RemoveAll(path); err != nil {
		return "", err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

func GetBufferWriter(size int) *bytes.Buffer {
	return bytes.NewBuffer(bytespool.Alloc(size)[:0])
}

func PutBufferWriter(br *bytes.Buffer) {
	bytespool.Free(br.Bytes())
}

// ReadAllPooled drains r into a pooled buffer holding at most limit bytes.
// The caller returns the buffer with PutBufferWriter. ok is false when r
// holds more than limit bytes.
func ReadAllPooled(r io.Reader, sizeHint int, limit int64) (buf *bytes.Buffer, ok bool, err error) {
	if sizeHint <= 0 {
		sizeHint = 32 << 10
	}
	buf = GetBufferWriter(sizeHint)
	n, err := buf.ReadFrom(io.LimitReader(r, limit+1))
	if err != nil {
		PutBufferWriter(buf)
		return nil, false, err
	}
	if n > limit {
		PutBufferWriter(buf)
		return nil, false, nil
	}
	return buf, true, nil
}
