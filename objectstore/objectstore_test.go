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

package objectstore

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, &Config{})
	require.NoError(t, err)
	require.Equal(t, "entitydb-assets", s.Bucket())

	data := []byte("hello asset")
	etag, err := s.Put(ctx, s.Bucket(), "app/1", bytes.NewReader(data), int64(len(data)), "text/plain", ACLPrivate)
	require.NoError(t, err)
	require.Len(t, etag, 32)

	rc, err := s.Get(ctx, s.Bucket(), "app/1")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, data, got)

	u, err := s.PresignedGetURL(ctx, s.Bucket(), "app/1", time.Minute)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(u, "memory://entitydb-assets/app/1?expires="))

	require.NoError(t, s.Delete(ctx, s.Bucket(), "app/1"))
	_, err = s.Get(ctx, s.Bucket(), "app/1")
	require.ErrorIs(t, err, ErrObjectNotFound)
	_, err = s.PresignedGetURL(ctx, s.Bucket(), "app/1", 0)
	require.ErrorIs(t, err, ErrObjectNotFound)
}

func TestConfig(t *testing.T) {
	cfg := &Config{}
	cfg.checkAndFix()
	require.Equal(t, TypeMemory, cfg.Type)
	require.Equal(t, defaultPresignTTL, cfg.PresignTTL())

	_, err := New(context.Background(), &Config{Type: "ftp"})
	require.ErrorIs(t, err, ErrUnknownType)
}

func TestS3Presign(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, &Config{
		Type:            TypeS3,
		Region:          "us-east-1",
		Endpoint:        "http://127.0.0.1:9000",
		Bucket:          "assets",
		AccessKeyID:     "ak",
		SecretAccessKey: "sk",
		PathStyle:       true,
	})
	require.NoError(t, err)
	// presigning is local, no request leaves the process
	u, err := s.PresignedGetURL(ctx, "assets", "app/key", time.Minute)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(u, "http://127.0.0.1:9000/assets/app/key?"))
	require.Contains(t, u, "X-Amz-Expires=60")
}
