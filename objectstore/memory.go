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
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"
)

type memObject struct {
	data        []byte
	contentType string
	acl         ACL
	etag        string
}

// Memory is an in process Store for tests and single node setups.
type Memory struct {
	bucket  string
	lock    sync.RWMutex
	objects map[string]*memObject
}

func NewMemory(bucket string) *Memory {
	return &Memory{bucket: bucket, objects: make(map[string]*memObject)}
}

func (m *Memory) Bucket() string { return m.bucket }

func (m *Memory) Put(ctx context.Context, bucket, key string, body io.ReadSeeker, size int64, contentType string, acl ACL) (string, error) {
	data, err := io.ReadAll(io.LimitReader(body, size))
	if err != nil {
		return "", err
	}
	sum := md5.Sum(data)
	obj := &memObject{data: data, contentType: contentType, acl: acl, etag: hex.EncodeToString(sum[:])}
	m.lock.Lock()
	m.objects[bucket+"/"+key] = obj
	m.lock.Unlock()
	return obj.etag, nil
}

func (m *Memory) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	m.lock.RLock()
	obj, ok := m.objects[bucket+"/"+key]
	m.lock.RUnlock()
	if !ok {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *Memory) Delete(ctx context.Context, bucket, key string) error {
	m.lock.Lock()
	delete(m.objects, bucket+"/"+key)
	m.lock.Unlock()
	return nil
}

func (m *Memory) PresignedGetURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	m.lock.RLock()
	_, ok := m.objects[bucket+"/"+key]
	m.lock.RUnlock()
	if !ok {
		return "", ErrObjectNotFound
	}
	if ttl <= 0 {
		ttl = defaultPresignTTL
	}
	u := url.URL{Scheme: "memory", Host: bucket, Path: "/" + key}
	u.RawQuery = fmt.Sprintf("expires=%d", time.Now().Add(ttl).Unix())
	return u.String(), nil
}
