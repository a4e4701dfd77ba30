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

package index

import (
	"encoding/binary"
	"hash/fnv"
	"strings"

	"github.com/google/uuid"
)

// Type separates the index families sharing one bucket space.
type Type string

const (
	TypeMembership Type = "membership"
	TypeProperty   Type = "property"
	TypeKeyword    Type = "keyword"
	TypeGeo        Type = "geo"

	DefaultBucketCount = 16
)

// BucketLocator spreads writes of one index row over several buckets, a
// read at a path has to merge every bucket.
type BucketLocator interface {
	// Bucket is the single bucket a write for entityID goes to.
	Bucket(appID uuid.UUID, indexType Type, entityID uuid.UUID, path ...string) uint32
	// Buckets lists every bucket a read at the path has to visit.
	Buckets(appID uuid.UUID, indexType Type, path ...string) []uint32
	Count() int
}

type simpleBucketLocator struct {
	count   uint32
	buckets []uint32
}

// NewSimpleBucketLocator hashes the inputs with fnv-1a, count < 1 falls
// back to DefaultBucketCount.
func NewSimpleBucketLocator(count int) BucketLocator {
	if count < 1 {
		count = DefaultBucketCount
	}
	l := &simpleBucketLocator{count: uint32(count), buckets: make([]uint32, count)}
	for i := range l.buckets {
		l.buckets[i] = uint32(i)
	}
	return l
}

func (l *simpleBucketLocator) Bucket(appID uuid.UUID, indexType Type, entityID uuid.UUID, path ...string) uint32 {
	if l.count == 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write(appID[:])
	h.Write([]byte(indexType))
	h.Write(entityID[:])
	for _, p := range path {
		var sep [4]byte
		binary.BigEndian.PutUint32(sep[:], uint32(len(p)))
		h.Write(sep[:])
		h.Write([]byte(strings.ToLower(p)))
	}
	return h.Sum32() % l.count
}

func (l *simpleBucketLocator) Buckets(appID uuid.UUID, indexType Type, path ...string) []uint32 {
	return append([]uint32(nil), l.buckets...)
}

func (l *simpleBucketLocator) Count() int { return int(l.count) }
