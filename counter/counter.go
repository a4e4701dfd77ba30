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
	"bytes"
	"context"
	"encoding/binary"
	"sort"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/google/uuid"

	"github.com/cubefs/entitydb/common/kvstore"
	"github.com/cubefs/entitydb/errors"
	"github.com/cubefs/entitydb/proto"
	"github.com/cubefs/entitydb/store"
)

// MaxPadBuckets bounds the series a padded read may produce.
const MaxPadBuckets = 100000

// key families inside the counter column
const (
	familyAggregate   = 'g'
	familyApplication = 'a'
	familyEntity      = 'e'
	familyName        = 'n'
)

// Key names one aggregate series. Zero uuids mean "any".
type Key struct {
	User     uuid.UUID
	Group    uuid.UUID
	Queue    uuid.UUID
	Category string
	Name     string
}

// Store keeps commutative counters in the counter column. Every aggregate
// increment is applied at all configured resolutions.
type Store struct {
	kv          kvstore.Store
	resolutions []Resolution
}

func NewStore(kv kvstore.Store, resolutions []Resolution) *Store {
	if len(resolutions) == 0 {
		resolutions = Resolutions()
	}
	return &Store{kv: kv, resolutions: resolutions}
}

func (s *Store) Resolutions() []Resolution { return s.resolutions }

func (s *Store) seriesPrefix(app uuid.UUID, res Resolution, key Key) []byte {
	b := make([]byte, 0, 16+2+48+len(key.Category)+len(key.Name)+2)
	b = append(b, app[:]...)
	b = append(b, familyAggregate, byte(res))
	b = append(b, key.User[:]...)
	b = append(b, key.Group[:]...)
	b = append(b, key.Queue[:]...)
	b = append(append(b, key.Category...), 0)
	return append(append(b, key.Name...), 0)
}

func bucketKey(prefix []byte, ts int64) []byte {
	b := make([]byte, len(prefix)+8)
	copy(b, prefix)
	binary.BigEndian.PutUint64(b[len(prefix):], uint64(ts)^(1<<63))
	return b
}

func bucketTime(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key[len(key)-8:]) ^ (1 << 63))
}

func namedKey(app uuid.UUID, family byte, owner []byte, name string) []byte {
	b := make([]byte, 0, 16+1+len(owner)+len(name)+1)
	b = append(b, app[:]...)
	b = append(b, family)
	b = append(b, owner...)
	return append(append(b, name...), 0)
}

// IncrementAggregate adds delta to the bucket holding ts at every resolution.
func (s *Store) IncrementAggregate(ctx context.Context, app uuid.UUID, key Key, ts, delta int64) error {
	span := trace.SpanFromContextSafe(ctx)
	if key.Name == "" {
		return errors.NewIllegalArgument("counter name is empty")
	}
	wo := s.kv.NewWriteOption()
	defer wo.Close()
	for _, res := range s.resolutions {
		k := bucketKey(s.seriesPrefix(app, res, key), res.Round(ts))
		if _, err := s.kv.Incr(ctx, store.CounterCF, k, delta, wo); err != nil {
			span.Errorf("increment counter %s at %s failed: %s", key.Name, res, err)
			return errors.NewStoreError(err, "increment aggregate counter")
		}
	}
	err := s.kv.SetRaw(ctx, store.CounterCF, namedKey(app, familyName, nil, key.Name), nil, wo)
	return errors.NewStoreError(err, "record counter name")
}

// Get reads the series between start and finish inclusive, both rounded to
// the resolution. Pad fills empty buckets with zero values.
func (s *Store) Get(ctx context.Context, app uuid.UUID, key Key, res Resolution, start, finish int64, pad bool) (*proto.AggregateCounterSet, error) {
	if int(res) >= len(resolutionInfo) {
		return nil, errors.NewIllegalArgument("unknown resolution %d", res)
	}
	first, last := res.Round(start), res.Round(finish)
	if first > last {
		return nil, errors.NewIllegalArgument("counter range starts after it finishes")
	}
	set := &proto.AggregateCounterSet{
		Name: key.Name, User: key.User, Group: key.Group, Queue: key.Queue, Category: key.Category,
		Values: []proto.AggregateCounter{},
	}

	prefix := s.seriesPrefix(app, res, key)
	ro := s.kv.NewReadOption()
	defer ro.Close()
	lr := s.kv.List(ctx, store.CounterCF, prefix, bucketKey(prefix, first), ro)
	defer lr.Close()
	end := bucketKey(prefix, last)
	for {
		k, v, err := lr.ReadNextCopy()
		if err != nil {
			return nil, errors.NewStoreError(err, "read aggregate counter")
		}
		if k == nil || bytes.Compare(k, end) > 0 {
			break
		}
		if len(k) != len(prefix)+8 {
			continue
		}
		n, err := kvstore.DecodeCounter(v)
		if err != nil {
			return nil, errors.NewStoreError(err, "decode aggregate counter")
		}
		set.Values = append(set.Values, proto.AggregateCounter{Timestamp: bucketTime(k), Value: n})
	}
	if !pad || res == All {
		return set, nil
	}
	if (last-first)/res.Interval()+1 > MaxPadBuckets {
		return nil, errors.NewIllegalArgument("padded counter range exceeds %d buckets", MaxPadBuckets)
	}
	padded := make([]proto.AggregateCounter, 0, (last-first)/res.Interval()+1)
	i := 0
	for ts := first; ts <= last; ts = res.Next(ts) {
		if i < len(set.Values) && set.Values[i].Timestamp == ts {
			padded = append(padded, set.Values[i])
			i++
			continue
		}
		padded = append(padded, proto.AggregateCounter{Timestamp: ts})
	}
	set.Values = padded
	return set, nil
}

// Names lists the aggregate counter names ever incremented in app.
func (s *Store) Names(ctx context.Context, app uuid.UUID) ([]string, error) {
	prefix := namedKey(app, familyName, nil, "")
	prefix = prefix[:len(prefix)-1]
	counts, err := s.readNamed(ctx, prefix, false)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) IncrementApplication(ctx context.Context, app uuid.UUID, name string, delta int64) (int64, error) {
	if name == "" {
		return 0, errors.NewIllegalArgument("counter name is empty")
	}
	wo := s.kv.NewWriteOption()
	defer wo.Close()
	n, err := s.kv.Incr(ctx, store.CounterCF, namedKey(app, familyApplication, nil, name), delta, wo)
	return n, errors.NewStoreError(err, "increment application counter")
}

func (s *Store) ApplicationCounters(ctx context.Context, app uuid.UUID) (map[string]int64, error) {
	prefix := namedKey(app, familyApplication, nil, "")
	return s.readNamed(ctx, prefix[:len(prefix)-1], true)
}

func (s *Store) IncrementEntity(ctx context.Context, app, entity uuid.UUID, name string, delta int64) (int64, error) {
	if name == "" {
		return 0, errors.NewIllegalArgument("counter name is empty")
	}
	wo := s.kv.NewWriteOption()
	defer wo.Close()
	n, err := s.kv.Incr(ctx, store.CounterCF, namedKey(app, familyEntity, entity[:], name), delta, wo)
	return n, errors.NewStoreError(err, "increment entity counter")
}

func (s *Store) EntityCounters(ctx context.Context, app, entity uuid.UUID) (map[string]int64, error) {
	prefix := namedKey(app, familyEntity, entity[:], "")
	return s.readNamed(ctx, prefix[:len(prefix)-1], true)
}

// DeleteEntityCounters adds the removal of every counter of entity to batch.
func (s *Store) DeleteEntityCounters(app, entity uuid.UUID, batch kvstore.WriteBatch) {
	prefix := namedKey(app, familyEntity, entity[:], "")
	prefix = prefix[:len(prefix)-1]
	batch.DeleteRange(store.CounterCF, prefix, kvstore.PrefixEnd(prefix))
}

func (s *Store) readNamed(ctx context.Context, prefix []byte, decode bool) (map[string]int64, error) {
	ro := s.kv.NewReadOption()
	defer ro.Close()
	lr := s.kv.List(ctx, store.CounterCF, prefix, nil, ro)
	defer lr.Close()
	out := make(map[string]int64)
	for {
		k, v, err := lr.ReadNextCopy()
		if err != nil {
			return nil, errors.NewStoreError(err, "list counters")
		}
		if k == nil {
			return out, nil
		}
		name := string(bytes.TrimSuffix(k[len(prefix):], []byte{0}))
		if !decode {
			out[name] = 0
			continue
		}
		if out[name], err = kvstore.DecodeCounter(v); err != nil {
			return nil, errors.NewStoreError(err, "decode counter")
		}
	}
}
