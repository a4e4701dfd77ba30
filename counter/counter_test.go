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
	"context"
	"math"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/cubefs/entitydb/common/kvstore"
	"github.com/cubefs/entitydb/errors"
	"github.com/cubefs/entitydb/store"
)

func newTestStore(t *testing.T) *Store {
	kv, err := kvstore.NewKVStore(context.Background(), "", kvstore.MemoryLsmKVType,
		&kvstore.Option{ColumnFamily: store.AllColumns})
	require.NoError(t, err)
	t.Cleanup(kv.Close)
	return NewStore(kv, nil)
}

func TestResolution(t *testing.T) {
	require.Equal(t, int64(120000), Minute.Round(179999))
	require.Equal(t, int64(180000), Minute.Next(179999))
	require.Equal(t, int64(-60000), Minute.Round(-1))
	require.Equal(t, int64(0), All.Round(123456))
	require.Equal(t, int64(math.MaxInt64), All.Next(1))
	require.Equal(t, 30*Day.Interval(), Month.Interval())

	r, ok := ParseResolution("FIVE_MINUTES")
	require.True(t, ok)
	require.Equal(t, FiveMinutes, r)
	_, ok = ParseResolution("fortnight")
	require.False(t, ok)

	var parsed Resolution
	require.NoError(t, parsed.UnmarshalText([]byte("hour")))
	require.Equal(t, Hour, parsed)
	require.Error(t, parsed.UnmarshalText([]byte("never")))

	all := Resolutions()
	require.Equal(t, All, all[0])
	for i := 2; i < len(all); i++ {
		require.Less(t, all[i-1].Interval(), all[i].Interval(), all[i].String())
	}
}

func TestCounterPadding(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	app := uuid.New()
	key := Key{User: uuid.New(), Category: "web", Name: "visits"}

	start := int64(1700000000000) / Minute.Interval() * Minute.Interval()
	finish := start + 99*Minute.Interval()
	require.NoError(t, s.IncrementAggregate(ctx, app, key, start+10, 1))
	require.NoError(t, s.IncrementAggregate(ctx, app, key, finish+59999, 2))

	set, err := s.Get(ctx, app, key, Minute, start, finish, true)
	require.NoError(t, err)
	require.Len(t, set.Values, 100)
	zeros := 0
	for i, v := range set.Values {
		require.Equal(t, start+int64(i)*Minute.Interval(), v.Timestamp)
		if v.Value == 0 {
			zeros++
		}
	}
	require.Equal(t, 98, zeros)
	require.Equal(t, int64(1), set.Values[0].Value)
	require.Equal(t, int64(2), set.Values[99].Value)

	set, err = s.Get(ctx, app, key, Minute, start, finish, false)
	require.NoError(t, err)
	require.Len(t, set.Values, 2)

	// every resolution is pre-aggregated
	set, err = s.Get(ctx, app, key, All, 0, 0, true)
	require.NoError(t, err)
	require.Len(t, set.Values, 1)
	require.Equal(t, int64(3), set.Values[0].Value)

	set, err = s.Get(ctx, app, key, Day, start, finish, false)
	require.NoError(t, err)
	total := int64(0)
	for _, v := range set.Values {
		total += v.Value
	}
	require.Equal(t, int64(3), total)

	// other series stay apart
	set, err = s.Get(ctx, app, Key{Category: "web", Name: "visits"}, Minute, start, finish, false)
	require.NoError(t, err)
	require.Empty(t, set.Values)

	_, err = s.Get(ctx, app, key, Minute, finish, start, false)
	require.True(t, errors.IsIllegalArgument(err))
	_, err = s.Get(ctx, app, key, Minute, 0, finish, true)
	require.True(t, errors.IsIllegalArgument(err))
}

func TestConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	app := uuid.New()
	key := Key{Name: "clicks"}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			require.NoError(t, s.IncrementAggregate(ctx, app, key, int64(i)*1000, 1))
		}(i)
	}
	wg.Wait()
	set, err := s.Get(ctx, app, key, Minute, 0, 0, false)
	require.NoError(t, err)
	require.Equal(t, int64(10), set.Values[0].Value)

	names, err := s.Names(ctx, app)
	require.NoError(t, err)
	require.Equal(t, []string{"clicks"}, names)
}

func TestNamedCounters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	app, entity := uuid.New(), uuid.New()

	n, err := s.IncrementApplication(ctx, app, "logins", 2)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	n, err = s.IncrementApplication(ctx, app, "logins", -1)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, err = s.IncrementEntity(ctx, app, entity, "likes", 5)
	require.NoError(t, err)
	_, err = s.IncrementEntity(ctx, app, entity, "shares", 1)
	require.NoError(t, err)

	counters, err := s.ApplicationCounters(ctx, app)
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"logins": 1}, counters)

	counters, err = s.EntityCounters(ctx, app, entity)
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"likes": 5, "shares": 1}, counters)

	batch := s.kv.NewWriteBatch()
	s.DeleteEntityCounters(app, entity, batch)
	require.NoError(t, s.kv.Write(ctx, batch, s.kv.NewWriteOption()))
	counters, err = s.EntityCounters(ctx, app, entity)
	require.NoError(t, err)
	require.Empty(t, counters)

	_, err = s.IncrementEntity(ctx, app, entity, "", 1)
	require.True(t, errors.IsIllegalArgument(err))
}
