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

package paging

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/cubefs/entitydb/errors"
	"github.com/cubefs/entitydb/proto"
	"github.com/cubefs/entitydb/query"
)

// fakeSearcher pages fixed member lists, the cursor is the next offset.
type fakeSearcher struct {
	mu      sync.Mutex
	members map[uuid.UUID][]*proto.Entity
	limit   int
	calls   int
	fail    uuid.UUID
}

func (f *fakeSearcher) Search(ctx context.Context, owner proto.EntityRef, q *query.Query) (*proto.Results, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if owner.UUID == f.fail {
		return nil, errors.NewStoreError(fmt.Errorf("disk on fire"), "search")
	}
	all := f.members[owner.UUID]
	from := 0
	if q.Cursor != "" {
		n, err := strconv.Atoi(q.Cursor)
		if err != nil {
			return nil, err
		}
		from = n
	}
	to := from + f.limit
	res := &proto.Results{Level: q.Level}
	if to < len(all) {
		res.Cursor = strconv.Itoa(to)
	} else {
		to = len(all)
	}
	res.Entities = all[from:to]
	return res, nil
}

func makeEntities(prefix string, n int) []*proto.Entity {
	out := make([]*proto.Entity, n)
	for i := range out {
		e := proto.NewEntity(uuid.New(), "item")
		e.Properties.Set("name", proto.String(fmt.Sprintf("%s%d", prefix, i)))
		out[i] = e
	}
	return out
}

func names(entities []*proto.Entity) []string {
	out := make([]string, len(entities))
	for i, e := range entities {
		out[i] = e.Name()
	}
	return out
}

func TestPagingResultsIterator(t *testing.T) {
	owner := proto.NewRef("user", uuid.New())
	all := makeEntities("e", 7)
	f := &fakeSearcher{members: map[uuid.UUID][]*proto.Entity{owner.UUID: all}, limit: 3}

	it := Search(context.Background(), f, owner, query.New().InCollection("items"))
	got, err := Collect(it, 0)
	require.NoError(t, err)
	require.Equal(t, names(all), names(got))
	require.Equal(t, 3, it.Pages())
	require.False(t, it.Next())
	require.Equal(t, 3, f.calls)

	// a page without entities but with a cursor is crossed
	first := &proto.Results{Cursor: "3"}
	it = NewPagingResultsIterator(context.Background(), first, pageFetcher(f, owner, query.New().InCollection("items")))
	got, err = Collect(it, 0)
	require.NoError(t, err)
	require.Equal(t, names(all[3:]), names(got))

	got, err = Collect(Search(context.Background(), f, owner, query.New().InCollection("items")), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestPagingResultsIteratorCancel(t *testing.T) {
	owner := proto.NewRef("user", uuid.New())
	f := &fakeSearcher{members: map[uuid.UUID][]*proto.Entity{owner.UUID: makeEntities("e", 10)}, limit: 2}
	ctx, cancel := context.WithCancel(context.Background())

	it := Search(ctx, f, owner, query.New().InCollection("items"))
	require.True(t, it.Next())
	require.True(t, it.Next())
	cancel()
	require.False(t, it.Next())
	require.ErrorIs(t, it.Err(), context.Canceled)
	require.Equal(t, 1, f.calls)
}

func TestMultiQueryIterator(t *testing.T) {
	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	f := &fakeSearcher{
		members: map[uuid.UUID][]*proto.Entity{
			b: makeEntities("b", 2),
			d: makeEntities("d", 5),
		},
		limit: 2,
	}
	sources := RefSlice(proto.NewRef("group", a), proto.NewRef("group", b), proto.NewRef("group", c), proto.NewRef("group", d))
	it, err := NewMultiQueryIterator(context.Background(), f, sources, query.New().InCollection("users"), 2)
	require.NoError(t, err)

	var got []string
	for it.Next() {
		got = append(got, it.Entity().Name())
		if got[len(got)-1][0] == 'b' {
			require.Equal(t, b, it.Source().UUID)
		} else {
			require.Equal(t, d, it.Source().UUID)
		}
	}
	require.NoError(t, it.Err())
	require.Equal(t, []string{"b0", "b1", "d0", "d1", "d2", "d3", "d4"}, got)
	require.Equal(t, 2, it.Skipped())
	require.Nil(t, it.Entity())

	_, err = NewMultiQueryIterator(context.Background(), f, sources, query.New(), 2)
	require.ErrorIs(t, err, errors.ErrMissingQueryScope)

	it, err = NewMultiQueryIterator(context.Background(), f, RefSlice(), query.New().InCollection("users"), 0)
	require.NoError(t, err)
	require.False(t, it.Next())
	require.NoError(t, it.Err())
}

func TestMultiQueryIteratorErrors(t *testing.T) {
	a, bad := uuid.New(), uuid.New()
	f := &fakeSearcher{members: map[uuid.UUID][]*proto.Entity{a: makeEntities("a", 1)}, limit: 2, fail: bad}
	it, err := NewMultiQueryIterator(context.Background(), f,
		RefSlice(proto.NewRef("group", a), proto.NewRef("group", bad)), query.New().InCollection("users"), 1)
	require.NoError(t, err)
	require.True(t, it.Next())
	require.False(t, it.Next())
	require.True(t, errors.IsStoreError(it.Err()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	it, err = NewMultiQueryIterator(ctx, f, RefSlice(proto.NewRef("group", a)), query.New().InCollection("users"), 1)
	require.NoError(t, err)
	require.False(t, it.Next())
	require.ErrorIs(t, it.Err(), context.Canceled)
}

func TestPathQueryNeedsScope(t *testing.T) {
	f := &fakeSearcher{limit: 1}
	_, err := NewPathQuery(proto.NewRef("user", uuid.New()), query.New()).Iterator(context.Background(), f)
	require.ErrorIs(t, err, errors.ErrMissingQueryScope)

	p := NewPathQuery(proto.NewRef("user", uuid.New()), query.New().InCollection("groups")).Chain(query.New())
	_, err = p.Iterator(context.Background(), f)
	require.ErrorIs(t, err, errors.ErrMissingQueryScope)
}
