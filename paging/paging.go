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

// Package paging walks query results lazily across page boundaries and
// across many source entities.
package paging

import (
	"context"

	"github.com/cubefs/entitydb/proto"
	"github.com/cubefs/entitydb/query"
)

// Searcher runs one page of a scoped query, *catalog.EntityManager is one.
type Searcher interface {
	Search(ctx context.Context, owner proto.EntityRef, q *query.Query) (*proto.Results, error)
}

// Iterator is the pull interface shared by every iterator of the package.
// Next advances and reports whether an entity is available, Err reports
// what stopped the iteration early.
type Iterator interface {
	Next() bool
	Entity() *proto.Entity
	Err() error
}

// FetchFunc loads the page following cursor.
type FetchFunc func(ctx context.Context, cursor string) (*proto.Results, error)

// PagingResultsIterator yields the entities of a page and fetches the
// following pages through their cursors on demand. Nothing is fetched
// once the caller stops calling Next.
type PagingResultsIterator struct {
	ctx   context.Context
	fetch FetchFunc
	page  *proto.Results
	pos   int
	cur   *proto.Entity
	pages int
	err   error
}

// NewPagingResultsIterator starts at first, a nil first fetches the first
// page with an empty cursor on the first Next.
func NewPagingResultsIterator(ctx context.Context, first *proto.Results, fetch FetchFunc) *PagingResultsIterator {
	return &PagingResultsIterator{ctx: ctx, fetch: fetch, page: first, pos: -1}
}

// Search iterates every page of q inside owner.
func Search(ctx context.Context, s Searcher, owner proto.EntityRef, q *query.Query) *PagingResultsIterator {
	return NewPagingResultsIterator(ctx, nil, pageFetcher(s, owner, q))
}

func pageFetcher(s Searcher, owner proto.EntityRef, q *query.Query) FetchFunc {
	return func(ctx context.Context, cursor string) (*proto.Results, error) {
		return s.Search(ctx, owner, q.Clone().WithCursor(cursor))
	}
}

func (it *PagingResultsIterator) Next() bool {
	if it.err != nil {
		return false
	}
	for {
		if it.page == nil {
			if !it.load("") {
				return false
			}
			continue
		}
		if it.pos+1 < len(it.page.Entities) {
			it.pos++
			it.cur = it.page.Entities[it.pos]
			return true
		}
		if it.page.Cursor == "" {
			it.cur = nil
			return false
		}
		if !it.load(it.page.Cursor) {
			return false
		}
	}
}

func (it *PagingResultsIterator) load(cursor string) bool {
	if err := it.ctx.Err(); err != nil {
		it.err = err
		return false
	}
	if it.fetch == nil {
		it.page = &proto.Results{}
		return true
	}
	page, err := it.fetch(it.ctx, cursor)
	if err != nil {
		it.err = err
		return false
	}
	it.page, it.pos = page, -1
	it.pages++
	return true
}

func (it *PagingResultsIterator) Entity() *proto.Entity { return it.cur }

func (it *PagingResultsIterator) Err() error { return it.err }

// Pages counts the pages fetched so far, the initial page excluded.
func (it *PagingResultsIterator) Pages() int { return it.pages }

// empty reports whether the current page holds nothing and no cursor. A
// nil page is unknown and not empty.
func (it *PagingResultsIterator) empty() bool {
	return it.page != nil && len(it.page.Entities) == 0 && it.page.Cursor == ""
}

// Collect drains it into a slice, stopping after max entities when max is
// positive.
func Collect(it Iterator, max int) ([]*proto.Entity, error) {
	var out []*proto.Entity
	for (max <= 0 || len(out) < max) && it.Next() {
		out = append(out, it.Entity())
	}
	return out, it.Err()
}
