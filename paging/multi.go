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

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"golang.org/x/sync/errgroup"

	"github.com/cubefs/entitydb/errors"
	"github.com/cubefs/entitydb/proto"
	"github.com/cubefs/entitydb/query"
)

// DefaultPrefetch is how many sources get their first page fetched at once.
const DefaultPrefetch = 4

// Sources yields the owners a MultiQueryIterator runs its query in.
type Sources interface {
	Next() bool
	Ref() proto.EntityRef
	Err() error
}

type refSlice struct {
	refs []proto.EntityRef
	pos  int
}

// RefSlice serves a fixed list of sources.
func RefSlice(refs ...proto.EntityRef) Sources {
	return &refSlice{refs: refs, pos: -1}
}

func (r *refSlice) Next() bool {
	if r.pos+1 >= len(r.refs) {
		return false
	}
	r.pos++
	return true
}

func (r *refSlice) Ref() proto.EntityRef { return r.refs[r.pos] }

func (r *refSlice) Err() error { return nil }

type entitySources struct {
	Iterator
}

// EntitySources uses the entities of it as sources.
func EntitySources(it Iterator) Sources { return entitySources{it} }

func (e entitySources) Ref() proto.EntityRef { return e.Entity().Ref() }

type sourceIterator struct {
	owner proto.EntityRef
	it    *PagingResultsIterator
}

// MultiQueryIterator runs one query in every source and yields the
// results as one sequence, source after source. Sources whose first page
// is empty are skipped. Sources are read in batches of prefetch whose
// first pages are fetched concurrently, further pages are fetched when
// the caller gets there.
type MultiQueryIterator struct {
	ctx      context.Context
	searcher Searcher
	sources  Sources
	q        *query.Query
	prefetch int

	queue   []sourceIterator
	cur     sourceIterator
	drained bool
	skipped int
	err     error
}

func NewMultiQueryIterator(ctx context.Context, s Searcher, sources Sources, q *query.Query, prefetch int) (*MultiQueryIterator, error) {
	if q == nil || !q.HasScope() {
		return nil, errors.Wrap(errors.ErrMissingQueryScope, "multi source query needs a collection or connection type")
	}
	if prefetch <= 0 {
		prefetch = DefaultPrefetch
	}
	return &MultiQueryIterator{ctx: ctx, searcher: s, sources: sources, q: q.Clone().WithCursor(""), prefetch: prefetch}, nil
}

func (m *MultiQueryIterator) Next() bool {
	for m.err == nil {
		if m.cur.it != nil {
			if m.cur.it.Next() {
				return true
			}
			if err := m.cur.it.Err(); err != nil {
				m.err = err
				return false
			}
			m.cur = sourceIterator{}
		}
		if len(m.queue) == 0 && !m.fill() {
			return false
		}
		m.cur, m.queue = m.queue[0], m.queue[1:]
	}
	return false
}

// fill fetches first pages until one non empty source is queued.
func (m *MultiQueryIterator) fill() bool {
	span := trace.SpanFromContextSafe(m.ctx)
	for len(m.queue) == 0 {
		if m.drained {
			return false
		}
		if err := m.ctx.Err(); err != nil {
			m.err = err
			return false
		}
		owners := make([]proto.EntityRef, 0, m.prefetch)
		for len(owners) < m.prefetch && m.sources.Next() {
			owners = append(owners, m.sources.Ref())
		}
		if err := m.sources.Err(); err != nil {
			m.err = err
			return false
		}
		if len(owners) < m.prefetch {
			m.drained = true
		}
		if len(owners) == 0 {
			return false
		}

		firsts := make([]*proto.Results, len(owners))
		g, ctx := errgroup.WithContext(m.ctx)
		for i := range owners {
			i := i
			g.Go(func() error {
				res, err := m.searcher.Search(ctx, owners[i], m.q.Clone())
				if err != nil {
					return err
				}
				firsts[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			span.Warnf("multi source query %q failed: %s", m.q.String(), err)
			m.err = err
			return false
		}
		for i, first := range firsts {
			it := NewPagingResultsIterator(m.ctx, first, pageFetcher(m.searcher, owners[i], m.q))
			if it.empty() {
				m.skipped++
				continue
			}
			m.queue = append(m.queue, sourceIterator{owner: owners[i], it: it})
		}
		span.Debugf("multi source query %q: %d of %d sources non empty", m.q.String(), len(m.queue), len(owners))
	}
	return true
}

func (m *MultiQueryIterator) Entity() *proto.Entity {
	if m.cur.it == nil {
		return nil
	}
	return m.cur.it.Entity()
}

// Source is the owner the current entity was found in.
func (m *MultiQueryIterator) Source() proto.EntityRef { return m.cur.owner }

func (m *MultiQueryIterator) Err() error { return m.err }

// Skipped counts the sources that returned nothing.
func (m *MultiQueryIterator) Skipped() int { return m.skipped }

// PathQuery chains queries: the results of each step are the sources of
// the next, e.g. the groups of a user, then their members, then the
// devices of those members.
type PathQuery struct {
	parent *PathQuery
	head   proto.EntityRef
	q      *query.Query
}

// NewPathQuery starts a path at head.
func NewPathQuery(head proto.EntityRef, q *query.Query) *PathQuery {
	return &PathQuery{head: head, q: q}
}

// Chain runs q in every result of p.
func (p *PathQuery) Chain(q *query.Query) *PathQuery {
	return &PathQuery{parent: p, q: q}
}

// Iterator walks the last step. Intermediate steps only load refs.
func (p *PathQuery) Iterator(ctx context.Context, s Searcher) (Iterator, error) {
	if p.q == nil || !p.q.HasScope() {
		return nil, errors.Wrap(errors.ErrMissingQueryScope, "path step needs a collection or connection type")
	}
	if p.parent == nil {
		return Search(ctx, s, p.head, p.q), nil
	}
	sources, err := p.parent.refsOnly().Iterator(ctx, s)
	if err != nil {
		return nil, err
	}
	return NewMultiQueryIterator(ctx, s, EntitySources(sources), p.q, DefaultPrefetch)
}

func (p *PathQuery) refsOnly() *PathQuery {
	c := *p
	if p.q != nil {
		c.q = p.q.Clone().WithLevel(proto.LevelRefs)
	}
	return &c
}
