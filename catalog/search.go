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

package catalog

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cubefs/entitydb/common/kvstore"
	"github.com/cubefs/entitydb/errors"
	"github.com/cubefs/entitydb/index"
	"github.com/cubefs/entitydb/metrics"
	"github.com/cubefs/entitydb/proto"
	"github.com/cubefs/entitydb/query"
	"github.com/cubefs/entitydb/store"
)

type scanRow struct {
	// pos is the key after the bucket prefix, it orders rows across
	// buckets and becomes the cursor position.
	pos    []byte
	id     uuid.UUID
	suffix string
}

// membership rows: member id then the edge suffix
func decodeMembershipRow(pos []byte) (uuid.UUID, string, bool) {
	if len(pos) < uuidLen {
		return uuid.Nil, "", false
	}
	var id uuid.UUID
	copy(id[:], pos[:uuidLen])
	return id, string(pos[uuidLen:]), true
}

// value and keyword rows: encoded value then the entity id
func decodeValueRow(pos []byte) (uuid.UUID, string, bool) {
	if len(pos) < uuidLen {
		return uuid.Nil, "", false
	}
	var id uuid.UUID
	copy(id[:], pos[len(pos)-uuidLen:])
	return id, "", true
}

// bucketScan walks one bucket of a key range. start is inclusive and end
// exclusive, both are full keys and nil means the bucket edge.
type bucketScan struct {
	lr     kvstore.ListReader
	prefix []byte
	start  []byte
	end    []byte
	desc   bool
	decode func(pos []byte) (uuid.UUID, string, bool)
	head   *scanRow
}

func (b *bucketScan) advance() error {
	for {
		var (
			k   []byte
			err error
		)
		if b.desc {
			k, _, err = b.lr.ReadPrevCopy()
		} else {
			k, _, err = b.lr.ReadNextCopy()
		}
		if err != nil {
			return errors.NewStoreError(err, "scan index")
		}
		if k == nil || (!b.desc && b.end != nil && bytes.Compare(k, b.end) >= 0) ||
			(b.desc && b.start != nil && bytes.Compare(k, b.start) < 0) {
			b.head = nil
			return nil
		}
		if b.desc && b.end != nil && bytes.Compare(k, b.end) >= 0 {
			continue
		}
		metrics.QueryRowsScanned.Inc()
		pos := k[len(b.prefix):]
		id, suffix, ok := b.decode(pos)
		if !ok {
			continue
		}
		b.head = &scanRow{pos: pos, id: id, suffix: suffix}
		return nil
	}
}

// mergeScan merges the bucket scans of one range into a single ordered
// stream. Each bucket is read lazily, one row ahead.
type mergeScan struct {
	ro    kvstore.ReadOption
	scans []*bucketScan
	desc  bool
}

func concatKey(a, b []byte) []byte {
	k := make([]byte, 0, len(a)+len(b)+1)
	k = append(k, a...)
	return append(k, b...)
}

func (em *EntityManager) openMerge(ctx context.Context, prefixes [][]byte, r query.KeyRange, after []byte, desc bool,
	decode func([]byte) (uuid.UUID, string, bool),
) (*mergeScan, error) {
	m := &mergeScan{ro: em.kv.NewReadOption(), scans: make([]*bucketScan, len(prefixes)), desc: desc}
	var g errgroup.Group
	g.SetLimit(em.cfg.ScanConcurrency)
	for i := range prefixes {
		i := i
		g.Go(func() error {
			prefix := prefixes[i]
			b := &bucketScan{prefix: prefix, desc: desc, decode: decode}
			if r.Start != nil {
				b.start = concatKey(prefix, r.Start)
			}
			if r.End != nil {
				b.end = concatKey(prefix, r.End)
			}
			if after != nil {
				cut := concatKey(prefix, after)
				if desc {
					if b.end == nil || bytes.Compare(cut, b.end) < 0 {
						b.end = cut
					}
				} else {
					cut = append(cut, 0)
					if b.start == nil || bytes.Compare(cut, b.start) > 0 {
						b.start = cut
					}
				}
			}
			if desc {
				b.lr = em.kv.List(ctx, store.IndexCF, prefix, nil, m.ro)
				if b.end != nil {
					b.lr.SeekForPrev(b.end)
				} else {
					b.lr.SeekToLast()
				}
			} else {
				b.lr = em.kv.List(ctx, store.IndexCF, prefix, b.start, m.ro)
			}
			m.scans[i] = b
			return b.advance()
		})
	}
	if err := g.Wait(); err != nil {
		m.close()
		return nil, err
	}
	return m, nil
}

func (m *mergeScan) next() (*scanRow, error) {
	var best *bucketScan
	for _, b := range m.scans {
		if b.head == nil {
			continue
		}
		if best == nil {
			best = b
			continue
		}
		c := bytes.Compare(b.head.pos, best.head.pos)
		if (!m.desc && c < 0) || (m.desc && c > 0) {
			best = b
		}
	}
	if best == nil {
		return nil, nil
	}
	row := best.head
	return row, best.advance()
}

func (m *mergeScan) close() {
	for _, b := range m.scans {
		if b != nil && b.lr != nil {
			b.lr.Close()
		}
	}
	m.ro.Close()
}

// rangeScan chains the merge scans of several ranges, in reverse when
// descending. Only one range is open at a time.
type rangeScan struct {
	em       *EntityManager
	ctx      context.Context
	prefixes [][]byte
	ranges   []query.KeyRange
	after    []byte
	desc     bool
	decode   func([]byte) (uuid.UUID, string, bool)
	cur      *mergeScan
}

func (r *rangeScan) next() (*scanRow, error) {
	for {
		if r.cur == nil {
			if len(r.ranges) == 0 {
				return nil, nil
			}
			var kr query.KeyRange
			if r.desc {
				kr, r.ranges = r.ranges[len(r.ranges)-1], r.ranges[:len(r.ranges)-1]
			} else {
				kr, r.ranges = r.ranges[0], r.ranges[1:]
			}
			cur, err := r.em.openMerge(r.ctx, r.prefixes, kr, r.after, r.desc, r.decode)
			if err != nil {
				return nil, err
			}
			r.cur = cur
		}
		row, err := r.cur.next()
		if err != nil || row != nil {
			return row, err
		}
		r.cur.close()
		r.cur = nil
	}
}

func (r *rangeScan) close() {
	if r.cur != nil {
		r.cur.close()
		r.cur = nil
	}
}

type hit struct {
	e        *proto.Entity
	pos      []byte
	suffix   string
	distance float64
}

func (em *EntityManager) pageSize(limit int) int {
	switch {
	case limit <= 0:
		return em.cfg.DefaultPageSize
	case limit > em.cfg.MaxPageSize:
		return em.cfg.MaxPageSize
	}
	return limit
}

// Search runs q inside the collection or the outgoing connection type of
// owner that q names.
func (em *EntityManager) Search(ctx context.Context, owner proto.EntityRef, q *query.Query) (res *proto.Results, err error) {
	start := time.Now()
	defer func() { em.observe("search", start, err) }()

	if q == nil {
		return nil, errors.Wrap(errors.ErrMissingQueryScope, "no query")
	}
	var s scope
	switch {
	case q.Collection != "":
		s = collectionScope(owner.UUID, q.Collection)
	case q.ConnectionType != "":
		s = connectionScope(owner.UUID, q.ConnectionType, true)
	default:
		return nil, errors.Wrap(errors.ErrMissingQueryScope, "%q", q.String())
	}
	return em.execute(ctx, s, q)
}

func (em *EntityManager) execute(ctx context.Context, s scope, q *query.Query) (*proto.Results, error) {
	span := trace.SpanFromContextSafe(ctx)
	plan, err := q.Compile()
	if err != nil {
		return nil, err
	}
	cur, err := plan.ResumeCursor(s.encode(), q.Cursor)
	if err != nil {
		return nil, err
	}
	limit := em.pageSize(q.Limit)

	var (
		hits []hit
		next string
	)
	if plan.Geo != nil {
		hits, next, err = em.geoScan(ctx, s, plan, cur, limit, q.EntityType)
	} else {
		hits, next, err = em.indexScan(ctx, s, plan, cur, limit, q.EntityType)
	}
	if err != nil {
		span.Warnf("query %q over %s failed: %s", q.String(), s.path(), err)
		return nil, err
	}
	if plan.SecondarySort {
		sortHits(hits, plan.Sorts)
	}
	span.Debugf("query %q over %s returned %d, more: %v", q.String(), s.path(), len(hits), next != "")
	return &proto.Results{Level: q.Level, Entities: em.project(s, hits, q, plan.Geo != nil), Cursor: next}, nil
}

func (em *EntityManager) indexScan(ctx context.Context, s scope, plan *query.Plan, cur *query.Cursor, limit int,
	entityType string,
) ([]hit, string, error) {
	src := &rangeScan{em: em, ctx: ctx, desc: plan.Desc}
	if cur != nil {
		src.after = cur.Position
	}
	valueScan := plan.Primary != nil && s.indexed()
	if primary := plan.Primary; !valueScan {
		for _, b := range em.locator.Buckets(em.app, index.TypeMembership, s.path()) {
			src.prefixes = append(src.prefixes, em.keys.membershipBucket(s, b))
		}
		src.ranges = []query.KeyRange{{}}
		src.decode = decodeMembershipRow
	} else {
		family := byte(familyProperty)
		if primary.Kind == query.SliceKeyword {
			family = familyKeyword
		}
		for _, b := range em.locator.Buckets(em.app, familyIndexType[family], s.path(), primary.Property) {
			src.prefixes = append(src.prefixes, em.keys.propertyBucket(family, s, primary.Property, b))
		}
		src.ranges = primary.Ranges()
		src.decode = decodeValueRow
	}
	defer src.close()

	var hits []hit
	seen := make(map[string]struct{})
	for len(hits) <= limit {
		if err := ctx.Err(); err != nil {
			return nil, "", errors.NewStoreError(err, "query")
		}
		want := limit + 1 - len(hits)
		rows := make([]*scanRow, 0, want)
		for len(rows) < want {
			row, err := src.next()
			if err != nil {
				return nil, "", err
			}
			if row == nil {
				break
			}
			rows = append(rows, row)
		}
		if len(rows) == 0 {
			break
		}
		ids := make([]uuid.UUID, len(rows))
		for i, row := range rows {
			ids[i] = row.id
		}
		entities, err := em.loadMany(ctx, ids)
		if err != nil {
			return nil, "", err
		}
		for i, row := range rows {
			e := entities[i]
			// dangling edge or a row racing a delete
			if e == nil {
				continue
			}
			key := string(row.id[:]) + row.suffix
			if _, ok := seen[key]; ok {
				continue
			}
			// a multi-valued property has a row per value, keep only the
			// first one in scan order so later pages skip the entity
			if valueScan && !bytes.Equal(row.pos[:len(row.pos)-uuidLen],
				plan.Primary.FirstKey(query.PropertyValues(e, plan.Primary.Property), plan.Desc)) {
				continue
			}
			if entityType != "" && !strings.EqualFold(entityType, e.Type) {
				continue
			}
			if !plan.Match(e) {
				continue
			}
			seen[key] = struct{}{}
			hits = append(hits, hit{e: e, pos: row.pos, suffix: row.suffix})
			if len(hits) > limit {
				break
			}
		}
		if len(rows) < want {
			break
		}
	}

	if len(hits) <= limit {
		return hits, "", nil
	}
	next := plan.NewCursor(s.encode(), hits[limit-1].pos, 0).Encode()
	return hits[:limit], next, nil
}

type geoCandidate struct {
	id       uuid.UUID
	distance float64
	checked  bool
	e        *proto.Entity
}

// geoScan widens the search ring by ring until the page is certain: enough
// matches lie within the radius every scanned ring fully covers, or the
// whole radius is scanned.
func (em *EntityManager) geoScan(ctx context.Context, s scope, plan *query.Plan, cur *query.Cursor, limit int,
	entityType string,
) ([]hit, string, error) {
	g := plan.Geo
	if g.Distance > em.cfg.GeoMaxRadius {
		return nil, "", errors.Wrap(errors.ErrInvalidQuery, "radius %g exceeds %g", g.Distance, em.cfg.GeoMaxRadius)
	}
	if !s.indexed() {
		return nil, "", errors.Wrap(errors.ErrInvalidQuery, "geo search needs a collection or a connection type")
	}
	prop := strings.ToLower(g.Property)
	search := query.NewGeoSearch(g.Latitude, g.Longitude, g.Distance)
	buckets := em.locator.Buckets(em.app, index.TypeGeo, s.path(), prop)

	past := func(c *geoCandidate) bool {
		if cur == nil {
			return true
		}
		return c.distance > cur.Distance || (c.distance == cur.Distance && bytes.Compare(c.id[:], cur.Position) > 0)
	}
	var (
		lock  sync.Mutex
		cands = make(map[uuid.UUID]*geoCandidate)
	)
	for k := 0; k <= search.MaxRing(); k++ {
		if err := ctx.Err(); err != nil {
			return nil, "", errors.NewStoreError(err, "geo query")
		}
		var eg errgroup.Group
		eg.SetLimit(em.cfg.ScanConcurrency)
		for _, c := range search.Ring(k) {
			for _, b := range buckets {
				prefix := em.keys.geoCell(s, prop, b, c)
				eg.Go(func() error {
					return em.scanGeoCell(ctx, prefix, func(id uuid.UUID, lat, lon float64) {
						d := query.Distance(g.Latitude, g.Longitude, lat, lon)
						if d > g.Distance {
							return
						}
						lock.Lock()
						if _, ok := cands[id]; !ok {
							cands[id] = &geoCandidate{id: id, distance: d}
						}
						lock.Unlock()
					})
				})
			}
		}
		if err := eg.Wait(); err != nil {
			return nil, "", err
		}

		var pending []*geoCandidate
		for _, c := range cands {
			if !c.checked && past(c) {
				pending = append(pending, c)
			}
		}
		if err := em.checkGeoCandidates(ctx, plan, entityType, pending); err != nil {
			return nil, "", err
		}
		covered, matched := search.Guaranteed(k), 0
		for _, c := range cands {
			if c.e != nil && past(c) && c.distance <= covered {
				matched++
			}
		}
		if matched > limit {
			break
		}
	}

	var page []*geoCandidate
	for _, c := range cands {
		if c.e != nil && past(c) {
			page = append(page, c)
		}
	}
	sort.Slice(page, func(i, j int) bool {
		if page[i].distance != page[j].distance {
			return page[i].distance < page[j].distance
		}
		return bytes.Compare(page[i].id[:], page[j].id[:]) < 0
	})
	next := ""
	if len(page) > limit {
		last := page[limit-1]
		next = plan.NewCursor(s.encode(), append([]byte(nil), last.id[:]...), last.distance).Encode()
		page = page[:limit]
	}
	hits := make([]hit, len(page))
	for i, c := range page {
		hits[i] = hit{e: c.e, pos: c.id[:], distance: c.distance}
	}
	return hits, next, nil
}

func (em *EntityManager) scanGeoCell(ctx context.Context, prefix []byte, visit func(id uuid.UUID, lat, lon float64)) error {
	ro := em.kv.NewReadOption()
	defer ro.Close()
	lr := em.kv.List(ctx, store.IndexCF, prefix, nil, ro)
	defer lr.Close()
	for {
		k, v, err := lr.ReadNextCopy()
		if err != nil {
			return errors.NewStoreError(err, "scan geo cell")
		}
		if k == nil {
			return nil
		}
		metrics.QueryRowsScanned.Inc()
		if len(k) != len(prefix)+uuidLen {
			continue
		}
		lat, lon, ok := decodePoint(v)
		if !ok {
			continue
		}
		var id uuid.UUID
		copy(id[:], k[len(prefix):])
		visit(id, lat, lon)
	}
}

func (em *EntityManager) checkGeoCandidates(ctx context.Context, plan *query.Plan, entityType string, pending []*geoCandidate) error {
	if len(pending) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(pending))
	for i, c := range pending {
		ids[i] = c.id
	}
	entities, err := em.loadMany(ctx, ids)
	if err != nil {
		return err
	}
	for i, c := range pending {
		c.checked = true
		e := entities[i]
		if e == nil || (entityType != "" && !strings.EqualFold(entityType, e.Type)) || !plan.Match(e) {
			continue
		}
		c.e = e
	}
	return nil
}

// sortHits stably orders a page by every sort clause, missing values last.
func sortHits(hits []hit, sorts []query.Sort) {
	first := func(e *proto.Entity, name string) (proto.Value, bool) {
		values := query.PropertyValues(e, name)
		if len(values) == 0 {
			return proto.Null(), false
		}
		return values[0], true
	}
	sort.SliceStable(hits, func(i, j int) bool {
		for _, srt := range sorts {
			a, aok := first(hits[i].e, srt.Property)
			b, bok := first(hits[j].e, srt.Property)
			var c int
			switch {
			case !aok && !bok:
			case !aok:
				return false
			case !bok:
				return true
			default:
				c = query.Compare(a, b)
			}
			if c == 0 {
				continue
			}
			if srt.Direction == query.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// project trims every hit to the requested level and selection.
func (em *EntityManager) project(s scope, hits []hit, q *query.Query, geo bool) []*proto.Entity {
	out := make([]*proto.Entity, 0, len(hits))
	for _, h := range hits {
		if q.Level < proto.LevelCoreProperties {
			stub := proto.NewEntity(h.e.UUID, h.e.Type)
			stub.Typed = h.e.Typed
			out = append(out, stub)
			continue
		}
		e := h.e
		if q.Level == proto.LevelCoreProperties {
			e.Properties = em.basicProperties(e)
		}
		if len(q.Select) > 0 {
			e.Properties = selectProperties(e.Properties, q.Select)
		}
		if q.Level >= proto.LevelLinkedProperties {
			e.Metadata = linkMetadata(s, h, geo)
		}
		out = append(out, e)
	}
	return out
}

func (em *EntityManager) basicProperties(e *proto.Entity) *proto.Properties {
	out := proto.NewProperties()
	e.Properties.Range(func(name string, v proto.Value) bool {
		if p, ok := em.registry.Property(e.Type, name); ok && p.Basic {
			out.Set(name, v)
		}
		return true
	})
	return out
}

func selectProperties(props *proto.Properties, names []string) *proto.Properties {
	out := proto.NewProperties()
	for _, name := range names {
		if name == "*" {
			return props
		}
		if v, ok := props.Get(name); ok {
			stored, _ := props.Name(name)
			out.Set(stored, v)
		}
	}
	return out
}

func linkMetadata(s scope, h hit, geo bool) *proto.Properties {
	md := proto.NewProperties()
	switch s.kind {
	case scopeCollection:
		md.Set("collection", proto.String(s.name))
		md.Set("owner", proto.UUID(s.owner))
	case scopeOutgoing, scopeAnyOutgoing:
		md.Set("connection", proto.String(s.name+h.suffix))
		md.Set("connecting", proto.UUID(s.owner))
	case scopeIncoming, scopeAnyIncoming:
		md.Set("connection", proto.String(s.name+h.suffix))
		md.Set("connected", proto.UUID(s.owner))
	}
	if geo {
		md.Set("distance", proto.Number(h.distance))
	}
	return md
}
