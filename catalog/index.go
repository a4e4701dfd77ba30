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
	"strings"

	"github.com/google/uuid"

	"github.com/cubefs/entitydb/common/kvstore"
	"github.com/cubefs/entitydb/errors"
	"github.com/cubefs/entitydb/index"
	"github.com/cubefs/entitydb/proto"
	"github.com/cubefs/entitydb/query"
	"github.com/cubefs/entitydb/store"
)

// indexRows returns the value, keyword and geo rows e contributes to s,
// keyed by row key. A nil entity has no rows.
func (em *EntityManager) indexRows(s scope, e *proto.Entity) map[string][]byte {
	rows := make(map[string][]byte)
	if e == nil || !s.indexed() {
		return rows
	}
	path := s.path()
	addValue := func(name string, v proto.Value) {
		b := em.locator.Bucket(em.app, index.TypeProperty, e.UUID, path, name)
		rows[string(em.keys.property(familyProperty, s, name, b, query.EncodeValue(v), e.UUID))] = nil
	}

	addValue(proto.PropertyUUID, proto.UUID(e.UUID))
	addValue(proto.PropertyType, proto.String(e.Type))
	addValue(proto.PropertyCreated, proto.TimeMillis(e.Created))
	addValue(proto.PropertyModified, proto.TimeMillis(e.Modified))
	query.Flatten(e.Properties, func(name string, v proto.Value) {
		top := name
		if i := strings.IndexByte(name, '.'); i >= 0 {
			top = name[:i]
		}
		if !em.registry.IsIndexed(e.Type, top) {
			return
		}
		addValue(name, v)
		str, ok := v.AsString()
		if !ok || !em.registry.IsFulltext(e.Type, top) {
			return
		}
		b := em.locator.Bucket(em.app, index.TypeKeyword, e.UUID, path, name)
		for _, kw := range query.Keywords(str) {
			rows[string(em.keys.property(familyKeyword, s, name, b, query.EncodeKeyword(kw, false), e.UUID))] = nil
		}
	})
	e.Properties.Range(func(name string, v proto.Value) bool {
		if v.Kind() != proto.KindMap || !em.registry.IsIndexed(e.Type, name) {
			return true
		}
		lat, lon, ok := query.GeoPoint(v)
		if !ok {
			return true
		}
		name = strings.ToLower(name)
		b := em.locator.Bucket(em.app, index.TypeGeo, e.UUID, path, name)
		point := encodePoint(lat, lon)
		for _, c := range query.CellsAt(lat, lon) {
			rows[string(em.keys.geo(s, name, b, c, e.UUID))] = point
		}
		return true
	})
	return rows
}

// replaceRows turns the rows of prev into the rows of next.
func replaceRows(batch kvstore.WriteBatch, prev, next map[string][]byte) {
	for k := range prev {
		if _, ok := next[k]; !ok {
			batch.Delete(store.IndexCF, []byte(k))
		}
	}
	for k, v := range next {
		if pv, ok := prev[k]; !ok || !bytes.Equal(pv, v) {
			batch.Put(store.IndexCF, []byte(k), v)
		}
	}
}

// joinScope adds e to s. Membership rows hold the member type.
func (em *EntityManager) joinScope(batch kvstore.WriteBatch, s scope, e *proto.Entity, suffix string) {
	b := em.locator.Bucket(em.app, index.TypeMembership, e.UUID, s.path())
	batch.Put(store.IndexCF, em.keys.membership(s, b, e.UUID, suffix), []byte(e.Type))
	if !s.indexed() {
		return
	}
	replaceRows(batch, nil, em.indexRows(s, e))
	batch.Put(store.LedgerCF, em.keys.ledgerScope(e.UUID, s), nil)
}

// leaveScope removes member from s. A nil entity only drops the
// membership row, its property rows went away when it was deleted.
func (em *EntityManager) leaveScope(batch kvstore.WriteBatch, s scope, member uuid.UUID, e *proto.Entity, suffix string) {
	b := em.locator.Bucket(em.app, index.TypeMembership, member, s.path())
	batch.Delete(store.IndexCF, em.keys.membership(s, b, member, suffix))
	if !s.indexed() {
		return
	}
	replaceRows(batch, em.indexRows(s, e), nil)
	batch.Delete(store.LedgerCF, em.keys.ledgerScope(member, s))
}

func (em *EntityManager) isMember(ctx context.Context, s scope, member uuid.UUID, suffix string) (bool, error) {
	b := em.locator.Bucket(em.app, index.TypeMembership, member, s.path())
	ro := em.kv.NewReadOption()
	defer ro.Close()
	_, err := em.kv.GetRaw(ctx, store.IndexCF, em.keys.membership(s, b, member, suffix), ro)
	if err == kvstore.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, errors.NewStoreError(err, "read membership")
	}
	return true, nil
}

// scopeEmpty reports whether s has no member left in any bucket.
func (em *EntityManager) scopeEmpty(ctx context.Context, s scope) (bool, error) {
	ro := em.kv.NewReadOption()
	defer ro.Close()
	lr := em.kv.List(ctx, store.IndexCF, em.keys.membershipPrefix(s), nil, ro)
	defer lr.Close()
	k, _, err := lr.ReadNextCopy()
	if err != nil {
		return false, errors.NewStoreError(err, "list membership")
	}
	return k == nil, nil
}

// scopesOf lists the indexed scopes id is a member of.
func (em *EntityManager) scopesOf(ctx context.Context, id uuid.UUID) ([]scope, error) {
	prefix := em.keys.ledgerPrefix(id, ledgerScope)
	ro := em.kv.NewReadOption()
	defer ro.Close()
	lr := em.kv.List(ctx, store.LedgerCF, prefix, nil, ro)
	defer lr.Close()
	var scopes []scope
	for {
		k, _, err := lr.ReadNextCopy()
		if err != nil {
			return nil, errors.NewStoreError(err, "list scopes")
		}
		if k == nil {
			return scopes, nil
		}
		if s, _, ok := decodeScope(k[len(prefix):]); ok {
			scopes = append(scopes, s)
		}
	}
}

// listOwned visits the membership rows of every collection owner holds.
func (em *EntityManager) listOwned(ctx context.Context, owner uuid.UUID, visit func(s scope, member uuid.UUID)) error {
	prefix := em.keys.ownedPrefix(familyMembership, owner, scopeCollection)
	base := len(em.keys.family(familyMembership))
	ro := em.kv.NewReadOption()
	defer ro.Close()
	lr := em.kv.List(ctx, store.IndexCF, prefix, nil, ro)
	defer lr.Close()
	for {
		k, _, err := lr.ReadNextCopy()
		if err != nil {
			return errors.NewStoreError(err, "list owned collections")
		}
		if k == nil {
			return nil
		}
		s, n, ok := decodeScope(k[base:])
		if !ok || len(k) < base+n+bucketLen+uuidLen {
			continue
		}
		var member uuid.UUID
		copy(member[:], k[base+n+bucketLen:])
		visit(s, member)
	}
}
