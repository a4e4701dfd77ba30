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
	"context"
	"strings"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	blobErrors "github.com/cubefs/cubefs/blobstore/util/errors"
	"github.com/google/uuid"

	"github.com/cubefs/entitydb/common/kvstore"
	"github.com/cubefs/entitydb/counter"
	"github.com/cubefs/entitydb/errors"
	"github.com/cubefs/entitydb/index"
	"github.com/cubefs/entitydb/metrics"
	"github.com/cubefs/entitydb/proto"
	"github.com/cubefs/entitydb/schema"
	"github.com/cubefs/entitydb/store"
	"github.com/cubefs/entitydb/util"
)

// EntityManager is the per application entry point: entities, their
// properties, dictionaries, aliases, collections, connections, queries and
// counters. It keeps no mutable state, concurrent callers only meet in the
// kv store.
type EntityManager struct {
	app      uuid.UUID
	keys     keys
	cfg      *Config
	kv       kvstore.Store
	registry *schema.Registry
	locator  index.BucketLocator
	counters *counter.Store
}

func (em *EntityManager) AppID() uuid.UUID { return em.app }

// ApplicationRef is the owner of the per type application collections.
func (em *EntityManager) ApplicationRef() proto.EntityRef {
	return proto.NewRef(proto.TypeApplication, em.app)
}

func (em *EntityManager) observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = errors.KindOf(err).String()
	}
	metrics.ObserveOp(op, start, status)
}

// Create stores a new entity of entityType and adds it to the application
// collection of its type. Unique values are claimed before the row is
// written and given back when the write fails.
func (em *EntityManager) Create(ctx context.Context, entityType string, props *proto.Properties) (e *proto.Entity, err error) {
	start := time.Now()
	defer func() { em.observe("create", start, err) }()
	span := trace.SpanFromContextSafe(ctx)

	entityType = strings.ToLower(entityType)
	if props == nil {
		props = proto.NewProperties()
	} else {
		props = props.Clone()
	}
	for _, name := range props.Names() {
		if schema.IsCoreProperty(name) {
			props.Delete(name)
		}
	}
	if err = em.registry.ValidateCreate(entityType, props); err != nil {
		return nil, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, errors.NewStoreError(err, "generate entity id")
	}
	now := util.NowMillis()
	e = &proto.Entity{UUID: id, Type: entityType, Created: now, Modified: now, Properties: props}
	_, e.Typed = em.registry.Type(entityType)

	if err = em.commit(ctx, nil, e, collectionScope(em.app, em.registry.CollectionName(entityType))); err != nil {
		span.Warnf("create %s failed: %s", entityType, err)
		return nil, err
	}
	span.Debugf("created %s", e.Ref())
	return e, nil
}

// Get loads an entity by id. A stored type without a registered shape
// comes back untyped.
func (em *EntityManager) Get(ctx context.Context, id uuid.UUID) (e *proto.Entity, err error) {
	start := time.Now()
	defer func() { em.observe("get", start, err) }()
	return em.load(ctx, id)
}

// GetRef loads ref, a type that differs from the stored one is not found.
func (em *EntityManager) GetRef(ctx context.Context, ref proto.EntityRef) (*proto.Entity, error) {
	e, err := em.Get(ctx, ref.UUID)
	if err != nil {
		return nil, err
	}
	if ref.Type != "" && !strings.EqualFold(ref.Type, e.Type) {
		return nil, errors.Wrap(errors.ErrEntityNotFound, "%s is a %s", ref, e.Type)
	}
	return e, nil
}

func (em *EntityManager) load(ctx context.Context, id uuid.UUID) (*proto.Entity, error) {
	ro := em.kv.NewReadOption()
	defer ro.Close()
	raw, err := em.kv.GetRaw(ctx, store.EntityCF, em.keys.entity(id), ro)
	if err == kvstore.ErrNotFound {
		return nil, errors.Wrap(errors.ErrEntityNotFound, "%s", id)
	}
	if err != nil {
		return nil, errors.NewStoreError(blobErrors.Info(err, "get entity", id), "get entity")
	}
	return em.decode(id, raw)
}

// loadMany returns the entities of ids in order, nil where one is missing.
func (em *EntityManager) loadMany(ctx context.Context, ids []uuid.UUID) ([]*proto.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rowKeys := make([][]byte, len(ids))
	for i, id := range ids {
		rowKeys[i] = em.keys.entity(id)
	}
	ro := em.kv.NewReadOption()
	defer ro.Close()
	raws, err := em.kv.MultiGetRaw(ctx, store.EntityCF, rowKeys, ro)
	if err != nil {
		return nil, errors.NewStoreError(blobErrors.Info(err, "multi get entities"), "multi get entities")
	}
	out := make([]*proto.Entity, len(ids))
	for i, raw := range raws {
		if raw == nil {
			continue
		}
		if out[i], err = em.decode(ids[i], raw); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (em *EntityManager) decode(id uuid.UUID, raw []byte) (*proto.Entity, error) {
	e, err := proto.UnmarshalEntity(id, raw)
	if err != nil {
		return nil, errors.NewStoreError(err, "decode entity")
	}
	_, e.Typed = em.registry.Type(e.Type)
	return e, nil
}

// Resolve maps an identifier to a reference inside collection. Names go
// through the alias property of the collection type, emails through the
// unique email property and then the alias property.
func (em *EntityManager) Resolve(ctx context.Context, collection string, id proto.Identifier) (proto.EntityRef, error) {
	entityType := ""
	if collection != "" {
		entityType = em.registry.TypeForCollection(collection)
	}
	switch id.Kind {
	case proto.IdentifierUUID:
		e, err := em.Get(ctx, id.UUID)
		if err != nil {
			return proto.EntityRef{}, err
		}
		if entityType != "" && !strings.EqualFold(e.Type, entityType) {
			return proto.EntityRef{}, errors.Wrap(errors.ErrEntityNotFound, "%s is not in %s", id.UUID, collection)
		}
		return e.Ref(), nil
	case proto.IdentifierName, proto.IdentifierEmail:
	default:
		return proto.EntityRef{}, errors.Wrap(errors.ErrInvalidIdentifier, "%q", id.Value)
	}

	if entityType == "" {
		return proto.EntityRef{}, errors.Wrap(errors.ErrInvalidIdentifier, "%s %q needs a collection", id.Kind, id.Value)
	}
	aliasProp := em.registry.AliasProperty(entityType)
	if id.IsEmail() {
		if p, ok := em.registry.Property(entityType, "email"); ok && p.Unique && !p.Alias {
			ref, err := em.GetAlias(ctx, entityType+".email", id.Value)
			if err == nil || !errors.IsNotFound(err) || aliasProp == "" {
				return ref, err
			}
		}
	}
	if aliasProp == "" {
		return proto.EntityRef{}, errors.Wrap(errors.ErrInvalidIdentifier, "%s has no alias property", entityType)
	}
	return em.GetAlias(ctx, entityType, id.Value)
}

// Update persists every mutable property set on e. Immutable properties
// that are already stored are skipped, a null value removes a property.
func (em *EntityManager) Update(ctx context.Context, e *proto.Entity) (err error) {
	start := time.Now()
	defer func() { em.observe("update", start, err) }()

	prev, err := em.GetRef(ctx, e.Ref())
	if err != nil {
		return err
	}
	next := cloneEntity(prev)
	e.Properties.Range(func(name string, v proto.Value) bool {
		if schema.IsCoreProperty(name) {
			return true
		}
		if !em.registry.IsMutable(prev.Type, name) && prev.Properties.Has(name) {
			return true
		}
		if v, err = em.registry.Coerce(prev.Type, name, v); err != nil {
			return false
		}
		err = em.setValue(next, name, v)
		return err == nil
	})
	if err != nil {
		return err
	}
	if err = em.registry.ValidateJSONSchema(next.Type, next.Properties); err != nil {
		return err
	}
	next.Modified = util.NowMillis()
	if err = em.commit(ctx, prev, next); err != nil {
		return err
	}
	e.Created, e.Modified = next.Created, next.Modified
	return nil
}

// GetProperty returns one property, core properties included.
func (em *EntityManager) GetProperty(ctx context.Context, ref proto.EntityRef, name string) (proto.Value, error) {
	e, err := em.GetRef(ctx, ref)
	if err != nil {
		return proto.Null(), err
	}
	v, ok := e.Property(name)
	if !ok {
		return proto.Null(), errors.Wrap(errors.ErrPropertyNotFound, "%s.%s", ref, name)
	}
	return v, nil
}

// SetProperty writes one property and swaps its index rows in every scope
// the entity belongs to. Override skips mutability and kind checks.
// Concurrent writers of one entity race, the last write wins.
func (em *EntityManager) SetProperty(ctx context.Context, ref proto.EntityRef, name string, v proto.Value, override bool) (err error) {
	start := time.Now()
	defer func() { em.observe("set_property", start, err) }()

	prev, err := em.GetRef(ctx, ref)
	if err != nil {
		return err
	}
	if v, err = em.registry.ValidateSet(prev, name, v, override); err != nil {
		return err
	}
	next := cloneEntity(prev)
	if err = em.setValue(next, name, v); err != nil && !override {
		return err
	}
	if !override {
		if err = em.registry.ValidateJSONSchema(next.Type, next.Properties); err != nil {
			return err
		}
	}
	next.Modified = util.NowMillis()
	return em.commit(ctx, prev, next)
}

// DeleteProperty removes a property, a missing one is not an error.
func (em *EntityManager) DeleteProperty(ctx context.Context, ref proto.EntityRef, name string) (err error) {
	start := time.Now()
	defer func() { em.observe("delete_property", start, err) }()

	if schema.IsCoreProperty(name) {
		return errors.Wrap(errors.ErrImmutableProperty, "%s is maintained by the store", name)
	}
	prev, err := em.GetRef(ctx, ref)
	if err != nil {
		return err
	}
	if !prev.Properties.Has(name) {
		return nil
	}
	if !em.registry.IsMutable(prev.Type, name) {
		return errors.Wrap(errors.ErrImmutableProperty, "%s.%s", prev.Type, name)
	}
	next := cloneEntity(prev)
	if err = em.setValue(next, name, proto.Null()); err != nil {
		return err
	}
	next.Modified = util.NowMillis()
	return em.commit(ctx, prev, next)
}

// setValue applies one coerced value, null deletes.
func (em *EntityManager) setValue(e *proto.Entity, name string, v proto.Value) error {
	if !v.IsNull() {
		e.Properties.Set(name, v)
		return nil
	}
	if p, ok := em.registry.Property(e.Type, name); ok && p.Required {
		return errors.Wrap(errors.ErrRequiredProperty, "%s.%s is required", e.Type, name)
	}
	e.Properties.Delete(name)
	return nil
}

// Delete removes the entity row, its memberships in collections, the
// collections it owns, its index rows in every scope, aliases,
// dictionaries and counters. Connection edges to and from it stay behind
// and traversal skips them.
func (em *EntityManager) Delete(ctx context.Context, ref proto.EntityRef) (err error) {
	start := time.Now()
	defer func() { em.observe("delete", start, err) }()
	span := trace.SpanFromContextSafe(ctx)

	e, err := em.GetRef(ctx, ref)
	if err != nil {
		return err
	}
	scopes, err := em.scopesOf(ctx, e.UUID)
	if err != nil {
		return err
	}

	batch := em.kv.NewWriteBatch()
	defer batch.Close()
	batch.Delete(store.EntityCF, em.keys.entity(e.UUID))
	for _, s := range scopes {
		if s.kind == scopeCollection {
			em.leaveScope(batch, s, e.UUID, e, "")
			deletePrefix(batch, store.DictionaryCF, em.keys.entity(membershipID(s, e.UUID)))
			continue
		}
		replaceRows(batch, em.indexRows(s, e), nil)
	}

	err = em.listOwned(ctx, e.UUID, func(s scope, member uuid.UUID) {
		batch.Delete(store.LedgerCF, em.keys.ledgerScope(member, s))
		deletePrefix(batch, store.DictionaryCF, em.keys.entity(membershipID(s, member)))
	})
	if err != nil {
		return err
	}
	for _, family := range []byte{familyMembership, familyProperty, familyKeyword, familyGeo} {
		deletePrefix(batch, store.IndexCF, em.keys.ownedPrefix(family, e.UUID, scopeCollection))
	}

	if err = em.releaseLedgerAliases(ctx, batch, e.UUID); err != nil {
		return err
	}
	deletePrefix(batch, store.DictionaryCF, em.keys.entity(e.UUID))
	em.counters.DeleteEntityCounters(em.app, e.UUID, batch)
	deletePrefix(batch, store.LedgerCF, em.keys.entity(e.UUID))

	if err = em.write(ctx, batch); err != nil {
		span.Errorf("delete %s failed: %s", e.Ref(), err)
		return err
	}
	em.dropAssetContent(ctx, e)
	span.Debugf("deleted %s, left %d scopes", e.Ref(), len(scopes))
	return nil
}

// commit writes next over prev: the entity row, alias swaps for changed
// unique values and the index rows of every scope next belongs to. The
// entity joins the scopes in join. A nil prev means a new entity.
func (em *EntityManager) commit(ctx context.Context, prev, next *proto.Entity, join ...scope) error {
	span := trace.SpanFromContextSafe(ctx)
	claims, releases := diffBindings(em.aliasBindings(prev), em.aliasBindings(next))
	claimed, err := em.claimAliases(ctx, next, claims)
	if err != nil {
		return err
	}
	var scopes []scope
	if prev != nil {
		if scopes, err = em.scopesOf(ctx, next.UUID); err != nil {
			em.releaseAliases(ctx, next.UUID, claimed)
			return err
		}
	}
	raw, err := proto.MarshalEntity(next)
	if err != nil {
		em.releaseAliases(ctx, next.UUID, claimed)
		return errors.NewStoreError(err, "encode entity")
	}

	batch := em.kv.NewWriteBatch()
	defer batch.Close()
	batch.Put(store.EntityCF, em.keys.entity(next.UUID), raw)
	for _, b := range releases {
		batch.Delete(store.AliasCF, em.keys.alias(b.aliasType, b.alias))
		batch.Delete(store.LedgerCF, em.keys.ledgerAlias(next.UUID, b.aliasType, b.alias))
	}
	for _, b := range claims {
		batch.Put(store.LedgerCF, em.keys.ledgerAlias(next.UUID, b.aliasType, b.alias), nil)
	}
	for _, s := range scopes {
		replaceRows(batch, em.indexRows(s, prev), em.indexRows(s, next))
	}
	for _, s := range join {
		em.joinScope(batch, s, next, "")
	}
	if err = em.write(ctx, batch); err != nil {
		span.Errorf("commit %s failed: %s", next.Ref(), blobErrors.Detail(err))
		em.releaseAliases(ctx, next.UUID, claimed)
		return err
	}
	return nil
}

func (em *EntityManager) write(ctx context.Context, batch kvstore.WriteBatch) error {
	wo := em.kv.NewWriteOption()
	defer wo.Close()
	if err := em.kv.Write(ctx, batch, wo); err != nil {
		return errors.NewStoreError(blobErrors.Info(err, "write batch", batch.Count()), "write batch")
	}
	return nil
}

func cloneEntity(e *proto.Entity) *proto.Entity {
	c := *e
	c.Properties = e.Properties.Clone()
	c.Metadata = nil
	return &c
}

func deletePrefix(batch kvstore.WriteBatch, col kvstore.CF, prefix []byte) {
	batch.DeleteRange(col, prefix, kvstore.PrefixEnd(prefix))
}

// membershipID is the synthetic id membership properties hang off.
func membershipID(s scope, member uuid.UUID) uuid.UUID {
	return proto.CollectionRef{
		Owner:      proto.EntityRef{UUID: s.owner},
		Collection: s.name,
		Item:       proto.EntityRef{UUID: member},
	}.ID()
}
