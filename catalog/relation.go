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
	"github.com/google/uuid"

	"github.com/cubefs/entitydb/errors"
	"github.com/cubefs/entitydb/proto"
	"github.com/cubefs/entitydb/query"
	"github.com/cubefs/entitydb/store"
)

func checkRelationName(kind, name string) error {
	if name == "" || strings.IndexByte(name, 0) >= 0 {
		return errors.NewIllegalArgument("invalid %s name %q", kind, name)
	}
	return nil
}

// loadOwner loads the owner of a collection. The application itself owns
// the per type collections and lives in the management application.
func (em *EntityManager) loadOwner(ctx context.Context, ref proto.EntityRef) (*proto.Entity, error) {
	if ref.UUID == em.app {
		e := proto.NewEntity(em.app, proto.TypeApplication)
		e.Typed = true
		return e, nil
	}
	return em.GetRef(ctx, ref)
}

// AddToCollection puts item into the named collection of owner. Declared
// collections only constrain registered item types. A linked collection
// gets the reverse membership in the same write.
func (em *EntityManager) AddToCollection(ctx context.Context, owner proto.EntityRef, collection string, item proto.EntityRef) (e *proto.Entity, err error) {
	start := time.Now()
	defer func() { em.observe("add_to_collection", start, err) }()

	if err = checkRelationName("collection", collection); err != nil {
		return nil, err
	}
	ownerEntity, err := em.loadOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	if e, err = em.GetRef(ctx, item); err != nil {
		return nil, err
	}
	info, declared := em.registry.Collection(ownerEntity.Type, collection)
	if declared && e.Typed && info.Type != "" && !strings.EqualFold(info.Type, e.Type) {
		return nil, errors.Wrap(errors.ErrInvalidEntityType, "%s.%s holds %s, not %s",
			ownerEntity.Type, collection, info.Type, e.Type)
	}

	batch := em.kv.NewWriteBatch()
	defer batch.Close()
	em.joinScope(batch, collectionScope(ownerEntity.UUID, collection), e, "")
	if declared && info.LinkedCollection != "" && ownerEntity.UUID != em.app {
		em.joinScope(batch, collectionScope(e.UUID, info.LinkedCollection), ownerEntity, "")
	}
	if err = em.write(ctx, batch); err != nil {
		return nil, err
	}
	trace.SpanFromContextSafe(ctx).Debugf("%s joined %s.%s", e.Ref(), ownerEntity.Ref(), collection)
	return e, nil
}

// RemoveFromCollection drops item from the collection and from the linked
// collection. Removing a non member is not an error.
func (em *EntityManager) RemoveFromCollection(ctx context.Context, owner proto.EntityRef, collection string, item proto.EntityRef) (err error) {
	start := time.Now()
	defer func() { em.observe("remove_from_collection", start, err) }()

	s := collectionScope(owner.UUID, collection)
	member, err := em.isMember(ctx, s, item.UUID, "")
	if err != nil || !member {
		return err
	}
	itemEntity, err := em.loadIfExists(ctx, item.UUID)
	if err != nil {
		return err
	}
	ownerEntity, err := em.loadOwnerIfExists(ctx, owner)
	if err != nil {
		return err
	}

	batch := em.kv.NewWriteBatch()
	defer batch.Close()
	em.leaveScope(batch, s, item.UUID, itemEntity, "")
	deletePrefix(batch, store.DictionaryCF, em.keys.entity(membershipID(s, item.UUID)))
	if ownerEntity != nil {
		if info, ok := em.registry.Collection(ownerEntity.Type, collection); ok && info.LinkedCollection != "" {
			linked := collectionScope(item.UUID, info.LinkedCollection)
			em.leaveScope(batch, linked, owner.UUID, ownerEntity, "")
			deletePrefix(batch, store.DictionaryCF, em.keys.entity(membershipID(linked, owner.UUID)))
		}
	}
	return em.write(ctx, batch)
}

func (em *EntityManager) loadIfExists(ctx context.Context, id uuid.UUID) (*proto.Entity, error) {
	e, err := em.load(ctx, id)
	if errors.IsNotFound(err) {
		return nil, nil
	}
	return e, err
}

func (em *EntityManager) loadOwnerIfExists(ctx context.Context, ref proto.EntityRef) (*proto.Entity, error) {
	if ref.UUID == em.app {
		return em.loadOwner(ctx, ref)
	}
	return em.loadIfExists(ctx, ref.UUID)
}

// GetCollection pages through a collection in insertion order. Start is
// the last id of the previous page and is not returned again.
func (em *EntityManager) GetCollection(ctx context.Context, owner proto.EntityRef, collection string,
	start uuid.UUID, count int, level proto.Level, reversed bool,
) (*proto.Results, error) {
	q := query.New().InCollection(collection).WithLimit(count).WithLevel(level).WithReversed(reversed)
	if start != uuid.Nil {
		plan, err := q.Compile()
		if err != nil {
			return nil, err
		}
		s := collectionScope(owner.UUID, collection)
		q.Cursor = plan.NewCursor(s.encode(), start[:], 0).Encode()
	}
	return em.Search(ctx, owner, q)
}

// SearchCollection runs q over the members of one collection.
func (em *EntityManager) SearchCollection(ctx context.Context, owner proto.EntityRef, collection string, q *query.Query) (*proto.Results, error) {
	q = cloneQuery(q)
	q.Collection, q.ConnectionType = collection, ""
	return em.Search(ctx, owner, q)
}

func (em *EntityManager) IsCollectionMember(ctx context.Context, owner proto.EntityRef, collection string, item proto.EntityRef) (bool, error) {
	return em.isMember(ctx, collectionScope(owner.UUID, collection), item.UUID, "")
}

// SetCollectionMemberProperty attaches a property to one membership. A
// null value removes it.
func (em *EntityManager) SetCollectionMemberProperty(ctx context.Context, owner proto.EntityRef, collection string,
	item proto.EntityRef, name string, v proto.Value,
) error {
	if name == "" {
		return errors.NewIllegalArgument("membership property needs a name")
	}
	s := collectionScope(owner.UUID, collection)
	member, err := em.isMember(ctx, s, item.UUID, "")
	if err != nil {
		return err
	}
	if !member {
		return errors.NewNotFound("%s is not in %s.%s", item, owner, collection)
	}
	id := membershipID(s, item.UUID)
	if v.IsNull() {
		return em.removeDictionary(ctx, id, dictMembership, strings.ToLower(name))
	}
	return em.putDictionary(ctx, id, dictMembership, strings.ToLower(name), v)
}

func (em *EntityManager) GetCollectionMemberProperties(ctx context.Context, owner proto.EntityRef, collection string,
	item proto.EntityRef,
) (*proto.Properties, error) {
	s := collectionScope(owner.UUID, collection)
	member, err := em.isMember(ctx, s, item.UUID, "")
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, errors.NewNotFound("%s is not in %s.%s", item, owner, collection)
	}
	props := proto.NewProperties()
	err = em.rangeDictionary(ctx, membershipID(s, item.UUID), dictMembership, func(key string, raw []byte) error {
		v, err := proto.UnmarshalValue(raw)
		if err != nil {
			return errors.NewStoreError(err, "decode membership property")
		}
		props.Set(key, v)
		return nil
	})
	return props, err
}

// CreateConnection records the edge connecting -type-> connected.
// Recreating an existing edge rewrites the same rows.
func (em *EntityManager) CreateConnection(ctx context.Context, connecting proto.EntityRef, connectionType string,
	connected proto.EntityRef,
) (ref proto.ConnectionRef, err error) {
	start := time.Now()
	defer func() { em.observe("create_connection", start, err) }()

	if err = checkRelationName("connection", connectionType); err != nil {
		return ref, err
	}
	connectionType = strings.ToLower(connectionType)
	from, err := em.GetRef(ctx, connecting)
	if err != nil {
		return ref, err
	}
	to, err := em.GetRef(ctx, connected)
	if err != nil {
		return ref, err
	}
	marker, err := proto.MarshalValue(proto.Null())
	if err != nil {
		return ref, errors.NewStoreError(err, "encode connection type")
	}

	batch := em.kv.NewWriteBatch()
	defer batch.Close()
	em.joinScope(batch, connectionScope(from.UUID, connectionType, true), to, "")
	em.joinScope(batch, connectionScope(to.UUID, connectionType, false), from, "")
	em.joinScope(batch, anyConnectionScope(from.UUID, true), to, connectionType)
	em.joinScope(batch, anyConnectionScope(to.UUID, false), from, connectionType)
	batch.Put(store.DictionaryCF, em.keys.dictionary(from.UUID, dictConnectedTypes, connectionType), marker)
	batch.Put(store.DictionaryCF, em.keys.dictionary(to.UUID, dictConnectingTypes, connectionType), marker)
	if err = em.write(ctx, batch); err != nil {
		return ref, err
	}
	return proto.ConnectionRef{Connecting: from.Ref(), ConnectionType: connectionType, Connected: to.Ref()}, nil
}

// DeleteConnection removes an edge, a missing edge is not an error. Either
// end may already be deleted.
func (em *EntityManager) DeleteConnection(ctx context.Context, connecting proto.EntityRef, connectionType string,
	connected proto.EntityRef,
) (err error) {
	start := time.Now()
	defer func() { em.observe("delete_connection", start, err) }()

	connectionType = strings.ToLower(connectionType)
	out := connectionScope(connecting.UUID, connectionType, true)
	in := connectionScope(connected.UUID, connectionType, false)
	exists, err := em.isMember(ctx, out, connected.UUID, "")
	if err != nil || !exists {
		return err
	}
	from, err := em.loadIfExists(ctx, connecting.UUID)
	if err != nil {
		return err
	}
	to, err := em.loadIfExists(ctx, connected.UUID)
	if err != nil {
		return err
	}

	batch := em.kv.NewWriteBatch()
	defer batch.Close()
	em.leaveScope(batch, out, connected.UUID, to, "")
	em.leaveScope(batch, in, connecting.UUID, from, "")
	em.leaveScope(batch, anyConnectionScope(connecting.UUID, true), connected.UUID, nil, connectionType)
	em.leaveScope(batch, anyConnectionScope(connected.UUID, false), connecting.UUID, nil, connectionType)
	if err = em.write(ctx, batch); err != nil {
		return err
	}

	if empty, err := em.scopeEmpty(ctx, out); err != nil {
		return err
	} else if empty {
		if err = em.removeDictionary(ctx, connecting.UUID, dictConnectedTypes, connectionType); err != nil {
			return err
		}
	}
	if empty, err := em.scopeEmpty(ctx, in); err != nil {
		return err
	} else if empty {
		return em.removeDictionary(ctx, connected.UUID, dictConnectingTypes, connectionType)
	}
	return nil
}

func (em *EntityManager) IsConnectionMember(ctx context.Context, connecting proto.EntityRef, connectionType string,
	connected proto.EntityRef,
) (bool, error) {
	return em.isMember(ctx, connectionScope(connecting.UUID, connectionType, true), connected.UUID, "")
}

// GetConnectedEntities follows the outgoing edges of ref. An empty
// connection type follows every type, an empty entity type keeps every
// target.
func (em *EntityManager) GetConnectedEntities(ctx context.Context, ref proto.EntityRef, connectionType, entityType string,
	level proto.Level,
) (*proto.Results, error) {
	q := query.New().WithConnectionType(connectionType).WithEntityType(entityType).WithLevel(level).WithLimit(em.cfg.MaxPageSize)
	return em.traverse(ctx, ref, q, true)
}

// GetConnectingEntities follows the incoming edges of ref.
func (em *EntityManager) GetConnectingEntities(ctx context.Context, ref proto.EntityRef, connectionType, entityType string,
	level proto.Level,
) (*proto.Results, error) {
	q := query.New().WithConnectionType(connectionType).WithEntityType(entityType).WithLevel(level).WithLimit(em.cfg.MaxPageSize)
	return em.traverse(ctx, ref, q, false)
}

// SearchConnectedEntities runs q over the targets of the outgoing edges of
// ref, restricted to q.ConnectionType when set.
func (em *EntityManager) SearchConnectedEntities(ctx context.Context, ref proto.EntityRef, q *query.Query) (*proto.Results, error) {
	return em.traverse(ctx, ref, cloneQuery(q), true)
}

// SearchConnectingEntities is SearchConnectedEntities over incoming edges.
func (em *EntityManager) SearchConnectingEntities(ctx context.Context, ref proto.EntityRef, q *query.Query) (*proto.Results, error) {
	return em.traverse(ctx, ref, cloneQuery(q), false)
}

func (em *EntityManager) traverse(ctx context.Context, ref proto.EntityRef, q *query.Query, outgoing bool) (res *proto.Results, err error) {
	start := time.Now()
	defer func() { em.observe("traverse", start, err) }()

	if q.Collection != "" {
		return nil, errors.NewIllegalArgument("connection traversal does not take a collection")
	}
	s := anyConnectionScope(ref.UUID, outgoing)
	if q.ConnectionType != "" {
		s = connectionScope(ref.UUID, q.ConnectionType, outgoing)
	}
	return em.execute(ctx, s, q)
}

// GetConnectionTypes lists the types ref connects out with.
func (em *EntityManager) GetConnectionTypes(ctx context.Context, ref proto.EntityRef) ([]string, error) {
	return em.GetDictionaryAsSet(ctx, ref, dictConnectedTypes)
}

// GetConnectingTypes lists the types other entities connect to ref with.
func (em *EntityManager) GetConnectingTypes(ctx context.Context, ref proto.EntityRef) ([]string, error) {
	return em.GetDictionaryAsSet(ctx, ref, dictConnectingTypes)
}

func cloneQuery(q *query.Query) *query.Query {
	if q == nil {
		return query.New()
	}
	return q.Clone()
}
