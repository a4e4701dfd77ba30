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
	"fmt"
	"strings"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/google/uuid"

	"github.com/cubefs/entitydb/common/kvstore"
	"github.com/cubefs/entitydb/errors"
	"github.com/cubefs/entitydb/proto"
	"github.com/cubefs/entitydb/store"
)

// binding is one claimed unique value. Alias properties bind under the
// entity type, other unique properties under type.property.
type binding struct {
	aliasType string
	alias     string
}

func (em *EntityManager) aliasBindings(e *proto.Entity) []binding {
	if e == nil {
		return nil
	}
	var out []binding
	for _, p := range em.registry.UniqueProperties(e.Type) {
		v, ok := e.Properties.Get(p.Name)
		if !ok || v.IsNull() {
			continue
		}
		alias, ok := v.AsString()
		if !ok {
			alias = v.String()
		}
		if alias == "" {
			continue
		}
		aliasType := strings.ToLower(e.Type)
		if !p.Alias {
			aliasType += "." + strings.ToLower(p.Name)
		}
		out = append(out, binding{aliasType: aliasType, alias: strings.ToLower(alias)})
	}
	return out
}

func diffBindings(prev, next []binding) (claims, releases []binding) {
	has := func(set []binding, b binding) bool {
		for _, o := range set {
			if o == b {
				return true
			}
		}
		return false
	}
	for _, b := range next {
		if !has(prev, b) {
			claims = append(claims, b)
		}
	}
	for _, b := range prev {
		if !has(next, b) {
			releases = append(releases, b)
		}
	}
	return
}

// claimAliases binds every value to e or fails on the first one held by
// another entity. It returns the bindings this call created.
func (em *EntityManager) claimAliases(ctx context.Context, e *proto.Entity, claims []binding) ([]binding, error) {
	if len(claims) == 0 {
		return nil, nil
	}
	wo := em.kv.NewWriteOption()
	defer wo.Close()
	value := encodeAliasValue(e.UUID, e.Type)
	claimed := make([]binding, 0, len(claims))
	for _, b := range claims {
		current, ok, err := em.kv.SetIfAbsent(ctx, store.AliasCF, em.keys.alias(b.aliasType, b.alias), value, wo)
		if err != nil {
			em.releaseAliases(ctx, e.UUID, claimed)
			return nil, errors.NewStoreError(err, "claim alias")
		}
		if ok {
			claimed = append(claimed, b)
			continue
		}
		if owner, _, _ := decodeAliasValue(current); owner != e.UUID {
			em.releaseAliases(ctx, e.UUID, claimed)
			return nil, errors.Wrap(errors.ErrDuplicateAlias, "%s %q is taken", b.aliasType, b.alias)
		}
	}
	return claimed, nil
}

// releaseAliases gives back bindings that still point to id.
func (em *EntityManager) releaseAliases(ctx context.Context, id uuid.UUID, bindings []binding) {
	if len(bindings) == 0 {
		return
	}
	span := trace.SpanFromContextSafe(ctx)
	batch := em.kv.NewWriteBatch()
	defer batch.Close()
	for _, b := range bindings {
		owner, err := em.aliasOwner(ctx, b.aliasType, b.alias)
		if err != nil || owner != id {
			continue
		}
		batch.Delete(store.AliasCF, em.keys.alias(b.aliasType, b.alias))
	}
	if err := em.write(ctx, batch); err != nil {
		span.Warnf("release %d aliases of %s failed: %s", len(bindings), id, err)
	}
}

// releaseLedgerAliases queues the removal of every alias the ledger of id
// records.
func (em *EntityManager) releaseLedgerAliases(ctx context.Context, batch kvstore.WriteBatch, id uuid.UUID) error {
	prefix := em.keys.ledgerPrefix(id, ledgerAlias)
	ro := em.kv.NewReadOption()
	defer ro.Close()
	lr := em.kv.List(ctx, store.LedgerCF, prefix, nil, ro)
	defer lr.Close()
	for {
		k, _, err := lr.ReadNextCopy()
		if err != nil {
			return errors.NewStoreError(err, "list aliases")
		}
		if k == nil {
			return nil
		}
		rest := k[len(prefix):]
		i := bytes.IndexByte(rest, 0)
		if i < 0 {
			continue
		}
		aliasType, alias := string(rest[:i]), string(rest[i+1:])
		owner, err := em.aliasOwner(ctx, aliasType, alias)
		if err != nil {
			return err
		}
		if owner == id {
			batch.Delete(store.AliasCF, em.keys.alias(aliasType, alias))
		}
	}
}

func (em *EntityManager) aliasOwner(ctx context.Context, aliasType, alias string) (uuid.UUID, error) {
	ro := em.kv.NewReadOption()
	defer ro.Close()
	raw, err := em.kv.GetRaw(ctx, store.AliasCF, em.keys.alias(aliasType, alias), ro)
	if err == kvstore.ErrNotFound {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, errors.NewStoreError(err, "get alias")
	}
	id, _, _ := decodeAliasValue(raw)
	return id, nil
}

// CreateAlias binds alias to ref under aliasType. Binding the same entity
// again is a no-op, any other entity holding it is a duplicate.
func (em *EntityManager) CreateAlias(ctx context.Context, ref proto.EntityRef, aliasType, alias string) error {
	if aliasType == "" || alias == "" {
		return errors.NewIllegalArgument("alias type and alias must be set")
	}
	e, err := em.GetRef(ctx, ref)
	if err != nil {
		return err
	}
	b := binding{aliasType: strings.ToLower(aliasType), alias: strings.ToLower(alias)}
	claimed, err := em.claimAliases(ctx, e, []binding{b})
	if err != nil {
		return err
	}
	batch := em.kv.NewWriteBatch()
	defer batch.Close()
	batch.Put(store.LedgerCF, em.keys.ledgerAlias(e.UUID, b.aliasType, b.alias), nil)
	if err = em.write(ctx, batch); err != nil {
		em.releaseAliases(ctx, e.UUID, claimed)
		return err
	}
	return nil
}

// GetAlias resolves a case insensitive alias to the bound entity.
func (em *EntityManager) GetAlias(ctx context.Context, aliasType, alias string) (proto.EntityRef, error) {
	ro := em.kv.NewReadOption()
	defer ro.Close()
	raw, err := em.kv.GetRaw(ctx, store.AliasCF, em.keys.alias(aliasType, alias), ro)
	if err == kvstore.ErrNotFound {
		return proto.EntityRef{}, errors.Wrap(errors.ErrAliasNotFound, "%s %q", aliasType, alias)
	}
	if err != nil {
		return proto.EntityRef{}, errors.NewStoreError(err, "get alias")
	}
	id, entityType, ok := decodeAliasValue(raw)
	if !ok {
		return proto.EntityRef{}, errors.NewStoreError(fmt.Errorf("corrupt alias row of %s %q", aliasType, alias), "decode alias")
	}
	return proto.NewRef(entityType, id), nil
}

// DeleteAlias drops a binding, a missing one is not an error.
func (em *EntityManager) DeleteAlias(ctx context.Context, aliasType, alias string) error {
	ref, err := em.GetAlias(ctx, aliasType, alias)
	if errors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	batch := em.kv.NewWriteBatch()
	defer batch.Close()
	batch.Delete(store.AliasCF, em.keys.alias(aliasType, alias))
	batch.Delete(store.LedgerCF, em.keys.ledgerAlias(ref.UUID, aliasType, alias))
	return em.write(ctx, batch)
}
