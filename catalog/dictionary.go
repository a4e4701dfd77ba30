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
	"time"

	"github.com/google/uuid"

	"github.com/cubefs/entitydb/common/kvstore"
	"github.com/cubefs/entitydb/errors"
	"github.com/cubefs/entitydb/proto"
	"github.com/cubefs/entitydb/store"
)

// AddToDictionary sets key of the named dictionary of ref. A null value
// makes the dictionary a set.
func (em *EntityManager) AddToDictionary(ctx context.Context, ref proto.EntityRef, dict, key string, value proto.Value) (err error) {
	start := time.Now()
	defer func() { em.observe("add_to_dictionary", start, err) }()

	if dict == "" || key == "" {
		return errors.NewIllegalArgument("dictionary name and key must be set")
	}
	e, err := em.GetRef(ctx, ref)
	if err != nil {
		return err
	}
	if info, ok := em.registry.Dictionary(e.Type, dict); ok && info.ValueKind != proto.KindNull &&
		!value.IsNull() && value.Kind() != info.ValueKind {
		return errors.Wrap(errors.ErrInvalidPropertyValue, "%s.%s holds %s values, got %s",
			e.Type, dict, info.ValueKind, value.Kind())
	}
	return em.putDictionary(ctx, e.UUID, dict, key, value)
}

func (em *EntityManager) putDictionary(ctx context.Context, owner uuid.UUID, dict, key string, value proto.Value) error {
	raw, err := proto.MarshalValue(value)
	if err != nil {
		return errors.Wrap(errors.ErrInvalidPropertyValue, "%s[%s]: %s", dict, key, err)
	}
	wo := em.kv.NewWriteOption()
	defer wo.Close()
	return errors.NewStoreError(em.kv.SetRaw(ctx, store.DictionaryCF, em.keys.dictionary(owner, dict, key), raw, wo), "set dictionary")
}

// RemoveFromDictionary drops key, a missing key is not an error.
func (em *EntityManager) RemoveFromDictionary(ctx context.Context, ref proto.EntityRef, dict, key string) error {
	if _, err := em.GetRef(ctx, ref); err != nil {
		return err
	}
	return em.removeDictionary(ctx, ref.UUID, dict, key)
}

func (em *EntityManager) removeDictionary(ctx context.Context, owner uuid.UUID, dict, key string) error {
	wo := em.kv.NewWriteOption()
	defer wo.Close()
	return errors.NewStoreError(em.kv.Delete(ctx, store.DictionaryCF, em.keys.dictionary(owner, dict, key), wo), "delete dictionary")
}

// GetDictionaryAsSet lists the keys of a dictionary in key order.
func (em *EntityManager) GetDictionaryAsSet(ctx context.Context, ref proto.EntityRef, dict string) ([]string, error) {
	var out []string
	err := em.rangeDictionary(ctx, ref.UUID, dict, func(key string, _ []byte) error {
		out = append(out, key)
		return nil
	})
	return out, err
}

// GetDictionaryAsMap returns every entry of a dictionary.
func (em *EntityManager) GetDictionaryAsMap(ctx context.Context, ref proto.EntityRef, dict string) (map[string]proto.Value, error) {
	out := make(map[string]proto.Value)
	err := em.rangeDictionary(ctx, ref.UUID, dict, func(key string, raw []byte) error {
		v, err := proto.UnmarshalValue(raw)
		if err != nil {
			return errors.NewStoreError(err, "decode dictionary value")
		}
		out[key] = v
		return nil
	})
	return out, err
}

func (em *EntityManager) GetDictionaryElementValue(ctx context.Context, ref proto.EntityRef, dict, key string) (proto.Value, error) {
	ro := em.kv.NewReadOption()
	defer ro.Close()
	raw, err := em.kv.GetRaw(ctx, store.DictionaryCF, em.keys.dictionary(ref.UUID, dict, key), ro)
	if err == kvstore.ErrNotFound {
		return proto.Null(), errors.Wrap(errors.ErrDictionaryNotFound, "%s %s[%s]", ref, dict, key)
	}
	if err != nil {
		return proto.Null(), errors.NewStoreError(err, "get dictionary")
	}
	v, err := proto.UnmarshalValue(raw)
	if err != nil {
		return proto.Null(), errors.NewStoreError(err, "decode dictionary value")
	}
	return v, nil
}

func (em *EntityManager) rangeDictionary(ctx context.Context, owner uuid.UUID, dict string, f func(key string, raw []byte) error) error {
	prefix := em.keys.dictionaryPrefix(owner, dict)
	ro := em.kv.NewReadOption()
	defer ro.Close()
	lr := em.kv.List(ctx, store.DictionaryCF, prefix, nil, ro)
	defer lr.Close()
	for {
		k, v, err := lr.ReadNextCopy()
		if err != nil {
			return errors.NewStoreError(err, "list dictionary")
		}
		if k == nil {
			return nil
		}
		if err = f(string(k[len(prefix):]), v); err != nil {
			return err
		}
	}
}
