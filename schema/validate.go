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

package schema

import (
	"strings"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/cubefs/entitydb/errors"
	"github.com/cubefs/entitydb/proto"
)

// Coerce converts v to the declared kind of the property where a lossless
// conversion exists, numbers become times and uuid strings become uuids.
func (r *Registry) Coerce(entityType, name string, v proto.Value) (proto.Value, error) {
	p, ok := r.Property(entityType, name)
	if !ok || p.Kind == proto.KindNull || v.IsNull() || v.Kind() == p.Kind {
		return v, nil
	}
	switch p.Kind {
	case proto.KindTime:
		if n, ok := v.AsNumber(); ok {
			return proto.TimeMillis(int64(n)), nil
		}
	case proto.KindUUID:
		if s, ok := v.AsString(); ok {
			if id, err := uuid.Parse(s); err == nil {
				return proto.UUID(id), nil
			}
		}
	case proto.KindNumber:
		if n, ok := v.AsNumber(); ok {
			return proto.Number(n), nil
		}
	}
	return v, errors.Wrap(errors.ErrInvalidPropertyValue, "%s.%s wants %s, got %s",
		entityType, name, p.Kind, v.Kind())
}

// ValidateCreate checks required properties, value kinds and the json
// schema of a new entity. Values are coerced in place.
func (r *Registry) ValidateCreate(entityType string, props *proto.Properties) error {
	if err := r.CheckInstantiable(entityType); err != nil {
		return err
	}
	if err := r.coerceAll(entityType, props); err != nil {
		return err
	}
	if t, ok := r.Type(entityType); ok {
		for _, p := range t.Properties {
			if !p.Required || IsCoreProperty(p.Name) {
				continue
			}
			if v, ok := props.Get(p.Name); !ok || v.IsNull() {
				return errors.Wrap(errors.ErrRequiredProperty, "%s.%s is required", entityType, p.Name)
			}
		}
	}
	return r.ValidateJSONSchema(entityType, props)
}

// ValidateSet checks one property write against an existing entity.
// Override skips the mutability and kind checks.
func (r *Registry) ValidateSet(e *proto.Entity, name string, v proto.Value, override bool) (proto.Value, error) {
	if IsCoreProperty(name) {
		return v, errors.Wrap(errors.ErrImmutableProperty, "%s is maintained by the store", name)
	}
	if override {
		return v, nil
	}
	if !r.IsMutable(e.Type, name) && e.Properties.Has(name) {
		return v, errors.Wrap(errors.ErrImmutableProperty, "%s.%s", e.Type, name)
	}
	if p, ok := r.Property(e.Type, name); ok && p.Required && v.IsNull() {
		return v, errors.Wrap(errors.ErrRequiredProperty, "%s.%s is required", e.Type, name)
	}
	return r.Coerce(e.Type, name, v)
}

func (r *Registry) coerceAll(entityType string, props *proto.Properties) error {
	var err error
	for _, name := range props.Names() {
		v, _ := props.Get(name)
		if v, err = r.Coerce(entityType, name, v); err != nil {
			return err
		}
		props.Set(name, v)
	}
	return nil
}

// ValidateJSONSchema runs the optional json schema of the type.
func (r *Registry) ValidateJSONSchema(entityType string, props *proto.Properties) error {
	t, ok := r.Type(entityType)
	if !ok {
		return nil
	}
	r.lock.RLock()
	s := t.jsonSchema
	r.lock.RUnlock()
	if s == nil {
		return nil
	}
	doc, err := props.MarshalJSON()
	if err != nil {
		return errors.Wrap(errors.ErrSchemaMismatch, "encode %s: %s", entityType, err)
	}
	result, err := s.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return errors.Wrap(errors.ErrSchemaMismatch, "validate %s: %s", entityType, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.Field()+": "+desc.Description())
		}
		return errors.Wrap(errors.ErrSchemaMismatch, "%s: %s", entityType, strings.Join(msgs, "; "))
	}
	return nil
}
