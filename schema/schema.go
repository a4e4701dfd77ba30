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
	"regexp"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/cubefs/entitydb/errors"
	"github.com/cubefs/entitydb/proto"
)

var typeNameRegexp = regexp.MustCompile(`^[a-z][a-z0-9_\-.]*$`)

type (
	// PropertyInfo describes one declared property. Kind KindNull accepts
	// any value.
	PropertyInfo struct {
		Name     string
		Kind     proto.Kind
		Required bool
		Mutable  bool
		Indexed  bool
		Fulltext bool
		Unique   bool
		// Alias marks the property resolving NAME identifiers, it implies
		// Unique.
		Alias bool
		// Basic properties are returned at LevelCoreProperties.
		Basic bool
	}

	CollectionInfo struct {
		Name string
		// Type constrains typed members only, dynamic types may always join.
		Type string
		// LinkedCollection is the collection on the member side that gets
		// the reverse membership.
		LinkedCollection         string
		Reversed                 bool
		Sort                     string
		IndexDynamicDictionaries bool
	}

	DictionaryInfo struct {
		Name      string
		KeyKind   proto.Kind
		ValueKind proto.Kind
	}

	TypeInfo struct {
		Name         string
		Plural       string
		Properties   []*PropertyInfo
		Collections  []*CollectionInfo
		Dictionaries []*DictionaryInfo
		// JSONSchema is an optional document every created or updated entity
		// of this type must satisfy.
		JSONSchema string

		properties   map[string]*PropertyInfo
		collections  map[string]*CollectionInfo
		dictionaries map[string]*DictionaryInfo
		jsonSchema   *gojsonschema.Schema
	}
)

func (t *TypeInfo) init() error {
	t.Name = strings.ToLower(t.Name)
	if t.Plural == "" {
		t.Plural = Pluralize(t.Name)
	}
	t.properties = make(map[string]*PropertyInfo, len(t.Properties))
	for _, p := range t.Properties {
		if p.Alias {
			p.Unique = true
		}
		t.properties[strings.ToLower(p.Name)] = p
	}
	t.collections = make(map[string]*CollectionInfo, len(t.Collections))
	for _, c := range t.Collections {
		if c.Type == "" {
			c.Type = Singularize(c.Name)
		}
		t.collections[strings.ToLower(c.Name)] = c
	}
	t.dictionaries = make(map[string]*DictionaryInfo, len(t.Dictionaries))
	for _, d := range t.Dictionaries {
		t.dictionaries[strings.ToLower(d.Name)] = d
	}
	if t.JSONSchema != "" {
		s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(t.JSONSchema))
		if err != nil {
			return errors.NewIllegalArgument("json schema of %s: %s", t.Name, err)
		}
		t.jsonSchema = s
	}
	return nil
}

func (t *TypeInfo) Property(name string) (*PropertyInfo, bool) {
	p, ok := t.properties[strings.ToLower(name)]
	return p, ok
}

func (t *TypeInfo) Collection(name string) (*CollectionInfo, bool) {
	c, ok := t.collections[strings.ToLower(name)]
	return c, ok
}

func (t *TypeInfo) Dictionary(name string) (*DictionaryInfo, bool) {
	d, ok := t.dictionaries[strings.ToLower(name)]
	return d, ok
}

// Registry maps type names to their declared shapes. It is populated at
// startup and frozen before serving; only json schemas may change later.
type Registry struct {
	lock   sync.RWMutex
	types  map[string]*TypeInfo
	plural map[string]string
	frozen bool
}

func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*TypeInfo), plural: make(map[string]string)}
}

// NewDefaultRegistry returns an unfrozen registry holding the built in types.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, t := range defaultTypes() {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}

func (r *Registry) Register(t *TypeInfo) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.frozen {
		return errors.Wrap(errors.ErrRegistryFrozen, "register %s", t.Name)
	}
	if err := t.init(); err != nil {
		return err
	}
	if !typeNameRegexp.MatchString(t.Name) || isReservedType(t.Name) {
		return errors.Wrap(errors.ErrInvalidEntityType, "register %q", t.Name)
	}
	r.types[t.Name] = t
	r.plural[t.Plural] = t.Name
	return nil
}

func (r *Registry) Freeze() {
	r.lock.Lock()
	r.frozen = true
	r.lock.Unlock()
}

func (r *Registry) Frozen() bool {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.frozen
}

// SetJSONSchema replaces the validation document of a registered type. An
// empty document removes validation.
func (r *Registry) SetJSONSchema(entityType, document string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	t, ok := r.types[strings.ToLower(entityType)]
	if !ok {
		return errors.Wrap(errors.ErrInvalidEntityType, "type %s is not registered", entityType)
	}
	if document == "" {
		t.JSONSchema, t.jsonSchema = "", nil
		return nil
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(document))
	if err != nil {
		return errors.NewIllegalArgument("json schema of %s: %s", entityType, err)
	}
	t.JSONSchema, t.jsonSchema = document, s
	return nil
}

// Type returns the declared shape, false for dynamic types.
func (r *Registry) Type(entityType string) (*TypeInfo, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	t, ok := r.types[strings.ToLower(entityType)]
	return t, ok
}

func (r *Registry) Types() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	return names
}

// CheckInstantiable rejects the abstract base types and malformed names.
func (r *Registry) CheckInstantiable(entityType string) error {
	name := strings.ToLower(entityType)
	if isReservedType(name) {
		return errors.Wrap(errors.ErrInvalidEntityType, "type %q is abstract", entityType)
	}
	if !typeNameRegexp.MatchString(name) {
		return errors.Wrap(errors.ErrInvalidEntityType, "type %q", entityType)
	}
	return nil
}

// Property returns the declared property, or the implicit one every type
// carries. Dynamic properties report false.
func (r *Registry) Property(entityType, name string) (*PropertyInfo, bool) {
	if t, ok := r.Type(entityType); ok {
		if p, ok := t.Property(name); ok {
			return p, true
		}
	}
	p, ok := implicitProperties[strings.ToLower(name)]
	return p, ok
}

// IsIndexed reports whether values of the property get index rows. Core
// properties and undeclared scalars are always indexed.
func (r *Registry) IsIndexed(entityType, name string) bool {
	if p, ok := r.Property(entityType, name); ok {
		return p.Indexed
	}
	return true
}

// IsFulltext reports whether string values get keyword rows for contains.
func (r *Registry) IsFulltext(entityType, name string) bool {
	if p, ok := r.Property(entityType, name); ok {
		return p.Fulltext
	}
	return true
}

func (r *Registry) IsMutable(entityType, name string) bool {
	if p, ok := r.Property(entityType, name); ok {
		return p.Mutable
	}
	return true
}

// AliasProperty names the property NAME identifiers resolve through. It is
// empty for a registered type that redeclares name without aliasing it.
func (r *Registry) AliasProperty(entityType string) string {
	if t, ok := r.Type(entityType); ok {
		for _, p := range t.Properties {
			if p.Alias {
				return p.Name
			}
		}
		if _, ok := t.Property(proto.PropertyName); ok {
			return ""
		}
	}
	return proto.PropertyName
}

// UniqueProperties lists the unique properties of a type, the alias
// property first.
func (r *Registry) UniqueProperties(entityType string) []*PropertyInfo {
	alias := r.AliasProperty(entityType)
	var out []*PropertyInfo
	if alias != "" {
		p, _ := r.Property(entityType, alias)
		out = append(out, p)
	}
	if t, ok := r.Type(entityType); ok {
		for _, p := range t.Properties {
			if p.Unique && !strings.EqualFold(p.Name, alias) {
				out = append(out, p)
			}
		}
	}
	return out
}

// Collection returns the declared collection of ownerType. Applications own
// one implicit collection per entity type.
func (r *Registry) Collection(ownerType, name string) (*CollectionInfo, bool) {
	if t, ok := r.Type(ownerType); ok {
		if c, ok := t.Collection(name); ok {
			return c, true
		}
	}
	if strings.EqualFold(ownerType, proto.TypeApplication) {
		return &CollectionInfo{Name: strings.ToLower(name), Type: r.TypeForCollection(name)}, true
	}
	return nil, false
}

func (r *Registry) Dictionary(entityType, name string) (*DictionaryInfo, bool) {
	if t, ok := r.Type(entityType); ok {
		return t.Dictionary(name)
	}
	return nil, false
}

// CollectionName returns the application collection holding entityType.
func (r *Registry) CollectionName(entityType string) string {
	if t, ok := r.Type(entityType); ok {
		return t.Plural
	}
	return Pluralize(strings.ToLower(entityType))
}

// TypeForCollection maps a collection name back to its member type.
func (r *Registry) TypeForCollection(collection string) string {
	name := strings.ToLower(collection)
	r.lock.RLock()
	t, ok := r.plural[name]
	r.lock.RUnlock()
	if ok {
		return t
	}
	return Singularize(name)
}

func isReservedType(name string) bool {
	return name == proto.TypeEntity || name == proto.TypeDynamic
}

var implicitProperties = map[string]*PropertyInfo{
	proto.PropertyUUID:     {Name: proto.PropertyUUID, Kind: proto.KindUUID, Indexed: true, Basic: true},
	proto.PropertyType:     {Name: proto.PropertyType, Kind: proto.KindString, Indexed: true, Basic: true},
	proto.PropertyCreated:  {Name: proto.PropertyCreated, Kind: proto.KindTime, Indexed: true, Basic: true},
	proto.PropertyModified: {Name: proto.PropertyModified, Kind: proto.KindTime, Indexed: true, Basic: true},
	proto.PropertyName: {
		Name: proto.PropertyName, Kind: proto.KindString, Mutable: true, Indexed: true,
		Fulltext: true, Unique: true, Alias: true, Basic: true,
	},
}

// IsCoreProperty reports the properties kept outside the property bag.
func IsCoreProperty(name string) bool {
	switch strings.ToLower(name) {
	case proto.PropertyUUID, proto.PropertyType, proto.PropertyCreated, proto.PropertyModified:
		return true
	}
	return false
}
