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

package proto

import (
	"strings"

	"github.com/google/uuid"
)

// Entity is a typed record with an ordered property bag. Created and
// Modified are epoch milliseconds.
type Entity struct {
	UUID       uuid.UUID
	Type       string
	Created    int64
	Modified   int64
	Properties *Properties
	// Typed is false when the stored type has no registered shape.
	Typed bool
	// Metadata carries membership and connection details at
	// LevelLinkedProperties.
	Metadata *Properties
}

func NewEntity(id uuid.UUID, entityType string) *Entity {
	return &Entity{UUID: id, Type: entityType, Properties: NewProperties()}
}

func (e *Entity) Ref() EntityRef {
	return EntityRef{UUID: e.UUID, Type: e.Type}
}

// Property resolves core properties before the bag.
func (e *Entity) Property(name string) (Value, bool) {
	switch strings.ToLower(name) {
	case PropertyUUID:
		return UUID(e.UUID), true
	case PropertyType:
		return String(e.Type), true
	case PropertyCreated:
		return TimeMillis(e.Created), true
	case PropertyModified:
		return TimeMillis(e.Modified), true
	}
	return e.Properties.Get(name)
}

// Name returns the string name property if any.
func (e *Entity) Name() string {
	v, _ := e.Properties.Get(PropertyName)
	s, _ := v.AsString()
	return s
}

func (e *Entity) MarshalJSON() ([]byte, error) {
	out := NewProperties()
	out.Set(PropertyUUID, String(e.UUID.String()))
	out.Set(PropertyType, String(e.Type))
	if e.Created != 0 {
		out.Set(PropertyCreated, Int(e.Created))
	}
	if e.Modified != 0 {
		out.Set(PropertyModified, Int(e.Modified))
	}
	e.Properties.Range(func(name string, v Value) bool {
		out.Set(name, v)
		return true
	})
	if e.Metadata.Len() > 0 {
		out.Set("metadata", Map(e.Metadata))
	}
	return out.MarshalJSON()
}

func (e *Entity) UnmarshalJSON(b []byte) error {
	p := NewProperties()
	if err := p.UnmarshalJSON(b); err != nil {
		return err
	}
	e.Properties = NewProperties()
	var err error
	p.Range(func(name string, v Value) bool {
		switch strings.ToLower(name) {
		case PropertyUUID:
			s, _ := v.AsString()
			e.UUID, err = uuid.Parse(s)
		case PropertyType:
			e.Type, _ = v.AsString()
		case PropertyCreated:
			n, _ := v.AsNumber()
			e.Created = int64(n)
		case PropertyModified:
			n, _ := v.AsNumber()
			e.Modified = int64(n)
		case "metadata":
			e.Metadata, _ = v.AsMap()
		default:
			e.Properties.Set(name, v)
		}
		return err == nil
	})
	return err
}

// EntityRef identifies an entity without loading it.
type EntityRef struct {
	UUID uuid.UUID `json:"uuid"`
	Type string    `json:"type"`
}

func NewRef(entityType string, id uuid.UUID) EntityRef {
	return EntityRef{UUID: id, Type: entityType}
}

func (r EntityRef) Equal(o EntityRef) bool {
	return r.UUID == o.UUID && strings.EqualFold(r.Type, o.Type)
}

func (r EntityRef) IsZero() bool { return r.UUID == uuid.Nil }

func (r EntityRef) String() string { return r.Type + "/" + r.UUID.String() }

// ConnectionRef is one directed edge. Its ID is derived from the triple so
// the same edge always maps to the same id.
type ConnectionRef struct {
	Connecting     EntityRef `json:"connecting"`
	ConnectionType string    `json:"connection_type"`
	Connected      EntityRef `json:"connected"`
}

func (c ConnectionRef) ID() uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("connection:"+
		c.Connecting.UUID.String()+"|"+strings.ToLower(c.ConnectionType)+"|"+c.Connected.UUID.String()))
}

func (c ConnectionRef) String() string {
	return c.Connecting.String() + " -" + c.ConnectionType + "-> " + c.Connected.String()
}

// CollectionRef addresses one membership, properties may be attached to it
// through its ID.
type CollectionRef struct {
	Owner      EntityRef `json:"owner"`
	Collection string    `json:"collection"`
	Item       EntityRef `json:"item"`
}

func (c CollectionRef) ID() uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("collection:"+
		c.Owner.UUID.String()+"|"+strings.ToLower(c.Collection)+"|"+c.Item.UUID.String()))
}

func (c CollectionRef) Ref() EntityRef {
	return EntityRef{UUID: c.ID(), Type: "collection_membership"}
}
