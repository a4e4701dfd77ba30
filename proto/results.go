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

// Level controls how much of every matched entity a page materializes.
type Level uint8

const (
	LevelIDs Level = iota
	LevelRefs
	LevelCoreProperties
	LevelAllProperties
	LevelLinkedProperties
)

var levelNames = [...]string{"ids", "refs", "core_properties", "all_properties", "linked_properties"}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "unknown"
}

func ParseLevel(s string) (Level, bool) {
	s = strings.ToLower(s)
	for i, name := range levelNames {
		if name == s {
			return Level(i), true
		}
	}
	return LevelAllProperties, false
}

// LoadsEntities reports whether the level needs the stored rows.
func (l Level) LoadsEntities() bool { return l >= LevelCoreProperties }

// Results is one page of query output. At LevelIDs and LevelRefs the
// entities are stubs carrying only UUID and Type. Cursor is empty on the
// last page.
type Results struct {
	Level    Level     `json:"level"`
	Entities []*Entity `json:"entities"`
	Cursor   string    `json:"cursor,omitempty"`
}

func (r *Results) Size() int {
	if r == nil {
		return 0
	}
	return len(r.Entities)
}

func (r *Results) IDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, r.Size())
	for _, e := range r.Entities {
		ids = append(ids, e.UUID)
	}
	return ids
}

func (r *Results) Refs() []EntityRef {
	refs := make([]EntityRef, 0, r.Size())
	for _, e := range r.Entities {
		refs = append(refs, e.Ref())
	}
	return refs
}

func (r *Results) HasMore() bool { return r != nil && r.Cursor != "" }

// Entity returns the only entity of a single result page.
func (r *Results) Entity() *Entity {
	if r.Size() == 0 {
		return nil
	}
	return r.Entities[0]
}

// AggregateCounter is one resolution bucket.
type AggregateCounter struct {
	Timestamp int64 `json:"timestamp"`
	Value     int64 `json:"value"`
}

type AggregateCounterSet struct {
	Name     string             `json:"name"`
	User     uuid.UUID          `json:"user,omitempty"`
	Group    uuid.UUID          `json:"group,omitempty"`
	Queue    uuid.UUID          `json:"queue,omitempty"`
	Category string             `json:"category,omitempty"`
	Values   []AggregateCounter `json:"values"`
}
