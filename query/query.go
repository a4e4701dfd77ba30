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

package query

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/cubefs/entitydb/proto"
)

const (
	DefaultLimit = 10
	MaxLimit     = 1000
)

type Operator uint8

const (
	OpEqual Operator = iota + 1
	OpLess
	OpLessEqual
	OpGreater
	OpGreaterEqual
	OpIn
	OpContains
)

var operatorNames = map[Operator]string{
	OpEqual:        "=",
	OpLess:         "<",
	OpLessEqual:    "<=",
	OpGreater:      ">",
	OpGreaterEqual: ">=",
	OpIn:           "in",
	OpContains:     "contains",
}

func (o Operator) String() string { return operatorNames[o] }

type Filter struct {
	Property string
	Op       Operator
	Value    proto.Value
	// Values holds the candidates of an in filter.
	Values []proto.Value
}

func (f Filter) String() string {
	if f.Op == OpIn {
		vals := make([]string, len(f.Values))
		for i := range f.Values {
			vals[i] = literal(f.Values[i])
		}
		return f.Property + " in (" + strings.Join(vals, ",") + ")"
	}
	return f.Property + " " + f.Op.String() + " " + literal(f.Value)
}

// GeoFilter selects entities whose point property lies within Distance
// meters of (Latitude, Longitude).
type GeoFilter struct {
	Property  string
	Distance  float64
	Latitude  float64
	Longitude float64
}

type Direction uint8

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

type Sort struct {
	Property  string
	Direction Direction
}

// Query is the parsed form of the query language and also its builder.
type Query struct {
	Select  []string
	Filters []Filter
	Geo     *GeoFilter
	Sorts   []Sort
	Limit   int
	Cursor  string
	Level   proto.Level
	// Reversed flips the insertion order of an unfiltered unsorted scan.
	Reversed bool

	// scope, at most one of Collection and ConnectionType is set
	Collection     string
	ConnectionType string
	// EntityType restricts connection traversal to one member type.
	EntityType string
}

func New() *Query {
	return &Query{Level: proto.LevelAllProperties}
}

func (q *Query) add(f Filter) *Query {
	q.Filters = append(q.Filters, f)
	return q
}

func (q *Query) Eq(property string, v proto.Value) *Query {
	return q.add(Filter{Property: property, Op: OpEqual, Value: v})
}

func (q *Query) Lt(property string, v proto.Value) *Query {
	return q.add(Filter{Property: property, Op: OpLess, Value: v})
}

func (q *Query) Lte(property string, v proto.Value) *Query {
	return q.add(Filter{Property: property, Op: OpLessEqual, Value: v})
}

func (q *Query) Gt(property string, v proto.Value) *Query {
	return q.add(Filter{Property: property, Op: OpGreater, Value: v})
}

func (q *Query) Gte(property string, v proto.Value) *Query {
	return q.add(Filter{Property: property, Op: OpGreaterEqual, Value: v})
}

func (q *Query) In(property string, values ...proto.Value) *Query {
	return q.add(Filter{Property: property, Op: OpIn, Values: values})
}

// Contains matches a keyword of a string property, a trailing * matches a
// keyword prefix.
func (q *Query) Contains(property, term string) *Query {
	return q.add(Filter{Property: property, Op: OpContains, Value: proto.String(term)})
}

func (q *Query) Within(property string, meters, lat, lon float64) *Query {
	q.Geo = &GeoFilter{Property: property, Distance: meters, Latitude: lat, Longitude: lon}
	return q
}

func (q *Query) OrderBy(property string, d Direction) *Query {
	q.Sorts = append(q.Sorts, Sort{Property: property, Direction: d})
	return q
}

func (q *Query) WithLimit(limit int) *Query {
	q.Limit = limit
	return q
}

func (q *Query) WithCursor(cursor string) *Query {
	q.Cursor = cursor
	return q
}

func (q *Query) WithLevel(l proto.Level) *Query {
	q.Level = l
	return q
}

func (q *Query) WithReversed(reversed bool) *Query {
	q.Reversed = reversed
	return q
}

func (q *Query) InCollection(name string) *Query {
	q.Collection, q.ConnectionType = name, ""
	return q
}

func (q *Query) WithConnectionType(connectionType string) *Query {
	q.ConnectionType, q.Collection = connectionType, ""
	return q
}

func (q *Query) WithEntityType(entityType string) *Query {
	q.EntityType = entityType
	return q
}

// Clone copies the query so the copy can be re-scoped or re-paged.
func (q *Query) Clone() *Query {
	c := *q
	c.Select = append([]string(nil), q.Select...)
	c.Filters = append([]Filter(nil), q.Filters...)
	c.Sorts = append([]Sort(nil), q.Sorts...)
	if q.Geo != nil {
		g := *q.Geo
		c.Geo = &g
	}
	return &c
}

// HasScope reports whether the query names a collection or connection type.
func (q *Query) HasScope() bool {
	return q.Collection != "" || q.ConnectionType != ""
}

// IsFiltered reports whether the query needs index scans beyond membership.
func (q *Query) IsFiltered() bool {
	return len(q.Filters) > 0 || q.Geo != nil || len(q.Sorts) > 0
}

// PageSize clamps Limit to (0, MaxLimit].
func (q *Query) PageSize() int {
	switch {
	case q.Limit <= 0:
		return DefaultLimit
	case q.Limit > MaxLimit:
		return MaxLimit
	}
	return q.Limit
}

// String renders the query in the query language.
func (q *Query) String() string {
	var parts []string
	if len(q.Select) > 0 {
		parts = append(parts, "select "+strings.Join(q.Select, ","))
	}
	var preds []string
	for _, f := range q.Filters {
		preds = append(preds, f.String())
	}
	if q.Geo != nil {
		preds = append(preds, fmt.Sprintf("%s within %g of %g,%g",
			q.Geo.Property, q.Geo.Distance, q.Geo.Latitude, q.Geo.Longitude))
	}
	if len(preds) > 0 {
		parts = append(parts, "where "+strings.Join(preds, " and "))
	}
	if len(q.Sorts) > 0 {
		sorts := make([]string, len(q.Sorts))
		for i, s := range q.Sorts {
			sorts[i] = s.Property + " " + s.Direction.String()
		}
		parts = append(parts, "order by "+strings.Join(sorts, ","))
	}
	return strings.Join(parts, " ")
}

// fingerprint identifies everything a cursor depends on.
func (q *Query) fingerprint() uint32 {
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(q.String())))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(q.Collection + "\x00" + q.ConnectionType + "\x00" + q.EntityType)))
	if q.Reversed {
		h.Write([]byte{1})
	}
	return h.Sum32()
}

func literal(v proto.Value) string {
	if s, ok := v.AsString(); ok {
		return "'" + strings.ReplaceAll(s, "'", "\\'") + "'"
	}
	return v.String()
}
