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
	"bytes"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/cubefs/entitydb/errors"
	"github.com/cubefs/entitydb/proto"
)

type SliceKind uint8

const (
	// SliceRange scans [Lower, Upper] of the property index, either bound
	// may be open.
	SliceRange SliceKind = iota
	// SlicePoints scans each of Points.
	SlicePoints
	// SliceKeyword scans the keyword index for Term.
	SliceKeyword
)

type Bound struct {
	Value     proto.Value
	Inclusive bool
	Set       bool
}

// Slice is one contiguous scan directive over one property's index.
type Slice struct {
	Property string
	Kind     SliceKind
	Lower    Bound
	Upper    Bound
	// Points are sorted by their index encoding and unique.
	Points []proto.Value
	Term   string
	Prefix bool
}

// KeyRange is one [Start, End) interval of encoded values. A nil Start
// is unbounded below and a nil End unbounded above.
type KeyRange struct {
	Start []byte
	End   []byte
}

// Ranges returns the encoded intervals of the slice in ascending order.
func (s *Slice) Ranges() []KeyRange {
	switch s.Kind {
	case SlicePoints:
		out := make([]KeyRange, len(s.Points))
		for i, p := range s.Points {
			enc := EncodeValue(p)
			out[i] = KeyRange{Start: enc, End: prefixEnd(enc)}
		}
		return out
	case SliceKeyword:
		enc := EncodeKeyword(s.Term, s.Prefix)
		return []KeyRange{{Start: enc, End: prefixEnd(enc)}}
	}
	var r KeyRange
	if s.Lower.Set {
		enc := EncodeValue(s.Lower.Value)
		if s.Lower.Inclusive {
			r.Start = enc
		} else {
			r.Start = prefixEnd(enc)
		}
	}
	if s.Upper.Set {
		enc := EncodeValue(s.Upper.Value)
		if s.Upper.Inclusive {
			r.End = prefixEnd(enc)
		} else {
			r.End = enc
		}
	}
	return []KeyRange{r}
}

// Match reports whether any of the values satisfies the slice.
func (s *Slice) Match(values []proto.Value) bool {
	for _, v := range values {
		if s.matchOne(v) {
			return true
		}
	}
	return false
}

func (s *Slice) matchOne(v proto.Value) bool {
	switch s.Kind {
	case SliceKeyword:
		str, ok := v.AsString()
		if !ok {
			return false
		}
		term := strings.ToLower(s.Term)
		for _, kw := range Keywords(str) {
			if kw == term || (s.Prefix && strings.HasPrefix(kw, term)) {
				return true
			}
		}
		return false
	case SlicePoints:
		for _, p := range s.Points {
			if Compare(v, p) == 0 {
				return true
			}
		}
		return false
	}
	enc := EncodeValue(v)
	for _, r := range s.Ranges() {
		if (r.Start == nil || bytes.Compare(enc, r.Start) >= 0) && (r.End == nil || bytes.Compare(enc, r.End) < 0) {
			return true
		}
	}
	return false
}

// FirstKey returns the index encoding of the first value in scan order
// that satisfies the slice, nil when none does. An entity with several
// matching values is only taken from the row at this key.
func (s *Slice) FirstKey(values []proto.Value, desc bool) []byte {
	var first []byte
	consider := func(enc []byte) {
		if first == nil || (!desc && bytes.Compare(enc, first) < 0) || (desc && bytes.Compare(enc, first) > 0) {
			first = enc
		}
	}
	for _, v := range values {
		if s.Kind != SliceKeyword {
			if s.matchOne(v) {
				consider(EncodeValue(v))
			}
			continue
		}
		str, ok := v.AsString()
		if !ok {
			continue
		}
		term := strings.ToLower(s.Term)
		for _, kw := range Keywords(str) {
			if kw == term || (s.Prefix && strings.HasPrefix(kw, term)) {
				consider(EncodeKeyword(kw, false))
			}
		}
	}
	return first
}

// Plan is the compiled form of a query.
type Plan struct {
	Slices []*Slice
	// Primary drives the index scan, nil means a membership scan.
	Primary *Slice
	Desc    bool
	Geo     *GeoFilter
	Sorts   []Sort
	// SecondarySort asks for a stable in-memory sort of every page.
	SecondarySort bool
	fingerprint   uint32
}

// Residual returns the slices checked against loaded entities.
func (p *Plan) Residual() []*Slice {
	out := make([]*Slice, 0, len(p.Slices))
	for _, s := range p.Slices {
		if s != p.Primary {
			out = append(out, s)
		}
	}
	return out
}

// Match evaluates every slice and the geo filter against an entity.
func (p *Plan) Match(e *proto.Entity) bool {
	for _, s := range p.Slices {
		if !s.Match(PropertyValues(e, s.Property)) {
			return false
		}
	}
	if p.Geo != nil {
		_, ok := p.GeoDistance(e)
		return ok
	}
	return true
}

// GeoDistance returns the distance of e from the geo center when e lies
// within the radius.
func (p *Plan) GeoDistance(e *proto.Entity) (float64, bool) {
	v, ok := e.Property(p.Geo.Property)
	if !ok {
		return 0, false
	}
	lat, lon, ok := GeoPoint(v)
	if !ok {
		return 0, false
	}
	d := Distance(p.Geo.Latitude, p.Geo.Longitude, lat, lon)
	return d, d <= p.Geo.Distance
}

// Compile groups the filters by property, merges each group into its
// tightest slice and picks the slice driving the scan.
func (q *Query) Compile() (*Plan, error) {
	p := &Plan{Geo: q.Geo, Sorts: q.Sorts, fingerprint: q.fingerprint()}

	var order []string
	groups := make(map[string][]Filter)
	var keywords []*Slice
	for _, f := range q.Filters {
		if f.Property == "" {
			return nil, errors.Wrap(errors.ErrInvalidQuery, "filter without property")
		}
		if f.Op == OpContains {
			term, _ := f.Value.AsString()
			s := &Slice{Property: strings.ToLower(f.Property), Kind: SliceKeyword}
			s.Term, s.Prefix = strings.TrimSuffix(term, "*"), strings.HasSuffix(term, "*")
			if s.Term == "" {
				return nil, errors.Wrap(errors.ErrInvalidQuery, "empty contains term on %s", f.Property)
			}
			keywords = append(keywords, s)
			continue
		}
		name := strings.ToLower(f.Property)
		if name == proto.PropertyUUID {
			f = uuidFilter(f)
		}
		if _, ok := groups[name]; !ok {
			order = append(order, name)
		}
		groups[name] = append(groups[name], f)
	}
	for _, name := range order {
		s, err := mergeFilters(name, groups[name])
		if err != nil {
			return nil, err
		}
		p.Slices = append(p.Slices, s)
	}
	p.Slices = append(p.Slices, keywords...)

	if p.Geo != nil {
		if p.Geo.Distance <= 0 {
			return nil, errors.Wrap(errors.ErrInvalidQuery, "within distance must be positive")
		}
		p.SecondarySort = len(p.Sorts) > 0
		return p, nil
	}

	var sortProp string
	if len(q.Sorts) > 0 {
		sortProp = strings.ToLower(q.Sorts[0].Property)
		p.Desc = q.Sorts[0].Direction == Descending
	}
	for _, s := range p.Slices {
		if s.Kind != SliceKeyword && s.Property == sortProp {
			p.Primary = s
			break
		}
	}
	if p.Primary == nil {
		for _, s := range p.Slices {
			if s.Kind != SliceKeyword {
				p.Primary = s
				break
			}
		}
	}
	if p.Primary == nil && len(keywords) > 0 {
		p.Primary = keywords[0]
	}
	if p.Primary == nil && sortProp != "" {
		p.Primary = &Slice{Property: sortProp, Kind: SliceRange}
	}
	if p.Primary == nil {
		p.Desc = q.Reversed
		return p, nil
	}
	if p.Primary.Property != sortProp {
		p.Desc = false
	}
	p.SecondarySort = len(q.Sorts) > 1 || (len(q.Sorts) == 1 && p.Primary.Property != sortProp) ||
		(len(q.Sorts) > 0 && p.Primary.Kind == SliceKeyword)
	return p, nil
}

// uuidFilter turns quoted uuid literals into uuid values, the uuid
// index holds uuid encodings only.
func uuidFilter(f Filter) Filter {
	asUUID := func(v proto.Value) proto.Value {
		if str, ok := v.AsString(); ok {
			if id, err := uuid.Parse(str); err == nil {
				return proto.UUID(id)
			}
		}
		return v
	}
	f.Value = asUUID(f.Value)
	if len(f.Values) > 0 {
		values := make([]proto.Value, len(f.Values))
		for i, v := range f.Values {
			values[i] = asUUID(v)
		}
		f.Values = values
	}
	return f
}

func mergeFilters(name string, filters []Filter) (*Slice, error) {
	s := &Slice{Property: name, Kind: SliceRange}
	var points []proto.Value
	hasPoints := false
	for _, f := range filters {
		switch f.Op {
		case OpEqual:
			points, hasPoints = intersect(points, []proto.Value{f.Value}, hasPoints), true
		case OpIn:
			if len(f.Values) == 0 {
				return nil, errors.Wrap(errors.ErrInvalidQuery, "empty in list on %s", name)
			}
			points, hasPoints = intersect(points, f.Values, hasPoints), true
		case OpGreater, OpGreaterEqual:
			tightenLower(&s.Lower, f.Value, f.Op == OpGreaterEqual)
		case OpLess, OpLessEqual:
			tightenUpper(&s.Upper, f.Value, f.Op == OpLessEqual)
		default:
			return nil, errors.Wrap(errors.ErrInvalidQuery, "operator %d on %s", f.Op, name)
		}
	}
	if s.Lower.Set && s.Upper.Set {
		c := Compare(s.Lower.Value, s.Upper.Value)
		if c > 0 || (c == 0 && !(s.Lower.Inclusive && s.Upper.Inclusive)) {
			return nil, errors.Wrap(errors.ErrQueryContradiction, "%s has an empty range", name)
		}
	}
	if !hasPoints {
		return s, nil
	}
	if len(points) == 0 {
		return nil, errors.Wrap(errors.ErrQueryContradiction, "%s has no common value", name)
	}
	kept := points[:0]
	for _, v := range points {
		if s.matchOne(v) {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		return nil, errors.Wrap(errors.ErrQueryContradiction, "%s equality conflicts with its range", name)
	}
	return &Slice{Property: name, Kind: SlicePoints, Points: kept}, nil
}

// intersect keeps the values present in both sets, sorted and unique.
func intersect(current, values []proto.Value, started bool) []proto.Value {
	uniq := make(map[string]proto.Value, len(values))
	for _, v := range values {
		uniq[string(EncodeValue(v))] = v
	}
	if started {
		both := make(map[string]proto.Value)
		for _, v := range current {
			k := string(EncodeValue(v))
			if _, ok := uniq[k]; ok {
				both[k] = v
			}
		}
		uniq = both
	}
	keys := make([]string, 0, len(uniq))
	for k := range uniq {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]proto.Value, len(keys))
	for i, k := range keys {
		out[i] = uniq[k]
	}
	return out
}

// tightenLower keeps the larger bound, exclusive wins a tie.
func tightenLower(b *Bound, v proto.Value, inclusive bool) {
	if !b.Set {
		*b = Bound{Value: v, Inclusive: inclusive, Set: true}
		return
	}
	switch c := Compare(v, b.Value); {
	case c > 0:
		*b = Bound{Value: v, Inclusive: inclusive, Set: true}
	case c == 0 && !inclusive:
		b.Inclusive = false
	}
}

// tightenUpper keeps the smaller bound, exclusive wins a tie.
func tightenUpper(b *Bound, v proto.Value, inclusive bool) {
	if !b.Set {
		*b = Bound{Value: v, Inclusive: inclusive, Set: true}
		return
	}
	switch c := Compare(v, b.Value); {
	case c < 0:
		*b = Bound{Value: v, Inclusive: inclusive, Set: true}
	case c == 0 && !inclusive:
		b.Inclusive = false
	}
}

func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
