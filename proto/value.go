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
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"
)

type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindTime
	KindUUID
	KindMap
	KindList
)

var kindNames = [...]string{"null", "string", "number", "bool", "time", "uuid", "map", "list"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

func ParseKind(s string) (Kind, bool) {
	for i, name := range kindNames {
		if name == s {
			return Kind(i), true
		}
	}
	return KindNull, false
}

// persisted markers for kinds structpb cannot express
const (
	timeMarker = "$t"
	uuidMarker = "$u"
)

// Value is an entity property value. The zero Value is null.
type Value struct {
	kind Kind
	s    string
	n    float64
	b    bool
	t    int64
	u    uuid.UUID
	m    *Properties
	l    []Value
}

func Null() Value                 { return Value{} }
func String(s string) Value       { return Value{kind: KindString, s: s} }
func Number(n float64) Value      { return Value{kind: KindNumber, n: n} }
func Int(n int64) Value           { return Value{kind: KindNumber, n: float64(n)} }
func Bool(b bool) Value           { return Value{kind: KindBool, b: b} }
func TimeMillis(ms int64) Value   { return Value{kind: KindTime, t: ms} }
func UUID(u uuid.UUID) Value      { return Value{kind: KindUUID, u: u} }
func Map(m *Properties) Value     { return Value{kind: KindMap, m: m} }
func List(values ...Value) Value  { return Value{kind: KindList, l: values} }
func Time(t time.Time) Value      { return TimeMillis(t.UnixNano() / int64(time.Millisecond)) }
func (v Value) Kind() Kind        { return v.kind }
func (v Value) IsNull() bool      { return v.kind == KindNull }
func (v Value) IsScalar() bool    { return v.kind != KindMap && v.kind != KindList && v.kind != KindNull }
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }
func (v Value) AsNumber() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.n, true
	case KindTime:
		return float64(v.t), true
	}
	return 0, false
}
func (v Value) AsBool() (bool, bool)          { return v.b, v.kind == KindBool }
func (v Value) AsTime() (int64, bool)         { return v.t, v.kind == KindTime }
func (v Value) AsUUID() (uuid.UUID, bool)     { return v.u, v.kind == KindUUID }
func (v Value) AsMap() (*Properties, bool)    { return v.m, v.kind == KindMap }
func (v Value) AsList() ([]Value, bool)       { return v.l, v.kind == KindList }

// Equal compares kind and content, maps by name regardless of order.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.s == o.s
	case KindNumber:
		return v.n == o.n
	case KindBool:
		return v.b == o.b
	case KindTime:
		return v.t == o.t
	case KindUUID:
		return v.u == o.u
	case KindMap:
		return v.m.Equal(o.m)
	case KindList:
		if len(v.l) != len(o.l) {
			return false
		}
		for i := range v.l {
			if !v.l[i].Equal(o.l[i]) {
				return false
			}
		}
		return true
	}
	return false
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindString:
		return v.s
	case KindNumber:
		return strconv.FormatFloat(v.n, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindTime:
		return time.Unix(0, v.t*int64(time.Millisecond)).UTC().Format(time.RFC3339Nano)
	case KindUUID:
		return v.u.String()
	}
	b, _ := json.Marshal(v.Interface())
	return string(b)
}

// Interface converts to plain JSON friendly values. Times become epoch
// milliseconds and uuids their canonical string.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		return v.n
	case KindBool:
		return v.b
	case KindTime:
		return v.t
	case KindUUID:
		return v.u.String()
	case KindMap:
		out := make(map[string]interface{}, v.m.Len())
		v.m.Range(func(name string, val Value) bool {
			out[name] = val.Interface()
			return true
		})
		return out
	case KindList:
		out := make([]interface{}, len(v.l))
		for i := range v.l {
			out[i] = v.l[i].Interface()
		}
		return out
	}
	return nil
}

// FromInterface converts decoded JSON and common Go values.
func FromInterface(i interface{}) (Value, error) {
	switch x := i.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case float64:
		return Number(x), nil
	case float32:
		return Number(float64(x)), nil
	case int:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint32:
		return Int(int64(x)), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Null(), err
		}
		return Number(f), nil
	case time.Time:
		return Time(x), nil
	case uuid.UUID:
		return UUID(x), nil
	case *Properties:
		return Map(x), nil
	case map[string]interface{}:
		p := NewProperties()
		for k, e := range x {
			ev, err := FromInterface(e)
			if err != nil {
				return Null(), err
			}
			p.Set(k, ev)
		}
		return Map(p), nil
	case []interface{}:
		l := make([]Value, len(x))
		for idx := range x {
			ev, err := FromInterface(x[idx])
			if err != nil {
				return Null(), err
			}
			l[idx] = ev
		}
		return List(l...), nil
	case []string:
		l := make([]Value, len(x))
		for idx := range x {
			l[idx] = String(x[idx])
		}
		return List(l...), nil
	}
	return Null(), fmt.Errorf("unsupported value type %T", i)
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindMap {
		return v.m.MarshalJSON()
	}
	return json.Marshal(v.Interface())
}

func (v *Value) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '{' {
		p := NewProperties()
		if err := p.UnmarshalJSON(b); err != nil {
			return err
		}
		*v = Map(p)
		return nil
	}
	var i interface{}
	if err := json.Unmarshal(b, &i); err != nil {
		return err
	}
	val, err := FromInterface(i)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

// ToStructpb encodes for persistence. Map order is kept by storing maps as
// a list of [name, value] pairs.
func (v Value) ToStructpb() *structpb.Value {
	switch v.kind {
	case KindString:
		return structpb.NewStringValue(v.s)
	case KindNumber:
		if math.IsNaN(v.n) || math.IsInf(v.n, 0) {
			return structpb.NewNullValue()
		}
		return structpb.NewNumberValue(v.n)
	case KindBool:
		return structpb.NewBoolValue(v.b)
	case KindTime:
		return markerValue(timeMarker, structpb.NewNumberValue(float64(v.t)))
	case KindUUID:
		return markerValue(uuidMarker, structpb.NewStringValue(v.u.String()))
	case KindMap:
		return structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"$m": structpb.NewListValue(v.m.toPairs()),
		}})
	case KindList:
		l := &structpb.ListValue{Values: make([]*structpb.Value, len(v.l))}
		for i := range v.l {
			l.Values[i] = v.l[i].ToStructpb()
		}
		return structpb.NewListValue(l)
	}
	return structpb.NewNullValue()
}

func markerValue(marker string, inner *structpb.Value) *structpb.Value {
	return structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{marker: inner}})
}

func FromStructpb(pv *structpb.Value) (Value, error) {
	switch k := pv.GetKind().(type) {
	case nil, *structpb.Value_NullValue:
		return Null(), nil
	case *structpb.Value_StringValue:
		return String(k.StringValue), nil
	case *structpb.Value_NumberValue:
		return Number(k.NumberValue), nil
	case *structpb.Value_BoolValue:
		return Bool(k.BoolValue), nil
	case *structpb.Value_ListValue:
		l := make([]Value, len(k.ListValue.GetValues()))
		for i, e := range k.ListValue.GetValues() {
			v, err := FromStructpb(e)
			if err != nil {
				return Null(), err
			}
			l[i] = v
		}
		return List(l...), nil
	case *structpb.Value_StructValue:
		fields := k.StructValue.GetFields()
		if t, ok := fields[timeMarker]; ok && len(fields) == 1 {
			return TimeMillis(int64(t.GetNumberValue())), nil
		}
		if u, ok := fields[uuidMarker]; ok && len(fields) == 1 {
			id, err := uuid.Parse(u.GetStringValue())
			if err != nil {
				return Null(), err
			}
			return UUID(id), nil
		}
		if pairs, ok := fields["$m"]; ok && len(fields) == 1 {
			p, err := propertiesFromPairs(pairs.GetListValue())
			if err != nil {
				return Null(), err
			}
			return Map(p), nil
		}
		return Null(), fmt.Errorf("unknown persisted struct value with %d fields", len(fields))
	}
	return Null(), fmt.Errorf("unknown persisted value %T", pv.GetKind())
}
