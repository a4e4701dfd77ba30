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
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"
)

// Properties is an insertion ordered property bag. Lookups ignore case,
// the first spelling of a name is the one kept.
type Properties struct {
	names  []string
	values []Value
	pos    map[string]int
}

func NewProperties() *Properties {
	return &Properties{pos: make(map[string]int)}
}

// PropertiesOf builds a bag from name/value pairs.
func PropertiesOf(kv ...interface{}) *Properties {
	p := NewProperties()
	for i := 0; i+1 < len(kv); i += 2 {
		v, err := FromInterface(kv[i+1])
		if err != nil {
			panic(err)
		}
		p.Set(kv[i].(string), v)
	}
	return p
}

func (p *Properties) Len() int {
	if p == nil {
		return 0
	}
	return len(p.names)
}

func (p *Properties) Get(name string) (Value, bool) {
	if p == nil {
		return Null(), false
	}
	i, ok := p.pos[strings.ToLower(name)]
	if !ok {
		return Null(), false
	}
	return p.values[i], true
}

// Name returns the stored spelling of name.
func (p *Properties) Name(name string) (string, bool) {
	if p == nil {
		return "", false
	}
	i, ok := p.pos[strings.ToLower(name)]
	if !ok {
		return "", false
	}
	return p.names[i], true
}

func (p *Properties) Has(name string) bool {
	_, ok := p.Get(name)
	return ok
}

func (p *Properties) Set(name string, v Value) {
	key := strings.ToLower(name)
	if p.pos == nil {
		p.pos = make(map[string]int)
	}
	if i, ok := p.pos[key]; ok {
		p.values[i] = v
		return
	}
	p.pos[key] = len(p.names)
	p.names = append(p.names, name)
	p.values = append(p.values, v)
}

func (p *Properties) Delete(name string) bool {
	if p == nil {
		return false
	}
	key := strings.ToLower(name)
	i, ok := p.pos[key]
	if !ok {
		return false
	}
	delete(p.pos, key)
	p.names = append(p.names[:i], p.names[i+1:]...)
	p.values = append(p.values[:i], p.values[i+1:]...)
	for j := i; j < len(p.names); j++ {
		p.pos[strings.ToLower(p.names[j])] = j
	}
	return true
}

// Names returns the property names in insertion order.
func (p *Properties) Names() []string {
	if p == nil {
		return nil
	}
	return append([]string(nil), p.names...)
}

// Range stops when f returns false.
func (p *Properties) Range(f func(name string, v Value) bool) {
	if p == nil {
		return
	}
	for i := range p.names {
		if !f(p.names[i], p.values[i]) {
			return
		}
	}
}

func (p *Properties) Clone() *Properties {
	c := NewProperties()
	p.Range(func(name string, v Value) bool {
		c.Set(name, v)
		return true
	})
	return c
}

func (p *Properties) Equal(o *Properties) bool {
	if p.Len() != o.Len() {
		return false
	}
	equal := true
	p.Range(func(name string, v Value) bool {
		ov, ok := o.Get(name)
		equal = ok && v.Equal(ov)
		return equal
	})
	return equal
}

func (p *Properties) MarshalJSON() ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	buf.WriteByte('{')
	for i := 0; i < p.Len(); i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(p.names[i])
		if err != nil {
			return nil, err
		}
		value, err := p.values[i].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON keeps the document order of the object keys.
func (p *Properties) UnmarshalJSON(b []byte) error {
	if p.pos == nil {
		p.pos = make(map[string]int)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("properties must be a json object")
	}
	for dec.More() {
		tok, err = dec.Token()
		if err != nil {
			return err
		}
		name := tok.(string)
		var raw json.RawMessage
		if err = dec.Decode(&raw); err != nil {
			return err
		}
		var v Value
		if err = v.UnmarshalJSON(raw); err != nil {
			return err
		}
		p.Set(name, v)
	}
	_, err = dec.Token()
	return err
}

func (p *Properties) toPairs() *structpb.ListValue {
	l := &structpb.ListValue{Values: make([]*structpb.Value, 0, p.Len())}
	p.Range(func(name string, v Value) bool {
		l.Values = append(l.Values, structpb.NewListValue(&structpb.ListValue{
			Values: []*structpb.Value{structpb.NewStringValue(name), v.ToStructpb()},
		}))
		return true
	})
	return l
}

func propertiesFromPairs(l *structpb.ListValue) (*Properties, error) {
	p := NewProperties()
	for _, pair := range l.GetValues() {
		kv := pair.GetListValue().GetValues()
		if len(kv) != 2 {
			return nil, fmt.Errorf("malformed property pair")
		}
		v, err := FromStructpb(kv[1])
		if err != nil {
			return nil, err
		}
		p.Set(kv[0].GetStringValue(), v)
	}
	return p, nil
}
