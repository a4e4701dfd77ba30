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
	"encoding/binary"
	"math"
	"strings"
	"unicode"

	"github.com/cubefs/entitydb/proto"
)

// type tags, their order is the cross-kind sort order
const (
	tagNull   = 0x01
	tagBool   = 0x02
	tagNumber = 0x03
	tagString = 0x04
	tagUUID   = 0x05
)

// EncodeValue returns an order preserving, self delimiting encoding of a
// scalar value: bytes.Compare on encodings orders values the way queries
// do. Strings compare case-insensitively and times as epoch millis.
func EncodeValue(v proto.Value) []byte {
	return AppendValue(nil, v)
}

func AppendValue(b []byte, v proto.Value) []byte {
	switch v.Kind() {
	case proto.KindBool:
		x, _ := v.AsBool()
		if x {
			return append(b, tagBool, 1)
		}
		return append(b, tagBool, 0)
	case proto.KindNumber, proto.KindTime:
		n, _ := v.AsNumber()
		return appendFloat(append(b, tagNumber), n)
	case proto.KindString:
		s, _ := v.AsString()
		return appendString(append(b, tagString), strings.ToLower(s))
	case proto.KindUUID:
		id, _ := v.AsUUID()
		return append(append(b, tagUUID), id[:]...)
	}
	return append(b, tagNull)
}

func appendFloat(b []byte, f float64) []byte {
	bits := math.Float64bits(f)
	if f < 0 || (f == 0 && math.Signbit(f)) {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	if f == 0 {
		// -0 and +0 are the same number
		bits = 1 << 63
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], bits)
	return append(b, buf[:]...)
}

// appendString escapes 0x00 as 0x00 0xff and terminates with 0x00 0x01.
func appendString(b []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			b = append(b, 0, 0xff)
			continue
		}
		b = append(b, s[i])
	}
	return append(b, 0, 1)
}

// Compare orders two scalar values the way the index does.
func Compare(a, b proto.Value) int {
	return bytes.Compare(EncodeValue(a), EncodeValue(b))
}

// Keywords splits a string into the lower cased terms contains matches.
func Keywords(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// EncodeKeyword is the index encoding of a contains term. A prefix term
// drops the terminator so it matches every longer keyword.
func EncodeKeyword(term string, prefix bool) []byte {
	b := appendString([]byte{tagString}, strings.ToLower(term))
	if prefix {
		return b[:len(b)-2]
	}
	return b
}

// Flatten visits every indexable scalar of a property bag. Nested maps
// yield dotted names and list elements are visited one by one under the
// list's name.
func Flatten(props *proto.Properties, visit func(name string, v proto.Value)) {
	props.Range(func(name string, v proto.Value) bool {
		flattenValue(strings.ToLower(name), v, visit)
		return true
	})
}

func flattenValue(name string, v proto.Value, visit func(string, proto.Value)) {
	switch v.Kind() {
	case proto.KindMap:
		m, _ := v.AsMap()
		m.Range(func(child string, cv proto.Value) bool {
			flattenValue(name+"."+strings.ToLower(child), cv, visit)
			return true
		})
	case proto.KindList:
		l, _ := v.AsList()
		for _, e := range l {
			if e.Kind() == proto.KindList {
				continue
			}
			flattenValue(name, e, visit)
		}
	case proto.KindNull:
	default:
		visit(name, v)
	}
}

// PropertyValues returns the scalars of a possibly dotted property of e.
func PropertyValues(e *proto.Entity, name string) []proto.Value {
	lower := strings.ToLower(name)
	head := lower
	v, ok := e.Property(lower)
	if !ok {
		i := strings.IndexByte(lower, '.')
		if i < 0 {
			return nil
		}
		head = lower[:i]
		if v, ok = e.Property(head); !ok {
			return nil
		}
	}
	var out []proto.Value
	flattenValue(head, v, func(n string, sv proto.Value) {
		if n == lower {
			out = append(out, sv)
		}
	})
	return out
}
