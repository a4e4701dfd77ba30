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
	"bytes"
	"encoding/binary"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/cubefs/entitydb/index"
	"github.com/cubefs/entitydb/query"
)

// index families, the byte after the application id in the index column
const (
	familyMembership = 'm'
	familyProperty   = 'p'
	familyKeyword    = 'k'
	familyGeo        = 'g'
)

// ledger families, the byte after the entity id in the ledger column
const (
	ledgerScope = 's'
	ledgerAlias = 'a'
)

const (
	dictConnectedTypes  = "connected_types"
	dictConnectingTypes = "connecting_types"
	dictMembership      = "membership"

	uuidLen   = 16
	bucketLen = 4
)

type scopeKind byte

const (
	scopeCollection  scopeKind = 'c'
	scopeOutgoing    scopeKind = 'o'
	scopeIncoming    scopeKind = 'i'
	scopeAnyOutgoing scopeKind = 'O'
	scopeAnyIncoming scopeKind = 'I'
)

// scope is one membership set: a collection of owner, or the entities
// owner connects to (or is connected from) with one connection type. The
// any scopes hold every edge regardless of type and carry no property
// index.
type scope struct {
	owner uuid.UUID
	kind  scopeKind
	name  string
}

func collectionScope(owner uuid.UUID, name string) scope {
	return scope{owner: owner, kind: scopeCollection, name: strings.ToLower(name)}
}

func connectionScope(owner uuid.UUID, connectionType string, outgoing bool) scope {
	kind := scopeIncoming
	if outgoing {
		kind = scopeOutgoing
	}
	return scope{owner: owner, kind: kind, name: strings.ToLower(connectionType)}
}

func anyConnectionScope(owner uuid.UUID, outgoing bool) scope {
	if outgoing {
		return scope{owner: owner, kind: scopeAnyOutgoing}
	}
	return scope{owner: owner, kind: scopeAnyIncoming}
}

func (s scope) indexed() bool {
	return s.kind != scopeAnyOutgoing && s.kind != scopeAnyIncoming
}

func (s scope) encode() []byte {
	b := make([]byte, 0, uuidLen+2+len(s.name))
	b = append(b, s.owner[:]...)
	b = append(b, byte(s.kind))
	b = append(b, s.name...)
	return append(b, 0)
}

// path is what the bucket locator hashes for this scope.
func (s scope) path() string {
	return s.owner.String() + "/" + string(s.kind) + "/" + s.name
}

func decodeScope(b []byte) (scope, int, bool) {
	if len(b) < uuidLen+2 {
		return scope{}, 0, false
	}
	var s scope
	copy(s.owner[:], b[:uuidLen])
	s.kind = scopeKind(b[uuidLen])
	end := bytes.IndexByte(b[uuidLen+1:], 0)
	if end < 0 {
		return scope{}, 0, false
	}
	s.name = string(b[uuidLen+1 : uuidLen+1+end])
	return s, uuidLen + 1 + end + 1, true
}

// keys builds every key of one application.
type keys struct {
	app uuid.UUID
}

func (k keys) entity(id uuid.UUID) []byte {
	b := make([]byte, 0, 2*uuidLen)
	b = append(b, k.app[:]...)
	return append(b, id[:]...)
}

func (k keys) family(family byte) []byte {
	b := make([]byte, 0, 64)
	b = append(b, k.app[:]...)
	return append(b, family)
}

// membershipPrefix covers every bucket of the scope.
func (k keys) membershipPrefix(s scope) []byte {
	return append(k.family(familyMembership), s.encode()...)
}

func (k keys) membershipBucket(s scope, bucket uint32) []byte {
	return appendBucket(k.membershipPrefix(s), bucket)
}

// membership is the row of member in s. The suffix tells edges of the any
// scopes apart, it holds the connection type.
func (k keys) membership(s scope, bucket uint32, member uuid.UUID, suffix string) []byte {
	b := k.membershipBucket(s, bucket)
	b = append(b, member[:]...)
	return append(b, suffix...)
}

// ownedPrefix covers every scope of one kind owned by owner in a family.
func (k keys) ownedPrefix(family byte, owner uuid.UUID, kind scopeKind) []byte {
	b := k.family(family)
	b = append(b, owner[:]...)
	return append(b, byte(kind))
}

func (k keys) propertyPrefix(family byte, s scope, property string) []byte {
	b := append(k.family(family), s.encode()...)
	b = append(b, strings.ToLower(property)...)
	return append(b, 0)
}

func (k keys) propertyBucket(family byte, s scope, property string, bucket uint32) []byte {
	return appendBucket(k.propertyPrefix(family, s, property), bucket)
}

// property is a value or keyword row: the order preserving encoding
// followed by the entity id.
func (k keys) property(family byte, s scope, property string, bucket uint32, enc []byte, id uuid.UUID) []byte {
	b := k.propertyBucket(family, s, property, bucket)
	b = append(b, enc...)
	return append(b, id[:]...)
}

func (k keys) geoCell(s scope, property string, bucket uint32, c query.Cell) []byte {
	b := k.propertyBucket(familyGeo, s, property, bucket)
	b = append(b, c.Level)
	b = binary.BigEndian.AppendUint32(b, c.X)
	return binary.BigEndian.AppendUint32(b, c.Y)
}

func (k keys) geo(s scope, property string, bucket uint32, c query.Cell, id uuid.UUID) []byte {
	return append(k.geoCell(s, property, bucket, c), id[:]...)
}

func (k keys) alias(aliasType, alias string) []byte {
	b := make([]byte, 0, uuidLen+len(aliasType)+len(alias)+1)
	b = append(b, k.app[:]...)
	b = append(b, strings.ToLower(aliasType)...)
	b = append(b, 0)
	return append(b, strings.ToLower(alias)...)
}

func (k keys) dictionaryPrefix(owner uuid.UUID, dict string) []byte {
	b := k.entity(owner)
	b = append(b, strings.ToLower(dict)...)
	return append(b, 0)
}

func (k keys) dictionary(owner uuid.UUID, dict, key string) []byte {
	return append(k.dictionaryPrefix(owner, dict), key...)
}

func (k keys) ledgerPrefix(id uuid.UUID, family byte) []byte {
	return append(k.entity(id), family)
}

func (k keys) ledgerScope(id uuid.UUID, s scope) []byte {
	return append(k.ledgerPrefix(id, ledgerScope), s.encode()...)
}

func (k keys) ledgerAlias(id uuid.UUID, aliasType, alias string) []byte {
	b := k.ledgerPrefix(id, ledgerAlias)
	b = append(b, strings.ToLower(aliasType)...)
	b = append(b, 0)
	return append(b, strings.ToLower(alias)...)
}

func appendBucket(b []byte, bucket uint32) []byte {
	return binary.BigEndian.AppendUint32(b, bucket)
}

// alias rows hold the bound entity and its type
func encodeAliasValue(id uuid.UUID, entityType string) []byte {
	b := make([]byte, 0, uuidLen+len(entityType))
	b = append(b, id[:]...)
	return append(b, entityType...)
}

func decodeAliasValue(raw []byte) (uuid.UUID, string, bool) {
	if len(raw) < uuidLen {
		return uuid.Nil, "", false
	}
	var id uuid.UUID
	copy(id[:], raw[:uuidLen])
	return id, string(raw[uuidLen:]), true
}

// geo rows hold the point so distances need no entity load
func encodePoint(lat, lon float64) []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b, math.Float64bits(lat))
	binary.BigEndian.PutUint64(b[8:], math.Float64bits(lon))
	return b
}

func decodePoint(raw []byte) (lat, lon float64, ok bool) {
	if len(raw) != 16 {
		return 0, 0, false
	}
	lat = math.Float64frombits(binary.BigEndian.Uint64(raw))
	lon = math.Float64frombits(binary.BigEndian.Uint64(raw[8:]))
	return lat, lon, true
}

// bucket type of each index family
var familyIndexType = map[byte]index.Type{
	familyMembership: index.TypeMembership,
	familyProperty:   index.TypeProperty,
	familyKeyword:    index.TypeKeyword,
	familyGeo:        index.TypeGeo,
}
