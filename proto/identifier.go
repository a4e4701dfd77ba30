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
	"regexp"
	"strings"

	"github.com/google/uuid"
)

type IdentifierKind uint8

const (
	IdentifierUUID IdentifierKind = iota + 1
	IdentifierName
	IdentifierEmail
)

func (k IdentifierKind) String() string {
	switch k {
	case IdentifierUUID:
		return "uuid"
	case IdentifierName:
		return "name"
	case IdentifierEmail:
		return "email"
	}
	return "unknown"
}

var (
	emailRegexp = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,4}$`)
	nameRegexp  = regexp.MustCompile(`^[a-zA-Z0-9_\-./]*$`)
)

// Identifier is a loosely typed reference: a uuid, a name or an email.
// Names and emails are lower cased, so == compares identifiers.
type Identifier struct {
	Kind  IdentifierKind
	Value string
	UUID  uuid.UUID
}

func IdentifierFromUUID(id uuid.UUID) Identifier {
	return Identifier{Kind: IdentifierUUID, Value: id.String(), UUID: id}
}

// ParseIdentifier classifies s. The uuid form is tried first so a name that
// happens to be a uuid is never misread, then email, then name.
func ParseIdentifier(s string) (Identifier, bool) {
	if len(s) == 36 {
		if id, err := uuid.Parse(s); err == nil {
			return IdentifierFromUUID(id), true
		}
	}
	if emailRegexp.MatchString(s) {
		return Identifier{Kind: IdentifierEmail, Value: strings.ToLower(s)}, true
	}
	if nameRegexp.MatchString(s) {
		return Identifier{Kind: IdentifierName, Value: strings.ToLower(s)}, true
	}
	return Identifier{}, false
}

// IdentifierFrom accepts a uuid.UUID or a string.
func IdentifierFrom(v interface{}) (Identifier, bool) {
	switch x := v.(type) {
	case uuid.UUID:
		return IdentifierFromUUID(x), true
	case string:
		return ParseIdentifier(x)
	case Identifier:
		return x, x.Kind != 0
	}
	return Identifier{}, false
}

func (i Identifier) IsUUID() bool  { return i.Kind == IdentifierUUID }
func (i Identifier) IsName() bool  { return i.Kind == IdentifierName }
func (i Identifier) IsEmail() bool { return i.Kind == IdentifierEmail }

func (i Identifier) String() string { return i.Value }
