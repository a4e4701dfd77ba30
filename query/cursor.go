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
	"encoding/base64"
	"encoding/json"

	"github.com/cubefs/entitydb/errors"
)

// Cursor is the resume position of a paged scan. Position is the index key
// suffix (encoded value and uuid) of the last returned row, geo scans
// resume after (Distance, Position).
type Cursor struct {
	Scope       []byte  `json:"s"`
	Property    string  `json:"p,omitempty"`
	Desc        bool    `json:"d,omitempty"`
	Position    []byte  `json:"k"`
	Distance    float64 `json:"g,omitempty"`
	Fingerprint uint32  `json:"f"`
}

func (c *Cursor) Encode() string {
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

func DecodeCursor(s string) (*Cursor, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidCursor, "decode: %s", err)
	}
	c := &Cursor{}
	if err = json.Unmarshal(b, c); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidCursor, "decode: %s", err)
	}
	if len(c.Position) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidCursor, "no position")
	}
	return c, nil
}

// NewCursor builds the cursor continuing plan p inside scope.
func (p *Plan) NewCursor(scope, position []byte, distance float64) *Cursor {
	c := &Cursor{Scope: scope, Desc: p.Desc, Position: position, Distance: distance, Fingerprint: p.fingerprint}
	if p.Primary != nil {
		c.Property = p.Primary.Property
	}
	return c
}

// ResumeCursor decodes s and checks it was produced by the same plan in the
// same scope. An empty s means the first page.
func (p *Plan) ResumeCursor(scope []byte, s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	c, err := DecodeCursor(s)
	if err != nil {
		return nil, err
	}
	property := ""
	if p.Primary != nil {
		property = p.Primary.Property
	}
	if !bytes.Equal(c.Scope, scope) || c.Property != property || c.Desc != p.Desc || c.Fingerprint != p.fingerprint {
		return nil, errors.Wrap(errors.ErrInvalidCursor, "cursor belongs to another query")
	}
	return c, nil
}
