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

package schema

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/cubefs/entitydb/errors"
	"github.com/cubefs/entitydb/proto"
)

func TestPluralize(t *testing.T) {
	cases := map[string]string{
		"user":     "users",
		"activity": "activities",
		"day":      "days",
		"box":      "boxes",
		"address":  "addresses",
		"church":   "churches",
		"person":   "people",
		"cat":      "cats",
	}
	for single, plural := range cases {
		require.Equal(t, plural, Pluralize(single))
		require.Equal(t, single, Singularize(plural))
	}
	require.Equal(t, "class", Singularize("class"))
}

func TestRegistryDefaults(t *testing.T) {
	r := NewDefaultRegistry()

	_, ok := r.Type("USER")
	require.True(t, ok)
	_, ok = r.Type("cat")
	require.False(t, ok)

	require.Equal(t, "username", r.AliasProperty("user"))
	require.Equal(t, "path", r.AliasProperty("group"))
	require.Equal(t, "name", r.AliasProperty("cat"))
	require.Equal(t, "", r.AliasProperty("activity"))

	uniques := r.UniqueProperties("user")
	require.Len(t, uniques, 2)
	require.Equal(t, "username", uniques[0].Name)
	require.Equal(t, "email", uniques[1].Name)

	require.True(t, r.IsIndexed("cat", "color"))
	require.False(t, r.IsIndexed("user", "picture"))
	require.False(t, r.IsMutable("user", "username"))
	require.True(t, r.IsMutable("cat", "username"))

	c, ok := r.Collection("user", "groups")
	require.True(t, ok)
	require.Equal(t, "users", c.LinkedCollection)
	c, ok = r.Collection(proto.TypeApplication, "activities")
	require.True(t, ok)
	require.Equal(t, "activity", c.Type)
	_, ok = r.Collection("cat", "kittens")
	require.False(t, ok)

	require.Equal(t, "activities", r.CollectionName("activity"))
	require.Equal(t, "activity", r.TypeForCollection("activities"))
	require.Equal(t, "cat", r.TypeForCollection("cats"))
}

func TestRegistryFreeze(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&TypeInfo{Name: "Pet", Properties: []*PropertyInfo{
		{Name: "tag", Kind: proto.KindString, Alias: true},
	}}))
	p, ok := r.Property("pet", "TAG")
	require.True(t, ok)
	require.True(t, p.Unique)

	err := r.Register(&TypeInfo{Name: proto.TypeEntity})
	require.ErrorIs(t, err, errors.ErrInvalidEntityType)

	r.Freeze()
	err = r.Register(&TypeInfo{Name: "plant"})
	require.ErrorIs(t, err, errors.ErrRegistryFrozen)
	require.True(t, errors.IsIllegalArgument(err))

	// json schemas stay editable
	require.NoError(t, r.SetJSONSchema("pet", `{"type":"object"}`))
}

func TestValidateCreate(t *testing.T) {
	r := NewDefaultRegistry()

	err := r.ValidateCreate(proto.TypeDynamic, proto.NewProperties())
	require.ErrorIs(t, err, errors.ErrInvalidEntityType)
	require.ErrorIs(t, r.ValidateCreate("Bad Type", proto.NewProperties()), errors.ErrInvalidEntityType)

	err = r.ValidateCreate("user", proto.PropertiesOf("email", "a@b.com"))
	require.ErrorIs(t, err, errors.ErrRequiredProperty)
	require.True(t, errors.IsValidation(err))

	require.NoError(t, r.ValidateCreate("user", proto.PropertiesOf("username", "ed")))
	require.NoError(t, r.ValidateCreate("cat", proto.PropertiesOf("anything", 1)))

	props := proto.PropertiesOf("verb", "post", "published", 1700000000000)
	require.NoError(t, r.ValidateCreate("activity", props))
	published, _ := props.Get("published")
	require.Equal(t, proto.KindTime, published.Kind())

	err = r.ValidateCreate("activity", proto.PropertiesOf("verb", "post", "published", "yesterday"))
	require.ErrorIs(t, err, errors.ErrInvalidPropertyValue)

	id := uuid.New()
	props = proto.PropertiesOf("path", "a", "owner", id.String())
	require.NoError(t, r.ValidateCreate("asset", props))
	owner, _ := props.Get("owner")
	require.Equal(t, proto.UUID(id), owner)
}

func TestValidateSet(t *testing.T) {
	r := NewDefaultRegistry()
	e := proto.NewEntity(uuid.New(), "user")
	e.Properties.Set("username", proto.String("ed"))

	_, err := r.ValidateSet(e, "username", proto.String("bob"), false)
	require.ErrorIs(t, err, errors.ErrImmutableProperty)
	_, err = r.ValidateSet(e, "username", proto.String("bob"), true)
	require.NoError(t, err)

	_, err = r.ValidateSet(e, "created", proto.Int(1), true)
	require.ErrorIs(t, err, errors.ErrImmutableProperty)

	v, err := r.ValidateSet(e, "nickname", proto.String("eddie"), false)
	require.NoError(t, err)
	require.Equal(t, proto.String("eddie"), v)
}

func TestJSONSchema(t *testing.T) {
	r := NewDefaultRegistry()
	require.NoError(t, r.Register(&TypeInfo{
		Name:       "car",
		JSONSchema: `{"type":"object","properties":{"wheels":{"type":"number","minimum":3}},"required":["wheels"]}`,
	}))
	r.Freeze()

	require.NoError(t, r.ValidateCreate("car", proto.PropertiesOf("wheels", 4)))
	err := r.ValidateCreate("car", proto.PropertiesOf("wheels", 2))
	require.ErrorIs(t, err, errors.ErrSchemaMismatch)
	require.True(t, errors.IsValidation(err))

	require.NoError(t, r.SetJSONSchema("car", ""))
	require.NoError(t, r.ValidateCreate("car", proto.PropertiesOf("wheels", 2)))

	err = r.SetJSONSchema("car", `{"type":`)
	require.True(t, errors.IsIllegalArgument(err))
}
