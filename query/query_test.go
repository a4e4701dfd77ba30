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
	"math"
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/cubefs/entitydb/errors"
	"github.com/cubefs/entitydb/proto"
)

func TestParse(t *testing.T) {
	q, err := Parse("select * where name = 'foxtrot'")
	require.NoError(t, err)
	require.Len(t, q.Filters, 1)
	require.Equal(t, Filter{Property: "name", Op: OpEqual, Value: proto.String("foxtrot")}, q.Filters[0])

	q, err = Parse("order by name desc")
	require.NoError(t, err)
	require.Empty(t, q.Filters)
	require.Equal(t, []Sort{{Property: "name", Direction: Descending}}, q.Sorts)

	q, err = Parse("location within 1000 of 37.77,-122.40")
	require.NoError(t, err)
	require.Equal(t, &GeoFilter{Property: "location", Distance: 1000, Latitude: 37.77, Longitude: -122.40}, q.Geo)

	q, err = Parse("select name, age where age gte 18 and age lt 65.5 and tag in ('a', \"b\") and bio contains 'go*' order by age, name asc")
	require.NoError(t, err)
	require.Equal(t, []string{"name", "age"}, q.Select)
	require.Len(t, q.Filters, 4)
	require.Equal(t, OpGreaterEqual, q.Filters[0].Op)
	require.Equal(t, proto.Number(65.5), q.Filters[1].Value)
	require.Equal(t, []proto.Value{proto.String("a"), proto.String("b")}, q.Filters[2].Values)
	require.Equal(t, OpContains, q.Filters[3].Op)
	require.Len(t, q.Sorts, 2)

	id := uuid.New()
	q, err = Parse("owner = " + id.String() + " and active = true and score > -1.5e2")
	require.NoError(t, err)
	require.Equal(t, proto.UUID(id), q.Filters[0].Value)
	require.Equal(t, proto.Bool(true), q.Filters[1].Value)
	require.Equal(t, proto.Number(-150), q.Filters[2].Value)

	q, err = Parse("")
	require.NoError(t, err)
	require.False(t, q.IsFiltered())
}

func TestParseErrors(t *testing.T) {
	for _, ql := range []string{
		"name = 'open",
		"name ~ 'x'",
		"a = 1 or b = 2",
		"order name",
		"name in 'a'",
		"loc within 10 of 100,0",
		"name = 1 trailing",
		"location within -5 of 1,1",
	} {
		_, err := Parse(ql)
		require.Error(t, err, ql)
		require.ErrorIs(t, err, errors.ErrInvalidQuery, ql)
		require.True(t, errors.IsIllegalArgument(err), ql)
	}
}

func TestEncodingOrder(t *testing.T) {
	ordered := []proto.Value{
		proto.Null(),
		proto.Bool(false),
		proto.Bool(true),
		proto.Number(math.Inf(-1)),
		proto.Number(-100.5),
		proto.Number(-1),
		proto.Number(0),
		proto.Number(0.25),
		proto.Int(7),
		proto.Int(1 << 40),
		proto.String(""),
		proto.String("a"),
		proto.String("a\x00"),
		proto.String("AB"),
		proto.String("b"),
		proto.UUID(uuid.MustParse("00000000-0000-0000-0000-000000000001")),
	}
	for i := 1; i < len(ordered); i++ {
		require.Equal(t, -1, Compare(ordered[i-1], ordered[i]), "%v < %v", ordered[i-1], ordered[i])
	}
	require.Equal(t, 0, Compare(proto.String("Foxtrot"), proto.String("foxtrot")))
	require.Equal(t, 0, Compare(proto.TimeMillis(5), proto.Int(5)))
	require.Equal(t, 0, Compare(proto.Number(math.Copysign(0, -1)), proto.Number(0)))

	// prefix freedom: no encoding is a prefix of a different one
	a, b := EncodeValue(proto.String("ab")), EncodeValue(proto.String("abc"))
	require.False(t, bytes.HasPrefix(b, a))
}

func TestMergeRanges(t *testing.T) {
	plan, err := New().Lte("name", proto.String("foxtrot")).Gte("name", proto.String("bravo")).Compile()
	require.NoError(t, err)
	require.Len(t, plan.Slices, 1)
	s := plan.Primary
	require.Equal(t, "name", s.Property)
	require.Equal(t, proto.String("bravo"), s.Lower.Value)
	require.True(t, s.Lower.Inclusive)
	require.True(t, s.Upper.Inclusive)

	// the tighter bound wins and exclusive wins a tie
	plan, err = New().Gt("age", proto.Int(5)).Gte("age", proto.Int(5)).Gte("age", proto.Int(3)).
		Lt("age", proto.Int(10)).Lte("age", proto.Int(20)).Compile()
	require.NoError(t, err)
	s = plan.Primary
	require.Equal(t, proto.Int(5), s.Lower.Value)
	require.False(t, s.Lower.Inclusive)
	require.Equal(t, proto.Int(10), s.Upper.Value)
	require.False(t, s.Upper.Inclusive)
	require.True(t, s.Match([]proto.Value{proto.Int(6)}))
	require.False(t, s.Match([]proto.Value{proto.Int(5)}))
	require.False(t, s.Match([]proto.Value{proto.Int(10)}))

	plan, err = New().Lte("age", proto.Int(10)).Lte("age", proto.Int(10)).Lt("age", proto.Int(10)).Compile()
	require.NoError(t, err)
	require.False(t, plan.Primary.Upper.Inclusive)
}

func TestMergeContradictions(t *testing.T) {
	cases := []*Query{
		New().Gt("age", proto.Int(10)).Lt("age", proto.Int(5)),
		New().Gt("age", proto.Int(5)).Lte("age", proto.Int(5)),
		New().Eq("name", proto.String("a")).Eq("name", proto.String("b")),
		New().Eq("age", proto.Int(3)).Gt("age", proto.Int(5)),
		New().In("age", proto.Int(1), proto.Int(2)).In("age", proto.Int(3)),
	}
	for _, q := range cases {
		_, err := q.Compile()
		require.ErrorIs(t, err, errors.ErrQueryContradiction, q.String())
		require.True(t, errors.IsIllegalArgument(err))
	}

	plan, err := New().Eq("age", proto.Int(7)).Gt("age", proto.Int(5)).Compile()
	require.NoError(t, err)
	require.Equal(t, SlicePoints, plan.Primary.Kind)
	require.Equal(t, []proto.Value{proto.Int(7)}, plan.Primary.Points)

	plan, err = New().In("age", proto.Int(9), proto.Int(1), proto.Int(5), proto.Int(1)).Lt("age", proto.Int(6)).Compile()
	require.NoError(t, err)
	require.Equal(t, []proto.Value{proto.Int(1), proto.Int(5)}, plan.Primary.Points)
}

func TestPrimarySelection(t *testing.T) {
	plan, err := New().Eq("color", proto.String("red")).Gt("age", proto.Int(1)).OrderBy("age", Descending).Compile()
	require.NoError(t, err)
	require.Equal(t, "age", plan.Primary.Property)
	require.True(t, plan.Desc)
	require.False(t, plan.SecondarySort)
	require.Len(t, plan.Residual(), 1)

	plan, err = New().Eq("color", proto.String("red")).OrderBy("age", Ascending).Compile()
	require.NoError(t, err)
	require.Equal(t, "color", plan.Primary.Property)
	require.True(t, plan.SecondarySort)

	plan, err = New().OrderBy("name", Descending).Compile()
	require.NoError(t, err)
	require.Equal(t, "name", plan.Primary.Property)
	require.False(t, plan.Primary.Lower.Set)
	require.True(t, plan.Desc)
	require.Empty(t, plan.Residual())

	plan, err = New().Contains("bio", "Go*").Compile()
	require.NoError(t, err)
	require.Equal(t, SliceKeyword, plan.Primary.Kind)
	require.True(t, plan.Primary.Prefix)
	require.True(t, plan.Primary.Match([]proto.Value{proto.String("I write golang daily")}))
	require.False(t, plan.Primary.Match([]proto.Value{proto.String("ergo")}))

	plan, err = New().WithReversed(true).Compile()
	require.NoError(t, err)
	require.Nil(t, plan.Primary)
	require.True(t, plan.Desc)
}

func TestPlanMatchEntity(t *testing.T) {
	e := proto.NewEntity(uuid.New(), "cat")
	e.Properties.Set("name", proto.String("Tom"))
	e.Properties.Set("tags", proto.List(proto.String("grey"), proto.String("fat")))
	e.Properties.Set("owner", proto.Map(proto.PropertiesOf("first", "Jon")))

	q, err := Parse("name = 'tom' and tags = 'fat' and owner.first = 'jon'")
	require.NoError(t, err)
	plan, err := q.Compile()
	require.NoError(t, err)
	require.True(t, plan.Match(e))

	plan, _ = New().Eq("tags", proto.String("thin")).Compile()
	require.False(t, plan.Match(e))
	plan, _ = New().Eq("missing", proto.String("x")).Compile()
	require.False(t, plan.Match(e))
}

func TestFirstKey(t *testing.T) {
	tags := []proto.Value{proto.String("m"), proto.String("a"), proto.String("z")}

	plan, err := New().OrderBy("tags", Ascending).Compile()
	require.NoError(t, err)
	require.Equal(t, EncodeValue(proto.String("a")), plan.Primary.FirstKey(tags, plan.Desc))
	plan, err = New().OrderBy("tags", Descending).Compile()
	require.NoError(t, err)
	require.Equal(t, EncodeValue(proto.String("z")), plan.Primary.FirstKey(tags, plan.Desc))

	plan, err = New().Gt("tags", proto.String("b")).Compile()
	require.NoError(t, err)
	require.Equal(t, EncodeValue(proto.String("m")), plan.Primary.FirstKey(tags, plan.Desc))
	plan, err = New().Eq("tags", proto.String("q")).Compile()
	require.NoError(t, err)
	require.Nil(t, plan.Primary.FirstKey(tags, plan.Desc))

	plan, err = New().Contains("text", "qu*").Compile()
	require.NoError(t, err)
	require.Equal(t, EncodeKeyword("quick", false),
		plan.Primary.FirstKey([]proto.Value{proto.String("quiet and quick")}, plan.Desc))
}

func TestUUIDLiterals(t *testing.T) {
	id := uuid.New()
	for _, ql := range []string{"uuid = " + id.String(), "uuid = '" + id.String() + "'"} {
		q, err := Parse(ql)
		require.NoError(t, err)
		plan, err := q.Compile()
		require.NoError(t, err)
		require.Equal(t, SlicePoints, plan.Primary.Kind, ql)
		require.Equal(t, []proto.Value{proto.UUID(id)}, plan.Primary.Points, ql)
	}

	plan, err := New().Eq("uuid", proto.String("not-a-uuid")).Compile()
	require.NoError(t, err)
	require.Equal(t, []proto.Value{proto.String("not-a-uuid")}, plan.Primary.Points)
}

func TestFlatten(t *testing.T) {
	props := proto.PropertiesOf(
		"Name", "x",
		"loc", map[string]interface{}{"latitude": 1.0},
		"list", []interface{}{1, "a", []interface{}{2}},
		"nothing", nil,
	)
	var names []string
	Flatten(props, func(name string, v proto.Value) { names = append(names, name) })
	sort.Strings(names)
	require.Equal(t, []string{"list", "list", "loc.latitude", "name"}, names)
	require.Equal(t, []string{"hello", "world", "42"}, Keywords("Hello, WORLD! hello 42"))
}

func TestCursor(t *testing.T) {
	q := New().InCollection("cats").OrderBy("name", Ascending)
	plan, err := q.Compile()
	require.NoError(t, err)
	scope := []byte("scope")

	c := plan.NewCursor(scope, []byte{1, 2, 3}, 0)
	s := c.Encode()
	got, err := plan.ResumeCursor(scope, s)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, got.Position)

	none, err := plan.ResumeCursor(scope, "")
	require.NoError(t, err)
	require.Nil(t, none)

	_, err = plan.ResumeCursor([]byte("other"), s)
	require.ErrorIs(t, err, errors.ErrInvalidCursor)

	other, _ := New().InCollection("cats").OrderBy("name", Descending).Compile()
	_, err = other.ResumeCursor(scope, s)
	require.ErrorIs(t, err, errors.ErrInvalidCursor)

	_, err = plan.ResumeCursor(scope, "!!not base64!!")
	require.ErrorIs(t, err, errors.ErrInvalidCursor)
}

func TestGeo(t *testing.T) {
	// San Francisco to Oakland is roughly 13km
	d := Distance(37.7749, -122.4194, 37.8044, -122.2712)
	require.InDelta(t, 13400, d, 500)
	require.Equal(t, 0.0, Distance(10, 10, 10, 10))

	require.Equal(t, uint8(15), SearchLevel(1000))
	require.Equal(t, uint8(MaxGeoLevel), SearchLevel(1))
	require.Equal(t, uint8(MinGeoLevel), SearchLevel(1e8))

	c := CellAt(4, 90, 180)
	require.Equal(t, uint32(15), c.X)
	require.Equal(t, uint32(15), c.Y)
	require.Len(t, CellsAt(0, 0), MaxGeoLevel-MinGeoLevel+1)

	g := NewGeoSearch(37.77, -122.40, 1000)
	require.Len(t, g.Ring(0), 1)
	require.Len(t, g.Ring(1), 8)
	require.Equal(t, g.Distance, g.Guaranteed(g.MaxRing()))
	require.Less(t, g.Guaranteed(1), g.Distance)

	// longitude wraps at the antimeridian
	edge := NewGeoSearch(0, 179.9999, 1000)
	xs := map[uint32]bool{}
	for _, cell := range edge.Ring(1) {
		xs[cell.X] = true
	}
	require.True(t, xs[0])

	lat, lon, ok := GeoPoint(proto.Map(proto.PropertiesOf("latitude", 1.5, "lng", 2.5)))
	require.True(t, ok)
	require.Equal(t, 1.5, lat)
	require.Equal(t, 2.5, lon)
	_, _, ok = GeoPoint(proto.String("here"))
	require.False(t, ok)
}
