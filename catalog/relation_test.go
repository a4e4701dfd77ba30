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
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/cubefs/entitydb/errors"
	"github.com/cubefs/entitydb/proto"
	"github.com/cubefs/entitydb/query"
)

func newGroup(t *testing.T, em *EntityManager, path string) *proto.Entity {
	e, err := em.Create(context.Background(), "group", proto.PropertiesOf("path", path))
	require.NoError(t, err)
	return e
}

func refsOf(res *proto.Results) []proto.EntityRef {
	out := make([]proto.EntityRef, 0, len(res.Entities))
	for _, e := range res.Entities {
		out = append(out, e.Ref())
	}
	return out
}

func TestConnections(t *testing.T) {
	ctx := context.Background()
	_, em := newTestCatalog(t, nil)
	a := newUser(t, em, "alice", "")
	b := newUser(t, em, "bob", "")
	g := newGroup(t, em, "staff")

	ref, err := em.CreateConnection(ctx, a.Ref(), "Likes", b.Ref())
	require.NoError(t, err)
	require.Equal(t, "likes", ref.ConnectionType)
	_, err = em.CreateConnection(ctx, a.Ref(), "likes", b.Ref())
	require.NoError(t, err)
	_, err = em.CreateConnection(ctx, a.Ref(), "follows", g.Ref())
	require.NoError(t, err)

	ok, err := em.IsConnectionMember(ctx, a.Ref(), "likes", b.Ref())
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = em.IsConnectionMember(ctx, b.Ref(), "likes", a.Ref())
	require.NoError(t, err)
	require.False(t, ok)

	res, err := em.GetConnectedEntities(ctx, a.Ref(), "likes", "", proto.LevelAllProperties)
	require.NoError(t, err)
	require.Equal(t, []proto.EntityRef{b.Ref()}, refsOf(res))

	res, err = em.GetConnectedEntities(ctx, a.Ref(), "", "", proto.LevelLinkedProperties)
	require.NoError(t, err)
	require.ElementsMatch(t, []proto.EntityRef{b.Ref(), g.Ref()}, refsOf(res))
	for _, e := range res.Entities {
		v, ok := e.Metadata.Get("connecting")
		require.True(t, ok)
		require.True(t, v.Equal(proto.UUID(a.UUID)))
	}

	res, err = em.GetConnectedEntities(ctx, a.Ref(), "", "group", proto.LevelRefs)
	require.NoError(t, err)
	require.Equal(t, []proto.EntityRef{g.Ref()}, refsOf(res))
	require.Equal(t, 0, res.Entities[0].Properties.Len())

	res, err = em.GetConnectingEntities(ctx, b.Ref(), "likes", "", proto.LevelAllProperties)
	require.NoError(t, err)
	require.Equal(t, []proto.EntityRef{a.Ref()}, refsOf(res))

	types, err := em.GetConnectionTypes(ctx, a.Ref())
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"likes", "follows"}, types)
	types, err = em.GetConnectingTypes(ctx, b.Ref())
	require.NoError(t, err)
	require.Equal(t, []string{"likes"}, types)

	_, err = em.SearchConnectedEntities(ctx, a.Ref(), query.New().InCollection("groups"))
	require.True(t, errors.IsIllegalArgument(err))

	require.NoError(t, em.DeleteConnection(ctx, a.Ref(), "likes", b.Ref()))
	require.NoError(t, em.DeleteConnection(ctx, a.Ref(), "likes", b.Ref()))
	ok, err = em.IsConnectionMember(ctx, a.Ref(), "likes", b.Ref())
	require.NoError(t, err)
	require.False(t, ok)
	types, err = em.GetConnectionTypes(ctx, a.Ref())
	require.NoError(t, err)
	require.Equal(t, []string{"follows"}, types)
	types, err = em.GetConnectingTypes(ctx, b.Ref())
	require.NoError(t, err)
	require.Empty(t, types)

	_, err = em.CreateConnection(ctx, a.Ref(), "", b.Ref())
	require.True(t, errors.IsIllegalArgument(err))
	_, err = em.CreateConnection(ctx, a.Ref(), "likes", proto.NewRef("user", uuid.New()))
	require.True(t, errors.IsNotFound(err))
}

func TestDanglingConnectionSkipped(t *testing.T) {
	ctx := context.Background()
	_, em := newTestCatalog(t, nil)
	a := newUser(t, em, "alice", "")
	b := newUser(t, em, "bob", "")
	c := newUser(t, em, "carol", "")
	for _, to := range []*proto.Entity{b, c} {
		_, err := em.CreateConnection(ctx, a.Ref(), "knows", to.Ref())
		require.NoError(t, err)
	}
	require.NoError(t, em.Delete(ctx, b.Ref()))

	res, err := em.GetConnectedEntities(ctx, a.Ref(), "knows", "", proto.LevelAllProperties)
	require.NoError(t, err)
	require.Equal(t, []proto.EntityRef{c.Ref()}, refsOf(res))

	// the deleted end can still be disconnected
	require.NoError(t, em.DeleteConnection(ctx, a.Ref(), "knows", b.Ref()))
}

func TestCollections(t *testing.T) {
	ctx := context.Background()
	_, em := newTestCatalog(t, nil)
	u := newUser(t, em, "alice", "")
	g := newGroup(t, em, "admins")

	_, err := em.AddToCollection(ctx, u.Ref(), "groups", g.Ref())
	require.NoError(t, err)
	_, err = em.AddToCollection(ctx, u.Ref(), "groups", g.Ref())
	require.NoError(t, err)

	ok, err := em.IsCollectionMember(ctx, u.Ref(), "groups", g.Ref())
	require.NoError(t, err)
	require.True(t, ok)
	// linked side
	ok, err = em.IsCollectionMember(ctx, g.Ref(), "users", u.Ref())
	require.NoError(t, err)
	require.True(t, ok)

	res, err := em.GetCollection(ctx, g.Ref(), "users", uuid.Nil, 10, proto.LevelLinkedProperties, false)
	require.NoError(t, err)
	require.Equal(t, []proto.EntityRef{u.Ref()}, refsOf(res))
	owner, ok := res.Entities[0].Metadata.Get("owner")
	require.True(t, ok)
	require.True(t, owner.Equal(proto.UUID(g.UUID)))

	other := newUser(t, em, "bob", "")
	_, err = em.AddToCollection(ctx, u.Ref(), "groups", other.Ref())
	require.ErrorIs(t, err, errors.ErrInvalidEntityType)

	require.NoError(t, em.SetCollectionMemberProperty(ctx, u.Ref(), "groups", g.Ref(), "Role", proto.String("owner")))
	props, err := em.GetCollectionMemberProperties(ctx, u.Ref(), "groups", g.Ref())
	require.NoError(t, err)
	v, ok := props.Get("role")
	require.True(t, ok)
	require.True(t, v.Equal(proto.String("owner")))
	require.NoError(t, em.SetCollectionMemberProperty(ctx, u.Ref(), "groups", g.Ref(), "role", proto.Null()))
	props, err = em.GetCollectionMemberProperties(ctx, u.Ref(), "groups", g.Ref())
	require.NoError(t, err)
	require.Equal(t, 0, props.Len())
	err = em.SetCollectionMemberProperty(ctx, u.Ref(), "groups", other.Ref(), "role", proto.String("x"))
	require.True(t, errors.IsNotFound(err))

	require.NoError(t, em.RemoveFromCollection(ctx, u.Ref(), "groups", g.Ref()))
	require.NoError(t, em.RemoveFromCollection(ctx, u.Ref(), "groups", g.Ref()))
	ok, err = em.IsCollectionMember(ctx, g.Ref(), "users", u.Ref())
	require.NoError(t, err)
	require.False(t, ok)

	// undeclared collections take any type
	_, err = em.AddToCollection(ctx, u.Ref(), "friends", other.Ref())
	require.NoError(t, err)
	_, err = em.AddToCollection(ctx, u.Ref(), "", other.Ref())
	require.True(t, errors.IsIllegalArgument(err))
}

func TestGetCollectionPaging(t *testing.T) {
	ctx := context.Background()
	_, em := newTestCatalog(t, nil)
	owner := newUser(t, em, "owner", "")
	var members []proto.EntityRef
	for _, name := range []string{"a1", "a2", "a3", "a4", "a5"} {
		e, err := em.Create(ctx, "item", proto.PropertiesOf("name", name))
		require.NoError(t, err)
		_, err = em.AddToCollection(ctx, owner.Ref(), "things", e.Ref())
		require.NoError(t, err)
		members = append(members, e.Ref())
	}

	res, err := em.GetCollection(ctx, owner.Ref(), "things", uuid.Nil, 2, proto.LevelRefs, false)
	require.NoError(t, err)
	require.Equal(t, members[:2], refsOf(res))
	require.NotEmpty(t, res.Cursor)

	res, err = em.GetCollection(ctx, owner.Ref(), "things", members[1].UUID, 2, proto.LevelRefs, false)
	require.NoError(t, err)
	require.Equal(t, members[2:4], refsOf(res))

	res, err = em.GetCollection(ctx, owner.Ref(), "things", uuid.Nil, 10, proto.LevelRefs, true)
	require.NoError(t, err)
	reversed := make([]proto.EntityRef, 0, len(members))
	for i := len(members) - 1; i >= 0; i-- {
		reversed = append(reversed, members[i])
	}
	require.Equal(t, reversed, refsOf(res))
	require.Empty(t, res.Cursor)

	res, err = em.GetCollection(ctx, owner.Ref(), "things", members[2].UUID, 10, proto.LevelRefs, true)
	require.NoError(t, err)
	require.Equal(t, reversed[3:], refsOf(res))
}

func TestDeleteCascadesOwnedCollections(t *testing.T) {
	ctx := context.Background()
	_, em := newTestCatalog(t, nil)
	u := newUser(t, em, "alice", "")
	g := newGroup(t, em, "admins")
	_, err := em.AddToCollection(ctx, u.Ref(), "groups", g.Ref())
	require.NoError(t, err)
	_, err = em.CreateConnection(ctx, g.Ref(), "managedby", u.Ref())
	require.NoError(t, err)

	require.NoError(t, em.Delete(ctx, u.Ref()))

	ok, err := em.IsCollectionMember(ctx, g.Ref(), "users", u.Ref())
	require.NoError(t, err)
	require.False(t, ok)
	res, err := em.GetCollection(ctx, u.Ref(), "groups", uuid.Nil, 10, proto.LevelRefs, false)
	require.NoError(t, err)
	require.Empty(t, res.Entities)

	// the group survives and its membership rows are gone
	_, err = em.GetRef(ctx, g.Ref())
	require.NoError(t, err)
	res, err = em.Search(ctx, em.ApplicationRef(), query.New().InCollection("users"))
	require.NoError(t, err)
	require.Empty(t, res.Entities)
}
