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

package paging_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cubefs/entitydb/catalog"
	"github.com/cubefs/entitydb/common/kvstore"
	"github.com/cubefs/entitydb/paging"
	"github.com/cubefs/entitydb/proto"
	"github.com/cubefs/entitydb/query"
	"github.com/cubefs/entitydb/store"
)

func TestPathQueryOverCatalog(t *testing.T) {
	ctx := context.Background()
	kv, err := kvstore.NewKVStore(ctx, "", kvstore.MemoryLsmKVType, &kvstore.Option{ColumnFamily: store.AllColumns})
	require.NoError(t, err)
	defer kv.Close()
	c, err := catalog.NewCatalog(ctx, &catalog.Config{KVStore: kv, BucketCount: 2})
	require.NoError(t, err)
	appID, err := c.CreateApplication(ctx, "paths")
	require.NoError(t, err)
	em := c.EntityManager(appID)

	create := func(entityType string, kv ...interface{}) *proto.Entity {
		e, err := em.Create(ctx, entityType, proto.PropertiesOf(kv...))
		require.NoError(t, err)
		return e
	}
	alice := create("user", "username", "alice")
	staff := create("group", "path", "staff")
	ops := create("group", "path", "ops")
	create("group", "path", "empty")
	bob := create("user", "username", "bob")
	carol := create("user", "username", "carol")
	for _, m := range []struct{ g, u *proto.Entity }{{staff, alice}, {staff, bob}, {ops, carol}} {
		_, err = em.AddToCollection(ctx, m.u.Ref(), "groups", m.g.Ref())
		require.NoError(t, err)
	}
	for i, u := range []*proto.Entity{bob, carol, carol} {
		d := create("device", "name", []string{"phone", "laptop", "tablet"}[i])
		_, err = em.AddToCollection(ctx, u.Ref(), "devices", d.Ref())
		require.NoError(t, err)
	}

	// groups of alice, their users, the devices of those users
	path := paging.NewPathQuery(alice.Ref(), query.New().InCollection("groups")).
		Chain(query.New().InCollection("users").WithLimit(1)).
		Chain(query.New().InCollection("devices"))
	it, err := path.Iterator(ctx, em)
	require.NoError(t, err)
	devices, err := paging.Collect(it, 0)
	require.NoError(t, err)
	var got []string
	for _, d := range devices {
		got = append(got, d.Name())
	}
	require.Equal(t, []string{"phone"}, got)

	// every group in the application, then their users
	path = paging.NewPathQuery(em.ApplicationRef(), query.New().InCollection("groups").WithLimit(1)).
		Chain(query.New().InCollection("users"))
	it, err = path.Iterator(ctx, em)
	require.NoError(t, err)
	users, err := paging.Collect(it, 0)
	require.NoError(t, err)
	require.Len(t, users, 3)
}
