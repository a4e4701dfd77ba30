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

package server

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/cubefs/entitydb/client"
	"github.com/cubefs/entitydb/common/kvstore"
	"github.com/cubefs/entitydb/metrics"
	"github.com/cubefs/entitydb/store"
)

func TestRPCServerHealth(t *testing.T) {
	s, err := NewServer(context.Background(), &Config{
		StoreConfig: store.Config{Path: t.TempDir(), KVType: kvstore.MemoryLsmKVType},
	})
	require.NoError(t, err)
	defer s.Close()

	rs := NewRPCServer(s)
	require.NoError(t, rs.Serve("127.0.0.1:0"))
	require.Equal(t, serviceName, client.ServiceName)

	cli, err := client.NewClient(rs.Addr().String())
	require.NoError(t, err)
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ok, err := cli.Serving(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.Greater(t, testutil.CollectAndCount(metrics.GRPCMetrics), 0)

	rs.Stop()
	_, err = cli.Serving(ctx)
	require.Error(t, err)
}
