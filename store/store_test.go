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

package store

import (
	"context"
	"testing"

	"github.com/cubefs/entitydb/common/kvstore"
	"github.com/stretchr/testify/require"
)

func TestNewMemoryStore(t *testing.T) {
	s, err := NewStore(context.TODO(), &Config{KVType: kvstore.MemoryLsmKVType})
	require.NoError(t, err)
	defer s.Close()

	for _, col := range AllColumns {
		require.True(t, s.KVStore().CheckColumns(col))
	}
}

func TestMergeColumns(t *testing.T) {
	cols := mergeColumns([]kvstore.CF{"extra", EntityCF}, AllColumns)
	require.Len(t, cols, len(AllColumns)+1)
	require.Equal(t, kvstore.CF("extra"), cols[0])
}
