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

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/entitydb/common/kvstore"
)

// column families of the entity store
const (
	EntityCF     = kvstore.CF("entity")
	IndexCF      = kvstore.CF("index")
	AliasCF      = kvstore.CF("alias")
	DictionaryCF = kvstore.CF("dictionary")
	LedgerCF     = kvstore.CF("ledger")
	CounterCF    = kvstore.CF("counter")
)

var AllColumns = []kvstore.CF{EntityCF, IndexCF, AliasCF, DictionaryCF, LedgerCF, CounterCF}

type Config struct {
	Path     string            `json:"path"`
	KVType   kvstore.LsmKVType `json:"kv_type"`
	KVOption kvstore.Option    `json:"kv_option"`
}

type Store struct {
	kvStore kvstore.Store
}

func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	span := trace.SpanFromContextSafe(ctx)

	if cfg.KVType == "" {
		cfg.KVType = kvstore.RocksdbLsmKVType
	}
	cfg.KVOption.CreateIfMissing = true
	cfg.KVOption.ColumnFamily = mergeColumns(cfg.KVOption.ColumnFamily, AllColumns)

	kvStorePath := cfg.Path + "/kv"
	kvStore, err := kvstore.NewKVStore(ctx, kvStorePath, cfg.KVType, &cfg.KVOption)
	if err != nil {
		return nil, err
	}
	span.Infof("open %s kv store at %s, columns: %v", cfg.KVType, kvStorePath, cfg.KVOption.ColumnFamily)

	return &Store{kvStore: kvStore}, nil
}

func (s *Store) KVStore() kvstore.Store {
	return s.kvStore
}

func (s *Store) Close() {
	s.kvStore.Close()
}

func mergeColumns(cols []kvstore.CF, required []kvstore.CF) []kvstore.CF {
	seen := make(map[kvstore.CF]bool, len(cols))
	for _, col := range cols {
		seen[col] = true
	}
	for _, col := range required {
		if !seen[col] {
			cols = append(cols, col)
			seen[col] = true
		}
	}
	return cols
}
