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

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"

	"github.com/cubefs/entitydb/catalog"
	"github.com/cubefs/entitydb/ingest"
	"github.com/cubefs/entitydb/objectstore"
	"github.com/cubefs/entitydb/store"
	"github.com/cubefs/entitydb/util/limiter"
)

const (
	maxListNum = 1000
	// maxBodySize bounds json request bodies, asset uploads have their own
	// limit.
	maxBodySize = 4 << 20
)

type Config struct {
	StoreConfig       store.Config        `json:"store_config"`
	CatalogConfig     catalog.Config      `json:"catalog_config"`
	ObjectStoreConfig objectstore.Config  `json:"object_store_config"`
	IngestConfig      ingest.Config       `json:"ingest_config"`
	LimitConfig       limiter.LimitConfig `json:"limit_config"`
}

func (c *Config) checkAndFix() {
	if c.StoreConfig.Path == "" {
		c.StoreConfig.Path = "./run/store"
	}
	if c.CatalogConfig.MaxPageSize <= 0 || c.CatalogConfig.MaxPageSize > maxListNum {
		c.CatalogConfig.MaxPageSize = maxListNum
	}
}

// Server owns the store, the catalog on top of it and the optional queue
// consumer. The http and grpc servers share it.
type Server struct {
	store    *store.Store
	catalog  *catalog.Catalog
	objects  objectstore.Store
	limiter  limiter.Limiter
	consumer *ingest.Consumer

	cfg *Config
}

func NewServer(ctx context.Context, cfg *Config) (*Server, error) {
	span := trace.SpanFromContextSafe(ctx)
	cfg.checkAndFix()

	st, err := store.NewStore(ctx, &cfg.StoreConfig)
	if err != nil {
		return nil, errors.Info(err, "open store", cfg.StoreConfig.Path)
	}
	objects, err := objectstore.New(ctx, &cfg.ObjectStoreConfig)
	if err != nil {
		st.Close()
		return nil, errors.Info(err, "open object store", cfg.ObjectStoreConfig.Type)
	}
	lim := limiter.NewLimiter(cfg.LimitConfig)

	catalogCfg := cfg.CatalogConfig
	catalogCfg.KVStore = st.KVStore()
	catalogCfg.ObjectStore = objects
	catalogCfg.Limiter = lim
	c, err := catalog.NewCatalog(ctx, &catalogCfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	s := &Server{store: st, catalog: c, objects: objects, limiter: lim, cfg: cfg}
	if cfg.IngestConfig.Enabled() {
		s.consumer = ingest.NewConsumer(cfg.IngestConfig, ingest.NewHandler(c))
		if err = s.consumer.Start(ctx); err != nil {
			st.Close()
			return nil, errors.Info(err, "start ingest", cfg.IngestConfig.URL)
		}
	}
	span.Infof("server ready, store: %s, object store: %s, ingest: %v",
		cfg.StoreConfig.KVType, cfg.ObjectStoreConfig.Type, s.consumer != nil)
	return s, nil
}

func (s *Server) Catalog() *catalog.Catalog { return s.catalog }

func (s *Server) Close() {
	if s.consumer != nil {
		s.consumer.Close()
	}
	s.store.Close()
}
