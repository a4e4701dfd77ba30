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
	"sync"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/google/uuid"

	"github.com/cubefs/entitydb/common/kvstore"
	"github.com/cubefs/entitydb/counter"
	"github.com/cubefs/entitydb/errors"
	"github.com/cubefs/entitydb/index"
	"github.com/cubefs/entitydb/objectstore"
	"github.com/cubefs/entitydb/proto"
	"github.com/cubefs/entitydb/query"
	"github.com/cubefs/entitydb/schema"
	"github.com/cubefs/entitydb/util/limiter"
)

const (
	defaultScanConcurrency = 8
	defaultMaxAssetSize    = 64 << 20
	defaultGeoMaxRadius    = 1000 * 1000
)

type Config struct {
	BucketCount     int                  `json:"bucket_count"`
	DefaultPageSize int                  `json:"default_page_size"`
	MaxPageSize     int                  `json:"max_page_size"`
	ScanConcurrency int                  `json:"scan_concurrency"`
	Resolutions     []counter.Resolution `json:"counter_resolutions"`
	GeoMaxRadius    float64              `json:"geo_max_radius"`
	MaxAssetSize    int64                `json:"max_asset_size"`

	KVStore     kvstore.Store       `json:"-"`
	Registry    *schema.Registry    `json:"-"`
	Locator     index.BucketLocator `json:"-"`
	ObjectStore objectstore.Store   `json:"-"`
	Limiter     limiter.Limiter     `json:"-"`
}

func (c *Config) checkAndFix() {
	if c.DefaultPageSize <= 0 {
		c.DefaultPageSize = query.DefaultLimit
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = query.MaxLimit
	}
	if c.DefaultPageSize > c.MaxPageSize {
		c.DefaultPageSize = c.MaxPageSize
	}
	if c.ScanConcurrency <= 0 {
		c.ScanConcurrency = defaultScanConcurrency
	}
	if c.GeoMaxRadius <= 0 {
		c.GeoMaxRadius = defaultGeoMaxRadius
	}
	if c.MaxAssetSize <= 0 {
		c.MaxAssetSize = defaultMaxAssetSize
	}
	if c.Registry == nil {
		c.Registry = schema.NewDefaultRegistry()
	}
	if c.Locator == nil {
		c.Locator = index.NewSimpleBucketLocator(c.BucketCount)
	}
	if c.Limiter == nil {
		c.Limiter = limiter.NewLimiter(limiter.LimitConfig{})
	}
}

// Catalog owns the shared collaborators and hands out one EntityManager per
// application. Application entities live in the management application.
type Catalog struct {
	cfg      *Config
	kv       kvstore.Store
	counters *counter.Store

	managers sync.Map
}

func NewCatalog(ctx context.Context, cfg *Config) (*Catalog, error) {
	span := trace.SpanFromContextSafe(ctx)
	if cfg.KVStore == nil {
		return nil, errors.NewIllegalArgument("catalog needs a kv store")
	}
	cfg.checkAndFix()
	cfg.Registry.Freeze()

	c := &Catalog{
		cfg:      cfg,
		kv:       cfg.KVStore,
		counters: counter.NewStore(cfg.KVStore, cfg.Resolutions),
	}
	span.Infof("catalog ready, buckets: %d, types: %v, counter resolutions: %v",
		cfg.Locator.Count(), cfg.Registry.Types(), c.counters.Resolutions())
	return c, nil
}

func (c *Catalog) Registry() *schema.Registry { return c.cfg.Registry }

// EntityManager returns the façade of one application.
func (c *Catalog) EntityManager(appID uuid.UUID) *EntityManager {
	if v, ok := c.managers.Load(appID); ok {
		return v.(*EntityManager)
	}
	em := &EntityManager{
		app:      appID,
		keys:     keys{app: appID},
		cfg:      c.cfg,
		kv:       c.kv,
		registry: c.cfg.Registry,
		locator:  c.cfg.Locator,
		counters: c.counters,
	}
	v, _ := c.managers.LoadOrStore(appID, em)
	return v.(*EntityManager)
}

func (c *Catalog) management() *EntityManager {
	return c.EntityManager(proto.ManagementApplicationID)
}

// CreateApplication registers a new application, names are unique.
func (c *Catalog) CreateApplication(ctx context.Context, name string) (uuid.UUID, error) {
	span := trace.SpanFromContextSafe(ctx)
	e, err := c.management().Create(ctx, proto.TypeApplication, proto.PropertiesOf(proto.PropertyName, name))
	if err != nil {
		span.Warnf("create application %s failed: %s", name, err)
		return uuid.Nil, err
	}
	span.Infof("application %s created as %s", name, e.UUID)
	return e.UUID, nil
}

func (c *Catalog) LookupApplication(ctx context.Context, name string) (uuid.UUID, error) {
	ref, err := c.management().GetAlias(ctx, proto.TypeApplication, name)
	if err != nil {
		if errors.IsNotFound(err) {
			return uuid.Nil, errors.Wrap(errors.ErrApplicationNotFound, "%s", name)
		}
		return uuid.Nil, err
	}
	return ref.UUID, nil
}

// GetApplication loads the application entity of appID.
func (c *Catalog) GetApplication(ctx context.Context, appID uuid.UUID) (*proto.Entity, error) {
	e, err := c.management().GetRef(ctx, proto.NewRef(proto.TypeApplication, appID))
	if errors.IsNotFound(err) {
		return nil, errors.Wrap(errors.ErrApplicationNotFound, "%s", appID)
	}
	return e, err
}

// ResolveApplication accepts an application uuid or a non-empty name.
func (c *Catalog) ResolveApplication(ctx context.Context, s string) (uuid.UUID, error) {
	id, ok := proto.ParseIdentifier(s)
	if !ok || id.Value == "" {
		return uuid.Nil, errors.Wrap(errors.ErrInvalidIdentifier, "application %q", s)
	}
	if id.IsUUID() {
		if _, err := c.GetApplication(ctx, id.UUID); err != nil {
			return uuid.Nil, err
		}
		return id.UUID, nil
	}
	return c.LookupApplication(ctx, id.Value)
}
