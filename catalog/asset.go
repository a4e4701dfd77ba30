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
	"bytes"
	"context"
	"io"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/cubefs/entitydb/errors"
	"github.com/cubefs/entitydb/objectstore"
	"github.com/cubefs/entitydb/proto"
	"github.com/cubefs/entitydb/util"
	"github.com/cubefs/entitydb/util/limiter"
)

// asset properties recorded on the owning entity
const (
	PropertyContentType = "content-type"
	PropertySize        = "size"
	PropertyEtag        = "etag"
)

func (em *EntityManager) assetKey(e *proto.Entity) string {
	return em.app.String() + "/" + e.UUID.String()
}

// SetAssetContent uploads the bytes of r as the content of ref and records
// type, size and etag on the entity. Uploads are throttled by the limiter
// and capped at the configured asset size.
func (em *EntityManager) SetAssetContent(ctx context.Context, ref proto.EntityRef, r io.Reader, contentType string) (e *proto.Entity, err error) {
	start := time.Now()
	defer func() { em.observe("set_asset_content", start, err) }()

	objects := em.cfg.ObjectStore
	if objects == nil {
		return nil, errors.Wrap(errors.ErrUnsupportedOperation, "no object store configured")
	}
	prev, err := em.GetRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err = em.cfg.Limiter.Acquire(limiter.OpWrite); err != nil {
		return nil, errors.NewStoreError(err, "acquire upload slot")
	}
	defer em.cfg.Limiter.Release(limiter.OpWrite)

	buf, ok, err := util.ReadAllPooled(em.cfg.Limiter.UploadReader(ctx, r), 0, em.cfg.MaxAssetSize)
	if err != nil {
		return nil, errors.NewStoreError(err, "read asset content")
	}
	if !ok {
		return nil, errors.NewValidation("asset content exceeds %d bytes", em.cfg.MaxAssetSize)
	}
	defer util.PutBufferWriter(buf)

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	size := int64(buf.Len())
	etag, err := objects.Put(ctx, objects.Bucket(), em.assetKey(prev), bytes.NewReader(buf.Bytes()), size, contentType, objectstore.ACLPrivate)
	if err != nil {
		trace.SpanFromContextSafe(ctx).Errorf("put asset of %s failed: %s", prev.Ref(), err)
		return nil, errors.NewStoreError(err, "put asset content")
	}

	next := cloneEntity(prev)
	next.Properties.Set(PropertyContentType, proto.String(contentType))
	next.Properties.Set(PropertySize, proto.Int(size))
	next.Properties.Set(PropertyEtag, proto.String(etag))
	next.Modified = util.NowMillis()
	if err = em.commit(ctx, prev, next); err != nil {
		return nil, err
	}
	return next, nil
}

// GetAssetContent streams the stored content, the caller closes it.
func (em *EntityManager) GetAssetContent(ctx context.Context, ref proto.EntityRef) (io.ReadCloser, error) {
	e, err := em.assetEntity(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err = em.cfg.Limiter.Acquire(limiter.OpRead); err != nil {
		return nil, errors.NewStoreError(err, "acquire download slot")
	}
	defer em.cfg.Limiter.Release(limiter.OpRead)

	rc, err := em.cfg.ObjectStore.Get(ctx, em.cfg.ObjectStore.Bucket(), em.assetKey(e))
	if err == objectstore.ErrObjectNotFound {
		return nil, errors.Wrap(errors.ErrAssetNotFound, "%s", ref)
	}
	if err != nil {
		return nil, errors.NewStoreError(err, "get asset content")
	}
	return rc, nil
}

// GetAssetURL presigns a GET of the content valid for ttl, zero ttl uses
// the object store default.
func (em *EntityManager) GetAssetURL(ctx context.Context, ref proto.EntityRef, ttl time.Duration) (string, error) {
	e, err := em.assetEntity(ctx, ref)
	if err != nil {
		return "", err
	}
	url, err := em.cfg.ObjectStore.PresignedGetURL(ctx, em.cfg.ObjectStore.Bucket(), em.assetKey(e), ttl)
	if err != nil {
		return "", errors.NewStoreError(err, "presign asset url")
	}
	return url, nil
}

func (em *EntityManager) assetEntity(ctx context.Context, ref proto.EntityRef) (*proto.Entity, error) {
	if em.cfg.ObjectStore == nil {
		return nil, errors.Wrap(errors.ErrUnsupportedOperation, "no object store configured")
	}
	e, err := em.GetRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !e.Properties.Has(PropertyEtag) {
		return nil, errors.Wrap(errors.ErrAssetNotFound, "%s", ref)
	}
	return e, nil
}

// dropAssetContent removes the object of a deleted entity, failures only
// leave an orphan object behind.
func (em *EntityManager) dropAssetContent(ctx context.Context, e *proto.Entity) {
	if em.cfg.ObjectStore == nil || !e.Properties.Has(PropertyEtag) {
		return
	}
	if err := em.cfg.ObjectStore.Delete(ctx, em.cfg.ObjectStore.Bucket(), em.assetKey(e)); err != nil {
		trace.SpanFromContextSafe(ctx).Warnf("drop asset of %s failed: %s", e.Ref(), err)
	}
}
