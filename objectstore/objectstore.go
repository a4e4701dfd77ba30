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

package objectstore

import (
	"context"
	"errors"
	"io"
	"time"
)

const (
	TypeS3     = "s3"
	TypeMemory = "memory"

	defaultPresignTTL = 15 * time.Minute
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUnknownType    = errors.New("unknown object store type")
)

// ACL is the canned access policy of a stored object.
type ACL string

const (
	ACLPrivate    ACL = "private"
	ACLPublicRead ACL = "public-read"
)

// Store keeps asset bytes outside the entity store.
type Store interface {
	Put(ctx context.Context, bucket, key string, body io.ReadSeeker, size int64, contentType string, acl ACL) (etag string, err error)
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, bucket, key string) error
	PresignedGetURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
	// Bucket is the bucket assets go to when the caller has no preference.
	Bucket() string
}

type Config struct {
	Type            string `json:"type"`
	Region          string `json:"region"`
	Endpoint        string `json:"endpoint"`
	Bucket          string `json:"bucket"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SessionToken    string `json:"session_token"`
	PathStyle       bool   `json:"path_style"`
	PresignTTLSec   int    `json:"presign_ttl_sec"`
}

func (c *Config) checkAndFix() {
	if c.Type == "" {
		c.Type = TypeMemory
	}
	if c.Bucket == "" {
		c.Bucket = "entitydb-assets"
	}
	if c.PresignTTLSec <= 0 {
		c.PresignTTLSec = int(defaultPresignTTL / time.Second)
	}
}

// PresignTTL is the default lifetime of presigned urls.
func (c *Config) PresignTTL() time.Duration {
	return time.Duration(c.PresignTTLSec) * time.Second
}

func New(ctx context.Context, cfg *Config) (Store, error) {
	cfg.checkAndFix()
	switch cfg.Type {
	case TypeS3:
		return newS3(ctx, cfg)
	case TypeMemory:
		return NewMemory(cfg.Bucket), nil
	default:
		return nil, ErrUnknownType
	}
}
