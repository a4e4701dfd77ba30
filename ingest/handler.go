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

// Package ingest applies entity creations and counter increments arriving
// on a message queue.
package ingest

import (
	"context"
	"encoding/json"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/google/uuid"

	"github.com/cubefs/entitydb/catalog"
	"github.com/cubefs/entitydb/counter"
	"github.com/cubefs/entitydb/errors"
	"github.com/cubefs/entitydb/metrics"
	"github.com/cubefs/entitydb/proto"
)

const (
	OpCreate  = "create"
	OpCounter = "counter"
)

// Envelope is one queued request. Application is a name or a uuid.
type Envelope struct {
	Application string            `json:"application"`
	Op          string            `json:"op"`
	Type        string            `json:"type,omitempty"`
	Properties  *proto.Properties `json:"properties,omitempty"`
	Counter     *CounterEnvelope  `json:"counter,omitempty"`
}

type CounterEnvelope struct {
	Name      string `json:"name"`
	User      string `json:"user,omitempty"`
	Group     string `json:"group,omitempty"`
	Queue     string `json:"queue,omitempty"`
	Category  string `json:"category,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Delta     int64  `json:"delta"`
}

// Key parses the ids of the counter key.
func (c *CounterEnvelope) Key() (key counter.Key, err error) {
	if c.Name == "" {
		return key, errors.NewIllegalArgument("counter without name")
	}
	key.Name, key.Category = c.Name, c.Category
	for _, f := range []struct {
		s  string
		id *uuid.UUID
	}{{c.User, &key.User}, {c.Group, &key.Group}, {c.Queue, &key.Queue}} {
		if f.s == "" {
			continue
		}
		if *f.id, err = uuid.Parse(f.s); err != nil {
			return key, errors.Wrap(errors.ErrInvalidIdentifier, "counter key %q", f.s)
		}
	}
	return key, nil
}

// Handler decodes envelopes and applies them through the catalog.
type Handler struct {
	catalog *catalog.Catalog
}

func NewHandler(c *catalog.Catalog) *Handler {
	return &Handler{catalog: c}
}

// Handle applies one raw envelope. Every error means the envelope is
// dropped, the queue does not redeliver.
func (h *Handler) Handle(ctx context.Context, data []byte) (err error) {
	span := trace.SpanFromContextSafe(ctx)
	env := &Envelope{}
	op := "unknown"
	defer func() {
		status := "ok"
		if err != nil {
			status = errors.KindOf(err).String()
			span.Warnf("drop %s envelope: %s", op, err)
		}
		metrics.IngestMessages.WithLabelValues(op, status).Inc()
	}()

	if err = json.Unmarshal(data, env); err != nil {
		return errors.NewValidation("malformed envelope: %s", err)
	}
	switch env.Op {
	case OpCreate, OpCounter:
		op = env.Op
	default:
		return errors.NewIllegalArgument("unknown op %q", env.Op)
	}
	appID, err := h.catalog.ResolveApplication(ctx, env.Application)
	if err != nil {
		return err
	}
	em := h.catalog.EntityManager(appID)

	if op == OpCreate {
		e, err := em.Create(ctx, env.Type, env.Properties)
		if err != nil {
			return err
		}
		span.Debugf("ingested %s into %s", e.Ref(), appID)
		return nil
	}
	if env.Counter == nil {
		return errors.NewIllegalArgument("counter op without counter")
	}
	key, err := env.Counter.Key()
	if err != nil {
		return err
	}
	return em.IncrementAggregateCounters(ctx, key, env.Counter.Timestamp, env.Counter.Delta)
}
