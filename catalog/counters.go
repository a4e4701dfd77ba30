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

	"github.com/cubefs/entitydb/counter"
	"github.com/cubefs/entitydb/metrics"
	"github.com/cubefs/entitydb/proto"
	"github.com/cubefs/entitydb/util"
)

func (em *EntityManager) IncrementApplicationCounter(ctx context.Context, name string, delta int64) (int64, error) {
	n, err := em.counters.IncrementApplication(ctx, em.app, name, delta)
	if err == nil {
		metrics.CounterIncrements.WithLabelValues("application").Inc()
	}
	return n, err
}

func (em *EntityManager) GetApplicationCounters(ctx context.Context) (map[string]int64, error) {
	return em.counters.ApplicationCounters(ctx, em.app)
}

// IncrementEntityCounter bumps a named counter of an existing entity. The
// counters go away with the entity.
func (em *EntityManager) IncrementEntityCounter(ctx context.Context, ref proto.EntityRef, name string, delta int64) (int64, error) {
	if _, err := em.GetRef(ctx, ref); err != nil {
		return 0, err
	}
	n, err := em.counters.IncrementEntity(ctx, em.app, ref.UUID, name, delta)
	if err == nil {
		metrics.CounterIncrements.WithLabelValues("entity").Inc()
	}
	return n, err
}

func (em *EntityManager) GetEntityCounters(ctx context.Context, ref proto.EntityRef) (map[string]int64, error) {
	return em.counters.EntityCounters(ctx, em.app, ref.UUID)
}

// IncrementAggregateCounters adds delta at every configured resolution. A
// zero ts means now.
func (em *EntityManager) IncrementAggregateCounters(ctx context.Context, key counter.Key, ts, delta int64) error {
	if ts == 0 {
		ts = util.NowMillis()
	}
	if err := em.counters.IncrementAggregate(ctx, em.app, key, ts, delta); err != nil {
		return err
	}
	metrics.CounterIncrements.WithLabelValues("aggregate").Inc()
	return nil
}

// GetAggregateCounters reads one series between start and finish, pad
// fills the buckets without activity with zeros.
func (em *EntityManager) GetAggregateCounters(ctx context.Context, key counter.Key, res counter.Resolution,
	start, finish int64, pad bool,
) (*proto.AggregateCounterSet, error) {
	return em.counters.Get(ctx, em.app, key, res, start, finish, pad)
}

func (em *EntityManager) GetAggregateCounterNames(ctx context.Context) ([]string, error) {
	return em.counters.Names(ctx, em.app)
}
