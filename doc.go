/*
 *
 * Copyright 2023 CubeFS authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

/*

# EntityDB: typed entities, relations and counters on a column family store

## Data Model

* Application, the tenant. Every entity, index row and counter is scoped by
the application uuid. Applications themselves live in the management
application.

* Entity, uuid --> type, created, modified and an ordered property bag.
Registered types carry a shape (required, unique, indexed, mutable
properties), every other type is dynamic.

* Collection, <owner, name> --> ordered members. Creating an entity adds it
to the application collection named after its plural type.

* Connection, <from, type, to>, a directed edge, idempotent on create.

* Dictionary, a named key/value set attached to an entity.

* Alias, <type, alias> --> entity, backing unique properties and lookups by
name or email.

* Counters, application and entity counters plus aggregate counters
bucketed by resolution (minute .. month).

## Storage

A single kv store (rocksdb, or memory for tests) with one column family per
concern: entity, index, alias, dictionary, ledger and counter. Index rows
are spread over a fixed number of buckets per scope and merged on read.

## Query

	select * where name contains 'qu*' and rank >= 3 order by name desc

Predicates on the same property are folded into the tightest range, the
planner picks one indexed range and filters the rest. Pages end with an
opaque cursor, geo queries page by (distance, uuid).

## Building Blocks

* Rocksdb
* gRPC health and Prometheus
* NATS for queued ingest
* S3 for entity assets

*/

package entitydb
