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

package kvstore

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/cubefs/cubefs/util/btree"
)

const memoryTreeDegree = 32

type (
	// memory keeps every column family in a btree. It backs tests and
	// single process deployments that do not need durability.
	memory struct {
		trees map[CF]*btree.BTree
		lock  sync.RWMutex
	}
	memItem struct {
		key   []byte
		value []byte
	}
	memReadOption  struct{}
	memWriteOption struct{}
	memBatchOp     struct {
		col      CF
		key      []byte
		value    []byte
		endKey   []byte
		isDelete bool
		isRange  bool
	}
	memWriteBatch struct {
		ops []memBatchOp
	}
	memListReader struct {
		s       *memory
		tree    *btree.BTree
		prefix  []byte
		current []byte
		// inclusive is set right after a seek so the first read may return
		// the key the reader is positioned on.
		inclusive bool
	}
)

func (i *memItem) Less(than btree.Item) bool {
	return bytes.Compare(i.key, than.(*memItem).key) < 0
}

func (i *memItem) Copy() btree.Item {
	return &memItem{key: i.key, value: i.value}
}

func newMemory(ctx context.Context, option *Option) (Store, error) {
	m := &memory{trees: make(map[CF]*btree.BTree)}
	m.trees[defaultCF] = btree.New(memoryTreeDegree)
	if option != nil {
		for _, col := range option.ColumnFamily {
			m.trees[col] = btree.New(memoryTreeDegree)
		}
	}
	return m, nil
}

func (memReadOption) SetFillCache(bool) {}
func (memReadOption) Close()            {}

func (memWriteOption) SetSync(bool)    {}
func (memWriteOption) DisableWAL(bool) {}
func (memWriteOption) Close()          {}

func (b *memWriteBatch) Put(col CF, key, value []byte) {
	b.ops = append(b.ops, memBatchOp{col: col, key: clone(key), value: clone(value)})
}

func (b *memWriteBatch) Delete(col CF, key []byte) {
	b.ops = append(b.ops, memBatchOp{col: col, key: clone(key), isDelete: true})
}

func (b *memWriteBatch) DeleteRange(col CF, startKey, endKey []byte) {
	b.ops = append(b.ops, memBatchOp{col: col, key: clone(startKey), endKey: clone(endKey), isRange: true})
}

func (b *memWriteBatch) Count() int { return len(b.ops) }

func (b *memWriteBatch) Close() { b.ops = nil }

func (m *memory) GetAllColumns() (ret []CF) {
	m.lock.RLock()
	for col := range m.trees {
		ret = append(ret, col)
	}
	m.lock.RUnlock()
	return
}

func (m *memory) CheckColumns(col CF) bool {
	if col == "" {
		return true
	}
	m.lock.RLock()
	defer m.lock.RUnlock()
	_, ok := m.trees[col]
	return ok
}

func (m *memory) GetRaw(ctx context.Context, col CF, key []byte, readOpt ReadOption) ([]byte, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.get(col, key)
}

func (m *memory) get(col CF, key []byte) ([]byte, error) {
	item := m.getTree(col).Get(&memItem{key: key})
	if item == nil {
		return nil, ErrNotFound
	}
	return clone(item.(*memItem).value), nil
}

func (m *memory) MultiGetRaw(ctx context.Context, col CF, keys [][]byte, readOpt ReadOption) ([][]byte, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	values := make([][]byte, len(keys))
	for i := range keys {
		v, err := m.get(col, keys[i])
		if err == nil {
			values[i] = v
		}
	}
	return values, nil
}

func (m *memory) SetRaw(ctx context.Context, col CF, key []byte, value []byte, writeOpt WriteOption) error {
	m.lock.Lock()
	m.getTree(col).ReplaceOrInsert(&memItem{key: clone(key), value: clone(value)})
	m.lock.Unlock()
	return nil
}

func (m *memory) SetIfAbsent(ctx context.Context, col CF, key []byte, value []byte, writeOpt WriteOption) ([]byte, bool, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if current, err := m.get(col, key); err == nil {
		return current, false, nil
	}
	m.getTree(col).ReplaceOrInsert(&memItem{key: clone(key), value: clone(value)})
	return value, true, nil
}

func (m *memory) Incr(ctx context.Context, col CF, key []byte, delta int64, writeOpt WriteOption) (int64, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	var current int64
	if raw, err := m.get(col, key); err == nil {
		if current, err = DecodeCounter(raw); err != nil {
			return 0, err
		}
	}
	current += delta
	m.getTree(col).ReplaceOrInsert(&memItem{key: clone(key), value: EncodeCounter(current)})
	return current, nil
}

func (m *memory) Delete(ctx context.Context, col CF, key []byte, writeOpt WriteOption) error {
	m.lock.Lock()
	m.getTree(col).Delete(&memItem{key: key})
	m.lock.Unlock()
	return nil
}

func (m *memory) List(ctx context.Context, col CF, prefix []byte, marker []byte, readOpt ReadOption) ListReader {
	lr := &memListReader{s: m, tree: m.getTree(col), prefix: clone(prefix), inclusive: true}
	switch {
	case len(marker) > 0:
		lr.current = clone(marker)
	case prefix != nil:
		lr.current = clone(prefix)
	}
	return lr
}

func (m *memory) Write(ctx context.Context, batch WriteBatch, writeOpt WriteOption) error {
	b := batch.(*memWriteBatch)
	m.lock.Lock()
	defer m.lock.Unlock()
	for _, op := range b.ops {
		tree := m.getTree(op.col)
		switch {
		case op.isRange:
			var doomed []btree.Item
			tree.AscendGreaterOrEqual(&memItem{key: op.key}, func(i btree.Item) bool {
				if bytes.Compare(i.(*memItem).key, op.endKey) >= 0 {
					return false
				}
				doomed = append(doomed, i)
				return true
			})
			for _, i := range doomed {
				tree.Delete(i)
			}
		case op.isDelete:
			tree.Delete(&memItem{key: op.key})
		default:
			tree.ReplaceOrInsert(&memItem{key: op.key, value: op.value})
		}
	}
	return nil
}

func (m *memory) NewReadOption() ReadOption { return memReadOption{} }

func (m *memory) NewWriteOption() WriteOption { return memWriteOption{} }

func (m *memory) NewWriteBatch() WriteBatch { return &memWriteBatch{} }

func (m *memory) FlushCF(ctx context.Context, col CF) error { return nil }

func (m *memory) Stats(ctx context.Context) (stats Stats, err error) {
	m.lock.RLock()
	for _, tree := range m.trees {
		stats.Keys += uint64(tree.Len())
		tree.Ascend(func(i btree.Item) bool {
			item := i.(*memItem)
			stats.Used += uint64(len(item.key) + len(item.value))
			return true
		})
	}
	m.lock.RUnlock()
	stats.MemoryUsage.Total = stats.Used
	return
}

func (m *memory) Close() {
	m.lock.Lock()
	for col := range m.trees {
		m.trees[col] = btree.New(memoryTreeDegree)
	}
	m.lock.Unlock()
}

func (m *memory) getTree(col CF) *btree.BTree {
	if col == "" {
		col = defaultCF
	}
	tree, ok := m.trees[col]
	if !ok {
		panic(fmt.Sprintf("col:%s not exist", col.String()))
	}
	return tree
}

func (lr *memListReader) ReadNextCopy() ([]byte, []byte, error) {
	lr.s.lock.RLock()
	defer lr.s.lock.RUnlock()

	var found *memItem
	visit := func(i btree.Item) bool {
		item := i.(*memItem)
		if !lr.inclusive && lr.current != nil && bytes.Equal(item.key, lr.current) {
			return true
		}
		found = item
		return false
	}
	if lr.current == nil {
		lr.tree.Ascend(visit)
	} else {
		lr.tree.AscendGreaterOrEqual(&memItem{key: lr.current}, visit)
	}
	return lr.emit(found)
}

func (lr *memListReader) ReadPrevCopy() ([]byte, []byte, error) {
	lr.s.lock.RLock()
	defer lr.s.lock.RUnlock()

	var found *memItem
	visit := func(i btree.Item) bool {
		item := i.(*memItem)
		if !lr.inclusive && bytes.Equal(item.key, lr.current) {
			return true
		}
		found = item
		return false
	}
	if lr.current == nil {
		lr.tree.Descend(visit)
	} else {
		lr.tree.DescendLessOrEqual(&memItem{key: lr.current}, visit)
	}
	return lr.emit(found)
}

func (lr *memListReader) emit(found *memItem) ([]byte, []byte, error) {
	lr.inclusive = false
	if found == nil || (lr.prefix != nil && !bytes.HasPrefix(found.key, lr.prefix)) {
		return nil, nil, nil
	}
	lr.current = clone(found.key)
	return clone(found.key), clone(found.value), nil
}

func (lr *memListReader) SeekTo(key []byte) {
	lr.current = clone(key)
	lr.inclusive = true
}

func (lr *memListReader) SeekForPrev(key []byte) {
	lr.current = clone(key)
	lr.inclusive = true
}

func (lr *memListReader) SeekToLast() {
	lr.inclusive = true
	end := PrefixEnd(lr.prefix)
	if end == nil {
		lr.current = nil
		return
	}
	// end itself is outside the prefix, so stepping back from it is safe
	lr.current = end
	lr.inclusive = false
}

func (lr *memListReader) Close() {}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
