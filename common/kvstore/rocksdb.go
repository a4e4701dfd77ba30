// Copyright 2023 The Cuber Authors.
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
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"

	rdb "github.com/tecbot/gorocksdb"
)

type (
	rocksdb struct {
		path      string
		db        *rdb.DB
		opt       *rdb.Options
		readOpt   *rdb.ReadOptions
		writeOpt  *rdb.WriteOptions
		flushOpt  *rdb.FlushOptions
		cfHandles map[CF]*rdb.ColumnFamilyHandle
		keyLocks  keyLocks
		lock      sync.RWMutex
	}
	readOption struct {
		opt *rdb.ReadOptions
	}
	writeOption struct {
		opt *rdb.WriteOptions
	}
	listReader struct {
		iterator *rdb.Iterator
		prefix   []byte
		isFirst  bool
	}
	writeBatch struct {
		s     *rocksdb
		batch *rdb.WriteBatch
	}
)

func newRocksdb(ctx context.Context, path string, option *Option) (Store, error) {
	if path == "" {
		return nil, errors.New("path is empty")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}

	dbOpt := genRocksdbOpts(option)

	cols := make([]CF, 0, len(option.ColumnFamily)+1)
	cols = append(cols, defaultCF)
	cols = append(cols, option.ColumnFamily...)

	cfNames := make([]string, 0, len(cols))
	cfOpts := make([]*rdb.Options, 0, len(cols))
	for _, col := range cols {
		cfNames = append(cfNames, col.String())
		cfOpts = append(cfOpts, dbOpt)
	}

	db, cfhs, err := rdb.OpenDbColumnFamilies(dbOpt, path, cfNames, cfOpts)
	if err != nil {
		return nil, err
	}

	cfhMap := make(map[CF]*rdb.ColumnFamilyHandle, len(cfhs))
	for i, h := range cfhs {
		cfhMap[cols[i]] = h
	}

	wo := rdb.NewDefaultWriteOptions()
	wo.SetSync(option.Sync)
	wo.DisableWAL(option.DisableWal)

	return &rocksdb{
		db:        db,
		path:      path,
		opt:       dbOpt,
		readOpt:   rdb.NewDefaultReadOptions(),
		writeOpt:  wo,
		flushOpt:  rdb.NewDefaultFlushOptions(),
		cfHandles: cfhMap,
	}, nil
}

func (ro *readOption) SetFillCache(value bool) {
	ro.opt.SetFillCache(value)
}

func (ro *readOption) Close() {
	ro.opt.Destroy()
}

func (wo *writeOption) SetSync(value bool) {
	wo.opt.SetSync(value)
}

func (wo *writeOption) DisableWAL(value bool) {
	wo.opt.DisableWAL(value)
}

func (wo *writeOption) Close() {
	wo.opt.Destroy()
}

func (lr *listReader) read(step func()) (key []byte, value []byte, err error) {
	if lr.isFirst {
		lr.isFirst = false
	} else {
		step()
	}
	if err = lr.iterator.Err(); err != nil {
		return nil, nil, err
	}
	if !lr.iterator.Valid() {
		return nil, nil, nil
	}
	if lr.prefix != nil && !lr.iterator.ValidForPrefix(lr.prefix) {
		return nil, nil, nil
	}
	k := lr.iterator.Key()
	v := lr.iterator.Value()
	key = make([]byte, k.Size())
	value = make([]byte, v.Size())
	copy(key, k.Data())
	copy(value, v.Data())
	k.Free()
	v.Free()
	return key, value, nil
}

func (lr *listReader) ReadNextCopy() (key []byte, value []byte, err error) {
	return lr.read(lr.iterator.Next)
}

func (lr *listReader) ReadPrevCopy() (key []byte, value []byte, err error) {
	return lr.read(lr.iterator.Prev)
}

func (lr *listReader) SeekTo(key []byte) {
	lr.isFirst = true
	lr.iterator.Seek(key)
}

func (lr *listReader) SeekForPrev(key []byte) {
	lr.isFirst = true
	lr.iterator.SeekForPrev(key)
}

func (lr *listReader) SeekToLast() {
	lr.isFirst = true
	end := PrefixEnd(lr.prefix)
	if end == nil {
		lr.iterator.SeekToLast()
		return
	}
	lr.iterator.SeekForPrev(end)
	if lr.iterator.Valid() {
		k := lr.iterator.Key()
		if bytes.Equal(k.Data(), end) {
			lr.iterator.Prev()
		}
		k.Free()
	}
}

func (lr *listReader) Close() {
	lr.iterator.Close()
}

func (w *writeBatch) Put(col CF, key, value []byte) {
	w.batch.PutCF(w.s.getColumnFamily(col), key, value)
}

func (w *writeBatch) Delete(col CF, key []byte) {
	w.batch.DeleteCF(w.s.getColumnFamily(col), key)
}

func (w *writeBatch) DeleteRange(col CF, startKey, endKey []byte) {
	w.batch.DeleteRangeCF(w.s.getColumnFamily(col), startKey, endKey)
}

func (w *writeBatch) Count() int {
	return w.batch.Count()
}

func (w *writeBatch) Close() {
	w.batch.Destroy()
}

func (s *rocksdb) NewReadOption() ReadOption {
	return &readOption{opt: rdb.NewDefaultReadOptions()}
}

func (s *rocksdb) NewWriteOption() WriteOption {
	return &writeOption{opt: rdb.NewDefaultWriteOptions()}
}

func (s *rocksdb) NewWriteBatch() WriteBatch {
	return &writeBatch{s: s, batch: rdb.NewWriteBatch()}
}

func (s *rocksdb) GetAllColumns() (ret []CF) {
	s.lock.RLock()
	for col := range s.cfHandles {
		ret = append(ret, col)
	}
	s.lock.RUnlock()
	return
}

func (s *rocksdb) CheckColumns(col CF) bool {
	if col == "" {
		return true
	}
	s.lock.RLock()
	defer s.lock.RUnlock()
	_, ok := s.cfHandles[col]
	return ok
}

func (s *rocksdb) GetRaw(ctx context.Context, col CF, key []byte, readOpt ReadOption) ([]byte, error) {
	v, err := s.db.GetCF(s.getReadOpt(readOpt), s.getColumnFamily(col), key)
	if err != nil {
		return nil, err
	}
	defer v.Free()
	if !v.Exists() {
		return nil, ErrNotFound
	}
	value := make([]byte, v.Size())
	copy(value, v.Data())
	return value, nil
}

func (s *rocksdb) MultiGetRaw(ctx context.Context, col CF, keys [][]byte, readOpt ReadOption) ([][]byte, error) {
	slices, err := s.db.MultiGetCF(s.getReadOpt(readOpt), s.getColumnFamily(col), keys...)
	if err != nil {
		return nil, err
	}
	defer slices.Destroy()
	values := make([][]byte, len(slices))
	for i := range slices {
		if !slices[i].Exists() {
			continue
		}
		values[i] = make([]byte, slices[i].Size())
		copy(values[i], slices[i].Data())
	}
	return values, nil
}

func (s *rocksdb) SetRaw(ctx context.Context, col CF, key []byte, value []byte, writeOpt WriteOption) error {
	return s.db.PutCF(s.getWriteOpt(writeOpt), s.getColumnFamily(col), key, value)
}

func (s *rocksdb) SetIfAbsent(ctx context.Context, col CF, key []byte, value []byte, writeOpt WriteOption) ([]byte, bool, error) {
	unlock := s.keyLocks.lock(col, key)
	defer unlock()

	current, err := s.GetRaw(ctx, col, key, nil)
	if err == nil {
		return current, false, nil
	}
	if err != ErrNotFound {
		return nil, false, err
	}
	if err = s.SetRaw(ctx, col, key, value, writeOpt); err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *rocksdb) Incr(ctx context.Context, col CF, key []byte, delta int64, writeOpt WriteOption) (int64, error) {
	unlock := s.keyLocks.lock(col, key)
	defer unlock()

	var current int64
	raw, err := s.GetRaw(ctx, col, key, nil)
	switch err {
	case nil:
		if current, err = DecodeCounter(raw); err != nil {
			return 0, err
		}
	case ErrNotFound:
	default:
		return 0, err
	}
	current += delta
	if err = s.SetRaw(ctx, col, key, EncodeCounter(current), writeOpt); err != nil {
		return 0, err
	}
	return current, nil
}

func (s *rocksdb) Delete(ctx context.Context, col CF, key []byte, writeOpt WriteOption) error {
	return s.db.DeleteCF(s.getWriteOpt(writeOpt), s.getColumnFamily(col), key)
}

func (s *rocksdb) List(ctx context.Context, col CF, prefix []byte, marker []byte, readOpt ReadOption) ListReader {
	t := s.db.NewIteratorCF(s.getReadOpt(readOpt), s.getColumnFamily(col))
	switch {
	case len(marker) > 0:
		t.Seek(marker)
	case prefix != nil:
		t.Seek(prefix)
	default:
		t.SeekToFirst()
	}
	return &listReader{
		iterator: t,
		prefix:   prefix,
		isFirst:  true,
	}
}

func (s *rocksdb) Write(ctx context.Context, batch WriteBatch, writeOpt WriteOption) error {
	return s.db.Write(s.getWriteOpt(writeOpt), batch.(*writeBatch).batch)
}

func (s *rocksdb) FlushCF(ctx context.Context, col CF) error {
	return s.db.FlushCF(s.flushOpt, s.getColumnFamily(col))
}

func (s *rocksdb) Stats(ctx context.Context) (stats Stats, err error) {
	files := s.db.GetLiveFilesMetaData()
	for i := range files {
		stats.Used += uint64(files[i].Size)
	}

	s.lock.RLock()
	for _, cf := range s.cfHandles {
		keys, _ := strconv.ParseUint(s.db.GetPropertyCF("rocksdb.estimate-num-keys", cf), 10, 64)
		indexAndFilter, _ := strconv.ParseUint(s.db.GetPropertyCF("rocksdb.estimate-table-readers-mem", cf), 10, 64)
		memtable, _ := strconv.ParseUint(s.db.GetPropertyCF("rocksdb.cur-size-all-mem-tables", cf), 10, 64)
		stats.Keys += keys
		stats.MemoryUsage.IndexAndFilterUsage += indexAndFilter
		stats.MemoryUsage.MemtableUsage += memtable
	}
	s.lock.RUnlock()

	stats.MemoryUsage.BlockCacheUsage, _ = strconv.ParseUint(s.db.GetProperty("rocksdb.block-cache-usage"), 10, 64)
	stats.MemoryUsage.Total = stats.MemoryUsage.BlockCacheUsage +
		stats.MemoryUsage.IndexAndFilterUsage + stats.MemoryUsage.MemtableUsage
	return
}

func (s *rocksdb) Close() {
	s.writeOpt.Destroy()
	s.readOpt.Destroy()
	s.flushOpt.Destroy()
	for i := range s.cfHandles {
		s.cfHandles[i].Destroy()
	}
	s.db.Close()
	s.opt.Destroy()
}

func (s *rocksdb) getReadOpt(readOpt ReadOption) *rdb.ReadOptions {
	if readOpt != nil {
		return readOpt.(*readOption).opt
	}
	return s.readOpt
}

func (s *rocksdb) getWriteOpt(writeOpt WriteOption) *rdb.WriteOptions {
	if writeOpt != nil {
		return writeOpt.(*writeOption).opt
	}
	return s.writeOpt
}

func (s *rocksdb) getColumnFamily(col CF) *rdb.ColumnFamilyHandle {
	if col == "" {
		col = defaultCF
	}
	s.lock.RLock()
	cf, ok := s.cfHandles[col]
	s.lock.RUnlock()
	if !ok {
		panic(fmt.Sprintf("col:%s not exist", col.String()))
	}
	return cf
}

func genRocksdbOpts(opt *Option) (opts *rdb.Options) {
	opts = rdb.NewDefaultOptions()
	blockBaseOpt := rdb.NewDefaultBlockBasedTableOptions()
	opts.SetCreateIfMissing(opt.CreateIfMissing)
	if opt.BlockSize > 0 {
		blockBaseOpt.SetBlockSize(opt.BlockSize)
	}
	if opt.BlockCache > 0 {
		blockBaseOpt.SetBlockCache(rdb.NewLRUCache(opt.BlockCache))
	}
	opts.SetEnablePipelinedWrite(opt.EnablePipelinedWrite)
	if opt.MaxBackgroundCompactions > 0 {
		opts.SetMaxBackgroundCompactions(opt.MaxBackgroundCompactions)
	}
	if opt.MaxBackgroundFlushes > 0 {
		opts.SetMaxBackgroundFlushes(opt.MaxBackgroundFlushes)
	}
	if opt.MaxOpenFiles > 0 {
		opts.SetMaxOpenFiles(opt.MaxOpenFiles)
	}
	if opt.MaxWriteBufferNumber > 0 {
		opts.SetMaxWriteBufferNumber(opt.MaxWriteBufferNumber)
	}
	if opt.WriteBufferSize > 0 {
		opts.SetWriteBufferSize(opt.WriteBufferSize)
	}
	if opt.TargetFileSizeBase > 0 {
		opts.SetTargetFileSizeBase(opt.TargetFileSizeBase)
	}
	if opt.KeepLogFileNum > 0 {
		opts.SetKeepLogFileNum(opt.KeepLogFileNum)
	}
	if opt.MaxLogFileSize > 0 {
		opts.SetMaxLogFileSize(opt.MaxLogFileSize)
	}
	switch opt.CompactionStyle {
	case FIFOStyle:
		opts.SetCompactionStyle(rdb.FIFOCompactionStyle)
	case LevelStyle:
		opts.SetCompactionStyle(rdb.LevelCompactionStyle)
	case UniversalStyle:
		opts.SetCompactionStyle(rdb.UniversalCompactionStyle)
	default:
	}

	opts.SetStatsDumpPeriodSec(0)
	opts.SetBlockBasedTableFactory(blockBaseOpt)
	opts.SetCreateIfMissingColumnFamilies(true)
	return
}
