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
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"sync"
)

const (
	defaultCF = "default"

	RocksdbLsmKVType = LsmKVType("rocksdb")
	MemoryLsmKVType  = LsmKVType("memory")

	FIFOStyle      = CompactionStyle("fifo")
	LevelStyle     = CompactionStyle("level")
	UniversalStyle = CompactionStyle("universal")

	keyLocksNum = 1024
)

var (
	ErrNotFound       = errors.New("key not found")
	ErrKVTypeNotFound = errors.New("kv type not found")
	ErrInvalidCounter = errors.New("value is not a counter")
)

type (
	CF              string
	LsmKVType       string
	CompactionStyle string

	// Store is an ordered key value store partitioned into column families.
	// Keys inside one column family are iterated in bytewise order.
	Store interface {
		GetAllColumns() []CF
		CheckColumns(col CF) bool
		GetRaw(ctx context.Context, col CF, key []byte, readOpt ReadOption) (value []byte, err error)
		// MultiGetRaw returns nil for every missing key.
		MultiGetRaw(ctx context.Context, col CF, keys [][]byte, readOpt ReadOption) (values [][]byte, err error)
		SetRaw(ctx context.Context, col CF, key []byte, value []byte, writeOpt WriteOption) error
		// SetIfAbsent writes value only when key does not exist. It returns the
		// value currently bound to key and whether this call wrote it.
		SetIfAbsent(ctx context.Context, col CF, key []byte, value []byte, writeOpt WriteOption) (current []byte, ok bool, err error)
		// Incr adds delta to the 8 byte big endian counter stored at key.
		Incr(ctx context.Context, col CF, key []byte, delta int64, writeOpt WriteOption) (int64, error)
		Delete(ctx context.Context, col CF, key []byte, writeOpt WriteOption) error
		// List iterates keys with the given prefix, starting at marker when set.
		List(ctx context.Context, col CF, prefix []byte, marker []byte, readOpt ReadOption) ListReader
		Write(ctx context.Context, batch WriteBatch, writeOpt WriteOption) error
		NewReadOption() (readOption ReadOption)
		NewWriteOption() (writeOption WriteOption)
		NewWriteBatch() (writeBatch WriteBatch)
		FlushCF(ctx context.Context, col CF) error
		Stats(ctx context.Context) (Stats, error)
		Close()
	}
	// ListReader reads one key per call. The first read after List or a seek
	// returns the positioned entry, later reads step in the requested
	// direction. A nil key means the reader left its prefix.
	ListReader interface {
		ReadNextCopy() (key []byte, value []byte, err error)
		ReadPrevCopy() (key []byte, value []byte, err error)
		SeekTo(key []byte)
		SeekForPrev(key []byte)
		SeekToLast()
		Close()
	}
	ReadOption interface {
		SetFillCache(value bool)
		Close()
	}
	WriteOption interface {
		SetSync(value bool)
		DisableWAL(value bool)
		Close()
	}
	WriteBatch interface {
		Put(col CF, key, value []byte)
		Delete(col CF, key []byte)
		DeleteRange(col CF, startKey, endKey []byte)
		Count() int
		Close()
	}

	Stats struct {
		Used        uint64      `json:"used"`
		Keys        uint64      `json:"keys"`
		MemoryUsage MemoryUsage `json:"memory_usage"`
	}
	MemoryUsage struct {
		BlockCacheUsage     uint64 `json:"block_cache_usage"`
		IndexAndFilterUsage uint64 `json:"index_and_filter_usage"`
		MemtableUsage       uint64 `json:"memtable_usage"`
		Total               uint64 `json:"total"`
	}
	Option struct {
		Sync                     bool            `json:"sync"`
		DisableWal               bool            `json:"disable_wal"`
		ColumnFamily             []CF            `json:"column_family"`
		CreateIfMissing          bool            `json:"create_if_missing"`
		BlockSize                int             `json:"block_size"`
		BlockCache               uint64          `json:"block_cache"`
		EnablePipelinedWrite     bool            `json:"enable_pipelined_write"`
		MaxBackgroundCompactions int             `json:"max_background_compactions"`
		MaxBackgroundFlushes     int             `json:"max_background_flushes"`
		MaxOpenFiles             int             `json:"max_open_files"`
		MaxWriteBufferNumber     int             `json:"max_write_buffer_number"`
		WriteBufferSize          int             `json:"write_buffer_size"`
		TargetFileSizeBase       uint64          `json:"target_file_size_base"`
		KeepLogFileNum           int             `json:"keep_log_file_num"`
		MaxLogFileSize           int             `json:"max_log_file_size"`
		CompactionStyle          CompactionStyle `json:"compaction_style"`
	}
)

func NewKVStore(ctx context.Context, path string, lsmType LsmKVType, option *Option) (Store, error) {
	switch lsmType {
	case RocksdbLsmKVType:
		return newRocksdb(ctx, path, option)
	case MemoryLsmKVType:
		return newMemory(ctx, option)
	default:
		return nil, ErrKVTypeNotFound
	}
}

func (cf CF) String() string {
	return string(cf)
}

// EncodeCounter returns the representation Incr uses for counter values.
func EncodeCounter(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func DecodeCounter(raw []byte) (int64, error) {
	if len(raw) != 8 {
		return 0, ErrInvalidCounter
	}
	return int64(binary.BigEndian.Uint64(raw)), nil
}

// PrefixEnd returns the smallest key greater than every key with prefix,
// or nil when no such key exists.
func PrefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// keyLocks serializes read-modify-write cycles on the same key.
type keyLocks [keyLocksNum]sync.Mutex

func (l *keyLocks) lock(col CF, key []byte) func() {
	h := crc32.NewIEEE()
	h.Write([]byte(col))
	h.Write(key)
	mu := &l[h.Sum32()%keyLocksNum]
	mu.Lock()
	return mu.Unlock
}
