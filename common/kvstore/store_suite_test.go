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
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const suiteCF = CF("c1")

// runStoreSuite checks the behaviour every engine must share.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("SetGetDelete", func(t *testing.T) { testSetGetDelete(t, newStore(t)) })
	t.Run("MultiGet", func(t *testing.T) { testMultiGet(t, newStore(t)) })
	t.Run("WriteBatch", func(t *testing.T) { testWriteBatch(t, newStore(t)) })
	t.Run("ListForward", func(t *testing.T) { testListForward(t, newStore(t)) })
	t.Run("ListBackward", func(t *testing.T) { testListBackward(t, newStore(t)) })
	t.Run("SetIfAbsent", func(t *testing.T) { testSetIfAbsent(t, newStore(t)) })
	t.Run("Incr", func(t *testing.T) { testIncr(t, newStore(t)) })
}

func testSetGetDelete(t *testing.T, s Store) {
	ctx := context.TODO()
	require.True(t, s.CheckColumns(suiteCF))
	require.False(t, s.CheckColumns("missing"))

	k := []byte("key1")
	v := []byte("value1")
	require.NoError(t, s.SetRaw(ctx, suiteCF, k, v, nil))
	v1, err := s.GetRaw(ctx, suiteCF, k, nil)
	require.NoError(t, err)
	require.Equal(t, v, v1)

	// column families are isolated
	_, err = s.GetRaw(ctx, defaultCF, k, nil)
	require.Equal(t, ErrNotFound, err)

	require.NoError(t, s.Delete(ctx, suiteCF, k, nil))
	_, err = s.GetRaw(ctx, suiteCF, k, nil)
	require.Equal(t, ErrNotFound, err)
}

func testMultiGet(t *testing.T, s Store) {
	ctx := context.TODO()
	require.NoError(t, s.SetRaw(ctx, suiteCF, []byte("k1"), []byte("v1"), nil))
	require.NoError(t, s.SetRaw(ctx, suiteCF, []byte("k3"), []byte("v3"), nil))

	values, err := s.MultiGetRaw(ctx, suiteCF, [][]byte{[]byte("k1"), []byte("k2"), []byte("k3")}, nil)
	require.NoError(t, err)
	require.Len(t, values, 3)
	require.Equal(t, []byte("v1"), values[0])
	require.Nil(t, values[1])
	require.Equal(t, []byte("v3"), values[2])
}

func testWriteBatch(t *testing.T, s Store) {
	ctx := context.TODO()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.SetRaw(ctx, suiteCF, []byte(fmt.Sprintf("k%d", i)), []byte(fmt.Sprintf("v%d", i)), nil))
	}

	batch := s.NewWriteBatch()
	defer batch.Close()
	batch.DeleteRange(suiteCF, []byte("k0"), []byte("k3"))
	batch.Delete(suiteCF, []byte("k4"))
	batch.Put(suiteCF, []byte("k9"), []byte("v9"))
	require.Equal(t, 3, batch.Count())
	require.NoError(t, s.Write(ctx, batch, nil))

	for i := 0; i < 5; i++ {
		_, err := s.GetRaw(ctx, suiteCF, []byte(fmt.Sprintf("k%d", i)), nil)
		if i == 3 {
			require.NoError(t, err)
			continue
		}
		require.Equal(t, ErrNotFound, err)
	}
	v, err := s.GetRaw(ctx, suiteCF, []byte("k9"), nil)
	require.NoError(t, err)
	require.Equal(t, []byte("v9"), v)
}

func fillListKeys(t *testing.T, s Store) {
	ctx := context.TODO()
	for _, k := range []string{"key1", "word1", "key2", "check", "word2", "key3", "word3", "xyz", "key4"} {
		require.NoError(t, s.SetRaw(ctx, suiteCF, []byte(k), []byte("v-"+k), nil))
	}
}

func testListForward(t *testing.T, s Store) {
	ctx := context.TODO()
	fillListKeys(t, s)

	ls := s.List(ctx, suiteCF, []byte("key"), nil, nil)
	var keys []string
	for {
		k, v, err := ls.ReadNextCopy()
		require.NoError(t, err)
		if k == nil {
			break
		}
		require.Equal(t, "v-"+string(k), string(v))
		keys = append(keys, string(k))
	}
	ls.Close()
	require.Equal(t, []string{"key1", "key2", "key3", "key4"}, keys)

	// marker read
	ls = s.List(ctx, suiteCF, []byte("word"), []byte("word2"), nil)
	k, _, err := ls.ReadNextCopy()
	require.NoError(t, err)
	require.Equal(t, "word2", string(k))
	k, _, err = ls.ReadNextCopy()
	require.NoError(t, err)
	require.Equal(t, "word3", string(k))
	k, _, err = ls.ReadNextCopy()
	require.NoError(t, err)
	require.Nil(t, k)

	// seek back into the prefix
	ls.SeekTo([]byte("word1"))
	k, _, err = ls.ReadNextCopy()
	require.NoError(t, err)
	require.Equal(t, "word1", string(k))
	ls.Close()
}

func testListBackward(t *testing.T, s Store) {
	ctx := context.TODO()
	fillListKeys(t, s)

	ls := s.List(ctx, suiteCF, []byte("key"), nil, nil)
	ls.SeekToLast()
	var keys []string
	for {
		k, _, err := ls.ReadPrevCopy()
		require.NoError(t, err)
		if k == nil {
			break
		}
		keys = append(keys, string(k))
	}
	require.Equal(t, []string{"key4", "key3", "key2", "key1"}, keys)

	ls.SeekForPrev([]byte("key25"))
	k, _, err := ls.ReadPrevCopy()
	require.NoError(t, err)
	require.Equal(t, "key2", string(k))
	k, _, err = ls.ReadPrevCopy()
	require.NoError(t, err)
	require.Equal(t, "key1", string(k))
	ls.Close()
}

func testSetIfAbsent(t *testing.T, s Store) {
	ctx := context.TODO()
	k := []byte("alias")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v := []byte(fmt.Sprintf("owner-%d", i))
			_, ok, err := s.SetIfAbsent(ctx, suiteCF, k, v, nil)
			require.NoError(t, err)
			if ok {
				mu.Lock()
				winners = append(winners, string(v))
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	require.Len(t, winners, 1)

	current, ok, err := s.SetIfAbsent(ctx, suiteCF, k, []byte("late"), nil)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, winners[0], string(current))
}

func testIncr(t *testing.T, s Store) {
	ctx := context.TODO()
	k := []byte("counter")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Incr(ctx, suiteCF, k, 2, nil)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	v, err := s.Incr(ctx, suiteCF, k, -5, nil)
	require.NoError(t, err)
	require.Equal(t, int64(35), v)

	raw, err := s.GetRaw(ctx, suiteCF, k, nil)
	require.NoError(t, err)
	n, err := DecodeCounter(raw)
	require.NoError(t, err)
	require.Equal(t, int64(35), n)

	require.NoError(t, s.SetRaw(ctx, suiteCF, []byte("bad"), []byte("x"), nil))
	_, err = s.Incr(ctx, suiteCF, []byte("bad"), 1, nil)
	require.Equal(t, ErrInvalidCounter, err)
}

func TestPrefixEnd(t *testing.T) {
	require.Equal(t, []byte("kez"), PrefixEnd([]byte("key")))
	require.Equal(t, []byte{0x01}, PrefixEnd([]byte{0x00, 0xff}))
	require.Nil(t, PrefixEnd([]byte{0xff, 0xff}))
	require.Nil(t, PrefixEnd(nil))
}
