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

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/cubefs/cubefs/blobstore/common/rpc"
	"github.com/stretchr/testify/require"

	"github.com/cubefs/entitydb/common/kvstore"
	"github.com/cubefs/entitydb/objectstore"
	"github.com/cubefs/entitydb/proto"
	"github.com/cubefs/entitydb/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	s, err := NewServer(context.Background(), &Config{
		StoreConfig:       store.Config{Path: t.TempDir(), KVType: kvstore.MemoryLsmKVType},
		ObjectStoreConfig: objectstore.Config{Type: objectstore.TypeMemory},
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	ts := httptest.NewServer(rpc.MiddlewareHandlerWith(NewHttpServer(s).Handler()))
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, u string, body string, out interface{}) int {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, u, r)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func search(t *testing.T, u string) *proto.Results {
	res := &proto.Results{}
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, u, "", res))
	return res
}

func username(e *proto.Entity) string {
	v, _ := e.Properties.Get("username")
	s, _ := v.AsString()
	return s
}

func TestHttpEntityLifecycle(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, ts.URL+"/apps", `{"name":"web"}`, nil))
	require.Equal(t, http.StatusConflict, do(t, http.MethodPost, ts.URL+"/apps", `{"name":"web"}`, nil))

	app := &proto.Entity{}
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/apps/web", "", app))
	require.Equal(t, "web", app.Name())

	base := ts.URL + "/apps/web"
	user := &proto.Entity{}
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, base+"/entities/user",
		`{"username":"alice","email":"alice@example.com","age":30}`, user))
	require.Equal(t, "user", user.Type)

	got := &proto.Entity{}
	for _, id := range []string{user.UUID.String(), "alice", "alice@example.com"} {
		require.Equal(t, http.StatusOK, do(t, http.MethodGet, base+"/entities/user/"+id, "", got))
		require.Equal(t, user.UUID, got.UUID)
	}
	require.Equal(t, http.StatusNotFound, do(t, http.MethodGet, base+"/entities/user/bob", "", nil))
	require.Equal(t, http.StatusBadRequest, do(t, http.MethodGet, base+"/entities/user/bad!id", "", nil))
	require.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, base+"/entities/user", `{"age":3}`, nil))

	require.Equal(t, http.StatusOK, do(t, http.MethodPut, base+"/entities/user/alice", `{"age":31,"city":"oslo"}`, got))
	v, ok := got.Properties.Get("city")
	require.True(t, ok)
	require.True(t, v.Equal(proto.String("oslo")))

	require.Equal(t, http.StatusOK, do(t, http.MethodPut, base+"/entities/user/alice/properties/nick", `"al"`, nil))
	require.Equal(t, http.StatusOK, do(t, http.MethodDelete, base+"/entities/user/alice/properties/city", "", nil))
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, base+"/entities/user/alice", "", got))
	require.True(t, got.Properties.Has("nick"))
	require.False(t, got.Properties.Has("city"))

	require.Equal(t, http.StatusOK, do(t, http.MethodDelete, base+"/entities/user/alice", "", nil))
	require.Equal(t, http.StatusNotFound, do(t, http.MethodGet, base+"/entities/user/"+user.UUID.String(), "", nil))
	require.Equal(t, http.StatusNotFound, do(t, http.MethodGet, ts.URL+"/apps/missing/entities/user/alice", "", nil))
}

func TestHttpSearchAndRelations(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, ts.URL+"/apps", `{"name":"web"}`, nil))
	base := ts.URL + "/apps/web"

	for _, name := range []string{"carol", "alice", "bob"} {
		require.Equal(t, http.StatusOK, do(t, http.MethodPost, base+"/entities/user", `{"username":"`+name+`"}`, nil))
	}
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, base+"/entities/group", `{"path":"admins"}`, nil))

	q := url.Values{"ql": {"select * order by username"}, "limit": {"2"}}
	res := search(t, base+"/collections/users?"+q.Encode())
	require.Len(t, res.Entities, 2)
	require.Equal(t, "alice", username(res.Entities[0]))
	require.NotEmpty(t, res.Cursor)

	q.Set("cursor", res.Cursor)
	res = search(t, base+"/collections/users?"+q.Encode())
	require.Len(t, res.Entities, 1)
	require.Equal(t, "carol", username(res.Entities[0]))
	require.Empty(t, res.Cursor)

	require.Equal(t, http.StatusBadRequest, do(t, http.MethodGet, base+"/collections/users?limit=0", "", nil))
	require.Equal(t, http.StatusBadRequest, do(t, http.MethodGet, base+"/collections/users?ql="+url.QueryEscape("select * order username"), "", nil))

	group := base + "/entities/group/admins"
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, group+"/collections/users/user/alice", "", nil))
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, group+"/collections/users/user/bob", "", nil))
	require.Len(t, search(t, group+"/collections/users").Entities, 2)
	require.Equal(t, http.StatusOK, do(t, http.MethodDelete, group+"/collections/users/user/bob", "", nil))
	require.Len(t, search(t, group+"/collections/users").Entities, 1)

	alice := base + "/entities/user/alice"
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, alice+"/connections/likes/user/carol", "", nil))
	res = search(t, alice+"/connections/likes")
	require.Len(t, res.Entities, 1)
	require.Equal(t, "carol", username(res.Entities[0]))
	res = search(t, base+"/entities/user/carol/connecting/*")
	require.Len(t, res.Entities, 1)
	require.Equal(t, "alice", username(res.Entities[0]))

	types := map[string][]string{}
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, alice+"/connections", "", &types))
	require.Equal(t, []string{"likes"}, types["connections"])

	require.Equal(t, http.StatusOK, do(t, http.MethodDelete, alice+"/connections/likes/user/carol", "", nil))
	require.Empty(t, search(t, alice+"/connections/likes").Entities)
}

func TestHttpDictionariesAndCounters(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, ts.URL+"/apps", `{"name":"web"}`, nil))
	base := ts.URL + "/apps/web"
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, base+"/entities/user", `{"username":"alice"}`, nil))
	alice := base + "/entities/user/alice"

	require.Equal(t, http.StatusOK, do(t, http.MethodPut, alice+"/dictionaries/tags/red", `{"shade":1}`, nil))
	require.Equal(t, http.StatusOK, do(t, http.MethodPut, alice+"/dictionaries/tags/blue", "", nil))
	dict := map[string]proto.Value{}
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, alice+"/dictionaries/tags", "", &dict))
	require.Len(t, dict, 2)
	require.True(t, dict["blue"].IsNull())
	require.Equal(t, http.StatusOK, do(t, http.MethodDelete, alice+"/dictionaries/tags/red", "", nil))
	dict = map[string]proto.Value{}
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, alice+"/dictionaries/tags", "", &dict))
	require.Len(t, dict, 1)

	counters := map[string]int64{}
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, alice+"/counters/visits?delta=3", "", &counters))
	require.Equal(t, int64(3), counters["visits"])
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, alice+"/counters/visits", "", &counters))
	require.Equal(t, int64(4), counters["visits"])
	require.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, alice+"/counters/visits?delta=x", "", nil))

	require.Equal(t, http.StatusOK, do(t, http.MethodPost, base+"/counters/signups?delta=2", "", nil))
	counters = map[string]int64{}
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, base+"/counters", "", &counters))
	require.Equal(t, int64(2), counters["signups"])

	body := `{"name":"logins","category":"web","timestamp":1700000000000,"delta":5}`
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, base+"/aggregates", body, nil))
	require.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, base+"/aggregates", `{"delta":1}`, nil))

	set := &proto.AggregateCounterSet{}
	q := url.Values{"name": {"logins"}, "category": {"web"}, "resolution": {"all"}, "start": {"0"}, "finish": {"1700000000001"}}
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, base+"/aggregates?"+q.Encode(), "", set))
	require.Len(t, set.Values, 1)
	require.Equal(t, int64(5), set.Values[0].Value)
	q.Set("resolution", "fortnight")
	require.Equal(t, http.StatusBadRequest, do(t, http.MethodGet, base+"/aggregates?"+q.Encode(), "", nil))

	var names []string
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, base+"/aggregates/names", "", &names))
	require.Equal(t, []string{"logins"}, names)
}

func TestHttpAsset(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, ts.URL+"/apps", `{"name":"web"}`, nil))
	base := ts.URL + "/apps/web"
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, base+"/entities/note", `{"name":"readme"}`, nil))
	note := base + "/entities/note/readme"

	require.Equal(t, http.StatusNotFound, do(t, http.MethodGet, note+"/asset", "", nil))

	content := []byte("hello asset")
	req, err := http.NewRequest(http.MethodPut, note+"/asset", bytes.NewReader(content))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(note + "/asset")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	require.NotEmpty(t, resp.Header.Get("ETag"))
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, content, got)

	require.Equal(t, http.StatusBadRequest, do(t, http.MethodGet, note+"/asset/url?ttl=-1", "", nil))
}

func TestHttpStatsAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/stats", "", nil))

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(raw), "entitydb_")
}

func TestConfigCheckAndFix(t *testing.T) {
	cfg := &Config{}
	cfg.checkAndFix()
	require.Equal(t, "./run/store", cfg.StoreConfig.Path)
	require.Equal(t, maxListNum, cfg.CatalogConfig.MaxPageSize)
}
