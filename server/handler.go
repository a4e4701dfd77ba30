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
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/rpc"
	"github.com/cubefs/cubefs/blobstore/common/trace"
	blobErrors "github.com/cubefs/cubefs/blobstore/util/errors"
	"github.com/google/uuid"

	"github.com/cubefs/entitydb/catalog"
	"github.com/cubefs/entitydb/counter"
	"github.com/cubefs/entitydb/errors"
	"github.com/cubefs/entitydb/ingest"
	"github.com/cubefs/entitydb/proto"
	"github.com/cubefs/entitydb/query"
)

var kindStatus = map[errors.Kind]int{
	errors.KindNotFound:             http.StatusNotFound,
	errors.KindValidation:           http.StatusBadRequest,
	errors.KindDuplicateUniqueValue: http.StatusConflict,
	errors.KindIllegalArgument:      http.StatusBadRequest,
}

// respondError maps the error kind to a status code, store failures and
// unclassified errors are 500.
func respondError(c *rpc.Context, err error) {
	kind := errors.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
		span := trace.SpanFromContextSafe(c.Request.Context())
		span.Errorf("%s %s failed: %s", c.Request.Method, c.Request.URL.Path, blobErrors.Detail(err))
	}
	c.RespondError(rpc.NewError(status, kind.String(), err))
}

type applicationArgs struct {
	Name string `json:"name"`
}

type idResult struct {
	UUID uuid.UUID `json:"uuid"`
}

type urlResult struct {
	URL string `json:"url"`
}

func decodeBody(c *rpc.Context, v interface{}) error {
	if err := json.NewDecoder(io.LimitReader(c.Request.Body, maxBodySize)).Decode(v); err != nil {
		return errors.NewIllegalArgument("decode body: %s", err)
	}
	return nil
}

func (h *HttpServer) manager(c *rpc.Context) (*catalog.EntityManager, error) {
	appID, err := h.catalog.ResolveApplication(c.Request.Context(), c.Param.ByName("app"))
	if err != nil {
		return nil, err
	}
	return h.catalog.EntityManager(appID), nil
}

// resolveRef turns the :type and :id style params into a ref, the id is a
// uuid or a name or email of that type.
func (h *HttpServer) resolveRef(c *rpc.Context, em *catalog.EntityManager, typeParam, idParam string) (proto.EntityRef, error) {
	entityType, raw := c.Param.ByName(typeParam), c.Param.ByName(idParam)
	id, ok := proto.ParseIdentifier(raw)
	if !ok {
		return proto.EntityRef{}, errors.Wrap(errors.ErrInvalidIdentifier, "%q", raw)
	}
	return em.Resolve(c.Request.Context(), h.catalog.Registry().CollectionName(entityType), id)
}

func (h *HttpServer) entity(c *rpc.Context) (*catalog.EntityManager, proto.EntityRef, error) {
	em, err := h.manager(c)
	if err != nil {
		return nil, proto.EntityRef{}, err
	}
	ref, err := h.resolveRef(c, em, "type", "id")
	return em, ref, err
}

// parseQuery reads ql, limit, cursor, level, reversed and type.
func parseQuery(c *rpc.Context) (*query.Query, error) {
	v := c.Request.URL.Query()
	q := query.New()
	if ql := v.Get("ql"); ql != "" {
		var err error
		if q, err = query.Parse(ql); err != nil {
			return nil, err
		}
	}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > maxListNum {
			return nil, errors.NewIllegalArgument("limit %q", s)
		}
		q.WithLimit(n)
	}
	if s := v.Get("level"); s != "" {
		l, ok := proto.ParseLevel(s)
		if !ok {
			return nil, errors.NewIllegalArgument("level %q", s)
		}
		q.WithLevel(l)
	}
	if s := v.Get("reversed"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, errors.NewIllegalArgument("reversed %q", s)
		}
		q.WithReversed(b)
	}
	q.WithCursor(v.Get("cursor"))
	q.WithEntityType(v.Get("type"))
	return q, nil
}

func parseDelta(c *rpc.Context) (int64, error) {
	s := c.Request.URL.Query().Get("delta")
	if s == "" {
		return 1, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.NewIllegalArgument("delta %q", s)
	}
	return n, nil
}

func (h *HttpServer) CreateApplication(c *rpc.Context) {
	args := &applicationArgs{}
	if err := decodeBody(c, args); err != nil {
		respondError(c, err)
		return
	}
	id, err := h.catalog.CreateApplication(c.Request.Context(), args.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.RespondJSON(idResult{UUID: id})
}

func (h *HttpServer) GetApplication(c *rpc.Context) {
	ctx := c.Request.Context()
	appID, err := h.catalog.ResolveApplication(ctx, c.Param.ByName("app"))
	if err != nil {
		respondError(c, err)
		return
	}
	e, err := h.catalog.GetApplication(ctx, appID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.RespondJSON(e)
}

func (h *HttpServer) CreateEntity(c *rpc.Context) {
	em, err := h.manager(c)
	if err != nil {
		respondError(c, err)
		return
	}
	props := proto.NewProperties()
	if err = decodeBody(c, props); err != nil {
		respondError(c, err)
		return
	}
	e, err := em.Create(c.Request.Context(), c.Param.ByName("type"), props)
	if err != nil {
		respondError(c, err)
		return
	}
	c.RespondJSON(e)
}

func (h *HttpServer) GetEntity(c *rpc.Context) {
	em, ref, err := h.entity(c)
	if err != nil {
		respondError(c, err)
		return
	}
	e, err := em.GetRef(c.Request.Context(), ref)
	if err != nil {
		respondError(c, err)
		return
	}
	c.RespondJSON(e)
}

// UpdateEntity merges the body into the stored properties, null removes.
func (h *HttpServer) UpdateEntity(c *rpc.Context) {
	em, ref, err := h.entity(c)
	if err != nil {
		respondError(c, err)
		return
	}
	props := proto.NewProperties()
	if err = decodeBody(c, props); err != nil {
		respondError(c, err)
		return
	}
	ctx := c.Request.Context()
	e := proto.NewEntity(ref.UUID, ref.Type)
	e.Properties = props
	if err = em.Update(ctx, e); err != nil {
		respondError(c, err)
		return
	}
	updated, err := em.GetRef(ctx, ref)
	if err != nil {
		respondError(c, err)
		return
	}
	c.RespondJSON(updated)
}

func (h *HttpServer) DeleteEntity(c *rpc.Context) {
	em, ref, err := h.entity(c)
	if err == nil {
		err = em.Delete(c.Request.Context(), ref)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.RespondStatus(http.StatusOK)
}

// SetProperty takes a json value as body, override=true skips the json
// schema of the type.
func (h *HttpServer) SetProperty(c *rpc.Context) {
	em, ref, err := h.entity(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var v proto.Value
	if err = decodeBody(c, &v); err != nil {
		respondError(c, err)
		return
	}
	override, _ := strconv.ParseBool(c.Request.URL.Query().Get("override"))
	if err = em.SetProperty(c.Request.Context(), ref, c.Param.ByName("name"), v, override); err != nil {
		respondError(c, err)
		return
	}
	c.RespondStatus(http.StatusOK)
}

func (h *HttpServer) DeleteProperty(c *rpc.Context) {
	em, ref, err := h.entity(c)
	if err == nil {
		err = em.DeleteProperty(c.Request.Context(), ref, c.Param.ByName("name"))
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.RespondStatus(http.StatusOK)
}

func (h *HttpServer) SearchApplicationCollection(c *rpc.Context) {
	em, err := h.manager(c)
	if err != nil {
		respondError(c, err)
		return
	}
	h.searchCollection(c, em, em.ApplicationRef())
}

func (h *HttpServer) SearchCollection(c *rpc.Context) {
	em, ref, err := h.entity(c)
	if err != nil {
		respondError(c, err)
		return
	}
	h.searchCollection(c, em, ref)
}

func (h *HttpServer) searchCollection(c *rpc.Context, em *catalog.EntityManager, owner proto.EntityRef) {
	q, err := parseQuery(c)
	if err != nil {
		respondError(c, err)
		return
	}
	res, err := em.SearchCollection(c.Request.Context(), owner, c.Param.ByName("coll"), q)
	if err != nil {
		respondError(c, err)
		return
	}
	c.RespondJSON(res)
}

func (h *HttpServer) AddToCollection(c *rpc.Context) {
	em, owner, err := h.entity(c)
	if err != nil {
		respondError(c, err)
		return
	}
	item, err := h.resolveRef(c, em, "itemType", "item")
	if err != nil {
		respondError(c, err)
		return
	}
	e, err := em.AddToCollection(c.Request.Context(), owner, c.Param.ByName("coll"), item)
	if err != nil {
		respondError(c, err)
		return
	}
	c.RespondJSON(e)
}

func (h *HttpServer) RemoveFromCollection(c *rpc.Context) {
	em, owner, err := h.entity(c)
	if err != nil {
		respondError(c, err)
		return
	}
	item, err := h.resolveRef(c, em, "itemType", "item")
	if err == nil {
		err = em.RemoveFromCollection(c.Request.Context(), owner, c.Param.ByName("coll"), item)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.RespondStatus(http.StatusOK)
}

func (h *HttpServer) GetConnectionTypes(c *rpc.Context) {
	em, ref, err := h.entity(c)
	if err != nil {
		respondError(c, err)
		return
	}
	ctx := c.Request.Context()
	connected, err := em.GetConnectionTypes(ctx, ref)
	if err != nil {
		respondError(c, err)
		return
	}
	connecting, err := em.GetConnectingTypes(ctx, ref)
	if err != nil {
		respondError(c, err)
		return
	}
	c.RespondJSON(map[string][]string{"connections": connected, "connecting": connecting})
}

func (h *HttpServer) SearchConnected(c *rpc.Context) {
	h.searchConnections(c, true)
}

func (h *HttpServer) SearchConnecting(c *rpc.Context) {
	h.searchConnections(c, false)
}

// searchConnections treats the connection type "*" as every type.
func (h *HttpServer) searchConnections(c *rpc.Context, outgoing bool) {
	em, ref, err := h.entity(c)
	if err != nil {
		respondError(c, err)
		return
	}
	q, err := parseQuery(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if ctype := c.Param.ByName("ctype"); ctype != "*" {
		q.WithConnectionType(ctype)
	}
	var res *proto.Results
	if outgoing {
		res, err = em.SearchConnectedEntities(c.Request.Context(), ref, q)
	} else {
		res, err = em.SearchConnectingEntities(c.Request.Context(), ref, q)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.RespondJSON(res)
}

func (h *HttpServer) CreateConnection(c *rpc.Context) {
	em, from, err := h.entity(c)
	if err != nil {
		respondError(c, err)
		return
	}
	to, err := h.resolveRef(c, em, "itemType", "item")
	if err != nil {
		respondError(c, err)
		return
	}
	ref, err := em.CreateConnection(c.Request.Context(), from, c.Param.ByName("ctype"), to)
	if err != nil {
		respondError(c, err)
		return
	}
	c.RespondJSON(ref)
}

func (h *HttpServer) DeleteConnection(c *rpc.Context) {
	em, from, err := h.entity(c)
	if err != nil {
		respondError(c, err)
		return
	}
	// the target may already be deleted, so a uuid is taken as is
	var to proto.EntityRef
	if id, perr := uuid.Parse(c.Param.ByName("item")); perr == nil {
		to = proto.NewRef(c.Param.ByName("itemType"), id)
	} else if to, err = h.resolveRef(c, em, "itemType", "item"); err != nil {
		respondError(c, err)
		return
	}
	if err = em.DeleteConnection(c.Request.Context(), from, c.Param.ByName("ctype"), to); err != nil {
		respondError(c, err)
		return
	}
	c.RespondStatus(http.StatusOK)
}

func (h *HttpServer) GetDictionary(c *rpc.Context) {
	em, ref, err := h.entity(c)
	if err != nil {
		respondError(c, err)
		return
	}
	m, err := em.GetDictionaryAsMap(c.Request.Context(), ref, c.Param.ByName("dict"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.RespondJSON(m)
}

// AddToDictionary stores the json body as the value of :key, an empty
// body stores a null value.
func (h *HttpServer) AddToDictionary(c *rpc.Context) {
	em, ref, err := h.entity(c)
	if err != nil {
		respondError(c, err)
		return
	}
	v := proto.Null()
	if c.Request.ContentLength != 0 {
		if err = decodeBody(c, &v); err != nil {
			respondError(c, err)
			return
		}
	}
	if err = em.AddToDictionary(c.Request.Context(), ref, c.Param.ByName("dict"), c.Param.ByName("key"), v); err != nil {
		respondError(c, err)
		return
	}
	c.RespondStatus(http.StatusOK)
}

func (h *HttpServer) RemoveFromDictionary(c *rpc.Context) {
	em, ref, err := h.entity(c)
	if err == nil {
		err = em.RemoveFromDictionary(c.Request.Context(), ref, c.Param.ByName("dict"), c.Param.ByName("key"))
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.RespondStatus(http.StatusOK)
}

func (h *HttpServer) GetApplicationCounters(c *rpc.Context) {
	em, err := h.manager(c)
	if err != nil {
		respondError(c, err)
		return
	}
	counters, err := em.GetApplicationCounters(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.RespondJSON(counters)
}

func (h *HttpServer) IncrementApplicationCounter(c *rpc.Context) {
	em, err := h.manager(c)
	if err != nil {
		respondError(c, err)
		return
	}
	delta, err := parseDelta(c)
	if err != nil {
		respondError(c, err)
		return
	}
	n, err := em.IncrementApplicationCounter(c.Request.Context(), c.Param.ByName("name"), delta)
	if err != nil {
		respondError(c, err)
		return
	}
	c.RespondJSON(map[string]int64{c.Param.ByName("name"): n})
}

func (h *HttpServer) GetEntityCounters(c *rpc.Context) {
	em, ref, err := h.entity(c)
	if err != nil {
		respondError(c, err)
		return
	}
	counters, err := em.GetEntityCounters(c.Request.Context(), ref)
	if err != nil {
		respondError(c, err)
		return
	}
	c.RespondJSON(counters)
}

func (h *HttpServer) IncrementEntityCounter(c *rpc.Context) {
	em, ref, err := h.entity(c)
	if err != nil {
		respondError(c, err)
		return
	}
	delta, err := parseDelta(c)
	if err != nil {
		respondError(c, err)
		return
	}
	n, err := em.IncrementEntityCounter(c.Request.Context(), ref, c.Param.ByName("name"), delta)
	if err != nil {
		respondError(c, err)
		return
	}
	c.RespondJSON(map[string]int64{c.Param.ByName("name"): n})
}

func (h *HttpServer) IncrementAggregateCounters(c *rpc.Context) {
	em, err := h.manager(c)
	if err != nil {
		respondError(c, err)
		return
	}
	args := &ingest.CounterEnvelope{}
	if err = decodeBody(c, args); err != nil {
		respondError(c, err)
		return
	}
	key, err := args.Key()
	if err == nil {
		err = em.IncrementAggregateCounters(c.Request.Context(), key, args.Timestamp, args.Delta)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.RespondStatus(http.StatusOK)
}

// GetAggregateCounters reads name, user, group, queue, category,
// resolution, start, finish and pad from the query string. Start and
// finish are unix millis, finish defaults to now.
func (h *HttpServer) GetAggregateCounters(c *rpc.Context) {
	em, err := h.manager(c)
	if err != nil {
		respondError(c, err)
		return
	}
	v := c.Request.URL.Query()
	args := &ingest.CounterEnvelope{
		Name: v.Get("name"), User: v.Get("user"), Group: v.Get("group"),
		Queue: v.Get("queue"), Category: v.Get("category"),
	}
	key, err := args.Key()
	if err != nil {
		respondError(c, err)
		return
	}
	res := counter.All
	if s := v.Get("resolution"); s != "" {
		var ok bool
		if res, ok = counter.ParseResolution(s); !ok {
			respondError(c, errors.NewIllegalArgument("resolution %q", s))
			return
		}
	}
	var start, finish int64
	finish = time.Now().UnixMilli()
	for name, p := range map[string]*int64{"start": &start, "finish": &finish} {
		if s := v.Get(name); s != "" {
			if *p, err = strconv.ParseInt(s, 10, 64); err != nil {
				respondError(c, errors.NewIllegalArgument("%s %q", name, s))
				return
			}
		}
	}
	pad, _ := strconv.ParseBool(v.Get("pad"))
	set, err := em.GetAggregateCounters(c.Request.Context(), key, res, start, finish, pad)
	if err != nil {
		respondError(c, err)
		return
	}
	c.RespondJSON(set)
}

func (h *HttpServer) GetAggregateCounterNames(c *rpc.Context) {
	em, err := h.manager(c)
	if err != nil {
		respondError(c, err)
		return
	}
	names, err := em.GetAggregateCounterNames(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.RespondJSON(names)
}

func (h *HttpServer) SetAssetContent(c *rpc.Context) {
	em, ref, err := h.entity(c)
	if err != nil {
		respondError(c, err)
		return
	}
	contentType := c.Request.Header.Get("Content-Type")
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	e, err := em.SetAssetContent(c.Request.Context(), ref, c.Request.Body, contentType)
	if err != nil {
		respondError(c, err)
		return
	}
	c.RespondJSON(e)
}

func (h *HttpServer) GetAssetContent(c *rpc.Context) {
	em, ref, err := h.entity(c)
	if err != nil {
		respondError(c, err)
		return
	}
	ctx := c.Request.Context()
	e, err := em.GetRef(ctx, ref)
	if err != nil {
		respondError(c, err)
		return
	}
	rc, err := em.GetAssetContent(ctx, ref)
	if err != nil {
		respondError(c, err)
		return
	}
	defer rc.Close()

	if v, ok := e.Properties.Get(catalog.PropertyContentType); ok {
		if s, ok := v.AsString(); ok {
			c.Writer.Header().Set("Content-Type", s)
		}
	}
	if v, ok := e.Properties.Get(catalog.PropertyEtag); ok {
		if s, ok := v.AsString(); ok {
			c.Writer.Header().Set("ETag", strconv.Quote(s))
		}
	}
	c.Writer.WriteHeader(http.StatusOK)
	if _, err = io.Copy(c.Writer, rc); err != nil {
		trace.SpanFromContextSafe(ctx).Warnf("stream asset of %s: %s", ref, err)
	}
}

// GetAssetURL presigns a download, ttl is in seconds.
func (h *HttpServer) GetAssetURL(c *rpc.Context) {
	em, ref, err := h.entity(c)
	if err != nil {
		respondError(c, err)
		return
	}
	ttl := h.cfg.ObjectStoreConfig.PresignTTL()
	if s := c.Request.URL.Query().Get("ttl"); s != "" {
		sec, perr := strconv.Atoi(s)
		if perr != nil || sec <= 0 {
			respondError(c, errors.NewIllegalArgument("ttl %q", s))
			return
		}
		ttl = time.Duration(sec) * time.Second
	}
	url, err := em.GetAssetURL(c.Request.Context(), ref, ttl)
	if err != nil {
		respondError(c, err)
		return
	}
	c.RespondJSON(urlResult{URL: url})
}
