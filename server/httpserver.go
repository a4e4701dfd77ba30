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
	"context"
	"net/http"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/profile"
	"github.com/cubefs/cubefs/blobstore/common/rpc"
	"github.com/cubefs/cubefs/blobstore/util/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cubefs/entitydb/metrics"
)

const (
	defaultShutdownTimeoutS      = 10
	defaultReadRequestTimeoutS   = 30
	defaultWriteResponseTimeoutS = 30
)

type HttpServer struct {
	httpServer *http.Server

	*Server
}

func NewHttpServer(server *Server) *HttpServer {
	return &HttpServer{Server: server}
}

func (h *HttpServer) Serve(addr string) {
	ph := profile.NewProfileHandler(addr)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      rpc.MiddlewareHandlerWith(h.Handler(), ph),
		ReadTimeout:  defaultReadRequestTimeoutS * time.Second,
		WriteTimeout: defaultWriteResponseTimeoutS * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server exits:", err)
		}
	}()
	h.httpServer = httpServer

	log.Info("http server is running at:", addr)
}

func (h *HttpServer) Stop() {
	if h.httpServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeoutS*time.Second)
	defer cancel()

	if err := h.httpServer.Shutdown(ctx); err != nil {
		log.Warnf("http server shutdown: %s", err)
	}
}

// Handler routes the entity api. Applications are addressed by name or
// uuid, entities by uuid or by the name their type resolves.
func (h *HttpServer) Handler() *rpc.Router {
	r := rpc.New()
	const (
		app    = "/apps/:app"
		entity = app + "/entities/:type/:id"
	)

	r.Handle(http.MethodGet, "/stats", h.Stats)
	r.Handle(http.MethodGet, "/metrics", func(c *rpc.Context) {
		promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}).ServeHTTP(c.Writer, c.Request)
	})

	r.Handle(http.MethodPost, "/apps", h.CreateApplication)
	r.Handle(http.MethodGet, app, h.GetApplication)
	r.Handle(http.MethodGet, app+"/collections/:coll", h.SearchApplicationCollection, rpc.OptArgsQuery())
	r.Handle(http.MethodGet, app+"/counters", h.GetApplicationCounters)
	r.Handle(http.MethodPost, app+"/counters/:name", h.IncrementApplicationCounter, rpc.OptArgsQuery())
	r.Handle(http.MethodGet, app+"/aggregates", h.GetAggregateCounters, rpc.OptArgsQuery())
	r.Handle(http.MethodPost, app+"/aggregates", h.IncrementAggregateCounters, rpc.OptArgsBody())
	r.Handle(http.MethodGet, app+"/aggregates/names", h.GetAggregateCounterNames)

	r.Handle(http.MethodPost, app+"/entities/:type", h.CreateEntity, rpc.OptArgsBody())
	r.Handle(http.MethodGet, entity, h.GetEntity)
	r.Handle(http.MethodPut, entity, h.UpdateEntity, rpc.OptArgsBody())
	r.Handle(http.MethodDelete, entity, h.DeleteEntity)
	r.Handle(http.MethodPut, entity+"/properties/:name", h.SetProperty, rpc.OptArgsBody())
	r.Handle(http.MethodDelete, entity+"/properties/:name", h.DeleteProperty)

	r.Handle(http.MethodGet, entity+"/collections/:coll", h.SearchCollection, rpc.OptArgsQuery())
	r.Handle(http.MethodPost, entity+"/collections/:coll/:itemType/:item", h.AddToCollection)
	r.Handle(http.MethodDelete, entity+"/collections/:coll/:itemType/:item", h.RemoveFromCollection)

	r.Handle(http.MethodGet, entity+"/connections", h.GetConnectionTypes)
	r.Handle(http.MethodGet, entity+"/connections/:ctype", h.SearchConnected, rpc.OptArgsQuery())
	r.Handle(http.MethodGet, entity+"/connecting/:ctype", h.SearchConnecting, rpc.OptArgsQuery())
	r.Handle(http.MethodPost, entity+"/connections/:ctype/:itemType/:item", h.CreateConnection)
	r.Handle(http.MethodDelete, entity+"/connections/:ctype/:itemType/:item", h.DeleteConnection)

	r.Handle(http.MethodGet, entity+"/dictionaries/:dict", h.GetDictionary)
	r.Handle(http.MethodPut, entity+"/dictionaries/:dict/:key", h.AddToDictionary, rpc.OptArgsBody())
	r.Handle(http.MethodDelete, entity+"/dictionaries/:dict/:key", h.RemoveFromDictionary)

	r.Handle(http.MethodGet, entity+"/counters", h.GetEntityCounters)
	r.Handle(http.MethodPost, entity+"/counters/:name", h.IncrementEntityCounter, rpc.OptArgsQuery())

	r.Handle(http.MethodPut, entity+"/asset", h.SetAssetContent)
	r.Handle(http.MethodGet, entity+"/asset", h.GetAssetContent)
	r.Handle(http.MethodGet, entity+"/asset/url", h.GetAssetURL, rpc.OptArgsQuery())
	return r
}

func (h *HttpServer) Stats(c *rpc.Context) {
	c.RespondJSON(h.limiter.Status())
}
