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

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"

	"github.com/cubefs/cubefs/blobstore/common/config"
	"github.com/cubefs/cubefs/blobstore/common/profile"
	"github.com/cubefs/cubefs/blobstore/common/rpc"
	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"
	"github.com/cubefs/cubefs/blobstore/util/log"
	_ "github.com/cubefs/cubefs/blobstore/util/version"

	"github.com/cubefs/entitydb/server"
)

const (
	defaultHttpBindPort = 9500
	defaultGrpcBindPort = 9510
)

// Config service config
type Config struct {
	server.Config

	HttpBindPort  uint32    `json:"http_bind_port"`
	GrpcBindPort  uint32    `json:"grpc_bind_port"`
	MaxProcessors int       `json:"max_processors"`
	LogLevel      log.Level `json:"log_level"`
}

func main() {
	config.Init("f", "", "entitydb.json")

	cfg := &Config{}
	if err := config.Load(cfg); err != nil {
		log.Fatal(errors.Detail(err))
	}

	initConfig(cfg)
	registerLogLevel()
	modifyOpenFiles()
	log.SetOutputLevel(cfg.LogLevel)

	_, ctx := trace.StartSpanFromContext(context.Background(), "startup")
	srv, err := server.NewServer(ctx, &cfg.Config)
	if err != nil {
		log.Fatal(errors.Detail(err))
	}

	httpServer := server.NewHttpServer(srv)
	httpServer.Serve(":" + strconv.Itoa(int(cfg.HttpBindPort)))

	grpcServer := server.NewRPCServer(srv)
	if err = grpcServer.Serve(":" + strconv.Itoa(int(cfg.GrpcBindPort))); err != nil {
		log.Fatal(errors.Detail(err))
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
	<-ch

	grpcServer.Stop()
	httpServer.Stop()
	srv.Close()
}

func registerLogLevel() {
	logLevelPath, logLevelHandler := log.ChangeDefaultLevelHandler()
	profile.HandleFunc(http.MethodPost, logLevelPath, func(c *rpc.Context) {
		logLevelHandler.ServeHTTP(c.Writer, c.Request)
	})
	profile.HandleFunc(http.MethodGet, logLevelPath, func(c *rpc.Context) {
		logLevelHandler.ServeHTTP(c.Writer, c.Request)
	})
}

// modifyOpenFiles raises the fd limit, rocksdb keeps many sst files open.
func modifyOpenFiles() {
	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		log.Fatalf("getting rlimit failed: %s", err)
	}
	if rLimit.Cur >= 102400 && rLimit.Max >= 102400 {
		return
	}

	rLimit.Cur, rLimit.Max = 1024000, 1024000
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		log.Warnf("setting rlimit failed: %s", err)
		return
	}
	log.Info("system limit: ", rLimit)
}

func initConfig(cfg *Config) {
	if cfg.HttpBindPort == 0 {
		cfg.HttpBindPort = defaultHttpBindPort
	}
	if cfg.GrpcBindPort == 0 {
		cfg.GrpcBindPort = defaultGrpcBindPort
	}
	if cfg.HttpBindPort == cfg.GrpcBindPort {
		log.Fatalf("http and grpc ports must differ, both are %d", cfg.HttpBindPort)
	}
	if cfg.MaxProcessors > 0 {
		runtime.GOMAXPROCS(cfg.MaxProcessors)
	}
}
