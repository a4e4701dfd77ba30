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
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/cubefs/entitydb/metrics"
	"github.com/cubefs/entitydb/proto"
)

// serviceName is the health check name of the entity service.
const serviceName = "entitydb"

var auditLogPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// RPCServer serves grpc health checks behind tracing, prometheus and audit
// interceptors.
type RPCServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	addr       net.Addr

	*Server
}

func NewRPCServer(server *Server) *RPCServer {
	rs := &RPCServer{Server: server, health: health.NewServer()}

	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			rs.unaryInterceptorWithTracer,
			metrics.GRPCMetrics.UnaryServerInterceptor(),
			rs.unaryInterceptorWithAuditLog,
		),
		grpc.ChainStreamInterceptor(metrics.GRPCMetrics.StreamServerInterceptor()),
	)
	healthpb.RegisterHealthServer(s, rs.health)
	metrics.GRPCMetrics.InitializeMetrics(s)
	rs.grpcServer = s
	return rs
}

// Serve listens on addr in the background and marks the service serving.
func (r *RPCServer) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	r.addr = lis.Addr()
	r.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	go func() {
		if err := r.grpcServer.Serve(lis); err != nil {
			log.Fatal("grpc server exits:", err)
		}
	}()
	log.Info("grpc server is running at:", r.addr)
	return nil
}

// Addr is the bound listen address once serving.
func (r *RPCServer) Addr() net.Addr { return r.addr }

func (r *RPCServer) Stop() {
	r.health.Shutdown()
	r.grpcServer.GracefulStop()
}

func (r *RPCServer) unaryInterceptorWithTracer(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok && len(md[proto.ReqIdKey]) > 0 {
		_, ctx = trace.StartSpanFromContextWithTraceID(ctx, info.FullMethod, md[proto.ReqIdKey][0])
	} else {
		_, ctx = trace.StartSpanFromContext(ctx, info.FullMethod)
	}
	return handler(ctx, req)
}

// unaryInterceptorWithAuditLog writes method, code and millis, tab
// separated, for every call.
func (r *RPCServer) unaryInterceptorWithAuditLog(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
	start := time.Now()
	resp, err = handler(ctx, req)

	bw := auditLogPool.Get().(*bytes.Buffer)
	defer auditLogPool.Put(bw)
	bw.Reset()
	bw.WriteString(info.FullMethod)
	bw.WriteByte('\t')
	bw.WriteString(status.Code(err).String())
	bw.WriteByte('\t')
	bw.WriteString(strconv.FormatInt(int64(time.Since(start)/time.Millisecond), 10))
	trace.SpanFromContextSafe(ctx).Info(bw.String())
	return
}
