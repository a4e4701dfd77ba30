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

// Package client probes an entitydb grpc endpoint.
package client

import (
	"context"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"

	"github.com/cubefs/entitydb/proto"
)

// ServiceName is the health check name the server registers.
const ServiceName = "entitydb"

type Client struct {
	healthpb.HealthClient
	conn *grpc.ClientConn
}

func NewClient(address string) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithKeepaliveParams(
			keepalive.ClientParameters{
				Time:                10 * time.Second,
				Timeout:             5 * time.Second,
				PermitWithoutStream: true,
			},
		),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}

	conn, err := grpc.Dial(address, dialOpts...)
	if err != nil {
		return nil, err
	}
	return &Client{HealthClient: healthpb.NewHealthClient(conn), conn: conn}, nil
}

// Serving reports whether the entity service answers SERVING. Every call
// carries a request id the server picks up as its trace id.
func (c *Client) Serving(ctx context.Context) (bool, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, proto.ReqIdKey, uuid.NewString())
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return false, err
	}
	return resp.Status == healthpb.HealthCheckResponse_SERVING, nil
}

func (c *Client) Address() string {
	return c.conn.Target()
}

func (c *Client) Close() error {
	return c.conn.Close()
}
