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

package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/log"
	"github.com/nats-io/nats.go"
)

const (
	defaultSubject         = "entitydb.ingest"
	defaultQueueGroup      = "entitydb"
	defaultClientName      = "entitydb-ingest"
	defaultMaxReconnects   = -1
	defaultReconnectWaitMs = 2000
	defaultHandleTimeoutMs = 30000
)

// traceHeader carries the trace id of the publisher when present.
const traceHeader = "X-Trace-Id"

type Config struct {
	URL             string `json:"url"`
	Subject         string `json:"subject"`
	QueueGroup      string `json:"queue_group"`
	ClientName      string `json:"client_name"`
	Token           string `json:"token"`
	MaxReconnects   int    `json:"max_reconnects"`
	ReconnectWaitMs int    `json:"reconnect_wait_ms"`
	HandleTimeoutMs int    `json:"handle_timeout_ms"`
}

// Enabled reports whether a server is configured at all.
func (c *Config) Enabled() bool { return c.URL != "" }

func (c *Config) checkAndFix() {
	if c.Subject == "" {
		c.Subject = defaultSubject
	}
	if c.QueueGroup == "" {
		c.QueueGroup = defaultQueueGroup
	}
	if c.ClientName == "" {
		c.ClientName = defaultClientName
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = defaultMaxReconnects
	}
	if c.ReconnectWaitMs <= 0 {
		c.ReconnectWaitMs = defaultReconnectWaitMs
	}
	if c.HandleTimeoutMs <= 0 {
		c.HandleTimeoutMs = defaultHandleTimeoutMs
	}
}

// Consumer feeds a queue subscription into a Handler. Members of the queue
// group share the subject, every envelope reaches one of them.
type Consumer struct {
	cfg     Config
	handler *Handler

	lock sync.Mutex
	conn *nats.Conn
	sub  *nats.Subscription
}

func NewConsumer(cfg Config, h *Handler) *Consumer {
	cfg.checkAndFix()
	return &Consumer{cfg: cfg, handler: h}
}

func (c *Consumer) options() []nats.Option {
	opts := []nats.Option{
		nats.Name(c.cfg.ClientName),
		nats.MaxReconnects(c.cfg.MaxReconnects),
		nats.ReconnectWait(time.Duration(c.cfg.ReconnectWaitMs) * time.Millisecond),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("ingest disconnected: %s", err)
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			log.Infof("ingest reconnected to %s", conn.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			if sub == nil {
				log.Errorf("ingest connection error: %s", err)
				return
			}
			log.Errorf("ingest subscription %s error: %s", sub.Subject, err)
		}),
	}
	if c.cfg.Token != "" {
		opts = append(opts, nats.Token(c.cfg.Token))
	}
	return opts
}

// Start connects and subscribes, envelopes are handled until Close.
func (c *Consumer) Start(ctx context.Context) error {
	span := trace.SpanFromContextSafe(ctx)
	conn, err := nats.Connect(c.cfg.URL, c.options()...)
	if err != nil {
		return err
	}
	sub, err := conn.QueueSubscribe(c.cfg.Subject, c.cfg.QueueGroup, c.onMessage)
	if err != nil {
		conn.Close()
		return err
	}
	c.lock.Lock()
	c.conn, c.sub = conn, sub
	c.lock.Unlock()
	span.Infof("ingest subscribed to %s as %s on %s", c.cfg.Subject, c.cfg.QueueGroup, conn.ConnectedUrl())
	return nil
}

func (c *Consumer) onMessage(msg *nats.Msg) {
	traceID := ""
	if msg.Header != nil {
		traceID = msg.Header.Get(traceHeader)
	}
	ctx := context.Background()
	if traceID != "" {
		_, ctx = trace.StartSpanFromContextWithTraceID(ctx, "ingest", traceID)
	} else {
		_, ctx = trace.StartSpanFromContext(ctx, "ingest")
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.HandleTimeoutMs)*time.Millisecond)
	defer cancel()

	// errors are logged and counted by the handler
	_ = c.handler.Handle(ctx, msg.Data)
}

// Close drains the subscription so in flight envelopes finish.
func (c *Consumer) Close() {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.conn == nil {
		return
	}
	if err := c.conn.Drain(); err != nil {
		log.Warnf("drain ingest connection: %s", err)
		c.conn.Close()
	}
	c.conn, c.sub = nil, nil
}
