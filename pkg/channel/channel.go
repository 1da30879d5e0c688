// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/frostbyte73/core"
	"github.com/gammazero/workerpool"
	"github.com/gorilla/websocket"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/handler-worker/pkg/rtc/types"
	"github.com/livekit/handler-worker/pkg/utils"
)

const (
	pingFrequency = 10 * time.Second
	pingTimeout   = 2 * time.Second

	DefaultMaxConcurrentRequests = 16
)

// MessageHandler consumes messages read off a Channel.
type MessageHandler interface {
	// HandleRequest runs on a request pool, concurrently with other requests.
	HandleRequest(ctx context.Context, req *Request) (interface{}, error)
	// HandleNotification runs on the read loop, in arrival order.
	HandleNotification(ctx context.Context, n *Notification) error
}

// Channel is the JSON message link to the orchestrator.
type Channel struct {
	conn   types.WebsocketClient
	logger logger.Logger

	mu        sync.Mutex
	closed    core.Fuse
	closeOnce sync.Once

	requests *workerpool.WorkerPool
}

func NewChannel(conn types.WebsocketClient, lgr logger.Logger, maxConcurrentRequests int) *Channel {
	if lgr == nil {
		lgr = logger.GetLogger()
	}
	if maxConcurrentRequests <= 0 {
		maxConcurrentRequests = DefaultMaxConcurrentRequests
	}
	c := &Channel{
		conn:     conn,
		logger:   lgr,
		requests: workerpool.New(maxConcurrentRequests),
	}
	go c.pingWorker()
	return c
}

func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Break()
		err = c.conn.Close()
	})
	return err
}

func (c *Channel) IsClosed() bool {
	return c.closed.IsBroken()
}

// Notify sends an event about targetID. It is safe for concurrent use.
func (c *Channel) Notify(targetID string, event string, data interface{}) error {
	return c.write(&OutboundNotification{
		TargetID: targetID,
		Event:    event,
		Data:     data,
	})
}

func (c *Channel) respond(req *Request, data interface{}, err error) {
	res := &Response{ID: req.ID}
	if err != nil {
		res.Error = ErrorName(err)
		res.Reason = err.Error()
	} else {
		res.Accepted = true
		res.Data = data
	}

	if werr := c.write(res); werr != nil && !errors.Is(werr, ErrChannelClosed) {
		c.logger.Warnw("could not write response", werr, "id", req.ID, "method", req.Method)
	}
}

func (c *Channel) write(msg interface{}) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.IsBroken() {
		return ErrChannelClosed
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Serve reads messages until the connection goes away or ctx is done.
// In-flight requests are completed before it returns.
func (c *Channel) Serve(ctx context.Context, h MessageHandler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-c.closed.Watch():
		}
	}()

	defer c.requests.StopWait()

	for {
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.IsBroken() || IsWebSocketCloseError(err) {
				return nil
			}
			return err
		}

		if messageType != websocket.TextMessage {
			c.logger.Debugw("unsupported message", "messageType", messageType)
			continue
		}

		req, n, err := parseInbound(payload)
		if err != nil {
			if req != nil {
				c.respond(req, nil, err)
			} else {
				c.logger.Warnw("dropping message", err, "size", len(payload))
			}
			continue
		}

		if req != nil {
			c.requests.Submit(func() {
				defer func() {
					if r := recover(); r != nil {
						utils.LogPanic(c.logger, r)
						c.respond(req, nil, fmt.Errorf("panic handling %s: %v", req.Method, r))
					}
				}()
				data, err := h.HandleRequest(ctx, req)
				c.respond(req, data, err)
			})
			continue
		}

		if err := h.HandleNotification(ctx, n); err != nil {
			c.logger.Debugw("notification failed", "event", n.Event, "handlerID", n.Internal.HandlerID, "error", err)
		}
	}
}

func (c *Channel) pingWorker() {
	ticker := time.NewTicker(pingFrequency)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed.Watch():
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, []byte(""), time.Now().Add(pingTimeout))
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// IsWebSocketCloseError checks that error is normal/expected closure
func IsWebSocketCloseError(err error) bool {
	return errors.Is(err, io.EOF) ||
		strings.HasSuffix(err.Error(), "use of closed network connection") ||
		strings.HasSuffix(err.Error(), "connection reset by peer") ||
		websocket.IsCloseError(
			err,
			websocket.CloseAbnormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseNormalClosure,
			websocket.CloseNoStatusReceived,
		)
}
