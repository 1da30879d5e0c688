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

package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/elliotchance/orderedmap/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/atomic"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/handler-worker/pkg/channel"
	"github.com/livekit/handler-worker/pkg/handler"
	"github.com/livekit/handler-worker/pkg/rtc"
	"github.com/livekit/handler-worker/pkg/rtc/types"
	"github.com/livekit/handler-worker/pkg/telemetry/prometheus"
)

const (
	MethodCreateHandler = "worker.createHandler"
	MethodCloseHandler  = "worker.closeHandler"
	MethodDump          = "worker.dump"

	handlerMethodPrefix = "handler."

	defaultClosedHandlerCacheSize = 1024
)

var (
	ErrWorkerClosed      = errors.New("worker is closed")
	ErrMissingHandlerID  = errors.New("internal.handlerId is required")
	ErrDuplicateHandler  = errors.New("handler already exists")
	ErrHandlerNotFound   = errors.New("handler not found")
	ErrInvalidICEServers = errors.New("ice server without urls")
	ErrInvalidICEPolicy  = errors.New("iceTransportPolicy must be one of all, relay")
)

type Params struct {
	Engine      *rtc.Engine
	TrackSource types.TrackSource
	Notifier    handler.Notifier
	Logger      logger.Logger

	BufferedAmountInterval time.Duration
	ClosedHandlerCacheSize int
}

// Worker owns the handlers created over one orchestrator channel and routes
// messages to them by handler id.
type Worker struct {
	params Params
	logger logger.Logger

	lock     sync.RWMutex
	handlers *orderedmap.OrderedMap[string, *handler.Handler]
	// recently closed ids, late messages for them are dropped quietly
	closedHandlers *lru.Cache[string, struct{}]

	closed atomic.Bool
}

func NewWorker(params Params) (*Worker, error) {
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	if params.ClosedHandlerCacheSize <= 0 {
		params.ClosedHandlerCacheSize = defaultClosedHandlerCacheSize
	}

	closedHandlers, err := lru.New[string, struct{}](params.ClosedHandlerCacheSize)
	if err != nil {
		return nil, err
	}

	return &Worker{
		params:         params,
		logger:         params.Logger,
		handlers:       orderedmap.NewOrderedMap[string, *handler.Handler](),
		closedHandlers: closedHandlers,
	}, nil
}

func (w *Worker) HandleRequest(ctx context.Context, req *channel.Request) (interface{}, error) {
	if w.closed.Load() {
		return nil, &handler.Error{Kind: handler.KindEngineError, Err: ErrWorkerClosed}
	}

	switch req.Method {
	case MethodCreateHandler:
		return nil, w.createHandler(req.Internal.HandlerID, req.Data)

	case MethodCloseHandler:
		return nil, w.closeHandler(req.Internal.HandlerID)

	case MethodDump:
		return w.Dump(), nil
	}

	if !strings.HasPrefix(req.Method, handlerMethodPrefix) {
		return nil, &handler.Error{
			Kind: handler.KindUnsupportedOperation,
			Err:  fmt.Errorf("%w: %s", handler.ErrUnknownMethod, req.Method),
		}
	}

	h, err := w.getHandler(req.Internal.HandlerID)
	if err != nil {
		return nil, err
	}
	return h.HandleRequest(ctx, handler.Request{
		Method:        req.Method,
		DataChannelID: req.Internal.DataChannelID,
		Data:          req.Data,
	})
}

func (w *Worker) HandleNotification(ctx context.Context, n *channel.Notification) error {
	h, err := w.getHandler(n.Internal.HandlerID)
	if err != nil {
		if w.closedHandlers.Contains(n.Internal.HandlerID) {
			w.logger.Debugw("dropping notification for closed handler", "handlerID", n.Internal.HandlerID, "event", n.Event)
			return nil
		}
		return err
	}
	return h.HandleNotification(ctx, handler.Notification{
		Event:         n.Event,
		DataChannelID: n.Internal.DataChannelID,
		Data:          n.Data,
	})
}

// Close closes every handler; the worker accepts no requests afterwards.
func (w *Worker) Close() {
	if w.closed.Swap(true) {
		return
	}

	w.lock.Lock()
	handlers := make([]*handler.Handler, 0, w.handlers.Len())
	for el := w.handlers.Front(); el != nil; el = el.Next() {
		handlers = append(handlers, el.Value)
		w.closedHandlers.Add(el.Key, struct{}{})
	}
	w.handlers = orderedmap.NewOrderedMap[string, *handler.Handler]()
	w.lock.Unlock()

	for _, h := range handlers {
		h.Close()
	}
	if len(handlers) > 0 {
		w.logger.Infow("closed handlers", "count", len(handlers))
	}
}

func (w *Worker) NumHandlers() int {
	w.lock.RLock()
	defer w.lock.RUnlock()
	return w.handlers.Len()
}

func (w *Worker) getHandler(handlerID string) (*handler.Handler, error) {
	if handlerID == "" {
		return nil, &handler.Error{Kind: handler.KindBadRequest, Err: ErrMissingHandlerID}
	}

	w.lock.RLock()
	h, ok := w.handlers.Get(handlerID)
	w.lock.RUnlock()
	if !ok {
		return nil, &handler.Error{Kind: handler.KindNotFound, Err: fmt.Errorf("%w: %s", ErrHandlerNotFound, handlerID)}
	}
	return h, nil
}

func (w *Worker) createHandler(handlerID string, data []byte) error {
	if handlerID == "" {
		return &handler.Error{Kind: handler.KindBadRequest, Err: ErrMissingHandlerID}
	}

	var req createHandlerRequest
	if err := req.decode(data); err != nil {
		return &handler.Error{Kind: handler.KindBadRequest, Err: err}
	}

	w.lock.RLock()
	_, exists := w.handlers.Get(handlerID)
	w.lock.RUnlock()
	if exists {
		return &handler.Error{Kind: handler.KindBadRequest, Err: fmt.Errorf("%w: %s", ErrDuplicateHandler, handlerID)}
	}

	handlerLogger := w.logger.WithValues("handlerID", handlerID)
	configuration := w.params.Engine.Config().WithOverrides(req.iceServers(), req.iceTransportPolicy())
	pc, err := w.params.Engine.NewPeerConnection(configuration, handlerLogger)
	if err != nil {
		return &handler.Error{Kind: handler.KindEngineError, Err: err}
	}

	w.lock.Lock()
	if w.closed.Load() {
		w.lock.Unlock()
		_ = pc.Close()
		return &handler.Error{Kind: handler.KindEngineError, Err: ErrWorkerClosed}
	}
	if _, exists := w.handlers.Get(handlerID); exists {
		w.lock.Unlock()
		_ = pc.Close()
		return &handler.Error{Kind: handler.KindBadRequest, Err: fmt.Errorf("%w: %s", ErrDuplicateHandler, handlerID)}
	}
	h := handler.NewHandler(handler.Params{
		HandlerID:              handlerID,
		PeerConnection:         pc,
		TrackSource:            w.params.TrackSource,
		Notifier:               w.params.Notifier,
		Logger:                 w.logger,
		BufferedAmountInterval: w.params.BufferedAmountInterval,
	})
	w.handlers.Set(handlerID, h)
	w.closedHandlers.Remove(handlerID)
	w.lock.Unlock()

	handlerLogger.Infow("handler created")
	return nil
}

func (w *Worker) closeHandler(handlerID string) error {
	if handlerID == "" {
		return &handler.Error{Kind: handler.KindBadRequest, Err: ErrMissingHandlerID}
	}

	w.lock.Lock()
	h, ok := w.handlers.Get(handlerID)
	if ok {
		w.handlers.Delete(handlerID)
		w.closedHandlers.Add(handlerID, struct{}{})
	}
	w.lock.Unlock()

	if !ok {
		if w.closedHandlers.Contains(handlerID) {
			return nil
		}
		return &handler.Error{Kind: handler.KindNotFound, Err: fmt.Errorf("%w: %s", ErrHandlerNotFound, handlerID)}
	}

	h.Close()
	return nil
}

type Dump struct {
	HandlerIDs []string              `json:"handlerIds"`
	Handlers   []handler.Dump        `json:"handlers"`
	Node       *prometheus.NodeStats `json:"node,omitempty"`
}

func (w *Worker) Dump() *Dump {
	w.lock.RLock()
	handlers := make([]*handler.Handler, 0, w.handlers.Len())
	for el := w.handlers.Front(); el != nil; el = el.Next() {
		handlers = append(handlers, el.Value)
	}
	w.lock.RUnlock()

	d := &Dump{
		HandlerIDs: make([]string, 0, len(handlers)),
		Handlers:   make([]handler.Dump, 0, len(handlers)),
	}
	for _, h := range handlers {
		d.HandlerIDs = append(d.HandlerIDs, h.ID())
		d.Handlers = append(d.Handlers, h.Dump())
	}

	node, err := prometheus.GetNodeStats()
	if err != nil {
		w.logger.Warnw("could not get node stats", err)
	} else {
		d.Node = node
	}
	return d
}
