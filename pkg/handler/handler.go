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

package handler

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/frostbyte73/core"
	"github.com/pion/webrtc/v3"
	"go.uber.org/atomic"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/handler-worker/pkg/rtc/types"
	"github.com/livekit/handler-worker/pkg/telemetry/prometheus"
	"github.com/livekit/handler-worker/pkg/utils"
)

const (
	DefaultBufferedAmountInterval = time.Second
)

// Notifier delivers an event about targetID to the orchestrator.
type Notifier interface {
	Notify(targetID string, event string, data interface{}) error
}

type Params struct {
	HandlerID      string
	PeerConnection types.PeerConnection
	TrackSource    types.TrackSource
	Notifier       Notifier
	Logger         logger.Logger

	// zero uses DefaultBufferedAmountInterval
	BufferedAmountInterval time.Duration
}

// Request is a handler.* request routed to this handler.
type Request struct {
	Method        string
	DataChannelID string
	Data          json.RawMessage
}

// Notification is an inbound, fire-and-forget message routed to this handler.
type Notification struct {
	Event         string
	DataChannelID string
	Data          json.RawMessage
}

// Handler controls one media session on behalf of the orchestrator.
type Handler struct {
	params Params
	logger logger.Logger

	// track id -> transceiver
	transceivers *Registry[string, types.Transceiver]
	// orchestrator data channel id -> channel
	dataChannels *Registry[string, *dataChannelEntry]
	// serializes the stream id check with channel creation
	createDataChannelLock sync.Mutex

	notifyQueue *utils.OpsQueue

	closed atomic.Bool
	stop   core.Fuse
}

func NewHandler(params Params) *Handler {
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	if params.BufferedAmountInterval <= 0 {
		params.BufferedAmountInterval = DefaultBufferedAmountInterval
	}

	h := &Handler{
		params:       params,
		logger:       params.Logger.WithValues("handlerID", params.HandlerID),
		transceivers: NewRegistry[string, types.Transceiver](),
		dataChannels: NewRegistry[string, *dataChannelEntry](),
	}
	h.notifyQueue = utils.NewOpsQueue(h.logger, "notify")
	h.notifyQueue.Start()

	pc := params.PeerConnection
	pc.OnSignalingStateChange(func(state webrtc.SignalingState) {
		h.logger.Debugw("signaling state changed", "state", state.String())
		h.notify(params.HandlerID, eventSignalingStateChange, state.String())
	})
	pc.OnICEGatheringStateChange(func(state webrtc.ICEGatheringState) {
		h.logger.Debugw("ICE gathering state changed", "state", state.String())
		h.notify(params.HandlerID, eventICEGatheringStateChange, state.String())
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		h.logger.Debugw("ICE connection state changed", "state", state.String())
		h.notify(params.HandlerID, eventICEConnectionStateChange, state.String())
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		h.logger.Debugw("remote track", "kind", track.Kind().String(), "trackID", track.ID())
	})

	go h.bufferedAmountWorker()

	prometheus.AddHandler()
	return h
}

func (h *Handler) ID() string {
	return h.params.HandlerID
}

func (h *Handler) IsClosed() bool {
	return h.closed.Load()
}

// Close stops the poller, seals both registries and releases the session.
// Requests racing Close either complete or fail with ErrHandlerClosed.
func (h *Handler) Close() {
	if h.closed.Swap(true) {
		return
	}
	h.stop.Break()

	h.transceivers.Seal()
	h.dataChannels.Seal()

	// entries go away with the session, late engine events for them are not reported
	for _, trackID := range h.transceivers.Keys() {
		if _, ok := h.transceivers.Remove(trackID); ok {
			prometheus.SubTransceiver(1)
		}
	}
	for _, id := range h.dataChannels.Keys() {
		if _, ok := h.dataChannels.Remove(id); ok {
			prometheus.SubDataChannel(1)
		}
	}

	if err := h.params.PeerConnection.Close(); err != nil {
		h.logger.Warnw("could not close peer connection", err)
	}

	h.notifyQueue.Stop()

	prometheus.SubHandler()
	h.logger.Infow("handler closed")
}

type Dump struct {
	HandlerID          string   `json:"handlerId"`
	SignalingState     string   `json:"signalingState"`
	ICEGatheringState  string   `json:"iceGatheringState"`
	ICEConnectionState string   `json:"iceConnectionState"`
	TrackIDs           []string `json:"trackIds"`
	DataChannelIDs     []string `json:"dataChannelIds"`
}

func (h *Handler) Dump() Dump {
	pc := h.params.PeerConnection
	return Dump{
		HandlerID:          h.params.HandlerID,
		SignalingState:     pc.SignalingState().String(),
		ICEGatheringState:  pc.ICEGatheringState().String(),
		ICEConnectionState: pc.ICEConnectionState().String(),
		TrackIDs:           h.transceivers.Keys(),
		DataChannelIDs:     h.dataChannels.Keys(),
	}
}

// notify queues an outbound event, events are delivered in the order they were queued
func (h *Handler) notify(targetID string, event string, data interface{}) {
	h.notifyQueue.Enqueue(func() {
		if err := h.params.Notifier.Notify(targetID, event, data); err != nil {
			h.logger.Debugw("could not send notification", "targetID", targetID, "event", event, "error", err)
			return
		}
		prometheus.RecordOutboundEvent(event)
	})
}

func (h *Handler) bufferedAmountWorker() {
	ticker := time.NewTicker(h.params.BufferedAmountInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.reportBufferedAmounts()

		case <-h.stop.Watch():
			return
		}
	}
}

func (h *Handler) reportBufferedAmounts() {
	var total uint64
	for _, id := range h.dataChannels.Keys() {
		entry, ok := h.dataChannels.Lookup(id)
		if !ok {
			continue
		}
		amount := entry.dc.BufferedAmount()
		total += amount
		h.notify(id, eventBufferedAmount, amount)
	}
	if total > 0 {
		h.logger.Debugw("data channels buffered", "total", humanize.Bytes(total))
	}
}
