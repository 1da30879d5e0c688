package handler

import (
	"context"
	"encoding/base64"

	"github.com/looplab/fsm"
	"github.com/pion/webrtc/v3"

	"github.com/livekit/handler-worker/pkg/rtc/types"
	"github.com/livekit/handler-worker/pkg/telemetry/prometheus"
)

const (
	dataChannelStateConnecting = "connecting"
	dataChannelStateOpen       = "open"
	dataChannelStateClosing    = "closing"
	dataChannelStateClosed     = "closed"
)

// DataChannelOptions are the createDataChannel parameters. Unset fields take the engine defaults.
type DataChannelOptions struct {
	ID                *uint16 `json:"id,omitempty"`
	Ordered           *bool   `json:"ordered,omitempty"`
	MaxPacketLifeTime *uint16 `json:"maxPacketLifeTime,omitempty"`
	MaxRetransmits    *uint16 `json:"maxRetransmits,omitempty"`
	Label             string  `json:"label,omitempty"`
	Protocol          string  `json:"protocol,omitempty"`
}

func (o *DataChannelOptions) validate() error {
	if o.ID == nil {
		return badRequest("missing id, data channels are always negotiated")
	}
	if o.MaxPacketLifeTime != nil && o.MaxRetransmits != nil {
		return badRequest("maxPacketLifeTime and maxRetransmits are mutually exclusive")
	}
	return nil
}

func (o *DataChannelOptions) toInit() *webrtc.DataChannelInit {
	negotiated := true
	init := &webrtc.DataChannelInit{
		Negotiated:        &negotiated,
		ID:                o.ID,
		Ordered:           o.Ordered,
		MaxPacketLifeTime: o.MaxPacketLifeTime,
		MaxRetransmits:    o.MaxRetransmits,
	}
	if o.Protocol != "" {
		protocol := o.Protocol
		init.Protocol = &protocol
	}
	return init
}

type DataChannelDescriptor struct {
	StreamID          *uint16 `json:"streamId"`
	Ordered           bool    `json:"ordered"`
	MaxPacketLifeTime *uint16 `json:"maxPacketLifeTime"`
	MaxRetransmits    *uint16 `json:"maxRetransmits"`
	Label             string  `json:"label"`
	Protocol          string  `json:"protocol"`

	ReadyState                 string `json:"readyState"`
	BufferedAmount             uint64 `json:"bufferedAmount"`
	BufferedAmountLowThreshold uint64 `json:"bufferedAmountLowThreshold"`
}

func describeDataChannel(dc types.DataChannel) DataChannelDescriptor {
	return DataChannelDescriptor{
		StreamID:                   dc.ID(),
		Ordered:                    dc.Ordered(),
		MaxPacketLifeTime:          dc.MaxPacketLifeTime(),
		MaxRetransmits:             dc.MaxRetransmits(),
		Label:                      dc.Label(),
		Protocol:                   dc.Protocol(),
		ReadyState:                 dc.ReadyState().String(),
		BufferedAmount:             dc.BufferedAmount(),
		BufferedAmountLowThreshold: dc.BufferedAmountLowThreshold(),
	}
}

// dataChannelEntry is a registered channel. Entries are compared by pointer so a stale
// close for a previous channel can never remove a newer one registered under the same id.
type dataChannelEntry struct {
	id    string
	dc    types.DataChannel
	state *fsm.FSM
}

func newDataChannelEntry(id string, dc types.DataChannel) *dataChannelEntry {
	return &dataChannelEntry{
		id: id,
		dc: dc,
		state: fsm.NewFSM(
			dataChannelStateConnecting,
			fsm.Events{
				{Name: "open", Src: []string{dataChannelStateConnecting}, Dst: dataChannelStateOpen},
				{Name: "closing", Src: []string{dataChannelStateConnecting, dataChannelStateOpen}, Dst: dataChannelStateClosing},
				{Name: "close", Src: []string{dataChannelStateConnecting, dataChannelStateOpen, dataChannelStateClosing}, Dst: dataChannelStateClosed},
			},
			fsm.Callbacks{},
		),
	}
}

// transition reports whether the event moved the channel to a new state
func (e *dataChannelEntry) transition(event string) bool {
	return e.state.Event(context.Background(), event) == nil
}

func (e *dataChannelEntry) State() string {
	return e.state.Current()
}

func (h *Handler) wireDataChannel(entry *dataChannelEntry) {
	id := entry.id
	dc := entry.dc

	dc.OnOpen(func() {
		if entry.transition("open") && h.dataChannels.Contains(id, entry) {
			h.notify(id, eventOpen, nil)
		}
	})

	dc.OnClosing(func() {
		if entry.transition("closing") && h.dataChannels.Contains(id, entry) {
			h.notify(id, eventClosing, nil)
		}
	})

	dc.OnClose(func() {
		entry.transition("close")
		// also covers the engine reporting close after an explicit close already removed the entry
		if h.dataChannels.CompareAndRemove(id, entry) {
			h.notify(id, eventClose, nil)
			prometheus.SubDataChannel(1)
		}
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !h.dataChannels.Contains(id, entry) {
			return
		}
		if msg.IsString {
			h.notify(id, eventMessage, string(msg.Data))
		} else {
			h.notify(id, eventBinary, base64.StdEncoding.EncodeToString(msg.Data))
		}
	})

	dc.OnBufferedAmountLow(func() {
		if h.dataChannels.Contains(id, entry) {
			h.notify(id, eventBufferedAmountLow, nil)
		}
	})
}
