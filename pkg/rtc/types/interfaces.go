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

package types

import (
	"time"

	"github.com/pion/webrtc/v3"
)

type WebsocketClient interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// PeerConnection is the media engine session a handler drives.
type PeerConnection interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	// nil until a local description has been set
	LocalDescription() *webrtc.SessionDescription

	SignalingState() webrtc.SignalingState
	ICEGatheringState() webrtc.ICEGatheringState
	ICEConnectionState() webrtc.ICEConnectionState

	// AddTrack adds track as a new send-only transceiver
	AddTrack(track webrtc.TrackLocal) (Transceiver, error)
	Transceivers() []Transceiver

	GetStats() webrtc.StatsReport

	CreateDataChannel(label string, init *webrtc.DataChannelInit) (DataChannel, error)

	OnSignalingStateChange(f func(webrtc.SignalingState))
	OnICEGatheringStateChange(f func(webrtc.ICEGatheringState))
	OnICEConnectionStateChange(f func(webrtc.ICEConnectionState))
	OnTrack(f func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))

	Close() error
}

type Transceiver interface {
	// empty until negotiation assigns a mid
	Mid() string
	Kind() webrtc.RTPCodecType
	Direction() webrtc.RTPTransceiverDirection

	// StopSending moves the transceiver to inactive and clears the sender track
	StopSending() error

	SenderSSRCs() []webrtc.SSRC
	ReceiverSSRCs() []webrtc.SSRC
}

type DataChannel interface {
	ID() *uint16
	Label() string
	Protocol() string
	Ordered() bool
	MaxPacketLifeTime() *uint16
	MaxRetransmits() *uint16
	ReadyState() webrtc.DataChannelState

	BufferedAmount() uint64
	BufferedAmountLowThreshold() uint64
	SetBufferedAmountLowThreshold(th uint64)

	Send(data []byte) error
	SendText(s string) error
	Close() error

	OnOpen(f func())
	// fires once, before OnClose, whichever side started the shutdown
	OnClosing(f func())
	OnClose(f func())
	OnMessage(f func(msg webrtc.DataChannelMessage))
	OnBufferedAmountLow(f func())
}

// TrackSource resolves the track a remote owner (player) publishes for a media kind.
type TrackSource interface {
	// ResolveTrack returns nil when no track is available
	ResolveTrack(ownerID string, kind webrtc.RTPCodecType) webrtc.TrackLocal
}
