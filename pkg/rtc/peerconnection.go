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

package rtc

import (
	"errors"
	"io"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/stats"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"

	"github.com/livekit/protocol/logger"

	serverlogger "github.com/livekit/handler-worker/pkg/logger"
	"github.com/livekit/handler-worker/pkg/rtc/types"
)

// Engine creates pion peer connections sharing one media engine and interceptor setup.
type Engine struct {
	conf *WebRTCConfig
	api  *webrtc.API

	// held across peer connection creation, the stats interceptor hands its getter over in between
	createLock  sync.Mutex
	statsGetter stats.Getter
}

func NewEngine(conf *WebRTCConfig, l logger.Logger) (*Engine, error) {
	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	e := &Engine{conf: conf}

	// NACK, RTCP reports and TWCC
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, err
	}

	// RTP stream statistics, merged into GetStats
	statsInterceptor, err := stats.NewInterceptor()
	if err != nil {
		return nil, err
	}
	statsInterceptor.OnNewPeerConnection(func(_ string, getter stats.Getter) {
		e.statsGetter = getter
	})
	ir.Add(statsInterceptor)

	se := conf.SettingEngine
	if lf := serverlogger.NewLoggerFactory(l); lf != nil {
		se.LoggerFactory = lf
	}

	e.api = webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithSettingEngine(se),
		webrtc.WithInterceptorRegistry(ir),
	)
	return e, nil
}

func (e *Engine) Config() *WebRTCConfig {
	return e.conf
}

func (e *Engine) NewPeerConnection(configuration webrtc.Configuration, l logger.Logger) (*PeerConnection, error) {
	e.createLock.Lock()
	pc, err := e.api.NewPeerConnection(configuration)
	getter := e.statsGetter
	e.statsGetter = nil
	e.createLock.Unlock()
	if err != nil {
		return nil, err
	}

	if l == nil {
		l = logger.GetLogger()
	}
	p := &PeerConnection{
		pc:          pc,
		logger:      l,
		statsGetter: getter,
	}
	pc.OnTrack(p.handleTrack)
	return p, nil
}

// PeerConnection adapts a pion peer connection to types.PeerConnection.
type PeerConnection struct {
	pc          *webrtc.PeerConnection
	logger      logger.Logger
	statsGetter stats.Getter

	lock    sync.Mutex
	onTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
}

func (p *PeerConnection) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *PeerConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *PeerConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(desc)
}

func (p *PeerConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *PeerConnection) LocalDescription() *webrtc.SessionDescription {
	return p.pc.LocalDescription()
}

func (p *PeerConnection) SignalingState() webrtc.SignalingState {
	return p.pc.SignalingState()
}

func (p *PeerConnection) ICEGatheringState() webrtc.ICEGatheringState {
	return p.pc.ICEGatheringState()
}

func (p *PeerConnection) ICEConnectionState() webrtc.ICEConnectionState {
	return p.pc.ICEConnectionState()
}

func (p *PeerConnection) AddTrack(track webrtc.TrackLocal) (types.Transceiver, error) {
	tr, err := p.pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	})
	if err != nil {
		return nil, err
	}

	go p.rtcpWorker(tr.Sender(), track.ID())

	return &transceiver{pc: p.pc, tr: tr}, nil
}

func (p *PeerConnection) Transceivers() []types.Transceiver {
	trs := p.pc.GetTransceivers()
	out := make([]types.Transceiver, 0, len(trs))
	for _, tr := range trs {
		out = append(out, &transceiver{pc: p.pc, tr: tr})
	}
	return out
}

// GetStats returns pion's report with RTP stream entries for every sender encoding and receiver track added
func (p *PeerConnection) GetStats() webrtc.StatsReport {
	report := p.pc.GetStats()
	if p.statsGetter != nil {
		collectRTPStats(report, p.statsGetter, p.pc.GetTransceivers())
	}
	return report
}

func (p *PeerConnection) CreateDataChannel(label string, init *webrtc.DataChannelInit) (types.DataChannel, error) {
	dc, err := p.pc.CreateDataChannel(label, init)
	if err != nil {
		return nil, err
	}
	return newDataChannel(dc), nil
}

func (p *PeerConnection) OnSignalingStateChange(f func(webrtc.SignalingState)) {
	p.pc.OnSignalingStateChange(f)
}

func (p *PeerConnection) OnICEGatheringStateChange(f func(webrtc.ICEGatheringState)) {
	p.pc.OnICEGatheringStateChange(func(webrtc.ICEGathererState) {
		f(p.pc.ICEGatheringState())
	})
}

func (p *PeerConnection) OnICEConnectionStateChange(f func(webrtc.ICEConnectionState)) {
	p.pc.OnICEConnectionStateChange(f)
}

func (p *PeerConnection) OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	p.lock.Lock()
	p.onTrack = f
	p.lock.Unlock()
}

func (p *PeerConnection) Close() error {
	return p.pc.Close()
}

// rtcpWorker drains feedback for a sender so interceptors keep running, until the sender stops
func (p *PeerConnection) rtcpWorker(sender *webrtc.RTPSender, trackID string) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				p.logger.Debugw("rtcp worker stopped", "trackID", trackID, "error", err)
			}
			return
		}

		for _, pkt := range pkts {
			switch pkt := pkt.(type) {
			case *rtcp.PictureLossIndication:
				p.logger.Debugw("received PLI", "trackID", trackID, "mediaSSRC", pkt.MediaSSRC)
			case *rtcp.FullIntraRequest:
				p.logger.Debugw("received FIR", "trackID", trackID, "mediaSSRC", pkt.MediaSSRC)
			}
		}
	}
}

// handleTrack keeps remote media flowing through the interceptors, which only see what is read
func (p *PeerConnection) handleTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	go p.drainTrack(track)
	go p.drainReceiverRTCP(receiver, track.ID())

	p.lock.Lock()
	onTrack := p.onTrack
	p.lock.Unlock()
	if onTrack != nil {
		onTrack(track, receiver)
	}
}

func (p *PeerConnection) drainTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}

func (p *PeerConnection) drainReceiverRTCP(receiver *webrtc.RTPReceiver, trackID string) {
	for {
		if _, _, err := receiver.ReadRTCP(); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				p.logger.Debugw("receiver rtcp drain stopped", "trackID", trackID, "error", err)
			}
			return
		}
	}
}

type transceiver struct {
	pc *webrtc.PeerConnection
	tr *webrtc.RTPTransceiver
}

func (t *transceiver) Mid() string {
	return t.tr.Mid()
}

func (t *transceiver) Kind() webrtc.RTPCodecType {
	return t.tr.Kind()
}

func (t *transceiver) Direction() webrtc.RTPTransceiverDirection {
	return t.tr.Direction()
}

func (t *transceiver) StopSending() error {
	sender := t.tr.Sender()
	if sender == nil || sender.Track() == nil {
		return nil
	}
	return t.pc.RemoveTrack(sender)
}

func (t *transceiver) SenderSSRCs() []webrtc.SSRC {
	sender := t.tr.Sender()
	if sender == nil {
		return nil
	}
	var ssrcs []webrtc.SSRC
	for _, enc := range sender.GetParameters().Encodings {
		ssrcs = append(ssrcs, enc.SSRC)
	}
	return ssrcs
}

func (t *transceiver) ReceiverSSRCs() []webrtc.SSRC {
	receiver := t.tr.Receiver()
	if receiver == nil {
		return nil
	}
	var ssrcs []webrtc.SSRC
	for _, track := range receiver.Tracks() {
		ssrcs = append(ssrcs, track.SSRC())
	}
	return ssrcs
}
