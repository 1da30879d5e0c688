package handler

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"

	"github.com/livekit/handler-worker/pkg/rtc"
	"github.com/livekit/handler-worker/pkg/rtc/types"
)

// recordingTrackSource resolves like rtc.StaticTrackSource and keeps what it handed out
type recordingTrackSource struct {
	source *rtc.StaticTrackSource

	lock   sync.Mutex
	tracks []*webrtc.TrackLocalStaticSample
}

func newRecordingTrackSource() *recordingTrackSource {
	return &recordingTrackSource{source: rtc.NewStaticTrackSource()}
}

func (r *recordingTrackSource) ResolveTrack(ownerID string, kind webrtc.RTPCodecType) webrtc.TrackLocal {
	track := r.source.ResolveTrack(ownerID, kind)
	if sample, ok := track.(*webrtc.TrackLocalStaticSample); ok {
		r.lock.Lock()
		r.tracks = append(r.tracks, sample)
		r.lock.Unlock()
	}
	return track
}

func (r *recordingTrackSource) lastTrack() *webrtc.TrackLocalStaticSample {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.tracks[len(r.tracks)-1]
}

// writeSamples feeds track with silent opus frames until the test ends
func writeSamples(t *testing.T, track *webrtc.TrackLocalStaticSample) {
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = track.WriteSample(media.Sample{Data: []byte{0xf8, 0xff, 0xfe}, Duration: 20 * time.Millisecond})
			}
		}
	}()
}

type fakeDataChannel struct {
	lock sync.Mutex

	id             uint16
	label          string
	readyState     webrtc.DataChannelState
	bufferedAmount uint64
	threshold      uint64
	sent           [][]byte
	closeCalls     int

	onOpen              func()
	onClosing           func()
	onClose             func()
	onMessage           func(webrtc.DataChannelMessage)
	onBufferedAmountLow func()
}

func (f *fakeDataChannel) ID() *uint16 {
	id := f.id
	return &id
}

func (f *fakeDataChannel) Label() string {
	return f.label
}

func (f *fakeDataChannel) Protocol() string {
	return ""
}

func (f *fakeDataChannel) Ordered() bool {
	return true
}

func (f *fakeDataChannel) MaxPacketLifeTime() *uint16 {
	return nil
}

func (f *fakeDataChannel) MaxRetransmits() *uint16 {
	return nil
}

func (f *fakeDataChannel) ReadyState() webrtc.DataChannelState {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.readyState
}

func (f *fakeDataChannel) BufferedAmount() uint64 {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.bufferedAmount
}

func (f *fakeDataChannel) BufferedAmountLowThreshold() uint64 {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.threshold
}

func (f *fakeDataChannel) SetBufferedAmountLowThreshold(th uint64) {
	f.lock.Lock()
	f.threshold = th
	f.lock.Unlock()
}

func (f *fakeDataChannel) Send(data []byte) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.sent = append(f.sent, data)
	f.bufferedAmount += uint64(len(data))
	return nil
}

func (f *fakeDataChannel) SendText(s string) error {
	return f.Send([]byte(s))
}

// Close raises closing and, like pion, close for a locally closed channel
func (f *fakeDataChannel) Close() error {
	f.lock.Lock()
	f.closeCalls++
	f.readyState = webrtc.DataChannelStateClosed
	onClosing, onClose := f.onClosing, f.onClose
	f.lock.Unlock()

	if onClosing != nil {
		onClosing()
	}
	if onClose != nil {
		onClose()
	}
	return nil
}

func (f *fakeDataChannel) OnOpen(fn func()) {
	f.lock.Lock()
	f.onOpen = fn
	f.lock.Unlock()
}

func (f *fakeDataChannel) OnClosing(fn func()) {
	f.lock.Lock()
	f.onClosing = fn
	f.lock.Unlock()
}

func (f *fakeDataChannel) OnClose(fn func()) {
	f.lock.Lock()
	f.onClose = fn
	f.lock.Unlock()
}

func (f *fakeDataChannel) OnMessage(fn func(webrtc.DataChannelMessage)) {
	f.lock.Lock()
	f.onMessage = fn
	f.lock.Unlock()
}

func (f *fakeDataChannel) OnBufferedAmountLow(fn func()) {
	f.lock.Lock()
	f.onBufferedAmountLow = fn
	f.lock.Unlock()
}

func (f *fakeDataChannel) fireOpen() {
	f.lock.Lock()
	f.readyState = webrtc.DataChannelStateOpen
	fn := f.onOpen
	f.lock.Unlock()
	fn()
}

// fireRemoteClose is the remote side shutting the channel down
func (f *fakeDataChannel) fireRemoteClose() {
	f.lock.Lock()
	onClosing, onClose := f.onClosing, f.onClose
	f.lock.Unlock()
	onClosing()
	onClose()
}

func (f *fakeDataChannel) fireMessage(msg webrtc.DataChannelMessage) {
	f.lock.Lock()
	fn := f.onMessage
	f.lock.Unlock()
	fn(msg)
}

func (f *fakeDataChannel) fireBufferedAmountLow() {
	f.lock.Lock()
	fn := f.onBufferedAmountLow
	f.lock.Unlock()
	fn()
}

func (f *fakeDataChannel) closeCount() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.closeCalls
}

// fakePeerConnection only backs data channel creation; everything else is inert
type fakePeerConnection struct {
	lock         sync.Mutex
	dataChannels []*fakeDataChannel
	closed       bool
}

func (f *fakePeerConnection) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{}, errors.New("not supported")
}

func (f *fakePeerConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{}, errors.New("not supported")
}

func (f *fakePeerConnection) SetLocalDescription(webrtc.SessionDescription) error {
	return nil
}

func (f *fakePeerConnection) SetRemoteDescription(webrtc.SessionDescription) error {
	return nil
}

func (f *fakePeerConnection) LocalDescription() *webrtc.SessionDescription {
	return nil
}

func (f *fakePeerConnection) SignalingState() webrtc.SignalingState {
	return webrtc.SignalingStateStable
}

func (f *fakePeerConnection) ICEGatheringState() webrtc.ICEGatheringState {
	return webrtc.ICEGatheringStateNew
}

func (f *fakePeerConnection) ICEConnectionState() webrtc.ICEConnectionState {
	return webrtc.ICEConnectionStateNew
}

func (f *fakePeerConnection) AddTrack(webrtc.TrackLocal) (types.Transceiver, error) {
	return nil, errors.New("not supported")
}

func (f *fakePeerConnection) Transceivers() []types.Transceiver {
	return nil
}

func (f *fakePeerConnection) GetStats() webrtc.StatsReport {
	return webrtc.StatsReport{}
}

func (f *fakePeerConnection) CreateDataChannel(label string, init *webrtc.DataChannelInit) (types.DataChannel, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	dc := &fakeDataChannel{
		id:         *init.ID,
		label:      label,
		readyState: webrtc.DataChannelStateConnecting,
	}
	f.dataChannels = append(f.dataChannels, dc)
	return dc, nil
}

func (f *fakePeerConnection) lastDataChannel() *fakeDataChannel {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.dataChannels[len(f.dataChannels)-1]
}

func (f *fakePeerConnection) OnSignalingStateChange(func(webrtc.SignalingState))         {}
func (f *fakePeerConnection) OnICEGatheringStateChange(func(webrtc.ICEGatheringState))   {}
func (f *fakePeerConnection) OnICEConnectionStateChange(func(webrtc.ICEConnectionState)) {}
func (f *fakePeerConnection) OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver))     {}

func (f *fakePeerConnection) Close() error {
	f.lock.Lock()
	f.closed = true
	f.lock.Unlock()
	return nil
}

func (f *fakePeerConnection) isClosed() bool {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.closed
}
