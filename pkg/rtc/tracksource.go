package rtc

import (
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/livekit/protocol/utils"
)

var (
	opusCapability = webrtc.RTPCodecCapability{
		MimeType:    webrtc.MimeTypeOpus,
		ClockRate:   48000,
		Channels:    2,
		SDPFmtpLine: "minptime=10;useinbandfec=1",
	}
	vp8Capability = webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: 90000,
	}
)

// StaticTrackSource hands out a fresh sample track per request, with the owner as stream id.
// When owners are registered, only those owners resolve.
type StaticTrackSource struct {
	lock   sync.RWMutex
	owners map[string]struct{}
}

func NewStaticTrackSource(owners ...string) *StaticTrackSource {
	s := &StaticTrackSource{
		owners: make(map[string]struct{}),
	}
	for _, owner := range owners {
		s.owners[owner] = struct{}{}
	}
	return s
}

func (s *StaticTrackSource) AddOwner(ownerID string) {
	s.lock.Lock()
	s.owners[ownerID] = struct{}{}
	s.lock.Unlock()
}

func (s *StaticTrackSource) RemoveOwner(ownerID string) {
	s.lock.Lock()
	delete(s.owners, ownerID)
	s.lock.Unlock()
}

func (s *StaticTrackSource) ResolveTrack(ownerID string, kind webrtc.RTPCodecType) webrtc.TrackLocal {
	if ownerID == "" {
		return nil
	}

	s.lock.RLock()
	_, known := s.owners[ownerID]
	restricted := len(s.owners) > 0
	s.lock.RUnlock()
	if restricted && !known {
		return nil
	}

	var capability webrtc.RTPCodecCapability
	switch kind {
	case webrtc.RTPCodecTypeAudio:
		capability = opusCapability
	case webrtc.RTPCodecTypeVideo:
		capability = vp8Capability
	default:
		return nil
	}

	track, err := webrtc.NewTrackLocalStaticSample(capability, utils.NewGuid(utils.TrackPrefix), ownerID)
	if err != nil {
		return nil
	}
	return track
}
