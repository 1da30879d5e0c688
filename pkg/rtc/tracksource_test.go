package rtc

import (
	"strings"
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/require"

	"github.com/livekit/protocol/utils"
)

func TestStaticTrackSource(t *testing.T) {
	t.Run("any owner when unrestricted", func(t *testing.T) {
		s := NewStaticTrackSource()
		audio := s.ResolveTrack("p1", webrtc.RTPCodecTypeAudio)
		require.NotNil(t, audio)
		require.Equal(t, webrtc.RTPCodecTypeAudio, audio.Kind())
		require.Equal(t, "p1", audio.StreamID())
		require.True(t, strings.HasPrefix(audio.ID(), utils.TrackPrefix))

		video := s.ResolveTrack("p1", webrtc.RTPCodecTypeVideo)
		require.NotNil(t, video)
		require.Equal(t, webrtc.RTPCodecTypeVideo, video.Kind())
		require.NotEqual(t, audio.ID(), video.ID())

		// every resolution is a distinct track
		require.NotEqual(t, audio.ID(), s.ResolveTrack("p1", webrtc.RTPCodecTypeAudio).ID())
	})

	t.Run("unknown kind or owner", func(t *testing.T) {
		s := NewStaticTrackSource()
		require.Nil(t, s.ResolveTrack("p1", webrtc.RTPCodecType(0)))
		require.Nil(t, s.ResolveTrack("", webrtc.RTPCodecTypeAudio))
	})

	t.Run("restricted owners", func(t *testing.T) {
		s := NewStaticTrackSource("p1")
		require.NotNil(t, s.ResolveTrack("p1", webrtc.RTPCodecTypeAudio))
		require.Nil(t, s.ResolveTrack("p2", webrtc.RTPCodecTypeAudio))

		s.AddOwner("p2")
		require.NotNil(t, s.ResolveTrack("p2", webrtc.RTPCodecTypeAudio))

		s.RemoveOwner("p2")
		require.Nil(t, s.ResolveTrack("p2", webrtc.RTPCodecTypeAudio))
	})
}
