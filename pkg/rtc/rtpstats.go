package rtc

import (
	"fmt"
	"time"

	"github.com/pion/interceptor/pkg/stats"
	"github.com/pion/webrtc/v3"
)

// pion's ICE transport stats id
const transportStatsID = "iceTransport"

func statsTimestamp(t time.Time) webrtc.StatsTimestamp {
	return webrtc.StatsTimestamp(float64(t.UnixNano()) / float64(time.Millisecond))
}

// collectRTPStats adds inbound/outbound RTP entries, and their remote counterparts once RTCP
// reports arrived, for the streams the stats interceptor has seen.
func collectRTPStats(report webrtc.StatsReport, getter stats.Getter, transceivers []*webrtc.RTPTransceiver) {
	now := statsTimestamp(time.Now())
	for _, tr := range transceivers {
		kind := tr.Kind().String()
		if sender := tr.Sender(); sender != nil {
			trackID := ""
			if track := sender.Track(); track != nil {
				trackID = track.ID()
			}
			for _, enc := range sender.GetParameters().Encodings {
				collectSenderStats(report, getter, enc.SSRC, kind, trackID, now)
			}
		}
		if receiver := tr.Receiver(); receiver != nil {
			for _, track := range receiver.Tracks() {
				collectReceiverStats(report, getter, track.SSRC(), kind, now)
			}
		}
	}
}

func collectSenderStats(report webrtc.StatsReport, getter stats.Getter, ssrc webrtc.SSRC, kind string, trackID string, now webrtc.StatsTimestamp) {
	if ssrc == 0 {
		return
	}
	s := getter.Get(uint32(ssrc))
	if s == nil {
		return
	}

	outboundID := fmt.Sprintf("outbound-rtp-%d", ssrc)
	remoteID := fmt.Sprintf("remote-inbound-rtp-%d", ssrc)
	remote := s.RemoteInboundRTPStreamStats
	hasRemote := remote.RoundTripTimeMeasurements > 0 || remote.PacketsReceived > 0

	outbound := webrtc.OutboundRTPStreamStats{
		Timestamp:   now,
		Type:        webrtc.StatsTypeOutboundRTP,
		ID:          outboundID,
		SSRC:        ssrc,
		Kind:        kind,
		TransportID: transportStatsID,
		FIRCount:    s.OutboundRTPStreamStats.FIRCount,
		PLICount:    s.OutboundRTPStreamStats.PLICount,
		NACKCount:   s.OutboundRTPStreamStats.NACKCount,
		PacketsSent: uint32(s.OutboundRTPStreamStats.PacketsSent),
		BytesSent:   s.OutboundRTPStreamStats.BytesSent,
		TrackID:     trackID,
	}
	if hasRemote {
		outbound.RemoteID = remoteID
	}
	report[outboundID] = outbound

	if !hasRemote {
		return
	}
	report[remoteID] = webrtc.RemoteInboundRTPStreamStats{
		Timestamp:       now,
		Type:            webrtc.StatsTypeRemoteInboundRTP,
		ID:              remoteID,
		SSRC:            ssrc,
		Kind:            kind,
		TransportID:     transportStatsID,
		PacketsReceived: uint32(remote.PacketsReceived),
		PacketsLost:     int32(remote.PacketsLost),
		Jitter:          remote.Jitter,
		LocalID:         outboundID,
		RoundTripTime:   remote.RoundTripTime.Seconds(),
		FractionLost:    remote.FractionLost,
	}
}

func collectReceiverStats(report webrtc.StatsReport, getter stats.Getter, ssrc webrtc.SSRC, kind string, now webrtc.StatsTimestamp) {
	if ssrc == 0 {
		return
	}
	s := getter.Get(uint32(ssrc))
	if s == nil {
		return
	}

	inboundID := fmt.Sprintf("inbound-rtp-%d", ssrc)
	report[inboundID] = webrtc.InboundRTPStreamStats{
		Timestamp:       now,
		Type:            webrtc.StatsTypeInboundRTP,
		ID:              inboundID,
		SSRC:            ssrc,
		Kind:            kind,
		TransportID:     transportStatsID,
		FIRCount:        s.InboundRTPStreamStats.FIRCount,
		PLICount:        s.InboundRTPStreamStats.PLICount,
		NACKCount:       s.InboundRTPStreamStats.NACKCount,
		PacketsReceived: uint32(s.InboundRTPStreamStats.PacketsReceived),
		PacketsLost:     int32(s.InboundRTPStreamStats.PacketsLost),
		Jitter:          s.InboundRTPStreamStats.Jitter,
		BytesReceived:   s.InboundRTPStreamStats.BytesReceived,
	}

	// remote-outbound only exists once a sender report came in
	remote := s.RemoteOutboundRTPStreamStats
	if remote.ReportsSent == 0 {
		return
	}
	remoteID := fmt.Sprintf("remote-outbound-rtp-%d", ssrc)
	report[remoteID] = webrtc.RemoteOutboundRTPStreamStats{
		Timestamp:       now,
		Type:            webrtc.StatsTypeRemoteOutboundRTP,
		ID:              remoteID,
		SSRC:            ssrc,
		Kind:            kind,
		TransportID:     transportStatsID,
		PacketsSent:     uint32(remote.PacketsSent),
		BytesSent:       remote.BytesSent,
		LocalID:         inboundID,
		RemoteTimestamp: statsTimestamp(remote.RemoteTimeStamp),
	}
}
