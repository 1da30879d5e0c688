package handler

import (
	"github.com/pion/webrtc/v3"
	"github.com/thoas/go-funk"
)

type InboundRTPStats struct {
	Timestamp       float64          `json:"timestamp"`
	Type            webrtc.StatsType `json:"type"`
	ID              string           `json:"id"`
	SSRC            webrtc.SSRC      `json:"ssrc"`
	Kind            string           `json:"kind"`
	TransportID     string           `json:"transportId"`
	PacketsReceived uint32           `json:"packetsReceived"`
	PacketsLost     int32            `json:"packetsLost"`
	Jitter          float64          `json:"jitter"`
}

type OutboundRTPStats struct {
	Timestamp   float64          `json:"timestamp"`
	Type        webrtc.StatsType `json:"type"`
	ID          string           `json:"id"`
	SSRC        webrtc.SSRC      `json:"ssrc"`
	Kind        string           `json:"kind"`
	TransportID string           `json:"transportId"`
	PacketsSent uint32           `json:"packetsSent"`
	BytesSent   uint64           `json:"bytesSent"`
	TrackID     string           `json:"trackId"`
}

type RemoteInboundRTPStats struct {
	Timestamp       float64          `json:"timestamp"`
	Type            webrtc.StatsType `json:"type"`
	ID              string           `json:"id"`
	SSRC            webrtc.SSRC      `json:"ssrc"`
	Kind            string           `json:"kind"`
	TransportID     string           `json:"transportId"`
	PacketsReceived uint32           `json:"packetsReceived"`
	PacketsLost     int32            `json:"packetsLost"`
	Jitter          float64          `json:"jitter"`
	RoundTripTime   float64          `json:"roundTripTime"`
	FractionLost    float64          `json:"fractionLost"`
}

type RemoteOutboundRTPStats struct {
	Timestamp       float64          `json:"timestamp"`
	Type            webrtc.StatsType `json:"type"`
	ID              string           `json:"id"`
	SSRC            webrtc.SSRC      `json:"ssrc"`
	Kind            string           `json:"kind"`
	TransportID     string           `json:"transportId"`
	PacketsSent     uint32           `json:"packetsSent"`
	BytesSent       uint64           `json:"bytesSent"`
	RemoteTimestamp float64          `json:"remoteTimestamp"`
}

type TransportStats struct {
	Timestamp       float64          `json:"timestamp"`
	Type            webrtc.StatsType `json:"type"`
	ID              string           `json:"id"`
	PacketsSent     uint32           `json:"packetsSent"`
	PacketsReceived uint32           `json:"packetsReceived"`
	BytesSent       uint64           `json:"bytesSent"`
	BytesReceived   uint64           `json:"bytesReceived"`
	ICERole         string           `json:"iceRole"`
	DTLSState       string           `json:"dtlsState"`
}

// seconds since epoch, pion reports milliseconds
func statsTime(ts webrtc.StatsTimestamp) float64 {
	return float64(ts) / 1000
}

type statsFilter struct {
	types map[webrtc.StatsType]bool
	// nil matches any ssrc
	ssrcs []webrtc.SSRC
}

var (
	transportStatsFilter = statsFilter{
		types: map[webrtc.StatsType]bool{
			webrtc.StatsTypeInboundRTP:        true,
			webrtc.StatsTypeOutboundRTP:       true,
			webrtc.StatsTypeRemoteInboundRTP:  true,
			webrtc.StatsTypeRemoteOutboundRTP: true,
			webrtc.StatsTypeTransport:         true,
		},
	}
	senderStatsTypes = map[webrtc.StatsType]bool{
		webrtc.StatsTypeOutboundRTP:      true,
		webrtc.StatsTypeRemoteInboundRTP: true,
		webrtc.StatsTypeTransport:        true,
	}
	receiverStatsTypes = map[webrtc.StatsType]bool{
		webrtc.StatsTypeInboundRTP:        true,
		webrtc.StatsTypeRemoteOutboundRTP: true,
		webrtc.StatsTypeTransport:         true,
	}
)

func (f statsFilter) matchSSRC(ssrc webrtc.SSRC) bool {
	return f.ssrcs == nil || funk.Contains(f.ssrcs, ssrc)
}

// serializeStats flattens the supported entries of report, keyed by stat id
func serializeStats(report webrtc.StatsReport, filter statsFilter) map[string]interface{} {
	result := make(map[string]interface{})
	for id, stat := range report {
		if s := serializeStat(stat, filter); s != nil {
			result[id] = s
		}
	}
	return result
}

func serializeStat(stat webrtc.Stats, filter statsFilter) interface{} {
	switch s := stat.(type) {
	case webrtc.InboundRTPStreamStats:
		return serializeInbound(&s, filter)
	case *webrtc.InboundRTPStreamStats:
		return serializeInbound(s, filter)
	case webrtc.OutboundRTPStreamStats:
		return serializeOutbound(&s, filter)
	case *webrtc.OutboundRTPStreamStats:
		return serializeOutbound(s, filter)
	case webrtc.RemoteInboundRTPStreamStats:
		return serializeRemoteInbound(&s, filter)
	case *webrtc.RemoteInboundRTPStreamStats:
		return serializeRemoteInbound(s, filter)
	case webrtc.RemoteOutboundRTPStreamStats:
		return serializeRemoteOutbound(&s, filter)
	case *webrtc.RemoteOutboundRTPStreamStats:
		return serializeRemoteOutbound(s, filter)
	case webrtc.TransportStats:
		return serializeTransport(&s, filter)
	case *webrtc.TransportStats:
		return serializeTransport(s, filter)
	default:
		return nil
	}
}

func serializeInbound(s *webrtc.InboundRTPStreamStats, filter statsFilter) interface{} {
	if !filter.types[webrtc.StatsTypeInboundRTP] || !filter.matchSSRC(s.SSRC) {
		return nil
	}
	return &InboundRTPStats{
		Timestamp:       statsTime(s.Timestamp),
		Type:            webrtc.StatsTypeInboundRTP,
		ID:              s.ID,
		SSRC:            s.SSRC,
		Kind:            s.Kind,
		TransportID:     s.TransportID,
		PacketsReceived: s.PacketsReceived,
		PacketsLost:     s.PacketsLost,
		Jitter:          s.Jitter,
	}
}

func serializeOutbound(s *webrtc.OutboundRTPStreamStats, filter statsFilter) interface{} {
	if !filter.types[webrtc.StatsTypeOutboundRTP] || !filter.matchSSRC(s.SSRC) {
		return nil
	}
	return &OutboundRTPStats{
		Timestamp:   statsTime(s.Timestamp),
		Type:        webrtc.StatsTypeOutboundRTP,
		ID:          s.ID,
		SSRC:        s.SSRC,
		Kind:        s.Kind,
		TransportID: s.TransportID,
		PacketsSent: s.PacketsSent,
		BytesSent:   s.BytesSent,
		TrackID:     s.TrackID,
	}
}

func serializeRemoteInbound(s *webrtc.RemoteInboundRTPStreamStats, filter statsFilter) interface{} {
	if !filter.types[webrtc.StatsTypeRemoteInboundRTP] || !filter.matchSSRC(s.SSRC) {
		return nil
	}
	return &RemoteInboundRTPStats{
		Timestamp:       statsTime(s.Timestamp),
		Type:            webrtc.StatsTypeRemoteInboundRTP,
		ID:              s.ID,
		SSRC:            s.SSRC,
		Kind:            s.Kind,
		TransportID:     s.TransportID,
		PacketsReceived: s.PacketsReceived,
		PacketsLost:     s.PacketsLost,
		Jitter:          s.Jitter,
		RoundTripTime:   s.RoundTripTime,
		FractionLost:    s.FractionLost,
	}
}

func serializeRemoteOutbound(s *webrtc.RemoteOutboundRTPStreamStats, filter statsFilter) interface{} {
	if !filter.types[webrtc.StatsTypeRemoteOutboundRTP] || !filter.matchSSRC(s.SSRC) {
		return nil
	}
	return &RemoteOutboundRTPStats{
		Timestamp:       statsTime(s.Timestamp),
		Type:            webrtc.StatsTypeRemoteOutboundRTP,
		ID:              s.ID,
		SSRC:            s.SSRC,
		Kind:            s.Kind,
		TransportID:     s.TransportID,
		PacketsSent:     s.PacketsSent,
		BytesSent:       s.BytesSent,
		RemoteTimestamp: statsTime(s.RemoteTimestamp),
	}
}

// transport entries are never filtered by ssrc
func serializeTransport(s *webrtc.TransportStats, filter statsFilter) interface{} {
	if !filter.types[webrtc.StatsTypeTransport] {
		return nil
	}
	return &TransportStats{
		Timestamp:       statsTime(s.Timestamp),
		Type:            webrtc.StatsTypeTransport,
		ID:              s.ID,
		PacketsSent:     s.PacketsSent,
		PacketsReceived: s.PacketsReceived,
		BytesSent:       s.BytesSent,
		BytesReceived:   s.BytesReceived,
		ICERole:         s.ICERole.String(),
		DTLSState:       s.DTLSState.String(),
	}
}
