package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"

	"github.com/livekit/handler-worker/pkg/rtc/types"
	"github.com/livekit/handler-worker/pkg/telemetry/prometheus"
)

type sessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type addTrackRequest struct {
	PlayerID string `json:"playerId"`
	Kind     string `json:"kind"`
}

type addTrackResponse struct {
	TrackID string `json:"trackId"`
}

type trackRequest struct {
	TrackID string `json:"trackId"`
}

type midRequest struct {
	Mid string `json:"mid"`
}

// HandleRequest runs req against the session and returns the response data.
// Errors are *Error values carrying the kind reported to the orchestrator.
func (h *Handler) HandleRequest(ctx context.Context, req Request) (interface{}, error) {
	method := ParseMethod(req.Method)
	result, err := h.handleRequest(ctx, method, req)

	status := prometheus.StatusSuccess
	if err != nil {
		status = KindOf(err).String()
		h.logger.Debugw("request failed", "method", req.Method, "error", err)
	}
	prometheus.RecordRequest(method.String(), status)
	return result, err
}

func (h *Handler) handleRequest(_ context.Context, method Method, req Request) (interface{}, error) {
	if h.closed.Load() {
		return nil, engineError(ErrHandlerClosed)
	}

	switch method {
	case MethodGetLocalDescription:
		return h.getLocalDescription(), nil

	case MethodAddTrack:
		var data addTrackRequest
		if err := decodeData(req.Data, &data); err != nil {
			return nil, err
		}
		return h.addTrack(data.PlayerID, data.Kind)

	case MethodRemoveTrack:
		trackID, err := decodeTrackID(req.Data)
		if err != nil {
			return nil, err
		}
		return nil, h.removeTrack(trackID)

	case MethodSetLocalDescription, MethodSetRemoteDescription:
		desc, err := decodeSessionDescription(req.Data)
		if err != nil {
			return nil, err
		}
		if method == MethodSetLocalDescription {
			err = h.params.PeerConnection.SetLocalDescription(desc)
		} else {
			err = h.params.PeerConnection.SetRemoteDescription(desc)
		}
		if err != nil {
			return nil, engineError(err)
		}
		return nil, nil

	case MethodCreateOffer:
		offer, err := h.params.PeerConnection.CreateOffer()
		if err != nil {
			return nil, engineError(err)
		}
		return &sessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil

	case MethodCreateAnswer:
		answer, err := h.params.PeerConnection.CreateAnswer()
		if err != nil {
			return nil, engineError(err)
		}
		return &sessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil

	case MethodGetMid:
		trackID, err := decodeTrackID(req.Data)
		if err != nil {
			return nil, err
		}
		return h.getMid(trackID)

	case MethodGetTransportStats:
		return serializeStats(h.params.PeerConnection.GetStats(), transportStatsFilter), nil

	case MethodGetSenderStats, MethodGetReceiverStats:
		var data midRequest
		if err := decodeData(req.Data, &data); err != nil {
			return nil, err
		}
		if data.Mid == "" {
			return nil, badRequest("missing mid")
		}
		tr := h.transceiverByMid(data.Mid)
		if tr == nil {
			return nil, notFound(ErrTransceiverNotFound, data.Mid)
		}
		if method == MethodGetSenderStats {
			return serializeStats(h.params.PeerConnection.GetStats(), statsFilter{
				types: senderStatsTypes,
				ssrcs: nonNil(tr.SenderSSRCs()),
			}), nil
		}
		return serializeStats(h.params.PeerConnection.GetStats(), statsFilter{
			types: receiverStatsTypes,
			ssrcs: nonNil(tr.ReceiverSSRCs()),
		}), nil

	case MethodCreateDataChannel:
		var options DataChannelOptions
		if err := decodeData(req.Data, &options); err != nil {
			return nil, err
		}
		return h.createDataChannel(req.DataChannelID, options)

	default:
		return nil, newError(KindUnsupportedOperation, withID(ErrUnknownMethod, req.Method))
	}
}

func (h *Handler) getLocalDescription() *sessionDescription {
	desc := h.params.PeerConnection.LocalDescription()
	if desc == nil {
		return nil
	}
	return &sessionDescription{Type: desc.Type.String(), SDP: desc.SDP}
}

func (h *Handler) addTrack(playerID string, kind string) (*addTrackResponse, error) {
	if playerID == "" {
		return nil, badRequest("missing playerId")
	}
	if kind == "" {
		return nil, badRequest("missing kind")
	}
	codecType := webrtc.NewRTPCodecType(kind)
	if codecType == 0 {
		return nil, badRequest("invalid kind %q", kind)
	}

	track := h.params.TrackSource.ResolveTrack(playerID, codecType)
	if track == nil {
		return nil, notFound(ErrTrackUnavailable, playerID)
	}

	tr, err := h.params.PeerConnection.AddTrack(track)
	if err != nil {
		return nil, engineError(err)
	}

	if err := h.transceivers.Insert(track.ID(), tr); err != nil {
		// nothing may keep sending on a transceiver the registry does not know about
		if stopErr := tr.StopSending(); stopErr != nil {
			h.logger.Warnw("could not stop unregistered transceiver", stopErr, "trackID", track.ID())
		}
		if errors.Is(err, ErrRegistrySealed) {
			return nil, engineError(ErrHandlerClosed)
		}
		return nil, badRequest("track %s already added", track.ID())
	}
	prometheus.AddTransceiver()

	h.logger.Debugw("track added", "trackID", track.ID(), "playerID", playerID, "kind", kind)
	return &addTrackResponse{TrackID: track.ID()}, nil
}

func (h *Handler) removeTrack(trackID string) error {
	tr, ok := h.transceivers.Lookup(trackID)
	if !ok {
		return notFound(ErrTrackNotFound, trackID)
	}

	// stop the send path before forgetting the transceiver
	if err := tr.StopSending(); err != nil {
		return engineError(err)
	}

	if _, removed := h.transceivers.Remove(trackID); removed {
		prometheus.SubTransceiver(1)
	}
	h.logger.Debugw("track removed", "trackID", trackID)
	return nil
}

func (h *Handler) getMid(trackID string) (*string, error) {
	tr, ok := h.transceivers.Lookup(trackID)
	if !ok {
		return nil, notFound(ErrTrackNotFound, trackID)
	}
	mid := tr.Mid()
	if mid == "" {
		return nil, nil
	}
	return &mid, nil
}

func (h *Handler) transceiverByMid(mid string) types.Transceiver {
	for _, tr := range h.params.PeerConnection.Transceivers() {
		if tr.Mid() == mid {
			return tr
		}
	}
	return nil
}

func (h *Handler) createDataChannel(id string, options DataChannelOptions) (*DataChannelDescriptor, error) {
	if id == "" {
		return nil, badRequest("missing dataChannelId")
	}
	if err := options.validate(); err != nil {
		return nil, err
	}

	// the engine takes a repeated negotiated stream id until the association is up
	h.createDataChannelLock.Lock()
	defer h.createDataChannelLock.Unlock()

	if _, ok := h.dataChannels.Lookup(id); ok {
		return nil, newError(KindBadRequest, withID(ErrDuplicateDataChannel, id))
	}
	if h.streamIDInUse(*options.ID) {
		return nil, engineError(fmt.Errorf("%w: %d", ErrStreamIDInUse, *options.ID))
	}

	dc, err := h.params.PeerConnection.CreateDataChannel(options.Label, options.toInit())
	if err != nil {
		return nil, engineError(err)
	}

	entry := newDataChannelEntry(id, dc)
	if err := h.dataChannels.Insert(id, entry); err != nil {
		_ = dc.Close()
		if errors.Is(err, ErrRegistrySealed) {
			return nil, engineError(ErrHandlerClosed)
		}
		return nil, newError(KindBadRequest, withID(ErrDuplicateDataChannel, id))
	}
	prometheus.AddDataChannel()

	// registered first, pion raises open right away for a channel that is already open
	h.wireDataChannel(entry)

	h.logger.Debugw("data channel created", "dataChannelID", id, "label", options.Label, "streamID", options.ID)
	descriptor := describeDataChannel(dc)
	return &descriptor, nil
}

func (h *Handler) streamIDInUse(streamID uint16) bool {
	for _, entry := range h.dataChannels.Values() {
		if id := entry.dc.ID(); id != nil && *id == streamID {
			return true
		}
	}
	return false
}

func decodeData(data json.RawMessage, v interface{}) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return badRequest("invalid data: %v", err)
	}
	return nil
}

func decodeTrackID(data json.RawMessage) (string, error) {
	var req trackRequest
	if err := decodeData(data, &req); err != nil {
		return "", err
	}
	if req.TrackID == "" {
		return "", badRequest("missing trackId")
	}
	return req.TrackID, nil
}

func decodeSessionDescription(data json.RawMessage) (webrtc.SessionDescription, error) {
	var req sessionDescription
	if err := decodeData(data, &req); err != nil {
		return webrtc.SessionDescription{}, err
	}

	sdpType := webrtc.NewSDPType(req.Type)
	if sdpType == webrtc.SDPType(webrtc.Unknown) {
		return webrtc.SessionDescription{}, badRequest("invalid description type %q", req.Type)
	}
	if sdpType != webrtc.SDPTypeRollback {
		parsed := &sdp.SessionDescription{}
		if err := parsed.Unmarshal([]byte(req.SDP)); err != nil {
			return webrtc.SessionDescription{}, badRequest("invalid sdp: %v", err)
		}
	}

	return webrtc.SessionDescription{Type: sdpType, SDP: req.SDP}, nil
}

func nonNil(ssrcs []webrtc.SSRC) []webrtc.SSRC {
	if ssrcs == nil {
		return []webrtc.SSRC{}
	}
	return ssrcs
}
