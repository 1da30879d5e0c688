package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/livekit/handler-worker/pkg/telemetry/prometheus"
)

// HandleNotification applies an inbound notification. Failures are never answered,
// the caller only logs them.
func (h *Handler) HandleNotification(ctx context.Context, n Notification) error {
	event := ParseEvent(n.Event)
	err := h.handleNotification(ctx, event, n)

	status := prometheus.StatusSuccess
	if err != nil {
		status = KindOf(err).String()
	}
	prometheus.RecordNotification(event.String(), status)
	return err
}

func (h *Handler) handleNotification(_ context.Context, event Event, n Notification) error {
	if h.closed.Load() {
		return engineError(ErrHandlerClosed)
	}

	switch event {
	case EventEnableTrack:
		h.logger.Warnw("enabling track not implemented", nil)
		return nil

	case EventDisableTrack:
		h.logger.Warnw("disabling track not implemented", nil)
		return nil

	case EventDataChannelSend:
		entry, err := h.lookupDataChannel(n.DataChannelID)
		if err != nil {
			return err
		}
		var text string
		if err := decodeData(n.Data, &text); err != nil {
			return err
		}
		if err := entry.dc.SendText(text); err != nil {
			return engineError(err)
		}
		h.notify(entry.id, eventBufferedAmount, entry.dc.BufferedAmount())
		return nil

	case EventDataChannelSendBinary:
		entry, err := h.lookupDataChannel(n.DataChannelID)
		if err != nil {
			return err
		}
		var encoded string
		if err := decodeData(n.Data, &encoded); err != nil {
			return err
		}
		payload, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return badRequest("invalid base64 payload: %v", err)
		}
		if err := entry.dc.Send(payload); err != nil {
			return engineError(err)
		}
		h.notify(entry.id, eventBufferedAmount, entry.dc.BufferedAmount())
		return nil

	case EventDataChannelClose:
		if n.DataChannelID == "" {
			return badRequest("missing dataChannelId")
		}
		entry, ok := h.dataChannels.Remove(n.DataChannelID)
		if !ok {
			return nil
		}
		prometheus.SubDataChannel(1)
		// removed first, so the engine's closing and close events for it are not reported
		if err := entry.dc.Close(); err != nil {
			h.logger.Debugw("could not close data channel", "dataChannelID", entry.id, "error", err)
		}
		return nil

	case EventDataChannelSetBufferedAmountLowThreshold:
		entry, err := h.lookupDataChannel(n.DataChannelID)
		if err != nil {
			return err
		}
		var threshold uint64
		if len(n.Data) == 0 {
			return badRequest("missing threshold")
		}
		if err := json.Unmarshal(n.Data, &threshold); err != nil {
			return badRequest("invalid threshold: %v", err)
		}
		entry.dc.SetBufferedAmountLowThreshold(threshold)
		return nil

	default:
		return newError(KindUnsupportedOperation, withID(ErrUnknownEvent, n.Event))
	}
}

func (h *Handler) lookupDataChannel(id string) (*dataChannelEntry, error) {
	if id == "" {
		return nil, badRequest("missing dataChannelId")
	}
	entry, ok := h.dataChannels.Lookup(id)
	if !ok {
		return nil, notFound(ErrDataChannelNotFound, id)
	}
	return entry, nil
}
