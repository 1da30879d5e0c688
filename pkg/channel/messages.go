package channel

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Internal carries routing ids chosen by the orchestrator.
type Internal struct {
	HandlerID     string `json:"handlerId,omitempty"`
	DataChannelID string `json:"dataChannelId,omitempty"`
}

type Request struct {
	ID       uint32          `json:"id"`
	Method   string          `json:"method"`
	Internal Internal        `json:"internal"`
	Data     json.RawMessage `json:"data,omitempty"`
}

type Notification struct {
	Event    string          `json:"event"`
	Internal Internal        `json:"internal"`
	Data     json.RawMessage `json:"data,omitempty"`
}

type Response struct {
	ID       uint32      `json:"id"`
	Accepted bool        `json:"accepted,omitempty"`
	Data     interface{} `json:"data,omitempty"`
	Error    string      `json:"error,omitempty"`
	Reason   string      `json:"reason,omitempty"`
}

type OutboundNotification struct {
	TargetID string      `json:"targetId"`
	Event    string      `json:"event"`
	Data     interface{} `json:"data,omitempty"`
}

// inbound is either a request (id and method) or a notification (event)
type inbound struct {
	ID       *uint32         `json:"id"`
	Method   string          `json:"method"`
	Event    string          `json:"event"`
	Internal Internal        `json:"internal"`
	Data     json.RawMessage `json:"data"`
}

var (
	ErrChannelClosed    = errors.New("channel closed")
	ErrMalformedMessage = errors.New("malformed message")
)

const (
	errorNameBadRequest  = "BadRequest"
	errorNameEngineError = "EngineError"
)

// ErrorName is the error name put on the wire for err. Errors that do not
// name themselves are reported as engine errors.
func ErrorName(err error) string {
	var named interface{ ErrorName() string }
	if errors.As(err, &named) {
		return named.ErrorName()
	}
	if errors.Is(err, ErrMalformedMessage) {
		return errorNameBadRequest
	}
	return errorNameEngineError
}

func parseInbound(payload []byte) (*Request, *Notification, error) {
	var msg inbound
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch {
	case msg.Method != "":
		if msg.ID == nil {
			return nil, nil, fmt.Errorf("%w: request without id", ErrMalformedMessage)
		}
		return &Request{
			ID:       *msg.ID,
			Method:   msg.Method,
			Internal: msg.Internal,
			Data:     msg.Data,
		}, nil, nil

	case msg.Event != "":
		return nil, &Notification{
			Event:    msg.Event,
			Internal: msg.Internal,
			Data:     msg.Data,
		}, nil

	default:
		if msg.ID != nil {
			// answerable, so the caller can reply with the error
			return &Request{ID: *msg.ID}, nil, fmt.Errorf("%w: missing method", ErrMalformedMessage)
		}
		return nil, nil, fmt.Errorf("%w: neither request nor notification", ErrMalformedMessage)
	}
}
