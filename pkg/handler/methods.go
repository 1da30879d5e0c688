package handler

// Method is a request the orchestrator sends to a handler.
type Method int

const (
	MethodUnknown Method = iota
	MethodGetLocalDescription
	MethodAddTrack
	MethodRemoveTrack
	MethodSetLocalDescription
	MethodSetRemoteDescription
	MethodCreateOffer
	MethodCreateAnswer
	MethodGetMid
	MethodGetTransportStats
	MethodGetSenderStats
	MethodGetReceiverStats
	MethodCreateDataChannel
)

var methodNames = map[Method]string{
	MethodGetLocalDescription:  "handler.getLocalDescription",
	MethodAddTrack:             "handler.addTrack",
	MethodRemoveTrack:          "handler.removeTrack",
	MethodSetLocalDescription:  "handler.setLocalDescription",
	MethodSetRemoteDescription: "handler.setRemoteDescription",
	MethodCreateOffer:          "handler.createOffer",
	MethodCreateAnswer:         "handler.createAnswer",
	MethodGetMid:               "handler.getMid",
	MethodGetTransportStats:    "handler.getTransportStats",
	MethodGetSenderStats:       "handler.getSenderStats",
	MethodGetReceiverStats:     "handler.getReceiverStats",
	MethodCreateDataChannel:    "handler.createDataChannel",
}

var methodsByName = func() map[string]Method {
	m := make(map[string]Method, len(methodNames))
	for method, name := range methodNames {
		m[name] = method
	}
	return m
}()

func ParseMethod(name string) Method {
	return methodsByName[name]
}

func (m Method) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return "unknown"
}

// Event is an inbound notification from the orchestrator.
type Event int

const (
	EventUnknown Event = iota
	EventEnableTrack
	EventDisableTrack
	EventDataChannelSend
	EventDataChannelSendBinary
	EventDataChannelClose
	EventDataChannelSetBufferedAmountLowThreshold
)

var eventNames = map[Event]string{
	EventEnableTrack:                              "enableTrack",
	EventDisableTrack:                             "disableTrack",
	EventDataChannelSend:                          "datachannel.send",
	EventDataChannelSendBinary:                    "datachannel.sendBinary",
	EventDataChannelClose:                         "datachannel.close",
	EventDataChannelSetBufferedAmountLowThreshold: "datachannel.setBufferedAmountLowThreshold",
}

var eventsByName = func() map[string]Event {
	m := make(map[string]Event, len(eventNames))
	for event, name := range eventNames {
		m[name] = event
	}
	return m
}()

func ParseEvent(name string) Event {
	return eventsByName[name]
}

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return "unknown"
}

// outbound notification events
const (
	eventSignalingStateChange     = "signalingstatechange"
	eventICEGatheringStateChange  = "icegatheringstatechange"
	eventICEConnectionStateChange = "iceconnectionstatechange"

	eventOpen              = "open"
	eventClosing           = "closing"
	eventClose             = "close"
	eventMessage           = "message"
	eventBinary            = "binary"
	eventBufferedAmountLow = "bufferedamountlow"
	eventBufferedAmount    = "bufferedamount"
)
