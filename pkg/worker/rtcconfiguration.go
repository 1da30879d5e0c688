package worker

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v3"

	"github.com/livekit/handler-worker/pkg/config"
)

type createHandlerRequest struct {
	RTCConfiguration *rtcConfiguration `json:"rtcConfiguration,omitempty"`
}

type rtcConfiguration struct {
	ICEServers         []iceServer `json:"iceServers,omitempty"`
	ICETransportPolicy string      `json:"iceTransportPolicy,omitempty"`
}

type iceServer struct {
	URLs       iceURLs `json:"urls"`
	Username   string  `json:"username,omitempty"`
	Credential string  `json:"credential,omitempty"`
}

// iceURLs accepts a single url or a list, as browsers do
type iceURLs []string

func (u *iceURLs) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*u = iceURLs{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	*u = list
	return nil
}

func (r *createHandlerRequest) decode(data json.RawMessage) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, r); err != nil {
		return fmt.Errorf("invalid data: %v", err)
	}
	if r.RTCConfiguration == nil {
		return nil
	}

	for _, server := range r.RTCConfiguration.ICEServers {
		if len(server.URLs) == 0 {
			return ErrInvalidICEServers
		}
	}
	switch r.RTCConfiguration.ICETransportPolicy {
	case "", config.ICETransportPolicyAll, config.ICETransportPolicyRelay:
	default:
		return ErrInvalidICEPolicy
	}
	return nil
}

func (r *createHandlerRequest) iceServers() []webrtc.ICEServer {
	if r.RTCConfiguration == nil {
		return nil
	}
	servers := make([]webrtc.ICEServer, 0, len(r.RTCConfiguration.ICEServers))
	for _, s := range r.RTCConfiguration.ICEServers {
		server := webrtc.ICEServer{
			URLs:     s.URLs,
			Username: s.Username,
		}
		if s.Credential != "" {
			server.Credential = s.Credential
			server.CredentialType = webrtc.ICECredentialTypePassword
		}
		servers = append(servers, server)
	}
	return servers
}

func (r *createHandlerRequest) iceTransportPolicy() string {
	if r.RTCConfiguration == nil {
		return ""
	}
	return r.RTCConfiguration.ICETransportPolicy
}
