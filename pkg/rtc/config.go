package rtc

import (
	"fmt"
	"strings"

	"github.com/pion/ice/v2"
	"github.com/pion/webrtc/v3"

	"github.com/livekit/handler-worker/pkg/config"
)

type WebRTCConfig struct {
	Configuration webrtc.Configuration
	SettingEngine webrtc.SettingEngine
}

func NewWebRTCConfig(conf *config.RTCConfig) (*WebRTCConfig, error) {
	c := webrtc.Configuration{
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
	}
	s := webrtc.SettingEngine{}

	if conf.ICEPortRangeStart != 0 && conf.ICEPortRangeEnd != 0 {
		if err := s.SetEphemeralUDPPortRange(conf.ICEPortRangeStart, conf.ICEPortRangeEnd); err != nil {
			return nil, err
		}
	}

	for _, server := range conf.ICEServers {
		c.ICEServers = append(c.ICEServers, webrtc.ICEServer{
			URLs:       server.URLs,
			Username:   server.Username,
			Credential: server.Credential,
		})
	}
	if len(conf.STUNServers) > 0 {
		iceUrls := make([]string, 0, len(conf.STUNServers))
		for _, stunServer := range conf.STUNServers {
			if !strings.HasPrefix(stunServer, "stun:") {
				stunServer = fmt.Sprintf("stun:%s", stunServer)
			}
			iceUrls = append(iceUrls, stunServer)
		}
		c.ICEServers = append(c.ICEServers, webrtc.ICEServer{URLs: iceUrls})
	}

	if conf.ICETransportPolicy != "" {
		c.ICETransportPolicy = webrtc.NewICETransportPolicy(conf.ICETransportPolicy)
	}

	if conf.NodeIP != "" && conf.UseExternalIP {
		s.SetNAT1To1IPs([]string{conf.NodeIP}, webrtc.ICECandidateTypeHost)
	}

	if conf.UseMDNS {
		s.SetICEMulticastDNSMode(ice.MulticastDNSModeQueryAndGather)
	} else {
		s.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	}

	if conf.IPv4Only {
		s.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4, webrtc.NetworkTypeTCP4})
	}

	return &WebRTCConfig{
		Configuration: c,
		SettingEngine: s,
	}, nil
}

// WithOverrides returns a copy of the session configuration with the given ICE settings applied.
// Empty values keep the configured defaults.
func (c *WebRTCConfig) WithOverrides(iceServers []webrtc.ICEServer, iceTransportPolicy string) webrtc.Configuration {
	conf := c.Configuration
	if len(iceServers) > 0 {
		conf.ICEServers = iceServers
	}
	if iceTransportPolicy != "" {
		conf.ICETransportPolicy = webrtc.NewICETransportPolicy(iceTransportPolicy)
	}
	return conf
}
