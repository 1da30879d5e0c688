package config

import (
	"context"
	"strings"
	"time"

	"github.com/pion/stun"
	"github.com/pkg/errors"

	"github.com/livekit/protocol/logger"
)

const (
	stunRounds     = 3
	stunRetryDelay = 500 * time.Millisecond
)

var ErrNoIPv4Mapping = errors.New("STUN response has no IPv4 mapped address")

// ResolveNodeIP fills in NodeIP from STUN when external IP discovery is requested.
// Every configured server is tried in order, for a few rounds.
func (conf *Config) ResolveNodeIP(ctx context.Context) error {
	if conf.RTC.NodeIP != "" || !conf.RTC.UseExternalIP {
		return nil
	}
	servers := conf.RTC.STUNServers
	if len(servers) == 0 {
		servers = DefaultStunServers
	}

	var lastErr error
	for round := 0; round < stunRounds; round++ {
		for _, server := range servers {
			ip, err := queryMappedIP(server)
			if err == nil {
				logger.Infow("resolved node IP", "ip", ip, "stunServer", server)
				conf.RTC.NodeIP = ip
				return nil
			}
			logger.Debugw("STUN lookup failed", "stunServer", server, "error", err)
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(stunRetryDelay):
		}
	}
	return errors.Wrap(lastErr, "could not resolve node IP")
}

// queryMappedIP sends one binding request, the client retransmits until its own timeout
func queryMappedIP(server string) (string, error) {
	c, err := stun.Dial("udp4", strings.TrimPrefix(server, "stun:"))
	if err != nil {
		return "", err
	}
	defer c.Close()

	req, err := stun.Build(stun.TransactionID, stun.BindingRequest)
	if err != nil {
		return "", err
	}

	var ip string
	var resErr error
	if err := c.Do(req, func(res stun.Event) {
		if res.Error != nil {
			resErr = res.Error
			return
		}
		ip, resErr = mappedIPv4(res.Message)
	}); err != nil {
		return "", err
	}
	return ip, resErr
}

func mappedIPv4(m *stun.Message) (string, error) {
	var addr stun.XORMappedAddress
	if err := addr.GetFrom(m); err != nil {
		return "", err
	}
	ip := addr.IP.To4()
	if ip == nil {
		return "", ErrNoIPv4Mapping
	}
	return ip.String(), nil
}
