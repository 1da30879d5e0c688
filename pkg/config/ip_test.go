package config

import (
	"context"
	"net"
	"testing"

	"github.com/pion/stun"
	"github.com/stretchr/testify/require"
)

func TestMappedIPv4(t *testing.T) {
	t.Run("ipv4", func(t *testing.T) {
		m, err := stun.Build(stun.TransactionID, stun.BindingSuccess, &stun.XORMappedAddress{
			IP:   net.IPv4(203, 0, 113, 7),
			Port: 40000,
		})
		require.NoError(t, err)

		ip, err := mappedIPv4(m)
		require.NoError(t, err)
		require.Equal(t, "203.0.113.7", ip)
	})

	t.Run("ipv6 only", func(t *testing.T) {
		m, err := stun.Build(stun.TransactionID, stun.BindingSuccess, &stun.XORMappedAddress{
			IP:   net.ParseIP("2001:db8::1"),
			Port: 40000,
		})
		require.NoError(t, err)

		_, err = mappedIPv4(m)
		require.ErrorIs(t, err, ErrNoIPv4Mapping)
	})

	t.Run("missing attribute", func(t *testing.T) {
		m, err := stun.Build(stun.TransactionID, stun.BindingSuccess)
		require.NoError(t, err)

		_, err = mappedIPv4(m)
		require.Error(t, err)
	})
}

func TestResolveNodeIP_NoLookup(t *testing.T) {
	conf := &Config{}
	conf.RTC.UseExternalIP = false
	require.NoError(t, conf.ResolveNodeIP(context.Background()))
	require.Empty(t, conf.RTC.NodeIP)

	// an explicit node ip wins over discovery
	conf.RTC.UseExternalIP = true
	conf.RTC.NodeIP = "10.0.0.1"
	conf.RTC.STUNServers = []string{"127.0.0.1:1"}
	require.NoError(t, conf.ResolveNodeIP(context.Background()))
	require.Equal(t, "10.0.0.1", conf.RTC.NodeIP)
}
