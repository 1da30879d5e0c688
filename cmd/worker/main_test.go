package main

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/handler-worker/pkg/config"
	"github.com/livekit/handler-worker/pkg/rtc"
	"github.com/livekit/handler-worker/pkg/service"
)

func startTestWorker(t *testing.T) string {
	conf, err := config.NewConfig("worker:\n  min_client_version: 0.1.0", true, nil, nil)
	require.NoError(t, err)
	rtcConf, err := rtc.NewWebRTCConfig(&conf.RTC)
	require.NoError(t, err)
	engine, err := rtc.NewEngine(rtcConf, logger.GetLogger())
	require.NoError(t, err)
	svc, err := service.NewWorkerService(conf, engine, rtc.NewStaticTrackSource())
	require.NoError(t, err)

	server := httptest.NewServer(svc)
	t.Cleanup(func() {
		svc.Stop()
		server.Close()
	})
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestFetchDump(t *testing.T) {
	url := startTestWorker(t)

	// a second orchestrator connection owns a handler; dumps are per connection
	conn, _, err := websocket.DefaultDialer.Dial(url+"?version=0.1.0", nil)
	require.NoError(t, err)
	defer conn.Close()

	dump, err := fetchDump(url)
	require.NoError(t, err)
	require.Empty(t, dump.HandlerIDs)
	require.NotNil(t, dump.Node)

	printDump(dump)
}

func TestFetchDump_Unreachable(t *testing.T) {
	_, err := fetchDump("ws://127.0.0.1:1")
	require.Error(t, err)
}
