package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/handler-worker/pkg/channel"
	"github.com/livekit/handler-worker/pkg/config"
	"github.com/livekit/handler-worker/pkg/handler"
	"github.com/livekit/handler-worker/pkg/rtc"
)

type nopNotifier struct{}

func (nopNotifier) Notify(string, string, interface{}) error { return nil }

func newTestWorker(t *testing.T) *Worker {
	conf, err := rtc.NewWebRTCConfig(&config.RTCConfig{})
	require.NoError(t, err)
	engine, err := rtc.NewEngine(conf, logger.GetLogger())
	require.NoError(t, err)

	w, err := NewWorker(Params{
		Engine:                 engine,
		TrackSource:            rtc.NewStaticTrackSource(),
		Notifier:               nopNotifier{},
		ClosedHandlerCacheSize: 8,
	})
	require.NoError(t, err)
	t.Cleanup(w.Close)
	return w
}

func call(t *testing.T, w *Worker, method string, handlerID string, data interface{}) (interface{}, error) {
	req := &channel.Request{
		ID:       1,
		Method:   method,
		Internal: channel.Internal{HandlerID: handlerID},
	}
	if data != nil {
		b, err := json.Marshal(data)
		require.NoError(t, err)
		req.Data = b
	}
	return w.HandleRequest(context.Background(), req)
}

func requireKind(t *testing.T, kind handler.ErrorKind, err error) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, handler.KindOf(err), err.Error())
}

func TestCreateHandler(t *testing.T) {
	w := newTestWorker(t)

	_, err := call(t, w, MethodCreateHandler, "h1", map[string]interface{}{
		"rtcConfiguration": map[string]interface{}{
			"iceServers": []interface{}{
				map[string]interface{}{"urls": "stun:stun.l.google.com:19302"},
				map[string]interface{}{"urls": []string{"turn:turn.example.com:3478"}, "username": "u", "credential": "p"},
			},
			"iceTransportPolicy": "all",
		},
	})
	require.NoError(t, err)
	require.Equal(t, 1, w.NumHandlers())

	t.Run("without configuration", func(t *testing.T) {
		_, err := call(t, w, MethodCreateHandler, "h2", nil)
		require.NoError(t, err)
		require.Equal(t, 2, w.NumHandlers())
	})

	t.Run("duplicate id", func(t *testing.T) {
		_, err := call(t, w, MethodCreateHandler, "h1", nil)
		requireKind(t, handler.KindBadRequest, err)
		require.True(t, errors.Is(err, ErrDuplicateHandler))
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := call(t, w, MethodCreateHandler, "", nil)
		requireKind(t, handler.KindBadRequest, err)
	})

	t.Run("invalid configuration", func(t *testing.T) {
		_, err := call(t, w, MethodCreateHandler, "h3", map[string]interface{}{
			"rtcConfiguration": map[string]interface{}{"iceTransportPolicy": "nohost"},
		})
		requireKind(t, handler.KindBadRequest, err)

		_, err = call(t, w, MethodCreateHandler, "h3", map[string]interface{}{
			"rtcConfiguration": map[string]interface{}{
				"iceServers": []interface{}{map[string]interface{}{"urls": []string{}}},
			},
		})
		requireKind(t, handler.KindBadRequest, err)
		require.Equal(t, 2, w.NumHandlers())
	})
}

func TestRouting(t *testing.T) {
	w := newTestWorker(t)
	_, err := call(t, w, MethodCreateHandler, "h1", nil)
	require.NoError(t, err)

	res, err := call(t, w, "handler.createOffer", "h1", nil)
	require.NoError(t, err)
	b, err := json.Marshal(res)
	require.NoError(t, err)
	var offer map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &offer))
	require.Equal(t, "offer", offer["type"])
	require.NotEmpty(t, offer["sdp"])

	_, err = call(t, w, "handler.createOffer", "unknown", nil)
	requireKind(t, handler.KindNotFound, err)

	_, err = call(t, w, "handler.doesNotExist", "h1", nil)
	requireKind(t, handler.KindUnsupportedOperation, err)

	_, err = call(t, w, "router.createWebRtcTransport", "h1", nil)
	requireKind(t, handler.KindUnsupportedOperation, err)

	err = w.HandleNotification(context.Background(), &channel.Notification{
		Event:    "enableTrack",
		Internal: channel.Internal{HandlerID: "h1"},
	})
	require.NoError(t, err)

	err = w.HandleNotification(context.Background(), &channel.Notification{
		Event:    "enableTrack",
		Internal: channel.Internal{HandlerID: "unknown"},
	})
	requireKind(t, handler.KindNotFound, err)
}

func TestCloseHandler(t *testing.T) {
	w := newTestWorker(t)
	_, err := call(t, w, MethodCreateHandler, "h1", nil)
	require.NoError(t, err)

	_, err = call(t, w, MethodCloseHandler, "h1", nil)
	require.NoError(t, err)
	require.Equal(t, 0, w.NumHandlers())

	// repeated close of a recently closed handler is accepted
	_, err = call(t, w, MethodCloseHandler, "h1", nil)
	require.NoError(t, err)

	// late notifications are dropped, requests are not found
	err = w.HandleNotification(context.Background(), &channel.Notification{
		Event:    "datachannel.send",
		Internal: channel.Internal{HandlerID: "h1", DataChannelID: "dc1"},
	})
	require.NoError(t, err)
	_, err = call(t, w, "handler.createOffer", "h1", nil)
	requireKind(t, handler.KindNotFound, err)

	_, err = call(t, w, MethodCloseHandler, "never-created", nil)
	requireKind(t, handler.KindNotFound, err)

	// the id can be reused
	_, err = call(t, w, MethodCreateHandler, "h1", nil)
	require.NoError(t, err)
	require.Equal(t, 1, w.NumHandlers())
}

func TestDump(t *testing.T) {
	w := newTestWorker(t)
	for _, id := range []string{"b", "a", "c"} {
		_, err := call(t, w, MethodCreateHandler, id, nil)
		require.NoError(t, err)
	}

	res, err := call(t, w, MethodDump, "", nil)
	require.NoError(t, err)
	dump, ok := res.(*Dump)
	require.True(t, ok)
	require.Equal(t, []string{"b", "a", "c"}, dump.HandlerIDs)
	require.Len(t, dump.Handlers, 3)
	require.Equal(t, "stable", dump.Handlers[0].SignalingState)
	require.Empty(t, dump.Handlers[0].DataChannelIDs)
}

func TestWorkerClose(t *testing.T) {
	w := newTestWorker(t)
	for _, id := range []string{"h1", "h2"} {
		_, err := call(t, w, MethodCreateHandler, id, nil)
		require.NoError(t, err)
	}

	w.Close()
	require.Equal(t, 0, w.NumHandlers())

	_, err := call(t, w, MethodCreateHandler, "h3", nil)
	requireKind(t, handler.KindEngineError, err)
	require.True(t, errors.Is(err, ErrWorkerClosed))

	// closed handlers are remembered
	err = w.HandleNotification(context.Background(), &channel.Notification{
		Event:    "disableTrack",
		Internal: channel.Internal{HandlerID: "h2"},
	})
	require.NoError(t, err)
}
