package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type namedError struct {
	name string
}

func (e namedError) Error() string     { return "named failure" }
func (e namedError) ErrorName() string { return e.name }

type recordingHandler struct {
	mu            sync.Mutex
	notifications []string
}

func (r *recordingHandler) HandleRequest(_ context.Context, req *Request) (interface{}, error) {
	switch req.Method {
	case "echo":
		var v interface{}
		if err := json.Unmarshal(req.Data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "empty":
		return nil, nil
	case "fail":
		return nil, namedError{name: "NotFound"}
	case "panic":
		panic("handler bug")
	default:
		return nil, errors.New("boom")
	}
}

func (r *recordingHandler) HandleNotification(_ context.Context, n *Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n.Event+":"+n.Internal.HandlerID)
	return nil
}

func (r *recordingHandler) received() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.notifications...)
}

type testServer struct {
	server  *httptest.Server
	channel chan *Channel
	served  chan error
}

func newTestServer(t *testing.T, h MessageHandler) *testServer {
	ts := &testServer{
		channel: make(chan *Channel, 1),
		served:  make(chan error, 1),
	}
	upgrader := websocket.Upgrader{}
	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewChannel(conn, nil, 4)
		ts.channel <- c
		ts.served <- c.Serve(context.Background(), h)
	}))
	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) dial(t *testing.T) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(ts.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg map[string]interface{}
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestRequests(t *testing.T) {
	ts := newTestServer(t, &recordingHandler{})
	conn := ts.dial(t)

	t.Run("accepted with data", func(t *testing.T) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"id":1,"method":"echo","data":{"a":"b"}}`)))
		res := readJSON(t, conn)
		require.EqualValues(t, 1, res["id"])
		require.Equal(t, true, res["accepted"])
		require.Equal(t, map[string]interface{}{"a": "b"}, res["data"])
	})

	t.Run("accepted without data", func(t *testing.T) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"id":2,"method":"empty"}`)))
		res := readJSON(t, conn)
		require.EqualValues(t, 2, res["id"])
		require.Equal(t, true, res["accepted"])
		require.NotContains(t, res, "data")
	})

	t.Run("named error", func(t *testing.T) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"id":3,"method":"fail"}`)))
		res := readJSON(t, conn)
		require.EqualValues(t, 3, res["id"])
		require.Equal(t, "NotFound", res["error"])
		require.Equal(t, "named failure", res["reason"])
		require.NotContains(t, res, "accepted")
	})

	t.Run("unnamed error", func(t *testing.T) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"id":4,"method":"other"}`)))
		res := readJSON(t, conn)
		require.Equal(t, "EngineError", res["error"])
		require.Equal(t, "boom", res["reason"])
	})

	t.Run("panic", func(t *testing.T) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"id":6,"method":"panic"}`)))
		res := readJSON(t, conn)
		require.EqualValues(t, 6, res["id"])
		require.Equal(t, "EngineError", res["error"])
		require.Contains(t, res["reason"], "handler bug")
	})

	t.Run("missing method", func(t *testing.T) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"id":5}`)))
		res := readJSON(t, conn)
		require.EqualValues(t, 5, res["id"])
		require.Equal(t, "BadRequest", res["error"])
	})
}

func TestNotifications(t *testing.T) {
	h := &recordingHandler{}
	ts := newTestServer(t, h)
	conn := ts.dial(t)

	// garbage is dropped without a reply
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	for _, event := range []string{"a", "b", "c"} {
		msg := `{"event":"` + event + `","internal":{"handlerId":"h1"}}`
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
	}
	// a request after the notifications proves they were read
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"id":9,"method":"empty"}`)))
	res := readJSON(t, conn)
	require.EqualValues(t, 9, res["id"])

	require.Equal(t, []string{"a:h1", "b:h1", "c:h1"}, h.received())
}

func TestNotify(t *testing.T) {
	ts := newTestServer(t, &recordingHandler{})
	conn := ts.dial(t)
	c := <-ts.channel

	require.NoError(t, c.Notify("dc1", "message", "hello"))
	msg := readJSON(t, conn)
	require.Equal(t, "dc1", msg["targetId"])
	require.Equal(t, "message", msg["event"])
	require.Equal(t, "hello", msg["data"])

	require.NoError(t, c.Notify("h1", "close", nil))
	msg = readJSON(t, conn)
	require.Equal(t, "close", msg["event"])
	require.NotContains(t, msg, "data")
}

func TestServeEndsOnClientClose(t *testing.T) {
	ts := newTestServer(t, &recordingHandler{})
	conn := ts.dial(t)
	c := <-ts.channel

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = conn.Close()

	select {
	case err := <-ts.served:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return")
	}

	require.NoError(t, c.Close())
	require.True(t, c.IsClosed())
	require.ErrorIs(t, c.Notify("h1", "close", nil), ErrChannelClosed)
}

func TestErrorName(t *testing.T) {
	require.Equal(t, "UnsupportedOperation", ErrorName(namedError{name: "UnsupportedOperation"}))
	require.Equal(t, "BadRequest", ErrorName(ErrMalformedMessage))
	require.Equal(t, "EngineError", ErrorName(errors.New("x")))
}
