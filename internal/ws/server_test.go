package ws

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admitly/chat-core/internal/apperr"
	"github.com/admitly/chat-core/internal/identity"
	"github.com/admitly/chat-core/internal/protocol"
)

type fakeAuth struct{}

func (fakeAuth) Authenticate(_ context.Context, credential string) (identity.Identity, error) {
	switch credential {
	case "good":
		return identity.Identity{UserID: "u-1", Role: identity.RoleStudent}, nil
	case "blocked":
		return identity.Identity{}, apperr.New(apperr.ErrForbidden, identity.ReasonBlocked)
	default:
		return identity.Identity{}, apperr.New(apperr.ErrUnauthenticated, identity.ReasonUnauthorized)
	}
}

type testServer struct {
	srv  *Server
	addr string

	mu           sync.Mutex
	connected    []string
	disconnected chan string
}

func startTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{disconnected: make(chan string, 4)}

	d := NewMessageDispatcher()
	d.Register(protocol.TypeConversationJoin, func(c *Connection, ack string, msg interface{}) {
		m := msg.(protocol.ConversationJoinMsg)
		data, _ := protocol.NewAck(ack, protocol.AckPayload{OK: true, Message: m.ConversationID + "/" + c.Identity().UserID})
		_ = c.Send(data)
	})

	cfg := DefaultServerConfig()
	cfg.Heartbeat.Interval = 0
	ts.srv = NewServer(cfg, fakeAuth{}, d.Dispatch)
	ts.srv.SetOnConnect(func(c *Connection) {
		ts.mu.Lock()
		ts.connected = append(ts.connected, c.Identity().UserID)
		ts.mu.Unlock()
	})
	ts.srv.SetOnDisconnect(func(c *Connection) { ts.disconnected <- c.ID })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ts.addr = ln.Addr().String()
	go func() { _ = ts.srv.Serve(ln) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = ts.srv.Shutdown(ctx)
	})
	return ts
}

func (ts *testServer) dial(t *testing.T, token string) net.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, br, _, err := ws.Dial(ctx, "ws://"+ts.addr+"/ws?token="+token)
	require.NoError(t, err)
	require.Nil(t, br, "no server frames expected before the first request")
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn net.Conn, frame string) map[string]interface{} {
	t.Helper()
	require.NoError(t, wsutil.WriteClientText(conn, []byte(frame)))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, err := wsutil.ReadServerText(conn)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestHandshake_Refused(t *testing.T) {
	ts := startTestServer(t)

	cases := []struct {
		token  string
		status int
		body   string
	}{
		{"", http.StatusUnauthorized, "Unauthorized"},
		{"forged", http.StatusUnauthorized, "Unauthorized"},
		{"blocked", http.StatusForbidden, "Blocked"},
	}
	for _, tc := range cases {
		resp, err := http.Get("http://" + ts.addr + "/ws?token=" + tc.token)
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Equal(t, tc.status, resp.StatusCode, "token %q", tc.token)
		assert.Equal(t, tc.body, strings.TrimSpace(string(body)))
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	assert.Empty(t, ts.connected, "refused handshakes must not reach onConnect")
}

func TestHandshake_BearerHeader(t *testing.T) {
	ts := startTestServer(t)

	dialer := ws.Dialer{Header: ws.HandshakeHeaderHTTP(http.Header{"Authorization": []string{"Bearer good"}})}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, _, err := dialer.Dial(ctx, "ws://"+ts.addr+"/ws")
	require.NoError(t, err)
	defer conn.Close()

	out := roundTrip(t, conn, `{"type":"ping"}`)
	assert.Equal(t, protocol.TypePong, out["type"])
}

func TestDispatch_PingAckAndErrors(t *testing.T) {
	ts := startTestServer(t)
	conn := ts.dial(t, "good")

	out := roundTrip(t, conn, `{"type":"ping"}`)
	assert.Equal(t, protocol.TypePong, out["type"])

	out = roundTrip(t, conn, `{"type":"conversation:join","ack":"a1","conversationId":"c-7"}`)
	assert.Equal(t, protocol.TypeAck, out["type"])
	assert.Equal(t, "a1", out["ack"])
	data := out["data"].(map[string]interface{})
	assert.Equal(t, true, data["ok"])
	assert.Equal(t, "c-7/u-1", data["message"])

	// Unregistered event with an ack id: failed ack, connection stays open.
	out = roundTrip(t, conn, `{"type":"message:new","ack":"a2","conversationId":"c","text":"x"}`)
	assert.Equal(t, "a2", out["ack"])
	assert.Equal(t, false, out["data"].(map[string]interface{})["ok"])

	out = roundTrip(t, conn, `not json`)
	assert.Equal(t, protocol.TypeError, out["type"])
	assert.Equal(t, "parse_error", out["data"].(map[string]interface{})["code"])

	out = roundTrip(t, conn, `{"type":"ping"}`)
	assert.Equal(t, protocol.TypePong, out["type"])

	assert.Equal(t, 1, ts.srv.Connections().Count())
}

func TestDispatch_BadPayloadIsParseError(t *testing.T) {
	ts := startTestServer(t)
	conn := ts.dial(t, "good")

	out := roundTrip(t, conn, `{"type":"message:new","ack":"a9","conversationId":"c","text":5}`)
	assert.Equal(t, protocol.TypeAck, out["type"])
	assert.Equal(t, "a9", out["ack"])
	data := out["data"].(map[string]interface{})
	assert.Equal(t, false, data["ok"])
	assert.Equal(t, "invalid message payload", data["message"])

	out = roundTrip(t, conn, `{"type":"message:new","conversationId":"c","text":5}`)
	assert.Equal(t, protocol.TypeError, out["type"])
	data = out["data"].(map[string]interface{})
	assert.Equal(t, "parse_error", data["code"])
	assert.Equal(t, "invalid message payload", data["message"])

	out = roundTrip(t, conn, `{"type":"typing:start","conversationId":"c"}`)
	assert.Equal(t, protocol.TypeError, out["type"])
	assert.Equal(t, "unsupported_type", out["data"].(map[string]interface{})["code"])
}

func TestControlFrames_PingAnsweredStreamIntact(t *testing.T) {
	ts := startTestServer(t)
	conn := ts.dial(t, "good")

	require.NoError(t, ws.WriteFrame(conn, ws.MaskFrame(ws.NewPingFrame([]byte("hb")))))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	frame, err := ws.ReadFrame(conn)
	require.NoError(t, err)
	assert.Equal(t, ws.OpPong, frame.Header.OpCode)
	assert.Equal(t, "hb", string(frame.Payload))

	// A pong from the client is drained without a reply.
	require.NoError(t, ws.WriteFrame(conn, ws.MaskFrame(ws.NewPongFrame([]byte("late")))))

	out := roundTrip(t, conn, `{"type":"ping"}`)
	assert.Equal(t, protocol.TypePong, out["type"])
	assert.Equal(t, 1, ts.srv.Connections().Count())
}

func TestDisconnectCallback(t *testing.T) {
	ts := startTestServer(t)
	conn := ts.dial(t, "good")
	_ = roundTrip(t, conn, `{"type":"ping"}`)

	require.NoError(t, ws.WriteFrame(conn, ws.MaskFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")))))

	select {
	case <-ts.disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("onDisconnect not called")
	}
	assert.Equal(t, 0, ts.srv.Connections().Count())
}

func TestHeartbeat_EvictsIdleConnections(t *testing.T) {
	ts := startTestServer(t)
	conn := ts.dial(t, "good")
	_ = roundTrip(t, conn, `{"type":"ping"}`)

	cfg := HeartbeatConfig{Interval: time.Second, Timeout: time.Second}
	checkConnections(ts.srv, cfg, time.Now())
	assert.Equal(t, 1, ts.srv.Connections().Count(), "fresh connection survives")

	checkConnections(ts.srv, cfg, time.Now().Add(time.Minute))
	assert.Equal(t, 0, ts.srv.Connections().Count())
}
