package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/realtime-gateway/internal/config"
	"github.com/spec-kit/realtime-gateway/internal/observability"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	cfg := config.GatewayConfig{
		Path:                     "/ws",
		ReconcileIntervalSeconds: 3600,
		StaleTimeoutSeconds:      300,
		ShutdownTimeoutSeconds:   30,
		PingIntervalSeconds:      25,
		PongWaitSeconds:          60,
		SendBufferSize:           16,
	}
	authenticator := NewAuthenticator(AuthenticatorConfig{
		Verifier: NewSecretVerifier([]byte(testSecret)),
	}, zap.NewNop())
	return New(cfg, authenticator, zap.NewNop(), observability.NewMetrics())
}

func dialGateway(t *testing.T, srv *httptest.Server, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	if token != "" {
		wsURL += "?token=" + token
	}
	return websocket.DefaultDialer.Dial(wsURL, nil)
}

func userToken(t *testing.T, userID string) string {
	t.Helper()
	return signTestToken(t, jwt.MapClaims{"userId": userID})
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame Frame
	require.NoError(t, json.Unmarshal(payload, &frame))
	return frame
}

func TestGatewayAdmitsAuthenticatedConnection(t *testing.T) {
	gw := newTestGateway(t)
	gw.Initialize()
	defer gw.Shutdown(context.Background())

	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	conn, _, err := dialGateway(t, srv, userToken(t, "u1"))
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return gw.ConnectedCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.True(t, gw.IsUserOnline("u1"))
	require.Len(t, gw.UserSockets("u1"), 1)

	members, err := gw.SocketsInRoom(UserRoom("u1"))
	require.NoError(t, err)
	require.Len(t, members, 1)

	require.NoError(t, gw.EmitUser("u1", "notice", map[string]string{"text": "hello"}))
	frame := readFrame(t, conn)
	require.Equal(t, "notice", frame.Event)
	require.Contains(t, string(frame.Data), "hello")

	// A single connection receives a user-directed event exactly once.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
}

func TestGatewayRefusesUnauthenticatedUpgrade(t *testing.T) {
	gw := newTestGateway(t)
	gw.Initialize()
	defer gw.Shutdown(context.Background())

	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	_, resp, err := dialGateway(t, srv, "")
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, 0, gw.ConnectedCount())

	_, resp, err = dialGateway(t, srv, "garbage")
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, 0, gw.ConnectedCount())
}

func TestGatewayUnavailableBeforeInitialize(t *testing.T) {
	gw := newTestGateway(t)
	require.False(t, gw.Initialized())

	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	_, resp, err := dialGateway(t, srv, userToken(t, "u1"))
	require.Error(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	require.ErrorIs(t, gw.EmitAll("notice", nil), ErrNotInitialized)
	require.ErrorIs(t, gw.EmitRoom("r", "notice", nil), ErrNotInitialized)
	require.ErrorIs(t, gw.EmitUser("u1", "notice", nil), ErrNotInitialized)
	require.ErrorIs(t, gw.EmitSocket("c1", "notice", nil), ErrNotInitialized)
	require.ErrorIs(t, gw.DisconnectSocket("c1"), ErrNotInitialized)
	require.ErrorIs(t, gw.DisconnectUser("u1"), ErrNotInitialized)

	_, err = gw.ConnectionIDs()
	require.ErrorIs(t, err, ErrNotInitialized)
	_, err = gw.SocketsInRoom("r")
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestGatewayHandleRegistration(t *testing.T) {
	gw := newTestGateway(t)
	noop := func(c *Client, data json.RawMessage) {}

	require.Error(t, gw.Handle("", noop))
	require.Error(t, gw.Handle("chat:send", nil))
	require.Error(t, gw.Handle("join-room", noop))
	require.Error(t, gw.Handle("leave-room", noop))

	require.NoError(t, gw.Handle("chat:send", noop))
	require.Error(t, gw.Handle("chat:send", noop))
}

func TestGatewayDispatchesRegisteredHandler(t *testing.T) {
	gw := newTestGateway(t)
	require.NoError(t, gw.Handle("echo", func(c *Client, data json.RawMessage) {
		c.Emit("echo:reply", json.RawMessage(data))
	}))
	gw.Initialize()
	defer gw.Shutdown(context.Background())

	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	conn, _, err := dialGateway(t, srv, userToken(t, "u1"))
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(Frame{Event: "echo", Data: json.RawMessage(`{"n":1}`)}))
	frame := readFrame(t, conn)
	require.Equal(t, "echo:reply", frame.Event)
	require.JSONEq(t, `{"n":1}`, string(frame.Data))

	// Unregistered and malformed frames are dropped without closing the
	// connection.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteJSON(Frame{Event: "unknown"}))
	require.NoError(t, conn.WriteJSON(Frame{Event: "echo", Data: json.RawMessage(`{"n":2}`)}))
	frame = readFrame(t, conn)
	require.Equal(t, "echo:reply", frame.Event)
	require.JSONEq(t, `{"n":2}`, string(frame.Data))
}

func TestGatewayRoomMembership(t *testing.T) {
	gw := newTestGateway(t)
	gw.Initialize()
	defer gw.Shutdown(context.Background())

	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	conn, _, err := dialGateway(t, srv, userToken(t, "u1"))
	require.NoError(t, err)
	defer conn.Close()

	other, _, err := dialGateway(t, srv, userToken(t, "u2"))
	require.NoError(t, err)
	defer other.Close()

	require.NoError(t, conn.WriteJSON(Frame{Event: "join-room", Data: json.RawMessage(`"orders"`)}))
	require.Eventually(t, func() bool {
		members, err := gw.SocketsInRoom("orders")
		return err == nil && len(members) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, gw.EmitRoom("orders", "orders:update", map[string]int{"count": 3}))
	frame := readFrame(t, conn)
	require.Equal(t, "orders:update", frame.Event)

	// The non-member never sees room traffic.
	require.NoError(t, other.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err = other.ReadMessage()
	require.Error(t, err)

	require.NoError(t, conn.WriteJSON(Frame{Event: "leave-room", Data: json.RawMessage(`"orders"`)}))
	require.Eventually(t, func() bool {
		members, err := gw.SocketsInRoom("orders")
		return err == nil && len(members) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGatewayDisconnectUser(t *testing.T) {
	gw := newTestGateway(t)
	gw.Initialize()
	defer gw.Shutdown(context.Background())

	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	first, _, err := dialGateway(t, srv, userToken(t, "u1"))
	require.NoError(t, err)
	defer first.Close()
	second, _, err := dialGateway(t, srv, userToken(t, "u1"))
	require.NoError(t, err)
	defer second.Close()

	require.Eventually(t, func() bool { return gw.ConnectedCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, gw.DisconnectUser("u1"))
	require.Equal(t, 0, gw.ConnectedCount())
	require.False(t, gw.IsUserOnline("u1"))

	for _, conn := range []*websocket.Conn{first, second} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err = conn.ReadMessage()
		require.Error(t, err)
	}
}

func TestGatewayDisconnectSocket(t *testing.T) {
	gw := newTestGateway(t)
	gw.Initialize()
	defer gw.Shutdown(context.Background())

	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	conn, _, err := dialGateway(t, srv, userToken(t, "u1"))
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return gw.ConnectedCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	ids, err := gw.ConnectionIDs()
	require.NoError(t, err)
	require.Len(t, ids, 1)

	require.NoError(t, gw.DisconnectSocket(ids[0]))
	require.Equal(t, 0, gw.ConnectedCount())
	require.ErrorIs(t, gw.DisconnectSocket(ids[0]), ErrConnectionNotFound)
}

func TestGatewayReconcileEvictsOrphanedRecords(t *testing.T) {
	gw := newTestGateway(t)
	gw.Initialize()
	defer gw.Shutdown(context.Background())

	// A record with no backing transport connection, as left behind by a
	// connection that died without a disconnect event.
	gw.mu.Lock()
	gw.registry.Add("ghost", "u9")
	gw.mu.Unlock()

	require.True(t, gw.IsUserOnline("u9"))
	gw.reconcile()
	require.False(t, gw.IsUserOnline("u9"))
	require.Equal(t, 0, gw.ConnectedCount())
}

func TestShutdownDuringReconcileSweep(t *testing.T) {
	cfg := config.GatewayConfig{
		Path:                     "/ws",
		ReconcileIntervalSeconds: 1,
		StaleTimeoutSeconds:      300,
		ShutdownTimeoutSeconds:   30,
		PingIntervalSeconds:      25,
		PongWaitSeconds:          60,
		SendBufferSize:           16,
	}
	authenticator := NewAuthenticator(AuthenticatorConfig{
		Verifier: NewSecretVerifier([]byte(testSecret)),
	}, zap.NewNop())
	gw := New(cfg, authenticator, zap.NewNop(), observability.NewMetrics())
	gw.Initialize()

	// Hold the hub lock until a sweep has fired and is blocked on it, then
	// stop the timer while that sweep is still in flight.
	gw.mu.Lock()
	time.Sleep(1200 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		gw.stopReconcile()
		close(stopped)
	}()
	time.Sleep(50 * time.Millisecond)
	gw.mu.Unlock()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("timer stop did not complete")
	}

	// The loop must drain the in-flight sweep and exit without panicking.
	time.Sleep(100 * time.Millisecond)
	gw.Shutdown(context.Background())
	require.Equal(t, 0, gw.ConnectedCount())
}

func TestGatewayShutdown(t *testing.T) {
	gw := newTestGateway(t)
	gw.Initialize()

	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	conn, _, err := dialGateway(t, srv, userToken(t, "u1"))
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return gw.ConnectedCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	gw.Shutdown(context.Background())
	require.False(t, gw.Initialized())
	require.Equal(t, 0, gw.ConnectedCount())
	require.ErrorIs(t, gw.EmitAll("notice", nil), ErrNotInitialized)

	// Repeated shutdown is a no-op.
	gw.Shutdown(context.Background())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
