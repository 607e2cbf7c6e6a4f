package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/spec-kit/realtime-gateway/internal/config"
	"github.com/spec-kit/realtime-gateway/internal/observability"
)

// UserRoom is the default room a connection joins at authentication and the
// addressing target for user-directed messages.
func UserRoom(userID string) string { return "user:" + userID }

// Gateway owns the websocket transport: it admits connections through the
// authenticator, tracks them in the presence registry, fans out messages to
// rooms and drives reconciliation and graceful shutdown.
type Gateway struct {
	cfg      config.GatewayConfig
	logger   *zap.Logger
	metrics  *observability.Metrics
	auth     *Authenticator
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	clients  map[string]*Client
	rooms    map[string]map[string]*Client
	registry *Registry
	handlers map[string]EventHandler

	initialized     atomic.Bool
	server          *http.Server
	reconcileTicker *time.Ticker
	reconcileDone   chan struct{}
	shutdownOnce    sync.Once
}

// New constructs a gateway. Initialize must be called before any addressed
// operation.
func New(cfg config.GatewayConfig, authenticator *Authenticator, logger *zap.Logger, metrics *observability.Metrics) *Gateway {
	return &Gateway{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		auth:    authenticator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients:  make(map[string]*Client),
		rooms:    make(map[string]map[string]*Client),
		registry: NewRegistry(cfg.StaleTimeout()),
		handlers: make(map[string]EventHandler),
	}
}

// Handle registers an application event handler. Registration is validated
// up front so a bad mapping fails at wiring time, not at dispatch time.
func (g *Gateway) Handle(event string, handler EventHandler) error {
	if event == "" {
		return fmt.Errorf("event name required")
	}
	if handler == nil {
		return fmt.Errorf("nil handler for event %q", event)
	}
	if event == "join-room" || event == "leave-room" {
		return fmt.Errorf("event %q is reserved", event)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.handlers[event]; exists {
		return fmt.Errorf("handler already registered for event %q", event)
	}
	g.handlers[event] = handler
	return nil
}

// Initialize marks the gateway live and starts the reconciliation timer.
func (g *Gateway) Initialize() {
	if !g.initialized.CompareAndSwap(false, true) {
		return
	}
	g.mu.Lock()
	g.reconcileTicker = time.NewTicker(g.cfg.ReconcileInterval())
	g.reconcileDone = make(chan struct{})
	g.mu.Unlock()

	go g.reconcileLoop()
	g.logger.Info("gateway initialized",
		zap.Duration("reconcile_interval", g.cfg.ReconcileInterval()),
		zap.Duration("stale_timeout", g.cfg.StaleTimeout()),
	)
}

// Initialized reports whether the gateway is accepting connections and
// serving addressed operations.
func (g *Gateway) Initialized() bool {
	return g.initialized.Load()
}

// Handler exposes the websocket upgrade endpoint.
func (g *Gateway) Handler() http.Handler {
	return http.HandlerFunc(g.handleWS)
}

// Start serves the gateway endpoint on its configured address, blocking
// until the listener closes.
func (g *Gateway) Start() error {
	mux := http.NewServeMux()
	mux.Handle(g.cfg.Path, g.Handler())

	g.mu.Lock()
	g.server = &http.Server{Addr: g.cfg.Addr(), Handler: mux}
	server := g.server
	g.mu.Unlock()

	g.logger.Info("gateway listening", zap.String("addr", g.cfg.Addr()), zap.String("path", g.cfg.Path))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// handleWS runs admission for one upgrade request. Authentication happens
// before the upgrade completes, so a refused connection never reaches the
// registry.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	if !g.initialized.Load() {
		http.Error(w, "gateway unavailable", http.StatusServiceUnavailable)
		return
	}

	identity, err := g.auth.Authenticate(HandshakeFromRequest(r))
	if err != nil {
		g.metrics.RecordGatewayEvent("auth_failure", 1)
		g.logger.Warn("connection refused",
			zap.String("remote", r.RemoteAddr), zap.String("reason", err.Error()))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	client := newClient(uuid.NewString(), identity, g, conn)

	g.mu.Lock()
	g.clients[client.id] = client
	g.joinRoomLocked(client, UserRoom(identity.UserID))
	g.registry.Add(client.id, identity.UserID)
	g.mu.Unlock()

	g.metrics.RecordGatewayEvent("connect", 1)
	g.logger.Info("client connected",
		zap.String("connection_id", client.id), zap.String("user_id", identity.UserID))

	go client.writePump()
	client.readPump()
}

// dispatch routes one inbound frame. Any inbound event refreshes presence.
// Handler panics are contained: they fail that invocation only.
func (g *Gateway) dispatch(c *Client, frame Frame) {
	g.touch(c.id)

	switch frame.Event {
	case "join-room":
		if room := decodeRoomName(frame.Data); room != "" {
			g.JoinRoom(c, room)
		}
		return
	case "leave-room":
		if room := decodeRoomName(frame.Data); room != "" {
			g.LeaveRoom(c, room)
		}
		return
	}

	g.mu.RLock()
	handler := g.handlers[frame.Event]
	g.mu.RUnlock()

	if handler == nil {
		g.logger.Debug("dropping unregistered event",
			zap.String("connection_id", c.id), zap.String("event", frame.Event))
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			g.logger.Error("event handler panicked",
				zap.String("connection_id", c.id),
				zap.String("event", frame.Event),
				zap.Any("panic", rec),
			)
		}
	}()
	handler(c, frame.Data)
}

func decodeRoomName(data json.RawMessage) string {
	var room string
	if err := json.Unmarshal(data, &room); err != nil {
		return ""
	}
	return room
}

// JoinRoom adds a connection to a room. Room membership is transport state
// only; the registry is unaffected.
func (g *Gateway) JoinRoom(c *Client, room string) {
	g.mu.Lock()
	g.joinRoomLocked(c, room)
	g.mu.Unlock()
	g.logger.Info("joined room", zap.String("connection_id", c.id), zap.String("room", room))
}

func (g *Gateway) joinRoomLocked(c *Client, room string) {
	if g.rooms[room] == nil {
		g.rooms[room] = make(map[string]*Client)
	}
	g.rooms[room][c.id] = c
	c.rooms[room] = struct{}{}
}

// LeaveRoom removes a connection from a room.
func (g *Gateway) LeaveRoom(c *Client, room string) {
	g.mu.Lock()
	g.leaveRoomLocked(c, room)
	g.mu.Unlock()
	g.logger.Info("left room", zap.String("connection_id", c.id), zap.String("room", room))
}

func (g *Gateway) leaveRoomLocked(c *Client, room string) {
	if members := g.rooms[room]; members != nil {
		delete(members, c.id)
		if len(members) == 0 {
			delete(g.rooms, room)
		}
	}
	delete(c.rooms, room)
}

func (g *Gateway) touch(connectionID string) {
	g.mu.Lock()
	g.registry.Touch(connectionID)
	g.mu.Unlock()
}

// removeClient tears a connection down and releases its registry entry.
// Disconnect, transport error and forced disconnect all funnel here; the
// clients-map check makes the teardown idempotent against duplicate signals.
func (g *Gateway) removeClient(c *Client, reason string) {
	g.mu.Lock()
	if _, ok := g.clients[c.id]; !ok {
		g.mu.Unlock()
		c.close()
		return
	}
	delete(g.clients, c.id)
	for room := range c.rooms {
		g.leaveRoomLocked(c, room)
	}
	g.registry.Remove(c.id)
	g.mu.Unlock()

	c.close()
	g.metrics.RecordGatewayEvent("disconnect", 1)
	g.logger.Info("client disconnected",
		zap.String("connection_id", c.id),
		zap.String("user_id", c.identity.UserID),
		zap.String("reason", reason),
	)
}

// EmitAll broadcasts an event to every live connection.
func (g *Gateway) EmitAll(event string, data any) error {
	if !g.initialized.Load() {
		return ErrNotInitialized
	}
	g.mu.RLock()
	targets := make([]*Client, 0, len(g.clients))
	for _, c := range g.clients {
		targets = append(targets, c)
	}
	g.mu.RUnlock()

	for _, c := range targets {
		c.Emit(event, data)
	}
	return nil
}

// EmitRoom sends an event to every connection in a named room.
func (g *Gateway) EmitRoom(room, event string, data any) error {
	if !g.initialized.Load() {
		return ErrNotInitialized
	}
	g.mu.RLock()
	targets := make([]*Client, 0, len(g.rooms[room]))
	for _, c := range g.rooms[room] {
		targets = append(targets, c)
	}
	g.mu.RUnlock()

	for _, c := range targets {
		c.Emit(event, data)
	}
	return nil
}

// EmitUser sends an event to all of a user's connections via their default room.
func (g *Gateway) EmitUser(userID, event string, data any) error {
	return g.EmitRoom(UserRoom(userID), event, data)
}

// EmitSocket sends an event to a single connection.
func (g *Gateway) EmitSocket(connectionID, event string, data any) error {
	if !g.initialized.Load() {
		return ErrNotInitialized
	}
	g.mu.RLock()
	c := g.clients[connectionID]
	g.mu.RUnlock()

	if c == nil {
		return ErrConnectionNotFound
	}
	c.Emit(event, data)
	return nil
}

// ConnectionIDs enumerates all live connection ids.
func (g *Gateway) ConnectionIDs() ([]string, error) {
	if !g.initialized.Load() {
		return nil, ErrNotInitialized
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]string, 0, len(g.clients))
	for id := range g.clients {
		ids = append(ids, id)
	}
	return ids, nil
}

// SocketsInRoom enumerates connection ids in a room.
func (g *Gateway) SocketsInRoom(room string) ([]string, error) {
	if !g.initialized.Load() {
		return nil, ErrNotInitialized
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]string, 0, len(g.rooms[room]))
	for id := range g.rooms[room] {
		ids = append(ids, id)
	}
	return ids, nil
}

// UserSockets enumerates the registry's connection ids for a user.
func (g *Gateway) UserSockets(userID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.registry.ByUser(userID)
}

// IsUserOnline reports whether a user has at least one registered connection.
func (g *Gateway) IsUserOnline(userID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.registry.IsUserOnline(userID)
}

// ConnectedCount returns the number of registered connections.
func (g *Gateway) ConnectedCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.registry.Count()
}

// ConnectedRecords copies the presence records for reporting.
func (g *Gateway) ConnectedRecords() []Record {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.registry.Records()
}

// DisconnectSocket force-disconnects one connection.
func (g *Gateway) DisconnectSocket(connectionID string) error {
	if !g.initialized.Load() {
		return ErrNotInitialized
	}
	g.mu.RLock()
	c := g.clients[connectionID]
	g.mu.RUnlock()

	if c == nil {
		return ErrConnectionNotFound
	}
	g.removeClient(c, "forced disconnect")
	return nil
}

// DisconnectUser force-disconnects every connection a user owns and purges
// their registry entries as one operation.
func (g *Gateway) DisconnectUser(userID string) error {
	if !g.initialized.Load() {
		return ErrNotInitialized
	}
	g.mu.RLock()
	var targets []*Client
	for _, id := range g.registry.ByUser(userID) {
		if c := g.clients[id]; c != nil {
			targets = append(targets, c)
		}
	}
	for _, c := range g.rooms[UserRoom(userID)] {
		if _, tracked := g.registry.records[c.id]; !tracked {
			targets = append(targets, c)
		}
	}
	g.mu.RUnlock()

	for _, c := range targets {
		g.removeClient(c, "forced disconnect")
	}
	return nil
}

// reconcileLoop drives periodic sweeps. It works on a snapshot of the ticker
// and done channel: stopReconcile clears the ticker field under the hub lock
// while a sweep may be blocked on that same lock, so the loop must never read
// the fields again once running.
func (g *Gateway) reconcileLoop() {
	g.mu.RLock()
	ticker := g.reconcileTicker
	done := g.reconcileDone
	g.mu.RUnlock()
	if ticker == nil {
		return
	}

	for {
		select {
		case <-ticker.C:
			g.reconcile()
		case <-done:
			return
		}
	}
}

// reconcile sweeps the registry against the transport's live connection set.
func (g *Gateway) reconcile() {
	g.mu.Lock()
	stale, orphaned := g.registry.Reconcile(g.liveSetLocked)
	remaining := g.registry.Count()
	g.mu.Unlock()

	if stale > 0 || orphaned > 0 {
		g.metrics.RecordGatewayEvent("reconcile_evicted", int64(stale+orphaned))
		g.logger.Info("reconciliation sweep",
			zap.Int("stale_removed", stale),
			zap.Int("orphaned_removed", orphaned),
			zap.Int("remaining", remaining),
		)
	}
}

// liveSetLocked snapshots the transport's live connection ids. Callers hold
// the hub lock.
func (g *Gateway) liveSetLocked() map[string]struct{} {
	live := make(map[string]struct{}, len(g.clients))
	for id := range g.clients {
		live[id] = struct{}{}
	}
	return live
}

// stopReconcile cancels the reconciliation timer exactly once; repeated
// calls detect the cleared timer and skip.
func (g *Gateway) stopReconcile() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.reconcileTicker == nil {
		return
	}
	g.reconcileTicker.Stop()
	close(g.reconcileDone)
	g.reconcileTicker = nil
}

// Shutdown runs the graceful teardown sequence: stop accepting, stop the
// reconciliation timer, disconnect every live connection, close the
// transport, clear the registry. Idempotent; a watchdog forces process exit
// if the sequence hangs on a misbehaving transport.
func (g *Gateway) Shutdown(ctx context.Context) {
	g.shutdownOnce.Do(func() {
		g.logger.Info("gateway shutting down")

		watchdog := time.AfterFunc(g.cfg.ShutdownTimeout(), func() {
			g.logger.Fatal("gateway shutdown timed out, forcing exit")
		})
		defer watchdog.Stop()

		g.initialized.Store(false)

		g.mu.RLock()
		server := g.server
		g.mu.RUnlock()
		if server != nil {
			_ = server.Shutdown(ctx)
			g.logger.Info("gateway listener closed")
		}

		g.stopReconcile()
		g.logger.Info("reconciliation timer stopped")

		g.mu.RLock()
		targets := make([]*Client, 0, len(g.clients))
		for _, c := range g.clients {
			targets = append(targets, c)
		}
		g.mu.RUnlock()
		for _, c := range targets {
			g.removeClient(c, "gateway shutdown")
		}
		g.logger.Info("active connections closed", zap.Int("count", len(targets)))

		g.mu.Lock()
		g.registry.Clear()
		g.mu.Unlock()
		g.logger.Info("presence registry cleared")
	})
}
