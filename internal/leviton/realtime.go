package leviton

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultSocketURL is the Leviton push endpoint.
const DefaultSocketURL = "wss://socket.cloud.leviton.com/"

// Realtime defaults.
const (
	DefaultHeartbeat      = 30 * time.Second
	DefaultInitialBackoff = 1 * time.Second
	DefaultMaxBackoff     = 60 * time.Second

	writeWait = 10 * time.Second

	// modelIotSwitch is the subscription model for every supported device.
	modelIotSwitch = "IotSwitch"
)

// Socket message types.
const (
	msgChallenge    = "challenge"
	msgStatus       = "status"
	msgNotification = "notification"
	msgAuthenticate = "authenticate"
	msgSubscribe    = "subscribe"

	statusReady = "ready"
)

// ErrRealtimeRunning is returned by Start when the loop is already running.
var ErrRealtimeRunning = errors.New("leviton: realtime already running")

// SessionProvider returns the session to authenticate the socket with.
type SessionProvider func() (Session, bool)

// RealtimeOptions configures a Realtime connection. Zero values select the
// defaults.
type RealtimeOptions struct {
	URL            string
	Heartbeat      time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Dialer         *websocket.Dialer
	Logger         Logger
}

// RealtimeStats is a point-in-time view of the connection.
type RealtimeStats struct {
	Connected   bool      `json:"connected"`
	Connects    uint64    `json:"connects"`
	Messages    uint64    `json:"messages"`
	Updates     uint64    `json:"updates"`
	LastMessage time.Time `json:"last_message,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// Realtime maintains the push WebSocket, subscribes to the known devices
// once the server reports ready, and hands every state notification to
// onUpdate.
//
// Thread Safety:
//   - All exported methods are safe for concurrent use.
//   - onUpdate is called from the read goroutine, one update at a time.
type Realtime struct {
	session  SessionProvider
	onUpdate func(StateUpdate)
	opts     RealtimeOptions
	logger   Logger

	mu        sync.Mutex
	deviceIDs []string
	conn      *websocket.Conn
	running   bool
	lastMsg   time.Time
	lastError string

	// ready and subscribed track the live connection; both reset on dial.
	ready      bool
	subscribed map[string]bool

	// writeMu serialises writes; gorilla allows one concurrent writer.
	writeMu sync.Mutex

	connects atomic.Uint64
	messages atomic.Uint64
	updates  atomic.Uint64

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRealtime creates a Realtime. It performs no I/O until Start.
func NewRealtime(session SessionProvider, onUpdate func(StateUpdate), opts RealtimeOptions) *Realtime {
	if opts.URL == "" {
		opts.URL = DefaultSocketURL
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultInitialBackoff
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = max(DefaultMaxBackoff, opts.InitialBackoff)
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 15 * time.Second,
		}
	}

	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}
	if onUpdate == nil {
		onUpdate = func(StateUpdate) {}
	}

	return &Realtime{
		session:  session,
		onUpdate: onUpdate,
		opts:     opts,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// SetDevices replaces the tracked ids. When the socket is live and ready,
// ids not yet subscribed are subscribed immediately; the rest wait for the
// next ready status.
func (r *Realtime) SetDevices(ids []string) {
	r.mu.Lock()
	r.deviceIDs = append([]string(nil), ids...)
	conn, ready := r.conn, r.ready
	r.mu.Unlock()

	if conn != nil && ready {
		r.subscribePending(conn)
	}
}

// Start launches the connection loop in the background for deviceIDs. It
// returns immediately; connection failures are retried with exponential
// backoff until ctx is cancelled or Stop is called.
func (r *Realtime) Start(ctx context.Context, deviceIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrRealtimeRunning
	}
	select {
	case <-r.done:
		return fmt.Errorf("leviton: realtime stopped")
	default:
	}
	r.running = true
	if deviceIDs != nil {
		r.deviceIDs = append([]string(nil), deviceIDs...)
	}

	r.wg.Add(1)
	go r.run(ctx)
	return nil
}

// Stop closes the socket and waits for the loop to exit. Safe to call more
// than once.
func (r *Realtime) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.mu.Lock()
		conn := r.conn
		r.mu.Unlock()
		if conn != nil {
			r.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			r.writeMu.Unlock()
			conn.Close()
		}
	})
	r.wg.Wait()
}

// IsConnected reports whether a socket is currently open.
func (r *Realtime) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil
}

// Stats returns connection counters.
func (r *Realtime) Stats() RealtimeStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RealtimeStats{
		Connected:   r.conn != nil,
		Connects:    r.connects.Load(),
		Messages:    r.messages.Load(),
		Updates:     r.updates.Load(),
		LastMessage: r.lastMsg,
		LastError:   r.lastError,
	}
}

func (r *Realtime) run(ctx context.Context) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	backoff := r.opts.InitialBackoff
	for {
		err := r.serve(ctx)

		if ctx.Err() != nil || r.stopped() {
			return
		}

		wait := backoff
		if err != nil {
			r.recordError(err)
			r.logger.Warn("realtime connection lost", "error", err, "retry_in", wait)
			backoff = min(backoff*2, r.opts.MaxBackoff)
		} else {
			r.logger.Info("realtime connection closed, reconnecting", "retry_in", r.opts.InitialBackoff)
			wait = r.opts.InitialBackoff
			backoff = r.opts.InitialBackoff
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-r.done:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// serve runs one connection to completion. A nil error means the server
// closed the socket normally.
func (r *Realtime) serve(ctx context.Context) error {
	session, ok := r.session()
	if !ok {
		return ErrNotAuthenticated
	}

	header := http.Header{}
	header.Set("Origin", Origin)
	header.Set("User-Agent", UserAgent)
	header.Set("Authorization", session.Token)

	conn, resp, err := r.opts.Dialer.DialContext(ctx, r.opts.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dialing %s: %w", r.opts.URL, err)
	}

	r.mu.Lock()
	if r.stopped() {
		r.mu.Unlock()
		conn.Close()
		return nil
	}
	r.conn = conn
	r.ready = false
	r.subscribed = make(map[string]bool)
	r.mu.Unlock()
	r.connects.Add(1)

	connDone := make(chan struct{})
	defer func() {
		close(connDone)
		r.mu.Lock()
		r.conn = nil
		r.ready = false
		r.mu.Unlock()
		conn.Close()
	}()

	// Unblock ReadMessage on cancellation.
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-r.done:
		case <-connDone:
		}
	}()

	r.logger.Info("realtime connected", "url", r.opts.URL)

	if err := r.write(conn, map[string]json.RawMessage{"token": session.Raw}); err != nil {
		return fmt.Errorf("sending token: %w", err)
	}

	deadline := 2 * r.opts.Heartbeat
	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	go r.heartbeat(conn, connDone)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("reading: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(deadline))
		r.handleMessage(conn, session, data)
	}
}

func (r *Realtime) heartbeat(conn *websocket.Conn, connDone <-chan struct{}) {
	ticker := time.NewTicker(r.opts.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-connDone:
			return
		case <-ticker.C:
			r.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			r.writeMu.Unlock()
			if err != nil {
				r.logger.Debug("realtime ping failed", "error", err)
				return
			}
		}
	}
}

// socketMessage is the envelope of every server frame.
type socketMessage struct {
	Type         string `json:"type"`
	Status       string `json:"status"`
	ConnectionID Text   `json:"connectionId"`
	Notification *struct {
		ModelID json.RawMessage            `json:"modelId"`
		Data    map[string]json.RawMessage `json:"data"`
	} `json:"notification"`
}

type subscription struct {
	ModelName string `json:"modelName"`
	ModelID   int    `json:"modelId"`
}

func (r *Realtime) handleMessage(conn *websocket.Conn, session Session, data []byte) {
	data = bytes.TrimSpace(bytes.Trim(data, "\x00"))
	if len(data) == 0 {
		return
	}

	r.messages.Add(1)
	r.mu.Lock()
	r.lastMsg = time.Now()
	r.mu.Unlock()

	var msg socketMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		r.logger.Warn("realtime message is not valid JSON", "error", err, "size", len(data))
		return
	}

	switch msg.Type {
	case msgChallenge:
		err := r.write(conn, map[string]json.RawMessage{
			"type":  json.RawMessage(`"` + msgAuthenticate + `"`),
			"token": session.Raw,
		})
		if err != nil {
			r.logger.Warn("realtime authenticate failed", "error", err)
		}

	case msgStatus:
		r.logger.Info("realtime status", "status", msg.Status, "connection_id", msg.ConnectionID.String())
		if msg.Status == statusReady {
			r.mu.Lock()
			r.ready = true
			r.mu.Unlock()
			r.subscribePending(conn)
		}

	case msgNotification:
		r.handleNotification(msg)

	default:
		r.logger.Debug("realtime message ignored", "type", msg.Type)
	}
}

// subscribePending subscribes every tracked id not yet subscribed on conn.
// Ids are claimed before writing so concurrent callers never send the same
// subscription twice.
func (r *Realtime) subscribePending(conn *websocket.Conn) {
	r.mu.Lock()
	if r.conn != conn {
		r.mu.Unlock()
		return
	}
	var pending []string
	for _, id := range r.deviceIDs {
		if !r.subscribed[id] {
			r.subscribed[id] = true
			pending = append(pending, id)
		}
	}
	r.mu.Unlock()

	subscribed := 0
	for i, id := range pending {
		modelID, err := SubscriptionID(id)
		if err != nil {
			r.logger.Warn("skipping realtime subscription", "device_id", id, "error", err)
			continue
		}
		err = r.write(conn, map[string]any{
			"type":         msgSubscribe,
			"subscription": subscription{ModelName: modelIotSwitch, ModelID: modelID},
		})
		if err != nil {
			r.logger.Warn("realtime subscribe failed", "device_id", id, "error", err)
			r.release(conn, pending[i:])
			return
		}
		subscribed++
	}
	if subscribed > 0 {
		r.logger.Info("realtime subscribed", "devices", subscribed)
	}
}

// release drops claims on ids that were never sent.
func (r *Realtime) release(conn *websocket.Conn, ids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != conn {
		return
	}
	for _, id := range ids {
		delete(r.subscribed, id)
	}
}

func (r *Realtime) handleNotification(msg socketMessage) {
	if msg.Notification == nil {
		r.logger.Warn("realtime notification without body")
		return
	}
	modelID := parseInt(msg.Notification.ModelID)
	if modelID == nil || *modelID == 0 {
		r.logger.Warn("realtime notification without modelId")
		return
	}
	if len(msg.Notification.Data) == 0 {
		return
	}

	update := updateFromData(strconv.Itoa(*modelID), msg.Notification.Data)
	r.updates.Add(1)
	r.logger.Debug("realtime update", "device_id", update.ID)
	r.onUpdate(update)
}

// SubscriptionID converts a device id to the integer model id the socket
// subscribes with.
func SubscriptionID(id string) (int, error) {
	n, err := strconv.Atoi(id)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDeviceID, id)
	}
	return n, nil
}

func (r *Realtime) write(conn *websocket.Conn, v any) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func (r *Realtime) stopped() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *Realtime) recordError(err error) {
	r.mu.Lock()
	r.lastError = err.Error()
	r.mu.Unlock()
}
