// Package push is the client side of the live availability channel. It
// keeps a websocket open while the app is in the foreground, re-subscribes
// to the tracked routes after every (re)connect and forwards availability
// updates to a caller-supplied callback.
package push

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	apperrors "github.com/kimhsiao/ferrysync/backend/internal/errors"
	"github.com/kimhsiao/ferrysync/backend/internal/logging"
	"github.com/kimhsiao/ferrysync/backend/internal/models"
)

const (
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultReconnectDelay       = 3 * time.Second
	DefaultMaxReconnectAttempts = 5

	writeWait = 10 * time.Second
)

// Config configures a Client.
type Config struct {
	URL                  string
	HeartbeatInterval    time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	Header               http.Header

	// OnUpdate receives every availability_update payload.
	OnUpdate func(models.AvailabilityUpdate)
	// OnStateChange is called after each state transition.
	OnStateChange func(State)
}

func (c *Config) applyDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
}

// Client is the push channel client.
type Client struct {
	cfg       Config
	dialer    *websocket.Dialer
	sessionID string
	logger    *logging.Logger

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	gen        uint64
	foreground bool
	attempts   int
	reconnect  *time.Timer
	stopBeat   chan struct{}
	routes     map[string]struct{}
	subscribed []string
	lastPong   time.Time
	notes      []State

	// writeMu keeps a single writer on the socket.
	writeMu sync.Mutex
}

// NewClient creates a disconnected, foregrounded client.
func NewClient(cfg Config) *Client {
	cfg.applyDefaults()
	sessionID := uuid.NewString()
	return &Client{
		cfg:        cfg,
		dialer:     websocket.DefaultDialer,
		sessionID:  sessionID,
		logger:     logging.Component("push").With("session", sessionID),
		state:      StateDisconnected,
		foreground: true,
		routes:     make(map[string]struct{}),
	}
}

// SessionID identifies this client in logs.
func (c *Client) SessionID() string {
	return c.sessionID
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscriptions returns the routes the server confirmed.
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.subscribed...)
}

// Routes returns the routes the client wants to follow.
func (c *Client) Routes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.routeListLocked()
}

// LastPong returns when the server last answered a heartbeat.
func (c *Client) LastPong() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPong
}

// Connect opens the socket. It does nothing while backgrounded or when a
// connection is already open or being opened.
func (c *Client) Connect(ctx context.Context) error {
	return c.connect(ctx, false, 0)
}

func (c *Client) connect(ctx context.Context, fromTimer bool, timerGen uint64) error {
	c.mu.Lock()
	if fromTimer && (c.gen != timerGen || c.state != StateReconnecting) {
		c.unlock()
		return nil
	}
	if !c.foreground || c.state == StateConnected || c.state == StateConnecting {
		c.unlock()
		return nil
	}
	c.stopReconnectLocked()
	if !c.transitionLocked(StateConnecting) {
		c.unlock()
		return apperrors.Newf(apperrors.ErrInvalidTransition, "cannot connect from %s", c.state)
	}
	c.gen++
	gen := c.gen
	c.unlock()

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)

	c.mu.Lock()
	if c.gen != gen {
		// Disconnected while dialing.
		c.unlock()
		if conn != nil {
			conn.Close()
		}
		return nil
	}
	if err != nil {
		c.logger.Warn("push channel dial failed", map[string]interface{}{
			"url":   c.cfg.URL,
			"error": err.Error(),
		})
		c.scheduleReconnectLocked(gen)
		c.unlock()
		return apperrors.Wrap(apperrors.ErrTransport, "dial push channel", err)
	}

	c.conn = conn
	c.attempts = 0
	c.transitionLocked(StateConnected)
	stop := make(chan struct{})
	c.stopBeat = stop
	routes := c.routeListLocked()
	c.unlock()

	c.logger.Info("push channel connected", map[string]interface{}{"url": c.cfg.URL})

	go c.readPump(conn, gen)
	go c.heartbeat(gen, stop)

	if len(routes) > 0 {
		if err := c.send(gen, models.ControlFrame{Action: models.ActionSubscribe, Routes: routes}); err != nil {
			c.logger.Warn("resubscribe failed: " + err.Error())
		}
	}
	return nil
}

// Disconnect closes the socket with a normal closure, cancels the heartbeat
// and any pending reconnect, and clears the confirmed subscriptions. The
// tracked route list is kept for the next Connect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.gen++
	c.stopReconnectLocked()
	c.stopHeartbeatLocked()
	conn := c.conn
	c.conn = nil
	c.subscribed = nil
	if c.state != StateDisconnected {
		c.transitionLocked(StateDisconnected)
	}
	c.unlock()

	if conn == nil {
		return
	}
	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.writeMu.Unlock()
	conn.Close()
	c.logger.Info("push channel disconnected")
}

// SetForeground couples the connection to the app lifecycle: backgrounding
// disconnects, foregrounding resets the reconnect budget and connects.
func (c *Client) SetForeground(ctx context.Context, foreground bool) error {
	c.mu.Lock()
	c.foreground = foreground
	if foreground {
		c.attempts = 0
	}
	c.unlock()

	if !foreground {
		c.Disconnect()
		return nil
	}
	return c.Connect(ctx)
}

// Subscribe adds routes to the tracked list and, when connected, asks the
// server for their updates.
func (c *Client) Subscribe(routes ...string) error {
	return c.changeRoutes(models.ActionSubscribe, routes)
}

// Unsubscribe removes routes from the tracked list and, when connected,
// tells the server.
func (c *Client) Unsubscribe(routes ...string) error {
	return c.changeRoutes(models.ActionUnsubscribe, routes)
}

func (c *Client) changeRoutes(action models.ControlAction, routes []string) error {
	if len(routes) == 0 {
		return nil
	}
	c.mu.Lock()
	for _, r := range routes {
		if action == models.ActionSubscribe {
			c.routes[r] = struct{}{}
		} else {
			delete(c.routes, r)
		}
	}
	connected := c.state == StateConnected
	gen := c.gen
	c.unlock()

	if !connected {
		return nil
	}
	return c.send(gen, models.ControlFrame{Action: action, Routes: routes})
}

// send writes a control frame on the connection of generation gen.
func (c *Client) send(gen uint64, frame models.ControlFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrSerialization, "encode control frame", err)
	}

	c.mu.Lock()
	conn := c.conn
	stale := c.gen != gen
	c.unlock()
	if stale || conn == nil {
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return apperrors.Wrap(apperrors.ErrTransport, "write "+string(frame.Action), err)
	}
	return nil
}

// readPump reads frames until the connection fails.
func (c *Client) readPump(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(gen, err)
			return
		}
		c.handleMessage(gen, data)
	}
}

func (c *Client) heartbeat(gen uint64, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.send(gen, models.ControlFrame{Action: models.ActionPing}); err != nil {
				c.logger.Warn("heartbeat failed: " + err.Error())
			}
		}
	}
}

func (c *Client) handleMessage(gen uint64, data []byte) {
	var env models.PushEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.ErrorWithCode("discarded malformed push message", string(apperrors.ErrMalformedMessage), err)
		return
	}

	c.mu.Lock()
	stale := c.gen != gen
	c.unlock()
	if stale {
		return
	}

	switch env.Type {
	case models.PushAvailabilityUpdate:
		if env.Data == nil {
			c.logger.Warn("discarded availability update without data", map[string]interface{}{"route": env.Route})
			return
		}
		if c.cfg.OnUpdate != nil {
			c.cfg.OnUpdate(*env.Data)
		}
	case models.PushSubscribed:
		routes := append([]string(nil), env.Routes...)
		sort.Strings(routes)
		c.mu.Lock()
		c.subscribed = routes
		c.unlock()
		c.logger.Debug("subscriptions confirmed", map[string]interface{}{"routes": routes})
	case models.PushPong:
		c.mu.Lock()
		c.lastPong = time.Now()
		c.unlock()
	case models.PushConnected:
		c.logger.Debug("server acknowledged connection")
	case models.PushError:
		c.logger.Warn("push server reported an error", map[string]interface{}{"message": env.Message})
	default:
		c.logger.Debug("ignored push message", map[string]interface{}{"type": string(env.Type)})
	}
}

// handleClose reacts to the end of the connection of generation gen.
func (c *Client) handleClose(gen uint64, err error) {
	c.mu.Lock()
	defer c.unlock()
	if c.gen != gen {
		return
	}

	c.stopHeartbeatLocked()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.subscribed = nil

	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		c.logger.Info("push channel closed by server")
		c.transitionLocked(StateDisconnected)
		return
	}
	c.logger.Warn("push channel lost", map[string]interface{}{"error": err.Error()})
	c.scheduleReconnectLocked(gen)
}

// scheduleReconnectLocked arms the reconnect timer, or gives up when the
// app is backgrounded or the attempt budget is spent.
func (c *Client) scheduleReconnectLocked(gen uint64) {
	if !c.foreground || c.attempts >= c.cfg.MaxReconnectAttempts {
		c.logger.Warn("push channel giving up", map[string]interface{}{
			"attempts":   c.attempts,
			"foreground": c.foreground,
		})
		c.transitionLocked(StateDisconnected)
		return
	}
	c.attempts++
	c.transitionLocked(StateReconnecting)
	c.logger.Info("push channel reconnect scheduled", map[string]interface{}{
		"attempt": c.attempts,
		"delay":   c.cfg.ReconnectDelay.String(),
	})
	c.reconnect = time.AfterFunc(c.cfg.ReconnectDelay, func() {
		_ = c.connect(context.Background(), true, gen)
	})
}

func (c *Client) stopReconnectLocked() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

func (c *Client) stopHeartbeatLocked() {
	if c.stopBeat != nil {
		close(c.stopBeat)
		c.stopBeat = nil
	}
}

// transitionLocked moves to the given state if the table allows it.
// Refused transitions are logged.
func (c *Client) transitionLocked(to State) bool {
	if !CanTransition(c.state, to) {
		c.logger.ErrorWithCode("refused push state transition", string(apperrors.ErrInvalidTransition), nil, map[string]interface{}{
			"from": string(c.state),
			"to":   string(to),
		})
		return false
	}
	c.state = to
	c.notes = append(c.notes, to)
	return true
}

// unlock releases mu and then reports queued state changes.
func (c *Client) unlock() {
	notes := c.notes
	c.notes = nil
	c.mu.Unlock()

	if c.cfg.OnStateChange == nil {
		return
	}
	for _, s := range notes {
		c.cfg.OnStateChange(s)
	}
}

func (c *Client) routeListLocked() []string {
	routes := make([]string, 0, len(c.routes))
	for r := range c.routes {
		routes = append(routes, r)
	}
	sort.Strings(routes)
	return routes
}
