// Package pushtest provides an in-process availability push server for
// tests. It speaks the same envelope and control frames as the production
// channel and lets tests broadcast updates and break connections.
package pushtest

import (
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/kimhsiao/ferrysync/backend/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// peer is one connected client.
type peer struct {
	id     int64
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.Mutex
	routes map[string]bool
}

// follow applies a subscribe or unsubscribe frame and returns the sorted
// route set.
func (p *peer) follow(frame models.ControlFrame) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range frame.Routes {
		if frame.Action == models.ActionSubscribe {
			p.routes[r] = true
		} else {
			delete(p.routes, r)
		}
	}
	routes := make([]string, 0, len(p.routes))
	for r := range p.routes {
		routes = append(routes, r)
	}
	sort.Strings(routes)
	return routes
}

func (p *peer) follows(route string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return route == "" || p.routes[route]
}

// Server is a websocket relay hub.
type Server struct {
	srv *httptest.Server

	register   chan *peer
	unregister chan *peer
	broadcast  chan outbound
	done       chan struct{}

	mu      sync.Mutex
	peers   map[int64]*peer
	frames  []models.ControlFrame
	dials   int
	nextID  atomic.Int64
	refuse  atomic.Bool
	closing sync.Once
}

type outbound struct {
	route string
	data  []byte
}

// NewServer starts a relay listening on a local port.
func NewServer() *Server {
	s := &Server{
		register:   make(chan *peer),
		unregister: make(chan *peer),
		broadcast:  make(chan outbound, 64),
		done:       make(chan struct{}),
		peers:      make(map[int64]*peer),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	go s.run()
	return s
}

// URL returns the ws:// address of the relay.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// Close disconnects every peer and stops the server.
func (s *Server) Close() {
	s.closing.Do(func() {
		s.DropAll()
		close(s.done)
		s.srv.Close()
	})
}

// Refuse makes new upgrade requests fail with 503 while set.
func (s *Server) Refuse(refuse bool) {
	s.refuse.Store(refuse)
}

// Connections returns the number of connected peers.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Dials returns the number of accepted upgrades since start.
func (s *Server) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// Frames returns every control frame received so far.
func (s *Server) Frames() []models.ControlFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ControlFrame(nil), s.frames...)
}

// CountFrames returns how many received frames carry the given action.
func (s *Server) CountFrames(action models.ControlAction) int {
	n := 0
	for _, f := range s.Frames() {
		if f.Action == action {
			n++
		}
	}
	return n
}

// Publish sends an availability update to peers following its route.
func (s *Server) Publish(update models.AvailabilityUpdate) {
	data, _ := json.Marshal(models.PushEnvelope{
		Type:  models.PushAvailabilityUpdate,
		Route: update.Route,
		Data:  &update,
	})
	s.broadcast <- outbound{route: update.Route, data: data}
}

// SendRaw sends data verbatim to every peer.
func (s *Server) SendRaw(data []byte) {
	s.broadcast <- outbound{data: data}
}

// DropAll closes every connection without a close frame.
func (s *Server) DropAll() {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()
	for _, p := range peers {
		p.conn.Close()
	}
}

// CloseNormal ends every connection with a normal closure.
func (s *Server) CloseNormal() {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	for _, p := range peers {
		_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
}

// run owns the peer set.
func (s *Server) run() {
	for {
		select {
		case <-s.done:
			return
		case p := <-s.register:
			s.mu.Lock()
			s.peers[p.id] = p
			s.dials++
			s.mu.Unlock()
		case p := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.peers[p.id]; ok {
				delete(s.peers, p.id)
				close(p.send)
			}
			s.mu.Unlock()
		case msg := <-s.broadcast:
			s.mu.Lock()
			for _, p := range s.peers {
				if !p.follows(msg.route) {
					continue
				}
				select {
				case p.send <- msg.data:
				default:
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if s.refuse.Load() {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p := &peer{
		id:     s.nextID.Add(1),
		conn:   conn,
		send:   make(chan []byte, 64),
		routes: make(map[string]bool),
	}
	s.reply(p, models.PushEnvelope{Type: models.PushConnected, Message: "welcome"})
	select {
	case s.register <- p:
	case <-s.done:
		conn.Close()
		return
	}
	go s.writePump(p)
	go s.readPump(p)
}

// reply queues env for p. It runs before p is registered or on p's own
// readPump, so p.send is still open.
func (s *Server) reply(p *peer, env models.PushEnvelope) {
	data, _ := json.Marshal(env)
	select {
	case p.send <- data:
	default:
	}
}

func (s *Server) readPump(p *peer) {
	defer func() {
		select {
		case s.unregister <- p:
		case <-s.done:
		}
		p.conn.Close()
	}()

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame models.ControlFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.reply(p, models.PushEnvelope{Type: models.PushError, Message: "invalid frame"})
			continue
		}
		// Routes change before the frame is visible through Frames, so a
		// caller that saw the frame can Publish and reach this peer.
		var routes []string
		if frame.Action == models.ActionSubscribe || frame.Action == models.ActionUnsubscribe {
			routes = p.follow(frame)
		}
		s.mu.Lock()
		s.frames = append(s.frames, frame)
		s.mu.Unlock()

		switch frame.Action {
		case models.ActionPing:
			s.reply(p, models.PushEnvelope{Type: models.PushPong})
		case models.ActionSubscribe, models.ActionUnsubscribe:
			s.reply(p, models.PushEnvelope{Type: models.PushSubscribed, Routes: routes})
		default:
			s.reply(p, models.PushEnvelope{Type: models.PushError, Message: "unknown action"})
		}
	}
}

func (s *Server) writePump(p *peer) {
	for data := range p.send {
		_ = p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}
