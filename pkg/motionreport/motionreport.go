// Package motionreport streams generated step chunks to WebSocket
// subscribers. Each flushed queue_step chunk is broadcast as a JSON
// update, giving diagnostic frontends a live view of what the step
// generator is producing per stepper.
package motionreport

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"klipper-stepgen/pkg/log"
	"klipper-stepgen/pkg/stepcompress"
)

// StepUpdate is one broadcast step chunk.
type StepUpdate struct {
	Oid        uint8  `json:"oid"`
	FirstClock uint64 `json:"first_clock"`
	LastClock  uint64 `json:"last_clock"`
	Interval   uint32 `json:"interval"`
	Count      uint16 `json:"count"`
	Add        int16  `json:"add"`
	Dir        bool   `json:"dir"`
}

// Server accepts WebSocket subscribers and fans out step updates.
type Server struct {
	addr       string
	httpServer *http.Server
	upgrader   websocket.Upgrader

	clients  map[int64]*client
	clientMu sync.RWMutex
	nextID   int64

	running atomic.Bool
	logger  *log.Logger
}

// New creates a motion report server listening on addr.
func New(addr string) *Server {
	s := &Server{
		addr:    addr,
		clients: make(map[int64]*client),
		logger:  log.New("motionreport"),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return s
}

// Attach registers the server as the flush observer of a step queue.
// Every chunk the queue compresses is broadcast to subscribers.
func (s *Server) Attach(sc *stepcompress.StepCompress) {
	sc.SetFlushCallback(func(oid uint8, firstClock uint64, move stepcompress.StepMove, dir bool) {
		s.Broadcast(StepUpdate{
			Oid:        oid,
			FirstClock: firstClock,
			LastClock:  firstClock + move.Clocks(),
			Interval:   move.Interval,
			Count:      move.Count,
			Add:        move.Add,
			Dir:        dir,
		})
	})
}

// Start begins serving WebSocket subscribers in the background.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/motion", s.handleWebSocket)
	s.httpServer = &http.Server{Addr: s.addr, Handler: mux}
	s.running.Store(true)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("motion report server stopped")
		}
	}()
	s.logger.WithField("addr", s.addr).Info("motion report server listening")
	return nil
}

// Stop shuts the server down and disconnects all subscribers.
func (s *Server) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.clientMu.Lock()
	for _, c := range s.clients {
		c.close()
	}
	s.clients = make(map[int64]*client)
	s.clientMu.Unlock()
	if s.httpServer != nil {
		s.httpServer.Close()
	}
}

// Broadcast sends an update to every connected subscriber. Slow
// subscribers drop updates rather than stall the generator.
func (s *Server) Broadcast(u StepUpdate) {
	s.clientMu.RLock()
	defer s.clientMu.RUnlock()
	for _, c := range s.clients {
		c.send(u)
	}
}

// ClientCount returns the number of connected subscribers.
func (s *Server) ClientCount() int {
	s.clientMu.RLock()
	defer s.clientMu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	c := &client{
		id:     atomic.AddInt64(&s.nextID, 1),
		conn:   conn,
		server: s,
		sendCh: make(chan StepUpdate, 256),
		done:   make(chan struct{}),
	}
	s.clientMu.Lock()
	s.clients[c.id] = c
	s.clientMu.Unlock()

	go c.writePump()
	go c.readPump()
}

func (s *Server) removeClient(c *client) {
	s.clientMu.Lock()
	delete(s.clients, c.id)
	s.clientMu.Unlock()
}

// client is one WebSocket subscriber.
type client struct {
	id     int64
	conn   *websocket.Conn
	server *Server
	sendCh chan StepUpdate
	done   chan struct{}
	mu     sync.Mutex
}

func (c *client) send(u StepUpdate) {
	select {
	case c.sendCh <- u:
	case <-c.done:
	default:
		// Channel full, drop update
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return
	default:
		close(c.done)
	}
	c.conn.Close()
}

// readPump discards incoming frames; subscribers are read-only. It also
// drives close detection.
func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.close()
	}()
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case u := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(u); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
