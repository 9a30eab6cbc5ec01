package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anstrom/recondor/internal/engine"
	"github.com/anstrom/recondor/internal/lifecycle"
	"github.com/anstrom/recondor/internal/orchestrator"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 512
	feedBufferSize = 256
)

// FeedMessage is the envelope for every message on the scan feed.
type FeedMessage struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// StateChangeUpdate announces a scan lifecycle transition.
type StateChangeUpdate struct {
	ScanID string `json:"scan_id"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// PhaseChangeUpdate announces a phase advance.
type PhaseChangeUpdate struct {
	ScanID string `json:"scan_id"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// ScanFinishedUpdate announces scan completion with its final summary.
type ScanFinishedUpdate struct {
	ScanID  string               `json:"scan_id"`
	Summary orchestrator.Summary `json:"summary"`
}

// ScanFeed broadcasts live scan updates to WebSocket clients. One feed
// serves all scans; clients filter on scan_id themselves.
type ScanFeed struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	shutdown   chan struct{}
	once       sync.Once
	mu         sync.RWMutex
}

// NewScanFeed creates a feed and starts its hub goroutine.
func NewScanFeed(logger *slog.Logger) *ScanFeed {
	feed := &ScanFeed{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, feedBufferSize),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		shutdown:   make(chan struct{}),
	}
	go feed.run()
	return feed
}

// Watch subscribes the feed to a scan's lifecycle and phase events.
func (f *ScanFeed) Watch(scan *engine.Scan) {
	scanID := scan.ID.String()

	scan.Machine.OnTransition(func(_ string, from, to lifecycle.ScanState) {
		f.send("state_change", StateChangeUpdate{
			ScanID: scanID,
			From:   string(from),
			To:     string(to),
		})
	})
	scan.Orchestrator.OnPhaseChange(func(old, current orchestrator.Phase) {
		f.send("phase_change", PhaseChangeUpdate{
			ScanID: scanID,
			From:   string(old),
			To:     string(current),
		})
	})
	scan.Orchestrator.OnCompletion(func(o *orchestrator.Orchestrator) {
		f.send("scan_finished", ScanFinishedUpdate{
			ScanID:  scanID,
			Summary: o.GetSummary(),
		})
	})
}

// Serve upgrades the request and streams feed messages to the client.
func (f *ScanFeed) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Error("Failed to upgrade WebSocket connection", "error", err)
		return
	}

	f.register <- conn
	defer func() {
		f.unregister <- conn
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Clients only listen; drain reads until the peer goes away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				f.logger.Debug("WebSocket closed unexpectedly", "error", err)
			}
			return
		}
	}
}

// ClientCount returns the number of connected clients.
func (f *ScanFeed) ClientCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

// Shutdown stops the hub and closes all client connections.
func (f *ScanFeed) Shutdown() {
	f.once.Do(func() { close(f.shutdown) })
}

func (f *ScanFeed) send(msgType string, data interface{}) {
	payload, err := json.Marshal(FeedMessage{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
	if err != nil {
		f.logger.Error("Failed to marshal feed message", "type", msgType, "error", err)
		return
	}

	select {
	case f.broadcast <- payload:
	default:
		f.logger.Warn("Feed broadcast buffer full, dropping message", "type", msgType)
	}
}

func (f *ScanFeed) run() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-f.shutdown:
			f.closeAll()
			return
		case conn := <-f.register:
			f.mu.Lock()
			f.clients[conn] = true
			f.mu.Unlock()
		case conn := <-f.unregister:
			f.mu.Lock()
			delete(f.clients, conn)
			f.mu.Unlock()
		case message := <-f.broadcast:
			f.writeToClients(message)
		case <-ticker.C:
			f.pingClients()
		}
	}
}

func (f *ScanFeed) writeToClients(message []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for conn := range f.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			f.logger.Debug("Write failed, dropping client", "error", err)
			_ = conn.Close()
			delete(f.clients, conn)
		}
	}
}

func (f *ScanFeed) pingClients() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for conn := range f.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			_ = conn.Close()
			delete(f.clients, conn)
		}
	}
}

func (f *ScanFeed) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for conn := range f.clients {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = conn.Close()
	}
	f.clients = make(map[*websocket.Conn]bool)
	f.logger.Info("Scan feed closed")
}
