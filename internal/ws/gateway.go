package ws

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"pricepulse/internal/config"
	"pricepulse/internal/metrics"
	"pricepulse/internal/models"
	"pricepulse/internal/services/registry"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Gateway accepts WebSocket connections, enforces per-source connection and
// per-client subscription limits, and routes subscribe/unsubscribe requests
// into the registry. Cleanup on disconnect is its responsibility alone.
type Gateway struct {
	registry         *registry.Registry
	logger           *logrus.Logger
	upgrader         websocket.Upgrader
	connLimiter      *ipLimiter
	maxSubscriptions int
	sendBuffer       int

	mu      sync.Mutex
	clients map[string]*Client
	nextID  uint64
}

// NewGateway creates a gateway backed by reg
func NewGateway(cfg config.GatewayConfig, reg *registry.Registry, logger *logrus.Logger) *Gateway {
	return &Gateway{
		registry: reg,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients connect from arbitrary origins; auth is out of scope
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		connLimiter:      newIPLimiter(cfg.MaxConnectionsPerIP, cfg.ConnectionWindow),
		maxSubscriptions: cfg.MaxSubscriptions,
		sendBuffer:       cfg.ClientSendBufferSize,
		clients:          make(map[string]*Client),
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	ip := sourceIP(r)

	if !g.connLimiter.Allow(ip) {
		metrics.ConnectionsRejected.WithLabelValues("rate_limited").Inc()
		g.logger.WithField("source_ip", ip).Warn("Connection rejected: rate limited")
		http.Error(w, models.ErrRateLimited.Error(), http.StatusTooManyRequests)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.WithError(err).Debug("WebSocket upgrade failed")
		return
	}

	client := &Client{
		id:         fmt.Sprintf("c-%d", atomic.AddUint64(&g.nextID, 1)),
		sourceIP:   ip,
		gateway:    g,
		conn:       conn,
		send:       make(chan models.ServerEvent, g.sendBuffer),
		updates:    make(chan models.PriceUpdate, g.sendBuffer),
		subscribed: make(map[string]struct{}),
	}

	g.mu.Lock()
	g.clients[client.id] = client
	count := len(g.clients)
	g.mu.Unlock()
	metrics.ConnectedClients.Set(float64(count))

	g.logger.WithFields(logrus.Fields{
		"client_id": client.id,
		"source_ip": ip,
		"clients":   count,
	}).Info("Client connected")

	client.enqueue(models.ServerEvent{
		Event:     models.EventConnected,
		Message:   "connected to price stream",
		Timestamp: time.Now().UnixMilli(),
	})

	go client.writePump()
	go client.readPump()
}

// removeClient unwinds every subscription the client holds and discards its
// record. A disconnect that leaves even one dangling subscriber callback
// would keep a poll loop alive for a client that can never be notified.
func (g *Gateway) removeClient(c *Client) {
	c.conn.Close()

	for identifier := range c.subscribed {
		g.registry.Unsubscribe(identifier, c.id)
		delete(c.subscribed, identifier)
	}

	g.mu.Lock()
	delete(g.clients, c.id)
	count := len(g.clients)
	g.mu.Unlock()
	metrics.ConnectedClients.Set(float64(count))

	close(c.send)

	g.logger.WithFields(logrus.Fields{
		"client_id": c.id,
		"clients":   count,
	}).Info("Client disconnected")
}

// ClientCount returns the number of live connections
func (g *Gateway) ClientCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}

// sourceIP extracts the caller's network origin, honoring the first
// X-Forwarded-For hop when present
func sourceIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		for i := 0; i < len(fwd); i++ {
			if fwd[i] == ',' {
				return fwd[:i]
			}
		}
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
