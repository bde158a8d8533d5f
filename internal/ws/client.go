package ws

import (
	"encoding/json"
	"time"

	"pricepulse/internal/metrics"
	"pricepulse/internal/models"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client represents one live WebSocket connection. The subscribed set is
// only touched from the client's own readPump goroutine; the updates channel
// is fed by the registry and drained by writePump.
type Client struct {
	id         string
	sourceIP   string
	gateway    *Gateway
	conn       *websocket.Conn
	send       chan models.ServerEvent
	updates    chan models.PriceUpdate
	subscribed map[string]struct{}
}

// readPump handles incoming subscribe/unsubscribe requests and acts as the
// connection watchdog. Cleanup on exit must be exhaustive: every subscribed
// identifier is unwound against the registry.
func (c *Client) readPump() {
	defer c.gateway.removeClient(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.gateway.logger.WithError(err).WithField("client_id", c.id).Debug("WebSocket read error")
			}
			return
		}

		var req models.ClientRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.sendError("malformed request")
			continue
		}

		switch req.Event {
		case models.EventSubscribe:
			c.handleSubscribe(req.Identifier)
		case models.EventUnsubscribe:
			c.handleUnsubscribe(req.Identifier)
		default:
			c.sendError("unknown event: " + req.Event)
		}
	}
}

func (c *Client) handleSubscribe(identifier string) {
	if len(c.subscribed) >= c.gateway.maxSubscriptions {
		c.sendError(models.ErrSubscriptionLimit.Error())
		return
	}

	created, err := c.gateway.registry.Subscribe(identifier, c.id, c.updates)
	if err != nil {
		c.sendError(err.Error())
		return
	}

	identifier = models.NormalizeIdentifier(identifier)
	c.subscribed[identifier] = struct{}{}

	c.gateway.logger.WithFields(logrus.Fields{
		"client_id":  c.id,
		"identifier": identifier,
		"new":        created,
	}).Info("Client subscribed")

	c.enqueue(models.ServerEvent{
		Event:      models.EventSubscribed,
		Identifier: identifier,
		Message:    "subscribed to price updates",
		Timestamp:  time.Now().UnixMilli(),
	})
}

func (c *Client) handleUnsubscribe(identifier string) {
	if !models.ValidIdentifier(identifier) {
		c.sendError(models.ErrInvalidIdentifier.Error())
		return
	}

	identifier = models.NormalizeIdentifier(identifier)
	c.gateway.registry.Unsubscribe(identifier, c.id)
	delete(c.subscribed, identifier)

	c.enqueue(models.ServerEvent{
		Event:      models.EventUnsubscribed,
		Identifier: identifier,
		Timestamp:  time.Now().UnixMilli(),
	})
}

func (c *Client) sendError(message string) {
	c.enqueue(models.ServerEvent{
		Event:     models.EventError,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	})
}

// enqueue hands an event to writePump without ever blocking readPump
func (c *Client) enqueue(event models.ServerEvent) {
	select {
	case c.send <- event:
	default:
		c.gateway.logger.WithField("client_id", c.id).Warn("Client send buffer full, dropping event")
	}
}

// writePump is the connection's single writer. It merges control events and
// registry price updates and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
			metrics.MessagesSent.WithLabelValues(event.Event).Inc()

		case update := <-c.updates:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(models.UpdateEvent(update)); err != nil {
				return
			}
			metrics.MessagesSent.WithLabelValues(models.EventPriceUpdate).Inc()

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
