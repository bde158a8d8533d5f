package models

// WebSocket event names
const (
	EventSubscribe    = "subscribe"
	EventUnsubscribe  = "unsubscribe"
	EventConnected    = "connected"
	EventSubscribed   = "subscribed"
	EventUnsubscribed = "unsubscribed"
	EventPriceUpdate  = "priceUpdate"
	EventError        = "error"
)

// ClientRequest is a client→server message on the WebSocket connection
type ClientRequest struct {
	Event      string `json:"event"`
	Identifier string `json:"identifier"`
}

// ServerEvent is the server→client envelope. Fields are populated per event
// type; the zero values are omitted from the wire.
type ServerEvent struct {
	Event          string          `json:"event"`
	Identifier     string          `json:"identifier,omitempty"`
	Message        string          `json:"message,omitempty"`
	Timestamp      int64           `json:"timestamp"`
	PriceUsd       string          `json:"priceUsd,omitempty"`
	PriceChange24h float64         `json:"priceChange24h,omitempty"`
	Change         ChangeDirection `json:"change,omitempty"`
}

// UpdateEvent wraps a registry PriceUpdate into a wire envelope
func UpdateEvent(u PriceUpdate) ServerEvent {
	return ServerEvent{
		Event:          EventPriceUpdate,
		Identifier:     u.Identifier,
		PriceUsd:       u.PriceUsd,
		PriceChange24h: u.PriceChange24h,
		Timestamp:      u.Timestamp,
		Change:         u.Change,
	}
}
