package model

// WebSocket message types
const (
	WSMessageTypeEvent      = "event"
	WSMessageTypeSubscribed = "subscribed"
	WSMessageTypeError      = "error"
	WSMessageTypePing       = "ping"
	WSMessageTypePong       = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSEventMessage wraps a lifecycle event pushed to subscribers
type WSEventMessage struct {
	Type  string `json:"type"`
	Group string `json:"group"`
	Event Event  `json:"event"`
}

// WSSubscribedMessage acknowledges a new subscription
type WSSubscribedMessage struct {
	Type  string `json:"type"`
	Group string `json:"group"`
}

// WSErrorMessage represents an error
type WSErrorMessage struct {
	Type  string  `json:"type"`
	Error WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
