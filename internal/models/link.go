package models

// LinkState describes the serial link lifecycle.
type LinkState string

const (
	LinkDisconnected LinkState = "disconnected"
	LinkConnecting   LinkState = "connecting"
	LinkConnected    LinkState = "connected"
	LinkReconnecting LinkState = "reconnecting"
)

// LinkInfo is a snapshot of the supervisor's connection state.
type LinkInfo struct {
	Port         string    `json:"port"`
	State        LinkState `json:"state"`
	Connected    bool      `json:"connected"`
	HeartbeatAge float64   `json:"heartbeat_age_seconds"`
}
