package monitor

import "time"

// Message types mirrored by monitors.
const (
	TypeUser      = "USER"
	TypeAssistant = "ASSISTANT"
	TypeAction    = "ACTION" // non-text side effects: reactions, stickers, undos
)

// MonitorMessage represents one traffic event flowing through the bot.
type MonitorMessage struct {
	Timestamp   time.Time
	MessageType string
	ChannelID   string
	Username    string
	Content     string
}

// Monitor defines the behavior of a traffic monitor.
type Monitor interface {
	Start() error
	Stop() error

	// OnMessage receives and displays a monitoring message.
	OnMessage(msg MonitorMessage)
}
