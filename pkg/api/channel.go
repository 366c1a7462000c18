package api

import "context"

// Channel defines the standardized lifecycle interface for communication platforms.
type Channel interface {
	ID() string
	Start(ctx ChannelContext) error
	Stop() error
	// Client returns the outbound operations handle for this platform.
	Client() ChannelClient
}

// ChannelContext provides the interface for a Channel implementation to
// communicate back with the engine core.
type ChannelContext interface {
	OnMessage(channelID string, msg *UnifiedMessage)
}

// ChannelClient groups the outbound side effects a platform must support.
// All operations may fail independently; callers isolate failures per call.
type ChannelClient interface {
	// SendMessage delivers text to the chat. A non-nil quote references an
	// earlier message the platform should render the reply against.
	SendMessage(ctx context.Context, session SessionContext, text string, quote *MessageHandle) (MessageHandle, error)
	// AddReaction attaches an emotion to a previously sent message.
	AddReaction(ctx context.Context, session SessionContext, emotion string, target MessageHandle) error
	SendSticker(ctx context.Context, session SessionContext, stickerID string) (MessageHandle, error)
	// ShareContact sends a contact card. An empty userID means "share self".
	ShareContact(ctx context.Context, session SessionContext, userID string) (MessageHandle, error)
	// Retract removes a previously sent message from the chat.
	Retract(ctx context.Context, session SessionContext, target MessageHandle) error
	// SendSignal transmits a lightweight control notice (e.g. "tools") to
	// change UI state. Platforms without a matching surface may ignore it.
	SendSignal(ctx context.Context, session SessionContext, signal string) error
}

// SessionContext encapsulates identity and routing information for a specific
// conversation unit on a specific communication channel.
type SessionContext struct {
	ChannelID string // Identifier of the channel that originated the session (e.g., "telegram")
	UserID    string // Platform-specific unique identifier for the user
	ChatID    string // Platform-specific identifier for the chat or group (may match UserID for DMs)
	Username  string // Display name or nickname of the user as provided by the platform
}

// ThreadID returns the engine-wide conversation key for this session.
func (s SessionContext) ThreadID() string {
	return s.ChannelID + "_" + s.ChatID
}

// UnifiedMessage defines the standardized internal data structure for all
// incoming messages within the system.
type UnifiedMessage struct {
	ID      string         // Unique identifier assigned on ingestion
	Session SessionContext // Contextual information about the source (User, Chat)
	Content string         // Standardized text content of the message
	Media   []MediaRef     // Attached media items (images, documents)
	Raw     any            // Optional storage for the original platform-specific payload
}

// MediaRef points at one attached media item. Data may be pre-fetched by the
// channel; when nil the engine fetches the bytes from URL before the upstream
// call.
type MediaRef struct {
	URL      string // Remote location of the media (used when Data is nil)
	MimeType string // MIME type descriptor (e.g., "image/jpeg")
	Data     []byte // Raw bytes when the channel already downloaded them
}

// MessageHandle identifies one outbound message on its platform, in the form
// the platform needs to reference it later (reply quoting, retraction).
type MessageHandle struct {
	ChannelID string
	ChatID    string
	MessageID string
}
