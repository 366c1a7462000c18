package web

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"parley/pkg/api"
	"parley/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for decoupled UI
	},
}

type Config struct {
	Port int `json:"port"` // Default: 9453
}

// IncomingMessage is the JSON frame a browser client sends.
type IncomingMessage struct {
	Text   string `json:"text"`
	Images []struct {
		Name string `json:"name"`
		Mime string `json:"mime"`
		Data string `json:"data"` // Base64 encoded
	} `json:"images"`
}

// OutboundFrame is the JSON frame pushed to browser clients. Type is one of
// "message", "reaction", "sticker", "card", "retract" or "signal".
type OutboundFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id,omitempty"`
	Text      string `json:"text,omitempty"`
	Emotion   string `json:"emotion,omitempty"`
	TargetID  string `json:"target_id,omitempty"`
	StickerID string `json:"sticker_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Value     string `json:"value,omitempty"`
	QuoteID   string `json:"quote_id,omitempty"`
}

// SafeConn serializes writes on a websocket connection.
type SafeConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (sc *SafeConn) WriteMessage(messageType int, data []byte) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.Conn.WriteMessage(messageType, data)
}

// Channel exposes the bot over a websocket endpoint for browser UIs.
type Channel struct {
	config      Config
	server      *http.Server
	connections map[string]*SafeConn // UserID -> WS Connection
	mu          sync.RWMutex
}

func NewChannel(cfg Config) *Channel {
	return &Channel{
		config:      cfg,
		connections: make(map[string]*SafeConn),
	}
}

func (c *Channel) ID() string {
	return "web"
}

func (c *Channel) Client() api.ChannelClient {
	return &client{ch: c}
}

func (c *Channel) Start(ctx api.ChannelContext) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		c.handleWebSocket(w, r, ctx)
	})

	addr := fmt.Sprintf(":%d", c.config.Port)
	c.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	slog.Info("Web API listening", "port", c.config.Port)

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Web API server error", "error", err)
		}
	}()

	return nil
}

func (c *Channel) Stop() error {
	if c.server != nil {
		return c.server.Close()
	}
	return nil
}

func (c *Channel) connFor(userID string) (*SafeConn, error) {
	c.mu.RLock()
	conn, ok := c.connections[userID]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("web user %s not connected", userID)
	}
	return conn, nil
}

func (c *Channel) push(userID string, frame OutboundFrame) error {
	conn, err := c.connFor(userID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Channel) handleWebSocket(w http.ResponseWriter, r *http.Request, ctx api.ChannelContext) {
	rawConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WS Upgrade failed", "error", err)
		return
	}

	conn := &SafeConn{Conn: rawConn}
	userID := r.RemoteAddr

	c.mu.Lock()
	c.connections[userID] = conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.connections, userID)
		c.mu.Unlock()
		conn.Close()
	}()

	session := api.SessionContext{
		ChannelID: "web",
		UserID:    userID,
		ChatID:    userID,
		Username:  "WebUser",
	}

	for {
		_, msgBytes, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var content string
		var media []api.MediaRef

		// Try to parse as JSON (includes images); fall back to plain text.
		var incoming IncomingMessage
		if err := json.Unmarshal(msgBytes, &incoming); err == nil && (incoming.Text != "" || len(incoming.Images) > 0) {
			content = incoming.Text
			for _, img := range incoming.Images {
				data, err := base64.StdEncoding.DecodeString(img.Data)
				if err != nil {
					slog.Error("Failed to decode base64 image", "name", img.Name, "error", err)
					continue
				}
				mime := img.Mime
				if mime == "" {
					mime = http.DetectContentType(data)
				}
				media = append(media, api.MediaRef{MimeType: mime, Data: data})
			}
		} else {
			content = string(msgBytes)
		}

		ctx.OnMessage(c.ID(), &api.UnifiedMessage{
			Session: session,
			Content: content,
			Media:   media,
		})
	}
}

// client implements api.ChannelClient by pushing JSON frames to the user's
// websocket. Message handles are engine-generated IDs the browser echoes in
// its rendering, so reactions and retractions can reference them.
type client struct {
	ch *Channel
}

func (c *client) SendMessage(_ context.Context, session api.SessionContext, text string, quote *api.MessageHandle) (api.MessageHandle, error) {
	id := utils.GenerateID()
	frame := OutboundFrame{Type: "message", MessageID: id, Text: text}
	if quote != nil {
		frame.QuoteID = quote.MessageID
	}
	if err := c.ch.push(session.UserID, frame); err != nil {
		return api.MessageHandle{}, err
	}
	return api.MessageHandle{ChannelID: "web", ChatID: session.ChatID, MessageID: id}, nil
}

func (c *client) AddReaction(_ context.Context, session api.SessionContext, emotion string, target api.MessageHandle) error {
	return c.ch.push(session.UserID, OutboundFrame{
		Type:     "reaction",
		Emotion:  emotion,
		TargetID: target.MessageID,
	})
}

func (c *client) SendSticker(_ context.Context, session api.SessionContext, stickerID string) (api.MessageHandle, error) {
	id := utils.GenerateID()
	err := c.ch.push(session.UserID, OutboundFrame{
		Type:      "sticker",
		MessageID: id,
		StickerID: stickerID,
	})
	if err != nil {
		return api.MessageHandle{}, err
	}
	return api.MessageHandle{ChannelID: "web", ChatID: session.ChatID, MessageID: id}, nil
}

func (c *client) ShareContact(_ context.Context, session api.SessionContext, userID string) (api.MessageHandle, error) {
	id := utils.GenerateID()
	err := c.ch.push(session.UserID, OutboundFrame{
		Type:      "card",
		MessageID: id,
		UserID:    userID,
	})
	if err != nil {
		return api.MessageHandle{}, err
	}
	return api.MessageHandle{ChannelID: "web", ChatID: session.ChatID, MessageID: id}, nil
}

func (c *client) Retract(_ context.Context, session api.SessionContext, target api.MessageHandle) error {
	return c.ch.push(session.UserID, OutboundFrame{
		Type:     "retract",
		TargetID: target.MessageID,
	})
}

func (c *client) SendSignal(_ context.Context, session api.SessionContext, signal string) error {
	return c.ch.push(session.UserID, OutboundFrame{
		Type:  "signal",
		Value: signal,
	})
}
