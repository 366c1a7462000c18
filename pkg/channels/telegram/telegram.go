package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"parley/pkg/api"
)

// Config encapsulates the credentials required to authenticate with the
// Telegram Bot API.
type Config struct {
	Token string `json:"token"` // The secret BOT API string provided by @BotFather
}

// Channel is the production implementation of api.Channel for the Telegram
// platform. It handles multi-modal message reception, media group buffering
// (albums), and exposes the outbound Client used by the dispatcher.
type Channel struct {
	config       Config
	bot          *tgbotapi.BotAPI
	messageLimit int
	mediaGroups  map[string]*mediaGroupBuffer
	httpClient   *http.Client
	mu           sync.Mutex
	stopCtx      context.Context
	stopCancel   context.CancelFunc
}

// mediaGroupBuffer aggregates multiple incoming messages marked with the
// same MediaGroupID into a single UnifiedMessage, so multi-image posts reach
// the engine as one atomic turn.
type mediaGroupBuffer struct {
	session  api.SessionContext
	content  string
	photoIDs []string
	timer    *time.Timer
}

func NewChannel(cfg Config, msgLimit int, downloadTimeoutMs int) (*Channel, error) {
	ctx, cancel := context.WithCancel(context.Background())

	// Dedicated HTTP client whose dials are tied to stopCtx, so an active
	// long-polling request aborts instantly on Stop() instead of holding the
	// token and triggering 409 Conflict on restart.
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	botHTTPClient := &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			DialContext: func(dialCtx context.Context, network, addr string) (net.Conn, error) {
				mergedCtx, mergedCancel := context.WithCancel(dialCtx)
				go func() {
					select {
					case <-ctx.Done():
						mergedCancel()
					case <-mergedCtx.Done():
					}
				}()
				return dialer.DialContext(mergedCtx, network, addr)
			},
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint, botHTTPClient)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	slog.Info("Telegram bot authorized", "username", bot.Self.UserName)

	return &Channel{
		config:       cfg,
		bot:          bot,
		messageLimit: msgLimit,
		mediaGroups:  make(map[string]*mediaGroupBuffer),
		httpClient: &http.Client{
			Timeout: time.Duration(downloadTimeoutMs) * time.Millisecond,
		},
		stopCtx:    ctx,
		stopCancel: cancel,
	}, nil
}

// ID returns the unique platform identifier "telegram".
func (t *Channel) ID() string {
	return "telegram"
}

// Client returns the outbound operations handle for this platform.
func (t *Channel) Client() api.ChannelClient {
	return &client{ch: t}
}

// Start initiates the long-polling update loop in a background goroutine,
// mapping updates into the internal UnifiedMessage format.
func (t *Channel) Start(ctx api.ChannelContext) error {
	offset := 0

	go func() {
		for {
			select {
			case <-t.stopCtx.Done():
				return
			default:
			}

			reqConfig := tgbotapi.NewUpdate(offset)
			reqConfig.Timeout = 60

			updates, err := t.bot.GetUpdates(reqConfig)
			if err != nil {
				select {
				case <-t.stopCtx.Done():
					return
				default:
					slog.Debug("Failed to get telegram updates", "error", err)
					time.Sleep(3 * time.Second)
					continue
				}
			}

			for _, update := range updates {
				if update.UpdateID < offset {
					continue
				}
				offset = update.UpdateID + 1

				if update.Message == nil {
					continue
				}
				t.handleUpdate(ctx, update.Message)
			}
		}
	}()

	return nil
}

func (t *Channel) handleUpdate(ctx api.ChannelContext, m *tgbotapi.Message) {
	session := api.SessionContext{
		ChannelID: "telegram",
		UserID:    strconv.FormatInt(m.From.ID, 10),
		ChatID:    strconv.FormatInt(m.Chat.ID, 10),
		Username:  m.From.UserName,
	}

	// Largest size of the photo, if any. Download is deferred so album
	// grouping is not blocked.
	var photoID string
	if len(m.Photo) > 0 {
		photoID = m.Photo[len(m.Photo)-1].FileID
	}

	content := m.Text
	if content == "" {
		content = m.Caption
	}

	if m.MediaGroupID != "" {
		t.handleMediaGroup(ctx, m.MediaGroupID, session, content, photoID)
		return
	}

	if photoID != "" {
		// Download asynchronously to keep the update loop responsive.
		go func() {
			var media []api.MediaRef
			if ref, err := t.downloadPhoto(photoID); err == nil {
				media = append(media, *ref)
			} else {
				slog.Error("Photo download failed", "error", err)
			}
			ctx.OnMessage(t.ID(), &api.UnifiedMessage{
				Session: session,
				Content: content,
				Media:   media,
				Raw:     m,
			})
		}()
		return
	}

	ctx.OnMessage(t.ID(), &api.UnifiedMessage{
		Session: session,
		Content: content,
		Raw:     m,
	})
}

// downloadPhoto fetches the photo bytes via the Bot API file endpoint.
func (t *Channel) downloadPhoto(fileID string) (*api.MediaRef, error) {
	fileInfo, err := t.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("failed to get photo file info: %w", err)
	}

	fileURL := fileInfo.Link(t.config.Token)
	resp, err := t.httpClient.Get(fileURL)
	if err != nil {
		return nil, fmt.Errorf("failed to download photo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download photo: status code %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read photo data: %w", err)
	}

	return &api.MediaRef{
		URL:      fileURL,
		MimeType: http.DetectContentType(data),
		Data:     data,
	}, nil
}

func (t *Channel) handleMediaGroup(ctx api.ChannelContext, groupID string, session api.SessionContext, text string, photoID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	buf, ok := t.mediaGroups[groupID]
	if !ok {
		buf = &mediaGroupBuffer{
			session:  session,
			content:  text,
			photoIDs: []string{},
		}
		if photoID != "" {
			buf.photoIDs = append(buf.photoIDs, photoID)
		}
		t.mediaGroups[groupID] = buf

		// Debounce: an album's items arrive as separate updates within a
		// short window.
		buf.timer = time.AfterFunc(time.Second, func() {
			t.mu.Lock()
			finalBuf, exists := t.mediaGroups[groupID]
			if exists {
				delete(t.mediaGroups, groupID)
			}
			t.mu.Unlock()
			if !exists {
				return
			}

			var wg sync.WaitGroup
			refs := make([]*api.MediaRef, len(finalBuf.photoIDs))
			for i, pid := range finalBuf.photoIDs {
				wg.Add(1)
				go func(index int, id string) {
					defer wg.Done()
					ref, err := t.downloadPhoto(id)
					if err != nil {
						slog.Error("MediaGroup download failed", "file_id", id, "error", err)
						return
					}
					refs[index] = ref
				}(i, pid)
			}
			wg.Wait()

			var media []api.MediaRef
			for _, r := range refs {
				if r != nil {
					media = append(media, *r)
				}
			}

			ctx.OnMessage(t.ID(), &api.UnifiedMessage{
				Session: finalBuf.session,
				Content: finalBuf.content,
				Media:   media,
			})
			slog.Info("MediaGroup forwarded", "group", groupID,
				"images", fmt.Sprintf("%d/%d", len(media), len(finalBuf.photoIDs)))
		})
		return
	}

	if text != "" {
		if buf.content != "" {
			buf.content += "\n" + text
		} else {
			buf.content = text
		}
	}
	if photoID != "" {
		buf.photoIDs = append(buf.photoIDs, photoID)
	}
	buf.timer.Reset(time.Second)
}

func (t *Channel) Stop() error {
	t.stopCancel()

	// HTTP/1.1 connections stuck in Read won't abort via
	// CloseIdleConnections(), but it clears the pool.
	if httpClient, ok := t.bot.Client.(*http.Client); ok && httpClient != nil {
		if transport, ok := httpClient.Transport.(*http.Transport); ok {
			transport.CloseIdleConnections()
		}
	}

	return nil
}
