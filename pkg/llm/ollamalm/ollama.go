package ollamalm

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ollama/ollama/api"

	"parley/pkg/config"
	"parley/pkg/credpool"
	"parley/pkg/llm"
)

func init() {
	llm.RegisterProvider("ollama", func(cfg config.ProviderConfig, _ *config.SystemConfig) (llm.Provider, error) {
		return NewProvider(cfg.Model, cfg.BaseURL, cfg.Options)
	})
}

// Provider talks to a local or remote Ollama instance. Ollama needs no API
// key, so the credential handed in by the pool is ignored; the pool still
// drives the retry cadence.
type Provider struct {
	client  *api.Client
	model   string
	options map[string]any
}

func NewProvider(model, baseURL string, options map[string]any) (*Provider, error) {
	// Local inference can legitimately take minutes, so the HTTP client
	// carries no timeout of its own. The caller's context is the cutoff.
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	httpClient := &http.Client{Transport: transport, Timeout: 0}

	var client *api.Client
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base URL: %w", err)
		}
		client = api.NewClient(u, httpClient)
	} else {
		var err error
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, err
		}
	}

	slog.Info("Ollama client initialized", "model", model, "base_url", baseURL)

	return &Provider{client: client, model: model, options: options}, nil
}

func (p *Provider) Name() string { return "ollama" }

func (p *Provider) NewSession(_ context.Context, _ credpool.Credential, systemPrompt string, history []llm.Turn) (llm.Session, error) {
	msgs := make([]api.Message, 0, len(history)+1)
	if systemPrompt != "" {
		msgs = append(msgs, api.Message{Role: "system", Content: systemPrompt})
	}
	for _, turn := range history {
		if turn.Text == "" {
			continue
		}
		role := "user"
		if turn.Role == "model" {
			role = "assistant"
		}
		msgs = append(msgs, api.Message{Role: role, Content: turn.Text})
	}
	return &session{p: p, messages: msgs}, nil
}

type session struct {
	p *Provider

	mu       sync.Mutex
	messages []api.Message
}

func (s *session) Send(ctx context.Context, parts []llm.Part) (string, error) {
	var sb strings.Builder
	var images []api.ImageData
	for _, part := range parts {
		if len(part.Data) > 0 {
			images = append(images, api.ImageData(part.Data))
			continue
		}
		sb.WriteString(part.Text)
	}
	userMsg := api.Message{Role: "user", Content: sb.String(), Images: images}

	s.mu.Lock()
	msgs := append(append([]api.Message(nil), s.messages...), userMsg)
	s.mu.Unlock()

	streamVal := false
	req := &api.ChatRequest{
		Model:    s.p.model,
		Messages: msgs,
		Options:  s.p.options,
		Stream:   &streamVal,
	}

	var reply strings.Builder
	err := s.p.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		reply.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", err
	}

	text := reply.String()
	s.mu.Lock()
	s.messages = append(msgs, api.Message{Role: "assistant", Content: text})
	s.mu.Unlock()
	return text, nil
}

// Classify maps Ollama errors onto the retry taxonomy. A single local
// instance has no rate-limit notion, so everything recoverable is transient.
func (p *Provider) Classify(err error) llm.ErrorKind {
	if err == nil {
		return llm.KindFatal
	}
	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "server busy") ||
		strings.Contains(msg, "loading model") ||
		strings.Contains(msg, "eof") {
		return llm.KindTransient
	}

	return llm.KindFatal
}
