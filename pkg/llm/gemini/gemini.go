package gemini

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"parley/pkg/config"
	"parley/pkg/credpool"
	"parley/pkg/llm"
)

func init() {
	llm.RegisterProvider("gemini", func(cfg config.ProviderConfig, _ *config.SystemConfig) (llm.Provider, error) {
		return &Provider{model: cfg.Model}, nil
	})
}

// Provider talks to the Google Gemini API. Clients are cached per API key so
// credential rotation does not rebuild the underlying HTTP transport on every
// session.
type Provider struct {
	model string

	mu      sync.Mutex
	clients map[string]*genai.Client
}

func (p *Provider) Name() string { return "gemini" }

func (p *Provider) clientFor(ctx context.Context, cred credpool.Credential) (*genai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.clients == nil {
		p.clients = make(map[string]*genai.Client)
	}
	if c, ok := p.clients[cred.Key]; ok {
		return c, nil
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cred.Key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	p.clients[cred.Key] = c
	return c, nil
}

// NewSession opens a Gemini chat seeded with the system prompt and the
// replayed turn history.
func (p *Provider) NewSession(ctx context.Context, cred credpool.Credential, systemPrompt string, history []llm.Turn) (llm.Session, error) {
	client, err := p.clientFor(ctx, cred)
	if err != nil {
		return nil, err
	}

	var genaiHistory []*genai.Content
	for _, turn := range history {
		if turn.Text == "" {
			continue
		}
		genaiHistory = append(genaiHistory, &genai.Content{
			Role:  turn.Role,
			Parts: []*genai.Part{{Text: turn.Text}},
		})
	}

	var sysInstruction *genai.Content
	if systemPrompt != "" {
		sysInstruction = &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}}
	}

	chat, err := client.Chats.Create(ctx, p.model, &genai.GenerateContentConfig{
		SystemInstruction: sysInstruction,
	}, genaiHistory)
	if err != nil {
		return nil, fmt.Errorf("create gemini chat: %w", err)
	}
	return &session{chat: chat}, nil
}

type session struct {
	chat *genai.Chat
}

func (s *session) Send(ctx context.Context, parts []llm.Part) (string, error) {
	genaiParts := make([]genai.Part, 0, len(parts))
	for _, p := range parts {
		if len(p.Data) > 0 {
			genaiParts = append(genaiParts, genai.Part{
				InlineData: &genai.Blob{
					MIMEType: p.MimeType,
					Data:     p.Data,
				},
			})
			continue
		}
		if p.Text != "" {
			genaiParts = append(genaiParts, genai.Part{Text: p.Text})
		}
	}

	resp, err := s.chat.SendMessage(ctx, genaiParts...)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// Classify maps Gemini API errors onto the retry taxonomy by probing the
// error text. The Google SDK does not expose stable typed errors for these.
func (p *Provider) Classify(err error) llm.ErrorKind {
	if err == nil {
		return llm.KindFatal
	}
	msg := strings.ToLower(err.Error())

	// 429 Too Many Requests family: solved by switching credentials.
	if strings.Contains(msg, "429") || strings.Contains(msg, "resource exhausted") ||
		strings.Contains(msg, "quota") {
		return llm.KindRateLimit
	}

	// 503 Service Unavailable / Overloaded and occasional 500 crashes.
	if strings.Contains(msg, "503") || strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "unavailable") || strings.Contains(msg, "500") ||
		strings.Contains(msg, "internal error") || strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection") {
		return llm.KindTransient
	}

	return llm.KindFatal
}
