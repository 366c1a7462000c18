package openailm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/responses"

	"parley/pkg/config"
	"parley/pkg/credpool"
	"parley/pkg/llm"
)

func init() {
	llm.RegisterProvider("openai", func(cfg config.ProviderConfig, _ *config.SystemConfig) (llm.Provider, error) {
		return &Provider{model: cfg.Model, baseURL: cfg.BaseURL}, nil
	})
}

// Provider talks to the OpenAI Responses API (or any OpenAI-compatible
// gateway via base_url). The Responses API is stateless per request, so the
// session keeps the full input item list client-side and grows it each turn.
type Provider struct {
	model   string
	baseURL string

	mu      sync.Mutex
	clients map[string]*openai.Client
}

func (p *Provider) Name() string { return "openai" }

func (p *Provider) clientFor(cred credpool.Credential) *openai.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.clients == nil {
		p.clients = make(map[string]*openai.Client)
	}
	if c, ok := p.clients[cred.Key]; ok {
		return c
	}
	opts := []option.RequestOption{option.WithAPIKey(cred.Key)}
	if p.baseURL != "" {
		opts = append(opts, option.WithBaseURL(p.baseURL))
	}
	client := openai.NewClient(opts...)
	p.clients[cred.Key] = &client
	return &client
}

func (p *Provider) NewSession(_ context.Context, cred credpool.Credential, systemPrompt string, history []llm.Turn) (llm.Session, error) {
	items := make([]responses.ResponseInputItemUnionParam, 0, len(history)+1)
	if systemPrompt != "" {
		items = append(items, responses.ResponseInputItemParamOfMessage(
			systemPrompt,
			responses.EasyInputMessageRoleSystem,
		))
	}
	for _, turn := range history {
		if turn.Text == "" {
			continue
		}
		role := responses.EasyInputMessageRoleUser
		if turn.Role == "model" {
			role = responses.EasyInputMessageRoleAssistant
		}
		items = append(items, responses.ResponseInputItemParamOfMessage(turn.Text, role))
	}
	return &session{
		client: p.clientFor(cred),
		model:  p.model,
		items:  items,
	}, nil
}

type session struct {
	client *openai.Client
	model  string

	mu    sync.Mutex
	items []responses.ResponseInputItemUnionParam
}

func (s *session) Send(ctx context.Context, parts []llm.Part) (string, error) {
	userItem := buildUserItem(parts)

	s.mu.Lock()
	input := append(append([]responses.ResponseInputItemUnionParam(nil), s.items...), userItem)
	s.mu.Unlock()

	resp, err := s.client.Responses.New(ctx, responses.ResponseNewParams{
		Model: s.model,
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: input,
		},
	})
	if err != nil {
		return "", err
	}

	text := resp.OutputText()

	s.mu.Lock()
	s.items = append(input, responses.ResponseInputItemParamOfMessage(
		text,
		responses.EasyInputMessageRoleAssistant,
	))
	s.mu.Unlock()

	return text, nil
}

// buildUserItem converts the turn's parts into one user message item.
// Media is embedded as a base64 data URL image part.
func buildUserItem(parts []llm.Part) responses.ResponseInputItemUnionParam {
	hasMedia := false
	for _, p := range parts {
		if len(p.Data) > 0 {
			hasMedia = true
			break
		}
	}

	if !hasMedia {
		var sb strings.Builder
		for _, p := range parts {
			sb.WriteString(p.Text)
		}
		return responses.ResponseInputItemParamOfMessage(sb.String(), responses.EasyInputMessageRoleUser)
	}

	var contentParts responses.ResponseInputMessageContentListParam
	for _, p := range parts {
		if len(p.Data) > 0 {
			imgURL := fmt.Sprintf("data:%s;base64,%s", p.MimeType, base64.StdEncoding.EncodeToString(p.Data))
			contentParts = append(contentParts, responses.ResponseInputContentUnionParam{
				OfInputImage: &responses.ResponseInputImageParam{
					Detail:   responses.ResponseInputImageDetailAuto,
					ImageURL: param.NewOpt(imgURL),
				},
			})
			continue
		}
		if p.Text != "" {
			contentParts = append(contentParts, responses.ResponseInputContentUnionParam{
				OfInputText: &responses.ResponseInputTextParam{Text: p.Text},
			})
		}
	}
	return responses.ResponseInputItemParamOfMessage(contentParts, responses.EasyInputMessageRoleUser)
}

func (p *Provider) Classify(err error) llm.ErrorKind {
	if err == nil {
		return llm.KindFatal
	}
	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "insufficient_quota") || strings.Contains(msg, "quota") {
		return llm.KindRateLimit
	}

	if strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "500 internal") ||
		strings.Contains(msg, "502 bad gateway") ||
		strings.Contains(msg, "503 service unavailable") ||
		strings.Contains(msg, "overloaded") {
		return llm.KindTransient
	}

	return llm.KindFatal
}
