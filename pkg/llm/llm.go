package llm

import (
	"context"
	"fmt"

	"parley/pkg/config"
	"parley/pkg/credpool"
)

// ErrorKind classifies an upstream provider failure. The gateway's retry
// policy is built entirely on this three-way split: rate-limit is solved by
// changing identity, transient overload by waiting, fatal by giving up.
type ErrorKind int

const (
	KindRateLimit ErrorKind = iota
	KindTransient
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimit:
		return "rate_limit"
	case KindTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// Part is one upstream input fragment: prompt text or inline media bytes.
type Part struct {
	Text     string
	MimeType string
	Data     []byte
}

// Turn is one recorded exchange fragment used to seed a recreated session.
// Role is "user" or "model"; tool-result turns are recorded as "user".
type Turn struct {
	Role string
	Text string
}

// Session is the stateful handle to an ongoing exchange with the upstream AI
// for one conversation thread.
type Session interface {
	// Send delivers the parts as the next turn and returns the raw model text.
	Send(ctx context.Context, parts []Part) (string, error)
}

// Provider abstracts one upstream generative-AI backend.
type Provider interface {
	Name() string
	// NewSession creates a provider-side chat handle for the given
	// credential, seeded with the system prompt and prior turn history.
	NewSession(ctx context.Context, cred credpool.Credential, systemPrompt string, history []Turn) (Session, error)
	// Classify maps a Send/NewSession error onto the retry taxonomy.
	Classify(err error) ErrorKind
}

// ProviderFactory builds a Provider from its configuration block.
type ProviderFactory func(cfg config.ProviderConfig, sysCfg *config.SystemConfig) (Provider, error)

var providerRegistry = make(map[string]ProviderFactory)

// RegisterProvider registers a provider factory under its type name.
// Provider packages call this from init; main pulls them in via autoload.
func RegisterProvider(name string, factory ProviderFactory) {
	providerRegistry[name] = factory
}

// NewProvider instantiates the provider selected by the configuration.
func NewProvider(cfg config.ProviderConfig, sysCfg *config.SystemConfig) (Provider, error) {
	factory, ok := providerRegistry[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}
	return factory(cfg, sysCfg)
}
