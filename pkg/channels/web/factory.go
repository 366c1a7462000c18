package web

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"parley/pkg/api"
	"parley/pkg/channels"
	"parley/pkg/config"
)

// Factory builds Web channels from raw config.
type Factory struct{}

// Create implements channels.ChannelFactory.
func (f *Factory) Create(rawConfig jsoniter.RawMessage, _ *config.SystemConfig) (api.Channel, error) {
	var webCfg Config
	if err := json.Unmarshal(rawConfig, &webCfg); err != nil {
		return nil, fmt.Errorf("failed to parse web config: %w", err)
	}

	if webCfg.Port == 0 {
		webCfg.Port = 9453
	}

	return NewChannel(webCfg), nil
}

func init() {
	channels.RegisterChannel("web", &Factory{})
}
