package telegram

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"parley/pkg/api"
	"parley/pkg/channels"
	"parley/pkg/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Factory builds Telegram channels from raw config.
type Factory struct{}

// Create implements channels.ChannelFactory.
func (f *Factory) Create(rawConfig jsoniter.RawMessage, system *config.SystemConfig) (api.Channel, error) {
	var tgCfg Config
	if err := json.Unmarshal(rawConfig, &tgCfg); err != nil {
		return nil, fmt.Errorf("failed to parse telegram config: %w", err)
	}

	if tgCfg.Token == "" {
		return nil, fmt.Errorf("missing telegram token")
	}

	return NewChannel(tgCfg, system.TelegramMessageLimit, system.DownloadTimeoutMs)
}

func init() {
	channels.RegisterChannel("telegram", &Factory{})
}
