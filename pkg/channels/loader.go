package channels

import (
	"log/slog"

	jsoniter "github.com/json-iterator/go"

	"parley/pkg/api"
	"parley/pkg/config"
)

// LoadFromConfig is the central orchestration point for dynamic channel
// initialization. It iterates through the configuration map, resolves
// factories, and returns the constructed channels. A channel that fails to
// construct is logged and skipped; one bad token must not keep the rest of
// the bot down.
func LoadFromConfig(configs map[string]jsoniter.RawMessage, system *config.SystemConfig) []api.Channel {
	var out []api.Channel
	for name, rawConfig := range configs {
		factory, ok := GetChannelFactory(name)
		if !ok {
			slog.Warn("Unknown channel type", "name", name)
			continue
		}

		channel, err := factory.Create(rawConfig, system)
		if err != nil {
			slog.Error("Failed to create channel", "name", name, "error", err)
			continue
		}
		if channel == nil {
			continue
		}

		out = append(out, channel)
		slog.Info("Channel registered", "name", name)
	}
	return out
}
