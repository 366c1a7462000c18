package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"

	"parley/pkg/api"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WeatherTool looks up current conditions for a location via the wttr.in
// JSON endpoint. It is deliberately thin integration glue: one external
// system, one narrow interface.
type WeatherTool struct {
	baseURL string
	client  *http.Client
}

// NewWeatherTool creates a weather lookup tool. baseURL overrides the
// endpoint for tests; empty means the public wttr.in service.
func NewWeatherTool(baseURL string, timeout time.Duration) *WeatherTool {
	if baseURL == "" {
		baseURL = "https://wttr.in"
	}
	return &WeatherTool{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (t *WeatherTool) Name() string {
	return "weather"
}

func (t *WeatherTool) Description() string {
	return "Look up the current weather for a city or place name."
}

func (t *WeatherTool) Parameters() []api.ParamSpec {
	return []api.ParamSpec{
		{Name: "location", Type: "string", Required: true, Description: "City or place to look up, e.g. 'Hanoi'"},
	}
}

func (t *WeatherTool) Execute(ctx context.Context, params map[string]any, _ api.ToolContext) (*api.ToolResult, error) {
	location, _ := params["location"].(string)
	if location == "" {
		return &api.ToolResult{Success: false, Error: "missing required parameter 'location'"}, nil
	}

	reqURL := fmt.Sprintf("%s/%s?format=j1", t.baseURL, url.PathEscape(location))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &api.ToolResult{Success: false, Error: fmt.Sprintf("weather service returned %d", resp.StatusCode)}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var payload struct {
		CurrentCondition []struct {
			TempC       string `json:"temp_C"`
			FeelsLikeC  string `json:"FeelsLikeC"`
			Humidity    string `json:"humidity"`
			WeatherDesc []struct {
				Value string `json:"value"`
			} `json:"weatherDesc"`
		} `json:"current_condition"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.CurrentCondition) == 0 {
		return &api.ToolResult{Success: false, Error: "weather service returned an unreadable payload"}, nil
	}

	cur := payload.CurrentCondition[0]
	desc := ""
	if len(cur.WeatherDesc) > 0 {
		desc = cur.WeatherDesc[0].Value
	}

	return &api.ToolResult{
		Success: true,
		Data: fmt.Sprintf("Weather in %s: %s, %s°C (feels like %s°C), humidity %s%%",
			location, desc, cur.TempC, cur.FeelsLikeC, cur.Humidity),
	}, nil
}
