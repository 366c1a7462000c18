package tools

import (
	"context"
	"fmt"
	"time"

	"parley/pkg/api"
)

// ClockTool reports the current date and time, optionally in a named IANA
// time zone. Mostly useful for grounding the model's sense of "now".
type ClockTool struct {
	now func() time.Time // injectable clock for tests
}

func NewClockTool() *ClockTool {
	return &ClockTool{now: time.Now}
}

func (t *ClockTool) Name() string {
	return "clock"
}

func (t *ClockTool) Description() string {
	return "Get the current date and time, optionally for a specific time zone."
}

func (t *ClockTool) Parameters() []api.ParamSpec {
	return []api.ParamSpec{
		{Name: "timezone", Type: "string", Required: false, Description: "IANA zone name, e.g. 'Asia/Ho_Chi_Minh'. Defaults to server local time."},
	}
}

func (t *ClockTool) Execute(_ context.Context, params map[string]any, _ api.ToolContext) (*api.ToolResult, error) {
	now := t.now()

	if tz, _ := params["timezone"].(string); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return &api.ToolResult{Success: false, Error: fmt.Sprintf("unknown time zone %q", tz)}, nil
		}
		now = now.In(loc)
	}

	return &api.ToolResult{
		Success: true,
		Data:    now.Format("Monday, 2006-01-02 15:04:05 MST"),
	}, nil
}
