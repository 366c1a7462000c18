package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/pkg/api"
)

func TestRegistryLookupIsCaseInsensitive(t *testing.T) {
	r := NewRegistry()
	r.Register(NewClockTool())

	_, ok := r.Get("Clock")
	assert.True(t, ok)
	_, ok = r.Get("CLOCK")
	assert.True(t, ok)
	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistryDescribeListsParameters(t *testing.T) {
	r := NewRegistry()
	r.Register(NewWeatherTool("", time.Second))
	r.Register(NewClockTool())

	desc := r.Describe()
	assert.Contains(t, desc, "- clock:")
	assert.Contains(t, desc, "- weather:")
	assert.Contains(t, desc, "location (string, required)")
	assert.Contains(t, desc, "timezone (string, optional)")
}

func TestValidateParams(t *testing.T) {
	specs := []api.ParamSpec{
		{Name: "q", Type: "string", Required: true},
		{Name: "limit", Type: "number"},
		{Name: "safe", Type: "bool"},
	}

	t.Run("missing required", func(t *testing.T) {
		err := ValidateParams(specs, map[string]any{"limit": "3"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `"q"`)
	})

	t.Run("coerces inline strings", func(t *testing.T) {
		params := map[string]any{"q": "cats", "limit": "3", "safe": "true"}
		require.NoError(t, ValidateParams(specs, params))
		assert.Equal(t, float64(3), params["limit"])
		assert.Equal(t, true, params["safe"])
	})

	t.Run("rejects unparseable number", func(t *testing.T) {
		err := ValidateParams(specs, map[string]any{"q": "x", "limit": "lots"})
		assert.Error(t, err)
	})

	t.Run("optional params may be absent", func(t *testing.T) {
		assert.NoError(t, ValidateParams(specs, map[string]any{"q": "x"}))
	})
}

func TestWeatherToolExecute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "Hanoi")
		w.Write([]byte(`{"current_condition":[{"temp_C":"31","FeelsLikeC":"35","humidity":"70","weatherDesc":[{"value":"Sunny"}]}]}`))
	}))
	defer srv.Close()

	tool := NewWeatherTool(srv.URL, time.Second)
	res, err := tool.Execute(context.Background(), map[string]any{"location": "Hanoi"}, api.ToolContext{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Data, "Sunny")
	assert.Contains(t, res.Data, "31")
}

func TestWeatherToolMissingLocation(t *testing.T) {
	tool := NewWeatherTool("", time.Second)
	res, err := tool.Execute(context.Background(), map[string]any{}, api.ToolContext{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "location")
}

func TestClockToolTimezone(t *testing.T) {
	tool := NewClockTool()
	tool.now = func() time.Time {
		return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	}

	res, err := tool.Execute(context.Background(), map[string]any{"timezone": "UTC"}, api.ToolContext{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Data, "2025-03-01")

	res, err = tool.Execute(context.Background(), map[string]any{"timezone": "Not/AZone"}, api.ToolContext{})
	require.NoError(t, err)
	assert.False(t, res.Success)
}
