package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/pkg/config"
	"parley/pkg/credpool"
)

type scriptedStep struct {
	text string
	err  error
}

// scriptedProvider replays a fixed script of Send outcomes and records which
// credential each session was created under.
type scriptedProvider struct {
	script    []scriptedStep
	calls     int
	sessCreds []int
	seeded    [][]Turn
	classify  map[error]ErrorKind
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) NewSession(_ context.Context, cred credpool.Credential, _ string, history []Turn) (Session, error) {
	p.sessCreds = append(p.sessCreds, cred.Index)
	p.seeded = append(p.seeded, append([]Turn(nil), history...))
	return &scriptedSession{p: p}, nil
}

func (p *scriptedProvider) Classify(err error) ErrorKind {
	if kind, ok := p.classify[err]; ok {
		return kind
	}
	return KindFatal
}

type scriptedSession struct{ p *scriptedProvider }

func (s *scriptedSession) Send(context.Context, []Part) (string, error) {
	if s.p.calls >= len(s.p.script) {
		return "", errors.New("script exhausted")
	}
	step := s.p.script[s.p.calls]
	s.p.calls++
	return step.text, step.err
}

func newTestGateway(p Provider, keys []string) (*Gateway, *[]time.Duration) {
	sysCfg := config.DefaultSystemConfig()
	sysCfg.MaxRetries = 3
	sysCfg.RetryBaseDelayMs = 100

	pool := credpool.New(keys, time.Minute)
	g := NewGateway(p, pool, "persona", sysCfg)

	var slept []time.Duration
	g.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return g, &slept
}

func TestGenerateSuccessCommitsHistory(t *testing.T) {
	p := &scriptedProvider{script: []scriptedStep{{text: "hello there"}}}
	g, _ := newTestGateway(p, []string{"k0"})

	res := g.Generate(context.Background(), "t1", "hi", nil)
	require.False(t, res.Fallback)
	assert.Equal(t, "hello there", res.Text)

	// A second turn reuses the same session; no rebuild happened.
	p.script = append(p.script, scriptedStep{text: "again"})
	res = g.Generate(context.Background(), "t1", "more", nil)
	assert.Equal(t, "again", res.Text)
	assert.Len(t, p.sessCreds, 1)
}

func TestGenerateRateLimitRotatesAndRetries(t *testing.T) {
	errRate := errors.New("429 resource exhausted")
	p := &scriptedProvider{
		script: []scriptedStep{
			{err: errRate},
			{text: "recovered"},
		},
		classify: map[error]ErrorKind{errRate: KindRateLimit},
	}
	g, slept := newTestGateway(p, []string{"k0", "k1"})

	res := g.Generate(context.Background(), "t1", "hi", nil)
	require.False(t, res.Fallback)
	assert.Equal(t, "recovered", res.Text)

	// Rotation means immediate retry under the next credential, no backoff.
	assert.Empty(t, *slept)
	require.Len(t, p.sessCreds, 2)
	assert.Equal(t, 0, p.sessCreds[0])
	assert.Equal(t, 1, p.sessCreds[1])
}

func TestGenerateTransientBacksOffExponentially(t *testing.T) {
	errBusy := errors.New("503 model overloaded")
	p := &scriptedProvider{
		script: []scriptedStep{
			{err: errBusy},
			{err: errBusy},
			{text: "finally"},
		},
		classify: map[error]ErrorKind{errBusy: KindTransient},
	}
	g, slept := newTestGateway(p, []string{"k0"})

	res := g.Generate(context.Background(), "t1", "hi", nil)
	require.False(t, res.Fallback)
	assert.Equal(t, "finally", res.Text)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *slept)
}

func TestGenerateFatalAbortsImmediately(t *testing.T) {
	errBad := errors.New("400 invalid argument")
	p := &scriptedProvider{
		script:   []scriptedStep{{err: errBad}},
		classify: map[error]ErrorKind{errBad: KindFatal},
	}
	g, slept := newTestGateway(p, []string{"k0", "k1"})

	res := g.Generate(context.Background(), "t1", "hi", nil)
	assert.True(t, res.Fallback)
	assert.Equal(t, 1, p.calls)
	assert.Empty(t, *slept)
}

func TestGenerateExhaustionReturnsFallback(t *testing.T) {
	errBusy := errors.New("timeout talking upstream")
	p := &scriptedProvider{
		script: []scriptedStep{
			{err: errBusy}, {err: errBusy}, {err: errBusy},
		},
		classify: map[error]ErrorKind{errBusy: KindTransient},
	}
	g, _ := newTestGateway(p, []string{"k0"})

	res := g.Generate(context.Background(), "t1", "hi", nil)
	assert.True(t, res.Fallback)
	assert.Equal(t, 3, p.calls)
}

func TestSessionRebuildReplaysHistory(t *testing.T) {
	errRate := errors.New("quota exceeded")
	p := &scriptedProvider{
		script: []scriptedStep{
			{text: "first reply"},
			{err: errRate},
			{text: "second reply"},
		},
		classify: map[error]ErrorKind{errRate: KindRateLimit},
	}
	g, _ := newTestGateway(p, []string{"k0", "k1"})

	res := g.Generate(context.Background(), "t1", "one", nil)
	require.Equal(t, "first reply", res.Text)

	res = g.Generate(context.Background(), "t1", "two", nil)
	require.Equal(t, "second reply", res.Text)

	// The rebuilt session carries the committed first exchange.
	require.Len(t, p.seeded, 2)
	assert.Empty(t, p.seeded[0])
	assert.Equal(t, []Turn{
		{Role: "user", Text: "one"},
		{Role: "model", Text: "first reply"},
	}, p.seeded[1])
}

func TestResetThreadDropsHistory(t *testing.T) {
	p := &scriptedProvider{script: []scriptedStep{{text: "a"}, {text: "b"}}}
	g, _ := newTestGateway(p, []string{"k0"})

	g.Generate(context.Background(), "t1", "one", nil)
	g.ResetThread("t1")
	g.Generate(context.Background(), "t1", "two", nil)

	require.Len(t, p.seeded, 2)
	assert.Empty(t, p.seeded[1])
}
