package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"parley/pkg/api"
	"parley/pkg/config"
	"parley/pkg/credpool"
)

// Result is the outcome of one generation turn. Fallback is set when every
// attempt was exhausted; the caller substitutes the apology reply instead of
// surfacing an error to the conversation.
type Result struct {
	Text     string
	Fallback bool
}

// Gateway sits between the engine and the upstream provider. It owns one
// session per conversation thread, replays history into fresh sessions when a
// credential rotation invalidates the old one, and implements the retry
// policy over the provider's error taxonomy.
type Gateway struct {
	provider Provider
	pool     *credpool.Pool
	sysCfg   *config.SystemConfig

	systemPrompt string
	httpClient   *http.Client
	sleep        func(ctx context.Context, d time.Duration) error // injectable for tests

	mu       sync.Mutex
	sessions map[string]*threadSession
}

// threadSession pairs a live provider session with the credential it was
// created under and the committed turn history used to rebuild it.
type threadSession struct {
	session   Session
	credIndex int
	history   []Turn
}

// NewGateway builds a gateway over the provider and credential pool.
func NewGateway(provider Provider, pool *credpool.Pool, systemPrompt string, sysCfg *config.SystemConfig) *Gateway {
	return &Gateway{
		provider:     provider,
		pool:         pool,
		sysCfg:       sysCfg,
		systemPrompt: systemPrompt,
		httpClient: &http.Client{
			Timeout: time.Duration(sysCfg.DownloadTimeoutMs) * time.Millisecond,
		},
		sleep:    sleepCtx,
		sessions: make(map[string]*threadSession),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Generate runs one model turn on the thread's session and returns the raw
// model text. It never returns an error for upstream failures: after the
// retry budget is spent the Result carries Fallback=true instead.
//
// Retry policy per attempt:
//   - rate-limit: quarantine the credential, rotate, retry immediately;
//     if rotation is impossible (single credential) back off instead
//   - transient: exponential backoff, same credential
//   - fatal: stop immediately
func (g *Gateway) Generate(ctx context.Context, threadID, prompt string, media []api.MediaRef) Result {
	parts, err := g.buildParts(ctx, prompt, media)
	if err != nil {
		slog.Warn("Media fetch failed, continuing with text only", "thread", threadID, "error", err)
	}

	maxAttempts := g.sysCfg.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	baseDelay := time.Duration(g.sysCfg.RetryBaseDelayMs) * time.Millisecond

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		text, err := g.sendOnThread(ctx, threadID, parts)
		if err == nil {
			g.commitTurn(threadID, prompt, text)
			return Result{Text: text}
		}

		g.dropSession(threadID)

		kind := g.provider.Classify(err)
		if errors.Is(err, context.DeadlineExceeded) {
			kind = KindTransient
		}
		slog.Warn("Generation attempt failed",
			"thread", threadID,
			"attempt", attempt,
			"kind", kind.String(),
			"error", err,
		)

		switch kind {
		case KindFatal:
			return Result{Fallback: true}
		case KindRateLimit:
			cred := g.pool.Current()
			g.pool.MarkFailed(cred.Index)
			if g.pool.Rotate() {
				continue // fresh identity, no need to wait
			}
			fallthrough
		case KindTransient:
			if attempt == maxAttempts {
				break
			}
			delay := baseDelay * (1 << (attempt - 1))
			if err := g.sleep(ctx, delay); err != nil {
				return Result{Fallback: true}
			}
		}
	}

	slog.Error("Generation retries exhausted", "thread", threadID, "attempts", maxAttempts)
	return Result{Fallback: true}
}

// sendOnThread sends the parts on the thread's session, creating one under
// the pool's current credential if needed.
func (g *Gateway) sendOnThread(ctx context.Context, threadID string, parts []Part) (string, error) {
	ts, err := g.sessionFor(ctx, threadID)
	if err != nil {
		return "", err
	}

	callCtx := ctx
	if g.sysCfg.LLMTimeoutMs > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(g.sysCfg.LLMTimeoutMs)*time.Millisecond)
		defer cancel()
	}

	return ts.session.Send(callCtx, parts)
}

// sessionFor returns the thread's session, creating it (with history replay)
// when missing or when the pool has rotated away from its credential.
func (g *Gateway) sessionFor(ctx context.Context, threadID string) (*threadSession, error) {
	cred := g.pool.Current()

	g.mu.Lock()
	ts, ok := g.sessions[threadID]
	var history []Turn
	if ok && ts.credIndex == cred.Index {
		g.mu.Unlock()
		return ts, nil
	}
	if ok {
		history = ts.history
	}
	g.mu.Unlock()

	session, err := g.provider.NewSession(ctx, cred, g.systemPrompt, history)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	fresh := &threadSession{session: session, credIndex: cred.Index, history: history}
	g.mu.Lock()
	g.sessions[threadID] = fresh
	g.mu.Unlock()
	return fresh, nil
}

// commitTurn appends the exchange to the thread's replayable history.
func (g *Gateway) commitTurn(threadID, prompt, reply string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ts, ok := g.sessions[threadID]
	if !ok {
		return
	}
	ts.history = append(ts.history, Turn{Role: "user", Text: prompt}, Turn{Role: "model", Text: reply})
}

// dropSession discards the live session handle but keeps its history so the
// next attempt can rebuild the conversation under another credential.
func (g *Gateway) dropSession(threadID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ts, ok := g.sessions[threadID]
	if !ok {
		return
	}
	g.sessions[threadID] = &threadSession{session: nil, credIndex: -1, history: ts.history}
}

// ResetThread forgets the thread's session and history entirely.
func (g *Gateway) ResetThread(threadID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sessions, threadID)
}

// buildParts assembles the prompt text plus any attached media into provider
// input parts. Media carried by URL is fetched here; fetch failures drop the
// attachment rather than the whole turn.
func (g *Gateway) buildParts(ctx context.Context, prompt string, media []api.MediaRef) ([]Part, error) {
	parts := []Part{{Text: prompt}}
	var firstErr error
	for _, m := range media {
		data := m.Data
		if len(data) == 0 && m.URL != "" {
			fetched, err := g.fetchMedia(ctx, m.URL)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			data = fetched
		}
		if len(data) == 0 {
			continue
		}
		mime := m.MimeType
		if mime == "" {
			mime = http.DetectContentType(data)
		}
		parts = append(parts, Part{MimeType: mime, Data: data})
	}
	return parts, firstErr
}

func (g *Gateway) fetchMedia(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media download returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
