package agent

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"parley/pkg/actions"
	"parley/pkg/api"
	"parley/pkg/config"
	"parley/pkg/llm"
	"parley/pkg/monitor"
	"parley/pkg/tools"
	"parley/pkg/utils"
)

// Generator produces raw model text for a conversation thread. Satisfied by
// *llm.Gateway; narrowed to an interface so tests can script replies.
type Generator interface {
	Generate(ctx context.Context, threadID, prompt string, media []api.MediaRef) llm.Result
}

// Dispatcher realizes an Action Set as channel side effects.
type Dispatcher interface {
	Dispatch(ctx context.Context, client api.ChannelClient, session api.SessionContext, set actions.Set)
}

// Engine is the orchestration core: it receives unified messages from the
// channels, drives the model gateway, runs the tool loop, and hands the final
// Action Set to the dispatcher.
//
// Turns for the same conversation thread run strictly one after another;
// distinct threads run concurrently on their own workers.
type Engine struct {
	gen        Generator
	registry   api.ToolRegistry
	dispatcher Dispatcher
	sysCfg     *config.SystemConfig
	monitors   []monitor.Monitor

	mu      sync.Mutex
	clients map[string]api.ChannelClient
	workers map[string]chan func()
	closed  bool
	wg      sync.WaitGroup
}

func NewEngine(gen Generator, registry api.ToolRegistry, dispatcher Dispatcher, sysCfg *config.SystemConfig, monitors ...monitor.Monitor) *Engine {
	return &Engine{
		gen:        gen,
		registry:   registry,
		dispatcher: dispatcher,
		sysCfg:     sysCfg,
		monitors:   monitors,
		clients:    make(map[string]api.ChannelClient),
		workers:    make(map[string]chan func()),
	}
}

// RegisterClient makes a channel's outbound client available for dispatch.
func (e *Engine) RegisterClient(channelID string, client api.ChannelClient) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clients[channelID] = client
}

// OnMessage implements api.ChannelContext. The message is queued on its
// thread's worker and processed asynchronously.
func (e *Engine) OnMessage(channelID string, msg *api.UnifiedMessage) {
	if msg.ID == "" {
		msg.ID = utils.GenerateID()
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	client, ok := e.clients[channelID]
	if !ok {
		e.mu.Unlock()
		slog.Error("Message from unregistered channel", "channel", channelID)
		return
	}
	// Enqueue while holding the lock so Shutdown cannot close the queue
	// between lookup and send. Workers never take e.mu, so this cannot
	// deadlock even when the queue is briefly full.
	queue := e.workerLocked(msg.Session.ThreadID())
	queue <- func() { e.handleTurn(client, msg) }
	e.mu.Unlock()
}

// workerLocked returns the thread's serialized task queue, spawning the
// worker goroutine on first use. Caller must hold e.mu.
func (e *Engine) workerLocked(threadID string) chan func() {
	if q, ok := e.workers[threadID]; ok {
		return q
	}
	q := make(chan func(), 16)
	e.workers[threadID] = q
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for task := range q {
			task()
		}
	}()
	return q
}

// Shutdown stops accepting messages and waits for in-flight turns to finish.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for _, q := range e.workers {
		close(q)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// handleTurn processes one user-originated turn to completion: generate,
// parse, tool loop, dispatch. It must never panic its worker to death.
func (e *Engine) handleTurn(client api.ChannelClient, msg *api.UnifiedMessage) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Turn processing panicked", "thread", msg.Session.ThreadID(), "panic", r, "stack", string(debug.Stack()))
		}
	}()

	start := time.Now()
	ctx := monitor.WithTraceID(context.Background(), utils.ShortID())
	threadID := msg.Session.ThreadID()

	slog.InfoContext(ctx, "Message received",
		"channel", msg.Session.ChannelID,
		"user", msg.Session.Username,
		"content", msg.Content,
		"media", len(msg.Media),
	)
	e.notify(msg.Session, monitor.TypeUser, msg.Content)

	res := e.gen.Generate(ctx, threadID, msg.Content, msg.Media)
	var set actions.Set
	if res.Fallback {
		set = actions.Fallback()
	} else {
		set = actions.Parse(res.Text)
	}

	set = e.runToolLoop(ctx, client, msg, set, 0)

	e.dispatcher.Dispatch(ctx, client, msg.Session, set)

	slog.InfoContext(ctx, "Turn finished", "thread", threadID, "duration", time.Since(start).String())
}

// runToolLoop resolves tool calls in the Action Set by executing them and
// feeding the results back to the model, recursing until the model stops
// asking for tools or the depth bound is hit.
func (e *Engine) runToolLoop(ctx context.Context, client api.ChannelClient, msg *api.UnifiedMessage, set actions.Set, depth int) actions.Set {
	if !set.HasToolCalls() {
		return set
	}
	if !e.sysCfg.EnableTools {
		slog.InfoContext(ctx, "Tools disabled, stripping tool calls", "thread", msg.Session.ThreadID())
		return ensureNonEmpty(set.WithoutToolCalls())
	}
	if depth >= e.sysCfg.MaxToolDepth {
		slog.WarnContext(ctx, "Tool depth bound reached, stripping tool calls",
			"thread", msg.Session.ThreadID(), "depth", depth)
		return ensureNonEmpty(set.WithoutToolCalls())
	}

	// Lightweight UI hint; platforms without a matching surface ignore it.
	if err := client.SendSignal(ctx, msg.Session, "tools"); err != nil {
		slog.DebugContext(ctx, "Tool signal not delivered", "error", err)
	}

	results := make([]string, 0, len(set.ToolCalls()))
	for _, call := range set.ToolCalls() {
		result := e.executeTool(ctx, client, msg, call)
		results = append(results, formatToolResult(call.Name, result))
		e.notify(msg.Session, monitor.TypeAction, "tool: "+call.Name)
	}

	followUp := "Tool results:\n" + strings.Join(results, "\n")
	res := e.gen.Generate(ctx, msg.Session.ThreadID(), followUp, nil)
	if res.Fallback {
		return actions.Fallback()
	}
	return e.runToolLoop(ctx, client, msg, actions.Parse(res.Text), depth+1)
}

// executeTool runs one tool call with its own timeout, converting every
// failure mode (unknown tool, bad params, error, panic) into a ToolResult the
// model can react to.
func (e *Engine) executeTool(ctx context.Context, client api.ChannelClient, msg *api.UnifiedMessage, call *actions.ToolCall) (result *api.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "Tool panicked", "tool", call.Name, "panic", r)
			result = &api.ToolResult{Success: false, Error: fmt.Sprintf("tool %q crashed: %v", call.Name, r)}
		}
	}()

	tool, ok := e.registry.Get(call.Name)
	if !ok {
		slog.WarnContext(ctx, "Unknown tool requested", "tool", call.Name)
		return &api.ToolResult{Success: false, Error: fmt.Sprintf("Unknown tool %q", call.Name)}
	}

	if err := tools.ValidateParams(tool.Parameters(), call.Params); err != nil {
		slog.WarnContext(ctx, "Tool parameters rejected", "tool", call.Name, "error", err)
		return &api.ToolResult{Success: false, Error: err.Error()}
	}

	toolCtx, cancel := context.WithTimeout(ctx, time.Duration(e.sysCfg.ToolTimeoutMs)*time.Millisecond)
	defer cancel()

	slog.InfoContext(ctx, "Executing tool", "tool", call.Name, "params", call.Params)
	res, err := tool.Execute(toolCtx, call.Params, api.ToolContext{
		Client:   client,
		Session:  msg.Session,
		ThreadID: msg.Session.ThreadID(),
		SenderID: msg.Session.UserID,
	})
	if err != nil {
		slog.WarnContext(ctx, "Tool execution failed", "tool", call.Name, "error", err)
		return &api.ToolResult{Success: false, Error: err.Error()}
	}
	if res == nil {
		return &api.ToolResult{Success: false, Error: "tool returned no result"}
	}
	return res
}

// formatToolResult renders one result line for the follow-up prompt.
func formatToolResult(name string, res *api.ToolResult) string {
	if res.Success {
		return fmt.Sprintf("[%s] success: %s", name, res.Data)
	}
	return fmt.Sprintf("[%s] error: %s", name, res.Error)
}

// ensureNonEmpty keeps the never-silent guarantee after tool calls are
// stripped from a set that contained nothing else.
func ensureNonEmpty(set actions.Set) actions.Set {
	if set.IsEmpty() {
		return actions.Fallback()
	}
	return set
}

func (e *Engine) notify(session api.SessionContext, msgType, content string) {
	m := monitor.MonitorMessage{
		Timestamp:   time.Now(),
		MessageType: msgType,
		ChannelID:   session.ChannelID,
		Username:    session.Username,
		Content:     content,
	}
	for _, mon := range e.monitors {
		mon.OnMessage(m)
	}
}
