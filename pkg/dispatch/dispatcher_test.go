package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/pkg/actions"
	"parley/pkg/api"
	"parley/pkg/config"
	"parley/pkg/store"
)

// recordingClient captures every outbound call in order.
type recordingClient struct {
	calls  []string
	nextID int
	failOn map[string]error
}

func (c *recordingClient) handle(session api.SessionContext) api.MessageHandle {
	c.nextID++
	return api.MessageHandle{
		ChannelID: session.ChannelID,
		ChatID:    session.ChatID,
		MessageID: fmt.Sprintf("m%d", c.nextID),
	}
}

func (c *recordingClient) SendMessage(_ context.Context, session api.SessionContext, text string, quote *api.MessageHandle) (api.MessageHandle, error) {
	if err := c.failOn["send:"+text]; err != nil {
		c.calls = append(c.calls, "send-failed:"+text)
		return api.MessageHandle{}, err
	}
	if quote != nil {
		c.calls = append(c.calls, fmt.Sprintf("send:%s(quote=%s)", text, quote.MessageID))
	} else {
		c.calls = append(c.calls, "send:"+text)
	}
	return c.handle(session), nil
}

func (c *recordingClient) AddReaction(_ context.Context, _ api.SessionContext, emotion string, target api.MessageHandle) error {
	c.calls = append(c.calls, fmt.Sprintf("react:%s@%s", emotion, target.MessageID))
	return nil
}

func (c *recordingClient) SendSticker(_ context.Context, session api.SessionContext, stickerID string) (api.MessageHandle, error) {
	if err := c.failOn["sticker:"+stickerID]; err != nil {
		c.calls = append(c.calls, "sticker-failed:"+stickerID)
		return api.MessageHandle{}, err
	}
	c.calls = append(c.calls, "sticker:"+stickerID)
	return c.handle(session), nil
}

func (c *recordingClient) ShareContact(_ context.Context, session api.SessionContext, userID string) (api.MessageHandle, error) {
	c.calls = append(c.calls, "card:"+userID)
	return c.handle(session), nil
}

func (c *recordingClient) Retract(_ context.Context, _ api.SessionContext, target api.MessageHandle) error {
	c.calls = append(c.calls, "retract:"+target.MessageID)
	return nil
}

func (c *recordingClient) SendSignal(_ context.Context, _ api.SessionContext, signal string) error {
	c.calls = append(c.calls, "signal:"+signal)
	return nil
}

func newTestDispatcher() (*Dispatcher, api.MessageStore, *int) {
	sysCfg := config.DefaultSystemConfig()
	st := store.NewWindow(sysCfg.RecentWindow)
	d := New(st, sysCfg)
	pauses := 0
	d.sleep = func(time.Duration) { pauses++ }
	d.jitter = func(min, _ int) int { return min }
	return d, st, &pauses
}

func testSession() api.SessionContext {
	return api.SessionContext{ChannelID: "telegram", UserID: "u1", ChatID: "c1", Username: "alice"}
}

func TestDispatchPhaseOrdering(t *testing.T) {
	d, st, _ := newTestDispatcher()
	session := testSession()
	threadID := session.ThreadID()

	// Pre-existing message so reactions and undos have a target.
	st.Record(threadID, api.MessageHandle{ChannelID: "telegram", ChatID: "c1", MessageID: "m0"})

	client := &recordingClient{}
	set := actions.Set{Actions: []actions.Action{
		{Type: actions.TypeText, Text: "first", QuoteIndex: -1},
		{Type: actions.TypeUndo, Target: 0},
		{Type: actions.TypeReaction, Emotion: "heart", Target: 0, HasTarget: true},
		{Type: actions.TypeSticker, StickerID: "cat_01"},
	}}

	d.Dispatch(context.Background(), client, session, set)

	// Reactions run before messages even though the tag came later,
	// and undos run last.
	assert.Equal(t, []string{
		"react:heart@m0",
		"send:first",
		"sticker:cat_01",
		"retract:m0",
	}, client.calls)
}

func TestDispatchReactionLastWriteWins(t *testing.T) {
	d, st, _ := newTestDispatcher()
	session := testSession()
	st.Record(session.ThreadID(), api.MessageHandle{MessageID: "m0"})

	client := &recordingClient{}
	set := actions.Set{Actions: []actions.Action{
		{Type: actions.TypeReaction, Emotion: "haha", Target: 0, HasTarget: true},
		{Type: actions.TypeReaction, Emotion: "heart", Target: 0, HasTarget: true},
	}}
	d.Dispatch(context.Background(), client, session, set)

	assert.Equal(t, []string{"react:heart@m0"}, client.calls)
}

func TestDispatchUntargetedReactionHitsLatest(t *testing.T) {
	d, st, _ := newTestDispatcher()
	session := testSession()
	st.Record(session.ThreadID(), api.MessageHandle{MessageID: "m0"})
	st.Record(session.ThreadID(), api.MessageHandle{MessageID: "m1"})

	client := &recordingClient{}
	set := actions.Set{Actions: []actions.Action{
		{Type: actions.TypeReaction, Emotion: "like"},
	}}
	d.Dispatch(context.Background(), client, session, set)

	assert.Equal(t, []string{"react:like@m1"}, client.calls)
}

func TestDispatchQuoteResolution(t *testing.T) {
	d, st, _ := newTestDispatcher()
	session := testSession()
	st.Record(session.ThreadID(), api.MessageHandle{MessageID: "m7"})

	client := &recordingClient{}
	set := actions.Set{Actions: []actions.Action{
		{Type: actions.TypeText, Text: "quoted reply", QuoteIndex: 0},
		{Type: actions.TypeText, Text: "dangling", QuoteIndex: 99},
	}}
	d.Dispatch(context.Background(), client, session, set)

	// Unresolved quote index degrades to a plain send.
	assert.Equal(t, []string{
		"send:quoted reply(quote=m7)",
		"send:dangling",
	}, client.calls)
}

func TestDispatchFailureIsolation(t *testing.T) {
	d, _, _ := newTestDispatcher()
	session := testSession()

	client := &recordingClient{failOn: map[string]error{
		"sticker:bad": errors.New("sticker not found"),
	}}
	set := actions.Set{Actions: []actions.Action{
		{Type: actions.TypeText, Text: "one", QuoteIndex: -1},
		{Type: actions.TypeSticker, StickerID: "bad"},
		{Type: actions.TypeText, Text: "two", QuoteIndex: -1},
	}}
	d.Dispatch(context.Background(), client, session, set)

	assert.Equal(t, []string{"send:one", "sticker-failed:bad", "send:two"}, client.calls)
}

func TestDispatchUndoCanRetractOwnReply(t *testing.T) {
	d, _, _ := newTestDispatcher()
	session := testSession()

	client := &recordingClient{}
	set := actions.Set{Actions: []actions.Action{
		{Type: actions.TypeText, Text: "oops", QuoteIndex: -1},
		{Type: actions.TypeUndo, Target: -1},
	}}
	d.Dispatch(context.Background(), client, session, set)

	require.Len(t, client.calls, 2)
	assert.Equal(t, "send:oops", client.calls[0])
	assert.Equal(t, "retract:m1", client.calls[1])
}

func TestDispatchUnresolvableTargetsSkipped(t *testing.T) {
	d, _, _ := newTestDispatcher()
	session := testSession()

	client := &recordingClient{}
	set := actions.Set{Actions: []actions.Action{
		{Type: actions.TypeReaction, Emotion: "wow", Target: 3, HasTarget: true},
		{Type: actions.TypeUndo, Target: 5},
	}}
	d.Dispatch(context.Background(), client, session, set)

	assert.Empty(t, client.calls)
}

func TestDispatchPausesBetweenBubbles(t *testing.T) {
	d, _, pauses := newTestDispatcher()
	session := testSession()

	client := &recordingClient{}
	set := actions.Set{Actions: []actions.Action{
		{Type: actions.TypeText, Text: "a", QuoteIndex: -1},
		{Type: actions.TypeText, Text: "b", QuoteIndex: -1},
		{Type: actions.TypeText, Text: "c", QuoteIndex: -1},
	}}
	d.Dispatch(context.Background(), client, session, set)

	// No pause before the first bubble.
	assert.Equal(t, 2, *pauses)
}
