package dispatch

import (
	"context"
	"log/slog"
	"math/rand"
	"strconv"
	"time"

	"parley/pkg/actions"
	"parley/pkg/api"
	"parley/pkg/config"
	"parley/pkg/monitor"
)

// Dispatcher executes a parsed Action Set against a channel client in phase
// order: reactions first, then messages and stickers in set order, then
// undos. A failed action is logged and skipped; one bad sticker ID must not
// swallow the rest of the reply.
type Dispatcher struct {
	store    api.MessageStore
	sysCfg   *config.SystemConfig
	monitors []monitor.Monitor

	sleep  func(d time.Duration)  // injectable for tests
	jitter func(min, max int) int // injectable for tests
}

func New(store api.MessageStore, sysCfg *config.SystemConfig, monitors ...monitor.Monitor) *Dispatcher {
	return &Dispatcher{
		store:    store,
		sysCfg:   sysCfg,
		monitors: monitors,
		sleep:    time.Sleep,
		jitter: func(min, max int) int {
			if max <= min {
				return min
			}
			return min + rand.Intn(max-min)
		},
	}
}

// Dispatch realizes the Action Set as platform side effects. Tool calls must
// already have been consumed by the engine; any that remain are ignored here.
func (d *Dispatcher) Dispatch(ctx context.Context, client api.ChannelClient, session api.SessionContext, set actions.Set) {
	threadID := session.ThreadID()

	d.dispatchReactions(ctx, client, session, threadID, set)
	d.dispatchMessages(ctx, client, session, threadID, set)
	d.dispatchUndos(ctx, client, session, threadID, set)
}

// dispatchReactions runs phase one. Several reactions aimed at the same
// message collapse to the last one in set order.
func (d *Dispatcher) dispatchReactions(ctx context.Context, client api.ChannelClient, session api.SessionContext, threadID string, set actions.Set) {
	type keyed struct {
		target  api.MessageHandle
		emotion string
	}
	var order []api.MessageHandle
	last := make(map[api.MessageHandle]keyed)

	for _, a := range set.Actions {
		if a.Type != actions.TypeReaction {
			continue
		}
		var target api.MessageHandle
		var ok bool
		if a.HasTarget {
			target, ok = d.store.Resolve(threadID, a.Target)
		} else {
			target, ok = d.store.Latest(threadID)
		}
		if !ok {
			slog.Warn("Reaction target not resolvable, skipping",
				"thread", threadID, "target", a.Target, "emotion", a.Emotion)
			continue
		}
		if _, seen := last[target]; !seen {
			order = append(order, target)
		}
		last[target] = keyed{target: target, emotion: a.Emotion}
	}

	for _, target := range order {
		k := last[target]
		if err := client.AddReaction(ctx, session, k.emotion, k.target); err != nil {
			slog.Warn("Failed to add reaction", "thread", threadID, "emotion", k.emotion, "error", err)
			continue
		}
		d.notify(session, monitor.TypeAction, "reaction: "+k.emotion)
	}
}

// dispatchMessages runs phase two: text, stickers and cards in set order,
// recording every sent handle and pausing a randomized beat between bubbles.
func (d *Dispatcher) dispatchMessages(ctx context.Context, client api.ChannelClient, session api.SessionContext, threadID string, set actions.Set) {
	sentAny := false
	for _, a := range set.Actions {
		switch a.Type {
		case actions.TypeText:
			if sentAny {
				d.pause()
			}
			var quote *api.MessageHandle
			if a.QuoteIndex != -1 {
				if h, ok := d.store.Resolve(threadID, a.QuoteIndex); ok {
					quote = &h
				} else {
					slog.Warn("Quote target not resolvable, sending without quote",
						"thread", threadID, "index", a.QuoteIndex)
				}
			}
			h, err := client.SendMessage(ctx, session, a.Text, quote)
			if err != nil {
				slog.Warn("Failed to send message", "thread", threadID, "error", err)
				continue
			}
			d.store.Record(threadID, h)
			d.notify(session, monitor.TypeAssistant, a.Text)
			sentAny = true

		case actions.TypeSticker:
			if sentAny {
				d.pause()
			}
			h, err := client.SendSticker(ctx, session, a.StickerID)
			if err != nil {
				slog.Warn("Failed to send sticker", "thread", threadID, "sticker", a.StickerID, "error", err)
				continue
			}
			d.store.Record(threadID, h)
			d.notify(session, monitor.TypeAction, "sticker: "+a.StickerID)
			sentAny = true

		case actions.TypeCard:
			if sentAny {
				d.pause()
			}
			h, err := client.ShareContact(ctx, session, a.UserID)
			if err != nil {
				slog.Warn("Failed to share contact", "thread", threadID, "user", a.UserID, "error", err)
				continue
			}
			d.store.Record(threadID, h)
			d.notify(session, monitor.TypeAction, "card: "+a.UserID)
			sentAny = true
		}
	}
}

// dispatchUndos runs phase three, after every send of this reply has been
// recorded, so an undo can retract a message sent moments earlier in the
// same Action Set.
func (d *Dispatcher) dispatchUndos(ctx context.Context, client api.ChannelClient, session api.SessionContext, threadID string, set actions.Set) {
	for _, a := range set.Actions {
		if a.Type != actions.TypeUndo {
			continue
		}
		target, ok := d.store.Resolve(threadID, a.Target)
		if !ok {
			slog.Warn("Undo target not resolvable, skipping", "thread", threadID, "target", a.Target)
			continue
		}
		if err := client.Retract(ctx, session, target); err != nil {
			slog.Warn("Failed to retract message", "thread", threadID, "error", err)
			continue
		}
		d.notify(session, monitor.TypeAction, "undo: "+strconv.Itoa(a.Target))
	}
}

func (d *Dispatcher) pause() {
	ms := d.jitter(d.sysCfg.DispatchDelayMinMs, d.sysCfg.DispatchDelayMaxMs)
	if ms > 0 {
		d.sleep(time.Duration(ms) * time.Millisecond)
	}
}

func (d *Dispatcher) notify(session api.SessionContext, msgType, content string) {
	msg := monitor.MonitorMessage{
		Timestamp:   time.Now(),
		MessageType: msgType,
		ChannelID:   session.ChannelID,
		Username:    session.Username,
		Content:     content,
	}
	for _, m := range d.monitors {
		m.OnMessage(msg)
	}
}
