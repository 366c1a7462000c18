package telegram

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"parley/pkg/api"
)

// emotionEmoji maps the engine's reaction vocabulary onto Telegram emoji.
var emotionEmoji = map[string]string{
	"heart": "❤️",
	"haha":  "😂",
	"wow":   "😮",
	"sad":   "😢",
	"angry": "😡",
	"like":  "👍",
}

// client implements api.ChannelClient over the Bot API.
type client struct {
	ch *Channel
}

func parseChatID(session api.SessionContext) (int64, error) {
	chatID, err := strconv.ParseInt(session.ChatID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id for telegram: %s", session.ChatID)
	}
	return chatID, nil
}

func (c *client) handleFor(session api.SessionContext, messageID int) api.MessageHandle {
	return api.MessageHandle{
		ChannelID: "telegram",
		ChatID:    session.ChatID,
		MessageID: strconv.Itoa(messageID),
	}
}

// SendMessage delivers text, splitting into multiple bubbles when it exceeds
// the platform limit. The returned handle refers to the last bubble sent.
func (c *client) SendMessage(_ context.Context, session api.SessionContext, text string, quote *api.MessageHandle) (api.MessageHandle, error) {
	chatID, err := parseChatID(session)
	if err != nil {
		return api.MessageHandle{}, err
	}

	replyTo := 0
	if quote != nil {
		if id, err := strconv.Atoi(quote.MessageID); err == nil {
			replyTo = id
		}
	}

	msgRunes := []rune(text)
	limit := c.ch.messageLimit

	if limit <= 0 || len(msgRunes) <= limit {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ReplyToMessageID = replyTo
		sent, err := c.ch.bot.Send(msg)
		if err != nil {
			return api.MessageHandle{}, fmt.Errorf("telegram send failed: %w", err)
		}
		return c.handleFor(session, sent.MessageID), nil
	}

	// Long replies are split into bubbles; the quote goes on the first one
	// and the returned handle refers to the last.
	var last tgbotapi.Message
	for i := 0; i < len(msgRunes); i += limit {
		end := i + limit
		if end > len(msgRunes) {
			end = len(msgRunes)
		}
		msg := tgbotapi.NewMessage(chatID, string(msgRunes[i:end]))
		if i == 0 {
			msg.ReplyToMessageID = replyTo
		}
		sent, err := c.ch.bot.Send(msg)
		if err != nil {
			return api.MessageHandle{}, fmt.Errorf("telegram send chunk failed at index %d: %w", i, err)
		}
		last = sent
	}
	return c.handleFor(session, last.MessageID), nil
}

// AddReaction attaches an emotion to a previous message. Bot API v5 has no
// native message-reaction call, so the emotion is rendered as an emoji reply
// to the target message.
func (c *client) AddReaction(_ context.Context, session api.SessionContext, emotion string, target api.MessageHandle) error {
	chatID, err := parseChatID(session)
	if err != nil {
		return err
	}
	emoji, ok := emotionEmoji[emotion]
	if !ok {
		return fmt.Errorf("unsupported emotion: %s", emotion)
	}
	targetID, err := strconv.Atoi(target.MessageID)
	if err != nil {
		return fmt.Errorf("invalid target message id: %s", target.MessageID)
	}

	msg := tgbotapi.NewMessage(chatID, emoji)
	msg.ReplyToMessageID = targetID
	_, err = c.ch.bot.Send(msg)
	return err
}

func (c *client) SendSticker(_ context.Context, session api.SessionContext, stickerID string) (api.MessageHandle, error) {
	chatID, err := parseChatID(session)
	if err != nil {
		return api.MessageHandle{}, err
	}
	sent, err := c.ch.bot.Send(tgbotapi.NewSticker(chatID, tgbotapi.FileID(stickerID)))
	if err != nil {
		return api.MessageHandle{}, fmt.Errorf("telegram sticker send failed: %w", err)
	}
	return c.handleFor(session, sent.MessageID), nil
}

// ShareContact sends a contact card. An empty userID shares the bot itself.
func (c *client) ShareContact(_ context.Context, session api.SessionContext, userID string) (api.MessageHandle, error) {
	chatID, err := parseChatID(session)
	if err != nil {
		return api.MessageHandle{}, err
	}

	var card string
	if userID == "" {
		card = fmt.Sprintf("📇 @%s\nhttps://t.me/%s", c.ch.bot.Self.UserName, c.ch.bot.Self.UserName)
	} else {
		card = fmt.Sprintf("📇 tg://user?id=%s", userID)
	}

	sent, err := c.ch.bot.Send(tgbotapi.NewMessage(chatID, card))
	if err != nil {
		return api.MessageHandle{}, fmt.Errorf("telegram contact send failed: %w", err)
	}
	return c.handleFor(session, sent.MessageID), nil
}

func (c *client) Retract(_ context.Context, session api.SessionContext, target api.MessageHandle) error {
	chatID, err := parseChatID(session)
	if err != nil {
		return err
	}
	targetID, err := strconv.Atoi(target.MessageID)
	if err != nil {
		return fmt.Errorf("invalid target message id: %s", target.MessageID)
	}
	_, err = c.ch.bot.Request(tgbotapi.NewDeleteMessage(chatID, targetID))
	return err
}

// SendSignal maps engine signals onto chat actions; "tools" and "thinking"
// both surface as the typing indicator.
func (c *client) SendSignal(_ context.Context, session api.SessionContext, signal string) error {
	switch signal {
	case "tools", "thinking":
		chatID, err := parseChatID(session)
		if err != nil {
			return err
		}
		_, err = c.ch.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
		return err
	}
	return nil
}
