package actions

// Type discriminates the Action union.
type Type string

const (
	TypeText     Type = "text"
	TypeReaction Type = "reaction"
	TypeSticker  Type = "sticker"
	TypeUndo     Type = "undo"
	TypeCard     Type = "card"
	TypeTool     Type = "tool"
)

// Action is one structured side effect derived from parsing a model reply.
// The Type field selects which of the remaining fields are meaningful,
// mirroring the tagged-union shape of the wire protocol.
type Action struct {
	Type Type

	// Reaction / Undo: Target is the referenced message index. For
	// reactions HasTarget=false means "most recent outbound message";
	// for undos the target is always present and may be negative
	// (-1 = most recent).
	Emotion   string
	Target    int
	HasTarget bool

	// Sticker
	StickerID string

	// Text: QuoteIndex = -1 means no quote.
	Text       string
	QuoteIndex int

	// Card: empty UserID means "share self".
	UserID string

	// Tool call
	Tool *ToolCall
}

// ToolCall is a parsed tool invocation request: name, merged parameter bag,
// and the raw source span that produced it.
type ToolCall struct {
	Name    string
	Params  map[string]any
	RawSpan string
}

// Set is the ordered collection of Actions produced from one model reply.
type Set struct {
	Actions []Action
}

// HasToolCalls reports whether the set contains at least one tool call.
func (s Set) HasToolCalls() bool {
	for _, a := range s.Actions {
		if a.Type == TypeTool {
			return true
		}
	}
	return false
}

// ToolCalls returns the tool calls in set order.
func (s Set) ToolCalls() []*ToolCall {
	var calls []*ToolCall
	for _, a := range s.Actions {
		if a.Type == TypeTool {
			calls = append(calls, a.Tool)
		}
	}
	return calls
}

// WithoutToolCalls returns a copy of the set with every tool call removed,
// preserving the order of everything else.
func (s Set) WithoutToolCalls() Set {
	out := Set{}
	for _, a := range s.Actions {
		if a.Type != TypeTool {
			out.Actions = append(out.Actions, a)
		}
	}
	return out
}

// IsEmpty reports whether the set carries no actions at all.
func (s Set) IsEmpty() bool {
	return len(s.Actions) == 0
}

// FallbackText is the single apologetic reply used whenever the engine
// cannot produce a real Action Set; a turn must never end in silence.
const FallbackText = "Sorry, I could not come up with a reply just now. Please try again in a moment."

// Fallback returns the default Action Set: one apologetic message,
// no reactions.
func Fallback() Set {
	return Set{Actions: []Action{{
		Type:       TypeText,
		Text:       FallbackText,
		QuoteIndex: -1,
	}}}
}
