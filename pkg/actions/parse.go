package actions

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// The tag grammar emitted by the model. Keywords are case-insensitive;
// quote/msg/tool bodies may span lines.
var (
	toolBlockRe  = regexp.MustCompile(`(?is)\[tool:([a-z0-9_.-]+)([^\]]*)\](.*?)\[/tool\]`)
	toolInlineRe = regexp.MustCompile(`(?i)\[tool:([a-z0-9_.-]+)([^\]]*)\]`)
	quoteRe      = regexp.MustCompile(`(?is)\[quote:(-?\d+)\](.*?)\[/quote\]`)
	msgRe        = regexp.MustCompile(`(?is)\[msg\](.*?)\[/msg\]`)
	reactionRe   = regexp.MustCompile(`(?i)\[reaction:(?:(\d+):)?([a-z]+)\]`)
	stickerRe    = regexp.MustCompile(`(?i)\[sticker:([a-z0-9_-]+)\]`)
	undoRe       = regexp.MustCompile(`(?i)\[undo:(-?\d+)\]`)
	cardRe       = regexp.MustCompile(`(?i)\[card(?::([^\]\s]+))?\]`)

	paramRe = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_-]*)\s*=\s*(?:"([^"]*)"|(\S+))`)
)

// validEmotions is the fixed reaction enumeration; anything else is
// dropped silently.
var validEmotions = map[string]bool{
	"heart": true,
	"haha":  true,
	"wow":   true,
	"sad":   true,
	"angry": true,
	"like":  true,
}

// span is one claimed byte range of the raw text together with the action it
// produced (action may be nil for tags that parse but yield nothing, such as
// reactions with an unknown emotion — the tag is still stripped).
type span struct {
	start, end int
	action     *Action
}

// Parse converts raw model text into an ordered Action Set. It is a pure
// function: no I/O, same input always yields the same set.
//
// Each tag family is scanned independently with non-overlapping matches;
// actions are ordered by their position in the text. Whatever plain text
// remains after stripping every matched span is prepended as a TextMessage
// at position 0. An input that yields neither actions nor residual text
// returns the default fallback set.
func Parse(raw string) Set {
	var spans []span
	claimed := make([]bool, len(raw))

	claim := func(start, end int, a *Action) bool {
		for i := start; i < end; i++ {
			if claimed[i] {
				return false
			}
		}
		for i := start; i < end; i++ {
			claimed[i] = true
		}
		spans = append(spans, span{start: start, end: end, action: a})
		return true
	}

	// Block forms first so their bodies cannot be re-matched by the
	// single-tag families.
	for _, m := range toolBlockRe.FindAllStringSubmatchIndex(raw, -1) {
		name := raw[m[2]:m[3]]
		attrs := raw[m[4]:m[5]]
		body := raw[m[6]:m[7]]
		claim(m[0], m[1], &Action{
			Type: TypeTool,
			Tool: &ToolCall{
				Name:    strings.ToLower(name),
				Params:  mergeParams(attrs, body),
				RawSpan: raw[m[0]:m[1]],
			},
		})
	}

	for _, m := range quoteRe.FindAllStringSubmatchIndex(raw, -1) {
		idx, _ := strconv.Atoi(raw[m[2]:m[3]])
		claim(m[0], m[1], &Action{
			Type:       TypeText,
			Text:       strings.TrimSpace(raw[m[4]:m[5]]),
			QuoteIndex: idx,
		})
	}

	for _, m := range msgRe.FindAllStringSubmatchIndex(raw, -1) {
		claim(m[0], m[1], &Action{
			Type:       TypeText,
			Text:       strings.TrimSpace(raw[m[2]:m[3]]),
			QuoteIndex: -1,
		})
	}

	for _, m := range toolInlineRe.FindAllStringSubmatchIndex(raw, -1) {
		name := raw[m[2]:m[3]]
		attrs := raw[m[4]:m[5]]
		claim(m[0], m[1], &Action{
			Type: TypeTool,
			Tool: &ToolCall{
				Name:    strings.ToLower(name),
				Params:  mergeParams(attrs, ""),
				RawSpan: raw[m[0]:m[1]],
			},
		})
	}

	for _, m := range reactionRe.FindAllStringSubmatchIndex(raw, -1) {
		emotion := strings.ToLower(raw[m[4]:m[5]])
		if !validEmotions[emotion] {
			claim(m[0], m[1], nil) // strip the tag, drop the action
			continue
		}
		a := &Action{Type: TypeReaction, Emotion: emotion}
		if m[2] >= 0 {
			a.Target, _ = strconv.Atoi(raw[m[2]:m[3]])
			a.HasTarget = true
		}
		claim(m[0], m[1], a)
	}

	for _, m := range stickerRe.FindAllStringSubmatchIndex(raw, -1) {
		claim(m[0], m[1], &Action{Type: TypeSticker, StickerID: raw[m[2]:m[3]]})
	}

	for _, m := range undoRe.FindAllStringSubmatchIndex(raw, -1) {
		idx, _ := strconv.Atoi(raw[m[2]:m[3]])
		claim(m[0], m[1], &Action{Type: TypeUndo, Target: idx, HasTarget: true})
	}

	for _, m := range cardRe.FindAllStringSubmatchIndex(raw, -1) {
		uid := ""
		if m[2] >= 0 {
			uid = raw[m[2]:m[3]]
		}
		claim(m[0], m[1], &Action{Type: TypeCard, UserID: uid})
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	// Quote gluing: prose immediately after a quote's closing tag belongs
	// to that quoted message, not to the residual. Models habitually write
	// "[quote:0]original[/quote] my reply".
	for i, sp := range spans {
		if sp.action == nil || sp.action.Type != TypeText || !isQuoteSpan(raw, sp) {
			continue
		}
		glueEnd := len(raw)
		if i+1 < len(spans) {
			glueEnd = spans[i+1].start
		}
		glue := strings.TrimSpace(raw[sp.end:glueEnd])
		if glue != "" {
			if sp.action.Text != "" {
				sp.action.Text += " " + glue
			} else {
				sp.action.Text = glue
			}
			for j := sp.end; j < glueEnd; j++ {
				claimed[j] = true
			}
		}
	}

	set := Set{}
	for _, sp := range spans {
		if sp.action != nil {
			if sp.action.Type == TypeText && sp.action.Text == "" {
				continue // empty quote/msg body carries nothing to send
			}
			set.Actions = append(set.Actions, *sp.action)
		}
	}

	// Residual plain text becomes the leading message.
	var residual strings.Builder
	for i := 0; i < len(raw); i++ {
		if !claimed[i] {
			residual.WriteByte(raw[i])
		}
	}
	if text := strings.TrimSpace(residual.String()); text != "" {
		set.Actions = append([]Action{{
			Type:       TypeText,
			Text:       text,
			QuoteIndex: -1,
		}}, set.Actions...)
	}

	if set.IsEmpty() {
		return Fallback()
	}
	return set
}

// isQuoteSpan reports whether the span's raw text is a quote block (as
// opposed to a [msg] block, which never glues trailing prose).
func isQuoteSpan(raw string, sp span) bool {
	return len(raw) >= sp.start+7 && strings.EqualFold(raw[sp.start:sp.start+7], "[quote:")
}

// mergeParams builds the tool parameter bag from inline key=value attributes
// and an optional embedded JSON body. JSON values win on key collision.
// A body that is not valid JSON is ignored; malformed model output must not
// surface as an error.
func mergeParams(attrs, body string) map[string]any {
	params := make(map[string]any)

	for _, m := range paramRe.FindAllStringSubmatch(attrs, -1) {
		key := m[1]
		if m[2] != "" || strings.Contains(m[0], `"`) {
			params[key] = m[2]
		} else {
			params[key] = m[3]
		}
	}

	body = strings.TrimSpace(body)
	if strings.HasPrefix(body, "{") {
		var fromJSON map[string]any
		if err := json.Unmarshal([]byte(body), &fromJSON); err == nil {
			for k, v := range fromJSON {
				params[k] = v
			}
		}
	}

	return params
}
