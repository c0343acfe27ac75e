// Package intent decides which capability handles a user turn. The
// classifier is a pure function over (has image, text); it never errors and
// always lands on exactly one capability.
package intent

import (
	"strings"
)

// Kind is the capability a turn routes to.
type Kind string

const (
	KindText     Kind = "text"
	KindVision   Kind = "vision"
	KindImageGen Kind = "image_gen"
)

// Decision is the routing outcome for one turn. It is recomputed per turn
// and never persisted.
type Decision struct {
	Kind Kind

	// Prompt is the extracted generation prompt when Kind is KindImageGen:
	// the text with the trigger phrase, filler, and trailing punctuation
	// stripped.
	Prompt string
}

// Trigger is one generation-trigger phrase. Text matching the prefix routes
// to image generation; the remainder becomes the prompt after stripping the
// listed filler runes.
type Trigger struct {
	// Prefix is matched case-insensitively against the start of the
	// trimmed message.
	Prefix string `koanf:"prefix"`

	// StripLeading runes are removed from the front of the remainder
	// (measure words like 一张, or " of" on the English phrases).
	StripLeading string `koanf:"strip_leading"`

	// StripTrailing runes are removed from the end of the remainder.
	StripTrailing string `koanf:"strip_trailing"`
}

// trailing punctuation always removed from an extracted prompt
const promptPunctuation = "。.,!?;:、，！？；： "

// minTriggerLen skips trigger matching for very short messages, which are
// near-certainly conversational.
const minTriggerLen = 3

// DefaultTriggers returns the built-in generation-trigger lexicon. The
// lexicon is configuration, not logic; callers may replace it wholesale.
func DefaultTriggers() []Trigger {
	return []Trigger{
		{Prefix: "画", StripLeading: "一个张 "},
		{Prefix: "生成", StripLeading: "一张个 ", StripTrailing: "图片图画 "},
		{Prefix: "帮我画"},
		{Prefix: "请画"},
		{Prefix: "创作", StripTrailing: "图片图画 "},
		{Prefix: "draw "},
		{Prefix: "generate image", StripLeading: " of"},
		{Prefix: "generate an image", StripLeading: " of"},
		{Prefix: "generate a image", StripLeading: " of"},
		{Prefix: "create image", StripLeading: " of"},
		{Prefix: "create an image", StripLeading: " of"},
		{Prefix: "create a image", StripLeading: " of"},
	}
}

// Classifier routes turns. Zero value is unusable; use New.
type Classifier struct {
	triggers []Trigger
}

// New creates a classifier with the given trigger lexicon. An empty lexicon
// is valid and routes every imageless turn to text chat.
func New(triggers []Trigger) *Classifier {
	return &Classifier{triggers: triggers}
}

// Classify maps one user turn to a capability. Image presence dominates:
// any turn with an image is a vision turn regardless of its text. Otherwise
// the first matching trigger wins; no match means text chat. Total and
// deterministic, including for empty text.
func (c *Classifier) Classify(hasImage bool, text string) Decision {
	if hasImage {
		return Decision{Kind: KindVision}
	}

	text = strings.TrimSpace(text)
	if len([]rune(text)) < minTriggerLen {
		return Decision{Kind: KindText}
	}

	for _, trig := range c.triggers {
		if prompt, ok := matchTrigger(text, trig); ok {
			return Decision{Kind: KindImageGen, Prompt: prompt}
		}
	}

	return Decision{Kind: KindText}
}

// matchTrigger tests text against one trigger and extracts the prompt.
// A match that yields an empty prompt is treated as no match, so bare
// trigger words ("draw ", "生成") still read as conversation.
func matchTrigger(text string, trig Trigger) (string, bool) {
	if trig.Prefix == "" || len(text) < len(trig.Prefix) {
		return "", false
	}
	if !strings.EqualFold(text[:len(trig.Prefix)], trig.Prefix) {
		return "", false
	}

	prompt := text[len(trig.Prefix):]
	if trig.StripLeading != "" {
		prompt = strings.TrimLeft(prompt, trig.StripLeading)
	}
	if trig.StripTrailing != "" {
		prompt = strings.TrimRight(prompt, trig.StripTrailing)
	}
	prompt = strings.TrimRight(prompt, promptPunctuation)
	prompt = strings.TrimSpace(prompt)

	if prompt == "" {
		return "", false
	}
	return prompt, true
}
