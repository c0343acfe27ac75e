package intent

import (
	"testing"
)

func TestClassifier_ImagePresenceDominates(t *testing.T) {
	c := New(DefaultTriggers())

	// Even text that matches a generation trigger routes to vision when an
	// image is attached.
	tests := []string{
		"这是什么?",
		"画一只猫",
		"draw a cat",
		"",
	}

	for _, text := range tests {
		d := c.Classify(true, text)
		if d.Kind != KindVision {
			t.Errorf("Classify(true, %q).Kind = %v, want %v", text, d.Kind, KindVision)
		}
	}
}

func TestClassifier_GenerationTriggers(t *testing.T) {
	c := New(DefaultTriggers())

	tests := []struct {
		text       string
		wantKind   Kind
		wantPrompt string
	}{
		{"画一只猫", KindImageGen, "只猫"},
		{"请画一座雪山", KindImageGen, "一座雪山"},
		{"帮我画 a red fox", KindImageGen, "a red fox"},
		{"draw a cat", KindImageGen, "a cat"},
		{"Draw a sunset over the sea.", KindImageGen, "a sunset over the sea"},
		{"generate an image of a dog", KindImageGen, "a dog"},
		{"create image of a castle!", KindImageGen, "a castle"},
		{"你好", KindText, ""},
		{"hello there", KindText, ""},
		{"i like to draw sometimes", KindText, ""},
		{"", KindText, ""},
		{"   ", KindText, ""},
		// Too short to trigger.
		{"画猫", KindText, ""},
		// Trigger with nothing after it stays conversational.
		{"draw    ", KindText, ""},
	}

	for _, tt := range tests {
		d := c.Classify(false, tt.text)
		if d.Kind != tt.wantKind {
			t.Errorf("Classify(false, %q).Kind = %v, want %v", tt.text, d.Kind, tt.wantKind)
		}
		if d.Prompt != tt.wantPrompt {
			t.Errorf("Classify(false, %q).Prompt = %q, want %q", tt.text, d.Prompt, tt.wantPrompt)
		}
	}
}

func TestClassifier_Totality(t *testing.T) {
	c := New(DefaultTriggers())

	inputs := []struct {
		hasImage bool
		text     string
	}{
		{false, ""},
		{true, ""},
		{false, "\x00\xff invalid utf8 \xfe"},
		{false, "。。。"},
		{true, "画画画画画"},
	}

	for _, in := range inputs {
		d := c.Classify(in.hasImage, in.text)
		switch d.Kind {
		case KindText, KindVision, KindImageGen:
		default:
			t.Errorf("Classify(%v, %q).Kind = %v, not a valid kind", in.hasImage, in.text, d.Kind)
		}
	}
}

func TestClassifier_CustomLexicon(t *testing.T) {
	c := New([]Trigger{{Prefix: "sketch "}})

	if d := c.Classify(false, "sketch a boat"); d.Kind != KindImageGen || d.Prompt != "a boat" {
		t.Errorf("Classify() = %+v, want image_gen with prompt %q", d, "a boat")
	}

	// Default triggers are not active when replaced.
	if d := c.Classify(false, "draw a boat"); d.Kind != KindText {
		t.Errorf("Classify(false, \"draw a boat\").Kind = %v, want %v", d.Kind, KindText)
	}
}

func TestClassifier_EmptyLexicon(t *testing.T) {
	c := New(nil)

	if d := c.Classify(false, "draw a cat"); d.Kind != KindText {
		t.Errorf("Classify() with empty lexicon = %v, want %v", d.Kind, KindText)
	}
}
