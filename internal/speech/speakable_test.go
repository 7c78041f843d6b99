package speech

import (
	"strings"
	"testing"
)

func TestSpeakable_StripsThinkBlocks(t *testing.T) {
	in := "<think>the user wants a joke\nso I should be funny</think>Why did the netrunner cross the road?"
	got := Speakable(in)
	if got != "Why did the netrunner cross the road?" {
		t.Errorf("got %q", got)
	}
}

func TestSpeakable_DropsNarrationParagraphs(t *testing.T) {
	in := "Let me check the weather for you.\n\nIt's 18 degrees and sunny in Oulu."
	got := Speakable(in)
	if got != "It's 18 degrees and sunny in Oulu." {
		t.Errorf("got %q", got)
	}
}

func TestSpeakable_AllNarrationKeepsLast(t *testing.T) {
	in := "Now let me look that up.\n\nI've updated your grocery list."
	got := Speakable(in)
	if got != "I've updated your grocery list." {
		t.Errorf("got %q", got)
	}
}

func TestSpeakable_FlattensMarkdown(t *testing.T) {
	in := "Here's the **forecast** for [Oulu](https://example.com/oulu):\n\n- High of *18*\n- Low of 9"
	got := Speakable(in)
	if strings.ContainsAny(got, "*[]()#") {
		t.Errorf("markdown survived: %q", got)
	}
	if !strings.Contains(got, "forecast") || !strings.Contains(got, "Oulu") {
		t.Errorf("prose lost: %q", got)
	}
	if strings.Contains(got, "example.com") {
		t.Errorf("link target survived: %q", got)
	}
}

func TestSpeakable_DropsBareURLs(t *testing.T) {
	got := Speakable("Details here: https://example.com/a/b?c=1 and that's all.")
	if strings.Contains(got, "example.com") {
		t.Errorf("url survived: %q", got)
	}
}

func TestSpeakable_DropsCodeFences(t *testing.T) {
	in := "Run this:\n\n```sh\nrm -rf /tmp/scratch\n```\n\nThen you're done."
	got := Speakable(in)
	if strings.Contains(got, "rm -rf") {
		t.Errorf("code fence survived: %q", got)
	}
	if !strings.Contains(got, "Then you're done.") {
		t.Errorf("prose lost: %q", got)
	}
}

func TestSpeakable_StripsEmoji(t *testing.T) {
	got := Speakable("Good morning! ☀️ It's a beautiful day \U0001F305")
	if got != "Good morning! It's a beautiful day" {
		t.Errorf("got %q", got)
	}
}

func TestSpeakable_StripsAttributionPrefix(t *testing.T) {
	got := Speakable("[Lissa]\n\nHello there.")
	if got != "Hello there." {
		t.Errorf("got %q", got)
	}
}

func TestSpeakable_EmptyWhenNothingRemains(t *testing.T) {
	if got := Speakable("<think>hm</think>"); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestIsNarration(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"Let me check on that.", true},
		{"I'll search for flights now.", true},
		{"I'm going to update the list.", true},
		{"Checking the calendar...", true},
		{"First, let me pull the forecast.", true},
		{"I've created the reminder.", true},
		{"The forecast looks great today.", false},
		{"You'll want an umbrella.", false},
	}
	for _, tt := range tests {
		if got := isNarration(tt.in); got != tt.want {
			t.Errorf("isNarration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
