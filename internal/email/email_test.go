package email

import (
	"strings"
	"testing"
	"time"
)

func TestBriefingLines_Empty(t *testing.T) {
	s := &Summary{}
	lines := s.BriefingLines()
	if len(lines) != 1 || lines[0] != "No unread email." {
		t.Errorf("lines = %v", lines)
	}
}

func TestBriefingLines(t *testing.T) {
	s := &Summary{
		Unseen: 12,
		Messages: []Message{
			{From: "Maija", Subject: "Saturday plans", Date: time.Now()},
			{From: "billing@example.net", Subject: "", Date: time.Now()},
		},
	}
	lines := s.BriefingLines()
	if len(lines) != 3 {
		t.Fatalf("lines = %v", lines)
	}
	if !strings.Contains(lines[0], "12 unread") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "Saturday plans") {
		t.Errorf("line = %q", lines[1])
	}
	if !strings.Contains(lines[2], "(no subject)") {
		t.Errorf("line = %q", lines[2])
	}
}
