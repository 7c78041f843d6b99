package calendar

import (
	"testing"

	"github.com/emersion/go-webdav/caldav"
)

func TestSplitCollection(t *testing.T) {
	tests := []struct {
		in       string
		endpoint string
		path     string
		wantErr  bool
	}{
		{"https://dav.example.net/calendars/owner/default", "https://dav.example.net", "/calendars/owner/default/", false},
		{"https://dav.example.net/calendars/owner/tasks/", "https://dav.example.net", "/calendars/owner/tasks/", false},
		{"/calendars/owner/default", "", "", true},
		{"not a url\x7f", "", "", true},
	}
	for _, tt := range tests {
		endpoint, path, err := splitCollection(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("splitCollection(%q) err = %v", tt.in, err)
			continue
		}
		if endpoint != tt.endpoint || path != tt.path {
			t.Errorf("splitCollection(%q) = %q, %q", tt.in, endpoint, path)
		}
	}
}

func TestSupportsTodos(t *testing.T) {
	if !supportsTodos(&caldav.Calendar{}) {
		t.Error("empty component set should pass (server did not advertise)")
	}
	if !supportsTodos(&caldav.Calendar{SupportedComponentSet: []string{"VTODO"}}) {
		t.Error("VTODO set should pass")
	}
	if supportsTodos(&caldav.Calendar{SupportedComponentSet: []string{"VEVENT"}}) {
		t.Error("event-only collection should fail")
	}
}
