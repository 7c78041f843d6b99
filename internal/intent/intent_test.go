package intent

import "testing"

func TestResolve(t *testing.T) {
	tests := []struct {
		in            string
		wantName      string
		wantRemainder string
		wantOK        bool
	}{
		{"Genesis: what's the weather?", "Genesis", "what's the weather?", true},
		{"Lissa, good morning", "Lissa", "good morning", true},
		{"Lisa, tell me a joke", "Lissa", "tell me a joke", true},
		{"@aloy status report", "Aloy", "status report", true},
		{"hey Lisa what's up", "Lissa", "what's up", true},
		{"hey hi ok Genesis ping", "Genesis", "ping", true},
		{"alloy. run diagnostics", "Aloy", "run diagnostics", true},
		{"and tomorrow?", "", "and tomorrow?", false},
		{"hey what's the plan", "", "hey what's the plan", false},
		{"remind me at 5 to call mom", "", "remind me at 5 to call mom", false},
		{"", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			name, remainder, ok := Resolve(tt.in)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if name != tt.wantName {
				t.Errorf("name = %q, want %q", name, tt.wantName)
			}
			if remainder != tt.wantRemainder {
				t.Errorf("remainder = %q, want %q", remainder, tt.wantRemainder)
			}
		})
	}
}

// Resolving the remainder of a successful resolve must be a no-op:
// no second name, same text back.
func TestResolve_Idempotent(t *testing.T) {
	inputs := []string{
		"Genesis: what's the weather?",
		"hey Lisa what's up",
		"@optik check the cameras",
	}
	for _, in := range inputs {
		_, remainder, ok := Resolve(in)
		if !ok {
			t.Fatalf("Resolve(%q) found no name", in)
		}
		name2, tail2, ok2 := Resolve(remainder)
		if ok2 {
			t.Errorf("Resolve(%q) second pass found %q", remainder, name2)
		}
		if tail2 != remainder {
			t.Errorf("second pass changed text: %q -> %q", remainder, tail2)
		}
	}
}

func TestResolve_SeparatorRequiresSingleToken(t *testing.T) {
	// A comma later in the sentence must not trigger prefix matching.
	name, _, ok := Resolve("well hello there, friend")
	if ok {
		t.Errorf("unexpected name %q", name)
	}
}

func TestNormalize(t *testing.T) {
	in := "‘a’ “b” c…"
	want := `'a' "b" c...`
	if got := Normalize(in); got != want {
		t.Errorf("Normalize = %q, want %q", got, want)
	}
}

func TestCanonical(t *testing.T) {
	tests := []struct {
		token string
		want  string
		ok    bool
	}{
		{"LISA", "Lissa", true},
		{"ahoy!", "Aloy", true},
		{"oniya,", "Anya", true},
		{"optics", "Optic", true},
		{"stranger", "", false},
	}
	for _, tt := range tests {
		got, ok := Canonical(tt.token)
		if ok != tt.ok || got != tt.want {
			t.Errorf("Canonical(%q) = %q, %v; want %q, %v", tt.token, got, ok, tt.want, tt.ok)
		}
	}
}
