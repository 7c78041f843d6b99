// Package intent extracts the addressed companion name from the start
// of an inbound message. Voice dictation mangles names constantly, so
// matching runs over a table of known mis-hearings rather than exact
// strings.
package intent

import "strings"

// nameVariants maps lowercased spoken/mis-transcribed forms to the
// canonical companion name. Data, not code: extend the table when a new
// companion or a new mis-hearing shows up in the logs.
var nameVariants = map[string]string{
	"lissa":  "Lissa",
	"lisa":   "Lissa",
	"lysa":   "Lissa",
	"lesa":   "Lissa",
	"leesa":  "Lissa",
	"elissa": "Lissa",
	"alyssa": "Lissa",

	"aloy":  "Aloy",
	"alloy": "Aloy",
	"eloy":  "Aloy",
	"aloi":  "Aloy",
	"ahoy":  "Aloy",

	"anya":  "Anya",
	"ania":  "Anya",
	"oniya": "Anya",

	"optic":  "Optic",
	"optek":  "Optic",
	"optik":  "Optic",
	"optics": "Optic",

	"genesis": "Genesis",
}

// fillerWords are greeting and hesitation tokens skipped while scanning
// for a name at the start of a message.
var fillerWords = map[string]bool{
	"hey": true, "hi": true, "hello": true, "yo": true, "oh": true,
	"ok": true, "okay": true, "so": true, "well": true, "um": true,
	"uh": true, "like": true, "please": true, "dear": true, "hiya": true,
}

// maxScanTokens bounds the leading-token scan in Resolve.
const maxScanTokens = 5

// Normalize replaces smart quotes and the ellipsis codepoint with their
// ASCII forms. Dictated text arrives full of these and they break every
// downstream pattern match.
func Normalize(s string) string {
	r := strings.NewReplacer(
		"‘", "'",
		"’", "'",
		"“", `"`,
		"”", `"`,
		"…", "...",
	)
	return r.Replace(s)
}

// Canonical returns the canonical companion name for a single token,
// ignoring case and trailing punctuation. Returns ("", false) when the
// token is not a known variant.
func Canonical(token string) (string, bool) {
	t := strings.ToLower(strings.TrimRight(token, ".,!?:;'\""))
	name, ok := nameVariants[t]
	return name, ok
}

// Resolve extracts an optional companion name from the start of text.
// It returns the canonical name, the remaining message text, and
// whether a name was found. When no name is found the text is returned
// unchanged (after Normalize).
//
// Matching order: a "Name:" / "Name," separator prefix, an "@Name"
// prefix, then a scan of the first few tokens skipping filler words and
// stopping at the first non-filler miss.
func Resolve(text string) (name, remainder string, ok bool) {
	text = strings.TrimSpace(Normalize(text))
	if text == "" {
		return "", "", false
	}

	// "Name: message" or "Name, message".
	if idx := strings.IndexAny(text, ":,"); idx > 0 {
		prefix := text[:idx]
		if !strings.ContainsAny(prefix, " \t") {
			if canon, found := Canonical(prefix); found {
				return canon, strings.TrimSpace(text[idx+1:]), true
			}
		}
	}

	// "@Name message".
	if strings.HasPrefix(text, "@") {
		fields := strings.Fields(text[1:])
		if len(fields) > 0 {
			if canon, found := Canonical(fields[0]); found {
				return canon, strings.TrimSpace(strings.Join(fields[1:], " ")), true
			}
		}
	}

	// "hey Lisa what's up" — skip fillers, stop at the first token that
	// is neither a filler nor a name.
	fields := strings.Fields(text)
	limit := min(len(fields), maxScanTokens)
	for i := 0; i < limit; i++ {
		token := fields[i]
		if canon, found := Canonical(token); found {
			return canon, strings.TrimSpace(strings.Join(fields[i+1:], " ")), true
		}
		if !fillerWords[strings.ToLower(strings.TrimRight(token, ".,!?"))] {
			break
		}
	}

	return "", text, false
}
