package speech

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gtext "github.com/yuin/goldmark/text"
)

// Working narration: paragraphs where the model talks about what it is
// doing rather than to the user. These read badly aloud, so the
// speakable variant drops them when anything else remains.
var narrationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(now\s+)?let me\b`),
	regexp.MustCompile(`(?i)^i'?ll\s`),
	regexp.MustCompile(`(?i)^i'?m going to\b`),
	regexp.MustCompile(`(?i)^i will\s`),
	regexp.MustCompile(`(?i)^i need to\b`),
	regexp.MustCompile(`(?i)^(first|next|then|okay|ok)[,\s]+let me\b`),
	regexp.MustCompile(`(?i)^(creating|checking|updating|searching|generating|looking|fetching|running)\b`),
	regexp.MustCompile(`(?i)^i'?ve (created|updated|checked|added|removed|searched|generated)\b`),
}

var (
	thinkRe       = regexp.MustCompile(`(?s)<think>.*?</think>`)
	attributionRe = regexp.MustCompile(`^\[[^\]\n]+\]\s*`)
	urlRe         = regexp.MustCompile(`https?://\S+`)
	spaceRe       = regexp.MustCompile(`[ \t]+`)
)

// StripReasoning removes <think> blocks from a reply. The visible text
// keeps everything else; Speakable applies this and more.
func StripReasoning(reply string) string {
	return strings.TrimSpace(thinkRe.ReplaceAllString(reply, ""))
}

// Speakable derives the text-to-speech variant of a reply: reasoning
// blocks and working narration removed, markdown flattened to plain
// prose, URLs and emoji dropped. Returns "" when nothing speakable
// remains.
func Speakable(reply string) string {
	s := thinkRe.ReplaceAllString(reply, "")
	s = attributionRe.ReplaceAllString(strings.TrimSpace(s), "")
	s = dropNarration(s)
	s = flattenMarkdown(s)
	s = urlRe.ReplaceAllString(s, "")
	s = stripEmoji(s)
	s = collapseWhitespace(s)
	return s
}

// dropNarration removes narration paragraphs. When every paragraph is
// narration the last one is kept, so a reply that is all status updates
// still speaks its final line.
func dropNarration(s string) string {
	paragraphs := strings.Split(s, "\n\n")
	kept := paragraphs[:0:0]
	for _, p := range paragraphs {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" {
			continue
		}
		if isNarration(trimmed) {
			continue
		}
		kept = append(kept, trimmed)
	}
	if len(kept) == 0 {
		for i := len(paragraphs) - 1; i >= 0; i-- {
			if t := strings.TrimSpace(paragraphs[i]); t != "" {
				return t
			}
		}
		return ""
	}
	return strings.Join(kept, "\n\n")
}

func isNarration(paragraph string) bool {
	for _, re := range narrationPatterns {
		if re.MatchString(paragraph) {
			return true
		}
	}
	return false
}

// flattenMarkdown parses the text as markdown and walks the tree
// collecting prose. Link labels survive, link targets and code fences
// do not.
func flattenMarkdown(s string) string {
	src := []byte(s)
	doc := goldmark.New().Parser().Parse(gtext.NewReader(src))

	var sb strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			switch n.(type) {
			case *ast.Paragraph, *ast.Heading, *ast.ListItem:
				sb.WriteString("\n\n")
			}
			return ast.WalkContinue, nil
		}
		switch v := n.(type) {
		case *ast.AutoLink, *ast.Image, *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			sb.Write(v.Segment.Value(src))
			if v.SoftLineBreak() || v.HardLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(v.Value)
		}
		return ast.WalkContinue, nil
	})
	return sb.String()
}

// stripEmoji drops pictographic runes and the joiners that glue them
// into sequences.
func stripEmoji(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 0x1F000 && r <= 0x1FAFF: // pictographs, emoticons, symbols
			return -1
		case r >= 0x2600 && r <= 0x27BF: // misc symbols, dingbats
			return -1
		case r >= 0x1F1E6 && r <= 0x1F1FF: // regional indicators
			return -1
		case r == 0xFE0F || r == 0x200D: // variation selector, ZWJ
			return -1
		}
		return r
	}, s)
}

func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	for _, line := range lines {
		line = strings.TrimSpace(spaceRe.ReplaceAllString(line, " "))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
