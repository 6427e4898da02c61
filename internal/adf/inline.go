package adf

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// inlinePattern is one recognized inline token. Patterns are tried in order;
// the earliest match in the text wins, with ties going to the earlier entry.
// validate rejects matches that need boundary checks RE2 cannot express.
type inlinePattern struct {
	name     string
	re       *regexp.Regexp
	validate func(text string, loc []int) bool
}

var inlinePatterns = []inlinePattern{
	// Status badge: ::text::color::
	{name: "status", re: regexp.MustCompile(`::([^:]+)::(\w+)::`)},
	// Date token: @date:YYYY-MM-DD
	{name: "date", re: regexp.MustCompile(`@date:(\d{4}-\d{2}-\d{2})`)},
	// Emoji: :shortname:
	{name: "emoji", re: regexp.MustCompile(`:([a-z0-9_+\-]+):`)},
	// Confluence page link: [text](<Page Title>)
	{name: "pagelink", re: regexp.MustCompile(`\[([^\]]+)\]\(<([^>]+)>\)`)},
	// External link: [text](url)
	{name: "link", re: regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)},
	// Inline code: `text` (no nested marks)
	{name: "code", re: regexp.MustCompile("`([^`]+)`")},
	// Bold + italic: ***text***
	{name: "bolditalic", re: regexp.MustCompile(`(?s)\*\*\*(.+?)\*\*\*`)},
	// Bold: **text**
	{name: "bold", re: regexp.MustCompile(`(?s)\*\*(.+?)\*\*`)},
	// Italic: *text*
	{name: "italic", re: regexp.MustCompile(`(?s)\*(.+?)\*`)},
	// Italic underscore: _text_, not mid-word
	{name: "italic", re: regexp.MustCompile(`_(.+?)_`), validate: notWordAdjacent},
	// Strikethrough: ~~text~~
	{name: "strike", re: regexp.MustCompile(`(?s)~~(.+?)~~`)},
	// Underline: ++text++
	{name: "underline", re: regexp.MustCompile(`(?s)\+\+(.+?)\+\+`)},
	// Superscript: ^text^
	{name: "sup", re: regexp.MustCompile(`\^(.+?)\^`)},
	// Subscript: ~text~ (single tilde, distinguished from strikethrough)
	{name: "sub", re: regexp.MustCompile(`~([^\s~]+)~`), validate: notTildeAdjacent},
}

// notWordAdjacent rejects _..._ matches glued to word characters, e.g. the
// underscores inside snake_case_identifiers.
func notWordAdjacent(text string, loc []int) bool {
	if loc[0] > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:loc[0]])
		if isWordRune(r) {
			return false
		}
	}
	if loc[1] < len(text) {
		r, _ := utf8.DecodeRuneInString(text[loc[1]:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func notTildeAdjacent(text string, loc []int) bool {
	if loc[0] > 0 && text[loc[0]-1] == '~' {
		return false
	}
	if loc[1] < len(text) && text[loc[1]] == '~' {
		return false
	}
	return true
}

// findValid returns the indices of the first match of p in text that passes
// validation, or nil.
func (p inlinePattern) findValid(text string) []int {
	offset := 0
	for offset <= len(text) {
		loc := p.re.FindStringSubmatchIndex(text[offset:])
		if loc == nil {
			return nil
		}
		abs := make([]int, len(loc))
		for i, v := range loc {
			if v < 0 {
				abs[i] = v
			} else {
				abs[i] = v + offset
			}
		}
		if p.validate == nil || p.validate(text, abs) {
			return abs
		}
		offset = abs[0] + 1
	}
	return nil
}

// ParseInline parses inline CCFM syntax into a flat list of ADF inline nodes,
// recursing into nested marks.
func ParseInline(text string) []*Node {
	if text == "" {
		return nil
	}

	var best []int
	bestStart := len(text)
	bestName := ""
	for _, p := range inlinePatterns {
		loc := p.findValid(text)
		if loc != nil && loc[0] < bestStart {
			best = loc
			bestStart = loc[0]
			bestName = p.name
		}
	}

	if best == nil {
		return []*Node{Text(text)}
	}

	var nodes []*Node
	if bestStart > 0 {
		nodes = append(nodes, Text(text[:bestStart]))
	}

	group := func(i int) string { return text[best[2*i]:best[2*i+1]] }
	tail := text[best[1]:]

	switch bestName {
	case "status":
		nodes = append(nodes, Status(strings.TrimSpace(group(1)), strings.TrimSpace(group(2))))
	case "date":
		nodes = append(nodes, Date(group(1)))
	case "emoji":
		nodes = append(nodes, Emoji(group(1)))
	case "pagelink":
		// Sentinel URL; the deployer swaps it for the real page URL. The link
		// text is dropped on purpose: Confluence renders the live page title.
		nodes = append(nodes, InlineCard("confluence-page://"+group(2)))
	case "link":
		inner := ParseInline(group(1))
		nodes = append(nodes, addMark(inner, Mark{Type: "link", Attrs: map[string]any{"href": group(2)}})...)
	case "code":
		nodes = append(nodes, Text(group(1), Mark{Type: "code"}))
	case "bolditalic":
		inner := ParseInline(group(1))
		addMark(inner, Mark{Type: "strong"})
		nodes = append(nodes, addMark(inner, Mark{Type: "em"})...)
	case "bold":
		nodes = append(nodes, addMark(ParseInline(group(1)), Mark{Type: "strong"})...)
	case "italic":
		nodes = append(nodes, addMark(ParseInline(group(1)), Mark{Type: "em"})...)
	case "strike":
		nodes = append(nodes, addMark(ParseInline(group(1)), Mark{Type: "strike"})...)
	case "underline":
		nodes = append(nodes, addMark(ParseInline(group(1)), Mark{Type: "underline"})...)
	case "sup":
		nodes = append(nodes, addMark(ParseInline(group(1)), Mark{Type: "subsup", Attrs: map[string]any{"type": "sup"}})...)
	case "sub":
		nodes = append(nodes, addMark(ParseInline(group(1)), Mark{Type: "subsup", Attrs: map[string]any{"type": "sub"}})...)
	}

	nodes = append(nodes, ParseInline(tail)...)
	return nodes
}

var hardBreakRe = regexp.MustCompile(`\\\n|[ ]{2,}\n`)

// ParseInlineWithBreaks parses inline text, turning trailing-backslash and
// two-trailing-space line endings into hardBreak nodes.
func ParseInlineWithBreaks(text string) []*Node {
	segments := hardBreakRe.Split(text, -1)
	if len(segments) == 1 {
		return ParseInline(text)
	}
	var nodes []*Node
	for i, seg := range segments {
		nodes = append(nodes, ParseInline(seg)...)
		if i < len(segments)-1 {
			nodes = append(nodes, HardBreak())
		}
	}
	return nodes
}

// addMark appends mark to every text node in nodes and returns nodes.
func addMark(nodes []*Node, mark Mark) []*Node {
	for _, n := range nodes {
		if n.Type == "text" {
			n.Marks = append(n.Marks, mark)
		}
	}
	return nodes
}
