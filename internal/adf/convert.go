package adf

import (
	"regexp"
	"strings"
)

var (
	htmlCommentRe = regexp.MustCompile(`(?s)<!--.*?-->`)
	headingRe     = regexp.MustCompile(`^(#{1,6})\s+(.*)`)
	ruleRe        = regexp.MustCompile(`^(\-{3,}|\*{3,}|_{3,})\s*$`)
	imageRe       = regexp.MustCompile(`^!\[([^\]]*)\]\(([^)]+)\)(?:\{width=([^}]+)\})?\s*$`)
	tableSepRe    = regexp.MustCompile(`^\|?[\s\-:|]+\|`)
)

// Convert turns a CCFM markdown body into an ADF document. Front matter must
// already be stripped by the caller. Convert never fails: unrecognized input
// degrades to paragraphs.
func Convert(markdown string) *Node {
	// Strip HTML comments (e.g. markdownlint directives)
	markdown = htmlCommentRe.ReplaceAllString(markdown, "")

	lines := strings.Split(markdown, "\n")
	var content []*Node
	i := 0

	for i < len(lines) {
		line := lines[i]

		if strings.TrimSpace(line) == "" {
			i++
			continue
		}

		// Fenced code block
		if m := fenceRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			fence, language := m[1], strings.TrimSpace(m[2])
			var codeLines []string
			i++
			for i < len(lines) && !strings.HasPrefix(strings.TrimSpace(lines[i]), fence) {
				codeLines = append(codeLines, lines[i])
				i++
			}
			i++ // closing fence
			content = append(content, CodeBlock(strings.Join(codeLines, "\n"), language))
			continue
		}

		// Heading
		if m := headingRe.FindStringSubmatch(line); m != nil {
			content = append(content, Heading(len(m[1]), ParseInline(strings.TrimSpace(m[2]))))
			i++
			continue
		}

		// Horizontal rule
		if ruleRe.MatchString(strings.TrimSpace(line)) {
			content = append(content, Rule())
			i++
			continue
		}

		// Standalone image, optionally with {width=...}
		if m := imageRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			alt, url, width := m[1], strings.TrimSpace(m[2]), m[3]
			url = stripQuotes(url)
			content = append(content, MediaSingleExternal(url, alt, width))
			i++
			continue
		}

		// Table: pipe in current line and a separator row underneath
		if strings.Contains(line, "|") {
			next := ""
			if i+1 < len(lines) {
				next = lines[i+1]
			}
			if tableSepRe.MatchString(next) {
				var tableLines []string
				for i < len(lines) && strings.Contains(lines[i], "|") {
					tableLines = append(tableLines, lines[i])
					i++
				}
				if len(tableLines) >= 2 {
					content = append(content, parseTable(tableLines))
				}
				continue
			}
		}

		// Blockquote / panel / expand
		if strings.HasPrefix(line, ">") {
			var quoteLines []string
			for i < len(lines) && strings.HasPrefix(lines[i], ">") {
				if strings.HasPrefix(lines[i], "> ") {
					quoteLines = append(quoteLines, lines[i][2:])
				} else {
					// bare ">" is a blank line inside the block
					quoteLines = append(quoteLines, "")
				}
				i++
			}
			for len(quoteLines) > 0 && strings.TrimSpace(quoteLines[len(quoteLines)-1]) == "" {
				quoteLines = quoteLines[:len(quoteLines)-1]
			}
			content = append(content, parseBlockquoteBlock(quoteLines))
			continue
		}

		// Lists
		if listLineInfo(line) != nil {
			var listLines []string
			for i < len(lines) {
				if listLineInfo(lines[i]) != nil {
					listLines = append(listLines, lines[i])
					i++
				} else if len(listLines) > 0 && strings.HasPrefix(lines[i], "  ") {
					// continuation indent
					listLines = append(listLines, lines[i])
					i++
				} else {
					break
				}
			}
			node, _ := buildList(listLines, 0)
			content = append(content, node)
			continue
		}

		// Paragraph: consecutive non-block lines
		var paraLines []string
		for i < len(lines) {
			line = lines[i]
			if isParagraphBreak(line, lines, i) {
				break
			}
			paraLines = append(paraLines, line)
			i++
		}
		if len(paraLines) > 0 {
			inline := ParseInlineWithBreaks(strings.Join(paraLines, "\n"))
			if len(inline) > 0 {
				content = append(content, Paragraph(inline))
			}
		}
	}

	return Doc(content)
}

func isParagraphBreak(line string, lines []string, i int) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return true
	}
	if headingRe.MatchString(line) {
		return true
	}
	if strings.HasPrefix(line, ">") {
		return true
	}
	if strings.HasPrefix(trimmed, "```") {
		return true
	}
	if ruleRe.MatchString(trimmed) {
		return true
	}
	if listLineInfo(line) != nil {
		return true
	}
	if strings.Contains(line, "|") && i+1 < len(lines) && tableSepRe.MatchString(lines[i+1]) {
		return true
	}
	return false
}

func stripQuotes(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}
