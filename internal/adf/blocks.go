package adf

import (
	"regexp"
	"strconv"
	"strings"
)

var panelTypes = map[string]bool{
	"info":    true,
	"note":    true,
	"warning": true,
	"success": true,
	"error":   true,
}

var (
	panelHeaderRe  = regexp.MustCompile(`^\[!(\w+)\]$`)
	expandHeaderRe = regexp.MustCompile(`(?i)^\[!expand\s+(.+)\]$`)
	fenceRe        = regexp.MustCompile("^(`{3,})([\\w+\\-]*)$")
	taskItemRe     = regexp.MustCompile(`^( *)([-*+])\s+\[([ xX])\]\s+(.*)`)
	listItemRe     = regexp.MustCompile(`^( *)([-*+]|\d+\.)\s+(.*)`)
	orderedStartRe = regexp.MustCompile(`^ *(\d+)\.`)
)

// parseBlockquoteBlock classifies lines already stripped of their "> " prefix
// as a panel ([!info]...), an expand ([!expand Title]) or a plain blockquote.
func parseBlockquoteBlock(quoteLines []string) *Node {
	if len(quoteLines) == 0 {
		return Blockquote([]*Node{Paragraph(nil)})
	}

	first := strings.TrimSpace(quoteLines[0])

	if m := panelHeaderRe.FindStringSubmatch(first); m != nil {
		ptype := strings.ToLower(m[1])
		if panelTypes[ptype] {
			return Panel(ptype, parseBlockContent(quoteLines[1:]))
		}
	}

	if m := expandHeaderRe.FindStringSubmatch(first); m != nil {
		return Expand(strings.TrimSpace(m[1]), parseBlockContent(quoteLines[1:]))
	}

	return Blockquote(parseBlockContent(quoteLines))
}

// parseBlockContent converts lines into block nodes, handling paragraphs and
// fenced code blocks. Used for the bodies of panels, expands and blockquotes.
func parseBlockContent(lines []string) []*Node {
	var nodes []*Node
	i := 0

	for i < len(lines) {
		line := lines[i]

		if strings.TrimSpace(line) == "" {
			i++
			continue
		}

		if m := fenceRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			fence, language := m[1], strings.TrimSpace(m[2])
			var codeLines []string
			i++
			for i < len(lines) && !strings.HasPrefix(strings.TrimSpace(lines[i]), fence) {
				codeLines = append(codeLines, lines[i])
				i++
			}
			i++ // closing fence
			nodes = append(nodes, CodeBlock(strings.Join(codeLines, "\n"), language))
			continue
		}

		var paraLines []string
		for i < len(lines) {
			line = lines[i]
			if strings.TrimSpace(line) == "" || strings.HasPrefix(strings.TrimSpace(line), "```") {
				break
			}
			paraLines = append(paraLines, line)
			i++
		}
		if len(paraLines) > 0 {
			nodes = append(nodes, Paragraph(ParseInlineWithBreaks(strings.Join(paraLines, "\n"))))
		}
	}

	if len(nodes) == 0 {
		return []*Node{Paragraph(nil)}
	}
	return nodes
}

// parseTable converts GFM pipe-table lines (header, separator, data rows)
// into an ADF table, applying column alignment from the separator row.
func parseTable(lines []string) *Node {
	splitRow := func(line string) []string {
		trimmed := strings.Trim(strings.TrimSpace(line), "|")
		parts := strings.Split(trimmed, "|")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}

	// The ADF schema only knows "center" and "end"; left is the default.
	getAlign := func(sep string) string {
		s := strings.TrimSpace(sep)
		left := strings.HasPrefix(s, ":")
		right := strings.HasSuffix(s, ":")
		switch {
		case left && right:
			return "center"
		case right:
			return "end"
		default:
			return ""
		}
	}

	headerCells := splitRow(lines[0])
	sepCells := splitRow(lines[1])
	alignments := make([]string, len(sepCells))
	for i, s := range sepCells {
		alignments[i] = getAlign(s)
	}

	alignFor := func(i int) string {
		if i < len(alignments) {
			return alignments[i]
		}
		return ""
	}

	var rows []*Node

	headerRow := make([]*Node, 0, len(headerCells))
	for i, cell := range headerCells {
		para := ParagraphAligned(ParseInline(cell), alignFor(i))
		headerRow = append(headerRow, TableHeader([]*Node{para}))
	}
	rows = append(rows, TableRow(headerRow))

	for _, line := range lines[2:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		cells := splitRow(line)
		dataRow := make([]*Node, 0, len(cells))
		for i, cell := range cells {
			para := ParagraphAligned(ParseInline(cell), alignFor(i))
			dataRow = append(dataRow, TableCell([]*Node{para}))
		}
		rows = append(rows, TableRow(dataRow))
	}

	return Table(rows)
}

// listLine describes one markdown list item line.
type listLine struct {
	indent    int
	kind      string // "ordered", "unordered" or "task"
	taskState string // "TODO" or "DONE" for task items
	text      string
}

// listLineInfo returns the parsed list item, or nil if the line is not one.
func listLineInfo(line string) *listLine {
	if m := taskItemRe.FindStringSubmatch(line); m != nil {
		state := "TODO"
		if strings.EqualFold(m[3], "x") {
			state = "DONE"
		}
		return &listLine{indent: len(m[1]), kind: "task", taskState: state, text: m[4]}
	}
	if m := listItemRe.FindStringSubmatch(line); m != nil {
		kind := "unordered"
		if m[2] != "-" && m[2] != "*" && m[2] != "+" {
			kind = "ordered"
		}
		return &listLine{indent: len(m[1]), kind: kind, text: m[3]}
	}
	return nil
}

// buildList recursively builds a list node from consecutive list item lines.
// Returns the node and the number of lines consumed.
func buildList(lines []string, baseIndent int) (*Node, int) {
	var items []*Node
	listKind := ""
	startNumber := 1
	i := 0

	for i < len(lines) {
		info := listLineInfo(lines[i])
		if info == nil {
			break
		}
		if info.indent < baseIndent {
			break
		}
		if info.indent > baseIndent {
			// deeper line not consumed by a parent item; should not happen
			i++
			continue
		}

		if listKind == "" {
			listKind = info.kind
			if info.kind == "ordered" {
				if m := orderedStartRe.FindStringSubmatch(lines[i]); m != nil {
					if n, err := strconv.Atoi(m[1]); err == nil {
						startNumber = n
					}
				}
			}
		}

		i++
		var childLines []string
		for i < len(lines) {
			childInfo := listLineInfo(lines[i])
			if childInfo == nil || childInfo.indent <= info.indent {
				break
			}
			childLines = append(childLines, lines[i])
			i++
		}

		if listKind == "task" {
			// taskItem holds inline nodes directly; nested content under a
			// task item has no ADF representation and is dropped.
			items = append(items, TaskItem(info.taskState, ParseInlineWithBreaks(info.text)))
			continue
		}

		itemContent := []*Node{Paragraph(ParseInlineWithBreaks(info.text))}
		if len(childLines) > 0 {
			childIndent := len(childLines[0]) - len(strings.TrimLeft(childLines[0], " "))
			childNode, _ := buildList(childLines, childIndent)
			itemContent = append(itemContent, childNode)
		}
		items = append(items, ListItem(itemContent))
	}

	if len(items) == 0 {
		return BulletList(nil), 0
	}

	switch listKind {
	case "task":
		return TaskList(items), i
	case "ordered":
		return OrderedList(items, startNumber), i
	default:
		return BulletList(items), i
	}
}
