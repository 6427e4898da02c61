// Package adf builds Atlassian Document Format trees from CCFM markdown.
package adf

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Node is a single ADF node. The same shape covers the document root, block
// nodes and inline nodes; unused fields are omitted from the JSON encoding.
type Node struct {
	Version int            `json:"version,omitempty"`
	Type    string         `json:"type"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Marks   []Mark         `json:"marks,omitempty"`
	Content []*Node        `json:"content,omitempty"`
	Text    string         `json:"text,omitempty"`
}

// Mark annotates a node with formatting (strong, em, link, ...).
type Mark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// Walk visits n and every node below it in document order.
func (n *Node) Walk(fn func(*Node)) {
	if n == nil {
		return
	}
	fn(n)
	for _, child := range n.Content {
		child.Walk(fn)
	}
}

// NarrowPageWidthPx is the safe maximum pixel width for images on the default
// (narrow) Confluence page layout. Wider images overflow the content area.
const NarrowPageWidthPx = 760

// ResolveImageWidth maps a width specifier to (layout, pixelWidth, widthType).
// Recognized specifiers: "" or "narrow" (default 760px centered), "wide",
// "max" (full-width) or a pixel count. pixelWidth is 0 for the wide and
// full-width layouts, which ignore width attributes.
func ResolveImageWidth(width string) (layout string, pixelWidth int, widthType string) {
	switch width {
	case "", "narrow":
		return "center", NarrowPageWidthPx, "pixel"
	case "wide":
		return "wide", 0, ""
	case "max":
		return "full-width", 0, ""
	}
	if px, err := strconv.Atoi(width); err == nil && px > 0 {
		return "center", px, "pixel"
	}
	return "center", NarrowPageWidthPx, "pixel"
}

// Doc returns the root document node.
func Doc(content []*Node) *Node {
	return &Node{Version: 1, Type: "doc", Content: content}
}

func Heading(level int, content []*Node) *Node {
	return &Node{Type: "heading", Attrs: map[string]any{"level": level}, Content: content}
}

func Paragraph(content []*Node) *Node {
	return &Node{Type: "paragraph", Content: content}
}

// ParagraphAligned returns a paragraph carrying an alignment mark. The ADF
// schema only knows "center" and "end"; left alignment is the unmarked default.
func ParagraphAligned(content []*Node, align string) *Node {
	if align == "" {
		return Paragraph(content)
	}
	return &Node{
		Type:    "paragraph",
		Marks:   []Mark{{Type: "alignment", Attrs: map[string]any{"align": align}}},
		Content: content,
	}
}

func Rule() *Node {
	return &Node{Type: "rule"}
}

func CodeBlock(code, language string) *Node {
	n := &Node{Type: "codeBlock", Content: []*Node{{Type: "text", Text: code}}}
	if language != "" {
		n.Attrs = map[string]any{"language": language}
	}
	return n
}

func Blockquote(content []*Node) *Node {
	return &Node{Type: "blockquote", Content: content}
}

// Panel wraps content in an ADF panel. panelType is one of info, note,
// warning, success or error.
func Panel(panelType string, content []*Node) *Node {
	return &Node{Type: "panel", Attrs: map[string]any{"panelType": panelType}, Content: content}
}

func Expand(title string, content []*Node) *Node {
	return &Node{Type: "expand", Attrs: map[string]any{"title": title}, Content: content}
}

func BulletList(items []*Node) *Node {
	return &Node{Type: "bulletList", Content: items}
}

func OrderedList(items []*Node, order int) *Node {
	return &Node{Type: "orderedList", Attrs: map[string]any{"order": order}, Content: items}
}

func TaskList(items []*Node) *Node {
	return &Node{Type: "taskList", Attrs: map[string]any{"localId": uuid.NewString()}, Content: items}
}

// TaskItem holds inline content directly, unlike ListItem which wraps blocks.
// state is "TODO" or "DONE".
func TaskItem(state string, content []*Node) *Node {
	return &Node{
		Type:    "taskItem",
		Attrs:   map[string]any{"localId": uuid.NewString(), "state": state},
		Content: content,
	}
}

func ListItem(content []*Node) *Node {
	return &Node{Type: "listItem", Content: content}
}

func Table(rows []*Node) *Node {
	return &Node{
		Type:    "table",
		Attrs:   map[string]any{"isNumberColumnEnabled": false, "layout": "default"},
		Content: rows,
	}
}

func TableRow(cells []*Node) *Node {
	return &Node{Type: "tableRow", Content: cells}
}

func TableHeader(content []*Node) *Node {
	return &Node{Type: "tableHeader", Content: content}
}

func TableCell(content []*Node) *Node {
	return &Node{Type: "tableCell", Content: content}
}

func Text(text string, marks ...Mark) *Node {
	n := &Node{Type: "text", Text: text}
	if len(marks) > 0 {
		n.Marks = marks
	}
	return n
}

func HardBreak() *Node {
	return &Node{Type: "hardBreak"}
}

// InlineCard renders as a smart link card. Internal page links use the
// confluence-page:// sentinel scheme until the deployer resolves them against
// the target space.
func InlineCard(url string) *Node {
	return &Node{Type: "inlineCard", Attrs: map[string]any{"url": url}}
}

// MediaSingleExternal returns an image block referencing an external URL.
func MediaSingleExternal(url, alt, width string) *Node {
	attrs := map[string]any{"type": "external", "url": url}
	if alt != "" {
		attrs["alt"] = alt
	}
	return mediaSingle(attrs, width)
}

// MediaSingleFile returns an image block referencing an uploaded attachment.
// collection is the Confluence attachment collection, "contentId-{pageID}".
func MediaSingleFile(fileID, collection, alt, width string) *Node {
	attrs := map[string]any{"type": "file", "id": fileID, "collection": collection}
	if alt != "" {
		attrs["alt"] = alt
	}
	return mediaSingle(attrs, width)
}

func mediaSingle(mediaAttrs map[string]any, width string) *Node {
	layout, px, widthType := ResolveImageWidth(width)
	attrs := map[string]any{"layout": layout}
	if px > 0 {
		attrs["width"] = px
		attrs["widthType"] = widthType
	}
	return &Node{
		Type:    "mediaSingle",
		Attrs:   attrs,
		Content: []*Node{{Type: "media", Attrs: mediaAttrs}},
	}
}

func Emoji(shortName string) *Node {
	name := ":" + strings.Trim(shortName, ":") + ":"
	return &Node{Type: "emoji", Attrs: map[string]any{"shortName": name, "text": name}}
}

// Status returns a status lozenge. ADF wants the color uppercased.
func Status(text, color string) *Node {
	return &Node{
		Type: "status",
		Attrs: map[string]any{
			"text":    text,
			"color":   strings.ToUpper(color),
			"localId": uuid.NewString(),
			"style":   "",
		},
	}
}

// Date returns a date node from a YYYY-MM-DD string. ADF stores the value as
// a millisecond UTC timestamp; unparseable input becomes timestamp "0".
func Date(dateStr string) *Node {
	ts := "0"
	if t, err := time.ParseInLocation("2006-01-02", dateStr, time.UTC); err == nil {
		ts = strconv.FormatInt(t.UnixMilli(), 10)
	}
	return &Node{Type: "date", Attrs: map[string]any{"timestamp": ts}}
}
