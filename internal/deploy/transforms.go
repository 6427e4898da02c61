package deploy

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/stevesimpson418/ccfm-convert/internal/adf"
	"github.com/stevesimpson418/ccfm-convert/internal/frontmatter"
)

// defaultBannerText is shown on every deployed page unless the document
// overrides or disables the banner.
const defaultBannerText = "⚠️ This page is automatically generated and deployed. Manual edits may be overwritten."

// pageLinkScheme is the sentinel the converter emits for internal page
// links; ResolvePageLinks swaps it for real page URLs.
const pageLinkScheme = "confluence-page://"

// AddCIBanner prepends the CI info panel to a converted document and, when
// the document asks for it, a collapsible metadata block underneath.
func AddCIBanner(doc *adf.Node, gitURL, bannerText string, meta frontmatter.Metadata, now time.Time) {
	if bannerText == "" {
		bannerText = defaultBannerText
	}

	content := []*adf.Node{adf.Text(bannerText)}
	if gitURL != "" {
		content = append(content,
			adf.Text(" View source: "),
			adf.Text("source", adf.Mark{Type: "link", Attrs: map[string]any{"href": gitURL}}),
		)
	}

	prefix := []*adf.Node{adf.Panel("info", []*adf.Node{adf.Paragraph(content)})}
	if meta.IncludePageMetadata {
		prefix = append(prefix, MetadataExpand(meta, gitURL, now))
	}
	doc.Content = append(prefix, doc.Content...)
}

// MetadataExpand builds the "Page Metadata" expand block.
func MetadataExpand(meta frontmatter.Metadata, gitURL string, now time.Time) *adf.Node {
	author := meta.Author
	if author == "" {
		author = "Not specified"
	}

	lines := []string{
		fmt.Sprintf("**Author:** %s", author),
		fmt.Sprintf("**Last Updated:** %s", now.UTC().Format("2006-01-02 15:04 UTC")),
	}
	if len(meta.Labels) > 0 {
		lines = append(lines, fmt.Sprintf("**Labels:** %s", strings.Join(meta.Labels, ", ")))
	}
	if gitURL != "" {
		lines = append(lines, fmt.Sprintf("**Source:** [%s](%s)", gitURL, gitURL))
	}
	lines = append(lines, fmt.Sprintf("**Status:** %s", meta.PageStatus))

	// Two trailing spaces force a hard break between lines.
	text := strings.Join(lines, "  \n")
	return adf.Expand("📋 Page Metadata", []*adf.Node{adf.Paragraph(adf.ParseInlineWithBreaks(text))})
}

// ResolvePageLinks rewrites confluence-page:// sentinel URLs to live page
// URLs using lookup. Titles that resolve to nothing are returned so the
// caller can warn about them; the sentinel is left in place.
func ResolvePageLinks(doc *adf.Node, lookup func(title string) (string, error)) ([]string, error) {
	var unresolved []string
	var lookupErr error

	doc.Walk(func(n *adf.Node) {
		if lookupErr != nil || n.Type != "inlineCard" {
			return
		}
		rawURL, _ := n.Attrs["url"].(string)
		if !strings.HasPrefix(rawURL, pageLinkScheme) {
			return
		}
		title := strings.TrimPrefix(rawURL, pageLinkScheme)

		resolved, err := lookup(title)
		if err != nil {
			lookupErr = err
			return
		}
		if resolved == "" {
			unresolved = append(unresolved, title)
			return
		}
		n.Attrs["url"] = resolved
	})

	return unresolved, lookupErr
}

// MediaRef ties an uploaded attachment to the identifiers an ADF media node
// needs.
type MediaRef struct {
	AttachmentID string
	FileID       string
	Width        string // display width override, "" keeps the authored value
}

// ResolveAttachmentMedia converts external-URL media nodes into attachment
// references, once the files have been uploaded and their Media Services
// fileIds are known. refs is keyed by attachment filename.
func ResolveAttachmentMedia(doc *adf.Node, refs map[string]MediaRef, pageID string) {
	collection := "contentId-" + pageID

	doc.Walk(func(n *adf.Node) {
		if n.Type != "mediaSingle" {
			return
		}
		for _, media := range n.Content {
			if media.Type != "media" {
				continue
			}
			rawURL, _ := media.Attrs["url"].(string)
			ref, ok := refs[path.Base(rawURL)]
			if !ok {
				continue
			}

			alt, _ := media.Attrs["alt"].(string)
			media.Attrs = map[string]any{
				"type":       "file",
				"id":         ref.FileID,
				"collection": collection,
			}
			if alt != "" {
				media.Attrs["alt"] = alt
			}

			if ref.Width != "" {
				layout, px, widthType := adf.ResolveImageWidth(ref.Width)
				n.Attrs["layout"] = layout
				if px > 0 {
					n.Attrs["width"] = px
					n.Attrs["widthType"] = widthType
				} else {
					// wide and full-width layouts ignore width attrs
					delete(n.Attrs, "width")
					delete(n.Attrs, "widthType")
				}
			}
		}
	})
}
