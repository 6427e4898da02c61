// Package frontmatter parses the YAML front matter block of CCFM documents.
//
// Front matter is split into two namespaces:
//
//	page_meta:
//	  title: My Page
//	  author: John Smith
//	  labels: [tag1, tag2]
//	  attachments:
//	    - diagram.png
//	    - {path: screen.png, alt: "Login screen", width: 500}
//	  parent: Getting Started
//	deploy_config:
//	  ci_banner: true
//	  ci_banner_text: "..."
//	  include_page_metadata: false
//	  page_status: current
//	  deploy_page: true
//
// Unknown keys inside either namespace are rejected so typos fail loudly
// instead of silently deploying with defaults. Top-level namespaces other
// than these two are ignored, so documents can carry front matter for other
// tools.
package frontmatter

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Error reports malformed front matter for a single document. The document is
// skipped; the rest of the run proceeds.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("malformed front matter: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Attachment declares one file to upload alongside a page. In YAML it is
// either a bare path string or a mapping with path, alt and width keys.
type Attachment struct {
	Path  string
	Alt   string
	Width string
}

// UnmarshalYAML accepts both the scalar and the mapping form.
func (a *Attachment) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		a.Path = value.Value
		return nil
	}

	var m struct {
		Path  string    `yaml:"path"`
		Alt   string    `yaml:"alt"`
		Width yaml.Node `yaml:"width"`
	}
	if err := value.Decode(&m); err != nil {
		return err
	}
	a.Path = m.Path
	a.Alt = m.Alt
	a.Width = scalarString(m.Width)
	return nil
}

// scalarString renders a YAML scalar as its string form, so width can be
// written as either 500 or "500".
func scalarString(n yaml.Node) string {
	if n.Kind != yaml.ScalarNode {
		return ""
	}
	if v, err := strconv.Atoi(n.Value); err == nil {
		return strconv.Itoa(v)
	}
	return n.Value
}

// Metadata is the normalized, defaulted view of a document's front matter.
type Metadata struct {
	Title       string
	Author      string
	Labels      []string
	Attachments []Attachment
	Parent      string

	CIBanner            bool
	CIBannerText        string
	IncludePageMetadata bool
	PageStatus          string
	DeployPage          bool
}

// Defaults returns the metadata applied to documents with no front matter.
func Defaults() Metadata {
	return Metadata{
		CIBanner:   true,
		PageStatus: "current",
		DeployPage: true,
	}
}

type rawPageMeta struct {
	Title       string       `yaml:"title"`
	Author      string       `yaml:"author"`
	Labels      []string     `yaml:"labels"`
	Attachments []Attachment `yaml:"attachments"`
	Parent      string       `yaml:"parent"`
}

type rawDeployConfig struct {
	CIBanner            *bool  `yaml:"ci_banner"`
	CIBannerText        string `yaml:"ci_banner_text"`
	IncludePageMetadata bool   `yaml:"include_page_metadata"`
	PageStatus          string `yaml:"page_status"`
	DeployPage          *bool  `yaml:"deploy_page"`
}

// decodeStrict decodes a single namespace node, rejecting unknown keys.
// yaml.Node.Decode has no KnownFields knob, so the node is re-rendered and
// run through a strict decoder.
func decodeStrict(n yaml.Node, out any) error {
	raw, err := yaml.Marshal(&n)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

const delimiter = "---"

// Parse extracts front matter and body from a raw document. A document
// without a front matter block yields Defaults() and the unchanged content.
// Malformed YAML or unknown keys yield an *Error.
func Parse(content string) (Metadata, string, error) {
	meta := Defaults()

	if !strings.HasPrefix(content, delimiter) {
		return meta, content, nil
	}

	parts := strings.SplitN(content, delimiter, 3)
	if len(parts) < 3 {
		return meta, content, nil
	}

	var top map[string]yaml.Node
	if err := yaml.Unmarshal([]byte(parts[1]), &top); err != nil {
		return Defaults(), content, &Error{Err: err}
	}

	var pm rawPageMeta
	if n, ok := top["page_meta"]; ok {
		if err := decodeStrict(n, &pm); err != nil {
			return Defaults(), content, &Error{Err: err}
		}
	}
	var dc rawDeployConfig
	if n, ok := top["deploy_config"]; ok {
		if err := decodeStrict(n, &dc); err != nil {
			return Defaults(), content, &Error{Err: err}
		}
	}

	meta.Title = pm.Title
	meta.Author = pm.Author
	meta.Labels = pm.Labels
	meta.Attachments = pm.Attachments
	meta.Parent = pm.Parent

	if dc.CIBanner != nil {
		meta.CIBanner = *dc.CIBanner
	}
	meta.CIBannerText = dc.CIBannerText
	meta.IncludePageMetadata = dc.IncludePageMetadata
	if dc.PageStatus != "" {
		meta.PageStatus = dc.PageStatus
	}
	if dc.DeployPage != nil {
		meta.DeployPage = *dc.DeployPage
	}

	// Only "current" and "draft" are valid page states; anything else falls
	// back to "current".
	if meta.PageStatus != "current" && meta.PageStatus != "draft" {
		meta.PageStatus = "current"
	}

	return meta, strings.TrimSpace(parts[2]), nil
}
