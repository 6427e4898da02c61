// Package document discovers markdown sources and resolves them into a
// parent-ordered page tree.
package document

import (
	"strings"

	"github.com/stevesimpson418/ccfm-convert/internal/frontmatter"
)

// Node is one authored unit: a markdown file or a synthesized directory
// container. Nodes are built once per run and not mutated afterwards.
type Node struct {
	// RelPath is the node's unique key within the docs root, slash-separated.
	// Files keep their extension ("team/index.md"); containers use the bare
	// directory path ("team").
	RelPath string

	// FilePath is the on-disk path the node was read from. Synthesized
	// containers without a .page_content.md have none.
	FilePath string

	Title string

	// ParentRef is the RelPath of the resolved parent node, or "" for roots.
	ParentRef string

	// RemoteParent holds an explicit parent override that matched no local
	// node but is known from the deployment state; the orchestrator resolves
	// it against the live space.
	RemoteParent string

	Meta frontmatter.Metadata

	// Body is the markdown source with front matter stripped.
	Body string

	// IsContainer marks directory placeholder pages.
	IsContainer bool
}

// Labels returns the node's labels including the derived author label.
func (n *Node) Labels() []string {
	labels := append([]string(nil), n.Meta.Labels...)
	if n.Meta.Author != "" {
		labels = append(labels, authorLabel(n.Meta.Author))
	}
	return labels
}

// authorLabel converts "John Smith" to "author-john-smith".
func authorLabel(author string) string {
	return "author-" + strings.ReplaceAll(strings.ToLower(author), " ", "-")
}

// Skip records a discovered document that produced no node, either because
// its front matter opted out of deployment or because it failed to parse.
type Skip struct {
	RelPath string
	Reason  string
	Err     error
}

// Tree is the resolver output: nodes in topological order (every node after
// its parent, siblings ordered by path) plus per-document skips.
type Tree struct {
	Nodes   []*Node
	Skipped []Skip
}

// ByPath returns the node with the given RelPath, or nil.
func (t *Tree) ByPath(relPath string) *Node {
	for _, n := range t.Nodes {
		if n.RelPath == relPath {
			return n
		}
	}
	return nil
}
