package document

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/stevesimpson418/ccfm-convert/internal/frontmatter"
)

// ContentFileName is the per-directory file that turns an auto-generated
// container into an authored page.
const ContentFileName = ".page_content.md"

// HierarchyErrorKind classifies resolver failures.
type HierarchyErrorKind string

const (
	// ErrCycle means the explicit-parent graph contains a cycle.
	ErrCycle HierarchyErrorKind = "cycle"
	// ErrUnresolvedParent means an explicit parent matched no known node and
	// no recorded remote page.
	ErrUnresolvedParent HierarchyErrorKind = "unresolved_parent"
)

// HierarchyError is fatal: it aborts the run before any remote call.
type HierarchyError struct {
	Kind    HierarchyErrorKind
	RelPath string
	Detail  string
}

func (e *HierarchyError) Error() string {
	return fmt.Sprintf("hierarchy error (%s) at %s: %s", e.Kind, e.RelPath, e.Detail)
}

// Options tunes resolution.
type Options struct {
	// RemoteTitles are page titles known from the deployment state. An
	// explicit parent override that matches no local node is still valid if
	// it names one of these.
	RemoteTitles map[string]bool
}

// Resolve walks docsRoot, builds document and container nodes and orders them
// so that every parent precedes its children.
func Resolve(docsRoot string, opts Options) (*Tree, error) {
	files, err := discoverMarkdown(docsRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to discover documents: %w", err)
	}
	return resolveFiles(docsRoot, files, opts)
}

// ResolveFile resolves a single document plus the container chain above it,
// for single-file deploys.
func ResolveFile(docsRoot, file string, opts Options) (*Tree, error) {
	if _, err := relPath(docsRoot, file); err != nil {
		return nil, fmt.Errorf("file is not under the docs root: %w", err)
	}
	return resolveFiles(docsRoot, []string{file}, opts)
}

// discoverMarkdown finds all markdown files under dir, skipping hidden files
// and directories. Container content files are picked up separately by the
// directory synthesis pass.
func discoverMarkdown(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if p != dir && strings.HasPrefix(info.Name(), ".") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if !info.IsDir() && strings.HasSuffix(info.Name(), ".md") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

func resolveFiles(docsRoot string, files []string, opts Options) (*Tree, error) {
	tree := &Tree{}
	nodes := make(map[string]*Node)

	// Document nodes first, so container synthesis can see which directories
	// are actually in use.
	for _, file := range files {
		rel, err := relPath(docsRoot, file)
		if err != nil {
			return nil, fmt.Errorf("file %s is not under docs root %s: %w", file, docsRoot, err)
		}

		raw, err := os.ReadFile(file)
		if err != nil {
			tree.Skipped = append(tree.Skipped, Skip{RelPath: rel, Reason: "unreadable", Err: err})
			continue
		}

		meta, body, err := frontmatter.Parse(string(raw))
		if err != nil {
			tree.Skipped = append(tree.Skipped, Skip{RelPath: rel, Reason: "front matter", Err: err})
			continue
		}
		if !meta.DeployPage {
			tree.Skipped = append(tree.Skipped, Skip{RelPath: rel, Reason: "deploy_page is false"})
			continue
		}

		title := meta.Title
		if title == "" {
			title = TitleFromFilename(file)
		}

		nodes[rel] = &Node{
			RelPath:   rel,
			FilePath:  file,
			Title:     title,
			ParentRef: path.Dir(rel),
			Meta:      meta,
			Body:      body,
		}
		if nodes[rel].ParentRef == "." {
			nodes[rel].ParentRef = ""
		}
	}

	// Synthesize a container for every directory on the path of every
	// document node.
	for _, n := range listNodes(nodes) {
		dir := n.ParentRef
		for dir != "" {
			if _, ok := nodes[dir]; !ok {
				container, err := buildContainer(docsRoot, dir)
				if err != nil {
					return nil, err
				}
				nodes[dir] = container
			}
			dir = path.Dir(dir)
			if dir == "." {
				dir = ""
			}
		}
	}

	// Apply explicit parent overrides now that every node exists. Titles are
	// indexed in RelPath order and shared titles marked, so an override that
	// names a duplicated title fails loudly instead of picking one at random.
	byTitle := make(map[string]string, len(nodes))
	dupTitle := make(map[string]bool)
	for _, n := range listNodes(nodes) {
		if _, ok := byTitle[n.Title]; ok {
			dupTitle[n.Title] = true
			continue
		}
		byTitle[n.Title] = n.RelPath
	}
	for _, n := range listNodes(nodes) {
		override := n.Meta.Parent
		if override == "" {
			continue
		}
		switch {
		case nodes[override] != nil && override != n.RelPath:
			n.ParentRef = override
		case dupTitle[override]:
			return nil, &HierarchyError{
				Kind:    ErrUnresolvedParent,
				RelPath: n.RelPath,
				Detail:  fmt.Sprintf("parent title %q matches more than one document", override),
			}
		case byTitle[override] != "" && byTitle[override] != n.RelPath:
			n.ParentRef = byTitle[override]
		case opts.RemoteTitles[override]:
			n.ParentRef = ""
			n.RemoteParent = override
		default:
			return nil, &HierarchyError{
				Kind:    ErrUnresolvedParent,
				RelPath: n.RelPath,
				Detail:  fmt.Sprintf("parent %q matches no document, container or recorded page", override),
			}
		}
	}

	ordered, err := topoSort(nodes)
	if err != nil {
		return nil, err
	}
	tree.Nodes = ordered
	return tree, nil
}

// buildContainer synthesizes the page node for a directory. A
// .page_content.md file inside the directory supplies title, metadata and
// body; otherwise a placeholder is generated.
func buildContainer(docsRoot, dir string) (*Node, error) {
	name := path.Base(dir)
	parent := path.Dir(dir)
	if parent == "." {
		parent = ""
	}

	n := &Node{
		RelPath:     dir,
		Title:       name,
		ParentRef:   parent,
		Meta:        frontmatter.Defaults(),
		IsContainer: true,
	}

	contentFile := filepath.Join(docsRoot, filepath.FromSlash(dir), ContentFileName)
	raw, err := os.ReadFile(contentFile)
	if os.IsNotExist(err) {
		n.Body = fmt.Sprintf("# %s\n\nContainer page for %s content.", name, name)
		return n, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", contentFile, err)
	}

	meta, body, err := frontmatter.Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("container %s: %w", dir, err)
	}
	n.FilePath = contentFile
	n.Meta = meta
	n.Body = body
	if meta.Title != "" {
		n.Title = meta.Title
	}
	return n, nil
}

// topoSort orders nodes parent-first using Kahn's algorithm. Ties break with
// authored documents before sibling containers, then by RelPath, so output is
// deterministic.
func topoSort(nodes map[string]*Node) ([]*Node, error) {
	children := make(map[string][]string)
	indegree := make(map[string]int, len(nodes))

	orderKey := func(rel string) string {
		if nodes[rel].IsContainer {
			return "1\x00" + rel
		}
		return "0\x00" + rel
	}
	sortByKey := func(list []string) {
		sort.Slice(list, func(i, j int) bool { return orderKey(list[i]) < orderKey(list[j]) })
	}

	for rel, n := range nodes {
		if _, ok := indegree[rel]; !ok {
			indegree[rel] = 0
		}
		if n.ParentRef == "" {
			continue
		}
		if _, ok := nodes[n.ParentRef]; !ok {
			return nil, &HierarchyError{
				Kind:    ErrUnresolvedParent,
				RelPath: rel,
				Detail:  fmt.Sprintf("parent %q is not part of this run", n.ParentRef),
			}
		}
		children[n.ParentRef] = append(children[n.ParentRef], rel)
		indegree[rel]++
	}

	var ready []string
	for rel, deg := range indegree {
		if deg == 0 {
			ready = append(ready, rel)
		}
	}
	sortByKey(ready)

	ordered := make([]*Node, 0, len(nodes))
	for len(ready) > 0 {
		rel := ready[0]
		ready = ready[1:]
		ordered = append(ordered, nodes[rel])

		next := append([]string(nil), children[rel]...)
		sortByKey(next)
		for _, child := range next {
			indegree[child]--
			if indegree[child] == 0 {
				ready = append(ready, child)
				sortByKey(ready)
			}
		}
	}

	if len(ordered) != len(nodes) {
		var stuck []string
		for rel, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, rel)
			}
		}
		sort.Strings(stuck)
		return nil, &HierarchyError{
			Kind:    ErrCycle,
			RelPath: stuck[0],
			Detail:  fmt.Sprintf("parent cycle involving %v", stuck),
		}
	}

	return ordered, nil
}

func listNodes(nodes map[string]*Node) []*Node {
	keys := make([]string, 0, len(nodes))
	for k := range nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*Node, 0, len(keys))
	for _, k := range keys {
		out = append(out, nodes[k])
	}
	return out
}

// relPath converts file to a slash-separated path relative to docsRoot.
func relPath(docsRoot, file string) (string, error) {
	rel, err := filepath.Rel(docsRoot, file)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path %s escapes %s", file, docsRoot)
	}
	return rel, nil
}

// TitleFromFilename derives a page title from a file name: the stem with
// dashes replaced by spaces, title-cased ("api-guide.md" becomes "Api Guide").
func TitleFromFilename(file string) string {
	stem := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	words := strings.Split(strings.ReplaceAll(stem, "-", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
