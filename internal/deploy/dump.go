package deploy

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/stevesimpson418/ccfm-convert/internal/document"
)

// Dump converts every document and writes the ADF JSON next to its source as
// <file>.adf.json, without touching Confluence. Page links and attachment
// media keep their sentinel and external forms since resolution needs the
// live API. Synthesized containers with no source file are skipped.
func (o *Orchestrator) Dump(tree *document.Tree) (int, error) {
	written := 0
	for _, node := range tree.Nodes {
		if node.FilePath == "" {
			continue
		}

		body := o.convert(node)
		data, err := json.MarshalIndent(body, "", "  ")
		if err != nil {
			return written, fmt.Errorf("encoding %s: %w", node.RelPath, err)
		}

		out := node.FilePath + ".adf.json"
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return written, fmt.Errorf("writing %s: %w", out, err)
		}
		o.logger.Info("dumped document", "path", node.RelPath, "output", out)
		written++
	}
	return written, nil
}
