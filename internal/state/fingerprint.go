package state

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/stevesimpson418/ccfm-convert/internal/document"
)

// Fingerprint computes the content fingerprint for a resolved document: a
// sha256 over the canonicalized body plus the structurally relevant metadata
// (title, sorted labels, ordered attachment identities and alt text).
// Front-matter fields outside that set (banner settings, page status, deploy
// toggles) deliberately do not participate, so editing them does not force a
// redeploy.
//
// The digest is prefixed with "sha256:" for algorithm agility.
func Fingerprint(n *document.Node) string {
	h := sha256.New()

	write := func(field, value string) {
		h.Write([]byte(field))
		h.Write([]byte{0x1f})
		h.Write([]byte(value))
		h.Write([]byte{0x1e})
	}

	write("title", n.Title)

	labels := append([]string(nil), n.Meta.Labels...)
	sort.Strings(labels)
	write("labels", strings.Join(labels, "\x1f"))

	var atts []string
	for _, a := range n.Meta.Attachments {
		atts = append(atts, a.Path+"\x1f"+a.Alt+"\x1f"+a.Width)
	}
	write("attachments", strings.Join(atts, "\x1e"))

	write("body", canonicalBody(n.Body))

	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

// canonicalBody normalizes line endings, strips trailing whitespace from each
// line and drops trailing blank lines, so formatting-only edits that cannot
// affect the rendered page do not perturb the fingerprint.
func canonicalBody(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	lines := strings.Split(body, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t")
	}
	out := strings.Join(lines, "\n")
	return strings.TrimRight(out, "\n")
}
