// Package plan computes the diff between the desired document tree and the
// recorded deployment state.
package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stevesimpson418/ccfm-convert/internal/document"
	"github.com/stevesimpson418/ccfm-convert/internal/state"
)

// ActionType tags a planned operation.
type ActionType string

const (
	Create  ActionType = "CREATE"
	Update  ActionType = "UPDATE"
	Skip    ActionType = "SKIP"
	Archive ActionType = "ARCHIVE"
)

// Action is one planned operation for a single page.
type Action struct {
	Type    ActionType
	RelPath string
	Title   string

	// PageID is the recorded remote page id (UPDATE, SKIP and ARCHIVE).
	PageID string

	// Fingerprint is the desired content fingerprint (CREATE, UPDATE, SKIP).
	Fingerprint string

	// StoredFingerprint is the previously deployed fingerprint, if any.
	StoredFingerprint string

	Container bool
}

// Options tunes plan computation.
type Options struct {
	// ChangedOnly emits SKIP instead of UPDATE when the fingerprint is
	// unchanged.
	ChangedOnly bool
	// ArchiveOrphans emits ARCHIVE actions for recorded pages whose source no
	// longer exists. When false, orphans are listed on the Plan but produce
	// no action.
	ArchiveOrphans bool
	// Force emits UPDATE regardless of fingerprints.
	Force bool
}

// Plan is the ordered, side-effect-free set of operations the next deploy
// would perform. Page actions keep the resolver's parent-first order;
// ARCHIVE actions come last, children before parents.
type Plan struct {
	Actions []Action

	// Orphans lists recorded paths with no on-disk source when archiving is
	// disabled (informational only).
	Orphans []string
}

// HasPendingChanges reports whether any CREATE, UPDATE or ARCHIVE action
// exists. The CLI maps this to the process exit code for CI gating.
func (p *Plan) HasPendingChanges() bool {
	for _, a := range p.Actions {
		if a.Type != Skip {
			return true
		}
	}
	return false
}

// Compute classifies every desired node against the state snapshot. nodes
// must be in resolver order (parents first); the plan preserves that order.
// Compute is pure: identical inputs produce an identical Plan and summary.
func Compute(nodes []*document.Node, snapshot map[string]state.Record, opts Options) *Plan {
	p := &Plan{}
	desired := make(map[string]bool, len(nodes))

	for _, n := range nodes {
		desired[n.RelPath] = true
		fp := state.Fingerprint(n)

		rec, exists := snapshot[n.RelPath]
		switch {
		case !exists:
			p.Actions = append(p.Actions, Action{
				Type:        Create,
				RelPath:     n.RelPath,
				Title:       n.Title,
				Fingerprint: fp,
				Container:   n.IsContainer,
			})
		case opts.Force || rec.Fingerprint != fp || !opts.ChangedOnly:
			p.Actions = append(p.Actions, Action{
				Type:              Update,
				RelPath:           n.RelPath,
				Title:             n.Title,
				PageID:            rec.PageID,
				Fingerprint:       fp,
				StoredFingerprint: rec.Fingerprint,
				Container:         n.IsContainer,
			})
		default:
			p.Actions = append(p.Actions, Action{
				Type:              Skip,
				RelPath:           n.RelPath,
				Title:             n.Title,
				PageID:            rec.PageID,
				Fingerprint:       fp,
				StoredFingerprint: rec.Fingerprint,
				Container:         n.IsContainer,
			})
		}
	}

	// Orphans: recorded but no longer on disk. Sorted descending so that
	// when a whole subtree is removed, children are archived before the
	// parent page that still anchors them.
	var orphans []string
	for relPath := range snapshot {
		if !desired[relPath] {
			orphans = append(orphans, relPath)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(orphans)))

	for _, relPath := range orphans {
		if !opts.ArchiveOrphans {
			p.Orphans = append(p.Orphans, relPath)
			continue
		}
		rec := snapshot[relPath]
		p.Actions = append(p.Actions, Action{
			Type:    Archive,
			RelPath: relPath,
			Title:   rec.Title,
			PageID:  rec.PageID,
		})
	}

	return p
}

var actionSymbols = map[ActionType]string{
	Create:  "+",
	Update:  "~",
	Skip:    "·",
	Archive: "-",
}

// Summary renders the terraform-style plan listing. The output is
// byte-identical for identical plans.
func (p *Plan) Summary() string {
	var b strings.Builder

	b.WriteString("\nCCFM Deploy Plan\n")
	b.WriteString(strings.Repeat("═", 60))
	b.WriteString("\n\n")

	if len(p.Actions) == 0 && len(p.Orphans) == 0 {
		b.WriteString("  No files found to deploy.\n\n")
		return b.String()
	}

	var creates, updates, skips, archives int
	for _, a := range p.Actions {
		switch a.Type {
		case Create:
			creates++
		case Update:
			updates++
		case Skip:
			skips++
		case Archive:
			archives++
		}

		if a.Type == Archive {
			fmt.Fprintf(&b, "  %s %-45s %s  %q  (file removed)\n",
				actionSymbols[a.Type], a.RelPath, a.Type, a.Title)
			continue
		}
		fmt.Fprintf(&b, "  %s %-45s %-7s  %q\n",
			actionSymbols[a.Type], a.RelPath, a.Type, a.Title)
	}

	for _, relPath := range p.Orphans {
		fmt.Fprintf(&b, "  ? %-45s ORPHAN   (tracked but missing on disk; use --archive-orphans)\n", relPath)
	}

	var parts []string
	if creates > 0 {
		parts = append(parts, fmt.Sprintf("%d to create", creates))
	}
	if updates > 0 {
		parts = append(parts, fmt.Sprintf("%d to update", updates))
	}
	if archives > 0 {
		parts = append(parts, fmt.Sprintf("%d to archive", archives))
	}
	if skips > 0 {
		parts = append(parts, fmt.Sprintf("%d unchanged", skips))
	}

	if len(parts) == 0 {
		parts = append(parts, "nothing to do")
	}
	fmt.Fprintf(&b, "\nPlan: %s.\n", strings.Join(parts, ", "))

	if p.HasPendingChanges() {
		b.WriteString("\nRun without --plan to apply.\n")
	}
	return b.String()
}
