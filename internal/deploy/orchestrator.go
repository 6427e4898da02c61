// Package deploy applies a computed plan against a Confluence space and
// records the results in the state store.
package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/stevesimpson418/ccfm-convert/internal/adf"
	"github.com/stevesimpson418/ccfm-convert/internal/confluence"
	"github.com/stevesimpson418/ccfm-convert/internal/document"
	"github.com/stevesimpson418/ccfm-convert/internal/plan"
	"github.com/stevesimpson418/ccfm-convert/internal/state"
)

// attachmentPhase tracks how far a document's attachment protocol got. The
// page body referencing uploaded files is only rewritten in the final phase,
// so a failure mid-protocol leaves a readable page with external placeholders
// and the document is retried whole on the next run.
type attachmentPhase int

const (
	phaseWritten attachmentPhase = iota
	phaseUploaded
	phaseResolved
	phaseFinalized
)

// Orchestrator executes plan actions strictly in order, staging state per
// successful action and committing the store once at the end of the run.
type Orchestrator struct {
	api    confluence.Client
	store  *state.Store
	logger *slog.Logger

	spaceKey   string
	docsRoot   string
	gitRepoURL string

	now func() time.Time
}

func New(api confluence.Client, store *state.Store, logger *slog.Logger, spaceKey, docsRoot, gitRepoURL string) *Orchestrator {
	return &Orchestrator{
		api:        api,
		store:      store,
		logger:     logger,
		spaceKey:   spaceKey,
		docsRoot:   docsRoot,
		gitRepoURL: gitRepoURL,
		now:        time.Now,
	}
}

// Execute runs every action in p. A failed action does not stop the run;
// authentication failures and context cancellation do, since every further
// call would fail the same way. The state store is committed exactly once,
// whatever happened, so partial progress survives.
func (o *Orchestrator) Execute(ctx context.Context, p *plan.Plan, tree *document.Tree) (*Report, error) {
	spaceID, err := o.api.GetSpaceID(ctx, o.spaceKey)
	if err != nil {
		return nil, fmt.Errorf("resolving space %q: %w", o.spaceKey, err)
	}

	report := &Report{}
	for _, action := range p.Actions {
		if ctx.Err() != nil {
			report.Aborted = true
			break
		}

		var out Outcome
		switch action.Type {
		case plan.Skip:
			out = Outcome{RelPath: action.RelPath, Title: action.Title, Action: plan.Skip, PageID: action.PageID}
		case plan.Archive:
			out = o.archive(ctx, action)
		default:
			node := tree.ByPath(action.RelPath)
			if node == nil {
				// should not happen: plans are computed from the same tree
				out = Outcome{RelPath: action.RelPath, Action: action.Type,
					Err: fmt.Errorf("no document for planned path %q", action.RelPath)}
			} else {
				out = o.deploy(ctx, spaceID, action, node)
			}
		}
		report.record(out)

		if out.Failed() {
			o.logger.Error("action failed",
				"path", out.RelPath, "action", out.Action, "step", out.Step, "error", out.Err)
			if confluence.IsAuth(out.Err) {
				o.logger.Error("authentication rejected, aborting run")
				report.Aborted = true
				break
			}
		}
	}

	report.CommitErr = o.store.Commit()
	return report, nil
}

func (o *Orchestrator) archive(ctx context.Context, action plan.Action) Outcome {
	out := Outcome{RelPath: action.RelPath, Title: action.Title, Action: plan.Archive,
		PageID: action.PageID, Step: StepArchive}

	o.logger.Info("archiving page", "path", action.RelPath, "page_id", action.PageID)
	if err := o.api.ArchivePage(ctx, action.PageID); err != nil {
		if confluence.IsNotFound(err) {
			// already gone remotely, just drop the record
			o.logger.Warn("page missing remotely, removing record", "path", action.RelPath)
		} else {
			out.Err = err
			return out
		}
	}
	o.store.Remove(action.RelPath)
	return out
}

func (o *Orchestrator) deploy(ctx context.Context, spaceID string, action plan.Action, node *document.Node) Outcome {
	out := Outcome{RelPath: action.RelPath, Title: node.Title, Action: action.Type, Step: StepConvert}
	log := o.logger.With("path", node.RelPath, "title", node.Title)

	body := o.convert(node)

	unresolved, err := ResolvePageLinks(body, func(title string) (string, error) {
		return o.api.FindPageWebUIURL(ctx, spaceID, title)
	})
	if err != nil {
		out.Err = fmt.Errorf("resolving page links: %w", err)
		return out
	}
	for _, title := range unresolved {
		out.Warnings = append(out.Warnings, fmt.Sprintf("page link %q did not match any page", title))
	}

	out.Step = StepResolveParent
	parentID, err := o.resolveParent(ctx, spaceID, node)
	if err != nil {
		out.Err = err
		return out
	}

	out.Step = StepPageWrite
	pageID, err := o.writePage(ctx, spaceID, parentID, action, node, body)
	if err != nil {
		out.Err = err
		return out
	}
	out.PageID = pageID
	log.Info("page written", "page_id", pageID, "action", action.Type)

	out.Step = StepLabels
	if err := o.api.AddLabels(ctx, pageID, node.Labels()); err != nil {
		out.Err = fmt.Errorf("adding labels: %w", err)
		return out
	}

	if len(node.Meta.Attachments) > 0 {
		phase, warnings, err := o.attachAll(ctx, pageID, node, body)
		out.Warnings = append(out.Warnings, warnings...)
		if err != nil {
			out.Step = stepForPhase(phase)
			out.Err = err
			return out
		}
	}

	out.Step = StepFinalize
	o.store.Stage(node.RelPath, state.Record{
		PageID:      pageID,
		Fingerprint: action.Fingerprint,
		Title:       node.Title,
		SpaceKey:    o.spaceKey,
		SpaceID:     spaceID,
	})
	return out
}

func (o *Orchestrator) convert(node *document.Node) *adf.Node {
	body := adf.Convert(node.Body)
	if node.Meta.CIBanner {
		AddCIBanner(body, o.sourceURL(node), node.Meta.CIBannerText, node.Meta, o.now())
	}
	return body
}

// sourceURL links a deployed page back to its file in the git repository.
func (o *Orchestrator) sourceURL(node *document.Node) string {
	if o.gitRepoURL == "" || node.FilePath == "" {
		return ""
	}
	return strings.TrimRight(o.gitRepoURL, "/") + "/" + node.RelPath
}

// resolveParent maps a node's parent reference to a live page id. Local
// parents must already be staged this run or recorded from a previous one;
// the resolver's topological order guarantees the former for new trees.
func (o *Orchestrator) resolveParent(ctx context.Context, spaceID string, node *document.Node) (string, error) {
	if node.RemoteParent != "" {
		id, err := o.api.FindPageByTitle(ctx, spaceID, node.RemoteParent)
		if err != nil {
			return "", fmt.Errorf("looking up parent %q: %w", node.RemoteParent, err)
		}
		if id == "" {
			return "", fmt.Errorf("parent page %q not found in space", node.RemoteParent)
		}
		return id, nil
	}

	if node.ParentRef == "" {
		return "", nil
	}
	rec, ok := o.store.Get(node.ParentRef)
	if !ok || rec.PageID == "" {
		return "", fmt.Errorf("parent %q has not been deployed", node.ParentRef)
	}
	return rec.PageID, nil
}

func (o *Orchestrator) writePage(ctx context.Context, spaceID, parentID string, action plan.Action, node *document.Node, body *adf.Node) (string, error) {
	status := node.Meta.PageStatus

	if action.Type == plan.Update && action.PageID != "" {
		err := o.api.UpdatePage(ctx, action.PageID, node.Title, body, status)
		if err == nil {
			return action.PageID, nil
		}
		if !confluence.IsNotFound(err) {
			return "", fmt.Errorf("updating page: %w", err)
		}
		// recorded page was deleted remotely, fall through and re-create
		o.logger.Warn("recorded page gone, recreating", "path", node.RelPath, "page_id", action.PageID)
	}

	// A page with this title may already exist outside our state, e.g. after
	// a lost state file. Adopt it instead of failing on the title conflict.
	existing, err := o.api.FindPageByTitle(ctx, spaceID, node.Title)
	if err != nil {
		return "", fmt.Errorf("checking for existing page: %w", err)
	}
	if existing != "" {
		if err := o.api.UpdatePage(ctx, existing, node.Title, body, status); err != nil {
			return "", fmt.Errorf("updating existing page: %w", err)
		}
		return existing, nil
	}

	id, err := o.api.CreatePage(ctx, spaceID, parentID, node.Title, body, status)
	if err != nil {
		return "", fmt.Errorf("creating page: %w", err)
	}
	return id, nil
}

// attachAll runs the attachment protocol for one page: upload each file,
// fetch its Media Services fileId, rewrite the body's media nodes, then
// write the page a second time. Returns the phase reached on failure.
func (o *Orchestrator) attachAll(ctx context.Context, pageID string, node *document.Node, body *adf.Node) (attachmentPhase, []string, error) {
	var warnings []string
	refs := make(map[string]MediaRef)
	baseDir := filepath.Dir(node.FilePath)

	for _, att := range node.Meta.Attachments {
		path, err := o.attachmentPath(baseDir, att.Path)
		if err != nil {
			return phaseWritten, warnings, err
		}
		if _, err := os.Stat(path); err != nil {
			warnings = append(warnings, fmt.Sprintf("attachment %q not found, skipping", att.Path))
			continue
		}

		attachmentID, err := o.api.UploadAttachment(ctx, pageID, path)
		if err != nil {
			return phaseWritten, warnings, fmt.Errorf("uploading %q: %w", att.Path, err)
		}

		fileID, err := o.api.FetchMediaFileID(ctx, attachmentID)
		if err != nil {
			return phaseUploaded, warnings, fmt.Errorf("fetching file id for %q: %w", att.Path, err)
		}

		refs[filepath.Base(att.Path)] = MediaRef{
			AttachmentID: attachmentID,
			FileID:       fileID,
			Width:        att.Width,
		}
	}

	if len(refs) == 0 {
		return phaseFinalized, warnings, nil
	}

	ResolveAttachmentMedia(body, refs, pageID)

	if err := o.api.UpdatePage(ctx, pageID, node.Title, body, node.Meta.PageStatus); err != nil {
		return phaseResolved, warnings, fmt.Errorf("rewriting page with media references: %w", err)
	}
	return phaseFinalized, warnings, nil
}

// attachmentPath joins an attachment reference to the document's directory
// and rejects paths that escape the docs root.
func (o *Orchestrator) attachmentPath(baseDir, ref string) (string, error) {
	joined := filepath.Join(baseDir, filepath.FromSlash(ref))

	root, err := filepath.Abs(o.docsRoot)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("attachment path %q escapes the docs root", ref)
	}
	return joined, nil
}

func stepForPhase(p attachmentPhase) Step {
	switch p {
	case phaseWritten:
		return StepUpload
	case phaseUploaded:
		return StepMediaResolve
	default:
		return StepFinalize
	}
}
