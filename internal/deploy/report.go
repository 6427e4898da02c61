package deploy

import (
	"fmt"
	"strings"

	"github.com/stevesimpson418/ccfm-convert/internal/plan"
)

// Step names the stage of an action at which it succeeded or failed.
type Step string

const (
	StepConvert       Step = "convert"
	StepResolveParent Step = "resolve-parent"
	StepPageWrite     Step = "page-write"
	StepLabels        Step = "labels"
	StepUpload        Step = "attachment-upload"
	StepMediaResolve  Step = "media-resolve"
	StepFinalize      Step = "finalize"
	StepArchive       Step = "archive"
)

// Outcome records what happened to a single planned action.
type Outcome struct {
	RelPath string
	Title   string
	Action  plan.ActionType
	PageID  string

	// Step is the last step reached. For failures it names where the action
	// stopped; the page write itself may already have been committed.
	Step Step
	Err  error

	// Warnings lists non-fatal issues, e.g. unresolved page links or missing
	// attachment files.
	Warnings []string
}

func (o Outcome) Failed() bool { return o.Err != nil }

// Report is the result of one orchestrator run.
type Report struct {
	Outcomes []Outcome

	// Aborted is set when the run stopped before processing every action,
	// e.g. on an authentication failure or a cancelled context.
	Aborted bool

	// CommitErr is the state commit failure, if any. Remote changes have
	// already been applied when it is set.
	CommitErr error
}

func (r *Report) record(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
}

// Failures returns the outcomes that ended in an error.
func (r *Report) Failures() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if o.Failed() {
			failed = append(failed, o)
		}
	}
	return failed
}

// OK reports whether the run completed every action without errors.
func (r *Report) OK() bool {
	return !r.Aborted && r.CommitErr == nil && len(r.Failures()) == 0
}

// Summary renders a human-readable run summary.
func (r *Report) Summary() string {
	var b strings.Builder

	var created, updated, skipped, archived, failed int
	for _, o := range r.Outcomes {
		if o.Failed() {
			failed++
			continue
		}
		switch o.Action {
		case plan.Create:
			created++
		case plan.Update:
			updated++
		case plan.Skip:
			skipped++
		case plan.Archive:
			archived++
		}
	}

	fmt.Fprintf(&b, "Deploy complete: %d created, %d updated, %d skipped, %d archived",
		created, updated, skipped, archived)
	if failed > 0 {
		fmt.Fprintf(&b, ", %d FAILED", failed)
	}
	b.WriteByte('\n')

	for _, o := range r.Failures() {
		fmt.Fprintf(&b, "  ✗ %s [%s at %s]: %v\n", o.RelPath, o.Action, o.Step, o.Err)
	}
	for _, o := range r.Outcomes {
		for _, w := range o.Warnings {
			fmt.Fprintf(&b, "  ! %s: %s\n", o.RelPath, w)
		}
	}

	if r.Aborted {
		b.WriteString("Run aborted before all actions were processed.\n")
	}
	if r.CommitErr != nil {
		fmt.Fprintf(&b, "State commit failed: %v\n", r.CommitErr)
	}
	return b.String()
}
