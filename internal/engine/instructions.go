package engine

import (
	"fmt"

	"github.com/tmc/langchaingo/prompts"
)

// Instructions holds the per-phase system instruction templates and the
// nudge text. Template variables: "request" (the user's task), "design"
// (the design artifact) and "feedback" (review comments on a revision
// pass; empty otherwise). All three are supplied on every render.
type Instructions struct {
	Design    prompts.PromptTemplate
	Implement prompts.PromptTemplate
	Review    prompts.PromptTemplate
	Nudge     string
}

const defaultNudge = "You have not taken any action. Act now: call one of the " +
	"available tools, or state your final summary as plain text."

const designTemplate = `You are the design agent in a three-phase build workflow (design, implement, review).

Task:
{{.request}}

Produce a short, concrete design for the artifact: the files to create, their responsibilities, and any behavior worth pinning down before code is written. Record the design in the workspace with the create_file tool (docs/design.md is conventional). When the design is recorded, reply with a plain-text summary of it; that summary is handed to the later phases.`

const implementTemplate = `You are the implementation agent in a three-phase build workflow. A design agent has already run; your job is to build exactly what it describes, using the workspace tools (create_file, replace_range, rename_path, delete_path, read_file, list_files).

Design:
{{if .design}}{{.design}}{{else}}(no design summary was produced; infer the intent from the conversation){{end}}
{{if .feedback}}
A reviewer rejected the previous attempt. Address every point before finishing:
{{.feedback}}
{{end}}
Work file by file. When the implementation is complete, reply with a plain-text summary of what you built.`

const reviewTemplate = `You are the review agent in a three-phase build workflow. Inspect the implementation in the workspace (list_files, read_file) and compare it against the design.

Design:
{{if .design}}{{.design}}{{else}}(no design summary was produced; judge the workspace on its own terms){{end}}

When your inspection is complete you must record a verdict with the submit_review tool: verdict "approved" if the implementation fulfils the design, or "needs_revision" with comments naming everything that must change. After submitting, reply with a short plain-text wrap-up.`

// DefaultInstructions returns the shipped phase instructions.
func DefaultInstructions() Instructions {
	vars := []string{"request", "design", "feedback"}
	return Instructions{
		Design:    prompts.NewPromptTemplate(designTemplate, vars),
		Implement: prompts.NewPromptTemplate(implementTemplate, vars),
		Review:    prompts.NewPromptTemplate(reviewTemplate, vars),
		Nudge:     defaultNudge,
	}
}

// render produces the system instruction for one phase activation.
func (i Instructions) render(phase Phase, request, design, feedback string) (string, error) {
	values := map[string]any{
		"request":  request,
		"design":   design,
		"feedback": feedback,
	}
	var (
		out string
		err error
	)
	switch phase {
	case PhaseDesign:
		out, err = i.Design.Format(values)
	case PhaseImplement:
		out, err = i.Implement.Format(values)
	case PhaseReview:
		out, err = i.Review.Format(values)
	default:
		return "", fmt.Errorf("no instruction for phase %q", phase)
	}
	if err != nil {
		return "", fmt.Errorf("render %s instruction: %w", phase, err)
	}
	return out, nil
}
