package project

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/flowd/internal/model"
	"github.com/fyrsmithlabs/flowd/internal/secrets"
	"github.com/fyrsmithlabs/flowd/internal/transcript"
)

// Tool names dispatched by the invoker.
const (
	ToolCreateFile   = "create_file"
	ToolReplaceRange = "replace_range"
	ToolRenamePath   = "rename_path"
	ToolDeletePath   = "delete_path"
	ToolReadFile     = "read_file"
	ToolListFiles    = "list_files"
	ToolSubmitReview = "submit_review"
)

// Review verdict values accepted by submit_review. The revision decision
// scans tool-result content for these markers.
const (
	VerdictApproved      = "approved"
	VerdictNeedsRevision = "needs_revision"
)

// Invoker dispatches tool actions by name against the store. Every call
// returns a result string; failures are serialized into the string (prefixed
// "error:") and never raised, which is what lets the model recover from an
// invalid call on its next turn.
type Invoker struct {
	store *Store
	guard *secrets.Guard
}

// NewInvoker wraps the store. guard may be nil to disable secret scanning
// of written content.
func NewInvoker(store *Store, guard *secrets.Guard) *Invoker {
	return &Invoker{store: store, guard: guard}
}

// Store returns the underlying store.
func (inv *Invoker) Store() *Store {
	return inv.store
}

// Snapshot returns the current artifact state as an opaque value.
func (inv *Invoker) Snapshot() any {
	return inv.store.Snapshot()
}

// Restore seeds the workspace from an earlier run's snapshot. Accepts the
// Snapshot type itself or a plain path-to-content map (the wire form).
func (inv *Invoker) Restore(snapshot any) error {
	switch snap := snapshot.(type) {
	case Snapshot:
		inv.store.Restore(snap)
	case *Snapshot:
		inv.store.Restore(*snap)
	case map[string]string:
		inv.store.Restore(Snapshot{Files: snap})
	default:
		return fmt.Errorf("unsupported snapshot type %T", snapshot)
	}
	return nil
}

// Invoke executes one action and returns its result string. The context is
// part of the collaborator contract for remote implementations; the
// in-memory store never blocks on it.
func (inv *Invoker) Invoke(ctx context.Context, action transcript.Action) string {
	_ = ctx
	result, err := inv.dispatch(action)
	if err != nil {
		return fmt.Sprintf("error: %s: %v", action.Name, err)
	}
	return result
}

func (inv *Invoker) dispatch(action transcript.Action) (string, error) {
	args := action.Args
	switch action.Name {
	case ToolCreateFile:
		path, err := stringArg(args, "path")
		if err != nil {
			return "", err
		}
		content, err := stringArg(args, "content")
		if err != nil {
			return "", err
		}
		if findings := inv.guard.Scan(content); len(findings) > 0 {
			return "", fmt.Errorf("refusing to write %s: %s", path, secrets.Summarize(findings))
		}
		if err := inv.store.CreateFile(path, content); err != nil {
			return "", err
		}
		return fmt.Sprintf("created %s (%d bytes)", path, len(content)), nil

	case ToolReplaceRange:
		path, err := stringArg(args, "path")
		if err != nil {
			return "", err
		}
		start, err := intArg(args, "start_line")
		if err != nil {
			return "", err
		}
		end, err := intArg(args, "end_line")
		if err != nil {
			return "", err
		}
		content, err := stringArg(args, "content")
		if err != nil {
			return "", err
		}
		if findings := inv.guard.Scan(content); len(findings) > 0 {
			return "", fmt.Errorf("refusing to write %s: %s", path, secrets.Summarize(findings))
		}
		if err := inv.store.ReplaceRange(path, start, end, content); err != nil {
			return "", err
		}
		return fmt.Sprintf("replaced lines %d-%d of %s", start, end, path), nil

	case ToolRenamePath:
		oldPath, err := stringArg(args, "old_path")
		if err != nil {
			return "", err
		}
		newPath, err := stringArg(args, "new_path")
		if err != nil {
			return "", err
		}
		if err := inv.store.RenamePath(oldPath, newPath); err != nil {
			return "", err
		}
		return fmt.Sprintf("renamed %s to %s", oldPath, newPath), nil

	case ToolDeletePath:
		path, err := stringArg(args, "path")
		if err != nil {
			return "", err
		}
		if err := inv.store.DeletePath(path); err != nil {
			return "", err
		}
		return fmt.Sprintf("deleted %s", path), nil

	case ToolReadFile:
		path, err := stringArg(args, "path")
		if err != nil {
			return "", err
		}
		content, err := inv.store.ReadFile(path)
		if err != nil {
			return "", err
		}
		return content, nil

	case ToolListFiles:
		files := inv.store.ListFiles()
		if len(files) == 0 {
			return "workspace is empty", nil
		}
		return strings.Join(files, "\n"), nil

	case ToolSubmitReview:
		verdict, err := stringArg(args, "verdict")
		if err != nil {
			return "", err
		}
		verdict = strings.ToLower(strings.TrimSpace(verdict))
		// Normalize the hyphenated spelling the model sometimes uses.
		verdict = strings.ReplaceAll(verdict, "-", "_")
		if verdict != VerdictApproved && verdict != VerdictNeedsRevision {
			return "", fmt.Errorf("verdict must be %q or %q, got %q",
				VerdictApproved, VerdictNeedsRevision, verdict)
		}
		comments, _ := stringArg(args, "comments")
		result := fmt.Sprintf("review verdict: %s", verdict)
		if comments != "" {
			result += "\n" + comments
		}
		return result, nil

	default:
		return "", fmt.Errorf("unknown tool %q", action.Name)
	}
}

// Tools returns the schema advertised to the model, generated alongside the
// dispatch table above.
func (inv *Invoker) Tools() []model.Tool {
	return []model.Tool{
		{
			Name:        ToolCreateFile,
			Description: "Create a new file in the project workspace. Fails if the path already exists.",
			InputSchema: objectSchema(map[string]any{
				"path":    stringProp("Relative path of the file to create"),
				"content": stringProp("Full file content"),
			}, "path", "content"),
		},
		{
			Name:        ToolReplaceRange,
			Description: "Replace a 1-based inclusive line range of an existing file with new content.",
			InputSchema: objectSchema(map[string]any{
				"path":       stringProp("Relative path of the file to edit"),
				"start_line": intProp("First line to replace (1-based)"),
				"end_line":   intProp("Last line to replace (inclusive)"),
				"content":    stringProp("Replacement content"),
			}, "path", "start_line", "end_line", "content"),
		},
		{
			Name:        ToolRenamePath,
			Description: "Rename a file, or a directory prefix with everything under it.",
			InputSchema: objectSchema(map[string]any{
				"old_path": stringProp("Current path"),
				"new_path": stringProp("New path"),
			}, "old_path", "new_path"),
		},
		{
			Name:        ToolDeletePath,
			Description: "Delete a file, or a directory prefix with everything under it.",
			InputSchema: objectSchema(map[string]any{
				"path": stringProp("Path to delete"),
			}, "path"),
		},
		{
			Name:        ToolReadFile,
			Description: "Read the current content of a file in the workspace.",
			InputSchema: objectSchema(map[string]any{
				"path": stringProp("Path to read"),
			}, "path"),
		},
		{
			Name:        ToolListFiles,
			Description: "List every file currently in the workspace.",
			InputSchema: objectSchema(map[string]any{}),
		},
		{
			Name:        ToolSubmitReview,
			Description: "Record the review verdict for the current implementation. Verdict is 'approved' or 'needs_revision'.",
			InputSchema: objectSchema(map[string]any{
				"verdict":  stringProp("Either 'approved' or 'needs_revision'"),
				"comments": stringProp("What must change, when requesting revision"),
			}, "verdict"),
		},
	}
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func intProp(description string) map[string]any {
	return map[string]any{"type": "integer", "description": description}
}

// stringArg extracts a required string argument.
func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	return s, nil
}

// intArg extracts a required integer argument, tolerating the float64 form
// JSON decoding produces.
func intArg(args map[string]any, key string) (int, error) {
	v, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("missing argument %q", key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("argument %q must be an integer", key)
	}
}
