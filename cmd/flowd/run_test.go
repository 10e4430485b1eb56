package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/flowd/internal/engine"
	"github.com/fyrsmithlabs/flowd/internal/project"
)

func TestResolveRequest(t *testing.T) {
	reqFile := filepath.Join(t.TempDir(), "request.txt")
	if err := os.WriteFile(reqFile, []byte("  build a parser\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name        string
		args        []string
		requestFile string
		want        string
		wantErr     string
	}{
		{
			name: "positional argument",
			args: []string{"build a parser"},
			want: "build a parser",
		},
		{
			name: "argument is trimmed",
			args: []string{"  build a parser \n"},
			want: "build a parser",
		},
		{
			name:        "request file",
			args:        nil,
			requestFile: reqFile,
			want:        "build a parser",
		},
		{
			name:        "both sources",
			args:        []string{"build a parser"},
			requestFile: reqFile,
			wantErr:     "not both",
		},
		{
			name:    "neither source",
			args:    nil,
			wantErr: "request is required",
		},
		{
			name:        "missing request file",
			args:        nil,
			requestFile: filepath.Join(t.TempDir(), "nope.txt"),
			wantErr:     "read request file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runRequestFile = tt.requestFile
			defer func() { runRequestFile = "" }()

			got, err := resolveRequest(tt.args)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("resolveRequest() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveRequest() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("resolveRequest() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveEventsPath(t *testing.T) {
	tests := []struct {
		name      string
		flagPath  string
		eventsDir string
		follow    bool
		want      string
	}{
		{
			name:     "flag wins",
			flagPath: "run.ndjson",
			want:     "run.ndjson",
		},
		{
			name:      "flag wins over events dir",
			flagPath:  "run.ndjson",
			eventsDir: "/var/lib/flowd/events",
			want:      "run.ndjson",
		},
		{
			name:      "events dir",
			eventsDir: "/var/lib/flowd/events",
			want:      filepath.Join("/var/lib/flowd/events", "r1.ndjson"),
		},
		{
			name:   "follow falls back to temp",
			follow: true,
			want:   filepath.Join(os.TempDir(), "flowd-r1.ndjson"),
		},
		{
			name: "plain run needs no log",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runEventsPath = tt.flagPath
			runFollowView = tt.follow
			defer func() {
				runEventsPath = ""
				runFollowView = false
			}()

			got := resolveEventsPath(tt.eventsDir, "r1")
			if got != tt.want {
				t.Errorf("resolveEventsPath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoadProjectFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile := func(rel string, data []byte) {
		t.Helper()
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	writeFile("main.go", []byte("package main\n"))
	writeFile("docs/design.md", []byte("# Design\n"))
	writeFile(".env", []byte("SECRET=1\n"))
	writeFile(".git/config", []byte("[core]\n"))
	writeFile(".gitignore", []byte("dist/\n"))
	writeFile("dist/app.js", []byte("console.log(1)\n"))
	writeFile("assets/logo.bin", []byte{0xff, 0xfe, 0x00, 0x01})

	files, err := loadProjectFiles(dir)
	if err != nil {
		t.Fatalf("loadProjectFiles() error = %v", err)
	}

	if len(files) != 2 {
		t.Fatalf("loadProjectFiles() returned %d files, want 2: %v", len(files), files)
	}
	if files["main.go"] != "package main\n" {
		t.Errorf("main.go content = %q", files["main.go"])
	}
	if files["docs/design.md"] != "# Design\n" {
		t.Errorf("docs/design.md content = %q", files["docs/design.md"])
	}
	for _, skipped := range []string{".env", ".git/config", "dist/app.js", "assets/logo.bin"} {
		if _, ok := files[skipped]; ok {
			t.Errorf("loadProjectFiles() included %s", skipped)
		}
	}
}

func TestLoadProjectFiles_MissingDir(t *testing.T) {
	if _, err := loadProjectFiles(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("loadProjectFiles() expected error for missing directory")
	}
}

func TestWriteProjectFiles(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"main.go":        "package main\n",
		"docs/design.md": "# Design\n",
	}

	if err := writeProjectFiles(dir, files); err != nil {
		t.Fatalf("writeProjectFiles() error = %v", err)
	}

	for rel, want := range files {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			t.Fatalf("read %s: %v", rel, err)
		}
		if string(data) != want {
			t.Errorf("%s content = %q, want %q", rel, data, want)
		}
	}
}

func TestResultFiles(t *testing.T) {
	if got := resultFiles(nil); got != nil {
		t.Errorf("resultFiles(nil) = %v, want nil", got)
	}

	result := &engine.Result{
		Artifact: project.Snapshot{Files: map[string]string{"main.go": "package main\n"}},
	}
	files := resultFiles(result)
	if files["main.go"] != "package main\n" {
		t.Errorf("resultFiles() = %v", files)
	}

	if got := resultFiles(&engine.Result{Artifact: "not a snapshot"}); got != nil {
		t.Errorf("resultFiles() with foreign artifact = %v, want nil", got)
	}
}

func TestRunScripted(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("FLOWD_MODEL_PROVIDER", "scripted")

	projectDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(projectDir, "NOTES.md"), []byte("# Notes\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	eventsPath := filepath.Join(t.TempDir(), "run.ndjson")
	runProjectDir = projectDir
	runEventsPath = eventsPath
	defer func() {
		runProjectDir = ""
		runEventsPath = ""
	}()

	if err := runRun(runCmd, []string{"build a fizzbuzz CLI"}); err != nil {
		t.Fatalf("runRun() error = %v", err)
	}

	// The demo transcript produces main.go; success writes it back.
	if _, err := os.Stat(filepath.Join(projectDir, "main.go")); err != nil {
		t.Errorf("main.go not written back: %v", err)
	}
	if data, err := os.ReadFile(filepath.Join(projectDir, "NOTES.md")); err != nil || string(data) != "# Notes\n" {
		t.Errorf("seed file NOTES.md = %q, %v", data, err)
	}

	log, err := os.ReadFile(eventsPath)
	if err != nil {
		t.Fatalf("read event log: %v", err)
	}
	for _, want := range []string{`"phase_started"`, `"workflow_done"`} {
		if !strings.Contains(string(log), want) {
			t.Errorf("event log missing %s", want)
		}
	}
}

func TestPrintRunSummary(t *testing.T) {
	result := &engine.Result{
		RunID:      "r1",
		Verdict:    engine.VerdictApproved,
		Iterations: 1,
		Steps:      12,
	}
	files := map[string]string{
		"main.go":   "package main\n",
		"README.md": "# App\n",
	}

	var sb strings.Builder
	printRunSummary(&sb, result, files, "run.ndjson")
	out := sb.String()

	for _, want := range []string{"r1", "approved", "Steps:      12", "run.ndjson", "main.go", "README.md"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q in:\n%s", want, out)
		}
	}
}
