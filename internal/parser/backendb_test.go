package parser

import (
	"strings"
	"testing"

	"github.com/neboloop/duocode/internal/record"
)

func TestBackendBParseWriteFileBox(t *testing.T) {
	snap := strings.Join([]string{
		"╭─ WriteFile ─────╮",
		"│ ✓ main.go        │",
		"│ 1 + package main │",
		"╰──────────────────╯",
	}, "\n")
	text, tool := (BackendB{}).Parse(snap)
	if text != "" {
		t.Fatalf("expected empty text for a tool call, got %q", text)
	}
	if tool == nil {
		t.Fatal("expected tool info")
	}
	if tool.ToolType != record.ToolWriteFile {
		t.Fatalf("tool type = %s, want write_file", tool.ToolType)
	}
	if tool.FilePath != "main.go" {
		t.Fatalf("file path = %q, want main.go", tool.FilePath)
	}
	if len(tool.DiffLines) != 1 || tool.DiffLines[0].Marker != record.MarkerAdd || tool.DiffLines[0].Content != "package main" {
		t.Fatalf("diff lines = %+v", tool.DiffLines)
	}
}

func TestBackendBShellExitCode(t *testing.T) {
	snap := strings.Join([]string{
		"╭─ Shell ─────────────────────╮",
		"│ ✓ ls -la                     │",
		"│ total 12                     │",
		"│ Command exited with code: 0  │",
		"╰───────────────────────────────╯",
	}, "\n")
	_, tool := (BackendB{}).Parse(snap)
	if tool == nil || tool.ToolType != record.ToolShell {
		t.Fatalf("expected shell tool, got %+v", tool)
	}
	if len(tool.DiffLines) != 0 {
		t.Fatalf("shell tool must not carry diff lines, got %+v", tool.DiffLines)
	}
	if tool.ExitCode == nil || *tool.ExitCode != 0 {
		t.Fatalf("exit code = %v, want 0", tool.ExitCode)
	}
	if tool.ShellOutput == nil || !strings.Contains(*tool.ShellOutput, "total 12") {
		t.Fatalf("shell output = %v", tool.ShellOutput)
	}
}

func TestBackendBFailedShellExitCode(t *testing.T) {
	snap := strings.Join([]string{
		"╭─ Shell ─────────────────────╮",
		"│ ✗ false                      │",
		"│ Command exited with code: 1  │",
		"╰───────────────────────────────╯",
	}, "\n")
	_, tool := (BackendB{}).Parse(snap)
	if tool == nil || tool.ExitCode == nil || *tool.ExitCode != 1 {
		t.Fatalf("expected exit code 1, got %+v", tool)
	}
}

func TestBackendBDetectConfirmation(t *testing.T) {
	snap := strings.Join([]string{
		"╭─ Edit ──────────╮",
		"│ ? main.go        │",
		"╰───────────────────╯",
		"Apply this change?",
	}, "\n")
	conf := (BackendB{}).DetectConfirmation(snap)
	if conf == nil {
		t.Fatal("expected a confirmation to be detected")
	}
	if !strings.Contains(conf.Context, "Apply this change?") {
		t.Fatalf("context = %q", conf.Context)
	}
}

func TestBackendBWaitingForConfirmationMarker(t *testing.T) {
	snap := "╭─ DeleteFile ──────╮\n│ ? old.go          │\n╰─────────────────────╯\nWaiting for user confirmation"
	conf := (BackendB{}).DetectConfirmation(snap)
	if conf == nil {
		t.Fatal("expected a confirmation to be detected")
	}
}

func TestBackendBBulletCountTracksBoxes(t *testing.T) {
	snap := strings.Join([]string{
		"╭─ ReadFile ─╮",
		"│ ✓ a.go      │",
		"╰─────────────╯",
		"╭─ ReadFile ─╮",
		"│ ✓ b.go      │",
		"╰─────────────╯",
	}, "\n")
	if n := (BackendB{}).BulletCount(snap); n != 2 {
		t.Fatalf("bullet count = %d, want 2", n)
	}
}

// TestBackendBParseWrappedPane covers a pane nested inside another
// border: each line carries an extra host "│ ... │" wrap around
// BackendB's own box grammar, which still uses │ throughout.
func TestBackendBParseWrappedPane(t *testing.T) {
	inner := []string{
		"╭─ WriteFile ─────╮",
		"│ ✓ main.go        │",
		"│ 1 + package main │",
		"╰──────────────────╯",
	}
	var wrapped []string
	for _, l := range inner {
		wrapped = append(wrapped, "│ "+l+" │")
	}
	snap := strings.Join(wrapped, "\n")

	text, tool := (BackendB{}).Parse(snap)
	if text != "" {
		t.Fatalf("expected empty text for a tool call, got %q", text)
	}
	if tool == nil {
		t.Fatal("expected tool info despite the host wrap")
	}
	if tool.ToolType != record.ToolWriteFile {
		t.Fatalf("tool type = %s, want write_file", tool.ToolType)
	}
	if tool.FilePath != "main.go" {
		t.Fatalf("file path = %q, want main.go", tool.FilePath)
	}
	if len(tool.DiffLines) != 1 || tool.DiffLines[0].Marker != record.MarkerAdd || tool.DiffLines[0].Content != "package main" {
		t.Fatalf("diff lines = %+v", tool.DiffLines)
	}
}

func TestBackendBPlainTextFallback(t *testing.T) {
	snap := "Here is my plan for the refactor."
	text, tool := (BackendB{}).Parse(snap)
	if tool != nil {
		t.Fatalf("expected no tool, got %+v", tool)
	}
	if text != snap {
		t.Fatalf("text = %q, want %q", text, snap)
	}
}
