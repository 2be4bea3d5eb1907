// Package parser turns a captured tmux pane snapshot into the shared
// record.ToolInfo/ParsedResponse/ParsedConfirmation shapes.
// Two variants exist, BackendA and BackendB, for the two on-screen
// grammars; downstream code only ever sees the shared record types.
package parser

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/neboloop/duocode/internal/record"
)

// Parser is implemented once per backend. It is deliberately permissive:
// an unrecognized layout degrades to plain text, never an error.
type Parser interface {
	// Parse extracts the latest reply text and, if the snapshot's most
	// recent action is a tool invocation, its ToolInfo.
	Parse(snapshot string) (cleanText string, tool *record.ToolInfo)

	// ExtractResult isolates the first completed tool's result from a
	// snapshot that may contain several sequential tool calls.
	ExtractResult(snapshot string) *record.ParsedResponse

	// DetectConfirmation reports a pending approval prompt, if present,
	// including any prior tool result that completed immediately before
	// it (the chained-confirmation case).
	DetectConfirmation(snapshot string) *record.ParsedConfirmation

	// ReplyMarker returns the content of the line where the latest
	// assistant reply begins, used by the adapter's delta detection
	// (content identity survives scrollback renumbering; a raw line
	// index does not).
	ReplyMarker(snapshot string) string

	// BulletCount returns how many reply-start markers are visible in
	// the snapshot. It is the adapter's fallback signal for a new reply
	// having arrived when two consecutive replies render identical text.
	BulletCount(snapshot string) int

	// HasSpinner reports whether an in-progress spinner glyph is
	// visible anywhere in the snapshot.
	HasSpinner(snapshot string) bool
}

var exitCodeRe = regexp.MustCompile(`(?i)(?:command exited with code:|error:\s*exit code)\s*(-?\d+)`)

// scanExitCode scans text for the first "Command exited with code: N" or
// "Error: Exit code N" occurrence, case-insensitive.
func scanExitCode(text string) *int {
	m := exitCodeRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &n
}

// stripOuterBorder strips one outer layer of vertical-bar wrapping from a
// line when present. The pane may or may not be embedded in another box
// depending on the host program's own chrome.
func stripOuterBorder(line string) string {
	trimmed := strings.TrimRight(line, " \t")
	runes := []rune(trimmed)
	if len(runes) < 2 {
		return line
	}
	first := runes[0]
	last := runes[len(runes)-1]
	if (first == '│' || first == '|') && (last == '│' || last == '|') {
		inner := string(runes[1 : len(runes)-1])
		return strings.Trim(inner, " ")
	}
	return line
}

// stripLines applies stripOuterBorder to every line of a snapshot.
func stripLines(snapshot string) []string {
	raw := strings.Split(snapshot, "\n")
	out := make([]string, len(raw))
	for i, l := range raw {
		out[i] = stripOuterBorder(l)
	}
	return out
}

// isNewFile performs the filesystem-time existence check: computed once,
// at parse time, never inferred from tool name.
func isNewFile(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return os.IsNotExist(err)
}

// trimScrollIndicator removes trailing scroll-indicator glyphs tmux/TUIs
// sometimes append to a truncated file path.
func trimScrollIndicator(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), "…▾▸›")
}
