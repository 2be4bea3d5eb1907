package parser

import (
	"regexp"
	"strings"

	"github.com/neboloop/duocode/internal/record"
)

// BackendA parses the pane grammar of the bullet-and-dashed-separator
// assistant.
type BackendA struct{}

var (
	bulletLineReA   = regexp.MustCompile(`^[•●]\s?(.*)$`)
	toolCallParenRe = regexp.MustCompile(`^(Write|Update|Bash|Read|Delete)\((.*)\)\s*$`)
	toolCallColonRe = regexp.MustCompile(`^(Write|Update|Bash|Read|Delete):\s*(.*)$`)
	cornerResultRe  = regexp.MustCompile(`^⎿\s?(.*)$`)
	horizRuleRe     = regexp.MustCompile(`^─{3,}\s*$`)
	dashedSepRe     = regexp.MustCompile(`^╌{3,}\s*$`)
	confirmPromptRe = regexp.MustCompile(`(?i)do you want to`)
	yesMenuRe       = regexp.MustCompile(`^\s*1\.\s*Yes`)
)

var toolNameToTypeA = map[string]record.ToolType{
	"Write":  record.ToolWriteFile,
	"Update": record.ToolEdit,
	"Bash":   record.ToolShell,
	"Read":   record.ToolReadFile,
	"Delete": record.ToolDeleteFile,
}

func parseToolCallLineA(content string) (name, args string, ok bool) {
	if m := toolCallParenRe.FindStringSubmatch(content); m != nil {
		return m[1], m[2], true
	}
	if m := toolCallColonRe.FindStringSubmatch(content); m != nil {
		return m[1], m[2], true
	}
	return "", "", false
}

// reclassifyBashA applies the "Bash(cat > PATH)"/"Bash(cat >> PATH)"
// shell heuristic: these are reclassified as write_file/edit so the
// approval UI shows a diff instead of a bare command string.
func reclassifyBashA(toolType record.ToolType, args string) (record.ToolType, string) {
	trimmed := strings.TrimSpace(args)
	if idx := strings.Index(trimmed, "cat >>"); idx >= 0 {
		path := strings.TrimSpace(trimmed[idx+len("cat >>"):])
		if path != "" {
			return record.ToolEdit, path
		}
	}
	if idx := strings.Index(trimmed, "cat >"); idx >= 0 {
		path := strings.TrimSpace(trimmed[idx+len("cat >"):])
		if path != "" {
			return record.ToolWriteFile, path
		}
	}
	return toolType, args
}

// extractDiffBlockA scans forward from idx for a pair of dashed separator
// lines and returns the diff lines between them plus the index just past
// the closing separator. If no separators are found, remaining
// box-interior lines through the next bullet/rule are treated as raw
// content.
func extractDiffBlockA(lines []string, idx int, toolType record.ToolType) ([]record.DiffLine, int) {
	// Look for the opening separator.
	start := -1
	for i := idx; i < len(lines); i++ {
		if dashedSepRe.MatchString(strings.TrimSpace(lines[i])) {
			start = i
			break
		}
		if bulletLineReA.MatchString(lines[i]) || horizRuleRe.MatchString(strings.TrimSpace(lines[i])) {
			break
		}
	}

	var diff []record.DiffLine
	if start >= 0 {
		end := -1
		for i := start + 1; i < len(lines); i++ {
			if dashedSepRe.MatchString(strings.TrimSpace(lines[i])) {
				end = i
				break
			}
		}
		if end < 0 {
			end = len(lines)
		}
		for i := start + 1; i < end; i++ {
			diff = append(diff, classifyRawDiffLineA(lines[i], toolType))
		}
		next := end
		if next < len(lines) {
			next++
		}
		return diff, next
	}

	// No separators: raw content lines until the next bullet or rule.
	end := idx
	for end < len(lines) {
		if bulletLineReA.MatchString(lines[end]) || horizRuleRe.MatchString(strings.TrimSpace(lines[end])) || cornerResultRe.MatchString(lines[end]) {
			break
		}
		if strings.TrimSpace(lines[end]) != "" {
			diff = append(diff, classifyRawDiffLineA(lines[end], toolType))
		}
		end++
	}
	return diff, end
}

// classifyRawDiffLineA promotes an unmarked content line to '+' for
// write_file (a created file is a pure insertion) and leaves it neutral
// for edit.
func classifyRawDiffLineA(line string, toolType record.ToolType) record.DiffLine {
	trimmed := line
	switch {
	case strings.HasPrefix(trimmed, "+"):
		return record.DiffLine{Marker: record.MarkerAdd, Content: strings.TrimPrefix(trimmed, "+")}
	case strings.HasPrefix(trimmed, "-"):
		return record.DiffLine{Marker: record.MarkerRemove, Content: strings.TrimPrefix(trimmed, "-")}
	}
	if toolType == record.ToolWriteFile {
		return record.DiffLine{Marker: record.MarkerAdd, Content: trimmed}
	}
	return record.DiffLine{Marker: record.MarkerContext, Content: trimmed}
}

// extractInlineResultA scans forward from idx for a "⎿" corner-glyph
// result line and any indented stderr lines beneath it.
func extractInlineResultA(lines []string, idx int) (exitCode *int, shellOutput *string, consumed int) {
	for i := idx; i < len(lines) && i < idx+6; i++ {
		m := cornerResultRe.FindStringSubmatch(lines[i])
		if m == nil {
			continue
		}
		body := m[1]
		block := body
		j := i + 1
		for j < len(lines) && strings.HasPrefix(lines[j], "  ") {
			block += "\n" + strings.TrimSpace(lines[j])
			j++
		}
		exitCode = scanExitCode(body)
		out := block
		shellOutput = &out
		return exitCode, shellOutput, j
	}
	return nil, nil, idx
}

func (BackendA) Parse(snapshot string) (string, *record.ToolInfo) {
	lines := stripLines(snapshot)

	lastBullet := -1
	for i, l := range lines {
		if bulletLineReA.MatchString(l) {
			lastBullet = i
		}
	}
	if lastBullet < 0 {
		return strings.TrimSpace(snapshot), nil
	}

	content := bulletLineReA.FindStringSubmatch(lines[lastBullet])[1]
	if name, args, ok := parseToolCallLineA(content); ok {
		toolType := toolNameToTypeA[name]
		filePath := args
		if toolType == record.ToolShell {
			toolType, filePath = reclassifyBashA(toolType, args)
		}

		info := &record.ToolInfo{ToolType: toolType, FilePath: trimScrollIndicator(filePath)}
		if toolType != record.ToolShell {
			diff, _ := extractDiffBlockA(lines, lastBullet+1, toolType)
			info.DiffLines = diff
			info.IsNewFile = isNewFile(info.FilePath)
		}
		if toolType == record.ToolShell {
			if ec, out, _ := extractInlineResultA(lines, lastBullet+1); ec != nil || out != nil {
				info.ExitCode = ec
				info.ShellOutput = out
			}
		}
		return "", info
	}

	// Plain assistant text: accumulate contiguous lines following the bullet.
	var b strings.Builder
	b.WriteString(content)
	for i := lastBullet + 1; i < len(lines); i++ {
		if bulletLineReA.MatchString(lines[i]) || horizRuleRe.MatchString(strings.TrimSpace(lines[i])) || cornerResultRe.MatchString(lines[i]) {
			break
		}
		if strings.TrimSpace(lines[i]) == "" {
			break
		}
		b.WriteString("\n")
		b.WriteString(lines[i])
	}
	return strings.TrimSpace(b.String()), nil
}

func (a BackendA) ExtractResult(snapshot string) *record.ParsedResponse {
	lines := stripLines(snapshot)
	for i, l := range lines {
		if !bulletLineReA.MatchString(l) {
			continue
		}
		content := bulletLineReA.FindStringSubmatch(l)[1]
		if _, _, ok := parseToolCallLineA(content); !ok {
			continue
		}
		ec, out, _ := extractInlineResultA(lines, i+1)
		return &record.ParsedResponse{ExitCode: ec, ShellOutput: out}
	}
	return nil
}

func (a BackendA) DetectConfirmation(snapshot string) *record.ParsedConfirmation {
	lines := stripLines(snapshot)

	ruleIdx := -1
	for i := len(lines) - 1; i >= 0; i-- {
		if horizRuleRe.MatchString(strings.TrimSpace(lines[i])) {
			ruleIdx = i
			break
		}
	}
	if ruleIdx < 0 {
		return nil
	}

	sawPrompt, sawMenu := false, false
	for i := ruleIdx; i < len(lines); i++ {
		if confirmPromptRe.MatchString(lines[i]) {
			sawPrompt = true
		}
		if yesMenuRe.MatchString(lines[i]) {
			sawMenu = true
		}
	}
	if !sawPrompt || !sawMenu {
		return nil
	}

	ctx := strings.TrimSpace(strings.Join(lines[ruleIdx:], "\n"))
	conf := &record.ParsedConfirmation{Context: ctx}

	// Chained case: a tool result completed immediately before this rule.
	if prior := a.ExtractResult(strings.Join(lines[:ruleIdx], "\n")); prior != nil {
		if prior.Content != "" {
			conf.PriorResult = &prior.Content
		}
		conf.PriorExitCode = prior.ExitCode
		conf.PriorShellOutput = prior.ShellOutput
	}
	return conf
}

func (BackendA) ReplyMarker(snapshot string) string {
	lines := stripLines(snapshot)
	for i := len(lines) - 1; i >= 0; i-- {
		if bulletLineReA.MatchString(lines[i]) {
			return lines[i]
		}
	}
	return ""
}

func (BackendA) BulletCount(snapshot string) int {
	count := 0
	for _, l := range stripLines(snapshot) {
		if bulletLineReA.MatchString(l) {
			count++
		}
	}
	return count
}

func (BackendA) HasSpinner(snapshot string) bool {
	return strings.ContainsAny(snapshot, "⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏")
}
