package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/neboloop/duocode/internal/record"
)

// BackendB parses the pane grammar of the box-drawn assistant: tool calls
// render as a box carrying a status glyph and one of
// WriteFile/Edit/ReadFile/Shell/DeleteFile, diffs render as numbered
// "<N> <marker> <content>" lines, and shell trailers read "Command
// exited with code: N".
type BackendB struct{}

var (
	boxOpenRe    = regexp.MustCompile(`^╭─+\s*(\w+)\s*─*╮?\s*$`)
	boxCloseRe   = regexp.MustCompile(`^╰─*╯?\s*$`)
	boxStatusRe  = regexp.MustCompile(`^│\s*([✓✗?⊷])\s*(.*?)\s*│?\s*$`)
	boxNumberRe  = regexp.MustCompile(`^│?\s*(\d+)\s*([+\- ])\s*(.*?)\s*│?\s*$`)
	boxPlainRe   = regexp.MustCompile(`^│\s?(.*?)\s*│?\s*$`)
	waitingConfB = regexp.MustCompile(`(?i)waiting for user confirmation`)
	applyConfB   = regexp.MustCompile(`(?i)apply this change\?`)
)

// stripOuterBorderB strips one outer layer of host-chrome "│ ... │"
// wrapping from a line, taking care not to consume BackendB's own box
// bars. BackendB's grammar already starts and ends box-content lines
// with │, so a blind strip would eat the backend's own border whenever
// the pane isn't nested inside another box. The disambiguator: only
// strip when the content just inside the candidate border, past any
// leading spaces, starts with │, ╭ or ╰, which is what a real host wrap
// around a backend-own "│ ... │" or "╭/╰" line looks like.
func stripOuterBorderB(line string) string {
	trimmed := strings.TrimSpace(strings.TrimRight(line, " \t"))
	runes := []rune(trimmed)
	if len(runes) < 3 {
		return line
	}
	first, last := runes[0], runes[len(runes)-1]
	if !((first == '│' || first == '|') && (last == '│' || last == '|')) {
		return line
	}
	inner := strings.TrimSpace(string(runes[1 : len(runes)-1]))
	if strings.HasPrefix(inner, "│") || strings.HasPrefix(inner, "╭") || strings.HasPrefix(inner, "╰") {
		return inner
	}
	return line
}

// stripLinesB applies stripOuterBorderB to every line of a snapshot.
func stripLinesB(snapshot string) []string {
	raw := strings.Split(snapshot, "\n")
	out := make([]string, len(raw))
	for i, l := range raw {
		out[i] = stripOuterBorderB(l)
	}
	return out
}

var toolNameToTypeB = map[string]record.ToolType{
	"WriteFile":  record.ToolWriteFile,
	"Edit":       record.ToolEdit,
	"ReadFile":   record.ToolReadFile,
	"Shell":      record.ToolShell,
	"DeleteFile": record.ToolDeleteFile,
}

// boxBoundsB returns the [start,end) line range of the last box in lines,
// end exclusive of the closing line, or (-1,-1) with ok false if there is
// no box or the last box's title is not a known tool name.
func boxBoundsB(lines []string) (start, end int, toolType record.ToolType, ok bool) {
	openIdx := -1
	var name string
	for i, l := range lines {
		if m := boxOpenRe.FindStringSubmatch(strings.TrimSpace(l)); m != nil {
			openIdx = i
			name = m[1]
		}
	}
	if openIdx < 0 {
		return -1, -1, "", false
	}
	tt, known := toolNameToTypeB[name]
	if !known {
		return -1, -1, "", false
	}
	closeIdx := len(lines)
	for i := openIdx + 1; i < len(lines); i++ {
		if boxCloseRe.MatchString(strings.TrimSpace(lines[i])) {
			closeIdx = i
			break
		}
	}
	return openIdx, closeIdx, tt, true
}

func parseDiffLineB(line string) (record.DiffLine, bool) {
	m := boxNumberRe.FindStringSubmatch(line)
	if m == nil {
		return record.DiffLine{}, false
	}
	if _, err := strconv.Atoi(m[1]); err != nil {
		return record.DiffLine{}, false
	}
	marker := record.MarkerContext
	switch m[2] {
	case "+":
		marker = record.MarkerAdd
	case "-":
		marker = record.MarkerRemove
	}
	return record.DiffLine{Marker: marker, Content: m[3]}, true
}

func (BackendB) Parse(snapshot string) (string, *record.ToolInfo) {
	lines := stripLinesB(snapshot)

	start, end, toolType, ok := boxBoundsB(lines)
	if !ok {
		return trailingTextB(lines), nil
	}

	info := &record.ToolInfo{ToolType: toolType}
	var shellLines []string
	sawStatus := false
	for i := start + 1; i < end; i++ {
		line := lines[i]
		if dl, isDiff := parseDiffLineB(line); isDiff {
			info.DiffLines = append(info.DiffLines, dl)
			continue
		}
		if !sawStatus {
			if m := boxStatusRe.FindStringSubmatch(line); m != nil {
				sawStatus = true
				info.FilePath = trimScrollIndicator(m[2])
				if ec := scanExitCode(m[2]); ec != nil {
					info.ExitCode = ec
				}
				continue
			}
		}
		if m := boxPlainRe.FindStringSubmatch(line); m != nil && strings.TrimSpace(m[1]) != "" {
			if toolType == record.ToolShell {
				shellLines = append(shellLines, m[1])
				if ec := scanExitCode(m[1]); ec != nil {
					info.ExitCode = ec
				}
			} else if info.FilePath == "" {
				info.FilePath = trimScrollIndicator(m[1])
			}
		}
	}

	if toolType == record.ToolShell && len(shellLines) > 0 {
		out := strings.Join(shellLines, "\n")
		info.ShellOutput = &out
	}
	if toolType != record.ToolShell {
		info.IsNewFile = isNewFile(info.FilePath)
	}
	return "", info
}

// trailingTextB returns the last contiguous run of non-empty, non-box
// lines: the assistant's plain reply when the snapshot ends without a
// pending tool box.
func trailingTextB(lines []string) string {
	end := len(lines)
	for end > 0 && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	start := end
	for start > 0 {
		l := strings.TrimSpace(lines[start-1])
		if l == "" || boxOpenRe.MatchString(l) || boxCloseRe.MatchString(l) || strings.HasPrefix(l, "│") {
			break
		}
		start--
	}
	return strings.TrimSpace(strings.Join(lines[start:end], "\n"))
}

func (b BackendB) ExtractResult(snapshot string) *record.ParsedResponse {
	return extractResultLinesB(stripLinesB(snapshot))
}

// extractResultLinesB does the work of ExtractResult over an
// already-stripped line slice, so callers that already hold a stripped
// slice (DetectConfirmation's prior-result lookup) don't strip twice and
// risk eating BackendB's own box border a second time. It reads the
// first tool box in lines.
func extractResultLinesB(lines []string) *record.ParsedResponse {
	start, end, toolType, ok := -1, len(lines), record.ToolType(""), false
	for i := 0; i < len(lines) && !ok; i++ {
		if m := boxOpenRe.FindStringSubmatch(strings.TrimSpace(lines[i])); m != nil {
			toolType, ok = toolNameToTypeB[m[1]]
			start = i
		}
	}
	if !ok {
		return nil
	}
	for i := start + 1; i < len(lines); i++ {
		if boxCloseRe.MatchString(strings.TrimSpace(lines[i])) {
			end = i
			break
		}
	}
	resp := &record.ParsedResponse{}
	var shellLines []string
	for i := start + 1; i < end; i++ {
		line := lines[i]
		if toolType == record.ToolShell {
			if m := boxPlainRe.FindStringSubmatch(line); m != nil && strings.TrimSpace(m[1]) != "" {
				shellLines = append(shellLines, m[1])
			}
		}
		if ec := scanExitCode(line); ec != nil {
			resp.ExitCode = ec
		}
	}
	if len(shellLines) > 0 {
		out := strings.Join(shellLines, "\n")
		resp.ShellOutput = &out
	}
	return resp
}

func (b BackendB) DetectConfirmation(snapshot string) *record.ParsedConfirmation {
	lines := stripLinesB(snapshot)

	markerIdx := -1
	for i := len(lines) - 1; i >= 0; i-- {
		if waitingConfB.MatchString(lines[i]) || applyConfB.MatchString(lines[i]) {
			markerIdx = i
			break
		}
	}
	if markerIdx < 0 {
		return nil
	}

	ctxStart := markerIdx
	for ctxStart > 0 {
		l := strings.TrimSpace(lines[ctxStart-1])
		if l == "" {
			break
		}
		ctxStart--
	}
	ctx := strings.TrimSpace(strings.Join(lines[ctxStart:markerIdx+1], "\n"))
	conf := &record.ParsedConfirmation{Context: ctx}

	if prior := extractResultLinesB(lines[:ctxStart]); prior != nil {
		if prior.ShellOutput != nil {
			conf.PriorShellOutput = prior.ShellOutput
		}
		conf.PriorExitCode = prior.ExitCode
	}
	return conf
}

func (BackendB) ReplyMarker(snapshot string) string {
	lines := stripLinesB(snapshot)
	if start, end, _, ok := boxBoundsB(lines); ok {
		if start+1 < end {
			return lines[start+1]
		}
		return lines[start]
	}
	return trailingTextB(lines)
}

func (BackendB) BulletCount(snapshot string) int {
	count := 0
	for _, l := range stripLinesB(snapshot) {
		if boxOpenRe.MatchString(strings.TrimSpace(l)) {
			count++
		}
	}
	return count
}

func (BackendB) HasSpinner(snapshot string) bool {
	return strings.ContainsAny(snapshot, "⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏")
}
