// Package routing parses the @-tag a user types to steer a message at one
// of the two debate backends, and formats per-backend chat context. The
// parsing style (prefix/suffix scanning over split tokens, no regexp)
// follows the donor codebase's hierarchical session-key parser.
package routing

import (
	"strings"

	"github.com/neboloop/duocode/internal/record"
)

// Target names a routing destination. The empty Target means "ask the UI".
type Target string

const (
	TargetNone Target = ""
	TargetA    Target = "A"
	TargetB    Target = "B"
)

// Aliases recognized for each target, lower-cased. Short forms are the
// canonical donor-style nicknames; long forms are the backend's full name.
var aliases = map[string]Target{
	"cc":    TargetA,
	"claude": TargetA,
	"g":     TargetB,
	"gemini": TargetB,
}

// ParseTag extracts an optional routing tag from user input. A tag is a
// token matching (^|whitespace)@alias(whitespace|end), case-insensitive.
// At most one tag is honored (the first found); it is stripped and
// internal whitespace in the remainder is collapsed to single spaces.
// No tag present is not an error: it returns (TargetNone, collapsedInput).
func ParseTag(input string) (Target, string) {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return TargetNone, ""
	}

	for i, tok := range fields {
		if !strings.HasPrefix(tok, "@") {
			continue
		}
		alias := strings.ToLower(tok[1:])
		target, ok := aliases[alias]
		if !ok {
			continue
		}
		rest := make([]string, 0, len(fields)-1)
		rest = append(rest, fields[:i]...)
		rest = append(rest, fields[i+1:]...)
		return target, strings.Join(rest, " ")
	}

	return TargetNone, strings.Join(fields, " ")
}

// roleLabel returns the per-role label used when formatting context
// entries: "USER asks"/"USER said"/"A said"/"B said".
func roleLabel(role record.Role, isLastUser bool) string {
	switch role {
	case record.RoleUser:
		if isLastUser {
			return "USER asks"
		}
		return "USER said"
	case record.RoleA:
		return "A said"
	case record.RoleB:
		return "B said"
	default:
		return string(role) + " said"
	}
}

// FormatContext builds the chat-context block for a set of prior
// messages: a header, then one line per message using the per-role
// label. lastUserIdx is the index (within msgs) of the most recent user
// message, or -1 if none.
func FormatContext(msgs []record.Message, lastUserIdx int) string {
	if len(msgs) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("[Chat context, reply to last USER message]")
	for i, m := range msgs {
		b.WriteString("\n")
		b.WriteString(roleLabel(m.Role, i == lastUserIdx))
		b.WriteString(" ")
		b.WriteString(m.Content)
	}
	return b.String()
}

// BuildPrompt concatenates a context block (possibly empty) with the
// cleaned user message. No colon follows "asks": a colon would be
// mistaken for a command prefix by some backend shells.
func BuildPrompt(context, cleanMessage string) string {
	if context == "" {
		return "USER asks " + cleanMessage
	}
	return context + "\nUSER asks " + cleanMessage
}
