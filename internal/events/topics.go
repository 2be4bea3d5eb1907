package events

import "github.com/neboloop/duocode/internal/record"

// Topics a Subject carries for the debate boundary. Each has exactly one
// associated event type below.
const (
	TopicAssistantText = "assistant_text"
	TopicCLIToolResult = "cli_tool_result"
	TopicError         = "error"
)

// AssistantTextEvent carries the full latest reply text for one backend.
// Never a delta, since a pane snapshot has no concept of "since last time".
type AssistantTextEvent struct {
	Target  record.Role
	Content string
}

// CLIToolResultEvent carries a completed or pending tool invocation.
type CLIToolResultEvent struct {
	Target   record.Role
	ToolInfo *record.ToolInfo
}

// ErrorEvent surfaces a backend or session error to the UI layer.
type ErrorEvent struct {
	Target  record.Role
	Message string
}
