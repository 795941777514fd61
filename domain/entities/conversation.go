package entities

import "strings"

// CommandKind is the intent recognised in a free-text command
type CommandKind string

const (
	CommandLogin        CommandKind = "login"
	CommandSearch       CommandKind = "search"
	CommandExit         CommandKind = "exit"
	CommandUnrecognized CommandKind = "unrecognized"
)

// Command represents a parsed user command
type Command struct {
	Kind CommandKind `json:"kind"`
	Term string      `json:"term,omitempty"`
	Raw  string      `json:"raw"`
}

// PendingAction - the single action waiting to be executed by the dispatcher
type PendingAction struct {
	Kind CommandKind `json:"kind"`
	Term string      `json:"term,omitempty"`
}

// Plan maps the pending action to a workflow subset
func (p PendingAction) Plan() (Plan, bool) {
	switch p.Kind {
	case CommandLogin:
		return PlanLogin, true
	case CommandSearch:
		return PlanSearch, true
	}
	return "", false
}

func (p PendingAction) String() string {
	if p.Term == "" {
		return string(p.Kind)
	}
	return string(p.Kind) + "[" + p.Term + "]"
}

// ConversationContext accumulates command history and at most one pending action
type ConversationContext struct {
	history []string
	pending *PendingAction
}

// Record appends a raw command to the history
func (c *ConversationContext) Record(command string) {
	c.history = append(c.history, command)
}

// History returns a copy of every command seen so far
func (c *ConversationContext) History() []string {
	return append([]string(nil), c.history...)
}

// SetPending replaces the pending action
func (c *ConversationContext) SetPending(p PendingAction) {
	c.pending = &p
}

// Pending returns the pending action, if any
func (c *ConversationContext) Pending() (PendingAction, bool) {
	if c.pending == nil {
		return PendingAction{}, false
	}
	return *c.pending, true
}

// ClearPending empties the pending slot. History is kept.
func (c *ConversationContext) ClearPending() {
	c.pending = nil
}

// LastCommand returns the most recent history entry
func (c *ConversationContext) LastCommand() string {
	if len(c.history) == 0 {
		return ""
	}
	return strings.TrimSpace(c.history[len(c.history)-1])
}
