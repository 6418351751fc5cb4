package types

import (
	"bytes"
	"encoding/json"
)

// ToolCall is a structured directive recognized in model output: a named
// capability plus a JSON argument tree, with provenance back to the
// assistant message and turn that produced it.
type ToolCall struct {
	Name string         `json:"tool"`
	Args map[string]any `json:"args"`

	// Provenance. Not part of the wire format.
	MessageID string `json:"-"`
	Turn      int    `json:"-"`
}

// ArgsJSON returns the argument tree as compact canonical JSON.
func (c ToolCall) ArgsJSON() json.RawMessage {
	return MarshalArgs(c.Args)
}

// Equal reports whether two calls have the same name and argument tree.
// Used by duplicate suppression; provenance is ignored.
func (c ToolCall) Equal(other ToolCall) bool {
	if c.Name != other.Name {
		return false
	}
	return bytes.Equal(c.ArgsJSON(), other.ArgsJSON())
}

// ToolResult is the outcome of executing one tool call.
type ToolResult struct {
	CallID string `json:"callID,omitempty"`
	Name   string `json:"name"`
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}

// IsError reports whether the execution failed.
func (r ToolResult) IsError() bool { return r.Error != "" }
