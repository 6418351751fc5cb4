package event

import "github.com/openloop-ai/openloop/pkg/types"

// TurnStartedData accompanies TurnStarted.
type TurnStartedData struct {
	SessionID string `json:"sessionID"`
	Turn      int    `json:"turn"`
}

// TurnFinishedData accompanies TurnFinished.
type TurnFinishedData struct {
	SessionID string `json:"sessionID"`
	Turn      int    `json:"turn"`
	Outcome   string `json:"outcome"` // "done" | "auto_continue" | "fatal"
	Error     string `json:"error,omitempty"`
}

// DisplayDeltaData accompanies DisplayDelta.
type DisplayDeltaData struct {
	SessionID string `json:"sessionID"`
	Text      string `json:"text"`
}

// ToolDetectedData accompanies ToolDetected.
type ToolDetectedData struct {
	SessionID string         `json:"sessionID"`
	Call      types.ToolCall `json:"call"`
}

// ToolExecutedData accompanies ToolExecuted.
type ToolExecutedData struct {
	SessionID  string           `json:"sessionID"`
	Result     types.ToolResult `json:"result"`
	DurationMS int64            `json:"durationMS"`
}

// ContextCompactedData accompanies ContextCompacted.
type ContextCompactedData struct {
	SessionID        string `json:"sessionID"`
	Sequence         int    `json:"sequence"`
	MessagesReplaced int    `json:"messagesReplaced"`
	TokensReclaimed  int    `json:"tokensReclaimed"`
	DehydratedTo     string `json:"dehydratedTo,omitempty"`
}

// FileEditedData accompanies FileEdited.
type FileEditedData struct {
	SessionID string `json:"sessionID,omitempty"`
	File      string `json:"file"`
}

// SessionPersistedData accompanies SessionPersisted.
type SessionPersistedData struct {
	SessionID string `json:"sessionID"`
	Path      string `json:"path"`
}
