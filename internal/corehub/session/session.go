// Package session implements the Session Store: durable conversation and
// scene state behind a dual-backend policy (a Postgres primary, a
// filesystem fallback), so a database outage degrades sessions instead of
// failing every request.
package session

import (
	"time"

	"gorm.io/datatypes"
)

const maxConversationHistory = 50

// MessageRole is the closed set of message origins.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleJob       MessageRole = "job"
)

// Message is one turn of a session's conversation history.
type Message struct {
	Timestamp        time.Time      `json:"timestamp"`
	Role             MessageRole    `json:"role"`
	Content          string         `json:"content"`
	Commands         []Command      `json:"commands,omitempty"`
	ExecutionResults []ExecResult   `json:"execution_results,omitempty"`
	JobID            string         `json:"job_id,omitempty"`
	JobInfo          map[string]any `json:"job_info,omitempty"`
}

// Command is a structured request issued as part of a message.
type Command struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params"`
}

// ExecResult is the outcome of executing one Command.
type ExecResult struct {
	Success bool           `json:"success"`
	Result  map[string]any `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// SceneState is the latest known state of the editor scene, reconstructed
// from successfully executed commands (invariant I8).
type SceneState struct {
	Actors      []map[string]any `json:"actors,omitempty"`
	Lights      []map[string]any `json:"lights,omitempty"`
	Sky         map[string]any   `json:"sky,omitempty"`
	Geolocation map[string]any   `json:"geolocation,omitempty"`
}

// Context is the full session document.
type Context struct {
	SessionID           string         `json:"session_id"`
	SessionName         string         `json:"session_name"`
	CreatedAt           time.Time      `json:"created_at"`
	LastAccessed        time.Time      `json:"last_accessed"`
	ConversationHistory []Message      `json:"conversation_history"`
	SceneState          SceneState     `json:"scene_state"`
	UserPreferences     map[string]any `json:"user_preferences,omitempty"`
	LLMModel            string         `json:"llm_model,omitempty"`
}

// AppendMessage appends a message, truncating the oldest entries once the
// history exceeds maxConversationHistory (invariant I7).
func (c *Context) AppendMessage(m Message) {
	c.ConversationHistory = append(c.ConversationHistory, m)
	if len(c.ConversationHistory) > maxConversationHistory {
		overflow := len(c.ConversationHistory) - maxConversationHistory
		c.ConversationHistory = c.ConversationHistory[overflow:]
	}
}

// row is the Postgres-backed representation: one row per session with a
// JSONB document column carrying everything that doesn't need to be
// queried directly.
type row struct {
	SessionID    string `gorm:"primaryKey;column:session_id"`
	SessionName  string
	CreatedAt    time.Time
	LastAccessed time.Time `gorm:"index"`
	Document     datatypes.JSON
}

func (row) TableName() string { return "session_contexts" }
