// Package dataset discovers, loads and formats the conversational training data.
package dataset

import (
	"encoding/json"
	"fmt"
)

// Valid conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

var validRoles = map[string]struct{}{
	RoleSystem:    {},
	RoleUser:      {},
	RoleAssistant: {},
	RoleTool:      {},
}

// Turn is a single (role, content) entry of a conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Example is one training record as read from a JSONL source.
type Example struct {
	Messages []Turn `json:"messages,omitempty"`

	// Source and Line locate the record for diagnostics.
	Source string `json:"-"`
	Line   int    `json:"-"`

	hasMessages bool
}

// NewExample builds an Example that carries a conversation.
func NewExample(turns ...Turn) Example {
	return Example{Messages: turns, hasMessages: true}
}

// HasMessages reports whether the record had a non-null, non-empty
// "messages" field.
func (e Example) HasMessages() bool {
	return e.hasMessages && len(e.Messages) > 0
}

// Location is "<source>:<line>", or "" when unknown.
func (e Example) Location() string {
	if e.Source == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", e.Source, e.Line)
}

// Validate checks that every turn has a known role.
func (e Example) Validate() error {
	for i, t := range e.Messages {
		if _, ok := validRoles[t.Role]; !ok {
			return fmt.Errorf("%w: turn %d has role %q", ErrMalformedTurn, i, t.Role)
		}
	}
	return nil
}

func (e *Example) UnmarshalJSON(data []byte) error {
	var raw struct {
		Messages json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Messages = nil
	e.hasMessages = false
	if len(raw.Messages) == 0 || string(raw.Messages) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw.Messages, &e.Messages); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedTurn, err)
	}
	e.hasMessages = true
	return nil
}

// SourceStats records how many examples one file contributed.
type SourceStats struct {
	Path  string
	Count int
}

// Collection is the ordered concatenation of every loaded source.
type Collection struct {
	Examples []Example
	Sources  []SourceStats
}

func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Examples)
}

// Record is a formatted example ready for the trainer.
type Record struct {
	Text string `json:"text"`
}
