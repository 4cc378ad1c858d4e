package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// HistoryVersion is the current version of the encoded turn list.
//
// Version history:
//   - 0: bare JSON array of {role, content} objects, no envelope.
//   - 1: envelope {"version":1,"turns":[...]} with tool exchanges on assistant turns.
const HistoryVersion = 1

// ErrUnsupportedHistoryVersion is returned when a stored history was written by a newer release.
var ErrUnsupportedHistoryVersion = errors.New("unsupported history version")

// History is the ordered turn list of a thread.
type History struct {
	Version int    `json:"version"`
	Turns   []Turn `json:"turns"`
}

// Turn is one message within a thread's history.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Tools records the tool calls made while producing an assistant turn.
	// They are kept for audit and are not replayed to the model.
	Tools []ToolExchange `json:"tools,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
}

// ToolExchange pairs a tool call with its result.
type ToolExchange struct {
	Call   ToolCall   `json:"call"`
	Result ToolResult `json:"result"`
}

// NewHistory returns an empty history at the current version.
func NewHistory() *History {
	return &History{Version: HistoryVersion, Turns: []Turn{}}
}

// Append adds a turn to the end of the history.
func (h *History) Append(turn Turn) {
	h.Turns = append(h.Turns, turn)
}

// Len returns the number of turns.
func (h *History) Len() int {
	if h == nil {
		return 0
	}
	return len(h.Turns)
}

// Clone returns a deep copy of the history's turn list.
func (h *History) Clone() *History {
	if h == nil {
		return NewHistory()
	}
	out := &History{Version: h.Version, Turns: make([]Turn, len(h.Turns))}
	for i, turn := range h.Turns {
		out.Turns[i] = turn
		if len(turn.Tools) > 0 {
			out.Turns[i].Tools = append([]ToolExchange(nil), turn.Tools...)
		}
	}
	return out
}

// EncodeHistory serializes a history at the current version.
func EncodeHistory(h *History) ([]byte, error) {
	if h == nil {
		h = NewHistory()
	}
	envelope := History{Version: HistoryVersion, Turns: h.Turns}
	if envelope.Turns == nil {
		envelope.Turns = []Turn{}
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to encode history: %w", err)
	}
	return data, nil
}

// DecodeHistory parses a stored history, migrating older versions forward.
// An empty payload decodes to an empty history.
func DecodeHistory(data []byte) (*History, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return NewHistory(), nil
	}

	if trimmed[0] == '[' {
		var turns []Turn
		if err := json.Unmarshal(trimmed, &turns); err != nil {
			return nil, fmt.Errorf("failed to decode legacy history: %w", err)
		}
		if turns == nil {
			turns = []Turn{}
		}
		return &History{Version: HistoryVersion, Turns: turns}, nil
	}

	var h History
	if err := json.Unmarshal(trimmed, &h); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	if h.Version > HistoryVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedHistoryVersion, h.Version)
	}
	if h.Version < 1 {
		return nil, fmt.Errorf("failed to decode history: missing version")
	}
	if h.Turns == nil {
		h.Turns = []Turn{}
	}
	for i, turn := range h.Turns {
		switch turn.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return nil, fmt.Errorf("failed to decode history: turn %d has unknown role %q", i, turn.Role)
		}
	}
	h.Version = HistoryVersion
	return &h, nil
}
