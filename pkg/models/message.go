// Package models provides domain types shared by the mailops packages.
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Direction indicates if an exchange record was received or sent.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool {
	return d == DirectionInbound || d == DirectionOutbound
}

// Role indicates the turn author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name,omitempty"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ConversationThread is one logical email exchange.
type ConversationThread struct {
	ID        string `json:"id"`
	ThreadKey string `json:"thread_key"`

	// History is the opaque encoded turn list. See EncodeHistory.
	History []byte `json:"-"`

	// Version increments on every commit and guards against lost updates.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsNew reports whether the thread has never been committed.
func (t *ConversationThread) IsNew() bool {
	return t != nil && t.Version == 0
}

// ExchangeRecord is one inbound or outbound message in a thread's audit trail.
type ExchangeRecord struct {
	ID                 string    `json:"id"`
	ThreadID           string    `json:"thread_id"`
	Direction          Direction `json:"direction"`
	ParticipantAddress string    `json:"participant_address"`
	Content            string    `json:"content"`
	CreatedAt          time.Time `json:"created_at"`
}

// InboundMessage is the normalized form of a received email.
type InboundMessage struct {
	MessageID       string `json:"message_id,omitempty"`
	FromAddress     string `json:"from_address"`
	Subject         string `json:"subject"`
	TextBody        string `json:"text_body"`
	CorrelationHint string `json:"correlation_hint,omitempty"`
}

// DeliveryRequest is handed to the outbound mail collaborator after a turn commits.
type DeliveryRequest struct {
	ThreadKey       string   `json:"thread_key"`
	ToAddress       string   `json:"to_address"`
	Subject         string   `json:"subject"`
	BodyMarkdown    string   `json:"body_markdown"`
	AttachmentPaths []string `json:"attachment_paths,omitempty"`
}

// NormalizeAddress lowercases and trims an email address for comparison.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
