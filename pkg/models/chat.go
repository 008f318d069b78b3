// API types for the conversation organization engine
package models

import (
	"time"

	"github.com/robert1948/localstorm-sub001/pkg/db"
)

// ========== Type aliases for database types ==========
// These allow other packages to use models.Message instead of db.Message

type Conversation = db.Conversation
type Thread = db.Thread
type Message = db.Message
type StringArray = db.StringArray

// ========== Constant aliases from db package ==========

// Conversation status constants
const (
	ConversationStatusActive    = db.ConversationStatusActive
	ConversationStatusPaused    = db.ConversationStatusPaused
	ConversationStatusCompleted = db.ConversationStatusCompleted
	ConversationStatusArchived  = db.ConversationStatusArchived
)

// Message role constants
const (
	RoleUser      = db.RoleUser
	RoleAssistant = db.RoleAssistant
	RoleSystem    = db.RoleSystem
)

// Threading strategy constants
const (
	StrategyTopicSimilarity   = db.StrategyTopicSimilarity
	StrategyTemporalProximity = db.StrategyTemporalProximity
	StrategyHybrid            = db.StrategyHybrid
)

// ========== Conversation API types ==========

// CreateConversationRequest represents a request to create a conversation
type CreateConversationRequest struct {
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Type        string   `json:"type,omitempty"`
	Tags        []string `json:"tags,omitempty"`

	// Threading configuration, immutable after creation.
	AutoThreading     *bool  `json:"auto_threading,omitempty"` // default true
	ThreadingStrategy string `json:"threading_strategy,omitempty"`
}

// UpdateConversationRequest represents a request to update a conversation
type UpdateConversationRequest struct {
	Title  string `json:"title,omitempty"`
	Status string `json:"status,omitempty"`
}

// AppendMessageRequest represents a request to append a message
type AppendMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ConversationListResponse represents the response for listing conversations
type ConversationListResponse struct {
	Conversations []Conversation `json:"conversations"`
	HasMore       bool           `json:"has_more"`
}

// ConversationFilters holds the structured filters accepted by list/search.
// Tags is conjunctive: a conversation matches only if it carries every
// requested tag.
type ConversationFilters struct {
	Status string
	Type   string
	Tags   []string
	From   *time.Time
	To     *time.Time
}
