// Database models for chat messages
package db

import "time"

// Message represents a single message in a conversation.
//
// Seq is assigned at append time from the conversation's LastSeq counter and
// is the single source of truth for ordering: all processing walks messages
// in Seq order, never by wall-clock timestamp, so clock skew cannot reorder
// anything.
type Message struct {
	ID             string  `json:"id" gorm:"primaryKey;size:36"`
	ConversationID string  `json:"conversation_id" gorm:"index;size:36;not null"`
	ThreadID       *string `json:"thread_id,omitempty" gorm:"index;size:36"` // nil until assigned

	Role    string `json:"role" gorm:"size:20;not null"` // user, assistant, system
	Content string `json:"content" gorm:"type:text"`

	Seq        int  `json:"seq" gorm:"index;not null"` // monotonic, gap-free per conversation
	TokenCount int  `json:"token_count,omitempty"`
	Edited     bool `json:"edited" gorm:"default:false"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Message) TableName() string {
	return "messages"
}

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// MessageRoles lists all valid message roles.
var MessageRoles = []string{RoleUser, RoleAssistant, RoleSystem}

// IsValidRole reports whether r is a known message role.
func IsValidRole(r string) bool {
	for _, v := range MessageRoles {
		if v == r {
			return true
		}
	}
	return false
}

// EstimateTokens estimates the token count of a piece of content.
// Rough estimate: 1 token is about 4 characters, plus role/metadata overhead.
func EstimateTokens(content string) int {
	return len(content)/4 + 10
}
