// Database models for conversations
package db

import "time"

// Conversation represents a chat conversation owned by a single user.
//
// MessageCount, ThreadCount and LastSeq are maintained incrementally by the
// service layer inside the same transaction as the write that changes them;
// they are never recomputed lazily.
type Conversation struct {
	ID          string      `json:"id" gorm:"primaryKey;size:36"`
	OwnerID     string      `json:"owner_id" gorm:"index;size:64;not null"`
	Title       string      `json:"title" gorm:"size:200;default:'New Conversation'"`
	Description string      `json:"description,omitempty" gorm:"type:text"`
	Type        string      `json:"type" gorm:"size:20;default:'general'"` // see ConversationType* constants
	Status      string      `json:"status" gorm:"size:20;default:'active'"`
	Tags        StringArray `json:"tags,omitempty" gorm:"type:json"`

	// Threading configuration, fixed at creation time and immutable after.
	AutoThreading     bool   `json:"auto_threading" gorm:"default:true"`
	ThreadingStrategy string `json:"threading_strategy" gorm:"size:20;default:'hybrid'"` // topic_similarity, temporal_proximity, hybrid

	MessageCount int `json:"message_count" gorm:"default:0"`
	ThreadCount  int `json:"thread_count" gorm:"default:0"`

	// LastSeq is the sequence number of the most recently appended message.
	// The next append receives LastSeq+1, so sequences stay gap-free even
	// though messages are only ever deleted by whole-conversation cascade.
	LastSeq int `json:"last_seq" gorm:"default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// Conversation status
const (
	ConversationStatusActive    = "active"
	ConversationStatusPaused    = "paused"
	ConversationStatusCompleted = "completed"
	ConversationStatusArchived  = "archived"
)

// Conversation types
const (
	ConversationTypeGeneral        = "general"
	ConversationTypeQuestionAnswer = "question_answer"
	ConversationTypeBrainstorming  = "brainstorming"
	ConversationTypeProblemSolving = "problem_solving"
	ConversationTypeLearning       = "learning"
	ConversationTypeCreative       = "creative"
	ConversationTypeTechnical      = "technical"
	ConversationTypeResearch       = "research"
	ConversationTypePlanning       = "planning"
	ConversationTypeDiscussion     = "discussion"
)

// ConversationStatuses lists all valid conversation statuses.
var ConversationStatuses = []string{
	ConversationStatusActive,
	ConversationStatusPaused,
	ConversationStatusCompleted,
	ConversationStatusArchived,
}

// ConversationTypes lists all valid conversation types.
var ConversationTypes = []string{
	ConversationTypeGeneral,
	ConversationTypeQuestionAnswer,
	ConversationTypeBrainstorming,
	ConversationTypeProblemSolving,
	ConversationTypeLearning,
	ConversationTypeCreative,
	ConversationTypeTechnical,
	ConversationTypeResearch,
	ConversationTypePlanning,
	ConversationTypeDiscussion,
}

// Threading strategies
const (
	StrategyTopicSimilarity   = "topic_similarity"
	StrategyTemporalProximity = "temporal_proximity"
	StrategyHybrid            = "hybrid"
)

// ThreadingStrategies lists all valid threading strategies.
var ThreadingStrategies = []string{
	StrategyTopicSimilarity,
	StrategyTemporalProximity,
	StrategyHybrid,
}

// IsValidConversationStatus reports whether s is a known conversation status.
func IsValidConversationStatus(s string) bool {
	for _, v := range ConversationStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsValidConversationType reports whether t is a known conversation type.
func IsValidConversationType(t string) bool {
	for _, v := range ConversationTypes {
		if v == t {
			return true
		}
	}
	return false
}

// IsValidThreadingStrategy reports whether s is a known threading strategy.
func IsValidThreadingStrategy(s string) bool {
	for _, v := range ThreadingStrategies {
		if v == s {
			return true
		}
	}
	return false
}
