// Database models for conversation threads
package db

import "time"

// Thread is a topical sub-grouping of messages within a conversation.
// Threads are created by the threading engine (or lazily as the implicit
// "main" thread when auto threading is off) and are only removed when the
// owning conversation is deleted or rethreaded.
type Thread struct {
	ID             string `json:"id" gorm:"primaryKey;size:36"`
	ConversationID string `json:"conversation_id" gorm:"index;size:36;not null"` // immutable once set
	Title          string `json:"title" gorm:"size:200"`
	Description    string `json:"description,omitempty" gorm:"type:text"`
	Type           string `json:"type" gorm:"size:20;default:'general'"`
	Status         string `json:"status" gorm:"size:20;default:'active'"`

	// TopicKeywords is relevance-ranked: the first entry is the strongest
	// topic signal. Bounded to the engine's keyword limit.
	TopicKeywords StringArray `json:"topic_keywords,omitempty" gorm:"type:json"`

	MessageCount int `json:"message_count" gorm:"default:0"`

	// FirstSeq is the sequence number of the message that opened the
	// thread; it never changes and gives threads a stable, deterministic
	// ordering independent of row creation time.
	FirstSeq int `json:"first_seq" gorm:"default:0"`

	// LastSeq is the sequence number of the most recent member message,
	// used for recency decay when scoring candidate threads.
	LastSeq int `json:"last_seq" gorm:"default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Thread) TableName() string {
	return "threads"
}

// Thread status
const (
	ThreadStatusActive = "active"
)
