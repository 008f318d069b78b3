// Per-conversation write serialization
package service

import "sync"

// ConversationLockManager serializes writes to a single conversation.
// Appends, rethreads, status changes and deletes on the same conversation
// take the same lock; operations on different conversations never contend.
type ConversationLockManager struct {
	locks map[string]*sync.Mutex
	mu    sync.Mutex
}

// NewConversationLockManager creates a new ConversationLockManager.
func NewConversationLockManager() *ConversationLockManager {
	return &ConversationLockManager{
		locks: make(map[string]*sync.Mutex),
	}
}

// getLock returns the mutex for a conversation, creating one if needed.
func (m *ConversationLockManager) getLock(conversationID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.locks[conversationID] == nil {
		m.locks[conversationID] = &sync.Mutex{}
	}
	return m.locks[conversationID]
}

// Lock acquires the write lock for a conversation.
func (m *ConversationLockManager) Lock(conversationID string) {
	m.getLock(conversationID).Lock()
}

// Unlock releases the write lock for a conversation.
func (m *ConversationLockManager) Unlock(conversationID string) {
	m.getLock(conversationID).Unlock()
}
