package event

// ============================================================================
// Event Names (constants)
// ============================================================================

const (
	ConversationCreated    = "conversation.created"
	ConversationUpdated    = "conversation.updated"
	ConversationDeleted    = "conversation.deleted"
	ConversationRethreaded = "conversation.rethreaded"
	MessageAppended        = "message.appended"
	ThreadCreated          = "thread.created"
)

// ============================================================================
// Conversation Events
// ============================================================================

// ConversationCreatedEvent is emitted when a conversation is created.
type ConversationCreatedEvent struct {
	ConversationID string
}

func (e ConversationCreatedEvent) EventName() string { return ConversationCreated }

// ConversationUpdatedEvent is emitted when a conversation's title or status
// changes.
type ConversationUpdatedEvent struct {
	ConversationID string
	Status         string
}

func (e ConversationUpdatedEvent) EventName() string { return ConversationUpdated }

// ConversationDeletedEvent is emitted after a conversation and all of its
// threads and messages have been removed.
type ConversationDeletedEvent struct {
	ConversationID string
}

func (e ConversationDeletedEvent) EventName() string { return ConversationDeleted }

// ConversationRethreadedEvent is emitted after a rethread replay replaces a
// conversation's thread set.
type ConversationRethreadedEvent struct {
	ConversationID string
	ThreadCount    int
}

func (e ConversationRethreadedEvent) EventName() string { return ConversationRethreaded }

// ============================================================================
// Message / Thread Events
// ============================================================================

// MessageAppendedEvent is emitted when a message is appended and assigned
// to a thread.
type MessageAppendedEvent struct {
	ConversationID string
	MessageID      string
	ThreadID       string
	Seq            int
}

func (e MessageAppendedEvent) EventName() string { return MessageAppended }

// ThreadCreatedEvent is emitted when the threading engine opens a new
// thread.
type ThreadCreatedEvent struct {
	ConversationID string
	ThreadID       string
}

func (e ThreadCreatedEvent) EventName() string { return ThreadCreated }

// eventToData flattens a typed event into the generic WebSocket payload.
func eventToData(ev Event) map[string]any {
	switch e := ev.(type) {
	case ConversationCreatedEvent:
		return map[string]any{"conversation_id": e.ConversationID}
	case ConversationUpdatedEvent:
		return map[string]any{"conversation_id": e.ConversationID, "status": e.Status}
	case ConversationDeletedEvent:
		return map[string]any{"conversation_id": e.ConversationID}
	case ConversationRethreadedEvent:
		return map[string]any{"conversation_id": e.ConversationID, "thread_count": e.ThreadCount}
	case MessageAppendedEvent:
		return map[string]any{"conversation_id": e.ConversationID, "message_id": e.MessageID, "thread_id": e.ThreadID, "seq": e.Seq}
	case ThreadCreatedEvent:
		return map[string]any{"conversation_id": e.ConversationID, "thread_id": e.ThreadID}
	default:
		return nil
	}
}
