package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOnDispatchesMatchingEventsOnly(t *testing.T) {
	emitter := NewEmitter()

	var got []string
	emitter.On(MessageAppended, func(ev Event) {
		got = append(got, ev.EventName())
	})

	emitter.Emit(MessageAppendedEvent{ConversationID: "c1", MessageID: "m1", ThreadID: "t1", Seq: 1})
	emitter.Emit(ConversationCreatedEvent{ConversationID: "c1"})

	assert.Equal(t, []string{MessageAppended}, got)
}

func TestOnAnyReceivesEverything(t *testing.T) {
	emitter := NewEmitter()

	var got []string
	emitter.OnAny(func(ev Event) {
		got = append(got, ev.EventName())
	})

	emitter.Emit(ConversationCreatedEvent{ConversationID: "c1"})
	emitter.Emit(ThreadCreatedEvent{ConversationID: "c1", ThreadID: "t1"})

	assert.Equal(t, []string{ConversationCreated, ThreadCreated}, got)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	emitter := NewEmitter()

	calls := 0
	unsubscribe := emitter.On(ConversationDeleted, func(Event) { calls++ })

	emitter.Emit(ConversationDeletedEvent{ConversationID: "c1"})
	unsubscribe()
	emitter.Emit(ConversationDeletedEvent{ConversationID: "c1"})

	assert.Equal(t, 1, calls)
}

func TestEventToData(t *testing.T) {
	data := eventToData(MessageAppendedEvent{ConversationID: "c1", MessageID: "m1", ThreadID: "t1", Seq: 7})
	assert.Equal(t, map[string]any{
		"conversation_id": "c1",
		"message_id":      "m1",
		"thread_id":       "t1",
		"seq":             7,
	}, data)

	data = eventToData(ConversationRethreadedEvent{ConversationID: "c1", ThreadCount: 3})
	assert.Equal(t, map[string]any{"conversation_id": "c1", "thread_count": 3}, data)
}
