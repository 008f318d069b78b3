package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert1948/localstorm-sub001/pkg/config"
	"github.com/robert1948/localstorm-sub001/pkg/db"
	"github.com/robert1948/localstorm-sub001/pkg/event"
	"github.com/robert1948/localstorm-sub001/pkg/models"
)

const testOwner = "local"

func newTestService(t *testing.T) (*ConversationService, *event.Emitter) {
	t.Helper()
	gdb := newTestDB(t)
	search, err := NewSearchService(gdb)
	require.NoError(t, err)
	emitter := event.NewEmitter()
	svc := NewConversationService(gdb, &config.AppConfig{}, search, NewMemorySnapshotCache(), emitter)
	return svc, emitter
}

func createConversation(t *testing.T, svc *ConversationService, req *models.CreateConversationRequest) *db.Conversation {
	t.Helper()
	conv, err := svc.Create(context.Background(), testOwner, req)
	require.NoError(t, err)
	return conv
}

func appendText(t *testing.T, svc *ConversationService, convID, role, content string) *db.Message {
	t.Helper()
	msg, err := svc.AppendMessage(context.Background(), testOwner, convID, &models.AppendMessageRequest{
		Role: role, Content: content,
	})
	require.NoError(t, err)
	return msg
}

// ========== Create / Get / Update / Delete ==========

func TestCreateConversationDefaults(t *testing.T) {
	svc, _ := newTestService(t)

	conv := createConversation(t, svc, &models.CreateConversationRequest{})
	assert.Equal(t, "New Conversation", conv.Title)
	assert.Equal(t, db.ConversationTypeGeneral, conv.Type)
	assert.Equal(t, db.ConversationStatusActive, conv.Status)
	assert.Equal(t, db.StrategyHybrid, conv.ThreadingStrategy)
	assert.True(t, conv.AutoThreading)
	assert.Equal(t, 0, conv.LastSeq)
}

func TestCreateConversationValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, testOwner, &models.CreateConversationRequest{Type: "poetry"})
	assert.True(t, IsValidation(err))

	_, err = svc.Create(ctx, testOwner, &models.CreateConversationRequest{ThreadingStrategy: "random"})
	assert.True(t, IsValidation(err))
}

func TestGetConversationNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Get(context.Background(), testOwner, "missing")
	assert.True(t, IsNotFound(err))

	// Another owner's conversation is indistinguishable from a missing one.
	conv := createConversation(t, svc, &models.CreateConversationRequest{Title: "Mine"})
	_, err = svc.Get(context.Background(), "someone-else", conv.ID)
	assert.True(t, IsNotFound(err))
}

func TestStatusTransitions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	set := func(convID, status string) error {
		_, err := svc.Update(ctx, testOwner, convID, &models.UpdateConversationRequest{Status: status})
		return err
	}

	conv := createConversation(t, svc, &models.CreateConversationRequest{})

	require.NoError(t, set(conv.ID, db.ConversationStatusPaused))
	require.NoError(t, set(conv.ID, db.ConversationStatusActive))
	require.NoError(t, set(conv.ID, db.ConversationStatusCompleted))

	// Completed can only be archived; anything else is a request that can
	// never succeed, so it fails validation rather than conflicting.
	err := set(conv.ID, db.ConversationStatusActive)
	assert.True(t, IsValidation(err))
	err = set(conv.ID, db.ConversationStatusPaused)
	assert.True(t, IsValidation(err))

	require.NoError(t, set(conv.ID, db.ConversationStatusArchived))

	// Archived is terminal.
	err = set(conv.ID, db.ConversationStatusActive)
	assert.True(t, IsValidation(err))
}

func TestUpdateTitleReindexes(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conv := createConversation(t, svc, &models.CreateConversationRequest{Title: "Draft"})
	_, err := svc.Update(ctx, testOwner, conv.ID, &models.UpdateConversationRequest{Title: "Zanzibar itinerary"})
	require.NoError(t, err)

	resp, err := svc.List(ctx, testOwner, "zanzibar", models.ConversationFilters{}, 10, 0)
	require.NoError(t, err)
	require.Len(t, resp.Conversations, 1)
	assert.Equal(t, "Zanzibar itinerary", resp.Conversations[0].Title)

	resp, err = svc.List(ctx, testOwner, "draft", models.ConversationFilters{}, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, resp.Conversations)
}

func TestDeleteConversationCascades(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conv := createConversation(t, svc, &models.CreateConversationRequest{Title: "Ephemeral"})
	appendText(t, svc, conv.ID, db.RoleUser, "something searchable about volcanoes.")

	require.NoError(t, svc.Delete(ctx, testOwner, conv.ID))

	_, err := svc.Get(ctx, testOwner, conv.ID)
	assert.True(t, IsNotFound(err))

	_, _, err = svc.GetMessages(ctx, testOwner, conv.ID, 10, 0)
	assert.True(t, IsNotFound(err))

	resp, err := svc.List(ctx, testOwner, "volcanoes", models.ConversationFilters{}, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, resp.Conversations)
}

// ========== Append ==========

func TestAppendMessageSequencesAndCounts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conv := createConversation(t, svc, &models.CreateConversationRequest{})
	for i := 0; i < 5; i++ {
		role := db.RoleUser
		if i%2 == 1 {
			role = db.RoleAssistant
		}
		msg := appendText(t, svc, conv.ID, role, fmt.Sprintf("message number %d about gardening tomatoes", i))
		assert.Equal(t, i+1, msg.Seq)
		require.NotNil(t, msg.ThreadID)
	}

	got, err := svc.Get(ctx, testOwner, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.MessageCount)
	assert.Equal(t, 5, got.LastSeq)

	messages, hasMore, err := svc.GetMessages(ctx, testOwner, conv.ID, 10, 0)
	require.NoError(t, err)
	assert.False(t, hasMore)
	require.Len(t, messages, 5)
	for i, m := range messages {
		assert.Equal(t, i+1, m.Seq)
	}

	threads, err := svc.GetThreads(ctx, testOwner, conv.ID)
	require.NoError(t, err)
	total := 0
	for _, th := range threads {
		total += th.MessageCount
	}
	assert.Equal(t, 5, total)
	assert.Equal(t, got.ThreadCount, len(threads))
}

func TestAppendMessageValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	conv := createConversation(t, svc, &models.CreateConversationRequest{})

	_, err := svc.AppendMessage(ctx, testOwner, conv.ID, &models.AppendMessageRequest{Role: "narrator", Content: "hi"})
	assert.True(t, IsValidation(err))

	_, err = svc.AppendMessage(ctx, testOwner, conv.ID, &models.AppendMessageRequest{Role: db.RoleUser})
	assert.True(t, IsValidation(err))
}

func TestAppendToArchivedConversationConflicts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conv := createConversation(t, svc, &models.CreateConversationRequest{})
	_, err := svc.Update(ctx, testOwner, conv.ID, &models.UpdateConversationRequest{Status: db.ConversationStatusArchived})
	require.NoError(t, err)

	_, err = svc.AppendMessage(ctx, testOwner, conv.ID, &models.AppendMessageRequest{Role: db.RoleUser, Content: "too late"})
	assert.True(t, IsConflict(err))

	got, err := svc.Get(ctx, testOwner, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.MessageCount)
}

func TestConcurrentAppendsStayGapFree(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	conv := createConversation(t, svc, &models.CreateConversationRequest{})

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.AppendMessage(ctx, testOwner, conv.ID, &models.AppendMessageRequest{
				Role: db.RoleUser, Content: fmt.Sprintf("concurrent note %d", i),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	messages, _, err := svc.GetMessages(ctx, testOwner, conv.ID, n+1, 0)
	require.NoError(t, err)
	require.Len(t, messages, n)
	for i, m := range messages {
		assert.Equal(t, i+1, m.Seq, "sequence numbers must be gap-free")
	}

	got, err := svc.Get(ctx, testOwner, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, n, got.MessageCount)
	assert.Equal(t, n, got.LastSeq)
}

// ========== Threading lifecycle ==========

// Interleaved topics must still land on topically consistent threads, and
// the bookkeeping counters must agree with the actual rows.
func TestThreadingLifecycleAcrossTopics(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conv := createConversation(t, svc, &models.CreateConversationRequest{
		ThreadingStrategy: db.StrategyTopicSimilarity,
	})

	topics := []string{
		"postgres index tuning and query planner statistics",
		"kubernetes ingress websocket upgrade configuration",
		"sourdough starter hydration and baking schedule",
	}
	const perTopic = 10
	for i := 0; i < len(topics)*perTopic; i++ {
		role := db.RoleUser
		if i%2 == 1 {
			role = db.RoleAssistant
		}
		appendText(t, svc, conv.ID, role, fmt.Sprintf("%s, note %d", topics[i%len(topics)], i))
	}

	got, err := svc.Get(ctx, testOwner, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, len(topics)*perTopic, got.MessageCount)
	assert.Equal(t, len(topics)*perTopic, got.LastSeq)

	threads, err := svc.GetThreads(ctx, testOwner, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, got.ThreadCount, len(threads))

	total := 0
	for _, th := range threads {
		assert.NotEmpty(t, th.TopicKeywords)
		total += th.MessageCount
	}
	assert.Equal(t, got.MessageCount, total, "every message belongs to exactly one thread")

	messages, _, err := svc.GetMessages(ctx, testOwner, conv.ID, 100, 0)
	require.NoError(t, err)
	for _, m := range messages {
		require.NotNil(t, m.ThreadID)
	}
}

func TestRethreadIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conv := createConversation(t, svc, &models.CreateConversationRequest{
		ThreadingStrategy: db.StrategyTopicSimilarity,
	})
	contents := []string{
		"postgres query planner chooses a sequential scan.",
		"add an index so the postgres planner prefers it.",
		"switching topics: the kubernetes ingress drops websockets.",
		"the ingress needs an upgrade header annotation.",
		"back to postgres: the index fixed the query plan.",
	}
	for i, c := range contents {
		role := db.RoleUser
		if i%2 == 1 {
			role = db.RoleAssistant
		}
		appendText(t, svc, conv.ID, role, c)
	}

	first, err := svc.Rethread(ctx, testOwner, conv.ID)
	require.NoError(t, err)
	second, err := svc.Rethread(ctx, testOwner, conv.ID)
	require.NoError(t, err)

	// Thread ids are regenerated; everything structural must be identical.
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Title, second[i].Title)
		assert.Equal(t, first[i].TopicKeywords, second[i].TopicKeywords)
		assert.Equal(t, first[i].MessageCount, second[i].MessageCount)
		assert.Equal(t, first[i].FirstSeq, second[i].FirstSeq)
		assert.Equal(t, first[i].LastSeq, second[i].LastSeq)
	}

	got, err := svc.Get(ctx, testOwner, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, len(second), got.ThreadCount)

	messages, _, err := svc.GetMessages(ctx, testOwner, conv.ID, 10, 0)
	require.NoError(t, err)
	for _, m := range messages {
		require.NotNil(t, m.ThreadID)
	}
}

// ========== Search (read-after-write) ==========

func TestListSeesAppendImmediately(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conv := createConversation(t, svc, &models.CreateConversationRequest{Title: "Untitled"})
	appendText(t, svc, conv.ID, db.RoleUser, "the marmalade recipe needs seville oranges")

	resp, err := svc.List(ctx, testOwner, "marmalade", models.ConversationFilters{}, 10, 0)
	require.NoError(t, err)
	require.Len(t, resp.Conversations, 1)
	assert.Equal(t, conv.ID, resp.Conversations[0].ID)
}

func TestListValidatesFilters(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.List(context.Background(), testOwner, "", models.ConversationFilters{Status: "dormant"}, 10, 0)
	assert.True(t, IsValidation(err))
}

// ========== Derived data ==========

func TestSummaryCachedUntilWrite(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conv := createConversation(t, svc, &models.CreateConversationRequest{Title: "Tuning"})
	appendText(t, svc, conv.ID, db.RoleUser, "why is my postgres query slow?")
	appendText(t, svc, conv.ID, db.RoleAssistant, "the postgres query needs an index.")

	first, err := svc.Summary(ctx, testOwner, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, first.QualityScore)

	// Second read without a write is the cached snapshot.
	cached, err := svc.Summary(ctx, testOwner, conv.ID)
	require.NoError(t, err)
	assert.Same(t, first, cached)

	// A write invalidates; the recomputed summary reflects the new message.
	appendText(t, svc, conv.ID, db.RoleUser, "adding the index worked, thanks, and now for something completely different: llamas!")
	recomputed, err := svc.Summary(ctx, testOwner, conv.ID)
	require.NoError(t, err)
	assert.NotSame(t, first, recomputed)
	assert.NotEqual(t, first.SentimentAnalysis, recomputed.SentimentAnalysis)
}

func TestAnalyticsAgreeWithSummary(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conv := createConversation(t, svc, &models.CreateConversationRequest{})
	appendText(t, svc, conv.ID, db.RoleUser, "how should we shard the orders table?")
	appendText(t, svc, conv.ID, db.RoleAssistant, "shard the orders table by customer id.")
	appendText(t, svc, conv.ID, db.RoleUser, "sharding by customer id sounds right, thanks.")

	summary, err := svc.Summary(ctx, testOwner, conv.ID)
	require.NoError(t, err)
	require.NotEmpty(t, summary.QualityDimensions)

	snapshot, err := svc.Analytics(ctx, testOwner, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, snapshot.MessageCount)
	assert.Equal(t, 2, snapshot.UserParticipation[db.RoleUser].MessageCount)

	// Quality metrics come from the cached summary's dimension scores.
	assert.Equal(t, summary.QualityDimensions, snapshot.QualityMetrics)

	var topicTotal float64
	for _, v := range snapshot.TopicDistribution {
		topicTotal += v
	}
	assert.InDelta(t, 1.0, topicTotal, 1e-9)

	// Cached on second read.
	again, err := svc.Analytics(ctx, testOwner, conv.ID)
	require.NoError(t, err)
	assert.Same(t, snapshot, again)
}

func TestAnalyticsWithManualThreading(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	manual := false
	conv := createConversation(t, svc, &models.CreateConversationRequest{AutoThreading: &manual})
	appendText(t, svc, conv.ID, db.RoleUser, "a note with no recurring vocabulary at all.")
	appendText(t, svc, conv.ID, db.RoleAssistant, "an equally unrelated reply follows it.")

	snapshot, err := svc.Analytics(ctx, testOwner, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, snapshot.MessageCount)

	// The single implicit thread has no topic keywords, but a non-empty
	// message set must still yield a normalized distribution.
	require.NotEmpty(t, snapshot.TopicDistribution)
	var total float64
	for _, v := range snapshot.TopicDistribution {
		total += v
	}
	assert.InDelta(t, 1.0, total, 1e-9)
}

func TestSummaryOfEmptyConversation(t *testing.T) {
	svc, _ := newTestService(t)

	conv := createConversation(t, svc, &models.CreateConversationRequest{Title: "Nothing yet"})
	summary, err := svc.Summary(context.Background(), testOwner, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, summary.QualityScore)
	assert.Equal(t, 0.0, *summary.QualityScore)
	assert.InDelta(t, 1.0, summary.SentimentAnalysis[models.SentimentNeutral], 1e-9)
}

// writeDuringMissCache runs a hook on the first summary cache miss, opening
// the window between a computation's snapshot and its cache write.
type writeDuringMissCache struct {
	*MemorySnapshotCache
	onMiss func()
}

func (c *writeDuringMissCache) GetSummary(ctx context.Context, conversationID string) (*models.Summary, bool) {
	if summary, ok := c.MemorySnapshotCache.GetSummary(ctx, conversationID); ok {
		return summary, true
	}
	if c.onMiss != nil {
		hook := c.onMiss
		c.onMiss = nil
		hook()
	}
	return nil, false
}

func TestConcurrentWriteSkipsSummaryCacheWrite(t *testing.T) {
	gdb := newTestDB(t)
	search, err := NewSearchService(gdb)
	require.NoError(t, err)
	cache := &writeDuringMissCache{MemorySnapshotCache: NewMemorySnapshotCache()}
	svc := NewConversationService(gdb, &config.AppConfig{}, search, cache, event.NewEmitter())
	ctx := context.Background()

	conv := createConversation(t, svc, &models.CreateConversationRequest{})
	appendText(t, svc, conv.ID, db.RoleUser, "first message before the read.")

	// A write lands while the summary is being computed. Its invalidation
	// fires before the computation's cache write, which must therefore be
	// skipped rather than resurrect a snapshot the write outdated.
	cache.onMiss = func() {
		appendText(t, svc, conv.ID, db.RoleAssistant, "second message during the read.")
	}

	_, err = svc.Summary(ctx, testOwner, conv.ID)
	require.NoError(t, err)
	_, ok := cache.MemorySnapshotCache.GetSummary(ctx, conv.ID)
	assert.False(t, ok, "a computation overlapping a write must not cache")

	// With no concurrent write the next read caches normally.
	recomputed, err := svc.Summary(ctx, testOwner, conv.ID)
	require.NoError(t, err)
	cached, ok := cache.MemorySnapshotCache.GetSummary(ctx, conv.ID)
	require.True(t, ok)
	assert.Same(t, recomputed, cached)
}

func TestSnapshotCurrent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conv := createConversation(t, svc, &models.CreateConversationRequest{})
	appendText(t, svc, conv.ID, db.RoleUser, "establishing message.")

	loaded, err := svc.Get(ctx, testOwner, conv.ID)
	require.NoError(t, err)
	assert.True(t, svc.snapshotCurrent(ctx, loaded))

	// Any write moves the conversation past the loaded state, including a
	// rethread, which leaves LastSeq untouched.
	_, err = svc.Rethread(ctx, testOwner, conv.ID)
	require.NoError(t, err)
	assert.False(t, svc.snapshotCurrent(ctx, loaded))

	fresh, err := svc.Get(ctx, testOwner, conv.ID)
	require.NoError(t, err)
	assert.True(t, svc.snapshotCurrent(ctx, fresh))
}

func TestCancelledContextSkipsCacheWrite(t *testing.T) {
	svc, _ := newTestService(t)

	conv := createConversation(t, svc, &models.CreateConversationRequest{})
	appendText(t, svc, conv.ID, db.RoleUser, "a perfectly ordinary question.")

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	// Whatever the outcome under a dead context, no partial snapshot may
	// land in the cache.
	_, _ = svc.Summary(cancelled, testOwner, conv.ID)
	_, ok := svc.cache.GetSummary(context.Background(), conv.ID)
	assert.False(t, ok)
}

// ========== Events ==========

func TestAppendEmitsEvents(t *testing.T) {
	svc, emitter := newTestService(t)

	var mu sync.Mutex
	var names []string
	unsubscribe := emitter.OnAny(func(ev event.Event) {
		mu.Lock()
		names = append(names, ev.EventName())
		mu.Unlock()
	})
	defer unsubscribe()

	conv := createConversation(t, svc, &models.CreateConversationRequest{})
	appendText(t, svc, conv.ID, db.RoleUser, "first message opens a thread.")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{event.ConversationCreated, event.ThreadCreated, event.MessageAppended}, names)
}
