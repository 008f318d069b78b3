// Conversation store: the write path and the computed-or-cached read path.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/robert1948/localstorm-sub001/pkg/config"
	"github.com/robert1948/localstorm-sub001/pkg/db"
	"github.com/robert1948/localstorm-sub001/pkg/event"
	"github.com/robert1948/localstorm-sub001/pkg/models"
	"github.com/robert1948/localstorm-sub001/pkg/utils"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// statusTransitions maps a conversation status to the statuses it may move
// to. Archived is terminal.
var statusTransitions = map[string][]string{
	db.ConversationStatusActive:    {db.ConversationStatusPaused, db.ConversationStatusCompleted, db.ConversationStatusArchived},
	db.ConversationStatusPaused:    {db.ConversationStatusActive, db.ConversationStatusCompleted, db.ConversationStatusArchived},
	db.ConversationStatusCompleted: {db.ConversationStatusArchived},
	db.ConversationStatusArchived:  {},
}

// ConversationService owns all conversation reads and writes. Writes to a
// single conversation are serialized through the lock manager; writes to
// different conversations proceed concurrently.
type ConversationService struct {
	db        *gorm.DB
	threading *ThreadingEngine
	search    *SearchService
	summaries *SummaryService
	analytics *AnalyticsService
	cache     SnapshotCache
	locks     *ConversationLockManager
	emitter   *event.Emitter
	logger    *slog.Logger
}

// NewConversationService creates a conversation service.
func NewConversationService(
	gdb *gorm.DB,
	cfg *config.AppConfig,
	search *SearchService,
	cache SnapshotCache,
	emitter *event.Emitter,
) *ConversationService {
	summaries := NewSummaryService(cfg)
	return &ConversationService{
		db:        gdb,
		threading: NewThreadingEngine(cfg),
		search:    search,
		summaries: summaries,
		analytics: NewAnalyticsService(summaries),
		cache:     cache,
		locks:     NewConversationLockManager(),
		emitter:   emitter,
		logger:    utils.GetLogger(),
	}
}

// ============================================================================
// Conversation CRUD
// ============================================================================

// Create creates a conversation for ownerID and indexes it for search.
func (s *ConversationService) Create(ctx context.Context, ownerID string, req *models.CreateConversationRequest) (*db.Conversation, error) {
	title := req.Title
	if title == "" {
		title = "New Conversation"
	}
	convType := req.Type
	if convType == "" {
		convType = db.ConversationTypeGeneral
	}
	if !db.IsValidConversationType(convType) {
		return nil, &ValidationError{Field: "type", Detail: "unknown conversation type: " + convType}
	}
	strategy := req.ThreadingStrategy
	if strategy == "" {
		strategy = db.StrategyHybrid
	}
	if !db.IsValidThreadingStrategy(strategy) {
		return nil, &ValidationError{Field: "threading_strategy", Detail: "unknown threading strategy: " + strategy}
	}
	autoThreading := true
	if req.AutoThreading != nil {
		autoThreading = *req.AutoThreading
	}

	now := time.Now()
	conv := &db.Conversation{
		ID:                uuid.New().String(),
		OwnerID:           ownerID,
		Title:             title,
		Description:       req.Description,
		Type:              convType,
		Status:            db.ConversationStatusActive,
		Tags:              db.StringArray(req.Tags),
		AutoThreading:     autoThreading,
		ThreadingStrategy: strategy,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return pkgerrors.Wrap(err, "create conversation")
		}
		return s.search.IndexConversation(tx, conv)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("conversation created", "conversation_id", conv.ID, "type", conv.Type, "strategy", conv.ThreadingStrategy)
	s.emitter.Emit(event.ConversationCreatedEvent{ConversationID: conv.ID})
	return conv, nil
}

// Get returns one conversation owned by ownerID.
func (s *ConversationService) Get(ctx context.Context, ownerID, conversationID string) (*db.Conversation, error) {
	return s.loadConversation(ctx, ownerID, conversationID)
}

// List returns conversations matching the query and filters, most relevant
// first. An empty query lists by recency.
func (s *ConversationService) List(ctx context.Context, ownerID, query string, filters models.ConversationFilters, limit, offset int) (*models.ConversationListResponse, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	if filters.Status != "" && !db.IsValidConversationStatus(filters.Status) {
		return nil, &ValidationError{Field: "status", Detail: "unknown conversation status: " + filters.Status}
	}
	if filters.Type != "" && !db.IsValidConversationType(filters.Type) {
		return nil, &ValidationError{Field: "type", Detail: "unknown conversation type: " + filters.Type}
	}

	conversations, hasMore, err := s.search.Search(ctx, ownerID, query, filters, limit, offset)
	if err != nil {
		return nil, err
	}
	return &models.ConversationListResponse{Conversations: conversations, HasMore: hasMore}, nil
}

// Update applies a title change and/or a status transition.
func (s *ConversationService) Update(ctx context.Context, ownerID, conversationID string, req *models.UpdateConversationRequest) (*db.Conversation, error) {
	if req.Title == "" && req.Status == "" {
		return nil, &ValidationError{Field: "title", Detail: "at least one of title or status is required"}
	}
	if req.Status != "" && !db.IsValidConversationStatus(req.Status) {
		return nil, &ValidationError{Field: "status", Detail: "unknown conversation status: " + req.Status}
	}

	s.locks.Lock(conversationID)
	defer s.locks.Unlock(conversationID)

	conv, err := s.loadConversation(ctx, ownerID, conversationID)
	if err != nil {
		return nil, err
	}

	if req.Status != "" && req.Status != conv.Status {
		if !canTransition(conv.Status, req.Status) {
			return nil, &ValidationError{Field: "status", Detail: "cannot transition conversation from " + conv.Status + " to " + req.Status}
		}
		conv.Status = req.Status
	}
	titleChanged := req.Title != "" && req.Title != conv.Title
	if titleChanged {
		conv.Title = req.Title
	}
	conv.UpdatedAt = time.Now()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(conv).Error; err != nil {
			return pkgerrors.Wrap(err, "update conversation")
		}
		if titleChanged {
			return s.search.IndexConversation(tx, conv)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, conversationID)
	s.emitter.Emit(event.ConversationUpdatedEvent{ConversationID: conv.ID, Status: conv.Status})
	return conv, nil
}

// Delete removes a conversation with all of its messages and threads, its
// search index entries and its cached snapshots.
func (s *ConversationService) Delete(ctx context.Context, ownerID, conversationID string) error {
	s.locks.Lock(conversationID)
	defer s.locks.Unlock(conversationID)

	if _, err := s.loadConversation(ctx, ownerID, conversationID); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&db.Message{}).Error; err != nil {
			return pkgerrors.Wrap(err, "delete messages")
		}
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&db.Thread{}).Error; err != nil {
			return pkgerrors.Wrap(err, "delete threads")
		}
		if err := tx.Where("id = ?", conversationID).Delete(&db.Conversation{}).Error; err != nil {
			return pkgerrors.Wrap(err, "delete conversation")
		}
		return s.search.RemoveConversation(tx, conversationID)
	})
	if err != nil {
		return err
	}

	s.cache.Invalidate(ctx, conversationID)
	s.logger.Info("conversation deleted", "conversation_id", conversationID)
	s.emitter.Emit(event.ConversationDeletedEvent{ConversationID: conversationID})
	return nil
}

// ============================================================================
// Messages and threads
// ============================================================================

// AppendMessage appends a message, assigns it a gap-free sequence number and
// a thread, and updates the conversation counters, all in one transaction.
func (s *ConversationService) AppendMessage(ctx context.Context, ownerID, conversationID string, req *models.AppendMessageRequest) (*db.Message, error) {
	if !db.IsValidRole(req.Role) {
		return nil, &ValidationError{Field: "role", Detail: "unknown message role: " + req.Role}
	}
	if req.Content == "" {
		return nil, &ValidationError{Field: "content", Detail: "content is required"}
	}

	s.locks.Lock(conversationID)
	defer s.locks.Unlock(conversationID)

	conv, err := s.loadConversation(ctx, ownerID, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status == db.ConversationStatusArchived {
		return nil, &ConflictError{Detail: "conversation is archived"}
	}

	threads, err := s.loadThreads(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	states := threadStates(threads)

	now := time.Now()
	msg := &db.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           req.Role,
		Content:        req.Content,
		Seq:            conv.LastSeq + 1,
		TokenCount:     db.EstimateTokens(req.Content),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	chosen, created := s.threading.Assign(conv, msg, states)
	msg.ThreadID = &chosen.ID

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return pkgerrors.Wrap(err, "create message")
		}
		if created {
			row := threadRow(conversationID, chosen, now)
			if err := tx.Create(row).Error; err != nil {
				return pkgerrors.Wrap(err, "create thread")
			}
		} else {
			updates := map[string]interface{}{
				"topic_keywords": db.StringArray(chosen.Keywords),
				"message_count":  chosen.MessageCount,
				"last_seq":       chosen.LastSeq,
				"updated_at":     now,
			}
			if err := tx.Model(&db.Thread{}).Where("id = ?", chosen.ID).Updates(updates).Error; err != nil {
				return pkgerrors.Wrap(err, "update thread")
			}
		}

		convUpdates := map[string]interface{}{
			"message_count": conv.MessageCount + 1,
			"last_seq":      msg.Seq,
			"updated_at":    now,
		}
		if created {
			convUpdates["thread_count"] = conv.ThreadCount + 1
		}
		if err := tx.Model(&db.Conversation{}).Where("id = ?", conversationID).Updates(convUpdates).Error; err != nil {
			return pkgerrors.Wrap(err, "update conversation counters")
		}

		return s.search.IndexMessage(tx, msg)
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, conversationID)
	if created {
		s.emitter.Emit(event.ThreadCreatedEvent{ConversationID: conversationID, ThreadID: chosen.ID})
	}
	s.emitter.Emit(event.MessageAppendedEvent{
		ConversationID: conversationID,
		MessageID:      msg.ID,
		ThreadID:       chosen.ID,
		Seq:            msg.Seq,
	})
	return msg, nil
}

// GetMessages returns a page of messages in sequence order.
func (s *ConversationService) GetMessages(ctx context.Context, ownerID, conversationID string, limit, offset int) ([]db.Message, bool, error) {
	if _, err := s.loadConversation(ctx, ownerID, conversationID); err != nil {
		return nil, false, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	var messages []db.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("seq ASC").
		Limit(limit + 1).
		Offset(offset).
		Find(&messages).Error
	if err != nil {
		return nil, false, pkgerrors.Wrap(err, "list messages")
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}
	return messages, hasMore, nil
}

// GetThreads returns the conversation's threads, oldest first.
func (s *ConversationService) GetThreads(ctx context.Context, ownerID, conversationID string) ([]db.Thread, error) {
	if _, err := s.loadConversation(ctx, ownerID, conversationID); err != nil {
		return nil, err
	}
	return s.loadThreads(ctx, conversationID)
}

// Rethread replays every message of the conversation through the threading
// engine against an empty thread set and replaces the stored threads with
// the result. The replay walks messages in sequence order, so running it
// twice with no appends in between produces an identical thread structure.
func (s *ConversationService) Rethread(ctx context.Context, ownerID, conversationID string) ([]db.Thread, error) {
	s.locks.Lock(conversationID)
	defer s.locks.Unlock(conversationID)

	conv, err := s.loadConversation(ctx, ownerID, conversationID)
	if err != nil {
		return nil, err
	}

	var messages []db.Message
	if err := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Order("seq ASC").Find(&messages).Error; err != nil {
		return nil, pkgerrors.Wrap(err, "load messages")
	}

	var states []*ThreadState
	assignment := make(map[string][]string) // thread ID -> message IDs
	for i := range messages {
		chosen, created := s.threading.Assign(conv, &messages[i], states)
		if created {
			states = append(states, chosen)
		}
		assignment[chosen.ID] = append(assignment[chosen.ID], messages[i].ID)
	}

	now := time.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&db.Thread{}).Error; err != nil {
			return pkgerrors.Wrap(err, "delete old threads")
		}
		for _, st := range states {
			if err := tx.Create(threadRow(conversationID, st, now)).Error; err != nil {
				return pkgerrors.Wrap(err, "create thread")
			}
			ids := assignment[st.ID]
			if err := tx.Model(&db.Message{}).Where("id IN ?", ids).Update("thread_id", st.ID).Error; err != nil {
				return pkgerrors.Wrap(err, "reassign messages")
			}
		}
		updates := map[string]interface{}{"thread_count": len(states), "updated_at": now}
		return pkgerrors.Wrap(
			tx.Model(&db.Conversation{}).Where("id = ?", conversationID).Updates(updates).Error,
			"update conversation counters")
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, conversationID)
	s.logger.Info("conversation rethreaded", "conversation_id", conversationID, "thread_count", len(states))
	s.emitter.Emit(event.ConversationRethreadedEvent{ConversationID: conversationID, ThreadCount: len(states)})

	return s.loadThreads(ctx, conversationID)
}

// ============================================================================
// Derived data (computed-or-cached)
// ============================================================================

// Summary returns the conversation's summary, recomputing it only when no
// cached snapshot survives since the last write. The cache write is skipped
// when the context is cancelled, when the compute degraded, or when another
// write landed on the conversation during the computation, so neither a
// partial nor a stale result is ever served from cache.
func (s *ConversationService) Summary(ctx context.Context, ownerID, conversationID string) (*models.Summary, error) {
	conv, err := s.loadConversation(ctx, ownerID, conversationID)
	if err != nil {
		return nil, err
	}
	if summary, ok := s.cache.GetSummary(ctx, conversationID); ok {
		return summary, nil
	}

	messages, threads, err := s.loadSnapshot(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	summary, err := s.summaries.Summarize(ctx, conv, messages, threads)
	if err != nil {
		var ce *ComputeError
		if errors.As(err, &ce) && summary != nil {
			s.logger.Warn("summary degraded", "conversation_id", conversationID, "stage", ce.Stage, "error", ce.Err)
			return summary, nil
		}
		return nil, err
	}

	if ctx.Err() == nil && s.snapshotCurrent(ctx, conv) {
		s.cache.SetSummary(ctx, conversationID, summary)
	}
	return summary, nil
}

// Analytics returns the conversation's analytics snapshot with the same
// caching and degradation behavior as Summary.
func (s *ConversationService) Analytics(ctx context.Context, ownerID, conversationID string) (*models.AnalyticsSnapshot, error) {
	conv, err := s.loadConversation(ctx, ownerID, conversationID)
	if err != nil {
		return nil, err
	}
	if snapshot, ok := s.cache.GetAnalytics(ctx, conversationID); ok {
		return snapshot, nil
	}

	messages, threads, err := s.loadSnapshot(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	// A cached Summary is by construction current (writes invalidate both
	// entries together), so its dimension scores can stand in for a
	// recompute.
	cachedSummary, _ := s.cache.GetSummary(ctx, conversationID)

	snapshot, err := s.analytics.Analyze(ctx, conv, messages, threads, cachedSummary)
	if err != nil {
		var ce *ComputeError
		if errors.As(err, &ce) && snapshot != nil {
			s.logger.Warn("analytics degraded", "conversation_id", conversationID, "stage", ce.Stage, "error", ce.Err)
			return snapshot, nil
		}
		return nil, err
	}

	if ctx.Err() == nil && s.snapshotCurrent(ctx, conv) {
		s.cache.SetAnalytics(ctx, conversationID, snapshot)
	}
	return snapshot, nil
}

// ============================================================================
// Internal helpers
// ============================================================================

func (s *ConversationService) loadConversation(ctx context.Context, ownerID, conversationID string) (*db.Conversation, error) {
	var conv db.Conversation
	err := s.db.WithContext(ctx).Where("id = ? AND owner_id = ?", conversationID, ownerID).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "conversation", ID: conversationID}
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "load conversation")
	}
	return &conv, nil
}

func (s *ConversationService) loadThreads(ctx context.Context, conversationID string) ([]db.Thread, error) {
	var threads []db.Thread
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("first_seq ASC").
		Find(&threads).Error
	if err != nil {
		return nil, pkgerrors.Wrap(err, "load threads")
	}
	return threads, nil
}

// loadSnapshot reads the message and thread sets used by the summary and
// analytics computations, both in their canonical order.
func (s *ConversationService) loadSnapshot(ctx context.Context, conversationID string) ([]db.Message, []db.Thread, error) {
	var messages []db.Message
	if err := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Order("seq ASC").Find(&messages).Error; err != nil {
		return nil, nil, pkgerrors.Wrap(err, "load messages")
	}
	threads, err := s.loadThreads(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}
	return messages, threads, nil
}

// snapshotCurrent reports whether the conversation row still matches the
// state conv was loaded with. Every write bumps UpdatedAt inside its
// transaction, so a mismatch means a write landed after the computation's
// snapshot was taken and its result must not be cached; the write's
// Invalidate has already fired and would otherwise be undone. Both sides of
// the comparison are database reads, so the check never trips on storage
// precision.
func (s *ConversationService) snapshotCurrent(ctx context.Context, conv *db.Conversation) bool {
	var cur db.Conversation
	err := s.db.WithContext(ctx).
		Select("last_seq", "updated_at").
		Where("id = ?", conv.ID).
		First(&cur).Error
	return err == nil && cur.LastSeq == conv.LastSeq && cur.UpdatedAt.Equal(conv.UpdatedAt)
}

func threadStates(threads []db.Thread) []*ThreadState {
	states := make([]*ThreadState, 0, len(threads))
	for i := range threads {
		t := &threads[i]
		states = append(states, &ThreadState{
			ID:           t.ID,
			Title:        t.Title,
			Keywords:     []string(t.TopicKeywords),
			MessageCount: t.MessageCount,
			FirstSeq:     t.FirstSeq,
			LastSeq:      t.LastSeq,
		})
	}
	return states
}

func threadRow(conversationID string, st *ThreadState, now time.Time) *db.Thread {
	return &db.Thread{
		ID:             st.ID,
		ConversationID: conversationID,
		Title:          st.Title,
		Type:           "general",
		Status:         db.ThreadStatusActive,
		TopicKeywords:  db.StringArray(st.Keywords),
		MessageCount:   st.MessageCount,
		FirstSeq:       st.FirstSeq,
		LastSeq:        st.LastSeq,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func canTransition(from, to string) bool {
	for _, allowed := range statusTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
