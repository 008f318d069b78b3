// Search service - full-text and filtered lookup over conversations
package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/robert1948/localstorm-sub001/pkg/db"
	"github.com/robert1948/localstorm-sub001/pkg/models"
	"github.com/robert1948/localstorm-sub001/pkg/utils"
)

// SearchService answers queries combining free-text relevance over
// conversation titles/descriptions and message content with structured
// filters. The FTS tables are written inside the same transaction as the
// store write, so a read immediately after a write observes the write.
type SearchService struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewSearchService creates a search service and ensures the FTS schema.
func NewSearchService(gdb *gorm.DB) (*SearchService, error) {
	s := &SearchService{
		db:     gdb,
		logger: utils.GetLogger(),
	}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

// ensureSchema creates the FTS5 virtual tables.
func (s *SearchService) ensureSchema() error {
	stmts := []string{
		`CREATE VIRTUAL TABLE IF NOT EXISTS conversations_fts USING fts5(
			conversation_id UNINDEXED,
			title,
			description
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
			message_id UNINDEXED,
			conversation_id UNINDEXED,
			content
		)`,
	}
	for _, stmt := range stmts {
		if err := s.db.Exec(stmt).Error; err != nil {
			return errors.Wrap(err, "create fts schema")
		}
	}
	return nil
}

// IndexConversation upserts the conversation-level FTS row. Pass the
// transaction handle of the write that changed the conversation.
func (s *SearchService) IndexConversation(tx *gorm.DB, conv *db.Conversation) error {
	if err := tx.Exec(`DELETE FROM conversations_fts WHERE conversation_id = ?`, conv.ID).Error; err != nil {
		return errors.Wrap(err, "deindex conversation")
	}
	err := tx.Exec(`INSERT INTO conversations_fts (conversation_id, title, description) VALUES (?, ?, ?)`,
		conv.ID, conv.Title, conv.Description).Error
	return errors.Wrap(err, "index conversation")
}

// IndexMessage adds a message-level FTS row within the append transaction.
func (s *SearchService) IndexMessage(tx *gorm.DB, msg *db.Message) error {
	err := tx.Exec(`INSERT INTO messages_fts (message_id, conversation_id, content) VALUES (?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Content).Error
	return errors.Wrap(err, "index message")
}

// RemoveConversation drops all FTS rows for a deleted conversation.
func (s *SearchService) RemoveConversation(tx *gorm.DB, conversationID string) error {
	if err := tx.Exec(`DELETE FROM conversations_fts WHERE conversation_id = ?`, conversationID).Error; err != nil {
		return errors.Wrap(err, "deindex conversation")
	}
	err := tx.Exec(`DELETE FROM messages_fts WHERE conversation_id = ?`, conversationID).Error
	return errors.Wrap(err, "deindex messages")
}

// Search returns conversations for ownerID matching the free-text query and
// structured filters. Ranking is text relevance (bm25 over titles,
// descriptions and message content) plus a recency boost; ties resolve to
// the most recently updated conversation. An empty query degrades to a pure
// filter listing ordered by recency.
func (s *SearchService) Search(ctx context.Context, ownerID, query string, filters models.ConversationFilters, limit, offset int) ([]db.Conversation, bool, error) {
	if limit < 1 {
		limit = 50
	}

	match := buildMatchQuery(query)
	if match == "" {
		return s.filterOnly(ctx, ownerID, filters, limit, offset)
	}

	var sql strings.Builder
	args := []interface{}{match, match}

	sql.WriteString(`
		WITH scored AS (
			SELECT conversation_id, MIN(score) AS score FROM (
				SELECT conversation_id, bm25(conversations_fts) AS score
				FROM conversations_fts WHERE conversations_fts MATCH ?
				UNION ALL
				SELECT conversation_id, bm25(messages_fts) AS score
				FROM messages_fts WHERE messages_fts MATCH ?
			) GROUP BY conversation_id
		)
		SELECT c.* FROM conversations c
		JOIN scored s ON s.conversation_id = c.id
		WHERE c.owner_id = ?`)
	args = append(args, ownerID)

	appendFilters(&sql, &args, filters)

	// bm25 is lower-is-better (negative for matches); negate it for a
	// relevance term and add a bounded recency boost.
	sql.WriteString(`
		ORDER BY (-s.score + 1.0 / (1.0 + julianday('now') - julianday(c.updated_at))) DESC,
			c.updated_at DESC
		LIMIT ? OFFSET ?`)
	args = append(args, limit+1, offset)

	var results []db.Conversation
	if err := s.db.WithContext(ctx).Raw(sql.String(), args...).Scan(&results).Error; err != nil {
		return nil, false, errors.Wrap(err, "search conversations")
	}

	hasMore := len(results) > limit
	if hasMore {
		results = results[:limit]
	}
	return results, hasMore, nil
}

// filterOnly lists conversations by structured filters alone, most recently
// updated first.
func (s *SearchService) filterOnly(ctx context.Context, ownerID string, filters models.ConversationFilters, limit, offset int) ([]db.Conversation, bool, error) {
	var sql strings.Builder
	args := []interface{}{ownerID}

	sql.WriteString(`SELECT c.* FROM conversations c WHERE c.owner_id = ?`)
	appendFilters(&sql, &args, filters)
	sql.WriteString(` ORDER BY c.updated_at DESC LIMIT ? OFFSET ?`)
	args = append(args, limit+1, offset)

	var results []db.Conversation
	if err := s.db.WithContext(ctx).Raw(sql.String(), args...).Scan(&results).Error; err != nil {
		return nil, false, errors.Wrap(err, "list conversations")
	}

	hasMore := len(results) > limit
	if hasMore {
		results = results[:limit]
	}
	return results, hasMore, nil
}

// appendFilters adds the structured filter clauses shared by both query
// shapes. Tags are stored as a JSON array in TEXT, so each requested tag
// matches its quoted element; multiple tags are ANDed.
func appendFilters(sql *strings.Builder, args *[]interface{}, filters models.ConversationFilters) {
	if filters.Status != "" {
		sql.WriteString(` AND c.status = ?`)
		*args = append(*args, filters.Status)
	}
	if filters.Type != "" {
		sql.WriteString(` AND c.type = ?`)
		*args = append(*args, filters.Type)
	}
	for _, tag := range filters.Tags {
		if tag == "" {
			continue
		}
		sql.WriteString(` AND c.tags LIKE ?`)
		*args = append(*args, `%"`+tag+`"%`)
	}
	if filters.From != nil {
		sql.WriteString(` AND c.created_at >= ?`)
		*args = append(*args, *filters.From)
	}
	if filters.To != nil {
		sql.WriteString(` AND c.created_at <= ?`)
		*args = append(*args, *filters.To)
	}
}

// buildMatchQuery converts free text into a safe FTS5 MATCH expression:
// each term is quoted and terms are OR-ed so partial matches still rank.
func buildMatchQuery(query string) string {
	terms := tokenize(query)
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " OR ")
}
