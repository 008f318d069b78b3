// Summarization engine - deterministic extractive conversation summaries
package service

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/robert1948/localstorm-sub001/pkg/config"
	"github.com/robert1948/localstorm-sub001/pkg/db"
	"github.com/robert1948/localstorm-sub001/pkg/models"
)

// SummaryService computes conversation summaries as a pure function over a
// point-in-time snapshot of the conversation's messages and threads. There
// is no hidden randomness: a fixed input and configuration always produce
// the same Summary.
type SummaryService struct {
	maxKeyPoints    int
	detailSentences int
	keywordLimit    int

	coherenceWeight    float64
	completenessWeight float64
	relevanceWeight    float64
}

// NewSummaryService creates a summary service from config tunables.
func NewSummaryService(cfg *config.AppConfig) *SummaryService {
	coherence, completeness, relevance := cfg.QualityWeights()
	return &SummaryService{
		maxKeyPoints:       cfg.MaxKeyPoints(),
		detailSentences:    cfg.DetailSentences(),
		keywordLimit:       cfg.KeywordLimit(),
		coherenceWeight:    coherence,
		completenessWeight: completeness,
		relevanceWeight:    relevance,
	}
}

// Summarize builds the Summary for one conversation snapshot. Messages must
// be in sequence order. Zero messages yield a structurally valid empty
// Summary with quality score exactly 0, never an error.
//
// On malformed input (unreachable for valid stores) it degrades: the
// returned Summary is still structurally valid but carries a nil quality
// score, and the error describes the problem for logging.
func (s *SummaryService) Summarize(ctx context.Context, conv *db.Conversation, messages []db.Message, threads []db.Thread) (*models.Summary, error) {
	summary := &models.Summary{
		ConversationID:    conv.ID,
		Title:             conv.Title,
		KeyPoints:         []string{},
		TopicsDiscussed:   []string{},
		SentimentAnalysis: map[string]float64{models.SentimentPositive: 0, models.SentimentNeutral: 1, models.SentimentNegative: 0},
		QualityDimensions: map[string]float64{},
	}

	if err := checkSnapshot(conv, messages); err != nil {
		return summary, &ComputeError{Stage: "summarize", Err: err}
	}

	if len(messages) == 0 {
		zero := 0.0
		summary.QualityScore = &zero
		return summary, nil
	}

	keywords := snapshotKeywords(messages, s.keywordLimit*2)
	sentences := collectSentences(messages, keywords)

	summary.BriefSummary = briefSummary(sentences)
	summary.DetailedSummary = detailedSummary(sentences, s.detailSentences)
	summary.KeyPoints = keyPoints(sentences, s.maxKeyPoints)
	summary.TopicsDiscussed = topicsDiscussed(threads)
	summary.SentimentAnalysis = sentimentAnalysis(messages)
	summary.QualityDimensions = s.ScoreDimensions(messages)

	score := s.qualityScore(messages, keywords)
	summary.QualityScore = &score

	return summary, nil
}

// ScoreDimensions computes the five per-dimension quality scores shared
// with the analytics engine. All values are in [0,1] and derive from the
// same sub-score functions that feed the composite quality score.
func (s *SummaryService) ScoreDimensions(messages []db.Message) map[string]float64 {
	if len(messages) == 0 {
		return map[string]float64{}
	}

	keywords := snapshotKeywords(messages, s.keywordLimit*2)
	coherence := coherenceScore(messages, s.keywordLimit)
	completeness := completenessScore(messages)
	relevance := relevanceScore(messages, keywords)

	return map[string]float64{
		models.QualityRelevance:    relevance,
		models.QualityAccuracy:     clamp01((coherence + relevance) / 2),
		models.QualityCompleteness: completeness,
		models.QualityClarity:      coherence,
		models.QualityHelpfulness:  clamp01((completeness + relevance) / 2),
	}
}

// qualityScore is the configured weighted average of the three sub-scores,
// clamped to [0,1].
func (s *SummaryService) qualityScore(messages []db.Message, keywords []string) float64 {
	total := s.coherenceWeight + s.completenessWeight + s.relevanceWeight
	if total <= 0 {
		return 0
	}
	weighted := s.coherenceWeight*coherenceScore(messages, s.keywordLimit) +
		s.completenessWeight*completenessScore(messages) +
		s.relevanceWeight*relevanceScore(messages, keywords)
	return clamp01(weighted / total)
}

// checkSnapshot guards against snapshots a valid store cannot produce.
func checkSnapshot(conv *db.Conversation, messages []db.Message) error {
	prev := 0
	for i := range messages {
		m := &messages[i]
		if m.ConversationID != conv.ID {
			return errors.Errorf("message %s belongs to conversation %s", m.ID, m.ConversationID)
		}
		if m.Seq <= prev {
			return errors.Errorf("message %s out of sequence order", m.ID)
		}
		prev = m.Seq
	}
	return nil
}

// ========== Extractive selection ==========

// sentence is one candidate sentence with its relevance score and global
// position, which keeps selection and re-ordering deterministic.
type sentence struct {
	text     string
	score    float64
	position int
}

// collectSentences splits every message into sentences and scores each one
// by conversation keyword density.
func collectSentences(messages []db.Message, keywords []string) []sentence {
	keywordSet := make(map[string]bool, len(keywords))
	for _, kw := range keywords {
		keywordSet[kw] = true
	}

	var out []sentence
	pos := 0
	for i := range messages {
		for _, text := range splitSentences(messages[i].Content) {
			hits := 0
			tokens := tokenize(text)
			for _, tok := range tokens {
				if keywordSet[tok] {
					hits++
				}
			}
			score := 0.0
			if len(tokens) > 0 {
				score = float64(hits) / float64(len(tokens))
			}
			out = append(out, sentence{text: text, score: score, position: pos})
			pos++
		}
	}
	return out
}

// rankSentences returns sentences ordered by score descending, earlier
// position first on ties.
func rankSentences(sentences []sentence) []sentence {
	ranked := make([]sentence, len(sentences))
	copy(ranked, sentences)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	return ranked
}

// briefSummary picks the single most keyword-dense sentence.
func briefSummary(sentences []sentence) string {
	if len(sentences) == 0 {
		return ""
	}
	return rankSentences(sentences)[0].text
}

// detailedSummary selects the top n sentences and re-joins them in original
// conversation order.
func detailedSummary(sentences []sentence, n int) string {
	ranked := rankSentences(sentences)
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].position < ranked[j].position })

	parts := make([]string, 0, len(ranked))
	for _, s := range ranked {
		parts = append(parts, s.text)
	}
	return strings.Join(parts, " ")
}

// keyPoints returns the top n sentences as a relevance-ranked list.
func keyPoints(sentences []sentence, n int) []string {
	ranked := rankSentences(sentences)
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	points := make([]string, 0, len(ranked))
	for _, s := range ranked {
		points = append(points, s.text)
	}
	return points
}

// topicsDiscussed is the deduplicated union of thread topic keywords,
// preserving thread order and per-thread relevance ranking.
func topicsDiscussed(threads []db.Thread) []string {
	seen := make(map[string]bool)
	topics := []string{}
	for i := range threads {
		for _, kw := range threads[i].TopicKeywords {
			if !seen[kw] {
				seen[kw] = true
				topics = append(topics, kw)
			}
		}
	}
	return topics
}

// snapshotKeywords extracts the conversation-wide keyword set from all
// message content in sequence order.
func snapshotKeywords(messages []db.Message, limit int) []string {
	var b strings.Builder
	for i := range messages {
		b.WriteString(messages[i].Content)
		b.WriteString("\n")
	}
	return ExtractKeywords(b.String(), limit)
}

// splitSentences splits content into trimmed sentences on terminal
// punctuation.
func splitSentences(content string) []string {
	var out []string
	var current strings.Builder
	for _, r := range content {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(current.String()); s != "" {
				out = append(out, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		out = append(out, s)
	}
	return out
}

// ========== Sentiment ==========

// sentimentAnalysis buckets each message by lexicon polarity and returns
// fractions normalized to sum to 1.0.
func sentimentAnalysis(messages []db.Message) map[string]float64 {
	counts := map[string]int{
		models.SentimentPositive: 0,
		models.SentimentNeutral:  0,
		models.SentimentNegative: 0,
	}
	for i := range messages {
		counts[messageSentiment(messages[i].Content)]++
	}

	total := float64(len(messages))
	if total == 0 {
		return map[string]float64{models.SentimentPositive: 0, models.SentimentNeutral: 1, models.SentimentNegative: 0}
	}
	return map[string]float64{
		models.SentimentPositive: float64(counts[models.SentimentPositive]) / total,
		models.SentimentNeutral:  float64(counts[models.SentimentNeutral]) / total,
		models.SentimentNegative: float64(counts[models.SentimentNegative]) / total,
	}
}

// messageSentiment scores one message: positive when positive lexicon hits
// outnumber negative ones, and vice versa.
func messageSentiment(content string) string {
	score := 0
	for _, tok := range tokenize(content) {
		if positiveWords[tok] {
			score++
		}
		if negativeWords[tok] {
			score--
		}
	}
	switch {
	case score > 0:
		return models.SentimentPositive
	case score < 0:
		return models.SentimentNegative
	default:
		return models.SentimentNeutral
	}
}

var positiveWords = map[string]bool{
	"good": true, "great": true, "excellent": true, "amazing": true,
	"awesome": true, "perfect": true, "love": true, "wonderful": true,
	"fantastic": true, "helpful": true, "thanks": true, "thank": true,
	"nice": true, "best": true, "happy": true, "glad": true, "works": true,
	"solved": true, "clear": true, "useful": true, "brilliant": true,
	"correct": true, "right": true, "yes": true, "agree": true,
}

var negativeWords = map[string]bool{
	"bad": true, "wrong": true, "terrible": true, "awful": true,
	"hate": true, "broken": true, "fail": true, "failed": true,
	"error": true, "problem": true, "issue": true, "bug": true,
	"confusing": true, "confused": true, "unclear": true, "worse": true,
	"worst": true, "slow": true, "stuck": true, "frustrating": true,
	"annoying": true, "disappointing": true, "useless": true, "crash": true,
}

// ========== Quality sub-scores (shared with analytics) ==========

// coherenceScore measures topical continuity: the mean keyword overlap of
// adjacent messages.
func coherenceScore(messages []db.Message, keywordLimit int) float64 {
	if len(messages) < 2 {
		return clamp01(float64(len(messages)))
	}
	var total float64
	for i := 1; i < len(messages); i++ {
		prev := ExtractKeywords(messages[i-1].Content, keywordLimit)
		curr := ExtractKeywords(messages[i].Content, keywordLimit)
		total += keywordOverlap(prev, curr)
	}
	return clamp01(total / float64(len(messages)-1))
}

// completenessScore is the fraction of user messages that received an
// assistant reply later in the sequence.
func completenessScore(messages []db.Message) float64 {
	userCount := 0
	answered := 0
	for i := range messages {
		if messages[i].Role != db.RoleUser {
			continue
		}
		userCount++
		for j := i + 1; j < len(messages); j++ {
			if messages[j].Role == db.RoleAssistant {
				answered++
				break
			}
		}
	}
	if userCount == 0 {
		return 1
	}
	return clamp01(float64(answered) / float64(userCount))
}

// relevanceScore is the mean keyword density of messages against the
// conversation-wide keyword set.
func relevanceScore(messages []db.Message, keywords []string) float64 {
	if len(messages) == 0 || len(keywords) == 0 {
		return 0
	}
	keywordSet := make(map[string]bool, len(keywords))
	for _, kw := range keywords {
		keywordSet[kw] = true
	}

	var total float64
	for i := range messages {
		tokens := tokenize(messages[i].Content)
		if len(tokens) == 0 {
			continue
		}
		hits := 0
		for _, tok := range tokens {
			if keywordSet[tok] {
				hits++
			}
		}
		total += float64(hits) / float64(len(tokens))
	}
	return clamp01(total / float64(len(messages)))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
