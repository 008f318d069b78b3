// Derived-data types: summaries and analytics snapshots
package models

// Summary is the derived, cacheable summary of one conversation.
// It is computed deterministically from the conversation's message and
// thread sets and is invalidated by every write to the conversation.
type Summary struct {
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title"`

	// BriefSummary is a tight one-or-two sentence overview; DetailedSummary
	// is an extractive multi-sentence digest in original message order.
	BriefSummary    string `json:"brief_summary"`
	DetailedSummary string `json:"detailed_summary"`

	// KeyPoints are bounded, relevance-ranked extracted sentences.
	KeyPoints []string `json:"key_points"`

	// TopicsDiscussed is the deduplicated union of all thread topic keywords.
	TopicsDiscussed []string `json:"topics_discussed"`

	// SentimentAnalysis maps positive/neutral/negative to message fractions
	// summing to 1.0.
	SentimentAnalysis map[string]float64 `json:"sentiment_analysis"`

	// QualityScore is in [0,1]. Nil only on the degraded compute path, in
	// which case the rest of the summary is still structurally valid.
	QualityScore *float64 `json:"quality_score"`

	// QualityDimensions holds the per-dimension scores behind QualityScore.
	// The analytics engine reuses them for its quality metrics when a
	// current Summary exists.
	QualityDimensions map[string]float64 `json:"quality_dimensions"`
}

// Sentiment bucket keys used in Summary.SentimentAnalysis.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// RoleParticipation aggregates one role's share of a conversation.
type RoleParticipation struct {
	MessageCount int `json:"message_count"`
	TokenCount   int `json:"token_count"`
}

// AnalyticsSnapshot is the derived, cacheable analytics view of one
// conversation. Like Summary it is advisory data: the compute path degrades
// to a partially-filled snapshot rather than failing the request.
type AnalyticsSnapshot struct {
	ConversationID string `json:"conversation_id"`
	MessageCount   int    `json:"message_count"`
	TotalTokens    int    `json:"total_tokens"`

	// AvgResponseTime is the mean elapsed seconds between a user message and
	// the next assistant message. Zero when no such pair exists.
	AvgResponseTime float64 `json:"avg_response_time"`

	// EngagementScore is a [0,1] composite of message frequency, session
	// count and response latency.
	EngagementScore float64 `json:"engagement_score"`

	// TopicDistribution maps topic to its fraction of conversation volume,
	// summing to 1.0; empty for an empty conversation.
	TopicDistribution map[string]float64 `json:"topic_distribution"`

	// UserParticipation buckets message and token counts by role.
	UserParticipation map[string]RoleParticipation `json:"user_participation"`

	// PeakActivityTimes holds the most active hour-of-day buckets,
	// most active first.
	PeakActivityTimes []string `json:"peak_activity_times"`

	// QualityMetrics maps dimension (relevance, accuracy, completeness,
	// clarity, helpfulness) to a [0,1] score.
	QualityMetrics map[string]float64 `json:"quality_metrics"`
}

// Quality metric dimension keys used in AnalyticsSnapshot.QualityMetrics.
const (
	QualityRelevance    = "relevance"
	QualityAccuracy     = "accuracy"
	QualityCompleteness = "completeness"
	QualityClarity      = "clarity"
	QualityHelpfulness  = "helpfulness"
)
