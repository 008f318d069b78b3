// Analytics engine - aggregate metrics over a conversation snapshot
package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/robert1948/localstorm-sub001/pkg/db"
	"github.com/robert1948/localstorm-sub001/pkg/models"
)

// sessionGap is the idle interval that starts a new session when bucketing
// engagement.
const sessionGap = 30 * time.Minute

// peakBuckets is how many hour-of-day buckets PeakActivityTimes reports.
const peakBuckets = 3

// AnalyticsService computes the analytics snapshot for one conversation as
// a pure function over its message and thread sets. Quality metrics come
// from the summarization engine's sub-score functions, so a snapshot always
// agrees with the conversation's Summary.
type AnalyticsService struct {
	summaries *SummaryService
}

// NewAnalyticsService creates an analytics service sharing the summary
// service's scoring functions.
func NewAnalyticsService(summaries *SummaryService) *AnalyticsService {
	return &AnalyticsService{summaries: summaries}
}

// Analyze builds the AnalyticsSnapshot for one conversation snapshot.
// Messages must be in sequence order. An empty conversation yields a
// structurally valid snapshot with empty mappings, never an error.
//
// When summary is a Summary of the same snapshot, its per-dimension scores
// are reused for the quality metrics instead of being recomputed; the two
// views share the scoring functions either way, so the values are identical.
//
// On malformed input it degrades to a partially-filled snapshot plus an
// error for logging, mirroring the summarizer's advisory-data policy.
func (s *AnalyticsService) Analyze(ctx context.Context, conv *db.Conversation, messages []db.Message, threads []db.Thread, summary *models.Summary) (*models.AnalyticsSnapshot, error) {
	snapshot := &models.AnalyticsSnapshot{
		ConversationID:    conv.ID,
		TopicDistribution: map[string]float64{},
		UserParticipation: map[string]models.RoleParticipation{},
		PeakActivityTimes: []string{},
		QualityMetrics:    map[string]float64{},
	}

	if err := checkSnapshot(conv, messages); err != nil {
		return snapshot, &ComputeError{Stage: "analyze", Err: err}
	}

	snapshot.MessageCount = len(messages)
	for i := range messages {
		snapshot.TotalTokens += messages[i].TokenCount
	}

	snapshot.AvgResponseTime = avgResponseTime(messages)
	snapshot.EngagementScore = engagementScore(messages, snapshot.AvgResponseTime)
	snapshot.TopicDistribution = topicDistribution(threads)
	snapshot.UserParticipation = userParticipation(messages)
	snapshot.PeakActivityTimes = peakActivityTimes(messages, peakBuckets)
	if summary != nil && len(summary.QualityDimensions) > 0 {
		snapshot.QualityMetrics = summary.QualityDimensions
	} else {
		snapshot.QualityMetrics = s.summaries.ScoreDimensions(messages)
	}

	return snapshot, nil
}

// avgResponseTime is the mean elapsed seconds between each user message and
// the next assistant message in sequence order. User messages with no
// following assistant message are excluded, not treated as zero.
func avgResponseTime(messages []db.Message) float64 {
	var total float64
	pairs := 0
	for i := range messages {
		if messages[i].Role != db.RoleUser {
			continue
		}
		for j := i + 1; j < len(messages); j++ {
			if messages[j].Role == db.RoleAssistant {
				total += messages[j].CreatedAt.Sub(messages[i].CreatedAt).Seconds()
				pairs++
				break
			}
			if messages[j].Role == db.RoleUser {
				break
			}
		}
	}
	if pairs == 0 {
		return 0
	}
	return total / float64(pairs)
}

// engagementScore is a [0,1] composite of message frequency, session count
// and response latency.
func engagementScore(messages []db.Message, avgResponseSeconds float64) float64 {
	if len(messages) == 0 {
		return 0
	}

	// Message frequency: 12 messages per hour saturates the component.
	duration := messages[len(messages)-1].CreatedAt.Sub(messages[0].CreatedAt)
	if duration < time.Minute {
		duration = time.Minute
	}
	perHour := float64(len(messages)) / duration.Hours()
	freq := clamp01(perHour / 12)

	// Session count: five distinct sessions saturate the component.
	sessions := 1
	for i := 1; i < len(messages); i++ {
		if messages[i].CreatedAt.Sub(messages[i-1].CreatedAt) > sessionGap {
			sessions++
		}
	}
	sessionComponent := clamp01(float64(sessions) / 5)

	// Latency: faster replies score higher; a one-minute average halves it.
	latency := 1.0
	if avgResponseSeconds > 0 {
		latency = 1 / (1 + avgResponseSeconds/60)
	}

	return clamp01(0.4*freq + 0.3*sessionComponent + 0.3*latency)
}

// topicDistribution allocates each thread's message share evenly across its
// topic keywords and normalizes across all topics to sum to 1.0. The
// mapping is empty only when no thread holds a message. A thread without
// topic keywords (the implicit thread under manual threading, or content
// that is all stopwords) contributes under its lowercased title so its
// messages still count.
func topicDistribution(threads []db.Thread) map[string]float64 {
	raw := map[string]float64{}
	for i := range threads {
		t := &threads[i]
		if t.MessageCount == 0 {
			continue
		}
		keywords := []string(t.TopicKeywords)
		if len(keywords) == 0 {
			topic := strings.ToLower(strings.TrimSpace(t.Title))
			if topic == "" {
				topic = "general"
			}
			keywords = []string{topic}
		}
		share := float64(t.MessageCount) / float64(len(keywords))
		for _, kw := range keywords {
			raw[kw] += share
		}
	}

	var total float64
	for _, v := range raw {
		total += v
	}
	if total == 0 {
		return map[string]float64{}
	}

	dist := make(map[string]float64, len(raw))
	for kw, v := range raw {
		dist[kw] = v / total
	}
	return dist
}

// userParticipation buckets message and token counts by role.
func userParticipation(messages []db.Message) map[string]models.RoleParticipation {
	out := map[string]models.RoleParticipation{}
	for i := range messages {
		m := &messages[i]
		p := out[m.Role]
		p.MessageCount++
		p.TokenCount += m.TokenCount
		out[m.Role] = p
	}
	return out
}

// peakActivityTimes buckets messages by hour of day and returns the top n
// buckets by volume, most active first, earlier hour winning ties.
func peakActivityTimes(messages []db.Message, n int) []string {
	counts := map[int]int{}
	for i := range messages {
		counts[messages[i].CreatedAt.Hour()]++
	}

	hours := make([]int, 0, len(counts))
	for h := range counts {
		hours = append(hours, h)
	}
	sort.Slice(hours, func(i, j int) bool {
		if counts[hours[i]] != counts[hours[j]] {
			return counts[hours[i]] > counts[hours[j]]
		}
		return hours[i] < hours[j]
	})

	if len(hours) > n {
		hours = hours[:n]
	}
	out := make([]string, 0, len(hours))
	for _, h := range hours {
		out = append(out, fmt.Sprintf("%02d:00", h))
	}
	return out
}
