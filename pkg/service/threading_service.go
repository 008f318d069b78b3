// Threading engine - assigns messages to topical threads
package service

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/robert1948/localstorm-sub001/pkg/config"
	"github.com/robert1948/localstorm-sub001/pkg/db"
)

// keywordMergeDecay discounts a thread's existing keywords when merging in
// the keywords of a newly assigned message, so recent topics outrank stale
// ones in the bounded keyword list.
const keywordMergeDecay = 0.8

// ThreadingEngine decides which thread a newly appended message belongs to.
//
// The engine is deterministic: given the same message sequence and the same
// configuration it always produces the same thread partition. It only ever
// sees messages 0..N in sequence order when deciding the treatment of
// message N, and it never reassigns earlier messages.
type ThreadingEngine struct {
	keywordLimit int
	alpha        float64
	threshold    float64
	halfLife     float64
}

// NewThreadingEngine creates a threading engine from config tunables.
func NewThreadingEngine(cfg *config.AppConfig) *ThreadingEngine {
	return &ThreadingEngine{
		keywordLimit: cfg.KeywordLimit(),
		alpha:        cfg.Alpha(),
		threshold:    cfg.Threshold(),
		halfLife:     cfg.HalfLife(),
	}
}

// ThreadState is the in-memory view of a thread used while assigning or
// replaying messages. The service layer maps it to db.Thread rows.
type ThreadState struct {
	ID           string
	Title        string
	Keywords     []string
	MessageCount int
	FirstSeq     int
	LastSeq      int
}

// Assign decides the thread for msg given the prior threads of its
// conversation, mutating the chosen thread's state in place. It returns the
// chosen thread and whether it was newly created; a new thread is appended
// by the caller.
func (e *ThreadingEngine) Assign(conv *db.Conversation, msg *db.Message, threads []*ThreadState) (*ThreadState, bool) {
	if !conv.AutoThreading {
		if len(threads) == 0 {
			t := &ThreadState{
				ID:           uuid.New().String(),
				Title:        "Main",
				MessageCount: 1,
				FirstSeq:     msg.Seq,
				LastSeq:      msg.Seq,
			}
			return t, true
		}
		t := threads[0]
		t.MessageCount++
		t.LastSeq = msg.Seq
		return t, false
	}

	keywords := e.ExtractKeywords(msg.Content)

	best, bestScore := e.bestMatch(conv.ThreadingStrategy, msg.Seq, keywords, threads)
	if best != nil && bestScore >= e.threshold {
		best.Keywords = e.mergeKeywords(best.Keywords, keywords)
		best.MessageCount++
		best.LastSeq = msg.Seq
		return best, false
	}

	t := &ThreadState{
		ID:           uuid.New().String(),
		Title:        threadTitle(keywords),
		Keywords:     keywords,
		MessageCount: 1,
		FirstSeq:     msg.Seq,
		LastSeq:      msg.Seq,
	}
	return t, true
}

// bestMatch scores every existing thread and returns the best one.
// Threads are visited most-recently-active first, and a later thread must
// strictly beat the current best, so equal scores resolve to the most
// recently updated thread.
func (e *ThreadingEngine) bestMatch(strategy string, msgSeq int, keywords []string, threads []*ThreadState) (*ThreadState, float64) {
	ordered := make([]*ThreadState, len(threads))
	copy(ordered, threads)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].LastSeq != ordered[j].LastSeq {
			return ordered[i].LastSeq > ordered[j].LastSeq
		}
		return ordered[i].FirstSeq > ordered[j].FirstSeq
	})

	var best *ThreadState
	bestScore := math.Inf(-1)
	for _, t := range ordered {
		score := e.score(strategy, msgSeq, keywords, t)
		if score > bestScore {
			best = t
			bestScore = score
		}
	}
	return best, bestScore
}

// score computes the match score between a message and a candidate thread
// under the conversation's strategy.
func (e *ThreadingEngine) score(strategy string, msgSeq int, keywords []string, t *ThreadState) float64 {
	overlap := keywordOverlap(keywords, t.Keywords)
	recency := e.recencyWeight(msgSeq, t.LastSeq)

	switch strategy {
	case db.StrategyTopicSimilarity:
		return overlap
	case db.StrategyTemporalProximity:
		return recency
	default: // hybrid
		return e.alpha*overlap + (1-e.alpha)*recency
	}
}

// recencyWeight decays exponentially with elapsed sequence distance; a
// thread last touched halfLife messages ago weighs 0.5.
func (e *ThreadingEngine) recencyWeight(msgSeq, threadLastSeq int) float64 {
	distance := float64(msgSeq - threadLastSeq)
	if distance < 0 {
		distance = 0
	}
	return math.Exp2(-distance / e.halfLife)
}

// keywordOverlap is the overlap coefficient of two keyword sets:
// |A ∩ B| / min(|A|, |B|). Zero when either set is empty.
func keywordOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, kw := range a {
		set[kw] = true
	}
	shared := 0
	for _, kw := range b {
		if set[kw] {
			shared++
		}
	}
	smaller := len(a)
	if len(b) < smaller {
		smaller = len(b)
	}
	return float64(shared) / float64(smaller)
}

// mergeKeywords combines a thread's existing keywords with a new message's
// keywords using decayed rank weights, keeping the result bounded to the
// keyword limit and deterministically ordered.
func (e *ThreadingEngine) mergeKeywords(existing, incoming []string) []string {
	weights := make(map[string]float64)
	firstSeen := make(map[string]int)
	next := 0

	note := func(kw string) {
		if _, ok := firstSeen[kw]; !ok {
			firstSeen[kw] = next
			next++
		}
	}

	for i, kw := range existing {
		weights[kw] += keywordMergeDecay * float64(len(existing)-i)
		note(kw)
	}
	for i, kw := range incoming {
		weights[kw] += float64(len(incoming) - i)
		note(kw)
	}

	merged := make([]string, 0, len(weights))
	for kw := range weights {
		merged = append(merged, kw)
	}
	sort.Slice(merged, func(i, j int) bool {
		if weights[merged[i]] != weights[merged[j]] {
			return weights[merged[i]] > weights[merged[j]]
		}
		return firstSeen[merged[i]] < firstSeen[merged[j]]
	})

	if len(merged) > e.keywordLimit {
		merged = merged[:e.keywordLimit]
	}
	return merged
}

// ExtractKeywords returns the top-k terms of content by frequency, stopword
// filtered and lowercased. Ties resolve to the term that appeared first, so
// the result is deterministic for a fixed input.
func (e *ThreadingEngine) ExtractKeywords(content string) []string {
	return ExtractKeywords(content, e.keywordLimit)
}

// ExtractKeywords is the shared keyword extractor used by threading,
// summarization and quality scoring.
func ExtractKeywords(content string, limit int) []string {
	counts := make(map[string]int)
	firstSeen := make(map[string]int)
	pos := 0

	for _, token := range tokenize(content) {
		if len(token) < 3 || stopwords[token] {
			continue
		}
		if _, ok := firstSeen[token]; !ok {
			firstSeen[token] = pos
			pos++
		}
		counts[token]++
	}

	terms := make([]string, 0, len(counts))
	for term := range counts {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return firstSeen[terms[i]] < firstSeen[terms[j]]
	})

	if len(terms) > limit {
		terms = terms[:limit]
	}
	return terms
}

// tokenize splits content into lowercased alphanumeric terms.
func tokenize(content string) []string {
	return strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// threadTitle derives a display title from the strongest topic keywords.
func threadTitle(keywords []string) string {
	if len(keywords) == 0 {
		return "Discussion"
	}
	n := len(keywords)
	if n > 3 {
		n = 3
	}
	title := strings.Join(keywords[:n], " ")
	r := []rune(title)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "had": true,
	"her": true, "was": true, "one": true, "our": true, "out": true,
	"has": true, "have": true, "him": true, "his": true, "how": true,
	"man": true, "new": true, "now": true, "old": true, "see": true,
	"two": true, "way": true, "who": true, "did": true, "get": true,
	"let": true, "put": true, "say": true, "she": true, "too": true,
	"use": true, "that": true, "with": true, "this": true, "will": true,
	"your": true, "from": true, "they": true, "know": true, "want": true,
	"been": true, "good": true, "much": true, "some": true, "time": true,
	"very": true, "when": true, "come": true, "here": true, "just": true,
	"like": true, "long": true, "make": true, "many": true, "more": true,
	"only": true, "over": true, "such": true, "take": true, "than": true,
	"them": true, "well": true, "were": true, "what": true, "would": true,
	"about": true, "could": true, "there": true, "their": true, "which": true,
	"should": true, "these": true, "those": true, "after": true, "before": true,
	"other": true, "into": true, "also": true, "because": true, "does": true,
	"doing": true, "being": true, "where": true, "while": true, "think": true,
	"really": true, "thing": true, "things": true, "something": true,
	"please": true, "thanks": true, "thank": true, "yes": true, "okay": true,
}
