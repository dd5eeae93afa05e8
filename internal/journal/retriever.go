package journal

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/jaakkos/deskwork/internal/domain"
)

// Relevance and recency contribute 0.6/0.4 to the combined score.
const (
	relevanceWeight = 0.6
	recencyWeight   = 0.4
)

// ScoredEntry is one retrieval result with its score breakdown.
type ScoredEntry struct {
	Meta      domain.JournalMeta
	Relevance float64
	Recency   float64
	Combined  float64
}

// Retriever ranks index entries by lexical relevance and time decay.
type Retriever struct {
	index *Index
	now   func() time.Time // test hook
}

// NewRetriever creates a retriever over the given index.
func NewRetriever(index *Index) *Retriever {
	return &Retriever{index: index, now: time.Now}
}

// Retrieve returns the topN entries ranked by combined score. The
// candidate set is index.Search when either input is nonempty, otherwise
// every entry. Ties keep candidate iteration order.
func (r *Retriever) Retrieve(tags []string, queryText string, topN int) ([]ScoredEntry, error) {
	var candidates []domain.JournalMeta
	var err error
	if len(tags) > 0 || queryText != "" {
		candidates, err = r.index.Search(tags, queryText)
	} else {
		candidates, err = r.index.All()
	}
	if err != nil {
		return nil, err
	}

	scored := make([]ScoredEntry, 0, len(candidates))
	for _, e := range candidates {
		relevance := r.relevance(e, tags, queryText)
		recency := r.recency(e)
		combined := round4(relevanceWeight*relevance + recencyWeight*recency)
		scored = append(scored, ScoredEntry{Meta: e, Relevance: relevance, Recency: recency, Combined: combined})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Combined > scored[j].Combined })
	if topN > 0 && len(scored) > topN {
		scored = scored[:topN]
	}
	return scored, nil
}

// GetRelatedEntries ranks entries related to a reference entry, using the
// reference's tags as the query and excluding the reference itself.
func (r *Retriever) GetRelatedEntries(filename string, topN int) ([]ScoredEntry, error) {
	ref, err := r.index.Get(filename)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, domain.Errorf(domain.KindNotFound, "journal.related", "entry %s not in index", filename)
	}
	scored, err := r.Retrieve(ref.Tags, "", 0)
	if err != nil {
		return nil, err
	}
	out := make([]ScoredEntry, 0, len(scored))
	for _, s := range scored {
		if s.Meta.Filename == filename {
			continue
		}
		out = append(out, s)
		if topN > 0 && len(out) == topN {
			break
		}
	}
	return out, nil
}

// relevance scales tag overlap and keyword hits to 0..0.5 each, then
// normalises by the allocations that actually applied. With no query at
// all, every entry gets the 0.5 baseline.
func (r *Retriever) relevance(e domain.JournalMeta, tags []string, queryText string) float64 {
	maxPossible := 0.0
	score := 0.0

	if len(tags) > 0 {
		maxPossible += 0.5
		overlap := 0
		for _, q := range tags {
			for _, t := range e.Tags {
				if t == q {
					overlap++
					break
				}
			}
		}
		score += 0.5 * float64(overlap) / float64(len(tags))
	}

	if queryText != "" {
		maxPossible += 0.5
		tokens := strings.Fields(strings.ToLower(queryText))
		if len(tokens) > 0 {
			summary := strings.ToLower(e.Summary)
			joined := strings.ToLower(strings.Join(e.Tags, " "))
			inSummary, inTags := 0, 0
			for _, tok := range tokens {
				if strings.Contains(summary, tok) {
					inSummary++
				}
				if strings.Contains(joined, tok) {
					inTags++
				}
			}
			summaryRatio := float64(inSummary) / float64(len(tokens))
			tagRatio := float64(inTags) / float64(len(tokens))
			score += 0.5 * math.Max(summaryRatio, tagRatio)
		}
	}

	if maxPossible == 0 {
		return 0.5
	}
	return score / maxPossible
}

// recency is exp(-decay_rate * age_days) clamped to [0,1]. A missing or
// unparseable created_at scores the neutral 0.5.
func (r *Retriever) recency(e domain.JournalMeta) float64 {
	created, err := time.Parse(domain.TimeFormat, e.CreatedAt)
	if err != nil {
		return 0.5
	}
	ageDays := r.now().Sub(created).Seconds() / 86400
	v := math.Exp(-e.RelevanceDecay.PerDay() * ageDays)
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
