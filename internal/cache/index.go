package cache

import (
	"queryagent/internal/vector"
)

// DefaultSimilarityThreshold is the minimum cosine similarity for reuse.
const DefaultSimilarityThreshold = 0.75

// Index finds the best cached entry for a query embedding.
// It scans every entry; the store is small enough that exactness is cheap.
type Index struct {
	Threshold float64
}

// NewIndex returns an Index; a threshold outside [0,1] falls back to the default.
func NewIndex(threshold float64) Index {
	if threshold < 0 || threshold > 1 {
		threshold = DefaultSimilarityThreshold
	}
	return Index{Threshold: threshold}
}

// Match is the best entry found by Lookup.
type Match struct {
	Entry      Entry
	Similarity float64
}

// Lookup returns the most similar entry in snapshot. ok is true only when
// its similarity reaches the threshold; on a miss the best candidate (if any)
// is still returned for diagnostics. Equal similarities prefer the more
// recently accessed entry, then the more recently created one.
func (ix Index) Lookup(query []float64, snapshot []Entry) (best Match, ok bool, err error) {
	found := false
	for _, e := range snapshot {
		sim, err := vector.CosineSimilarity(query, e.Embedding)
		if err != nil {
			return Match{}, false, err
		}
		if !found || better(sim, e, best) {
			best = Match{Entry: e, Similarity: sim}
			found = true
		}
	}

	if !found {
		return Match{}, false, nil
	}
	return best, best.Similarity >= ix.Threshold, nil
}

func better(sim float64, e Entry, cur Match) bool {
	if sim != cur.Similarity {
		return sim > cur.Similarity
	}
	if !e.LastAccessedAt.Equal(cur.Entry.LastAccessedAt) {
		return e.LastAccessedAt.After(cur.Entry.LastAccessedAt)
	}
	return e.CreatedAt.After(cur.Entry.CreatedAt)
}
