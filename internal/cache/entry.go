package cache

import (
	"context"
	"strings"
	"time"

	"queryagent/pkg/types"
)

// Entry is one cached query/answer pair.
// Embedding and Answer are write-once; only LastAccessedAt and HitCount change.
type Entry struct {
	ID             string       `json:"id"`
	QueryText      string       `json:"query_text"`
	Embedding      []float64    `json:"embedding"`
	Answer         types.Answer `json:"answer"`
	CreatedAt      time.Time    `json:"created_at"`
	LastAccessedAt time.Time    `json:"last_accessed_at"`
	HitCount       int64        `json:"hit_count"`
}

// clone copies the entry's slices so a snapshot never aliases store memory.
func (e Entry) clone() Entry {
	if e.Embedding != nil {
		emb := make([]float64, len(e.Embedding))
		copy(emb, e.Embedding)
		e.Embedding = emb
	}
	e.Answer = e.Answer.Clone()
	return e
}

// Persister is the durable medium behind a Store.
// Load returns (nil, nil) when nothing has been persisted yet and wraps
// apperrors.ErrCorruptStore when the stored data cannot be decoded.
// Save must replace the whole persisted state atomically.
type Persister interface {
	Load(ctx context.Context) ([]Entry, error)
	Save(ctx context.Context, entries []Entry) error
	Backend() string
}

// NormalizeQuery trims, case-folds and collapses inner whitespace so that
// trivially different spellings share one store key.
func NormalizeQuery(raw string) string {
	return strings.Join(strings.Fields(strings.ToLower(raw)), " ")
}
