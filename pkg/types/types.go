package types

import "time"

// SearchResult is one raw hit returned by the scraper service.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
	Content string `json:"content,omitempty"`
}

// Source is a reference to a page an answer was built from.
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Answer is the structured result cached per query. Write-once.
type Answer struct {
	Query       string    `json:"query"`
	Kind        string    `json:"kind"` // recommendation | how_to | comparison | ...
	Summary     string    `json:"summary"`
	Sources     []Source  `json:"sources,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Clone returns a copy that shares no slices with a.
func (a Answer) Clone() Answer {
	if a.Sources != nil {
		src := make([]Source, len(a.Sources))
		copy(src, a.Sources)
		a.Sources = src
	}
	return a
}
