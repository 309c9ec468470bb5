package summarizer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"queryagent/internal/apperrors"
	"queryagent/pkg/types"
)

type fakeLLM struct {
	reply  string
	err    error
	delay  time.Duration
	system string
	prompt string
}

func (f *fakeLLM) Complete(ctx context.Context, system, prompt string) (string, error) {
	f.system, f.prompt = system, prompt
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.reply, f.err
}

func TestClassify(t *testing.T) {
	cases := map[string]Kind{
		"Best restaurants in Delhi":       KindRecommendation,
		"how to cook pasta":               KindHowTo,
		"python vs go":                    KindComparison,
		"weather in delhi":                KindLocation,
		"cafes near me":                   KindLocation,
		"What is a vector database?":      KindFactual,
		"why do dogs bark at night":       KindFactual,
		"latest iphone updates":           KindNews,
		"laptop not working":              KindTroubleshooting,
		"pasta carbonara":                 KindGeneral,
		"desktop wallpaper":               KindGeneral,
		"which is better, tea or coffee?": KindRecommendation,
	}
	for q, want := range cases {
		if got := Classify(q); got != want {
			t.Fatalf("Classify(%q) = %s, want %s", q, got, want)
		}
	}
}

func TestSummarizeBuildsAnswer(t *testing.T) {
	llm := &fakeLLM{reply: "Try Indian Accent and Bukhara."}
	s := New(llm, Config{}, zaptest.NewLogger(t))
	fixed := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	results := []types.SearchResult{
		{Title: "Guide", URL: "https://example.com/a", Snippet: "top picks", Content: strings.Repeat("x", 3000)},
		{Title: "Dup", URL: "https://example.com/a", Snippet: "again"},
		{Title: "List", URL: "https://example.com/b", Content: "more"},
	}

	ans, err := s.Summarize(context.Background(), "best restaurants in delhi", results)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if ans.Summary != "Try Indian Accent and Bukhara." || ans.Kind != string(KindRecommendation) {
		t.Fatalf("unexpected answer: %+v", ans)
	}
	if !ans.GeneratedAt.Equal(fixed) || ans.Query != "best restaurants in delhi" {
		t.Fatalf("unexpected metadata: %+v", ans)
	}
	if len(ans.Sources) != 2 || ans.Sources[1].URL != "https://example.com/b" {
		t.Fatalf("sources not deduplicated: %+v", ans.Sources)
	}

	if !strings.Contains(llm.prompt, "QUERY TYPE DETECTED: RECOMMENDATION") {
		t.Fatalf("prompt missing query type")
	}
	if !strings.Contains(llm.prompt, "FORMAT FOR RECOMMENDATIONS") {
		t.Fatalf("prompt missing format instructions")
	}
	if strings.Contains(llm.prompt, strings.Repeat("x", maxResultContent+1)) {
		t.Fatalf("result content not capped")
	}
	if llm.system == "" {
		t.Fatalf("system prompt not sent")
	}
}

func TestRenderResultsCaps(t *testing.T) {
	var results []types.SearchResult
	for i := 0; i < 8; i++ {
		results = append(results, types.SearchResult{Title: "t", URL: "u", Content: strings.Repeat("y", 2000)})
	}

	block := renderResults("q", results, 5)
	if strings.Count(block, "--- Result") != 5 {
		t.Fatalf("expected 5 results rendered")
	}

	prompt := buildPrompt("q", KindGeneral, results, 5)
	_, rest, ok := strings.Cut(prompt, "Search Results:\n")
	if !ok {
		t.Fatalf("prompt missing results section")
	}
	section, _, _ := strings.Cut(rest, "\n\nProvide your response")
	if n := len([]rune(section)); n > maxPromptResults {
		t.Fatalf("results block is %d chars, cap is %d", n, maxPromptResults)
	}
}

func TestSummarizeErrors(t *testing.T) {
	results := []types.SearchResult{{Title: "t", URL: "u", Snippet: "s"}}

	s := New(&fakeLLM{delay: time.Second}, Config{Timeout: 10 * time.Millisecond}, zaptest.NewLogger(t))
	if _, err := s.Summarize(context.Background(), "q", results); !errors.Is(err, apperrors.ErrSummarizationTimeout) {
		t.Fatalf("expected ErrSummarizationTimeout, got %v", err)
	}

	s = New(&fakeLLM{err: errors.New("llmclient: upstream 401: bad key")}, Config{}, zaptest.NewLogger(t))
	if _, err := s.Summarize(context.Background(), "q", results); !errors.Is(err, apperrors.ErrSummarizationUnavailable) {
		t.Fatalf("expected ErrSummarizationUnavailable, got %v", err)
	}

	if _, err := s.Summarize(context.Background(), "q", nil); !errors.Is(err, apperrors.ErrFetchEmpty) {
		t.Fatalf("expected ErrFetchEmpty for no results, got %v", err)
	}
}
