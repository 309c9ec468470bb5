package summarizer

import (
	"fmt"
	"strings"

	"queryagent/pkg/types"
)

const (
	maxResultContent = 1000 // chars of page content per result
	maxPromptResults = 4000 // chars of the rendered results block
)

const systemPrompt = "You are a helpful research assistant. Answer from the search results you are given."

var formatInstructions = map[Kind]string{
	KindRecommendation: `FORMAT FOR RECOMMENDATIONS:
- Start with a direct answer listing the top 2-3 specific options
- For each option include name/model, price range, key features and why it stands out
- Add a "Key Factors to Consider" section
- Say where to buy or get more info`,
	KindHowTo: `FORMAT FOR HOW-TO:
- Give clear numbered step-by-step instructions
- List prerequisites, tools or materials needed
- Add tips, warnings or common mistakes to avoid`,
	KindComparison: `FORMAT FOR COMPARISONS:
- Compare the options side by side, using a table when it helps
- Highlight key differences and similarities
- Give pros and cons for each option
- Recommend an option per use case`,
	KindLocation: `FORMAT FOR LOCATION QUERIES:
- List specific places with names and addresses
- Include ratings, hours and contact info when available
- Mention price range or specialties
- Group by area or category if relevant`,
	KindFactual: `FORMAT FOR FACTUAL QUERIES:
- Start with a direct, concise answer
- Add context and background
- Include relevant dates, numbers and statistics`,
	KindNews: `FORMAT FOR NEWS/CURRENT EVENTS:
- Start with the most recent or important update
- Give a short timeline of key events
- Name the people or organizations involved and cite dates`,
	KindTroubleshooting: `FORMAT FOR TROUBLESHOOTING:
- Start with the most likely solution
- Offer further approaches from basic to advanced
- Include diagnostic steps and when to seek professional help`,
	KindGeneral: `FORMAT FOR GENERAL QUERIES:
- Structure the information with headers and bullet points
- Include specific details, numbers and names when relevant
- Make it easy to scan`,
}

const guidelines = `GENERAL GUIDELINES:
- Be specific and actionable, avoid vague statements
- Include concrete details such as names, numbers, prices and dates
- Use markdown formatting
- Cite sources when mentioning specific claims
- Keep the user's exact question in mind`

// renderResults formats the top results for the prompt.
func renderResults(query string, results []types.SearchResult, limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Search Query: %s\n\nTop search results:\n", query)

	for i, r := range results {
		if i == limit {
			break
		}
		title, url := r.Title, r.URL
		if title == "" {
			title = "No title"
		}
		if url == "" {
			url = "No URL"
		}
		fmt.Fprintf(&b, "\n--- Result %d ---\nTitle: %s\nURL: %s\n", i+1, title, url)
		if r.Snippet != "" {
			fmt.Fprintf(&b, "Summary: %s\n", r.Snippet)
		}
		if r.Content != "" {
			fmt.Fprintf(&b, "Content: %s\n", truncateRunes(r.Content, maxResultContent))
		}
	}
	return b.String()
}

func buildPrompt(query string, kind Kind, results []types.SearchResult, limit int) string {
	return fmt.Sprintf(`Based on the search results below, provide a comprehensive and actionable answer to the user's query: %q

QUERY TYPE DETECTED: %s

%s

%s

---
Search Results:
%s

Provide your response in the appropriate format for a %s query:`,
		query,
		strings.ToUpper(string(kind)),
		formatInstructions[kind],
		guidelines,
		truncateRunes(renderResults(query, results, limit), maxPromptResults),
		kind,
	)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
