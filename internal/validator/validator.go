// Package validator decides whether free text is a searchable web query.
package validator

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"queryagent/pkg/logging/logging"
)

const (
	DefaultMaxLength = 500

	MessageValid   = "Query is valid for web search"
	MessageInvalid = "This is not a valid search query"
)

// Completer is the chat model used for the semantic check.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

type Config struct {
	MaxLength int           // runes (default: 500)
	Timeout   time.Duration // model budget (default: 15s)
}

type Validator struct {
	llm    Completer
	cfg    Config
	logger *zap.Logger
}

// New returns a validator. A nil llm leaves only the rule checks.
func New(llm Completer, cfg Config, logger *zap.Logger) *Validator {
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = DefaultMaxLength
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{llm: llm, cfg: cfg, logger: logger.Named("validator")}
}

// Classify reports whether text is a searchable query, with a short reason.
// A model failure rejects the query.
func (v *Validator) Classify(ctx context.Context, text string) (bool, string) {
	if reason, ok := precheck(text, v.cfg.MaxLength); !ok {
		return false, reason
	}
	if v.llm == nil {
		return true, MessageValid
	}

	ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	reply, err := v.llm.Complete(ctx, "", fmt.Sprintf(rubric, strings.TrimSpace(text)))
	if err != nil {
		logging.L(ctx).Warn("query validation failed", zap.Error(err))
		return false, "Error validating query: " + err.Error()
	}

	valid, reason := parseVerdict(reply)
	logging.L(ctx).Debug("query classified",
		zap.Bool("valid", valid),
		zap.String("reason", reason),
	)
	if valid {
		return true, MessageValid
	}
	if reason == "" {
		reason = MessageInvalid
	}
	return false, reason
}

// precheck rejects input the model never needs to see.
func precheck(text string, maxLen int) (string, bool) {
	trimmed := strings.TrimSpace(text)
	switch {
	case trimmed == "" || trimmed == "[]" || trimmed == "{}":
		return "Query is empty", false
	case utf8.RuneCountInString(trimmed) > maxLen:
		return fmt.Sprintf("Query is longer than %d characters", maxLen), false
	}

	letters, digits := 0, 0
	for _, r := range trimmed {
		switch {
		case unicode.IsLetter(r):
			letters++
		case unicode.IsDigit(r):
			digits++
		}
	}
	switch {
	case letters == 0 && digits > 0:
		return "Query contains only numbers", false
	case letters == 0:
		return MessageInvalid, false
	}
	return "", true
}

// parseVerdict reads "VALID - reason" or "INVALID - reason".
func parseVerdict(reply string) (bool, string) {
	reply = strings.TrimSpace(strings.Trim(strings.TrimSpace(reply), "\"'`*"))
	upper := strings.ToUpper(reply)

	var valid bool
	var rest string
	switch {
	case strings.HasPrefix(upper, "INVALID"):
		rest = reply[len("INVALID"):]
	case strings.HasPrefix(upper, "VALID"):
		valid = true
		rest = reply[len("VALID"):]
	default:
		return false, ""
	}

	reason := strings.TrimSpace(strings.TrimLeft(rest, " *:-\u2013\u2014\t"))
	if i := strings.IndexByte(reason, '\n'); i >= 0 {
		reason = strings.TrimSpace(reason[:i])
	}
	return valid, reason
}

const rubric = `You are a query validator for a web search agent.
Determine if the following query is a valid web search query.

A valid query:
- asks for information that can be searched on the web
- would return meaningful search results
- is not a personal task or command (like "walk my pet", "add to grocery list")
- does not need private context (specific named people, exact personal times, private locations). Generic terms like "my coworker" or "someone" are fine.

VALID examples:
- "How to cook pasta"
- "Best headphones under 5000 rupees"
- "Why do dogs bark at night"
- "Top restaurants in Gurgaon"
- "I am in Delhi, what are the best places to visit?"
- "How do I send an email to my coworker?"
- "Weather in Delhi today"

INVALID examples:
- "cook pasta" (command)
- "walk my pet, buy groceries" (multiple personal tasks)
- "alksdj123@!!" (gibberish)
- "schedule meeting with Raj tomorrow" (too specific)
- "What is my IP address" (private context)
- "Open Spotify" (action)
- "What's Rahul's phone number" (private info)

Query: "%s"

Respond with only "VALID" or "INVALID" followed by a brief reason, for example:
VALID - searchable information request
INVALID - personal task, not searchable`
