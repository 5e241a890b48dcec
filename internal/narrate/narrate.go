// Package narrate provides an optional LLM-backed summarizer used by the
// `onboard` and `reflect` RPC methods to turn a structural digest (top
// complexity, dead symbols, coupling hotspots) into a short prose
// narrative. It degrades to a deterministic structural summary when no
// API key is configured, so callers never have to branch on whether an
// LLM is available.
package narrate

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Summarizer wraps an optional OpenAI client. A zero-value Summarizer (no
// client) is valid and always falls back to the structural summary.
type Summarizer struct {
	client  *openai.Client
	model   string
	enabled bool
}

// New builds a Summarizer from OPENAI_API_KEY. With no key set, IsEnabled
// returns false and Summarize always uses the structural fallback.
func New() *Summarizer {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return &Summarizer{enabled: false}
	}
	return &Summarizer{
		client:  openai.NewClient(key),
		model:   openai.GPT4oMini,
		enabled: true,
	}
}

// IsEnabled reports whether a real LLM call will be made.
func (s *Summarizer) IsEnabled() bool {
	return s != nil && s.enabled
}

// Digest is the structural input handed to the narrator: counts and
// named highlights pulled from GraphQuery aggregates.
type Digest struct {
	RepoName        string
	FileCount       int
	SymbolCount     int
	TopComplexity   []string
	TopCoupling     []string
	DeadSymbolCount int
	OrphanTestCount int
}

// Summarize produces a short narrative of the digest. If the summarizer
// is disabled or the LLM call fails, it falls back to a deterministic
// structural rendering built from the same fields — the caller always
// gets a usable string, never an error surfaced to the RPC client.
func (s *Summarizer) Summarize(ctx context.Context, d Digest) string {
	if s.IsEnabled() {
		if text, err := s.complete(ctx, d); err == nil && text != "" {
			return text
		}
	}
	return structuralSummary(d)
}

func (s *Summarizer) complete(ctx context.Context, d Digest) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You summarize a code graph digest in 3-4 plain sentences for a developer onboarding to the repo. Be concrete, name the files/symbols given, no preamble."},
			{Role: openai.ChatMessageRoleUser, Content: digestPrompt(d)},
		},
		Temperature: 0.2,
		MaxTokens:   400,
	})
	if err != nil {
		return "", fmt.Errorf("narrate: openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("narrate: openai returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func digestPrompt(d Digest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Repo: %s\n", d.RepoName)
	fmt.Fprintf(&b, "Files: %d, Symbols: %d\n", d.FileCount, d.SymbolCount)
	if len(d.TopComplexity) > 0 {
		fmt.Fprintf(&b, "Highest complexity: %s\n", strings.Join(d.TopComplexity, ", "))
	}
	if len(d.TopCoupling) > 0 {
		fmt.Fprintf(&b, "Most coupled files: %s\n", strings.Join(d.TopCoupling, ", "))
	}
	fmt.Fprintf(&b, "Dead symbols: %d, Orphan tests: %d\n", d.DeadSymbolCount, d.OrphanTestCount)
	return b.String()
}

func structuralSummary(d Digest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s has %d files and %d indexed symbols.", d.RepoName, d.FileCount, d.SymbolCount)
	if len(d.TopComplexity) > 0 {
		fmt.Fprintf(&b, " Highest complexity: %s.", strings.Join(d.TopComplexity, ", "))
	}
	if len(d.TopCoupling) > 0 {
		fmt.Fprintf(&b, " Most coupled: %s.", strings.Join(d.TopCoupling, ", "))
	}
	if d.DeadSymbolCount > 0 {
		fmt.Fprintf(&b, " %d symbols have no detected callers.", d.DeadSymbolCount)
	}
	if d.OrphanTestCount > 0 {
		fmt.Fprintf(&b, " %d tests call nothing they appear to target.", d.OrphanTestCount)
	}
	return b.String()
}
