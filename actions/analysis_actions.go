package actions

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/quillworks/automation"
	"github.com/quillworks/automation/retry"
)

// AIAnalysisInput defines the input parameters for the ai_analysis action.
type AIAnalysisInput struct {
	Text         string `json:"text"`
	AnalysisType string `json:"analysis_type"`
	MaxKeywords  int    `json:"max_keywords"`
}

// AIAnalysisAction runs a lightweight local text analysis. It stands in for
// a model-backed analyzer; swap the handler in the registry to integrate a
// real provider.
type AIAnalysisAction struct{}

func NewAIAnalysisAction() *AIAnalysisAction {
	return &AIAnalysisAction{}
}

func (a *AIAnalysisAction) Type() automation.StepType {
	return automation.StepTypeAIAnalysis
}

func (a *AIAnalysisAction) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	var params AIAnalysisInput
	if err := decodeInput(input, &params); err != nil {
		return nil, err
	}
	if params.Text == "" {
		return nil, retry.NonRecoverable(fmt.Errorf("ai_analysis requires 'text'"))
	}
	if params.AnalysisType == "" {
		params.AnalysisType = "summary"
	}
	if params.MaxKeywords <= 0 {
		params.MaxKeywords = 5
	}

	words := strings.Fields(params.Text)
	return map[string]any{
		"analysis_type": params.AnalysisType,
		"word_count":    len(words),
		"keywords":      topKeywords(words, params.MaxKeywords),
		"summary":       summarize(params.Text),
		"analyzed_at":   time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// topKeywords returns the most frequent words of four or more characters,
// ties broken alphabetically so results are deterministic.
func topKeywords(words []string, limit int) []string {
	counts := map[string]int{}
	for _, word := range words {
		normalized := strings.ToLower(strings.Trim(word, ".,;:!?\"'()"))
		if len(normalized) >= 4 {
			counts[normalized]++
		}
	}
	keywords := make([]string, 0, len(counts))
	for word := range counts {
		keywords = append(keywords, word)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if counts[keywords[i]] != counts[keywords[j]] {
			return counts[keywords[i]] > counts[keywords[j]]
		}
		return keywords[i] < keywords[j]
	})
	if len(keywords) > limit {
		keywords = keywords[:limit]
	}
	return keywords
}

func summarize(text string) string {
	const maxLength = 200
	trimmed := strings.TrimSpace(text)
	if idx := strings.IndexAny(trimmed, ".!?"); idx >= 0 && idx < maxLength {
		return trimmed[:idx+1]
	}
	if len(trimmed) > maxLength {
		return trimmed[:maxLength] + "..."
	}
	return trimmed
}
