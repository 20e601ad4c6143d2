package normalize

import (
	"context"
	"fmt"
	"time"

	"github.com/clarityhq/clarity/engine/domain"
	"github.com/clarityhq/clarity/pkg/fn"
)

// ExtractRequest is the cleaned payload handed to an Extractor.
type ExtractRequest struct {
	Source domain.SourceType
	Brand  string
	Text   string
	Now    time.Time
}

// Extractor turns cleaned text into loosely structured candidates.
type Extractor interface {
	Extract(ctx context.Context, req ExtractRequest) ([]Candidate, error)
}

// Completer is a chat model that answers in JSON. *llm.Client and
// *ollama.ChatClient both satisfy it.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// LLMExtractor asks a language model to structure the payload.
type LLMExtractor struct {
	model Completer
	retry fn.RetryOpts
}

// NewLLMExtractor builds an extractor around model. Unparseable answers are
// asked again up to attempts times in total.
func NewLLMExtractor(model Completer, attempts int) *LLMExtractor {
	if attempts <= 0 {
		attempts = 2
	}
	return &LLMExtractor{
		model: model,
		retry: fn.RetryOpts{MaxAttempts: attempts, InitialWait: 500 * time.Millisecond, MaxWait: 2 * time.Second},
	}
}

// Extract implements Extractor.
func (e *LLMExtractor) Extract(ctx context.Context, req ExtractRequest) ([]Candidate, error) {
	prompt, err := buildPrompt(req)
	if err != nil {
		return nil, fmt.Errorf("llm extract %s: %w", req.Source, err)
	}
	r := fn.Retry(ctx, e.retry, func(ctx context.Context) fn.Result[[]Candidate] {
		content, err := e.model.Complete(ctx, systemPrompt, prompt)
		if err != nil {
			return fn.Err[[]Candidate](err)
		}
		return fn.FromPair(DecodeCandidates(content))
	})
	out, err := r.Unwrap()
	if err != nil {
		return nil, fmt.Errorf("llm extract %s: %w", req.Source, err)
	}
	return out, nil
}
