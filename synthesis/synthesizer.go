// Package synthesis turns a candidate set into a stored suggestion.
//
// A Synthesizer renders the candidates into a prompt that fits the configured
// character budget, asks the generator for one JSON object, repairs and
// validates the answer, and saves the suggestion with the identities of the
// items the prompt actually cited.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/contentpulse/ai"
	"github.com/poiesic/contentpulse/core"
	"github.com/poiesic/contentpulse/retry"
	"github.com/poiesic/contentpulse/storage"
	"golang.org/x/time/rate"
)

const (
	// DefaultPromptBudget bounds the rendered prompt in characters.
	DefaultPromptBudget = 12000

	// DefaultSnippetChars bounds the body text quoted per candidate.
	DefaultSnippetChars = 600
)

// Synthesizer produces suggestions from candidate sets.
type Synthesizer struct {
	store        storage.SuggestionStore
	generator    ai.Generator
	budget       int
	snippetChars int
	limiter      *rate.Limiter
	retry        retry.Policy
	callTimeout  time.Duration
	clock        func() time.Time
	logger       *slog.Logger
}

// Option configures a Synthesizer.
type Option func(*Synthesizer) error

// WithPromptBudget sets the prompt size limit in characters.
func WithPromptBudget(chars int) Option {
	return func(s *Synthesizer) error {
		if chars < len(systemPrompt) {
			return fmt.Errorf("prompt budget must be at least %d characters", len(systemPrompt))
		}
		s.budget = chars
		return nil
	}
}

// WithSnippetChars sets how much of each candidate body is quoted.
func WithSnippetChars(chars int) Option {
	return func(s *Synthesizer) error {
		if chars < 1 {
			return errors.New("snippet length must be positive")
		}
		s.snippetChars = chars
		return nil
	}
}

// WithRateLimit paces generator calls to r per second with the given burst.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(s *Synthesizer) error {
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(r, burst)
		return nil
	}
}

// WithRetryPolicy sets the backoff applied to transient generator failures.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Synthesizer) error {
		if p.MaxAttempts < 1 {
			return retry.ErrInvalidMaxAttempts
		}
		s.retry = p
		return nil
	}
}

// WithCallTimeout bounds a single generator call. Default is 120 seconds.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Synthesizer) error {
		if d <= 0 {
			return errors.New("call timeout must be positive")
		}
		s.callTimeout = d
		return nil
	}
}

// WithClock overrides the time source used for GeneratedAt.
func WithClock(clock func() time.Time) Option {
	return func(s *Synthesizer) error {
		if clock == nil {
			clock = time.Now
		}
		s.clock = clock
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Synthesizer) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// NewSynthesizer creates a synthesizer writing to store.
func NewSynthesizer(store storage.SuggestionStore, generator ai.Generator, opts ...Option) (*Synthesizer, error) {
	if store == nil {
		return nil, ErrSuggestionStoreRequired
	}
	if generator == nil {
		return nil, ErrGeneratorRequired
	}

	s := &Synthesizer{
		store:        store,
		generator:    generator,
		budget:       DefaultPromptBudget,
		snippetChars: DefaultSnippetChars,
		limiter:      rate.NewLimiter(rate.Inf, 1),
		retry:        retry.DefaultPolicy,
		callTimeout:  120 * time.Second,
		clock:        time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "synthesis")
	return s, nil
}

// Synthesize asks the generator for a suggestion grounded in candidates and
// stores it. Candidates must be ordered best first. contextHint is passed to
// the model and kept on the suggestion.
//
// Output that cannot be parsed is requested once more with a stricter
// instruction; a second failure returns ErrMalformedOutput and nothing is
// stored.
func (s *Synthesizer) Synthesize(ctx context.Context, candidates []core.ScoredItem, contextHint string) (*core.Suggestion, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}

	p, err := buildPrompt(candidates, contextHint, s.budget, s.snippetChars)
	if err != nil {
		return nil, err
	}
	if dropped := len(candidates) - len(p.included); dropped > 0 {
		s.logger.Debug("dropped candidates to fit prompt budget", "dropped", dropped, "kept", len(p.included))
	}

	out, err := s.generate(ctx, p.system, p.user)
	if errors.Is(err, ErrMalformedOutput) {
		s.logger.Warn("malformed suggestion output, asking again", "err", err)
		out, err = s.generate(ctx, p.system, p.user+"\n\n"+strictInstruction)
	}
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(p.included))
	for i, c := range p.included {
		ids[i] = c.Item.Identity
	}
	suggestion := &core.Suggestion{
		GeneratedAt:   s.clock().UTC(),
		Topic:         out.Topic,
		Keywords:      out.Keywords,
		Rationale:     out.Rationale,
		Label:         out.Label,
		ContextHint:   contextHint,
		SourceItemIDs: ids,
	}
	if err := s.store.SaveSuggestion(ctx, suggestion); err != nil {
		return nil, fmt.Errorf("saving suggestion: %w", err)
	}

	s.logger.Info("suggestion stored", "id", suggestion.ID, "topic", suggestion.Topic, "evidence", len(ids))
	return suggestion, nil
}

// generate performs one retried generator call and parses its answer.
func (s *Synthesizer) generate(ctx context.Context, system, user string) (*output, error) {
	var response string
	err := retry.Do(ctx, s.retry.WithLogger(s.logger), func(ctx context.Context) error {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		defer cancel()

		text, err := s.generator.Generate(callCtx, system, user)
		if err != nil {
			return err
		}
		response = text
		return nil
	})
	if err != nil {
		return nil, err
	}
	return parseOutput(response)
}
