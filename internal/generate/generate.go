// Package generate produces model completions for assembled prompts.
package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"google.golang.org/genai"
)

// ErrGenerate wraps model call failures, including deadline expiry.
var ErrGenerate = errors.New("generation failed")

// Options configures a Generator. Exactly one of Model or ModelName must
// be set; Model takes precedence (used by tests with a registered mock).
type Options struct {
	Model       ai.Model
	ModelName   string
	Timeout     time.Duration
	Temperature float32
	MaxTokens   int
}

// Generator runs completions against the configured model with a hard
// per-call deadline.
//
// Generator is safe for concurrent use by multiple goroutines.
type Generator struct {
	g    *genkit.Genkit
	opts Options
}

// New creates a Generator.
func New(g *genkit.Genkit, opts Options) (*Generator, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if opts.Model == nil && opts.ModelName == "" {
		return nil, fmt.Errorf("model or model name is required")
	}
	if opts.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive")
	}
	return &Generator{g: g, opts: opts}, nil
}

// Generate runs the prompt and returns the model's text reply. The call
// is bounded by the configured timeout; on expiry the error wraps both
// ErrGenerate and context.DeadlineExceeded.
func (gen *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("%w: empty prompt", ErrGenerate)
	}

	ctx, cancel := context.WithTimeout(ctx, gen.opts.Timeout)
	defer cancel()

	genOpts := []ai.GenerateOption{
		ai.WithPrompt(prompt),
		ai.WithConfig(&genai.GenerateContentConfig{
			Temperature:     genai.Ptr(gen.opts.Temperature),
			MaxOutputTokens: int32(gen.opts.MaxTokens),
		}),
	}
	if gen.opts.Model != nil {
		genOpts = append(genOpts, ai.WithModel(gen.opts.Model))
	} else {
		genOpts = append(genOpts, ai.WithModelName(gen.opts.ModelName))
	}

	response, err := genkit.Generate(ctx, gen.g, genOpts...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("%w: %w: %w", ErrGenerate, ctxErr, err)
		}
		return "", fmt.Errorf("%w: %w", ErrGenerate, err)
	}

	text := response.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: model returned empty reply", ErrGenerate)
	}
	return text, nil
}
