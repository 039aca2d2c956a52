package generate_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/firebase/genkit/go/genkit"

	"github.com/strandchat/strand/internal/generate"
	"github.com/strandchat/strand/internal/testutil"
)

func newGenerator(t *testing.T, mock *testutil.MockLLM, timeout time.Duration) *generate.Generator {
	t.Helper()

	g := genkit.Init(context.Background())
	gen, err := generate.New(g, generate.Options{
		Model:       mock.RegisterModel(g),
		Timeout:     timeout,
		Temperature: 0.7,
		MaxTokens:   256,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return gen
}

func TestNewValidation(t *testing.T) {
	g := genkit.Init(context.Background())

	if _, err := generate.New(nil, generate.Options{ModelName: "m", Timeout: time.Second}); err == nil {
		t.Error("nil genkit accepted")
	}
	if _, err := generate.New(g, generate.Options{Timeout: time.Second}); err == nil {
		t.Error("missing model accepted")
	}
	if _, err := generate.New(g, generate.Options{ModelName: "m"}); err == nil {
		t.Error("zero timeout accepted")
	}
}

func TestGenerate(t *testing.T) {
	mock := testutil.NewMockLLM("fallback answer")
	mock.AddResponse("deploy", "we decided on blue-green deploys")
	gen := newGenerator(t, mock, 5*time.Second)

	got, err := gen.Generate(context.Background(), "what did we decide about the deploy?")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "we decided on blue-green deploys" {
		t.Errorf("Generate = %q", got)
	}

	got, err = gen.Generate(context.Background(), "unrelated question")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "fallback answer" {
		t.Errorf("Generate = %q, want fallback", got)
	}
}

func TestGenerateEmptyPrompt(t *testing.T) {
	gen := newGenerator(t, testutil.NewMockLLM("x"), time.Second)

	if _, err := gen.Generate(context.Background(), "  "); !errors.Is(err, generate.ErrGenerate) {
		t.Fatalf("Generate = %v, want ErrGenerate", err)
	}
}

func TestGenerateModelFailure(t *testing.T) {
	mock := testutil.NewMockLLM("x")
	mock.SetError(errors.New("upstream 500"))
	gen := newGenerator(t, mock, time.Second)

	if _, err := gen.Generate(context.Background(), "anything"); !errors.Is(err, generate.ErrGenerate) {
		t.Fatalf("Generate = %v, want ErrGenerate", err)
	}
}

func TestGenerateEmptyReply(t *testing.T) {
	gen := newGenerator(t, testutil.NewMockLLM(""), time.Second)

	if _, err := gen.Generate(context.Background(), "anything"); !errors.Is(err, generate.ErrGenerate) {
		t.Fatalf("Generate = %v, want ErrGenerate on empty reply", err)
	}
}
