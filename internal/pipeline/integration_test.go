package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"

	"github.com/strandchat/strand/internal/assemble"
	"github.com/strandchat/strand/internal/embed"
	"github.com/strandchat/strand/internal/generate"
	"github.com/strandchat/strand/internal/log"
	"github.com/strandchat/strand/internal/message"
	"github.com/strandchat/strand/internal/persona"
	"github.com/strandchat/strand/internal/pipeline"
	"github.com/strandchat/strand/internal/syncer"
	"github.com/strandchat/strand/internal/testutil"
	"github.com/strandchat/strand/internal/vector"
)

// env wires the full ask path against a real pgvector database with mock
// Genkit models.
type env struct {
	fixture  testutil.Fixture
	store    *message.Store
	index    *vector.Index
	coord    *syncer.Coordinator
	pipeline *pipeline.Pipeline
	embedder *testutil.MockEmbedder
	llm      *testutil.MockLLM
}

func setupEnv(t *testing.T) *env {
	t.Helper()

	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	fixture := testutil.SeedFixture(t, db.Pool)
	logger := log.NewNop()

	g := genkit.Init(context.Background())
	mockEmb := testutil.NewMockEmbedder(vector.Dimension)
	mockLLM := testutil.NewMockLLM("default answer")

	store, err := message.NewStore(db.Pool, logger)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	index, err := vector.NewIndex(db.Pool, logger)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	embedClient, err := embed.NewClient(mockEmb.RegisterEmbedder(g))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	coord, err := syncer.New(embedClient, index, 10*time.Second, logger)
	if err != nil {
		t.Fatalf("syncer.New: %v", err)
	}
	assembler, err := assemble.New(store, embedClient, index, assemble.Options{
		HistoryLimit:    15,
		TopK:            5,
		MinScore:        0.35,
		MaxContextChars: 6000,
	}, logger)
	if err != nil {
		t.Fatalf("assemble.New: %v", err)
	}
	generator, err := generate.New(g, generate.Options{
		Model:       mockLLM.RegisterModel(g),
		Timeout:     10 * time.Second,
		Temperature: 0.7,
		MaxTokens:   512,
	})
	if err != nil {
		t.Fatalf("generate.New: %v", err)
	}
	pipe, err := pipeline.New(assembler, generator, store, coord, pipeline.Config{
		Persona:      persona.Config{Name: "Relay", Voice: "concise"},
		BotAccountID: fixture.BotAccountID,
	}, logger)
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}

	return &env{
		fixture:  fixture,
		store:    store,
		index:    index,
		coord:    coord,
		pipeline: pipe,
		embedder: mockEmb,
		llm:      mockLLM,
	}
}

// post creates a message and syncs it into the index synchronously.
func (e *env) post(t *testing.T, author uuid.UUID, content string) message.Message {
	t.Helper()
	msg, err := e.store.CreateMessage(context.Background(), e.fixture.ChannelID, author, content, message.Meta{})
	if err != nil {
		t.Fatalf("CreateMessage(%q): %v", content, err)
	}
	if err := e.coord.Sync(context.Background(), msg); err != nil {
		t.Fatalf("Sync(%q): %v", content, err)
	}
	return msg
}

func axisVec(axis int) []float32 {
	v := make([]float32, vector.Dimension)
	v[axis] = 1
	return v
}

func TestAskEndToEnd(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()

	// A channel with history plus two older messages that are
	// semantically close to the question.
	e.embedder.SetVector("the deploy runs blue-green since March", axisVec(1))
	e.embedder.SetVector("blue-green needs the second target group", axisVec(1))
	e.post(t, e.fixture.AliceID, "the deploy runs blue-green since March")
	e.post(t, e.fixture.BobID, "blue-green needs the second target group")
	for i := 0; i < 15; i++ {
		e.post(t, e.fixture.AliceID, fmt.Sprintf("chatter %d", i))
	}

	question := "/ask how do deploys work?"
	e.embedder.SetVector(question, axisVec(1))
	e.llm.AddResponse("blue-green", "Deploys are blue-green; see the target group note.")

	trigger, err := e.store.CreateMessage(ctx, e.fixture.ChannelID, e.fixture.AliceID, question, message.Meta{})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	answer, err := e.pipeline.Ask(ctx, trigger)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}

	// Both similar messages survived filtering and informed the prompt.
	if len(answer.Matches) != 2 {
		t.Fatalf("matches = %d, want 2", len(answer.Matches))
	}
	if answer.Response != "Deploys are blue-green; see the target group note." {
		t.Errorf("response = %q", answer.Response)
	}

	// The reply is a bot message linked to the trigger.
	reply, err := e.store.GetMessage(ctx, answer.Reply.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if !reply.Meta.IsBot || reply.Meta.InResponseTo == nil || *reply.Meta.InResponseTo != trigger.ID {
		t.Errorf("reply meta = %+v, want bot reply to trigger", reply.Meta)
	}

	// After the background sync drains, the reply is recallable.
	e.coord.Wait()
	matches, err := e.index.Query(ctx, e.embedder.Vector(reply.Content), 10,
		vector.Filter{NetworkID: e.fixture.NetworkID})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	var found bool
	for _, m := range matches {
		if m.MessageID == reply.ID {
			found = true
			if !m.IsBot {
				t.Error("indexed reply not flagged as bot")
			}
		}
	}
	if !found {
		t.Error("reply not indexed after Wait")
	}
}

func TestAskDegradesWhenIndexEmptyAndEmbedderDown(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()

	if _, err := e.store.CreateMessage(ctx, e.fixture.ChannelID, e.fixture.AliceID, "the wifi password is hunter2", message.Meta{}); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	// Similarity recall is down; the ask still answers from history.
	e.embedder.SetError(errors.New("embedding service offline"))
	e.llm.AddResponse("wifi", "It's hunter2, per the channel history.")

	trigger, err := e.store.CreateMessage(ctx, e.fixture.ChannelID, e.fixture.BobID, "/ask what is the wifi password?", message.Meta{})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	answer, err := e.pipeline.Ask(ctx, trigger)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !answer.Degraded {
		t.Error("Degraded = false, want true with embedder down")
	}
	if len(answer.Matches) != 0 {
		t.Errorf("matches = %d, want 0", len(answer.Matches))
	}
	if answer.Response == "" {
		t.Error("no response despite history being available")
	}
}

func TestAskFailsClosedOnGenerationError(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()

	e.llm.SetError(errors.New("model unavailable"))

	trigger, err := e.store.CreateMessage(ctx, e.fixture.ChannelID, e.fixture.AliceID, "/ask anything?", message.Meta{})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	if _, err := e.pipeline.Ask(ctx, trigger); !errors.Is(err, generate.ErrGenerate) {
		t.Fatalf("Ask = %v, want ErrGenerate", err)
	}

	// Fail closed: only the trigger exists in the channel.
	msgs, err := e.store.ListRecent(ctx, e.fixture.ChannelID, 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != trigger.ID {
		t.Errorf("channel has %d messages, want only the trigger", len(msgs))
	}
}

func TestEditThenResyncConverges(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()

	e.embedder.SetVector("standup is at 9am", axisVec(2))
	e.embedder.SetVector("standup is at 10am now", axisVec(2))
	msg := e.post(t, e.fixture.AliceID, "standup is at 9am")

	edited, err := e.store.UpdateMessage(ctx, msg.ID, e.fixture.AliceID, "standup is at 10am now")
	if err != nil {
		t.Fatalf("UpdateMessage: %v", err)
	}
	if err := e.coord.Sync(ctx, edited); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	matches, err := e.index.Query(ctx, axisVec(2), 10, vector.Filter{NetworkID: e.fixture.NetworkID})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("matches = %d, want 1 (single row per message)", len(matches))
	}
	if matches[0].Content != "standup is at 10am now" {
		t.Errorf("indexed content = %q, want the edited text", matches[0].Content)
	}
}
