// Package pipeline orchestrates an ask: assemble context, render the
// prompt, generate the reply, publish it as a bot message, and dispatch
// its index sync.
//
// Failure policy is fail-closed. If assembly (history), generation, or
// publishing fails, no bot message is produced and the caller sees the
// error. Only similarity recall degrades silently (see assemble).
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/strandchat/strand/internal/assemble"
	"github.com/strandchat/strand/internal/log"
	"github.com/strandchat/strand/internal/message"
	"github.com/strandchat/strand/internal/persona"
	"github.com/strandchat/strand/internal/vector"
)

var (
	// ErrPublish wraps a failure to persist the bot's reply.
	ErrPublish = errors.New("publishing reply failed")

	// ErrBotTrigger indicates an ask triggered by a bot-authored
	// message. Refused to keep the bot from answering itself.
	ErrBotTrigger = errors.New("bot messages cannot trigger an answer")

	// ErrEmptyQuestion indicates the trigger carried no question text.
	ErrEmptyQuestion = errors.New("empty question")
)

// askPrefix is the slash command that addresses the bot.
const askPrefix = "/ask"

// Assembler builds the retrieval context for a trigger.
type Assembler interface {
	Assemble(ctx context.Context, trigger message.Message) (assemble.Bundle, error)
}

// Generator produces the model completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Publisher persists messages. Satisfied by *message.Store.
type Publisher interface {
	CreateMessage(ctx context.Context, channelID, createdBy uuid.UUID, content string, meta message.Meta) (message.Message, error)
	ListRecent(ctx context.Context, channelID uuid.UUID, limit int) ([]message.Message, error)
}

// Dispatcher schedules background index syncs. Satisfied by
// *syncer.Coordinator.
type Dispatcher interface {
	Dispatch(msg message.Message)
}

// Answer is the result of a completed ask.
type Answer struct {
	// Reply is the persisted bot message.
	Reply message.Message `json:"reply"`

	// Response is the generated text, identical to Reply.Content.
	Response string `json:"response"`

	// Matches are the similarity results that informed the answer.
	Matches []vector.Match `json:"matches,omitempty"`

	// Degraded is true when the answer used history only.
	Degraded bool `json:"degraded"`
}

// Config holds the pipeline's identity and tuning.
type Config struct {
	// Persona is the bot identity rendered into prompts.
	Persona persona.Config

	// BotAccountID authors all published replies.
	BotAccountID uuid.UUID

	// SummaryHistoryLimit is the history window for Summarize.
	SummaryHistoryLimit int
}

// Pipeline wires the ask flow together.
//
// Pipeline is safe for concurrent use by multiple goroutines.
type Pipeline struct {
	assembler Assembler
	generator Generator
	store     Publisher
	syncer    Dispatcher
	cfg       Config
	logger    log.Logger
}

// New creates a Pipeline.
func New(assembler Assembler, generator Generator, store Publisher, syncer Dispatcher, cfg Config, logger log.Logger) (*Pipeline, error) {
	if assembler == nil {
		return nil, fmt.Errorf("assembler is required")
	}
	if generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if syncer == nil {
		return nil, fmt.Errorf("syncer is required")
	}
	if cfg.BotAccountID == uuid.Nil {
		return nil, fmt.Errorf("bot account id is required")
	}
	if cfg.SummaryHistoryLimit <= 0 {
		cfg.SummaryHistoryLimit = 30
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Pipeline{
		assembler: assembler,
		generator: generator,
		store:     store,
		syncer:    syncer,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// ExtractQuestion strips the /ask command prefix from trigger content.
// Content without the prefix is used verbatim.
func ExtractQuestion(content string) string {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, askPrefix) {
		trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, askPrefix))
	}
	return trimmed
}

// Ask answers the trigger message and publishes the reply in the same
// channel. The trigger must already be persisted; its id links the reply
// via in_response_to.
func (p *Pipeline) Ask(ctx context.Context, trigger message.Message) (Answer, error) {
	if trigger.Meta.IsBot {
		return Answer{}, fmt.Errorf("%w: message %s", ErrBotTrigger, trigger.ID)
	}

	question := ExtractQuestion(trigger.Content)
	if question == "" {
		return Answer{}, fmt.Errorf("%w: message %s", ErrEmptyQuestion, trigger.ID)
	}

	bundle, err := p.assembler.Assemble(ctx, trigger)
	if err != nil {
		return Answer{}, fmt.Errorf("assembling context: %w", err)
	}

	prompt, err := persona.Build(p.cfg.Persona, question, bundle)
	if err != nil {
		return Answer{}, fmt.Errorf("building prompt: %w", err)
	}

	response, err := p.generator.Generate(ctx, prompt)
	if err != nil {
		return Answer{}, fmt.Errorf("generating reply: %w", err)
	}

	reply, err := p.store.CreateMessage(ctx, trigger.ChannelID, p.cfg.BotAccountID, response,
		message.Meta{IsBot: true, InResponseTo: &trigger.ID})
	if err != nil {
		return Answer{}, fmt.Errorf("%w: %w", ErrPublish, err)
	}

	p.syncer.Dispatch(reply)

	p.logger.Info("ask answered",
		"trigger_id", trigger.ID,
		"reply_id", reply.ID,
		"channel_id", trigger.ChannelID,
		"matches", len(bundle.Matches),
		"degraded", bundle.Degraded)

	return Answer{
		Reply:    reply,
		Response: response,
		Matches:  bundle.Matches,
		Degraded: bundle.Degraded,
	}, nil
}

// Summarize generates a short summary of a channel's recent history.
// Nothing is persisted; the summary goes back to the caller only.
func (p *Pipeline) Summarize(ctx context.Context, channelID uuid.UUID) (string, error) {
	history, err := p.store.ListRecent(ctx, channelID, p.cfg.SummaryHistoryLimit)
	if err != nil {
		return "", fmt.Errorf("%w: %w", assemble.ErrHistoryFetch, err)
	}
	if len(history) == 0 {
		return "", fmt.Errorf("%w: channel %s has no messages", ErrEmptyQuestion, channelID)
	}

	// Chronological order for the prompt.
	ordered := make([]message.Message, len(history))
	for i, msg := range history {
		ordered[len(history)-1-i] = msg
	}

	prompt, err := persona.BuildSummary(p.cfg.Persona, ordered)
	if err != nil {
		return "", fmt.Errorf("building summary prompt: %w", err)
	}

	summary, err := p.generator.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generating summary: %w", err)
	}
	return summary, nil
}
