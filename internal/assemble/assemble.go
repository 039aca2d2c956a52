// Package assemble builds the retrieval context for a bot answer: the
// channel's recent history plus semantically similar messages from the
// vector index.
//
// The two sources have different failure semantics. History is the
// floor — without it the bot has no grounding, so a history failure
// aborts the ask. Similarity recall is an enrichment: when the embedder
// or index is unavailable the bundle degrades to history only and the
// answer proceeds.
package assemble

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/strandchat/strand/internal/log"
	"github.com/strandchat/strand/internal/message"
	"github.com/strandchat/strand/internal/vector"
)

// ErrHistoryFetch wraps a failed recent-history read. Fatal to the ask.
var ErrHistoryFetch = errors.New("history fetch failed")

// HistoryLister reads the recent messages of a channel, newest first.
type HistoryLister interface {
	ListRecent(ctx context.Context, channelID uuid.UUID, limit int) ([]message.Message, error)
}

// Embedder produces the query embedding for the trigger content.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index answers similarity queries over indexed messages.
type Index interface {
	Query(ctx context.Context, embedding []float32, topK int, filter vector.Filter) ([]vector.Match, error)
}

// Options tunes context assembly. Zero values are invalid; callers fill
// them from config.
type Options struct {
	// HistoryLimit is the recent-history window size.
	HistoryLimit int

	// TopK is how many similarity candidates to request.
	TopK int

	// MinScore drops matches below this cosine similarity.
	MinScore float64

	// MaxContextChars bounds the total content length of the bundle.
	MaxContextChars int

	// ScopeChannel narrows similarity recall to the trigger's channel
	// instead of the whole network.
	ScopeChannel bool

	// IncludeBotMatches keeps bot-authored messages in similarity
	// results. Off by default so the bot does not quote itself.
	IncludeBotMatches bool
}

// Bundle is the assembled context for one ask.
type Bundle struct {
	// History is the channel's recent messages in chronological order,
	// trigger excluded.
	History []message.Message

	// Matches are the surviving similarity results, best first.
	Matches []vector.Match

	// Degraded is true when similarity recall failed and the bundle
	// holds history only.
	Degraded bool
}

// Assembler builds context bundles.
//
// Assembler is safe for concurrent use by multiple goroutines.
type Assembler struct {
	store    HistoryLister
	embedder Embedder
	index    Index
	opts     Options
	logger   log.Logger
}

// New creates an Assembler.
func New(store HistoryLister, embedder Embedder, index Index, opts Options, logger log.Logger) (*Assembler, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if index == nil {
		return nil, fmt.Errorf("index is required")
	}
	if opts.HistoryLimit <= 0 || opts.TopK <= 0 || opts.MaxContextChars <= 0 {
		return nil, fmt.Errorf("invalid assembly options: %+v", opts)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Assembler{store: store, embedder: embedder, index: index, opts: opts, logger: logger}, nil
}

type historyResult struct {
	msgs []message.Message
	err  error
}

type embedResult struct {
	emb []float32
	err error
}

// Assemble builds the context bundle for a trigger message. The history
// fetch and the query embedding run concurrently; both complete before
// the similarity query, so a fatal history failure never hits the index.
// See the package comment for the failure semantics.
func (a *Assembler) Assemble(ctx context.Context, trigger message.Message) (Bundle, error) {
	histCh := make(chan historyResult, 1)
	embCh := make(chan embedResult, 1)

	// The trigger is already persisted and sits on top of ListRecent,
	// so fetch one extra row to keep a full window of prior messages.
	go func() {
		msgs, err := a.store.ListRecent(ctx, trigger.ChannelID, a.opts.HistoryLimit+1)
		histCh <- historyResult{msgs: msgs, err: err}
	}()

	go func() {
		emb, err := a.embedder.Embed(ctx, trigger.Content)
		embCh <- embedResult{emb: emb, err: err}
	}()

	hist := <-histCh
	emb := <-embCh

	if hist.err != nil {
		return Bundle{}, fmt.Errorf("%w: %w", ErrHistoryFetch, hist.err)
	}

	bundle := Bundle{
		History: prepareHistory(hist.msgs, trigger.ID, a.opts.HistoryLimit),
	}

	if matches, err := a.recall(ctx, trigger, emb); err != nil {
		a.logger.Warn("similarity recall failed, degrading to history only",
			"trigger_id", trigger.ID, "error", err)
		bundle.Degraded = true
	} else {
		bundle.Matches = a.filterMatches(matches, trigger)
	}

	a.dedupe(&bundle)
	a.truncate(&bundle)
	return bundle, nil
}

// recall queries the index with the trigger's embedding.
func (a *Assembler) recall(ctx context.Context, trigger message.Message, emb embedResult) ([]vector.Match, error) {
	if emb.err != nil {
		return nil, emb.err
	}

	filter := vector.Filter{NetworkID: trigger.NetworkID}
	if a.opts.ScopeChannel {
		ch := trigger.ChannelID
		filter.ChannelID = &ch
	}

	return a.index.Query(ctx, emb.emb, a.opts.TopK, filter)
}

// prepareHistory drops the trigger itself, reverses to chronological
// order for prompting, and trims to the window size (the fetch
// over-reads by one to cover the trigger's own row).
func prepareHistory(msgs []message.Message, triggerID uuid.UUID, limit int) []message.Message {
	out := make([]message.Message, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].ID == triggerID {
			continue
		}
		out = append(out, msgs[i])
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// filterMatches applies self-exclusion, the bot filter, and the score
// threshold, then orders by score with recency breaking ties.
func (a *Assembler) filterMatches(matches []vector.Match, trigger message.Message) []vector.Match {
	kept := make([]vector.Match, 0, len(matches))
	for _, m := range matches {
		if m.MessageID == trigger.ID {
			continue
		}
		if m.IsBot && !a.opts.IncludeBotMatches {
			continue
		}
		if m.Score < a.opts.MinScore {
			continue
		}
		kept = append(kept, m)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score > kept[j].Score
		}
		return kept[i].CreatedAt.After(kept[j].CreatedAt)
	})
	return kept
}

// dedupe removes history entries that also appear as similarity matches.
// The match copy wins: it carries the score the prompt annotates.
func (a *Assembler) dedupe(b *Bundle) {
	if len(b.Matches) == 0 || len(b.History) == 0 {
		return
	}

	matched := make(map[uuid.UUID]struct{}, len(b.Matches))
	for _, m := range b.Matches {
		matched[m.MessageID] = struct{}{}
	}

	kept := b.History[:0]
	for _, msg := range b.History {
		if _, dup := matched[msg.ID]; dup {
			continue
		}
		kept = append(kept, msg)
	}
	b.History = kept
}

// truncate enforces the context budget, dropping lowest-score matches
// first, then oldest history.
func (a *Assembler) truncate(b *Bundle) {
	total := 0
	for _, m := range b.Matches {
		total += utf8.RuneCountInString(m.Content)
	}
	for _, msg := range b.History {
		total += utf8.RuneCountInString(msg.Content)
	}

	for total > a.opts.MaxContextChars && len(b.Matches) > 0 {
		last := b.Matches[len(b.Matches)-1]
		total -= utf8.RuneCountInString(last.Content)
		b.Matches = b.Matches[:len(b.Matches)-1]
	}
	for total > a.opts.MaxContextChars && len(b.History) > 0 {
		first := b.History[0]
		total -= utf8.RuneCountInString(first.Content)
		b.History = b.History[1:]
	}
}
