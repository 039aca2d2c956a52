package assemble

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/strandchat/strand/internal/log"
	"github.com/strandchat/strand/internal/message"
	"github.com/strandchat/strand/internal/vector"
)

type fakeStore struct {
	msgs      []message.Message
	err       error
	lastLimit int
}

func (f *fakeStore) ListRecent(_ context.Context, _ uuid.UUID, limit int) ([]message.Message, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	if len(f.msgs) > limit {
		return f.msgs[:limit], nil
	}
	return f.msgs, nil
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	v := make([]float32, vector.Dimension)
	v[0] = 1
	return v, nil
}

type fakeIndex struct {
	matches    []vector.Match
	err        error
	lastFilter vector.Filter
	queries    int
}

func (f *fakeIndex) Query(_ context.Context, _ []float32, topK int, filter vector.Filter) ([]vector.Match, error) {
	f.queries++
	f.lastFilter = filter
	if f.err != nil {
		return nil, f.err
	}
	if len(f.matches) > topK {
		return f.matches[:topK], nil
	}
	return f.matches, nil
}

func defaultOpts() Options {
	return Options{
		HistoryLimit:    15,
		TopK:            5,
		MinScore:        0.35,
		MaxContextChars: 6000,
	}
}

var baseTime = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func histMsg(content string, age time.Duration) message.Message {
	return message.Message{
		ID:        uuid.New(),
		ChannelID: uuid.New(),
		NetworkID: uuid.New(),
		CreatedBy: uuid.New(),
		Content:   content,
		CreatedAt: baseTime.Add(-age),
	}
}

func matchOf(content string, score float64, age time.Duration) vector.Match {
	return vector.Match{
		MessageID: uuid.New(),
		Content:   content,
		Score:     score,
		CreatedAt: baseTime.Add(-age),
	}
}

func trigger() message.Message {
	return message.Message{
		ID:        uuid.New(),
		ChannelID: uuid.New(),
		NetworkID: uuid.New(),
		CreatedBy: uuid.New(),
		Content:   "what did we decide about the deploy?",
		CreatedAt: baseTime,
	}
}

func newAssembler(t *testing.T, store *fakeStore, emb *fakeEmbedder, idx *fakeIndex, opts Options) *Assembler {
	t.Helper()
	a, err := New(store, emb, idx, opts, log.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestNewValidation(t *testing.T) {
	store, emb, idx := &fakeStore{}, &fakeEmbedder{}, &fakeIndex{}

	if _, err := New(nil, emb, idx, defaultOpts(), log.NewNop()); err == nil {
		t.Error("nil store accepted")
	}
	if _, err := New(store, nil, idx, defaultOpts(), log.NewNop()); err == nil {
		t.Error("nil embedder accepted")
	}
	if _, err := New(store, emb, nil, defaultOpts(), log.NewNop()); err == nil {
		t.Error("nil index accepted")
	}
	if _, err := New(store, emb, idx, Options{}, log.NewNop()); err == nil {
		t.Error("zero options accepted")
	}
}

func TestAssembleHistoryChronologicalAndTriggerExcluded(t *testing.T) {
	trig := trigger()
	// Store returns newest first, trigger on top as it was just persisted.
	store := &fakeStore{msgs: []message.Message{
		trig,
		histMsg("newest", time.Minute),
		histMsg("middle", 2*time.Minute),
		histMsg("oldest", 3*time.Minute),
	}}
	a := newAssembler(t, store, &fakeEmbedder{}, &fakeIndex{}, defaultOpts())

	bundle, err := a.Assemble(context.Background(), trig)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if bundle.Degraded {
		t.Error("Degraded = true, want false")
	}
	if len(bundle.History) != 3 {
		t.Fatalf("history len = %d, want 3 (trigger excluded)", len(bundle.History))
	}
	got := []string{bundle.History[0].Content, bundle.History[1].Content, bundle.History[2].Content}
	if got[0] != "oldest" || got[1] != "middle" || got[2] != "newest" {
		t.Errorf("order = %v, want [oldest middle newest]", got)
	}
}

// A persisted trigger occupies one row of the fetch, so the window must
// still carry HistoryLimit prior messages after it is excluded.
func TestAssembleFullWindowBesideTrigger(t *testing.T) {
	trig := trigger()
	msgs := []message.Message{trig}
	for i := 0; i < 16; i++ {
		msgs = append(msgs, histMsg("prior", time.Duration(i+1)*time.Minute))
	}
	store := &fakeStore{msgs: msgs}
	a := newAssembler(t, store, &fakeEmbedder{}, &fakeIndex{}, defaultOpts())

	bundle, err := a.Assemble(context.Background(), trig)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(bundle.History) != 15 {
		t.Fatalf("history len = %d, want 15", len(bundle.History))
	}
	if store.lastLimit != 16 {
		t.Errorf("fetch limit = %d, want HistoryLimit+1", store.lastLimit)
	}
	// The newest prior survives trimming, not the trigger.
	newest := bundle.History[len(bundle.History)-1]
	if newest.ID == trig.ID || !newest.CreatedAt.Equal(baseTime.Add(-time.Minute)) {
		t.Errorf("newest history entry = %+v, want the most recent prior", newest)
	}
}

// Without the trigger in the fetched rows, the over-read trims back down
// to the window size.
func TestAssembleWindowTrimsWithoutTrigger(t *testing.T) {
	var msgs []message.Message
	for i := 0; i < 16; i++ {
		msgs = append(msgs, histMsg("prior", time.Duration(i+1)*time.Minute))
	}
	a := newAssembler(t, &fakeStore{msgs: msgs}, &fakeEmbedder{}, &fakeIndex{}, defaultOpts())

	bundle, err := a.Assemble(context.Background(), trigger())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(bundle.History) != 15 {
		t.Fatalf("history len = %d, want 15", len(bundle.History))
	}
	if got := bundle.History[0].CreatedAt; !got.Equal(baseTime.Add(-15 * time.Minute)) {
		t.Errorf("oldest entry at %v, want the 16th prior dropped", got)
	}
}

func TestAssembleHistoryFailureIsFatal(t *testing.T) {
	idx := &fakeIndex{}
	a := newAssembler(t, &fakeStore{err: errors.New("db down")}, &fakeEmbedder{}, idx, defaultOpts())

	_, err := a.Assemble(context.Background(), trigger())
	if !errors.Is(err, ErrHistoryFetch) {
		t.Fatalf("Assemble = %v, want ErrHistoryFetch", err)
	}
	if idx.queries != 0 {
		t.Errorf("index queried %d times during an aborted ask, want 0", idx.queries)
	}
}

func TestAssembleDegradesWhenEmbedFails(t *testing.T) {
	store := &fakeStore{msgs: []message.Message{histMsg("still here", time.Minute)}}
	idx := &fakeIndex{}
	a := newAssembler(t, store, &fakeEmbedder{err: errors.New("quota")}, idx, defaultOpts())

	bundle, err := a.Assemble(context.Background(), trigger())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !bundle.Degraded {
		t.Error("Degraded = false, want true")
	}
	if len(bundle.Matches) != 0 {
		t.Errorf("matches = %v, want none", bundle.Matches)
	}
	if len(bundle.History) != 1 {
		t.Errorf("history len = %d, want 1", len(bundle.History))
	}
	if idx.queries != 0 {
		t.Errorf("index queried %d times without an embedding, want 0", idx.queries)
	}
}

func TestAssembleDegradesWhenIndexFails(t *testing.T) {
	a := newAssembler(t, &fakeStore{}, &fakeEmbedder{}, &fakeIndex{err: errors.New("index offline")}, defaultOpts())

	bundle, err := a.Assemble(context.Background(), trigger())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !bundle.Degraded {
		t.Error("Degraded = false, want true")
	}
}

func TestAssembleFiltersMatches(t *testing.T) {
	trig := trigger()

	self := matchOf("the trigger itself", 0.99, 0)
	self.MessageID = trig.ID
	bot := matchOf("earlier bot answer", 0.9, time.Hour)
	bot.IsBot = true
	weak := matchOf("barely related", 0.2, time.Hour)
	good := matchOf("the deploy decision", 0.8, time.Hour)

	idx := &fakeIndex{matches: []vector.Match{self, bot, weak, good}}
	a := newAssembler(t, &fakeStore{}, &fakeEmbedder{}, idx, defaultOpts())

	bundle, err := a.Assemble(context.Background(), trig)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(bundle.Matches) != 1 || bundle.Matches[0].MessageID != good.MessageID {
		t.Fatalf("matches = %+v, want only the strong human match", bundle.Matches)
	}
}

func TestAssembleIncludeBotMatches(t *testing.T) {
	bot := matchOf("earlier bot answer", 0.9, time.Hour)
	bot.IsBot = true

	opts := defaultOpts()
	opts.IncludeBotMatches = true
	a := newAssembler(t, &fakeStore{}, &fakeEmbedder{}, &fakeIndex{matches: []vector.Match{bot}}, opts)

	bundle, err := a.Assemble(context.Background(), trigger())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(bundle.Matches) != 1 {
		t.Fatalf("matches = %d, want 1 with bot matches enabled", len(bundle.Matches))
	}
}

func TestAssembleOrdersByScoreThenRecency(t *testing.T) {
	older := matchOf("tied but older", 0.9, 2*time.Hour)
	newer := matchOf("tied but newer", 0.9, time.Hour)
	lower := matchOf("lower score", 0.95, 3*time.Hour)

	idx := &fakeIndex{matches: []vector.Match{older, newer, lower}}
	a := newAssembler(t, &fakeStore{}, &fakeEmbedder{}, idx, defaultOpts())

	bundle, err := a.Assemble(context.Background(), trigger())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(bundle.Matches) != 3 {
		t.Fatalf("matches = %d, want 3", len(bundle.Matches))
	}
	got := []string{bundle.Matches[0].Content, bundle.Matches[1].Content, bundle.Matches[2].Content}
	want := []string{"lower score", "tied but newer", "tied but older"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestAssembleDedupeKeepsMatchCopy(t *testing.T) {
	shared := histMsg("we decided blue-green deploys", time.Hour)
	store := &fakeStore{msgs: []message.Message{shared}}

	m := matchOf(shared.Content, 0.9, time.Hour)
	m.MessageID = shared.ID
	a := newAssembler(t, store, &fakeEmbedder{}, &fakeIndex{matches: []vector.Match{m}}, defaultOpts())

	bundle, err := a.Assemble(context.Background(), trigger())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(bundle.History) != 0 {
		t.Errorf("history = %+v, want duplicate removed", bundle.History)
	}
	if len(bundle.Matches) != 1 {
		t.Errorf("matches = %d, want 1", len(bundle.Matches))
	}
}

func TestAssembleTruncatesMatchesFirstThenOldestHistory(t *testing.T) {
	big := strings.Repeat("x", 50)

	store := &fakeStore{msgs: []message.Message{
		histMsg(big+" newest", time.Minute),
		histMsg(big+" oldest", time.Hour),
	}}
	idx := &fakeIndex{matches: []vector.Match{
		matchOf(big+" strong", 0.9, time.Hour),
		matchOf(big+" weak", 0.5, time.Hour),
	}}

	opts := defaultOpts()
	opts.MaxContextChars = 180 // room for three ~57-char entries
	a := newAssembler(t, store, &fakeEmbedder{}, idx, opts)

	bundle, err := a.Assemble(context.Background(), trigger())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	// Lowest-score match dropped first; all history survives.
	if len(bundle.Matches) != 1 || !strings.HasSuffix(bundle.Matches[0].Content, "strong") {
		t.Errorf("matches = %+v, want only the strong match", bundle.Matches)
	}
	if len(bundle.History) != 2 {
		t.Errorf("history len = %d, want 2", len(bundle.History))
	}

	// Tighter budget eats all matches and then the oldest history entry.
	opts.MaxContextChars = 60
	a = newAssembler(t, store, &fakeEmbedder{}, idx, opts)
	bundle, err = a.Assemble(context.Background(), trigger())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(bundle.Matches) != 0 {
		t.Errorf("matches = %+v, want none", bundle.Matches)
	}
	if len(bundle.History) != 1 || !strings.HasSuffix(bundle.History[0].Content, "newest") {
		t.Errorf("history = %+v, want only the newest entry", bundle.History)
	}
}

func TestAssembleScopeChannelFilter(t *testing.T) {
	trig := trigger()

	idx := &fakeIndex{}
	opts := defaultOpts()
	opts.ScopeChannel = true
	a := newAssembler(t, &fakeStore{}, &fakeEmbedder{}, idx, opts)

	if _, err := a.Assemble(context.Background(), trig); err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if idx.lastFilter.NetworkID != trig.NetworkID {
		t.Errorf("filter network = %s, want %s", idx.lastFilter.NetworkID, trig.NetworkID)
	}
	if idx.lastFilter.ChannelID == nil || *idx.lastFilter.ChannelID != trig.ChannelID {
		t.Errorf("filter channel = %v, want %s", idx.lastFilter.ChannelID, trig.ChannelID)
	}

	// Default scope is network-wide.
	opts.ScopeChannel = false
	a = newAssembler(t, &fakeStore{}, &fakeEmbedder{}, idx, opts)
	if _, err := a.Assemble(context.Background(), trig); err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if idx.lastFilter.ChannelID != nil {
		t.Errorf("filter channel = %v, want nil for network scope", idx.lastFilter.ChannelID)
	}
}
