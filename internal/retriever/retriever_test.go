package retriever

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unsafisica/unsabot/internal/log"
)

// fakeStore implements Querier in memory.
type fakeStore struct {
	fragments  []Result
	bumped     [][]int32
	searchErr  error
	topErr     error
	lastTerms  []string
	lastLimit  int
	closeCalls int
}

func (f *fakeStore) TopFragments(_ context.Context, limit int) ([]Result, error) {
	if f.topErr != nil {
		return nil, f.topErr
	}
	f.lastLimit = limit
	if len(f.fragments) > limit {
		return f.fragments[:limit], nil
	}
	return f.fragments, nil
}

func (f *fakeStore) SearchFragments(_ context.Context, terms []string, limit int) ([]Result, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	f.lastTerms = terms
	f.lastLimit = limit
	var out []Result
	for _, frag := range f.fragments {
		for _, term := range terms {
			if strings.Contains(strings.ToLower(frag.Content), term) {
				out = append(out, frag)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) BumpUsage(_ context.Context, ids []int32) error {
	f.bumped = append(f.bumped, ids)
	return nil
}

func (f *fakeStore) CountFragments(_ context.Context) (int64, error) {
	return int64(len(f.fragments)), nil
}

func (f *fakeStore) Ping(_ context.Context) error { return nil }

func (f *fakeStore) Close() { f.closeCalls++ }

// newTestRetriever wires a Retriever to the fake store with a controllable
// clock and no real sleeping.
func newTestRetriever(store *fakeStore, dialErr error) (*Retriever, *time.Time) {
	now := time.Unix(1700000000, 0)
	r := New("postgres://test", log.NewNop())
	r.dial = func(_ context.Context, _ string) (Querier, error) {
		if dialErr != nil {
			return nil, dialErr
		}
		return store, nil
	}
	r.now = func() time.Time { return now }
	r.sleep = func(_ context.Context, d time.Duration) { now = now.Add(d) }
	return r, &now
}

func TestRetrieve_DirectMode(t *testing.T) {
	store := &fakeStore{fragments: []Result{
		{ID: 1, Content: "Becas de ayuda económica disponibles para estudiantes", Category: "Beca", Keywords: []string{"becas"}},
	}}
	r, _ := newTestRetriever(store, nil)

	ctx, results, mode := r.Retrieve(context.Background(), "¿Hay becas disponibles?", 6)

	assert.Equal(t, ModeDirect, mode)
	require.Len(t, results, 1)
	assert.Equal(t, store.fragments[0].Content, ctx)
	assert.Equal(t, []string{"becas", "disponibles"}, store.lastTerms)
}

func TestRetrieve_LLMModeAtThreshold(t *testing.T) {
	long := strings.Repeat("a", 400)
	store := &fakeStore{fragments: []Result{
		{ID: 1, Content: "becas " + long},
		{ID: 2, Content: "becas " + long},
	}}
	r, _ := newTestRetriever(store, nil)

	// 2 x 406 runes = 812 >= 800
	_, _, mode := r.Retrieve(context.Background(), "becas", 6)
	assert.Equal(t, ModeLLM, mode)
}

func TestRetrieve_DirectJustBelowThreshold(t *testing.T) {
	store := &fakeStore{fragments: []Result{
		{ID: 1, Content: "becas " + strings.Repeat("a", 793)}, // 799 runes
	}}
	r, _ := newTestRetriever(store, nil)

	_, _, mode := r.Retrieve(context.Background(), "becas", 6)
	assert.Equal(t, ModeDirect, mode)
}

func TestRetrieve_EmptyResultIsFallback(t *testing.T) {
	store := &fakeStore{}
	r, _ := newTestRetriever(store, nil)

	ctx, results, mode := r.Retrieve(context.Background(), "algo inexistente", 6)

	assert.Equal(t, ModeFallback, mode)
	assert.Empty(t, results)
	assert.Equal(t, "No se encontró información.", ctx)
}

func TestRetrieve_EmptyTermsUsesPopularity(t *testing.T) {
	store := &fakeStore{fragments: []Result{
		{ID: 1, Content: "fragmento popular"},
	}}
	r, _ := newTestRetriever(store, nil)

	_, results, _ := r.Retrieve(context.Background(), "¿y?", 6)

	require.Len(t, results, 1)
	assert.Nil(t, store.lastTerms, "empty term list must use the popularity query")
}

func TestRetrieve_BumpsUsageOfReturnedFragments(t *testing.T) {
	store := &fakeStore{fragments: []Result{
		{ID: 7, Content: "becas para estudiantes"},
		{ID: 9, Content: "becas de transporte"},
	}}
	r, _ := newTestRetriever(store, nil)

	r.Retrieve(context.Background(), "becas", 6)

	require.Len(t, store.bumped, 1)
	assert.Equal(t, []int32{7, 9}, store.bumped[0])
}

func TestRetrieve_StoreUnreachableIsFallback(t *testing.T) {
	r, _ := newTestRetriever(nil, errors.New("connection refused"))

	ctx, results, mode := r.Retrieve(context.Background(), "becas", 6)

	assert.Equal(t, ModeFallback, mode)
	assert.Empty(t, results)
	assert.Equal(t, "Error de base de datos.", ctx)
	assert.False(t, r.Connected())
}

func TestRetrieve_QueryErrorIsFallback(t *testing.T) {
	store := &fakeStore{searchErr: errors.New("relation does not exist")}
	r, _ := newTestRetriever(store, nil)

	ctx, _, mode := r.Retrieve(context.Background(), "becas", 6)

	assert.Equal(t, ModeFallback, mode)
	assert.Equal(t, "Error consultando la base.", ctx)
	assert.EqualValues(t, 1, r.Stats().Errors)
}

func TestConnect_CooldownThrottlesAttempts(t *testing.T) {
	dials := 0
	r := New("postgres://test", log.NewNop())
	now := time.Unix(1700000000, 0)
	r.now = func() time.Time { return now }
	r.dial = func(_ context.Context, _ string) (Querier, error) {
		dials++
		return nil, errors.New("down")
	}

	r.Connect(context.Background())
	r.Connect(context.Background()) // inside cool-down: no dial
	assert.Equal(t, 1, dials)

	now = now.Add(connectCooldown + time.Millisecond)
	r.Connect(context.Background())
	assert.Equal(t, 2, dials)
}

func TestRetrieve_Idempotent(t *testing.T) {
	store := &fakeStore{fragments: []Result{
		{ID: 1, Content: "becas universitarias"},
		{ID: 2, Content: "becas de comedor"},
	}}
	r, now := newTestRetriever(store, nil)

	_, first, mode1 := r.Retrieve(context.Background(), "becas", 6)
	*now = now.Add(connectCooldown) // step past the cool-down between calls
	_, second, mode2 := r.Retrieve(context.Background(), "becas", 6)

	assert.Equal(t, first, second)
	assert.Equal(t, mode1, mode2)
}

func TestBuildDirectResponse(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		assert.Equal(t, "No encontré información específica.", BuildDirectResponse(nil))
	})

	t.Run("caps at three fragments", func(t *testing.T) {
		results := []Result{
			{Content: "uno"}, {Content: "dos"}, {Content: "tres"}, {Content: "cuatro"},
		}
		assert.Equal(t, "uno\n\ndos\n\ntres", BuildDirectResponse(results))
	})
}

func TestStats(t *testing.T) {
	store := &fakeStore{fragments: []Result{{ID: 1, Content: "becas"}}}
	r, _ := newTestRetriever(store, nil)

	r.Retrieve(context.Background(), "becas", 6)
	r.Retrieve(context.Background(), "becas", 6)

	stats := r.Stats()
	assert.EqualValues(t, 2, stats.Queries)
	assert.EqualValues(t, 1, stats.Fragments)
}
