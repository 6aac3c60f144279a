package extract

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ecoparse/internal/chunk"
	"github.com/sells-group/ecoparse/internal/cost"
	"github.com/sells-group/ecoparse/internal/llm"
	"github.com/sells-group/ecoparse/internal/model"
)

type mockClient struct{ mock.Mock }

func (m *mockClient) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	args := m.Called(ctx, req)
	if v := args.Get(0); v != nil {
		return v.(*llm.Response), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockClient) Provider() string { return "gemini" }
func (m *mockClient) Model() string    { return "gemini-2.5-flash-lite" }

// mapSource serves fixed chunks per entity name.
type mapSource map[string][]string

func (s mapSource) Chunks(name string) ([]model.Chunk, bool) {
	texts, ok := s[name]
	if !ok {
		return nil, false
	}
	out := make([]model.Chunk, len(texts))
	for i, t := range texts {
		out[i] = model.Chunk{Entity: name, Text: t, Strategy: model.StrategyContextWindow}
	}
	return out, true
}

func testSchema(t *testing.T) *model.Schema {
	t.Helper()
	s, err := model.NewSchema([]model.DataField{
		{Name: "Category", Description: "IUCN category", ValidationValues: []string{"LC", "VU", "EN"}},
		{Name: "Population", Description: "Population size"},
	})
	require.NoError(t, err)
	return s
}

func testConfig(t *testing.T, parallel int) RunConfig {
	return RunConfig{
		Temperature:    0.1,
		MaxConcurrency: parallel,
		Schema:         testSchema(t),
		Strategy:       model.StrategyContextWindow,
	}
}

func reply(species string) *llm.Response {
	return &llm.Response{
		Text:         fmt.Sprintf(`[{"species":%q,"data":{"Category":"EN","Population":120},"notes":""}]`, species),
		InputTokens:  100,
		OutputTokens: 10,
	}
}

// forSpecies matches requests whose prompt targets species.
func forSpecies(species string) any {
	return mock.MatchedBy(func(r llm.Request) bool {
		return r.JSON && strings.Contains(r.Prompt, "For the species '"+species+"'")
	})
}

func names(results []model.Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Species
	}
	sort.Strings(out)
	return out
}

func TestRunAll_ResultsAndPlaceholders(t *testing.T) {
	client := &mockClient{}
	client.On("Generate", mock.Anything, forSpecies("Ardea cinerea")).Return(reply("Ardea cinerea"), nil)
	client.On("Generate", mock.Anything, forSpecies("Lynx lynx")).Return(reply("Lynx lynx"), nil)

	src := mapSource{
		"Ardea cinerea": {"rare Ardea cinerea nests"},
		"Lynx lynx":     {"Lynx lynx is endangered", "Lynx lynx again"},
	}

	var mu sync.Mutex
	var progress []int
	o, err := New(client, testConfig(t, 2), WithProgress(func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 3, total)
		progress = append(progress, done)
	}))
	require.NoError(t, err)

	entities := model.EntitiesFromNames([]string{"Ardea cinerea", "Lynx lynx", "Canis lupus"})
	out, err := o.RunAll(context.Background(), entities, src)
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusCompleted, out.Status)
	assert.Equal(t, []string{"Ardea cinerea", "Canis lupus", "Lynx lynx"}, names(out.Results))
	assert.Equal(t, int64(200), out.InputTokens)
	assert.Equal(t, int64(20), out.OutputTokens)
	assert.ElementsMatch(t, []int{1, 2, 3}, progress)

	for _, r := range out.Results {
		if r.Species == "Canis lupus" {
			assert.True(t, r.Placeholder)
			assert.Empty(t, r.Data)
			assert.Equal(t, NoContextNote, r.Notes)
			assert.Zero(t, r.InputTokens)
			assert.Zero(t, r.OutputTokens)
			continue
		}
		assert.Equal(t, "EN", r.Data["Category"].String())
		n, ok := r.Data["Population"].Number()
		require.True(t, ok)
		assert.InDelta(t, 120, n, 0)
	}

	totals := o.State().Totals()
	assert.Equal(t, int64(3), totals.Processed)
	assert.Equal(t, int64(200), totals.InputTokens)
	assert.Equal(t, model.RunStatusCompleted, o.State().Status())
	assert.False(t, o.State().Running())
	client.AssertNumberOfCalls(t, "Generate", 2)
}

func TestRunAll_JoinsChunks(t *testing.T) {
	client := &mockClient{}
	client.On("Generate", mock.Anything, mock.MatchedBy(func(r llm.Request) bool {
		return strings.Contains(r.Prompt, "first\n---\nsecond")
	})).Return(reply("Lynx lynx"), nil).Once()

	o, err := New(client, testConfig(t, 1))
	require.NoError(t, err)
	_, err = o.RunAll(context.Background(), model.EntitiesFromNames([]string{"Lynx lynx"}),
		mapSource{"Lynx lynx": {"first", "second"}})
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestRunAll_RemoteFailureIsPlaceholder(t *testing.T) {
	client := &mockClient{}
	client.On("Generate", mock.Anything, forSpecies("Lynx lynx")).Return(nil, errors.New("quota exceeded"))
	client.On("Generate", mock.Anything, forSpecies("Ardea cinerea")).Return(reply("Ardea cinerea"), nil)

	o, err := New(client, testConfig(t, 2))
	require.NoError(t, err)

	out, err := o.RunAll(context.Background(),
		model.EntitiesFromNames([]string{"Lynx lynx", "Ardea cinerea"}),
		mapSource{"Lynx lynx": {"a"}, "Ardea cinerea": {"b"}})
	require.NoError(t, err)
	require.Len(t, out.Results, 2)
	assert.Equal(t, model.RunStatusCompleted, out.Status)

	for _, r := range out.Results {
		if r.Species != "Lynx lynx" {
			continue
		}
		assert.True(t, r.Placeholder)
		assert.Contains(t, r.Notes, "Extraction failed: ")
		assert.Contains(t, r.Notes, "quota exceeded")
		assert.Zero(t, r.InputTokens)
	}
	assert.Equal(t, int64(100), out.InputTokens)
}

func TestRunAll_UnparseableKeepsTokens(t *testing.T) {
	client := &mockClient{}
	client.On("Generate", mock.Anything, mock.Anything).
		Return(&llm.Response{Text: "I could not find it.", InputTokens: 50, OutputTokens: 5}, nil)

	o, err := New(client, testConfig(t, 1))
	require.NoError(t, err)

	out, err := o.RunAll(context.Background(), model.EntitiesFromNames([]string{"Lynx lynx"}),
		mapSource{"Lynx lynx": {"a"}})
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	r := out.Results[0]
	assert.True(t, r.Placeholder)
	assert.Contains(t, r.Notes, "Unparseable model output: ")
	assert.Equal(t, int64(50), r.InputTokens)
	assert.Equal(t, int64(5), r.OutputTokens)
	assert.Equal(t, int64(50), out.InputTokens)
}

func TestRunAll_DuplicateEntitiesOnce(t *testing.T) {
	client := &mockClient{}
	client.On("Generate", mock.Anything, mock.Anything).Return(reply("Lynx lynx"), nil)

	o, err := New(client, testConfig(t, 3))
	require.NoError(t, err)

	entities := []model.Entity{{Name: "Lynx lynx"}, {Name: "Lynx lynx"}, {Name: "Lynx lynx"}}
	out, err := o.RunAll(context.Background(), entities, mapSource{"Lynx lynx": {"a"}})
	require.NoError(t, err)
	assert.Len(t, out.Results, 1)
	assert.Equal(t, 1, o.State().Total())
	client.AssertNumberOfCalls(t, "Generate", 1)
}

func TestRunAll_RunFatal(t *testing.T) {
	client := &mockClient{}
	o, err := New(client, testConfig(t, 1))
	require.NoError(t, err)

	_, err = o.RunAll(context.Background(), nil, mapSource{})
	require.ErrorIs(t, err, ErrNoEntities)
	assert.Equal(t, model.RunStatusFailed, o.State().Status())

	_, err = o.RunAll(context.Background(), model.EntitiesFromNames([]string{"Lynx lynx"}), nil)
	require.ErrorIs(t, err, ErrNoChunkSource)

	client.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestRunAll_AlreadyRunning(t *testing.T) {
	o, err := New(&mockClient{}, testConfig(t, 1))
	require.NoError(t, err)

	require.True(t, o.State().begin())
	_, err = o.RunAll(context.Background(), model.EntitiesFromNames([]string{"Lynx lynx"}), mapSource{})
	require.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestNewChunkSource_Errors(t *testing.T) {
	_, err := NewChunkSource("", model.StrategyContextWindow, chunk.DefaultOptions())
	require.ErrorIs(t, err, ErrNoChunkSource)

	_, err = NewChunkSource("no markers here", model.StrategyFullPage, chunk.DefaultOptions())
	require.ErrorIs(t, err, ErrNoChunkSource)

	src, err := NewChunkSource("=== PAGE 1 ===\nLynx lynx lives here.", model.StrategyFullPage, chunk.DefaultOptions())
	require.NoError(t, err)
	chunks, ok := src.Chunks("lynx LYNX")
	require.True(t, ok)
	assert.Len(t, chunks, 1)
}

func TestRunResumable_TwoCallsUnion(t *testing.T) {
	all := []string{"A a", "B b", "C c", "D d", "E e"}
	src := mapSource{}
	for _, n := range all {
		src[n] = []string{n + " text"}
	}

	client := &mockClient{}
	client.On("Generate", mock.Anything, mock.Anything).Return(&llm.Response{
		Text: `{"species":"x","data":{"Category":"LC"}}`, InputTokens: 7, OutputTokens: 3,
	}, nil)

	var first *Orchestrator
	var err error
	first, err = New(client, testConfig(t, 1), WithProgress(func(done, _ int) {
		if done == 2 {
			first.Stop()
		}
	}))
	require.NoError(t, err)

	entities := model.EntitiesFromNames(all)
	out1, err := first.RunResumable(context.Background(), entities, src, nil)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusStopped, out1.Status)
	require.Len(t, out1.Results, 2)

	done := make([]string, 0, len(out1.Results))
	for _, r := range out1.Results {
		done = append(done, r.Species)
	}

	second, err := New(client, testConfig(t, 2))
	require.NoError(t, err)
	out2, err := second.RunResumable(context.Background(), entities, src, done)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, out2.Status)
	require.Len(t, out2.Results, 3)

	union := append(names(out1.Results), names(out2.Results)...)
	sort.Strings(union)
	assert.Equal(t, all, union)
	assert.Equal(t, int64(35), out1.InputTokens+out2.InputTokens)
	assert.Equal(t, int64(15), out1.OutputTokens+out2.OutputTokens)
	client.AssertNumberOfCalls(t, "Generate", 5)
}

func TestRunResumable_SeededStateAccumulates(t *testing.T) {
	client := &mockClient{}
	client.On("Generate", mock.Anything, mock.Anything).Return(reply("B b"), nil)

	state := NewRunState()
	state.Seed(model.RunTotals{Processed: 1, InputTokens: 1000, OutputTokens: 100, ElapsedMs: 5000}, []string{"A a"})

	o, err := New(client, testConfig(t, 2), WithState(state))
	require.NoError(t, err)

	var done []int
	o.progress = func(d, total int) {
		assert.Equal(t, 2, total)
		done = append(done, d)
	}

	out, err := o.RunResumable(context.Background(), model.EntitiesFromNames([]string{"A a", "B b"}),
		mapSource{"A a": {"x"}, "B b": {"y"}}, nil)
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "B b", out.Results[0].Species)
	assert.Equal(t, []int{2}, done)

	totals := state.Totals()
	assert.Equal(t, int64(2), totals.Processed)
	assert.Equal(t, int64(1100), totals.InputTokens)
	assert.Equal(t, int64(110), totals.OutputTokens)
	assert.GreaterOrEqual(t, totals.ElapsedMs, int64(5000))
}

func TestRunResumable_NothingLeft(t *testing.T) {
	client := &mockClient{}
	o, err := New(client, testConfig(t, 2))
	require.NoError(t, err)

	out, err := o.RunResumable(context.Background(), model.EntitiesFromNames([]string{"A a"}),
		mapSource{}, []string{"A a"})
	require.NoError(t, err)
	assert.Empty(t, out.Results)
	assert.Equal(t, model.RunStatusCompleted, out.Status)
	client.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestRunResumable_CancelledContext(t *testing.T) {
	client := &mockClient{}
	o, err := New(client, testConfig(t, 2))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := o.RunResumable(ctx, model.EntitiesFromNames([]string{"A a", "B b"}),
		mapSource{"A a": {"x"}, "B b": {"y"}}, nil)
	require.NoError(t, err)
	assert.Empty(t, out.Results)
	assert.Equal(t, model.RunStatusStopped, out.Status)
	client.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestRunResumable_CancelInFlight(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &mockClient{}
	client.On("Generate", mock.Anything, forSpecies("A a")).Return(reply("A a"), nil)
	client.On("Generate", mock.Anything, forSpecies("B b")).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.Canceled)

	o, err := New(client, testConfig(t, 2))
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	entities := model.EntitiesFromNames([]string{"A a", "B b", "C c", "D d"})
	out, err := o.RunResumable(ctx, entities, mapSource{"A a": {"x"}, "B b": {"y"}, "C c": {"z"}, "D d": {"w"}}, nil)
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusStopped, out.Status)
	assert.Equal(t, 1, out.Cancelled)
	assert.Equal(t, []string{"A a"}, names(out.Results))
	assert.False(t, o.State().IsCompleted("B b"))
	assert.LessOrEqual(t, len(out.Results), len(entities))
}

func TestRunAll_StopMidRun(t *testing.T) {
	client := &mockClient{}
	client.On("Generate", mock.Anything, mock.Anything).Return(reply("x"), nil)

	var o *Orchestrator
	var err error
	o, err = New(client, testConfig(t, 1), WithProgress(func(done, _ int) {
		if done == 1 {
			o.Stop()
		}
	}))
	require.NoError(t, err)

	out, err := o.RunAll(context.Background(), model.EntitiesFromNames([]string{"A a", "B b", "C c"}),
		mapSource{"A a": {"x"}, "B b": {"y"}, "C c": {"z"}})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusStopped, out.Status)
	assert.Less(t, len(out.Results), 3)
	assert.NotEmpty(t, out.Results)
}

func TestRunAll_StopBeforeDispatch(t *testing.T) {
	client := &mockClient{}
	o, err := New(client, testConfig(t, 2))
	require.NoError(t, err)

	o.Stop()
	out, err := o.RunAll(context.Background(), model.EntitiesFromNames([]string{"A a", "B b"}),
		mapSource{"A a": {"x"}, "B b": {"y"}})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusStopped, out.Status)
	assert.Empty(t, out.Results)
	assert.False(t, o.State().Running())
	client.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)

	// The stop applies to one run only.
	client.On("Generate", mock.Anything, mock.Anything).Return(reply("x"), nil)
	out, err = o.RunAll(context.Background(), model.EntitiesFromNames([]string{"A a", "B b"}),
		mapSource{"A a": {"x"}, "B b": {"y"}})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, out.Status)
	assert.Len(t, out.Results, 2)
}

func TestRunResumable_StopBeforeDispatch(t *testing.T) {
	client := &mockClient{}
	o, err := New(client, testConfig(t, 1))
	require.NoError(t, err)

	o.Stop()
	out, err := o.RunResumable(context.Background(), model.EntitiesFromNames([]string{"A a", "B b"}),
		mapSource{"A a": {"x"}, "B b": {"y"}}, []string{"A a"})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusStopped, out.Status)
	assert.Empty(t, out.Results)
	client.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestRunAll_ResultHookAndCost(t *testing.T) {
	client := &mockClient{}
	client.On("Generate", mock.Anything, mock.Anything).Return(&llm.Response{
		Text: `[{"species":"A a","data":{}}]`, InputTokens: 1_000_000, OutputTokens: 1_000_000,
	}, nil)

	var hooked []model.Result
	calc := cost.NewCalculator(cost.Rates{"gemini-2.5-flash-lite": {Input: 0.10, Output: 0.40}})
	o, err := New(client, testConfig(t, 1),
		WithCostCalculator(calc),
		WithResultHook(func(r model.Result) { hooked = append(hooked, r) }),
	)
	require.NoError(t, err)

	out, err := o.RunAll(context.Background(), model.EntitiesFromNames([]string{"A a"}), mapSource{"A a": {"x"}})
	require.NoError(t, err)
	require.Len(t, hooked, 1)
	assert.Equal(t, "A a", hooked[0].Species)
	assert.InDelta(t, 0.5, out.EstimatedCostUSD, 1e-9)
	assert.InDelta(t, 0.5, o.State().Totals().EstimatedCostUSD, 1e-9)
	assert.Equal(t, "gemini-2.5-flash-lite", o.Config().Model)
}

func TestNew_RequiresSchemaAndClient(t *testing.T) {
	_, err := New(nil, RunConfig{})
	require.Error(t, err)

	_, err = New(&mockClient{}, RunConfig{})
	require.Error(t, err)
}
