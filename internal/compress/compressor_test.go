package compress

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/leew666/aiNovel/internal/llm"
	"github.com/leew666/aiNovel/internal/store"
)

// mockClient replays canned completions and counts calls.
type mockClient struct {
	calls   int
	reply   string
	failing bool
}

func (m *mockClient) Generate(_ context.Context, _ []llm.Message, _ float64, _ int) (*llm.GenerateResult, error) {
	m.calls++
	if m.failing {
		return nil, errors.New("provider down")
	}
	return &llm.GenerateResult{
		Content:      m.reply,
		Usage:        llm.Usage{InputTokens: 10, OutputTokens: 10, TotalTokens: 20},
		FinishReason: llm.FinishStop,
	}, nil
}

func (m *mockClient) CountTokens(text string) int      { return len([]rune(text)) / 2 }
func (m *mockClient) EstimateCost(in, out int) float64 { return 0 }
func (m *mockClient) Provider() string                 { return "mock" }
func (m *mockClient) Model() string                    { return "mock-model" }

func newTestStore(t *testing.T) (*store.Store, int64) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	pid, err := s.CreateProject(context.Background(), "测试", "玄幻", "", "")
	require.NoError(t, err)
	return s, pid
}

func addChapter(t *testing.T, s *store.Store, pid int64, ordinal int, title, content string) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := s.CreateChapter(ctx, &store.Chapter{ProjectID: pid, Ordinal: ordinal, Title: title})
	require.NoError(t, err)
	if content != "" {
		require.NoError(t, s.SetChapterContent(ctx, id, content))
	}
	return id
}

func TestTierForDistance(t *testing.T) {
	require.Equal(t, TierDetailed, TierForDistance(1))
	require.Equal(t, TierDetailed, TierForDistance(3))
	require.Equal(t, TierBrief, TierForDistance(4))
	require.Equal(t, TierBrief, TierForDistance(10))
	require.Equal(t, TierMinimal, TierForDistance(11))
}

func TestBuildRecapOpeningChapterSentinel(t *testing.T) {
	s, pid := newTestStore(t)
	c := NewCompressor(s.Queries, &mockClient{reply: "摘要"})

	recap, err := c.BuildRecap(context.Background(), pid, 1, 10, 800)
	require.NoError(t, err)
	require.Equal(t, NoPriorContext, recap)

	// No prior chapters with content behaves the same.
	recap, err = c.BuildRecap(context.Background(), pid, 5, 10, 800)
	require.NoError(t, err)
	require.Equal(t, NoPriorContext, recap)
}

func TestBuildRecapUsesCacheAndOrdersAscending(t *testing.T) {
	s, pid := newTestStore(t)
	ctx := context.Background()

	long := strings.Repeat("剧情", 300)
	for i := 1; i <= 3; i++ {
		id := addChapter(t, s, pid, i, "章节", long)
		require.NoError(t, s.SetChapterSummary(ctx, id, "第"+[]string{"一", "二", "三"}[i-1]+"章摘要"))
	}

	mock := &mockClient{reply: "不应被调用"}
	c := NewCompressor(s.Queries, mock)

	recap, err := c.BuildRecap(ctx, pid, 4, 10, 800)
	require.NoError(t, err)
	require.Zero(t, mock.calls, "cached summaries must not trigger model calls")

	// Fragments appear in reading order even though the budget was spent
	// nearest first.
	i1 := strings.Index(recap, "第1章")
	i2 := strings.Index(recap, "第2章")
	i3 := strings.Index(recap, "第3章")
	require.True(t, i1 >= 0 && i2 > i1 && i3 > i2, "recap: %s", recap)
	require.Contains(t, recap, "第一章摘要")
}

func TestBuildRecapBudgetStopsFarChapters(t *testing.T) {
	s, pid := newTestStore(t)
	ctx := context.Background()

	long := strings.Repeat("剧情", 300)
	for i := 1; i <= 4; i++ {
		id := addChapter(t, s, pid, i, "章节", long)
		require.NoError(t, s.SetChapterSummary(ctx, id, strings.Repeat("摘", 190)))
	}

	// 100-token budget = 150 chars: only the nearest chapters fit after
	// the minimal downgrade, the farthest is dropped.
	c := NewCompressor(s.Queries, &mockClient{reply: "x"})
	recap, err := c.BuildRecap(ctx, pid, 5, 10, 100)
	require.NoError(t, err)
	require.Contains(t, recap, "第4章")
	require.NotContains(t, recap, "第1章")
}

func TestBuildRecapTinyBudgetYieldsEmptyRecap(t *testing.T) {
	s, pid := newTestStore(t)
	ctx := context.Background()

	long := strings.Repeat("剧情", 300)
	for i := 1; i <= 3; i++ {
		id := addChapter(t, s, pid, i, "章节", long)
		require.NoError(t, s.SetChapterSummary(ctx, id, strings.Repeat("摘", 190)))
	}

	// A 10-token budget (15 chars) cannot hold even the nearest chapter's
	// minimal summary, so the recap comes back empty without model calls.
	mock := &mockClient{reply: "不应被调用"}
	c := NewCompressor(s.Queries, mock)
	recap, err := c.BuildRecap(ctx, pid, 4, 10, 10)
	require.NoError(t, err)
	require.Empty(t, recap)
	require.Zero(t, mock.calls)
}

func TestBuildRecapProviderFailureDegradesToTruncation(t *testing.T) {
	s, pid := newTestStore(t)
	ctx := context.Background()

	body := strings.Repeat("这是一段很长的正文。", 50)
	addChapter(t, s, pid, 1, "开篇", body)

	c := NewCompressor(s.Queries, &mockClient{failing: true})
	recap, err := c.BuildRecap(ctx, pid, 2, 10, 800)
	require.NoError(t, err)
	require.Contains(t, recap, "第1章 开篇：")
	require.Contains(t, recap, "…")
	require.Contains(t, recap, "这是一段很长的正文。")
}

func TestCompressAndCacheShortBodyVerbatim(t *testing.T) {
	s, pid := newTestStore(t)
	ctx := context.Background()

	short := "短章节正文。"
	id := addChapter(t, s, pid, 1, "短章", short)

	mock := &mockClient{reply: "不应被调用"}
	c := NewCompressor(s.Queries, mock)

	summary, err := c.CompressAndCache(ctx, id)
	require.NoError(t, err)
	require.Equal(t, short, summary)
	require.Zero(t, mock.calls)

	ch, err := s.Chapter(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, ch.Summary)
	require.Equal(t, short, *ch.Summary)
}

func TestCompressAndCacheCallsModelOnceAndReuses(t *testing.T) {
	s, pid := newTestStore(t)
	ctx := context.Background()

	id := addChapter(t, s, pid, 1, "长章", strings.Repeat("正文", 300))

	mock := &mockClient{reply: "生成的详细摘要"}
	c := NewCompressor(s.Queries, mock)

	summary, err := c.CompressAndCache(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "生成的详细摘要", summary)
	require.Equal(t, 1, mock.calls)

	again, err := c.CompressAndCache(ctx, id)
	require.NoError(t, err)
	require.Equal(t, summary, again)
	require.Equal(t, 1, mock.calls, "second call must hit the cache")
}

func TestBuildBundleDefaultsWithoutScanText(t *testing.T) {
	s, pid := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"林风", "苏瑶"} {
		_, err := s.CreateCharacter(ctx, &store.Character{ProjectID: pid, Name: name})
		require.NoError(t, err)
	}
	_, err := s.CreateWorldItem(ctx, &store.WorldItem{ProjectID: pid, Kind: store.WorldLocation, Name: "青云宗"})
	require.NoError(t, err)
	_, err = s.CreatePlotArc(ctx, &store.PlotArc{ProjectID: pid, Title: "低线", Importance: store.ImportanceLow, PlantedChapter: 1})
	require.NoError(t, err)
	_, err = s.CreatePlotArc(ctx, &store.PlotArc{ProjectID: pid, Title: "高线", Importance: store.ImportanceHigh, PlantedChapter: 1})
	require.NoError(t, err)

	a := NewAssembler(s.Queries, &mockClient{reply: "x"}, noopBackend{})
	bundle, err := a.BuildBundle(ctx, BundleParams{ProjectID: pid, CurrentOrdinal: 1, TopK: 1})
	require.NoError(t, err)

	require.Equal(t, NoPriorContext, bundle.Recap)
	require.Len(t, bundle.CharacterCards, 2)
	require.Len(t, bundle.WorldCards, 1)
	require.Len(t, bundle.PlotArcCards, 1)
	require.Equal(t, "高线", bundle.PlotArcCards[0].Title)
}

func TestBuildBundleScanTextDrivesCards(t *testing.T) {
	s, pid := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateCharacter(ctx, &store.Character{ProjectID: pid, Name: "林风"})
	require.NoError(t, err)
	_, err = s.CreateCharacter(ctx, &store.Character{ProjectID: pid, Name: "苏瑶"})
	require.NoError(t, err)

	a := NewAssembler(s.Queries, &mockClient{reply: "x"}, noopBackend{})
	bundle, err := a.BuildBundle(ctx, BundleParams{
		ProjectID: pid, CurrentOrdinal: 1, ScanText: "林风独自上山", TopK: 3,
	})
	require.NoError(t, err)
	require.Len(t, bundle.CharacterCards, 1)
	require.Equal(t, "林风", bundle.CharacterCards[0].Name)
	require.Empty(t, bundle.PlotArcCards)
}

// noopBackend embeds everything to the same vector.
type noopBackend struct{}

func (noopBackend) Embed(context.Context, string) ([]float64, error) {
	return []float64{1, 0}, nil
}
func (noopBackend) Dimensions() int { return 2 }
func (noopBackend) Name() string    { return "noop" }
