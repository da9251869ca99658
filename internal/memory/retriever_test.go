package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/leew666/aiNovel/internal/store"
)

func TestCosine(t *testing.T) {
	require.InDelta(t, 1.0, Cosine([]float64{1, 0}, []float64{2, 0}), 1e-9)
	require.InDelta(t, 0.0, Cosine([]float64{1, 0}, []float64{0, 1}), 1e-9)
	require.Zero(t, Cosine(nil, nil))
	require.Zero(t, Cosine([]float64{1, 2}, []float64{1, 2, 3}))
	require.Zero(t, Cosine([]float64{0, 0}, []float64{1, 2}))
}

func TestHashBackendDeterministicAndNormalized(t *testing.T) {
	b := HashBackend{}
	v1, err := b.Embed(context.Background(), "少年握剑 下山 复仇")
	require.NoError(t, err)
	v2, err := b.Embed(context.Background(), "少年握剑 下山 复仇")
	require.NoError(t, err)
	require.Equal(t, v1, v2)
	require.Len(t, v1, 512)

	var norm float64
	for _, x := range v1 {
		norm += x * x
	}
	require.InDelta(t, 1.0, norm, 1e-9)

	// Related text scores above unrelated text.
	related, err := b.Embed(context.Background(), "少年带着剑下山")
	require.NoError(t, err)
	unrelated, err := b.Embed(context.Background(), "朝堂争斗 权谋 立储")
	require.NoError(t, err)
	require.Greater(t, Cosine(v1, related), Cosine(v1, unrelated))
}

// failingBackend simulates an unreachable embeddings endpoint.
type failingBackend struct{}

func (failingBackend) Embed(context.Context, string) ([]float64, error) {
	return nil, errors.New("backend down")
}
func (failingBackend) Dimensions() int { return 0 }
func (failingBackend) Name() string    { return "failing" }

func TestRetrieverLazyIndexAndRanking(t *testing.T) {
	s, pid := newTestStore(t)
	ctx := context.Background()
	tracker := NewTracker(s.Queries)

	_, err := tracker.Plant(ctx, pid, "古剑认主", "主角得到的青铜古剑似有灵性", store.ImportanceHigh, 1, []string{"古剑", "认主"}, []string{"林尘"})
	require.NoError(t, err)
	_, err = tracker.Plant(ctx, pid, "朝堂暗流", "京城里立储之争愈演愈烈", store.ImportanceMedium, 2, []string{"朝堂", "立储"}, nil)
	require.NoError(t, err)

	r := NewRetriever(s.Queries, HashBackend{})
	cards, err := r.Retrieve(ctx, pid, "青铜古剑在鞘中嗡鸣，似要认主", 5, true, 0)
	require.NoError(t, err)
	require.NotEmpty(t, cards)
	require.Equal(t, "古剑认主", cards[0].Title)
	require.Equal(t, []string{"林尘"}, cards[0].RelatedCharacters)

	// Retrieval indexed the candidates as a side effect.
	missing, err := s.PlotArcsWithoutEmbedding(ctx, pid)
	require.NoError(t, err)
	require.Empty(t, missing)
}

func TestRetrieverKeywordFallback(t *testing.T) {
	s, pid := newTestStore(t)
	ctx := context.Background()
	tracker := NewTracker(s.Queries)

	_, err := tracker.Plant(ctx, pid, "古剑认主", "", store.ImportanceHigh, 1, []string{"古剑", "认主"}, nil)
	require.NoError(t, err)
	_, err = tracker.Plant(ctx, pid, "朝堂暗流", "", store.ImportanceMedium, 2, []string{"朝堂", "立储"}, nil)
	require.NoError(t, err)

	r := NewRetriever(s.Queries, failingBackend{})
	cards, err := r.Retrieve(ctx, pid, "古剑嗡鸣", 5, true, 0)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	require.Equal(t, "古剑认主", cards[0].Title)
	// One of two keywords hit: score = 1/2.
	require.InDelta(t, 0.5, cards[0].Similarity, 1e-9)
}

func TestRetrieverExcludesTerminalArcsWhenOnlyActive(t *testing.T) {
	s, pid := newTestStore(t)
	ctx := context.Background()
	tracker := NewTracker(s.Queries)

	kept, err := tracker.Plant(ctx, pid, "古剑认主", "", store.ImportanceHigh, 1, []string{"古剑"}, nil)
	require.NoError(t, err)
	gone, err := tracker.Plant(ctx, pid, "古剑折断", "", store.ImportanceHigh, 1, []string{"古剑"}, nil)
	require.NoError(t, err)
	require.NoError(t, tracker.Abandon(ctx, gone))

	r := NewRetriever(s.Queries, HashBackend{})
	cards, err := r.Retrieve(ctx, pid, "古剑", 5, true, 0)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	require.Equal(t, kept, cards[0].ID)
}

func TestIndexForceReembedsAll(t *testing.T) {
	s, pid := newTestStore(t)
	ctx := context.Background()
	tracker := NewTracker(s.Queries)

	for _, title := range []string{"伏笔一", "伏笔二"} {
		_, err := tracker.Plant(ctx, pid, title, "", "", 1, nil, nil)
		require.NoError(t, err)
	}

	r := NewRetriever(s.Queries, HashBackend{})
	n, err := r.Index(ctx, pid, false)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = r.Index(ctx, pid, false)
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = r.Index(ctx, pid, true)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestTrackerLifecycle(t *testing.T) {
	s, pid := newTestStore(t)
	ctx := context.Background()
	tracker := NewTracker(s.Queries)

	id, err := tracker.Plant(ctx, pid, "古剑认主", "剑中封着前代剑主的残魂", store.ImportanceHigh, 3, nil, nil)
	require.NoError(t, err)

	// Resolution cannot precede planting.
	require.Error(t, tracker.Resolve(ctx, id, 2))

	require.NoError(t, tracker.Develop(ctx, id, 5, "剑鸣示警"))
	require.NoError(t, tracker.Develop(ctx, id, 7, "剑身浮现铭文"))
	arc, err := s.PlotArc(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.ArcDeveloping, arc.Status)

	// Development lands in notes, the authored description stays intact.
	require.Equal(t, "剑中封着前代剑主的残魂", arc.Description)
	require.Equal(t, "第5章: 剑鸣示警\n第7章: 剑身浮现铭文", arc.Notes)

	require.NoError(t, tracker.Resolve(ctx, id, 9))
	arc, err = s.PlotArc(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.ArcResolved, arc.Status)
	require.NotNil(t, arc.ResolvedChapter)
	require.GreaterOrEqual(t, *arc.ResolvedChapter, arc.PlantedChapter)

	// Terminal states reject further moves.
	require.ErrorIs(t, tracker.Develop(ctx, id, 10, "x"), ErrIllegalTransition)
	require.ErrorIs(t, tracker.Resolve(ctx, id, 10), ErrIllegalTransition)
	require.ErrorIs(t, tracker.Abandon(ctx, id), ErrIllegalTransition)
}
