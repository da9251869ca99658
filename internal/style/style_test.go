package style

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

const sampleSource = "剑光如雪，照彻长街。他缓步前行，靴底碾碎薄冰，声音清脆得像是某种倒计时。" +
	"远处酒旗半卷，风里有陈年的酒气和更陈年的血气。他忽然笑了笑，笑意未达眼底。" +
	"“你迟到了。”黑暗里有人开口。他不答，只是握紧了剑。" +
	"雪还在落，落在剑鞘上，落在他肩头。他数到第七片雪的时候，拔剑了。"

const featuresReply = "```json\n" +
	`{"sentence_patterns":["长短句交错","以短句收束"],"vocabulary_style":"冷峻凝练",` +
	`"narrative_perspective":"第三人称限知","pacing":"慢起疾收","dialogue_style":"对白稀少而锋利",` +
	`"description_density":"场景描写浓重","tone":"萧杀","special_techniques":["留白"],` +
	`"summary":"古龙式冷峻短句风"}` + "\n```"

type stubClient struct {
	reply string
	err   error
	calls int
}

func (c *stubClient) Generate(_ context.Context, _ []llm.Message, _ float64, _ int) (*llm.GenerateResult, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &llm.GenerateResult{
		Content:      c.reply,
		Model:        "mock-model",
		FinishReason: llm.FinishStop,
		Usage:        llm.Usage{InputTokens: 50, OutputTokens: 120, TotalTokens: 170},
	}, nil
}

func (c *stubClient) CountTokens(text string) int      { return len([]rune(text)) / 2 }
func (c *stubClient) EstimateCost(in, out int) float64 { return 0.001 }
func (c *stubClient) Provider() string                 { return "mock" }
func (c *stubClient) Model() string                    { return "mock-model" }

func newTestAnalyzer(t *testing.T, client llm.Client) (*Analyzer, *store.Store, int64) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	pid, err := s.CreateProject(context.Background(), "斗破长歌", "玄幻", "", "")
	require.NoError(t, err)
	return NewAnalyzer(s.Queries, client, nil), s, pid
}

func TestAnalyzeRejectsShortSource(t *testing.T) {
	client := &stubClient{reply: featuresReply}
	a, _, _ := newTestAnalyzer(t, client)

	_, err := a.Analyze(context.Background(), "太短了")
	require.ErrorIs(t, err, ErrSourceTooShort)
	require.Zero(t, client.calls)
}

func TestAnalyzeParsesFeatures(t *testing.T) {
	client := &stubClient{reply: featuresReply}
	a, _, _ := newTestAnalyzer(t, client)

	res, err := a.Analyze(context.Background(), sampleSource)
	require.NoError(t, err)
	require.Equal(t, "古龙式冷峻短句风", res.Features.Summary)
	require.Equal(t, []string{"长短句交错", "以短句收束"}, res.Features.SentencePatterns)
	require.Equal(t, "mock-model", res.Model)
}

func TestAnalyzeUnparsableReplyIsError(t *testing.T) {
	client := &stubClient{reply: "这段文字风格很好，没有别的了。"}
	a, _, _ := newTestAnalyzer(t, client)

	_, err := a.Analyze(context.Background(), sampleSource)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no JSON object")
}

func TestAnalyzeAndSaveActivatesProfile(t *testing.T) {
	client := &stubClient{reply: featuresReply}
	a, s, pid := newTestAnalyzer(t, client)
	ctx := context.Background()

	res, err := a.AnalyzeAndSave(ctx, pid, "古龙风", sampleSource, true)
	require.NoError(t, err)
	require.NotZero(t, res.ProfileID)
	require.Contains(t, res.StyleGuide, "【总体风格】古龙式冷峻短句风")

	active, err := s.ActiveStyleProfile(ctx, pid)
	require.NoError(t, err)
	require.Equal(t, res.ProfileID, active.ID)
	require.Equal(t, "古龙风", active.Name)
	require.Equal(t, sampleSource, active.SourceSample)

	// A second active profile displaces the first.
	res2, err := a.AnalyzeAndSave(ctx, pid, "金庸风", sampleSource, true)
	require.NoError(t, err)
	active, err = s.ActiveStyleProfile(ctx, pid)
	require.NoError(t, err)
	require.Equal(t, res2.ProfileID, active.ID)
}

func TestAnalyzeAndSaveInactiveKeepsCurrent(t *testing.T) {
	client := &stubClient{reply: featuresReply}
	a, s, pid := newTestAnalyzer(t, client)
	ctx := context.Background()

	_, err := a.AnalyzeAndSave(ctx, pid, "备选风格", sampleSource, false)
	require.NoError(t, err)

	_, err = s.ActiveStyleProfile(ctx, pid)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestFeaturesToGuide(t *testing.T) {
	guide := FeaturesToGuide(Features{
		Summary:           "热血爽文",
		SentencePatterns:  []string{"短句为主"},
		Tone:              "昂扬",
		SpecialTechniques: []string{"金手指", "打脸"},
	})
	lines := strings.Split(guide, "\n")
	require.Equal(t, []string{
		"【总体风格】热血爽文",
		"【句式特征】短句为主",
		"【情感基调】昂扬",
		"【特色技法】金手指；打脸",
	}, lines)

	require.Equal(t, DefaultGuide, FeaturesToGuide(Features{}))
}

func TestActiveGuideFallsBackToFeatures(t *testing.T) {
	client := &stubClient{reply: featuresReply}
	_, s, pid := newTestAnalyzer(t, client)
	ctx := context.Background()

	guide, err := ActiveGuide(ctx, s.Queries, pid)
	require.NoError(t, err)
	require.Empty(t, guide)

	// A profile stored without a pre-rendered guide is rebuilt from its
	// features on load.
	id, err := s.CreateStyleProfile(ctx, &store.StyleProfile{
		ProjectID: pid,
		Name:      "仅特征",
		Features:  `{"summary":"白描简练"}`,
	})
	require.NoError(t, err)
	require.NoError(t, s.ActivateStyleProfile(ctx, pid, id))

	guide, err = ActiveGuide(ctx, s.Queries, pid)
	require.NoError(t, err)
	require.Equal(t, "【总体风格】白描简练", guide)
}

func TestGuideByID(t *testing.T) {
	client := &stubClient{reply: featuresReply}
	a, s, pid := newTestAnalyzer(t, client)
	ctx := context.Background()

	res, err := a.AnalyzeAndSave(ctx, pid, "古龙风", sampleSource, false)
	require.NoError(t, err)

	guide, err := GuideByID(ctx, s.Queries, res.ProfileID)
	require.NoError(t, err)
	require.Equal(t, res.StyleGuide, guide)

	_, err = GuideByID(ctx, s.Queries, 9999)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestProviderErrorSurfaces(t *testing.T) {
	client := &stubClient{err: errors.New("rate limited")}
	a, _, _ := newTestAnalyzer(t, client)

	_, err := a.Analyze(context.Background(), sampleSource)
	require.Error(t, err)
}
