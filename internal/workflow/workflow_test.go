package workflow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/leew666/aiNovel/internal/llm"
	"github.com/leew666/aiNovel/internal/store"
)

const (
	detailReply = `{"scenes":[{"order":1,"location":"山门","summary":"入门试炼","purpose":"铺垫"}],` +
		`"chapter_goal":"立身","emotional_tone":"紧张","cliffhanger":"黑影出现"}`
	outlineReply = `{"volumes":[{"order":1,"title":"风起","description":"入门","chapters":[` +
		`{"order":1,"title":"初入山门","summary":"拜师","key_events":["拜师"],"characters_involved":["林尘"]},` +
		`{"order":2,"title":"暗流","summary":"结仇","key_events":["结仇"],"characters_involved":["林尘"]}]}]}`
	chapterReply = "夜色压向山门，林尘握紧了剑。"
	worldReply   = `{"world_data":[{"type":"location","name":"青云宗","description":"东域大宗","keywords":["青云"]}],` +
		`"characters":[{"name":"林尘","archetype":"少年剑修","background":"山村出身","goals":"登顶","keywords":["林尘"]}]}`
)

// routeClient answers by call shape: the writing call runs at 0.8, the
// detail outline at 0.7/3000, planning and outline at 0.7/4000. Safe
// under the parallel runner.
type routeClient struct {
	mu         sync.Mutex
	calls      []string
	failDetail string // detail calls whose current-chapter header matches this fail
}

func (c *routeClient) Generate(_ context.Context, messages []llm.Message, temperature float64, maxTokens int) (*llm.GenerateResult, error) {
	prompt := messages[len(messages)-1].Content
	kind := "other"
	switch {
	case temperature == 0.8:
		kind = "chapter"
	case temperature == 0.7 && maxTokens == 3000:
		kind = "detail"
	case temperature == 0.7 && maxTokens == 4000 && strings.Contains(prompt, "世界观设计大师"):
		kind = "world"
	case temperature == 0.7 && maxTokens == 4000 && strings.Contains(prompt, "小说策划师"):
		kind = "planning"
	case temperature == 0.7 && maxTokens == 4000:
		kind = "outline"
	}
	c.mu.Lock()
	c.calls = append(c.calls, kind)
	c.mu.Unlock()

	switch kind {
	case "chapter":
		return canned(chapterReply), nil
	case "detail":
		if c.failDetail != "" && strings.Contains(prompt, c.failDetail) {
			return nil, errors.New("provider unavailable")
		}
		return canned(detailReply), nil
	case "world":
		return canned(worldReply), nil
	case "planning":
		return canned("三幕结构的创作蓝图"), nil
	case "outline":
		return canned(outlineReply), nil
	default:
		return canned("好的"), nil
	}
}

func (c *routeClient) CountTokens(text string) int      { return len([]rune(text)) / 2 }
func (c *routeClient) EstimateCost(in, out int) float64 { return 0.001 }
func (c *routeClient) Provider() string                 { return "mock" }
func (c *routeClient) Model() string                    { return "mock-model" }

func (c *routeClient) count(kind string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, k := range c.calls {
		if k == kind {
			n++
		}
	}
	return n
}

func canned(content string) *llm.GenerateResult {
	return &llm.GenerateResult{
		Content:      content,
		Model:        "mock-model",
		FinishReason: llm.FinishStop,
		Usage:        llm.Usage{InputTokens: 100, OutputTokens: 200, TotalTokens: 300},
	}
}

type noopBackend struct{}

func (noopBackend) Embed(context.Context, string) ([]float64, error) { return []float64{1, 0}, nil }
func (noopBackend) Dimensions() int                                  { return 2 }
func (noopBackend) Name() string                                     { return "noop" }

func newTestOrchestrator(t *testing.T, client llm.Client) (*Orchestrator, *store.Store, int64) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	pid, err := s.CreateProject(context.Background(), "斗破长歌", "玄幻", "升级流,热血", "少年得到神秘戒指")
	require.NoError(t, err)

	o := New(s, client, nil, noopBackend{}, t.TempDir())
	return o, s, pid
}

// seedChapters creates n chapters under one volume with distinct titles.
func seedChapters(t *testing.T, s *store.Store, pid int64, titles []string) []int64 {
	t.Helper()
	ctx := context.Background()
	vid, err := s.CreateVolume(ctx, &store.Volume{ProjectID: pid, Ordinal: 1, Title: "第一卷"})
	require.NoError(t, err)

	ids := make([]int64, len(titles))
	for i, title := range titles {
		ids[i], err = s.CreateChapter(ctx, &store.Chapter{
			ProjectID: pid,
			VolumeID:  &vid,
			Ordinal:   i + 1,
			Title:     title,
			Outline:   "# 章节梗概\n主角历练\n\n# 关键事件\n- 突破",
		})
		require.NoError(t, err)
	}
	return ids
}

func TestParseChapterRange(t *testing.T) {
	cases := []struct {
		spec  string
		total int
		want  []int
		ok    bool
	}{
		{"", 3, []int{1, 2, 3}, true},
		{"2", 5, []int{2}, true},
		{"1-3", 5, []int{1, 2, 3}, true},
		{"1,3-4,3", 5, []int{1, 3, 4}, true},
		{"4-2", 5, nil, false},
		{"abc", 5, nil, false},
		{"1-", 5, nil, false},
		{"8-12", 5, nil, true}, // fully out of bounds selects nothing
	}
	for _, tc := range cases {
		got, err := ParseChapterRange(tc.spec, tc.total)
		if !tc.ok {
			require.ErrorIs(t, err, ErrInvalidPlan, tc.spec)
			continue
		}
		require.NoError(t, err, tc.spec)
		require.Equal(t, tc.want, got, tc.spec)
	}
}

func TestParseChapterRangeProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	item := gen.IntRange(1, 60).FlatMap(func(v interface{}) gopter.Gen {
		start := v.(int)
		return gen.IntRange(start, 60).Map(func(end int) string {
			if end == start {
				return fmt.Sprintf("%d", start)
			}
			return fmt.Sprintf("%d-%d", start, end)
		})
	}, reflect.TypeOf(""))

	properties.Property("result is strictly increasing and in bounds", prop.ForAll(
		func(items []string, total int) bool {
			got, err := ParseChapterRange(strings.Join(items, ","), total)
			if err != nil {
				return false
			}
			if !sort.IntsAreSorted(got) {
				return false
			}
			for i, v := range got {
				if v < 1 || v > total {
					return false
				}
				if i > 0 && got[i-1] >= v {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(3, item),
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}

func TestRunPipelineRejectsBadPlan(t *testing.T) {
	client := &routeClient{}
	o, _, pid := newTestOrchestrator(t, client)
	ctx := context.Background()

	_, err := o.RunPipeline(ctx, pid, Plan{FromStep: 2, ToStep: 5})
	require.ErrorIs(t, err, ErrInvalidPlan)
	_, err = o.RunPipeline(ctx, pid, Plan{FromStep: 5, ToStep: 4})
	require.ErrorIs(t, err, ErrInvalidPlan)
	_, err = o.RunPipeline(ctx, pid, Plan{FromStep: 4, ToStep: 5, ChapterRange: "x"})
	require.ErrorIs(t, err, ErrInvalidPlan)
	require.Empty(t, client.calls)
}

// Six chapters, one step-4 failure, three workers: the failed chapter's
// step 5 is skipped and every other chapter completes both steps.
func TestRunPipelineParallelIsolatesFailure(t *testing.T) {
	client := &routeClient{failDetail: "第3章 - 暗潮汹涌"}
	o, s, pid := newTestOrchestrator(t, client)
	ctx := context.Background()

	titles := []string{"初入山门", "夜探藏经阁", "暗潮汹涌", "灵脉之争", "破境", "下山"}
	ids := seedChapters(t, s, pid, titles)

	res, err := o.RunPipeline(ctx, pid, Plan{FromStep: 4, ToStep: 5, MaxWorkers: 3})
	require.NoError(t, err)

	require.Equal(t, 6, res.Total)
	require.Equal(t, 10, res.Succeeded)
	require.Equal(t, 1, res.Failed)
	require.Equal(t, 1, res.Skipped)
	require.Equal(t, []int64{ids[2]}, res.FailedChapterIDs())
	require.Len(t, res.TaskResults, 12)

	// The failed chapter keeps neither a detail outline nor a body.
	ch, err := s.Chapter(ctx, ids[2])
	require.NoError(t, err)
	require.Nil(t, ch.DetailOutline)
	require.Empty(t, ch.Content)

	for i, id := range ids {
		if i == 2 {
			continue
		}
		ch, err := s.Chapter(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, ch.DetailOutline)
		require.Equal(t, chapterReply, ch.Content)
	}
	require.Equal(t, 6, client.count("detail"))
	require.Equal(t, 5, client.count("chapter"))
}

func TestRunPipelineSerialMatchesParallelCounts(t *testing.T) {
	client := &routeClient{failDetail: "第3章 - 暗潮汹涌"}
	o, s, pid := newTestOrchestrator(t, client)
	ctx := context.Background()

	seedChapters(t, s, pid, []string{"初入山门", "夜探藏经阁", "暗潮汹涌", "灵脉之争", "破境", "下山"})

	res, err := o.RunPipeline(ctx, pid, Plan{FromStep: 4, ToStep: 5, MaxWorkers: 1})
	require.NoError(t, err)
	require.Equal(t, 6, res.Total)
	require.Equal(t, 10, res.Succeeded)
	require.Equal(t, 1, res.Failed)
	require.Equal(t, 1, res.Skipped)
}

// Completed work is skipped as a success without reaching the provider.
func TestRunPipelineIdempotentSkip(t *testing.T) {
	client := &routeClient{}
	o, s, pid := newTestOrchestrator(t, client)
	ctx := context.Background()

	ids := seedChapters(t, s, pid, []string{"初入山门", "夜探藏经阁"})
	for _, id := range ids {
		require.NoError(t, s.SetDetailOutline(ctx, id, detailReply))
		require.NoError(t, s.SetChapterContent(ctx, id, "已写完的正文。"))
	}

	res, err := o.RunPipeline(ctx, pid, Plan{FromStep: 4, ToStep: 5, MaxWorkers: 2})
	require.NoError(t, err)
	require.Equal(t, 2, res.Total)
	require.Equal(t, 4, res.Succeeded)
	require.Zero(t, res.Failed)
	require.Zero(t, res.Skipped)
	for _, task := range res.TaskResults {
		require.True(t, task.Success)
		require.Equal(t, true, task.Stats["skipped"])
	}
	require.Empty(t, client.calls)
}

func TestRunPipelineChapterRangeSelectsSubset(t *testing.T) {
	client := &routeClient{}
	o, s, pid := newTestOrchestrator(t, client)
	ctx := context.Background()

	ids := seedChapters(t, s, pid, []string{"初入山门", "夜探藏经阁", "灵脉之争", "破境"})

	res, err := o.RunPipeline(ctx, pid, Plan{FromStep: 4, ToStep: 4, ChapterRange: "2-3"})
	require.NoError(t, err)
	require.Equal(t, 2, res.Total)
	require.Equal(t, 2, res.Succeeded)

	ch, err := s.Chapter(ctx, ids[0])
	require.NoError(t, err)
	require.Nil(t, ch.DetailOutline)
	ch, err = s.Chapter(ctx, ids[1])
	require.NoError(t, err)
	require.NotNil(t, ch.DetailOutline)
}

// Step 3 runs once per project and is skipped when the structure exists.
func TestRunPipelineOutlineStepIdempotent(t *testing.T) {
	client := &routeClient{}
	o, s, pid := newTestOrchestrator(t, client)
	ctx := context.Background()

	require.NoError(t, s.UpdateProjectPlanning(ctx, pid, "三幕结构"))
	_, err := s.CreateCharacter(ctx, &store.Character{ProjectID: pid, Name: "林尘", Archetype: "少年剑修"})
	require.NoError(t, err)

	res, err := o.RunPipeline(ctx, pid, Plan{FromStep: 3, ToStep: 3})
	require.NoError(t, err)
	require.Zero(t, res.Total)
	require.Equal(t, 1, client.count("outline"))

	chapters, err := s.Chapters(ctx, pid)
	require.NoError(t, err)
	require.Len(t, chapters, 2)

	// Second run finds the volume tree in place and makes no calls.
	_, err = o.RunPipeline(ctx, pid, Plan{FromStep: 3, ToStep: 3})
	require.NoError(t, err)
	require.Equal(t, 1, client.count("outline"))

	// Regenerate forces a rebuild.
	_, err = o.RunPipeline(ctx, pid, Plan{FromStep: 3, ToStep: 3, Regenerate: true})
	require.NoError(t, err)
	require.Equal(t, 2, client.count("outline"))
}

// A fresh project driven end to end appends one ledger entry per stage
// call: planning, world building, outline, then one detail outline and
// one body per chapter.
func TestFreshRunLedgerCount(t *testing.T) {
	client := &routeClient{}
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	pid, err := s.CreateProject(ctx, "斗破长歌", "玄幻", "升级流", "少年得到神秘戒指")
	require.NoError(t, err)

	tracker, err := llm.NewCostTracker(filepath.Join(t.TempDir(), "ledger.json"), 100)
	require.NoError(t, err)
	o := New(s, client, tracker, noopBackend{}, t.TempDir())

	_, err = o.Plan(ctx, pid, "少年捡到一枚古戒")
	require.NoError(t, err)
	_, err = o.BuildWorld(ctx, pid)
	require.NoError(t, err)

	res, err := o.RunPipeline(ctx, pid, Plan{FromStep: StepOutline, ToStep: StepWriting})
	require.NoError(t, err)
	require.Zero(t, res.Failed)

	chapters, err := s.Chapters(ctx, pid)
	require.NoError(t, err)
	n := len(chapters)
	require.Equal(t, 2, n)

	require.Equal(t, 3+2*n, tracker.Stats(1).CallCount)
}

func TestStatusTracksStageProgress(t *testing.T) {
	client := &routeClient{}
	o, s, pid := newTestOrchestrator(t, client)
	ctx := context.Background()

	status, err := o.Status(ctx, pid)
	require.NoError(t, err)
	require.Equal(t, store.StageCreated, status.Stage)
	require.Zero(t, status.CurrentStep)
	require.True(t, status.CanContinue)

	_, err = o.Plan(ctx, pid, "少年捡到一枚古戒")
	require.NoError(t, err)

	status, err = o.Status(ctx, pid)
	require.NoError(t, err)
	require.Equal(t, store.StagePlanning, status.Stage)
	require.Equal(t, 1, status.CurrentStep)
	require.True(t, status.CanContinue)

	// Step 2 cannot continue to the outline until characters exist.
	require.NoError(t, s.AdvanceStage(ctx, pid, store.StageWorldBuilding, 2))
	status, err = o.Status(ctx, pid)
	require.NoError(t, err)
	require.False(t, status.CanContinue)

	_, err = s.CreateCharacter(ctx, &store.Character{ProjectID: pid, Name: "林尘"})
	require.NoError(t, err)
	status, err = o.Status(ctx, pid)
	require.NoError(t, err)
	require.True(t, status.CanContinue)
}

func TestUpdatePlanDoesNotMoveCursor(t *testing.T) {
	client := &routeClient{}
	o, s, pid := newTestOrchestrator(t, client)
	ctx := context.Background()

	require.NoError(t, o.UpdatePlan(ctx, pid, "重写后的思路"))
	project, err := s.Project(ctx, pid)
	require.NoError(t, err)
	require.Equal(t, "重写后的思路", project.PlanningText)
	require.Zero(t, project.CurrentStep)

	require.ErrorIs(t, o.UpdatePlan(ctx, pid, "  "), ErrInvalidFormat)
}

func TestUpdateWorldValidatesAndReplaces(t *testing.T) {
	client := &routeClient{}
	o, s, pid := newTestOrchestrator(t, client)
	ctx := context.Background()

	require.ErrorIs(t, o.UpdateWorld(ctx, pid, "{broken"), ErrInvalidFormat)
	require.ErrorIs(t, o.UpdateWorld(ctx, pid, `{"characters":[],"world_data":[]}`), ErrInvalidFormat)

	_, err := s.CreateCharacter(ctx, &store.Character{ProjectID: pid, Name: "旧角色"})
	require.NoError(t, err)

	edit := `{"characters":[{"name":"林尘","archetype":"少年剑修","background":"山村出身","goals":"登顶"}],` +
		`"world_data":[{"type":"location","name":"青云宗","description":"东域大宗"}]}`
	require.NoError(t, o.UpdateWorld(ctx, pid, edit))

	characters, err := s.Characters(ctx, pid)
	require.NoError(t, err)
	require.Len(t, characters, 1)
	require.Equal(t, "林尘", characters[0].Name)

	project, err := s.Project(ctx, pid)
	require.NoError(t, err)
	require.Equal(t, store.StageWorldBuilding, project.Stage)
	require.Equal(t, 2, project.CurrentStep)
}

func TestPipelineStatusReportsMissingWork(t *testing.T) {
	client := &routeClient{}
	o, s, pid := newTestOrchestrator(t, client)
	ctx := context.Background()

	ids := seedChapters(t, s, pid, []string{"初入山门", "夜探藏经阁", "灵脉之争"})
	require.NoError(t, s.SetDetailOutline(ctx, ids[0], detailReply))
	require.NoError(t, s.SetChapterContent(ctx, ids[0], "正文。"))
	require.NoError(t, s.SetDetailOutline(ctx, ids[1], detailReply))

	status, err := o.PipelineStatus(ctx, pid)
	require.NoError(t, err)
	require.Equal(t, 3, status.TotalChapters)
	require.Equal(t, 2, status.WithOutline)
	require.Equal(t, 1, status.WithContent)
	require.Equal(t, []int{3}, status.MissingOutline)
	require.Equal(t, []int{2, 3}, status.MissingContent)
}

func TestMarkCompleteAdvancesToFinalStage(t *testing.T) {
	client := &routeClient{}
	o, s, pid := newTestOrchestrator(t, client)
	ctx := context.Background()

	require.NoError(t, o.MarkComplete(ctx, pid))
	project, err := s.Project(ctx, pid)
	require.NoError(t, err)
	require.Equal(t, store.StageCompleted, project.Stage)
	require.Equal(t, store.StageRank(store.StageCompleted), project.CurrentStep)

	require.ErrorIs(t, o.MarkComplete(ctx, 9999), store.ErrNotFound)
}

// The cursor never moves backward: finishing an early stage again keeps
// the later step number.
func TestStageCursorIsMonotonic(t *testing.T) {
	client := &routeClient{}
	o, s, pid := newTestOrchestrator(t, client)
	ctx := context.Background()

	require.NoError(t, s.AdvanceStage(ctx, pid, store.StageWriting, 5))
	_, err := o.Plan(ctx, pid, "回炉重写创作思路")
	require.NoError(t, err)

	project, err := s.Project(ctx, pid)
	require.NoError(t, err)
	require.Equal(t, store.StagePlanning, project.Stage)
	require.Equal(t, 5, project.CurrentStep)
}
