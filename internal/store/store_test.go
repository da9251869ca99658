package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestProject(t *testing.T, s *Store) int64 {
	t.Helper()
	id, err := s.CreateProject(context.Background(), "测试小说", "玄幻", "升级,争霸", "一个测试项目")
	require.NoError(t, err)
	return id
}

func TestProjectLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := newTestProject(t, s)

	p, err := s.Project(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "测试小说", p.Name)
	require.Equal(t, StageCreated, p.Stage)
	require.Zero(t, p.CurrentStep)

	require.NoError(t, s.UpdateProjectPlanning(ctx, id, "整体规划文本"))
	require.NoError(t, s.AdvanceStage(ctx, id, StagePlanning, 1))

	p, err = s.Project(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "整体规划文本", p.PlanningText)
	require.Equal(t, StagePlanning, p.Stage)
	require.Equal(t, 1, p.CurrentStep)
}

func TestCreateProjectRejectsDuplicateName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateProject(ctx, "测试小说", "玄幻", "", "")
	require.NoError(t, err)

	_, err = s.CreateProject(ctx, "测试小说", "都市", "", "")
	require.ErrorIs(t, err, ErrDuplicateName)

	// Other names are unaffected.
	_, err = s.CreateProject(ctx, "另一本", "玄幻", "", "")
	require.NoError(t, err)
}

func TestAdvanceStageNeverRegressesCursor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := newTestProject(t, s)

	require.NoError(t, s.AdvanceStage(ctx, id, StageWriting, 5))
	// Re-running an earlier stage updates the tag but keeps the cursor.
	require.NoError(t, s.AdvanceStage(ctx, id, StageWorldBuilding, 2))

	p, err := s.Project(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StageWorldBuilding, p.Stage)
	require.Equal(t, 5, p.CurrentStep)
}

func TestAdvanceStageRejectsUnknownTag(t *testing.T) {
	s := newTestStore(t)
	id := newTestProject(t, s)
	require.Error(t, s.AdvanceStage(context.Background(), id, "revising", 3))
}

func TestStageRank(t *testing.T) {
	require.Equal(t, 0, StageRank(StageCreated))
	require.Equal(t, 7, StageRank(StageCompleted))
	require.Less(t, StageRank(StageOutline), StageRank(StageDetailOutline))
	require.Equal(t, -1, StageRank("bogus"))
}

func TestChapterContentWriteRecountsAndInvalidatesSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pid := newTestProject(t, s)

	cid, err := s.CreateChapter(ctx, &Chapter{ProjectID: pid, Ordinal: 1, Title: "初入宗门", Outline: "主角拜师"})
	require.NoError(t, err)

	require.NoError(t, s.SetChapterContent(ctx, cid, "清晨 山门"))
	require.NoError(t, s.SetChapterSummary(ctx, cid, "旧摘要"))

	c, err := s.Chapter(ctx, cid)
	require.NoError(t, err)
	require.Equal(t, 4, c.WordCount) // whitespace excluded
	require.NotNil(t, c.Summary)

	// A body rewrite drops the stale summary.
	require.NoError(t, s.SetChapterContent(ctx, cid, "黄昏时分，主角下山。"))
	c, err = s.Chapter(ctx, cid)
	require.NoError(t, err)
	require.Nil(t, c.Summary)
	require.Equal(t, CountWords("黄昏时分，主角下山。"), c.WordCount)

	// A rollback restore can keep a still-valid summary.
	require.NoError(t, s.SetChapterSummary(ctx, cid, "新摘要"))
	require.NoError(t, s.SetChapterContentKeepSummary(ctx, cid, "清晨 山门"))
	c, err = s.Chapter(ctx, cid)
	require.NoError(t, err)
	require.NotNil(t, c.Summary)
}

func TestChapterByOrderAndSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pid := newTestProject(t, s)

	for i := 1; i <= 3; i++ {
		cid, err := s.CreateChapter(ctx, &Chapter{ProjectID: pid, Ordinal: i})
		require.NoError(t, err)
		if i == 2 {
			require.NoError(t, s.SetChapterContent(ctx, cid, "他捡起了青铜古剑"))
		}
	}

	c, err := s.ChapterByOrder(ctx, pid, 2)
	require.NoError(t, err)
	require.Equal(t, 2, c.Ordinal)

	_, err = s.ChapterByOrder(ctx, pid, 99)
	require.ErrorIs(t, err, ErrNotFound)

	hits, err := s.SearchChaptersBySubstring(ctx, pid, "古剑")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, 2, hits[0].Ordinal)
}

func TestDetailOutlineMarksStepFour(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pid := newTestProject(t, s)

	cid, err := s.CreateChapter(ctx, &Chapter{ProjectID: pid, Ordinal: 1})
	require.NoError(t, err)

	c, err := s.Chapter(ctx, cid)
	require.NoError(t, err)
	require.Nil(t, c.DetailOutline)

	require.NoError(t, s.SetDetailOutline(ctx, cid, "逐场景细纲"))
	c, err = s.Chapter(ctx, cid)
	require.NoError(t, err)
	require.NotNil(t, c.DetailOutline)
	require.Equal(t, "逐场景细纲", *c.DetailOutline)
}

func TestActivePlotArcsOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pid := newTestProject(t, s)

	mk := func(title, importance, status string) int64 {
		id, err := s.CreatePlotArc(ctx, &PlotArc{
			ProjectID: pid, Title: title, Importance: importance, Status: status, PlantedChapter: 1,
		})
		require.NoError(t, err)
		return id
	}
	mk("低线", ImportanceLow, ArcPlanted)
	mk("高线", ImportanceHigh, ArcDeveloping)
	mk("中线", ImportanceMedium, ArcPlanted)
	resolved := mk("已收", ImportanceHigh, ArcPlanted)
	ch := 5
	require.NoError(t, s.SetPlotArcStatus(ctx, resolved, ArcResolved, &ch))

	arcs, err := s.ActivePlotArcs(ctx, pid)
	require.NoError(t, err)
	require.Len(t, arcs, 3)
	require.Equal(t, "高线", arcs[0].Title)
	require.Equal(t, "中线", arcs[1].Title)
	require.Equal(t, "低线", arcs[2].Title)
}

func TestPlotArcEmbeddingIndexQueue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pid := newTestProject(t, s)

	a, err := s.CreatePlotArc(ctx, &PlotArc{ProjectID: pid, Title: "伏笔A", PlantedChapter: 1})
	require.NoError(t, err)
	b, err := s.CreatePlotArc(ctx, &PlotArc{ProjectID: pid, Title: "伏笔B", PlantedChapter: 2})
	require.NoError(t, err)

	require.NoError(t, s.SetPlotArcEmbedding(ctx, a, "[0.1,0.2]"))

	missing, err := s.PlotArcsWithoutEmbedding(ctx, pid)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	require.Equal(t, b, missing[0].ID)

	// A development note stales the vector.
	require.NoError(t, s.AppendPlotArcDevelopment(ctx, a, "第3章有了新进展"))
	missing, err = s.PlotArcsWithoutEmbedding(ctx, pid)
	require.NoError(t, err)
	require.Len(t, missing, 2)

	arc, err := s.PlotArc(ctx, a)
	require.NoError(t, err)
	require.Equal(t, ArcDeveloping, arc.Status)
	require.Contains(t, arc.Notes, "新进展")
}

func TestPlotArcCastAndNotes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pid := newTestProject(t, s)

	id, err := s.CreatePlotArc(ctx, &PlotArc{
		ProjectID:         pid,
		Title:             "神秘戒指",
		Description:       "戒指中沉睡着一缕老者残魂",
		PlantedChapter:    1,
		RelatedCharacters: `["林尘","药老"]`,
	})
	require.NoError(t, err)

	arc, err := s.PlotArc(ctx, id)
	require.NoError(t, err)
	require.Equal(t, `["林尘","药老"]`, arc.RelatedCharacters)
	require.Empty(t, arc.Notes)

	require.NoError(t, s.AppendPlotArcDevelopment(ctx, id, "第2章: 戒指发烫"))
	require.NoError(t, s.AppendPlotArcDevelopment(ctx, id, "第4章: 残魂开口"))

	arc, err = s.PlotArc(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "第2章: 戒指发烫\n第4章: 残魂开口", arc.Notes)
	// Notes accumulate separately from the authored description.
	require.Equal(t, "戒指中沉睡着一缕老者残魂", arc.Description)
}

func TestSingleActiveStyleProfile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pid := newTestProject(t, s)

	first, err := s.CreateStyleProfile(ctx, &StyleProfile{ProjectID: pid, Name: "古典"})
	require.NoError(t, err)
	second, err := s.CreateStyleProfile(ctx, &StyleProfile{ProjectID: pid, Name: "冷硬"})
	require.NoError(t, err)

	_, err = s.ActiveStyleProfile(ctx, pid)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.ActivateStyleProfile(ctx, pid, first))
	require.NoError(t, s.ActivateStyleProfile(ctx, pid, second))

	active, err := s.ActiveStyleProfile(ctx, pid)
	require.NoError(t, err)
	require.Equal(t, second, active.ID)

	profiles, err := s.StyleProfiles(ctx, pid)
	require.NoError(t, err)
	activeCount := 0
	for _, p := range profiles {
		if p.IsActive {
			activeCount++
		}
	}
	require.Equal(t, 1, activeCount)
}

func TestSessionWithTxRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pid := newTestProject(t, s)

	sess, err := s.Session(ctx)
	require.NoError(t, err)
	defer sess.Close()

	wantErr := context.Canceled
	err = sess.WithTx(ctx, func(q *Queries) error {
		if _, err := q.CreateCharacter(ctx, &Character{ProjectID: pid, Name: "林风"}); err != nil {
			return err
		}
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)

	n, err := s.CharacterCount(ctx, pid)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Reopening runs the migration pass again over an up-to-date schema.
	s, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestDeleteProjectCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pid := newTestProject(t, s)

	_, err := s.CreateChapter(ctx, &Chapter{ProjectID: pid, Ordinal: 1})
	require.NoError(t, err)
	_, err = s.CreateCharacter(ctx, &Character{ProjectID: pid, Name: "林风"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteProject(ctx, pid))

	n, err := s.ChapterCount(ctx, pid)
	require.NoError(t, err)
	require.Zero(t, n)
	n, err = s.CharacterCount(ctx, pid)
	require.NoError(t, err)
	require.Zero(t, n)
}
