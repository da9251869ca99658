package memory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/leew666/aiNovel/internal/store"
)

func newTestStore(t *testing.T) (*store.Store, int64) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	pid, err := s.CreateProject(context.Background(), "测试", "玄幻", "", "")
	require.NoError(t, err)
	return s, pid
}

func TestLorebookHitCountOrdering(t *testing.T) {
	s, pid := newTestStore(t)
	ctx := context.Background()

	// B inserted first so the ordering cannot come from insertion order.
	_, err := s.CreateWorldItem(ctx, &store.WorldItem{
		ProjectID: pid, Kind: store.WorldItemKind, Name: "B", Keywords: `["sword"]`,
	})
	require.NoError(t, err)
	_, err = s.CreateWorldItem(ctx, &store.WorldItem{
		ProjectID: pid, Kind: store.WorldItemKind, Name: "A", Keywords: `["sword","blade"]`,
	})
	require.NoError(t, err)

	res, err := NewLorebook(s.Queries).Scan(ctx, pid, "he drew his sword and raised the blade", 0, 0)
	require.NoError(t, err)
	require.Len(t, res.World, 2)
	require.Equal(t, "A", res.World[0].Name)
	require.Equal(t, 2, res.World[0].HitCount)
	require.Equal(t, "B", res.World[1].Name)
	require.Equal(t, 1, res.World[1].HitCount)
}

func TestLorebookInsertionOrderBreaksTies(t *testing.T) {
	s, pid := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"先入", "后入"} {
		_, err := s.CreateWorldItem(ctx, &store.WorldItem{
			ProjectID: pid, Kind: store.WorldRule, Name: name, Keywords: `["灵气"]`,
		})
		require.NoError(t, err)
	}

	res, err := NewLorebook(s.Queries).Scan(ctx, pid, "山中灵气浓郁", 0, 0)
	require.NoError(t, err)
	require.Len(t, res.World, 2)
	require.Equal(t, "先入", res.World[0].Name)
	require.Equal(t, "后入", res.World[1].Name)
}

func TestLorebookImplicitNameKeyword(t *testing.T) {
	s, pid := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateCharacter(ctx, &store.Character{ProjectID: pid, Name: "林风"})
	require.NoError(t, err)

	lb := NewLorebook(s.Queries)
	res, err := lb.Scan(ctx, pid, "林风走进大殿", 0, 0)
	require.NoError(t, err)
	require.Len(t, res.Characters, 1)
	require.Equal(t, []string{"林风"}, res.Characters[0].MatchedKeywords)

	res, err = lb.Scan(ctx, pid, "大殿里空无一人", 0, 0)
	require.NoError(t, err)
	require.Empty(t, res.Characters)
}

func TestLorebookPerKindTruncation(t *testing.T) {
	s, pid := newTestStore(t)
	ctx := context.Background()

	names := []string{"甲", "乙", "丙"}
	for _, n := range names {
		_, err := s.CreateCharacter(ctx, &store.Character{ProjectID: pid, Name: n, Keywords: `["宗门"]`})
		require.NoError(t, err)
	}

	res, err := NewLorebook(s.Queries).Scan(ctx, pid, "宗门大比开始了", 8, 2)
	require.NoError(t, err)
	require.Len(t, res.Characters, 2)
	require.Equal(t, "甲", res.Characters[0].Name)
	require.Equal(t, "乙", res.Characters[1].Name)
}

func TestCharacterCardRendersHighImportanceMemories(t *testing.T) {
	s, pid := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateCharacter(ctx, &store.Character{
		ProjectID: pid, Name: "林风", Archetype: "INTJ", Goals: "重回巅峰",
		Status: "重伤", Mood: "隐忍",
		Memories: `[
			{"event":"灭门","content":"宗门被灭","importance":"high"},
			{"event":"闲事","content":"集市闲逛","importance":"low"},
			{"event":"奇遇","content":"得到古剑","importance":"high"}
		]`,
		Relationships: `{"苏瑶":{"kind":"同门","intimacy":7}}`,
	})
	require.NoError(t, err)

	res, err := NewLorebook(s.Queries).Scan(ctx, pid, "林风握紧了拳头", 0, 0)
	require.NoError(t, err)
	require.Len(t, res.Characters, 1)

	card := res.Characters[0].Content
	require.Contains(t, card, "INTJ")
	require.Contains(t, card, "重回巅峰")
	require.Contains(t, card, "宗门被灭")
	require.Contains(t, card, "得到古剑")
	require.NotContains(t, card, "集市闲逛")
	require.Contains(t, card, "苏瑶")
}
