package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/leew666/aiNovel/internal/compress"
	"github.com/leew666/aiNovel/internal/llm"
	"github.com/leew666/aiNovel/internal/memory"
	"github.com/leew666/aiNovel/internal/prompt"
	"github.com/leew666/aiNovel/internal/store"
)

// Writing defaults. The window and token budget bound how much prior
// context a chapter prompt carries.
const (
	chapterWindowSize   = 3
	chapterTokenBudget  = 800
	defaultWordCountMin = 2000
	defaultWordCountMax = 3000
)

// ChapterParams tunes one writing call. Zero values mean defaults: the
// active style profile's guide, no author note, 2000-3000 characters.
type ChapterParams struct {
	StyleGuide   string
	AuthorNote   string
	WordCountMin int
	WordCountMax int
}

// ChapterResult is the stage-5 envelope.
type ChapterResult struct {
	Content   string `json:"content"`
	WordCount int    `json:"word_count"`
	Stats     Stats  `json:"stats"`
}

// Chapter writes one chapter body from its outline metadata and the
// assembled context bundle, then persists it with a fresh word count.
func (g *Generator) Chapter(ctx context.Context, chapterID int64, p ChapterParams) (*ChapterResult, error) {
	cc, err := g.gatherChapter(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	if p.WordCountMin <= 0 {
		p.WordCountMin = defaultWordCountMin
	}
	if p.WordCountMax < p.WordCountMin {
		p.WordCountMax = defaultWordCountMax
	}
	if p.StyleGuide == "" {
		if p.StyleGuide, err = g.activeStyleGuide(ctx, cc.chapter.ProjectID); err != nil {
			return nil, err
		}
	}

	bundle, err := g.asm.BuildBundle(ctx, compress.BundleParams{
		ProjectID:      cc.chapter.ProjectID,
		CurrentOrdinal: cc.chapter.Ordinal,
		WindowSize:     chapterWindowSize,
		TokenBudget:    chapterTokenBudget,
		ScanText:       scanText(cc),
	})
	if err != nil {
		return nil, err
	}

	userPrompt := prompt.Chapter(prompt.ChapterArgs{
		Title:          cc.project.Name,
		VolumeTitle:    cc.volume.Title,
		ChapterOrder:   cc.chapter.Ordinal,
		ChapterTitle:   cc.chapter.Title,
		ChapterSummary: cc.summary,
		KeyEvents:      cc.keyEvents,
		Characters:     cc.characters,
		World:          cc.world,
		PriorContext:   bundle.Recap,
	}, joinHits(bundle.CharacterCards), joinHits(bundle.WorldCards),
		renderArcCards(bundle.PlotArcCards), p.StyleGuide, p.AuthorNote,
		p.WordCountMin, p.WordCountMax)

	res, err := g.call(ctx, "chapter",
		[]llm.Message{{Role: "user", Content: userPrompt}}, 0.8, 4000)
	if err != nil {
		return nil, err
	}

	content := strings.TrimSpace(res.Content)
	if err := g.q.SetChapterContent(ctx, chapterID, content); err != nil {
		return nil, err
	}
	return &ChapterResult{
		Content:   content,
		WordCount: store.CountWords(content),
		Stats:     statsOf(res),
	}, nil
}

// activeStyleGuide loads the guide of the project's active style profile,
// empty when none is active.
func (g *Generator) activeStyleGuide(ctx context.Context, projectID int64) (string, error) {
	profile, err := g.q.ActiveStyleProfile(ctx, projectID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return profile.StyleGuide, nil
}

// scanText is the probe fed to the lorebook and arc retriever: outline
// metadata plus the involved character names.
func scanText(cc *chapterContext) string {
	parts := []string{cc.chapter.Title, cc.summary}
	parts = append(parts, cc.keyEvents...)
	for _, c := range cc.characters {
		parts = append(parts, c.Name)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func joinHits(hits []memory.Hit) string {
	parts := make([]string, 0, len(hits))
	for _, h := range hits {
		parts = append(parts, h.Content)
	}
	return strings.Join(parts, "\n\n")
}

// renderArcCards formats retrieved plot arcs as prompt lines.
func renderArcCards(cards []memory.ArcCard) string {
	parts := make([]string, 0, len(cards))
	for _, c := range cards {
		line := fmt.Sprintf("【%s·第%d章埋设】%s", importanceLabel(c.Importance), c.PlantedChapter, c.Title)
		if c.Description != "" {
			line += ": " + c.Description
		}
		if len(c.RelatedCharacters) > 0 {
			line += fmt.Sprintf("（涉及角色: %s）", strings.Join(c.RelatedCharacters, "、"))
		}
		parts = append(parts, line)
	}
	return strings.Join(parts, "\n")
}

func importanceLabel(importance string) string {
	switch importance {
	case store.ImportanceHigh:
		return "重要伏笔"
	case store.ImportanceLow:
		return "次要伏笔"
	default:
		return "伏笔"
	}
}
