package generate

import (
	"context"

	"github.com/leew666/aiNovel/internal/llm"
	"github.com/leew666/aiNovel/internal/prompt"
)

// detailOutlinePayload mirrors the scene breakdown the prompt asks for.
type detailOutlinePayload struct {
	Scenes []struct {
		Order    int    `json:"order"`
		Location string `json:"location"`
		Summary  string `json:"summary"`
		Purpose  string `json:"purpose"`
	} `json:"scenes"`
	ChapterGoal   string `json:"chapter_goal"`
	EmotionalTone string `json:"emotional_tone"`
	Cliffhanger   string `json:"cliffhanger"`
}

// DetailOutlineResult is the stage-4 envelope.
type DetailOutlineResult struct {
	DetailOutline string `json:"detail_outline"`
	ScenesCount   int    `json:"scenes_count"`
	Raw           string `json:"raw"`
	ParseFailed   bool   `json:"parse_failed"`
	Stats         Stats  `json:"stats"`
}

// DetailOutline breaks one chapter into scenes. The parsed JSON (or, on
// parse failure, the raw reply) lands in chapter.detail_outline, which
// doubles as the step-4 completion marker.
func (g *Generator) DetailOutline(ctx context.Context, chapterID int64) (*DetailOutlineResult, error) {
	cc, err := g.gatherChapter(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	recap, err := g.priorRecap(ctx, cc.chapter.ProjectID, cc.chapter.Ordinal, 3)
	if err != nil {
		return nil, err
	}

	p := prompt.DetailOutline(prompt.ChapterArgs{
		Title:          cc.project.Name,
		VolumeTitle:    cc.volume.Title,
		ChapterOrder:   cc.chapter.Ordinal,
		ChapterTitle:   cc.chapter.Title,
		ChapterSummary: cc.summary,
		KeyEvents:      cc.keyEvents,
		Characters:     cc.characters,
		World:          cc.world,
		PriorContext:   recap,
	})
	res, err := g.call(ctx, "detail_outline",
		[]llm.Message{{Role: "user", Content: p}}, 0.7, 3000)
	if err != nil {
		return nil, err
	}

	out := &DetailOutlineResult{Raw: res.Content, Stats: statsOf(res)}
	var payload detailOutlinePayload
	if decodeReply(res.Content, &payload) {
		out.DetailOutline = marshalIndent(payload)
		out.ScenesCount = len(payload.Scenes)
	} else {
		out.ParseFailed = true
		out.DetailOutline = res.Content
	}
	if err := g.q.SetDetailOutline(ctx, chapterID, out.DetailOutline); err != nil {
		return nil, err
	}
	return out, nil
}
