package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/leew666/aiNovel/internal/llm"
	"github.com/leew666/aiNovel/internal/logging"
	"github.com/leew666/aiNovel/internal/prompt"
	"github.com/leew666/aiNovel/internal/store"
)

// outlinePayload mirrors the volume tree the outline prompt asks for.
type outlinePayload struct {
	Volumes []struct {
		Order       int    `json:"order"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Chapters    []struct {
			Order              int      `json:"order"`
			Title              string   `json:"title"`
			Summary            string   `json:"summary"`
			KeyEvents          []string `json:"key_events"`
			CharactersInvolved []string `json:"characters_involved"`
		} `json:"chapters"`
	} `json:"volumes"`
}

// OutlineResult is the stage-3 envelope.
type OutlineResult struct {
	VolumesCreated  int    `json:"volumes_created"`
	ChaptersCreated int    `json:"chapters_created"`
	Raw             string `json:"raw"`
	ParseFailed     bool   `json:"parse_failed"`
	Continued       bool   `json:"continued"`
	Stats           Stats  `json:"stats"`
}

// Outline generates the volume and chapter tree. A truncated first reply
// (finish_reason=length or an unclosed object) triggers exactly one
// continuation request carrying the original exchange; the two replies
// are concatenated before parsing. A reply that still does not parse is
// stored raw on the project and writes no structure.
func (g *Generator) Outline(ctx context.Context, projectID int64) (*OutlineResult, error) {
	project, err := g.q.Project(ctx, projectID)
	if err != nil {
		return nil, err
	}
	characters, err := g.q.Characters(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if len(characters) == 0 {
		return nil, fmt.Errorf("%w: no characters, run the world-building stage first", ErrInsufficientData)
	}
	world, err := g.q.WorldItems(ctx, projectID)
	if err != nil {
		return nil, err
	}

	userPrompt := prompt.Outline(project.Name, project.Description, "佚名", world, characters)
	first, err := g.call(ctx, "outline",
		[]llm.Message{{Role: "user", Content: userPrompt}}, 0.7, 4000)
	if err != nil {
		return nil, err
	}

	out := &OutlineResult{Raw: first.Content, Stats: statsOf(first)}
	content := first.Content

	if first.FinishReason == llm.FinishLength || unclosedBraces(content) {
		logging.Named("generate").Infow("outline reply truncated, requesting continuation",
			"project_id", projectID, "finish_reason", first.FinishReason)
		second, err := g.call(ctx, "outline",
			[]llm.Message{
				{Role: "user", Content: userPrompt},
				{Role: "assistant", Content: content},
				{Role: "user", Content: "请继续输出剩余内容，直接从中断处继续，不要重复已输出的部分。"},
			}, 0.7, 4000)
		if err != nil {
			return nil, err
		}
		content += second.Content
		out.Raw = content
		out.Continued = true
		out.Stats.Usage.InputTokens += second.Usage.InputTokens
		out.Stats.Usage.OutputTokens += second.Usage.OutputTokens
		out.Stats.Usage.TotalTokens += second.Usage.TotalTokens
		out.Stats.Cost += second.Cost
	}

	var payload outlinePayload
	if !decodeReply(content, &payload) || len(payload.Volumes) == 0 {
		out.ParseFailed = true
		if err := g.q.UpdateProjectOutlineRaw(ctx, projectID, content); err != nil {
			return nil, err
		}
		return out, nil
	}

	err = g.tx.WithTx(ctx, func(q *store.Queries) error {
		if err := q.DeleteChapters(ctx, projectID); err != nil {
			return err
		}
		if err := q.DeleteVolumes(ctx, projectID); err != nil {
			return err
		}
		ordinal := 0
		for _, v := range payload.Volumes {
			volumeID, err := q.CreateVolume(ctx, &store.Volume{
				ProjectID: projectID,
				Ordinal:   v.Order,
				Title:     v.Title,
				Summary:   v.Description,
			})
			if err != nil {
				return err
			}
			out.VolumesCreated++
			for _, c := range v.Chapters {
				ordinal++
				_, err := q.CreateChapter(ctx, &store.Chapter{
					ProjectID:          projectID,
					VolumeID:           &volumeID,
					Ordinal:            ordinal,
					Title:              c.Title,
					Outline:            renderChapterOutline(c.Summary, c.KeyEvents),
					KeyEvents:          marshalCompact(c.KeyEvents),
					CharactersInvolved: marshalCompact(c.CharactersInvolved),
				})
				if err != nil {
					return err
				}
				out.ChaptersCreated++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// renderChapterOutline writes the templated block the chapter row starts
// with; parseChapterOutline reads it back.
func renderChapterOutline(summary string, events []string) string {
	var b strings.Builder
	b.WriteString("# 章节梗概\n")
	b.WriteString(summary)
	b.WriteString("\n\n# 关键事件\n")
	for _, e := range events {
		b.WriteString("- ")
		b.WriteString(e)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
