package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/leew666/aiNovel/internal/llm"
	"github.com/leew666/aiNovel/internal/prompt"
)

// PlanningResult is the stage-1 envelope.
type PlanningResult struct {
	Planning string `json:"planning"`
	Stats    Stats  `json:"stats"`
}

// Planning turns a seed idea into the free-form creative blueprint and
// overwrites the project's planning text. An empty idea falls back to
// the project description.
func (g *Generator) Planning(ctx context.Context, projectID int64, idea string) (*PlanningResult, error) {
	project, err := g.q.Project(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(idea) == "" {
		idea = project.Description
	}
	if strings.TrimSpace(idea) == "" {
		return nil, fmt.Errorf("%w: no seed idea and no project description", ErrInsufficientData)
	}

	res, err := g.call(ctx, "planning",
		[]llm.Message{{Role: "user", Content: prompt.Planning(idea, genreContext(project.Genre, project.Tags))}},
		0.7, 4000)
	if err != nil {
		return nil, err
	}

	planning := strings.TrimSpace(res.Content)
	if err := g.q.UpdateProjectPlanning(ctx, projectID, planning); err != nil {
		return nil, err
	}
	return &PlanningResult{Planning: planning, Stats: statsOf(res)}, nil
}

// genreContext renders the genre and plot-tag block injected into the
// planning prompt when the project declares them.
func genreContext(genre, tags string) string {
	var parts []string
	if strings.TrimSpace(genre) != "" {
		parts = append(parts, "题材: "+genre)
	}
	if strings.TrimSpace(tags) != "" {
		parts = append(parts, "情节标签: "+tags)
	}
	return strings.Join(parts, "\n")
}
