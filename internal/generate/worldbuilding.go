package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/leew666/aiNovel/internal/llm"
	"github.com/leew666/aiNovel/internal/prompt"
	"github.com/leew666/aiNovel/internal/store"
)

// worldPayload mirrors the JSON shape the world-building prompt asks for.
type worldPayload struct {
	WorldData []struct {
		Type        string         `json:"type"`
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Properties  map[string]any `json:"properties"`
		Keywords    []string       `json:"keywords"`
	} `json:"world_data"`
	Characters []struct {
		Name         string         `json:"name"`
		Archetype    string         `json:"archetype"`
		Background   string         `json:"background"`
		Traits       map[string]int `json:"traits"`
		Goals        string         `json:"goals"`
		Catchphrases []string       `json:"catchphrases"`
		Keywords     []string       `json:"keywords"`
	} `json:"characters"`
}

// WorldBuildingResult is the stage-2 envelope.
type WorldBuildingResult struct {
	CharactersCreated int    `json:"characters_created"`
	WorldItemsCreated int    `json:"world_items_created"`
	Raw               string `json:"raw"`
	ParseFailed       bool   `json:"parse_failed"`
	Stats             Stats  `json:"stats"`
}

// WorldBuilding derives the character roster and world items from the
// planning text. On a successful parse the old roster is replaced
// atomically; on parse failure only the raw reply is stored for editing.
func (g *Generator) WorldBuilding(ctx context.Context, projectID int64) (*WorldBuildingResult, error) {
	project, err := g.q.Project(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(project.PlanningText) == "" {
		return nil, fmt.Errorf("%w: planning text missing, run the planning stage first", ErrInsufficientData)
	}

	res, err := g.call(ctx, "world_building",
		[]llm.Message{{Role: "user", Content: prompt.WorldBuilding(project.PlanningText)}},
		0.7, 4000)
	if err != nil {
		return nil, err
	}

	out := &WorldBuildingResult{Raw: res.Content, Stats: statsOf(res)}
	var payload worldPayload
	if !decodeReply(res.Content, &payload) {
		out.ParseFailed = true
		if err := g.q.UpdateProjectWorldRaw(ctx, projectID, res.Content); err != nil {
			return nil, err
		}
		return out, nil
	}

	err = g.tx.WithTx(ctx, func(q *store.Queries) error {
		if err := q.DeleteCharacters(ctx, projectID); err != nil {
			return err
		}
		if err := q.DeleteWorldItems(ctx, projectID); err != nil {
			return err
		}
		for _, w := range payload.WorldData {
			_, err := q.CreateWorldItem(ctx, &store.WorldItem{
				ProjectID:   projectID,
				Kind:        normalizeKind(w.Type),
				Name:        w.Name,
				Description: w.Description,
				Properties:  marshalCompact(w.Properties),
				Keywords:    marshalCompact(w.Keywords),
			})
			if err != nil {
				return err
			}
			out.WorldItemsCreated++
		}
		for _, c := range payload.Characters {
			_, err := q.CreateCharacter(ctx, &store.Character{
				ProjectID:    projectID,
				Name:         c.Name,
				Archetype:    c.Archetype,
				Description:  c.Background,
				Traits:       marshalCompact(c.Traits),
				Goals:        c.Goals,
				Catchphrases: strings.Join(c.Catchphrases, "；"),
				Keywords:     marshalCompact(c.Keywords),
			})
			if err != nil {
				return err
			}
			out.CharactersCreated++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// normalizeKind maps the model's free-form type tag onto the stored
// world-item kinds, defaulting to rule for anything unrecognized.
func normalizeKind(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "location", "地点":
		return store.WorldLocation
	case "organization", "组织":
		return store.WorldOrganization
	case "item", "物品":
		return store.WorldItemKind
	default:
		return store.WorldRule
	}
}
