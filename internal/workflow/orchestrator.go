// Package workflow is the single entry point for stage operations over a
// project: it enforces stage preconditions, advances the stage cursor on
// success, and delegates batch work to the pipeline runner.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/leew666/aiNovel/internal/generate"
	"github.com/leew666/aiNovel/internal/llm"
	"github.com/leew666/aiNovel/internal/logging"
	"github.com/leew666/aiNovel/internal/memory"
	"github.com/leew666/aiNovel/internal/store"
)

// ErrInvalidFormat marks a user-supplied artifact edit that does not
// decode into the expected shape.
var ErrInvalidFormat = errors.New("workflow: invalid format")

// Orchestrator coordinates the writing workflow. One instance serves the
// whole process; parallel pipeline workers derive their own per-session
// generators from the shared store.
type Orchestrator struct {
	store      *store.Store
	client     llm.Client
	tracker    *llm.CostTracker
	backend    memory.Backend
	historyDir string
	gen        *generate.Generator
}

// New wires an orchestrator over the shared store and provider client.
func New(s *store.Store, client llm.Client, tracker *llm.CostTracker, backend memory.Backend, historyDir string) *Orchestrator {
	return &Orchestrator{
		store:      s,
		client:     client,
		tracker:    tracker,
		backend:    backend,
		historyDir: historyDir,
		gen:        generate.New(s.Queries, s, client, tracker, backend, historyDir),
	}
}

// Status reports where a project stands in the workflow.
type Status struct {
	ProjectID   int64  `json:"project_id"`
	Name        string `json:"name"`
	Stage       string `json:"stage"`
	CurrentStep int    `json:"current_step"`
	CanContinue bool   `json:"can_continue"`
}

// Status returns the project's stage cursor and whether the next stage
// has the inputs it needs.
func (o *Orchestrator) Status(ctx context.Context, projectID int64) (*Status, error) {
	project, err := o.store.Project(ctx, projectID)
	if err != nil {
		return nil, err
	}
	can, err := o.canContinue(ctx, project)
	if err != nil {
		return nil, err
	}
	return &Status{
		ProjectID:   project.ID,
		Name:        project.Name,
		Stage:       project.Stage,
		CurrentStep: project.CurrentStep,
		CanContinue: can,
	}, nil
}

// canContinue checks the precondition of the stage after current_step.
func (o *Orchestrator) canContinue(ctx context.Context, p *store.Project) (bool, error) {
	switch p.CurrentStep {
	case 0:
		return true, nil
	case 1:
		return strings.TrimSpace(p.PlanningText) != "", nil
	case 2:
		characters, err := o.store.Characters(ctx, p.ID)
		if err != nil {
			return false, err
		}
		return len(characters) > 0, nil
	case 3, 4, 5, 6:
		return true, nil
	default:
		return false, nil
	}
}

// Plan runs the planning stage and advances the cursor.
func (o *Orchestrator) Plan(ctx context.Context, projectID int64, idea string) (*generate.PlanningResult, error) {
	res, err := o.gen.Planning(ctx, projectID, idea)
	if err != nil {
		return nil, err
	}
	if err := o.advance(ctx, projectID, store.StagePlanning); err != nil {
		return nil, err
	}
	return res, nil
}

// UpdatePlan overwrites the planning text without moving the cursor.
func (o *Orchestrator) UpdatePlan(ctx context.Context, projectID int64, text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: planning text is empty", ErrInvalidFormat)
	}
	return o.store.UpdateProjectPlanning(ctx, projectID, text)
}

// BuildWorld runs the world-building stage. The cursor only advances on
// a parsed reply; a raw reply stays on the project for manual editing.
func (o *Orchestrator) BuildWorld(ctx context.Context, projectID int64) (*generate.WorldBuildingResult, error) {
	res, err := o.gen.WorldBuilding(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !res.ParseFailed {
		if err := o.advance(ctx, projectID, store.StageWorldBuilding); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// worldEdit mirrors the world-building reply shape for manual edits.
type worldEdit struct {
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

// UpdateWorld replaces the roster and world items from a user-edited
// JSON document, typically a repaired copy of a raw stage-2 reply. The
// cursor advances because the edit completes the stage.
func (o *Orchestrator) UpdateWorld(ctx context.Context, projectID int64, rawJSON string) error {
	if _, err := o.store.Project(ctx, projectID); err != nil {
		return err
	}
	var payload worldEdit
	if err := json.Unmarshal([]byte(rawJSON), &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if len(payload.Characters) == 0 && len(payload.WorldData) == 0 {
		return fmt.Errorf("%w: no characters or world data", ErrInvalidFormat)
	}

	err := o.store.WithTx(ctx, func(q *store.Queries) error {
		if err := q.DeleteCharacters(ctx, projectID); err != nil {
			return err
		}
		if err := q.DeleteWorldItems(ctx, projectID); err != nil {
			return err
		}
		for _, w := range payload.WorldData {
			props, _ := json.Marshal(w.Properties)
			keywords, _ := json.Marshal(w.Keywords)
			if _, err := q.CreateWorldItem(ctx, &store.WorldItem{
				ProjectID:   projectID,
				Kind:        w.Type,
				Name:        w.Name,
				Description: w.Description,
				Properties:  string(props),
				Keywords:    string(keywords),
			}); err != nil {
				return err
			}
		}
		for _, c := range payload.Characters {
			traits, _ := json.Marshal(c.Traits)
			keywords, _ := json.Marshal(c.Keywords)
			if _, err := q.CreateCharacter(ctx, &store.Character{
				ProjectID:    projectID,
				Name:         c.Name,
				Archetype:    c.Archetype,
				Description:  c.Background,
				Traits:       string(traits),
				Goals:        c.Goals,
				Catchphrases: strings.Join(c.Catchphrases, "；"),
				Keywords:     string(keywords),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return o.advance(ctx, projectID, store.StageWorldBuilding)
}

// BuildOutline runs the outline stage; cursor advances only on a parsed
// volume tree.
func (o *Orchestrator) BuildOutline(ctx context.Context, projectID int64) (*generate.OutlineResult, error) {
	res, err := o.gen.Outline(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !res.ParseFailed {
		if err := o.advance(ctx, projectID, store.StageOutline); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// DetailOutline runs step 4 for one chapter and advances the cursor on a
// parsed scene list.
func (o *Orchestrator) DetailOutline(ctx context.Context, chapterID int64) (*generate.DetailOutlineResult, error) {
	ch, err := o.store.Chapter(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	res, err := o.gen.DetailOutline(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	if !res.ParseFailed {
		if err := o.advance(ctx, ch.ProjectID, store.StageDetailOutline); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// BatchDetailOutline runs step 4 over every chapter in the project.
func (o *Orchestrator) BatchDetailOutline(ctx context.Context, projectID int64, regenerate bool, maxWorkers int) (*PipelineResult, error) {
	return o.RunPipeline(ctx, projectID, Plan{
		FromStep:   StepDetailOutline,
		ToStep:     StepDetailOutline,
		Regenerate: regenerate,
		MaxWorkers: maxWorkers,
	})
}

// Write runs step 5 for one chapter.
func (o *Orchestrator) Write(ctx context.Context, chapterID int64, p generate.ChapterParams) (*generate.ChapterResult, error) {
	ch, err := o.store.Chapter(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	res, err := o.gen.Chapter(ctx, chapterID, p)
	if err != nil {
		return nil, err
	}
	if err := o.advance(ctx, ch.ProjectID, store.StageWriting); err != nil {
		return nil, err
	}
	return res, nil
}

// QualityCheck runs the stage-6 review for one chapter.
func (o *Orchestrator) QualityCheck(ctx context.Context, chapterID int64) (*generate.QualityResult, error) {
	ch, err := o.store.Chapter(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	res, err := o.gen.Quality(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	if !res.ParseFailed {
		if err := o.advance(ctx, ch.ProjectID, store.StageQualityCheck); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// BatchQualityCheck reviews every written chapter serially, collecting
// per-chapter outcomes without aborting on a bad one.
func (o *Orchestrator) BatchQualityCheck(ctx context.Context, projectID int64) ([]TaskResult, error) {
	chapters, err := o.store.Chapters(ctx, projectID)
	if err != nil {
		return nil, err
	}
	var results []TaskResult
	for _, ch := range chapters {
		if ch.Content == "" {
			continue
		}
		res, err := o.QualityCheck(ctx, ch.ID)
		if err != nil {
			results = append(results, TaskResult{
				ChapterID: ch.ID, ChapterTitle: ch.Title, Step: 6, Error: err.Error(),
			})
			continue
		}
		results = append(results, TaskResult{
			ChapterID: ch.ID, ChapterTitle: ch.Title, Step: 6, Success: true,
			Stats: map[string]any{
				"issues_count":    res.IssuesCount,
				"critical_issues": res.CriticalIssues,
				"parse_failed":    res.ParseFailed,
			},
		})
	}
	return results, nil
}

// CheckConsistency audits a chapter (or an unsaved draft) without
// touching the cursor or the body.
func (o *Orchestrator) CheckConsistency(ctx context.Context, chapterID int64, overrideText string, strict bool) (*generate.ConsistencyResult, error) {
	return o.gen.Consistency(ctx, chapterID, overrideText, strict)
}

// Rewrite reworks chapter text under an instruction. Edit operations
// never move the stage cursor.
func (o *Orchestrator) Rewrite(ctx context.Context, chapterID int64, p generate.RewriteParams) (*generate.RewriteResult, error) {
	return o.gen.Rewrite(ctx, chapterID, p)
}

// Rollback restores a body from the rewrite history.
func (o *Orchestrator) Rollback(ctx context.Context, chapterID int64, historyID string, save bool) (*generate.RollbackResult, error) {
	return o.gen.Rollback(ctx, chapterID, historyID, save)
}

// PipelineStatus summarizes batch progress over a project's chapters.
type PipelineStatus struct {
	TotalChapters  int   `json:"total_chapters"`
	WithOutline    int   `json:"with_outline"`
	WithContent    int   `json:"with_content"`
	MissingOutline []int `json:"missing_outline"`
	MissingContent []int `json:"missing_content"`
}

// PipelineStatus reports which chapters still need step 4 or step 5,
// by 1-based chapter position.
func (o *Orchestrator) PipelineStatus(ctx context.Context, projectID int64) (*PipelineStatus, error) {
	chapters, err := o.store.Chapters(ctx, projectID)
	if err != nil {
		return nil, err
	}
	status := &PipelineStatus{
		TotalChapters:  len(chapters),
		MissingOutline: []int{},
		MissingContent: []int{},
	}
	for i, ch := range chapters {
		if ch.DetailOutline != nil {
			status.WithOutline++
		} else {
			status.MissingOutline = append(status.MissingOutline, i+1)
		}
		if ch.Content != "" {
			status.WithContent++
		} else {
			status.MissingContent = append(status.MissingContent, i+1)
		}
	}
	return status, nil
}

// MarkComplete closes the project out.
func (o *Orchestrator) MarkComplete(ctx context.Context, projectID int64) error {
	if _, err := o.store.Project(ctx, projectID); err != nil {
		return err
	}
	logging.Named("workflow").Infow("project marked complete", "project_id", projectID)
	return o.advance(ctx, projectID, store.StageCompleted)
}

// advance moves the stage tag and bumps current_step monotonically.
func (o *Orchestrator) advance(ctx context.Context, projectID int64, stage string) error {
	return o.store.AdvanceStage(ctx, projectID, stage, store.StageRank(stage))
}
