package workflow

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/leew666/aiNovel/internal/generate"
	"github.com/leew666/aiNovel/internal/logging"
	"github.com/leew666/aiNovel/internal/store"
)

// ErrInvalidPlan marks a batch request rejected before any work: a step
// outside 3..5, an inverted range, or chapter-range syntax errors.
var ErrInvalidPlan = errors.New("workflow: invalid pipeline plan")

// Pipeline step numbers: outline, detail outline, writing.
const (
	StepOutline       = 3
	StepDetailOutline = 4
	StepWriting       = 5
)

// Plan is one batch request for the pipeline runner.
type Plan struct {
	FromStep     int
	ToStep       int
	ChapterRange string // empty means all chapters
	Regenerate   bool
	MaxWorkers   int // <=1 means serial
}

// TaskResult is the outcome of one per-chapter task.
type TaskResult struct {
	ChapterID    int64          `json:"chapter_id"`
	ChapterTitle string         `json:"chapter_title"`
	Step         int            `json:"step"`
	Success      bool           `json:"success"`
	Error        string         `json:"error,omitempty"`
	Stats        map[string]any `json:"stats,omitempty"`
}

// PipelineResult aggregates a batch run. Total counts selected chapters,
// not tasks; Skipped counts only downstream tasks dropped because their
// step-4 failed, while idempotent skips count as successes.
type PipelineResult struct {
	ProjectID    int64        `json:"project_id"`
	FromStep     int          `json:"from_step"`
	ToStep       int          `json:"to_step"`
	ChapterRange string       `json:"chapter_range,omitempty"`
	Total        int          `json:"total"`
	Succeeded    int          `json:"succeeded"`
	Failed       int          `json:"failed"`
	Skipped      int          `json:"skipped"`
	TaskResults  []TaskResult `json:"task_results"`
}

// FailedChapterIDs lists the distinct chapters with at least one failed
// task, in task order, for easy retry.
func (r *PipelineResult) FailedChapterIDs() []int64 {
	seen := make(map[int64]bool)
	var out []int64
	for _, t := range r.TaskResults {
		if !t.Success && !seen[t.ChapterID] {
			seen[t.ChapterID] = true
			out = append(out, t.ChapterID)
		}
	}
	return out
}

var rangeItem = regexp.MustCompile(`^(\d+)(?:-(\d+))?$`)

// ParseChapterRange expands a comma-separated list of N and N-M items
// into a strictly increasing, deduplicated list of 1-based positions
// clamped to [1, total]. An empty spec selects every chapter.
func ParseChapterRange(spec string, total int) ([]int, error) {
	if strings.TrimSpace(spec) == "" {
		all := make([]int, total)
		for i := range all {
			all[i] = i + 1
		}
		return all, nil
	}

	seen := make(map[int]bool)
	var out []int
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		m := rangeItem.FindStringSubmatch(part)
		if m == nil {
			return nil, fmt.Errorf("%w: bad chapter range item %q", ErrInvalidPlan, part)
		}
		start, _ := strconv.Atoi(m[1])
		end := start
		if m[2] != "" {
			end, _ = strconv.Atoi(m[2])
		}
		if start > end {
			return nil, fmt.Errorf("%w: range start %d exceeds end %d", ErrInvalidPlan, start, end)
		}
		for i := start; i <= end; i++ {
			if i >= 1 && i <= total && !seen[i] {
				seen[i] = true
				out = append(out, i)
			}
		}
	}
	sort.Ints(out)
	return out, nil
}

func validatePlan(p Plan) error {
	if p.FromStep < StepOutline || p.FromStep > StepWriting {
		return fmt.Errorf("%w: from_step %d outside %d..%d", ErrInvalidPlan, p.FromStep, StepOutline, StepWriting)
	}
	if p.ToStep < StepOutline || p.ToStep > StepWriting {
		return fmt.Errorf("%w: to_step %d outside %d..%d", ErrInvalidPlan, p.ToStep, StepOutline, StepWriting)
	}
	if p.FromStep > p.ToStep {
		return fmt.Errorf("%w: from_step %d exceeds to_step %d", ErrInvalidPlan, p.FromStep, p.ToStep)
	}
	return nil
}

// RunPipeline executes a batch plan: step 3 once per project, then steps
// 4 and 5 per selected chapter, serial or with a two-phase worker pool.
func (o *Orchestrator) RunPipeline(ctx context.Context, projectID int64, plan Plan) (*PipelineResult, error) {
	if err := validatePlan(plan); err != nil {
		return nil, err
	}
	log := logging.Named("pipeline")

	result := &PipelineResult{
		ProjectID:    projectID,
		FromStep:     plan.FromStep,
		ToStep:       plan.ToStep,
		ChapterRange: plan.ChapterRange,
	}

	if plan.FromStep <= StepOutline {
		if err := o.runOutlineStep(ctx, projectID, plan.Regenerate); err != nil {
			return nil, err
		}
	}
	if plan.ToStep < StepDetailOutline {
		return result, nil
	}

	chapters, err := o.store.Chapters(ctx, projectID)
	if err != nil {
		return nil, err
	}
	indices, err := ParseChapterRange(plan.ChapterRange, len(chapters))
	if err != nil {
		return nil, err
	}
	if len(chapters) == 0 {
		return nil, fmt.Errorf("%w: no chapters, run the outline step first", generate.ErrInsufficientData)
	}
	selected := make([]*store.Chapter, len(indices))
	for i, idx := range indices {
		selected[i] = chapters[idx-1]
	}
	result.Total = len(selected)

	wantDetail := plan.FromStep <= StepDetailOutline && plan.ToStep >= StepDetailOutline
	wantWriting := plan.ToStep >= StepWriting

	if plan.MaxWorkers <= 1 {
		o.runSerial(ctx, selected, plan, wantDetail, wantWriting, result)
	} else {
		o.runParallel(ctx, selected, plan, wantDetail, wantWriting, result)
	}

	for _, t := range result.TaskResults {
		switch {
		case t.Success:
			result.Succeeded++
		case strings.Contains(t.Error, skippedUpstream):
			result.Skipped++
		default:
			result.Failed++
		}
	}
	log.Infow("pipeline finished",
		"project_id", projectID, "from", plan.FromStep, "to", plan.ToStep,
		"total", result.Total, "succeeded", result.Succeeded,
		"failed", result.Failed, "skipped", result.Skipped)
	return result, nil
}

const skippedUpstream = "step 4 failed, step 5 skipped"

// runOutlineStep executes step 3 once, skipping when the structure
// already exists. Unlike chapter tasks, a step-3 failure aborts the run.
func (o *Orchestrator) runOutlineStep(ctx context.Context, projectID int64, regenerate bool) error {
	project, err := o.store.Project(ctx, projectID)
	if err != nil {
		return err
	}
	volumes, err := o.store.Volumes(ctx, projectID)
	if err != nil {
		return err
	}
	if len(volumes) > 0 && project.CurrentStep >= StepOutline && !regenerate {
		logging.Named("pipeline").Infow("outline already present, skipping step 3", "project_id", projectID)
		return nil
	}
	_, err = o.BuildOutline(ctx, projectID)
	return err
}

// runSerial processes chapters one at a time on the shared store.
func (o *Orchestrator) runSerial(ctx context.Context, chapters []*store.Chapter, plan Plan, wantDetail, wantWriting bool, result *PipelineResult) {
	for _, ch := range chapters {
		if wantDetail {
			task := o.detailTask(ctx, o.gen, ch, plan.Regenerate)
			result.TaskResults = append(result.TaskResults, task)
			if !task.Success {
				if wantWriting {
					result.TaskResults = append(result.TaskResults, skipTask(ch))
				}
				continue
			}
		}
		if wantWriting {
			result.TaskResults = append(result.TaskResults, o.writeTask(ctx, o.gen, ch, plan.Regenerate))
		}
	}
}

// runParallel runs the two-phase barrier: every step-4 task completes
// before any step-5 task starts, so a chapter's recap never races the
// detail outline of the chapter before it.
func (o *Orchestrator) runParallel(ctx context.Context, chapters []*store.Chapter, plan Plan, wantDetail, wantWriting bool, result *PipelineResult) {
	failed4 := make(map[int64]bool)

	if wantDetail {
		tasks := make([]TaskResult, len(chapters))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(plan.MaxWorkers)
		for i, ch := range chapters {
			g.Go(func() error {
				tasks[i] = o.workerTask(gctx, ch, plan.Regenerate, false)
				return nil
			})
		}
		g.Wait()
		for i, t := range tasks {
			result.TaskResults = append(result.TaskResults, t)
			if !t.Success {
				failed4[chapters[i].ID] = true
			}
		}
	}
	if !wantWriting {
		return
	}

	tasks := make([]TaskResult, len(chapters))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(plan.MaxWorkers)
	for i, ch := range chapters {
		if failed4[ch.ID] {
			tasks[i] = skipTask(ch)
			continue
		}
		g.Go(func() error {
			tasks[i] = o.workerTask(gctx, ch, plan.Regenerate, true)
			return nil
		})
	}
	g.Wait()
	result.TaskResults = append(result.TaskResults, tasks...)
}

// workerTask runs one chapter task over its own pinned session so
// parallel workers never interleave statements on a shared connection.
func (o *Orchestrator) workerTask(ctx context.Context, ch *store.Chapter, regenerate, writing bool) TaskResult {
	session, err := o.store.Session(ctx)
	if err != nil {
		return failTask(ch, step(writing), err)
	}
	defer session.Close()

	gen := generate.New(session.Queries, session, o.client, o.tracker, o.backend, o.historyDir)
	if writing {
		return o.writeTask(ctx, gen, ch, regenerate)
	}
	return o.detailTask(ctx, gen, ch, regenerate)
}

func step(writing bool) int {
	if writing {
		return StepWriting
	}
	return StepDetailOutline
}

// detailTask runs step 4 for one chapter, skipping idempotently when the
// detail outline already exists.
func (o *Orchestrator) detailTask(ctx context.Context, gen *generate.Generator, ch *store.Chapter, regenerate bool) TaskResult {
	if ch.DetailOutline != nil && !regenerate {
		return TaskResult{
			ChapterID: ch.ID, ChapterTitle: ch.Title, Step: StepDetailOutline,
			Success: true, Stats: map[string]any{"skipped": true},
		}
	}
	res, err := gen.DetailOutline(ctx, ch.ID)
	if err != nil {
		return failTask(ch, StepDetailOutline, err)
	}
	return TaskResult{
		ChapterID: ch.ID, ChapterTitle: ch.Title, Step: StepDetailOutline,
		Success: true,
		Stats:   map[string]any{"scenes_count": res.ScenesCount, "parse_failed": res.ParseFailed},
	}
}

// writeTask runs step 5 for one chapter, skipping idempotently when a
// body already exists.
func (o *Orchestrator) writeTask(ctx context.Context, gen *generate.Generator, ch *store.Chapter, regenerate bool) TaskResult {
	if ch.Content != "" && !regenerate {
		return TaskResult{
			ChapterID: ch.ID, ChapterTitle: ch.Title, Step: StepWriting,
			Success: true, Stats: map[string]any{"skipped": true},
		}
	}
	res, err := gen.Chapter(ctx, ch.ID, generate.ChapterParams{})
	if err != nil {
		return failTask(ch, StepWriting, err)
	}
	return TaskResult{
		ChapterID: ch.ID, ChapterTitle: ch.Title, Step: StepWriting,
		Success: true,
		Stats:   map[string]any{"word_count": res.WordCount},
	}
}

func failTask(ch *store.Chapter, step int, err error) TaskResult {
	return TaskResult{ChapterID: ch.ID, ChapterTitle: ch.Title, Step: step, Error: err.Error()}
}

func skipTask(ch *store.Chapter) TaskResult {
	return TaskResult{ChapterID: ch.ID, ChapterTitle: ch.Title, Step: StepWriting, Error: skippedUpstream}
}
