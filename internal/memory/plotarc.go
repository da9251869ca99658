package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/leew666/aiNovel/internal/store"
)

// ErrIllegalTransition marks a lifecycle move the state machine forbids.
var ErrIllegalTransition = errors.New("memory: illegal plot arc transition")

// Tracker enforces the plot-arc lifecycle: planted → developing → resolved,
// with abandoned reachable from any non-terminal state. Resolved and
// abandoned are terminal.
type Tracker struct {
	q *store.Queries
}

// NewTracker builds a tracker over a query set.
func NewTracker(q *store.Queries) *Tracker {
	return &Tracker{q: q}
}

// Plant registers a new foreshadowing thread at the given chapter, with
// the characters the thread involves.
func (t *Tracker) Plant(ctx context.Context, projectID int64, title, description, importance string, chapter int, keywords, relatedCharacters []string) (int64, error) {
	switch importance {
	case "":
		importance = store.ImportanceMedium
	case store.ImportanceHigh, store.ImportanceMedium, store.ImportanceLow:
	default:
		return 0, fmt.Errorf("memory: unknown importance %q", importance)
	}
	kw, err := encodeNames(keywords)
	if err != nil {
		return 0, fmt.Errorf("memory: marshal keywords: %w", err)
	}
	cast, err := encodeNames(relatedCharacters)
	if err != nil {
		return 0, fmt.Errorf("memory: marshal related characters: %w", err)
	}
	return t.q.CreatePlotArc(ctx, &store.PlotArc{
		ProjectID:         projectID,
		Title:             title,
		Description:       description,
		Importance:        importance,
		PlantedChapter:    chapter,
		Keywords:          kw,
		RelatedCharacters: cast,
	})
}

func encodeNames(names []string) (string, error) {
	if len(names) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(names)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Develop appends a progression note to the arc's notes. Planted arcs
// move to developing; developing arcs stay put. The note stales the
// arc's embedding so the retriever re-indexes it.
func (t *Tracker) Develop(ctx context.Context, arcID int64, chapter int, note string) error {
	arc, err := t.q.PlotArc(ctx, arcID)
	if err != nil {
		return err
	}
	if arc.Status != store.ArcPlanted && arc.Status != store.ArcDeveloping {
		return fmt.Errorf("%w: develop from %s", ErrIllegalTransition, arc.Status)
	}
	return t.q.AppendPlotArcDevelopment(ctx, arcID, fmt.Sprintf("第%d章: %s", chapter, note))
}

// Resolve closes an arc at the chapter where the callback lands. The
// resolution chapter can never precede the planting chapter.
func (t *Tracker) Resolve(ctx context.Context, arcID int64, chapter int) error {
	arc, err := t.q.PlotArc(ctx, arcID)
	if err != nil {
		return err
	}
	if arc.Status != store.ArcPlanted && arc.Status != store.ArcDeveloping {
		return fmt.Errorf("%w: resolve from %s", ErrIllegalTransition, arc.Status)
	}
	if chapter < arc.PlantedChapter {
		return fmt.Errorf("memory: resolution chapter %d precedes planting chapter %d", chapter, arc.PlantedChapter)
	}
	return t.q.SetPlotArcStatus(ctx, arcID, store.ArcResolved, &chapter)
}

// Abandon drops an arc from any non-terminal state.
func (t *Tracker) Abandon(ctx context.Context, arcID int64) error {
	arc, err := t.q.PlotArc(ctx, arcID)
	if err != nil {
		return err
	}
	if arc.Status == store.ArcResolved || arc.Status == store.ArcAbandoned {
		return fmt.Errorf("%w: abandon from %s", ErrIllegalTransition, arc.Status)
	}
	return t.q.SetPlotArcStatus(ctx, arcID, store.ArcAbandoned, nil)
}

// Active lists the arcs still in play, importance high > medium > low.
func (t *Tracker) Active(ctx context.Context, projectID int64) ([]*store.PlotArc, error) {
	return t.q.ActivePlotArcs(ctx, projectID)
}
