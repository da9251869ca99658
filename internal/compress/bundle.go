package compress

import (
	"context"

	"github.com/leew666/aiNovel/internal/llm"
	"github.com/leew666/aiNovel/internal/logging"
	"github.com/leew666/aiNovel/internal/memory"
	"github.com/leew666/aiNovel/internal/store"
)

// Bundle is the grounding material handed to a step generator: the recap
// plus the injected knowledge cards.
type Bundle struct {
	Recap          string
	CharacterCards []memory.Hit
	WorldCards     []memory.Hit
	PlotArcCards   []memory.ArcCard
}

// BundleParams selects what to assemble.
type BundleParams struct {
	ProjectID      int64
	CurrentOrdinal int
	WindowSize     int
	TokenBudget    int
	ScanText       string // empty means default card selection
	TopK           int
}

// Assembler composes recap, lorebook, and plot-arc retrieval into one
// bundle. Card retrieval failures degrade to empty sections; only recap
// storage errors fail the call.
type Assembler struct {
	q         *store.Queries
	comp      *Compressor
	lorebook  *memory.Lorebook
	retriever *memory.Retriever
}

// NewAssembler wires the assembler over one query set, provider client,
// and embedding backend.
func NewAssembler(q *store.Queries, client llm.Client, backend memory.Backend) *Assembler {
	return &Assembler{
		q:         q,
		comp:      NewCompressor(q, client),
		lorebook:  memory.NewLorebook(q),
		retriever: memory.NewRetriever(q, backend),
	}
}

// Compressor exposes the underlying compressor for summary precaching.
func (a *Assembler) Compressor() *Compressor {
	return a.comp
}

// BuildBundle assembles the context bundle for a chapter generation.
func (a *Assembler) BuildBundle(ctx context.Context, p BundleParams) (*Bundle, error) {
	log := logging.Named("compress")
	if p.TopK <= 0 {
		p.TopK = 3
	}

	recap, err := a.comp.BuildRecap(ctx, p.ProjectID, p.CurrentOrdinal, p.WindowSize, p.TokenBudget)
	if err != nil {
		return nil, err
	}
	bundle := &Bundle{Recap: recap}

	var scan *memory.ScanResult
	if p.ScanText != "" {
		scan, err = a.lorebook.Scan(ctx, p.ProjectID, p.ScanText, memory.DefaultMaxWorld, memory.DefaultMaxCharacter)
	} else {
		scan, err = a.lorebook.Defaults(ctx, p.ProjectID, memory.DefaultMaxWorld, memory.DefaultMaxCharacter)
	}
	if err != nil {
		log.Warnw("lorebook unavailable, continuing without cards", "error", err)
	} else {
		bundle.CharacterCards = scan.Characters
		bundle.WorldCards = scan.World
	}

	bundle.PlotArcCards = a.arcCards(ctx, p)
	return bundle, nil
}

func (a *Assembler) arcCards(ctx context.Context, p BundleParams) []memory.ArcCard {
	log := logging.Named("compress")

	arcs, err := a.q.ActivePlotArcs(ctx, p.ProjectID)
	if err != nil {
		log.Warnw("active plot arcs unavailable", "error", err)
		return nil
	}

	if p.ScanText != "" && len(arcs) > 0 {
		cards, err := a.retriever.Retrieve(ctx, p.ProjectID, p.ScanText, p.TopK, true, 0)
		if err != nil {
			log.Warnw("plot arc retrieval failed, continuing without arcs", "error", err)
			return nil
		}
		return cards
	}
	if len(arcs) > p.TopK {
		arcs = arcs[:p.TopK]
	}
	cards := make([]memory.ArcCard, 0, len(arcs))
	for _, arc := range arcs {
		cards = append(cards, memory.CardFromArc(arc, 0))
	}
	return cards
}
