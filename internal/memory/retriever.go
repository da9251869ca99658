package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/leew666/aiNovel/internal/logging"
	"github.com/leew666/aiNovel/internal/store"
)

// ArcCard is the public projection of a plot arc plus a similarity score.
type ArcCard struct {
	ID                int64    `json:"id"`
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	Status            string   `json:"status"`
	Importance        string   `json:"importance"`
	PlantedChapter    int      `json:"planted_chapter"`
	RelatedCharacters []string `json:"related_characters,omitempty"`
	Notes             string   `json:"notes,omitempty"`
	Similarity        float64  `json:"similarity"`
}

// CardFromArc projects a stored arc into its prompt-injection card.
func CardFromArc(arc *store.PlotArc, similarity float64) ArcCard {
	return ArcCard{
		ID:                arc.ID,
		Title:             arc.Title,
		Description:       arc.Description,
		Status:            arc.Status,
		Importance:        arc.Importance,
		PlantedChapter:    arc.PlantedChapter,
		RelatedCharacters: decodeKeywords(arc.RelatedCharacters),
		Notes:             arc.Notes,
		Similarity:        math.Round(similarity*10000) / 10000,
	}
}

// Retriever ranks plot arcs against query text. Vectors are built lazily:
// arcs missing an embedding are indexed and persisted during retrieval, so
// a cold store warms itself on first use.
type Retriever struct {
	q       *store.Queries
	backend Backend
}

// NewRetriever builds a retriever over a query set and embedding backend.
func NewRetriever(q *store.Queries, backend Backend) *Retriever {
	return &Retriever{q: q, backend: backend}
}

// Retrieve returns the topK arcs most similar to queryText. When the
// embedding backend fails, ranking degrades to keyword counting instead of
// failing the caller.
func (r *Retriever) Retrieve(ctx context.Context, projectID int64, queryText string, topK int, onlyActive bool, minSimilarity float64) ([]ArcCard, error) {
	if topK <= 0 {
		topK = 3
	}
	candidates, err := r.candidates(ctx, projectID, onlyActive)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	queryVec, err := r.backend.Embed(ctx, queryText)
	if err != nil {
		logging.Named("memory").Warnw("query embedding failed, using keyword ranking", "error", err)
		return keywordRank(candidates, queryText, topK), nil
	}

	if err := r.indexMissing(ctx, candidates); err != nil {
		return nil, err
	}

	cards := make([]ArcCard, 0, len(candidates))
	for _, arc := range candidates {
		vec := decodeVector(arc.Embedding)
		sim := Cosine(queryVec, vec)
		if sim < minSimilarity {
			continue
		}
		cards = append(cards, CardFromArc(arc, sim))
	}
	sort.SliceStable(cards, func(i, j int) bool { return cards[i].Similarity > cards[j].Similarity })
	if len(cards) > topK {
		cards = cards[:topK]
	}
	return cards, nil
}

// Index embeds every arc missing a vector, or all arcs when force is set,
// returning the number of embeddings written.
func (r *Retriever) Index(ctx context.Context, projectID int64, force bool) (int, error) {
	if force {
		if err := r.q.ClearPlotArcEmbeddings(ctx, projectID); err != nil {
			return 0, err
		}
	}
	missing, err := r.q.PlotArcsWithoutEmbedding(ctx, projectID)
	if err != nil {
		return 0, err
	}
	if err := r.indexMissing(ctx, missing); err != nil {
		return 0, err
	}
	return len(missing), nil
}

func (r *Retriever) candidates(ctx context.Context, projectID int64, onlyActive bool) ([]*store.PlotArc, error) {
	if onlyActive {
		return r.q.ActivePlotArcs(ctx, projectID)
	}
	return r.q.PlotArcs(ctx, projectID)
}

// indexMissing embeds and persists vectors for arcs that lack one, mutating
// the passed arcs so the caller ranks fresh data.
func (r *Retriever) indexMissing(ctx context.Context, arcs []*store.PlotArc) error {
	log := logging.Named("memory")
	for _, arc := range arcs {
		if arc.Embedding != nil {
			continue
		}
		vec, err := r.backend.Embed(ctx, arcText(arc))
		if err != nil {
			return fmt.Errorf("memory: embed arc %d: %w", arc.ID, err)
		}
		encoded, err := json.Marshal(vec)
		if err != nil {
			return fmt.Errorf("memory: encode arc vector: %w", err)
		}
		s := string(encoded)
		if err := r.q.SetPlotArcEmbedding(ctx, arc.ID, s); err != nil {
			return err
		}
		arc.Embedding = &s
		log.Debugw("arc indexed", "arc", arc.ID, "backend", r.backend.Name())
	}
	return nil
}

// arcText is the embedded representation of an arc. Notes participate so
// a developed arc re-ranks on its latest beats.
func arcText(arc *store.PlotArc) string {
	parts := []string{arc.Title, arc.Description}
	if arc.Notes != "" {
		parts = append(parts, arc.Notes)
	}
	if kws := decodeKeywords(arc.Keywords); len(kws) > 0 {
		parts = append(parts, strings.Join(kws, " "))
	}
	return strings.Join(parts, "\n")
}

func decodeVector(raw *string) []float64 {
	if raw == nil {
		return nil
	}
	var vec []float64
	if err := json.Unmarshal([]byte(*raw), &vec); err != nil {
		return nil
	}
	return vec
}

// keywordRank scores each arc by how many of its keywords (or its title,
// when none are configured) appear in the query text, normalized by the
// keyword count. Arcs with zero hits are dropped.
func keywordRank(arcs []*store.PlotArc, queryText string, topK int) []ArcCard {
	probe := strings.ToLower(queryText)
	var cards []ArcCard
	for _, arc := range arcs {
		keywords := decodeKeywords(arc.Keywords)
		if len(keywords) == 0 {
			keywords = []string{arc.Title}
		}
		hits := 0
		for _, kw := range keywords {
			if kw != "" && strings.Contains(probe, strings.ToLower(kw)) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		score := float64(hits) / math.Max(1, float64(len(keywords)))
		cards = append(cards, CardFromArc(arc, score))
	}
	sort.SliceStable(cards, func(i, j int) bool { return cards[i].Similarity > cards[j].Similarity })
	if len(cards) > topK {
		cards = cards[:topK]
	}
	return cards
}

