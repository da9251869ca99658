// Package generate holds the step generators of the writing workflow.
// Every generator follows the same skeleton: gather inputs from the
// store, render a prompt, call the provider through the budget gate,
// parse the reply, persist, and return an envelope with usage and cost.
package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/leew666/aiNovel/internal/compress"
	"github.com/leew666/aiNovel/internal/llm"
	"github.com/leew666/aiNovel/internal/memory"
	"github.com/leew666/aiNovel/internal/store"
)

// ErrInsufficientData marks a stage invoked before its inputs exist,
// such as world building without a plan or an outline without characters.
var ErrInsufficientData = errors.New("generate: insufficient data")

// Stats is the accounting slice of every generator envelope.
type Stats struct {
	Usage llm.Usage `json:"usage"`
	Cost  float64   `json:"cost"`
	Model string    `json:"model"`
}

// TxRunner executes a function atomically over a transaction-scoped
// query set. Both *store.Store and *store.Session implement it.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(q *store.Queries) error) error
}

// Generator runs the six workflow stages plus the sibling operations
// (consistency audit, rewrite, rollback) over one query set and provider
// client. It holds no mutable state, so one instance is reusable across
// calls; parallel workers build their own over per-session queries.
type Generator struct {
	q          *store.Queries
	tx         TxRunner
	client     llm.Client
	tracker    *llm.CostTracker
	asm        *compress.Assembler
	historyDir string
}

// New wires a generator. tracker may be nil to disable budget gating.
func New(q *store.Queries, tx TxRunner, client llm.Client, tracker *llm.CostTracker, backend memory.Backend, historyDir string) *Generator {
	return &Generator{
		q:          q,
		tx:         tx,
		client:     client,
		tracker:    tracker,
		asm:        compress.NewAssembler(q, client, backend),
		historyDir: historyDir,
	}
}

// call runs one provider request. The budget check happens before the
// request so an over-budget day never reaches the provider, and the
// ledger append happens after so every completed call is recorded.
func (g *Generator) call(ctx context.Context, operation string, messages []llm.Message, temperature float64, maxTokens int) (*llm.GenerateResult, error) {
	if g.tracker != nil {
		input := 0
		for _, m := range messages {
			input += g.client.CountTokens(m.Content)
		}
		if err := g.tracker.CheckBudget(g.client.EstimateCost(input, maxTokens)); err != nil {
			return nil, err
		}
	}
	res, err := g.client.Generate(ctx, messages, temperature, maxTokens)
	if err != nil {
		return nil, err
	}
	if g.tracker != nil {
		if err := g.tracker.Add(g.client.Provider(), res.Model, operation, res.Usage, res.Cost); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func statsOf(res *llm.GenerateResult) Stats {
	return Stats{Usage: res.Usage, Cost: res.Cost, Model: res.Model}
}

// chapterContext is the gathered input shared by the per-chapter stages.
type chapterContext struct {
	project    *store.Project
	volume     *store.Volume
	chapter    *store.Chapter
	summary    string
	keyEvents  []string
	characters []*store.Character
	world      []*store.WorldItem
}

// gatherChapter loads a chapter with its volume, project, outline
// metadata, involved characters, and world items.
func (g *Generator) gatherChapter(ctx context.Context, chapterID int64) (*chapterContext, error) {
	ch, err := g.q.Chapter(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	project, err := g.q.Project(ctx, ch.ProjectID)
	if err != nil {
		return nil, err
	}
	var volume *store.Volume
	if ch.VolumeID != nil {
		if volume, err = g.q.Volume(ctx, *ch.VolumeID); err != nil {
			return nil, err
		}
	} else {
		volume = &store.Volume{ProjectID: ch.ProjectID, Ordinal: 1}
	}

	summary, events := parseChapterOutline(ch.Outline)
	if extra := decodeStringList(ch.KeyEvents); len(extra) > 0 {
		events = extra
	}

	characters, err := g.involvedCharacters(ctx, ch)
	if err != nil {
		return nil, err
	}
	world, err := g.q.WorldItems(ctx, ch.ProjectID)
	if err != nil {
		return nil, err
	}

	return &chapterContext{
		project:    project,
		volume:     volume,
		chapter:    ch,
		summary:    summary,
		keyEvents:  events,
		characters: characters,
		world:      world,
	}, nil
}

// involvedCharacters resolves the chapter's characters_involved names
// against the project roster. An empty list falls back to the full
// roster so early chapters without metadata still get sheets.
func (g *Generator) involvedCharacters(ctx context.Context, ch *store.Chapter) ([]*store.Character, error) {
	all, err := g.q.Characters(ctx, ch.ProjectID)
	if err != nil {
		return nil, err
	}
	names := decodeStringList(ch.CharactersInvolved)
	if len(names) == 0 {
		return all, nil
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[strings.TrimSpace(n)] = true
	}
	var out []*store.Character
	for _, c := range all {
		if wanted[c.Name] {
			out = append(out, c)
		}
	}
	return out, nil
}

// priorRecap renders a short summary-only recap of up to n prior
// chapters, cheaper than the compressor for stages that only need
// orientation.
func (g *Generator) priorRecap(ctx context.Context, projectID int64, ordinal, n int) (string, error) {
	prior, err := g.q.ChaptersBefore(ctx, projectID, ordinal)
	if err != nil {
		return "", err
	}
	if len(prior) > n {
		prior = prior[len(prior)-n:]
	}
	if len(prior) == 0 {
		return compress.NoPriorContext, nil
	}
	parts := make([]string, 0, len(prior))
	for _, ch := range prior {
		summary := "暂无概要"
		if ch.Summary != nil && *ch.Summary != "" {
			summary = *ch.Summary
		} else if s, _ := parseChapterOutline(ch.Outline); s != "" {
			summary = s
		}
		parts = append(parts, fmt.Sprintf("第%d章 %s: %s", ch.Ordinal, ch.Title, summary))
	}
	return strings.Join(parts, "\n"), nil
}

// parseChapterOutline splits the templated outline block written by the
// outline stage back into a summary and its key events.
func parseChapterOutline(outline string) (string, []string) {
	var (
		summary strings.Builder
		events  []string
		section string
	)
	for _, line := range strings.Split(outline, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "# 章节梗概"):
			section = "summary"
		case strings.HasPrefix(line, "# 关键事件"):
			section = "events"
		case strings.HasPrefix(line, "#"):
			section = ""
		case section == "summary" && line != "":
			summary.WriteString(line)
			summary.WriteByte('\n')
		case section == "events" && strings.HasPrefix(line, "-"):
			events = append(events, strings.TrimSpace(line[1:]))
		}
	}
	return strings.TrimSpace(summary.String()), events
}

func decodeStringList(raw string) []string {
	var out []string
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

// marshalCompact serializes v for a JSON column, with the column default
// shape on a nil value.
func marshalCompact(v any) string {
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return ""
	}
	return string(data)
}

func marshalIndent(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}
