package generate

import (
	"context"
	"fmt"

	"github.com/leew666/aiNovel/internal/compress"
	"github.com/leew666/aiNovel/internal/llm"
	"github.com/leew666/aiNovel/internal/prompt"
)

// Consistency audit sizing: a wider recap than the writer, smaller reply.
const (
	consistencyWindowSize  = 5
	consistencyTokenBudget = 700
)

// ConsistencyIssue is one detected conflict.
type ConsistencyIssue struct {
	Kind        string `json:"kind"`
	Severity    string `json:"severity"`
	Detail      string `json:"detail"`
	Suggestion  string `json:"suggestion"`
	Foreshadow  string `json:"foreshadow,omitempty"`
	SourceQuote string `json:"source_quote,omitempty"`
}

// ConsistencyResult is the audit envelope. The check never mutates the
// chapter body.
type ConsistencyResult struct {
	OverallRisk string             `json:"overall_risk"`
	Summary     string             `json:"summary"`
	Issues      []ConsistencyIssue `json:"issues"`
	Raw         string             `json:"raw"`
	ParseFailed bool               `json:"parse_failed"`
	Stats       Stats              `json:"stats"`
}

// Consistency audits a chapter body against the memory cards and recap.
// overrideText, when non-empty, is checked instead of the stored body
// (for pre-save validation of drafts) and nothing is persisted.
func (g *Generator) Consistency(ctx context.Context, chapterID int64, overrideText string, strict bool) (*ConsistencyResult, error) {
	cc, err := g.gatherChapter(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	content := overrideText
	if content == "" {
		content = cc.chapter.Content
	}
	if content == "" {
		return nil, fmt.Errorf("%w: chapter %d has no content to check", ErrInsufficientData, chapterID)
	}

	bundle, err := g.asm.BuildBundle(ctx, compress.BundleParams{
		ProjectID:      cc.chapter.ProjectID,
		CurrentOrdinal: cc.chapter.Ordinal,
		WindowSize:     consistencyWindowSize,
		TokenBudget:    consistencyTokenBudget,
		ScanText:       scanText(cc),
	})
	if err != nil {
		return nil, err
	}

	p := prompt.Consistency(prompt.ChapterArgs{
		Title:          cc.project.Name,
		VolumeTitle:    cc.volume.Title,
		ChapterOrder:   cc.chapter.Ordinal,
		ChapterTitle:   cc.chapter.Title,
		ChapterSummary: cc.summary,
		KeyEvents:      cc.keyEvents,
		Characters:     cc.characters,
		World:          cc.world,
		PriorContext:   bundle.Recap,
	}, content, joinHits(bundle.CharacterCards), joinHits(bundle.WorldCards), strict)
	res, err := g.call(ctx, "consistency_check",
		[]llm.Message{{Role: "user", Content: p}}, 0.2, 1800)
	if err != nil {
		return nil, err
	}

	out := &ConsistencyResult{Raw: res.Content, Stats: statsOf(res)}
	var report struct {
		OverallRisk string             `json:"overall_risk"`
		Summary     string             `json:"summary"`
		Issues      []ConsistencyIssue `json:"issues"`
	}
	if !decodeReply(res.Content, &report) {
		out.ParseFailed = true
		return out, nil
	}
	out.OverallRisk = report.OverallRisk
	if out.OverallRisk == "" {
		out.OverallRisk = "medium"
	}
	out.Summary = report.Summary
	out.Issues = report.Issues
	return out, nil
}
