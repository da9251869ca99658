package generate

import (
	"context"
	"fmt"

	"github.com/leew666/aiNovel/internal/llm"
	"github.com/leew666/aiNovel/internal/prompt"
)

// QualityIssue is one finding in the editorial report.
type QualityIssue struct {
	Severity    string `json:"severity"`
	Dimension   string `json:"dimension"`
	Location    string `json:"location"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion"`
}

// QualityReport is the parsed stage-6 reply.
type QualityReport struct {
	OverallScore float64            `json:"overall_score"`
	Scores       map[string]float64 `json:"scores"`
	Issues       []QualityIssue     `json:"issues"`
	Highlights   []string           `json:"highlights"`
}

// QualityResult is the stage-6 envelope.
type QualityResult struct {
	Report         *QualityReport `json:"report"`
	IssuesCount    int            `json:"issues_count"`
	CriticalIssues int            `json:"critical_issues"`
	Raw            string         `json:"raw"`
	ParseFailed    bool           `json:"parse_failed"`
	Stats          Stats          `json:"stats"`
}

// Quality reviews a written chapter across the editorial dimensions and
// stores the report on the chapter row. A reply that does not parse is
// stored raw so the finding is not lost.
func (g *Generator) Quality(ctx context.Context, chapterID int64) (*QualityResult, error) {
	cc, err := g.gatherChapter(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	if cc.chapter.Content == "" {
		return nil, fmt.Errorf("%w: chapter %d has no content to review", ErrInsufficientData, chapterID)
	}
	recap, err := g.priorRecap(ctx, cc.chapter.ProjectID, cc.chapter.Ordinal, 3)
	if err != nil {
		return nil, err
	}

	p := prompt.Quality(prompt.ChapterArgs{
		Title:          cc.project.Name,
		VolumeTitle:    cc.volume.Title,
		ChapterOrder:   cc.chapter.Ordinal,
		ChapterTitle:   cc.chapter.Title,
		ChapterSummary: cc.summary,
		KeyEvents:      cc.keyEvents,
		Characters:     cc.characters,
		World:          cc.world,
		PriorContext:   recap,
	}, cc.chapter.Content)
	res, err := g.call(ctx, "quality_check",
		[]llm.Message{{Role: "user", Content: p}}, 0.3, 3000)
	if err != nil {
		return nil, err
	}

	out := &QualityResult{Raw: res.Content, Stats: statsOf(res)}
	var report QualityReport
	if decodeReply(res.Content, &report) {
		out.Report = &report
		out.IssuesCount = len(report.Issues)
		for _, issue := range report.Issues {
			if issue.Severity == "critical" {
				out.CriticalIssues++
			}
		}
		if err := g.q.SetQualityReport(ctx, chapterID, marshalIndent(report)); err != nil {
			return nil, err
		}
		return out, nil
	}

	out.ParseFailed = true
	if err := g.q.SetQualityReport(ctx, chapterID, res.Content); err != nil {
		return nil, err
	}
	return out, nil
}
