package generate

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/leew666/aiNovel/internal/llm"
	"github.com/leew666/aiNovel/internal/prompt"
)

// Rewrite scopes.
const (
	ScopeParagraph = "paragraph"
	ScopeChapter   = "chapter"
)

var paragraphSplit = regexp.MustCompile(`\n{2,}`)

// RewriteParams selects what to rewrite and how.
type RewriteParams struct {
	Instruction  string
	Scope        string // paragraph | chapter; empty means paragraph
	RangeStart   int    // 1-based, paragraph scope only
	RangeEnd     int    // inclusive; zero means RangeStart
	PreservePlot bool
	Mode         string // rewrite | polish | expand
	Save         bool
}

// RewriteResult is the rewrite envelope.
type RewriteResult struct {
	ChapterID   int64  `json:"chapter_id"`
	Original    string `json:"original"`
	New         string `json:"new"`
	DiffSummary string `json:"diff_summary"`
	HistoryID   string `json:"history_id"`
	Saved       bool   `json:"saved"`
	Stats       Stats  `json:"stats"`
}

// RollbackResult reports a restored body.
type RollbackResult struct {
	ChapterID int64  `json:"chapter_id"`
	HistoryID string `json:"history_id"`
	Content   string `json:"content"`
	Saved     bool   `json:"saved"`
}

// historyRecord is one line of the per-chapter rewrite history file.
type historyRecord struct {
	HistoryID       string       `json:"history_id"`
	Timestamp       string       `json:"timestamp"`
	ChapterID       int64        `json:"chapter_id"`
	ChapterTitle    string       `json:"chapter_title"`
	Instruction     string       `json:"instruction"`
	RewriteMode     string       `json:"rewrite_mode"`
	Scope           historyScope `json:"scope"`
	OriginalContent string       `json:"original_content"`
	NewContent      string       `json:"new_content"`
}

type historyScope struct {
	Scope           string `json:"scope"`
	RangeStart      int    `json:"range_start,omitempty"`
	RangeEnd        int    `json:"range_end,omitempty"`
	ParagraphsTotal int    `json:"paragraphs_total,omitempty"`
}

// Rewrite reworks a paragraph range or the whole chapter under an
// instruction. Every call appends a history line regardless of save, so
// an unsaved preview is still recoverable by the caller.
func (g *Generator) Rewrite(ctx context.Context, chapterID int64, p RewriteParams) (*RewriteResult, error) {
	if strings.TrimSpace(p.Instruction) == "" {
		return nil, fmt.Errorf("generate: rewrite instruction is empty")
	}
	ch, err := g.q.Chapter(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	if ch.Content == "" {
		return nil, fmt.Errorf("%w: chapter %d has no content to rewrite", ErrInsufficientData, chapterID)
	}

	scope := strings.ToLower(strings.TrimSpace(p.Scope))
	if scope == "" {
		scope = ScopeParagraph
	}
	if scope != ScopeParagraph && scope != ScopeChapter {
		return nil, fmt.Errorf("generate: unsupported rewrite scope %q", p.Scope)
	}

	original := ch.Content
	var (
		newContent string
		scopeMeta  historyScope
		res        *llm.GenerateResult
	)
	if scope == ScopeChapter {
		res, err = g.rewriteText(ctx, original, p)
		if err != nil {
			return nil, err
		}
		newContent = strings.TrimSpace(res.Content)
		scopeMeta = historyScope{Scope: ScopeChapter}
	} else {
		paragraphs := splitParagraphs(original)
		if len(paragraphs) == 0 {
			return nil, fmt.Errorf("generate: chapter %d has no paragraphs", chapterID)
		}
		start := p.RangeStart
		if start == 0 {
			start = 1
		}
		end := p.RangeEnd
		if end == 0 {
			end = start
		}
		if start < 1 || end < start || end > len(paragraphs) {
			return nil, fmt.Errorf("generate: paragraph range %d-%d out of 1-%d", start, end, len(paragraphs))
		}

		selected := strings.Join(paragraphs[start-1:end], "\n\n")
		res, err = g.rewriteText(ctx, selected, p)
		if err != nil {
			return nil, err
		}
		replacement := splitParagraphs(strings.TrimSpace(res.Content))
		merged := make([]string, 0, len(paragraphs)-(end-start+1)+len(replacement))
		merged = append(merged, paragraphs[:start-1]...)
		merged = append(merged, replacement...)
		merged = append(merged, paragraphs[end:]...)
		newContent = strings.Join(merged, "\n\n")
		scopeMeta = historyScope{
			Scope:           ScopeParagraph,
			RangeStart:      start,
			RangeEnd:        end,
			ParagraphsTotal: len(paragraphs),
		}
	}
	if newContent == "" {
		return nil, fmt.Errorf("generate: rewrite produced an empty body")
	}

	historyID, err := g.appendHistory(historyRecord{
		ChapterID:       chapterID,
		ChapterTitle:    ch.Title,
		Instruction:     p.Instruction,
		RewriteMode:     p.Mode,
		Scope:           scopeMeta,
		OriginalContent: original,
		NewContent:      newContent,
	})
	if err != nil {
		return nil, err
	}
	if p.Save {
		if err := g.q.SetChapterContent(ctx, chapterID, newContent); err != nil {
			return nil, err
		}
	}

	return &RewriteResult{
		ChapterID:   chapterID,
		Original:    original,
		New:         newContent,
		DiffSummary: diffSummary(original, newContent),
		HistoryID:   historyID,
		Saved:       p.Save,
		Stats:       statsOf(res),
	}, nil
}

// Rollback restores the body recorded by a history entry, the newest one
// when historyID is empty.
func (g *Generator) Rollback(ctx context.Context, chapterID int64, historyID string, save bool) (*RollbackResult, error) {
	if _, err := g.q.Chapter(ctx, chapterID); err != nil {
		return nil, err
	}
	records, err := g.readHistory(chapterID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("generate: no rewrite history for chapter %d", chapterID)
	}

	var target *historyRecord
	if historyID == "" {
		target = &records[len(records)-1]
	} else {
		for i := range records {
			if records[i].HistoryID == historyID {
				target = &records[i]
				break
			}
		}
		if target == nil {
			return nil, fmt.Errorf("generate: history entry %q not found", historyID)
		}
	}
	if target.OriginalContent == "" {
		return nil, fmt.Errorf("generate: history entry %q has no original content", target.HistoryID)
	}

	if save {
		if err := g.q.SetChapterContentKeepSummary(ctx, chapterID, target.OriginalContent); err != nil {
			return nil, err
		}
	}
	return &RollbackResult{
		ChapterID: chapterID,
		HistoryID: target.HistoryID,
		Content:   target.OriginalContent,
		Saved:     save,
	}, nil
}

func (g *Generator) rewriteText(ctx context.Context, source string, p RewriteParams) (*llm.GenerateResult, error) {
	return g.call(ctx, "rewrite",
		[]llm.Message{{Role: "user", Content: prompt.Rewrite(source, p.Instruction, p.Mode, p.PreservePlot)}},
		0.5, 3000)
}

func (g *Generator) historyPath(chapterID int64) string {
	return filepath.Join(g.historyDir, fmt.Sprintf("chapter_%d_rewrite_history.jsonl", chapterID))
}

// appendHistory writes one JSONL record and returns its timestamp id,
// microsecond-resolution so ids stay unique within a file.
func (g *Generator) appendHistory(record historyRecord) (string, error) {
	if err := os.MkdirAll(g.historyDir, 0o755); err != nil {
		return "", fmt.Errorf("generate: create history dir: %w", err)
	}
	now := time.Now().UTC()
	record.HistoryID = now.Format("20060102150405") + fmt.Sprintf("%06d", now.Nanosecond()/1000)
	record.Timestamp = now.Format(time.RFC3339Nano)

	line, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("generate: marshal history record: %w", err)
	}
	f, err := os.OpenFile(g.historyPath(record.ChapterID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("generate: open history file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return "", fmt.Errorf("generate: append history: %w", err)
	}
	return record.HistoryID, nil
}

func (g *Generator) readHistory(chapterID int64) ([]historyRecord, error) {
	f, err := os.Open(g.historyPath(chapterID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("generate: open history file: %w", err)
	}
	defer f.Close()

	var records []historyRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var r historyRecord
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			continue
		}
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("generate: read history: %w", err)
	}
	return records, nil
}

func splitParagraphs(text string) []string {
	var out []string
	for _, p := range paragraphSplit.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// diffSummary reports the LCS similarity ratio and the length delta.
func diffSummary(original, rewritten string) string {
	a, b := []rune(original), []rune(rewritten)
	ratio := 0.0
	if len(a)+len(b) > 0 {
		ratio = float64(2*lcsLength(a, b)) / float64(len(a)+len(b))
	}
	return fmt.Sprintf("相似度: %.2f%%; 原长度: %d; 新长度: %d; 变化: %+d 字符",
		ratio*100, len(a), len(b), len(b)-len(a))
}

// lcsLength computes the longest-common-subsequence length with a
// two-row table, linear in memory over chapter-sized inputs.
func lcsLength(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
