// Package compress builds the recap side of context assembly: prior
// chapters are summarized into distance-tiered fragments under a token
// budget, with summaries cached on the chapter row.
package compress

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/leew666/aiNovel/internal/llm"
	"github.com/leew666/aiNovel/internal/logging"
	"github.com/leew666/aiNovel/internal/prompt"
	"github.com/leew666/aiNovel/internal/store"
)

// NoPriorContext is returned for opening chapters.
const NoPriorContext = "本章为开篇，无前情"

// Tier is one compression level: the target summary length in characters
// and the generation cap for producing it.
type Tier struct {
	Level       string
	TargetChars int
	MaxTokens   int
}

var (
	TierDetailed = Tier{Level: "detailed", TargetChars: 200, MaxTokens: 300}
	TierBrief    = Tier{Level: "brief", TargetChars: 100, MaxTokens: 150}
	TierMinimal  = Tier{Level: "minimal", TargetChars: 50, MaxTokens: 80}
)

const (
	nearThreshold = 3
	midThreshold  = 10
)

// TierForDistance maps chapter distance to a tier: detailed within 3,
// brief within 10, minimal beyond.
func TierForDistance(distance int) Tier {
	switch {
	case distance <= nearThreshold:
		return TierDetailed
	case distance <= midThreshold:
		return TierBrief
	default:
		return TierMinimal
	}
}

// Compressor summarizes chapters through the provider, caching results in
// chapter.summary.
type Compressor struct {
	q      *store.Queries
	client llm.Client
}

// NewCompressor builds a compressor over a query set and provider client.
func NewCompressor(q *store.Queries, client llm.Client) *Compressor {
	return &Compressor{q: q, client: client}
}

// BuildRecap assembles the recap for the chapter at currentOrdinal. Prior
// chapters inside the window spend a shared character budget nearest
// first, then fragments are emitted in reading order.
func (c *Compressor) BuildRecap(ctx context.Context, projectID int64, currentOrdinal, windowSize, tokenBudget int) (string, error) {
	if currentOrdinal <= 1 {
		return NoPriorContext, nil
	}
	if windowSize <= 0 {
		windowSize = 10
	}

	prior, err := c.q.ChaptersBefore(ctx, projectID, currentOrdinal)
	if err != nil {
		return "", err
	}
	start := currentOrdinal - windowSize
	var candidates []*store.Chapter
	for _, ch := range prior {
		if ch.Ordinal >= start && ch.Content != "" {
			candidates = append(candidates, ch)
		}
	}
	if len(candidates) == 0 {
		return NoPriorContext, nil
	}

	// Rough calibration for Chinese-heavy prose: one token ≈ 1.5 chars.
	remaining := tokenBudget * 3 / 2

	type fragment struct {
		ordinal int
		text    string
	}
	var fragments []fragment

	// Nearest chapters claim the budget first.
	for i := len(candidates) - 1; i >= 0 && remaining > 0; i-- {
		ch := candidates[i]
		tier := TierForDistance(currentOrdinal - ch.Ordinal)
		if remaining < tier.TargetChars {
			if remaining < TierMinimal.TargetChars {
				break
			}
			tier = TierMinimal
		}

		text := c.getOrCompress(ctx, ch, tier)
		if runeLen(text) > remaining {
			text = truncateRunes(text, remaining) + "…"
		}
		fragments = append(fragments, fragment{
			ordinal: ch.Ordinal,
			text:    fmt.Sprintf("第%d章 %s：%s", ch.Ordinal, ch.Title, text),
		})
		remaining -= runeLen(text)
	}

	sort.Slice(fragments, func(i, j int) bool { return fragments[i].ordinal < fragments[j].ordinal })
	parts := make([]string, len(fragments))
	for i, f := range fragments {
		parts[i] = f.text
	}
	return strings.Join(parts, "\n\n"), nil
}

// CompressAndCache returns the chapter's summary, computing and persisting
// a detailed-tier one when missing. Bodies at or under the tier target are
// stored verbatim without a model call.
func (c *Compressor) CompressAndCache(ctx context.Context, chapterID int64) (string, error) {
	ch, err := c.q.Chapter(ctx, chapterID)
	if err != nil {
		return "", err
	}
	if ch.Summary != nil && *ch.Summary != "" {
		return *ch.Summary, nil
	}
	summary := c.compressSingle(ctx, ch.Content, TierDetailed)
	if err := c.q.SetChapterSummary(ctx, chapterID, summary); err != nil {
		return "", err
	}
	return summary, nil
}

// getOrCompress prefers the cached summary: within 1.5× of the tier target
// it is used whole, longer ones are clipped, and only a cache miss costs a
// model call.
func (c *Compressor) getOrCompress(ctx context.Context, ch *store.Chapter, tier Tier) string {
	if ch.Summary != nil && *ch.Summary != "" {
		cached := *ch.Summary
		if runeLen(cached) <= tier.TargetChars*3/2 {
			return cached
		}
		return truncateRunes(cached, tier.TargetChars) + "…"
	}
	return c.compressSingle(ctx, ch.Content, tier)
}

// compressSingle produces one summary through the provider, degrading to a
// hard truncation when the call fails.
func (c *Compressor) compressSingle(ctx context.Context, content string, tier Tier) string {
	if runeLen(content) <= tier.TargetChars {
		return content
	}
	messages := []llm.Message{{
		Role:    "user",
		Content: prompt.Compression(tier.Level, content, tier.TargetChars),
	}}
	res, err := c.client.Generate(ctx, messages, 0.3, tier.MaxTokens)
	if err != nil {
		logging.Named("compress").Warnw("compression call failed, truncating", "error", err)
		return truncateRunes(content, tier.TargetChars) + "…"
	}
	return strings.TrimSpace(res.Content)
}

func runeLen(s string) int {
	return len([]rune(s))
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
