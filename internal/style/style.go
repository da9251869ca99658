// Package style extracts reusable writing-style features from reference
// prose and turns them into guide text the chapter prompt can carry.
package style

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/leew666/aiNovel/internal/llm"
	"github.com/leew666/aiNovel/internal/logging"
	"github.com/leew666/aiNovel/internal/prompt"
	"github.com/leew666/aiNovel/internal/store"
)

// ErrSourceTooShort rejects reference texts under 100 characters, too
// little prose for a stable feature extraction.
var ErrSourceTooShort = errors.New("style: source text too short, need at least 100 characters")

// DefaultGuide is used when a feature set carries nothing usable.
const DefaultGuide = "采用网络小说常见风格，节奏紧凑，对话生动"

const minSourceChars = 100

// Features is the structured style profile the analysis prompt asks for.
type Features struct {
	SentencePatterns     []string `json:"sentence_patterns"`
	VocabularyStyle      string   `json:"vocabulary_style"`
	NarrativePerspective string   `json:"narrative_perspective"`
	Pacing               string   `json:"pacing"`
	DialogueStyle        string   `json:"dialogue_style"`
	DescriptionDensity   string   `json:"description_density"`
	Tone                 string   `json:"tone"`
	SpecialTechniques    []string `json:"special_techniques"`
	Summary              string   `json:"summary"`
}

// AnalysisResult carries the extracted features and call accounting.
type AnalysisResult struct {
	Features Features  `json:"features"`
	Usage    llm.Usage `json:"usage"`
	Cost     float64   `json:"cost"`
	Model    string    `json:"model"`
}

// ProfileResult reports a saved style profile.
type ProfileResult struct {
	ProfileID  int64    `json:"profile_id"`
	Name       string   `json:"name"`
	Features   Features `json:"features"`
	StyleGuide string   `json:"style_guide"`
	Usage      llm.Usage `json:"usage"`
	Cost       float64   `json:"cost"`
}

// Analyzer runs style extraction through the provider. tracker may be
// nil to disable budget gating.
type Analyzer struct {
	q       *store.Queries
	client  llm.Client
	tracker *llm.CostTracker
}

// NewAnalyzer builds an analyzer over a query set and provider client.
func NewAnalyzer(q *store.Queries, client llm.Client, tracker *llm.CostTracker) *Analyzer {
	return &Analyzer{q: q, client: client, tracker: tracker}
}

// Analyze extracts features from a reference text. Unlike the workflow
// generators, an unparsable reply is an error here: there is no raw-text
// artifact worth persisting for a style profile.
func (a *Analyzer) Analyze(ctx context.Context, sourceText string) (*AnalysisResult, error) {
	if len([]rune(strings.TrimSpace(sourceText))) < minSourceChars {
		return nil, ErrSourceTooShort
	}

	p := prompt.StyleAnalysis(sourceText)
	if a.tracker != nil {
		if err := a.tracker.CheckBudget(a.client.EstimateCost(a.client.CountTokens(p), 2000)); err != nil {
			return nil, err
		}
	}
	logging.Named("style").Infow("analyzing reference text", "chars", len([]rune(sourceText)))

	res, err := a.client.Generate(ctx,
		[]llm.Message{{Role: "user", Content: p}}, 0.3, 2000)
	if err != nil {
		return nil, err
	}
	if a.tracker != nil {
		if err := a.tracker.Add(a.client.Provider(), res.Model, "style_analysis", res.Usage, res.Cost); err != nil {
			return nil, err
		}
	}

	features, err := parseFeatures(res.Content)
	if err != nil {
		return nil, err
	}
	return &AnalysisResult{
		Features: features,
		Usage:    res.Usage,
		Cost:     res.Cost,
		Model:    res.Model,
	}, nil
}

// AnalyzeAndSave extracts features and stores them as a named profile,
// optionally activating it (which deactivates every sibling).
func (a *Analyzer) AnalyzeAndSave(ctx context.Context, projectID int64, name, sourceText string, setActive bool) (*ProfileResult, error) {
	res, err := a.Analyze(ctx, sourceText)
	if err != nil {
		return nil, err
	}

	guide := FeaturesToGuide(res.Features)
	featuresJSON, err := json.Marshal(res.Features)
	if err != nil {
		return nil, fmt.Errorf("style: marshal features: %w", err)
	}
	id, err := a.q.CreateStyleProfile(ctx, &store.StyleProfile{
		ProjectID:    projectID,
		Name:         name,
		SourceSample: sourceText,
		Features:     string(featuresJSON),
		StyleGuide:   guide,
	})
	if err != nil {
		return nil, err
	}
	if setActive {
		if err := a.q.ActivateStyleProfile(ctx, projectID, id); err != nil {
			return nil, err
		}
	}
	logging.Named("style").Infow("style profile saved",
		"profile_id", id, "name", name, "active", setActive)

	return &ProfileResult{
		ProfileID:  id,
		Name:       name,
		Features:   res.Features,
		StyleGuide: guide,
		Usage:      res.Usage,
		Cost:       res.Cost,
	}, nil
}

// FeaturesToGuide flattens a feature set into guide lines the chapter
// prompt injects verbatim.
func FeaturesToGuide(f Features) string {
	var lines []string
	if f.Summary != "" {
		lines = append(lines, "【总体风格】"+f.Summary)
	}
	if len(f.SentencePatterns) > 0 {
		lines = append(lines, "【句式特征】"+strings.Join(f.SentencePatterns, "；"))
	}
	if f.VocabularyStyle != "" {
		lines = append(lines, "【词汇风格】"+f.VocabularyStyle)
	}
	if f.NarrativePerspective != "" {
		lines = append(lines, "【叙事视角】"+f.NarrativePerspective)
	}
	if f.Pacing != "" {
		lines = append(lines, "【节奏控制】"+f.Pacing)
	}
	if f.DialogueStyle != "" {
		lines = append(lines, "【对话风格】"+f.DialogueStyle)
	}
	if f.DescriptionDensity != "" {
		lines = append(lines, "【描写密度】"+f.DescriptionDensity)
	}
	if f.Tone != "" {
		lines = append(lines, "【情感基调】"+f.Tone)
	}
	if len(f.SpecialTechniques) > 0 {
		lines = append(lines, "【特色技法】"+strings.Join(f.SpecialTechniques, "；"))
	}
	if len(lines) == 0 {
		return DefaultGuide
	}
	return strings.Join(lines, "\n")
}

// ActiveGuide loads the project's active profile guide, empty when the
// project has none. A stored guide wins; otherwise the guide is rebuilt
// from the stored features.
func ActiveGuide(ctx context.Context, q *store.Queries, projectID int64) (string, error) {
	profile, err := q.ActiveStyleProfile(ctx, projectID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return profileGuide(profile), nil
}

// GuideByID loads one profile's guide regardless of activation.
func GuideByID(ctx context.Context, q *store.Queries, profileID int64) (string, error) {
	profile, err := q.StyleProfile(ctx, profileID)
	if err != nil {
		return "", err
	}
	return profileGuide(profile), nil
}

func profileGuide(p *store.StyleProfile) string {
	if p.StyleGuide != "" {
		return p.StyleGuide
	}
	var f Features
	if err := json.Unmarshal([]byte(p.Features), &f); err != nil {
		return ""
	}
	if guide := FeaturesToGuide(f); guide != DefaultGuide {
		return guide
	}
	return ""
}

var (
	fencedJSON = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")
	looseJSON  = regexp.MustCompile(`(?s)\{.*\}`)
)

func parseFeatures(content string) (Features, error) {
	var raw string
	if m := fencedJSON.FindStringSubmatch(content); m != nil {
		raw = m[1]
	} else if m := looseJSON.FindString(content); m != "" {
		raw = m
	} else {
		return Features{}, fmt.Errorf("style: no JSON object in reply")
	}
	var f Features
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return Features{}, fmt.Errorf("style: decode features: %w", err)
	}
	return f, nil
}
