package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/leew666/aiNovel/internal/store"
)

// Default per-kind caps for a lorebook scan.
const (
	DefaultMaxWorld     = 8
	DefaultMaxCharacter = 5
)

// Hit is one matched lorebook entry with the keywords that fired.
type Hit struct {
	Name            string
	Content         string
	MatchedKeywords []string
	HitCount        int
}

// ScanResult carries the matched entries of both kinds.
type ScanResult struct {
	World      []Hit
	Characters []Hit
}

// Lorebook scans probe text against character and world keywords.
type Lorebook struct {
	q *store.Queries
}

// NewLorebook builds a lorebook over a query set.
func NewLorebook(q *store.Queries) *Lorebook {
	return &Lorebook{q: q}
}

// Scan lowercases the probe, matches each entry's keywords as substrings,
// and returns entries with at least one hit sorted by hit count descending,
// ties broken by insertion order. Entries with no configured keywords match
// on their name alone.
func (l *Lorebook) Scan(ctx context.Context, projectID int64, text string, maxWorld, maxCharacter int) (*ScanResult, error) {
	if maxWorld <= 0 {
		maxWorld = DefaultMaxWorld
	}
	if maxCharacter <= 0 {
		maxCharacter = DefaultMaxCharacter
	}
	probe := strings.ToLower(text)

	characters, err := l.q.Characters(ctx, projectID)
	if err != nil {
		return nil, err
	}
	worldItems, err := l.q.WorldItems(ctx, projectID)
	if err != nil {
		return nil, err
	}

	res := &ScanResult{}
	for _, c := range characters {
		if hit, ok := match(probe, c.Name, c.Keywords); ok {
			hit.Content = formatCharacterCard(c)
			res.Characters = append(res.Characters, hit)
		}
	}
	for _, w := range worldItems {
		if hit, ok := match(probe, w.Name, w.Keywords); ok {
			hit.Content = formatWorldCard(w)
			res.World = append(res.World, hit)
		}
	}

	sortHits(res.Characters)
	sortHits(res.World)
	if len(res.Characters) > maxCharacter {
		res.Characters = res.Characters[:maxCharacter]
	}
	if len(res.World) > maxWorld {
		res.World = res.World[:maxWorld]
	}
	return res, nil
}

// Defaults returns the top-N entries of each kind by insertion order,
// for bundle building when no scan text is available. Hit counts are zero
// because nothing was matched.
func (l *Lorebook) Defaults(ctx context.Context, projectID int64, maxWorld, maxCharacter int) (*ScanResult, error) {
	if maxWorld <= 0 {
		maxWorld = DefaultMaxWorld
	}
	if maxCharacter <= 0 {
		maxCharacter = DefaultMaxCharacter
	}

	characters, err := l.q.Characters(ctx, projectID)
	if err != nil {
		return nil, err
	}
	worldItems, err := l.q.WorldItems(ctx, projectID)
	if err != nil {
		return nil, err
	}

	res := &ScanResult{}
	for _, c := range characters {
		if len(res.Characters) == maxCharacter {
			break
		}
		res.Characters = append(res.Characters, Hit{Name: c.Name, Content: formatCharacterCard(c)})
	}
	for _, w := range worldItems {
		if len(res.World) == maxWorld {
			break
		}
		res.World = append(res.World, Hit{Name: w.Name, Content: formatWorldCard(w)})
	}
	return res, nil
}

// match counts how many of the entry's keywords appear in the probe.
func match(probe, name, keywordsJSON string) (Hit, bool) {
	keywords := decodeKeywords(keywordsJSON)
	if len(keywords) == 0 {
		keywords = []string{name}
	}
	var matched []string
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw != "" && strings.Contains(probe, strings.ToLower(kw)) {
			matched = append(matched, kw)
		}
	}
	if len(matched) == 0 {
		return Hit{}, false
	}
	return Hit{Name: name, MatchedKeywords: matched, HitCount: len(matched)}, true
}

// sortHits orders by hit count descending. The stable sort preserves
// insertion order among equal counts.
func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].HitCount > hits[j].HitCount
	})
}

func decodeKeywords(raw string) []string {
	var out []string
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

type characterMemory struct {
	Event      string `json:"event"`
	Content    string `json:"content"`
	Chapter    int    `json:"chapter,omitempty"`
	Importance string `json:"importance"`
}

// formatCharacterCard renders a character into the prompt-template payload:
// archetype, goals, volatile state, the top high-importance memories, and
// relationships.
func formatCharacterCard(c *store.Character) string {
	var b strings.Builder
	fmt.Fprintf(&b, "【%s】", c.Name)
	if c.Archetype != "" {
		fmt.Fprintf(&b, " 性格原型: %s", c.Archetype)
	}
	if c.Description != "" {
		fmt.Fprintf(&b, "\n背景: %s", c.Description)
	}
	if c.Goals != "" {
		fmt.Fprintf(&b, "\n目标: %s", c.Goals)
	}
	if c.Status != "" || c.Mood != "" {
		fmt.Fprintf(&b, "\n当前状态: %s", strings.TrimSpace(c.Status+" "+c.Mood))
	}
	if c.Catchphrases != "" {
		fmt.Fprintf(&b, "\n口头禅: %s", c.Catchphrases)
	}

	var memories []characterMemory
	if err := json.Unmarshal([]byte(c.Memories), &memories); err == nil {
		shown := 0
		for _, m := range memories {
			if m.Importance != "high" || shown >= 3 {
				continue
			}
			if shown == 0 {
				b.WriteString("\n重要记忆:")
			}
			text := m.Content
			if text == "" {
				text = m.Event
			}
			fmt.Fprintf(&b, "\n- %s", text)
			shown++
		}
	}

	var rels map[string]json.RawMessage
	if err := json.Unmarshal([]byte(c.Relationships), &rels); err == nil && len(rels) > 0 {
		names := make([]string, 0, len(rels))
		for name := range rels {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(&b, "\n人物关系: %s", strings.Join(names, "、"))
	}
	return b.String()
}

// formatWorldCard renders a world item: kind, name, description, properties.
func formatWorldCard(w *store.WorldItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "【%s·%s】", kindLabel(w.Kind), w.Name)
	if w.Description != "" {
		fmt.Fprintf(&b, " %s", w.Description)
	}
	var props map[string]any
	if err := json.Unmarshal([]byte(w.Properties), &props); err == nil && len(props) > 0 {
		keys := make([]string, 0, len(props))
		for k := range props {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "\n%s: %v", k, props[k])
		}
	}
	return b.String()
}

func kindLabel(kind string) string {
	switch kind {
	case store.WorldLocation:
		return "地点"
	case store.WorldOrganization:
		return "组织"
	case store.WorldItemKind:
		return "物品"
	case store.WorldRule:
		return "规则"
	default:
		return kind
	}
}
