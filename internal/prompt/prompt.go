// Package prompt renders the generation templates for every pipeline
// stage. Builders return the full user-prompt text; templates carry opaque
// {slot} markers filled by a string replacer.
package prompt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/leew666/aiNovel/internal/store"
)

// Fallback slot values when a caller has nothing to inject.
const (
	noPriorContext    = "本章为开篇，无前情"
	defaultStyleGuide = "采用网络小说常见风格，节奏紧凑，对话生动"
	defaultAuthorNote = "无特殊指示"
	noWorldInfo       = "暂无世界观设定"
	noCharacterInfo   = "暂无角色设定"
	noMemoryCards     = "暂无角色记忆卡"
	noWorldCards      = "暂无世界观卡片"
	noArcCards        = "暂无伏笔线索"
)

func render(template string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func yesNo(v bool) string {
	if v {
		return "是"
	}
	return "否"
}

// Planning renders the stage-1 blueprint prompt. genreContext is an
// optional block naming the chosen genre and plot tags.
func Planning(initialIdea, genreContext string) string {
	block := ""
	if strings.TrimSpace(genreContext) != "" {
		block = "\n## 用户选定的类型与情节方向\n" + genreContext + "\n"
	}
	return render(planningTemplate, map[string]string{
		"initial_idea":  initialIdea,
		"genre_context": block,
	})
}

// WorldBuilding renders the stage-2 prompt over the planning blueprint.
func WorldBuilding(planningContent string) string {
	return render(worldBuildingTemplate, map[string]string{
		"planning_content": planningContent,
	})
}

// Outline renders the stage-3 prompt.
func Outline(title, description, author string, world []*store.WorldItem, characters []*store.Character) string {
	return render(outlineTemplate, map[string]string{
		"title":          title,
		"description":    description,
		"author":         author,
		"world_info":     FormatWorldInfo(world),
		"character_info": FormatCharacterInfo(characters),
	})
}

// ChapterArgs carries the shared slots of the per-chapter prompts.
type ChapterArgs struct {
	Title          string
	VolumeTitle    string
	ChapterOrder   int
	ChapterTitle   string
	ChapterSummary string
	KeyEvents      []string
	Characters     []*store.Character
	World          []*store.WorldItem
	PriorContext   string
}

func (a ChapterArgs) base() map[string]string {
	return map[string]string{
		"title":            a.Title,
		"volume_title":     a.VolumeTitle,
		"chapter_order":    strconv.Itoa(a.ChapterOrder),
		"chapter_title":    a.ChapterTitle,
		"chapter_summary":  orDefault(a.ChapterSummary, "暂无梗概"),
		"key_events":       bulletList(a.KeyEvents),
		"character_info":   FormatCharacterInfo(a.Characters),
		"world_info":       FormatWorldInfo(a.World),
		"previous_context": orDefault(a.PriorContext, noPriorContext),
	}
}

// DetailOutline renders the stage-4 scene breakdown prompt.
func DetailOutline(a ChapterArgs) string {
	return render(detailOutlineTemplate, a.base())
}

// Chapter renders the stage-5 writing prompt. characterCards and worldCards
// are the lorebook payloads, arcCards the retrieved foreshadowing lines;
// styleGuide comes from the active style profile.
func Chapter(a ChapterArgs, characterCards, worldCards, arcCards, styleGuide, authorsNote string, wordCountMin, wordCountMax int) string {
	vars := a.base()
	vars["character_memory_cards"] = orDefault(characterCards, noMemoryCards)
	vars["world_memory_cards"] = orDefault(worldCards, noWorldCards)
	vars["plot_arc_cards"] = orDefault(arcCards, noArcCards)
	vars["style_guide"] = orDefault(styleGuide, defaultStyleGuide)
	vars["authors_note"] = orDefault(authorsNote, defaultAuthorNote)
	vars["word_count_min"] = strconv.Itoa(wordCountMin)
	vars["word_count_max"] = strconv.Itoa(wordCountMax)
	return render(chapterTemplate, vars)
}

// Consistency renders the audit prompt over a written chapter.
func Consistency(a ChapterArgs, chapterContent, characterCards, worldCards string, strict bool) string {
	vars := a.base()
	vars["chapter_content"] = chapterContent
	vars["character_memory_cards"] = orDefault(characterCards, noMemoryCards)
	vars["world_memory_cards"] = orDefault(worldCards, noWorldCards)
	vars["strict_mode"] = yesNo(strict)
	return render(consistencyTemplate, vars)
}

// Quality renders the stage-6 editorial review prompt.
func Quality(a ChapterArgs, chapterContent string) string {
	vars := a.base()
	vars["chapter_content"] = chapterContent
	return render(qualityTemplate, vars)
}

// Rewrite modes.
const (
	ModeRewrite = "rewrite"
	ModePolish  = "polish"
	ModeExpand  = "expand"
)

// Rewrite renders the editing prompt for one of the rewrite modes. Unknown
// modes fall back to plain rewrite.
func Rewrite(sourceContent, instruction, mode string, preservePlot bool) string {
	mode = strings.ToLower(strings.TrimSpace(mode))
	template := rewriteTemplate
	switch mode {
	case ModePolish:
		template = polishTemplate
	case ModeExpand:
		template = expandTemplate
	case ModeRewrite, "":
		mode = ModeRewrite
	default:
		mode = ModeRewrite
	}
	return render(template, map[string]string{
		"rewrite_mode":   mode,
		"instruction":    instruction,
		"preserve_plot":  yesNo(preservePlot),
		"source_content": sourceContent,
	})
}

// StyleAnalysis renders the style extraction prompt over a reference text.
func StyleAnalysis(sourceText string) string {
	return render(styleAnalysisTemplate, map[string]string{
		"source_text": sourceText,
	})
}

// Compression renders the tiered summary prompt. Unknown levels get the
// brief template.
func Compression(level, content string, targetWords int) string {
	template := compressionBriefTemplate
	switch level {
	case "detailed":
		template = compressionDetailedTemplate
	case "minimal":
		template = compressionMinimalTemplate
	}
	return render(template, map[string]string{
		"content":      content,
		"target_words": strconv.Itoa(targetWords),
	})
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return "- 无"
	}
	var b strings.Builder
	for i, it := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(it)
	}
	return b.String()
}

// FormatWorldInfo renders world items into the template section.
func FormatWorldInfo(items []*store.WorldItem) string {
	if len(items) == 0 {
		return noWorldInfo
	}
	sections := make([]string, 0, len(items))
	for _, w := range items {
		sections = append(sections, fmt.Sprintf("### %s - %s\n%s", w.Kind, w.Name, w.Description))
	}
	return strings.Join(sections, "\n\n")
}

// FormatCharacterInfo renders character sheets into the template section:
// archetype, background, rated traits, and the volatile state fields.
func FormatCharacterInfo(characters []*store.Character) string {
	if len(characters) == 0 {
		return noCharacterInfo
	}
	sections := make([]string, 0, len(characters))
	for _, c := range characters {
		var b strings.Builder
		fmt.Fprintf(&b, "### %s (%s)\n", c.Name, orDefault(c.Archetype, "未知"))
		fmt.Fprintf(&b, "**背景**: %s\n", c.Description)
		fmt.Fprintf(&b, "**性格特征**: %s", formatTraits(c.Traits))
		if c.Goals != "" {
			fmt.Fprintf(&b, "\n**当前目标**: %s", c.Goals)
		}
		if c.Status != "" {
			fmt.Fprintf(&b, "\n**当前状态**: %s", c.Status)
		}
		if c.Mood != "" {
			fmt.Fprintf(&b, "\n**当前心情**: %s", c.Mood)
		}
		if c.Catchphrases != "" {
			fmt.Fprintf(&b, "\n**口头禅**: %s", c.Catchphrases)
		}
		if memories := highImportanceMemories(c.Memories, 3); len(memories) > 0 {
			fmt.Fprintf(&b, "\n**重要经历**: %s", strings.Join(memories, "; "))
		}
		sections = append(sections, b.String())
	}
	return strings.Join(sections, "\n\n")
}

func formatTraits(raw string) string {
	var traits map[string]int
	if err := json.Unmarshal([]byte(raw), &traits); err != nil || len(traits) == 0 {
		return "未设定"
	}
	keys := make([]string, 0, len(traits))
	for k := range traits {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %d/10", k, traits[k]))
	}
	return strings.Join(parts, ", ")
}

func highImportanceMemories(raw string, limit int) []string {
	var memories []struct {
		Event      string `json:"event"`
		Content    string `json:"content"`
		Importance string `json:"importance"`
	}
	if err := json.Unmarshal([]byte(raw), &memories); err != nil {
		return nil
	}
	var out []string
	for _, m := range memories {
		if m.Importance != "high" {
			continue
		}
		text := m.Content
		if text == "" {
			text = m.Event
		}
		out = append(out, text)
		if len(out) == limit {
			break
		}
	}
	return out
}
