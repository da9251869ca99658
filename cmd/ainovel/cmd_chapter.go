package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/leew666/aiNovel/internal/generate"
)

var detailChapter int64

var detailCmd = &cobra.Command{
	Use:   "detail",
	Short: "Generate one chapter's scene breakdown (step 4)",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := theApp.orch.DetailOutline(cmd.Context(), detailChapter)
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var (
	writeChapter    int64
	writeStyleGuide string
	writeAuthorNote string
	writeMinWords   int
	writeMaxWords   int
)

var writeCmd = &cobra.Command{
	Use:   "write",
	Short: "Write one chapter body (step 5)",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := theApp.orch.Write(cmd.Context(), writeChapter, generate.ChapterParams{
			StyleGuide:   writeStyleGuide,
			AuthorNote:   writeAuthorNote,
			WordCountMin: writeMinWords,
			WordCountMax: writeMaxWords,
		})
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var qualityChapter int64

var qualityCmd = &cobra.Command{
	Use:   "quality",
	Short: "Review one chapter across the editorial dimensions (stage 6)",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := theApp.orch.QualityCheck(cmd.Context(), qualityChapter)
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var qualityBatchProject int64

var qualityBatchCmd = &cobra.Command{
	Use:   "quality-batch",
	Short: "Review every written chapter in a project",
	RunE: func(cmd *cobra.Command, args []string) error {
		results, err := theApp.orch.BatchQualityCheck(cmd.Context(), qualityBatchProject)
		if err != nil {
			return err
		}
		return printJSON(results)
	},
}

var (
	consistencyChapter int64
	consistencyFile    string
	consistencyStrict  bool
)

var consistencyCmd = &cobra.Command{
	Use:   "consistency",
	Short: "Audit a chapter (or a draft file) against the story memory",
	RunE: func(cmd *cobra.Command, args []string) error {
		override := ""
		if consistencyFile != "" {
			data, err := os.ReadFile(consistencyFile)
			if err != nil {
				return err
			}
			override = string(data)
		}
		res, err := theApp.orch.CheckConsistency(cmd.Context(), consistencyChapter, override, consistencyStrict)
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var (
	rewriteChapter      int64
	rewriteInstruction  string
	rewriteScope        string
	rewriteStart        int
	rewriteEnd          int
	rewriteMode         string
	rewritePreservePlot bool
	rewriteSave         bool
)

var rewriteCmd = &cobra.Command{
	Use:   "rewrite",
	Short: "Rework a paragraph range or the whole chapter under an instruction",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := theApp.orch.Rewrite(cmd.Context(), rewriteChapter, generate.RewriteParams{
			Instruction:  rewriteInstruction,
			Scope:        rewriteScope,
			RangeStart:   rewriteStart,
			RangeEnd:     rewriteEnd,
			PreservePlot: rewritePreservePlot,
			Mode:         rewriteMode,
			Save:         rewriteSave,
		})
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var (
	rollbackChapter   int64
	rollbackHistoryID string
	rollbackSave      bool
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Restore a chapter body from its rewrite history",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := theApp.orch.Rollback(cmd.Context(), rollbackChapter, rollbackHistoryID, rollbackSave)
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

func init() {
	detailCmd.Flags().Int64Var(&detailChapter, "chapter", 0, "chapter id")

	writeCmd.Flags().Int64Var(&writeChapter, "chapter", 0, "chapter id")
	writeCmd.Flags().StringVar(&writeStyleGuide, "style-guide", "", "explicit style guide; default is the active profile")
	writeCmd.Flags().StringVar(&writeAuthorNote, "author-note", "", "extra instruction for this chapter")
	writeCmd.Flags().IntVar(&writeMinWords, "min-words", 0, "minimum length in characters")
	writeCmd.Flags().IntVar(&writeMaxWords, "max-words", 0, "maximum length in characters")

	qualityCmd.Flags().Int64Var(&qualityChapter, "chapter", 0, "chapter id")
	qualityBatchCmd.Flags().Int64Var(&qualityBatchProject, "project", 0, "project id")

	consistencyCmd.Flags().Int64Var(&consistencyChapter, "chapter", 0, "chapter id")
	consistencyCmd.Flags().StringVar(&consistencyFile, "file", "", "draft file to audit instead of the stored body")
	consistencyCmd.Flags().BoolVar(&consistencyStrict, "strict", false, "flag low-severity findings too")

	rewriteCmd.Flags().Int64Var(&rewriteChapter, "chapter", 0, "chapter id")
	rewriteCmd.Flags().StringVar(&rewriteInstruction, "instruction", "", "what to change")
	rewriteCmd.Flags().StringVar(&rewriteScope, "scope", "paragraph", "paragraph or chapter")
	rewriteCmd.Flags().IntVar(&rewriteStart, "start", 0, "first paragraph, 1-based")
	rewriteCmd.Flags().IntVar(&rewriteEnd, "end", 0, "last paragraph, inclusive")
	rewriteCmd.Flags().StringVar(&rewriteMode, "mode", "rewrite", "rewrite, polish, or expand")
	rewriteCmd.Flags().BoolVar(&rewritePreservePlot, "preserve-plot", true, "keep plot points intact")
	rewriteCmd.Flags().BoolVar(&rewriteSave, "save", false, "persist the result instead of previewing")

	rollbackCmd.Flags().Int64Var(&rollbackChapter, "chapter", 0, "chapter id")
	rollbackCmd.Flags().StringVar(&rollbackHistoryID, "history-id", "", "entry to restore; newest when omitted")
	rollbackCmd.Flags().BoolVar(&rollbackSave, "save", true, "persist the restored body")
}
