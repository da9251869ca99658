package main

import (
	"github.com/spf13/cobra"

	"github.com/leew666/aiNovel/internal/workflow"
)

var (
	pipelineProject    int64
	pipelineFrom       int
	pipelineTo         int
	pipelineChapters   string
	pipelineRegenerate bool
	pipelineWorkers    int
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run steps 3-5 as a batch over selected chapters",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := theApp.orch.RunPipeline(cmd.Context(), pipelineProject, workflow.Plan{
			FromStep:     pipelineFrom,
			ToStep:       pipelineTo,
			ChapterRange: pipelineChapters,
			Regenerate:   pipelineRegenerate,
			MaxWorkers:   pipelineWorkers,
		})
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var pipelineStatusProject int64

var pipelineStatusCmd = &cobra.Command{
	Use:   "pipeline-status",
	Short: "Show which chapters still need detail outlines or bodies",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := theApp.orch.PipelineStatus(cmd.Context(), pipelineStatusProject)
		if err != nil {
			return err
		}
		return printJSON(status)
	},
}

func init() {
	pipelineCmd.Flags().Int64Var(&pipelineProject, "project", 0, "project id")
	pipelineCmd.Flags().IntVar(&pipelineFrom, "from", workflow.StepOutline, "first step, 3-5")
	pipelineCmd.Flags().IntVar(&pipelineTo, "to", workflow.StepWriting, "last step, 3-5")
	pipelineCmd.Flags().StringVar(&pipelineChapters, "chapters", "", "chapter selection, e.g. 1-10,15; empty means all")
	pipelineCmd.Flags().BoolVar(&pipelineRegenerate, "regenerate", false, "redo completed work")
	pipelineCmd.Flags().IntVar(&pipelineWorkers, "workers", 1, "parallel workers; 1 runs serially")

	pipelineStatusCmd.Flags().Int64Var(&pipelineStatusProject, "project", 0, "project id")
}
