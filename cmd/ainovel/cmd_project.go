package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	initName  string
	initGenre string
	initTags  string
	initDesc  string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a new novel project",
	RunE: func(cmd *cobra.Command, args []string) error {
		if initName == "" {
			return fmt.Errorf("--name is required")
		}
		id, err := theApp.store.CreateProject(cmd.Context(), initName, initGenre, initTags, initDesc)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"project_id": id, "name": initName})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		projects, err := theApp.store.Projects(cmd.Context())
		if err != nil {
			return err
		}
		type row struct {
			ID    int64  `json:"id"`
			Name  string `json:"name"`
			Genre string `json:"genre"`
			Stage string `json:"stage"`
			Step  int    `json:"current_step"`
		}
		rows := make([]row, len(projects))
		for i, p := range projects {
			rows[i] = row{ID: p.ID, Name: p.Name, Genre: p.Genre, Stage: p.Stage, Step: p.CurrentStep}
		}
		return printJSON(rows)
	},
}

var statusProject int64

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a project's workflow position",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := theApp.orch.Status(cmd.Context(), statusProject)
		if err != nil {
			return err
		}
		return printJSON(status)
	},
}

var completeProject int64

var completeCmd = &cobra.Command{
	Use:   "complete",
	Short: "Mark a project finished",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := theApp.orch.MarkComplete(cmd.Context(), completeProject); err != nil {
			return err
		}
		return printJSON(map[string]any{"project_id": completeProject, "completed": true})
	},
}

var (
	deleteProject int64
	deleteYes     bool
)

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a project and everything under it",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !deleteYes {
			return fmt.Errorf("refusing to delete without --yes")
		}
		if err := theApp.store.DeleteProject(cmd.Context(), deleteProject); err != nil {
			return err
		}
		return printJSON(map[string]any{"project_id": deleteProject, "deleted": true})
	},
}

var (
	planProject int64
	planIdea    string
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Generate the planning document (stage 1)",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := theApp.orch.Plan(cmd.Context(), planProject, planIdea)
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var (
	updatePlanProject int64
	updatePlanFile    string
)

var updatePlanCmd = &cobra.Command{
	Use:   "update-plan",
	Short: "Replace the planning document from a file",
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := os.ReadFile(updatePlanFile)
		if err != nil {
			return err
		}
		if err := theApp.orch.UpdatePlan(cmd.Context(), updatePlanProject, string(text)); err != nil {
			return err
		}
		return printJSON(map[string]any{"project_id": updatePlanProject, "updated": true})
	},
}

var worldProject int64

var worldCmd = &cobra.Command{
	Use:   "world",
	Short: "Generate characters and world items (stage 2)",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := theApp.orch.BuildWorld(cmd.Context(), worldProject)
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var (
	updateWorldProject int64
	updateWorldFile    string
)

var updateWorldCmd = &cobra.Command{
	Use:   "update-world",
	Short: "Replace characters and world items from an edited JSON file",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(updateWorldFile)
		if err != nil {
			return err
		}
		if err := theApp.orch.UpdateWorld(cmd.Context(), updateWorldProject, string(raw)); err != nil {
			return err
		}
		return printJSON(map[string]any{"project_id": updateWorldProject, "updated": true})
	},
}

var (
	spoilerProject int64
	spoilerFile    string
)

var spoilerCmd = &cobra.Command{
	Use:   "spoiler",
	Short: "Store author-only ending notes (never rendered into prompts)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := os.ReadFile(spoilerFile)
		if err != nil {
			return err
		}
		if err := theApp.store.SetSpoilerConfig(cmd.Context(), spoilerProject, string(cfg)); err != nil {
			return err
		}
		return printJSON(map[string]any{"project_id": spoilerProject, "updated": true})
	},
}

var outlineProject int64

var outlineCmd = &cobra.Command{
	Use:   "outline",
	Short: "Generate the volume and chapter tree (stage 3)",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := theApp.orch.BuildOutline(cmd.Context(), outlineProject)
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

func init() {
	initCmd.Flags().StringVar(&initName, "name", "", "project name")
	initCmd.Flags().StringVar(&initGenre, "genre", "", "genre, e.g. 玄幻")
	initCmd.Flags().StringVar(&initTags, "tags", "", "comma-separated plot tags")
	initCmd.Flags().StringVar(&initDesc, "desc", "", "one-line seed description")

	statusCmd.Flags().Int64Var(&statusProject, "project", 0, "project id")
	completeCmd.Flags().Int64Var(&completeProject, "project", 0, "project id")
	deleteCmd.Flags().Int64Var(&deleteProject, "project", 0, "project id")
	deleteCmd.Flags().BoolVar(&deleteYes, "yes", false, "confirm deletion")

	planCmd.Flags().Int64Var(&planProject, "project", 0, "project id")
	planCmd.Flags().StringVar(&planIdea, "idea", "", "seed idea; falls back to the project description")
	updatePlanCmd.Flags().Int64Var(&updatePlanProject, "project", 0, "project id")
	updatePlanCmd.Flags().StringVar(&updatePlanFile, "file", "", "path to the replacement text")

	worldCmd.Flags().Int64Var(&worldProject, "project", 0, "project id")
	updateWorldCmd.Flags().Int64Var(&updateWorldProject, "project", 0, "project id")
	updateWorldCmd.Flags().StringVar(&updateWorldFile, "file", "", "path to the edited JSON")

	spoilerCmd.Flags().Int64Var(&spoilerProject, "project", 0, "project id")
	spoilerCmd.Flags().StringVar(&spoilerFile, "file", "", "path to the notes file")

	outlineCmd.Flags().Int64Var(&outlineProject, "project", 0, "project id")
}
