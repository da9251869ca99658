package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var styleCmd = &cobra.Command{
	Use:   "style",
	Short: "Manage writing-style profiles",
}

var (
	styleAnalyzeProject  int64
	styleAnalyzeName     string
	styleAnalyzeFile     string
	styleAnalyzeActivate bool
)

var styleAnalyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Extract a style profile from a reference text file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if styleAnalyzeName == "" {
			return fmt.Errorf("--name is required")
		}
		source, err := os.ReadFile(styleAnalyzeFile)
		if err != nil {
			return err
		}
		res, err := theApp.analyzer.AnalyzeAndSave(cmd.Context(),
			styleAnalyzeProject, styleAnalyzeName, string(source), styleAnalyzeActivate)
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var styleListProject int64

var styleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a project's style profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		profiles, err := theApp.store.StyleProfiles(cmd.Context(), styleListProject)
		if err != nil {
			return err
		}
		type row struct {
			ID     int64  `json:"id"`
			Name   string `json:"name"`
			Active bool   `json:"active"`
			Guide  string `json:"style_guide"`
		}
		rows := make([]row, len(profiles))
		for i, p := range profiles {
			rows[i] = row{ID: p.ID, Name: p.Name, Active: p.IsActive, Guide: p.StyleGuide}
		}
		return printJSON(rows)
	},
}

var (
	styleActivateProject int64
	styleActivateID      int64
)

var styleActivateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Make one profile the project's active style",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := theApp.store.ActivateStyleProfile(cmd.Context(), styleActivateProject, styleActivateID); err != nil {
			return err
		}
		return printJSON(map[string]any{"profile_id": styleActivateID, "active": true})
	},
}

var styleDeactivateProject int64

var styleDeactivateCmd = &cobra.Command{
	Use:   "deactivate",
	Short: "Turn styling off for a project",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := theApp.store.DeactivateStyleProfiles(cmd.Context(), styleDeactivateProject); err != nil {
			return err
		}
		return printJSON(map[string]any{"project_id": styleDeactivateProject, "active_profile": nil})
	},
}

var styleDeleteID int64

var styleDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete one style profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := theApp.store.DeleteStyleProfile(cmd.Context(), styleDeleteID); err != nil {
			return err
		}
		return printJSON(map[string]any{"profile_id": styleDeleteID, "deleted": true})
	},
}

func init() {
	styleAnalyzeCmd.Flags().Int64Var(&styleAnalyzeProject, "project", 0, "project id")
	styleAnalyzeCmd.Flags().StringVar(&styleAnalyzeName, "name", "", "profile name, e.g. 金庸武侠风")
	styleAnalyzeCmd.Flags().StringVar(&styleAnalyzeFile, "file", "", "reference text file, 100+ characters")
	styleAnalyzeCmd.Flags().BoolVar(&styleAnalyzeActivate, "activate", true, "make this the active profile")

	styleListCmd.Flags().Int64Var(&styleListProject, "project", 0, "project id")
	styleActivateCmd.Flags().Int64Var(&styleActivateProject, "project", 0, "project id")
	styleActivateCmd.Flags().Int64Var(&styleActivateID, "id", 0, "profile id")
	styleDeactivateCmd.Flags().Int64Var(&styleDeactivateProject, "project", 0, "project id")
	styleDeleteCmd.Flags().Int64Var(&styleDeleteID, "id", 0, "profile id")

	styleCmd.AddCommand(styleAnalyzeCmd, styleListCmd, styleActivateCmd, styleDeactivateCmd, styleDeleteCmd)
}
