package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leew666/aiNovel/internal/memory"
)

var arcCmd = &cobra.Command{
	Use:   "arc",
	Short: "Manage plot arcs (foreshadowing threads)",
}

var (
	arcPlantProject     int64
	arcPlantTitle       string
	arcPlantDescription string
	arcPlantImportance  string
	arcPlantChapter     int
	arcPlantKeywords    string
	arcPlantCharacters  string
)

var arcPlantCmd = &cobra.Command{
	Use:   "plant",
	Short: "Plant a new arc at a chapter",
	RunE: func(cmd *cobra.Command, args []string) error {
		if arcPlantTitle == "" {
			return fmt.Errorf("--title is required")
		}
		tracker := memory.NewTracker(theApp.store.Queries)
		id, err := tracker.Plant(cmd.Context(), arcPlantProject,
			arcPlantTitle, arcPlantDescription, arcPlantImportance, arcPlantChapter,
			splitList(arcPlantKeywords), splitList(arcPlantCharacters))
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"arc_id": id, "title": arcPlantTitle})
	},
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

var (
	arcDevelopID      int64
	arcDevelopChapter int
	arcDevelopNote    string
)

var arcDevelopCmd = &cobra.Command{
	Use:   "develop",
	Short: "Record a development beat on an arc",
	RunE: func(cmd *cobra.Command, args []string) error {
		tracker := memory.NewTracker(theApp.store.Queries)
		if err := tracker.Develop(cmd.Context(), arcDevelopID, arcDevelopChapter, arcDevelopNote); err != nil {
			return err
		}
		return printJSON(map[string]any{"arc_id": arcDevelopID, "status": "developing"})
	},
}

var (
	arcResolveID      int64
	arcResolveChapter int
)

var arcResolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve an arc at a chapter",
	RunE: func(cmd *cobra.Command, args []string) error {
		tracker := memory.NewTracker(theApp.store.Queries)
		if err := tracker.Resolve(cmd.Context(), arcResolveID, arcResolveChapter); err != nil {
			return err
		}
		return printJSON(map[string]any{"arc_id": arcResolveID, "status": "resolved"})
	},
}

var arcAbandonID int64

var arcAbandonCmd = &cobra.Command{
	Use:   "abandon",
	Short: "Abandon an arc",
	RunE: func(cmd *cobra.Command, args []string) error {
		tracker := memory.NewTracker(theApp.store.Queries)
		if err := tracker.Abandon(cmd.Context(), arcAbandonID); err != nil {
			return err
		}
		return printJSON(map[string]any{"arc_id": arcAbandonID, "status": "abandoned"})
	},
}

var arcListProject int64

var arcListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a project's active arcs",
	RunE: func(cmd *cobra.Command, args []string) error {
		tracker := memory.NewTracker(theApp.store.Queries)
		arcs, err := tracker.Active(cmd.Context(), arcListProject)
		if err != nil {
			return err
		}
		type row struct {
			ID         int64    `json:"id"`
			Title      string   `json:"title"`
			Status     string   `json:"status"`
			Importance string   `json:"importance"`
			Planted    int      `json:"planted_chapter"`
			Characters []string `json:"characters,omitempty"`
			Notes      string   `json:"notes,omitempty"`
		}
		rows := make([]row, len(arcs))
		for i, a := range arcs {
			var cast []string
			_ = json.Unmarshal([]byte(a.RelatedCharacters), &cast)
			rows[i] = row{ID: a.ID, Title: a.Title, Status: a.Status,
				Importance: a.Importance, Planted: a.PlantedChapter,
				Characters: cast, Notes: a.Notes}
		}
		return printJSON(rows)
	},
}

var (
	arcIndexProject int64
	arcIndexForce   bool
)

var arcIndexCmd = &cobra.Command{
	Use:   "index",
	Short: "Compute missing arc embeddings for retrieval",
	RunE: func(cmd *cobra.Command, args []string) error {
		backend := memory.NewBackend(theApp.cfg.EmbeddingAPIKey, theApp.cfg.EmbeddingAPIBase)
		retriever := memory.NewRetriever(theApp.store.Queries, backend)
		n, err := retriever.Index(cmd.Context(), arcIndexProject, arcIndexForce)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"indexed": n})
	},
}

func init() {
	arcPlantCmd.Flags().Int64Var(&arcPlantProject, "project", 0, "project id")
	arcPlantCmd.Flags().StringVar(&arcPlantTitle, "title", "", "arc title")
	arcPlantCmd.Flags().StringVar(&arcPlantDescription, "desc", "", "what was planted")
	arcPlantCmd.Flags().StringVar(&arcPlantImportance, "importance", "medium", "high, medium, or low")
	arcPlantCmd.Flags().IntVar(&arcPlantChapter, "chapter", 0, "chapter ordinal where the arc is planted")
	arcPlantCmd.Flags().StringVar(&arcPlantKeywords, "keywords", "", "comma-separated retrieval keywords")
	arcPlantCmd.Flags().StringVar(&arcPlantCharacters, "characters", "", "comma-separated character names the arc involves")

	arcDevelopCmd.Flags().Int64Var(&arcDevelopID, "id", 0, "arc id")
	arcDevelopCmd.Flags().IntVar(&arcDevelopChapter, "chapter", 0, "chapter ordinal")
	arcDevelopCmd.Flags().StringVar(&arcDevelopNote, "note", "", "development note")

	arcResolveCmd.Flags().Int64Var(&arcResolveID, "id", 0, "arc id")
	arcResolveCmd.Flags().IntVar(&arcResolveChapter, "chapter", 0, "chapter ordinal")

	arcAbandonCmd.Flags().Int64Var(&arcAbandonID, "id", 0, "arc id")
	arcListCmd.Flags().Int64Var(&arcListProject, "project", 0, "project id")

	arcIndexCmd.Flags().Int64Var(&arcIndexProject, "project", 0, "project id")
	arcIndexCmd.Flags().BoolVar(&arcIndexForce, "force", false, "recompute existing embeddings too")

	arcCmd.AddCommand(arcPlantCmd, arcDevelopCmd, arcResolveCmd, arcAbandonCmd, arcListCmd, arcIndexCmd)
}
