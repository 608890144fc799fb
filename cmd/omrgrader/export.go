package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	appI18n "github.com/pavelanni/omrgrader/internal/i18n"
	"github.com/pavelanni/omrgrader/internal/model"
	"github.com/pavelanni/omrgrader/internal/store"
)

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored evaluations as JSON",
		RunE:  runExport,
	}
	addCommonFlags(cmd)
	f := cmd.Flags()
	f.String("status", "", "Only export evaluations with this status (Completed, NeedsReview)")
	f.String("exam-version", "", "Only export evaluations of this exam version")
	f.Int("limit", 0, "Maximum number of evaluations (0 = all)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx, err := localizedContext(cmd.Context(), v)
	if err != nil {
		return err
	}

	filter := store.EvaluationFilter{
		Status:      model.Status(v.GetString("status")),
		ExamVersion: strings.TrimSpace(v.GetString("exam-version")),
		Limit:       v.GetInt("limit"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return fmt.Errorf("unknown status %q (want %s or %s)", filter.Status, model.StatusCompleted, model.StatusNeedsReview)
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := db.ExportEvaluations(ctx, filter)
	if err != nil {
		return fmt.Errorf("export evaluations: %w", err)
	}
	for i := range export.Results {
		export.Results[i].StatusLabel = appI18n.StatusLabel(ctx, export.Results[i].Status)
	}
	return writeJSON(v.GetString("output"), export)
}
