package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pavelanni/omrgrader/internal/evaluator"
	appI18n "github.com/pavelanni/omrgrader/internal/i18n"
	"github.com/pavelanni/omrgrader/internal/model"
	"github.com/pavelanni/omrgrader/internal/scoring"
	"github.com/pavelanni/omrgrader/internal/store"
)

func scoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score one answer sheet and print the result as JSON",
		RunE:  runScore,
	}
	addCommonFlags(cmd)
	addScoringFlags(cmd)
	f := cmd.Flags()
	f.String("version", "", "Exam version of the sheet (required)")
	f.String("name", "", "Student name (required)")
	f.String("roll", "", "Student roll number (required)")
	f.String("image", "", "Sheet image file")
	f.String("answers", "", `Recognized answers file ({"answers": {...}, "confidence": 0.9})`)
	f.Bool("record", false, "Store the evaluation in the database")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")

	_ = cmd.MarkFlagRequired("version")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("roll")
	cmd.MarkFlagsOneRequired("image", "answers")
	cmd.MarkFlagsMutuallyExclusive("image", "answers")
	return cmd
}

func batchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Evaluate and record every sheet of a manifest",
		RunE:  runBatch,
	}
	addCommonFlags(cmd)
	addScoringFlags(cmd)
	f := cmd.Flags()
	f.String("manifest", "", "Manifest JSON file (required)")
	f.IntP("concurrency", "c", 4, "Sheets evaluated in parallel")
	f.StringP("output", "o", "-", "Summary output file path (- for stdout)")
	_ = cmd.MarkFlagRequired("manifest")
	return cmd
}

func runScore(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx, err := localizedContext(cmd.Context(), v)
	if err != nil {
		return err
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	engine, err := engineFromConfig(v)
	if err != nil {
		return err
	}
	var recorder evaluator.Recorder
	if v.GetBool("record") {
		recorder = db
	}
	student := model.StudentIdentity{Name: v.GetString("name"), RollNumber: v.GetString("roll")}
	version := v.GetString("version")

	var eval model.Evaluation
	if path := v.GetString("answers"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		raw, err := scoring.ParseRecognition(data, engine.Segmentation())
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		svc := evaluator.New(nil, scoring.NewResolver(db), engine, recorder)
		eval, err = svc.ScoreAnswers(ctx, student, version, raw)
		if err != nil {
			return err
		}
	} else {
		path := v.GetString("image")
		image, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		llmClient, err := llmFromConfig(v, engine.Segmentation())
		if err != nil {
			return err
		}
		svc := evaluator.New(llmClient, scoring.NewResolver(db), engine, recorder)
		eval, err = svc.Evaluate(ctx, evaluator.Sheet{Student: student, ExamVersion: version, Image: image})
		if err != nil {
			return err
		}
	}

	rec := eval.Record()
	rec.StatusLabel = appI18n.StatusLabel(ctx, rec.Status)
	return writeJSON(v.GetString("output"), rec)
}

// manifestEntry is one sheet of a batch manifest. Relative image paths are
// resolved against the manifest's directory.
type manifestEntry struct {
	Image       string `json:"image"`
	StudentName string `json:"studentName"`
	RollNumber  string `json:"rollNumber"`
	ExamVersion string `json:"examVersion"`
}

type batchSummaryItem struct {
	Index        int          `json:"index"`
	Image        string       `json:"image"`
	RollNumber   string       `json:"rollNumber"`
	EvaluationID string       `json:"evaluationId,omitempty"`
	TotalScore   int          `json:"totalScore,omitempty"`
	Status       model.Status `json:"status,omitempty"`
	StatusLabel  string       `json:"statusLabel,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// loadManifest reads a manifest and the images it names.
func loadManifest(path string) ([]manifestEntry, []evaluator.Sheet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read manifest: %w", err)
	}
	var entries []manifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if len(entries) == 0 {
		return nil, nil, fmt.Errorf("manifest %s lists no sheets", path)
	}

	dir := filepath.Dir(path)
	sheets := make([]evaluator.Sheet, len(entries))
	for i, e := range entries {
		imgPath := e.Image
		if !filepath.IsAbs(imgPath) {
			imgPath = filepath.Join(dir, imgPath)
		}
		image, err := os.ReadFile(imgPath)
		if err != nil {
			return nil, nil, fmt.Errorf("sheet %d: read image: %w", i+1, err)
		}
		sheets[i] = evaluator.Sheet{
			Student:     model.StudentIdentity{Name: strings.TrimSpace(e.StudentName), RollNumber: strings.TrimSpace(e.RollNumber)},
			ExamVersion: e.ExamVersion,
			Image:       image,
		}
	}
	return entries, sheets, nil
}

func runBatch(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx, err := localizedContext(cmd.Context(), v)
	if err != nil {
		return err
	}

	entries, sheets, err := loadManifest(v.GetString("manifest"))
	if err != nil {
		return err
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	engine, err := engineFromConfig(v)
	if err != nil {
		return err
	}
	llmClient, err := llmFromConfig(v, engine.Segmentation())
	if err != nil {
		return err
	}
	svc := evaluator.New(llmClient, scoring.NewResolver(db), engine, db)

	results := svc.EvaluateBatch(ctx, sheets, v.GetInt("concurrency"))
	summary, failed := summarize(ctx, entries, results)
	if err := writeJSON(v.GetString("output"), summary); err != nil {
		return err
	}
	if failed > 0 {
		return errors.New(appI18n.Tp(ctx, "SheetsFailed", failed))
	}
	return nil
}

func summarize(ctx context.Context, entries []manifestEntry, results []evaluator.BatchResult) ([]batchSummaryItem, int) {
	summary := make([]batchSummaryItem, len(results))
	failed := 0
	for i, r := range results {
		item := batchSummaryItem{Index: r.Index, Image: entries[r.Index].Image, RollNumber: r.Sheet.Student.RollNumber}
		if r.Err != nil {
			failed++
			item.Error = r.Err.Error()
			slog.Error("sheet failed", "index", r.Index, "image", item.Image, "error", r.Err)
		} else {
			item.EvaluationID = r.Evaluation.ID
			item.TotalScore = r.Evaluation.Result.TotalScore
			item.Status = r.Evaluation.Result.Status
			item.StatusLabel = appI18n.StatusLabel(ctx, item.Status)
		}
		summary[i] = item
	}
	return summary, failed
}

// writeJSON writes v as indented JSON to path, or to stdout for "" and "-".
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	var w io.Writer
	if path == "" || path == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)
	return nil
}

