package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"github.com/pavelanni/omrgrader/internal/model"
	"github.com/pavelanni/omrgrader/internal/scoring"
)

//go:embed templates/*.txt
var templateFS embed.FS

// PromptVariant represents a recognition prompt variant.
type PromptVariant string

const (
	// PromptStrict marks every uncertain question INVALID.
	PromptStrict PromptVariant = "strict"
	// PromptLenient accepts faint single marks and lowers confidence instead.
	PromptLenient PromptVariant = "lenient"
)

var validVariants = map[PromptVariant]bool{
	PromptStrict:  true,
	PromptLenient: true,
}

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[PromptVariant]*template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

// Subject describes one block of questions on the sheet.
type Subject struct {
	Index int
	First int
	Last  int
}

// RecognizeData holds template data for recognition prompts.
type RecognizeData struct {
	SubjectCount        int
	QuestionsPerSubject int
	TotalQuestions      int
	Subjects            []Subject
	Choices             string
	Invalid             string
}

// NewRecognizeData describes the sheet layout of seg.
func NewRecognizeData(seg scoring.Segmentation) RecognizeData {
	d := RecognizeData{
		SubjectCount:        seg.SubjectCount,
		QuestionsPerSubject: seg.QuestionsPerSubject,
		TotalQuestions:      seg.TotalQuestions(),
		Choices:             "A, B, C, or D",
		Invalid:             string(model.OptionInvalid),
	}
	for i := 1; i <= seg.SubjectCount; i++ {
		first, last := seg.Bounds(i)
		d.Subjects = append(d.Subjects, Subject{Index: i, First: first, Last: last})
	}
	return d
}

// Load parses the embedded prompt templates once.
func Load() error {
	loadOnce.Do(func() {
		templates = make(map[PromptVariant]*template.Template)
		for v := range validVariants {
			file := "templates/recognize_" + string(v) + ".txt"
			content, err := templateFS.ReadFile(file)
			if err != nil {
				loadErr = errors.New("failed to read prompt file " + file + ": " + err.Error())
				return
			}
			tmpl, err := template.New(string(v)).Parse(string(content))
			if err != nil {
				loadErr = errors.New("failed to parse prompt template " + file + ": " + err.Error())
				return
			}
			templates[v] = tmpl
		}
	})
	return loadErr
}

// BuildRecognizePrompt renders the recognition prompt for a sheet layout.
func BuildRecognizePrompt(variant PromptVariant, seg scoring.Segmentation) (string, error) {
	if err := Load(); err != nil {
		return "", fmt.Errorf("templates load failed: %w", err)
	}
	tmpl, ok := templates[variant]
	if !ok {
		return "", errors.New("invalid prompt variant: " + string(variant))
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, NewRecognizeData(seg)); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
