package scoring

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/pavelanni/omrgrader/internal/model"
)

// recognitionPayload is the only shape accepted from the recognition step.
type recognitionPayload struct {
	Answers    map[string]string `json:"answers"`
	Confidence *float64          `json:"confidence"`
}

// ParseRecognition decodes a recognition response into a RawAnswerSet.
// The document must be a single JSON object with exactly the fields
// "answers" and "confidence"; anything else is ErrMalformedAnswerSet.
func ParseRecognition(data []byte, seg Segmentation) (model.RawAnswerSet, error) {
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimSpace(data)))
	dec.DisallowUnknownFields()

	var p recognitionPayload
	if err := dec.Decode(&p); err != nil {
		return model.RawAnswerSet{}, fmt.Errorf("%w: %v", ErrMalformedAnswerSet, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return model.RawAnswerSet{}, fmt.Errorf("%w: trailing data after JSON object", ErrMalformedAnswerSet)
	}
	if p.Answers == nil {
		return model.RawAnswerSet{}, fmt.Errorf("%w: missing answers", ErrMalformedAnswerSet)
	}
	if p.Confidence == nil {
		return model.RawAnswerSet{}, fmt.Errorf("%w: missing confidence", ErrMalformedAnswerSet)
	}
	c := *p.Confidence
	if math.IsNaN(c) || c < 0 || c > 1 {
		return model.RawAnswerSet{}, fmt.Errorf("%w: confidence %v outside [0,1]", ErrMalformedAnswerSet, c)
	}

	answers, err := parseOptions(p.Answers, seg.TotalQuestions(), true)
	if err != nil {
		return model.RawAnswerSet{}, fmt.Errorf("%w: %v", ErrMalformedAnswerSet, err)
	}
	return model.RawAnswerSet{Answers: answers, Confidence: c}, nil
}

// ParseAnswers converts a wire answer map into typed selections for a sheet.
func ParseAnswers(in map[string]string, confidence float64, seg Segmentation) (model.RawAnswerSet, error) {
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return model.RawAnswerSet{}, fmt.Errorf("%w: confidence %v outside [0,1]", ErrMalformedAnswerSet, confidence)
	}
	answers, err := parseOptions(in, seg.TotalQuestions(), true)
	if err != nil {
		return model.RawAnswerSet{}, fmt.Errorf("%w: %v", ErrMalformedAnswerSet, err)
	}
	return model.RawAnswerSet{Answers: answers, Confidence: confidence}, nil
}

// ParseAnswerKey converts an imported key into an AnswerKey.
func ParseAnswerKey(in model.AnswerKeyImport, seg Segmentation) (model.AnswerKey, error) {
	version := strings.TrimSpace(in.Version)
	if version == "" {
		return model.AnswerKey{}, fmt.Errorf("%w: version is empty", ErrMalformedAnswerKey)
	}
	answers, err := parseOptions(in.Answers, seg.TotalQuestions(), false)
	if err != nil {
		return model.AnswerKey{}, fmt.Errorf("%w: version %q: %v", ErrMalformedAnswerKey, version, err)
	}
	return model.AnswerKey{
		ExamVersion:    version,
		TotalQuestions: seg.TotalQuestions(),
		Answers:        answers,
		Active:         in.Active,
	}, nil
}

// RequireComplete reports the questions missing from key, if any.
func RequireComplete(key model.AnswerKey, seg Segmentation) error {
	var missing []string
	for q := 1; q <= seg.TotalQuestions(); q++ {
		if _, ok := key.Answers[q]; !ok {
			missing = append(missing, strconv.Itoa(q))
		}
	}
	if len(missing) == 0 {
		return nil
	}
	if len(missing) > 10 {
		missing = append(missing[:10], "...")
	}
	return fmt.Errorf("%w: version %q is missing questions %s",
		ErrMalformedAnswerKey, key.ExamVersion, strings.Join(missing, ", "))
}

func parseOptions(in map[string]string, total int, allowInvalid bool) (map[int]model.Option, error) {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[int]model.Option, len(in))
	for _, k := range keys {
		q, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("question number %q is not an integer", k)
		}
		if q < 1 || q > total {
			return nil, fmt.Errorf("question %d outside 1..%d", q, total)
		}
		if _, dup := out[q]; dup {
			return nil, fmt.Errorf("question %d listed twice", q)
		}
		o := model.Option(in[k])
		if !o.IsChoice() && !(allowInvalid && o == model.OptionInvalid) {
			return nil, fmt.Errorf("question %d has option %q", q, in[k])
		}
		out[q] = o
	}
	return out, nil
}
