package scoring

import (
	"context"
	"fmt"
	"strings"

	"github.com/pavelanni/omrgrader/internal/model"
)

// Resolver returns the active answer key for an exam version.
type Resolver interface {
	Resolve(ctx context.Context, examVersion string) (model.AnswerKey, error)
}

// KeySource lists every key currently flagged active for a version.
type KeySource interface {
	ActiveAnswerKeys(ctx context.Context, examVersion string) ([]model.AnswerKey, error)
}

// SourceResolver resolves keys from a KeySource. It never picks one of
// several active keys.
type SourceResolver struct {
	src KeySource
}

// NewResolver creates a resolver over src.
func NewResolver(src KeySource) *SourceResolver {
	return &SourceResolver{src: src}
}

// Resolve returns a private copy of the single active key for examVersion.
func (r *SourceResolver) Resolve(ctx context.Context, examVersion string) (model.AnswerKey, error) {
	examVersion = strings.TrimSpace(examVersion)
	if examVersion == "" {
		return model.AnswerKey{}, fmt.Errorf("%w: exam version is empty", ErrAnswerKeyNotFound)
	}
	keys, err := r.src.ActiveAnswerKeys(ctx, examVersion)
	if err != nil {
		return model.AnswerKey{}, fmt.Errorf("lookup answer key %q: %w", examVersion, err)
	}
	switch len(keys) {
	case 1:
		return keys[0].Clone(), nil
	case 0:
		return model.AnswerKey{}, fmt.Errorf("%w: no active key for version %q", ErrAnswerKeyNotFound, examVersion)
	default:
		return model.AnswerKey{}, fmt.Errorf("%w: %d active keys for version %q", ErrAnswerKeyNotFound, len(keys), examVersion)
	}
}
