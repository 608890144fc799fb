package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/omrgrader/internal/model"
)

const answerKeyColumns = `id, version, total_questions, answers, is_active, created_at`

// CreateAnswerKey stores a key. An active key replaces the previously active
// key of the same version in the same transaction.
func (s *Store) CreateAnswerKey(ctx context.Context, k model.AnswerKey) (int64, error) {
	answers, err := json.Marshal(k.Answers)
	if err != nil {
		return 0, fmt.Errorf("encode answers: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if k.Active {
		if _, err := tx.ExecContext(ctx,
			`UPDATE answer_keys SET is_active = 0 WHERE version = ? AND is_active = 1`, k.ExamVersion,
		); err != nil {
			return 0, err
		}
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO answer_keys (version, total_questions, answers, is_active, created_at) VALUES (?, ?, ?, ?, ?)`,
		k.ExamVersion, k.TotalQuestions, string(answers), k.Active, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	slog.Info("stored answer key", "id", id, "exam_version", k.ExamVersion, "active", k.Active)
	return id, nil
}

// GetAnswerKey returns a key by ID.
func (s *Store) GetAnswerKey(ctx context.Context, id int64) (model.AnswerKey, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+answerKeyColumns+` FROM answer_keys WHERE id = ?`, id)
	return scanAnswerKey(row)
}

// ActiveAnswerKeys returns every key flagged active for a version.
func (s *Store) ActiveAnswerKeys(ctx context.Context, version string) ([]model.AnswerKey, error) {
	return s.queryAnswerKeys(ctx,
		`SELECT `+answerKeyColumns+` FROM answer_keys WHERE version = ? AND is_active = 1 ORDER BY id`, version)
}

// ListAnswerKeys returns all keys, newest first. An empty version means all versions.
func (s *Store) ListAnswerKeys(ctx context.Context, version string) ([]model.AnswerKey, error) {
	if version == "" {
		return s.queryAnswerKeys(ctx, `SELECT `+answerKeyColumns+` FROM answer_keys ORDER BY id DESC`)
	}
	return s.queryAnswerKeys(ctx,
		`SELECT `+answerKeyColumns+` FROM answer_keys WHERE version = ? ORDER BY id DESC`, version)
}

// ActivateAnswerKey makes a key the only active key of its version.
func (s *Store) ActivateAnswerKey(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var version string
	if err := tx.QueryRowContext(ctx, `SELECT version FROM answer_keys WHERE id = ?`, id).Scan(&version); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE answer_keys SET is_active = 0 WHERE version = ? AND is_active = 1 AND id <> ?`, version, id,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE answer_keys SET is_active = 1 WHERE id = ?`, id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Info("activated answer key", "id", id, "exam_version", version)
	return nil
}

// DeactivateAnswerKey clears the active flag of a key.
func (s *Store) DeactivateAnswerKey(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE answer_keys SET is_active = 0 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	slog.Info("deactivated answer key", "id", id)
	return nil
}

func (s *Store) queryAnswerKeys(ctx context.Context, query string, args ...any) ([]model.AnswerKey, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []model.AnswerKey
	for rows.Next() {
		k, err := scanAnswerKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAnswerKey(sc scanner) (model.AnswerKey, error) {
	var k model.AnswerKey
	var answers string
	if err := sc.Scan(&k.ID, &k.ExamVersion, &k.TotalQuestions, &answers, &k.Active, &k.CreatedAt); err != nil {
		return model.AnswerKey{}, err
	}
	if err := json.Unmarshal([]byte(answers), &k.Answers); err != nil {
		return model.AnswerKey{}, fmt.Errorf("decode answers of key %d: %w", k.ID, err)
	}
	return k, nil
}
