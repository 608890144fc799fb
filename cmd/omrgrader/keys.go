package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/omrgrader/internal/model"
	"github.com/pavelanni/omrgrader/internal/scoring"
	"github.com/pavelanni/omrgrader/internal/store"
)

func importKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-keys",
		Short: "Import answer keys from JSON files",
		RunE:  runImportKeys,
	}
	addCommonFlags(cmd)
	f := cmd.Flags()
	f.StringSliceP("keys", "k", nil, "Answer key JSON files (repeatable, required)")
	_ = cmd.MarkFlagRequired("keys")
	return cmd
}

func runImportKeys(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	return importKeys(cmd.Context(), db, v.GetStringSlice("keys"), scoring.DefaultSegmentation)
}

// importKeys loads answer key files. Each file holds a JSON list of keys and
// is imported once; a file whose contents changed since its import is
// skipped so existing evaluations keep pointing at the keys they used.
// All keys of a file are validated before any of them is stored.
func importKeys(ctx context.Context, db *store.Store, paths []string, seg scoring.Segmentation) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}
		if storedHash == hash {
			slog.Info("answer key file unchanged, skipping", "path", path)
			continue
		}
		if storedHash != "" {
			slog.Warn("answer key file changed since last import, skipping; submit changed keys as a new version or via the API",
				"path", path)
			continue
		}

		keys, err := parseKeyFile(data, seg)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		for _, k := range keys {
			if _, err := db.CreateAnswerKey(ctx, k); err != nil {
				return fmt.Errorf("insert answer key %q from %s: %w", k.ExamVersion, path, err)
			}
		}

		if err := db.SetImportedFileHash(path, hash); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
		slog.Info("imported answer keys", "path", path, "count", len(keys))
	}
	return nil
}

func parseKeyFile(data []byte, seg scoring.Segmentation) ([]model.AnswerKey, error) {
	var imports []model.AnswerKeyImport
	if err := json.Unmarshal(data, &imports); err != nil {
		return nil, fmt.Errorf("%w: %v", scoring.ErrMalformedAnswerKey, err)
	}
	if len(imports) == 0 {
		return nil, fmt.Errorf("%w: no keys in file", scoring.ErrMalformedAnswerKey)
	}

	keys := make([]model.AnswerKey, 0, len(imports))
	active := make(map[string]bool)
	for _, in := range imports {
		k, err := scoring.ParseAnswerKey(in, seg)
		if err != nil {
			return nil, err
		}
		if err := scoring.RequireComplete(k, seg); err != nil {
			return nil, err
		}
		if k.Active {
			if active[k.ExamVersion] {
				return nil, fmt.Errorf("%w: more than one active key for version %q", scoring.ErrMalformedAnswerKey, k.ExamVersion)
			}
			active[k.ExamVersion] = true
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func seedAdmin(ctx context.Context, db *store.Store, password string) error {
	count, err := db.UserCount(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return errors.New("admin password is required: set --admin-password flag or OMRGRADER_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(ctx, model.User{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
