package db

import (
	"context"
	"embed"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/markdave123-py/policyqa/internal/logger"
)

//go:embed scripts/initdb.sql
var bootstrapFS embed.FS

const schemaVersion = 1

// EnsureBootstrapped creates the schema once. The chunk embedding column is
// sized to dim, so changing EMBED_DIM needs a fresh table.
func EnsureBootstrapped(ctx context.Context, pool pgxPool, dim int) error {
	ctxBoot, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	var exists bool
	err := pool.QueryRow(ctxBoot, `
		SELECT EXISTS (
		  SELECT 1 FROM information_schema.tables
		  WHERE table_name = 'policyqa_meta'
		)`).Scan(&exists)
	if err != nil {
		return fmt.Errorf("meta table check failed: %w", err)
	}
	if !exists {
		return runBootstrap(ctxBoot, pool, dim)
	}

	var hasVersion bool
	if err := pool.QueryRow(ctxBoot, `SELECT EXISTS (SELECT 1 FROM policyqa_meta WHERE version = $1)`, schemaVersion).
		Scan(&hasVersion); err != nil {
		return fmt.Errorf("meta version check failed: %w", err)
	}
	if !hasVersion {
		return runBootstrap(ctxBoot, pool, dim)
	}

	logger.FromContext(ctx).Debug("schema already bootstrapped", "version", schemaVersion)
	return nil
}

func bootstrapSQL(dim int) (string, error) {
	sqlBytes, err := bootstrapFS.ReadFile("scripts/initdb.sql")
	if err != nil {
		return "", fmt.Errorf("read initdb.sql: %w", err)
	}
	return strings.ReplaceAll(string(sqlBytes), "{{EMBED_DIM}}", strconv.Itoa(dim)), nil
}

func runBootstrap(ctx context.Context, pool pgxPool, dim int) error {
	script, err := bootstrapSQL(dim)
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.Exec(ctx, script); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("exec bootstrap: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit bootstrap: %w", err)
	}
	logger.FromContext(ctx).Info("schema bootstrapped", "version", schemaVersion, "embed_dim", dim)
	return nil
}
