package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
)

type SettingsRepository interface {
	All(ctx context.Context) (map[string]string, error)
	Set(ctx context.Context, key, value string) error
}

type settingsRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewSettingsRepository(db *DB, logger *slog.Logger) SettingsRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &settingsRepository{db: db, logger: logger}
}

func (r *settingsRepository) All(ctx context.Context) (map[string]string, error) {
	q, args := r.db.builder().Select("key", "value").
		From(entsql.Table(SettingsTable.Name)).
		Query()
	rows, err := r.db.SQL.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list settings: %v", common.ErrDatabase, err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("%w: scan setting: %v", common.ErrDatabase, err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (r *settingsRepository) Set(ctx context.Context, key, value string) error {
	q, args := r.db.builder().Insert(SettingsTable.Name).
		Columns("key", "value", "updated_at").
		Values(key, value, time.Now().UTC()).
		OnConflict(entsql.ConflictColumns("key"), entsql.ResolveWithNewValues()).
		Query()
	if _, err := r.db.SQL.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("%w: set %s: %v", common.ErrDatabase, key, err)
	}
	r.logger.Info("setting updated", "key", key, "value", value)
	return nil
}
