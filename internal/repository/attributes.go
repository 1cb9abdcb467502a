package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
)

// AttributeRepository is the append-only attribute dictionary.
type AttributeRepository interface {
	List(ctx context.Context) ([]entity.AttributeDefinition, error)
	// InsertIfAbsent adds def unless the key exists and reports whether a row was written.
	InsertIfAbsent(ctx context.Context, def entity.AttributeDefinition) (bool, error)
}

type attributeRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewAttributeRepository(db *DB, logger *slog.Logger) AttributeRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &attributeRepository{db: db, logger: logger}
}

func (r *attributeRepository) List(ctx context.Context) ([]entity.AttributeDefinition, error) {
	q, args := r.db.builder().
		Select("key", "column_group", "canonical_name", "description", "source", "created_at").
		From(entsql.Table(AttributeDictionaryTable.Name)).
		OrderBy(entsql.Asc("key")).
		Query()
	rows, err := r.db.SQL.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list attributes: %v", common.ErrDatabase, err)
	}
	defer func() { _ = rows.Close() }()

	var out []entity.AttributeDefinition
	for rows.Next() {
		var (
			d     entity.AttributeDefinition
			group sql.NullString
		)
		if err := rows.Scan(&d.Key, &group, &d.CanonicalName, &d.Description, &d.Source, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan attribute: %v", common.ErrDatabase, err)
		}
		d.ColumnGroup = nullString(group)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *attributeRepository) InsertIfAbsent(ctx context.Context, def entity.AttributeDefinition) (bool, error) {
	if def.CreatedAt.IsZero() {
		def.CreatedAt = time.Now().UTC()
	}
	q, args := r.db.builder().Insert(AttributeDictionaryTable.Name).
		Columns("key", "column_group", "canonical_name", "description", "source", "created_at").
		Values(def.Key, nullableValue(def.ColumnGroup), def.CanonicalName, def.Description, def.Source, def.CreatedAt).
		OnConflict(entsql.ConflictColumns("key"), entsql.DoNothing()).
		Query()
	res, err := r.db.SQL.ExecContext(ctx, q, args...)
	if err != nil {
		r.logger.Error("failed to insert attribute", "key", def.Key, "error", err)
		return false, fmt.Errorf("%w: insert attribute: %v", common.ErrDatabase, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, nil
	}
	return n > 0, nil
}
