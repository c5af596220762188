package storage

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

func (s *Store) InsertAudit(ctx context.Context, e AuditEntry) error {
	if e.MetaJSON == "" {
		e.MetaJSON = "{}"
	}
	q := s.sql.Insert("audit_log").
		Columns("username", "action", "meta_json").
		Values(e.Username, e.Action, e.MetaJSON)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build audit insert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *Store) ListAuditByUser(ctx context.Context, username string, limit uint64) ([]AuditEntry, error) {
	if limit == 0 {
		limit = 100
	}
	q := s.sql.Select("id", "username", "action", "meta_json", "created_at").
		From("audit_log").
		Where(sq.Eq{"username": username}).
		OrderBy("created_at DESC", "id DESC").
		Limit(limit)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build audit list query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	out := []AuditEntry{}
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.Username, &e.Action, &e.MetaJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return out, nil
}
