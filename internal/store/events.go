package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lushonline/moodle-mod-externalcontent/internal/lrs"
)

// RecordEvent appends ev unless an event with the same id exists. Returns
// true when inserted.
func (s *Store) RecordEvent(ctx context.Context, ev lrs.Event) (bool, error) {
	var extra []byte
	if len(ev.Extra) > 0 {
		var err error
		extra, err = json.Marshal(ev.Extra)
		if err != nil {
			return false, fmt.Errorf("marshal extra: %w", err)
		}
	}
	created := ev.CreatedAt
	if created.IsZero() {
		created = s.now()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events(id, kind, course_id, module_id, user_id, statement_id, extra, time_created)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		ev.ID, string(ev.Kind), ev.CourseID, ev.ModuleID, ev.UserID,
		nullIfEmpty(ev.StatementID), bytesOrNil(extra), created.Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// ListEvents returns the newest events of a module first.
func (s *Store) ListEvents(ctx context.Context, moduleID int64, limit int) ([]lrs.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, course_id, module_id, user_id, statement_id, extra, time_created
		 FROM events WHERE module_id = ? ORDER BY time_created DESC, rowid DESC LIMIT ?`, moduleID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	var out []lrs.Event
	for rows.Next() {
		var ev lrs.Event
		var kind string
		var statementID, extra sql.NullString
		var created int64
		if err := rows.Scan(&ev.ID, &kind, &ev.CourseID, &ev.ModuleID, &ev.UserID, &statementID, &extra, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Kind = lrs.EventKind(kind)
		ev.StatementID = statementID.String
		if extra.Valid && extra.String != "" {
			if err := json.Unmarshal([]byte(extra.String), &ev.Extra); err != nil {
				return nil, fmt.Errorf("decode extra for event %s: %w", ev.ID, err)
			}
		}
		ev.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter events: %w", err)
	}
	return out, nil
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func bytesOrNil(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
