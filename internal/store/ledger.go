package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lushonline/moodle-mod-externalcontent/internal/lrs"
)

// completionComplete mirrors the host's COMPLETION_COMPLETE state value.
const completionComplete = 1

func (s *Store) GetTrack(ctx context.Context, moduleID, userID int64) (lrs.Track, bool, error) {
	t := lrs.Track{ModuleID: moduleID, UserID: userID}
	var score sql.NullFloat64
	var modified int64
	err := s.db.QueryRowContext(ctx,
		`SELECT completed, score, time_modified FROM tracks WHERE module_id = ? AND user_id = ?`,
		moduleID, userID,
	).Scan(&t.Completed, &score, &modified)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return lrs.Track{}, false, nil
		}
		return lrs.Track{}, false, fmt.Errorf("get track: %w", err)
	}
	if score.Valid {
		t.Score = &score.Float64
	}
	t.TimeModified = time.Unix(modified, 0).UTC()
	return t, true, nil
}

// UpsertTrack writes the track in one statement so concurrent writers can
// not lose a higher score.
func (s *Store) UpsertTrack(ctx context.Context, t lrs.Track, bestScore bool) (lrs.Track, error) {
	modified := t.TimeModified
	if modified.IsZero() {
		modified = s.now()
	}
	var score sql.NullFloat64
	var stamp int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO tracks(module_id, user_id, completed, score, time_modified) VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(module_id, user_id) DO UPDATE SET
			completed = excluded.completed,
			score = CASE
				WHEN ? = 0 THEN excluded.score
				WHEN excluded.score IS NULL THEN tracks.score
				WHEN tracks.score IS NULL OR excluded.score > tracks.score THEN excluded.score
				ELSE tracks.score
			END,
			time_modified = excluded.time_modified
		 RETURNING completed, score, time_modified`,
		t.ModuleID, t.UserID, boolToInt(t.Completed), floatOrNil(t.Score), modified.Unix(), boolToInt(bestScore),
	).Scan(&t.Completed, &score, &stamp)
	if err != nil {
		return lrs.Track{}, fmt.Errorf("upsert track: %w", err)
	}
	t.Score = nil
	if score.Valid {
		t.Score = &score.Float64
	}
	t.TimeModified = time.Unix(stamp, 0).UTC()
	return t, nil
}

// MarkViewed reports true only for the call that flipped the flag.
func (s *Store) MarkViewed(ctx context.Context, moduleID, userID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO completion_states(module_id, user_id, viewed, completion_state, time_modified) VALUES(?, ?, 1, 0, ?)
		 ON CONFLICT(module_id, user_id) DO UPDATE SET viewed = 1, time_modified = excluded.time_modified
		 WHERE completion_states.viewed = 0`,
		moduleID, userID, s.now().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("mark viewed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark viewed: %w", err)
	}
	return n > 0, nil
}

// MarkCompleted never moves a complete state back.
func (s *Store) MarkCompleted(ctx context.Context, moduleID, userID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO completion_states(module_id, user_id, viewed, completion_state, time_modified) VALUES(?, ?, 0, ?, ?)
		 ON CONFLICT(module_id, user_id) DO UPDATE SET completion_state = excluded.completion_state,
			time_modified = excluded.time_modified
		 WHERE completion_states.completion_state <> excluded.completion_state`,
		moduleID, userID, completionComplete, s.now().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("mark completed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark completed: %w", err)
	}
	return n > 0, nil
}

// CompletionState holds the per-user completion flags of a module.
type CompletionState struct {
	Viewed    bool
	Completed bool
}

func (s *Store) GetCompletion(ctx context.Context, moduleID, userID int64) (CompletionState, error) {
	var st CompletionState
	var state int
	err := s.db.QueryRowContext(ctx,
		`SELECT viewed, completion_state FROM completion_states WHERE module_id = ? AND user_id = ?`,
		moduleID, userID,
	).Scan(&st.Viewed, &state)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CompletionState{}, nil
		}
		return CompletionState{}, fmt.Errorf("get completion: %w", err)
	}
	st.Completed = state == completionComplete
	return st, nil
}

// RecordScore stores the grade on the 0 to 100 grade item of the module.
func (s *Store) RecordScore(ctx context.Context, moduleID, userID int64, score float64) error {
	score = lrs.ClampGrade(score)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO grades(module_id, user_id, grade, time_modified) VALUES(?, ?, ?, ?)
		 ON CONFLICT(module_id, user_id) DO UPDATE SET grade = excluded.grade, time_modified = excluded.time_modified`,
		moduleID, userID, score, s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("record score: %w", err)
	}
	return nil
}

func (s *Store) GetGrade(ctx context.Context, moduleID, userID int64) (float64, bool, error) {
	var grade float64
	err := s.db.QueryRowContext(ctx,
		`SELECT grade FROM grades WHERE module_id = ? AND user_id = ?`, moduleID, userID,
	).Scan(&grade)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("get grade: %w", err)
	}
	return grade, true, nil
}

// TrackReport is one row of the per-module track report.
type TrackReport struct {
	Username     string    `json:"username"`
	Completed    bool      `json:"completed"`
	Score        *float64  `json:"score"`
	Viewed       bool      `json:"viewed"`
	Complete     bool      `json:"complete"`
	TimeModified time.Time `json:"timemodified"`
}

// ListTracks returns every track of a module ordered by username.
func (s *Store) ListTracks(ctx context.Context, moduleID int64) ([]TrackReport, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.username, t.completed, t.score, COALESCE(cs.viewed, 0), COALESCE(cs.completion_state, 0), t.time_modified
		 FROM tracks t
		 JOIN users u ON u.id = t.user_id
		 LEFT JOIN completion_states cs ON cs.module_id = t.module_id AND cs.user_id = t.user_id
		 WHERE t.module_id = ?
		 ORDER BY u.username`, moduleID)
	if err != nil {
		return nil, fmt.Errorf("list tracks: %w", err)
	}
	defer rows.Close()
	var out []TrackReport
	for rows.Next() {
		var r TrackReport
		var score sql.NullFloat64
		var state int
		var modified int64
		if err := rows.Scan(&r.Username, &r.Completed, &score, &r.Viewed, &state, &modified); err != nil {
			return nil, fmt.Errorf("scan track: %w", err)
		}
		if score.Valid {
			v := score.Float64
			r.Score = &v
		}
		r.Complete = state == completionComplete
		r.TimeModified = time.Unix(modified, 0).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter tracks: %w", err)
	}
	return out, nil
}
