package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lushonline/moodle-mod-externalcontent/internal/lrs"
)

// FindModuleByExternalID matches the module's idnumber exactly.
func (s *Store) FindModuleByExternalID(ctx context.Context, modName, idNumber string) (lrs.Module, error) {
	var m lrs.Module
	err := s.db.QueryRowContext(ctx,
		`SELECT id, course_id, idnumber, name, modname, completion_externally, completion_tracking
		 FROM modules WHERE modname = ? AND idnumber = ?`, modName, idNumber,
	).Scan(&m.ID, &m.CourseID, &m.IDNumber, &m.Name, &m.ModName, &m.CompletionExternally, &m.CompletionTracking)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return lrs.Module{}, lrs.ErrNotFound
		}
		return lrs.Module{}, fmt.Errorf("find module %q: %w", idNumber, err)
	}
	return m, nil
}

func (s *Store) FindCourseByID(ctx context.Context, id int64) (lrs.Course, error) {
	var c lrs.Course
	err := s.db.QueryRowContext(ctx,
		`SELECT id, idnumber, shortname, fullname FROM courses WHERE id = ?`, id,
	).Scan(&c.ID, &c.IDNumber, &c.ShortName, &c.FullName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return lrs.Course{}, lrs.ErrNotFound
		}
		return lrs.Course{}, fmt.Errorf("find course %d: %w", id, err)
	}
	return c, nil
}

func (s *Store) FindUserByUsername(ctx context.Context, username string) (lrs.User, error) {
	var u lrs.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username FROM users WHERE username = ?`, username,
	).Scan(&u.ID, &u.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return lrs.User{}, lrs.ErrNotFound
		}
		return lrs.User{}, fmt.Errorf("find user %q: %w", username, err)
	}
	return u, nil
}

// Enroll is a no-op for users already enrolled; their role is kept.
func (s *Store) Enroll(ctx context.Context, courseID, userID int64, role string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO enrolments(course_id, user_id, role, time_created) VALUES(?, ?, ?, ?)
		 ON CONFLICT(course_id, user_id) DO NOTHING`,
		courseID, userID, role, s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("enrol: %w", err)
	}
	return nil
}

// EnrolmentRole returns the role of an enrolled user.
func (s *Store) EnrolmentRole(ctx context.Context, courseID, userID int64) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT role FROM enrolments WHERE course_id = ? AND user_id = ?`, courseID, userID,
	).Scan(&role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", lrs.ErrNotFound
		}
		return "", fmt.Errorf("enrolment role: %w", err)
	}
	return role, nil
}

// CreateCourse inserts a course, or updates the names of the course that
// already carries idnumber.
func (s *Store) CreateCourse(ctx context.Context, c lrs.Course) (lrs.Course, error) {
	if c.IDNumber != "" {
		var id int64
		err := s.db.QueryRowContext(ctx, `SELECT id FROM courses WHERE idnumber = ?`, c.IDNumber).Scan(&id)
		switch {
		case err == nil:
			c.ID = id
			if _, err := s.db.ExecContext(ctx,
				`UPDATE courses SET shortname = ?, fullname = ? WHERE id = ?`, c.ShortName, c.FullName, id); err != nil {
				return lrs.Course{}, fmt.Errorf("update course: %w", err)
			}
			return c, nil
		case !errors.Is(err, sql.ErrNoRows):
			return lrs.Course{}, fmt.Errorf("lookup course: %w", err)
		}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO courses(idnumber, shortname, fullname) VALUES(?, ?, ?)`, c.IDNumber, c.ShortName, c.FullName)
	if err != nil {
		return lrs.Course{}, fmt.Errorf("insert course: %w", err)
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return lrs.Course{}, fmt.Errorf("course id: %w", err)
	}
	return c, nil
}

// CreateModule inserts or updates a module keyed by (modname, idnumber).
func (s *Store) CreateModule(ctx context.Context, m lrs.Module) (lrs.Module, error) {
	if m.ModName == "" {
		m.ModName = lrs.ModName
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO modules(course_id, idnumber, name, modname, completion_externally, completion_tracking)
		 VALUES(?, ?, ?, ?, ?, ?)
		 ON CONFLICT(modname, idnumber) DO UPDATE SET course_id = excluded.course_id, name = excluded.name,
			completion_externally = excluded.completion_externally, completion_tracking = excluded.completion_tracking
		 RETURNING id`,
		m.CourseID, m.IDNumber, m.Name, m.ModName, boolToInt(m.CompletionExternally), boolToInt(m.CompletionTracking),
	).Scan(&m.ID)
	if err != nil {
		return lrs.Module{}, fmt.Errorf("upsert module: %w", err)
	}
	return m, nil
}

// CreateUser returns the existing user when username is taken.
func (s *Store) CreateUser(ctx context.Context, username string) (lrs.User, error) {
	u := lrs.User{Username: username}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users(username) VALUES(?)
		 ON CONFLICT(username) DO UPDATE SET username = excluded.username
		 RETURNING id`, username,
	).Scan(&u.ID)
	if err != nil {
		return lrs.User{}, fmt.Errorf("upsert user: %w", err)
	}
	return u, nil
}
