package lrs

import (
	"context"
	"sync"
)

type pair [2]int64

type fakeStore struct {
	mu         sync.Mutex
	modules    map[string]Module
	courses    map[int64]Course
	users      map[string]User
	enrolments map[pair]string
	tracks     map[pair]Track
	viewed     map[pair]bool
	completed  map[pair]bool
	grades     map[pair]float64

	moduleErr   error
	userErr     error
	userLookups int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		modules:    map[string]Module{},
		courses:    map[int64]Course{},
		users:      map[string]User{},
		enrolments: map[pair]string{},
		tracks:     map[pair]Track{},
		viewed:     map[pair]bool{},
		completed:  map[pair]bool{},
		grades:     map[pair]float64{},
	}
}

// seeded returns a store with course 2, module 7 ("ext-7") and user 9 ("jdoe").
func seeded() *fakeStore {
	s := newFakeStore()
	s.courses[2] = Course{ID: 2, IDNumber: "course-2", ShortName: "C2"}
	s.modules["ext-7"] = Module{
		ID: 7, CourseID: 2, IDNumber: "ext-7", ModName: ModName,
		CompletionExternally: true, CompletionTracking: true,
	}
	s.users["jdoe"] = User{ID: 9, Username: "jdoe"}
	return s
}

func (s *fakeStore) FindModuleByExternalID(_ context.Context, modName, idNumber string) (Module, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.moduleErr != nil {
		return Module{}, s.moduleErr
	}
	m, ok := s.modules[idNumber]
	if !ok || m.ModName != modName {
		return Module{}, ErrNotFound
	}
	return m, nil
}

func (s *fakeStore) FindCourseByID(_ context.Context, id int64) (Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.courses[id]
	if !ok {
		return Course{}, ErrNotFound
	}
	return c, nil
}

func (s *fakeStore) FindUserByUsername(_ context.Context, username string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userLookups++
	if s.userErr != nil {
		return User{}, s.userErr
	}
	u, ok := s.users[username]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *fakeStore) Enroll(_ context.Context, courseID, userID int64, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enrolments[pair{courseID, userID}] = role
	return nil
}

func (s *fakeStore) UpsertTrack(_ context.Context, t Track, bestScore bool) (Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pair{t.ModuleID, t.UserID}
	if old, ok := s.tracks[key]; ok && bestScore && old.Score != nil {
		if t.Score == nil || *old.Score > *t.Score {
			t.Score = old.Score
		}
	}
	s.tracks[key] = t
	return t, nil
}

func (s *fakeStore) MarkViewed(_ context.Context, moduleID, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pair{moduleID, userID}
	if s.viewed[key] {
		return false, nil
	}
	s.viewed[key] = true
	return true, nil
}

func (s *fakeStore) MarkCompleted(_ context.Context, moduleID, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pair{moduleID, userID}
	if s.completed[key] {
		return false, nil
	}
	s.completed[key] = true
	return true, nil
}

func (s *fakeStore) RecordScore(_ context.Context, moduleID, userID int64, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grades[pair{moduleID, userID}] = score
	return nil
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []Event
}

func (e *fakeEmitter) Emit(_ context.Context, ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *fakeEmitter) kinds() []EventKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]EventKind, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (e *fakeEmitter) count(kind EventKind) int {
	n := 0
	for _, k := range e.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}
