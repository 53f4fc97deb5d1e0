package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lushonline/moodle-mod-externalcontent/internal/lock"
	"github.com/lushonline/moodle-mod-externalcontent/internal/lrs"
	"github.com/lushonline/moodle-mod-externalcontent/internal/sqliteutil"
)

type fixture struct {
	store  *Store
	course lrs.Course
	module lrs.Module
	user   lrs.User
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db, err := sqliteutil.Open(filepath.Join(t.TempDir(), "lrs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := New(db)
	ctx := context.Background()
	require.NoError(t, s.Init(ctx))
	require.NoError(t, s.Init(ctx))

	course, err := s.CreateCourse(ctx, lrs.Course{IDNumber: "course-1", ShortName: "C1", FullName: "Course one"})
	require.NoError(t, err)
	module, err := s.CreateModule(ctx, lrs.Module{
		CourseID: course.ID, IDNumber: "https://xapi.com/xapi/course/123", Name: "Intro",
		CompletionExternally: true, CompletionTracking: true,
	})
	require.NoError(t, err)
	user, err := s.CreateUser(ctx, "jdoe")
	require.NoError(t, err)
	return fixture{store: s, course: course, module: module, user: user}
}

func score(v float64) *float64 { return &v }

func TestDirectory_Lookups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.store.FindModuleByExternalID(ctx, lrs.ModName, "https://xapi.com/xapi/course/123")
	require.NoError(t, err)
	assert.Equal(t, f.module.ID, m.ID)
	assert.Equal(t, f.course.ID, m.CourseID)
	assert.True(t, m.CompletionExternally)

	_, err = f.store.FindModuleByExternalID(ctx, "page", "https://xapi.com/xapi/course/123")
	assert.ErrorIs(t, err, lrs.ErrNotFound)
	_, err = f.store.FindModuleByExternalID(ctx, lrs.ModName, "HTTPS://XAPI.COM/XAPI/COURSE/123")
	assert.ErrorIs(t, err, lrs.ErrNotFound)

	c, err := f.store.FindCourseByID(ctx, f.course.ID)
	require.NoError(t, err)
	assert.Equal(t, "C1", c.ShortName)
	_, err = f.store.FindCourseByID(ctx, 999)
	assert.ErrorIs(t, err, lrs.ErrNotFound)

	u, err := f.store.FindUserByUsername(ctx, "jdoe")
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, u.ID)
	_, err = f.store.FindUserByUsername(ctx, "JDoe")
	assert.ErrorIs(t, err, lrs.ErrNotFound)
}

func TestDirectory_CreateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	again, err := f.store.CreateUser(ctx, "jdoe")
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, again.ID)

	c, err := f.store.CreateCourse(ctx, lrs.Course{IDNumber: "course-1", ShortName: "C1b"})
	require.NoError(t, err)
	assert.Equal(t, f.course.ID, c.ID)

	m, err := f.store.CreateModule(ctx, lrs.Module{CourseID: f.course.ID, IDNumber: f.module.IDNumber, Name: "Renamed"})
	require.NoError(t, err)
	assert.Equal(t, f.module.ID, m.ID)
	assert.False(t, m.CompletionExternally)
}

func TestEnroll_KeepsExistingRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.Enroll(ctx, f.course.ID, f.user.ID, "editingteacher"))
	require.NoError(t, f.store.Enroll(ctx, f.course.ID, f.user.ID, lrs.StudentRole))

	role, err := f.store.EnrolmentRole(ctx, f.course.ID, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "editingteacher", role)
}

func TestUpsertTrack(t *testing.T) {
	cases := map[string]struct {
		best   bool
		scores []*float64
		want   *float64
	}{
		"best keeps higher":      {true, []*float64{score(40), score(30)}, score(40)},
		"best takes improvement": {true, []*float64{score(40), score(50)}, score(50)},
		"best keeps on null":     {true, []*float64{score(40), nil}, score(40)},
		"best fills null":        {true, []*float64{nil, score(10)}, score(10)},
		"latest overwrites":      {false, []*float64{score(40), score(30)}, score(30)},
		"latest clears on null":  {false, []*float64{score(40), nil}, nil},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			var last lrs.Track
			for i, s := range tc.scores {
				var err error
				last, err = f.store.UpsertTrack(ctx, lrs.Track{
					ModuleID: f.module.ID, UserID: f.user.ID, Completed: i == 0, Score: s,
				}, tc.best)
				require.NoError(t, err)
			}
			assert.Equal(t, tc.want, last.Score)
			assert.False(t, last.Completed)

			stored, ok, err := f.store.GetTrack(ctx, f.module.ID, f.user.ID)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tc.want, stored.Score)
		})
	}
}

func TestGetTrack_Missing(t *testing.T) {
	f := newFixture(t)
	_, ok, err := f.store.GetTrack(context.Background(), f.module.ID, f.user.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCompletionTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	changed, err := f.store.MarkCompleted(ctx, f.module.ID, f.user.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = f.store.MarkCompleted(ctx, f.module.ID, f.user.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = f.store.MarkViewed(ctx, f.module.ID, f.user.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = f.store.MarkViewed(ctx, f.module.ID, f.user.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	st, err := f.store.GetCompletion(ctx, f.module.ID, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, CompletionState{Viewed: true, Completed: true}, st)
}

func TestRecordScore_ClampsToGradeRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.RecordScore(ctx, f.module.ID, f.user.ID, 250))
	grade, ok, err := f.store.GetGrade(ctx, f.module.ID, f.user.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 100.0, grade)

	require.NoError(t, f.store.RecordScore(ctx, f.module.ID, f.user.ID, 42.5))
	grade, _, err = f.store.GetGrade(ctx, f.module.ID, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, 42.5, grade)
}

func TestRecordEvent_DedupesByID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := lrs.Event{
		ID: uuid.NewString(), Kind: lrs.EventScoredExternally,
		CourseID: f.course.ID, ModuleID: f.module.ID, UserID: f.user.ID,
		StatementID: "stmt-1", Extra: map[string]any{"score": 88.0},
		CreatedAt: time.Unix(1700000000, 0),
	}

	inserted, err := f.store.RecordEvent(ctx, ev)
	require.NoError(t, err)
	assert.True(t, inserted)
	inserted, err = f.store.RecordEvent(ctx, ev)
	require.NoError(t, err)
	assert.False(t, inserted)

	events, err := f.store.ListEvents(ctx, f.module.ID, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, lrs.EventScoredExternally, events[0].Kind)
	assert.Equal(t, "stmt-1", events[0].StatementID)
	assert.Equal(t, 88.0, events[0].Extra["score"])
}

func TestEnsureCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, pass, err := f.store.EnsureCredentials(ctx, "", "")
	require.NoError(t, err)
	assert.Len(t, user, 24)
	assert.Len(t, pass, 24)
	assert.NotEqual(t, user, pass)

	user2, pass2, err := f.store.EnsureCredentials(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, user, user2)
	assert.Equal(t, pass, pass2)

	user3, pass3, err := f.store.EnsureCredentials(ctx, "configured", "")
	require.NoError(t, err)
	assert.Equal(t, "configured", user3)
	assert.Equal(t, pass, pass3)

	newUser, newPass, err := f.store.ResetCredentials(ctx)
	require.NoError(t, err)
	user4, pass4, err := f.store.EnsureCredentials(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, newUser, user4)
	assert.Equal(t, newPass, pass4)
}

type storeEmitter struct {
	t     *testing.T
	store *Store
}

func (e storeEmitter) Emit(ctx context.Context, ev lrs.Event) {
	_, err := e.store.RecordEvent(ctx, ev)
	assert.NoError(e.t, err)
}

func TestReconciler_ConcurrentSubmissionsAgainstSQLite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := lrs.NewReconciler(f.store, f.store, lock.NewLocal(), storeEmitter{t: t, store: f.store}, lrs.WithBestScore(true))
	in := lrs.ReconcileInput{Course: f.course, Module: f.module, User: f.user}

	var wg sync.WaitGroup
	for i := 1; i <= 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := in
			in.Completed = i%3 == 0
			in.Score = score(float64(i))
			_, err := rec.Reconcile(ctx, in)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	track, ok, err := f.store.GetTrack(ctx, f.module.ID, f.user.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 30.0, *track.Score)

	st, err := f.store.GetCompletion(ctx, f.module.ID, f.user.ID)
	require.NoError(t, err)
	assert.True(t, st.Completed)
	assert.True(t, st.Viewed)

	events, err := f.store.ListEvents(ctx, f.module.ID, 100)
	require.NoError(t, err)
	kinds := map[lrs.EventKind]int{}
	for _, ev := range events {
		kinds[ev.Kind]++
	}
	assert.Equal(t, 1, kinds[lrs.EventViewed])
	assert.Equal(t, 1, kinds[lrs.EventCompletedExternally])
	assert.Equal(t, 30, kinds[lrs.EventScoredExternally])

	report, err := f.store.ListTracks(ctx, f.module.ID)
	require.NoError(t, err)
	require.Len(t, report, 1)
	assert.Equal(t, "jdoe", report[0].Username)
	assert.True(t, report[0].Complete)
}
