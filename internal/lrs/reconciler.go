package lrs

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const msgRefused = "External content completion state cannot be updated externally."

// Grade item bounds of an externalcontent module.
const (
	GradeMin = 0.0
	GradeMax = 100.0
)

// ReconcileInput is a fully resolved statement ready to be applied.
type ReconcileInput struct {
	Course      Course
	Module      Module
	User        User
	Completed   bool
	Score       *float64
	StatementID string
}

// Reconciler applies completion and score updates for one (module, user)
// pair. Every transition is idempotent: replaying a statement changes nothing
// the first call did not already change.
type Reconciler struct {
	dir          Directory
	ledger       Ledger
	locker       Locker
	emitter      Emitter
	useBestScore bool
	logger       *slog.Logger
	now          func() time.Time
}

type ReconcilerOption func(*Reconciler)

// WithBestScore keeps the highest score seen instead of the latest one.
func WithBestScore(on bool) ReconcilerOption {
	return func(r *Reconciler) { r.useBestScore = on }
}

func WithLogger(logger *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.logger = logger }
}

func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) { r.now = now }
}

func NewReconciler(dir Directory, ledger Ledger, locker Locker, emitter Emitter, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		dir:     dir,
		ledger:  ledger,
		locker:  locker,
		emitter: emitter,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ClampGrade bounds a score to the range of the module's grade item.
func ClampGrade(score float64) float64 {
	return math.Min(math.Max(score, GradeMin), GradeMax)
}

// LockKey is the serialisation key for a (module, user) pair.
func LockKey(moduleID, userID int64) string {
	return fmt.Sprintf("externalcontent:track:%d:%d", moduleID, userID)
}

// Reconcile applies one statement. A refused update returns a response with
// Status false and no error; errors are storage or lock failures.
func (r *Reconciler) Reconcile(ctx context.Context, in ReconcileInput) (Response, error) {
	var resp Response

	if !in.Module.CompletionExternally {
		resp.Message = msgRefused
		return resp, nil
	}

	if err := r.dir.Enroll(ctx, in.Course.ID, in.User.ID, StudentRole); err != nil {
		return resp, fmt.Errorf("enrol user %d in course %d: %w", in.User.ID, in.Course.ID, err)
	}

	unlock, err := r.locker.Lock(ctx, LockKey(in.Module.ID, in.User.ID))
	if err != nil {
		return resp, fmt.Errorf("lock track: %w", err)
	}
	defer unlock()

	track, err := r.ledger.UpsertTrack(ctx, Track{
		ModuleID:     in.Module.ID,
		UserID:       in.User.ID,
		Completed:    in.Completed,
		Score:        in.Score,
		TimeModified: r.now(),
	}, r.useBestScore)
	if err != nil {
		return resp, fmt.Errorf("upsert track: %w", err)
	}

	var trace []string

	if in.Module.CompletionTracking {
		viewed, err := r.ledger.MarkViewed(ctx, in.Module.ID, in.User.ID)
		if err != nil {
			return resp, fmt.Errorf("mark viewed: %w", err)
		}
		if viewed {
			r.emit(ctx, EventViewed, in, nil)
			trace = append(trace, "External content viewed status set to COMPLETION_VIEWED.")
			resp.ViewedUpdated = true
		}

		if in.Completed {
			completed, err := r.ledger.MarkCompleted(ctx, in.Module.ID, in.User.ID)
			if err != nil {
				return resp, fmt.Errorf("mark completed: %w", err)
			}
			if completed {
				r.emit(ctx, EventCompletedExternally, in, nil)
				trace = append(trace, "External content completion status set to COMPLETION_COMPLETE.")
				resp.CompletionUpdated = true
			}
		}

		if in.Score != nil && *in.Score > 0 {
			grade := *in.Score
			if track.Score != nil {
				grade = *track.Score
			}
			grade = ClampGrade(grade)
			if err := r.ledger.RecordScore(ctx, in.Module.ID, in.User.ID, grade); err != nil {
				return resp, fmt.Errorf("record score: %w", err)
			}
			r.emit(ctx, EventScoredExternally, in, map[string]any{"score": *in.Score})
			trace = append(trace, "External content grade set to "+strconv.FormatFloat(grade, 'f', -1, 64)+".")
			resp.ScoreUpdated = true
		}
	}

	resp.Status = resp.CompletionUpdated || resp.ScoreUpdated || resp.ViewedUpdated
	resp.Message = strings.Join(trace, " ")

	r.logger.Debug("track reconciled",
		"module_id", in.Module.ID,
		"user_id", in.User.ID,
		"completed", track.Completed,
		"status", resp.Status,
	)
	return resp, nil
}

func (r *Reconciler) emit(ctx context.Context, kind EventKind, in ReconcileInput, extra map[string]any) {
	r.emitter.Emit(ctx, Event{
		ID:          uuid.NewString(),
		Kind:        kind,
		CourseID:    in.Course.ID,
		ModuleID:    in.Module.ID,
		UserID:      in.User.ID,
		StatementID: in.StatementID,
		Extra:       extra,
		CreatedAt:   r.now(),
	})
}
