package lrs

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ModName is the module type handled by this LRS.
const ModName = "externalcontent"

// StudentRole is the role used when auto-enrolling statement actors.
const StudentRole = "student"

// ErrNotFound is returned by directory lookups that match nothing.
var ErrNotFound = errors.New("not found")

// Course is a container of modules that users enrol in.
type Course struct {
	ID        int64  `json:"id"`
	IDNumber  string `json:"idnumber"`
	ShortName string `json:"shortname"`
	FullName  string `json:"fullname"`
}

// Module is one externalcontent activity inside a course.
type Module struct {
	ID                   int64  `json:"id"`
	CourseID             int64  `json:"course"`
	IDNumber             string `json:"idnumber"`
	Name                 string `json:"name"`
	ModName              string `json:"modname"`
	CompletionExternally bool   `json:"completionexternally"`
	CompletionTracking   bool   `json:"completiontracking"`
}

// User is a local account statements are attributed to.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Track is the ledger row for one (module, user) pair.
type Track struct {
	ModuleID     int64     `json:"moduleid"`
	UserID       int64     `json:"userid"`
	Completed    bool      `json:"completed"`
	Score        *float64  `json:"score"`
	TimeModified time.Time `json:"timemodified"`
}

// EventKind names a notification emitted while reconciling.
type EventKind string

const (
	EventViewed              EventKind = "course_module_viewed"
	EventCompletedExternally EventKind = "course_module_completedexternally"
	EventScoredExternally    EventKind = "course_module_scoredexternally"
)

// Event is a fire-and-forget notification about a state change.
type Event struct {
	ID          string         `json:"id"`
	Kind        EventKind      `json:"kind"`
	CourseID    int64          `json:"course_id"`
	ModuleID    int64          `json:"module_id"`
	UserID      int64          `json:"user_id"`
	StatementID string         `json:"statement_id,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Outcome is the resolution result code of one statement.
type Outcome int

const (
	NoError Outcome = iota
	CourseNotFound
	ModuleNotFound
	UserNotFound
	StoreError
)

var outcomeNames = map[Outcome]string{
	NoError:        "NoError",
	CourseNotFound: "CourseNotFound",
	ModuleNotFound: "ModuleNotFound",
	UserNotFound:   "UserNotFound",
	StoreError:     "StoreError",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// MarshalText renders the outcome by name in JSON payloads.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText parses an outcome name.
func (o *Outcome) UnmarshalText(text []byte) error {
	for k, v := range outcomeNames {
		if v == string(text) {
			*o = k
			return nil
		}
	}
	return fmt.Errorf("unknown outcome %q", text)
}

// Response summarises what one reconciliation changed.
type Response struct {
	Status            bool    `json:"status"`
	CompletionUpdated bool    `json:"completionupdated"`
	ScoreUpdated      bool    `json:"scoreupdated"`
	ViewedUpdated     bool    `json:"viewedupdated"`
	Message           string  `json:"message"`
	ErrorCode         Outcome `json:"lrserrorcode"`
}

// Directory is the identity and enrolment store.
type Directory interface {
	FindModuleByExternalID(ctx context.Context, modName, idNumber string) (Module, error)
	FindCourseByID(ctx context.Context, id int64) (Course, error)
	FindUserByUsername(ctx context.Context, username string) (User, error)
	Enroll(ctx context.Context, courseID, userID int64, role string) error
}

// Ledger holds tracks, completion state and grades.
type Ledger interface {
	// UpsertTrack writes the track atomically. With bestScore the stored
	// score only ever grows; a nil score keeps the stored one.
	UpsertTrack(ctx context.Context, t Track, bestScore bool) (Track, error)
	MarkViewed(ctx context.Context, moduleID, userID int64) (bool, error)
	MarkCompleted(ctx context.Context, moduleID, userID int64) (bool, error)
	RecordScore(ctx context.Context, moduleID, userID int64, score float64) error
}

// Emitter publishes events. Failures are the emitter's to log.
type Emitter interface {
	Emit(ctx context.Context, ev Event)
}

// Locker serialises work on one key.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
