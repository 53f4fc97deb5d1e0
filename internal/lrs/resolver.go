package lrs

import (
	"context"
	"errors"

	"github.com/lushonline/moodle-mod-externalcontent/internal/xapi"
)

// Resolution is the identity lookup result for one statement. Course, Module
// and User are set for every entity that was found, even when Outcome
// reports a failure on another one.
type Resolution struct {
	Course  *Course
	Module  *Module
	User    *User
	Outcome Outcome
	Err     error
}

// Resolved reports whether every entity was found.
func (r Resolution) Resolved() bool {
	return r.Outcome == NoError && r.Course != nil && r.Module != nil && r.User != nil
}

// Resolver maps a normalized statement onto directory rows. The object id is
// matched against the module's own external id; the course comes from the
// module.
type Resolver struct {
	dir Directory
}

func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve always attempts both the module and the user lookup. The outcome
// is the first failure in course, module, user order. Storage failures win
// over not-found outcomes since a not-found result cannot be trusted then.
func (r *Resolver) Resolve(ctx context.Context, n xapi.Normalized) Resolution {
	var res Resolution
	var moduleMissing, courseMissing, userMissing bool

	module, err := r.dir.FindModuleByExternalID(ctx, ModName, n.ObjectID)
	switch {
	case errors.Is(err, ErrNotFound):
		moduleMissing = true
	case err != nil:
		res.Err = err
	default:
		res.Module = &module
		course, err := r.dir.FindCourseByID(ctx, module.CourseID)
		switch {
		case errors.Is(err, ErrNotFound):
			courseMissing = true
		case err != nil:
			res.Err = err
		default:
			res.Course = &course
		}
	}

	if n.ActorName == nil || *n.ActorName == "" {
		userMissing = true
	} else {
		user, err := r.dir.FindUserByUsername(ctx, *n.ActorName)
		switch {
		case errors.Is(err, ErrNotFound):
			userMissing = true
		case err != nil:
			if res.Err == nil {
				res.Err = err
			}
		default:
			res.User = &user
		}
	}

	switch {
	case res.Err != nil:
		res.Outcome = StoreError
	case courseMissing:
		res.Outcome = CourseNotFound
	case moduleMissing:
		res.Outcome = ModuleNotFound
	case userMissing:
		res.Outcome = UserNotFound
	default:
		res.Outcome = NoError
	}
	return res
}
