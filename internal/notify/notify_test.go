package notify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/testsuite"

	"github.com/lushonline/moodle-mod-externalcontent/internal/lrs"
)

type memoryRecorder struct {
	mu     sync.Mutex
	seen   map[string]lrs.Event
	failed error
}

func newMemoryRecorder() *memoryRecorder {
	return &memoryRecorder{seen: map[string]lrs.Event{}}
}

func (r *memoryRecorder) RecordEvent(_ context.Context, ev lrs.Event) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failed != nil {
		return false, r.failed
	}
	if _, ok := r.seen[ev.ID]; ok {
		return false, nil
	}
	r.seen[ev.ID] = ev
	return true, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleEvent(id string) lrs.Event {
	return lrs.Event{
		ID: id, Kind: lrs.EventScoredExternally,
		CourseID: 2, ModuleID: 7, UserID: 9,
		StatementID: "stmt-1", Extra: map[string]any{"score": 80.0},
	}
}

func TestStoreEmitter(t *testing.T) {
	rec := newMemoryRecorder()
	NewStoreEmitter(rec, discardLogger()).Emit(context.Background(), sampleEvent("e1"))
	assert.Contains(t, rec.seen, "e1")
}

func TestStoreEmitter_FailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	rec := newMemoryRecorder()
	rec.failed = errors.New("database is locked")

	NewStoreEmitter(rec, slog.New(slog.NewTextHandler(&buf, nil))).Emit(context.Background(), sampleEvent("e1"))

	assert.Contains(t, buf.String(), "record event failed")
	assert.Contains(t, buf.String(), "database is locked")
}

func newWorkflowEnv(t *testing.T, rec EventRecorder) *testsuite.TestWorkflowEnvironment {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	acts := NewActivities(rec, discardLogger())
	env.RegisterActivityWithOptions(acts.RecordEventActivity, activity.RegisterOptions{Name: recordEventActivityName})
	return env
}

func TestNotifyWorkflow_RecordsEvent(t *testing.T) {
	rec := newMemoryRecorder()
	env := newWorkflowEnv(t, rec)

	env.ExecuteWorkflow(NotifyWorkflow, sampleEvent("e1"))

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var result NotifyResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, "e1", result.EventID)
	assert.True(t, result.Inserted)

	stored := rec.seen["e1"]
	assert.Equal(t, lrs.EventScoredExternally, stored.Kind)
	assert.Equal(t, 80.0, stored.Extra["score"])
}

func TestNotifyWorkflow_DuplicateIsNotReinserted(t *testing.T) {
	rec := newMemoryRecorder()
	_, err := rec.RecordEvent(context.Background(), sampleEvent("e1"))
	require.NoError(t, err)
	env := newWorkflowEnv(t, rec)

	env.ExecuteWorkflow(NotifyWorkflow, sampleEvent("e1"))

	require.NoError(t, env.GetWorkflowError())
	var result NotifyResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.False(t, result.Inserted)
}

func TestNotifyWorkflow_RejectsInvalidEvent(t *testing.T) {
	env := newWorkflowEnv(t, newMemoryRecorder())

	env.ExecuteWorkflow(NotifyWorkflow, lrs.Event{})

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
}

type fakeRun struct {
	client.WorkflowRun
	id string
}

func (r fakeRun) GetID() string    { return r.id }
func (r fakeRun) GetRunID() string { return "run-" + r.id }

type fakeStarter struct {
	err     error
	options []client.StartWorkflowOptions
	args    []interface{}
}

func (s *fakeStarter) ExecuteWorkflow(_ context.Context, options client.StartWorkflowOptions, _ interface{}, args ...interface{}) (client.WorkflowRun, error) {
	s.options = append(s.options, options)
	s.args = append(s.args, args...)
	if s.err != nil {
		return nil, s.err
	}
	return fakeRun{id: options.ID}, nil
}

func TestTemporalEmitter_StartsWorkflowPerEvent(t *testing.T) {
	starter := &fakeStarter{}
	fallback := newMemoryRecorder()
	emitter := NewTemporalEmitter(starter, NewStoreEmitter(fallback, discardLogger()), discardLogger())

	emitter.Emit(context.Background(), sampleEvent("e1"))

	require.Len(t, starter.options, 1)
	assert.Equal(t, "lrs-event-e1", starter.options[0].ID)
	assert.Equal(t, TaskQueue(), starter.options[0].TaskQueue)
	require.Len(t, starter.args, 1)
	assert.Equal(t, "e1", starter.args[0].(lrs.Event).ID)
	assert.Empty(t, fallback.seen)
}

func TestTemporalEmitter_FallsBackWhenStartFails(t *testing.T) {
	starter := &fakeStarter{err: errors.New("connection refused")}
	fallback := newMemoryRecorder()
	emitter := NewTemporalEmitter(starter, NewStoreEmitter(fallback, discardLogger()), discardLogger())

	emitter.Emit(context.Background(), sampleEvent("e1"))

	assert.Contains(t, fallback.seen, "e1")
}
