package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	sdklog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/temporal"
	temporalworker "go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/lushonline/moodle-mod-externalcontent/internal/lrs"
)

const (
	notifyTaskQueue         = "lrs-events-task-queue"
	notifyWorkflowName      = "lrs.events.notify"
	recordEventActivityName = "lrs.events.record"
	errTypeInvalidEvent     = "InvalidEvent"
	notifyWorkflowTimeout   = 10 * time.Minute
	recordEventStartToClose = 30 * time.Second
	workflowIDPrefix        = "lrs-event-"
)

// NotifyResult is returned by NotifyWorkflow.
type NotifyResult struct {
	EventID  string    `json:"event_id"`
	Inserted bool      `json:"inserted"`
	Finished time.Time `json:"finished"`
}

// Activities hosts the activity implementations.
type Activities struct {
	recorder EventRecorder
	logger   *slog.Logger
}

func NewActivities(recorder EventRecorder, logger *slog.Logger) *Activities {
	return &Activities{recorder: recorder, logger: logger}
}

// RecordEventActivity appends the event to the event log. Replays are
// absorbed by the id dedupe in the log.
func (a *Activities) RecordEventActivity(ctx context.Context, ev lrs.Event) (bool, error) {
	inserted, err := a.recorder.RecordEvent(ctx, ev)
	if err != nil {
		a.logger.Error("activity record event failed", "event_id", ev.ID, "kind", ev.Kind, "error", err)
		return false, err
	}
	a.logger.Info("activity record event", "event_id", ev.ID, "kind", ev.Kind, "module_id", ev.ModuleID, "user_id", ev.UserID, "inserted", inserted)
	return inserted, nil
}

// NotifyWorkflow delivers one event through the record activity.
func NotifyWorkflow(ctx workflow.Context, ev lrs.Event) (NotifyResult, error) {
	logger := workflow.GetLogger(ctx)
	if ev.ID == "" || ev.Kind == "" {
		return NotifyResult{}, temporal.NewNonRetryableApplicationError("event id and kind required", errTypeInvalidEvent, errors.New("invalid event"))
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: recordEventStartToClose,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:        10,
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        time.Minute,
			NonRetryableErrorTypes: []string{errTypeInvalidEvent},
		},
	})

	result := NotifyResult{EventID: ev.ID}
	if err := workflow.ExecuteActivity(ctx, recordEventActivityName, ev).Get(ctx, &result.Inserted); err != nil {
		logger.Error("record event activity failed", "event_id", ev.ID, "error", err)
		return result, err
	}
	result.Finished = workflow.Now(ctx)
	logger.Info("notify workflow finished", "event_id", ev.ID, "kind", string(ev.Kind), "inserted", result.Inserted)
	return result, nil
}

// RegisterWorker wires the Temporal worker consuming the events task queue.
func RegisterWorker(c client.Client, recorder EventRecorder, logger *slog.Logger) temporalworker.Worker {
	w := temporalworker.New(c, notifyTaskQueue, temporalworker.Options{})
	w.RegisterWorkflowWithOptions(NotifyWorkflow, workflow.RegisterOptions{Name: notifyWorkflowName})
	activities := NewActivities(recorder, logger.With("component", "events.activities"))
	w.RegisterActivityWithOptions(activities.RecordEventActivity, activity.RegisterOptions{Name: recordEventActivityName})
	return w
}

// workflowStarter is the part of client.Client the emitter needs.
type workflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// TemporalEmitter hands each event to a NotifyWorkflow. The workflow id is
// derived from the event id so a duplicate start is rejected by Temporal.
// When the start fails the event goes to fallback, if set.
type TemporalEmitter struct {
	client   workflowStarter
	fallback lrs.Emitter
	logger   *slog.Logger
}

func NewTemporalEmitter(c workflowStarter, fallback lrs.Emitter, logger *slog.Logger) *TemporalEmitter {
	return &TemporalEmitter{client: c, fallback: fallback, logger: logger.With("component", "events.temporal")}
}

func (e *TemporalEmitter) Emit(ctx context.Context, ev lrs.Event) {
	options := client.StartWorkflowOptions{
		ID:                       workflowIDPrefix + ev.ID,
		TaskQueue:                notifyTaskQueue,
		WorkflowIDReusePolicy:    enums.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		WorkflowExecutionTimeout: notifyWorkflowTimeout,
	}
	we, err := e.client.ExecuteWorkflow(ctx, options, notifyWorkflowName, ev)
	if err != nil {
		e.logger.Warn("start notify workflow failed", "event_id", ev.ID, "kind", ev.Kind, "error", err)
		if e.fallback != nil {
			e.fallback.Emit(ctx, ev)
		}
		return
	}
	e.logger.Debug("notify workflow dispatched", "workflow_id", we.GetID(), "run_id", we.GetRunID(), "kind", ev.Kind)
}

// TaskQueue exposes the queue name for the worker command and tests.
func TaskQueue() string {
	return notifyTaskQueue
}

// Dial connects to Temporal with the slog logger attached.
func Dial(hostPort, namespace string, logger *slog.Logger) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  hostPort,
		Namespace: namespace,
		Logger:    sdklog.NewStructuredLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("dial temporal %s: %w", hostPort, err)
	}
	return c, nil
}
