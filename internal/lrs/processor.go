package lrs

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lushonline/moodle-mod-externalcontent/internal/xapi"
)

const tracerName = "github.com/lushonline/moodle-mod-externalcontent/internal/lrs"

// Payload is the per-statement result returned in debug mode.
type Payload struct {
	xapi.Normalized
	Course         *Course   `json:"course"`
	Module         *Module   `json:"cm"`
	User           *User     `json:"user"`
	ErrorCode      Outcome   `json:"lrserrorcode"`
	UpdateResponse *Response `json:"updateresponse"`
	Error          string    `json:"error,omitempty"`
}

// Recorder observes processed statements. internal/metrics implements it.
type Recorder interface {
	StatementProcessed(outcome Outcome, resp *Response, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) StatementProcessed(Outcome, *Response, time.Duration) {}

// Processor runs the normalize, resolve, reconcile pipeline over a batch.
type Processor struct {
	verbs      xapi.VerbSet
	resolver   *Resolver
	reconciler *Reconciler
	recorder   Recorder
	logger     *slog.Logger
}

func NewProcessor(verbs xapi.VerbSet, resolver *Resolver, reconciler *Reconciler, recorder Recorder, logger *slog.Logger) *Processor {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		verbs:      verbs,
		resolver:   resolver,
		reconciler: reconciler,
		recorder:   recorder,
		logger:     logger,
	}
}

// Process handles statements sequentially in input order and returns one
// payload per statement. A failing statement never stops the batch.
func (p *Processor) Process(ctx context.Context, version string, stmts []xapi.Statement) []Payload {
	payloads := make([]Payload, 0, len(stmts))
	for _, s := range stmts {
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		payloads = append(payloads, p.processOne(ctx, version, s))
	}
	return payloads
}

func (p *Processor) processOne(ctx context.Context, version string, s xapi.Statement) Payload {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "lrs.ProcessStatement",
		trace.WithAttributes(
			attribute.String("xapi.statement_id", s.ID),
			attribute.String("xapi.verb", s.Verb.ID),
		),
	)
	defer span.End()
	start := time.Now()

	n := xapi.Normalize(version, s, p.verbs)
	res := p.resolver.Resolve(ctx, n)
	payload := Payload{
		Normalized: n,
		Course:     res.Course,
		Module:     res.Module,
		User:       res.User,
		ErrorCode:  res.Outcome,
	}
	span.SetAttributes(attribute.String("lrs.outcome", res.Outcome.String()))

	logger := p.logger.With("statement_id", n.StatementID, "object", n.ObjectID)

	if !res.Resolved() {
		payload.UpdateResponse = &Response{Message: unresolvedMessage(res), ErrorCode: res.Outcome}
		if res.Err != nil {
			payload.Error = res.Err.Error()
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, "resolve failed")
			logger.Error("resolve statement", "error", res.Err)
		} else {
			logger.Warn("statement not resolved", "outcome", res.Outcome.String())
		}
		p.recorder.StatementProcessed(res.Outcome, nil, time.Since(start))
		return payload
	}

	resp, err := p.reconciler.Reconcile(ctx, ReconcileInput{
		Course:      *res.Course,
		Module:      *res.Module,
		User:        *res.User,
		Completed:   n.Completed,
		Score:       n.Score,
		StatementID: n.StatementID,
	})
	if err != nil {
		payload.ErrorCode = StoreError
		payload.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "reconcile failed")
		payload.UpdateResponse = &Response{Message: err.Error(), ErrorCode: StoreError}
		logger.Error("reconcile statement", "error", err)
		p.recorder.StatementProcessed(StoreError, nil, time.Since(start))
		return payload
	}

	resp.ErrorCode = NoError
	payload.UpdateResponse = &resp
	logger.Info("statement processed",
		"user_id", res.User.ID,
		"module_id", res.Module.ID,
		"status", resp.Status,
		"message", resp.Message,
	)
	p.recorder.StatementProcessed(NoError, &resp, time.Since(start))
	return payload
}

func unresolvedMessage(res Resolution) string {
	switch res.Outcome {
	case CourseNotFound:
		return "Course does not exist."
	case ModuleNotFound:
		return "Course module does not exist."
	case UserNotFound:
		return "User does not exist."
	}
	if res.Err != nil {
		return res.Err.Error()
	}
	return ""
}
