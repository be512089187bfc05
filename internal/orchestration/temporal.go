package orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arcana/api/internal/models"
	"github.com/arcana/api/internal/redact"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"
)

// ReadingWorkflowName is the registered workflow type
const ReadingWorkflowName = "ReadingWorkflow"

// ErrReadingPending is returned while an async reading is still running
var ErrReadingPending = errors.New("reading pending")

// InitTemporalClient dials Temporal. The client is created once per process.
func InitTemporalClient(address string, logger *zap.Logger) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort: address,
	})
	if err != nil {
		// callers degrade to sync-only readings
		logger.Warn("unable to create Temporal client", zap.String("address", address), zap.Error(err))
		return nil, err
	}
	return c, nil
}

// ReadingWorkflow runs the reading pipeline as a single activity.
// The activity is never retried: a retry would reserve quota a second time.
func ReadingWorkflow(ctx workflow.Context, input models.ReadingWorkflowInput) (models.ReadingWorkflowOutput, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	var a *Activities
	var out models.ReadingWorkflowOutput
	err := workflow.ExecuteActivity(ctx, a.RunReading, input).Get(ctx, &out)
	return out, err
}

// Activities exposes the orchestrator to Temporal workers
type Activities struct {
	Orchestrator *Orchestrator
}

// RunReading executes one reading. Caller-facing rejections travel in the output
// so the workflow completes with the disposition instead of failing.
// The output is stored in workflow history, so judge text and error strings
// are redacted first; the reading itself is the caller's payload and is kept.
func (a *Activities) RunReading(ctx context.Context, input models.ReadingWorkflowInput) (models.ReadingWorkflowOutput, error) {
	disp, err := a.Orchestrator.Run(ctx, input.Request)
	r := redact.New(input.Request.KnownIdentifiers...)
	out := models.ReadingWorkflowOutput{RequesterID: input.Request.RequesterID, Disposition: historySafe(disp, r)}
	if err != nil {
		out.Error = r.String(err.Error())
	}
	return out, nil
}

func historySafe(disp models.Disposition, r *redact.Redactor) models.Disposition {
	disp.Reason = r.String(disp.Reason)
	if disp.Evaluation != nil {
		eval := *disp.Evaluation
		eval.Notes = r.String(eval.Notes)
		eval.Issues = r.Strings(eval.Issues)
		disp.Evaluation = &eval
	}
	return disp
}

// StartReading starts the async workflow; the request id doubles as the workflow id
func StartReading(ctx context.Context, c client.Client, taskQueue string, req models.GenerationRequest) (string, error) {
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "reading-" + req.RequestID,
		TaskQueue: taskQueue,
	}, ReadingWorkflowName, models.ReadingWorkflowInput{Request: req})
	if err != nil {
		return "", fmt.Errorf("failed to start reading workflow: %w", err)
	}
	return run.GetID(), nil
}

// ReadingResult returns the finished output, or ErrReadingPending when the
// workflow has not completed within wait
func ReadingResult(ctx context.Context, c client.Client, workflowID string, wait time.Duration) (models.ReadingWorkflowOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	var out models.ReadingWorkflowOutput
	err := c.GetWorkflow(ctx, workflowID, "").Get(ctx, &out)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return out, ErrReadingPending
		}
		return out, fmt.Errorf("failed to load reading workflow %s: %w", workflowID, err)
	}
	return out, nil
}

// TemporalReadings adapts a Temporal client to the async readings API
type TemporalReadings struct {
	Client    client.Client
	TaskQueue string
	// Wait bounds how long a result lookup blocks before reporting pending
	Wait time.Duration
}

func (t *TemporalReadings) Start(ctx context.Context, req models.GenerationRequest) (string, error) {
	return StartReading(ctx, t.Client, t.TaskQueue, req)
}

func (t *TemporalReadings) Result(ctx context.Context, workflowID string) (models.ReadingWorkflowOutput, error) {
	wait := t.Wait
	if wait <= 0 {
		wait = 250 * time.Millisecond
	}
	return ReadingResult(ctx, t.Client, workflowID, wait)
}
