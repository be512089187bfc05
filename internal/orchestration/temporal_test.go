package orchestration

import (
	"testing"

	"github.com/arcana/api/internal/config"
	"github.com/arcana/api/internal/models"
	"github.com/arcana/api/internal/quota"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
)

func TestReadingWorkflowDelivers(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()

	f := newFixture()
	o := f.orchestrator(config.DefaultGateConfig(), &stubJudge{result: judged(4, false)},
		&stubBackend{id: "aiservice", text: goodReading})
	env.RegisterActivity(&Activities{Orchestrator: o})

	env.ExecuteWorkflow(ReadingWorkflow, models.ReadingWorkflowInput{Request: request()})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out models.ReadingWorkflowOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Empty(t, out.Error)
	assert.Equal(t, models.StatusDelivered, out.Disposition.Status)
	assert.Equal(t, models.ReservationCommitted, out.Disposition.ReservationState)
}

func TestReadingWorkflowQuotaRejection(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()

	f := newFixture()
	f.store.Seed(quota.Key{RequesterID: "user-1", PeriodKey: "2026-10"}, 5)
	o := f.orchestrator(config.DefaultGateConfig(), &stubJudge{result: judged(4, false)},
		&stubBackend{id: "aiservice", text: goodReading})
	env.RegisterActivity(&Activities{Orchestrator: o})

	env.ExecuteWorkflow(ReadingWorkflow, models.ReadingWorkflowInput{Request: request()})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out models.ReadingWorkflowOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, models.StatusRejectedQuota, out.Disposition.Status)
	assert.Equal(t, quota.ErrQuotaExceeded.Error(), out.Error)
}

func TestReadingWorkflowOutputIsRedacted(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()

	result := judged(4, false)
	result.Notes = "Maria Lopez may want to call 555-123-4567 before deciding"
	result.Issues = []string{"mentions Maria Lopez by name"}

	f := newFixture()
	o := f.orchestrator(config.DefaultGateConfig(), &stubJudge{result: result},
		&stubBackend{id: "aiservice", text: goodReading})
	env.RegisterActivity(&Activities{Orchestrator: o})

	env.ExecuteWorkflow(ReadingWorkflow, models.ReadingWorkflowInput{Request: request()})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out models.ReadingWorkflowOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, models.StatusDelivered, out.Disposition.Status)
	require.NotNil(t, out.Disposition.Evaluation)
	assert.NotContains(t, out.Disposition.Evaluation.Notes, "Maria Lopez")
	assert.NotContains(t, out.Disposition.Evaluation.Notes, "555-123-4567")
	assert.Contains(t, out.Disposition.Evaluation.Notes, "[PHONE]")
	assert.NotContains(t, out.Disposition.Evaluation.Issues[0], "Maria Lopez")
	assert.Equal(t, goodReading, out.Disposition.ArtifactText)
}
