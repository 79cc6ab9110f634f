package workflows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/mirroragent/internal/collections"
	"github.com/fyrsmithlabs/mirroragent/internal/curator"
	"github.com/fyrsmithlabs/mirroragent/internal/judge"
	"github.com/fyrsmithlabs/mirroragent/internal/kpi"
	"github.com/fyrsmithlabs/mirroragent/internal/lease"
	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
	"github.com/fyrsmithlabs/mirroragent/internal/registry"
	"github.com/fyrsmithlabs/mirroragent/internal/saga"
	"github.com/fyrsmithlabs/mirroragent/internal/security"
	"github.com/fyrsmithlabs/mirroragent/internal/store/memory"
	"github.com/fyrsmithlabs/mirroragent/internal/vectorstore/vectorstoretest"
)

const testDim = 8

func testInput(domain string) ProvisioningInput {
	return ProvisioningInput{
		Request:          saga.Request{Domain: domain},
		SuccessThreshold: 0.3,
		StepTimeout:      time.Minute,
	}
}

// newSaga builds a saga backed by in-memory stores.
func newSaga(t *testing.T) (*saga.Saga, *memory.Store, *vectorstoretest.Store) {
	t.Helper()
	emb := vectorstoretest.NewEmbedder(testDim)
	vs := vectorstoretest.NewStore(emb)
	docs := memory.New()
	gate, err := security.New(docs, zap.NewNop(), security.WithSecretDetector(nil))
	require.NoError(t, err)
	prov, err := collections.New(vs, docs, collections.Config{Dimension: testDim, InitialInterval: time.Millisecond}, zap.NewNop())
	require.NoError(t, err)
	reg, err := registry.New(registry.Deps{
		Vectors:  vs,
		Embedder: emb,
		Judge:    judge.NewHeuristicJudge(),
		Store:    docs,
		Locker:   lease.NewLocal(),
		Gate:     gate,
		Resolver: prov,
	}, registry.Config{Thresholds: mirror.DefaultRouterThresholds(), Curator: curator.DefaultConfig()}, zap.NewNop())
	require.NoError(t, err)
	harness, err := kpi.New(judge.NewHeuristicJudge(), docs, kpi.Config{QuestionTimeout: time.Second}, zap.NewNop())
	require.NoError(t, err)

	s, err := saga.New(saga.Deps{
		Vectors:     vs,
		Embedder:    emb,
		Store:       docs,
		Collections: prov,
		Gate:        gate,
		Agents:      reg,
		KPI:         harness,
	}, saga.DefaultConfig(), zap.NewNop())
	require.NoError(t, err)
	return s, docs, vs
}

// succeed returns a RunStep stand-in that marks every step successful,
// except those listed in fail.
func succeed(fail map[saga.StepName]mirror.StepStatus) func(context.Context, StepInput) (*StepResult, error) {
	return func(_ context.Context, in StepInput) (*StepResult, error) {
		status := mirror.StepSuccess
		if s, ok := fail[in.Step]; ok {
			status = s
		}
		return &StepResult{
			Outcome: mirror.StepOutcome{Step: string(in.Step), Status: status, Detail: "ok"},
			State:   in.State,
		}, nil
	}
}

func stepNames(rep *mirror.ProvisioningReport) []string {
	var out []string
	for _, s := range rep.Steps {
		out = append(out, s.Step)
	}
	return out
}

func planNames(req saga.Request) []string {
	var out []string
	for _, s := range saga.Plan(req) {
		out = append(out, string(s))
	}
	return out
}

func TestProvisioningWorkflow(t *testing.T) {
	t.Run("runs every planned step", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()

		acts := &Activities{}
		env.RegisterWorkflow(ProvisioningWorkflow)
		env.RegisterActivity(acts)

		env.OnActivity(acts.RunStep, mock.Anything, mock.Anything).Return(succeed(map[saga.StepName]mirror.StepStatus{
			saga.StepKPITest: mirror.StepWarning,
		}))
		env.OnActivity(acts.SaveReport, mock.Anything, mock.Anything).Return(nil).Once()

		env.ExecuteWorkflow(ProvisioningWorkflow, testInput("acme.ro"))

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var rep mirror.ProvisioningReport
		require.NoError(t, env.GetWorkflowResult(&rep))
		assert.Equal(t, "acme_ro", rep.SiteID)
		assert.Equal(t, planNames(saga.Request{}), stepNames(&rep))
		assert.InDelta(t, 7.0/8.0, rep.SuccessRatio, 1e-9)
		assert.True(t, rep.Success)
		assert.False(t, rep.Aborted)
		assert.NotEmpty(t, rep.ID)
		env.AssertExpectations(t)
	})

	t.Run("critical failure aborts", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()

		acts := &Activities{}
		env.RegisterWorkflow(ProvisioningWorkflow)
		env.RegisterActivity(acts)

		env.OnActivity(acts.RunStep, mock.Anything, mock.Anything).Return(succeed(map[saga.StepName]mirror.StepStatus{
			saga.StepCreateCollections: mirror.StepError,
		}))
		env.OnActivity(acts.SaveReport, mock.Anything, mock.Anything).Return(nil)

		env.ExecuteWorkflow(ProvisioningWorkflow, testInput("acme.ro"))
		require.NoError(t, env.GetWorkflowError())

		var rep mirror.ProvisioningReport
		require.NoError(t, env.GetWorkflowResult(&rep))
		assert.Equal(t, []string{string(saga.StepHealthCheck), string(saga.StepCreateCollections)}, stepNames(&rep))
		assert.True(t, rep.Aborted)
		assert.False(t, rep.Success)
	})

	t.Run("activity error becomes a warning", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()

		acts := &Activities{}
		env.RegisterWorkflow(ProvisioningWorkflow)
		env.RegisterActivity(acts)

		ok := succeed(nil)
		env.OnActivity(acts.RunStep, mock.Anything, mock.Anything).Return(func(ctx context.Context, in StepInput) (*StepResult, error) {
			if in.Step == saga.StepActivateCurator {
				return nil, temporal.NewNonRetryableApplicationError("worker lost", "Lost", nil)
			}
			return ok(ctx, in)
		})
		env.OnActivity(acts.SaveReport, mock.Anything, mock.Anything).Return(nil)

		env.ExecuteWorkflow(ProvisioningWorkflow, testInput("acme.ro"))
		require.NoError(t, env.GetWorkflowError())

		var rep mirror.ProvisioningReport
		require.NoError(t, env.GetWorkflowResult(&rep))
		require.Len(t, rep.Steps, 8)
		for _, s := range rep.Steps {
			if s.Step == string(saga.StepActivateCurator) {
				assert.Equal(t, mirror.StepWarning, s.Status)
				assert.Contains(t, s.Detail, "worker lost")
			}
		}
		assert.False(t, rep.Aborted)
		assert.True(t, rep.Success)
	})

	t.Run("critical activity error aborts", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()

		acts := &Activities{}
		env.RegisterWorkflow(ProvisioningWorkflow)
		env.RegisterActivity(acts)

		env.OnActivity(acts.RunStep, mock.Anything, mock.Anything).Return(nil, temporal.NewNonRetryableApplicationError("unreachable", "Lost", nil))
		env.OnActivity(acts.SaveReport, mock.Anything, mock.Anything).Return(nil)

		env.ExecuteWorkflow(ProvisioningWorkflow, testInput("acme.ro"))
		require.NoError(t, env.GetWorkflowError())

		var rep mirror.ProvisioningReport
		require.NoError(t, env.GetWorkflowResult(&rep))
		require.Len(t, rep.Steps, 1)
		assert.Equal(t, mirror.StepError, rep.Steps[0].Status)
		assert.True(t, rep.Aborted)
	})

	t.Run("rejects invalid domain", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		env.RegisterWorkflow(ProvisioningWorkflow)
		env.RegisterActivity(&Activities{})

		env.ExecuteWorkflow(ProvisioningWorkflow, testInput("not a domain"))

		require.True(t, env.IsWorkflowCompleted())
		err := env.GetWorkflowError()
		require.Error(t, err)
		var appErr *temporal.ApplicationError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, ErrTypeInvalidInput, appErr.Type())
		assert.True(t, appErr.NonRetryable())
	})

	t.Run("rejects invalid threshold", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		env.RegisterWorkflow(ProvisioningWorkflow)
		env.RegisterActivity(&Activities{})

		in := testInput("acme.ro")
		in.SuccessThreshold = 1.5
		env.ExecuteWorkflow(ProvisioningWorkflow, in)
		assert.Error(t, env.GetWorkflowError())
	})
}

func TestProvisioningWorkflow_RealActivities(t *testing.T) {
	s, docs, vs := newSaga(t)
	acts, err := NewActivities(s)
	require.NoError(t, err)

	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()
	Register(env, acts)

	env.ExecuteWorkflow(ProvisioningWorkflow, testInput("acme.ro"))
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var rep mirror.ProvisioningReport
	require.NoError(t, env.GetWorkflowResult(&rep))
	assert.Equal(t, planNames(saga.Request{}), stepNames(&rep))
	require.NotNil(t, rep.Stores)
	assert.Equal(t, "acme_ro_pages", rep.Stores.PagesStoreID)
	require.NotNil(t, rep.KPI)
	for k, v := range rep.Verification {
		assert.True(t, v, k)
	}
	assert.True(t, rep.Success)

	stored, err := docs.LatestReport(context.Background(), "acme_ro")
	require.NoError(t, err)
	assert.Equal(t, rep.ID, stored.ID)

	n, err := vs.Count(context.Background(), "acme_ro_faq")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNewActivities(t *testing.T) {
	_, err := NewActivities(nil)
	assert.Error(t, err)
}

func TestProvisioningInput_Validate(t *testing.T) {
	assert.NoError(t, testInput("acme.ro").Validate())
	in := testInput("acme.ro")
	in.StepTimeout = 0
	assert.ErrorIs(t, in.Validate(), mirror.ErrValidation)
}

func TestZapAdapter(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	a := NewZapAdapter(zap.New(core))
	a.Info("worker started", "task_queue", TaskQueue)
	a.Error("activity failed", "step", "kpi_test")

	require.Equal(t, 2, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "worker started", entry.Message)
	assert.Equal(t, TaskQueue, entry.ContextMap()["task_queue"])
}
