package audit_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexmarketing/contentpipeline/pipeline/audit"
	"github.com/apexmarketing/contentpipeline/pipeline/capability"
	"github.com/apexmarketing/contentpipeline/pipeline/completion"
	"github.com/apexmarketing/contentpipeline/pipeline/config"
	"github.com/apexmarketing/contentpipeline/pipeline/deliverable"
	"github.com/apexmarketing/contentpipeline/pipeline/events"
	"github.com/apexmarketing/contentpipeline/pipeline/store"
	"github.com/apexmarketing/contentpipeline/pipeline/testutil"
)

type fixture struct {
	coordinator *audit.Coordinator
	store       *store.Memory
	mock        *testutil.MockCompletion
	settings    *config.Settings
	bus         *events.Bus
	sink        *testutil.EventSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := testutil.NewRecordingLogger()
	mock := testutil.NewMockCompletion()
	settings := config.DefaultSettings()
	registry, err := capability.NewRegistry(mock, settings, logger)
	require.NoError(t, err)
	mem := store.NewMemory()
	bus := events.NewBus(logger)
	return &fixture{
		coordinator: audit.NewCoordinator(mem, mem, registry, settings, bus, logger),
		store:       mem,
		mock:        mock,
		settings:    settings,
		bus:         bus,
		sink:        testutil.NewEventSink(bus),
	}
}

// setGateScore makes the quality gate reviewer return the given score.
func (f *fixture) setGateScore(score float64) {
	f.mock.WithReview(capability.AgentQualityGate, "APPROVE", score, "assessed")
}

func (f *fixture) startRun(t *testing.T) *audit.Run {
	t.Helper()
	run, err := f.coordinator.Start(context.Background(), "client-1", "Mid-size retailer, no analytics.")
	require.NoError(t, err)
	return run
}

func (f *fixture) reload(t *testing.T, id string) *audit.Run {
	t.Helper()
	run, err := f.store.GetRun(context.Background(), id)
	require.NoError(t, err)
	return run
}

func TestRunStateFromString(t *testing.T) {
	s, err := audit.RunStateFromString("stage_failed")
	require.NoError(t, err)
	assert.Equal(t, audit.RunStageFailed, s)

	_, err = audit.RunStateFromString("exploded")
	assert.Error(t, err)
}

func TestNewRunHasOrderedEmptySlots(t *testing.T) {
	run := audit.NewRun("client-1", "profile")
	assert.Equal(t, audit.RunPending, run.State)
	require.Len(t, run.Stages, 4)
	for i, name := range audit.StageOrder {
		assert.Equal(t, name, run.Stages[i].Stage)
		assert.False(t, run.Stages[i].Done())
	}
	assert.Equal(t, 0, run.NextStage())
}

func TestExecuteCompletesAllStagesInOrder(t *testing.T) {
	f := newFixture(t)
	f.mock.WithResponse("infrastructure_auditor", "audit findings")
	f.mock.WithResponse("strategy_director", "strategy plan")
	f.mock.WithResponse("proposal_builder", "commercial proposal")
	f.setGateScore(8.0)
	run := f.startRun(t)

	require.NoError(t, f.coordinator.Execute(context.Background(), run.ID))

	got := f.reload(t, run.ID)
	assert.Equal(t, audit.RunCompleted, got.State)
	assert.Equal(t, 8.0, got.GateScore)
	assert.True(t, got.GatePassed(f.settings.ApprovalThreshold))
	assert.Equal(t, -1, got.NextStage())
	require.Len(t, got.DeliverableIDs(), 4)

	// Each stage saw every prior stage's full output.
	strategyCalls := f.mock.CallsFor("strategy_director")
	require.Len(t, strategyCalls, 1)
	assert.Contains(t, strategyCalls[0].UserMessage, "audit findings")

	proposalCalls := f.mock.CallsFor("proposal_builder")
	require.Len(t, proposalCalls, 1)
	assert.Contains(t, proposalCalls[0].UserMessage, "audit findings")
	assert.Contains(t, proposalCalls[0].UserMessage, "strategy plan")
}

func TestGatePassReleasesAllDeliverables(t *testing.T) {
	f := newFixture(t)
	f.setGateScore(7.0) // exact boundary passes
	run := f.startRun(t)

	require.NoError(t, f.coordinator.Execute(context.Background(), run.ID))

	got := f.reload(t, run.ID)
	require.Len(t, got.DeliverableIDs(), 4)
	for _, id := range got.DeliverableIDs() {
		d, err := f.store.GetDeliverable(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, deliverable.StatusInReview, d.Status, "deliverable %s", id)
	}
}

func TestGateFailureHoldsAllDeliverables(t *testing.T) {
	f := newFixture(t)
	f.setGateScore(6.9)
	run := f.startRun(t)

	require.NoError(t, f.coordinator.Execute(context.Background(), run.ID))

	got := f.reload(t, run.ID)
	assert.Equal(t, audit.RunCompleted, got.State, "a failed gate still completes the run")
	assert.False(t, got.GatePassed(f.settings.ApprovalThreshold))
	for _, id := range got.DeliverableIDs() {
		d, err := f.store.GetDeliverable(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, deliverable.StatusDraft, d.Status, "deliverable %s", id)
	}
}

func TestStageFailureHaltsChain(t *testing.T) {
	f := newFixture(t)
	f.mock.WithAgentError("strategy_director", errors.New("upstream down"))
	run := f.startRun(t)

	err := f.coordinator.Execute(context.Background(), run.ID)
	require.NoError(t, err, "stage failure is recorded on the run, not returned")

	got := f.reload(t, run.ID)
	assert.Equal(t, audit.RunStageFailed, got.State)
	assert.True(t, got.Stages[0].Done())
	assert.True(t, got.Stages[1].Failed)
	assert.Contains(t, got.Stages[1].Error, "upstream down")
	assert.Empty(t, got.Stages[2].DeliverableID, "later stages must not start")
	assert.Empty(t, got.Stages[3].DeliverableID)
	assert.Zero(t, len(f.mock.CallsFor("proposal_builder")))
}

func TestFailedStageLeavesNoRecordBehind(t *testing.T) {
	f := newFixture(t)
	f.mock.WithAgentError("strategy_director", errors.New("upstream down"))
	run := f.startRun(t)

	require.NoError(t, f.coordinator.Execute(context.Background(), run.ID))

	// Only the completed audit stage committed a record; the failed
	// strategy stage must not leave an empty draft in the store.
	records := f.store.Deliverables()
	require.Len(t, records, 1)
	assert.Equal(t, deliverable.KindAuditReport, records[0].Kind)
	assert.NotEmpty(t, records[0].Body)
}

func TestResumeReusesCompletedStageArtifacts(t *testing.T) {
	f := newFixture(t)
	f.mock.WithResponse("infrastructure_auditor", "audit findings v1")
	f.mock.WithAgentError("strategy_director", errors.New("upstream down"))
	run := f.startRun(t)
	require.NoError(t, f.coordinator.Execute(context.Background(), run.ID))

	auditCallsAfterFailure := len(f.mock.CallsFor("infrastructure_auditor"))

	// Backend recovers; re-execute.
	f.mock.WithAgentError("strategy_director", nil)
	f.setGateScore(8.0)
	require.NoError(t, f.coordinator.Execute(context.Background(), run.ID))

	got := f.reload(t, run.ID)
	assert.Equal(t, audit.RunCompleted, got.State)
	assert.Equal(t, auditCallsAfterFailure, len(f.mock.CallsFor("infrastructure_auditor")),
		"the audit stage must not re-run on resume")

	strategyCalls := f.mock.CallsFor("strategy_director")
	assert.Contains(t, strategyCalls[len(strategyCalls)-1].UserMessage, "audit findings v1",
		"resume must reuse the original audit artifact")

	assert.Len(t, f.store.Deliverables(), 4,
		"a resumed run must not accumulate orphaned records")
}

func TestExecuteCompletedRunIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.setGateScore(8.0)
	run := f.startRun(t)
	require.NoError(t, f.coordinator.Execute(context.Background(), run.ID))
	calls := f.mock.CallCount()

	require.NoError(t, f.coordinator.Execute(context.Background(), run.ID))
	assert.Equal(t, calls, f.mock.CallCount(), "redelivered completed run must not re-execute")
}

func TestExecutePublishesCompletionEvent(t *testing.T) {
	f := newFixture(t)
	f.setGateScore(9.2)
	run := f.startRun(t)
	require.NoError(t, f.coordinator.Execute(context.Background(), run.ID))
	f.bus.Flush()

	completed := f.sink.OfType(events.TypeAuditRunCompleted)
	require.Len(t, completed, 1)
	ev := completed[0].(events.AuditRunCompleted)
	assert.Equal(t, run.ID, ev.RunID)
	assert.Equal(t, "completed", ev.State)
	assert.True(t, ev.GatePassed)
}

// =============================================================================
// PRE-AUDIT
// =============================================================================

func preAuditRecord(t *testing.T, f *fixture) *deliverable.Deliverable {
	t.Helper()
	d := deliverable.New(deliverable.KindPreAudit, "client-1")
	require.NoError(t, f.store.CreateDeliverable(context.Background(), d))
	return d
}

func TestPreAuditMergesThreeAnalyses(t *testing.T) {
	f := newFixture(t)
	f.mock.WithResponse("infrastructure_auditor", "angle findings")
	d := preAuditRecord(t, f)

	require.NoError(t, f.coordinator.PreAudit(context.Background(), d.ID, "profile"))

	got, err := f.store.GetDeliverable(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, f.mock.CallCount())
	assert.Contains(t, got.Body, "Pre-Audit Findings")
	assert.Contains(t, got.Body, "web presence")
	assert.Contains(t, got.Body, "search visibility")
	assert.Contains(t, got.Body, "tracking and analytics")
	assert.InDelta(t, 0.03, got.CostAccumulated, 1e-9)
}

func TestPreAuditSurvivesPartialFailure(t *testing.T) {
	f := newFixture(t)
	var calls atomic.Int32
	f.mock.CompleteFunc = func(_ context.Context, req completion.Request) (*completion.Response, error) {
		if calls.Add(1) == 2 {
			return nil, errors.New("angle failed")
		}
		return &completion.Response{Content: "findings", Model: req.Model, Cost: 0.01}, nil
	}
	d := preAuditRecord(t, f)

	require.NoError(t, f.coordinator.PreAudit(context.Background(), d.ID, "profile"))

	got, err := f.store.GetDeliverable(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Contains(t, got.Body, "Analysis unavailable")
	assert.Contains(t, got.Body, "findings")
}

func TestPreAuditAllFailuresError(t *testing.T) {
	f := newFixture(t)
	f.mock.WithError(errors.New("backend down"))
	d := preAuditRecord(t, f)

	err := f.coordinator.PreAudit(context.Background(), d.ID, "profile")
	require.Error(t, err)
	got, lookupErr := f.store.GetDeliverable(context.Background(), d.ID)
	require.NoError(t, lookupErr)
	assert.Empty(t, got.Body)
}

func TestPreAuditRedeliveryIsNoOp(t *testing.T) {
	f := newFixture(t)
	d := preAuditRecord(t, f)
	require.NoError(t, f.coordinator.PreAudit(context.Background(), d.ID, "profile"))
	calls := f.mock.CallCount()

	require.NoError(t, f.coordinator.PreAudit(context.Background(), d.ID, "profile"))
	assert.Equal(t, calls, f.mock.CallCount())
}
