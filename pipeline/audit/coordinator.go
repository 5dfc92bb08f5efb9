package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/apexmarketing/contentpipeline/pipeline/capability"
	"github.com/apexmarketing/contentpipeline/pipeline/config"
	"github.com/apexmarketing/contentpipeline/pipeline/deliverable"
	"github.com/apexmarketing/contentpipeline/pipeline/events"
	"github.com/apexmarketing/contentpipeline/pipeline/logging"
	"github.com/apexmarketing/contentpipeline/pipeline/observability"
)

// Coordinator drives audit runs through their stage chain.
type Coordinator struct {
	runs        RunStore
	deliverable deliverable.Store
	registry    *capability.Registry
	settings    *config.Settings
	bus         *events.Bus
	logger      logging.Logger
}

// NewCoordinator constructs a coordinator.
func NewCoordinator(runs RunStore, ds deliverable.Store, registry *capability.Registry, settings *config.Settings, bus *events.Bus, logger logging.Logger) *Coordinator {
	return &Coordinator{
		runs:        runs,
		deliverable: ds,
		registry:    registry,
		settings:    settings,
		bus:         bus,
		logger:      logger.Bind("component", "audit"),
	}
}

// Start creates a new pending run.
func (c *Coordinator) Start(ctx context.Context, clientID, clientProfile string) (*Run, error) {
	run := NewRun(clientID, clientProfile)
	if err := c.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create audit run: %w", err)
	}
	c.logger.Info("audit run created", "run_id", run.ID, "client_id", clientID)
	return run, nil
}

// Run returns a run by id.
func (c *Coordinator) Run(ctx context.Context, id string) (*Run, error) {
	return c.runs.GetRun(ctx, id)
}

// Execute advances the run through its remaining stages in order.
//
// Redelivery of a completed run is a no-op. A run that previously failed
// mid-chain resumes at the first incomplete stage, reusing the artifacts of
// completed stages. A stage failure is recorded on the run as stage_failed
// and execution stops; the failure is not returned as an error, so the job
// is not retried blindly (re-execution is an explicit request).
func (c *Coordinator) Execute(ctx context.Context, runID string) (err error) {
	ctx, span := observability.StartSpan(ctx, "audit.Execute",
		attribute.String("run.id", runID))
	defer span.End()
	start := time.Now()
	run, err := c.runs.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("audit: load run %s: %w", runID, err)
	}
	log := c.logger.Bind("run_id", run.ID, "client_id", run.ClientID)

	if run.State == RunCompleted {
		log.Info("run already completed, skipping redelivery")
		return nil
	}

	run.State = RunRunning
	if err := c.runs.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("audit: persist run %s: %w", run.ID, err)
	}

	for {
		idx := run.NextStage()
		if idx < 0 {
			break
		}
		slot := &run.Stages[idx]
		if stageErr := c.executeStage(ctx, run, slot); stageErr != nil {
			slot.Failed = true
			slot.Error = stageErr.Error()
			run.State = RunStageFailed
			if err := c.runs.UpdateRun(ctx, run); err != nil {
				return fmt.Errorf("audit: persist failed run %s: %w", run.ID, err)
			}
			observability.RecordAuditRun("stage_failed", int(time.Since(start).Milliseconds()))
			c.publishCompleted(ctx, run)
			log.Warn("stage failed, run halted", "stage", string(slot.Stage), "error", stageErr)
			return nil
		}
		slot.Failed = false
		slot.Error = ""
		if err := c.runs.UpdateRun(ctx, run); err != nil {
			return fmt.Errorf("audit: persist run %s: %w", run.ID, err)
		}
	}

	if err := c.finalize(ctx, run); err != nil {
		return err
	}
	observability.RecordAuditRun("completed", int(time.Since(start).Milliseconds()))
	c.publishCompleted(ctx, run)
	log.Info("audit run completed", "gate_score", run.GateScore, "gate_passed", run.GatePassed(c.settings.ApprovalThreshold))
	return nil
}

// executeStage runs one stage: it assembles context from all prior stage
// outputs, generates the stage's deliverable, and for the quality gate also
// scores the assembled package.
func (c *Coordinator) executeStage(ctx context.Context, run *Run, slot *StageSlot) error {
	log := c.logger.Bind("run_id", run.ID, "stage", string(slot.Stage))

	prior, err := c.priorOutputs(ctx, run, slot.Stage)
	if err != nil {
		return err
	}

	kind := StageKinds[slot.Stage]
	agent, err := c.registry.ForKind(kind)
	if err != nil {
		return err
	}

	tc := capability.Context{
		capability.CtxClientName:     run.ClientID,
		capability.CtxAdditionalData: prior,
	}
	resp, err := agent.Generate(ctx, stageTask(slot.Stage, run.ClientProfile), tc)
	if err != nil {
		return fmt.Errorf("%s generation: %w", slot.Stage, err)
	}

	// The record is created only once generation has succeeded; a failed
	// stage leaves nothing behind for a resume to trip over.
	d := deliverable.New(kind, run.ClientID)
	d.EngagementID = run.ID
	d.Title = fmt.Sprintf("%s (%s)", stageTitle(slot.Stage), run.ClientID)
	d.Body = resp.Content
	d.AgentUsed = agent.Name()
	d.ModelUsed = resp.Model
	d.CostAccumulated = resp.Cost

	if slot.Stage == StageQualityGate {
		score, reviewCost, err := c.gateScore(ctx, run, d.Body)
		if err != nil {
			return err
		}
		run.GateScore = score
		d.CostAccumulated += reviewCost
	}

	if err := c.deliverable.CreateDeliverable(ctx, d); err != nil {
		return fmt.Errorf("create %s deliverable: %w", slot.Stage, err)
	}

	now := time.Now().UTC()
	slot.DeliverableID = d.ID
	slot.CompletedAt = &now
	log.Info("stage completed", "deliverable_id", d.ID, "cost", d.CostAccumulated)
	return nil
}

// priorOutputs collects the full bodies of every earlier stage. A completed
// slot whose deliverable cannot be loaded fails the stage rather than
// silently producing output from partial context.
func (c *Coordinator) priorOutputs(ctx context.Context, run *Run, upTo StageName) (string, error) {
	var b strings.Builder
	for _, slot := range run.Stages {
		if slot.Stage == upTo {
			break
		}
		if !slot.Done() {
			return "", fmt.Errorf("stage %s requires completed %s stage", upTo, slot.Stage)
		}
		d, err := c.deliverable.GetDeliverable(ctx, slot.DeliverableID)
		if err != nil {
			return "", fmt.Errorf("stage %s: load %s artifact %s: %w", upTo, slot.Stage, slot.DeliverableID, err)
		}
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", stageTitle(slot.Stage), d.Body)
	}
	return b.String(), nil
}

// gateScore has the quality reviewer score the assembled package of all
// prior stage outputs plus the gate report itself.
func (c *Coordinator) gateScore(ctx context.Context, run *Run, gateReport string) (float64, float64, error) {
	prior, err := c.priorOutputs(ctx, run, StageQualityGate)
	if err != nil {
		return 0, 0, err
	}
	pkg := prior + "## " + stageTitle(StageQualityGate) + "\n\n" + gateReport
	result, resp, err := c.registry.QualityGate().Review(ctx, pkg, capability.Context{})
	if err != nil {
		return 0, 0, fmt.Errorf("quality gate review: %w", err)
	}
	return result.Score, resp.Cost, nil
}

// finalize marks the run completed and propagates the gate outcome to all of
// the run's deliverables in one atomic status update.
func (c *Coordinator) finalize(ctx context.Context, run *Run) error {
	run.State = RunCompleted
	if run.GateScore >= c.settings.ApprovalThreshold {
		if err := c.deliverable.UpdateStatuses(ctx, run.DeliverableIDs(), GatePass); err != nil {
			return fmt.Errorf("audit: propagate gate pass on run %s: %w", run.ID, err)
		}
	}
	if err := c.runs.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("audit: persist completed run %s: %w", run.ID, err)
	}
	return nil
}

func (c *Coordinator) publishCompleted(ctx context.Context, run *Run) {
	c.bus.Publish(ctx, events.AuditRunCompleted{
		RunID:      run.ID,
		ClientID:   run.ClientID,
		State:      string(run.State),
		GateScore:  run.GateScore,
		GatePassed: run.GatePassed(c.settings.ApprovalThreshold),
		Timestamp:  time.Now().UTC(),
	})
}

func stageTitle(name StageName) string {
	switch name {
	case StageAudit:
		return "Audit Report"
	case StageStrategy:
		return "Strategy Document"
	case StageProposal:
		return "Proposal"
	case StageQualityGate:
		return "Quality Gate Report"
	}
	return string(name)
}

func stageTask(name StageName, clientProfile string) string {
	switch name {
	case StageAudit:
		return "Audit this client's marketing infrastructure and report your findings.\n\nClient profile:\n" + clientProfile
	case StageStrategy:
		return "Produce a marketing strategy document grounded in the audit findings provided in the additional context.\n\nClient profile:\n" + clientProfile
	case StageProposal:
		return "Produce a commercial proposal implementing the strategy provided in the additional context.\n\nClient profile:\n" + clientProfile
	case StageQualityGate:
		return "Produce a quality gate report assessing the audit, strategy, and proposal in the additional context for consistency, completeness, and client readiness.\n\nClient profile:\n" + clientProfile
	}
	return clientProfile
}
