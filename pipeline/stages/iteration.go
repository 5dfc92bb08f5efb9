package stages

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/apexmarketing/contentpipeline/pipeline/capability"
	"github.com/apexmarketing/contentpipeline/pipeline/deliverable"
	"github.com/apexmarketing/contentpipeline/pipeline/events"
	"github.com/apexmarketing/contentpipeline/pipeline/logging"
	"github.com/apexmarketing/contentpipeline/pipeline/observability"
)

// IterateInput carries the feedback and enrichment for an iteration stage.
// Iteration is the revision count the requester observed; a redelivered job
// whose count no longer matches the record has already been applied.
type IterateInput struct {
	DeliverableID string
	Iteration     int
	Feedback      string
	BrandVoice    string
}

// Iterate revises the deliverable body against feedback, or escalates when
// the iteration budget is exhausted.
//
// The ceiling is checked before any completion call: once IterationCount has
// reached the maximum, the record escalates with its body untouched and no
// backend tokens spent. Escalation is a successful stage outcome, not an
// error, so the job is never retried.
func (s *Stages) Iterate(ctx context.Context, in IterateInput) (err error) {
	ctx, span := observability.StartSpan(ctx, "stages.Iterate",
		attribute.String("deliverable.id", in.DeliverableID))
	defer span.End()
	start := time.Now()
	defer func() { observeStage("iteration", start, err) }()
	log := s.logger.Bind("stage", "iteration", "deliverable_id", in.DeliverableID)

	d, err := s.store.GetDeliverable(ctx, in.DeliverableID)
	if err != nil {
		return fmt.Errorf("iteration: load %s: %w", in.DeliverableID, err)
	}
	if d.Status.IsTerminalForAutomation() {
		log.Info("record terminal for automation, skipping", "status", string(d.Status))
		return nil
	}
	if in.Iteration != d.IterationCount {
		log.Info("revision already applied, skipping redelivery",
			"requested_iteration", in.Iteration, "current_iteration", d.IterationCount)
		return nil
	}

	if d.IterationCount >= s.settings.MaxIterations {
		return s.escalate(ctx, d, log)
	}

	feedback := in.Feedback
	if feedback == "" {
		feedback = d.LatestFeedback()
	}
	if feedback == "" {
		return fmt.Errorf("iteration: deliverable %s has no feedback to iterate on", d.ID)
	}

	agent, err := s.registry.ForKind(d.Kind)
	if err != nil {
		return fmt.Errorf("iteration: %w", err)
	}

	tc := s.taskContext(d, capability.Context{capability.CtxBrandVoice: in.BrandVoice})
	resp, err := agent.Iterate(ctx, d.Body, feedback, tc)
	if err != nil {
		return fmt.Errorf("iteration: %w", err)
	}

	d.Versions = append(d.Versions, deliverable.VersionEntry{
		Iteration:   d.IterationCount,
		BodyExcerpt: excerpt(d.Body, s.settings.ExcerptLength),
		Feedback:    feedback,
		Timestamp:   time.Now().UTC(),
	})
	d.Body = resp.Content
	d.IterationCount++
	d.Status = deliverable.StatusDraft
	d.ModelUsed = resp.Model
	d.CostAccumulated += resp.Cost

	if err := s.store.UpdateDeliverable(ctx, d); err != nil {
		return fmt.Errorf("iteration: persist %s: %w", d.ID, err)
	}
	s.recordUsage(ctx, d, agent.Name(), resp)

	log.Info("revision produced",
		"iteration", d.IterationCount,
		"agent", agent.Name(),
		"cost", resp.Cost)
	return nil
}

func (s *Stages) escalate(ctx context.Context, d *deliverable.Deliverable, log logging.Logger) error {
	if !d.Status.CanTransition(deliverable.StatusEscalated) {
		return fmt.Errorf("iteration: deliverable %s cannot move from %s to %s",
			d.ID, d.Status, deliverable.StatusEscalated)
	}
	d.Status = deliverable.StatusEscalated
	d.ReviewNotes = fmt.Sprintf("escalated: maximum iterations (%d) exceeded without approval", s.settings.MaxIterations)

	if err := s.store.UpdateDeliverable(ctx, d); err != nil {
		return fmt.Errorf("iteration: persist escalation of %s: %w", d.ID, err)
	}
	observability.RecordEscalation()

	var lastScore float64
	if e := d.LatestScore(); e != nil {
		lastScore = e.CombinedScore
	}
	s.bus.Publish(ctx, events.EscalationRaised{
		DeliverableID: d.ID,
		ClientID:      d.ClientID,
		Kind:          string(d.Kind),
		Iterations:    d.IterationCount,
		LastScore:     lastScore,
		Timestamp:     time.Now().UTC(),
	})

	log.Info("escalated to human review", "iterations", d.IterationCount, "last_score", lastScore)
	return nil
}

// excerpt truncates s to at most n runes.
func excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
