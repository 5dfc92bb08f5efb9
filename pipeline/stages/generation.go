package stages

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/apexmarketing/contentpipeline/pipeline/capability"
	"github.com/apexmarketing/contentpipeline/pipeline/deliverable"
	"github.com/apexmarketing/contentpipeline/pipeline/observability"
)

// GenerateInput carries the task and enrichment for a generation stage.
type GenerateInput struct {
	DeliverableID  string
	Task           string
	ClientName     string
	BrandVoice     string
	AdditionalData string
}

// Generate produces the initial body for a pre-created deliverable record.
//
// The record is created before the job is enqueued, so redelivery finds it
// by id. A record whose body is already populated means a previous delivery
// completed; the stage returns without calling the completion backend.
func (s *Stages) Generate(ctx context.Context, in GenerateInput) (err error) {
	ctx, span := observability.StartSpan(ctx, "stages.Generate",
		attribute.String("deliverable.id", in.DeliverableID))
	defer span.End()
	start := time.Now()
	defer func() { observeStage("generation", start, err) }()
	log := s.logger.Bind("stage", "generation", "deliverable_id", in.DeliverableID)

	d, err := s.store.GetDeliverable(ctx, in.DeliverableID)
	if err != nil {
		return fmt.Errorf("generation: load %s: %w", in.DeliverableID, err)
	}
	if d.Body != "" {
		log.Info("body already generated, skipping redelivery")
		return nil
	}

	agent, err := s.registry.ForKind(d.Kind)
	if err != nil {
		return fmt.Errorf("generation: %w", err)
	}

	tc := s.taskContext(d, capability.Context{
		capability.CtxClientName:     in.ClientName,
		capability.CtxBrandVoice:     in.BrandVoice,
		capability.CtxAdditionalData: in.AdditionalData,
	})

	resp, err := agent.Generate(ctx, in.Task, tc)
	if err != nil {
		return fmt.Errorf("generation: %w", err)
	}

	d.Body = resp.Content
	d.Status = deliverable.StatusDraft
	d.IterationCount = 0
	d.AgentUsed = agent.Name()
	d.ModelUsed = resp.Model
	d.CostAccumulated += resp.Cost

	if err := s.store.UpdateDeliverable(ctx, d); err != nil {
		return fmt.Errorf("generation: persist %s: %w", d.ID, err)
	}
	s.recordUsage(ctx, d, agent.Name(), resp)

	log.Info("content generated",
		"kind", string(d.Kind),
		"agent", agent.Name(),
		"model", resp.Model,
		"cost", resp.Cost)
	return nil
}
