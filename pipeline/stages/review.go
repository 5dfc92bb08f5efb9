package stages

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/apexmarketing/contentpipeline/pipeline/capability"
	"github.com/apexmarketing/contentpipeline/pipeline/completion"
	"github.com/apexmarketing/contentpipeline/pipeline/deliverable"
	"github.com/apexmarketing/contentpipeline/pipeline/events"
	"github.com/apexmarketing/contentpipeline/pipeline/observability"
)

// ReviewInput carries the enrichment for a review stage.
type ReviewInput struct {
	DeliverableID string
	BrandVoice    string
}

type subCheck struct {
	name   string
	result *capability.ReviewResult
	resp   *completion.Response
	err    error
}

// Review runs the brand voice and quality sub-checks concurrently, combines
// their scores, and commits the outcome in one update.
//
// If either sub-check fails the stage fails whole: no score entry, no status
// change, nothing persisted. Review never mutates the body.
func (s *Stages) Review(ctx context.Context, in ReviewInput) (err error) {
	ctx, span := observability.StartSpan(ctx, "stages.Review",
		attribute.String("deliverable.id", in.DeliverableID))
	defer span.End()
	start := time.Now()
	defer func() { observeStage("review", start, err) }()
	log := s.logger.Bind("stage", "review", "deliverable_id", in.DeliverableID)

	d, err := s.store.GetDeliverable(ctx, in.DeliverableID)
	if err != nil {
		return fmt.Errorf("review: load %s: %w", in.DeliverableID, err)
	}
	if d.Status.IsTerminalForAutomation() {
		log.Info("record terminal for automation, skipping", "status", string(d.Status))
		return nil
	}
	if last := d.LatestScore(); last != nil && last.Iteration == d.IterationCount {
		log.Info("revision already reviewed, skipping redelivery", "iteration", d.IterationCount)
		return nil
	}
	if d.Body == "" {
		return fmt.Errorf("review: deliverable %s has no body to review", d.ID)
	}

	tc := s.taskContext(d, capability.Context{capability.CtxBrandVoice: in.BrandVoice})

	checks := [2]subCheck{
		{name: "brand_voice"},
		{name: "quality"},
	}
	reviewers := [2]*capability.Agent{s.registry.BrandVoice(), s.registry.QualityGate()}

	done := make(chan int, len(checks))
	for i := range checks {
		go func(idx int) {
			res, resp, err := reviewers[idx].Review(ctx, d.Body, tc)
			checks[idx].result = res
			checks[idx].resp = resp
			checks[idx].err = err
			done <- idx
		}(i)
	}
	for range checks {
		<-done
	}

	for _, c := range checks {
		if c.err != nil {
			return fmt.Errorf("review: %s sub-check: %w", c.name, c.err)
		}
	}

	brand, quality := checks[0].result, checks[1].result
	combined := s.settings.BrandVoiceWeight*brand.Score + s.settings.QualityWeight*quality.Score
	passed := combined >= s.settings.ApprovalThreshold

	target := deliverable.StatusDraft
	if passed {
		target = deliverable.StatusInReview
	}
	if !d.Status.CanTransition(target) {
		return fmt.Errorf("review: deliverable %s cannot move from %s to %s", d.ID, d.Status, target)
	}

	entry := deliverable.ScoreEntry{
		Iteration:       d.IterationCount,
		BrandVoiceScore: brand.Score,
		QualityScore:    quality.Score,
		CombinedScore:   combined,
		Feedback:        combineFeedback(brand, quality),
		Timestamp:       time.Now().UTC(),
	}
	d.ScoreHistory = append(d.ScoreHistory, entry)
	d.ReviewNotes = fmt.Sprintf("brand voice %.1f/10, quality %.1f/10, combined %.2f/10", brand.Score, quality.Score, combined)
	d.Status = target

	for _, c := range checks {
		d.CostAccumulated += c.resp.Cost
	}

	if err := s.store.UpdateDeliverable(ctx, d); err != nil {
		return fmt.Errorf("review: persist %s: %w", d.ID, err)
	}
	for i, c := range checks {
		s.recordUsage(ctx, d, reviewers[i].Name(), c.resp)
	}

	s.bus.Publish(ctx, events.DeliverableReviewed{
		DeliverableID: d.ID,
		ClientID:      d.ClientID,
		Kind:          string(d.Kind),
		CombinedScore: combined,
		Passed:        passed,
		Iteration:     d.IterationCount,
		Timestamp:     entry.Timestamp,
	})

	log.Info("review committed",
		"brand_voice", brand.Score,
		"quality", quality.Score,
		"combined", combined,
		"passed", passed)
	return nil
}

func combineFeedback(brand, quality *capability.ReviewResult) string {
	return fmt.Sprintf("Brand voice (%s):\n%s\n\nQuality (%s):\n%s",
		brand.Verdict, brand.Feedback, quality.Verdict, quality.Feedback)
}
