package audit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/apexmarketing/contentpipeline/pipeline/capability"
	"github.com/apexmarketing/contentpipeline/pipeline/deliverable"
)

// preAuditAngles are the three analyses run concurrently during a pre-audit.
// They are independent reads of the same client profile, so unlike the main
// audit chain there is no ordering between them.
var preAuditAngles = []struct {
	name string
	task string
}{
	{"web_presence", "Assess the client's website and overall web presence: site structure, performance signals, mobile readiness, and conversion paths."},
	{"search_visibility", "Assess the client's search visibility: indexing, on-page SEO health, keyword footprint, and local search presence."},
	{"tracking_and_analytics", "Assess the client's measurement setup: analytics coverage, conversion tracking, tag hygiene, and attribution gaps."},
}

// PreAudit runs a lightweight three-angle analysis of a prospect and stores
// the merged findings as a pre_audit deliverable. Individual angle failures
// are recorded in the findings rather than failing the whole pre-audit.
func (c *Coordinator) PreAudit(ctx context.Context, deliverableID, clientProfile string) error {
	log := c.logger.Bind("stage", "pre_audit", "deliverable_id", deliverableID)

	d, err := c.deliverable.GetDeliverable(ctx, deliverableID)
	if err != nil {
		return fmt.Errorf("pre-audit: load %s: %w", deliverableID, err)
	}
	if d.Body != "" {
		log.Info("pre-audit already produced, skipping redelivery")
		return nil
	}

	agent, err := c.registry.ForKind(deliverable.KindPreAudit)
	if err != nil {
		return fmt.Errorf("pre-audit: %w", err)
	}

	type angleResult struct {
		content string
		cost    float64
		err     error
	}
	results := make([]angleResult, len(preAuditAngles))

	var wg sync.WaitGroup
	for i, angle := range preAuditAngles {
		wg.Add(1)
		go func(idx int, task string) {
			defer wg.Done()
			resp, err := agent.Generate(ctx, task+"\n\nClient profile:\n"+clientProfile, capability.Context{})
			if err != nil {
				results[idx].err = err
				return
			}
			results[idx].content = resp.Content
			results[idx].cost = resp.Cost
		}(i, angle.task)
	}
	wg.Wait()

	var b strings.Builder
	b.WriteString("# Pre-Audit Findings\n\n")
	failures := 0
	for i, angle := range preAuditAngles {
		fmt.Fprintf(&b, "## %s\n\n", strings.ReplaceAll(angle.name, "_", " "))
		if results[i].err != nil {
			failures++
			fmt.Fprintf(&b, "_Analysis unavailable: %v_\n\n", results[i].err)
			continue
		}
		b.WriteString(results[i].content)
		b.WriteString("\n\n")
		d.CostAccumulated += results[i].cost
	}
	if failures == len(preAuditAngles) {
		return fmt.Errorf("pre-audit: all analyses failed, first error: %w", results[0].err)
	}

	d.Body = b.String()
	d.Status = deliverable.StatusDraft
	d.AgentUsed = agent.Name()
	if err := c.deliverable.UpdateDeliverable(ctx, d); err != nil {
		return fmt.Errorf("pre-audit: persist %s: %w", d.ID, err)
	}

	log.Info("pre-audit produced", "angles", len(preAuditAngles)-failures, "failed_angles", failures)
	return nil
}
