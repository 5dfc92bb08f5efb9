// Package stages implements the three deliverable pipeline stages:
// generation, review, and iteration. Each stage loads the record, performs
// its work, and persists the outcome in a single update, so partially applied
// results never become visible.
//
// Stages are invoked at least once; every stage checks persisted state first
// and degrades redelivery to a no-op.
package stages

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/apexmarketing/contentpipeline/pipeline/capability"
	"github.com/apexmarketing/contentpipeline/pipeline/completion"
	"github.com/apexmarketing/contentpipeline/pipeline/config"
	"github.com/apexmarketing/contentpipeline/pipeline/deliverable"
	"github.com/apexmarketing/contentpipeline/pipeline/events"
	"github.com/apexmarketing/contentpipeline/pipeline/logging"
	"github.com/apexmarketing/contentpipeline/pipeline/observability"
)

// Stages bundles the dependencies shared by all deliverable stages.
type Stages struct {
	store    deliverable.Store
	registry *capability.Registry
	settings *config.Settings
	bus      *events.Bus
	logger   logging.Logger
}

// New constructs the stage set.
func New(store deliverable.Store, registry *capability.Registry, settings *config.Settings, bus *events.Bus, logger logging.Logger) *Stages {
	return &Stages{
		store:    store,
		registry: registry,
		settings: settings,
		bus:      bus,
		logger:   logger.Bind("component", "stages"),
	}
}

// recordUsage persists one completion call against the deliverable. Usage is
// bookkeeping; a write failure is logged, not propagated, so it can never
// fail a stage whose content work already succeeded.
func (s *Stages) recordUsage(ctx context.Context, d *deliverable.Deliverable, agent string, resp *completion.Response) {
	err := s.store.AppendUsage(ctx, deliverable.UsageRecord{
		ID:            uuid.NewString(),
		DeliverableID: d.ID,
		AgentName:     agent,
		Model:         resp.Model,
		InputTokens:   resp.InputTokens,
		OutputTokens:  resp.OutputTokens,
		Cost:          resp.Cost,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn("usage record write failed", "deliverable_id", d.ID, "error", err)
	}
}

func (s *Stages) taskContext(d *deliverable.Deliverable, extra capability.Context) capability.Context {
	tc := capability.Context{}
	for k, v := range extra {
		tc[k] = v
	}
	if d.Language != "" {
		tc[capability.CtxLanguage] = d.Language
	}
	return tc
}

func observeStage(stage string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	observability.RecordStageExecution(stage, status, int(time.Since(start).Milliseconds()))
}
