// Package service exposes the pipeline's operations: request generation,
// review, iteration, audit runs, and pre-audits. It owns job payload formats
// and the mapping between public requests and queued stage work.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/apexmarketing/contentpipeline/pipeline/audit"
	"github.com/apexmarketing/contentpipeline/pipeline/config"
	"github.com/apexmarketing/contentpipeline/pipeline/deliverable"
	"github.com/apexmarketing/contentpipeline/pipeline/logging"
	"github.com/apexmarketing/contentpipeline/pipeline/queue"
	"github.com/apexmarketing/contentpipeline/pipeline/stages"
)

// Job names.
const (
	JobGenerate = "deliverable.generate"
	JobReview   = "deliverable.review"
	JobIterate  = "deliverable.iterate"
	JobAuditRun = "audit.run"
	JobPreAudit = "audit.pre_audit"
)

// Registrar is the consumer-side queue contract: handler registration plus
// enqueueing.
type Registrar interface {
	queue.Enqueuer
	Register(jobName string, handler queue.Handler, opts ...queue.Option)
}

// =============================================================================
// JOB PAYLOADS
// =============================================================================

type generatePayload struct {
	DeliverableID  string `json:"deliverable_id"`
	Task           string `json:"task"`
	ClientName     string `json:"client_name,omitempty"`
	BrandVoice     string `json:"brand_voice,omitempty"`
	AdditionalData string `json:"additional_data,omitempty"`
}

type reviewPayload struct {
	DeliverableID string `json:"deliverable_id"`
	BrandVoice    string `json:"brand_voice,omitempty"`
}

type iteratePayload struct {
	DeliverableID string `json:"deliverable_id"`
	Iteration     int    `json:"iteration"`
	Feedback      string `json:"feedback,omitempty"`
	BrandVoice    string `json:"brand_voice,omitempty"`
}

type auditRunPayload struct {
	RunID string `json:"run_id"`
}

type preAuditPayload struct {
	DeliverableID string `json:"deliverable_id"`
	ClientProfile string `json:"client_profile"`
}

// =============================================================================
// PIPELINE SERVICE
// =============================================================================

// Pipeline is the public entry point to the deliverable and audit pipelines.
type Pipeline struct {
	store       deliverable.Store
	stages      *stages.Stages
	coordinator *audit.Coordinator
	queue       Registrar
	settings    *config.Settings
	logger      logging.Logger
}

// New constructs the service and registers its job handlers on the queue.
func New(store deliverable.Store, st *stages.Stages, coordinator *audit.Coordinator, q Registrar, settings *config.Settings, logger logging.Logger) *Pipeline {
	p := &Pipeline{
		store:       store,
		stages:      st,
		coordinator: coordinator,
		queue:       q,
		settings:    settings,
		logger:      logger.Bind("component", "service"),
	}
	p.registerHandlers()
	return p
}

func (p *Pipeline) registerHandlers() {
	stageTimeout := time.Duration(p.settings.StageTimeout) * time.Second
	runTimeout := time.Duration(p.settings.AuditRunTimeout) * time.Second

	p.queue.Register(JobGenerate, p.handleGenerate, queue.WithTimeout(stageTimeout))
	p.queue.Register(JobReview, p.handleReview, queue.WithTimeout(stageTimeout))
	p.queue.Register(JobIterate, p.handleIterate, queue.WithTimeout(stageTimeout))
	p.queue.Register(JobAuditRun, p.handleAuditRun, queue.WithTimeout(runTimeout))
	p.queue.Register(JobPreAudit, p.handlePreAudit, queue.WithTimeout(stageTimeout))
}

// =============================================================================
// OPERATIONS
// =============================================================================

// GenerationRequest asks for a new deliverable.
type GenerationRequest struct {
	Kind           string `json:"kind"`
	Task           string `json:"task"`
	Title          string `json:"title,omitempty"`
	ClientID       string `json:"client_id,omitempty"`
	ClientName     string `json:"client_name,omitempty"`
	EngagementID   string `json:"engagement_id,omitempty"`
	Language       string `json:"language,omitempty"`
	BrandVoice     string `json:"brand_voice,omitempty"`
	AdditionalData string `json:"additional_data,omitempty"`
}

// RequestGeneration validates the request, creates the deliverable record,
// and queues the generation stage. The record exists before the job does, so
// redelivered jobs always find it; unsupported kinds are rejected here,
// before anything is persisted or queued.
func (p *Pipeline) RequestGeneration(ctx context.Context, req GenerationRequest) (*deliverable.Deliverable, error) {
	kind, err := deliverable.KindFromString(req.Kind)
	if err != nil {
		return nil, err
	}
	if req.Task == "" {
		return nil, fmt.Errorf("generation request requires a task")
	}

	d := deliverable.New(kind, req.ClientID)
	d.Title = req.Title
	d.EngagementID = req.EngagementID
	if req.Language != "" {
		d.Language = req.Language
	}
	if err := p.store.CreateDeliverable(ctx, d); err != nil {
		return nil, fmt.Errorf("create deliverable: %w", err)
	}

	payload, _ := json.Marshal(generatePayload{
		DeliverableID:  d.ID,
		Task:           req.Task,
		ClientName:     req.ClientName,
		BrandVoice:     req.BrandVoice,
		AdditionalData: req.AdditionalData,
	})
	if _, err := p.queue.Enqueue(ctx, JobGenerate, payload); err != nil {
		return nil, fmt.Errorf("enqueue generation: %w", err)
	}

	p.logger.Info("generation requested", "deliverable_id", d.ID, "kind", req.Kind)
	return d, nil
}

// RequestReview queues the review stage for an existing deliverable.
func (p *Pipeline) RequestReview(ctx context.Context, deliverableID, brandVoice string) error {
	if _, err := p.store.GetDeliverable(ctx, deliverableID); err != nil {
		return err
	}
	payload, _ := json.Marshal(reviewPayload{DeliverableID: deliverableID, BrandVoice: brandVoice})
	if _, err := p.queue.Enqueue(ctx, JobReview, payload); err != nil {
		return fmt.Errorf("enqueue review: %w", err)
	}
	p.logger.Info("review requested", "deliverable_id", deliverableID)
	return nil
}

// RequestIteration queues the iteration stage for an existing deliverable.
// The payload pins the revision count observed here, so a redelivered job
// that already ran is detected instead of burning a second iteration.
func (p *Pipeline) RequestIteration(ctx context.Context, deliverableID, feedback, brandVoice string) error {
	d, err := p.store.GetDeliverable(ctx, deliverableID)
	if err != nil {
		return err
	}
	payload, _ := json.Marshal(iteratePayload{
		DeliverableID: deliverableID,
		Iteration:     d.IterationCount,
		Feedback:      feedback,
		BrandVoice:    brandVoice,
	})
	if _, err := p.queue.Enqueue(ctx, JobIterate, payload); err != nil {
		return fmt.Errorf("enqueue iteration: %w", err)
	}
	p.logger.Info("iteration requested", "deliverable_id", deliverableID)
	return nil
}

// StartAuditRun creates an audit run and queues its execution.
func (p *Pipeline) StartAuditRun(ctx context.Context, clientID, clientProfile string) (*audit.Run, error) {
	if clientID == "" {
		return nil, fmt.Errorf("audit run requires a client id")
	}
	run, err := p.coordinator.Start(ctx, clientID, clientProfile)
	if err != nil {
		return nil, err
	}
	payload, _ := json.Marshal(auditRunPayload{RunID: run.ID})
	if _, err := p.queue.Enqueue(ctx, JobAuditRun, payload); err != nil {
		return nil, fmt.Errorf("enqueue audit run: %w", err)
	}
	p.logger.Info("audit run requested", "run_id", run.ID, "client_id", clientID)
	return run, nil
}

// ResumeAuditRun re-queues execution of a run halted by a stage failure.
// Completed stages keep their artifacts; execution resumes at the first
// incomplete stage.
func (p *Pipeline) ResumeAuditRun(ctx context.Context, runID string) error {
	run, err := p.coordinator.Run(ctx, runID)
	if err != nil {
		return err
	}
	if run.State == audit.RunCompleted {
		return fmt.Errorf("audit run %s already completed", runID)
	}
	payload, _ := json.Marshal(auditRunPayload{RunID: runID})
	if _, err := p.queue.Enqueue(ctx, JobAuditRun, payload); err != nil {
		return fmt.Errorf("enqueue audit run: %w", err)
	}
	p.logger.Info("audit run resume requested", "run_id", runID)
	return nil
}

// RequestPreAudit creates a pre_audit deliverable and queues the three-angle
// prospect analysis.
func (p *Pipeline) RequestPreAudit(ctx context.Context, clientID, clientProfile string) (*deliverable.Deliverable, error) {
	if clientProfile == "" {
		return nil, fmt.Errorf("pre-audit requires a client profile")
	}
	d := deliverable.New(deliverable.KindPreAudit, clientID)
	d.Title = "Pre-Audit"
	if err := p.store.CreateDeliverable(ctx, d); err != nil {
		return nil, fmt.Errorf("create pre-audit deliverable: %w", err)
	}
	payload, _ := json.Marshal(preAuditPayload{DeliverableID: d.ID, ClientProfile: clientProfile})
	if _, err := p.queue.Enqueue(ctx, JobPreAudit, payload); err != nil {
		return nil, fmt.Errorf("enqueue pre-audit: %w", err)
	}
	p.logger.Info("pre-audit requested", "deliverable_id", d.ID, "client_id", clientID)
	return d, nil
}

// GetDeliverable returns a deliverable by id.
func (p *Pipeline) GetDeliverable(ctx context.Context, id string) (*deliverable.Deliverable, error) {
	return p.store.GetDeliverable(ctx, id)
}

// GetAuditRun returns an audit run by id.
func (p *Pipeline) GetAuditRun(ctx context.Context, id string) (*audit.Run, error) {
	return p.coordinator.Run(ctx, id)
}

// Resolve approves or rejects a deliverable that passed review. This is the
// human decision point; automation never sets approved or rejected.
func (p *Pipeline) Resolve(ctx context.Context, id string, approve bool, notes string) (*deliverable.Deliverable, error) {
	d, err := p.store.GetDeliverable(ctx, id)
	if err != nil {
		return nil, err
	}
	target := deliverable.StatusApproved
	if !approve {
		target = deliverable.StatusRejected
	}
	if !d.Status.CanTransition(target) {
		return nil, fmt.Errorf("deliverable %s cannot move from %s to %s", id, d.Status, target)
	}
	d.Status = target
	if notes != "" {
		d.ReviewNotes = notes
	}
	if err := p.store.UpdateDeliverable(ctx, d); err != nil {
		return nil, err
	}
	p.logger.Info("deliverable resolved", "deliverable_id", id, "status", string(target))
	return d, nil
}

// =============================================================================
// JOB HANDLERS
// =============================================================================

func (p *Pipeline) handleGenerate(ctx context.Context, raw []byte) error {
	var payload generatePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("decode generate payload: %w", err)
	}
	return p.stages.Generate(ctx, stages.GenerateInput{
		DeliverableID:  payload.DeliverableID,
		Task:           payload.Task,
		ClientName:     payload.ClientName,
		BrandVoice:     payload.BrandVoice,
		AdditionalData: payload.AdditionalData,
	})
}

func (p *Pipeline) handleReview(ctx context.Context, raw []byte) error {
	var payload reviewPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("decode review payload: %w", err)
	}
	return p.stages.Review(ctx, stages.ReviewInput{
		DeliverableID: payload.DeliverableID,
		BrandVoice:    payload.BrandVoice,
	})
}

func (p *Pipeline) handleIterate(ctx context.Context, raw []byte) error {
	var payload iteratePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("decode iterate payload: %w", err)
	}
	return p.stages.Iterate(ctx, stages.IterateInput{
		DeliverableID: payload.DeliverableID,
		Iteration:     payload.Iteration,
		Feedback:      payload.Feedback,
		BrandVoice:    payload.BrandVoice,
	})
}

func (p *Pipeline) handleAuditRun(ctx context.Context, raw []byte) error {
	var payload auditRunPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("decode audit run payload: %w", err)
	}
	return p.coordinator.Execute(ctx, payload.RunID)
}

func (p *Pipeline) handlePreAudit(ctx context.Context, raw []byte) error {
	var payload preAuditPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("decode pre-audit payload: %w", err)
	}
	return p.coordinator.PreAudit(ctx, payload.DeliverableID, payload.ClientProfile)
}
