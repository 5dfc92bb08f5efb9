// Package audit implements the multi-stage audit pipeline: a strict
// sequential chain of audit, strategy, proposal, and quality gate stages,
// each producing a deliverable consumed by the next.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/apexmarketing/contentpipeline/pipeline/deliverable"
)

// =============================================================================
// RUN STATE
// =============================================================================

// RunState is the lifecycle state of an audit run.
type RunState string

const (
	RunPending     RunState = "pending"
	RunRunning     RunState = "running"
	RunStageFailed RunState = "stage_failed"
	RunCompleted   RunState = "completed"
)

// RunStateFromString parses a run state string.
func RunStateFromString(value string) (RunState, error) {
	switch RunState(value) {
	case RunPending, RunRunning, RunStageFailed, RunCompleted:
		return RunState(value), nil
	default:
		return "", errors.New("invalid audit run state '" + value + "'")
	}
}

// =============================================================================
// STAGES
// =============================================================================

// StageName identifies one stage of the audit chain.
type StageName string

const (
	StageAudit       StageName = "audit"
	StageStrategy    StageName = "strategy"
	StageProposal    StageName = "proposal"
	StageQualityGate StageName = "quality_gate"
)

// StageOrder is the fixed execution order. A stage never starts before every
// earlier stage has completed, and no stage enqueues itself.
var StageOrder = []StageName{StageAudit, StageStrategy, StageProposal, StageQualityGate}

// StageKinds maps each stage to the deliverable kind it produces.
var StageKinds = map[StageName]deliverable.Kind{
	StageAudit:       deliverable.KindAuditReport,
	StageStrategy:    deliverable.KindStrategyDocument,
	StageProposal:    deliverable.KindProposal,
	StageQualityGate: deliverable.KindReport,
}

// StageSlot records the outcome of one stage within a run.
type StageSlot struct {
	Stage         StageName  `json:"stage"`
	DeliverableID string     `json:"deliverable_id,omitempty"`
	Failed        bool       `json:"failed,omitempty"`
	Error         string     `json:"error,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Done reports whether the slot's stage completed successfully.
func (s StageSlot) Done() bool {
	return s.DeliverableID != "" && !s.Failed && s.CompletedAt != nil
}

// =============================================================================
// RUN
// =============================================================================

// GatePass is the status given to the run's deliverables when the quality
// gate passes; gate failure leaves them in draft.
const GatePass = deliverable.StatusInReview

// Run is one audit engagement: four stage slots executed in order, a gate
// score, and a lifecycle state.
type Run struct {
	ID            string      `json:"id"`
	ClientID      string      `json:"client_id"`
	ClientProfile string      `json:"client_profile,omitempty"`
	State         RunState    `json:"state"`
	Stages        []StageSlot `json:"stages"`
	GateScore     float64     `json:"gate_score"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// NewRun builds a pending run with one empty slot per stage.
func NewRun(clientID, clientProfile string) *Run {
	now := time.Now().UTC()
	stages := make([]StageSlot, 0, len(StageOrder))
	for _, name := range StageOrder {
		stages = append(stages, StageSlot{Stage: name})
	}
	return &Run{
		ID:            uuid.NewString(),
		ClientID:      clientID,
		ClientProfile: clientProfile,
		State:         RunPending,
		Stages:        stages,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// NextStage returns the index of the first stage that has not completed, or
// -1 if every stage is done. Re-execution after a mid-chain failure resumes
// here, reusing earlier stages' artifacts.
func (r *Run) NextStage() int {
	for i, slot := range r.Stages {
		if !slot.Done() {
			return i
		}
	}
	return -1
}

// Slot returns the slot for the named stage.
func (r *Run) Slot(name StageName) *StageSlot {
	for i := range r.Stages {
		if r.Stages[i].Stage == name {
			return &r.Stages[i]
		}
	}
	return nil
}

// DeliverableIDs returns the ids produced so far, in stage order.
func (r *Run) DeliverableIDs() []string {
	var ids []string
	for _, slot := range r.Stages {
		if slot.DeliverableID != "" {
			ids = append(ids, slot.DeliverableID)
		}
	}
	return ids
}

// GatePassed reports whether the quality gate score met the threshold.
func (r *Run) GatePassed(threshold float64) bool {
	return r.State == RunCompleted && r.GateScore >= threshold
}

// =============================================================================
// PERSISTENCE CONTRACT
// =============================================================================

// ErrRunNotFound is returned when an audit run does not exist.
var ErrRunNotFound = errors.New("audit run not found")

// RunStore is the persistence contract for audit runs.
type RunStore interface {
	CreateRun(ctx context.Context, r *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRun(ctx context.Context, r *Run) error
}
