// Package deliverable defines the Deliverable record - the unit of work of
// the content pipeline - together with its status machine, score and version
// history, and the persistence contract.
//
// A Deliverable is one generated, reviewable, revisable content artifact. It
// is created in draft with no score history, mutated only by the pipeline
// stages, and never deleted by the pipeline.
package deliverable

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// STATUS
// =============================================================================

// Status represents the lifecycle state of a deliverable.
//
// Transitions are monotonic except rejected -> draft (resubmission).
// Escalated is terminal for automation: only a human can move the record on.
type Status string

const (
	// StatusDraft indicates content awaiting review or another iteration.
	StatusDraft Status = "draft"
	// StatusInReview indicates the combined review score passed the approval
	// threshold; the record is eligible for explicit human approval.
	StatusInReview Status = "in_review"
	// StatusApproved indicates explicit human approval.
	StatusApproved Status = "approved"
	// StatusRejected indicates explicit human rejection.
	StatusRejected Status = "rejected"
	// StatusEscalated indicates automation gave up: the iteration ceiling was
	// exceeded and a human must intervene.
	StatusEscalated Status = "escalated"
)

// StatusFromString parses a status string.
func StatusFromString(value string) (Status, error) {
	switch Status(value) {
	case StatusDraft, StatusInReview, StatusApproved, StatusRejected, StatusEscalated:
		return Status(value), nil
	default:
		return "", errors.New("invalid status '" + value + "'. Must be one of: draft, in_review, approved, rejected, escalated")
	}
}

// IsTerminalForAutomation returns true if the pipeline must not act on the
// record anymore.
func (s Status) IsTerminalForAutomation() bool {
	return s == StatusEscalated || s == StatusApproved
}

var statusTransitions = map[Status][]Status{
	StatusDraft:     {StatusDraft, StatusInReview, StatusEscalated},
	StatusInReview:  {StatusDraft, StatusApproved, StatusRejected},
	StatusApproved:  {},
	StatusRejected:  {StatusDraft},
	StatusEscalated: {},
}

// CanTransition reports whether moving from s to next is a legal transition.
func (s Status) CanTransition(next Status) bool {
	for _, t := range statusTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// =============================================================================
// KIND
// =============================================================================

// Kind is the enumerated content type of a deliverable. It determines which
// agent capability handles generation and iteration.
type Kind string

const (
	KindContentBrief     Kind = "content_brief"
	KindArticle          Kind = "article"
	KindBlogPost         Kind = "blog_post"
	KindEmailSequence    Kind = "email_sequence"
	KindAdCopy           Kind = "ad_copy"
	KindSEOPage          Kind = "seo_page"
	KindLandingPage      Kind = "landing_page"
	KindSocialPost       Kind = "social_post"
	KindVideoScript      Kind = "video_script"
	KindGMBPost          Kind = "gmb_post"
	KindReport           Kind = "report"
	KindPreAudit         Kind = "pre_audit"
	KindAuditReport      Kind = "audit_report"
	KindStrategyDocument Kind = "strategy_document"
	KindProposal         Kind = "proposal"
)

// Kinds returns every supported kind.
func Kinds() []Kind {
	return []Kind{
		KindContentBrief, KindArticle, KindBlogPost, KindEmailSequence,
		KindAdCopy, KindSEOPage, KindLandingPage, KindSocialPost,
		KindVideoScript, KindGMBPost, KindReport, KindPreAudit,
		KindAuditReport, KindStrategyDocument, KindProposal,
	}
}

// KindFromString parses a kind string. Unknown kinds fail closed.
func KindFromString(value string) (Kind, error) {
	for _, k := range Kinds() {
		if Kind(value) == k {
			return k, nil
		}
	}
	return "", errors.New("unsupported deliverable kind '" + value + "'")
}

// =============================================================================
// HISTORY ENTRIES
// =============================================================================

// ScoreEntry is one review outcome in a deliverable's score history.
type ScoreEntry struct {
	Iteration       int       `json:"iteration"`
	BrandVoiceScore float64   `json:"brand_voice_score"`
	QualityScore    float64   `json:"quality_score"`
	CombinedScore   float64   `json:"combined_score"`
	Feedback        string    `json:"feedback"`
	Timestamp       time.Time `json:"timestamp"`
}

// VersionEntry records a superseded body revision.
type VersionEntry struct {
	Iteration   int       `json:"iteration"`
	BodyExcerpt string    `json:"body_excerpt"`
	Feedback    string    `json:"feedback"`
	Timestamp   time.Time `json:"timestamp"`
}

// UsageRecord is one completion call attributed to a deliverable.
type UsageRecord struct {
	ID            string    `json:"id"`
	DeliverableID string    `json:"deliverable_id"`
	AgentName     string    `json:"agent_name"`
	Model         string    `json:"model"`
	InputTokens   int       `json:"input_tokens"`
	OutputTokens  int       `json:"output_tokens"`
	Cost          float64   `json:"cost"`
	CreatedAt     time.Time `json:"created_at"`
}

// =============================================================================
// DELIVERABLE
// =============================================================================

// Deliverable is one content artifact plus its status, score history, and
// iteration count. Exactly one live body version; previous versions are
// retained in Versions, not as separate live records.
type Deliverable struct {
	ID           string `json:"id"`
	ClientID     string `json:"client_id,omitempty"`
	EngagementID string `json:"engagement_id,omitempty"`

	Kind   Kind   `json:"kind"`
	Title  string `json:"title,omitempty"`
	Status Status `json:"status"`
	Body   string `json:"body"`

	ScoreHistory   []ScoreEntry   `json:"score_history,omitempty"`
	Versions       []VersionEntry `json:"versions,omitempty"`
	IterationCount int            `json:"iteration_count"`

	ReviewNotes     string  `json:"review_notes,omitempty"`
	AgentUsed       string  `json:"agent_used,omitempty"`
	ModelUsed       string  `json:"model_used,omitempty"`
	CostAccumulated float64 `json:"cost_accumulated"`
	Language        string  `json:"language,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a deliverable in draft with no score history.
func New(kind Kind, clientID string) *Deliverable {
	now := time.Now().UTC()
	return &Deliverable{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		Kind:      kind,
		Status:    StatusDraft,
		Language:  "en",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// LatestScore returns the most recent score entry, or nil.
func (d *Deliverable) LatestScore() *ScoreEntry {
	if len(d.ScoreHistory) == 0 {
		return nil
	}
	return &d.ScoreHistory[len(d.ScoreHistory)-1]
}

// LatestFeedback returns the feedback of the most recent review, or "".
func (d *Deliverable) LatestFeedback() string {
	if e := d.LatestScore(); e != nil {
		return e.Feedback
	}
	return ""
}

// Clone returns a deep copy, so read-only projections cannot alias pipeline
// state.
func (d *Deliverable) Clone() *Deliverable {
	out := *d
	out.ScoreHistory = append([]ScoreEntry(nil), d.ScoreHistory...)
	out.Versions = append([]VersionEntry(nil), d.Versions...)
	return &out
}

// =============================================================================
// PERSISTENCE CONTRACT
// =============================================================================

// ErrNotFound is returned when a deliverable does not exist.
var ErrNotFound = errors.New("deliverable not found")

// Store is the persistence contract for deliverables.
//
// The scheduler guarantees at most one in-flight stage invocation per
// deliverable id, so Store implementations need no per-record locking beyond
// ordinary thread safety.
type Store interface {
	CreateDeliverable(ctx context.Context, d *Deliverable) error
	GetDeliverable(ctx context.Context, id string) (*Deliverable, error)
	UpdateDeliverable(ctx context.Context, d *Deliverable) error

	// UpdateStatuses sets the status of every listed deliverable in one
	// atomic operation. Used by the audit coordinator's gate propagation.
	UpdateStatuses(ctx context.Context, ids []string, status Status) error

	// AppendUsage records one completion call for cost attribution.
	AppendUsage(ctx context.Context, u UsageRecord) error
}
