// Package capability defines agent capabilities: named, validated generation
// profiles bound to a completion backend. A capability describes what an
// agent is good at (instructions, tier, sampling parameters); an Agent is a
// capability plus the machinery to generate, review, and iterate content.
package capability

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/apexmarketing/contentpipeline/pipeline/completion"
	"github.com/apexmarketing/contentpipeline/pipeline/config"
	"github.com/apexmarketing/contentpipeline/pipeline/logging"
)

// =============================================================================
// CAPABILITY
// =============================================================================

// Tier selects the model class backing a capability.
type Tier string

const (
	// TierFast maps to the default model for volume work.
	TierFast Tier = "fast"
	// TierPremium maps to the premium model for strategy and audit work.
	TierPremium Tier = "premium"
)

// LanguageMode controls whether a capability honors the task language.
type LanguageMode string

const (
	// LanguageSingle ignores the task language; output stays in the
	// capability's instruction language.
	LanguageSingle LanguageMode = "single"
	// LanguageBilingual appends a language directive when the task
	// language calls for one.
	LanguageBilingual LanguageMode = "bilingual"
)

// Capability is an immutable generation profile for one agent.
type Capability struct {
	Name            string
	Tier            Tier
	LanguageMode    LanguageMode
	Temperature     float64
	MaxOutputTokens int
	Instructions    string
}

// Validate checks the capability is internally consistent.
func (c Capability) Validate() error {
	if c.Name == "" {
		return errors.New("capability name must not be empty")
	}
	if c.Tier != TierFast && c.Tier != TierPremium {
		return fmt.Errorf("capability %s: invalid tier %q", c.Name, c.Tier)
	}
	if c.LanguageMode != LanguageSingle && c.LanguageMode != LanguageBilingual {
		return fmt.Errorf("capability %s: invalid language mode %q", c.Name, c.LanguageMode)
	}
	if c.Temperature < 0 || c.Temperature > 1 {
		return fmt.Errorf("capability %s: temperature must be in [0, 1]", c.Name)
	}
	if c.MaxOutputTokens <= 0 {
		return fmt.Errorf("capability %s: max output tokens must be positive", c.Name)
	}
	if strings.TrimSpace(c.Instructions) == "" {
		return fmt.Errorf("capability %s: instructions must not be empty", c.Name)
	}
	return nil
}

// Model resolves the concrete model id for this capability's tier.
func (c Capability) Model(settings *config.Settings) string {
	if c.Tier == TierPremium {
		return settings.PremiumModel
	}
	return settings.DefaultModel
}

// =============================================================================
// TASK CONTEXT
// =============================================================================

// Context keys recognized when enriching prompts.
const (
	CtxClientName     = "client_name"
	CtxLanguage       = "language"
	CtxBrandVoice     = "brand_voice"
	CtxAdditionalData = "additional_data"
)

// Context carries per-task enrichment for prompt construction.
type Context map[string]string

// =============================================================================
// AGENT
// =============================================================================

// Agent binds a capability to a completion backend.
type Agent struct {
	capability Capability
	completer  completion.Service
	settings   *config.Settings
	logger     logging.Logger
}

// NewAgent constructs an agent for the given capability.
func NewAgent(cap Capability, completer completion.Service, settings *config.Settings, logger logging.Logger) *Agent {
	return &Agent{
		capability: cap,
		completer:  completer,
		settings:   settings,
		logger:     logger.Bind("agent", cap.Name),
	}
}

// Name returns the agent's capability name.
func (a *Agent) Name() string { return a.capability.Name }

// systemInstruction assembles the system prompt: base instructions, then the
// language directive, then any brand voice guide.
func (a *Agent) systemInstruction(tc Context) string {
	var b strings.Builder
	b.WriteString(a.capability.Instructions)

	if a.capability.LanguageMode == LanguageBilingual {
		lang := tc[CtxLanguage]
		if lang == "" {
			lang = a.settings.DefaultLanguage
		}
		if lang == "ru" {
			b.WriteString("\n\nIMPORTANT: Respond entirely in Russian. All generated content must be in Russian.")
		}
	}
	if bv := tc[CtxBrandVoice]; bv != "" {
		b.WriteString("\n\nBrand voice guide:\n")
		b.WriteString(bv)
	}
	return b.String()
}

func (a *Agent) userMessage(task string, tc Context) string {
	var b strings.Builder
	b.WriteString(task)
	if name := tc[CtxClientName]; name != "" {
		b.WriteString("\n\nClient: ")
		b.WriteString(name)
	}
	if extra := tc[CtxAdditionalData]; extra != "" {
		b.WriteString("\n\nAdditional context:\n")
		b.WriteString(extra)
	}
	return b.String()
}

// Generate produces new content for the task.
func (a *Agent) Generate(ctx context.Context, task string, tc Context) (*completion.Response, error) {
	return a.complete(ctx, a.systemInstruction(tc), a.userMessage(task, tc))
}

// Iterate revises existing content against reviewer feedback. The revision
// replaces the whole body, so the agent is instructed to return the complete
// revised text.
func (a *Agent) Iterate(ctx context.Context, content, feedback string, tc Context) (*completion.Response, error) {
	msg := fmt.Sprintf(
		"Revise the following content to address the reviewer feedback. Return the complete revised content, not a diff.\n\nFEEDBACK:\n%s\n\nCONTENT:\n%s",
		feedback, content,
	)
	return a.complete(ctx, a.systemInstruction(tc), msg)
}

func (a *Agent) complete(ctx context.Context, system, user string) (*completion.Response, error) {
	resp, err := a.completer.Complete(ctx, completion.Request{
		AgentName:         a.capability.Name,
		SystemInstruction: system,
		UserMessage:       user,
		Model:             a.capability.Model(a.settings),
		Temperature:       a.capability.Temperature,
		MaxTokens:         a.capability.MaxOutputTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", a.capability.Name, err)
	}
	return resp, nil
}

// =============================================================================
// REVIEW
// =============================================================================

// Verdict is a reviewer's recommendation.
type Verdict string

const (
	VerdictApprove Verdict = "APPROVE"
	VerdictRevise  Verdict = "REVISE"
	VerdictReject  Verdict = "REJECT"
)

// ReviewResult is one reviewer's structured output.
type ReviewResult struct {
	Verdict  Verdict
	Score    float64
	Feedback string
}

const reviewOutputFormat = `

Respond in exactly this format:
VERDICT: APPROVE, REVISE, or REJECT
SCORE: a number from 0 to 10
FEEDBACK: specific, actionable feedback`

// Review evaluates content against this reviewer's criteria and parses the
// structured verdict.
func (a *Agent) Review(ctx context.Context, content string, tc Context) (*ReviewResult, *completion.Response, error) {
	system := a.systemInstruction(tc) + reviewOutputFormat
	user := "Review the following content:\n\n" + content
	resp, err := a.complete(ctx, system, user)
	if err != nil {
		return nil, nil, err
	}
	result := ParseReview(resp.Content)
	a.logger.Debug("review parsed", "verdict", string(result.Verdict), "score", result.Score)
	return result, resp, nil
}

// ParseReview extracts VERDICT, SCORE, and FEEDBACK lines from reviewer
// output. Missing or malformed fields fall back to a middling score and a
// REVISE verdict so a sloppy reviewer never accidentally approves.
func ParseReview(raw string) *ReviewResult {
	result := &ReviewResult{Verdict: VerdictRevise, Score: 5.0}

	var feedback []string
	inFeedback := false
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "VERDICT:"):
			inFeedback = false
			v := strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(trimmed, "VERDICT:")))
			switch Verdict(v) {
			case VerdictApprove, VerdictRevise, VerdictReject:
				result.Verdict = Verdict(v)
			}
		case strings.HasPrefix(trimmed, "SCORE:"):
			inFeedback = false
			s := strings.TrimSpace(strings.TrimPrefix(trimmed, "SCORE:"))
			if fields := strings.Fields(s); len(fields) > 0 {
				s = strings.TrimSuffix(fields[0], "/10")
			}
			if score, err := strconv.ParseFloat(s, 64); err == nil && score >= 0 && score <= 10 {
				result.Score = score
			}
		case strings.HasPrefix(trimmed, "FEEDBACK:"):
			inFeedback = true
			if rest := strings.TrimSpace(strings.TrimPrefix(trimmed, "FEEDBACK:")); rest != "" {
				feedback = append(feedback, rest)
			}
		case inFeedback && trimmed != "":
			feedback = append(feedback, trimmed)
		}
	}
	result.Feedback = strings.Join(feedback, "\n")
	if result.Feedback == "" {
		result.Feedback = raw
	}
	return result
}
