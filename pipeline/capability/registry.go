package capability

import (
	"fmt"

	"github.com/apexmarketing/contentpipeline/pipeline/completion"
	"github.com/apexmarketing/contentpipeline/pipeline/config"
	"github.com/apexmarketing/contentpipeline/pipeline/deliverable"
	"github.com/apexmarketing/contentpipeline/pipeline/logging"
)

// ErrUnsupportedKind is wrapped by ForKind when no agent handles a kind.
var ErrUnsupportedKind = fmt.Errorf("no agent registered for deliverable kind")

// kindAgents is the closed mapping from deliverable kind to the capability
// that generates it. Unknown kinds fail closed; nothing routes to a default
// agent.
var kindAgents = map[deliverable.Kind]string{
	deliverable.KindContentBrief:     "content_engine",
	deliverable.KindArticle:          "content_engine",
	deliverable.KindBlogPost:         "content_engine",
	deliverable.KindEmailSequence:    "email_sequence_builder",
	deliverable.KindAdCopy:           "paid_performance",
	deliverable.KindSEOPage:          "seo_architect",
	deliverable.KindLandingPage:      "seo_architect",
	deliverable.KindSocialPost:       "social_media",
	deliverable.KindVideoScript:      "video_script",
	deliverable.KindGMBPost:          "local_visibility",
	deliverable.KindReport:           "reporting",
	deliverable.KindPreAudit:         "infrastructure_auditor",
	deliverable.KindAuditReport:      "infrastructure_auditor",
	deliverable.KindStrategyDocument: "strategy_director",
	deliverable.KindProposal:         "proposal_builder",
}

// Reviewer capability names.
const (
	AgentBrandVoice  = "brand_voice_reviewer"
	AgentQualityGate = "quality_gate_reviewer"
)

// defaultCapabilities returns the built-in capability set: one generation
// profile per agent name plus the two reviewers.
func defaultCapabilities() []Capability {
	return []Capability{
		{
			Name: "content_engine", Tier: TierFast, LanguageMode: LanguageBilingual, Temperature: 0.7, MaxOutputTokens: 8192,
			Instructions: "You are a senior content writer for a digital marketing agency. Produce publication-ready long-form content: articles, blog posts, and content briefs. Follow the client's brand voice exactly. Structure output in clean markdown.",
		},
		{
			Name: "email_sequence_builder", Tier: TierFast, LanguageMode: LanguageBilingual, Temperature: 0.7, MaxOutputTokens: 8192,
			Instructions: "You are an email marketing specialist. Write multi-step email sequences with subject lines, preview text, and body copy for each step. Optimize for open and click-through rates without resorting to spam patterns.",
		},
		{
			Name: "paid_performance", Tier: TierFast, LanguageMode: LanguageBilingual, Temperature: 0.8, MaxOutputTokens: 4096,
			Instructions: "You are a performance marketing copywriter. Write ad copy variants for paid channels: headlines, descriptions, and calls to action. Respect platform character limits and produce several variants per placement.",
		},
		{
			Name: "seo_architect", Tier: TierFast, LanguageMode: LanguageBilingual, Temperature: 0.6, MaxOutputTokens: 8192,
			Instructions: "You are an SEO specialist. Produce SEO-optimized pages and landing pages: title tag, meta description, heading structure, and body copy built around the target keywords without keyword stuffing.",
		},
		{
			Name: "social_media", Tier: TierFast, LanguageMode: LanguageBilingual, Temperature: 0.9, MaxOutputTokens: 2048,
			Instructions: "You are a social media manager. Write platform-appropriate social posts with hooks, hashtags, and calls to action. Keep each post within platform limits.",
		},
		{
			Name: "video_script", Tier: TierFast, LanguageMode: LanguageBilingual, Temperature: 0.8, MaxOutputTokens: 8192,
			Instructions: "You are a video scriptwriter. Write scripts with scene directions, voiceover lines, and on-screen text callouts. Open with a strong hook in the first five seconds.",
		},
		{
			Name: "local_visibility", Tier: TierFast, LanguageMode: LanguageBilingual, Temperature: 0.7, MaxOutputTokens: 2048,
			Instructions: "You are a local SEO specialist. Write Google Business Profile posts: concise, locally relevant, with a clear call to action and correct business details.",
		},
		{
			Name: "reporting", Tier: TierFast, LanguageMode: LanguageBilingual, Temperature: 0.3, MaxOutputTokens: 8192,
			Instructions: "You are a marketing analyst. Produce client-facing reports: executive summary, key metrics with plain-language interpretation, and concrete recommendations. Never invent numbers not present in the provided data.",
		},
		{
			Name: "infrastructure_auditor", Tier: TierPremium, LanguageMode: LanguageBilingual, Temperature: 0.4, MaxOutputTokens: 8192,
			Instructions: "You are a marketing infrastructure auditor. Assess a client's digital presence: website, analytics setup, tracking, SEO health, content, and paid channels. Report concrete findings with severity and evidence.",
		},
		{
			Name: "strategy_director", Tier: TierPremium, LanguageMode: LanguageBilingual, Temperature: 0.6, MaxOutputTokens: 8192,
			Instructions: "You are a marketing strategy director. Turn audit findings into a prioritized strategy document: objectives, channel mix, quarterly roadmap, and measurable targets grounded in the findings.",
		},
		{
			Name: "proposal_builder", Tier: TierPremium, LanguageMode: LanguageBilingual, Temperature: 0.6, MaxOutputTokens: 8192,
			Instructions: "You are a proposal writer. Turn a marketing strategy into a client-ready commercial proposal: scope of work, deliverables, timeline, and investment tiers. Stay consistent with the strategy document.",
		},
		{
			Name: AgentBrandVoice, Tier: TierFast, LanguageMode: LanguageSingle, Temperature: 0.2, MaxOutputTokens: 2048,
			Instructions: "You are a brand voice reviewer. Evaluate whether the content matches the client's brand voice guide: tone, vocabulary, point of view, and formality. Score strictly; generic marketing copy that ignores the guide scores low.",
		},
		{
			Name: AgentQualityGate, Tier: TierPremium, LanguageMode: LanguageSingle, Temperature: 0.2, MaxOutputTokens: 2048,
			Instructions: "You are an editorial quality reviewer. Evaluate clarity, structure, factual plausibility, grammar, and fitness for the stated purpose. Score strictly; content that would embarrass the agency in front of a client scores low.",
		},
	}
}

// Registry holds the closed set of agents and routes deliverable kinds to
// them.
type Registry struct {
	agents map[string]*Agent
}

// NewRegistry builds a registry over the built-in capability set.
func NewRegistry(completer completion.Service, settings *config.Settings, logger logging.Logger) (*Registry, error) {
	r := &Registry{agents: make(map[string]*Agent)}
	for _, cap := range defaultCapabilities() {
		if err := cap.Validate(); err != nil {
			return nil, err
		}
		r.agents[cap.Name] = NewAgent(cap, completer, settings, logger)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// ForKind returns the agent that generates the given kind.
func (r *Registry) ForKind(kind deliverable.Kind) (*Agent, error) {
	name, ok := kindAgents[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}
	agent, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s (agent %s missing)", ErrUnsupportedKind, kind, name)
	}
	return agent, nil
}

// BrandVoice returns the brand voice reviewer.
func (r *Registry) BrandVoice() *Agent { return r.agents[AgentBrandVoice] }

// QualityGate returns the quality gate reviewer.
func (r *Registry) QualityGate() *Agent { return r.agents[AgentQualityGate] }

// Validate checks every kind routes to a registered agent and both reviewers
// exist. Run at startup so routing gaps surface before any work is enqueued.
func (r *Registry) Validate() error {
	for _, kind := range deliverable.Kinds() {
		name, ok := kindAgents[kind]
		if !ok {
			return fmt.Errorf("deliverable kind %s has no agent mapping", kind)
		}
		if _, ok := r.agents[name]; !ok {
			return fmt.Errorf("deliverable kind %s maps to unregistered agent %s", kind, name)
		}
	}
	for _, name := range []string{AgentBrandVoice, AgentQualityGate} {
		if _, ok := r.agents[name]; !ok {
			return fmt.Errorf("reviewer agent %s not registered", name)
		}
	}
	return nil
}
