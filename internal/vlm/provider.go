package vlm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CallTimeout is the hard per-call deadline. Calls are stateless; retries are
// the perception loop's responsibility.
const CallTimeout = 30 * time.Second

var ErrProvider = errors.New("provider_error")

// SceneAnalysis is the structured scene description returned by a provider.
type SceneAnalysis struct {
	Summary     string   `json:"summary"`
	Objects     []string `json:"objects"`
	PeopleCount *int     `json:"people_count"`
	Changes     string   `json:"changes"`
}

// RuleEvaluation is a provider's verdict for one watch rule.
type RuleEvaluation struct {
	RuleID     string  `json:"rule_id"`
	Triggered  bool    `json:"triggered"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// RuleSpec is the slice of a watch rule a provider needs to see.
type RuleSpec struct {
	ID        string `json:"id"`
	Condition string `json:"condition"`
}

// Provider is a vision language model backend. Implementations differ only in
// request shape; the JSON extraction contract is shared.
type Provider interface {
	AnalyzeScene(ctx context.Context, image []byte, priorContext string) (*SceneAnalysis, error)
	EvaluateRules(ctx context.Context, image []byte, rules []RuleSpec, sceneContext string) ([]RuleEvaluation, error)
	Name() string
	Model() string
}

// Config selects and parameterizes a provider.
type Config struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
}

// New builds the provider named in cfg. An empty provider name yields
// (nil, nil): client-side fallback mode.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "anthropic":
		return newAnthropic(cfg), nil
	case "openai":
		return newOpenAI(cfg, "https://api.openai.com/v1"), nil
	case "openai_compatible":
		base := cfg.BaseURL
		if base == "" {
			return nil, fmt.Errorf("%w: openai_compatible requires base_url", ErrProvider)
		}
		return newOpenAI(cfg, base), nil
	case "gemini":
		return newGemini(cfg), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrProvider, cfg.Provider)
	}
}

// CostPerCall is a rough per-call USD estimate used by the budget gate. One
// low-detail image plus a short completion.
func CostPerCall(provider string) float64 {
	switch provider {
	case "anthropic":
		return 0.008
	case "openai":
		return 0.006
	case "gemini":
		return 0.002
	default:
		return 0.005
	}
}

func scenePrompt(priorContext string) string {
	var b strings.Builder
	b.WriteString("You are the perception module of a home monitoring system. Describe this camera frame.\n")
	if priorContext != "" {
		b.WriteString("Prior context:\n")
		b.WriteString(priorContext)
		b.WriteString("\n")
	}
	b.WriteString(`Respond with JSON only, no prose:
{"summary": "<one or two sentences>", "objects": ["<notable objects>"], "people_count": <integer or null>, "changes": "<what changed vs the prior context, or empty>"}`)
	return b.String()
}

func rulesPrompt(rules []RuleSpec, sceneContext string) string {
	var b strings.Builder
	b.WriteString("Evaluate each watch rule against this camera frame.\n")
	if sceneContext != "" {
		b.WriteString("Scene context:\n")
		b.WriteString(sceneContext)
		b.WriteString("\n")
	}
	b.WriteString("Rules:\n")
	for _, r := range rules {
		fmt.Fprintf(&b, "- id=%s condition=%q\n", r.ID, r.Condition)
	}
	b.WriteString(`Respond with a JSON array only, one entry per rule:
[{"rule_id": "<id>", "triggered": true|false, "confidence": <0..1>, "reasoning": "<short>"}]`)
	return b.String()
}
