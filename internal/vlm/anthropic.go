package vlm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

const anthropicURL = "https://api.anthropic.com/v1/messages"

type anthropicProvider struct {
	apiKey string
	model  string
}

func newAnthropic(cfg Config) *anthropicProvider {
	model := cfg.Model
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	return &anthropicProvider{apiKey: cfg.APIKey, model: model}
}

func (p *anthropicProvider) Name() string  { return "anthropic" }
func (p *anthropicProvider) Model() string { return p.model }

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (p *anthropicProvider) call(ctx context.Context, image []byte, prompt string) (string, error) {
	payload := map[string]any{
		"model":      p.model,
		"max_tokens": 1024,
		"messages": []map[string]any{{
			"role": "user",
			"content": []map[string]any{
				{
					"type": "image",
					"source": map[string]any{
						"type":       "base64",
						"media_type": "image/jpeg",
						"data":       base64.StdEncoding.EncodeToString(image),
					},
				},
				{"type": "text", "text": prompt},
			},
		}},
	}
	headers := map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": "2023-06-01",
	}
	data, err := postJSON(ctx, anthropicURL, headers, payload)
	if err != nil {
		return "", err
	}
	var resp anthropicResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrProvider, err)
	}
	for _, c := range resp.Content {
		if c.Type == "text" && c.Text != "" {
			return c.Text, nil
		}
	}
	return "", fmt.Errorf("%w: empty completion", ErrProvider)
}

func (p *anthropicProvider) AnalyzeScene(ctx context.Context, image []byte, priorContext string) (*SceneAnalysis, error) {
	text, err := p.call(ctx, image, scenePrompt(priorContext))
	if err != nil {
		return nil, err
	}
	var out SceneAnalysis
	if err := ExtractInto(text, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *anthropicProvider) EvaluateRules(ctx context.Context, image []byte, rules []RuleSpec, sceneContext string) ([]RuleEvaluation, error) {
	text, err := p.call(ctx, image, rulesPrompt(rules, sceneContext))
	if err != nil {
		return nil, err
	}
	var out []RuleEvaluation
	if err := ExtractInto(text, &out); err != nil {
		return nil, err
	}
	return out, nil
}
