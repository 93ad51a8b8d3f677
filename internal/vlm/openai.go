package vlm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// openaiProvider also serves openai_compatible endpoints; the only difference
// is the base URL.
type openaiProvider struct {
	apiKey  string
	model   string
	baseURL string
	name    string
}

func newOpenAI(cfg Config, baseURL string) *openaiProvider {
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	name := "openai"
	if cfg.Provider == "openai_compatible" {
		name = "openai_compatible"
	}
	return &openaiProvider{
		apiKey:  cfg.APIKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		name:    name,
	}
}

func (p *openaiProvider) Name() string  { return p.name }
func (p *openaiProvider) Model() string { return p.model }

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (p *openaiProvider) call(ctx context.Context, image []byte, prompt string) (string, error) {
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image)
	payload := map[string]any{
		"model":      p.model,
		"max_tokens": 1024,
		"messages": []map[string]any{{
			"role": "user",
			"content": []map[string]any{
				{"type": "image_url", "image_url": map[string]any{"url": dataURL, "detail": "low"}},
				{"type": "text", "text": prompt},
			},
		}},
	}
	headers := map[string]string{"Authorization": "Bearer " + p.apiKey}
	data, err := postJSON(ctx, p.baseURL+"/chat/completions", headers, payload)
	if err != nil {
		return "", err
	}
	var resp openaiResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrProvider, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%w: empty completion", ErrProvider)
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *openaiProvider) AnalyzeScene(ctx context.Context, image []byte, priorContext string) (*SceneAnalysis, error) {
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

func (p *openaiProvider) EvaluateRules(ctx context.Context, image []byte, rules []RuleSpec, sceneContext string) ([]RuleEvaluation, error) {
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
