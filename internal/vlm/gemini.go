package vlm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

type geminiProvider struct {
	apiKey string
	model  string
}

func newGemini(cfg Config) *geminiProvider {
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &geminiProvider{apiKey: cfg.APIKey, model: model}
}

func (p *geminiProvider) Name() string  { return "gemini" }
func (p *geminiProvider) Model() string { return p.model }

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (p *geminiProvider) call(ctx context.Context, image []byte, prompt string) (string, error) {
	url := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", p.model)
	payload := map[string]any{
		"contents": []map[string]any{{
			"parts": []map[string]any{
				{"inline_data": map[string]any{
					"mime_type": "image/jpeg",
					"data":      base64.StdEncoding.EncodeToString(image),
				}},
				{"text": prompt},
			},
		}},
		"generationConfig": map[string]any{"maxOutputTokens": 1024},
	}
	headers := map[string]string{"x-goog-api-key": p.apiKey}
	data, err := postJSON(ctx, url, headers, payload)
	if err != nil {
		return "", err
	}
	var resp geminiResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrProvider, err)
	}
	for _, c := range resp.Candidates {
		for _, part := range c.Content.Parts {
			if part.Text != "" {
				return part.Text, nil
			}
		}
	}
	return "", fmt.Errorf("%w: empty completion", ErrProvider)
}

func (p *geminiProvider) AnalyzeScene(ctx context.Context, image []byte, priorContext string) (*SceneAnalysis, error) {
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

func (p *geminiProvider) EvaluateRules(ctx context.Context, image []byte, rules []RuleSpec, sceneContext string) ([]RuleEvaluation, error) {
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
