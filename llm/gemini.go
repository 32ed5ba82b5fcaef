package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiProvider calls the Gemini API through google.golang.org/genai
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGeminiProvider creates a Gemini-backed provider
func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiProvider{client: client, model: model}, nil
}

// Name identifies the provider
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Generate sends one GenerateContent request
func (p *GeminiProvider) Generate(ctx context.Context, req *Request, schema *Schema) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	config := &genai.GenerateContentConfig{}
	if req.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.MaxOutputTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxOutputTokens)
	}
	if req.Instructions != "" {
		config.SystemInstruction = genai.NewContentFromText(req.Instructions, genai.RoleUser)
	}
	if schema != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseJsonSchema = schema.Definition
	}

	contents := []*genai.Content{genai.NewContentFromText(req.Input, genai.RoleUser)}

	result, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, NewStatusError(p.Name(), apiErr.Code, apiErr.Message)
		}
		return nil, NewTransportError(p.Name(), err)
	}

	out := &Response{
		ID:     result.ResponseID,
		Model:  result.ModelVersion,
		Status: StatusCompleted,
		Text:   geminiText(result),
	}
	if out.Model == "" {
		out.Model = model
	}
	if result.UsageMetadata != nil {
		out.Usage = Usage{
			InputTokens:  int64(result.UsageMetadata.PromptTokenCount),
			OutputTokens: int64(result.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int64(result.UsageMetadata.TotalTokenCount),
		}
	}

	if fb := result.PromptFeedback; fb != nil && fb.BlockReason != "" {
		out.Status = StatusFailed
		out.Error = strings.TrimSpace(fmt.Sprintf("prompt blocked: %s %s", fb.BlockReason, fb.BlockReasonMessage))
		return out, nil
	}
	if len(result.Candidates) > 0 && result.Candidates[0].FinishReason == genai.FinishReasonMaxTokens {
		out.Status = StatusIncomplete
		out.Error = string(genai.FinishReasonMaxTokens)
	}

	return out, nil
}

// geminiText concatenates the non-thought text parts of the first candidate
func geminiText(result *genai.GenerateContentResponse) string {
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return NoContent
	}

	var sb strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}

	if strings.TrimSpace(sb.String()) == "" {
		return NoContent
	}
	return sb.String()
}
