package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is an OpenAI-compatible Responses API client.
// It supports previous_response_id continuity and json_schema structured output.
type Client struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

// NewClient creates a new Responses API client
func NewClient(endpoint, apiKey, model string, timeout time.Duration) *Client {
	// Configure custom HTTP transport for connection pooling
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		model:    model,
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}
}

// Name identifies the provider
func (c *Client) Name() string {
	return "openai"
}

type responsesRequest struct {
	Model              string            `json:"model"`
	Input              string            `json:"input"`
	Instructions       string            `json:"instructions,omitempty"`
	Temperature        *float64          `json:"temperature,omitempty"`
	MaxOutputTokens    int               `json:"max_output_tokens,omitempty"`
	PreviousResponseID string            `json:"previous_response_id,omitempty"`
	Store              *bool             `json:"store,omitempty"`
	Text               *textOptions      `json:"text,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

type textOptions struct {
	Format textFormat `json:"format"`
}

type textFormat struct {
	Type        string                 `json:"type"`
	Name        string                 `json:"name,omitempty"`
	Description string                 `json:"description,omitempty"`
	Schema      map[string]interface{} `json:"schema,omitempty"`
	Strict      bool                   `json:"strict,omitempty"`
}

type responsesResponse struct {
	ID                string         `json:"id"`
	Status            string         `json:"status"`
	Model             string         `json:"model"`
	Error             *responseError `json:"error"`
	IncompleteDetails *struct {
		Reason string `json:"reason"`
	} `json:"incomplete_details"`
	Output []OutputItem `json:"output"`
	Usage  *struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
		TotalTokens  int64 `json:"total_tokens"`
	} `json:"usage"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// OutputItem is one item of a Responses API output array
type OutputItem struct {
	Type    string          `json:"type"`
	Role    string          `json:"role,omitempty"`
	Content []OutputContent `json:"content,omitempty"`
}

// OutputContent is one content segment of a message output item
type OutputContent struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Refusal string `json:"refusal,omitempty"`
}

// Generate sends one request to the /responses endpoint
func (c *Client) Generate(ctx context.Context, req *Request, schema *Schema) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	reqBody := responsesRequest{
		Model:              model,
		Input:              req.Input,
		Instructions:       req.Instructions,
		Temperature:        req.Temperature,
		MaxOutputTokens:    req.MaxOutputTokens,
		PreviousResponseID: req.PreviousResponseID,
		Store:              req.Store,
	}
	if req.CorrelationID != "" {
		reqBody.Metadata = map[string]string{"correlation_id": req.CorrelationID}
	}
	if schema != nil {
		reqBody.Text = &textOptions{Format: textFormat{
			Type:        "json_schema",
			Name:        schema.Name,
			Description: schema.Description,
			Schema:      schema.Definition,
			Strict:      schema.Strict,
		}}
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, NewValidationError(fmt.Sprintf("failed to marshal request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.endpoint+"/responses", bytes.NewReader(jsonData))
	if err != nil {
		return nil, NewValidationError(fmt.Sprintf("failed to create request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, NewTransportError(c.Name(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewTransportError(c.Name(), fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NewStatusError(c.Name(), resp.StatusCode, errorMessage(body))
	}

	var apiResp responsesResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, NewParseError(c.Name(), string(body), fmt.Errorf("failed to decode response: %w", err))
	}

	out := &Response{
		ID:    apiResp.ID,
		Model: apiResp.Model,
		Text:  ExtractOutputText(apiResp.Output),
		Raw:   string(body),
	}
	if apiResp.Usage != nil {
		out.Usage = Usage{
			InputTokens:  apiResp.Usage.InputTokens,
			OutputTokens: apiResp.Usage.OutputTokens,
			TotalTokens:  apiResp.Usage.TotalTokens,
		}
	}

	switch {
	case apiResp.Error != nil && (apiResp.Error.Message != "" || apiResp.Error.Code != ""):
		out.Status = StatusFailed
		out.Error = strings.TrimSpace(apiResp.Error.Code + " " + apiResp.Error.Message)
	case apiResp.Status == "failed":
		out.Status = StatusFailed
		out.Error = "response failed without error details"
	case apiResp.Status == "incomplete":
		out.Status = StatusIncomplete
		if apiResp.IncompleteDetails != nil {
			out.Error = apiResp.IncompleteDetails.Reason
		}
	default:
		out.Status = StatusCompleted
	}

	return out, nil
}

// ExtractOutputText concatenates the text of every message item in order.
// It returns NoContent when no text segment exists.
func ExtractOutputText(items []OutputItem) string {
	var sb strings.Builder
	for _, item := range items {
		if item.Type != "message" {
			continue
		}
		for _, content := range item.Content {
			if content.Type == "output_text" || content.Type == "text" {
				sb.WriteString(content.Text)
			}
		}
	}

	if strings.TrimSpace(sb.String()) == "" {
		return NoContent
	}
	return sb.String()
}

// errorMessage pulls error.message out of an error body, falling back to the raw text
func errorMessage(body []byte) string {
	var envelope struct {
		Error *responseError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return strings.TrimSpace(string(body))
}
