package llm

import (
	"context"
	"time"
)

// NoContent is returned as response text when the model produced no message text.
// Downstream JSON decoding fails on it predictably instead of on an empty string.
const NoContent = "No content available"

// Status of a completed gateway call
type Status string

const (
	StatusCompleted  Status = "completed"
	StatusIncomplete Status = "incomplete"
	StatusFailed     Status = "failed"
)

// Request is the provider-neutral input of a reasoning call
type Request struct {
	Input              string   `json:"input" validate:"notblank"`
	Instructions       string   `json:"instructions,omitempty"`
	Model              string   `json:"model,omitempty"`
	Temperature        *float64 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	MaxOutputTokens    int      `json:"max_output_tokens,omitempty" validate:"gte=0"`
	PreviousResponseID string   `json:"previous_response_id,omitempty"`
	Store              *bool    `json:"store,omitempty"`
	CorrelationID      string   `json:"correlation_id,omitempty"`
}

// Schema describes the expected shape of a structured response (JSON Schema)
type Schema struct {
	Name        string                 `json:"name" validate:"required"`
	Description string                 `json:"description,omitempty"`
	Definition  map[string]interface{} `json:"schema" validate:"required"`
	Strict      bool                   `json:"strict"`
}

// Usage reports token consumption
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// Response is the provider-neutral result of a reasoning call
type Response struct {
	ID            string        `json:"id"`
	Provider      string        `json:"provider"`
	Model         string        `json:"model"`
	Status        Status        `json:"status"`
	Text          string        `json:"text"`
	Error         string        `json:"error,omitempty"`
	Usage         Usage         `json:"usage"`
	Latency       time.Duration `json:"latency"`
	Attempts      int           `json:"attempts"`
	CorrelationID string        `json:"correlation_id,omitempty"`
	Raw           string        `json:"-"`
}

// Failed reports whether the provider signalled a logical failure in-band
func (r *Response) Failed() bool {
	return r.Status == StatusFailed
}

// Provider performs a single call against one reasoning service.
// A nil schema requests free text. Transport failures are returned as *GatewayError;
// an in-band provider error is returned as a Response with StatusFailed.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req *Request, schema *Schema) (*Response, error)
}
