package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultClaudeMaxTokens = 4096

// ClaudeProvider calls the Anthropic Messages API.
// Messages are stateless, so PreviousResponseID is not forwarded.
type ClaudeProvider struct {
	client anthropic.Client
	model  string
}

// NewClaudeProvider creates a provider; SDK retries are disabled since the gateway owns them
func NewClaudeProvider(apiKey, model string, timeout time.Duration) *ClaudeProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}

	return &ClaudeProvider{
		client: anthropic.NewClient(opts...),
		model:  model,
	}
}

// Name identifies the provider
func (p *ClaudeProvider) Name() string {
	return "claude"
}

// Generate sends one Messages request
func (p *ClaudeProvider) Generate(ctx context.Context, req *Request, schema *Schema) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := int64(req.MaxOutputTokens)
	if maxTokens <= 0 {
		maxTokens = defaultClaudeMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Input)),
		},
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	system := req.Instructions
	if schema != nil {
		system = appendSchemaInstruction(system, schema)
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, NewStatusError(p.Name(), apiErr.StatusCode, apiErr.Error())
		}
		return nil, NewTransportError(p.Name(), err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := sb.String()
	if strings.TrimSpace(text) == "" {
		text = NoContent
	}

	out := &Response{
		ID:     msg.ID,
		Model:  string(msg.Model),
		Status: StatusCompleted,
		Text:   text,
		Usage: Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
			TotalTokens:  msg.Usage.InputTokens + msg.Usage.OutputTokens,
		},
		Raw: msg.RawJSON(),
	}
	if msg.StopReason == anthropic.StopReasonMaxTokens {
		out.Status = StatusIncomplete
		out.Error = "max_tokens"
	}
	return out, nil
}

// appendSchemaInstruction embeds the JSON schema into the system prompt for
// providers without a native structured-output switch.
func appendSchemaInstruction(system string, schema *Schema) string {
	def, err := json.MarshalIndent(schema.Definition, "", "  ")
	if err != nil {
		return system
	}

	var sb strings.Builder
	if system != "" {
		sb.WriteString(system)
		sb.WriteString("\n\n")
	}
	sb.WriteString(fmt.Sprintf("Respond with a single JSON object named %q and nothing else. ", schema.Name))
	sb.WriteString("It must validate against this JSON schema:\n")
	sb.Write(def)
	return sb.String()
}
