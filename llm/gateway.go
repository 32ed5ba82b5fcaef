package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	"ai-trade-finder/helpers"
)

// GatewayOptions configures a Gateway
type GatewayOptions struct {
	Retry RetryConfig
	// RequestsPerMinute paces calls to the provider; 0 disables pacing
	RequestsPerMinute int
	// Defaults applied when the request leaves them unset
	DefaultTemperature     *float64
	DefaultMaxOutputTokens int
}

// Gateway validates requests, paces and retries provider calls, and extracts
// free-text or structured results. Retries happen here and nowhere else.
type Gateway struct {
	provider Provider
	validate *validator.Validate
	limiter  *rate.Limiter
	opts     GatewayOptions
}

// NewGateway creates a gateway in front of provider
func NewGateway(provider Provider, opts GatewayOptions) *Gateway {
	v := validator.New()
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})

	var limiter *rate.Limiter
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}

	return &Gateway{
		provider: provider,
		validate: v,
		limiter:  limiter,
		opts:     opts,
	}
}

// ProviderName returns the name of the underlying provider
func (g *Gateway) ProviderName() string {
	return g.provider.Name()
}

// Complete performs a free-text completion.
// An in-band provider error is returned as a Response with StatusFailed and a nil error.
func (g *Gateway) Complete(ctx context.Context, req Request) (*Response, error) {
	return g.call(ctx, &req, nil)
}

// CompleteStructured performs a completion constrained to schema and decodes the
// message content into out. Decode failures are parse errors carrying the raw text.
func (g *Gateway) CompleteStructured(ctx context.Context, req Request, schema Schema, out interface{}) (*Response, error) {
	if err := g.validate.Struct(schema); err != nil {
		return nil, NewValidationError(fmt.Sprintf("invalid schema: %v", err))
	}

	resp, err := g.call(ctx, &req, &schema)
	if err != nil {
		return nil, err
	}
	if resp.Failed() {
		return resp, nil
	}

	if err := DecodeStructured(resp.Text, schema, out); err != nil {
		return resp, NewParseError(g.provider.Name(), resp.Text, err)
	}
	return resp, nil
}

func (g *Gateway) call(ctx context.Context, req *Request, schema *Schema) (*Response, error) {
	if err := g.validate.Struct(req); err != nil {
		return nil, NewValidationError(describeValidation(err))
	}

	if req.CorrelationID == "" {
		req.CorrelationID = helpers.CorrelationID(ctx)
	}
	if req.Temperature == nil {
		req.Temperature = g.opts.DefaultTemperature
	}
	if req.MaxOutputTokens == 0 {
		req.MaxOutputTokens = g.opts.DefaultMaxOutputTokens
	}

	name := g.provider.Name()
	start := time.Now()
	var lastErr error

	for attempt := 0; attempt <= g.opts.Retry.MaxRetries; attempt++ {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return nil, NewTransportError(name, err)
			}
		}

		resp, err := g.provider.Generate(ctx, req, schema)
		if err == nil {
			resp.Provider = name
			resp.Attempts = attempt + 1
			resp.Latency = time.Since(start)
			resp.CorrelationID = req.CorrelationID
			if resp.Failed() {
				log.Printf("⚠️  %s reported a failed response %s: %s", name, resp.ID, resp.Error)
			}
			return resp, nil
		}

		lastErr = err
		if !IsRetryable(err) || attempt == g.opts.Retry.MaxRetries {
			break
		}

		backoff := g.opts.Retry.CalculateBackoff(attempt)
		log.Printf("⚠️  %s call failed (attempt %d/%d), retrying in %v: %v",
			name, attempt+1, g.opts.Retry.MaxRetries+1, backoff, err)

		select {
		case <-ctx.Done():
			return nil, NewTransportError(name, ctx.Err())
		case <-time.After(backoff):
		}
	}

	return nil, lastErr
}

func describeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "notblank":
			msgs = append(msgs, fmt.Sprintf("%s must not be blank", fe.Field()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

// StripCodeFence removes a surrounding markdown fence (```json or bare ```)
func StripCodeFence(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}

	t = strings.TrimPrefix(t, "```")
	if nl := strings.IndexByte(t, '\n'); nl >= 0 && !strings.ContainsAny(t[:nl], "{[") {
		t = t[nl+1:] // language tag line
	} else if strings.HasPrefix(strings.ToLower(t), "json") {
		t = t[len("json"):]
	}

	t = strings.TrimSpace(t)
	t = strings.TrimSuffix(t, "```")
	return strings.TrimSpace(t)
}

// DecodeStructured decodes fenced or bare JSON text into out after checking that
// every top-level field the schema marks as required is present.
func DecodeStructured(text string, schema Schema, out interface{}) error {
	body := StripCodeFence(text)
	if body == "" || body == NoContent {
		return fmt.Errorf("response has no structured content")
	}

	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return fmt.Errorf("response is not a JSON object: %w", err)
	}
	if missing := missingRequired(schema.Definition, fields); len(missing) > 0 {
		return fmt.Errorf("response is missing required fields: %s", strings.Join(missing, ", "))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("failed to decode structured response: %w", err)
	}
	return nil
}

func missingRequired(definition, fields map[string]interface{}) []string {
	var required []string
	switch r := definition["required"].(type) {
	case []string:
		required = r
	case []interface{}:
		for _, v := range r {
			if s, ok := v.(string); ok {
				required = append(required, s)
			}
		}
	}

	var missing []string
	for _, name := range required {
		if _, ok := fields[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
