package app

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"ai-trade-finder/database"
	"ai-trade-finder/database/types"
	"ai-trade-finder/datasource"
	"ai-trade-finder/llm"
)

//go:embed prompts.yaml
var defaultPromptCatalog []byte

// Workflow result statuses
const (
	WorkflowStatusOK     = "ok"
	WorkflowStatusDryRun = "dry_run"
	WorkflowStatusError  = "error"
)

const defaultWorkflowLookback = 120

// PromptDefinition is one catalog entry
type PromptDefinition struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Categories  []string `yaml:"categories"`
	Timeframes  []string `yaml:"timeframes"`
	Body        string   `yaml:"body"`
}

type promptCatalogFile struct {
	Prompts   []PromptDefinition `yaml:"prompts"`
	Knowledge map[string]string  `yaml:"knowledge"`
}

// PromptCatalog holds the workflow prompts and the knowledge-base snippets
type PromptCatalog struct {
	prompts   map[string]PromptDefinition
	order     []string
	knowledge map[string]string
}

// LoadPromptCatalog reads a catalog file, or the built-in catalog when path is empty
func LoadPromptCatalog(path string) (*PromptCatalog, error) {
	if path == "" {
		return ParsePromptCatalog(defaultPromptCatalog)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt catalog: %w", err)
	}
	return ParsePromptCatalog(data)
}

// ParsePromptCatalog parses catalog YAML. Every prompt needs a unique name, a body
// and only known data categories.
func ParsePromptCatalog(data []byte) (*PromptCatalog, error) {
	var file promptCatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse prompt catalog: %w", err)
	}

	c := &PromptCatalog{
		prompts:   make(map[string]PromptDefinition, len(file.Prompts)),
		knowledge: file.Knowledge,
	}
	for _, p := range file.Prompts {
		if p.Name == "" || p.Body == "" {
			return nil, fmt.Errorf("prompt %q: name and body are required", p.Name)
		}
		if _, dup := c.prompts[p.Name]; dup {
			return nil, fmt.Errorf("prompt %q defined twice", p.Name)
		}
		for _, code := range p.Categories {
			if _, err := datasource.ParseCategory(code); err != nil {
				return nil, fmt.Errorf("prompt %q: %w", p.Name, err)
			}
		}
		c.prompts[p.Name] = p
		c.order = append(c.order, p.Name)
	}
	return c, nil
}

// Get returns a prompt by name
func (c *PromptCatalog) Get(name string) (PromptDefinition, bool) {
	p, ok := c.prompts[name]
	return p, ok
}

// List describes every prompt in catalog order
func (c *PromptCatalog) List() []types.PromptInfo {
	out := make([]types.PromptInfo, 0, len(c.order))
	for _, name := range c.order {
		p := c.prompts[name]
		out = append(out, types.PromptInfo{Name: p.Name, Description: p.Description, Categories: p.Categories})
	}
	return out
}

// Knowledge returns the knowledge-base snippets
func (c *PromptCatalog) Knowledge() map[string]string {
	return c.knowledge
}

// WorkflowExecutor runs ad-hoc analyses against the data source registry
type WorkflowExecutor struct {
	catalog       *PromptCatalog
	registry      *datasource.Registry
	reasoner      Reasoner
	trades        database.TradeStore
	conversations *ConversationManager
	auditor       *Auditor
	validate      *validator.Validate
	loc           *time.Location
	lookback      int
}

// NewWorkflowExecutor creates a workflow executor
func NewWorkflowExecutor(
	catalog *PromptCatalog,
	registry *datasource.Registry,
	reasoner Reasoner,
	trades database.TradeStore,
	conversations *ConversationManager,
	auditor *Auditor,
	loc *time.Location,
	lookbackMinutes int,
) *WorkflowExecutor {
	if lookbackMinutes <= 0 {
		lookbackMinutes = defaultWorkflowLookback
	}
	return &WorkflowExecutor{
		catalog:       catalog,
		registry:      registry,
		reasoner:      reasoner,
		trades:        trades,
		conversations: conversations,
		auditor:       auditor,
		validate:      validator.New(),
		loc:           loc,
		lookback:      lookbackMinutes,
	}
}

// ListPrompts describes the available prompts
func (w *WorkflowExecutor) ListPrompts() []types.PromptInfo {
	return w.catalog.List()
}

// Run executes one workflow. Failures are returned in-band with status "error".
func (w *WorkflowExecutor) Run(ctx context.Context, req types.WorkflowRequest) *types.WorkflowResult {
	start := time.Now()
	ctx, span := w.auditor.Start(ctx, "workflow.run", req.Symbol)

	result := &types.WorkflowResult{
		Symbol:        req.Symbol,
		Prompt:        req.Prompt,
		CorrelationID: span.CorrelationID(),
	}
	finish := func(status, message string) *types.WorkflowResult {
		result.Status = status
		result.Message = message
		result.DurationMs = time.Since(start).Milliseconds()
		if status == WorkflowStatusError {
			log.Printf("❌ Workflow %s for %s failed: %s", req.Prompt, req.Symbol, message)
			span.Failure(fmt.Errorf("%s", message), map[string]interface{}{"prompt": req.Prompt})
		} else {
			span.Success(status, map[string]interface{}{"prompt": req.Prompt})
		}
		return result
	}

	if err := w.validate.Struct(req); err != nil {
		return finish(WorkflowStatusError, fmt.Sprintf("invalid request: %v", err))
	}
	prompt, ok := w.catalog.Get(req.Prompt)
	if !ok {
		return finish(WorkflowStatusError, fmt.Sprintf("unknown prompt %q", req.Prompt))
	}

	payload := w.buildPayload(ctx, prompt, req)
	result.Payload = payload
	if req.DryRun {
		return finish(WorkflowStatusDryRun, "dry run, reasoning call skipped")
	}

	input, err := json.Marshal(payload)
	if err != nil {
		return finish(WorkflowStatusError, fmt.Sprintf("failed to encode payload: %v", err))
	}

	llmReq := llm.Request{
		Input:        string(input),
		Instructions: llm.WorkflowInstructions(prompt.Name, prompt.Body),
	}

	// an existing trade conversation is continued; a new one is opened only after a successful call
	var trade *database.IdentifiedTrade
	var conv *database.AIConversation
	if req.TradeID != "" {
		var err error
		trade, err = w.trades.GetByID(ctx, req.TradeID)
		if err != nil {
			return finish(WorkflowStatusError, fmt.Sprintf("trade %s: %v", req.TradeID, err))
		}
		if w.conversations != nil {
			conv, err = w.conversations.FindTradeConversation(ctx, trade.ID)
			if err != nil {
				return finish(WorkflowStatusError, err.Error())
			}
			if conv != nil {
				llmReq.PreviousResponseID = w.conversations.GetLatestResponseID(ctx, conv.ID)
				result.ConversationID = conv.ID
			}
		}
	}

	resp, err := w.reasoner.Complete(ctx, llmReq)
	if err != nil {
		return finish(WorkflowStatusError, err.Error())
	}
	result.ResponseID = resp.ID
	result.Model = resp.Model
	if resp.Failed() {
		return finish(WorkflowStatusError, fmt.Sprintf("provider reported failure: %s", resp.Error))
	}
	result.Analysis = resp.Text

	if trade != nil && w.conversations != nil {
		w.recordTurn(ctx, trade, conv, prompt, resp, result)
	}
	return finish(WorkflowStatusOK, "")
}

// recordTurn stores the exchange on the trade's conversation, opening it if needed.
// Failures are logged; the analysis is already in hand.
func (w *WorkflowExecutor) recordTurn(ctx context.Context, trade *database.IdentifiedTrade, conv *database.AIConversation, prompt PromptDefinition, resp *llm.Response, result *types.WorkflowResult) {
	if conv == nil {
		var err error
		conv, err = w.conversations.GetOrCreateTradeConversation(ctx, trade, ConversationTypeWorkflow)
		if err != nil {
			log.Printf("⚠️  Workflow conversation not opened for trade %s: %v", trade.ID, err)
			return
		}
		result.ConversationID = conv.ID
	}
	if _, err := w.conversations.AddTurn(ctx, conv.ID, prompt.Name+": "+prompt.Body, resp); err != nil {
		log.Printf("⚠️  Workflow turn not recorded for %s: %v", conv.ID, err)
	}
}

// buildPayload fetches every category the prompt asks for. Fetch failures are
// reported inside the payload instead of failing the run.
func (w *WorkflowExecutor) buildPayload(ctx context.Context, prompt PromptDefinition, req types.WorkflowRequest) map[string]interface{} {
	now := time.Now()
	lookback := req.LookbackMinutes
	if lookback <= 0 {
		lookback = w.lookback
	}
	timeframes := prompt.Timeframes
	if req.Timeframe != "" {
		timeframes = []string{req.Timeframe}
	}

	cfg := datasource.FetchConfig{
		From: now.Add(-time.Duration(lookback) * time.Minute),
		To:   now,
	}

	data := make(map[string]interface{}, len(prompt.Categories))
	var errs []string
	for _, code := range prompt.Categories {
		category, _ := datasource.ParseCategory(code)

		if category != datasource.CategoryCandles {
			res := w.registry.Fetch(ctx, category, req.Symbol, "", cfg)
			if !res.Success {
				errs = append(errs, fmt.Sprintf("%s: %s", category, res.Error))
			}
			data[string(category)] = res.Records
			continue
		}

		byTimeframe := make(map[string][]datasource.Record, len(timeframes))
		for _, tf := range timeframes {
			res := w.registry.Fetch(ctx, category, req.Symbol, tf, cfg)
			if !res.Success {
				errs = append(errs, fmt.Sprintf("%s %s: %s", category, tf, res.Error))
			}
			byTimeframe[tf] = res.Records
		}
		data[string(category)] = byTimeframe
	}
	sort.Strings(errs)

	payload := map[string]interface{}{
		"metadata": map[string]interface{}{
			"symbol":           req.Symbol,
			"current_time":     now.In(w.loc).Format(time.RFC3339),
			"session":          SessionLabel(now, w.loc),
			"timeframes":       timeframes,
			"lookback_minutes": lookback,
		},
		"prompt": prompt.Name,
		"data":   data,
	}
	if len(errs) > 0 {
		payload["data_errors"] = errs
	}
	if k := w.catalog.Knowledge(); len(k) > 0 {
		payload["knowledge"] = k
	}
	return payload
}
