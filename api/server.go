package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"ai-trade-finder/cache"
	"ai-trade-finder/database"
	"ai-trade-finder/database/types"
	"ai-trade-finder/datasource"
	"ai-trade-finder/realtime"
)

// CycleRunner runs trade-finder cycles on demand
type CycleRunner interface {
	Symbols() []string
	FindTradesFor(ctx context.Context, symbols []string) *types.CycleReport
}

// TradeLifecycle changes trade status and reports statistics
type TradeLifecycle interface {
	Transition(ctx context.Context, tradeID, status string) (*database.IdentifiedTrade, error)
	ComputeStatistics(ctx context.Context, now time.Time) (*types.TradeStatistics, error)
}

// WorkflowRunner runs ad-hoc analyses
type WorkflowRunner interface {
	ListPrompts() []types.PromptInfo
	Run(ctx context.Context, req types.WorkflowRequest) *types.WorkflowResult
}

// ConversationReader loads conversations
type ConversationReader interface {
	Get(ctx context.Context, conversationID string) (*database.AIConversation, error)
}

// JobLister describes scheduled jobs
type JobLister interface {
	Jobs() []types.JobInfo
}

// Deps groups the collaborators of the HTTP API. Nil members disable their routes' behaviour.
type Deps struct {
	Trades        database.TradeStore
	Alerts        database.AlertLog
	Registry      *datasource.Registry
	Cache         *cache.TradeCache
	Broker        *realtime.Broker
	Finder        CycleRunner
	Lifecycle     TradeLifecycle
	Workflows     WorkflowRunner
	Conversations ConversationReader
	Jobs          JobLister
}

// Server handles HTTP API requests
type Server struct {
	deps Deps
	srv  *http.Server
}

// NewServer creates a new API server instance
func NewServer(deps Deps) *Server {
	return &Server{deps: deps}
}

// Handler builds the routed, middleware-wrapped handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	// Data sources
	mux.HandleFunc("GET /api/datasources", s.handleListDataSources)
	mux.HandleFunc("GET /api/datasources/health", s.handleDataSourceHealth)

	// Trades
	mux.HandleFunc("GET /api/trades", s.handleListTrades)
	mux.HandleFunc("GET /api/trades/stats", s.handleTradeStats)
	mux.HandleFunc("GET /api/trades/{id}", s.handleGetTrade)
	mux.HandleFunc("GET /api/trades/{id}/alerts", s.handleGetTradeAlerts)
	mux.HandleFunc("PUT /api/trades/{id}/status", s.handleUpdateTradeStatus)

	// Pipeline
	mux.HandleFunc("POST /api/trade-finder/run", s.handleRunTradeFinder)
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)

	// Workflows and conversations
	mux.HandleFunc("GET /api/workflows/prompts", s.handleListPrompts)
	mux.HandleFunc("POST /api/workflows/run", s.handleRunWorkflow)
	mux.HandleFunc("GET /api/conversations/{id}", s.handleGetConversation)

	if s.deps.Broker != nil {
		mux.Handle("GET /ws", s.deps.Broker)
	}

	return s.corsMiddleware(s.loggingMiddleware(mux))
}

// Start starts the HTTP server on the specified port. It returns nil after Shutdown.
func (s *Server) Start(port int) error {
	serverAddr := fmt.Sprintf("0.0.0.0:%d", port)
	s.srv = &http.Server{
		Addr:              serverAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("🚀 API Server starting on %s", serverAddr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// Middleware
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Correlation-ID")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %v", r.Method, r.URL.Path, time.Since(start))
	})
}

// Handlers are split by concern:
// - handlers_trades.go: trades, statistics, trade-finder runs, jobs
// - handlers_workflow.go: data sources, workflows, conversations, health
