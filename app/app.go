package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ai-trade-finder/api"
	"ai-trade-finder/cache"
	"ai-trade-finder/config"
	"ai-trade-finder/database"
	"ai-trade-finder/database/audit"
	"ai-trade-finder/database/conversations"
	"ai-trade-finder/database/marketdata"
	"ai-trade-finder/database/trades"
	"ai-trade-finder/database/types"
	"ai-trade-finder/datasource"
	"ai-trade-finder/helpers"
	"ai-trade-finder/llm"
	"ai-trade-finder/notifications"
	"ai-trade-finder/realtime"
)

// App represents the main application
type App struct {
	config *config.Config
	loc    *time.Location

	db         *database.Database
	redis      *cache.RedisClient
	tradeCache *cache.TradeCache
	broker     *realtime.Broker

	trades        database.TradeStore
	auditLog      *audit.Repository
	registry      *datasource.Registry
	gateway       *llm.Gateway
	lifecycle     *Lifecycle
	conversations *ConversationManager
	finder        *TradeFinder
	workflows     *WorkflowExecutor
	scheduler     *Scheduler
	apiServer     *api.Server
}

// New creates a new application instance
func New(cfg *config.Config) *App {
	return &App{
		config: cfg,
		loc:    LoadReferenceLocation(cfg.TradeFinder.ReferenceZone),
	}
}

// Init connects to the stores and builds every component. It is shared by the
// long-running server and the one-shot CLI commands.
func (a *App) Init(ctx context.Context) error {
	if err := a.config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// 1. Database Connection
	fmt.Println("🗄️  Connecting to database...")
	dbc := a.config.Database
	db, err := database.Connect(dbc.Host, dbc.Port, dbc.Name, dbc.User, dbc.Password)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	a.db = db
	if err := a.db.InitSchema(); err != nil {
		return fmt.Errorf("schema initialization failed: %w", err)
	}

	// 2. Redis Connection (optional)
	if a.config.Redis.Host != "" {
		fmt.Println("🧠 Connecting to Redis...")
		rc := a.config.Redis
		a.redis = cache.NewRedisClient(rc.Host, rc.Port, rc.Password, rc.DB, rc.KeyPrefix)
		if a.redis == nil {
			fmt.Println("⚠️  Redis connection failed. Dedupe claims and alert publishing disabled.")
		}
	}
	a.tradeCache = cache.NewTradeCache(a.redis, a.config.Alerts.RedisChannel)

	// 3. Stores
	gdb := a.db.DB()
	a.trades = trades.NewRepository(gdb)
	a.auditLog = audit.NewRepository(gdb)
	convStore := conversations.NewRepository(gdb)
	marketStore := marketdata.NewRepository(gdb)

	// 4. Data sources
	tf := a.config.TradeFinder
	candleTimeframes := append([]string{dailyTimeframe}, tf.Timeframes...)
	a.registry = datasource.NewRegistry(
		datasource.NewEventSource(marketStore, nil, nil),
		datasource.NewEnrichedEventSource(marketStore, nil, nil),
		datasource.NewCandleSource(marketStore, nil, candleTimeframes),
		datasource.NewVolumeProfileSource(),
		datasource.NewOrderBookSource(),
	)

	// 5. Reasoning gateway
	provider, err := newProvider(ctx, a.config.LLM)
	if err != nil {
		return err
	}
	temperature := a.config.LLM.Temperature
	a.gateway = llm.NewGateway(provider, llm.GatewayOptions{
		Retry: llm.RetryConfig{
			MaxRetries:        a.config.LLM.MaxRetries,
			InitialBackoff:    a.config.LLM.InitialBackoff,
			MaxBackoff:        a.config.LLM.MaxBackoff,
			BackoffMultiplier: llm.DefaultBackoffMultiplier,
		},
		RequestsPerMinute:      a.config.LLM.RequestsPerMinute,
		DefaultTemperature:     &temperature,
		DefaultMaxOutputTokens: a.config.LLM.MaxOutputTokens,
	})
	log.Printf("✅ Reasoning provider %s ready (model %s)", provider.Name(), a.config.LLM.Model)

	// 6. Pipeline components
	a.broker = realtime.NewBroker()
	auditor := NewAuditor(a.auditLog)
	thresholds := notifications.Thresholds{High: tf.HighThreshold, Medium: tf.MediumThreshold}

	catalog, err := LoadPromptCatalog(a.config.Workflow.CatalogPath)
	if err != nil {
		return err
	}

	a.lifecycle = NewLifecycle(a.trades, auditor, a.config.Lifecycle.StatsWindow)
	a.conversations = NewConversationManager(convStore, a.config.Lifecycle.ConversationTTL, tf.HighThreshold, tf.MediumThreshold)
	dispatcher := notifications.NewDispatcher(a.auditLog, a.tradeCache, a.broker, thresholds,
		notifications.StubChannels(a.config.Alerts.Channels)...)

	builder := NewPayloadBuilder(a.registry, PayloadConfig{
		LookbackMinutes: tf.LookbackMinutes,
		CandleCount:     tf.CandleCount,
		Timeframes:      tf.Timeframes,
		Profile:         tf.Profile,
		MaxEvents:       tf.MaxEventsPerCall,
	}, catalog.Knowledge(), a.loc)

	a.finder = NewTradeFinder(builder, a.gateway, a.trades, a.tradeCache, dispatcher, a.lifecycle,
		a.conversations, a.broker, auditor, a.loc, TradeFinderOptions{
			Symbols:        helpers.NormalizeSymbols(tf.Symbols),
			Expiry:         tf.ExpiryWindow(),
			Profile:        tf.Profile,
			Thresholds:     thresholds,
			StoreResponses: tf.StoreResponses,
		})

	a.workflows = NewWorkflowExecutor(catalog, a.registry, a.gateway, a.trades, a.conversations,
		auditor, a.loc, tf.LookbackMinutes)

	a.scheduler = NewScheduler(auditor, a.config.LogVerboseScheduler)
	return nil
}

// newProvider selects the reasoning provider
func newProvider(ctx context.Context, cfg config.LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "claude":
		return llm.NewClaudeProvider(cfg.APIKey, cfg.Model, cfg.RequestTimeout), nil
	case "gemini":
		p, err := llm.NewGeminiProvider(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("gemini provider: %w", err)
		}
		return p, nil
	case "openai", "":
		return llm.NewClient(cfg.Endpoint, cfg.APIKey, cfg.Model, cfg.RequestTimeout), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", cfg.Provider)
	}
}

// registerJobs wires the periodic jobs into the scheduler
func (a *App) registerJobs() error {
	tf := a.config.TradeFinder
	lc := a.config.Lifecycle

	if tf.Enabled {
		if err := a.scheduler.Register(JobTradeFinder, tf.CycleSchedule, func(ctx context.Context) error {
			report := a.finder.FindTrades(ctx)
			if report.Failed > 0 && report.Failed == len(report.Outcomes) {
				return fmt.Errorf("all %d symbols failed", report.Failed)
			}
			return nil
		}); err != nil {
			return err
		}
	} else {
		log.Println("ℹ️  Trade finder DISABLED")
	}

	if err := a.scheduler.Register(JobExpirySweep, lc.ExpirySchedule, func(ctx context.Context) error {
		result, err := a.lifecycle.ExpireTrades(ctx, time.Now())
		if err != nil {
			return err
		}
		for _, id := range result.TradeIDs {
			a.broker.Broadcast(realtime.EventTradeExpired, map[string]string{"trade_id": id})
		}
		return nil
	}); err != nil {
		return err
	}

	if err := a.scheduler.Register(JobStatistics, lc.StatsSchedule, func(ctx context.Context) error {
		_, err := a.lifecycle.ComputeStatistics(ctx, time.Now())
		return err
	}); err != nil {
		return err
	}

	return a.scheduler.Register(JobConversationExpiry, lc.ConversationSchedule, func(ctx context.Context) error {
		_, err := a.conversations.ExpireConversations(ctx, time.Now())
		return err
	})
}

// Start runs the scheduler, the realtime broker and the HTTP API until interrupted
func (a *App) Start() error {
	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Init(ctx); err != nil {
		a.Close()
		return err
	}

	var wg sync.WaitGroup

	// Realtime broker
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.broker.Run(ctx)
	}()

	// Scheduler
	if err := a.registerJobs(); err != nil {
		a.Close()
		return err
	}
	a.scheduler.Start()

	// API Server
	a.apiServer = api.NewServer(api.Deps{
		Trades:        a.trades,
		Alerts:        a.auditLog,
		Registry:      a.registry,
		Cache:         a.tradeCache,
		Broker:        a.broker,
		Finder:        a.finder,
		Lifecycle:     a.lifecycle,
		Workflows:     a.workflows,
		Conversations: a.conversations,
		Jobs:          a.scheduler,
	})
	go func() {
		if err := a.apiServer.Start(a.config.API.Port); err != nil {
			log.Printf("⚠️  API Server failed: %v", err)
		}
	}()

	// Wait for interrupt and perform graceful shutdown
	err := a.gracefulShutdown(cancel)
	wg.Wait()
	return err
}

// RunOnce runs a single trade-finder cycle
func (a *App) RunOnce(ctx context.Context, symbols []string) (*types.CycleReport, error) {
	if err := a.Init(ctx); err != nil {
		return nil, err
	}
	defer a.Close()

	if len(symbols) == 0 {
		return a.finder.FindTrades(ctx), nil
	}
	return a.finder.FindTradesFor(ctx, helpers.NormalizeSymbols(symbols)), nil
}

// Sweep runs the expiry, statistics and conversation sweeps once
func (a *App) Sweep(ctx context.Context) (*types.ExpirySweepResult, *types.TradeStatistics, error) {
	if err := a.Init(ctx); err != nil {
		return nil, nil, err
	}
	defer a.Close()

	now := time.Now()
	expired, err := a.lifecycle.ExpireTrades(ctx, now)
	if err != nil {
		return nil, nil, err
	}
	if _, err := a.conversations.ExpireConversations(ctx, now); err != nil {
		log.Printf("⚠️  %v", err)
	}
	stats, err := a.lifecycle.ComputeStatistics(ctx, now)
	if err != nil {
		return expired, nil, err
	}
	return expired, stats, nil
}

// RunWorkflow runs one ad-hoc workflow
func (a *App) RunWorkflow(ctx context.Context, req types.WorkflowRequest) (*types.WorkflowResult, error) {
	if err := a.Init(ctx); err != nil {
		return nil, err
	}
	defer a.Close()

	return a.workflows.Run(ctx, req), nil
}

// Close releases the database and Redis connections
func (a *App) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		} else {
			fmt.Println("✅ Database connection closed")
		}
		a.db = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Printf("Error closing redis: %v", err)
		} else {
			fmt.Println("✅ Redis connection closed")
		}
		a.redis = nil
	}
}

// gracefulShutdown handles graceful shutdown with timeout
func (a *App) gracefulShutdown(cancel context.CancelFunc) error {
	// Setup signal handling
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	// Wait for interrupt signal
	<-interrupt
	fmt.Println("\n🛑 Shutdown signal received, initiating graceful shutdown...")

	// Cancel context to stop all goroutines
	cancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Shutdown tasks with timeout
	shutdownComplete := make(chan struct{})
	go func() {
		fmt.Println("⏰ Stopping scheduler...")
		a.scheduler.Stop(8 * time.Second)

		if a.apiServer != nil {
			fmt.Println("🌐 Stopping API server...")
			if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
				log.Printf("Error stopping API server: %v", err)
			}
		}

		a.Close()
		close(shutdownComplete)
	}()

	// Wait for shutdown to complete or timeout
	select {
	case <-shutdownComplete:
		fmt.Println("✅ Graceful shutdown completed")
		return nil
	case <-shutdownCtx.Done():
		fmt.Println("⚠️  Shutdown timeout exceeded, forcing exit")
		return fmt.Errorf("shutdown timeout")
	}
}
