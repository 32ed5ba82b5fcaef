package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ai-trade-finder/app"
	"ai-trade-finder/config"
	"ai-trade-finder/database/types"
	"ai-trade-finder/helpers"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ai-trade-finder",
		Short: "AI trade finder",
		Long: `ai-trade-finder periodically sends market events and candles to a reasoning model,
persists the trades it identifies and dispatches confidence-tiered alerts.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(findCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(workflowCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	// Load config from .env file
	cfg := config.LoadFromEnv()

	// Create and start app
	application := app.New(cfg)
	return application.Start()
}

func findCmd() *cobra.Command {
	var symbols string

	cmd := &cobra.Command{
		Use:   "find",
		Short: "Run one trade-finder cycle and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			report, err := app.New(config.LoadFromEnv()).RunOnce(ctx, helpers.SplitCSV(symbols))
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
	cmd.Flags().StringVar(&symbols, "symbols", "", "Comma separated symbols (defaults to TRADE_FINDER_SYMBOLS)")
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale trades and conversations, then print statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			expired, stats, err := app.New(config.LoadFromEnv()).Sweep(ctx)
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{
				"expiry":     expired,
				"statistics": stats,
			})
		},
	}
}

func workflowCmd() *cobra.Command {
	var req types.WorkflowRequest

	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Run an ad-hoc analysis with a catalog prompt",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			result, err := app.New(config.LoadFromEnv()).RunWorkflow(ctx, req)
			if err != nil {
				return err
			}
			if err := printJSON(result); err != nil {
				return err
			}
			if result.Status == app.WorkflowStatusError {
				return fmt.Errorf("workflow failed: %s", result.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Symbol, "symbol", "", "Symbol to analyze")
	cmd.Flags().StringVar(&req.Prompt, "prompt", "", "Catalog prompt name")
	cmd.Flags().StringVar(&req.Timeframe, "timeframe", "", "Candle timeframe override")
	cmd.Flags().IntVar(&req.LookbackMinutes, "lookback", 0, "Event lookback in minutes")
	cmd.Flags().StringVar(&req.TradeID, "trade", "", "Continue the conversation of this trade")
	cmd.Flags().BoolVar(&req.DryRun, "dry-run", false, "Build the payload without calling the model")
	_ = cmd.MarkFlagRequired("symbol")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
