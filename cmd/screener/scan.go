package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"screener/internal/model"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	scanSymbols []string
	scanIndices []string
	scanFilters string
	scanTimeout time.Duration
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one scan in process and print the matching records as JSON",
	Example: `  screener scan --symbols AAPL,MSFT --filters '{"price_filter":{"type":"under","under":200}}'
  screener scan --index dow --index magnificent7 --filters '{"hook_filter":"positive"}'`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringSliceVar(&scanSymbols, "symbols", nil, "Comma separated symbols to scan")
	scanCmd.Flags().StringSliceVar(&scanIndices, "index", nil, "Index to scan; repeat to interleave several")
	scanCmd.Flags().StringVar(&scanFilters, "filters", "", "Filter specification as JSON")
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 0, "Cancel the scan after this long (0 waits until done)")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	req, err := buildScanRequest(scanSymbols, scanIndices, scanFilters)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if scanTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, scanTimeout)
		defer cancel()
	}

	a := newApp(cfg, false)
	defer a.shutdown(context.Background())

	symbols := req.Symbols
	if len(symbols) == 0 {
		for _, index := range req.Indices {
			symbols = append(symbols, a.universe.Symbols(index)...)
		}
	}

	id, _, err := a.engine.CreateAndStart(ctx, symbols, req.Filters, req.Indices)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		view, _ := a.engine.GetStatus(id)
		if view.Status.IsTerminal() {
			return printScan(id, view, a)
		}

		select {
		case <-ctx.Done():
			a.engine.Cancel(id)
			view, _ = a.engine.GetStatus(id)
			return printScan(id, view, a)
		case <-ticker.C:
			log.Info().
				Str("jobId", id).
				Int("processed", view.Progress.Processed).
				Int("total", view.Progress.Total).
				Int("results", view.ResultCount).
				Msg("Scanning")
		}
	}
}

func printScan(id string, view model.JobStatusView, a *app) error {
	partial, _ := a.engine.GetPartialResults(id)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any{
		"id":       id,
		"status":   view.Status,
		"progress": view.Progress,
		"error":    view.Error,
		"results":  partial.PartialResults,
	}); err != nil {
		return err
	}

	if view.Status == model.StatusFailed {
		return fmt.Errorf("scan failed: %s", view.Error)
	}
	return nil
}

// buildScanRequest assembles a request from command line flags
func buildScanRequest(symbols, indices []string, filters string) (model.ScanRequest, error) {
	req := model.ScanRequest{Symbols: symbols, Indices: indices}
	if filters != "" {
		if err := json.Unmarshal([]byte(filters), &req.Filters); err != nil {
			return req, fmt.Errorf("invalid --filters: %w", err)
		}
	}
	if len(req.Symbols) == 0 && len(req.Indices) == 0 {
		return req, fmt.Errorf("either --symbols or --index is required")
	}
	return req, nil
}
