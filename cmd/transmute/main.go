package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mpataki/transmute/internal/app"
	"github.com/mpataki/transmute/internal/config"
	"github.com/mpataki/transmute/internal/models"
	"github.com/mpataki/transmute/internal/registry"
	"github.com/mpataki/transmute/internal/server"
	"github.com/mpataki/transmute/internal/storage"
	"github.com/mpataki/transmute/internal/tui"
	"github.com/mpataki/transmute/internal/workspace"
)

var (
	verbose bool
	logger  = zap.NewNop()
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "transmute",
		Short: "LLM-assisted code conversion",
		Long: `Transmute converts programs between languages by extracting what the
source does, generating target code and validating it, retrying with the
validator's feedback until the code passes or the retry budget runs out.

Run without arguments to browse past conversions.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// The browser owns the terminal.
			if cmd.Parent() == nil {
				return nil
			}
			zcfg := zap.NewProductionConfig()
			if verbose {
				zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			var err error
			logger, err = zcfg.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},
		RunE: runTUI,
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(newConvertCommand())
	rootCmd.AddCommand(newBatchCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newDeleteCommand())
	rootCmd.AddCommand(newLanguagesCommand())
	rootCmd.AddCommand(newStatsCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	browser := tui.NewApp(store, func(id string) error {
		return workspace.Remove(cfg.WorkspacesDir(), id)
	})
	p := tea.NewProgram(browser, tea.WithAltScreen())

	_, err = p.Run()
	return err
}

func openStore() (*config.Config, *storage.Storage, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := storage.New(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return cfg, store, nil
}

func openApp(ctx context.Context, opts ...app.Option) (*app.App, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return app.New(ctx, cfg, logger, opts...)
}

// signalContext is canceled on SIGINT or SIGTERM, which aborts in-flight
// conversions with a Canceled reason.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func sourceLanguage(reg *registry.Registry, path, flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	lang, ok := reg.LookupExtension(path)
	if !ok {
		return "", fmt.Errorf("cannot infer the language of %s; pass --from", path)
	}
	return lang.Tag, nil
}

func newConvertCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <file>",
		Short: "Convert one source file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, _ := cmd.Flags().GetString("from")
			to, _ := cmd.Flags().GetString("to")
			out, _ := cmd.Flags().GetString("out")
			retries, _ := cmd.Flags().GetInt("max-retries")

			ctx, stop := signalContext()
			defer stop()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			code, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			source, err := sourceLanguage(a.Registry, args[0], from)
			if err != nil {
				return err
			}

			res := a.Engine.Convert(ctx, models.NewRequest(string(code), source, to, retries))
			fmt.Fprintf(os.Stderr, "Run %s: %s after %d attempt(s) in %s\n",
				res.RequestID, res.Outcome, res.AttemptsUsed, res.Duration().Round(time.Millisecond))

			switch res.Outcome {
			case models.OutcomeSuccess:
				if out == "" || out == "-" {
					fmt.Print(res.FinalCode)
					if !strings.HasSuffix(res.FinalCode, "\n") {
						fmt.Println()
					}
					return nil
				}
				if err := os.WriteFile(out, []byte(res.FinalCode), 0644); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "Wrote %s\n", out)
				return nil
			case models.OutcomeExhausted:
				fmt.Fprintln(os.Stderr, "Last attempt defects:")
				for _, d := range res.LastAttempt.Verdict.Defects {
					fmt.Fprintf(os.Stderr, "  - %s\n", d)
				}
				return errors.New("retry budget exhausted")
			default:
				return fmt.Errorf("conversion aborted (%s): %s", res.AbortReason, res.Detail)
			}
		},
	}

	cmd.Flags().String("from", "", "Source language (default: from the file extension)")
	cmd.Flags().StringP("to", "t", "python", "Target language")
	cmd.Flags().StringP("out", "o", "", "Write the converted code here instead of stdout")
	cmd.Flags().Int("max-retries", 0, "Generation attempts (default: TRANSMUTE_MAX_RETRIES)")
	return cmd
}

func newBatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <file>...",
		Short: "Convert several files concurrently",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, _ := cmd.Flags().GetString("to")
			outDir, _ := cmd.Flags().GetString("out-dir")
			concurrency, _ := cmd.Flags().GetInt("concurrency")

			ctx, stop := signalContext()
			defer stop()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if concurrency <= 0 {
				concurrency = a.Config.Concurrency
			}

			target, ok := a.Registry.Lookup(to)
			if !ok {
				return fmt.Errorf("unknown target language %q", to)
			}

			reqs := make([]models.ConversionRequest, 0, len(args))
			for _, path := range args {
				code, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				source, err := sourceLanguage(a.Registry, path, "")
				if err != nil {
					return err
				}
				reqs = append(reqs, models.NewRequest(string(code), source, to, 0))
			}

			if outDir != "" {
				if err := os.MkdirAll(outDir, 0755); err != nil {
					return err
				}
			}

			failed := 0
			for i, res := range a.Engine.ConvertAll(ctx, reqs, concurrency) {
				fmt.Printf("%-30s %-10s %d attempt(s)  %s\n", truncate(args[i], 30), res.Outcome, res.AttemptsUsed, res.RequestID)
				if !res.Succeeded() {
					failed++
					continue
				}
				if outDir != "" && len(target.Extensions) > 0 {
					base := strings.TrimSuffix(filepath.Base(args[i]), filepath.Ext(args[i]))
					if err := os.WriteFile(filepath.Join(outDir, base+target.Extensions[0]), []byte(res.FinalCode), 0644); err != nil {
						return err
					}
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d conversions did not succeed", failed, len(reqs))
			}
			return nil
		},
	}

	cmd.Flags().StringP("to", "t", "python", "Target language")
	cmd.Flags().String("out-dir", "", "Directory for converted files")
	cmd.Flags().IntP("concurrency", "c", 0, "Conversions in flight (default: TRANSMUTE_CONCURRENCY)")
	return cmd
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")

			ctx, stop := signalContext()
			defer stop()

			hub, err := server.NewHub(0)
			if err != nil {
				return err
			}
			a, err := openApp(ctx, app.WithSink(hub))
			if err != nil {
				return err
			}
			defer a.Close()
			if addr == "" {
				addr = a.Config.ListenAddr
			}

			srv := server.New(addr, a.Engine, a.Store, hub, a.Registry, logger)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().String("addr", "", "Listen address (default: TRANSMUTE_ADDR or :8000)")
	return cmd
}

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent conversions",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			_, store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if len(runs) == 0 {
				fmt.Println("No runs found.")
				return nil
			}

			for _, run := range runs {
				fmt.Printf("%s  %s -> %-10s [%s] %d/%d  %s\n",
					run.ID, run.SourceLanguage, run.TargetLanguage, run.Status,
					run.AttemptsUsed, run.MaxRetries, storage.FormatTimeAgo(run.CreatedAt))
			}

			return nil
		},
	}

	cmd.Flags().IntP("limit", "n", 20, "Number of runs to show")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show a conversion and its attempts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get run: %w", err)
			}

			fmt.Printf("Run %s: %s -> %s\n", run.ID, run.SourceLanguage, run.TargetLanguage)
			fmt.Printf("Status: %s (state %s)\n", run.Status, run.CurrentState)
			fmt.Printf("Attempts: %d of %d\n", run.AttemptsUsed, run.MaxRetries)
			fmt.Printf("Workspace: %s\n", filepath.Join(cfg.WorkspacesDir(), "run-"+run.ID))
			if run.AbortReason != "" {
				fmt.Printf("Abort reason: %s\n", run.AbortReason)
			}
			if run.Detail != "" {
				fmt.Printf("Detail: %s\n", run.Detail)
			}

			attempts, err := store.GetAttemptsForRun(cmd.Context(), run.ID)
			if err != nil {
				return err
			}

			if len(attempts) > 0 {
				fmt.Println("\nAttempts:")
				for _, att := range attempts {
					verdict := "pending"
					if att.Verdict != nil {
						verdict = att.Verdict.Summary()
					}
					fmt.Printf("  %d. %s\n", att.Number, verdict)
				}
			}

			return nil
		},
	}
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a conversion and its workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteRun(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to delete run: %w", err)
			}
			if err := workspace.Remove(cfg.WorkspacesDir(), args[0]); err != nil {
				return fmt.Errorf("failed to remove workspace: %w", err)
			}

			fmt.Printf("Deleted run %s\n", args[0])
			return nil
		},
	}
}

func newLanguagesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "List registered languages",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New()
			if err != nil {
				return err
			}
			reg, err := registry.LoadAll(cfg.LanguageDirs())
			if err != nil {
				return err
			}

			seen := map[string]*registry.Language{}
			for _, l := range append(reg.Sources(), reg.Targets()...) {
				seen[l.Tag] = l
			}
			tags := make([]string, 0, len(seen))
			for tag := range seen {
				tags = append(tags, tag)
			}
			sort.Strings(tags)

			for _, tag := range tags {
				l := seen[tag]
				roles := make([]string, 0, len(l.Roles))
				for _, r := range l.Roles {
					roles = append(roles, string(r))
				}
				fmt.Printf("%-12s %-12s %-15s %s\n", l.Tag, l.Name, strings.Join(roles, ","), strings.Join(l.Extensions, " "))
			}
			return nil
		},
	}
}

func newStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarise recent conversions",
		RunE: func(cmd *cobra.Command, args []string) error {
			hours, _ := cmd.Flags().GetInt("hours")

			_, store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats(cmd.Context(), time.Now().Add(-time.Duration(hours)*time.Hour))
			if err != nil {
				return err
			}

			fmt.Printf("Last %dh: %d conversions\n", hours, stats.Total)
			if stats.Total == 0 {
				return nil
			}
			fmt.Printf("Success rate: %.1f%%\n", stats.SuccessRate*100)
			fmt.Printf("Average attempts: %.2f\n", stats.AverageAttempts)
			fmt.Printf("Average duration: %s\n", stats.AverageDuration.Round(time.Millisecond))
			for _, state := range []models.State{
				models.StateParsing, models.StateIntentExtraction, models.StateGenerating,
				models.StateValidating, models.StateRetrying,
			} {
				if d, ok := stats.StageDurations[state]; ok {
					fmt.Printf("  %-18s avg %s\n", state, d.Round(time.Millisecond))
				}
			}
			for status, n := range stats.ByStatus {
				fmt.Printf("  %-10s %d\n", status, n)
			}
			for reason, n := range stats.ByAbortReason {
				fmt.Printf("  %-24s %d\n", reason, n)
			}
			return nil
		},
	}

	cmd.Flags().Int("hours", 24, "Window in hours")
	return cmd
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
