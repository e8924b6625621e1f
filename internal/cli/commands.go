package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dyike/AurumGo/config"
	"github.com/dyike/AurumGo/internal/debug"
	"github.com/dyike/AurumGo/internal/display"
	"github.com/dyike/AurumGo/internal/llm"
	"github.com/dyike/AurumGo/internal/logger"
	"github.com/dyike/AurumGo/internal/merger"
	"github.com/dyike/AurumGo/internal/models"
	"github.com/dyike/AurumGo/internal/pipeline"
	"github.com/dyike/AurumGo/internal/scheduler"
	"github.com/dyike/AurumGo/internal/storage"
	"github.com/dyike/AurumGo/internal/storage/sqlite"
)

// mergeJob is the schedule name of the unified merge.
const mergeJob = "merge"

// rootState is filled by the root command before any subcommand runs.
type rootState struct {
	configPath string
	debug      bool
	pretty     bool

	cfg *config.Config
	mgr *config.Manager
	log zerolog.Logger
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	st := &rootState{}

	rootCmd := &cobra.Command{
		Use:   "aurum",
		Short: "AurumGo - gold market analysis",
		Long: `AurumGo gathers gold prices, technicals and news, asks one or more language
models for a buy/sell/hold view, merges their answers and keeps every result as a
timestamped JSON snapshot.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return st.load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Default behavior: start interactive mode
			return runInteractiveMode(cmd.Context(), st)
		},
	}

	rootCmd.AddCommand(newAnalyzeCmd(st))
	rootCmd.AddCommand(newMergeCmd(st))
	rootCmd.AddCommand(newShowCmd(st))
	rootCmd.AddCommand(newHistoryCmd(st))
	rootCmd.AddCommand(newScheduleCmd(st))
	rootCmd.AddCommand(newConfigCmd(st))
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.PersistentFlags().BoolVar(&st.debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&st.pretty, "pretty", true, "Human readable log output")
	rootCmd.PersistentFlags().StringVar(&st.configPath, "config", "", "Configuration file path (JSON)")

	return rootCmd
}

func (st *rootState) load() error {
	// until the config is read its level is unknown
	st.log = logger.New(logger.Config{Level: "info", Pretty: st.pretty})
	if st.configPath == "" {
		st.cfg = config.DefaultConfig()
	} else {
		mgr, err := config.NewManager(config.WithConfigPath(st.configPath), config.WithLogger(st.log))
		if err != nil {
			return err
		}
		cfg := mgr.Get()
		st.cfg, st.mgr = &cfg, mgr
	}
	if st.debug {
		st.cfg.Debug = true
		st.cfg.LogLevel = "debug"
	}
	st.log = logger.New(logger.Config{Level: st.cfg.LogLevel, Pretty: st.pretty})
	return nil
}

// withApp builds the app, runs fn and flushes metrics whatever fn returns.
func (st *rootState) withApp(ctx context.Context, fn func(a *app) error) error {
	if err := st.cfg.Validate(); err != nil {
		return err
	}
	if err := debug.NewEinoDebugger(st.cfg, st.log).Initialize(ctx); err != nil {
		st.log.Warn().Err(err).Msg("eino debugger not started")
	}
	a, err := newApp(ctx, st.cfg, st.log)
	if err != nil {
		return err
	}
	defer a.finish()
	return fn(a)
}

func newAnalyzeCmd(st *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze TOOL",
		Short: "Run one analysis pipeline and save its record",
		Long: `Run one analysis pipeline. TOOL is a model provider (claude, openai, gemini,
deepseek) or "scraper" for the model-free pipeline.
Example: aurum analyze claude`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.withApp(cmd.Context(), func(a *app) error {
				return runAnalyze(cmd.Context(), a, args[0])
			})
		},
	}
}

func runAnalyze(ctx context.Context, a *app, tool string) error {
	res, err := a.runner.Run(ctx, tool)
	if err != nil {
		return err
	}
	fmt.Println(display.RenderRecord(res.Record))
	display.DisplaySuccess("saved " + res.Path)
	return nil
}

func newMergeCmd(st *rootState) *cobra.Command {
	var toolA, toolB string
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge the latest records of two tools into the unified record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.withApp(cmd.Context(), func(a *app) error {
				return runMerge(cmd.Context(), a, toolA, toolB)
			})
		},
	}
	cmd.Flags().StringVar(&toolA, "a", llm.ProviderClaude, "Preferred source tool")
	cmd.Flags().StringVar(&toolB, "b", llm.ProviderOpenAI, "Second source tool")
	return cmd
}

func runMerge(ctx context.Context, a *app, toolA, toolB string) error {
	res, err := a.runner.Merge(ctx, toolA, toolB)
	if err != nil {
		return err
	}
	fmt.Println(display.RenderRecord(res.Record))
	display.DisplaySuccess("saved " + res.Path)
	return nil
}

func newShowCmd(st *rootState) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show TOOL",
		Short: "Show the latest saved record of a tool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd, storage.New(st.cfg.ResultsDir), args[0], asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw JSON record")
	return cmd
}

func runShow(cmd *cobra.Command, store *storage.Store, tool string, asJSON bool) error {
	rec, err := store.Latest(tool)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("no saved analysis for %s yet, run: aurum analyze %s", tool, tool)
		}
		return err
	}
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}
	fmt.Fprintln(out, display.RenderRecord(rec))
	return nil
}

func newHistoryCmd(st *rootState) *cobra.Command {
	var (
		tool  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs from the history index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if st.cfg.HistoryDB == "" {
				return errors.New("history_db is not configured")
			}
			index, err := sqlite.Open(st.cfg.HistoryDB)
			if err != nil {
				return err
			}
			defer index.Close()
			return runHistory(cmd, index, tool, limit)
		},
	}
	cmd.Flags().StringVar(&tool, "tool", "", "Only show runs of this tool")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs")
	return cmd
}

func runHistory(cmd *cobra.Command, index *sqlite.Store, tool string, limit int) error {
	runs, err := index.ListRuns(cmd.Context(), tool, limit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, display.RenderRuns(runs))

	counts, err := index.CountByStatus(cmd.Context(), tool)
	if err != nil {
		return err
	}
	if len(counts) > 0 {
		fmt.Fprintf(out, "\n%d succeeded, %d failed\n", counts[models.StatusSuccess], counts[models.StatusFailed])
	}
	return nil
}

func newScheduleCmd(st *rootState) *cobra.Command {
	var toolA, toolB string
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the configured schedules until interrupted",
		Long: `Run every pipeline listed in the "schedules" config on its cron spec. The
special job name "merge" runs the unified merge. With --config the file is watched
and schedules are reloaded on change.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return st.withApp(ctx, func(a *app) error {
				return runSchedule(ctx, st, a, toolA, toolB)
			})
		},
	}
	cmd.Flags().StringVar(&toolA, "a", llm.ProviderClaude, "Preferred source tool of the merge job")
	cmd.Flags().StringVar(&toolB, "b", llm.ProviderOpenAI, "Second source tool of the merge job")
	return cmd
}

func runSchedule(ctx context.Context, st *rootState, a *app, toolA, toolB string) error {
	sched := scheduler.New(ctx, st.log)
	build := jobBuilder(a, toolA, toolB)

	if err := sched.Replace(st.cfg.Schedules, build); err != nil {
		return err
	}
	if len(sched.Jobs()) == 0 {
		display.DisplayWarning("no schedules configured; add \"schedules\" to the config or set AURUM_SCHEDULES")
	}

	if st.mgr != nil {
		err := st.mgr.Watch(ctx, func(cfg config.Config) {
			if err := sched.Replace(cfg.Schedules, build); err != nil {
				st.log.Error().Err(err).Msg("schedules not reloaded")
				return
			}
			st.log.Info().Strs("jobs", sched.Jobs()).Msg("schedules reloaded")
		})
		if err != nil {
			st.log.Warn().Err(err).Msg("config watch disabled")
		}
	}

	sched.Start()
	<-ctx.Done()
	sched.Stop()
	return nil
}

// jobBuilder maps a schedule name to a job: a pipeline tool, or the merge.
func jobBuilder(a *app, toolA, toolB string) func(name string) (scheduler.Job, bool) {
	return func(name string) (scheduler.Job, bool) {
		switch {
		case name == mergeJob || name == merger.Tool:
			return scheduler.JobFunc{JobName: name, Fn: func(ctx context.Context) error {
				_, err := a.runner.Merge(ctx, toolA, toolB)
				return err
			}}, true
		case pipeline.Known(name):
			return scheduler.JobFunc{JobName: name, Fn: func(ctx context.Context) error {
				defer func() {
					if err := a.metrics.WriteTextfile(a.cfg.MetricsTextfile); err != nil {
						a.log.Warn().Err(err).Msg("metrics not written")
					}
				}()
				_, err := a.runner.Run(ctx, name)
				return err
			}}, true
		}
		return nil, false
	}
}

// newVersionCmd creates the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "AurumGo v%s\n", Version)
		},
	}
}

// newConfigCmd creates the config command
func newConfigCmd(st *rootState) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(masked(*st.cfg))
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and report available pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(cmd, st.cfg)
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "schedule TOOL SPEC",
		Short: "Set the cron spec of a pipeline in the config file",
		Long: `Set the cron spec of a pipeline or of "merge". A running schedule command
picks the change up without a restart.
Example: aurum config schedule claude "0 0 */4 * * *"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tool, spec := args[0], args[1]
			if !pipeline.Known(tool) && tool != mergeJob {
				return fmt.Errorf("%w: %s", pipeline.ErrUnknownTool, tool)
			}
			mgr, err := st.manager()
			if err != nil {
				return err
			}
			if err := mgr.SetSchedule(tool, spec); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s scheduled at %q in %s\n", tool, spec, mgr.Path())
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "unschedule TOOL",
		Short: "Remove the schedule of a pipeline from the config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := st.manager()
			if err != nil {
				return err
			}
			return mgr.RemoveSchedule(args[0])
		},
	})

	return configCmd
}

// manager returns the --config manager, or the one at the default location.
func (st *rootState) manager() (*config.Manager, error) {
	if st.mgr != nil {
		return st.mgr, nil
	}
	return config.NewManager(config.WithLogger(st.log))
}

func masked(cfg config.Config) config.Config {
	for _, s := range []*string{
		&cfg.ClaudeAPIKey, &cfg.OpenAIAPIKey, &cfg.GeminiAPIKey, &cfg.DeepSeekAPIKey,
		&cfg.LongportAppSecret, &cfg.LongportAccessToken, &cfg.TelegramBotToken,
	} {
		if *s != "" {
			*s = "****"
		}
	}
	return cfg
}

func validateConfig(cmd *cobra.Command, cfg *config.Config) error {
	out := cmd.OutOrStdout()
	if err := cfg.Validate(); err != nil {
		return err
	}
	for tool, spec := range cfg.Schedules {
		if !pipeline.Known(tool) && tool != mergeJob && tool != merger.Tool {
			return fmt.Errorf("schedule %q: unknown tool", tool)
		}
		if strings.TrimSpace(spec) == "" {
			return fmt.Errorf("schedule %q: empty spec", tool)
		}
	}

	keys := map[string]string{
		llm.ProviderClaude:   cfg.ClaudeAPIKey,
		llm.ProviderOpenAI:   cfg.OpenAIAPIKey,
		llm.ProviderGemini:   cfg.GeminiAPIKey,
		llm.ProviderDeepSeek: cfg.DeepSeekAPIKey,
	}
	var ready, missing []string
	for name, key := range keys {
		if key == "" {
			missing = append(missing, name)
		} else {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)
	sort.Strings(missing)
	ready = append(ready, pipeline.ToolScraper)

	fmt.Fprintf(out, "configuration ok\n")
	fmt.Fprintf(out, "pipelines ready: %s\n", strings.Join(ready, ", "))
	if len(missing) > 0 {
		fmt.Fprintf(out, "no api key for: %s\n", strings.Join(missing, ", "))
	}
	return nil
}
