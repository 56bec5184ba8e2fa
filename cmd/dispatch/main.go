package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zen-systems/dispatch/pkg/backend"
	"github.com/zen-systems/dispatch/pkg/config"
	"github.com/zen-systems/dispatch/pkg/dispatch"
	"github.com/zen-systems/dispatch/pkg/executor"
	"github.com/zen-systems/dispatch/pkg/history"
	"github.com/zen-systems/dispatch/pkg/registry"
	"github.com/zen-systems/dispatch/pkg/task"
)

var (
	debugFlag    bool
	providerFlag string
	modelFlag    string
	mockFlag     bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Learned task dispatch with validation and retry",
		Long: `Dispatch routes a task to the executor most likely to produce a
high-quality result, validates the result, and retries with a different
executor or a clarified task when quality falls short. Every attempt is
recorded, so selection improves with use.`,
	}

	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "log engine progress to stderr")
	rootCmd.PersistentFlags().StringVar(&providerFlag, "provider", "", "backend provider (anthropic, openai, google)")
	rootCmd.PersistentFlags().StringVar(&modelFlag, "model", "", "override the provider's default model")
	rootCmd.PersistentFlags().BoolVar(&mockFlag, "mock", false, "use the mock backend (no API calls)")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(recommendCmd())
	rootCmd.AddCommand(performanceCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(executorsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// analysisFlags collects the task-analysis inputs shared by run and
// recommend.
type analysisFlags struct {
	complexity   string
	domain       string
	quality      float64
	tools        bool
	knowledge    bool
	reasoning    bool
	iteration    bool
	steps        int
	requirements int
}

func (f *analysisFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.complexity, "complexity", "medium", "task complexity (simple, medium, complex, extreme)")
	cmd.Flags().StringVar(&f.domain, "domain", "general", "task domain (general, technical, creative, analytical, conversational, monitoring)")
	cmd.Flags().Float64Var(&f.quality, "quality", 0.7, "required quality in [0,1]")
	cmd.Flags().BoolVar(&f.tools, "tools", false, "task requires tool use")
	cmd.Flags().BoolVar(&f.knowledge, "knowledge", false, "task requires knowledge retrieval")
	cmd.Flags().BoolVar(&f.reasoning, "reasoning", false, "task requires multi-step reasoning")
	cmd.Flags().BoolVar(&f.iteration, "iteration", false, "task benefits from iterative refinement")
	cmd.Flags().IntVar(&f.steps, "steps", 0, "estimated number of steps")
	cmd.Flags().IntVar(&f.requirements, "requirements", 0, "number of key requirements")
}

func (f *analysisFlags) analysis() task.Analysis {
	return task.Analysis{
		Complexity:          task.Complexity(f.complexity),
		Domain:              task.Domain(f.domain),
		RequiresTools:       f.tools,
		RequiresKnowledge:   f.knowledge,
		RequiresReasoning:   f.reasoning,
		RequiresIteration:   f.iteration,
		RequiredQuality:     f.quality,
		EstimatedSteps:      f.steps,
		KeyRequirementCount: f.requirements,
	}
}

func runCmd() *cobra.Command {
	flags := &analysisFlags{}
	var attempts int
	var threshold float64
	var jsonFlag bool

	cmd := &cobra.Command{
		Use:   "run [task]",
		Short: "Run a task through the dispatch loop",
		Long: `Selects an executor for the task, runs it, validates the answer, and
retries with a different executor or a reframed task until the quality
threshold is met or the attempt budget is spent.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			be, err := createBackend(cfg)
			if err != nil {
				return err
			}
			hist, err := openHistory(cfg)
			if err != nil {
				return err
			}

			reg := registry.New()
			if err := executor.RegisterDefaults(reg, be); err != nil {
				return fmt.Errorf("failed to register executors: %w", err)
			}

			engineCfg := cfg.EngineConfig()
			if attempts > 0 {
				engineCfg.MaxAttempts = attempts
			}
			if threshold > 0 {
				engineCfg.QualityThreshold = threshold
			}
			if debugFlag {
				engineCfg.Logger = log.Printf
			}

			engine, err := dispatch.New(engineCfg, reg, hist, be)
			if err != nil {
				return err
			}

			report, err := engine.Run(context.Background(), args[0], flags.analysis())
			if err != nil {
				return err
			}

			if jsonFlag {
				data, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			fmt.Println(report.Answer)
			status := "accepted"
			if !report.Success {
				status = "below threshold (best attempt shown)"
			}
			fmt.Fprintf(os.Stderr, "\n%s via %s, quality %.1f/10, %d attempt(s)\n",
				status, report.ExecutorUsed, report.QualityScore, len(report.Attempts))
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().IntVar(&attempts, "attempts", 0, "override max attempts")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "override static quality threshold")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "print the full run report as JSON")

	return cmd
}

func recommendCmd() *cobra.Command {
	flags := &analysisFlags{}

	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Show which executor would be selected, without running",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			be, err := createBackend(cfg)
			if err != nil {
				return err
			}
			hist, err := openHistory(cfg)
			if err != nil {
				return err
			}

			reg := registry.New()
			if err := executor.RegisterDefaults(reg, be); err != nil {
				return fmt.Errorf("failed to register executors: %w", err)
			}

			engine, err := dispatch.New(cfg.EngineConfig(), reg, hist, be)
			if err != nil {
				return err
			}

			rec, err := engine.Recommend(flags.analysis())
			if err != nil {
				return err
			}

			fmt.Printf("Executor:   %s\n", rec.ExecutorID)
			fmt.Printf("Method:     %s\n", rec.Method)
			fmt.Printf("Confidence: %.2f\n", rec.Confidence)
			fmt.Printf("Reasoning:  %s\n", rec.Reasoning)
			for _, alt := range rec.Alternatives {
				fmt.Printf("Alternative: %s (score %.2f)\n", alt.ExecutorID, alt.Score)
			}
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

func performanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "performance",
		Short: "Show per-executor performance from the attempt history",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			hist, err := openHistory(cfg)
			if err != nil {
				return err
			}

			reg := registry.New()
			if err := executor.RegisterDefaults(reg, backend.NewService(backend.NewMockClient())); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "EXECUTOR\tATTEMPTS\tSUCCESSES\tAVG QUALITY\tAVG DURATION")
			for _, profile := range reg.Profiles() {
				perf := hist.PerformanceByExecutor(profile.ID)
				fmt.Fprintf(w, "%s\t%d\t%d\t%.1f\t%s\n",
					profile.ID, perf.Attempts, perf.Successes, perf.AverageQuality, perf.AverageDuration)
			}
			return w.Flush()
		},
	}
}

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Show attempt-history statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			hist, err := openHistory(cfg)
			if err != nil {
				return err
			}

			stats := hist.Stats()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Records\t%d\n", stats.TotalRecords)
			fmt.Fprintf(w, "Executors\t%d\n", stats.UniqueExecutors)
			fmt.Fprintf(w, "Success rate\t%.0f%%\n", stats.SuccessRate*100)
			fmt.Fprintf(w, "Avg quality\t%.1f/10\n", stats.AvgQuality)
			if stats.TotalRecords > 0 {
				fmt.Fprintf(w, "Oldest\t%s\n", stats.OldestTimestamp.Format("2006-01-02 15:04"))
				fmt.Fprintf(w, "Newest\t%s\n", stats.NewestTimestamp.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
}

func executorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "executors",
		Short: "List the built-in executors and their profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := registry.New()
			if err := executor.RegisterDefaults(reg, backend.NewService(backend.NewMockClient())); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "EXECUTOR\tTYPE\tCOMPLEXITY\tQUALITY\tSPEED\tSTRENGTHS")
			for _, p := range reg.Profiles() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					p.ID, p.Type, p.ComplexityLevel, p.QualityLevel, p.Speed, strings.Join(p.Strengths, ", "))
			}
			return w.Flush()
		},
	}
}

func createBackend(cfg *config.Config) (backend.Backend, error) {
	if mockFlag {
		return backend.NewService(backend.NewMockClient()), nil
	}

	provider := providerFlag
	if provider == "" {
		for _, candidate := range []string{"anthropic", "openai", "google"} {
			if cfg.HasProvider(candidate) {
				provider = candidate
				break
			}
		}
	}

	var client backend.Client
	var err error
	switch provider {
	case "anthropic":
		client, err = backend.NewAnthropicClient(cfg.AnthropicAPIKey, modelFlag)
	case "openai":
		client, err = backend.NewOpenAIClient(cfg.OpenAIAPIKey, modelFlag)
	case "google":
		client, err = backend.NewGoogleClient(cfg.GoogleAPIKey, modelFlag)
	case "":
		return nil, fmt.Errorf("no API key configured; set ANTHROPIC_API_KEY, OPENAI_API_KEY, or GOOGLE_API_KEY (or use --mock)")
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", provider, err)
	}
	return backend.NewService(client), nil
}

func openHistory(cfg *config.Config) (*history.Store, error) {
	opts := cfg.HistoryOptions()
	if debugFlag {
		opts.Logger = log.Printf
	}
	hist, err := history.Open(cfg.HistoryPath(), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open attempt history: %w", err)
	}
	return hist, nil
}
