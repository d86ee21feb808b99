// goalforge is the CLI for the goal engine: it processes goal requests with
// contingency execution, inspects persisted state and reads the audit trail.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"goalforge/internal/audit"
	"goalforge/internal/config"
	"goalforge/internal/contingency"
	"goalforge/internal/coordinator"
	"goalforge/internal/goal"
	"goalforge/internal/logging"
	"goalforge/internal/persistence"
)

var (
	cfgPath string
	dataDir string
	debug   bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "goalforge",
	Short: "Goal lifecycle and contingency execution engine",
	Long: `goalforge processes goal requests through feasibility evaluation,
resource allocation and a contingency plan chain with a guaranteed-safe
emergency abort.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		if dataDir != "" {
			cfg.DataDir = dataDir
		}
		if debug {
			cfg.Logging.Debug = true
		}
		return logging.Initialize(cfg.DataDir, cfg.Logging.Debug)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

var runCmd = &cobra.Command{
	Use:   "run <requests.yaml>",
	Short: "Process goal requests from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read requests: %w", err)
		}
		var reqs []coordinator.Request
		if err := yaml.Unmarshal(data, &reqs); err != nil {
			return fmt.Errorf("parse requests: %w", err)
		}
		if len(reqs) == 0 {
			return fmt.Errorf("no requests in %s", args[0])
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sink, err := audit.Open(cfg.DataDir)
		if err != nil {
			return err
		}
		defer sink.Close()

		coord := coordinator.New(cfg, &demoExecutor{}, sink)
		coord.SetPersistence(persistence.New(cfg.DataDir, cfg.Persistence))

		outcomes := coord.ProcessGoals(ctx, reqs, demoState())
		printJSON(outcomes)

		stats := coord.GetStatistics()
		logging.Get(logging.CategoryBoot).Info("batch complete",
			zap.Int("processed", stats.TotalProcessed),
			zap.Float64("success_rate", stats.SuccessRate))
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Load persisted goals and report what would resume",
	RunE: func(cmd *cobra.Command, args []string) error {
		pm := persistence.New(cfg.DataDir, cfg.Persistence)
		goals, err := pm.Load()
		if err != nil {
			return err
		}
		if len(goals) == 0 {
			fmt.Println("no goals to resume")
			return nil
		}
		for _, g := range goals {
			fmt.Printf("%-30s %-18s priority=%d plan=%s\n",
				g.Name, g.Status, g.Priority, g.ActivePlan)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the audit trail",
	RunE: func(cmd *cobra.Command, args []string) error {
		sink, err := audit.Open(cfg.DataDir)
		if err != nil {
			return err
		}
		defer sink.Close()

		ctx := cmd.Context()
		since := time.Now().AddDate(0, 0, -cfg.Coordinator.LookbackDays)
		counts, err := sink.FailureCounts(ctx, since)
		if err != nil {
			return err
		}
		mortems, err := sink.RecentPostMortems(ctx, 10)
		if err != nil {
			return err
		}

		fmt.Printf("plan failures (last %d days):\n", cfg.Coordinator.LookbackDays)
		if len(counts) == 0 {
			fmt.Println("  none")
		}
		for plan, n := range counts {
			fmt.Printf("  %-16s %d\n", plan, n)
		}
		fmt.Printf("recent post-mortems: %d\n", len(mortems))
		for _, pm := range mortems {
			fmt.Printf("  %s  %s (%s)\n",
				pm.Timestamp.Format(time.RFC3339), pm.GoalName, pm.FinalReason)
		}
		return nil
	},
}

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List state backups",
	RunE: func(cmd *cobra.Command, args []string) error {
		pm := persistence.New(cfg.DataDir, cfg.Persistence)
		backups, err := pm.Backups()
		if err != nil {
			return err
		}
		if len(backups) == 0 {
			fmt.Println("no backups")
			return nil
		}
		for _, b := range backups {
			fmt.Println(b)
		}
		return nil
	},
}

// demoExecutor is a scripted environment for exercising the engine without a
// live bridge. Action parameters drive the outcome: {"outcome": "fail"}
// fails, anything else applies plausible effects to the state snapshot.
type demoExecutor struct{}

var _ contingency.ActionExecutor = demoExecutor{}

func (demoExecutor) Execute(ctx context.Context, action goal.Action, state *goal.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if outcome, _ := action.Params["outcome"].(string); outcome == "fail" {
		return fmt.Errorf("scripted failure for action %s", action.Kind)
	}
	if state == nil {
		return nil
	}
	switch action.Kind {
	case "move_to_safety":
		state.SafeZone = true
	case "restore_full":
		state.HealthPct = 100
		state.StaminaPct = 100
	case "abort":
		// Abort preparation has no direct state effect.
	default:
		if kills, ok := action.Params["kills"].(int); ok {
			state.KillCount += kills
		}
		if state.Counters == nil {
			state.Counters = map[string]float64{}
		}
		state.Counters[action.Kind]++
	}
	return nil
}

func demoState() *goal.State {
	return &goal.State{
		HealthPct:    85,
		StaminaPct:   70,
		LoadPct:      45,
		HostileCount: 2,
		Location:     "home_base",
		SafeZone:     false,
		Level:        50,
		Inventory:    map[string]int{"potion": 50},
		Currency:     50000,
		Timestamp:    time.Now(),
	}
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	fmt.Println(string(data))
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Config file path")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "Data directory override")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "v", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(backupsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
