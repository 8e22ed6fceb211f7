package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tether-cli/api/schemas"
	"github.com/xkilldash9x/tether-cli/internal/approval"
	"github.com/xkilldash9x/tether-cli/internal/config"
	"github.com/xkilldash9x/tether-cli/internal/constraint"
	"github.com/xkilldash9x/tether-cli/internal/execution"
	"github.com/xkilldash9x/tether-cli/internal/observability"
	"github.com/xkilldash9x/tether-cli/internal/orchestrator"
	"github.com/xkilldash9x/tether-cli/internal/reliability"
	"github.com/xkilldash9x/tether-cli/internal/simulation"
	"github.com/xkilldash9x/tether-cli/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// newExecuteCmd creates and configures the `execute` command.
func newExecuteCmd() *cobra.Command {
	executeCmd := &cobra.Command{
		Use:   "execute <plan-file>",
		Short: "Runs a plan file through the full decision pipeline",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("approval.auto_approve", cmd.Flags().Lookup("auto-approve")); err != nil {
				return err
			}
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			plan, err := loadPlan(args[0])
			if err != nil {
				return err
			}

			run, _ := cmd.Flags().GetBool("run")
			components, err := buildPipeline(ctx, cfg, logger, run)
			if err != nil {
				if components != nil {
					components.Shutdown()
				}
				return fmt.Errorf("failed to initialize pipeline: %w", err)
			}
			defer components.Shutdown()

			approver := selectApprover(cmd)
			result, err := components.Orchestrator.ExecutePlan(ctx, *plan, approver)
			if err != nil {
				logger.Error("Pipeline run failed", zap.Error(err), zap.String("plan_id", plan.ID))
				return err
			}

			if err := printJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}

			switch result.Status {
			case schemas.StatusRejected:
				return fmt.Errorf("plan %s rejected: %s", plan.ID, result.Reason)
			case schemas.StatusFailed:
				return fmt.Errorf("plan %s failed during execution: %s", plan.ID, result.Reason)
			case schemas.StatusAwaitingApproval:
				fmt.Fprintf(cmd.OutOrStdout(), "\nPlan suspended. Approval request: %s\n", result.ApprovalRequestID)
			}
			return nil
		},
	}

	executeCmd.Flags().Bool("run", false, "Execute the plan with the built-in tools after approval.")
	executeCmd.Flags().Bool("auto-approve", false, "Bypass the human approval gate. Dangerous. (Overrides config/env)")
	executeCmd.Flags().Bool("approve", false, "Answer yes to any approval request without prompting.")
	executeCmd.Flags().Bool("reject", false, "Answer no to any approval request without prompting.")

	return executeCmd
}

// loadPlan parses a plan document from disk and checks its structure.
func loadPlan(path string) (*schemas.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file %s: %w", path, err)
	}
	var plan schemas.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan file %s: %w", path, err)
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan document: %w", err)
	}
	return &plan, nil
}

// selectApprover picks the approval policy for this invocation. Without a
// decision flag the user is prompted on the terminal.
func selectApprover(cmd *cobra.Command) schemas.Approver {
	if approve, _ := cmd.Flags().GetBool("approve"); approve {
		return approval.AutoApprover{}
	}
	if reject, _ := cmd.Flags().GetBool("reject"); reject {
		return approval.RejectAll{}
	}
	return promptApprover(cmd)
}

// promptApprover asks the user for a go/no-go decision on stdin.
func promptApprover(cmd *cobra.Command) schemas.Approver {
	return schemas.ApproverFunc(func(ctx context.Context, req schemas.ApprovalRequest) (bool, error) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "\nAPPROVAL REQUIRED for plan %s\n", req.PlanID)
		fmt.Fprintf(out, "  risk:        %s\n", req.Risk)
		fmt.Fprintf(out, "  cost:        %.2f\n", req.EstimatedCost)
		fmt.Fprintf(out, "  duration:    %dm\n", req.EstimatedTime/60)
		fmt.Fprintf(out, "  success:     %.0f%%\n", req.SuccessProbability*100)
		for i := 1; i <= 3; i++ {
			if risk, ok := req.Context[fmt.Sprintf("key_risk_%d", i)]; ok {
				fmt.Fprintf(out, "  key risk:    %s\n", risk)
			}
		}
		fmt.Fprint(out, "Approve? [y/N]: ")

		scanner := bufio.NewScanner(cmd.InOrStdin())
		if !scanner.Scan() {
			return false, scanner.Err()
		}
		answer := scanner.Text()
		return answer == "y" || answer == "Y" || answer == "yes", nil
	})
}

// pipelineComponents holds the initialized services for one command run.
type pipelineComponents struct {
	Orchestrator *orchestrator.Orchestrator
	Engine       *execution.Engine
	Monitor      *reliability.Monitor
	DBPool       *pgxpool.Pool
}

// Shutdown releases held resources.
func (pc *pipelineComponents) Shutdown() {
	if pc.DBPool != nil {
		pc.DBPool.Close()
	}
}

// buildPipeline handles dependency injection for the pipeline. Persistence is
// enabled only when a database URL is configured; execution only on request.
func buildPipeline(ctx context.Context, cfg *config.Config, logger *zap.Logger, withEngine bool) (*pipelineComponents, error) {
	components := &pipelineComponents{}

	validator := constraint.New(constraint.FromConfig(cfg.Constraints))
	simulator := simulation.New(cfg.Simulation, simulation.RiskThresholds{
		LowSuccess:   cfg.Approval.LowSuccessThreshold,
		HighCost:     cfg.Approval.HighCostThreshold,
		LongDuration: cfg.Approval.LongDurationThreshold,
	}, logger)
	gate := approval.New(cfg.Approval, logger)
	monitor := reliability.New(cfg.Reliability, logger)
	components.Monitor = monitor

	monitor.AddAlertCallback(func(a reliability.Alert) {
		logger.Warn("Tool health alert",
			zap.String("tool", a.ToolName),
			zap.String("metric", a.Metric),
			zap.Float64("value", a.NewValue),
		)
	})

	var opts []orchestrator.Option

	if withEngine {
		engine := execution.New(cfg.Engine, monitor, logger)
		if err := registerBuiltinTools(engine); err != nil {
			return components, err
		}
		components.Engine = engine
		opts = append(opts, orchestrator.WithEngine(engine))
	}

	if cfg.Database.URL != "" {
		dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		dbPool, err := pgxpool.New(dbCtx, cfg.Database.URL)
		if err != nil {
			return components, fmt.Errorf("failed to connect to database: %w", err)
		}
		components.DBPool = dbPool

		dbStore, err := store.New(dbCtx, dbPool, logger)
		if err != nil {
			return components, fmt.Errorf("failed to initialize store: %w", err)
		}
		if err := dbStore.EnsureSchema(dbCtx); err != nil {
			return components, err
		}
		opts = append(opts, orchestrator.WithPersister(dbStore))
	}

	orch, err := orchestrator.New(cfg, logger, validator, simulator, gate, monitor, opts...)
	if err != nil {
		return components, err
	}
	components.Orchestrator = orch

	return components, nil
}

// printJSON writes an indented JSON rendering of v.
func printJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render result: %w", err)
	}
	_, err = out.Write(append(data, '\n'))
	return err
}
