package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/xkilldash9x/tether-cli/api/schemas"
	"github.com/xkilldash9x/tether-cli/internal/execution"
)

// Built-in tool handlers for the --run mode. They stand in for real agent
// tools: each one does a short burst of simulated work, honors cancellation,
// and reports a cost. Step params can override the cost ("cost") or force a
// failure ("fail") to demonstrate the failure handling paths.

func registerBuiltinTools(engine *execution.Engine) error {
	tools := map[string]schemas.ToolHandler{
		"scrape_data":     builtinTool(150*time.Millisecond, 2.5),
		"analyze_data":    builtinTool(250*time.Millisecond, 5.0),
		"generate_report": builtinTool(100*time.Millisecond, 1.0),
	}
	for name, handler := range tools {
		if err := engine.RegisterTool(name, handler); err != nil {
			return fmt.Errorf("failed to register built-in tool %s: %w", name, err)
		}
	}
	return nil
}

func builtinTool(duration time.Duration, cost float64) schemas.ToolHandler {
	return func(ctx context.Context, step schemas.Step) schemas.ToolResult {
		if c, ok := step.Params["cost"].(float64); ok {
			cost = c
		}

		timer := time.NewTimer(duration)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return schemas.ToolResult{Error: ctx.Err().Error()}
		case <-timer.C:
		}

		if fail, ok := step.Params["fail"].(bool); ok && fail {
			return schemas.ToolResult{
				Cost:  cost,
				Error: fmt.Sprintf("step %q failed on request", step.Action),
			}
		}
		return schemas.ToolResult{Success: true, Cost: cost}
	}
}
