package db

import (
	"context"
	"fmt"
	"io"
)

// SPCCLI provides CLI operations for chart and limit management.
// It wraps SPCWorker and DB methods to provide a testable interface
// for the `process-report spc` subcommand.
type SPCCLI struct {
	DB            *DB
	HistoryWindow int
	MinSubgroupN  int
	Output        io.Writer // where to write output (os.Stdout by default)
}

// NewSPCCLI creates a new SPCCLI instance.
func NewSPCCLI(db *DB, historyWindow, minSubgroupN int, output io.Writer) *SPCCLI {
	return &SPCCLI{
		DB:            db,
		HistoryWindow: historyWindow,
		MinSubgroupN:  minSubgroupN,
		Output:        output,
	}
}

// Status prints a per-characteristic summary of samples, current limits
// and outstanding violations.
func (c *SPCCLI) Status(ctx context.Context) error {
	chars, err := c.DB.GetAllCharacteristics()
	if err != nil {
		return fmt.Errorf("failed to list characteristics: %w", err)
	}

	fmt.Fprintf(c.Output, "Chart Status\n")
	fmt.Fprintf(c.Output, "============\n")

	if len(chars) == 0 {
		fmt.Fprintf(c.Output, "No characteristics configured\n")
		return nil
	}

	for _, char := range chars {
		samples, err := c.DB.CountSamples(char.ID)
		if err != nil {
			return err
		}

		fmt.Fprintf(c.Output, "\n%s (id %d, %s/%s, n=%d)\n",
			char.Name, char.ID, char.ChartMode, char.FamilyLabel(), char.NominalSubgroupSize)
		fmt.Fprintf(c.Output, "  Samples: %d\n", samples)

		stored, err := c.DB.GetCurrentLimits(ctx, char.ID)
		if err != nil {
			return err
		}
		if stored == nil {
			fmt.Fprintf(c.Output, "  Limits:  none (waiting for history)\n")
			continue
		}
		fmt.Fprintf(c.Output, "  Limits:  revision %d  CL=%.4f UCL=%.4f LCL=%.4f (basis %d subgroups)\n",
			stored.Revision, stored.CenterLine, stored.UCL, stored.LCL, stored.BasisN)

		counts, err := c.DB.ViolationCounts(char.ID)
		if err != nil {
			return err
		}
		total := 0
		for _, n := range counts {
			total += n
		}
		if total == 0 {
			fmt.Fprintf(c.Output, "  ✅ No rule violations\n")
			continue
		}

		unacked, err := c.DB.ListViolations(char.ID, true)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.Output, "  ⚠️  Violations: %d critical, %d warning, %d info (%d unacknowledged)\n",
			counts["critical"], counts["warning"], counts["info"], len(unacked))
	}

	return nil
}

// Recalc estimates a fresh limits revision for one characteristic and
// re-evaluates its chart. Returns the result for programmatic use.
func (c *SPCCLI) Recalc(ctx context.Context, characteristicID int64) (*EvaluationResult, error) {
	worker := NewSPCWorker(c.DB, c.HistoryWindow, c.MinSubgroupN)
	result, err := worker.RecalculateLimits(ctx, characteristicID)
	if err != nil {
		return nil, fmt.Errorf("failed to recalculate limits: %w", err)
	}

	fmt.Fprintf(c.Output, "Recalculated limits for characteristic %d\n", characteristicID)
	fmt.Fprintf(c.Output, "  Revision:   %d (from %d subgroups)\n", result.LimitsRevision, result.Subgroups)
	fmt.Fprintf(c.Output, "  Violations: %d\n", result.Violations)
	return result, nil
}

// Rerun re-evaluates every characteristic over its full sample history.
func (c *SPCCLI) Rerun(ctx context.Context) error {
	fmt.Fprintf(c.Output, "Re-evaluating all characteristics over full history\n")

	worker := NewSPCWorker(c.DB, c.HistoryWindow, c.MinSubgroupN)
	if err := worker.RunFullHistory(ctx); err != nil {
		return fmt.Errorf("failed to re-evaluate charts: %w", err)
	}

	fmt.Fprintf(c.Output, "Re-evaluation complete\n")
	return nil
}

// Ack marks a single violation as acknowledged.
func (c *SPCCLI) Ack(ctx context.Context, violationID int64) error {
	if err := c.DB.AcknowledgeViolation(violationID); err != nil {
		return err
	}
	fmt.Fprintf(c.Output, "✓ Acknowledged violation %d\n", violationID)
	return nil
}

// PrintUsage prints the spc subcommand usage.
func (c *SPCCLI) PrintUsage() {
	fmt.Fprintln(c.Output, "Usage: process-report spc <command> [options]")
	fmt.Fprintln(c.Output, "")
	fmt.Fprintln(c.Output, "Commands:")
	fmt.Fprintln(c.Output, "  status                       Show per-characteristic chart status")
	fmt.Fprintln(c.Output, "  recalc <characteristic-id>   Estimate a new limits revision and re-evaluate")
	fmt.Fprintln(c.Output, "  rerun                        Re-evaluate all characteristics over full history")
	fmt.Fprintln(c.Output, "  ack <violation-id>           Acknowledge a violation")
	fmt.Fprintln(c.Output, "")
}
