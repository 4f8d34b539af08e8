package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/KafClaw/groupjournal/internal/backfill"
	"github.com/KafClaw/groupjournal/internal/bus"
	"github.com/KafClaw/groupjournal/internal/config"
	"github.com/KafClaw/groupjournal/internal/synthesis"
	"github.com/spf13/cobra"
)

// loadConfig is swapped by tests.
var loadConfig = config.Load

var (
	backfillGroup string
	backfillForce bool

	synthGroup  string
	synthDryRun bool
	synthForce  bool
	synthDebug  bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Run one backfill pass and print the report as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) (any, error) {
			return a.backfill.Run(ctx, backfill.Request{GroupID: backfillGroup, Force: backfillForce})
		})
	},
}

var synthesizeCmd = &cobra.Command{
	Use:   "synthesize",
	Short: "Synthesize one group's journal and print the result as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) (any, error) {
			return a.synthesis.Handle(ctx, synthesis.Request{
				GroupID: synthGroup,
				DryRun:  synthDryRun,
				Force:   synthForce,
				Debug:   synthDebug,
				Source:  bus.SourceManual,
			})
		})
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillGroup, "group", "", "Backfill only this group")
	backfillCmd.Flags().BoolVar(&backfillForce, "force", false, "Ignore the cooldown window")

	synthesizeCmd.Flags().StringVar(&synthGroup, "group", "", "Group ID to synthesize")
	synthesizeCmd.Flags().BoolVar(&synthDryRun, "dry-run", false, "Report corpus diagnostics without calling the provider")
	synthesizeCmd.Flags().BoolVar(&synthForce, "force", false, "Synthesize even when the group content is unchanged")
	synthesizeCmd.Flags().BoolVar(&synthDebug, "debug", false, "Attach corpus and provider diagnostics")
	_ = synthesizeCmd.MarkFlagRequired("group")
}

// withApp loads config, wires the components, runs fn and prints its result.
func withApp(cmd *cobra.Command, fn func(context.Context, *app) (any, error)) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	setupLogging(cfg.Log, os.Stderr)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := fn(ctx, a)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
