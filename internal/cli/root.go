package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/KafClaw/groupjournal/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"   __ _ _ __ ___  _   _ _ __    (_) ___  _   _ _ __ _ __   __ _| |\n" +
		"  / _` | '__/ _ \\| | | | '_ \\   | |/ _ \\| | | | '__| '_ \\ / _` | |\n" +
		" | (_| | | | (_) | |_| | |_) |  | | (_) | |_| | |  | | | | (_| | |\n" +
		"  \\__, |_|  \\___/ \\__,_| .__/  _/ |\\___/ \\__,_|_|  |_| |_|\\__,_|_|\n" +
		"  |___/                |_|    |__/\n"
)

var rootCmd = &cobra.Command{
	Use:   "groupjournal",
	Short: "groupjournal - per-group journal synthesis",
	Long:  color.CyanString(logo) + "\nAnalyzes content items and keeps a synthesized journal per group.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(synthesizeCmd)
}

func printHeader(title string) {
	fmt.Println(color.CyanString(logo))
	if title != "" {
		fmt.Println(title)
		fmt.Println("─────────────────────")
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "groupjournal %s\n", version)
	},
}
