package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stepgate/stepgate/internal/history"
)

var (
	flagHistoryLimit int
	flagHistoryPrune bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show resolved verification requests",
	Long: `Show terminal outcomes recorded by the daemon, newest first.

The history database is a read model: it has no effect on pending
requests and the gate works without it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !cfg.History.Enabled {
			return fmt.Errorf("history is disabled (history.enabled = false)")
		}

		store, err := history.Open(cfg.History.DatabasePath)
		if err != nil {
			return err
		}
		defer store.Close()

		if flagHistoryPrune {
			retention := time.Duration(cfg.History.RetentionDays) * 24 * time.Hour
			n, err := store.Prune(retention)
			if err != nil {
				return err
			}
			newWriter().Success(fmt.Sprintf("pruned %d resolutions", n))
			return nil
		}

		resolutions, err := store.ListRecent(flagHistoryLimit)
		if err != nil {
			return err
		}
		if len(resolutions) == 0 {
			return newWriter().Text("no resolutions recorded", map[string]any{"resolutions": []any{}})
		}

		rendered := ""
		for _, r := range resolutions {
			rendered += fmt.Sprintf("%s  %-9s  %s  %s\n",
				r.ResolvedAt.Local().Format("2006-01-02 15:04:05"), r.Status, r.RequestID, r.Normalized)
		}
		return newWriter().Text(rendered[:len(rendered)-1], map[string]any{"resolutions": resolutions})
	},
}

func init() {
	historyCmd.Flags().IntVar(&flagHistoryLimit, "limit", 50, "maximum resolutions to show")
	historyCmd.Flags().BoolVar(&flagHistoryPrune, "prune", false, "delete resolutions older than the retention window")

	rootCmd.AddCommand(historyCmd)
}
