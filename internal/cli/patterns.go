package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stepgate/stepgate/internal/risk"
)

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "List the effective high-risk patterns",
	Long: `List the patterns a command is classified against, in match order.

Builtin patterns disabled in the config are omitted; custom patterns from
the config appear last.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		engine := risk.NewEngine(cfg.Detection.RiskConfig())
		patterns := engine.Patterns()

		type row struct {
			ID          string `json:"id"`
			Severity    string `json:"severity"`
			Builtin     bool   `json:"builtin"`
			Regex       string `json:"regex"`
			Description string `json:"description"`
		}
		rows := make([]row, 0, len(patterns))
		var b strings.Builder
		for _, p := range patterns {
			rows = append(rows, row{
				ID:          p.ID,
				Severity:    string(p.Severity),
				Builtin:     p.Builtin,
				Regex:       p.Regex,
				Description: p.Description,
			})
			origin := "builtin"
			if !p.Builtin {
				origin = "custom"
			}
			fmt.Fprintf(&b, "%-28s %-8s %-8s %s\n", p.ID, p.Severity, origin, p.Description)
		}

		return newWriter().Text(strings.TrimRight(b.String(), "\n"), map[string]any{
			"detection_enabled": cfg.Detection.Enabled,
			"patterns":          rows,
		})
	},
}

func init() {
	rootCmd.AddCommand(patternsCmd)
}
