package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stepgate/stepgate/internal/risk"
)

var checkCmd = &cobra.Command{
	Use:   "check <command>",
	Short: "Classify a command without running it",
	Long: `Classify a command against the high-risk pattern list.

Exit code 0 means the command is not high-risk, 2 means it is. Nothing
is executed and no verification request is opened.

Examples:
  stepgate check "rm -rf ./build"
  stepgate check "ls -la" --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		engine := risk.NewEngine(cfg.Detection.RiskConfig())
		verdict := engine.Classify(args[0])

		payload := map[string]any{
			"command":    args[0],
			"normalized": verdict.Normalized,
			"high_risk":  verdict.HighRisk,
		}
		if verdict.Pattern != nil {
			payload["pattern_id"] = verdict.Pattern.ID
			payload["severity"] = string(verdict.Pattern.Severity)
			payload["description"] = verdict.Pattern.Description
		}

		out := newWriter()
		rendered := "not high-risk"
		if verdict.HighRisk {
			rendered = fmt.Sprintf("high-risk: %s (%s, %s)",
				verdict.Pattern.Description, verdict.Pattern.ID, verdict.Pattern.Severity)
		}
		if err := out.Text(rendered, payload); err != nil {
			return err
		}

		if verdict.HighRisk {
			// Distinct from 1 so scripts can tell "high-risk" from "failed".
			cmd.SilenceErrors = true
			return exitCodeError{code: 2}
		}
		return nil
	},
}

// exitCodeError carries a specific exit code out of a RunE without an
// error message.
type exitCodeError struct {
	code int
}

func (e exitCodeError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}

// ExitCode extracts the intended process exit code from an error chain.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if ec, ok := err.(exitCodeError); ok {
		return ec.code
	}
	return 1
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
