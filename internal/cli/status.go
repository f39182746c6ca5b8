package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stepgate/stepgate/internal/server"
)

var statusCmd = &cobra.Command{
	Use:   "status <request-id>",
	Short: "Show a pending verification request",
	Long: `Show the state of a pending verification request.

Resolved requests are not reported: once verified, expired, or cancelled
a request is indistinguishable from one that never existed. Use
'stepgate history' for terminal outcomes.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		result, err := newClient(cfg).Status(cmd.Context(), args[0])
		if err != nil {
			if server.IsNotFound(err) {
				return fmt.Errorf("request not found or expired")
			}
			return err
		}

		rendered := fmt.Sprintf("%s  %s  %ds remaining\n  %s",
			result.RequestID, result.Status, result.SecondsRemaining, result.Command)
		return newWriter().Text(rendered, result)
	},
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List pending verification requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		result, err := newClient(cfg).Pending(cmd.Context())
		if err != nil {
			return err
		}

		if len(result.Requests) == 0 {
			return newWriter().Text("no pending verification requests", result)
		}

		rendered := ""
		for _, r := range result.Requests {
			rendered += fmt.Sprintf("%s  %s  %4ds  %s\n", r.RequestID, r.Status, r.SecondsRemaining, r.Command)
		}
		return newWriter().Text(rendered[:len(rendered)-1], result)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <request-id>",
	Short: "Cancel a pending verification request",
	Long: `Cancel a pending verification request.

Cancellation is terminal: the gated command will not run, and later code
submissions for the request report not found.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		result, err := newClient(cfg).Cancel(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := newWriter()
		if !result.Cancelled {
			return fmt.Errorf("request not found or already resolved")
		}
		out.Success(fmt.Sprintf("request %s cancelled", args[0]))
		return nil
	},
}

var daemonStatusCmd = &cobra.Command{
	Use:   "daemon-status",
	Short: "Show daemon health",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		client := newClient(cfg)
		result, err := client.DaemonStatus(cmd.Context())
		if err != nil {
			return fmt.Errorf("daemon not reachable at %s (start it with: stepgate serve)", client.SocketPath())
		}

		rendered := fmt.Sprintf("daemon up %ds, %d pending, gate enabled: %v, mock: %v",
			result.UptimeSeconds, result.PendingCount, result.GateEnabled, result.MockActive)
		return newWriter().Text(rendered, result)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(daemonStatusCmd)
}
