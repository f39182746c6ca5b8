package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stepgate/stepgate/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch pending verification requests live",
	Long: `Open a live view of pending verification requests.

The view polls the daemon every second and shows each request's
remaining time. Requests can be cancelled from the list.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		client := newClient(cfg)
		if !client.Available() {
			return fmt.Errorf("daemon not reachable at %s (start it with: stepgate serve)", client.SocketPath())
		}
		return tui.Run(client)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
