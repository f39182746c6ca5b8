package cli

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stepgate/stepgate/internal/challenge"
	"github.com/stepgate/stepgate/internal/gate"
	"github.com/stepgate/stepgate/internal/history"
	"github.com/stepgate/stepgate/internal/risk"
	"github.com/stepgate/stepgate/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the verification daemon",
	Long: `Run the stepgate daemon in the foreground.

The daemon owns pending verification requests and serves them over a
per-project unix socket. Terminal outcomes are recorded to the history
database when history is enabled.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		logger := newLogger(cfg.Daemon.LogLevel)

		gateOpts := gate.Options{
			Timeout:    time.Duration(cfg.Gate.TimeoutSecs) * time.Second,
			CodeLength: cfg.Gate.CodeLength,
			Generator: challenge.NewGenerator(cfg.Gate.BaseURL, challenge.MockConfig{
				Enabled: cfg.Mock.Enabled,
				URL:     cfg.Mock.URL,
				Code:    cfg.Mock.Code,
			}),
			Logger: logger,
		}

		var store *history.Store
		if cfg.History.Enabled {
			store, err = history.Open(cfg.History.DatabasePath)
			if err != nil {
				return fmt.Errorf("opening history store: %w", err)
			}
			defer store.Close()
			gateOpts.Sink = store.Sink(logger)

			if cfg.History.RetentionDays > 0 {
				retention := time.Duration(cfg.History.RetentionDays) * 24 * time.Hour
				if n, err := store.Prune(retention); err != nil {
					logger.Warn("pruning history failed", "error", err)
				} else if n > 0 {
					logger.Info("pruned old resolutions", "count", n)
				}
			}
		}

		mgr, err := gate.NewManager(gateOpts)
		if err != nil {
			return err
		}

		srv, err := server.New(server.Options{
			SocketPath:  configuredSocketPath(cfg),
			Gate:        mgr,
			Engine:      risk.NewEngine(cfg.Detection.RiskConfig()),
			GateEnabled: cfg.Gate.Enabled,
			Logger:      logger,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger.Info("stepgate daemon starting",
			"socket", configuredSocketPath(cfg),
			"gate_enabled", cfg.Gate.Enabled,
			"mock", cfg.Mock.Enabled,
			"timeout_seconds", cfg.Gate.TimeoutSecs)

		err = srv.Start(ctx)
		if stopErr := srv.Stop(); err == nil {
			err = stopErr
		}
		logger.Info("stepgate daemon stopped")
		return err
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
