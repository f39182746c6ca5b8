package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/stepgate/stepgate/internal/challenge"
	"github.com/stepgate/stepgate/internal/config"
	"github.com/stepgate/stepgate/internal/gate"
	"github.com/stepgate/stepgate/internal/prompt"
	"github.com/stepgate/stepgate/internal/risk"
	"github.com/stepgate/stepgate/internal/runner"
	"github.com/stepgate/stepgate/internal/server"
)

var (
	flagRunInteractive bool
	flagRunChannel     string
)

var runCmd = &cobra.Command{
	Use:   "run <command>",
	Short: "Run a command, verifying it first when high-risk",
	Long: `Run a command through the verification gate.

Flow:
1. Classify the command against the high-risk pattern list
2. Not high-risk (or gate disabled): execute immediately
3. High-risk: open a verification request, show the challenge, block
4. Verified in time: execute in the caller's shell environment
5. Expired, cancelled, or verifier unreachable: exit 1, nothing runs

With --interactive the gate runs in-process and the code is entered at
this terminal instead of through the daemon.

Examples:
  stepgate run "rm -rf ./build"
  stepgate run "git push --force" --session-key deploy-42
  stepgate run "DROP TABLE users" --interactive`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		command := args[0]

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		engine := risk.NewEngine(cfg.Detection.RiskConfig())
		verdict := engine.Classify(command)
		if !cfg.Gate.Enabled || !verdict.HighRisk {
			return execute(cmd.Context(), command)
		}

		if flagRunInteractive {
			return runInteractive(cmd.Context(), cfg, command, verdict)
		}
		return runViaDaemon(cmd.Context(), cfg, command)
	},
}

func runViaDaemon(ctx context.Context, cfg *config.Config, command string) error {
	client := newClient(cfg)

	opened, err := client.Request(ctx, server.RequestParams{
		Command:    command,
		SessionKey: GetSessionKey(),
		Agent:      GetActor(),
		Channel:    flagRunChannel,
		User:       os.Getenv("USER"),
	})
	if err != nil {
		if errors.Is(err, server.ErrUnavailable) {
			return fmt.Errorf("verification daemon unavailable; refusing to run high-risk command (start it with: stepgate serve)")
		}
		return err
	}
	if !opened.Required {
		return execute(ctx, command)
	}

	fmt.Fprintln(os.Stderr, prompt.Render(prompt.Challenge{
		RequestID:   opened.RequestID,
		Command:     command,
		PatternID:   opened.PatternID,
		Description: opened.Description,
		Severity:    opened.Severity,
		URL:         opened.ChallengeURL,
		ExpiresAt:   opened.ExpiresAt,
		MockCode:    opened.MockCode,
	}))

	result, err := client.Wait(ctx, opened.RequestID)
	if err != nil {
		return fmt.Errorf("waiting for verification: %w", err)
	}
	fmt.Fprintln(os.Stderr, prompt.RenderOutcome(result.Verified, result.Status, command))
	if !result.Verified {
		return fmt.Errorf("command not verified (%s); not running", result.Status)
	}
	return execute(ctx, command)
}

// runInteractive keeps the gate in-process: the challenge and the code
// entry happen at this terminal.
func runInteractive(ctx context.Context, cfg *config.Config, command string, verdict risk.Verdict) error {
	gen := challenge.NewGenerator(cfg.Gate.BaseURL, challenge.MockConfig{
		Enabled: cfg.Mock.Enabled,
		URL:     cfg.Mock.URL,
		Code:    cfg.Mock.Code,
	})
	mgr, err := gate.NewManager(gate.Options{
		Timeout:    time.Duration(cfg.Gate.TimeoutSecs) * time.Second,
		CodeLength: cfg.Gate.CodeLength,
		Generator:  gen,
		Logger:     newLogger(cfg.Daemon.LogLevel),
	})
	if err != nil {
		return err
	}

	req, err := mgr.Create(gate.CreateParams{
		Command:    command,
		SessionKey: GetSessionKey(),
		Agent:      GetActor(),
		User:       os.Getenv("USER"),
	})
	if err != nil {
		return fmt.Errorf("verification unavailable: %w", err)
	}

	mockCode := ""
	if mgr.MockActive() {
		mockCode = req.Code
	}
	ch := prompt.Challenge{
		RequestID: req.ID,
		Command:   command,
		URL:       mgr.ChallengeURL(req.ID),
		ExpiresAt: req.ExpiresAt,
		MockCode:  mockCode,
	}
	if verdict.Pattern != nil {
		ch.PatternID = verdict.Pattern.ID
		ch.Description = verdict.Pattern.Description
		ch.Severity = string(verdict.Pattern.Severity)
	}
	fmt.Fprintln(os.Stderr, prompt.Render(ch))

	for {
		code, err := readCode("Verification code: ")
		if err != nil {
			mgr.Cancel(req.ID)
			return fmt.Errorf("reading code: %w", err)
		}

		_, err = mgr.SubmitCode(req.ID, code)
		if err == nil {
			break
		}
		if errors.Is(err, gate.ErrInvalidCode) {
			fmt.Fprintln(os.Stderr, "invalid code, try again")
			continue
		}
		return fmt.Errorf("command not verified: %w", err)
	}

	fmt.Fprintln(os.Stderr, prompt.RenderOutcome(true, "verified", command))
	return execute(ctx, command)
}

func execute(ctx context.Context, command string) error {
	result, err := runner.Run(ctx, command, runner.Options{})
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return exitCodeError{code: result.ExitCode}
	}
	return nil
}

func init() {
	runCmd.Flags().BoolVarP(&flagRunInteractive, "interactive", "i", false, "verify at this terminal instead of through the daemon")
	runCmd.Flags().StringVar(&flagRunChannel, "channel", "", "channel label for audit attribution")

	rootCmd.AddCommand(runCmd)
}
