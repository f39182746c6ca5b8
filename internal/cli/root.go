// Package cli implements the Cobra command-line interface for stepgate.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/stepgate/stepgate/internal/config"
	"github.com/stepgate/stepgate/internal/output"
	"github.com/stepgate/stepgate/internal/server"
)

// Version information set by goreleaser.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flag values.
var (
	flagConfig     string
	flagOutput     string
	flagJSON       bool
	flagVerbose    bool
	flagSocket     string
	flagActor      string
	flagSessionKey string
	flagProject    string
)

var rootCmd = &cobra.Command{
	Use:   "stepgate",
	Short: "Step-up verification gate for dangerous commands",
	Long: `stepgate challenges dangerous commands before they run.

Commands like 'rm -rf', 'DROP TABLE', or 'git push --force' are classified
against a pattern list. A high-risk command opens a verification request
with a one-time code; the command runs only after the code is confirmed
within the time window. Anything unverified is rejected: expiry, cancel,
or an unreachable verifier all mean the command does not run.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if flagProject == "" {
			return nil
		}
		if err := os.Chdir(flagProject); err != nil {
			return fmt.Errorf("changing directory to %s: %w", flagProject, err)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := flagConfig
		if configPath == "" {
			home, _ := os.UserHomeDir()
			configPath = filepath.Join(home, ".stepgate", "config.toml")
		}
		projectPath, _ := os.Getwd()

		payload := map[string]any{
			"version":      version,
			"commit":       commit,
			"build_date":   date,
			"go_version":   runtime.Version(),
			"config_path":  configPath,
			"socket_path":  socketPath(),
			"project_path": projectPath,
		}

		out := newWriter()
		if out.Format() == output.FormatText {
			fmt.Printf("stepgate %s\n", version)
			fmt.Printf("  commit:  %s\n", commit)
			fmt.Printf("  built:   %s\n", date)
			fmt.Printf("  go:      %s\n", runtime.Version())
			fmt.Printf("  config:  %s\n", configPath)
			fmt.Printf("  socket:  %s\n", socketPath())
			fmt.Printf("  project: %s\n", projectPath)
			return nil
		}
		return out.Write(payload)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetOutput returns the configured output format.
// Precedence: CLI flags > STEPGATE_OUTPUT_FORMAT env > default.
func GetOutput() string {
	if flagJSON {
		return "json"
	}
	if flagOutput != "text" {
		return flagOutput
	}
	if envFormat := os.Getenv("STEPGATE_OUTPUT_FORMAT"); envFormat != "" {
		switch envFormat {
		case "json", "yaml", "text":
			return envFormat
		}
	}
	return flagOutput
}

// GetActor returns the actor identifier for request attribution.
func GetActor() string {
	if flagActor != "" {
		return flagActor
	}
	if actor := os.Getenv("STEPGATE_ACTOR"); actor != "" {
		return actor
	}
	if actor := os.Getenv("AGENT_NAME"); actor != "" {
		return actor
	}
	user := os.Getenv("USER")
	if user == "" {
		user = "unknown"
	}
	host, _ := os.Hostname()
	if host == "" {
		host = "localhost"
	}
	return user + "@" + host
}

// GetSessionKey returns the session identifier, if any.
func GetSessionKey() string {
	if flagSessionKey != "" {
		return flagSessionKey
	}
	return os.Getenv("STEPGATE_SESSION_KEY")
}

func newWriter() *output.Writer {
	format, err := output.ParseFormat(GetOutput())
	if err != nil {
		format = output.FormatText
	}
	return output.New(format)
}

func newLogger(level string) *log.Logger {
	opts := log.Options{ReportTimestamp: true}
	logger := log.NewWithOptions(os.Stderr, opts)
	if flagVerbose {
		logger.SetLevel(log.DebugLevel)
		return logger
	}
	switch level {
	case "debug":
		logger.SetLevel(log.DebugLevel)
	case "warn":
		logger.SetLevel(log.WarnLevel)
	case "error":
		logger.SetLevel(log.ErrorLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}
	return logger
}

func loadConfig() (*config.Config, error) {
	return config.Load(config.LoadOptions{
		UserConfigPath: flagConfig,
	})
}

func socketPath() string {
	if flagSocket != "" {
		return flagSocket
	}
	if env := os.Getenv("STEPGATE_SOCKET"); env != "" {
		return env
	}
	return server.DefaultSocketPath()
}

// configuredSocketPath prefers the flag and env, then the config file.
func configuredSocketPath(cfg *config.Config) string {
	if flagSocket != "" {
		return flagSocket
	}
	if env := os.Getenv("STEPGATE_SOCKET"); env != "" {
		return env
	}
	if cfg != nil && cfg.Daemon.Socket != "" {
		return cfg.Daemon.Socket
	}
	return server.DefaultSocketPath()
}

func newClient(cfg *config.Config) *server.Client {
	return server.NewClient(server.WithSocketPath(configuredSocketPath(cfg)))
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "text", "output format: text, json, yaml (env: STEPGATE_OUTPUT_FORMAT)")
	rootCmd.PersistentFlags().BoolVarP(&flagJSON, "json", "j", false, "shorthand for --output=json")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&flagSocket, "socket", "", "daemon socket path (env: STEPGATE_SOCKET)")
	rootCmd.PersistentFlags().StringVar(&flagActor, "actor", "", "actor identifier")
	rootCmd.PersistentFlags().StringVarP(&flagSessionKey, "session-key", "s", "", "session key")
	rootCmd.PersistentFlags().StringVarP(&flagProject, "project", "C", "", "project directory")

	rootCmd.AddCommand(versionCmd)
}
