package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stepgate/stepgate/internal/config"
)

var flagConfigSetUser bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit configuration",
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		value, ok := config.GetValue(cfg, args[0])
		if !ok {
			return fmt.Errorf("unknown config key %q", args[0])
		}
		return newWriter().Text(fmt.Sprintf("%v", value), map[string]any{"key": args[0], "value": value})
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the project config file.

With --user the value is written to ~/.stepgate/config.toml instead,
where it applies to every project. Project values override user values.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := config.ParseValue(args[0], args[1])
		if err != nil {
			return err
		}

		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		userPath, projectPath := config.ConfigPaths(cwd, "")
		path := projectPath
		if flagConfigSetUser {
			path = userPath
		}

		if err := config.WriteValue(path, args[0], value); err != nil {
			return err
		}
		newWriter().Success(fmt.Sprintf("%s = %v (%s)", args[0], value, path))
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file locations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		userPath, projectPath := config.ConfigPaths(cwd, "")
		rendered := fmt.Sprintf("user:    %s\nproject: %s", userPath, projectPath)
		return newWriter().Text(rendered, map[string]string{
			"user_config":    userPath,
			"project_config": projectPath,
		})
	},
}

func init() {
	configSetCmd.Flags().BoolVar(&flagConfigSetUser, "user", false, "write to the user config instead of the project config")

	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}
