package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/stepgate/stepgate/internal/server"
)

var flagVerifyCode string

var verifyCmd = &cobra.Command{
	Use:   "verify <request-id> [code]",
	Short: "Submit a verification code for a pending request",
	Long: `Submit the one-time code for a pending verification request.

The code can be passed as an argument, with --code, or entered at the
prompt. A wrong code leaves the request pending and can be retried until
the deadline. Expired and already-resolved requests report not found.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		requestID := args[0]

		code := flagVerifyCode
		if len(args) == 2 {
			code = args[1]
		}
		if code == "" {
			var err error
			code, err = readCode("Verification code: ")
			if err != nil {
				return fmt.Errorf("reading code: %w", err)
			}
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		result, err := newClient(cfg).Verify(cmd.Context(), requestID, code)
		out := newWriter()
		switch {
		case err == nil:
			out.Success(fmt.Sprintf("request %s verified: %s", requestID, result.Command))
			return nil
		case server.IsInvalidCode(err):
			return fmt.Errorf("invalid code; the request is still pending")
		case server.IsNotFound(err):
			return fmt.Errorf("request not found or expired")
		default:
			return err
		}
	},
}

// readCode reads a code from the terminal without echo, falling back to a
// plain line read when stdin is not a terminal.
func readCode(promptText string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, promptText)
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func init() {
	verifyCmd.Flags().StringVar(&flagVerifyCode, "code", "", "verification code")

	rootCmd.AddCommand(verifyCmd)
}
