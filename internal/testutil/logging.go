// Package testutil provides shared helpers for stepgate tests.
package testutil

import (
	"io"
	"os"
	"testing"

	"github.com/charmbracelet/log"
)

// TestLogger returns a structured logger for tests.
//
// Output is discarded unless `go test -v` is used, so failing tests can be
// re-run with full gate lifecycle logging.
func TestLogger(t *testing.T) *log.Logger {
	t.Helper()

	var out io.Writer = io.Discard
	if testing.Verbose() {
		out = os.Stderr
	}

	return log.NewWithOptions(out, log.Options{
		Level:  log.DebugLevel,
		Prefix: t.Name(),
	})
}
