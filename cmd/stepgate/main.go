package main

import (
	"fmt"
	"os"

	"github.com/stepgate/stepgate/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		if code := cli.ExitCode(err); code != 1 {
			os.Exit(code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
