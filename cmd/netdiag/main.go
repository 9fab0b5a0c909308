// Command netdiag diagnoses DNS on the local network. It lists the configured nameservers and looks up domains.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

//nolint:gochecknoglobals // These globals are swapped out in tests to observe exits.
var (
	osExiter           = os.Exit
	osErr    io.Writer = os.Stderr
)

func main() {
	err := run(os.Args, os.Stdout, osErr)
	if err != nil {
		if message := err.Error(); message != "" {
			fmt.Fprintln(osErr, message)
		}
		osExiter(exitCode(err))
		return
	}
}

func run(args []string, outWriter, errWriter io.Writer) error {
	return newApp(outWriter, errWriter).Run(args)
}

func exitCode(err error) int {
	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}
