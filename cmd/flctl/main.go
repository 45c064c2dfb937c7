package main

import (
	"errors"
	"os"

	"github.com/TeamMavericKX/firmlockv01/cmd/flctl/cmd"
	"github.com/TeamMavericKX/firmlockv01/pkg/clierror"
)

func main() {
	if err := cmd.Execute(); err != nil {
		var cliErr *clierror.CLIError
		if errors.As(err, &cliErr) {
			clierror.PrintError(cliErr, cmd.OutputFormat())
			os.Exit(cliErr.ExitCode)
		}
		os.Exit(clierror.ExitGeneral)
	}
}
