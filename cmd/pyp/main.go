// Command pyp is a streaming template preprocessor: it scans an input
// file for tag-delimited code and expression regions, hands each region
// to an embedded JavaScript evaluator, and writes the rendered result.
package main

import (
	"errors"
	"fmt"
	"os"

	"pyp/internal/cli"
)

func main() {
	rootCmd := cli.NewRootCmd()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)

		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}
