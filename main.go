package main

import (
	"fmt"
	"os"

	"github.com/moti-malka/gl2gh/cmd/cli"
)

const (
	exitErrorTemplateConstant = "%v\n"
)

// main executes the gl2gh command-line application.
func main() {
	if executionError := cli.Execute(); executionError != nil {
		fmt.Fprintf(os.Stderr, exitErrorTemplateConstant, executionError)
		os.Exit(1)
	}
}
