package main

import (
	"fmt"
	"os"

	cmdpkg "github.com/stephanhaeuslschmid/mcp-proxy/cmd/mcp-proxy/cmd"
	stderrors "github.com/stephanhaeuslschmid/mcp-proxy/internal/errors"
)

func main() {
	if err := cmdpkg.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(stderrors.ExitCode(err))
	}
}
