package main

import (
	"fmt"
	"os"

	"github.com/tokensweep/tokensweep/cmd/tokensweep/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
