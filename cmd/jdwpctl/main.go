package main

import (
	"fmt"
	"os"

	"github.com/danmuck/jdwpd/internal/logging"
)

func main() {
	logging.ConfigureRuntime()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "jdwpctl:", err)
		os.Exit(1)
	}
}
