package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/jdwpd/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "daemon config file (toml)")
	optionString := flag.String("options", "", "agent option string, overrides the config file")
	adminAddr := flag.String("admin", "", "admin listen address, overrides the config file")
	flag.Parse()

	logging.ConfigureRuntime()

	cfg, err := resolveConfig(*configPath, *optionString, *adminAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jdwpd: %v\n", err)
		os.Exit(2)
	}
	if err := NewDaemon(cfg).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "jdwpd: %v\n", err)
		os.Exit(1)
	}
}
