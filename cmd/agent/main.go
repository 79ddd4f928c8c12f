package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/granitex/quotebridge/internal/agent"
	"github.com/granitex/quotebridge/internal/logging"
)

func main() {
	configPath := flag.String("config", "bridge.yaml", "Path to the bridge configuration file")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	log := logging.New(*logLevel)

	cfg, err := agent.LoadConfig(*configPath)
	if err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-done
		cancel()
	}()

	a := agent.New(cfg, log)
	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("bridge", "error", err)
		os.Exit(1)
	}
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "quotebridge agent - unattended bridge to the quoting tool\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  %s [flags]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nConfiguration is read from the yaml file and BRIDGE_* environment\n")
		fmt.Fprintf(os.Stderr, "variables; the environment wins.\n")
	}
}
