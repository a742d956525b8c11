package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/peterbourgon/ff"

	"nmea-bridge/internal/config"
	"nmea-bridge/internal/logging"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "nmea-bridge: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("nmea-bridge", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath = fs.String("config", "", "path to YAML config")
		logLevel   = fs.String("log-level", "", "override log.level")
		summarize  = fs.String("summarize", "", "print a summary of a recording and exit")
	)
	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix(config.EnvPrefix)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	if *summarize != "" {
		return printRecordingSummary(stdout, *summarize)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
		if err := cfg.DefaultAndValidate(); err != nil {
			return err
		}
	}

	log, closer, err := logging.New(cfg.Log, stderr)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := newRuntime(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		return err
	}
	if err := rt.Run(ctx); err != nil {
		log.Error().Err(err).Msg("stopped with error")
		return err
	}
	log.Info().Msg("nmea-bridge stopped")
	return nil
}
