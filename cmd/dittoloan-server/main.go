// dittoloan-server serves a library catalogue to DittoLoan clients over
// named channels.
//
// The catalogue is loaded once at startup, mutated only by the request
// worker, and persisted when the server stops on SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/marmos91/dittoloan/internal/logger"
	"github.com/marmos91/dittoloan/pkg/clock"
	"github.com/marmos91/dittoloan/pkg/config"
	"github.com/marmos91/dittoloan/pkg/dispatch"
	"github.com/marmos91/dittoloan/pkg/inventory"
	"github.com/marmos91/dittoloan/pkg/loanerr"
	"github.com/marmos91/dittoloan/pkg/registry"
	"github.com/marmos91/dittoloan/pkg/server"
	"github.com/marmos91/dittoloan/pkg/session"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "dittoloan-server: %v\n", err)
		os.Exit(loanerr.ExitCode(err))
	}
}

func run(args []string) error {
	if len(args) > 0 && args[0] == "init" {
		return runInit(args[1:])
	}

	var configPath string
	flagSet := pflag.NewFlagSet("dittoloan-server", pflag.ContinueOnError)
	flagSet.StringP("pipe", "p", "", "inbound channel path (default "+config.DefaultInboundPath+")")
	flagSet.StringP("database", "f", "", "catalogue file to load (selects the flatfile backend)")
	flagSet.StringP("output", "s", "", "catalogue file to write on shutdown (default: the --database file)")
	flagSet.StringVar(&configPath, "config", "", "config file (default "+config.GetDefaultConfigPath()+")")
	flagSet.String("log-level", "", "log level (DEBUG, INFO, WARN, ERROR)")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return loanerr.WithExit(loanerr.ExitArguments, err)
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return loanerr.WithExit(loanerr.ExitArguments, fmt.Errorf("unexpected argument: %s", rest[0]))
	}

	cfg, err := config.Load(configPath, flagSet)
	if err != nil {
		return loanerr.WithExit(loanerr.ExitConfig, err)
	}

	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		return loanerr.WithExit(loanerr.ExitConfig, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg)
}

func serve(ctx context.Context, cfg *config.Config) error {
	store, err := config.CreateStore(ctx, &cfg.Inventory)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("Close inventory store: %v", err)
		}
	}()

	inv, err := inventory.Open(ctx, store, clock.Real(), cfg.Loan.PeriodDays)
	if err != nil {
		return err
	}
	logger.Info("Inventory loaded: %d titles (%s backend, loan period %d days)",
		inv.Len(), cfg.Inventory.Type, cfg.Loan.PeriodDays)

	m := config.InitializeMetrics(cfg)
	if m.Server != nil {
		go func() {
			if err := m.Server.Start(ctx); err != nil {
				logger.Error("Metrics server: %v", err)
			}
		}()
	}

	reg := registry.New()
	hs := session.NewHandshake(reg, session.ChannelOpener(cfg.Channel.OpenRetryInterval), session.HandshakeConfig{
		OpenTimeout: cfg.Channel.HandshakeTimeout,
	})
	d := dispatch.New(reg, hs, inv, m.LoanMetrics)

	srv := server.New(server.Config{
		InboundPath:       cfg.Channel.InboundPath,
		QueueCapacity:     cfg.Queue.Capacity,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		MessagesPerSecond: cfg.Server.RateLimit.MessagesPerSecond,
		Burst:             cfg.Server.RateLimit.Burst,
	}, d, reg, m.LoanMetrics)

	logger.Info("DittoLoan server starting. Press Ctrl+C to stop.")
	serveErr := srv.Serve(ctx)

	// The worker has exited; the catalogue is no longer shared.
	saveErr := inventory.Save(context.Background(), store, inv.Titles(), os.Stderr)
	if saveErr == nil {
		logger.Info("Inventory saved: %d titles", inv.Len())
	}

	return errors.Join(serveErr, saveErr)
}

func runInit(args []string) error {
	var force bool
	var path string
	flagSet := pflag.NewFlagSet("dittoloan-server init", pflag.ContinueOnError)
	flagSet.BoolVar(&force, "force", false, "overwrite an existing config file")
	flagSet.StringVar(&path, "config", "", "where to write the file (default "+config.GetDefaultConfigPath()+")")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return loanerr.WithExit(loanerr.ExitArguments, err)
	}

	if path == "" {
		written, err := config.InitConfig(force)
		if err != nil {
			return loanerr.WithExit(loanerr.ExitConfig, err)
		}
		path = written
	} else if err := config.InitConfigAt(path, force); err != nil {
		return loanerr.WithExit(loanerr.ExitConfig, err)
	}

	fmt.Printf("Configuration written to %s\n", path)
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `DittoLoan server: lends books to clients over named channels.

Usage:
  dittoloan-server [flags]
  dittoloan-server init [--force] [--config path]

Examples:
  # Serve inventory.txt on the default channel
  dittoloan-server -f inventory.txt

  # Load one file, write another on shutdown
  dittoloan-server -p /tmp/library -f books.txt -s books.out.txt

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
