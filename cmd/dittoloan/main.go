// dittoloan is the DittoLoan client. It opens a session with the server,
// sends book requests from a batch file or an interactive menu, and closes
// the session when done.
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
	"github.com/marmos91/dittoloan/pkg/config"
	"github.com/marmos91/dittoloan/pkg/loanerr"
	"github.com/marmos91/dittoloan/pkg/session"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "dittoloan: %v\n", err)
		os.Exit(loanerr.ExitCode(err))
	}
}

func run(args []string) error {
	var configPath, inputPath string
	flagSet := pflag.NewFlagSet("dittoloan", pflag.ContinueOnError)
	flagSet.StringP("pipe", "p", "", "server inbound channel path (default "+config.DefaultInboundPath+")")
	flagSet.StringVarP(&inputPath, "input", "i", "", "batch file of op,title,isbn[,copy] lines (default: interactive menu)")
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
	// Diagnostics go to stderr; stdout carries responses.
	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format, "stderr"); err != nil {
		return loanerr.WithExit(loanerr.ExitConfig, err)
	}

	// The whole batch is parsed before a session is opened.
	var entries []batchEntry
	if inputPath != "" {
		f, err := os.Open(inputPath)
		if err != nil {
			return err
		}
		entries, err = parseBatch(f)
		f.Close()
		if err != nil {
			return loanerr.WithExit(loanerr.ExitArguments, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := session.Connect(ctx, session.ClientConfig{
		ServerPath:        cfg.Channel.InboundPath,
		ClientPrefix:      cfg.Channel.ClientPrefix,
		HandshakeTimeout:  cfg.Channel.HandshakeTimeout,
		DisconnectTimeout: cfg.Channel.DisconnectTimeout,
		WriteAttempts:     cfg.Channel.WriteAttempts,
		RetryInterval:     cfg.Channel.OpenRetryInterval,
	})
	if err != nil {
		return err
	}
	logger.Debug("Session %d open on %s", client.ID(), cfg.Channel.InboundPath)

	var workErr error
	if inputPath != "" {
		workErr = runBatch(ctx, entries, os.Stdout, client.Do)
	} else {
		workErr = runMenu(ctx, os.Stdin, os.Stdout, client.Do)
	}

	// Disconnect runs even after Ctrl+C.
	disconnectErr := client.Disconnect(context.Background())
	return errors.Join(workErr, disconnectErr)
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `DittoLoan client: borrow, renew, return and look up books.

Usage:
  dittoloan [-p pipe] [-i batch-file]

Batch file lines are op,title,isbn[,copy] where op is
  P borrow, R renew, D return, B look up
Renew and return need the copy number.

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
