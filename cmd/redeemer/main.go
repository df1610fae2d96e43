package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/nhle/redeemer/internal/credential"
	"github.com/nhle/redeemer/internal/dispatch/chrome"
	"github.com/nhle/redeemer/internal/logging"
	"github.com/nhle/redeemer/internal/model"
	"github.com/nhle/redeemer/internal/redeem"
	"github.com/nhle/redeemer/internal/report"
	"github.com/nhle/redeemer/internal/setup"
	"github.com/nhle/redeemer/internal/transport/imap"
)

const (
	exitOK      = 0
	exitConfig  = 1
	exitAborted = 2
)

const usage = `Usage: redeemer [command] [flags]

Commands:
  run                 Process every configured mailbox (default)
  setup               Add a mailbox section to the config file
  password <section>  Store a section password in the system keyring
                      (--delete removes it again)

Flags:
`

type options struct {
	configPath string
	logLevel   string
	logFormat  string
	sections   []string
	delete     bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cmd := "run"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	fs, opts := newFlagSet(stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitConfig
	}

	logger, err := logging.New(stderr, opts.logLevel, opts.logFormat)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitConfig
	}

	switch cmd {
	case "run":
		return runRedeem(opts, logger, stdout, stderr)
	case "setup":
		return runSetup(opts, logger, stdout)
	case "password":
		if fs.NArg() != 1 {
			fmt.Fprint(stderr, usage)
			fs.PrintDefaults()
			return exitConfig
		}
		return runPassword(opts, fs.Arg(0), logger, stdout)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
		return exitConfig
	}
}

func newFlagSet(stderr io.Writer) (*pflag.FlagSet, *options) {
	opts := &options{}
	fs := pflag.NewFlagSet("redeemer", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}

	fs.StringVarP(&opts.configPath, "config-file", "c", model.DefaultConfigPath, "path to the YAML config file")
	fs.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.StringVar(&opts.logFormat, "log-format", "", "log format: text, json, logfmt")
	fs.StringArrayVar(&opts.sections, "section", nil, "only process the named section (repeatable)")
	fs.BoolVar(&opts.delete, "delete", false, "password: remove the stored password instead of setting it")
	return fs, opts
}

func runRedeem(opts *options, logger *log.Logger, stdout, stderr io.Writer) int {
	cfg, err := model.LoadConfig(opts.configPath)
	if err != nil {
		if errors.Is(err, model.ErrConfigNotFound) {
			logger.Error("config file not found, run `redeemer setup` to create one", "path", opts.configPath)
		} else {
			logger.Error("loading config failed", "path", opts.configPath, "error", err)
		}
		return exitConfig
	}

	// Flags win over the config file.
	level, format := cfg.Log.Level, cfg.Log.Format
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	if opts.logFormat != "" {
		format = opts.logFormat
	}
	logger, err = logging.New(stderr, level, format)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitConfig
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		return exitConfig
	}

	sections, err := cfg.Select(opts.sections)
	if err != nil {
		logger.Error("selecting sections failed", "error", err)
		return exitConfig
	}

	if credential.NeedsKeyring(sections) {
		store, err := credential.Open()
		if err != nil {
			logger.Error("opening keyring failed", "error", err)
			return exitConfig
		}
		if err := store.ResolveSections(sections); err != nil {
			logger.Error("resolving passwords failed", "error", err)
			return exitConfig
		}
	}

	logger = logger.With("run", uuid.NewString())
	logger.Info("starting run", "sections", len(sections))

	svc := redeem.NewService(&imap.Dialer{}, chrome.Launcher{}, logger)
	runner := &redeem.Runner{Processor: svc, Log: logger}
	results := runner.Run(context.Background(), sections)

	fmt.Fprint(stdout, report.Render(results))

	if failed := redeem.Failed(results); failed > 0 {
		logger.Warn("run finished with aborted sections", "aborted", failed)
		return exitAborted
	}
	logger.Info("run finished")
	return exitOK
}

func runSetup(opts *options, logger *log.Logger, stdout io.Writer) int {
	store, err := credential.Open()
	if err != nil {
		logger.Error("opening keyring failed", "error", err)
		return exitConfig
	}

	sec, err := setup.RunWizard(opts.configPath, store)
	if err != nil {
		if errors.Is(err, setup.ErrAborted) {
			return exitOK
		}
		logger.Error("setup failed", "error", err)
		return exitConfig
	}

	fmt.Fprintf(stdout, "Added section %q to %s\n", sec.Name, opts.configPath)
	return exitOK
}

func runPassword(opts *options, name string, logger *log.Logger, stdout io.Writer) int {
	store, err := credential.Open()
	if err != nil {
		logger.Error("opening keyring failed", "error", err)
		return exitConfig
	}

	if opts.delete {
		if err := setup.RunPasswordDelete(opts.configPath, name, store); err != nil {
			logger.Error("removing password failed", "section", name, "error", err)
			return exitConfig
		}
		fmt.Fprintf(stdout, "Removed password for section %q\n", name)
		return exitOK
	}

	if err := setup.RunPasswordPrompt(opts.configPath, name, store); err != nil {
		if errors.Is(err, setup.ErrAborted) {
			return exitOK
		}
		logger.Error("storing password failed", "section", name, "error", err)
		return exitConfig
	}

	fmt.Fprintf(stdout, "Stored password for section %q\n", name)
	return exitOK
}
