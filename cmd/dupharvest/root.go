package main

import (
	"DupHarvest/internal/config"
	"DupHarvest/internal/engine/manager"
	"DupHarvest/internal/logging"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

type options struct {
	configPath string
	pcapPath   string
	logLevel   string
	localMAC   string
}

// loggedError marks a failure that has already been written to the log.
type loggedError struct{ err error }

func (e loggedError) Error() string { return e.err.Error() }
func (e loggedError) Unwrap() error { return e.err }

// newRootCmd builds the command. Reports go to stdout; usage, errors and
// logs go to stderr.
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "dupharvest <interface>",
		Short: "Report TCP segments sent more than once from this host",
		Long: `dupharvest watches the frames this host sends on an interface and reports
every TCP segment it has sent more than once within the retention window.

Reports are printed to stdout on every sweep. Logs go to stderr.`,
		Args:          cobra.ExactArgs(1),
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return run(args[0], opts, stdout, stderr)
		},
	}
	cmd.SetOut(stderr)
	cmd.SetErr(stderr)

	cmd.Flags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	cmd.Flags().StringVar(&opts.pcapPath, "pcap", "", "replay a capture file instead of capturing live")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&opts.localMAC, "local-mac", "", "treat this hardware address as local instead of the interface's")
	return cmd
}

// Execute runs the root command and exits with its status.
func Execute() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the command line and returns the process exit status.
func execute(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		var logged loggedError
		if !errors.As(err, &logged) {
			fmt.Fprintln(stderr, "Error:", err)
		}
		return 1
	}
	return 0
}

func run(iface string, opts options, stdout, stderr io.Writer) error {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	logger, err := logging.New(cfg.Log, stderr)
	if err != nil {
		return err
	}

	mopts := manager.Options{
		Config:    cfg,
		Interface: iface,
		PcapFile:  opts.pcapPath,
		Stdout:    stdout,
		Logger:    logger,
	}
	if opts.localMAC != "" {
		mac, err := net.ParseMAC(opts.localMAC)
		if err != nil {
			return fmt.Errorf("invalid --local-mac: %w", err)
		}
		mopts.LocalMAC = mac
	}

	m, err := manager.NewManager(mopts)
	if err != nil {
		logger.Error().Err(err).Str("interface", iface).Msg("failed to start engine")
		return loggedError{err}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := m.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("engine failed")
		return loggedError{err}
	}
	return nil
}
