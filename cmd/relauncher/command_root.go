package main

import (
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/kolide/relauncher"
	"github.com/kolide/relauncher/logsink"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type rootOptions struct {
	processNames string
	input        string
	output       string
	app          string
	logPath      string
	ignore       string
	configPath   string
	debug        bool

	reapTimeout       time.Duration
	observationWindow time.Duration
}

func (o *rootOptions) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.processNames, "ps", "", "comma separated process names to terminate before the update")
	fs.StringVar(&o.input, "input", "", "directory containing the new files")
	fs.StringVar(&o.output, "output", "", "live resource directory to update")
	fs.StringVar(&o.app, "app", "", "executable to relaunch after the update")
	fs.StringVar(&o.logPath, "log", "", "log file path (default: beside this executable)")
	fs.StringVar(&o.ignore, "ignore", "", "comma separated relative path prefixes of --input that are not copied")
	fs.StringVar(&o.configPath, "config", "", "optional YAML settings file")
	fs.BoolVar(&o.debug, "debug", false, "log stage transitions")
	fs.DurationVar(&o.reapTimeout, "reap-timeout", 0, "how long to wait for killed processes to exit (overrides config)")
	fs.DurationVar(&o.observationWindow, "observation-window", 0, "how long the relaunched app must stay up (overrides config)")
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "relauncher --ps <names> --input <dir> --output <dir> --app <path>",
		Short:         "Replace an application's resources and restart it",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Flags(), opts)
		},
	}
	opts.addFlags(cmd.Flags())
	for _, name := range []string{"ps", "input", "output", "app"} {
		cmd.MarkFlagRequired(name)
	}
	return cmd
}

func run(fs *pflag.FlagSet, opts *rootOptions) error {
	logPath := opts.logPath
	if logPath == "" {
		var err error
		if logPath, err = logsink.DefaultPath(); err != nil {
			return err
		}
	}
	sink, err := logsink.New(logPath)
	if err != nil {
		return err
	}
	defer sink.Close()

	var logger log.Logger = sink
	if opts.debug {
		logger = level.NewFilter(logger, level.AllowDebug())
	} else {
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	settings, err := loadSettings(opts.configPath)
	if err != nil {
		level.Error(logger).Log("msg", "Failed to load config", "path", opts.configPath, "err", err)
		return err
	}
	if fs.Changed("reap-timeout") {
		settings.ReapTimeout = opts.reapTimeout
	}
	if fs.Changed("observation-window") {
		settings.ObservationWindow = opts.observationWindow
	}

	req, err := relauncher.NewRequest(opts.processNames, opts.input, opts.output, opts.app, opts.ignore)
	if err != nil {
		level.Error(logger).Log("msg", "Invalid arguments", "err", err)
		return err
	}
	r, err := relauncher.New(req, logger, relauncher.WithSettings(settings))
	if err != nil {
		level.Error(logger).Log("msg", "Invalid settings", "err", err)
		return err
	}
	_, err = r.Run()
	return err
}
