package main

import (
	"github.com/fatih/color"
	"github.com/johnstarich/go/netdiag/internal/report"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func (a App) diagnose(c *cli.Context) error {
	opts, err := parseOptions(c)
	if err != nil {
		return a.usageError(err)
	}
	if !opts.Scan && len(opts.Domains) == 0 {
		return a.usageError(nil)
	}

	logger := a.newLogger(opts.Verbose)
	defer func() { _ = logger.Sync() }()
	logger.Debug("Parsed options",
		zap.Bool("scan", opts.Scan),
		zap.Strings("domains", opts.Domains),
		zap.Stringer("server", opts.Server),
		zap.Int("port", opts.Port),
		zap.Duration("timeout", opts.Timeout),
	)

	printer := report.New(a.outWriter, opts.Format, opts.Color && !color.NoColor)
	if opts.Scan {
		if err := a.scan(c.Context, logger, opts, printer); err != nil {
			return multierr.Append(err, printer.Flush())
		}
	}
	if len(opts.Domains) > 0 {
		if err := a.request(c.Context, logger, opts, printer); err != nil {
			return multierr.Append(err, printer.Flush())
		}
	}
	return printer.Flush()
}
