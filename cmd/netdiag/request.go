package main

import (
	"context"

	"github.com/johnstarich/go/netdiag"
	"github.com/johnstarich/go/netdiag/internal/report"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// request looks up every domain concurrently. Lookup failures are printed, only print failures are returned.
func (a App) request(ctx context.Context, logger *zap.Logger, opts options, printer *report.Printer) error {
	client := netdiag.NewClient(netdiag.ClientConfig{
		Logger:   logger,
		Resolver: a.newResolver(netdiag.Config{Logger: logger}),
		Timeout:  opts.Timeout,
	})

	var errs error
	if opts.Server != nil {
		client.QueryServerAll(ctx, opts.Domains, opts.Server.String(), opts.Port, func(result netdiag.ServerResult) {
			errs = multierr.Append(errs, printer.ServerResult(result))
		})
		return errs
	}
	client.LookupSystemAll(ctx, opts.Domains, func(result netdiag.SystemResult) {
		errs = multierr.Append(errs, printer.SystemResult(result))
	})
	return errs
}
