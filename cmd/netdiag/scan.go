package main

import (
	"context"
	"fmt"

	"github.com/johnstarich/go/netdiag/internal/report"
	"github.com/johnstarich/go/netdiag/nameservers"
	"go.uber.org/zap"
)

// scan prints the detected nameservers. A failed discovery prints an empty list and never stops the lookups that follow.
func (a App) scan(ctx context.Context, logger *zap.Logger, opts options, printer *report.Printer) error {
	found, err := a.discover(ctx, logger, opts)
	if err != nil {
		logger.Warn("DNS scan failed", zap.Error(err))
		fmt.Fprintln(a.errWriter, "dns scan failed:", err)
	}
	return printer.Nameservers(found)
}

func (a App) discover(ctx context.Context, logger *zap.Logger, opts options) ([]nameservers.Nameserver, error) {
	resolvConfPath, err := a.fromOSPath(opts.ResolvConf)
	if err != nil {
		return nil, err
	}
	return nameservers.Discover(ctx, nameservers.Options{
		FS:             a.fs,
		ResolvConfPath: resolvConfPath,
		Logger:         logger,
		Sources:        a.scanSources,
	})
}
