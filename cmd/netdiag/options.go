package main

import (
	"net"
	"strings"
	"time"

	"github.com/johnstarich/go/netdiag/internal/report"
	"github.com/johnstarich/go/pipe"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

type options struct {
	Scan       bool
	Domains    []string
	Server     net.IP
	Port       int
	Timeout    time.Duration
	Format     report.Format
	Color      bool
	Verbose    bool
	ResolvConf string
}

type optionsPipeArgs struct {
	Context *cli.Context
	Options options
}

var optionsPipe = pipe.New(pipe.Options{}).
	Append(func(args []interface{}) optionsPipeArgs {
		c := args[0].(*cli.Context)
		return optionsPipeArgs{
			Context: c,
			Options: options{
				Scan:       c.Bool("dns-scan"),
				Port:       c.Int("port"),
				Timeout:    c.Duration("timeout"),
				Color:      !c.Bool("no-color"),
				Verbose:    c.Bool("verbose"),
				ResolvConf: c.String("resolv-conf"),
			},
		}
	}).
	Append(func(args optionsPipeArgs) (optionsPipeArgs, error) {
		c := args.Context
		domains := c.StringSlice("dns-req")
		extraDomains := c.Args().Slice()
		if err := pipe.CheckErrorf(len(domains) == 0 && len(extraDomains) > 0,
			"unexpected arguments used without --dns-req: %s", strings.Join(extraDomains, " ")); err != nil {
			return args, err
		}
		for _, domain := range extraDomains {
			if strings.HasPrefix(domain, "-") {
				return args, errors.Errorf("flags must come before extra domains: %s", domain)
			}
		}
		args.Options.Domains = append(domains, extraDomains...)
		if c.Bool("auto") {
			args.Options.Scan = true
			args.Options.Domains = []string{c.String("auto-domain")}
		}
		return args, nil
	}).
	Append(func(args optionsPipeArgs) (optionsPipeArgs, error) {
		server := args.Context.String("server")
		if server == "" {
			return args, nil
		}
		args.Options.Server = net.ParseIP(server)
		return args, pipe.CheckErrorf(args.Options.Server == nil, "invalid server IP address: %q", server)
	}).
	Append(func(args optionsPipeArgs) (optionsPipeArgs, error) {
		const maxPort = 1<<16 - 1
		port := args.Options.Port
		return args, pipe.CheckErrorf(port < 1 || port > maxPort, "port must be between 1 and %d: %d", maxPort, port)
	}).
	Append(func(args optionsPipeArgs) (optionsPipeArgs, error) {
		timeout := args.Options.Timeout
		return args, pipe.CheckErrorf(timeout <= 0, "timeout must be positive: %s", timeout)
	}).
	Append(func(args optionsPipeArgs) (options, error) {
		var err error
		args.Options.Format, err = report.ParseFormat(args.Context.String("output"))
		return args.Options, err
	})

func parseOptions(c *cli.Context) (options, error) {
	out, err := optionsPipe.Do(c)
	if err != nil {
		return options{}, err
	}
	return out[0].(options), nil
}
