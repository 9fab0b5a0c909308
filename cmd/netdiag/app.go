package main

import (
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strings"

	"github.com/hack-pad/hackpadfs"
	osfs "github.com/hack-pad/hackpadfs/os"
	"github.com/johnstarich/go/netdiag"
	"github.com/johnstarich/go/netdiag/nameservers"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	appName            = "netdiag"
	defaultAutoDomain  = "elqui.pro"
	defaultResolvConf  = "/etc/resolv.conf"
	usageExitCode      = 2
	unknownCommandHint = "unknown command, please see the documentation:\n" + appName + " -h"
)

type App struct {
	errWriter   io.Writer
	fs          hackpadfs.FS
	newResolver func(netdiag.Config) *net.Resolver
	outWriter   io.Writer
	// scanSources overrides the OS default nameserver sources when non-nil
	scanSources []nameservers.Source
}

func newApp(outWriter, errWriter io.Writer) App {
	return App{
		errWriter:   errWriter,
		fs:          osfs.NewFS(),
		newResolver: netdiag.NewResolver,
		outWriter:   outWriter,
	}
}

func envVar(flagName string) []string {
	name := strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
	return []string{strings.ToUpper(appName) + "_" + name}
}

func (a App) Run(args []string) error {
	cliApp := &cli.App{
		Name:      appName,
		Usage:     "A CLI tool to diagnostic networks",
		UsageText: appName + " [options] [--dns-req <domain name> [domain names...]]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "dns-scan",
				Usage:   "Scan to detect the dns servers available.",
				EnvVars: envVar("dns-scan"),
			},
			&cli.StringSliceFlag{
				Name:    "dns-req",
				Usage:   "Request a dns server in order to get the ip address from a domain name. If --server is added, it asks this target server. Otherwise, it uses the system's resolvers.",
				EnvVars: envVar("dns-req"),
			},
			&cli.StringFlag{
				Name:    "server",
				Usage:   "Specify the dns server to target with an ip address.",
				EnvVars: envVar("server"),
			},
			&cli.IntFlag{
				Name:    "port",
				Usage:   "Specify the port to use for the server specified with --server.",
				Value:   netdiag.DefaultPort,
				EnvVars: envVar("port"),
			},
			&cli.BoolFlag{
				Name:    "auto",
				Aliases: []string{"a"},
				Usage:   "Start an auto diagnostic: scan and request the auto domain.",
				EnvVars: envVar("auto"),
			},
			&cli.StringFlag{
				Name:    "auto-domain",
				Usage:   "Domain requested by --auto.",
				Value:   defaultAutoDomain,
				EnvVars: envVar("auto-domain"),
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Usage:   "Timeout for each dns request.",
				Value:   netdiag.DefaultTimeout,
				EnvVars: envVar("timeout"),
			},
			&cli.StringFlag{
				Name:    "output",
				Usage:   "Output format: text or table.",
				Value:   "text",
				EnvVars: envVar("output"),
			},
			&cli.BoolFlag{
				Name:    "no-color",
				Usage:   "Disable colored output.",
				EnvVars: envVar("no-color"),
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Log debug details to stderr.",
				EnvVars: envVar("verbose"),
			},
			&cli.StringFlag{
				Name:    "resolv-conf",
				Usage:   "Path to the resolv.conf file to scan.",
				Value:   defaultResolvConf,
				EnvVars: envVar("resolv-conf"),
			},
		},
		Action:                    a.diagnose,
		DisableSliceFlagSeparator: true,
		HideHelpCommand:           true,
		ErrWriter:       a.errWriter,
		ExitErrHandler:  func(*cli.Context, error) {},
		OnUsageError: func(_ *cli.Context, err error, _ bool) error {
			return a.usageError(err)
		},
		Writer: a.outWriter,
	}
	return cliApp.Run(args)
}

// usageError prints the unknown command hint and returns an error with the usage exit code.
// A non-nil 'reason' is printed to errWriter.
func (a App) usageError(reason error) error {
	if reason != nil {
		fmt.Fprintln(a.errWriter, reason)
	}
	fmt.Fprintln(a.outWriter, unknownCommandHint)
	return cli.Exit("", usageExitCode)
}

func (a App) newLogger(verbose bool) *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	encoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(a.errWriter)), zap.DebugLevel)
	return zap.New(core)
}

type osPathFS interface {
	hackpadfs.FS
	FromOSPath(path string) (string, error)
}

// fromOSPath attempts to derive the FS path from an OS path
func (a App) fromOSPath(path string) (string, error) {
	fs, ok := a.fs.(osPathFS)
	if !ok {
		return strings.TrimPrefix(filepath.ToSlash(path), "/"), nil
	}
	path, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return fs.FromOSPath(path)
}
