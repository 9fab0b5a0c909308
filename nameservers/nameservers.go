// Package nameservers discovers the DNS servers configured on this machine.
package nameservers

import (
	"context"
	"net"
	"runtime"
	"strconv"
	"strings"

	"github.com/hack-pad/hackpadfs"
	"github.com/johnstarich/go/netdiag/scutil"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// DefaultPort is the standard DNS port
const DefaultPort = 53

// Source identifies where a nameserver was configured
type Source string

// Supported sources
const (
	ResolvConf     Source = "resolv.conf"
	NetworkManager Source = "networkmanager"
	SCUtil         Source = "scutil"
)

// Nameserver is a configured DNS server
type Nameserver struct {
	IP     net.IP
	Port   int
	Search []string
	Source Source
}

// String formats the nameserver as an IP, adding the port only if it isn't 53
func (n Nameserver) String() string {
	if n.Port == 0 || n.Port == DefaultPort {
		return n.IP.String()
	}
	return net.JoinHostPort(n.IP.String(), strconv.Itoa(n.Port))
}

// Options configure Discover
type Options struct {
	// FS reads ResolvConfPath. Required if ResolvConf is a source.
	FS hackpadfs.FS
	// ResolvConfPath is an FS path. Defaults to "etc/resolv.conf".
	ResolvConfPath string
	Logger         *zap.Logger
	// Sources to read in order. Defaults to DefaultSources(runtime.GOOS).
	Sources []Source

	readSCUtil     func(ctx context.Context) (scutil.Config, error)
	networkManager func(ctx context.Context) ([]Nameserver, error)
}

// DefaultSources returns the sources usually available on 'goos'
func DefaultSources(goos string) []Source {
	switch goos {
	case "linux":
		return []Source{NetworkManager, ResolvConf}
	case "darwin":
		return []Source{SCUtil, ResolvConf}
	case "windows", "plan9", "js", "wasip1":
		return nil
	default:
		return []Source{ResolvConf}
	}
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.ResolvConfPath == "" {
		o.ResolvConfPath = "etc/resolv.conf"
	}
	if o.Sources == nil {
		o.Sources = DefaultSources(runtime.GOOS)
	}
	if o.readSCUtil == nil {
		o.readSCUtil = scutil.ReadMacOSDNS
	}
	if o.networkManager == nil {
		o.networkManager = readNetworkManager
	}
	return o
}

// Discover returns the nameservers from every source, de-duplicated by IP and port.
// Sources that fail are skipped. An error is returned only if all sources failed.
func Discover(ctx context.Context, options Options) ([]Nameserver, error) {
	options = options.withDefaults()
	var (
		all       []Nameserver
		errs      error
		succeeded int
	)
	for _, source := range options.Sources {
		found, err := options.read(ctx, source)
		if err != nil {
			options.Logger.Warn("Failed reading nameservers", zap.String("source", string(source)), zap.Error(err))
			errs = multierr.Append(errs, errors.WithMessage(err, string(source)))
			continue
		}
		options.Logger.Debug("Read nameservers", zap.String("source", string(source)), zap.Int("count", len(found)))
		succeeded++
		all = merge(all, found)
	}
	if succeeded == 0 && errs != nil {
		return nil, errs
	}
	return all, nil
}

func (o Options) read(ctx context.Context, source Source) ([]Nameserver, error) {
	switch source {
	case ResolvConf:
		if o.FS == nil {
			return nil, errors.New("no file system to read resolv.conf")
		}
		return readResolvConf(o.FS, o.ResolvConfPath)
	case NetworkManager:
		return o.networkManager(ctx)
	case SCUtil:
		cfg, err := o.readSCUtil(ctx)
		if err != nil {
			return nil, err
		}
		return fromSCUtil(cfg), nil
	default:
		return nil, errors.Errorf("unknown nameserver source: %q", source)
	}
}

func fromSCUtil(cfg scutil.Config) []Nameserver {
	var nameservers []Nameserver
	for _, resolver := range cfg.Resolvers {
		for _, address := range resolver.Nameservers {
			ip := parseIP(address)
			if ip == nil {
				continue
			}
			nameservers = append(nameservers, Nameserver{
				IP:     ip,
				Port:   resolver.PortOrDefault(),
				Search: resolver.SearchDomain,
				Source: SCUtil,
			})
		}
	}
	return nameservers
}

// parseIP parses an IP, dropping any IPv6 zone like "%en0"
func parseIP(s string) net.IP {
	if i := strings.IndexRune(s, '%'); i >= 0 {
		s = s[:i]
	}
	return net.ParseIP(s)
}

// merge appends nameservers not yet in 'existing'. Duplicates contribute their search domains to the first occurrence.
func merge(existing, nameservers []Nameserver) []Nameserver {
	for _, nameserver := range nameservers {
		ix := indexOf(existing, nameserver)
		if ix < 0 {
			existing = append(existing, nameserver)
			continue
		}
		existing[ix].Search = unionStrings(existing[ix].Search, nameserver.Search)
	}
	return existing
}

func indexOf(nameservers []Nameserver, target Nameserver) int {
	for ix, nameserver := range nameservers {
		if nameserver.IP.Equal(target.IP) && nameserver.Port == target.Port {
			return ix
		}
	}
	return -1
}

// unionStrings returns a new slice with the unique values of a, then b
func unionStrings(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a)+len(b))
	union := make([]string, 0, len(a)+len(b))
	for _, values := range [][]string{a, b} {
		for _, value := range values {
			if !seen[value] {
				seen[value] = true
				union = append(union, value)
			}
		}
	}
	return union
}
