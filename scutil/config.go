// Package scutil reads the macOS DNS configuration reported by 'scutil --dns'.
package scutil

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DefaultPort is used when a resolver does not list a 'port'
const DefaultPort = 53

// Config is the parsed output of 'scutil --dns', one entry per resolver block in output order
type Config struct {
	Resolvers []Resolver
}

// Resolver is a single "resolver #N" block
type Resolver struct {
	Domain         string
	Flags          []Flag
	InterfaceIndex int
	InterfaceName  string
	MulticastDNS   bool
	Nameservers    []string
	Order          int
	Port           int
	Reach          []Reach
	reachable      bool
	SearchDomain   []string
	Timeout        time.Duration
}

// ReadMacOSDNS runs 'scutil --dns' and parses its output
func ReadMacOSDNS(ctx context.Context) (Config, error) {
	return readMacOSDNS(ctx, runSCUtilDNS)
}

func runSCUtilDNS(ctx context.Context) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "/usr/sbin/scutil", "--dns")
	return cmd.CombinedOutput()
}

type scutilExecutor func(ctx context.Context) ([]byte, error)

func readMacOSDNS(ctx context.Context, getSCUtilDNS scutilExecutor) (Config, error) {
	output, err := getSCUtilDNS(ctx)
	if err != nil {
		return Config{}, err
	}
	config, err := Parse(output)
	return config, errors.Wrap(err, "parse scutil output")
}

// Parse reads 'scutil --dns' output. Lines before the first resolver block are ignored.
func Parse(output []byte) (Config, error) {
	var config Config
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		key, value := splitKeyValue(scanner.Text())
		if strings.HasPrefix(key, "resolver") {
			config.Resolvers = append(config.Resolvers, Resolver{})
			continue
		}
		if len(config.Resolvers) == 0 {
			continue
		}
		parse, ok := fieldParsers[trimIndex(key)]
		if ok {
			parse(&config.Resolvers[len(config.Resolvers)-1], value)
		}
	}
	return config, scanner.Err()
}

var fieldParsers = map[string]func(r *Resolver, value string){ //nolint:gochecknoglobals // Static lookup table.
	"domain": func(r *Resolver, value string) {
		r.Domain = value
	},
	"search domain": func(r *Resolver, value string) {
		r.SearchDomain = append(r.SearchDomain, value)
	},
	"nameserver": func(r *Resolver, value string) {
		r.Nameservers = append(r.Nameservers, value)
	},
	"flags": func(r *Resolver, value string) {
		for _, flag := range strings.Split(value, ",") {
			r.Flags = append(r.Flags, Flag(strings.TrimSpace(flag)))
		}
	},
	"if_index": func(r *Resolver, value string) {
		index, name := splitParenthetical(value)
		r.InterfaceIndex = parseInt(index)
		r.InterfaceName = name
	},
	"options": func(r *Resolver, value string) {
		r.MulticastDNS = strings.Contains(value, "mdns")
	},
	"order": func(r *Resolver, value string) {
		r.Order = parseInt(value)
	},
	"port": func(r *Resolver, value string) {
		r.Port = parseInt(value)
	},
	"reach": func(r *Resolver, value string) {
		_, statuses := splitParenthetical(value)
		if statuses == "" {
			return
		}
		for _, status := range strings.Split(statuses, ",") {
			reach := Reach(status)
			if reach == Reachable {
				r.reachable = true
			}
			r.Reach = append(r.Reach, reach)
		}
	},
	"timeout": func(r *Resolver, value string) {
		r.Timeout = time.Duration(parseInt(value)) * time.Second
	},
}

func splitKeyValue(line string) (key, value string) {
	key, value, _ = strings.Cut(line, ":")
	return strings.TrimSpace(key), strings.TrimSpace(value)
}

// trimIndex turns keys like "nameserver[1]" into "nameserver"
func trimIndex(key string) string {
	if i := strings.IndexRune(key, '['); i >= 0 {
		return strings.TrimSpace(key[:i])
	}
	return key
}

// splitParenthetical splits "5 (en0)" into "5" and "en0"
func splitParenthetical(value string) (head, inner string) {
	head, inner, found := strings.Cut(value, " ")
	if !found {
		return value, ""
	}
	return head, strings.Trim(inner, "()")
}

func parseInt(s string) int {
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return int(i)
}

// Reachable returns true if scutil considered this resolver reachable
func (r Resolver) Reachable() bool {
	return r.reachable
}

// PortOrDefault returns the resolver's port, defaulting to 53
func (r Resolver) PortOrDefault() int {
	if r.Port == 0 {
		return DefaultPort
	}
	return r.Port
}
