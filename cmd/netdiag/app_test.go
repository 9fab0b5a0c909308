package main

import (
	"bytes"
	"context"
	"net"
	"sort"
	"strings"
	"testing"

	"github.com/hack-pad/hackpadfs"
	"github.com/hack-pad/hackpadfs/mem"
	"github.com/johnstarich/go/netdiag"
	"github.com/johnstarich/go/netdiag/nameservers"
	"github.com/johnstarich/go/netdiag/testhelpers"
	"github.com/stretchr/testify/require"
)

type testAppOptions struct {
	resolvConf string
	// resolver receives every OS resolver query
	resolver testhelpers.DNSServer
}

type TestApp struct {
	App
}

func newTestApp(t *testing.T, options testAppOptions) *TestApp {
	t.Helper()

	fs, err := mem.NewFS()
	require.NoError(t, err)
	if options.resolvConf != "" {
		require.NoError(t, hackpadfs.MkdirAll(fs, "etc", 0o700))
		require.NoError(t, hackpadfs.WriteFullFile(fs, "etc/resolv.conf", []byte(options.resolvConf), 0o600))
	}
	return &TestApp{
		App: App{
			errWriter: newTestWriter(t),
			fs:        fs,
			newResolver: func(netdiag.Config) *net.Resolver {
				return testResolver(options.resolver)
			},
			outWriter:   newTestWriter(t),
			scanSources: []nameservers.Source{nameservers.ResolvConf},
		},
	}
}

func testResolver(server testhelpers.DNSServer) *net.Resolver {
	var dialer net.Dialer
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			if server.Port == 0 {
				return nil, &net.OpError{Op: "dial", Net: network, Err: net.UnknownNetworkError("no test resolver")}
			}
			return dialer.DialContext(ctx, "udp", server.Address())
		},
	}
}

func (t *TestApp) Stdout() string {
	return t.outWriter.(testWriter).out.String()
}

// StdoutLines returns sorted lines of stdout, for output printed in no particular order
func (t *TestApp) StdoutLines() []string {
	lines := strings.Split(strings.TrimSuffix(t.Stdout(), "\n"), "\n")
	sort.Strings(lines)
	return lines
}

func (t *TestApp) Stderr() string {
	return t.errWriter.(testWriter).out.String()
}

type testWriter struct {
	testingT *testing.T
	out      *bytes.Buffer
}

func newTestWriter(t *testing.T) testWriter {
	return testWriter{
		testingT: t,
		out:      bytes.NewBuffer(nil),
	}
}

func (w testWriter) Write(b []byte) (n int, err error) {
	w.testingT.Log(strings.TrimSuffix(string(b), "\n"))
	n, err = w.out.Write(b)
	return
}
