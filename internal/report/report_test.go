package report

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"

	"github.com/johnstarich/go/netdiag"
	"github.com/johnstarich/go/netdiag/nameservers"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		input     string
		expect    Format
		expectErr string
	}{
		{input: "text", expect: Text},
		{input: "table", expect: Table},
		{input: "json", expectErr: `unknown output format: "json"`},
		{input: "", expectErr: `unknown output format: ""`},
	} {
		format, err := ParseFormat(tc.input)
		if tc.expectErr != "" {
			assert.EqualError(t, err, tc.expectErr)
			continue
		}
		assert.NoError(t, err)
		assert.Equal(t, tc.expect, format)
	}
}

func TestTextNameservers(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		description string
		nameservers []nameservers.Nameserver
		expect      string
	}{
		{
			description: "none",
			expect:      "dns servers detected: []\n",
		},
		{
			description: "mixed ports",
			nameservers: []nameservers.Nameserver{
				{IP: net.ParseIP("8.8.8.8"), Port: 53},
				{IP: net.ParseIP("127.0.0.1"), Port: 5353},
				{IP: net.ParseIP("::1"), Port: 5353},
			},
			expect: `dns servers detected: ["8.8.8.8","127.0.0.1:5353","[::1]:5353"]` + "\n",
		},
	} {
		tc := tc // fix parallel access of loop variable
		t.Run(tc.description, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			printer := New(&buf, Text, false)
			require.NoError(t, printer.Nameservers(tc.nameservers))
			require.NoError(t, printer.Flush())
			assert.Equal(t, tc.expect, buf.String())
		})
	}
}

func TestTextServerResult(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		description string
		result      netdiag.ServerResult
		expect      string
	}{
		{
			description: "answer",
			result:      netdiag.ServerResult{Domain: "example.com", Server: "1.1.1.1", Answer: net.ParseIP("93.184.216.34")},
			expect:      "dns request for example.com on server 1.1.1.1: 93.184.216.34\n",
		},
		{
			description: "timed out",
			result:      netdiag.ServerResult{Domain: "example.com", Server: "1.1.1.1", TimedOut: true, Err: context.DeadlineExceeded},
			expect:      "dns request for example.com on server 1.1.1.1: timed out\n",
		},
		{
			description: "no answer",
			result:      netdiag.ServerResult{Domain: "example.com", Server: "1.1.1.1", Err: netdiag.ErrNoAnswer},
			expect:      "dns request for example.com on server 1.1.1.1: no answer\n",
		},
		{
			description: "rcode",
			result:      netdiag.ServerResult{Domain: "nope.example", Server: "1.1.1.1", Err: netdiag.RcodeError(3)},
			expect:      "dns request for nope.example on server 1.1.1.1: NXDOMAIN\n",
		},
		{
			description: "other error",
			result:      netdiag.ServerResult{Domain: "example.com", Server: "1.1.1.1", Err: errors.New("connection refused")},
			expect:      "dns request for example.com on server 1.1.1.1: connection refused\n",
		},
	} {
		tc := tc // fix parallel access of loop variable
		t.Run(tc.description, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			printer := New(&buf, Text, false)
			require.NoError(t, printer.ServerResult(tc.result))
			assert.Equal(t, tc.expect, buf.String())
		})
	}
}

func TestTextSystemResult(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	printer := New(&buf, Text, false)
	require.NoError(t, printer.SystemResult(netdiag.SystemResult{
		Domain:    "example.com",
		Addresses: []net.IP{net.ParseIP("1.2.3.4"), net.ParseIP("5.6.7.8")},
	}))
	require.NoError(t, printer.SystemResult(netdiag.SystemResult{
		Domain: "nope.example",
		Err:    errors.New("lookup nope.example: no such host"),
	}))
	assert.Equal(t, `dns auto request for example.com: ["1.2.3.4","5.6.7.8"]
dns auto request for nope.example: lookup nope.example: no such host
`, buf.String())
}

func TestColorize(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	printer := New(&buf, Text, true)
	require.NoError(t, printer.ServerResult(netdiag.ServerResult{Domain: "a", Server: "s", Answer: net.ParseIP("1.2.3.4")}))
	require.NoError(t, printer.ServerResult(netdiag.ServerResult{Domain: "b", Server: "s", TimedOut: true}))
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "dns request for a on server s: \x1b[32m1.2.3.4\x1b[0m", lines[0])
	assert.Equal(t, "dns request for b on server s: \x1b[31mtimed out\x1b[0m", lines[1])
}

func TestTable(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	printer := New(&buf, Table, false)
	require.NoError(t, printer.Nameservers([]nameservers.Nameserver{
		{IP: net.ParseIP("8.8.8.8"), Port: 53, Search: []string{"corp.example", "home.arpa"}, Source: nameservers.ResolvConf},
	}))
	require.NoError(t, printer.ServerResult(netdiag.ServerResult{Domain: "b.example", Server: "1.1.1.1", Err: netdiag.ErrNoAnswer}))
	require.NoError(t, printer.SystemResult(netdiag.SystemResult{Domain: "a.example", Addresses: []net.IP{net.ParseIP("1.2.3.4")}}))
	assert.Empty(t, buf.String(), "table output should wait for Flush")

	require.NoError(t, printer.Flush())
	output := buf.String()
	for _, expect := range []string{
		"NAMESERVER", "PORT", "SOURCE", "SEARCH",
		"8.8.8.8", "resolv.conf", "corp.example home.arpa",
		"DOMAIN", "SERVER", "RESULT",
		"system", `["1.2.3.4"]`, "no answer",
	} {
		assert.Contains(t, output, expect)
	}
	assert.Less(t, strings.Index(output, "a.example"), strings.Index(output, "b.example"), "requests should be sorted by domain")

	buf.Reset()
	require.NoError(t, printer.Flush())
	assert.Empty(t, buf.String(), "Flush should reset buffered results")
}

func TestTableEmptyScan(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	printer := New(&buf, Table, false)
	require.NoError(t, printer.Nameservers(nil))
	require.NoError(t, printer.Flush())
	assert.Contains(t, buf.String(), "NAMESERVER")
	assert.NotContains(t, buf.String(), "DOMAIN")
}
