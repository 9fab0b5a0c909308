package netdiag

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/johnstarich/go/netdiag/testhelpers"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testClient(t *testing.T, timeout time.Duration, server testhelpers.DNSServer) *Client {
	t.Helper()
	var dialer net.Dialer
	return NewClient(ClientConfig{
		Logger:  zaptest.NewLogger(t),
		Timeout: timeout,
		Resolver: &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
				return dialer.DialContext(ctx, "udp", server.Address())
			},
		},
	})
}

func TestNewClient(t *testing.T) {
	t.Parallel()
	client := NewClient(ClientConfig{})
	assert.Equal(t, DefaultTimeout, client.timeout)
	assert.NotNil(t, client.logger)
	assert.NotNil(t, client.resolver)
}

func TestRcodeError(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "NXDOMAIN", RcodeError(dns.RcodeNameError).Error())
	assert.Equal(t, "SERVFAIL", RcodeError(dns.RcodeServerFailure).Error())
	assert.Equal(t, "RCODE4000", RcodeError(4000).Error())
}

func TestQueryServer(t *testing.T) {
	t.Parallel()
	server := testhelpers.StartDNSServer(t, testhelpers.DNSConfig{
		Hostnames: map[string][]string{
			"hi.local.":    {"1.2.3.4", "5.6.7.8"},
			"empty.local.": nil,
		},
		Rcodes: map[string]int{
			"missing.local.": dns.RcodeNameError,
		},
	})
	slowServer := testhelpers.StartDNSServer(t, testhelpers.DNSConfig{
		ResponseDelay: 30 * time.Second,
	})

	for _, tc := range []struct {
		description  string
		server       testhelpers.DNSServer
		domain       string
		expectAnswer string
		expectErr    error
		expectTimout bool
	}{
		{
			description:  "first answer",
			server:       server,
			domain:       "hi.local",
			expectAnswer: "1.2.3.4",
		},
		{
			description:  "fully qualified domain",
			server:       server,
			domain:       "hi.local.",
			expectAnswer: "1.2.3.4",
		},
		{
			description: "no answer",
			server:      server,
			domain:      "empty.local",
			expectErr:   ErrNoAnswer,
		},
		{
			description: "name error",
			server:      server,
			domain:      "missing.local",
			expectErr:   RcodeError(dns.RcodeNameError),
		},
		{
			description:  "timeout",
			server:       slowServer,
			domain:       "hi.local",
			expectTimout: true,
		},
	} {
		tc := tc // fix parallel access of loop variable
		t.Run(tc.description, func(t *testing.T) {
			t.Parallel()
			client := testClient(t, 500*time.Millisecond, tc.server)
			result := client.QueryServer(context.Background(), tc.domain, tc.server.Host, tc.server.Port)
			assert.Equal(t, tc.domain, result.Domain)
			assert.Equal(t, tc.server.Host, result.Server)
			assert.Equal(t, tc.server.Port, result.Port)
			assert.Equal(t, tc.expectTimout, result.TimedOut)
			switch {
			case tc.expectTimout:
				assert.Error(t, result.Err)
				assert.Nil(t, result.Answer)
			case tc.expectErr != nil:
				assert.Equal(t, tc.expectErr, result.Err)
				assert.Nil(t, result.Answer)
			default:
				require.NoError(t, result.Err)
				assert.Equal(t, tc.expectAnswer, result.Answer.String())
			}
		})
	}
}

func TestQueryServerUnreachable(t *testing.T) {
	t.Parallel()
	server := testhelpers.UnusedAddress(t)
	client := testClient(t, 500*time.Millisecond, server)
	result := client.QueryServer(context.Background(), "hi.local", server.Host, server.Port)
	assert.Error(t, result.Err)
	assert.Nil(t, result.Answer)
}

func TestLookupSystem(t *testing.T) {
	t.Parallel()
	server := testhelpers.StartDNSServer(t, testhelpers.DNSConfig{
		Hostnames: map[string][]string{
			"hi.local.": {"1.2.3.4", "5.6.7.8"},
		},
		Rcodes: map[string]int{
			"missing.local.": dns.RcodeNameError,
		},
	})

	t.Run("found", func(t *testing.T) {
		t.Parallel()
		client := testClient(t, testTimeout, server)
		result := client.LookupSystem(context.Background(), "hi.local")
		require.NoError(t, result.Err)
		assert.Equal(t, "hi.local", result.Domain)
		assert.False(t, result.TimedOut)
		var addrs []string
		for _, ip := range result.Addresses {
			addrs = append(addrs, ip.String())
		}
		assert.ElementsMatch(t, []string{"1.2.3.4", "5.6.7.8"}, addrs)
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()
		client := testClient(t, testTimeout, server)
		result := client.LookupSystem(context.Background(), "missing.local")
		assert.Error(t, result.Err)
		assert.Empty(t, result.Addresses)
		assert.False(t, result.TimedOut)
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()
		slowServer := testhelpers.StartDNSServer(t, testhelpers.DNSConfig{
			ResponseDelay: 30 * time.Second,
		})
		client := testClient(t, 300*time.Millisecond, slowServer)
		result := client.LookupSystem(context.Background(), "hi.local")
		assert.Error(t, result.Err)
		assert.True(t, result.TimedOut)
	})
}

func TestQueryServerAll(t *testing.T) {
	t.Parallel()
	server := testhelpers.StartDNSServer(t, testhelpers.DNSConfig{
		Hostnames: map[string][]string{
			"a.local.": {"1.1.1.1"},
			"b.local.": {"2.2.2.2"},
		},
	})
	client := testClient(t, testTimeout, server)

	results := make(map[string]string)
	client.QueryServerAll(context.Background(), []string{"a.local", "b.local", "c.local"}, server.Host, server.Port, func(result ServerResult) {
		_, seen := results[result.Domain]
		assert.False(t, seen, "Each domain should be handled once")
		if result.Err != nil {
			results[result.Domain] = result.Err.Error()
		} else {
			results[result.Domain] = result.Answer.String()
		}
	})
	assert.Equal(t, map[string]string{
		"a.local": "1.1.1.1",
		"b.local": "2.2.2.2",
		"c.local": ErrNoAnswer.Error(),
	}, results)
}

func TestLookupSystemAll(t *testing.T) {
	t.Parallel()
	server := testhelpers.StartDNSServer(t, testhelpers.DNSConfig{
		Hostnames: map[string][]string{
			"a.local.": {"1.1.1.1"},
		},
		Rcodes: map[string]int{
			"b.local.": dns.RcodeNameError,
		},
	})
	client := testClient(t, testTimeout, server)

	var domains []string
	failed := make(map[string]bool)
	client.LookupSystemAll(context.Background(), []string{"a.local", "b.local"}, func(result SystemResult) {
		domains = append(domains, result.Domain)
		failed[result.Domain] = result.Err != nil
	})
	assert.ElementsMatch(t, []string{"a.local", "b.local"}, domains)
	assert.Equal(t, map[string]bool{"a.local": false, "b.local": true}, failed)
}
