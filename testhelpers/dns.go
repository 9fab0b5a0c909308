// Package testhelpers runs in-process DNS servers for tests.
package testhelpers

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// DNSConfig configures a test DNS server. Names are fully qualified, e.g. "hi.local."
type DNSConfig struct {
	ResponseDelay time.Duration
	Hostnames     map[string][]string
	Rcodes        map[string]int
}

// DNSServer is a running test DNS server
type DNSServer struct {
	Host string
	Port int
}

// Address returns the server's host:port
func (s DNSServer) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

func hostnamesHandler(t *testing.T, ctx context.Context, config DNSConfig) dns.HandlerFunc {
	return func(w dns.ResponseWriter, r *dns.Msg) {
		timer := time.NewTimer(config.ResponseDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		}

		var message dns.Msg
		message.SetReply(r)
		question := r.Question[0]
		if rcode, ok := config.Rcodes[question.Name]; ok {
			message.SetRcode(r, rcode)
		} else if question.Qtype == dns.TypeA {
			for _, ip := range config.Hostnames[question.Name] {
				message.Answer = append(message.Answer, &dns.A{
					Hdr: dns.RR_Header{Name: question.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 0},
					A:   net.ParseIP(ip).To4(),
				})
			}
		}

		t.Logf("DNS message:\n%s", message.String())
		if err := w.WriteMsg(&message); err != nil {
			t.Logf("Error writing message: %s", err.Error())
		}
	}
}

// StartDNSServer starts a UDP DNS server on a random localhost port. It stops when the test ends.
func StartDNSServer(t *testing.T, config DNSConfig) DNSServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	mux := dns.NewServeMux()
	mux.HandleFunc(".", hostnamesHandler(t, ctx, config))

	const network = "udp4"
	packetConn, err := net.ListenUDP(network, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	server := &dns.Server{
		Net:        network,
		PacketConn: packetConn,
		Handler:    mux,
	}
	started := make(chan struct{})
	server.NotifyStartedFunc = func() { close(started) }
	served := make(chan struct{})
	go func() {
		defer close(served)
		err := server.ActivateAndServe()
		assert.NoError(t, err)
	}()
	t.Cleanup(func() {
		cancel()
		_ = server.Shutdown()
		<-served
	})
	<-started

	addr := packetConn.LocalAddr().(*net.UDPAddr)
	return DNSServer{
		Host: "127.0.0.1",
		Port: addr.Port,
	}
}

// UnusedAddress returns a localhost UDP address with nothing listening, so queries to it go unanswered or are refused
func UnusedAddress(t *testing.T) DNSServer {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, conn.Close())
	return DNSServer{Host: "127.0.0.1", Port: port}
}
