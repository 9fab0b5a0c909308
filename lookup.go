// Package netdiag looks up DNS A records, either through the OS resolver or with a single UDP query to a chosen server.
package netdiag

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultTimeout bounds each lookup
	DefaultTimeout = 2 * time.Second
	// DefaultPort is the standard DNS port
	DefaultPort = 53
)

// ErrNoAnswer is returned when a server replied successfully without any A records
var ErrNoAnswer = errors.New("no answer")

// RcodeError is a non-success DNS response code
type RcodeError int

func (r RcodeError) Error() string {
	if s, ok := dns.RcodeToString[int(r)]; ok {
		return s
	}
	return "RCODE" + strconv.Itoa(int(r))
}

// ClientConfig configures a Client. Zero values are replaced with defaults.
type ClientConfig struct {
	Logger   *zap.Logger
	Resolver *net.Resolver
	Timeout  time.Duration
}

// Client runs A record lookups
type Client struct {
	logger   *zap.Logger
	resolver *net.Resolver
	timeout  time.Duration
}

// NewClient returns a Client. A nil Resolver uses NewResolver.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Resolver == nil {
		config.Resolver = NewResolver(Config{Logger: config.Logger})
	}
	return &Client{
		logger:   config.Logger,
		resolver: config.Resolver,
		timeout:  config.Timeout,
	}
}

// ServerResult is the outcome of one query sent directly to a server
type ServerResult struct {
	Domain   string
	Server   string
	Port     int
	Answer   net.IP
	TimedOut bool
	Err      error
}

// SystemResult is the outcome of one OS resolver lookup
type SystemResult struct {
	Domain    string
	Addresses []net.IP
	TimedOut  bool
	Err       error
}

// QueryServer sends one A question for 'domain' to server:port over UDP and keeps the first A record of the reply.
// There are no retries.
func (c *Client) QueryServer(ctx context.Context, domain, server string, port int) ServerResult {
	result := ServerResult{Domain: domain, Server: server, Port: port}
	address := net.JoinHostPort(server, strconv.Itoa(port))
	logger := c.logger.With(zap.String("domain", domain), zap.String("server", address))

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	query := new(dns.Msg)
	query.SetQuestion(dns.Fqdn(domain), dns.TypeA)
	client := &dns.Client{Net: "udp", Timeout: c.timeout}
	reply, rtt, err := client.ExchangeContext(ctx, query, address)
	if err != nil {
		result.TimedOut = isTimeout(err)
		result.Err = err
		logger.Debug("Query failed", zap.Bool("timeout", result.TimedOut), zap.Error(err))
		return result
	}
	logger.Debug("Received reply", zap.Duration("rtt", rtt), zap.Int("answers", len(reply.Answer)))

	if reply.Rcode != dns.RcodeSuccess {
		result.Err = RcodeError(reply.Rcode)
		return result
	}
	for _, record := range reply.Answer {
		if a, ok := record.(*dns.A); ok {
			result.Answer = a.A
			return result
		}
	}
	result.Err = ErrNoAnswer
	return result
}

// LookupSystem resolves the IPv4 addresses of 'domain' with the OS resolver
func (c *Client) LookupSystem(ctx context.Context, domain string) SystemResult {
	result := SystemResult{Domain: domain}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	addresses, err := c.resolver.LookupIP(ctx, "ip4", domain)
	if err != nil {
		result.TimedOut = isTimeout(err)
		result.Err = err
		c.logger.Debug("Lookup failed", zap.String("domain", domain), zap.Bool("timeout", result.TimedOut), zap.Error(err))
		return result
	}
	result.Addresses = addresses
	return result
}

// QueryServerAll runs QueryServer for every domain concurrently.
// 'handle' receives each result as soon as it is ready and is never called concurrently.
func (c *Client) QueryServerAll(ctx context.Context, domains []string, server string, port int, handle func(ServerResult)) {
	var handleMu sync.Mutex
	forEachDomain(ctx, domains, func(ctx context.Context, domain string) {
		result := c.QueryServer(ctx, domain, server, port)
		handleMu.Lock()
		defer handleMu.Unlock()
		handle(result)
	})
}

// LookupSystemAll runs LookupSystem for every domain concurrently.
// 'handle' receives each result as soon as it is ready and is never called concurrently.
func (c *Client) LookupSystemAll(ctx context.Context, domains []string, handle func(SystemResult)) {
	var handleMu sync.Mutex
	forEachDomain(ctx, domains, func(ctx context.Context, domain string) {
		result := c.LookupSystem(ctx, domain)
		handleMu.Lock()
		defer handleMu.Unlock()
		handle(result)
	})
}

func forEachDomain(ctx context.Context, domains []string, fn func(ctx context.Context, domain string)) {
	// lookup failures live in each result, so the group never cancels siblings
	group, ctx := errgroup.WithContext(ctx)
	for _, domain := range domains {
		domain := domain
		group.Go(func() error {
			fn(ctx, domain)
			return nil
		})
	}
	_ = group.Wait()
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
