package netdiag

import (
	"context"
	"net"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/johnstarich/go/netdiag/fanout"
	"github.com/johnstarich/go/netdiag/scutil"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Config configures the OS resolver returned by NewResolver
type Config struct {
	Logger *zap.Logger
}

const macOSRuntimeName = "darwin"

// NewResolver returns the resolver the OS would use.
// On macOS, queries go to every nameserver 'scutil --dns' reports at once, since Go's builtin resolver only reads /etc/resolv.conf.
func NewResolver(config Config) *net.Resolver {
	return newResolver(runtime.GOOS, config)
}

func newResolver(goos string, config Config) *net.Resolver {
	if goos != macOSRuntimeName {
		return &net.Resolver{}
	}

	dialer := newMacOSDialer(config)
	return &net.Resolver{
		PreferGo: true,
		Dial:     dialer.DialContext,
	}
}

type macOSDialer struct {
	Config
	dialer        *net.Dialer
	readResolvers func(ctx context.Context) (scutil.Config, error)

	resolversMu sync.Mutex
	resolvers   []scutil.Resolver
	loaded      bool
}

func newMacOSDialer(config Config) *macOSDialer {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &macOSDialer{
		Config:        config,
		dialer:        &net.Dialer{Timeout: 30 * time.Second},
		readResolvers: scutil.ReadMacOSDNS,
	}
}

// ensureResolvers reads scutil once. A failed read is not retried.
func (m *macOSDialer) ensureResolvers() ([]scutil.Resolver, error) {
	m.resolversMu.Lock()
	defer m.resolversMu.Unlock()
	if m.loaded {
		return m.resolvers, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cfg, err := m.readResolvers(ctx)
	m.resolvers = cfg.Resolvers
	m.loaded = true
	return m.resolvers, err
}

// DialContext fans UDP queries out to every unscoped scutil nameserver. Other networks, like the TCP retry after a truncated reply, use the builtin dialer.
func (m *macOSDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "udp") {
		return m.dialer.DialContext(ctx, network, address)
	}
	resolvers, err := m.ensureResolvers()
	if err != nil {
		m.Logger.Error("Failed looking up macOS resolvers, falling back to builtin DNS dialer", zap.Error(err))
		return m.dialer.DialContext(ctx, network, address)
	}

	conn, err := m.dialAll(ctx, nameserverAddresses(resolvers))
	if err != nil {
		m.Logger.Error("Failed dialing macOS nameservers, falling back to builtin DNS dialer", zap.Error(err))
		return m.dialer.DialContext(ctx, network, address)
	}
	return conn, nil
}

// nameserverAddresses returns unique host:port pairs for unscoped resolvers
func nameserverAddresses(resolvers []scutil.Resolver) []string {
	seen := make(map[string]bool)
	var addresses []string
	for _, resolver := range resolvers {
		if resolver.Domain != "" {
			// domain-specific resolvers, like mDNS's "local", only answer for their own zone
			continue
		}
		for _, nameserver := range resolver.Nameservers {
			address := net.JoinHostPort(nameserver, strconv.Itoa(resolver.PortOrDefault()))
			if !seen[address] {
				seen[address] = true
				addresses = append(addresses, address)
			}
		}
	}
	return addresses
}

func (m *macOSDialer) dialAll(ctx context.Context, addresses []string) (net.Conn, error) {
	type dialResult struct {
		index int
		conn  fanout.PacketConn
	}
	results := make(chan dialResult, len(addresses))

	var wait sync.WaitGroup
	for ix, address := range addresses {
		wait.Add(1)
		go func(ix int, address string) {
			defer wait.Done()
			conn, err := m.dialer.DialContext(ctx, "udp", address)
			if err != nil {
				m.Logger.Warn("Error dialing nameserver", zap.String("nameserver", address), zap.Error(err))
				return
			}
			packetConn, ok := conn.(fanout.PacketConn)
			if !ok {
				_ = conn.Close()
				m.Logger.Warn("Nameserver connection is not a packet connection", zap.String("nameserver", address))
				return
			}
			results <- dialResult{index: ix, conn: packetConn}
		}(ix, address)
	}
	wait.Wait()
	close(results)

	conns := make([]fanout.PacketConn, len(addresses))
	var dialed []fanout.PacketConn
	for result := range results {
		conns[result.index] = result.conn
	}
	for _, conn := range conns {
		if conn != nil {
			dialed = append(dialed, conn)
		}
	}
	if err := ctx.Err(); err != nil {
		for _, conn := range dialed {
			_ = conn.Close()
		}
		return nil, err
	}
	if len(dialed) == 0 {
		return nil, errors.Errorf("error dialing all nameservers: %s", strings.Join(addresses, ", "))
	}
	m.Logger.Debug("Dialed nameservers", zap.Int("count", len(dialed)), zap.Strings("nameservers", addresses))
	return fanout.New(dialed), nil
}
